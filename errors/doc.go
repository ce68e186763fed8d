// Package errors provides standardized error handling for smoothbus components.
//
// # Overview
//
// Errors are sorted into three classes that map directly onto how the relay reacts:
//
//   - Transient: publish failures, lost connections, cancelled contexts. The standing
//     loop logs the error and continues with the next message.
//   - Invalid: malformed multi-part messages, payloads that are not JSON objects,
//     commands whose data is not a numeric array, multipliers whose length does not
//     fit the sample. The single message or command is skipped.
//   - Fatal: a required channel is missing or the configuration is unusable. The relay
//     refuses to enter proxy or function mode and the process exits non-zero.
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: cause":
//
//	if err := json.Unmarshal(part, &payload); err != nil {
//	    return errors.WrapInvalid(err, "Transformer", "decodePayload", "unmarshal JSON")
//	}
//
// The classified error supports errors.Is and errors.As through Unwrap, so callers
// can still test for sentinels such as ErrMalformedPayload after wrapping.
//
// # Metrics
//
// Label returns the class name of an error and is used as the error_type label on
// the relay's Prometheus counters.
package errors
