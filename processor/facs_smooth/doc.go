// Package facssmooth provides the function-mode transformer of the relay.
//
// The Transformer reads (topic, frame, payload[, extra]) messages from a
// bus.Receiver and classifies each one:
//
//   - empty frame: the end-of-stream marker (topic, "", "") is forwarded and
//     the payload is never parsed
//   - confidence below the threshold: dropped
//   - topic with the synthesized prefix: forwarded unchanged
//   - otherwise the au_r and pose mappings are replaced by their smoothed
//     values and the message is re-published
//
// Re-encoded payloads keep member order and the exact bytes of every member
// that is not smoothed. Messages that cannot be parsed are logged (rate
// limited) and counted; they never stop the loop.
package facssmooth
