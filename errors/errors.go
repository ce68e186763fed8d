package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a loop how to react to an error.
type ErrorClass int

const (
	// ErrorTransient errors skip the current message and keep the loop running.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from a bad message, command or configuration value.
	ErrorInvalid
	// ErrorFatal errors stop the relay.
	ErrorFatal
)

var classNames = [...]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (c ErrorClass) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

var (
	ErrAlreadyStarted = errors.New("component already started")

	ErrNoConnection   = errors.New("no connection available")
	ErrChannelClosed  = errors.New("channel closed")
	ErrMissingChannel = errors.New("required channel not initialized")

	ErrMalformedMessage = errors.New("malformed multi-part message")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMalformedCommand = errors.New("malformed command")

	ErrMultiplierShape = errors.New("multiplier length does not match sample")
	ErrInvalidSample   = errors.New("invalid sample")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// sentinels maps unwrapped errors to a class. Order matters: fatal before
// invalid before transient.
var sentinels = []struct {
	class ErrorClass
	errs  []error
}{
	{ErrorFatal, []error{ErrMissingChannel, ErrInvalidConfig, ErrMissingConfig}},
	{ErrorInvalid, []error{ErrMalformedMessage, ErrMalformedPayload, ErrMalformedCommand, ErrMultiplierShape, ErrInvalidSample}},
	{ErrorTransient, []error{ErrNoConnection, ErrChannelClosed, context.DeadlineExceeded, context.Canceled}},
}

// transientText matches messages of errors from libraries that export no sentinel.
var transientText = []string{"timeout", "connection", "temporary", "unavailable", "slow consumer"}

// ClassifiedError carries a class and the component/operation that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// lookup reports the class of err and whether it was known explicitly,
// either from a ClassifiedError or from a sentinel.
func lookup(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, group := range sentinels {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class, true
			}
		}
	}
	return ErrorTransient, false
}

// Classify returns the class of err. Unknown errors are transient.
func Classify(err error) ErrorClass {
	class, _ := lookup(err)
	return class
}

// IsTransient reports whether err is known or looks transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, known := lookup(err); known {
		return class == ErrorTransient
	}
	text := strings.ToLower(err.Error())
	for _, pattern := range transientText {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err must stop the relay.
func IsFatal(err error) bool { return isClass(err, ErrorFatal) }

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool { return isClass(err, ErrorInvalid) }

func isClass(err error, want ErrorClass) bool {
	if err == nil {
		return false
	}
	class, known := lookup(err)
	return known && class == want
}

// Wrap adds "component.method: action failed:" context without classifying.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func classify(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as ErrorTransient.
func WrapTransient(err error, component, method, action string) error {
	return classify(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err as ErrorInvalid.
func WrapInvalid(err error, component, method, action string) error {
	return classify(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err as ErrorFatal.
func WrapFatal(err error, component, method, action string) error {
	return classify(ErrorFatal, err, component, method, action)
}

// Label is the error_type metric label for err.
func Label(err error) string {
	if err == nil {
		return "none"
	}
	return Classify(err).String()
}

// Is mirrors the standard library so callers need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As mirrors the standard library.
func As(err error, target any) bool { return errors.As(err, target) }
