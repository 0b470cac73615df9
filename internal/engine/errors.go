package engine

import "errors"

// notFoundError signals an absent model file; the UI prompts a download.
type notFoundError struct{ msg string }

func (e notFoundError) Error() string { return e.msg }

// ErrNotFound constructs a not-found error.
func ErrNotFound(msg string) error { return notFoundError{msg: msg} }

// IsNotFound reports whether err indicates a missing/undownloaded model.
func IsNotFound(err error) bool {
	var e notFoundError
	return errors.As(err, &e)
}

// invalidInputError signals a prompt the engine refuses outright, e.g. one
// whose token count alone exceeds the context window.
type invalidInputError struct{ msg string }

func (e invalidInputError) Error() string { return e.msg }

// ErrInvalidInput constructs an invalid-input error.
func ErrInvalidInput(msg string) error { return invalidInputError{msg: msg} }

// IsInvalidInput reports whether err indicates a rejected prompt.
func IsInvalidInput(err error) bool {
	var e invalidInputError
	return errors.As(err, &e)
}

// systemError wraps native-runtime failures: backend init, model/context
// construction, tokenization, decode, detokenization, or generation with no
// model loaded. Never retried internally; callers decide whether to reload.
type systemError struct {
	msg   string
	cause error
}

func (e systemError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e systemError) Unwrap() error { return e.cause }

// ErrSystem constructs a system error wrapping an optional cause.
func ErrSystem(msg string, cause error) error { return systemError{msg: msg, cause: cause} }

// IsSystem reports whether err indicates a native-runtime failure.
func IsSystem(err error) bool {
	var e systemError
	return errors.As(err, &e)
}
