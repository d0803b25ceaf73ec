// Package errkind defines the stable error classes surfaced by recplay.
//
// Every error carries a machine-readable Code and a human-readable Message.
// errors.Is matches on Code alone, so callers can test against the sentinel
// values below regardless of the message attached at the failure site.
package errkind

import "fmt"

// Error is a classified recplay error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code and the given message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with the same Code and a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// State errors are rejected synchronously at the call boundary.
var (
	ErrAlreadyRecording = &Error{Code: "E_ALREADY_RECORDING"}
	ErrNotRecording     = &Error{Code: "E_NOT_RECORDING"}
	ErrReplayInProgress = &Error{Code: "E_REPLAY_IN_PROGRESS"}
	ErrInvalidLoopCount = &Error{Code: "E_INVALID_LOOP_COUNT"}
	ErrInvalidSpeed     = &Error{Code: "E_INVALID_SPEED"}
	ErrSessionClosed    = &Error{Code: "E_SESSION_CLOSED"}
)

// Recoverable errors never abort a recording or a replay run.
var (
	ErrUnsupportedKey  = &Error{Code: "E_UNSUPPORTED_KEY"}
	ErrSynthesisFailed = &Error{Code: "E_SYNTHESIS_FAILED"}
	ErrMalformedRecord = &Error{Code: "E_MALFORMED_RECORD"}
)

// Persistence errors fail the whole load or save.
var (
	ErrPersistence = &Error{Code: "E_PERSISTENCE"}
	ErrNoRecording = &Error{Code: "E_NO_RECORDING"}
)

// Code returns the stable code of err, or "" if err is not classified.
func Code(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
