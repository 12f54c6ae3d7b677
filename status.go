package iotcore

import "fmt"

// Status is the closed set of result codes every public operation in this
// package returns. It satisfies the error interface so callers can use it
// directly with errors.Is/errors.As, but it is not a general-purpose error
// wrapper: internal failures are always surfaced as one of these codes.
type Status uint32

// The closed set of result codes. FAILURE is last and is the catch-all
// "internal error" code.
const (
	Success Status = iota
	Invoked
	BadParameter
	BadRequest
	ExecutionError
	Exists
	FileOpenFailed
	Full
	IOError
	NoMemory
	NoPermission
	NotExecutable
	NotFound
	NotInitialized
	OutOfRange
	ParseError
	TimedOut
	TryAgain
	NotSupported
	Failure
)

var statusText = map[Status]string{
	Success:        "success",
	Invoked:        "invoked",
	BadParameter:   "bad parameter",
	BadRequest:     "bad request",
	ExecutionError: "execution error",
	Exists:         "already exists",
	FileOpenFailed: "file open failed",
	Full:           "capacity full",
	IOError:        "i/o error",
	NoMemory:       "out of memory",
	NoPermission:   "permission denied",
	NotExecutable:  "not executable",
	NotFound:       "not found",
	NotInitialized: "not initialized",
	OutOfRange:     "out of range",
	ParseError:     "parse error",
	TimedOut:       "timed out",
	TryAgain:       "try again",
	NotSupported:   "not supported",
	Failure:        "internal failure",
}

// Error implements the error interface so a Status can be returned (and
// compared with errors.Is) anywhere Go code expects an error.
func (s Status) Error() string {
	if msg, ok := statusText[s]; ok {
		return msg
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// OK reports whether s is Success.
func (s Status) OK() bool { return s == Success }

// statusError pairs a Status with a formatted diagnostic message, used where
// §7 requires a request to carry a human-readable explanation (e.g. the
// dispatcher's BAD_REQUEST diagnostics in §4.6.2).
type statusError struct {
	status  Status
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return e.status.Error()
	}
	return fmt.Sprintf("%s: %s", e.status.Error(), e.message)
}

func (e *statusError) Unwrap() error { return e.status }

// withMessage wraps a Status with a diagnostic string.
func withMessage(s Status, format string, args ...interface{}) error {
	return &statusError{status: s, message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the Status carried by an error produced by this package:
// nil yields Success, and any other error yields Failure.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var se *statusError
	if as, ok := err.(*statusError); ok {
		se = as
		return se.status
	}
	if s, ok := err.(Status); ok {
		return s
	}
	return Failure
}
