package kv

import "fmt"

// Status mirrors the wire status delivered with every stream completion.
type Status uint32

const (
	StatusOK              Status = 0
	StatusCancelled       Status = 1
	StatusUnknown         Status = 2
	StatusInvalidArgument Status = 3
	StatusNotFound        Status = 5
	StatusInternal        Status = 13
	StatusUnavailable     Status = 14
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCancelled:
		return "CANCELLED"
	case StatusUnknown:
		return "UNKNOWN"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusInternal:
		return "INTERNAL"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// StatusError is the typed error surfaced for transport and protocol
// failures. Callers can match on Code; Msg carries the transport detail.
type StatusError struct {
	Code Status
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return "kv: " + e.Code.String()
	}
	return "kv: " + e.Code.String() + ": " + e.Msg
}

func NewStatusError(code Status, msg string) *StatusError {
	return &StatusError{Code: code, Msg: msg}
}

// ErrorCode extracts the wire status from err, mapping foreign errors to
// UNKNOWN. A nil err is OK.
func ErrorCode(err error) Status {
	if err == nil {
		return StatusOK
	}
	if se, ok := err.(*StatusError); ok {
		return se.Code
	}
	return StatusUnknown
}
