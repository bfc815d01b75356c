package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries the reason a request failed. The pipeline maps the
// reason to the reply the sender sees.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

func New(reason ReasonCode, msg string) error {
	if msg == "" {
		msg = string(reason)
	}
	return ReasonedError{Err: errors.New(msg), Reason: reason}
}

// Errorf formats like fmt.Errorf, including %w, and tags the result.
func Errorf(reason ReasonCode, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), reason)
}

// Wrap tags err with reason. The innermost reason wins: an error that
// already carries one is returned unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if _, ok := find(err); ok {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	if re, ok := find(err); ok {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

func find(err error) (ReasonedError, bool) {
	var re ReasonedError
	if err == nil || !errors.As(err, &re) {
		return ReasonedError{}, false
	}
	return re, true
}
