// Package apperr holds the error taxonomy shared by the scheduling engine,
// the session state machine and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindConflict           Kind = "CONFLICT"
	KindStorageUnavailable Kind = "STORAGE_UNAVAILABLE"
	KindExternalService    Kind = "EXTERNAL_SERVICE_ERROR"
	KindAuth               Kind = "AUTH_ERROR"
	KindInternal           Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(reason string) *Error { return New(KindValidation, reason, nil) }

func Conflict(reason string) *Error { return New(KindConflict, reason, nil) }

func Unavailable(reason string, err error) *Error {
	return New(KindStorageUnavailable, reason, err)
}

func External(reason string, err error) *Error {
	return New(KindExternalService, reason, err)
}

func Auth(reason string) *Error { return New(KindAuth, reason, nil) }

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the machine readable reason of the first *Error in the chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
