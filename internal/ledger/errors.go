package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the ledger either wraps one of these
// or is an unexpected storage failure.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrInvariant  = errors.New("ledger invariant violated")
)

// Error is a ledger failure with a client-facing message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Msg: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

func invariantf(format string, args ...any) error {
	return &Error{Kind: ErrInvariant, Msg: fmt.Sprintf(format, args...)}
}

// Error message constants shared with handlers and tests.
const (
	ErrMsgQuantityPositive = "quantity must be positive"
	ErrMsgListingReserved  = "listing is reserved by a pickup request; wait for completion or cancellation"
	ErrMsgListingNotOpen   = "listing is not open"
	ErrMsgPickupDate       = "pickup date must be between today and the listing expiry date"
	ErrMsgGroupedFields    = "product, category, unit and expiry of a grouped listing cannot change"
)
