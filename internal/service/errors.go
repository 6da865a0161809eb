// Package service holds the reservation core: the lock manager, the
// expiry reaper, the reservation coordinator and seat chart management.
// Every operation reports failures as *Error values carrying a stable
// Kind, so transport layers can map them without string matching.
package service

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable identifier of a failure.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindBatchTooLarge      Kind = "BatchTooLarge"
	KindCrossShowSelection Kind = "CrossShowSelection"
	KindSeatNotFound       Kind = "SeatNotFound"
	KindAmountMismatch     Kind = "AmountMismatch"
	KindAlreadyGenerated   Kind = "AlreadyGenerated"

	KindSeatUnavailable           Kind = "SeatUnavailable"
	KindPartialLockFailure        Kind = "PartialLockFailure"
	KindConcurrentBookingConflict Kind = "ConcurrentBookingConflict"

	KindShowStarted        Kind = "ShowStarted"
	KindLockExpired        Kind = "LockExpired"
	KindShowAlreadyStarted Kind = "ShowAlreadyStarted"

	KindPaymentNotAuthorized Kind = "PaymentNotAuthorized"
	KindPaymentDeclined      Kind = "PaymentDeclined"
	KindPaymentUnavailable   Kind = "PaymentUnavailable"
	KindPaymentNotConfigured Kind = "PaymentNotConfigured"
	KindRefundFailed         Kind = "RefundFailed"
	KindStoreUnavailable     Kind = "StoreUnavailable"

	KindNotFound         Kind = "NotFound"
	KindShowNotFound     Kind = "ShowNotFound"
	KindForbidden        Kind = "Forbidden"
	KindAlreadyCancelled Kind = "AlreadyCancelled"
	KindConflict         Kind = "Conflict"

	KindReconciliationRequired Kind = "ReconciliationRequired"
)

// Class groups kinds by the remedy available to the caller.
type Class string

const (
	ClassInput      Class = "input"
	ClassContention Class = "contention"
	ClassTemporal   Class = "temporal"
	ClassExternal   Class = "external"
	ClassState      Class = "state"
	ClassIntegrity  Class = "integrity"
)

// Class returns the class of k.
func (k Kind) Class() Class {
	switch k {
	case KindSeatUnavailable, KindPartialLockFailure, KindConcurrentBookingConflict:
		return ClassContention
	case KindShowStarted, KindLockExpired, KindShowAlreadyStarted:
		return ClassTemporal
	case KindPaymentNotAuthorized, KindPaymentDeclined, KindPaymentUnavailable,
		KindPaymentNotConfigured, KindRefundFailed, KindStoreUnavailable:
		return ClassExternal
	case KindNotFound, KindForbidden, KindAlreadyCancelled, KindConflict:
		return ClassState
	case KindReconciliationRequired, KindShowNotFound, KindAlreadyGenerated:
		return ClassIntegrity
	default:
		return ClassInput
	}
}

// Error is the failure type returned by every service operation.
type Error struct {
	Kind   Kind
	Reason string
	// SeatIDs lists the seats that caused the failure, when known.
	SeatIDs []uint64
	// PaymentRef is set when money has moved and the failure leaves it
	// unconsumed; such errors need a compensating refund.
	PaymentRef string
	// Permanent marks a failure that repeating the same call cannot clear,
	// such as seats that are already booked.  The caller must change the
	// request, e.g. pick other seats.
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* values below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrSeatUnavailable           = &Error{Kind: KindSeatUnavailable}
	ErrPartialLockFailure        = &Error{Kind: KindPartialLockFailure}
	ErrConcurrentBookingConflict = &Error{Kind: KindConcurrentBookingConflict}
	ErrShowStarted               = &Error{Kind: KindShowStarted}
	ErrLockExpired               = &Error{Kind: KindLockExpired}
	ErrShowAlreadyStarted        = &Error{Kind: KindShowAlreadyStarted}
	ErrAlreadyCancelled          = &Error{Kind: KindAlreadyCancelled}
	ErrAlreadyGenerated          = &Error{Kind: KindAlreadyGenerated}
	ErrNotFound                  = &Error{Kind: KindNotFound}
	ErrForbidden                 = &Error{Kind: KindForbidden}
	ErrReconciliationRequired    = &Error{Kind: KindReconciliationRequired}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsContention reports whether err is a lost race for seats.
func IsContention(err error) bool { return KindOf(err).Class() == ClassContention && KindOf(err) != "" }

// IsTemporal reports whether err is caused by time passing (show started,
// lock lapsed).
func IsTemporal(err error) bool { return KindOf(err).Class() == ClassTemporal && KindOf(err) != "" }

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Permanent {
		return false
	}
	switch e.Kind {
	case KindSeatUnavailable, KindPartialLockFailure, KindConcurrentBookingConflict,
		KindPaymentUnavailable, KindRefundFailed, KindStoreUnavailable:
		return true
	}
	return false
}

// NeedsReconciliation reports whether err left money moved without a
// matching booking change.
func NeedsReconciliation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.PaymentRef != ""
}

// storeErr wraps an infrastructure failure from the store.  Errors that
// are already *Error pass through unchanged.
func storeErr(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	reason := op
	if errors.Is(err, context.DeadlineExceeded) {
		reason = op + " timed out"
	}
	return &Error{Kind: KindStoreUnavailable, Reason: reason, Err: err}
}
