package accountant

import (
	"errors"

	"github.com/jmerrifield20/accountant/internal/balance"
)

// RejectReason says why Process refused a transfer.
type RejectReason int

const (
	// BadSignature: the signature does not verify against the sender.
	// Never retried automatically.
	BadSignature RejectReason = iota + 1
	// StaleOrConflictingReference: the transfer's reference is not the current
	// head. The caller should resubmit against a fresh head.
	StaleOrConflictingReference
	// InsufficientFunds: the sender's balance is below the amount.
	InsufficientFunds
)

var (
	ErrBadSignature      = errors.New("bad signature")
	ErrStaleReference    = errors.New("stale or conflicting reference")
	ErrInsufficientFunds = balance.ErrInsufficientFunds
)

// String returns a short snake_case label, used in logs and metrics.
func (r RejectReason) String() string {
	switch r {
	case BadSignature:
		return "bad_signature"
	case StaleOrConflictingReference:
		return "stale_reference"
	case InsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

func (r RejectReason) sentinel() error {
	switch r {
	case BadSignature:
		return ErrBadSignature
	case StaleOrConflictingReference:
		return ErrStaleReference
	case InsufficientFunds:
		return ErrInsufficientFunds
	default:
		return errors.New(r.String())
	}
}

// RejectError is returned by Process for every refused transfer. It matches
// the corresponding sentinel under errors.Is.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string { return "transfer rejected: " + e.Reason.sentinel().Error() }

func (e *RejectError) Unwrap() error { return e.Reason.sentinel() }

// ReasonOf extracts the RejectReason from err. ok is false when err is not a
// rejection.
func ReasonOf(err error) (reason RejectReason, ok bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return 0, false
}
