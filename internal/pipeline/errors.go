package pipeline

import (
	"context"
	"errors"

	"relief.org/internal/admission"
	"relief.org/internal/audit"
	"relief.org/internal/incident"
	"relief.org/internal/ledger"
	"relief.org/internal/validate"
)

// Kind classifies every error the write path can return.
type Kind string

const (
	KindAdmissionRejected Kind = "admission_rejected"
	KindValidationFailed  Kind = "validation_failed"
	KindSecurityRejected  Kind = "security_rejected"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindConflict          Kind = "conflict"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindInternal          Kind = "internal"
)

// Classify maps err onto the taxonomy. A nil error has no kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if _, ok := admission.AsRejection(err); ok {
		return KindAdmissionRejected
	}
	if f, ok := validate.AsFailure(err); ok {
		if f.Security() {
			return KindSecurityRejected
		}
		return KindValidationFailed
	}
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidTotal):
		return KindValidationFailed
	case errors.Is(err, incident.ErrNotAssignee):
		return KindForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, incident.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ledger.ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ledger.ErrTotalBelowCommitted), errors.Is(err, ledger.ErrInUse):
		return KindConflict
	case errors.Is(err, ledger.ErrStoreUnavailable),
		errors.Is(err, audit.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindStoreUnavailable
	}
	return KindInternal
}

// Retryable reports whether the same request may succeed later unchanged.
// Insufficient stock is not retryable: availability must be re-read first.
func (k Kind) Retryable() bool {
	return k == KindAdmissionRejected || k == KindStoreUnavailable
}
