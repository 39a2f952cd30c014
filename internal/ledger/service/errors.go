package service

import (
	"context"
	"errors"

	dErrors "ttkn/pkg/domain-errors"
	"ttkn/pkg/platform/sentinel"
)

// Errors returned by the ledger. Detailed failures are derived from these
// with dErrors.Derive, so errors.Is still matches them.
var (
	ErrCapExceeded    = dErrors.New(dErrors.CodeCapExceeded, "address has reached maximum mint limit")
	ErrUnauthorized   = dErrors.New(dErrors.CodeForbidden, "caller is not the owner")
	ErrOverflow       = dErrors.New(dErrors.CodeOverflow, "amount overflows the balance representation")
	ErrInvalidAccount = dErrors.New(dErrors.CodeInvalidInput, "invalid account")
	ErrNotInitialized = dErrors.New(dErrors.CodeUnavailable, "ledger not initialized")

	ErrInvalidEventKind = dErrors.New(dErrors.CodeBadRequest, "unknown event kind")
)

// translate maps store failures onto domain errors. Domain errors raised
// inside a transition pass through untouched.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrNotInitialized
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "ledger busy, retry the request")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case dErrors.HasCode(err, dErrors.CodeCapExceeded):
		return "cap_exceeded"
	case dErrors.HasCode(err, dErrors.CodeForbidden):
		return "unauthorized"
	case dErrors.HasCode(err, dErrors.CodeOverflow):
		return "overflow"
	case dErrors.HasCode(err, dErrors.CodeInvalidInput):
		return "invalid_account"
	default:
		return "error"
	}
}
