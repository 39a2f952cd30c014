package testutil

import (
	"context"
	"net/http"

	"ttkn/pkg/domain"
	"ttkn/pkg/requestcontext"
)

// WithCaller sets the authenticated account on the request context, as the
// auth middleware does after validating a bearer token.
func WithCaller(req *http.Request, account domain.Account) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), account))
}

// WithRequestID sets the request ID on the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
