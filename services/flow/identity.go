package flow

import (
	"context"
	"net/http"
)

// CallerHeader carries the authenticated user id set by the auth gateway.
const CallerHeader = "X-User-ID"

type callerKey struct{}

// WithCaller returns a copy of ctx carrying callerID.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey{}, callerID)
}

// CallerFrom returns the caller id stored in ctx, or "".
func CallerFrom(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// identityMiddleware rejects requests without a caller id.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID := r.Header.Get(CallerHeader)
		if callerID == "" {
			writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "missing "+CallerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), callerID)))
	})
}
