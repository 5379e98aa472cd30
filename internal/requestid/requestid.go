// Package requestid tags every inbound request with a correlation ID that is
// echoed to the client and forwarded to the upstream provider.
package requestid

import (
	"context"
	"net/http"

	"github.com/oklog/ulid/v2"
)

// Header is both the inbound and outbound header name.
const Header = "X-Request-ID"

// maxInboundLength bounds client-supplied IDs so they stay log friendly.
const maxInboundLength = 64

type ctxKey struct{}

// New returns a fresh ULID string.
func New() string {
	return ulid.Make().String()
}

// WithID stores id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Middleware reuses a sane inbound X-Request-ID or mints a new one, stores it
// in the request context and sets it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > maxInboundLength {
			id = New()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
