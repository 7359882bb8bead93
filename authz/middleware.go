package authz

import (
	"context"
	"net/http"
)

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the middleware. Anonymous
// requests yield the zero Principal and false.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.Authenticated()
}

// ErrorWriter renders an authorization failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate rejects requests without a valid bearer credential.
func (g *Gate) Authenticate(onError ErrorWriter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			onError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional resolves a credential when one is sent and lets anonymous requests
// through. A credential that is sent but invalid is still rejected.
func (g *Gate) Optional(onError ErrorWriter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := g.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			onError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Admin authenticates and then requires privilege.
func (g *Gate) Admin(onError ErrorWriter, next http.Handler) http.Handler {
	return g.Authenticate(onError, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := FromContext(r.Context())
		if err := RequireAdmin(p); err != nil {
			onError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
