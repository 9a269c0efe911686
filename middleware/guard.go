package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/agrivision/agriauth"
)

// Validator verifies bearer tokens. *agriauth.Engine satisfies it.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*agriauth.Claims, error)
}

// Authorizer is a Validator that also evaluates the role policy.
type Authorizer interface {
	Validator
	Authorize(claims *agriauth.Claims, perm string) error
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*agriauth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*agriauth.Claims)
	return claims, ok && claims != nil
}

// WithClaims stores claims in ctx the way the guards do.
func WithClaims(ctx context.Context, claims *agriauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard rejects requests without a valid bearer token with 401.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := authenticate(v, r)
			if !ok {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePermission is Guard followed by a policy check; a valid token
// whose role lacks perm gets 403.
func RequirePermission(a Authorizer, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				claims, ok = authenticate(a, r)
			}
			if !ok {
				unauthorized(w)
				return
			}
			if err := a.Authorize(claims, perm); err != nil {
				if errors.Is(err, agriauth.ErrForbidden) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Optional attaches claims when the request carries a valid token. Requests
// without one, or with an invalid one, pass through anonymously.
func Optional(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := authenticate(v, r); ok {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(v Validator, r *http.Request) (*agriauth.Claims, bool) {
	if v == nil {
		return nil, false
	}
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, false
	}
	claims, err := v.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="agrivision"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
