package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/agrivision/agriauth"
)

// RequestIDHeader is read for the request id, and set on the response.
const RequestIDHeader = "X-Request-ID"

// ClientMetadata copies request metadata onto the context for the engine.
// With trustProxy set, the first X-Forwarded-For hop wins over RemoteAddr;
// enable it only behind a proxy that overwrites that header.
func ClientMetadata(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := agriauth.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			ctx = agriauth.WithUserAgent(ctx, r.UserAgent())
			if id := r.Header.Get(RequestIDHeader); id != "" {
				ctx = agriauth.WithRequestID(ctx, id)
				w.Header().Set(RequestIDHeader, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the caller address of r without the port.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
