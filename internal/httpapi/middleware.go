package httpapi

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/middleware"
)

const claimsKey = "claims"

// requestContext copies client metadata onto the request context, where
// the engine reads it for rate keys, risk signals and audit records.
func requestContext(trustProxy bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := agriauth.WithClientIP(req.Context(), middleware.ClientIP(req, trustProxy))
			ctx = agriauth.WithUserAgent(ctx, req.UserAgent())
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				ctx = agriauth.WithRequestID(ctx, id)
			}
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// authenticate requires a valid bearer token and stores its claims.
func authenticate(v middleware.Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return agriauth.ErrTokenInvalid
			}

			req := c.Request()
			claims, err := v.ValidateToken(req.Context(), token)
			if err != nil {
				return err
			}

			c.Set(claimsKey, claims)
			c.SetRequest(req.WithContext(middleware.WithClaims(req.Context(), claims)))

			return next(c)
		}
	}
}

// requirePermission must run after authenticate.
func requirePermission(a middleware.Authorizer, perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := claimsFrom(c)
			if !ok {
				return agriauth.ErrTokenInvalid
			}
			if err := a.Authorize(claims, perm); err != nil {
				return err
			}

			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) (*agriauth.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*agriauth.Claims)
	return claims, ok && claims != nil
}

// accessLog writes one record per request. It renders handler errors itself
// so the logged status is the one the client saw.
func accessLog(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			latency := time.Since(start)

			fields := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("uri", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Duration("latency", latency),
				slog.String("remote_ip", agriauth.ClientIPFromContext(req.Context())),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
			}
			if err != nil {
				fields = append(fields, slog.String("error", err.Error()))
			}

			level := slog.LevelInfo
			if res.Status >= 400 {
				level = slog.LevelWarn
			}
			if res.Status >= 500 {
				level = slog.LevelError
			}

			logger.LogAttrs(context.Background(), level, "HTTP Request", fields...)

			return nil
		}
	}
}

// ipThrottle is a token bucket per client IP. Buckets idle for longer than
// a full refill are swept on the next allow call after sweepEvery.
type ipThrottle struct {
	mu        sync.Mutex
	buckets   map[string]*ipBucket
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const sweepEvery = time.Minute

// newIPThrottle admits requests per window, refilled evenly.
func newIPThrottle(requests int, window time.Duration, now func() time.Time) *ipThrottle {
	if now == nil {
		now = time.Now
	}
	return &ipThrottle{
		buckets:   make(map[string]*ipBucket),
		limit:     rate.Every(window / time.Duration(requests)),
		burst:     requests,
		idle:      window,
		lastSweep: now(),
		now:       now,
	}
}

func (t *ipThrottle) allow(ip string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) >= sweepEvery {
		for key, b := range t.buckets {
			if now.Sub(b.lastSeen) > t.idle {
				delete(t.buckets, key)
			}
		}
		t.lastSweep = now
	}

	b, ok := t.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[ip] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}

	return false, time.Duration(float64(time.Second) / float64(t.limit))
}

func (t *ipThrottle) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := agriauth.ClientIPFromContext(c.Request().Context())
		if ip == "" {
			ip = "unknown"
		}

		ok, retryAfter := t.allow(ip)
		if !ok {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
			return agriauth.ErrRateLimited
		}

		return next(c)
	}
}
