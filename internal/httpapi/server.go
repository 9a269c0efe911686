// Package httpapi serves the AgriVision auth API over HTTP with echo.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/internal/config"
	"github.com/agrivision/agriauth/internal/ids"
	"github.com/agrivision/agriauth/permission"
)

// ReadyFunc reports whether the backends the API depends on are reachable.
type ReadyFunc func(ctx context.Context) error

// Options tunes NewRouter. The zero value serves every route unthrottled
// with a private metrics registry.
type Options struct {
	Logger             *slog.Logger
	Registry           *prometheus.Registry
	Ready              ReadyFunc
	MaxRequestBodySize string
	TrustProxy         bool
	AllowOrigins       []string
	ThrottleRequests   int
	ThrottleWindow     time.Duration
	Now                func() time.Time
}

// NewRouter builds the echo instance with middleware and routes.
func NewRouter(engine Engine, opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = NewErrorHandler(logger).HandleHTTPError

	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{Generator: ids.New}))
	e.Use(newHTTPMetrics(registry).instrument)
	e.Use(accessLog(logger))
	e.Use(echomiddleware.Recover())
	if len(opts.AllowOrigins) > 0 {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins: opts.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
			MaxAge:       600,
		}))
	}
	if opts.MaxRequestBodySize != "" {
		e.Use(echomiddleware.BodyLimit(opts.MaxRequestBodySize))
	}
	e.Use(requestContext(opts.TrustProxy))

	e.GET("/healthz", health(opts.Ready))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	var v1Middleware []echo.MiddlewareFunc
	if opts.ThrottleRequests > 0 && opts.ThrottleWindow > 0 {
		v1Middleware = append(v1Middleware, newIPThrottle(opts.ThrottleRequests, opts.ThrottleWindow, opts.Now).middleware)
	}
	v1 := e.Group("/v1", v1Middleware...)

	auth := &authHandler{engine: engine}
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", auth.register)
		authGroup.POST("/login", auth.login)
		authGroup.POST("/mfa/verify", auth.verifyMFA)
		authGroup.POST("/password/reset", auth.requestPasswordReset)
		authGroup.POST("/password/reset/confirm", auth.confirmPasswordReset)
		authGroup.POST("/email/verify/confirm", auth.confirmEmailVerification)
	}

	sessionGroup := v1.Group("/auth", authenticate(engine))
	{
		sessionGroup.GET("/me", auth.me)
		sessionGroup.POST("/password", auth.changePassword)
		sessionGroup.PUT("/mfa", auth.setMFA)
		sessionGroup.POST("/email/verify", auth.requestEmailVerification)
	}

	admin := &adminHandler{engine: engine}
	adminGroup := v1.Group("/admin", authenticate(engine), requirePermission(engine, permission.AccountsManage))
	{
		adminGroup.GET("/accounts/:id", admin.getAccount)
		adminGroup.PUT("/accounts/:id/role", admin.assignRole)
		adminGroup.POST("/accounts/:id/deactivate", admin.deactivate)
		adminGroup.POST("/accounts/:id/reactivate", admin.reactivate)
		adminGroup.PUT("/accounts/:id/identities/:provider", admin.linkIdentity)
		adminGroup.POST("/external-logins", admin.externalLogin)
	}

	return e
}

func health(ready ReadyFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ready != nil {
			if err := ready(c.Request().Context()); err != nil {
				return failure(c, http.StatusServiceUnavailable, "NOT_READY", "Service not ready", nil)
			}
		}
		return success(c, http.StatusOK, map[string]string{"status": "ok"}, "")
	}
}

type Params struct {
	fx.In
	fx.Lifecycle

	Config   *config.Config
	Logger   *slog.Logger
	Engine   *agriauth.Engine
	Registry *prometheus.Registry
	Ready    ReadyFunc `optional:"true"`
}

// Server runs the router on the configured port.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	echo   *echo.Echo
}

func NewServer(params Params) *Server {
	cfg := params.Config
	e := NewRouter(params.Engine, Options{
		Logger:             params.Logger,
		Registry:           params.Registry,
		Ready:              params.Ready,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		TrustProxy:         cfg.HTTP.TrustProxy,
		AllowOrigins:       cfg.HTTP.AllowOrigins,
		ThrottleRequests:   cfg.HTTP.Throttle.Requests,
		ThrottleWindow:     cfg.HTTP.Throttle.Window,
	})
	e.Server.ReadTimeout = cfg.HTTP.Timeouts.ReadTimeout
	e.Server.ReadHeaderTimeout = cfg.HTTP.Timeouts.ReadHeaderTimeout
	e.Server.WriteTimeout = cfg.HTTP.Timeouts.WriteTimeout
	e.Server.IdleTimeout = cfg.HTTP.Timeouts.IdleTimeout

	s := &Server{cfg: cfg, logger: params.Logger, echo: e}

	params.Append(fx.Hook{
		OnStop: s.stop,
	})

	return s
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Serve(ctx context.Context) error {
	hostPort := net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.HTTP.Port))
	s.logger.Info("Starting HTTP server", slog.String("hostPort", hostPort))
	if err := s.echo.Start(hostPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to serve http")
	}

	return nil
}

func (s *Server) stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTP.Timeouts.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")

	return errors.WithStack(s.echo.Shutdown(shutdownCtx))
}
