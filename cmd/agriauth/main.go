package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/internal/config"
	"github.com/agrivision/agriauth/internal/grpcapi"
	"github.com/agrivision/agriauth/internal/httpapi"
	logs "github.com/agrivision/agriauth/internal/logger"
	agriotel "github.com/agrivision/agriauth/metrics/export/otel"
	agriprom "github.com/agrivision/agriauth/metrics/export/prometheus"
)

// Delivery is a transport that serves until the application stops.
type Delivery interface {
	Serve(ctx context.Context) error
}

type startServerParams struct {
	fx.In
	fx.Lifecycle

	Deliveries []Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectStore(),
		injectEngine(),
		injectDelivery(),
		fx.Invoke(
			registerMeter,
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
		newRedis,
	)
}

func injectStore() fx.Option {
	return fx.Provide(
		newPostgres,
		newAccountStore,
	)
}

func injectEngine() fx.Option {
	return fx.Provide(
		newNotifyChannels,
		newAuditSink,
		newEngine,
		newRegistry,
		newReadiness,
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				httpapi.NewServer,
				fx.As(new(Delivery)),
				fx.ResultTags(`group:"deliveries"`),
			),
			fx.Annotate(
				grpcapi.NewServer,
				fx.As(new(Delivery)),
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

type engineParams struct {
	fx.In
	fx.Lifecycle

	Config   *config.Config
	Logger   *slog.Logger
	Redis    redis.UniversalClient `optional:"true"`
	Accounts agriauth.AccountStore
	Channels []notifyChannel
	Audit    agriauth.AuditSink
}

func newEngine(params engineParams) (*agriauth.Engine, error) {
	cfg, err := params.Config.EngineConfig()
	if err != nil {
		return nil, err
	}

	builder := agriauth.New().
		WithConfig(cfg).
		WithLogger(params.Logger).
		WithAccountStore(params.Accounts).
		WithNotifyChannels(params.Channels...).
		WithAuditSink(params.Audit)
	if params.Redis != nil {
		builder = builder.WithRedis(params.Redis)
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, err
	}

	params.Append(fx.Hook{
		OnStop: func(context.Context) error {
			engine.Close()
			return nil
		},
	})

	return engine, nil
}

// newRegistry carries the engine counters, HTTP instrumentation and the
// runtime collectors on one registry served at /metrics.
func newRegistry(engine *agriauth.Engine) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		agriprom.NewCollector(engine),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// registerMeter publishes the engine counters on the global OTel meter
// provider. Until the host installs one, the global provider is a no-op.
func registerMeter(lc fx.Lifecycle, engine *agriauth.Engine) error {
	exporter, err := agriotel.NewExporter(otel.GetMeterProvider().Meter("github.com/agrivision/agriauth"), engine)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return exporter.Close()
		},
	})
	return nil
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))
				os.Exit(1)
			}
		}()
	}
}
