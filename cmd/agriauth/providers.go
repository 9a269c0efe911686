package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/agrivision/agriauth"
	internalaudit "github.com/agrivision/agriauth/internal/audit"
	"github.com/agrivision/agriauth/internal/config"
	"github.com/agrivision/agriauth/internal/httpapi"
	"github.com/agrivision/agriauth/notify"
	"github.com/agrivision/agriauth/store/memory"
	"github.com/agrivision/agriauth/store/postgres"
	"github.com/agrivision/agriauth/store/redisstore"
)

type notifyChannel = notify.Channel

// newRedis returns nil when no redis section is configured; counters and
// challenges then live in process memory.
func newRedis(lc fx.Lifecycle, cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.Redis == nil {
		return nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return errors.Wrap(client.Ping(ctx).Err(), "redis ping")
		},
		OnStop: func(context.Context) error {
			return errors.WithStack(client.Close())
		},
	})

	return client, nil
}

// newPostgres returns nil unless the account store or the audit trail
// needs the database.
func newPostgres(lc fx.Lifecycle, cfg *config.Config) (*postgres.Store, error) {
	if cfg.Store.Driver != "postgres" {
		return nil, nil
	}

	store, err := postgres.Open(cfg.Store.PostgresDSN)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.DB().PingContext(ctx); err != nil {
				return errors.Wrap(err, "postgres ping")
			}
			if !cfg.Store.Migrate {
				return nil
			}
			return errors.Wrap(store.Migrate(ctx), "postgres migrate")
		},
		OnStop: func(context.Context) error {
			return errors.WithStack(store.Close())
		},
	})

	return store, nil
}

type storeParams struct {
	fx.In

	Config   *config.Config
	Redis    redis.UniversalClient `optional:"true"`
	Postgres *postgres.Store       `optional:"true"`
}

func newAccountStore(params storeParams) (agriauth.AccountStore, error) {
	switch params.Config.Store.Driver {
	case "postgres":
		return params.Postgres, nil
	case "redis":
		if params.Redis == nil {
			return nil, errors.New("redis account store without a redis client")
		}
		return redisstore.New(params.Redis, params.Config.Store.RedisPrefix), nil
	default:
		return memory.New(), nil
	}
}

func newNotifyChannels(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]notifyChannel, error) {
	var channels []notifyChannel

	if cfg.Notify.Log {
		logger.Warn("MFA codes are written to the log; disable notify.log outside development")
		channels = append(channels, notify.NewLog(logger))
	}
	if e := cfg.Notify.Email; e != nil {
		channels = append(channels, notify.NewEmail(notify.EmailConfig{
			Addr:     e.Addr,
			From:     e.From,
			Username: e.Username,
			Password: e.Password,
		}))
	}
	if s := cfg.Notify.SMS; s != nil {
		channels = append(channels, notify.NewSMS(notify.SMSConfig{
			Endpoint: s.Endpoint,
			APIKey:   s.APIKey,
			From:     s.From,
		}, nil))
	}
	if f := cfg.Notify.Firebase; f != nil {
		push, err := notify.NewFirebasePush(ctx, f.CredentialsPath)
		if err != nil {
			return nil, errors.Wrap(err, "firebase push channel")
		}
		channels = append(channels, push)
	}

	if len(channels) == 0 {
		logger.Warn("no MFA delivery channel configured; step-up logins cannot complete")
	}

	return channels, nil
}

type auditParams struct {
	fx.In
	fx.Lifecycle

	Context  context.Context
	Config   *config.Config
	Logger   *slog.Logger
	Postgres *postgres.Store `optional:"true"`
}

// newAuditSink logs every event, persists it when configured, and forwards
// alert types to Pub/Sub.
func newAuditSink(params auditParams) (agriauth.AuditSink, error) {
	sinks := []agriauth.AuditSink{agriauth.NewSlogSink(params.Logger)}

	if params.Config.Audit.Persist && params.Postgres != nil {
		sinks = append(sinks, postgres.NewAuditSink(params.Postgres.DB(), params.Logger))
	}

	if ps := params.Config.PubSub; ps != nil {
		publisher, err := internalaudit.NewPubSubPublisher(params.Context, ps.ProjectID, ps.TopicID)
		if err != nil {
			return nil, errors.Wrap(err, "audit alert publisher")
		}
		params.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return errors.WithStack(publisher.Close())
			},
		})
		sinks = append(sinks, internalaudit.NewAlertSink(publisher, params.Logger))
	}

	return agriauth.NewMultiSink(sinks...), nil
}

type readinessParams struct {
	fx.In

	Redis    redis.UniversalClient `optional:"true"`
	Postgres *postgres.Store       `optional:"true"`
}

func newReadiness(params readinessParams) httpapi.ReadyFunc {
	return func(ctx context.Context) error {
		if params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				return errors.Wrap(err, "redis")
			}
		}
		if params.Postgres != nil {
			if err := params.Postgres.DB().PingContext(ctx); err != nil {
				return errors.Wrap(err, "postgres")
			}
		}
		return nil
	}
}
