package agriauth

import (
	"errors"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/agrivision/agriauth/internal/audit"
	"github.com/agrivision/agriauth/internal/rate"
	"github.com/agrivision/agriauth/internal/stores"
	"github.com/agrivision/agriauth/jwt"
	"github.com/agrivision/agriauth/notify"
	"github.com/agrivision/agriauth/password"
	"github.com/agrivision/agriauth/permission"
	"github.com/agrivision/agriauth/risk"
	"github.com/redis/go-redis/v9"
)

const (
	dummyPassword = "agriauth-timing-equalizer"
	sweepInterval = time.Minute
)

// mailChannels carry reset and verification tokens. Tokens are links to an
// inbox, so SMS and push never see them.
var mailChannels = []string{"email", "log"}

// Builder assembles an [Engine]. A Builder is single use.
//
// Builder instances are intended to be configured during initialization and then discarded.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts AccountStore
	scorer   risk.Scorer
	channels []notify.Channel
	policy   *permission.Policy

	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder populated with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The Builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs rate counters and MFA challenges with Redis. Without it
// the engine keeps both in process memory, which is only correct for a
// single instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the credential store. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithRiskScorer replaces the default [risk.Heuristic] scorer.
func (b *Builder) WithRiskScorer(scorer risk.Scorer) *Builder {
	b.scorer = scorer
	return b
}

// WithNotifyChannels sets the MFA code delivery channels. Each channel runs
// under MFAConfig.DispatchTimeout.
func (b *Builder) WithNotifyChannels(channels ...notify.Channel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithPolicy replaces [permission.DefaultPolicy].
func (b *Builder) WithPolicy(policy *permission.Policy) *Builder {
	b.policy = policy
	return b
}

// WithAuditSink routes audit events to sink through the async dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for best-effort failures. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for expiry decisions.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	engine := &Engine{
		config:   cfg,
		accounts: b.accounts,
		logger:   logger,
		now:      clock,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- RATE LIMITER + CHALLENGES --------
	var counter rate.Counter
	if b.redis != nil {
		counter = rate.NewRedisCounter(b.redis)
		engine.challenges = stores.NewRedisChallengeStore(b.redis, cfg.MFA.RedisPrefix).WithClock(clock)
		engine.resets = stores.NewRedisChallengeStore(b.redis, cfg.PasswordReset.RedisPrefix).WithClock(clock)
		engine.verifications = stores.NewRedisChallengeStore(b.redis, cfg.EmailVerification.RedisPrefix).WithClock(clock)
	} else {
		memCounter := rate.NewMemoryCounter(clock)
		memChallenges := stores.NewMemoryChallengeStore(clock)
		memResets := stores.NewMemoryChallengeStore(clock)
		memVerifications := stores.NewMemoryChallengeStore(clock)
		counter = memCounter
		engine.challenges = memChallenges
		engine.resets = memResets
		engine.verifications = memVerifications
		engine.stopSweeper = startSweeper(sweepInterval,
			memCounter.Sweep, memChallenges.Sweep, memResets.Sweep, memVerifications.Sweep)
	}
	engine.limiter = rate.New(counter, cfg.RateLimit.RedisPrefix, rateRules(cfg.RateLimit))

	// -------- PASSWORD HASHING --------
	hasher, err := password.New(cfg.Password.params())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	engine.dummyHash, err = hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	// -------- RISK + DELIVERY + POLICY --------
	scorer := b.scorer
	if scorer == nil {
		scorer = risk.Heuristic{}
	}
	engine.risk = risk.WithTimeout(scorer, cfg.Risk.Timeout, cfg.Risk.FallbackScore).WithLogger(logger)
	engine.notifier = notify.NewDispatcher(cfg.MFA.DispatchTimeout, b.channels...)
	engine.mailer = engine.notifier.Only(mailChannels...)

	engine.policy = b.policy
	if engine.policy == nil {
		engine.policy = permission.DefaultPolicy()
	}

	if cfg.Audit.Enabled {
		engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Buffer:      cfg.Audit.BufferSize,
			Wait:        !cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, b.auditSink, logger)
	}

	b.built = true

	return engine, nil
}

func rateRules(cfg RateLimitConfig) map[rate.Scope]rate.Rule {
	return map[rate.Scope]rate.Rule{
		rate.ScopeLoginIP:      {Limit: cfg.LoginIP.Limit, Window: cfg.LoginIP.Window},
		rate.ScopeLoginAccount: {Limit: cfg.LoginAccount.Limit, Window: cfg.LoginAccount.Window},
		// failure history only; never enforced
		rate.ScopeLoginFailure:  {Window: failureWindow(cfg)},
		rate.ScopeRegister:      {Limit: cfg.Register.Limit, Window: cfg.Register.Window},
		rate.ScopeMFAVerify:     {Limit: cfg.MFAVerify.Limit, Window: cfg.MFAVerify.Window},
		rate.ScopePasswordReset: {Limit: cfg.PasswordReset.Limit, Window: cfg.PasswordReset.Window},
		rate.ScopeEmailVerify:   {Limit: cfg.EmailVerification.Limit, Window: cfg.EmailVerification.Window},
		rate.ScopeTokenConfirm:  {Limit: cfg.TokenConfirm.Limit, Window: cfg.TokenConfirm.Window},
	}
}

func failureWindow(cfg RateLimitConfig) time.Duration {
	if cfg.LoginAccount.Window > 0 {
		return cfg.LoginAccount.Window
	}
	return time.Hour
}

func startSweeper(every time.Duration, sweeps ...func() int) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, sweep := range sweeps {
					sweep()
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
