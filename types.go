package agriauth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	internalaudit "github.com/agrivision/agriauth/internal/audit"
	internalmetrics "github.com/agrivision/agriauth/internal/metrics"
	"github.com/agrivision/agriauth/risk"
)

// Role is the closed set of AgriVision account roles.
type Role string

const (
	// RoleStandard is the least-privileged role and the registration default.
	RoleStandard Role = "standard"
	// RoleAdmin administers accounts and roles.
	RoleAdmin Role = "admin"
	// RoleResearcher reads research and farm data.
	RoleResearcher Role = "researcher"
	// RoleSupplier lists market offers.
	RoleSupplier Role = "supplier"
)

// Roles lists every valid role, least privileged first.
var Roles = []Role{RoleStandard, RoleResearcher, RoleSupplier, RoleAdmin}

// ParseRole maps s onto the closed role set. The empty string yields
// [RoleStandard]; any other unknown value fails with [ErrValidation].
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return RoleStandard, nil
	case RoleStandard:
		return RoleStandard, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleResearcher:
		return RoleResearcher, nil
	case RoleSupplier:
		return RoleSupplier, nil
	default:
		return "", validationError("role", "unknown role "+s)
	}
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleAdmin, RoleResearcher, RoleSupplier:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Account is the persisted identity record.
//
// PasswordHash holds an encoded bcrypt or argon2id hash and never the
// plaintext. Accounts are soft-deactivated through Active and are never
// removed, so audit references stay resolvable.
//
// ExternalIDs maps a [Provider] name to the subject that provider asserts
// for this account. Version is the optimistic-concurrency counter: a store
// accepts an Update only when Version matches the stored record, then
// increments it.
type Account struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Role          Role
	Active        bool
	EmailVerified bool
	MFAEnabled    bool
	Phone         string
	PushToken     string
	ExternalIDs   map[string]string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.ExternalIDs != nil {
		out.ExternalIDs = make(map[string]string, len(a.ExternalIDs))
		for k, v := range a.ExternalIDs {
			out.ExternalIDs[k] = v
		}
	}
	return &out
}

// AccountStore persists accounts. Implementations must enforce email and
// external identity uniqueness and return [ErrAccountExists] on a duplicate,
// and [ErrAccountNotFound] when a lookup misses. Emails reach the store
// already normalized (trimmed, lower-case).
//
// Update is a compare-and-set on Version: when the stored Version differs
// from account.Version the store returns [ErrAccountConflict] and writes
// nothing. On success the store increments the Version of both the stored
// record and account.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByExternalID(ctx context.Context, provider Provider, subject string) (*Account, error)
	Update(ctx context.Context, account *Account) error
}

// Provider names an external identity provider an account can be linked to.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderGitHub   Provider = "github"
)

// Providers lists every supported external identity provider.
var Providers = []Provider{ProviderGoogle, ProviderFacebook, ProviderGitHub}

// ParseProvider maps s onto the closed provider set.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderGoogle, ProviderFacebook, ProviderGitHub:
		return p, nil
	}
	return "", validationError("provider", "unknown provider "+s)
}

// Registration is the input for [Engine.Register].
type Registration struct {
	Email    string
	Password string
	Name     string
	Role     string
	Phone    string
}

// ExternalLogin is an identity an external provider already authenticated.
// The caller vouches for it; the engine does not talk to the provider.
type ExternalLogin struct {
	Provider Provider
	Subject  string
	Email    string
	Name     string
}

// LoginResult is returned by [Engine.Login] and [Engine.VerifyMFA]. It
// carries a token when authentication completed, or challenge metadata
// when a second factor is pending.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	AccountID string
	Role      Role

	MFARequired    bool
	ChallengeID    string
	DeliveryFailed bool
	FailedChannels []string
}

// Claims is the verified content of a bearer token.
type Claims struct {
	AccountID string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RiskAssessment is the request-scoped output of the risk gate.
type RiskAssessment struct {
	Score    int
	Signal   risk.Signal
	Fallback bool
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates an [AuditSink] writing one structured log record per event.
func NewSlogSink(logger *slog.Logger) AuditSink {
	return internalaudit.NewSlogSink(logger)
}

// NewMultiSink fans every event out to each of sinks.
func NewMultiSink(sinks ...AuditSink) AuditSink {
	return internalaudit.NewMultiSink(sinks...)
}

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited     = internalmetrics.MetricLoginRateLimited
	MetricLoginRiskRejected    = internalmetrics.MetricLoginRiskRejected
	MetricMFARequired          = internalmetrics.MetricMFARequired
	MetricMFASuccess           = internalmetrics.MetricMFASuccess
	MetricMFAFailure           = internalmetrics.MetricMFAFailure
	MetricMFADeliveryFailed    = internalmetrics.MetricMFADeliveryFailed
	MetricRiskFallback         = internalmetrics.MetricRiskFallback
	MetricRateLimitHit         = internalmetrics.MetricRateLimitHit
	MetricTokenIssued          = internalmetrics.MetricTokenIssued
	MetricTokenInvalid         = internalmetrics.MetricTokenInvalid
	MetricRegisterSuccess      = internalmetrics.MetricRegisterSuccess
	MetricRegisterDuplicate    = internalmetrics.MetricRegisterDuplicate
	MetricRegisterRateLimited  = internalmetrics.MetricRegisterRateLimited
	MetricPasswordChange       = internalmetrics.MetricPasswordChange
	MetricRoleChange           = internalmetrics.MetricRoleChange
	MetricAccountDeactivated   = internalmetrics.MetricAccountDeactivated
	MetricPasswordReset        = internalmetrics.MetricPasswordReset
	MetricEmailVerified        = internalmetrics.MetricEmailVerified
	MetricExternalLogin        = internalmetrics.MetricExternalLogin
	MetricIdentityLinked       = internalmetrics.MetricIdentityLinked
	MetricLoginLatency         = internalmetrics.MetricLoginLatency
	MetricValidateTokenLatency = internalmetrics.MetricValidateTokenLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by cfg. When
// Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
