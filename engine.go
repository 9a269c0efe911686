package agriauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	internalaudit "github.com/agrivision/agriauth/internal/audit"
	"github.com/agrivision/agriauth/internal/rate"
	"github.com/agrivision/agriauth/internal/stores"
	"github.com/agrivision/agriauth/jwt"
	"github.com/agrivision/agriauth/notify"
	"github.com/agrivision/agriauth/password"
	"github.com/agrivision/agriauth/permission"
	"github.com/agrivision/agriauth/risk"
)

// Engine runs the AgriVision authentication flows. Obtain one from
// [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config     Config
	accounts   AccountStore
	limiter    *rate.Limiter
	challenges stores.ChallengeStore
	// resets and verifications hold emailed link tokens, one store per flow
	resets        stores.ChallengeStore
	verifications stores.ChallengeStore
	hasher        password.Hasher
	dummyHash     string
	tokens        *jwt.Manager
	risk          *risk.Guarded
	notifier      *notify.Dispatcher
	mailer        *notify.Dispatcher
	policy        *permission.Policy
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	logger        *slog.Logger
	now           func() time.Time

	stopSweeper func()
	closeOnce   sync.Once
}

// Close drains the audit dispatcher and stops background sweeping. It is
// safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.stopSweeper != nil {
			e.stopSweeper()
		}
		e.audit.Close()
	})
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Stats().Dropped
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Policy returns the role policy used by [Engine.Authorize].
func (e *Engine) Policy() *permission.Policy {
	if e == nil {
		return nil
	}
	return e.policy
}

func (e *Engine) ready() error {
	if e == nil || e.accounts == nil || e.tokens == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// gate maps limiter outcomes onto the public taxonomy.
func (e *Engine) gate(ctx context.Context, scope rate.Scope, identity string) error {
	err := e.limiter.Allow(ctx, scope, identity)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	default:
		e.logger.ErrorContext(ctx, "rate counter unavailable",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// storeErr passes store sentinels through and wraps everything else as a
// backend failure.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountExists), errors.Is(err, ErrAccountConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return validationError("email", "is required")
	}
	if len(email) > 254 {
		return validationError("email", "is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return validationError("email", "is not a valid address")
	}
	return nil
}

// validatePassword enforces the length policy. bcrypt caps usable input at
// 72 bytes, so the upper bound tightens under that algorithm.
func (e *Engine) validatePassword(field, pw string) error {
	if len([]rune(pw)) < e.config.Password.MinLength {
		return validationError(field, fmt.Sprintf("must be at least %d characters", e.config.Password.MinLength))
	}
	maxBytes := e.config.Password.MaxBytes
	if e.config.Password.Algorithm == password.AlgorithmBcrypt && maxBytes > password.BcryptMaxBytes {
		maxBytes = password.BcryptMaxBytes
	}
	if len(pw) > maxBytes {
		return validationError(field, fmt.Sprintf("must be at most %d bytes", maxBytes))
	}
	return nil
}

// publicAccount strips the password hash from an account handed to callers.
func publicAccount(a *Account) *Account {
	out := a.Clone()
	if out != nil {
		out.PasswordHash = ""
	}
	return out
}
