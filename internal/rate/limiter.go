package rate

import (
	"context"
	"fmt"
	"time"
)

// Scope names one rate-limited surface.
type Scope string

const (
	ScopeLoginIP      Scope = "li"
	ScopeLoginAccount Scope = "la"
	ScopeLoginFailure Scope = "lf"
	ScopeRegister     Scope = "rg"
	ScopeMFAVerify    Scope = "mv"
	// ScopePasswordReset bounds reset requests per IP and per email.
	ScopePasswordReset Scope = "pr"
	// ScopeEmailVerify bounds verification mails per IP and per account.
	ScopeEmailVerify Scope = "ev"
	// ScopeTokenConfirm bounds reset and verification token redemptions.
	ScopeTokenConfirm Scope = "tc"
)

// Rule bounds a scope: at most Limit hits per Window. Limit 0 disables the
// gate for that scope.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Counter is an atomic fixed-window counter store.
type Counter interface {
	// Hit increments key, starting a window of the given length on the first
	// hit, and returns the count within the current window.
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
	// Peek returns the current count without incrementing. Missing keys are 0.
	Peek(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Limiter applies per-scope rules over a Counter.
type Limiter struct {
	counter Counter
	prefix  string
	rules   map[Scope]Rule
}

// New creates a Limiter. rules is copied.
func New(counter Counter, prefix string, rules map[Scope]Rule) *Limiter {
	copied := make(map[Scope]Rule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Limiter{counter: counter, prefix: prefix, rules: copied}
}

// Allow counts one attempt for identity in scope and reports whether it is
// within the limit. Every call increments, including allowed ones; the
// attempt after the limit-th one in a window returns ErrRateLimited.
func (l *Limiter) Allow(ctx context.Context, scope Scope, identity string) error {
	if l == nil || identity == "" {
		return nil
	}
	rule, ok := l.rules[scope]
	if !ok || rule.Limit <= 0 {
		return nil
	}

	count, err := l.counter.Hit(ctx, l.key(scope, identity), rule.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if count > int64(rule.Limit) {
		return ErrRateLimited
	}
	return nil
}

// Record counts one event in scope without enforcing a limit. It is used for
// the failure history that feeds risk scoring.
func (l *Limiter) Record(ctx context.Context, scope Scope, identity string) (int64, error) {
	if l == nil || identity == "" {
		return 0, nil
	}
	rule, ok := l.rules[scope]
	if !ok || rule.Window <= 0 {
		return 0, nil
	}

	count, err := l.counter.Hit(ctx, l.key(scope, identity), rule.Window)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return count, nil
}

// Count returns the hits for identity in the current window of scope.
func (l *Limiter) Count(ctx context.Context, scope Scope, identity string) (int64, error) {
	if l == nil || identity == "" {
		return 0, nil
	}
	count, err := l.counter.Peek(ctx, l.key(scope, identity))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return count, nil
}

// Reset clears the window for identity in scope.
func (l *Limiter) Reset(ctx context.Context, scope Scope, identity string) error {
	if l == nil || identity == "" {
		return nil
	}
	if err := l.counter.Reset(ctx, l.key(scope, identity)); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(scope Scope, identity string) string {
	return l.prefix + ":" + string(scope) + ":" + identity
}
