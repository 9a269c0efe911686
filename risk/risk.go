package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	MinScore = 0
	MaxScore = 100
)

// ErrScoreOutOfRange is returned when a scorer produces a value outside
// MinScore..MaxScore.
var ErrScoreOutOfRange = errors.New("risk score out of range")

// Signal is the request context a scorer sees.
type Signal struct {
	IP             string
	UserAgent      string
	RecentFailures int
	At             time.Time
}

// Scorer maps a Signal to a score in MinScore..MaxScore.
type Scorer interface {
	Score(ctx context.Context, signal Signal) (int, error)
}

// Func adapts a function to Scorer.
type Func func(ctx context.Context, signal Signal) (int, error)

func (f Func) Score(ctx context.Context, signal Signal) (int, error) {
	return f(ctx, signal)
}

// Static always returns the same score.
type Static int

func (s Static) Score(context.Context, Signal) (int, error) {
	return Clamp(int(s)), nil
}

// Clamp bounds n to MinScore..MaxScore.
func Clamp(n int) int {
	if n < MinScore {
		return MinScore
	}
	if n > MaxScore {
		return MaxScore
	}
	return n
}

// Heuristic weights.
const (
	WeightMissingUserAgent = 25
	WeightAutomationAgent  = 35
	WeightBadIP            = 20
	WeightPerFailure       = 10
	MaxFailureWeight       = 40
)

var automationTokens = []string{
	"curl",
	"wget",
	"python-requests",
	"go-http-client",
	"headless",
	"bot",
}

// Heuristic is a deterministic additive scorer over request metadata.
type Heuristic struct{}

func (Heuristic) Score(_ context.Context, signal Signal) (int, error) {
	score := 0

	ua := strings.ToLower(strings.TrimSpace(signal.UserAgent))
	if ua == "" {
		score += WeightMissingUserAgent
	} else {
		for _, token := range automationTokens {
			if strings.Contains(ua, token) {
				score += WeightAutomationAgent
				break
			}
		}
	}

	if net.ParseIP(strings.TrimSpace(signal.IP)) == nil {
		score += WeightBadIP
	}

	if signal.RecentFailures > 0 {
		failures := signal.RecentFailures * WeightPerFailure
		if failures > MaxFailureWeight {
			failures = MaxFailureWeight
		}
		score += failures
	}

	return Clamp(score), nil
}

// Guarded wraps a scorer with a deadline and a fallback score.
type Guarded struct {
	scorer   Scorer
	timeout  time.Duration
	fallback int
	logger   *slog.Logger
}

// WithTimeout bounds each call to scorer by timeout. On timeout, error, or
// an out-of-range result the fallback score is used instead.
func WithTimeout(scorer Scorer, timeout time.Duration, fallback int) *Guarded {
	return &Guarded{
		scorer:   scorer,
		timeout:  timeout,
		fallback: Clamp(fallback),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets where Score reports the failures it falls back on.
func (g *Guarded) WithLogger(logger *slog.Logger) *Guarded {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Evaluate returns the score and whether the fallback was used. err is the
// underlying scorer failure when fallback is true.
func (g *Guarded) Evaluate(ctx context.Context, signal Signal) (score int, fallback bool, err error) {
	if g.scorer == nil {
		return g.fallback, true, errors.New("risk scorer not configured")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type result struct {
		score int
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := g.scorer.Score(ctx, signal)
		ch <- result{score: s, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return g.fallback, true, r.err
		}
		if r.score < MinScore || r.score > MaxScore {
			return g.fallback, true, ErrScoreOutOfRange
		}
		return r.score, false, nil
	case <-ctx.Done():
		return g.fallback, true, ctx.Err()
	}
}

// Score implements Scorer. A fallback is never an error to the caller; the
// underlying failure is logged at warn level instead.
func (g *Guarded) Score(ctx context.Context, signal Signal) (int, error) {
	score, fallback, err := g.Evaluate(ctx, signal)
	if fallback {
		attrs := []any{slog.Int("fallback_score", score)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		g.logger.WarnContext(ctx, "risk scorer failed, using fallback", attrs...)
	}
	return score, nil
}
