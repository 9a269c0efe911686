package agriauth

import (
	"context"
	"time"
)

// ValidateToken verifies signature, expiry, issuer, and audience of a
// bearer token. Every failure, including an unknown role claim, returns
// [ErrTokenInvalid].
func (e *Engine) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeSince(MetricValidateTokenLatency, start)

	claims, err := e.tokens.Parse(token)
	if err != nil {
		e.metricInc(MetricTokenInvalid)
		e.logger.DebugContext(ctx, "token rejected", "error", err.Error())
		return nil, ErrTokenInvalid
	}

	role := Role(claims.Role)
	if !role.Valid() {
		e.metricInc(MetricTokenInvalid)
		return nil, ErrTokenInvalid
	}

	return &Claims{
		AccountID: claims.AccountID,
		Role:      role,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Authorize reports whether claims grant perm. It returns [ErrForbidden]
// when the role lacks the permission, or when perm is unknown.
func (e *Engine) Authorize(claims *Claims, perm string) error {
	if e == nil || e.policy == nil {
		return ErrEngineNotReady
	}
	if claims == nil {
		return ErrTokenInvalid
	}
	if !e.policy.Allowed(string(claims.Role), perm) {
		return ErrForbidden
	}
	return nil
}
