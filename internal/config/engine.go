package config

import (
	"github.com/pkg/errors"

	"github.com/agrivision/agriauth"
)

// EngineConfig overlays the file settings on agriauth.DefaultConfig. Zero
// values keep the library default.
func (c *Config) EngineConfig() (agriauth.Config, error) {
	out := agriauth.DefaultConfig()

	out.Token.PrivateKey = []byte(c.Token.Secret)
	setDuration(&out.Token.TTL, c.Token.TTL)
	setDuration(&out.Token.Leeway, c.Token.Leeway)
	setString(&out.Token.Issuer, c.Token.Issuer)
	setString(&out.Token.Audience, c.Token.Audience)

	if p := c.Password; p != nil {
		setString(&out.Password.Algorithm, p.Algorithm)
		setInt(&out.Password.BcryptCost, p.BcryptCost)
		setInt(&out.Password.MinLength, p.MinLength)
	}

	if r := c.RateLimit; r != nil {
		setString(&out.RateLimit.RedisPrefix, r.RedisPrefix)
		setRule(&out.RateLimit.LoginIP, r.LoginIP)
		setRule(&out.RateLimit.LoginAccount, r.LoginAccount)
		setRule(&out.RateLimit.Register, r.Register)
		setRule(&out.RateLimit.MFAVerify, r.MFAVerify)
		setRule(&out.RateLimit.PasswordReset, r.PasswordReset)
		setRule(&out.RateLimit.EmailVerification, r.EmailVerification)
		setRule(&out.RateLimit.TokenConfirm, r.TokenConfirm)
	}

	if r := c.Risk; r != nil {
		setInt(&out.Risk.MFAThreshold, r.MFAThreshold)
		out.Risk.BlockThreshold = r.BlockThreshold
		setDuration(&out.Risk.Timeout, r.Timeout)
		setInt(&out.Risk.FallbackScore, r.FallbackScore)
	}

	if m := c.MFA; m != nil {
		setInt(&out.MFA.CodeDigits, m.CodeDigits)
		setDuration(&out.MFA.ChallengeTTL, m.ChallengeTTL)
		setDuration(&out.MFA.DispatchTimeout, m.DispatchTimeout)
		setString(&out.MFA.RedisPrefix, m.RedisPrefix)
		setString(&out.MFA.Subject, m.Subject)
	}

	setTokenFlow(&out.PasswordReset, c.PasswordReset)
	setTokenFlow(&out.EmailVerification, c.EmailVerification)

	setInt(&out.Audit.BufferSize, c.Audit.BufferSize)
	setDuration(&out.Audit.SinkTimeout, c.Audit.SinkTimeout)

	if err := out.Validate(); err != nil {
		return agriauth.Config{}, errors.Wrap(err, "engine config")
	}

	return out, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration[D ~int64](dst *D, v D) {
	if v != 0 {
		*dst = v
	}
}

func setRule(dst *agriauth.RateRule, rule *RateRule) {
	if rule == nil {
		return
	}
	dst.Limit = rule.Limit
	setDuration(&dst.Window, rule.Window)
}

func setTokenFlow(dst *agriauth.TokenFlowConfig, flow *TokenFlowConfig) {
	if flow == nil {
		return
	}
	setDuration(&dst.TokenTTL, flow.TokenTTL)
	setString(&dst.RedisPrefix, flow.RedisPrefix)
	setString(&dst.Subject, flow.Subject)
}
