package agriauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/agrivision/agriauth/password"
)

// Config carries every policy parameter of the engine. Obtain a populated
// value from [DefaultConfig], override fields, and pass it to
// [Builder.WithConfig]. The engine keeps its own copy.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Risk      RiskConfig
	MFA       MFAConfig
	// PasswordReset and EmailVerification drive the emailed token flows.
	PasswordReset     TokenFlowConfig
	EmailVerification TokenFlowConfig
	Account           AccountConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls bearer token issuance.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte // HMAC secret for hs256
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing algorithm and the registration policy.
type PasswordConfig struct {
	Algorithm      string // "bcrypt" (default) or "argon2id"
	BcryptCost     int
	Memory         uint32 // argon2id, in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxBytes       int
	UpgradeOnLogin bool
}

func (c PasswordConfig) params() password.Params {
	return password.Params{
		Algorithm:   c.Algorithm,
		BcryptCost:  c.BcryptCost,
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule bounds the number of attempts within one fixed window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds one rule per rate scope. A rule with Limit 0 is
// disabled.
type RateLimitConfig struct {
	RedisPrefix       string
	LoginIP           RateRule
	LoginAccount      RateRule
	Register          RateRule
	MFAVerify         RateRule
	PasswordReset     RateRule
	EmailVerification RateRule
	TokenConfirm      RateRule
}

/*
====================================
RISK CONFIG
====================================
*/

// RiskConfig sets the thresholds on the canonical 0..100 risk scale.
type RiskConfig struct {
	// MFAThreshold: a score at or above it requires a second factor.
	MFAThreshold int
	// BlockThreshold: a score at or above it rejects the login outright.
	// Zero disables hard blocking.
	BlockThreshold int
	Timeout        time.Duration
	FallbackScore  int
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls one-time code challenges.
type MFAConfig struct {
	CodeDigits      int
	ChallengeTTL    time.Duration
	DispatchTimeout time.Duration
	RedisPrefix     string
	Subject         string
}

// TokenFlowConfig controls one emailed single-use token flow. Tokens are
// kept under RedisPrefix when the engine runs on Redis.
type TokenFlowConfig struct {
	TokenTTL    time.Duration
	RedisPrefix string
	Subject     string
}

// AccountConfig controls registration.
type AccountConfig struct {
	DefaultRole Role
	// SelfServiceRoles lists the roles a registrant may pick for themselves.
	SelfServiceRoles []Role
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. Token keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           2 * time.Hour,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:      "bcrypt",
			BcryptCost:     12,
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      6,
			MaxBytes:       1024,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:       "arl",
			LoginIP:           RateRule{Limit: 5, Window: time.Hour},
			LoginAccount:      RateRule{Limit: 10, Window: time.Hour},
			Register:          RateRule{Limit: 5, Window: time.Hour},
			MFAVerify:         RateRule{Limit: 10, Window: 10 * time.Minute},
			PasswordReset:     RateRule{Limit: 3, Window: time.Hour},
			EmailVerification: RateRule{Limit: 5, Window: 24 * time.Hour},
			TokenConfirm:      RateRule{Limit: 10, Window: 10 * time.Minute},
		},
		Risk: RiskConfig{
			MFAThreshold:   70,
			BlockThreshold: 0,
			Timeout:        300 * time.Millisecond,
			FallbackScore:  50,
		},
		MFA: MFAConfig{
			CodeDigits:      6,
			ChallengeTTL:    10 * time.Minute,
			DispatchTimeout: 5 * time.Second,
			RedisPrefix:     "amc",
			Subject:         "Your AgriVision verification code",
		},
		PasswordReset: TokenFlowConfig{
			TokenTTL:    10 * time.Minute,
			RedisPrefix: "apr",
			Subject:     "Reset your AgriVision password",
		},
		EmailVerification: TokenFlowConfig{
			TokenTTL:    24 * time.Hour,
			RedisPrefix: "apv",
			Subject:     "Verify your AgriVision email address",
		},
		Account: AccountConfig{
			DefaultRole:      RoleStandard,
			SelfServiceRoles: []Role{RoleStandard, RoleResearcher, RoleSupplier},
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Account.SelfServiceRoles = append([]Role(nil), cfg.Account.SelfServiceRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first inconsistent setting in c.
func (c *Config) Validate() error {
	// Token
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Password
	switch c.Password.Algorithm {
	case password.AlgorithmBcrypt:
		if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be between 10 and 31")
		}
	case password.AlgorithmArgon2id:
		if _, err := password.NewArgon2(c.Password.params()); err != nil {
			return fmt.Errorf("Password: %w", err)
		}
	default:
		return errors.New("unsupported Password algorithm")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}

	// Rate limits
	for name, rule := range map[string]RateRule{
		"LoginIP":           c.RateLimit.LoginIP,
		"LoginAccount":      c.RateLimit.LoginAccount,
		"Register":          c.RateLimit.Register,
		"MFAVerify":         c.RateLimit.MFAVerify,
		"PasswordReset":     c.RateLimit.PasswordReset,
		"EmailVerification": c.RateLimit.EmailVerification,
		"TokenConfirm":      c.RateLimit.TokenConfirm,
	} {
		if rule.Limit < 0 {
			return errors.New("RateLimit " + name + " Limit must be >= 0")
		}
		if rule.Limit > 0 && rule.Window <= 0 {
			return errors.New("RateLimit " + name + " Window must be > 0")
		}
	}
	if c.RateLimit.RedisPrefix == "" {
		return errors.New("RateLimit RedisPrefix must be set")
	}

	// Risk
	if c.Risk.MFAThreshold < 0 || c.Risk.MFAThreshold > 100 {
		return errors.New("Risk MFAThreshold must be within 0..100")
	}
	if c.Risk.BlockThreshold < 0 || c.Risk.BlockThreshold > 100 {
		return errors.New("Risk BlockThreshold must be within 0..100")
	}
	if c.Risk.BlockThreshold > 0 && c.Risk.BlockThreshold < c.Risk.MFAThreshold {
		return errors.New("Risk BlockThreshold must be >= MFAThreshold")
	}
	if c.Risk.FallbackScore < 0 || c.Risk.FallbackScore > 100 {
		return errors.New("Risk FallbackScore must be within 0..100")
	}
	if c.Risk.Timeout <= 0 {
		return errors.New("Risk Timeout must be > 0")
	}

	// MFA
	if c.MFA.CodeDigits < 6 || c.MFA.CodeDigits > 10 {
		return errors.New("MFA CodeDigits must be between 6 and 10")
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeTTL > time.Hour {
		return errors.New("MFA ChallengeTTL must be within (0, 1h]")
	}
	if c.MFA.DispatchTimeout <= 0 {
		return errors.New("MFA DispatchTimeout must be > 0")
	}
	if c.MFA.RedisPrefix == "" {
		return errors.New("MFA RedisPrefix must be set")
	}

	// Token flows
	prefixes := map[string]string{c.MFA.RedisPrefix: "MFA"}
	for name, flow := range map[string]TokenFlowConfig{
		"PasswordReset":     c.PasswordReset,
		"EmailVerification": c.EmailVerification,
	} {
		if flow.TokenTTL <= 0 || flow.TokenTTL > 7*24*time.Hour {
			return errors.New(name + " TokenTTL must be within (0, 168h]")
		}
		if flow.RedisPrefix == "" {
			return errors.New(name + " RedisPrefix must be set")
		}
		if other, taken := prefixes[flow.RedisPrefix]; taken {
			return errors.New(name + " RedisPrefix collides with " + other)
		}
		prefixes[flow.RedisPrefix] = name
	}

	// Account
	if !c.Account.DefaultRole.Valid() {
		return errors.New("Account DefaultRole is invalid")
	}
	for _, r := range c.Account.SelfServiceRoles {
		if !r.Valid() {
			return errors.New("Account SelfServiceRoles contains an invalid role")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
