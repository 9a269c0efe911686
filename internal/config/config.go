// Package config loads the agriauth service configuration from a YAML file
// with AGRIAUTH_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	// EnvPrefix marks the environment variables that override file values.
	EnvPrefix = "AGRIAUTH_"
	// PathEnv names a config file to load instead of searching for one.
	PathEnv = "AGRIAUTH_CONFIG"

	defaultName               = "config"
	defaultMaxRequestBodySize = "64KB"
)

var defaultSearchPaths = []string{".", "config", "../config", "../../config"}

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName" validate:"required"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP HTTPConfig `json:"http" yaml:"http"`

	GRPC struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
		Port    int  `json:"port" yaml:"port" validate:"min=0,max=65535"`
	} `json:"grpc" yaml:"grpc"`

	Redis *RedisConfig `json:"redis" yaml:"redis"`

	Store StoreConfig `json:"store" yaml:"store"`

	Token TokenConfig `json:"token" yaml:"token"`

	Password *PasswordConfig `json:"password" yaml:"password"`

	RateLimit *RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`

	Risk *RiskConfig `json:"risk" yaml:"risk"`

	MFA *MFAConfig `json:"mfa" yaml:"mfa"`

	PasswordReset     *TokenFlowConfig `json:"passwordReset" yaml:"passwordReset"`
	EmailVerification *TokenFlowConfig `json:"emailVerification" yaml:"emailVerification"`

	Notify NotifyConfig `json:"notify" yaml:"notify"`

	// PubSub forwards security alerts to a Google Pub/Sub topic
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`

	Audit struct {
		BufferSize  int           `json:"bufferSize" yaml:"bufferSize" validate:"min=0"`
		SinkTimeout time.Duration `json:"sinkTimeout" yaml:"sinkTimeout" validate:"min=0"`
		Persist     bool          `json:"persist" yaml:"persist"`
	} `json:"audit" yaml:"audit"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Port               int      `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	MaxRequestBodySize string   `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
	TrustProxy         bool     `json:"trustProxy" yaml:"trustProxy"`
	AllowOrigins       []string `json:"allowOrigins" yaml:"allowOrigins"`

	// Throttle is the per-IP budget applied to every API route.
	Throttle struct {
		Requests int           `json:"requests" yaml:"requests" validate:"min=0"`
		Window   time.Duration `json:"window" yaml:"window"`
	} `json:"throttle" yaml:"throttle"`

	Timeouts struct {
		ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
		ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
		WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
		IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		ShutdownTimeout   time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	} `json:"timeouts" yaml:"timeouts"`
}

// RedisConfig points at the shared Redis used for rate counters and MFA
// challenges. Leaving it out runs both in process memory.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" validate:"required"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"min=0"`
}

// StoreConfig selects the account store.
type StoreConfig struct {
	// Driver is one of "memory", "redis" or "postgres"
	Driver      string `json:"driver" yaml:"driver" validate:"oneof=memory redis postgres"`
	PostgresDSN string `json:"postgresDSN" yaml:"postgresDSN" validate:"required_if=Driver postgres"`
	Migrate     bool   `json:"migrate" yaml:"migrate"`
	RedisPrefix string `json:"redisPrefix" yaml:"redisPrefix"`
}

type TokenConfig struct {
	Secret   string        `json:"secret" yaml:"secret" validate:"required,min=32"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
	Issuer   string        `json:"issuer" yaml:"issuer"`
	Audience string        `json:"audience" yaml:"audience"`
	Leeway   time.Duration `json:"leeway" yaml:"leeway"`
}

type PasswordConfig struct {
	Algorithm  string `json:"algorithm" yaml:"algorithm" validate:"omitempty,oneof=bcrypt argon2id"`
	BcryptCost int    `json:"bcryptCost" yaml:"bcryptCost"`
	MinLength  int    `json:"minLength" yaml:"minLength"`
}

type RateRule struct {
	Limit  int           `json:"limit" yaml:"limit" validate:"min=0"`
	Window time.Duration `json:"window" yaml:"window"`
}

type RateLimitConfig struct {
	RedisPrefix  string    `json:"redisPrefix" yaml:"redisPrefix"`
	LoginIP      *RateRule `json:"loginIP" yaml:"loginIP"`
	LoginAccount *RateRule `json:"loginAccount" yaml:"loginAccount"`
	Register     *RateRule `json:"register" yaml:"register"`
	MFAVerify    *RateRule `json:"mfaVerify" yaml:"mfaVerify"`

	PasswordReset     *RateRule `json:"passwordReset" yaml:"passwordReset"`
	EmailVerification *RateRule `json:"emailVerification" yaml:"emailVerification"`
	TokenConfirm      *RateRule `json:"tokenConfirm" yaml:"tokenConfirm"`
}

// RiskConfig thresholds are on the 0..100 scale.
type RiskConfig struct {
	MFAThreshold   int           `json:"mfaThreshold" yaml:"mfaThreshold" validate:"min=0,max=100"`
	BlockThreshold int           `json:"blockThreshold" yaml:"blockThreshold" validate:"min=0,max=100"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	FallbackScore  int           `json:"fallbackScore" yaml:"fallbackScore" validate:"min=0,max=100"`
}

type MFAConfig struct {
	CodeDigits      int           `json:"codeDigits" yaml:"codeDigits"`
	ChallengeTTL    time.Duration `json:"challengeTTL" yaml:"challengeTTL"`
	DispatchTimeout time.Duration `json:"dispatchTimeout" yaml:"dispatchTimeout"`
	RedisPrefix     string        `json:"redisPrefix" yaml:"redisPrefix"`
	Subject         string        `json:"subject" yaml:"subject"`
}

// TokenFlowConfig tunes an emailed link flow such as password reset.
type TokenFlowConfig struct {
	TokenTTL    time.Duration `json:"tokenTTL" yaml:"tokenTTL"`
	RedisPrefix string        `json:"redisPrefix" yaml:"redisPrefix"`
	Subject     string        `json:"subject" yaml:"subject"`
}

// NotifyConfig enables MFA delivery channels. Any channel left nil is off.
type NotifyConfig struct {
	// Log writes codes to the service log, for local development only
	Log      bool            `json:"log" yaml:"log"`
	Email    *EmailConfig    `json:"email" yaml:"email"`
	SMS      *SMSConfig      `json:"sms" yaml:"sms"`
	Firebase *FirebaseConfig `json:"firebase" yaml:"firebase"`
}

type EmailConfig struct {
	Addr     string `json:"addr" yaml:"addr" validate:"required,hostname_port"`
	From     string `json:"from" yaml:"from" validate:"required,email"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type SMSConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	APIKey   string `json:"apiKey" yaml:"apiKey" validate:"required"`
	From     string `json:"from" yaml:"from"`
}

// FirebaseConfig enables push delivery through Firebase Cloud Messaging.
type FirebaseConfig struct {
	ProjectID       string `json:"projectId" yaml:"projectId"`
	CredentialsPath string `json:"credentialsPath" yaml:"credentialsPath" validate:"required"`
}

type PubSubConfig struct {
	ProjectID string `json:"projectId" yaml:"projectId" validate:"required"`
	TopicID   string `json:"topicId" yaml:"topicId" validate:"required"`
}

// LoadWithEnv loads name.yaml from the first search path that has it, then
// applies AGRIAUTH_* environment overrides.
func LoadWithEnv[T any](name string, searchPaths ...string) (*T, error) {
	if len(searchPaths) == 0 {
		searchPaths = defaultSearchPaths
	}

	configFile := os.Getenv(PathEnv)
	if configFile == "" {
		for _, path := range searchPaths {
			candidate := filepath.Join(path, name+".yaml")
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate

				break
			}
		}
	}
	if configFile == "" {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", name)
	}

	return LoadFile[T](configFile)
}

// LoadFile loads one YAML file and the environment overrides on top of it.
func LoadFile[T any](path string) (*T, error) {
	cfg := new(T)
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read config %s failed", path)
	}

	existing := k.Raw()

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return canonicalizeEnvKey(strings.TrimPrefix(key, EnvPrefix), existing), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal config %s failed", path)
	}

	return cfg, nil
}

// New loads config.yaml, fills defaults and validates the result.
func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config](defaultName)
	if err != nil {
		return nil, err
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Env.ServiceName) == "" {
		c.Env.ServiceName = "agriauth"
	}
	if strings.TrimSpace(c.HTTP.MaxRequestBodySize) == "" {
		c.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if c.HTTP.Throttle.Window <= 0 {
		c.HTTP.Throttle.Window = 15 * time.Minute
	}
	if c.HTTP.Timeouts.ShutdownTimeout <= 0 {
		c.HTTP.Timeouts.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.Store.Driver == "redis" && c.Redis == nil {
		return errors.New("invalid config: store driver redis requires a redis section")
	}
	if c.GRPC.Enabled && c.GRPC.Port == 0 {
		return errors.New("invalid config: grpc enabled without a port")
	}

	return nil
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}
