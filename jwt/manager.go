package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const minHMACKeyBytes = 32

var (
	errVerifyOnly = errors.New("manager has no signing key")
	errNoSubject  = errors.New("token has no subject")
	errKeyID      = errors.New("token kid does not match")
)

// Config selects the signing key and the claims every token must carry.
// For ed25519, keys are raw or PEM encoded; a manager without PrivateKey
// only verifies.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Claims is what an AgriVision token asserts: the account in sub, its role,
// and the iat/exp window.
type Claims struct {
	AccountID string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// payload is the signed JSON body.
type payload struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. It is safe for concurrent use.
type Manager struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration
	issuer    string
	audience  string
	keyID     string
	now       func() time.Time
	parser    *jwt.Parser
}

// NewManager resolves the key material once and fixes the parser options.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token leeway must be between 0 and 2m")
	}

	m := &Manager{
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keyID:    strings.TrimSpace(cfg.KeyID),
		now:      cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("hs256 key must be at least %d bytes", minHMACKeyBytes)
		}
		m.method = jwt.SigningMethodHS256
		m.signKey, m.verifyKey = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		pub, err := edPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.verifyKey = pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			if !pub.Equal(priv.Public()) {
				return nil, errors.New("ed25519 public key does not match private key")
			}
			m.signKey = priv
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
		jwt.WithLeeway(cfg.Leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

// Issue signs a token for accountID and role valid for the configured TTL.
// The returned claims carry the second-truncated iat and exp that were
// signed.
func (m *Manager) Issue(accountID, role string) (string, Claims, error) {
	if accountID == "" {
		return "", Claims{}, errNoSubject
	}
	if m.signKey == nil {
		return "", Claims{}, errVerifyOnly
	}

	now := m.now()
	body := payload{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	if m.audience != "" {
		body.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(m.method, body)
	if m.keyID != "" {
		token.Header["kid"] = m.keyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, body.claims(), nil
}

// Parse verifies signature, algorithm, kid, expiry, issuer, and audience,
// and requires a subject.
func (m *Manager) Parse(token string) (Claims, error) {
	var body payload
	_, err := m.parser.ParseWithClaims(token, &body, func(t *jwt.Token) (any, error) {
		if m.keyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != m.keyID {
				return nil, errKeyID
			}
		}
		return m.verifyKey, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if body.Subject == "" {
		return Claims{}, errNoSubject
	}
	return body.claims(), nil
}

func (p payload) claims() Claims {
	c := Claims{AccountID: p.Subject, Role: p.Role}
	if p.IssuedAt != nil {
		c.IssuedAt = p.IssuedAt.Time
	}
	if p.ExpiresAt != nil {
		c.ExpiresAt = p.ExpiresAt.Time
	}
	return c
}

func edPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: wrong key type")
	}
	return priv, nil
}

func edPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: wrong key type")
	}
	return pub, nil
}
