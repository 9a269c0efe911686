package agriauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agrivision/agriauth/notify"
	"github.com/agrivision/agriauth/risk"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type mockAccountStore struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string

	findErr   error
	updateErr error
	updates   int

	// afterFindByEmail runs once a FindByEmail has read its record, outside
	// the lock, so a test can commit a concurrent write in that gap.
	afterFindByEmail func()
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (m *mockAccountStore) Create(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[account.Email]; ok {
		return ErrAccountExists
	}
	m.byID[account.ID] = account.Clone()
	m.byEmail[account.Email] = account.ID
	return nil
}

func (m *mockAccountStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	if m.findErr != nil {
		m.mu.Unlock()
		return nil, m.findErr
	}
	id, ok := m.byEmail[email]
	if !ok {
		m.mu.Unlock()
		return nil, ErrAccountNotFound
	}
	account := m.byID[id].Clone()
	hook := m.afterFindByEmail
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return account, nil
}

func (m *mockAccountStore) FindByExternalID(_ context.Context, provider Provider, subject string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, account := range m.byID {
		if account.ExternalIDs[string(provider)] == subject {
			return account.Clone(), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *mockAccountStore) FindByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	account, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account.Clone(), nil
}

func (m *mockAccountStore) Update(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	current, ok := m.byID[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if current.Version != account.Version {
		return ErrAccountConflict
	}
	for provider, subject := range account.ExternalIDs {
		for id, other := range m.byID {
			if id != account.ID && other.ExternalIDs[provider] == subject {
				return ErrAccountExists
			}
		}
	}
	m.updates++
	account.Version++
	m.byID[account.ID] = account.Clone()
	return nil
}

func (m *mockAccountStore) get(id string) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Clone()
}

// captureChannel records every code it is asked to deliver. With fail set it
// still records the code, then reports an error.
type captureChannel struct {
	name string
	fail bool

	mu    sync.Mutex
	codes map[string][]string
}

func newCaptureChannel(name string, fail bool) *captureChannel {
	return &captureChannel{name: name, fail: fail, codes: make(map[string][]string)}
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Send(_ context.Context, to notify.Recipient, msg notify.Message) error {
	c.mu.Lock()
	c.codes[to.AccountID] = append(c.codes[to.AccountID], msg.Code)
	c.mu.Unlock()
	if c.fail {
		return errors.New("gateway rejected message")
	}
	return nil
}

func (c *captureChannel) lastCode(accountID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	codes := c.codes[accountID]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// switchableScorer returns a score that tests can change between logins.
type switchableScorer struct {
	mu    sync.Mutex
	score int
}

func (s *switchableScorer) set(score int) {
	s.mu.Lock()
	s.score = score
	s.mu.Unlock()
}

func (s *switchableScorer) Score(context.Context, risk.Signal) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score, nil
}

type testEngine struct {
	*Engine
	store   *mockAccountStore
	redis   *miniredis.Miniredis
	clock   *fakeClock
	channel *captureChannel
	sink    *ChannelSink
}

type testOption func(*Config, *Builder)

func withRiskScorer(s risk.Scorer) testOption {
	return func(_ *Config, b *Builder) { b.WithRiskScorer(s) }
}

// withChannels replaces the default capture channel.
func withChannels(channels ...notify.Channel) testOption {
	return func(_ *Config, b *Builder) {
		b.channels = nil
		b.WithNotifyChannels(channels...)
	}
}

func withConfig(fn func(*Config)) testOption {
	return func(cfg *Config, _ *Builder) { fn(cfg) }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = append([]byte(nil), testSigningKey...)
	cfg.Password.BcryptCost = 10
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.DropIfFull = false
	return cfg
}

func newTestEngine(t *testing.T, opts ...testOption) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEngine{
		store:   newMockAccountStore(),
		redis:   mr,
		clock:   newFakeClock(),
		channel: newCaptureChannel("email", false),
		sink:    NewChannelSink(1024),
	}

	cfg := testConfig()
	b := New().
		WithRedis(rdb).
		WithAccountStore(env.store).
		WithAuditSink(env.sink).
		WithClock(env.clock.Now).
		WithNotifyChannels(env.channel)
	for _, opt := range opts {
		opt(&cfg, b)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.Engine = engine
	return env
}

func requestCtx(ip string) context.Context {
	ctx := WithClientIP(context.Background(), ip)
	return WithUserAgent(ctx, "Mozilla/5.0 (X11; Linux x86_64) AgriVisionApp/3.2")
}

// seedAccount writes an account directly into the store, bypassing
// registration rate limits and role restrictions.
func (te *testEngine) seedAccount(t *testing.T, email, pw string, role Role) *Account {
	t.Helper()

	hash, err := te.hasher.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := te.clock.Now()
	account := &Account{
		ID:           "acct-" + strings.SplitN(email, "@", 2)[0],
		Email:        email,
		Name:         strings.SplitN(email, "@", 2)[0],
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := te.store.Create(context.Background(), account); err != nil {
		t.Fatalf("seed %s: %v", email, err)
	}
	return account
}

// auditEvents closes the engine and returns every event it emitted.
func (te *testEngine) auditEvents() []AuditEvent {
	te.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-te.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func findEvent(events []AuditEvent, eventType, reason string) (AuditEvent, bool) {
	for _, ev := range events {
		if ev.EventType == eventType && ev.Reason == reason {
			return ev, true
		}
	}
	return AuditEvent{}, false
}
