package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/invero/authcore/password"
	"github.com/redis/go-redis/v9"
)

type mockDirectory struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string

	findErr   error
	updateErr error
	lockErr   error
	flagErr   error

	findByIdentifierCalls int
	findByPublicIDCalls   int
	updatePasswordCalls   int
	setLockedCalls        int
	setForceChangeCalls   int
}

func (m *mockDirectory) FindByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findByIdentifierCalls++

	if m.findErr != nil {
		return UserRecord{}, m.findErr
	}
	userID, ok := m.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (m *mockDirectory) FindByPublicID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findByPublicIDCalls++

	if m.findErr != nil {
		return UserRecord{}, m.findErr
	}
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (m *mockDirectory) UpdatePasswordHash(_ context.Context, userID string, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++

	if m.updateErr != nil {
		return m.updateErr
	}
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	return nil
}

func (m *mockDirectory) SetLocked(_ context.Context, userID string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLockedCalls++

	if m.lockErr != nil {
		return m.lockErr
	}
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.Locked = locked
	m.users[userID] = user
	return nil
}

func (m *mockDirectory) SetForcePasswordChange(_ context.Context, userID string, required bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setForceChangeCalls++

	if m.flagErr != nil {
		return m.flagErr
	}
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.ForcePasswordChange = required
	m.users[userID] = user
	return nil
}

func (m *mockDirectory) user(t *testing.T, userID string) UserRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		t.Fatalf("user %s not in mock directory", userID)
	}
	return user
}

type sentMail struct {
	Recipient string
	Subject   string
	Body      string
}

type mockMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	sendErr error
}

func (m *mockMailer) Send(_ context.Context, recipient, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMail{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// The clock starts at wall time so minted JWTs validate against the
// real-time checks inside the jwt library.
func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func newTestSecrets(t *testing.T) StaticSecrets {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	return StaticSecrets{
		JWTPrivateKey:  priv,
		ResetRootKey:   []byte("test-reset-root-key-0123456789ab"),
		ResetKeyDomain: []byte("test-reset-domain"),
	}
}

func newTestEngine(
	t *testing.T,
	rdb *redis.Client,
	dir UserDirectory,
	clock *testClock,
	mutate func(cfg *Config),
) *Engine {
	t.Helper()

	cfg := defaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithSecrets(newTestSecrets(t))
	if clock != nil {
		b.WithClock(clock.Now)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func seedUser(hash string) *mockDirectory {
	return &mockDirectory{
		users: map[string]UserRecord{
			"u1": {
				UserID:       "u1",
				Identifier:   "alice",
				Email:        "alice@example.com",
				TenantID:     "7",
				PasswordHash: hash,
				Role:         "clerk",
				Active:       true,
			},
		},
		byIdentifier: map[string]string{"alice": "u1"},
	}
}
