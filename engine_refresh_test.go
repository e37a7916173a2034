package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func shortSessionConfig(cfg *Config) {
	cfg.JWT.AccessTTL = 30 * time.Second
	cfg.Session.IdleTimeout = 60 * time.Second
	cfg.Session.AbsoluteLifetime = 120 * time.Second
}

func loginTestUser(t *testing.T, engine *Engine, ctx context.Context) *LoginResult {
	t.Helper()

	result, err := engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return result
}

func TestRefreshRotatesToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	first := loginTestUser(t, engine, ctx)

	clock.Advance(10 * time.Second)
	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token after rotation")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected rotation to stay on session %s, got %s", first.SessionID, second.SessionID)
	}

	// The new generation keeps working.
	clock.Advance(10 * time.Second)
	if _, err := engine.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token failed: %v", err)
	}
}

func TestRefreshReuseRevokesEverySession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	first := loginTestUser(t, engine, ctx)
	other := loginTestUser(t, engine, ctx)

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Replaying the superseded token is the hijack signal.
	if _, err := engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// Cascade: both the rotated descendant and the unrelated session die.
	if _, err := engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for descendant, got %v", err)
	}
	if _, err := engine.Refresh(ctx, other.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for sibling session, got %v", err)
	}

	sessions, err := engine.UserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("UserSessions failed: %v", err)
	}
	for _, s := range sessions {
		if s.Status != SessionRevoked {
			t.Fatalf("expected session %s revoked, got %v", s.SessionID, s.Status)
		}
	}
}

func TestRefreshIdleExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, shortSessionConfig)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	result := loginTestUser(t, engine, ctx)

	// Inside the idle window a refresh slides the deadline.
	clock.Advance(30 * time.Second)
	result, err = engine.Refresh(ctx, result.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh inside idle window failed: %v", err)
	}

	// 61 seconds of silence passes the slid idle deadline.
	clock.Advance(61 * time.Second)
	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// Expiry is terminal: the same token never recovers.
	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired on retry, got %v", err)
	}
}

func TestRefreshAbsoluteLifetimeCapsSliding(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, shortSessionConfig)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	result := loginTestUser(t, engine, ctx)

	// Keep refreshing well inside the idle window; the absolute deadline
	// at t+120 still applies.
	for i := 0; i < 2; i++ {
		clock.Advance(50 * time.Second)
		result, err = engine.Refresh(ctx, result.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh %d failed: %v", i, err)
		}
	}

	clock.Advance(50 * time.Second) // t+150, past absolute
	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired past absolute lifetime, got %v", err)
	}
}

func TestRefreshUserAgentBinding(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)

	loginCtx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	result := loginTestUser(t, engine, loginCtx)

	hijackCtx := WithUserAgent(WithTenantID(context.Background(), "7"), "other-agent/9.9")
	if _, err := engine.Refresh(hijackCtx, result.RefreshToken); !errors.Is(err, ErrBindingRejected) {
		t.Fatalf("expected ErrBindingRejected, got %v", err)
	}

	// The mismatch revoked the session; the original agent is out too.
	if _, err := engine.Refresh(loginCtx, result.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after binding rejection, got %v", err)
	}
}

func TestRefreshBindingDisabledAllowsAgentChange(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, func(cfg *Config) {
		cfg.Security.EnableUserAgentBinding = false
	})

	loginCtx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	result := loginTestUser(t, engine, loginCtx)

	otherCtx := WithUserAgent(WithTenantID(context.Background(), "7"), "other-agent/9.9")
	if _, err := engine.Refresh(otherCtx, result.RefreshToken); err != nil {
		t.Fatalf("expected refresh with different agent to pass, got %v", err)
	}
}

func TestRefreshLockedDirectoryCascades(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	dir := seedUser(hash)
	clock := newTestClock()
	engine := newTestEngine(t, rdb, dir, clock, nil)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	first := loginTestUser(t, engine, ctx)
	other := loginTestUser(t, engine, ctx)

	locked := dir.user(t, "u1")
	locked.Locked = true
	dir.users["u1"] = locked

	if _, err := engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if _, err := engine.Refresh(ctx, other.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected sibling session revoked by cascade, got %v", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	engine := newTestEngine(t, rdb, seedUser(hash), newTestClock(), nil)
	ctx := context.Background()

	if _, err := engine.Refresh(ctx, "!!not-base64!!"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid for malformed token, got %v", err)
	}
	if _, err := engine.Refresh(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid for unknown token, got %v", err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	result := loginTestUser(t, engine, ctx)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = engine.Refresh(ctx, result.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRefreshReuse), errors.Is(err, ErrSessionRevoked):
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", winners)
	}
}
