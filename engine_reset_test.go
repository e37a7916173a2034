package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPasswordResetTokenFlow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash old password failed: %v", err)
	}
	dir := seedUser(oldHash)
	clock := newTestClock()
	engine := newTestEngine(t, rdb, dir, clock, nil)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	session, err := engine.Login(ctx, "alice", "old-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	token, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty reset token")
	}

	info, err := engine.VerifyResetToken(ctx, token)
	if err != nil {
		t.Fatalf("VerifyResetToken failed: %v", err)
	}
	if info == nil {
		t.Fatal("expected redeemable token")
	}
	if info.UserID != "u1" || info.Mechanism != ResetMechanismSelf {
		t.Fatalf("unexpected reset info: %+v", info)
	}

	if err := engine.ConfirmPasswordReset(ctx, token, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	updated := dir.user(t, "u1")
	if ok, err := hasher.Verify("new-password-456", updated.PasswordHash); err != nil || !ok {
		t.Fatalf("expected new password to verify, ok=%v err=%v", ok, err)
	}

	// The reset killed every live session.
	if _, err := engine.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reset, got %v", err)
	}

	// Single use: the same token never works twice.
	if err := engine.ConfirmPasswordReset(ctx, token, "newer-password-789"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected ErrResetInvalid on replay, got %v", err)
	}
	if info, err := engine.VerifyResetToken(ctx, token); err != nil || info != nil {
		t.Fatalf("expected consumed token to stop verifying, info=%+v err=%v", info, err)
	}

	if _, err := engine.Login(ctx, "alice", "new-password-456"); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}
}

func TestPasswordResetEnumerationSafe(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	dir := seedUser(hash)
	engine := newTestEngine(t, rdb, dir, newTestClock(), nil)
	ctx := context.Background()

	if token, err := engine.RequestPasswordReset(ctx, "nobody"); err != nil || token != "" {
		t.Fatalf("expected suppressed response for unknown identifier, token=%q err=%v", token, err)
	}

	locked := dir.user(t, "u1")
	locked.Locked = true
	dir.users["u1"] = locked
	if token, err := engine.RequestPasswordReset(ctx, "alice"); err != nil || token != "" {
		t.Fatalf("expected suppressed response for locked account, token=%q err=%v", token, err)
	}

	inactive := dir.user(t, "u1")
	inactive.Locked = false
	inactive.Active = false
	dir.users["u1"] = inactive
	if token, err := engine.RequestPasswordReset(ctx, "alice"); err != nil || token != "" {
		t.Fatalf("expected suppressed response for inactive account, token=%q err=%v", token, err)
	}
}

func TestPasswordResetSuppressedWhileOutstanding(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	first, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || first == "" {
		t.Fatalf("first request failed: token=%q err=%v", first, err)
	}

	// The outstanding event wins for its whole validity window, not
	// just the first minutes of it.
	for _, advance := range []time.Duration{0, 2 * time.Minute, 7 * time.Minute} {
		clock.Advance(advance)
		if token, err := engine.RequestPasswordReset(ctx, "alice"); err != nil || token != "" {
			t.Fatalf("expected suppression %v in, token=%q err=%v", advance, token, err)
		}
	}
	if info, err := engine.VerifyResetToken(ctx, first); err != nil || info == nil {
		t.Fatalf("expected first token to stay redeemable, info=%+v err=%v", info, err)
	}

	// Once the event expires a fresh request mints again.
	clock.Advance(2 * time.Minute)
	second, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || second == "" {
		t.Fatalf("post-expiry request failed: token=%q err=%v", second, err)
	}

	if info, err := engine.VerifyResetToken(ctx, first); err != nil || info != nil {
		t.Fatalf("expected expired token to stop verifying, info=%+v err=%v", info, err)
	}
	if info, err := engine.VerifyResetToken(ctx, second); err != nil || info == nil {
		t.Fatalf("expected replacement token to verify, info=%+v err=%v", info, err)
	}
	if err := engine.ConfirmPasswordReset(ctx, first, "new-password-456"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected expired token to fail confirmation, got %v", err)
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	token, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || token == "" {
		t.Fatalf("request failed: token=%q err=%v", token, err)
	}

	clock.Advance(16 * time.Minute)
	if info, err := engine.VerifyResetToken(ctx, token); err != nil || info != nil {
		t.Fatalf("expected expired token to stop verifying, info=%+v err=%v", info, err)
	}
	if err := engine.ConfirmPasswordReset(ctx, token, "new-password-456"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected ErrResetInvalid for expired event, got %v", err)
	}
}

func TestAdminResetFlow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	dir := seedUser(hash)
	clock := newTestClock()
	engine := newTestEngine(t, rdb, dir, clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	temp, err := engine.AdminInitiateReset(ctx, "u1", "admin-1")
	if err != nil {
		t.Fatalf("AdminInitiateReset failed: %v", err)
	}
	if len(temp) != 12 {
		t.Fatalf("expected temp password of configured length, got %q", temp)
	}
	if !dir.user(t, "u1").ForcePasswordChange {
		t.Fatal("expected force password change flag set")
	}

	if _, err := engine.AdminInitiateReset(ctx, "ghost", "admin-1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := engine.ConfirmPasswordReset(ctx, temp, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset with temp password failed: %v", err)
	}

	updated := dir.user(t, "u1")
	if updated.ForcePasswordChange {
		t.Fatal("expected force password change flag cleared")
	}
	if ok, err := hasher.Verify("new-password-456", updated.PasswordHash); err != nil || !ok {
		t.Fatalf("expected new password to verify, ok=%v err=%v", ok, err)
	}

	if err := engine.ConfirmPasswordReset(ctx, temp, "newer-password-789"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected consumed temp password to fail, got %v", err)
	}
}

func TestAdminResetSupersedesSelfService(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	selfToken, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || selfToken == "" {
		t.Fatalf("request failed: token=%q err=%v", selfToken, err)
	}

	// Admins are exempt from suppression: the self-service event dies
	// immediately.
	if _, err := engine.AdminInitiateReset(ctx, "u1", "admin-1"); err != nil {
		t.Fatalf("AdminInitiateReset failed: %v", err)
	}
	if info, err := engine.VerifyResetToken(ctx, selfToken); err != nil || info != nil {
		t.Fatalf("expected superseded self token to stop verifying, info=%+v err=%v", info, err)
	}
}

func TestResetLockedAccountPolicy(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	dir := seedUser(hash)
	clock := newTestClock()
	engine := newTestEngine(t, rdb, dir, clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	selfToken, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || selfToken == "" {
		t.Fatalf("request failed: token=%q err=%v", selfToken, err)
	}

	locked := dir.user(t, "u1")
	locked.Locked = true
	dir.users["u1"] = locked

	// Self-service does not get around a lock.
	if err := engine.ConfirmPasswordReset(ctx, selfToken, "new-password-456"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked for self token, got %v", err)
	}

	// The admin temporary password is the recovery path and unlocks.
	temp, err := engine.AdminInitiateReset(ctx, "u1", "admin-1")
	if err != nil {
		t.Fatalf("AdminInitiateReset failed: %v", err)
	}
	if err := engine.ConfirmPasswordReset(ctx, temp, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset with temp password failed: %v", err)
	}
	if dir.user(t, "u1").Locked {
		t.Fatal("expected account unlocked by admin recovery")
	}
}

func TestResetPasswordPolicyLeavesEventRedeemable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	token, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || token == "" {
		t.Fatalf("request failed: token=%q err=%v", token, err)
	}

	if err := engine.ConfirmPasswordReset(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := engine.ConfirmPasswordReset(ctx, token, "long-enough-password"); err != nil {
		t.Fatalf("expected event to survive policy rejection, got %v", err)
	}
}

func TestResetMailDelivery(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	mailer := &mockMailer{}
	clock := newTestClock()

	engine, err := New().
		WithConfig(defaultConfig()).
		WithRedis(rdb).
		WithDirectory(seedUser(hash)).
		WithMailer(mailer).
		WithSecrets(newTestSecrets(t)).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	ctx := WithTenantID(context.Background(), "7")

	token, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || token == "" {
		t.Fatalf("request failed: token=%q err=%v", token, err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mailer.sent))
	}
	if mailer.sent[0].Recipient != "alice@example.com" || !strings.Contains(mailer.sent[0].Body, token) {
		t.Fatalf("unexpected mail: %+v", mailer.sent[0])
	}

	// A broken mailer never fails the request; the token still returns.
	mailer.sendErr = errors.New("smtp down")
	clock.Advance(11 * time.Minute)
	if token, err := engine.RequestPasswordReset(ctx, "alice"); err != nil || token == "" {
		t.Fatalf("expected request to survive mail failure, token=%q err=%v", token, err)
	}
}

func TestAdminResetMailDelivery(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	mailer := &mockMailer{}
	clock := newTestClock()

	engine, err := New().
		WithConfig(defaultConfig()).
		WithRedis(rdb).
		WithDirectory(seedUser(hash)).
		WithMailer(mailer).
		WithSecrets(newTestSecrets(t)).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	ctx := WithTenantID(context.Background(), "7")

	// The account owner hears about the reset out of band.
	temp, err := engine.AdminInitiateReset(ctx, "u1", "admin-1")
	if err != nil {
		t.Fatalf("AdminInitiateReset failed: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mailer.sent))
	}
	if mailer.sent[0].Recipient != "alice@example.com" || !strings.Contains(mailer.sent[0].Body, temp) {
		t.Fatalf("unexpected mail: %+v", mailer.sent[0])
	}

	// A broken mailer never fails the reset; the admin holds the
	// temporary password either way.
	mailer.sendErr = errors.New("smtp down")
	if temp, err := engine.AdminInitiateReset(ctx, "u1", "admin-1"); err != nil || temp == "" {
		t.Fatalf("expected reset to survive mail failure, temp=%q err=%v", temp, err)
	}
}

func TestResetTokenTamperRejected(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	clock := newTestClock()
	engine := newTestEngine(t, rdb, seedUser(hash), clock, nil)
	ctx := WithTenantID(context.Background(), "7")

	token, err := engine.RequestPasswordReset(ctx, "alice")
	if err != nil || token == "" {
		t.Fatalf("request failed: token=%q err=%v", token, err)
	}

	// Flip one character of the signature segment.
	mutated := []byte(token)
	pos := len(mutated) - 2
	if mutated[pos] == 'A' {
		mutated[pos] = 'B'
	} else {
		mutated[pos] = 'A'
	}
	tampered := string(mutated)

	if info, err := engine.VerifyResetToken(ctx, tampered); err != nil || info != nil {
		t.Fatalf("expected tampered token to verify to nothing, info=%+v err=%v", info, err)
	}
	if err := engine.ConfirmPasswordReset(ctx, tampered, "new-password-456"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected ErrResetInvalid for tampered token, got %v", err)
	}

	// The genuine token is untouched by the failed attempts.
	if err := engine.ConfirmPasswordReset(ctx, token, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset with genuine token failed: %v", err)
	}
}
