package authcore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func newAuditTestEngine(t *testing.T, sink AuditSink, enabled bool) (*Engine, *mockDirectory) {
	t.Helper()

	_, rdb := newTestRedis(t)
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	dir := seedUser(hash)

	cfg := defaultConfig()
	cfg.Audit.Enabled = enabled
	cfg.Audit.BufferSize = 16
	cfg.Audit.DropIfFull = true

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithSecrets(newTestSecrets(t)).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, dir
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	engine, _ := newAuditTestEngine(t, sink, false)

	_, _ = engine.Login(WithClientIP(context.Background(), "203.0.113.1"), "alice", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if sink.count.Load() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.count.Load())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	sink := NewChannelSink(8)
	engine, _ := newAuditTestEngine(t, sink, true)

	ctx := WithTenantID(WithClientIP(context.Background(), "198.51.100.33"), "44")
	_, _ = engine.Login(ctx, "alice", "super-secret-password")

	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventLoginFailure {
			t.Fatalf("expected login failure event, got %q", ev.EventType)
		}
		if ev.Success {
			t.Fatal("expected failure event")
		}
		if ev.IP != "198.51.100.33" {
			t.Fatalf("expected IP 198.51.100.33, got %q", ev.IP)
		}
		if ev.Error == "super-secret-password" {
			t.Fatal("sensitive password leaked in error")
		}
		for _, v := range ev.Metadata {
			if v == "super-secret-password" {
				t.Fatal("sensitive password leaked in metadata")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be received")
	}
}

func TestAuditRefreshReuseEventCarriesSession(t *testing.T) {
	sink := NewChannelSink(64)
	engine, _ := newAuditTestEngine(t, sink, true)

	ctx := WithUserAgent(WithTenantID(context.Background(), "7"), "test-agent/1.0")
	login, err := engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, login.RefreshToken); err == nil {
		t.Fatal("expected replay to fail")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != auditEventRefreshReuseDetected {
				continue
			}
			if ev.SessionID != login.SessionID {
				t.Fatalf("expected session %q on reuse event, got %q", login.SessionID, ev.SessionID)
			}
			return
		case <-deadline:
			t.Fatal("expected a reuse audit event")
		}
	}
}
