package authcore

import (
	"context"
	"time"

	internalaudit "github.com/invero/authcore/internal/audit"
	"github.com/invero/authcore/internal/stores"
	"github.com/invero/authcore/jwt"
	"github.com/invero/authcore/password"
	"github.com/invero/authcore/session"
)

// Engine defines a public type used by authcore APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	sessionStore *session.Store
	resetStore   *stores.ResetStore
	directory    UserDirectory
	mailer       Mailer
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	accessTokens *jwt.Manager
	resetTokens  *jwt.Manager

	// dummyHash is a real argon2id hash of a random password, verified
	// against on unknown-identifier logins so lookup misses cost the
	// same as password mismatches.
	dummyHash string

	now func() time.Time
}

func (e *Engine) ready() bool {
	return e != nil &&
		e.sessionStore != nil &&
		e.resetStore != nil &&
		e.directory != nil &&
		e.passwordHash != nil &&
		e.accessTokens != nil &&
		e.resetTokens != nil
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Ping describes the ping operation and its observable behavior.
//
// Ping may return an error when input validation, dependency calls, or security checks fail.
// Ping does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.sessionStore.Ping(ctx)
	return err
}

// AccessIdentity defines a public type used by authcore APIs.
//
// AccessIdentity instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccessIdentity struct {
	UserID    string
	TenantID  string
	SessionID string
	Role      string
}

// ValidateAccess describes the validateaccess operation and its observable behavior.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccess(_ context.Context, tokenStr string) (*AccessIdentity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.accessTokens.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &AccessIdentity{
		UserID:    claims.UID,
		TenantID:  claims.TID,
		SessionID: claims.SID,
		Role:      claims.Role,
	}, nil
}

// SessionInfo defines a public type used by authcore APIs.
//
// SessionInfo instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionInfo struct {
	SessionID         string
	UserID            string
	TenantID          string
	Role              string
	LoginIP           string
	Status            SessionStatus
	CreatedAt         time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
}

// UserSessions describes the usersessions operation and its observable behavior.
//
// UserSessions may return an error when input validation, dependency calls, or security checks fail.
// UserSessions does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) UserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	ids, err := e.sessionStore.SessionIDsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sessions, err := e.sessionStore.GetManyReadOnly(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	now := e.now().Unix()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			SessionID:         s.SessionID,
			UserID:            s.UserID,
			TenantID:          s.TenantID,
			Role:              s.Role,
			LoginIP:           s.LoginIP,
			Status:            s.EffectiveStatus(now),
			CreatedAt:         time.Unix(s.CreatedAt, 0),
			IdleExpiresAt:     time.Unix(s.IdleExpiresAt, 0),
			AbsoluteExpiresAt: time.Unix(s.AbsoluteExpiresAt, 0),
		})
	}
	return infos, nil
}
