package authcore

import (
	"context"
	"log"
	"strconv"
)

// LockAccount describes the lockaccount operation and its observable behavior.
//
// LockAccount may return an error when input validation, dependency calls, or security checks fail.
// LockAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LockAccount(ctx context.Context, targetUserID, adminID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	record, err := e.directory.FindByPublicID(ctx, targetUserID)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountLocked, false, adminID, targetUserID, tenantID, "", ErrUserNotFound, nil)
		return ErrUserNotFound
	}
	if record.TenantID != "" {
		tenantID = record.TenantID
	}
	if record.Locked {
		e.emitAudit(ctx, auditEventAccountLocked, false, adminID, targetUserID, tenantID, "", ErrAccountAlreadyLocked, nil)
		return ErrAccountAlreadyLocked
	}

	if err := e.directory.SetLocked(ctx, targetUserID, true); err != nil {
		e.emitAudit(ctx, auditEventAccountLocked, false, adminID, targetUserID, tenantID, "", ErrBackendUnavailable, nil)
		return ErrBackendUnavailable
	}

	// The lock is already in force in the directory; the cascade closes
	// the window where existing refresh tokens could still rotate.
	revoked, err := e.sessionStore.RevokeAllForUser(ctx, tenantID, targetUserID)
	if err != nil {
		log.Print("authcore: session cascade failed after account lock")
		e.emitAudit(ctx, auditEventAccountLocked, false, adminID, targetUserID, tenantID, "", ErrSessionInvalidationFailed, nil)
		return ErrSessionInvalidationFailed
	}

	e.metricInc(MetricAccountLocked)
	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventAccountLocked, true, adminID, targetUserID, tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"revoked_sessions": strconv.Itoa(revoked),
		}
	})
	return nil
}

// UnlockAccount describes the unlockaccount operation and its observable behavior.
//
// UnlockAccount may return an error when input validation, dependency calls, or security checks fail.
// UnlockAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) UnlockAccount(ctx context.Context, targetUserID, adminID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	record, err := e.directory.FindByPublicID(ctx, targetUserID)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountUnlocked, false, adminID, targetUserID, tenantID, "", ErrUserNotFound, nil)
		return ErrUserNotFound
	}
	if record.TenantID != "" {
		tenantID = record.TenantID
	}
	if !record.Locked {
		e.emitAudit(ctx, auditEventAccountUnlocked, false, adminID, targetUserID, tenantID, "", ErrAccountNotLocked, nil)
		return ErrAccountNotLocked
	}

	if err := e.directory.SetLocked(ctx, targetUserID, false); err != nil {
		e.emitAudit(ctx, auditEventAccountUnlocked, false, adminID, targetUserID, tenantID, "", ErrBackendUnavailable, nil)
		return ErrBackendUnavailable
	}

	// Sessions revoked by the lock cascade stay revoked. Unlocking
	// restores the ability to log in, never old sessions.
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlocked, true, adminID, targetUserID, tenantID, "", nil, nil)
	return nil
}
