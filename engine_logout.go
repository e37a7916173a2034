package authcore

import (
	"context"
	"strconv"

	"github.com/invero/authcore/internal"
)

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The token may belong to the current or the immediately superseded
// refresh generation, so a logout racing a concurrent refresh still
// revokes the session. A token matching no session at all returns
// [ErrSessionNotFound].
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", tenantID, "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return ErrRefreshInvalid
	}

	sess, revoked, err := e.sessionStore.RevokeByHash(ctx, tenantID, internal.HashRefreshSecret(providedSecret))
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", tenantID, "", ErrBackendUnavailable, nil)
		return ErrBackendUnavailable
	}

	if sess == nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", tenantID, "", ErrSessionNotFound, nil)
		return ErrSessionNotFound
	}
	if revoked {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionRevoked)
	}

	// An already-terminal session is still a successful logout from the
	// caller's point of view.
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.UserID, sess.UserID, tenantID, sess.SessionID, nil, func() map[string]string {
		return map[string]string{
			"revoked": strconv.FormatBool(revoked),
		}
	})
	return nil
}

// RevokeSession describes the revokesession operation and its observable behavior.
//
// RevokeSession may return an error when input validation, dependency calls, or security checks fail.
// RevokeSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	found, revoked, err := e.sessionStore.Revoke(ctx, tenantID, sessionID)
	if err != nil {
		e.emitAudit(ctx, auditEventSessionRevoked, false, "", "", tenantID, sessionID, ErrBackendUnavailable, nil)
		return ErrBackendUnavailable
	}
	if !found {
		e.emitAudit(ctx, auditEventSessionRevoked, false, "", "", tenantID, sessionID, ErrSessionNotFound, nil)
		return ErrSessionNotFound
	}

	if revoked {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", "", tenantID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"revoked": strconv.FormatBool(revoked),
		}
	})
	return nil
}

// RevokeAllSessions describes the revokeallsessions operation and its observable behavior.
//
// RevokeAllSessions may return an error when input validation, dependency calls, or security checks fail.
// RevokeAllSessions does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}
	tenantID := tenantIDFromContext(ctx)

	revoked, err := e.sessionStore.RevokeAllForUser(ctx, tenantID, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventRevokeAll, false, "", userID, tenantID, "", ErrBackendUnavailable, nil)
		return 0, ErrBackendUnavailable
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, "", userID, tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"revoked_sessions": strconv.Itoa(revoked),
		}
	})
	return revoked, nil
}
