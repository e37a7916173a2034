package authcore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/invero/authcore/internal"
	"github.com/invero/authcore/session"
)

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricRotateLatency, time.Since(start)) }()
	}
	tenantID := tenantIDFromContext(ctx)

	providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", tenantID, "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", tenantID, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "next_secret_generation",
			}
		})
		return nil, ErrBackendUnavailable
	}

	now := e.now()
	sess, err := e.sessionStore.Rotate(
		ctx,
		tenantID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
		internal.HashBindingValue(userAgentFromContext(ctx)),
		e.config.Security.EnableUserAgentBinding,
		e.config.Session.IdleTimeout,
		now,
	)
	if err != nil {
		return nil, e.refreshRotateFailure(ctx, tenantID, sess, err)
	}

	record, err := e.directory.FindByPublicID(ctx, sess.UserID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.UserID, sess.TenantID, sess.SessionID, ErrUserNotFound, func() map[string]string {
			return map[string]string{
				"reason": "user_not_found",
			}
		})
		return nil, ErrUserNotFound
	}
	if record.Locked || !record.Active {
		// Directory state changed underneath the session. Clean up every
		// session for the user, not just the one that refreshed.
		statusErr := ErrAccountLocked
		if !record.Locked {
			statusErr = ErrAccountInactive
		}
		if _, revokeErr := e.sessionStore.RevokeAllForUser(ctx, sess.TenantID, sess.UserID); revokeErr != nil {
			log.Print("authcore: session cascade failed after directory status check")
		}
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRevokeAll)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.UserID, sess.TenantID, sess.SessionID, statusErr, func() map[string]string {
			return map[string]string{
				"reason": "account_status",
			}
		})
		return nil, statusErr
	}

	access, err := e.accessTokens.CreateAccess(
		sess.UserID, sess.TenantID, sess.SessionID, sess.Role,
		time.Unix(sess.IdleExpiresAt, 0), time.Unix(sess.AbsoluteExpiresAt, 0), now,
	)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.UserID, sess.TenantID, sess.SessionID, ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "issue_access_failed",
			}
		})
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sess.UserID, sess.TenantID, sess.SessionID, nil, nil)

	return &LoginResult{
		AccessToken:            access,
		RefreshToken:           internal.EncodeRefreshToken(nextSecret),
		SessionID:              sess.SessionID,
		PasswordChangeRequired: record.ForcePasswordChange,
	}, nil
}

func (e *Engine) refreshRotateFailure(ctx context.Context, tenantID string, sess *session.Session, err error) error {
	userID := ""
	sessionID := ""
	if sess != nil {
		userID = sess.UserID
		sessionID = sess.SessionID
		if sess.TenantID != "" {
			tenantID = sess.TenantID
		}
	}

	switch {
	case errors.Is(err, session.ErrRotateTokenUnknown):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", tenantID, "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "token_unknown",
			}
		})
		return ErrRefreshInvalid

	case errors.Is(err, session.ErrRotateReuseDetected):
		// A previous-generation secret was replayed. The session is
		// already revoked in the store; widen the response to every
		// session the user holds.
		revoked := 0
		if sess != nil {
			var revokeErr error
			revoked, revokeErr = e.sessionStore.RevokeAllForUser(ctx, tenantID, sess.UserID)
			if revokeErr != nil {
				log.Print("authcore: session cascade failed after refresh reuse")
			}
		}
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRevokeAll)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, userID, tenantID, sessionID, ErrRefreshReuse, func() map[string]string {
			return map[string]string{
				"cascaded_sessions": strconv.Itoa(revoked),
			}
		})
		return ErrRefreshReuse

	case errors.Is(err, session.ErrRotateBindingMismatch):
		e.metricInc(MetricBindingRejected)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventBindingRejected, false, userID, userID, tenantID, sessionID, ErrBindingRejected, nil)
		return ErrBindingRejected

	case errors.Is(err, session.ErrRotateSessionExpired):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, userID, tenantID, sessionID, ErrSessionExpired, func() map[string]string {
			return map[string]string{
				"reason": "session_expired",
			}
		})
		return ErrSessionExpired

	case errors.Is(err, session.ErrRotateSessionRevoked):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, userID, tenantID, sessionID, ErrSessionRevoked, func() map[string]string {
			return map[string]string{
				"reason": "session_revoked",
			}
		})
		return ErrSessionRevoked

	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, userID, tenantID, sessionID, ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "rotate_failed",
			}
		})
		return ErrBackendUnavailable
	}
}
