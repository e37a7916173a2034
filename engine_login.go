package authcore

import (
	"context"
	"log"

	"github.com/invero/authcore/internal"
	"github.com/invero/authcore/session"
)

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, identifier, pass string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	if identifier == "" || pass == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", tenantID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "empty_input",
			}
		})
		return nil, ErrInvalidCredentials
	}

	record, err := e.directory.FindByIdentifier(ctx, identifier)
	if err != nil {
		// Burn a verification against the decoy hash so an unknown
		// identifier costs the same as a wrong password.
		_, _ = e.passwordHash.Verify(pass, e.dummyHash)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", tenantID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "user_not_found",
			}
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(pass, record.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "password_mismatch",
			}
		})
		return nil, ErrInvalidCredentials
	}

	// Account state is only disclosed after the credential check so a
	// lockout probe still requires the correct password.
	if record.Locked {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "account_locked",
			}
		})
		return nil, ErrAccountLocked
	}
	if !record.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "account_inactive",
			}
		})
		return nil, ErrAccountInactive
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.passwordHash.NeedsUpgrade(record.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := e.passwordHash.Hash(pass); err == nil {
				// Rehash update is best-effort and must not block login.
				if err := e.directory.UpdatePasswordHash(ctx, record.UserID, upgradedHash); err != nil {
					log.Print("authcore: password hash upgrade update failed")
				}
			} else {
				log.Print("authcore: password hash upgrade generation failed")
			}
		}
	}
	pass = ""

	if record.TenantID != "" {
		tenantID = record.TenantID
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, "", ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "session_id_generation",
			}
		})
		return nil, ErrSessionCreationFailed
	}
	sessionID := sid.String()

	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "refresh_secret_generation",
			}
		})
		return nil, ErrSessionCreationFailed
	}

	now := e.now()
	idleDeadline := now.Add(e.config.Session.IdleTimeout)
	absoluteDeadline := now.Add(e.config.Session.AbsoluteLifetime)
	if idleDeadline.After(absoluteDeadline) {
		idleDeadline = absoluteDeadline
	}

	sess := &session.Session{
		SessionID:         sessionID,
		UserID:            record.UserID,
		TenantID:          tenantID,
		Role:              record.Role,
		LoginIP:           clientIPFromContext(ctx),
		Status:            session.StatusActive,
		RefreshHash:       internal.HashRefreshSecret(refreshSecret),
		UserAgentHash:     internal.HashBindingValue(userAgentFromContext(ctx)),
		IdleExpiresAt:     idleDeadline.Unix(),
		AbsoluteExpiresAt: absoluteDeadline.Unix(),
		CreatedAt:         now.Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, now); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "session_save_failed",
			}
		})
		return nil, ErrSessionCreationFailed
	}

	access, err := e.accessTokens.CreateAccess(
		record.UserID, tenantID, sessionID, record.Role,
		idleDeadline, absoluteDeadline, now,
	)
	if err != nil {
		// Roll back the half-created session rather than leaving a
		// record the caller never received a token for.
		if discardErr := e.sessionStore.Discard(ctx, sess); discardErr != nil {
			log.Print("authcore: session rollback failed after token mint failure")
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, record.UserID, record.UserID, tenantID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "issue_access_failed",
			}
		})
		return nil, ErrSessionCreationFailed
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, record.UserID, record.UserID, tenantID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
		}
	})

	return &LoginResult{
		AccessToken:            access,
		RefreshToken:           internal.EncodeRefreshToken(refreshSecret),
		SessionID:              sessionID,
		PasswordChangeRequired: record.ForcePasswordChange,
	}, nil
}
