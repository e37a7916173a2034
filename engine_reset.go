package authcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/invero/authcore/internal"
	"github.com/invero/authcore/internal/stores"
)

const (
	resetMailSubject = "Password reset requested"
	resetMailBody    = "A password reset was requested for your account. " +
		"Use the token below to choose a new password. " +
		"If you did not request this, you can ignore this message.\n\n"

	adminResetMailSubject = "Your password was reset by an administrator"
	adminResetMailBody    = "An administrator reset your password. " +
		"Sign in with the temporary password below; you will be asked " +
		"to choose a new one.\n\n"
)

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The return value is identical for unknown, locked, and inactive
// accounts so the endpoint cannot be used to probe which identifiers
// exist. While an active, unused, unexpired event is outstanding the
// request is likewise suppressed and no new token is minted. Suppressed
// requests are still audited.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	if identifier == "" {
		e.metricInc(MetricResetSuppressed)
		e.emitAudit(ctx, auditEventResetSuppressed, false, "", "", tenantID, "", nil, func() map[string]string {
			return map[string]string{
				"reason": "empty_identifier",
			}
		})
		return "", nil
	}

	record, err := e.directory.FindByIdentifier(ctx, identifier)
	if err != nil {
		e.metricInc(MetricResetSuppressed)
		e.emitAudit(ctx, auditEventResetSuppressed, false, "", "", tenantID, "", nil, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "user_not_found",
			}
		})
		return "", nil
	}
	if record.TenantID != "" {
		tenantID = record.TenantID
	}
	if record.Locked || !record.Active {
		reason := "account_locked"
		if !record.Locked {
			reason = "account_inactive"
		}
		e.metricInc(MetricResetSuppressed)
		e.emitAudit(ctx, auditEventResetSuppressed, false, record.UserID, record.UserID, tenantID, "", nil, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return "", nil
	}

	nonce, err := internal.NewResetNonce()
	if err != nil {
		e.emitAudit(ctx, auditEventResetFailed, false, record.UserID, record.UserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "nonce_generation",
			}
		})
		return "", ErrBackendUnavailable
	}

	now := e.now()
	event := &stores.ResetEvent{
		EventID:        uuid.NewString(),
		UserID:         record.UserID,
		TenantID:       tenantID,
		Mechanism:      stores.ResetMechanismSelf,
		Active:         true,
		CredentialHash: internal.HashOpaqueToken(nonce),
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(e.config.PasswordReset.ResetTTL).Unix(),
	}

	created, err := e.resetStore.Create(ctx, event, false, now)
	if err != nil {
		e.emitAudit(ctx, auditEventResetFailed, false, record.UserID, record.UserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "event_create_failed",
			}
		})
		return "", ErrBackendUnavailable
	}
	if !created {
		e.metricInc(MetricResetSuppressed)
		e.emitAudit(ctx, auditEventResetSuppressed, false, record.UserID, record.UserID, tenantID, "", nil, func() map[string]string {
			return map[string]string{
				"reason": "event_outstanding",
			}
		})
		return "", nil
	}

	token, err := e.resetTokens.CreateReset(event.EventID, record.UserID, nonce, e.config.PasswordReset.ResetTTL, now)
	if err != nil {
		e.emitAudit(ctx, auditEventResetFailed, false, record.UserID, record.UserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"event_id": event.EventID,
				"reason":   "token_mint_failed",
			}
		})
		return "", ErrBackendUnavailable
	}

	if e.mailer != nil && record.Email != "" {
		// Delivery failure never fails the request: the caller already
		// holds the token and can deliver it another way.
		if mailErr := e.mailer.Send(ctx, record.Email, resetMailSubject, resetMailBody+token); mailErr != nil {
			e.metricInc(MetricMailError)
			e.emitAudit(ctx, auditEventMailError, false, record.UserID, record.UserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
				return map[string]string{
					"event_id": event.EventID,
				}
			})
		}
	}

	e.metricInc(MetricResetRequested)
	e.emitAudit(ctx, auditEventResetRequested, true, record.UserID, record.UserID, tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"event_id": event.EventID,
		}
	})
	return token, nil
}

// AdminInitiateReset describes the admininitiatereset operation and its observable behavior.
//
// AdminInitiateReset may return an error when input validation, dependency calls, or security checks fail.
// AdminInitiateReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AdminInitiateReset(ctx context.Context, targetUserID, adminID string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	record, err := e.directory.FindByPublicID(ctx, targetUserID)
	if err != nil {
		e.emitAudit(ctx, auditEventAdminResetIssued, false, adminID, targetUserID, tenantID, "", ErrUserNotFound, nil)
		return "", ErrUserNotFound
	}
	if record.TenantID != "" {
		tenantID = record.TenantID
	}

	tempPassword, err := internal.NewTempPassword(e.config.PasswordReset.TempPasswordLength)
	if err != nil {
		e.emitAudit(ctx, auditEventAdminResetIssued, false, adminID, targetUserID, tenantID, "", ErrBackendUnavailable, nil)
		return "", ErrBackendUnavailable
	}

	now := e.now()
	event := &stores.ResetEvent{
		EventID:        uuid.NewString(),
		UserID:         record.UserID,
		TenantID:       tenantID,
		AdminID:        adminID,
		Mechanism:      stores.ResetMechanismAdmin,
		Active:         true,
		CredentialHash: internal.HashOpaqueToken(tempPassword),
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(e.config.PasswordReset.AdminResetTTL).Unix(),
	}

	// An admin reset always supersedes whatever event is outstanding,
	// including another admin's.
	if _, err := e.resetStore.Create(ctx, event, true, now); err != nil {
		e.emitAudit(ctx, auditEventAdminResetIssued, false, adminID, targetUserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "event_create_failed",
			}
		})
		return "", ErrBackendUnavailable
	}

	if err := e.directory.SetForcePasswordChange(ctx, targetUserID, true); err != nil {
		log.Print("authcore: force password change flag update failed after admin reset")
	}

	if e.mailer != nil && record.Email != "" {
		// Out-of-band notice to the account owner. Delivery failure never
		// fails the reset; the admin still holds the temporary password.
		if mailErr := e.mailer.Send(ctx, record.Email, adminResetMailSubject, adminResetMailBody+tempPassword); mailErr != nil {
			e.metricInc(MetricMailError)
			e.emitAudit(ctx, auditEventMailError, false, adminID, targetUserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
				return map[string]string{
					"event_id": event.EventID,
				}
			})
		}
	}

	e.metricInc(MetricAdminResetIssued)
	e.emitAudit(ctx, auditEventAdminResetIssued, true, adminID, targetUserID, tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"event_id": event.EventID,
		}
	})
	return tempPassword, nil
}

// VerifyResetToken describes the verifyresettoken operation and its observable behavior.
//
// VerifyResetToken may return an error when input validation, dependency calls, or security checks fail.
// VerifyResetToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// A nil info with nil error means the token is not currently redeemable;
// the reason is deliberately not disclosed.
func (e *Engine) VerifyResetToken(ctx context.Context, tokenStr string) (*ResetEventInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	claims, err := e.resetTokens.ParseReset(tokenStr)
	if err != nil {
		return nil, nil
	}

	event, err := e.resetStore.Get(ctx, tenantID, claims.ID)
	if err != nil {
		if errors.Is(err, stores.ErrResetNotFound) {
			return nil, nil
		}
		return nil, ErrBackendUnavailable
	}

	now := e.now().Unix()
	if event.UserID != claims.Subject ||
		event.Mechanism != stores.ResetMechanismSelf ||
		!event.Active ||
		event.UsedAt != 0 ||
		event.ExpiresAt <= now ||
		internal.HashOpaqueToken(claims.Rnd) != event.CredentialHash {
		return nil, nil
	}

	return &ResetEventInfo{
		EventID:   event.EventID,
		UserID:    event.UserID,
		Mechanism: event.Mechanism.String(),
		ExpiresAt: time.Unix(event.ExpiresAt, 0),
	}, nil
}

// ConfirmPasswordReset describes the confirmpasswordreset operation and its observable behavior.
//
// ConfirmPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// ConfirmPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The credential is either a signed reset token from
// [Engine.RequestPasswordReset] or a temporary password from
// [Engine.AdminInitiateReset]; the two are distinguished by shape, not
// by a caller-supplied flag.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, credential, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	tenantID := tenantIDFromContext(ctx)

	event, providedHash, err := e.resolveResetCredential(ctx, tenantID, credential)
	if err != nil {
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, "", "", tenantID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "credential_resolution",
			}
		})
		return err
	}
	if event.TenantID != "" {
		tenantID = event.TenantID
	}

	record, err := e.directory.FindByPublicID(ctx, event.UserID)
	if err != nil {
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, event.UserID, event.UserID, tenantID, "", ErrResetInvalid, func() map[string]string {
			return map[string]string{
				"event_id": event.EventID,
				"reason":   "user_not_found",
			}
		})
		return ErrResetInvalid
	}
	if !record.Active {
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, event.UserID, event.UserID, tenantID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{
				"event_id": event.EventID,
				"reason":   "account_inactive",
			}
		})
		return ErrAccountInactive
	}

	// A locked account accepts an admin-issued temporary password as its
	// recovery path; a self-service token does not get around the lock.
	if record.Locked && event.Mechanism != stores.ResetMechanismAdmin {
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, event.UserID, event.UserID, tenantID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"event_id": event.EventID,
				"reason":   "account_locked",
			}
		})
		return ErrAccountLocked
	}

	// Hash before consuming so a policy rejection leaves the event
	// redeemable.
	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, event.UserID, event.UserID, tenantID, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"event_id": event.EventID,
				"reason":   "password_policy",
			}
		})
		return ErrPasswordPolicy
	}

	now := e.now()
	consumed, err := e.resetStore.Consume(ctx, tenantID, event.UserID, event.EventID, providedHash, now)
	if err != nil {
		mapped := ErrResetInvalid
		if errors.Is(err, stores.ErrResetRedisUnavailable) {
			mapped = ErrBackendUnavailable
		}
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, event.UserID, event.UserID, tenantID, "", mapped, func() map[string]string {
			return map[string]string{
				"event_id": event.EventID,
				"reason":   "consume_rejected",
			}
		})
		return mapped
	}

	if err := e.directory.UpdatePasswordHash(ctx, consumed.UserID, newHash); err != nil {
		// The event is already burned; surface the failure loudly so the
		// operator knows the user must restart the flow.
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, consumed.UserID, consumed.UserID, tenantID, "", ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"event_id": consumed.EventID,
				"reason":   "password_update_failed",
			}
		})
		return ErrBackendUnavailable
	}

	if consumed.Mechanism == stores.ResetMechanismAdmin && record.Locked {
		if err := e.directory.SetLocked(ctx, consumed.UserID, false); err != nil {
			log.Print("authcore: unlock failed after admin reset completion")
		}
	}
	if err := e.directory.SetForcePasswordChange(ctx, consumed.UserID, false); err != nil {
		log.Print("authcore: force password change flag clear failed after reset")
	}

	if _, err := e.sessionStore.RevokeAllForUser(ctx, tenantID, consumed.UserID); err != nil {
		log.Print("authcore: session cascade failed after password reset")
	} else {
		e.metricInc(MetricRevokeAll)
	}

	e.metricInc(MetricResetConfirmSuccess)
	e.emitAudit(ctx, auditEventResetCompleted, true, consumed.UserID, consumed.UserID, tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"event_id":  consumed.EventID,
			"mechanism": consumed.Mechanism.String(),
		}
	})
	return nil
}

// resolveResetCredential figures out which reset event a credential
// refers to. A parseable signed token selects the self-service path;
// anything else is treated as a temporary password and resolved through
// the credential hash index.
func (e *Engine) resolveResetCredential(ctx context.Context, tenantID, credential string) (*stores.ResetEvent, [32]byte, error) {
	var zero [32]byte
	if credential == "" {
		return nil, zero, ErrResetInvalid
	}

	if claims, err := e.resetTokens.ParseReset(credential); err == nil {
		event, err := e.resetStore.Get(ctx, tenantID, claims.ID)
		if err != nil {
			if errors.Is(err, stores.ErrResetNotFound) {
				return nil, zero, ErrResetInvalid
			}
			return nil, zero, ErrBackendUnavailable
		}
		if event.UserID != claims.Subject || event.Mechanism != stores.ResetMechanismSelf {
			return nil, zero, ErrResetInvalid
		}
		return event, internal.HashOpaqueToken(claims.Rnd), nil
	}

	hash := internal.HashOpaqueToken(credential)
	event, err := e.resetStore.ResolveByHash(ctx, tenantID, hash)
	if err != nil {
		if errors.Is(err, stores.ErrResetNotFound) {
			return nil, zero, ErrResetInvalid
		}
		return nil, zero, ErrBackendUnavailable
	}
	if event.Mechanism != stores.ResetMechanismAdmin {
		return nil, zero, ErrResetInvalid
	}
	return event, hash, nil
}
