package authcore

import "errors"

var (
	// ErrInvalidCredentials is an exported constant or variable used by the session engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is an exported constant or variable used by the session engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountLocked is an exported constant or variable used by the session engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotLocked is an exported constant or variable used by the session engine.
	ErrAccountNotLocked = errors.New("account not locked")
	// ErrAccountAlreadyLocked is an exported constant or variable used by the session engine.
	ErrAccountAlreadyLocked = errors.New("account already locked")
	// ErrAccountInactive is an exported constant or variable used by the session engine.
	ErrAccountInactive = errors.New("account inactive")
	// ErrPasswordPolicy is an exported constant or variable used by the session engine.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrSessionNotFound is an exported constant or variable used by the session engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is an exported constant or variable used by the session engine.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is an exported constant or variable used by the session engine.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrRefreshInvalid is an exported constant or variable used by the session engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is an exported constant or variable used by the session engine.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrBindingRejected is an exported constant or variable used by the session engine.
	ErrBindingRejected = errors.New("session binding rejected")
	// ErrSessionCreationFailed is an exported constant or variable used by the session engine.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed is an exported constant or variable used by the session engine.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrResetInvalid is an exported constant or variable used by the session engine.
	ErrResetInvalid = errors.New("reset credential invalid")
	// ErrTokenInvalid is an exported constant or variable used by the session engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrBackendUnavailable is an exported constant or variable used by the session engine.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the session engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
