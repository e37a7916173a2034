package authcore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"time"

	internalaudit "github.com/invero/authcore/internal/audit"
	"github.com/invero/authcore/session"
)

// UserDirectory is the primary interface that callers must implement to
// integrate authcore with their user database. It covers account lookup,
// password hash updates, and the lock and force-password-change flags.
//
// Implementations should return an error wrapping [ErrUserNotFound] for
// unknown identifiers; the Engine treats any lookup error as not-found
// on enumeration-sensitive paths.
type UserDirectory interface {
	FindByPublicID(ctx context.Context, userID string) (UserRecord, error)
	FindByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error
	SetLocked(ctx context.Context, userID string, locked bool) error
	SetForcePasswordChange(ctx context.Context, userID string, required bool) error
}

// UserRecord is the full account record returned by [UserDirectory].
type UserRecord struct {
	UserID       string
	Identifier   string
	Email        string
	TenantID     string
	PasswordHash string
	Role         string

	Active              bool
	Locked              bool
	ForcePasswordChange bool
}

// Mailer delivers reset notifications. Delivery failures never fail the
// operation that triggered them; they are audited and counted instead.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SecretProvider supplies the key material the Engine signs with.
// Separating secrets from [Config] keeps key handling in the caller's
// secret-management layer.
type SecretProvider interface {
	// SigningKey returns the access-token private key: the HMAC secret
	// for hs256, or the ed25519 private key (raw or PEM) for ed25519.
	SigningKey() []byte

	// VerifyKey returns the public key for ed25519 verification. It may
	// return nil for hs256 or when the private key should be used.
	VerifyKey() []byte

	// ResetSecret is the root secret reset-token keys are derived from.
	ResetSecret() []byte

	// ResetSalt is mixed into the reset-token key derivation so reset
	// tokens never verify under the access-token key.
	ResetSalt() []byte
}

// StaticSecrets is a [SecretProvider] backed by fixed byte slices.
type StaticSecrets struct {
	JWTPrivateKey  []byte
	JWTPublicKey   []byte
	ResetRootKey   []byte
	ResetKeyDomain []byte
}

func (s StaticSecrets) SigningKey() []byte { return s.JWTPrivateKey }
func (s StaticSecrets) VerifyKey() []byte  { return s.JWTPublicKey }
func (s StaticSecrets) ResetSecret() []byte {
	return s.ResetRootKey
}
func (s StaticSecrets) ResetSalt() []byte {
	return s.ResetKeyDomain
}

// deriveResetKey binds the reset signing key to both the root secret
// and the salt: HMAC-SHA256(salt, secret).
func deriveResetKey(secret, salt []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write(secret)
	return mac.Sum(nil)
}

// LoginResult is returned by [Engine.Login] and [Engine.Refresh].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string

	// PasswordChangeRequired surfaces the directory's force-change flag
	// so callers can gate the UI before honoring the session.
	PasswordChangeRequired bool
}

// ResetEventInfo is the read-only view returned by
// [Engine.VerifyResetToken].
type ResetEventInfo struct {
	EventID   string
	UserID    string
	Mechanism string
	ExpiresAt time.Time
}

// SessionStatus re-exports the session lifecycle states for callers
// inspecting [Engine.UserSessions] results.
type SessionStatus = session.Status

const (
	// SessionActive is an exported constant or variable used by the session engine.
	SessionActive = session.StatusActive
	// SessionExpired is an exported constant or variable used by the session engine.
	SessionExpired = session.StatusExpired
	// SessionRevoked is an exported constant or variable used by the session engine.
	SessionRevoked = session.StatusRevoked
)

// ResetMechanismSelf and ResetMechanismAdmin are the Mechanism values
// appearing in [ResetEventInfo].
const (
	ResetMechanismSelf  = "self"
	ResetMechanismAdmin = "admin"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
