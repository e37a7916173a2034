package session

// Status is the lifecycle state of a session record. Transitions are
// monotonic: Active -> Expired and Active -> Revoked only. Terminal
// records are retained for forensics until their Redis TTL elapses.
type Status uint8

const (
	StatusActive  Status = 0
	StatusExpired Status = 1
	StatusRevoked Status = 2
)

// String implements fmt.Stringer for audit metadata.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Session defines a public type used by authcore APIs.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionID string
	UserID    string
	TenantID  string

	Role    string
	LoginIP string

	Status Status

	// PrevRefreshSet reports whether PrevRefreshHash holds a real
	// previous-generation hash. It is zero for the first generation.
	PrevRefreshSet bool

	RefreshHash     [32]byte
	PrevRefreshHash [32]byte
	UserAgentHash   [32]byte

	IdleExpiresAt     int64
	AbsoluteExpiresAt int64
	CreatedAt         int64
}

// EffectiveStatus folds clock-derived expiry into the stored status.
// A stored Active session whose idle or absolute deadline has passed
// reads as Expired even before any write flips the stored byte.
func (s *Session) EffectiveStatus(nowUnix int64) Status {
	if s.Status != StatusActive {
		return s.Status
	}
	if nowUnix >= s.AbsoluteExpiresAt || nowUnix >= s.IdleExpiresAt {
		return StatusExpired
	}
	return StatusActive
}
