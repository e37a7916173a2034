package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetRecordVersionV1 = 1

var (
	ErrResetNotFound         = errors.New("reset event not found")
	ErrResetInactive         = errors.New("reset event inactive")
	ErrResetAlreadyUsed      = errors.New("reset event already used")
	ErrResetExpired          = errors.New("reset event expired")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// ResetMechanism distinguishes self-service signed-token resets from
// admin-initiated temporary-password resets.
type ResetMechanism uint8

const (
	ResetMechanismSelf  ResetMechanism = 1
	ResetMechanismAdmin ResetMechanism = 2
)

func (m ResetMechanism) String() string {
	switch m {
	case ResetMechanismSelf:
		return "self"
	case ResetMechanismAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ResetEvent is one credential reset attempt. Events are single-use:
// UsedAt is zero until consumption and set exactly once. Superseded
// events stay stored with Active cleared until their TTL elapses.
type ResetEvent struct {
	EventID  string
	UserID   string
	TenantID string
	AdminID  string

	Mechanism ResetMechanism
	Active    bool

	CredentialHash [32]byte

	CreatedAt int64
	ExpiresAt int64
	UsedAt    int64
}

// Fixed-offset record header, one-based on the Lua side:
//
//	[1]      version
//	[2]      mechanism
//	[3]      active flag
//	[4..11]  created at, big endian
//	[12..19] expires at, big endian
//	[20..27] used at, big endian (0 = unused)
//	[28..59] credential hash
//
// followed by uint16-length-prefixed userID, tenantID, adminID.

// createResetScript enforces the one-outstanding-event rule in one
// atomic step: while an active, unused, unexpired event exists for the
// user, a non-superseding request is suppressed entirely; a superseding
// one soft-invalidates the outstanding event before installing the new
// record. Used and expired leftovers never block either kind.
//
// KEYS[1] user pointer key
// KEYS[2] new record key
// KEYS[3] new credential hash index key
// ARGV[1] record key prefix
// ARGV[2] encoded new record
// ARGV[3] new event ID
// ARGV[4] now, unix seconds
// ARGV[5] supersede flag ("1" displaces a live event, "0" defers to it)
// ARGV[6] record TTL, milliseconds
// ARGV[7] pointer TTL, milliseconds
const createResetScript = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local now = tonumber(ARGV[4])

local old_id = redis.call("GET", KEYS[1])
if old_id then
  local old_key = ARGV[1] .. old_id
  local old = redis.call("GET", old_key)
  if old and string.byte(old, 1) == 1 then
    local active = string.byte(old, 3)
    local expires = read_be64(old, 12)
    local used = read_be64(old, 20)
    if active == 1 and used == 0 and expires and now < expires then
      if ARGV[5] ~= "1" then
        return {0, old_id}
      end
      local invalidated = string.sub(old, 1, 2) .. string.char(0) .. string.sub(old, 4)
      local pttl = redis.call("PTTL", old_key)
      if pttl > 0 then
        redis.call("SET", old_key, invalidated, "PX", pttl)
      else
        redis.call("SET", old_key, invalidated)
      end
    end
  end
end

redis.call("SET", KEYS[2], ARGV[2], "PX", tonumber(ARGV[6]))
redis.call("SET", KEYS[3], ARGV[3], "PX", tonumber(ARGV[6]))
redis.call("SET", KEYS[1], ARGV[3], "PX", tonumber(ARGV[7]))
return {1}
`

var createResetLua = redis.NewScript(createResetScript)

// consumeResetScript marks an event used exactly once. Every rejection
// leaves the record untouched; only the winning consume writes UsedAt
// and clears the user pointer.
//
// KEYS[1] record key
// KEYS[2] user pointer key
// ARGV[1] provided credential hash (32 raw bytes)
// ARGV[2] now, unix seconds
const consumeResetScript = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function write_be64(n)
  local out = {}
  for i = 8, 1, -1 do
    out[i] = n % 256
    n = math.floor(n / 256)
  end
  return string.char(out[1], out[2], out[3], out[4], out[5], out[6], out[7], out[8])
end

local data = redis.call("GET", KEYS[1])
if not data or string.byte(data, 1) ~= 1 then
  return {0}
end

if string.byte(data, 3) ~= 1 then
  return {1, data}
end

local used = read_be64(data, 20)
if not used then
  return {0}
end
if used ~= 0 then
  return {2, data}
end

local now = tonumber(ARGV[2])
local expires = read_be64(data, 12)
if not expires or now >= expires then
  return {3, data}
end

if string.sub(data, 28, 59) ~= ARGV[1] then
  return {4, data}
end

local updated = string.sub(data, 1, 19) .. write_be64(now) .. string.sub(data, 28)
local pttl = redis.call("PTTL", KEYS[1])
if pttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", pttl)
else
  redis.call("SET", KEYS[1], updated)
end
redis.call("DEL", KEYS[2])
return {5, updated}
`

var consumeResetLua = redis.NewScript(consumeResetScript)

// ResetStore persists credential reset events in Redis. One user holds
// at most one active unused unexpired event at a time; consumed and
// superseded events remain readable until retention lapses.
type ResetStore struct {
	redis     redis.UniversalClient
	retention time.Duration
}

func NewResetStore(redisClient redis.UniversalClient, retention time.Duration) *ResetStore {
	return &ResetStore{
		redis:     redisClient,
		retention: retention,
	}
}

func (s *ResetStore) key(tenantID, eventID string) string {
	return "ar:" + normalizeTenantID(tenantID) + ":" + eventID
}

func (s *ResetStore) keyPrefix(tenantID string) string {
	return "ar:" + normalizeTenantID(tenantID) + ":"
}

func (s *ResetStore) userKey(tenantID, userID string) string {
	return "aru:" + normalizeTenantID(tenantID) + ":" + userID
}

func (s *ResetStore) hashKey(tenantID string, hash [32]byte) string {
	return "arh:" + normalizeTenantID(tenantID) + ":" + hex.EncodeToString(hash[:])
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Create installs a new reset event. With supersede false it returns
// false without side effects whenever an active, unused, unexpired
// event already exists for the user; with supersede true that event is
// soft-invalidated and the new record installed regardless.
func (s *ResetStore) Create(ctx context.Context, event *ResetEvent, supersede bool, now time.Time) (bool, error) {
	encoded, err := encodeResetEvent(event)
	if err != nil {
		return false, err
	}

	eventTTL := time.Unix(event.ExpiresAt, 0).Sub(now)
	if eventTTL <= 0 {
		return false, errors.New("reset event already expired")
	}
	recordTTL := eventTTL + s.retention

	supersedeFlag := "0"
	if supersede {
		supersedeFlag = "1"
	}

	result, err := createResetLua.Run(
		ctx,
		s.redis,
		[]string{
			s.userKey(event.TenantID, event.UserID),
			s.key(event.TenantID, event.EventID),
			s.hashKey(event.TenantID, event.CredentialHash),
		},
		s.keyPrefix(event.TenantID),
		encoded,
		event.EventID,
		now.Unix(),
		supersedeFlag,
		recordTTL.Milliseconds(),
		eventTTL.Milliseconds(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return false, fmt.Errorf("%w: invalid create script response", ErrResetRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return false, fmt.Errorf("%w: invalid create script status", ErrResetRedisUnavailable)
	}

	return code == 1, nil
}

// Get fetches a reset event without mutating stored state.
func (s *ResetStore) Get(ctx context.Context, tenantID, eventID string) (*ResetEvent, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	event, err := decodeResetEvent(data)
	if err != nil {
		return nil, err
	}
	event.EventID = eventID
	return event, nil
}

// ResolveByHash maps a credential hash to its reset event.
func (s *ResetStore) ResolveByHash(ctx context.Context, tenantID string, hash [32]byte) (*ResetEvent, error) {
	eventID, err := s.redis.Get(ctx, s.hashKey(tenantID, hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return s.Get(ctx, tenantID, eventID)
}

// Consume marks an event used exactly once. Rejections return the
// matching sentinel and leave the record unchanged, so a concurrent
// loser observes ErrResetAlreadyUsed rather than a second success.
func (s *ResetStore) Consume(ctx context.Context, tenantID, userID, eventID string, providedHash [32]byte, now time.Time) (*ResetEvent, error) {
	result, err := consumeResetLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, eventID), s.userKey(tenantID, userID)},
		providedHash[:],
		now.Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid consume script response", ErrResetRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid consume script status", ErrResetRedisUnavailable)
	}

	var event *ResetEvent
	if len(parts) >= 2 {
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid consume script payload", ErrResetRedisUnavailable)
		}
		event, err = decodeResetEvent(blob)
		if err != nil {
			return nil, err
		}
		event.EventID = eventID
	}

	switch code {
	case 0:
		return nil, ErrResetNotFound
	case 1:
		return event, ErrResetInactive
	case 2:
		return event, ErrResetAlreadyUsed
	case 3:
		return event, ErrResetExpired
	case 4:
		return event, ErrResetSecretMismatch
	case 5:
		return event, nil
	default:
		return nil, fmt.Errorf("%w: unknown consume script status", ErrResetRedisUnavailable)
	}
}

func encodeResetEvent(event *ResetEvent) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	buf.WriteByte(byte(event.Mechanism))
	if event.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, event.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, event.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, event.UsedAt); err != nil {
		return nil, err
	}
	buf.Write(event.CredentialHash[:])

	for _, field := range []string{event.UserID, event.TenantID, event.AdminID} {
		if len(field) > 65535 {
			return nil, errors.New("reset event field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeResetEvent(data []byte) (*ResetEvent, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	mechanism, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	activeByte, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	event := &ResetEvent{
		Mechanism: ResetMechanism(mechanism),
		Active:    activeByte == 1,
	}

	if err := binary.Read(reader, binary.BigEndian, &event.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &event.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &event.UsedAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, event.CredentialHash[:]); err != nil {
		return nil, err
	}

	for _, target := range []*string{&event.UserID, &event.TenantID, &event.AdminID} {
		var fieldLen uint16
		if err := binary.Read(reader, binary.BigEndian, &fieldLen); err != nil {
			return nil, err
		}
		field := make([]byte, fieldLen)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*target = string(field)
	}

	return event, nil
}
