package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the session engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRotateTokenUnknown is returned when the presented secret matches no
// live session generation (unknown, stale, or already superseded twice).
var ErrRotateTokenUnknown = errors.New("rotate token unknown")

// ErrRotateSessionExpired is returned when the rotation target passed its
// idle or absolute deadline.
var ErrRotateSessionExpired = errors.New("rotate session expired")

// ErrRotateReuseDetected is returned when the presented secret matches the
// previous generation of a session that has already rotated past it.
var ErrRotateReuseDetected = errors.New("rotate reuse detected")

// ErrRotateBindingMismatch is returned when the caller's user-agent hash
// does not match the hash captured at login.
var ErrRotateBindingMismatch = errors.New("rotate binding mismatch")

// ErrRotateSessionRevoked is returned when the current secret is presented
// for a session already in the revoked state.
var ErrRotateSessionRevoked = errors.New("rotate session revoked")

// ErrSessionCorrupt is returned when a stored session blob fails decoding.
var ErrSessionCorrupt = errors.New("session blob corrupt")

const (
	rotateStatusNotFound        int64 = 0
	rotateStatusExpired         int64 = 1
	rotateStatusReuse           int64 = 2
	rotateStatusRotated         int64 = 3
	rotateStatusInvalidBlob     int64 = 4
	rotateStatusBindingMismatch int64 = 5
	rotateStatusInactive        int64 = 6
)

// Shared Lua fragment: fixed-offset header accessors for the version-1
// session blob. Offsets here are 1-based; encoder.go documents the same
// layout 0-based.
const luaBlobHelpers = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function write_be64(n)
  local out = {}
  for i = 8, 1, -1 do
    out[i] = n % 256
    n = math.floor(n / 256)
  end
  return string.char(out[1], out[2], out[3], out[4], out[5], out[6], out[7], out[8])
end

local function blob_valid(data)
  if #data < 123 then
    return false
  end
  if string.byte(data, 1) ~= 1 then
    return false
  end
  return true
end

local function blob_status(data)
  return string.byte(data, 2)
end

local function with_status(data, status)
  return string.sub(data, 1, 1) .. string.char(status) .. string.sub(data, 3)
end

local function cur_hash(data)
  return string.sub(data, 4, 35)
end

local function prev_hash(data)
  if string.byte(data, 3) ~= 1 then
    return nil
  end
  return string.sub(data, 36, 67)
end

local function ua_hash(data)
  return string.sub(data, 68, 99)
end

local function set_keepttl(key, data)
  local pttl = redis.call("PTTL", key)
  if pttl > 0 then
    redis.call("SET", key, data, "PX", pttl)
  else
    redis.call("SET", key, data)
  end
end
`

// rotateScript is the heart of the rotation protocol. It resolves the
// presented secret through the hash index, validates generation, expiry
// and binding against the blob in one atomic step, then swaps the
// current hash into the previous slot and installs the next one.
//
// KEYS[1] hash index entry for the presented secret
// KEYS[2] hash index entry for the next secret
// ARGV[1] presented hash (32 raw bytes)
// ARGV[2] next hash (32 raw bytes)
// ARGV[3] now, unix seconds
// ARGV[4] session key prefix
// ARGV[5] caller user-agent hash (32 raw bytes)
// ARGV[6] binding enforcement flag ("1" or "0")
// ARGV[7] idle timeout, seconds
const rotateScript = luaBlobHelpers + `
local session_id = redis.call("GET", KEYS[1])
if not session_id then
  return {0}
end

local session_key = ARGV[4] .. session_id
local data = redis.call("GET", session_key)
if not data then
  return {0}
end
if not blob_valid(data) then
  return {4}
end

local provided = ARGV[1]
local status = blob_status(data)
local prev = prev_hash(data)

if prev and prev == provided then
  if status == 0 then
    data = with_status(data, 2)
    set_keepttl(session_key, data)
  end
  return {2, data, session_id}
end

if cur_hash(data) ~= provided then
  return {0}
end

if status ~= 0 then
  return {6, data, session_id}
end

local now = tonumber(ARGV[3])
local idle_at = read_be64(data, 100)
local abs_at = read_be64(data, 108)
if not idle_at or not abs_at then
  return {4}
end

if now >= abs_at or now >= idle_at then
  data = with_status(data, 1)
  set_keepttl(session_key, data)
  return {1, data, session_id}
end

if ARGV[6] == "1" and ua_hash(data) ~= ARGV[5] then
  data = with_status(data, 2)
  set_keepttl(session_key, data)
  return {5, data, session_id}
end

local new_idle = now + tonumber(ARGV[7])
if new_idle > abs_at then
  new_idle = abs_at
end

local updated = string.sub(data, 1, 2)
  .. string.char(1)
  .. ARGV[2]
  .. cur_hash(data)
  .. string.sub(data, 68, 99)
  .. write_be64(new_idle)
  .. string.sub(data, 108)

local pttl = redis.call("PTTL", session_key)
if pttl > 0 then
  redis.call("SET", session_key, updated, "PX", pttl)
  redis.call("SET", KEYS[2], session_id, "PX", pttl)
else
  redis.call("SET", session_key, updated)
  redis.call("SET", KEYS[2], session_id)
end

return {3, updated, session_id}
`

var rotateLua = redis.NewScript(rotateScript)

// logoutScript resolves the presented secret and revokes its session.
// The match is symmetric with rotation: current or previous generation
// both land, so a logout racing a concurrent refresh still takes the
// session down. A terminal session reports code 2 without a write.
//
// KEYS[1] hash index entry for the presented secret
// ARGV[1] presented hash (32 raw bytes)
// ARGV[2] session key prefix
const logoutScript = luaBlobHelpers + `
local session_id = redis.call("GET", KEYS[1])
if not session_id then
  return {0}
end

local session_key = ARGV[2] .. session_id
local data = redis.call("GET", session_key)
if not data or not blob_valid(data) then
  return {0}
end

local provided = ARGV[1]
local prev = prev_hash(data)
if cur_hash(data) ~= provided and (not prev or prev ~= provided) then
  return {0}
end

if blob_status(data) ~= 0 then
  return {2, data, session_id}
end

data = with_status(data, 2)
set_keepttl(session_key, data)
return {1, data, session_id}
`

var logoutLua = redis.NewScript(logoutScript)

// revokeSessionScript flips one session to revoked.
//
// KEYS[1] session key
const revokeSessionScript = luaBlobHelpers + `
local data = redis.call("GET", KEYS[1])
if not data or not blob_valid(data) then
  return {0}
end
if blob_status(data) ~= 0 then
  return {2}
end
data = with_status(data, 2)
set_keepttl(KEYS[1], data)
return {1}
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// revokeAllScript flips every live session tracked in the user index to
// revoked. Terminal and already-reaped entries are skipped; the index
// set itself is retained.
//
// KEYS[1] user index set
// ARGV[1] session key prefix
const revokeAllScript = luaBlobHelpers + `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, session_id in ipairs(ids) do
  local session_key = ARGV[1] .. session_id
  local data = redis.call("GET", session_key)
  if data and blob_valid(data) and blob_status(data) == 0 then
    set_keepttl(session_key, with_status(data, 2))
    revoked = revoked + 1
  end
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// discardScript physically removes a session and its index entries. It
// exists only for rolling back a partially created session; every other
// path retains terminal records.
//
// KEYS[1] session key
// KEYS[2] hash index entry
// KEYS[3] user index set
// ARGV[1] session ID
const discardScript = `
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], ARGV[1])
return 1
`

var discardLua = redis.NewScript(discardScript)

// Store is a Redis-backed session store that handles persistence,
// dual-deadline expiry, atomic refresh rotation with reuse detection,
// and monotonic status transitions.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace; retention controls how long
// terminal records stay readable past their absolute deadline.
func NewStore(redis redis.UniversalClient, prefix string, retention time.Duration) *Store {
	return &Store{
		redis:     redis,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *Store) keyPrefix(tenantID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":"
}

func (s *Store) hashKey(tenantID string, hash [32]byte) string {
	return "ash:" + normalizeTenantID(tenantID) + ":" + hex.EncodeToString(hash[:])
}

func (s *Store) userKey(tenantID, userID string) string {
	return "au:" + normalizeTenantID(tenantID) + ":" + userID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// HashSecret maps a raw refresh secret to its index digest.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// Save persists a new [Session] and indexes its refresh hash. The key
// TTL covers the absolute deadline plus the forensic retention window.
//
//	Performance: 3 Redis commands in one MULTI/EXEC.
func (s *Store) Save(ctx context.Context, sess *Session, now time.Time) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := time.Unix(sess.AbsoluteExpiresAt, 0).Sub(now) + s.retention
	if ttl <= 0 {
		return errors.New("session already past absolute deadline")
	}

	sessionKey := s.key(sess.TenantID, sess.SessionID)
	hashKey := s.hashKey(sess.TenantID, sess.RefreshHash)
	userKey := s.userKey(sess.TenantID, sess.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.Set(ctx, hashKey, sess.SessionID, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Discard physically removes a session and its index entries. Only the
// creation rollback path may call this; revocation flows flip status
// instead so terminal records survive for forensics.
func (s *Store) Discard(ctx context.Context, sess *Session) error {
	keys := []string{
		s.key(sess.TenantID, sess.SessionID),
		s.hashKey(sess.TenantID, sess.RefreshHash),
		s.userKey(sess.TenantID, sess.UserID),
	}
	if err := discardLua.Run(ctx, s.redis, keys, sess.SessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically advances a session one refresh generation. The
// presented hash is resolved through the hash index and must match the
// current or previous generation of the target.
//
// On success the returned session carries the post-rotation state. On
// ErrRotateSessionExpired, ErrRotateReuseDetected,
// ErrRotateBindingMismatch, and ErrRotateSessionRevoked the returned
// session is also non-nil so callers can audit and cascade; the stored
// record has already been flipped to its terminal status where the
// protocol demands it.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
func (s *Store) Rotate(
	ctx context.Context,
	tenantID string,
	providedHash, nextHash, userAgentHash [32]byte,
	enforceBinding bool,
	idleTimeout time.Duration,
	now time.Time,
) (*Session, error) {
	binding := "0"
	if enforceBinding {
		binding = "1"
	}

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.hashKey(tenantID, providedHash), s.hashKey(tenantID, nextHash)},
		providedHash[:],
		nextHash[:],
		now.Unix(),
		s.keyPrefix(tenantID),
		userAgentHash[:],
		binding,
		int64(idleTimeout/time.Second),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, sess, err := s.parseScriptReply(result)
	if err != nil {
		return nil, err
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrRotateTokenUnknown
	case rotateStatusExpired:
		return sess, ErrRotateSessionExpired
	case rotateStatusReuse:
		return sess, ErrRotateReuseDetected
	case rotateStatusRotated:
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, errors.Join(ErrRedisUnavailable, ErrSessionCorrupt)
	case rotateStatusBindingMismatch:
		return sess, ErrRotateBindingMismatch
	case rotateStatusInactive:
		if sess != nil && sess.Status == StatusExpired {
			return sess, ErrRotateSessionExpired
		}
		return sess, ErrRotateSessionRevoked
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// RevokeByHash revokes the session whose current or previous refresh
// generation matches the presented hash. Returns the affected session
// and whether a live session was flipped; a terminal session comes back
// non-nil with revoked false, an unmatched secret as (nil, false, nil).
func (s *Store) RevokeByHash(ctx context.Context, tenantID string, providedHash [32]byte) (*Session, bool, error) {
	result, err := logoutLua.Run(
		ctx,
		s.redis,
		[]string{s.hashKey(tenantID, providedHash)},
		providedHash[:],
		s.keyPrefix(tenantID),
	).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	code, sess, err := s.parseScriptReply(result)
	if err != nil {
		return nil, false, err
	}

	switch code {
	case 0:
		return nil, false, nil
	case 1:
		return sess, true, nil
	case 2:
		return sess, false, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown logout script status", ErrRedisUnavailable)
	}
}

// Revoke flips a single session to revoked by ID. The first return
// reports whether the session exists, the second whether this call
// performed the flip.
func (s *Store) Revoke(ctx context.Context, tenantID, sessionID string) (found bool, revoked bool, err error) {
	code, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(tenantID, sessionID)}).Int64()
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch code {
	case 0:
		return false, false, nil
	case 1:
		return true, true, nil
	default:
		return true, false, nil
	}
}

// RevokeAllForUser revokes every live session of a user within a tenant
// in one atomic step and returns how many were flipped.
func (s *Store) RevokeAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	count, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(tenantID, userID)},
		s.keyPrefix(tenantID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// GetReadOnly fetches a session without mutating any Redis state.
func (s *Store) GetReadOnly(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, errors.Join(ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID
	return sess, nil
}

// GetManyReadOnly fetches multiple sessions without mutating Redis state.
// Missing entries are skipped.
func (s *Store) GetManyReadOnly(ctx context.Context, tenantID string, sessionIDs []string) ([]*Session, error) {
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(tenantID, sid))
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, errors.Join(ErrSessionCorrupt, decErr)
		}
		sess.SessionID = sessionIDs[i]
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// SessionIDsForUser returns tracked session IDs for a user in a tenant,
// terminal sessions included while their records are retained.
func (s *Store) SessionIDsForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) parseScriptReply(result interface{}) (int64, *Session, error) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, nil, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: invalid script status", ErrRedisUnavailable)
	}

	if len(parts) < 3 {
		return code, nil, nil
	}

	var blob []byte
	switch v := parts[1].(type) {
	case string:
		blob = []byte(v)
	case []byte:
		blob = v
	default:
		return 0, nil, fmt.Errorf("%w: invalid session payload", ErrRedisUnavailable)
	}

	sessionID, ok := parts[2].(string)
	if !ok {
		return 0, nil, fmt.Errorf("%w: invalid session ID payload", ErrRedisUnavailable)
	}

	sess, err := Decode(blob)
	if err != nil {
		return 0, nil, errors.Join(ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID
	return code, sess, nil
}
