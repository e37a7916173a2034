package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

// Fixed header layout, version 1. The header is fixed-width so the
// rotation Lua script can read and rewrite fields by byte offset
// without a full decode. Offsets below are zero-based; the Lua side
// uses the same layout one-based.
//
//	[0]        format version
//	[1]        status
//	[2]        prev-hash-set flag
//	[3..34]    current refresh hash
//	[35..66]   previous refresh hash
//	[67..98]   user-agent hash
//	[99..106]  idle deadline, unix seconds, big endian
//	[107..114] absolute deadline, unix seconds, big endian
//	[115..122] created at, unix seconds, big endian
//
// Variable-length fields follow as 1-byte-length-prefixed strings:
// userID, tenantID, role, login IP.
const (
	offStatus      = 1
	offPrevSet     = 2
	offRefreshHash = 3
	offPrevHash    = 35
	offUAHash      = 67
	offIdleExp     = 99
	offAbsExp      = 107
	offCreatedAt   = 115
	headerSize     = 123
)

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)
	buf.WriteByte(byte(s.Status))
	if s.PrevRefreshSet {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	buf.Write(s.RefreshHash[:])
	buf.Write(s.PrevRefreshHash[:])
	buf.Write(s.UserAgentHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.IdleExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.AbsoluteExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", s.UserID},
		{"tenantID", s.TenantID},
		{"role", s.Role},
		{"loginIP", s.LoginIP},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	if len(data) < headerSize {
		return nil, errors.New("session blob too short")
	}
	if data[0] != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	s.Status = Status(data[offStatus])
	s.PrevRefreshSet = data[offPrevSet] == 1

	copy(s.RefreshHash[:], data[offRefreshHash:offRefreshHash+32])
	copy(s.PrevRefreshHash[:], data[offPrevHash:offPrevHash+32])
	copy(s.UserAgentHash[:], data[offUAHash:offUAHash+32])

	s.IdleExpiresAt = int64(binary.BigEndian.Uint64(data[offIdleExp : offIdleExp+8]))
	s.AbsoluteExpiresAt = int64(binary.BigEndian.Uint64(data[offAbsExp : offAbsExp+8]))
	s.CreatedAt = int64(binary.BigEndian.Uint64(data[offCreatedAt : offCreatedAt+8]))

	reader := bytes.NewReader(data[headerSize:])
	for _, target := range []*string{&s.UserID, &s.TenantID, &s.Role, &s.LoginIP} {
		fieldLen, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		field := make([]byte, fieldLen)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*target = string(field)
	}

	return s, nil
}
