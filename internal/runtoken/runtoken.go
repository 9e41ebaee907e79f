// Package runtoken issues and verifies run start tokens.
//
// A token binds (event, address, seed, start time) under a server key. It
// carries no expiry; age limits are enforced by the caller.
package runtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// MinKeyLength is the minimum HMAC key size in bytes.
const MinKeyLength = 32

// ErrShortKey is returned when the key is shorter than MinKeyLength.
var ErrShortKey = errors.New("run token key must be at least 32 bytes")

// Authority signs run tokens. It is safe for concurrent use.
type Authority struct {
	key []byte
}

// NewAuthority creates an Authority over a copy of key.
func NewAuthority(key []byte) (*Authority, error) {
	if len(key) < MinKeyLength {
		return nil, ErrShortKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Authority{key: k}, nil
}

// Issue returns the hex token for the given run.
func (a *Authority) Issue(eventID, address, seed string, startedAt time.Time) string {
	return hex.EncodeToString(a.mac(eventID, address, seed, startedAt))
}

// Verify reports whether token was issued for exactly these fields.
func (a *Authority) Verify(eventID, address, seed string, startedAt time.Time, token string) bool {
	got, err := hex.DecodeString(token)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, a.mac(eventID, address, seed, startedAt))
}

func (a *Authority) mac(eventID, address, seed string, startedAt time.Time) []byte {
	h := hmac.New(sha256.New, a.key)
	h.Write(encode(eventID, strings.ToLower(address), seed, startedAt.UnixMilli()))
	return h.Sum(nil)
}

// encode length-prefixes every field so boundaries cannot be shifted
// between adjacent values.
func encode(eventID, address, seed string, startedMs int64) []byte {
	buf := make([]byte, 0, 4*3+len(eventID)+len(address)+len(seed)+8)
	for _, f := range []string{eventID, address, seed} {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return binary.BigEndian.AppendUint64(buf, uint64(startedMs))
}
