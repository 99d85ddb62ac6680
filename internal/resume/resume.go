// Package resume mints and validates resume tokens (spec.md §3): opaque
// blobs binding (session_id, client_id, issued_at) under an authenticated-
// encryption key held only by the server. No AEAD library exists anywhere
// in the example corpus, so this uses stdlib crypto/aes + cipher.NewGCM —
// see DESIGN.md for that stdlib-only justification.
package resume

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

var (
	ErrExpired     = errors.New("resume: token expired")
	ErrClockSkew   = errors.New("resume: client_time outside allowed skew")
	ErrWrongSession = errors.New("resume: token is for a different session")
	ErrMalformed   = errors.New("resume: malformed token")
)

// Claims is the decoded content of a validated resume token.
type Claims struct {
	SessionID [16]byte
	ClientID  uint64
	IssuedAt  time.Time
}

// Minter mints and validates tokens under a process-wide 32-byte key
// (spec.md §5 "Resume-token secret: process-wide, initialized on startup,
// never mutated").
type Minter struct {
	aead cipher.AEAD
	ttl  time.Duration
}

// NewMinter builds a Minter from a 32-byte AES-256 key.
func NewMinter(key [32]byte, ttl time.Duration) (*Minter, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Minter{aead: aead, ttl: ttl}, nil
}

// Mint produces an opaque authenticated-encrypted token for (sessionID,
// clientID) issued at issuedAt.
func (m *Minter) Mint(sessionID [16]byte, clientID uint64, issuedAt time.Time) ([]byte, error) {
	plaintext := make([]byte, 16+8+8)
	copy(plaintext[0:16], sessionID[:])
	binary.LittleEndian.PutUint64(plaintext[16:24], clientID)
	binary.LittleEndian.PutUint64(plaintext[24:32], uint64(issuedAt.UnixMilli()))

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := m.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Validate authenticated-decrypts token and checks it against
// expectedSessionID, maxClockSkew and the minter's TTL. Per spec.md §4.11
// step 2, any failure here should be treated by the caller as "resume
// token absent", not a fatal handshake error.
func (m *Minter) Validate(token []byte, expectedSessionID [16]byte, now time.Time, maxClockSkew time.Duration) (Claims, error) {
	nonceSize := m.aead.NonceSize()
	if len(token) < nonceSize {
		return Claims{}, ErrMalformed
	}
	nonce, sealed := token[:nonceSize], token[nonceSize:]
	plaintext, err := m.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if len(plaintext) != 32 {
		return Claims{}, ErrMalformed
	}
	var claims Claims
	copy(claims.SessionID[:], plaintext[0:16])
	claims.ClientID = binary.LittleEndian.Uint64(plaintext[16:24])
	claims.IssuedAt = time.UnixMilli(int64(binary.LittleEndian.Uint64(plaintext[24:32])))

	if claims.SessionID != expectedSessionID {
		return Claims{}, ErrWrongSession
	}
	if m.ttl > 0 && now.Sub(claims.IssuedAt) > m.ttl {
		return Claims{}, ErrExpired
	}
	if claims.IssuedAt.After(now.Add(maxClockSkew)) {
		return Claims{}, ErrClockSkew
	}
	return claims, nil
}
