// Package web implements the thin OIDC-login web surface that issues the
// sealed session cookies Hive's own UI (out of scope here) would read.
// Grounded on the teacher's internal/controlplane/oidc provider and
// internal/controlplane/session store, but sessions are stateless: rather
// than a server-side session table keyed by a random token, the session is
// encrypted and authenticated into the cookie itself with
// golang.org/x/crypto/nacl/secretbox, keyed by the operator-supplied
// 64-byte secret (§6). This needs no session store or cleanup job and is
// the reason the core's DB schema carries no sessions table.
package web

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

// Session is the payload sealed into the session cookie.
type Session struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrSessionInvalid is returned by Sealer.Open for a cookie that fails to
// decrypt, fails authentication, or has expired.
var ErrSessionInvalid = errors.New("web: invalid or expired session")

// Sealer seals and opens Session values using a key derived from a
// 64-byte hex secret (§6's "secret-key for cookie sealing").
type Sealer struct {
	key [32]byte
}

// NewSealer derives a secretbox key from secret via SHA-256, so the
// operator-facing secret can be any length while secretbox always gets
// exactly 32 bytes.
func NewSealer(secret []byte) *Sealer {
	return &Sealer{key: sha256.Sum256(secret)}
}

// Seal encrypts and authenticates sess, returning a URL-safe cookie value.
func (s *Sealer) Seal(sess Session) (string, error) {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts and validates a cookie value produced by Seal, rejecting
// it if the box fails authentication or the session has expired.
func (s *Sealer) Open(cookieValue string) (*Session, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cookieValue)
	if err != nil || len(raw) < 24 {
		return nil, ErrSessionInvalid
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return nil, ErrSessionInvalid
	}

	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, ErrSessionInvalid
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, ErrSessionInvalid
	}
	return &sess, nil
}

type sessionCtxKey struct{}

func withSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

// FromContext returns the session stashed by RequireSession, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return sess
}
