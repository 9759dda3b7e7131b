package keystore

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// DefaultSupersededLimit bounds the superseded refresh list when Config leaves it unset.
const DefaultSupersededLimit = 5

// Session is the key-store record of one user.
//
// The private key is held in an unexported field. It is reachable only through
// [Session.PrivateKey], so response types built from exported fields cannot leak it.
type Session struct {
	UserID             string
	PublicKey          ed25519.PublicKey
	CurrentRefreshHash string
	Superseded         []string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	privateKey ed25519.PrivateKey
}

// PrivateKey returns the signing key of the session.
func (s *Session) PrivateKey() ed25519.PrivateKey {
	if s == nil {
		return nil
	}
	return s.privateKey
}

// LogValue keeps key material out of structured logs.
func (s *Session) LogValue() slog.Value {
	if s == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("user_id", s.UserID),
		slog.Int("superseded", len(s.Superseded)),
		slog.Time("updated_at", s.UpdatedAt),
	)
}

// HashToken returns the hex SHA-256 digest under which a refresh token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
