package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedKeyInvalid is returned when a sealed private key cannot be opened.
var ErrSealedKeyInvalid = errors.New("sealed private key invalid")

// Sealer protects private keys at rest. The user ID is bound as additional data,
// so a sealed key copied onto another user's record fails to open.
type Sealer interface {
	Seal(userID string, plain []byte) ([]byte, error)
	Open(userID string, sealed []byte) ([]byte, error)
}

// AEADSealer seals with XChaCha20-Poly1305. The master key lives in a memguard
// enclave and is only decrypted into locked memory for the duration of one call.
type AEADSealer struct {
	key *memguard.Enclave
}

// NewAEADSealer takes ownership of masterKey; the slice is wiped before return.
func NewAEADSealer(masterKey []byte) (*AEADSealer, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		memguard.WipeBytes(masterKey)
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	return &AEADSealer{key: memguard.NewEnclave(masterKey)}, nil
}

func (s *AEADSealer) Seal(userID string, plain []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, []byte(userID)), nil
}

func (s *AEADSealer) Open(userID string, sealed []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealedKeyInvalid
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(userID))
	if err != nil {
		return nil, ErrSealedKeyInvalid
	}
	return plain, nil
}
