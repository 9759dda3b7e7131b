package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"
	"strings"
)

const temporaryPasswordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// NewOTP returns a uniformly random numeric code of the given length.
func NewOTP(r io.Reader, digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}
	return randomString(r, "0123456789", digits)
}

// NewTemporaryPassword returns a random password drawn from an alphabet without
// visually ambiguous characters.
func NewTemporaryPassword(r io.Reader, length int) (string, error) {
	if length < 8 {
		return "", errors.New("temporary password too short")
	}
	return randomString(r, temporaryPasswordAlphabet, length)
}

// HashCode returns the digest under which a one-time code is stored.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func randomString(r io.Reader, alphabet string, length int) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}
