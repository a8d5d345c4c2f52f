package store

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize = 16
	keySize  = 64
)

// pbkdf2Iterations is a variable so tests can lower the cost.
var pbkdf2Iterations = 100000

// HashPassword returns a salted PBKDF2 hash of pass encoded as "salt:hash".
func HashPassword(pass string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(pass), salt, pbkdf2Iterations, keySize, sha512.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// CheckPassword verifies pass against a value produced by HashPassword.
func CheckPassword(stored, pass string) (bool, error) {
	saltHex, keyHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false, ErrInvalidPassword
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	want, err := hex.DecodeString(keyHex)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	if len(want) != keySize {
		return false, ErrInvalidPassword
	}

	got := pbkdf2.Key([]byte(pass), salt, pbkdf2Iterations, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
