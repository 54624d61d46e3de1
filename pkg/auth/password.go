// Package auth generates and verifies dashboard credentials.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordRequired   = errors.New("password is required")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

const (
	passwordAlphabet   = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	licenseKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	GeneratedPasswordLength = 12
	LicenseKeyLength        = 20
	MinPasswordLength       = 8
	maxPasswordLength       = 72 // bcrypt input limit
)

// Hasher hashes and checks passwords with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher. A cost outside bcrypt's range uses the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordRequired
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare returns ErrInvalidCredentials for any mismatch, including a
// malformed stored hash.
func (h *Hasher) Compare(hash, password string) error {
	if hash == "" || password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// ValidatePassword checks a user-chosen password.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return ErrPasswordRequired
	case len(password) < MinPasswordLength, len(password) > maxPasswordLength:
		return fmt.Errorf("%w: length must be between %d and %d", ErrWeakPassword, MinPasswordLength, maxPasswordLength)
	}
	return nil
}

// GeneratePassword returns a random password without look-alike characters.
func GeneratePassword() (string, error) {
	return randomString(GeneratedPasswordLength, passwordAlphabet)
}

// GenerateLicenseKey returns a random upper-case license key.
func GenerateLicenseKey() (string, error) {
	return randomString(LicenseKeyLength, licenseKeyAlphabet)
}

func randomString(n int, alphabet string) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
