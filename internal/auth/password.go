package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest admin password accepted for hashing.
const MinPasswordLength = 8

// ErrPasswordTooShort rejects passwords below MinPasswordLength.
var ErrPasswordTooShort = errors.New("password too short")

// ErrInvalidCredentials is returned for any password mismatch.
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword hashes a plaintext password. cost is clamped to the range
// bcrypt accepts.
func HashPassword(password string, cost int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hash. A mismatch and a
// malformed hash both report ErrInvalidCredentials.
func ComparePassword(hashed, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
