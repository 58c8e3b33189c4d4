// Package auth implements optional member PIN login. PINs are stored as
// bcrypt hashes on the trip; successful login yields a trip-scoped JWT.
// The whole feature is inert unless an auth secret is configured.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid member or PIN")
	ErrWeakPIN            = errors.New("PIN must be 4 to 8 digits")
	ErrPINForNonMember    = errors.New("PIN set for a name that is not a trip member")
)

// ValidatePIN checks the PIN format: 4 to 8 ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return ErrWeakPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrWeakPIN
		}
	}
	return nil
}

// HashPIN bcrypt-hashes a member PIN after validating its format.
func HashPIN(pin string) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash PIN: %w", err)
	}
	return string(hash), nil
}

// VerifyPIN compares a stored bcrypt hash with a candidate PIN.
func VerifyPIN(hash, pin string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashMemberPINs hashes a name-to-PIN map for storage on a trip. Every
// name must be a current trip member.
func HashMemberPINs(pins map[string]string, members []string) (map[string]string, error) {
	if len(pins) == 0 {
		return nil, nil
	}

	isMember := make(map[string]bool, len(members))
	for _, m := range members {
		isMember[m] = true
	}

	hashes := make(map[string]string, len(pins))
	for name, pin := range pins {
		if !isMember[name] {
			return nil, fmt.Errorf("%w: %q", ErrPINForNonMember, name)
		}
		hash, err := HashPIN(pin)
		if err != nil {
			return nil, fmt.Errorf("PIN for %q: %w", name, err)
		}
		hashes[name] = hash
	}
	return hashes, nil
}
