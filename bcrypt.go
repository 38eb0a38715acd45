package registrar

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a credential hash
func HashPassword(password string) (string, error) {
	return BcryptHasher{}.HashPassword(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return BcryptHasher{}.ComparePasswordAndHash(password, hash)
}

// DefaultCredentialCost is the bcrypt cost used when BcryptHasher.Cost is zero.
const DefaultCredentialCost = 12

// BcryptHasher implements PasswordAuthenticator. A zero Cost uses
// DefaultCredentialCost.
type BcryptHasher struct {
	Cost int
}

func (b BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString.Clone()
	}

	cost := b.Cost
	if cost == 0 {
		cost = DefaultCredentialCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

func (b BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword.Clone()
		}
		return err
	}
	return nil
}
