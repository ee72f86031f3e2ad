package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadSecret = errors.New("join secret rejected")

// Secret is a bcrypt hash of the fabric join secret. The plaintext is
// discarded once hashed.
type Secret struct {
	hash []byte
}

// HashSecret hashes plain. An empty plain yields a nil Secret, meaning
// joins are not authenticated.
func HashSecret(plain string) (*Secret, error) {
	if plain == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Secret{hash: hash}, nil
}

// Check compares a presented secret against the hash.
func (s *Secret) Check(presented string) error {
	if s == nil {
		return nil
	}
	if bcrypt.CompareHashAndPassword(s.hash, []byte(presented)) != nil {
		return ErrBadSecret
	}
	return nil
}
