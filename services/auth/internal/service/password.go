package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher creates argon2id hashes and still accepts the bcrypt hashes
// imported from the previous platform.
type PasswordHasher struct {
	params *argon2id.Params
	dummy  string
}

func NewPasswordHasher(params *argon2id.Params) (*PasswordHasher, error) {
	if params == nil {
		params = argon2id.DefaultParams
	}
	dummy, err := argon2id.CreateHash("timing-equalizer", params)
	if err != nil {
		return nil, fmt.Errorf("create dummy hash: %w", err)
	}
	return &PasswordHasher{params: params, dummy: dummy}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	return argon2id.CreateHash(password, h.params)
}

func (h *PasswordHasher) Compare(password, hash string) (bool, error) {
	if isBcrypt(hash) {
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	}
	return argon2id.ComparePasswordAndHash(password, hash)
}

// CompareDummy burns the same work as a real comparison so unknown accounts
// answer as slowly as known ones.
func (h *PasswordHasher) CompareDummy(password string) {
	_, _ = argon2id.ComparePasswordAndHash(password, h.dummy)
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
