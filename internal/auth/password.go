/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPassword is returned for a wrong login password.
var ErrInvalidPassword = errors.New("invalid password")

// PasswordVerifier checks login attempts against the configured password.
type PasswordVerifier struct {
	hash []byte
}

// NewPasswordVerifier accepts either a bcrypt hash or a plain password,
// which is hashed once at startup.
func NewPasswordVerifier(password string) (*PasswordVerifier, error) {
	if password == "" {
		return nil, fmt.Errorf("password must not be empty")
	}
	if isBcryptHash(password) {
		if _, err := bcrypt.Cost([]byte(password)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		return &PasswordVerifier{hash: []byte(password)}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &PasswordVerifier{hash: hash}, nil
}

// Verify returns ErrInvalidPassword when candidate does not match.
func (v *PasswordVerifier) Verify(candidate string) error {
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(candidate)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
