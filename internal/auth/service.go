// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"github.com/qbitmaster/qbitmaster/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

type Service struct {
	users *models.UserStore
}

func NewService(users *models.UserStore) *Service {
	return &Service{users: users}
}

// Register creates a new user account. The first registered user is made an
// admin by the store.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("username cannot be empty")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	return s.users.Create(ctx, username, email, hash)
}

// Authenticate verifies the username (or email) and password and returns the
// matching user.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, login)
	if errors.Is(err, models.ErrUserNotFound) && strings.Contains(login, "@") {
		user, err = s.users.GetByEmail(ctx, login)
	}
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// Verify against a throwaway hash to keep timing uniform
			verifyPassword(password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := verifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to verify password")
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := verifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return errors.Wrap(err, "failed to verify password")
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}

	return s.users.UpdatePassword(ctx, userID, hash)
}

// HashPassword encodes a password for storage. Exposed for the CLI password
// reset, which bypasses the current-password check.
func HashPassword(password string) (string, error) {
	return hashPassword(password)
}

var dummyHash = mustHash("not-a-real-password")

func mustHash(password string) string {
	hash, err := hashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonTime,
		argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("malformed password hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, errors.Wrap(err, "malformed password hash version")
	}
	if version != argon2.Version {
		return false, errors.Errorf("unsupported argon2 version %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, errors.Wrap(err, "malformed password hash parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.Wrap(err, "malformed password hash salt")
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.Wrap(err, "malformed password hash key")
	}

	key := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
