// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/qbitmaster/qbitmaster/internal/dbinterface"
)

// ErrUpstreamNotConfigured is returned when no settings row exists for the
// requested upstream kind.
var ErrUpstreamNotConfigured = errors.New("upstream not configured")

const (
	UpstreamDaemon  = "daemon"
	UpstreamJackett = "jackett"
)

// DaemonSettings are the decrypted connection settings for the torrent daemon.
type DaemonSettings struct {
	BaseURL   string    `json:"baseUrl"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JackettSettings are the decrypted connection settings for the search
// aggregator.
type JackettSettings struct {
	BaseURL   string    `json:"baseUrl"`
	APIKey    string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsStore persists upstream connection settings with credentials
// encrypted at rest.
type SettingsStore struct {
	db            dbinterface.TxQuerier
	encryptionKey []byte
}

func NewSettingsStore(db dbinterface.TxQuerier, encryptionKey []byte) (*SettingsStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &SettingsStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// encrypt encrypts a string using AES-GCM
func (s *SettingsStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string encrypted with encrypt
func (s *SettingsStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// validateAndNormalizeBaseURL validates and normalizes an upstream base URL
func validateAndNormalizeBaseURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return "", errors.New("base URL cannot be empty")
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// GetDaemon returns the daemon settings with the password decrypted. Returns
// ErrUpstreamNotConfigured when nothing has been saved yet.
func (s *SettingsStore) GetDaemon(ctx context.Context) (*DaemonSettings, error) {
	var baseURL, username, passwordEncrypted string
	var updatedAt time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT base_url, username, password_encrypted, updated_at
		FROM upstream_settings
		WHERE kind = ?
	`, UpstreamDaemon).Scan(&baseURL, &username, &passwordEncrypted, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUpstreamNotConfigured
		}
		return nil, err
	}

	settings := &DaemonSettings{
		BaseURL:   baseURL,
		Username:  username,
		UpdatedAt: updatedAt,
	}

	if passwordEncrypted != "" {
		password, err := s.decrypt(passwordEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt daemon password: %w", err)
		}
		settings.Password = password
	}

	return settings, nil
}

// SetDaemon stores the daemon settings, encrypting the password. A blank
// password keeps the stored credential so the base URL or username can be
// changed without re-entering the secret.
func (s *SettingsStore) SetDaemon(ctx context.Context, rawBaseURL, username, password string) (*DaemonSettings, error) {
	baseURL, err := validateAndNormalizeBaseURL(rawBaseURL)
	if err != nil {
		return nil, err
	}

	if password == "" {
		existing, err := s.GetDaemon(ctx)
		if err != nil && !errors.Is(err, ErrUpstreamNotConfigured) {
			return nil, err
		}
		if existing != nil {
			password = existing.Password
		}
	}

	passwordEncrypted := ""
	if password != "" {
		passwordEncrypted, err = s.encrypt(password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt daemon password: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upstream_settings (kind, base_url, username, password_encrypted, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			base_url = excluded.base_url,
			username = excluded.username,
			password_encrypted = excluded.password_encrypted,
			updated_at = excluded.updated_at
	`, UpstreamDaemon, baseURL, username, passwordEncrypted, now)
	if err != nil {
		return nil, err
	}

	return &DaemonSettings{
		BaseURL:   baseURL,
		Username:  username,
		Password:  password,
		UpdatedAt: now,
	}, nil
}

// GetJackett returns the aggregator settings with the API key decrypted.
// Returns ErrUpstreamNotConfigured when nothing has been saved yet.
func (s *SettingsStore) GetJackett(ctx context.Context) (*JackettSettings, error) {
	var baseURL, apiKeyEncrypted string
	var updatedAt time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT base_url, api_key_encrypted, updated_at
		FROM upstream_settings
		WHERE kind = ?
	`, UpstreamJackett).Scan(&baseURL, &apiKeyEncrypted, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUpstreamNotConfigured
		}
		return nil, err
	}

	settings := &JackettSettings{
		BaseURL:   baseURL,
		UpdatedAt: updatedAt,
	}

	if apiKeyEncrypted != "" {
		apiKey, err := s.decrypt(apiKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt aggregator API key: %w", err)
		}
		settings.APIKey = apiKey
	}

	return settings, nil
}

// SetJackett stores the aggregator settings, encrypting the API key. A blank
// key keeps the stored credential, mirroring SetDaemon.
func (s *SettingsStore) SetJackett(ctx context.Context, rawBaseURL, apiKey string) (*JackettSettings, error) {
	baseURL, err := validateAndNormalizeBaseURL(rawBaseURL)
	if err != nil {
		return nil, err
	}

	if apiKey == "" {
		existing, err := s.GetJackett(ctx)
		if err != nil && !errors.Is(err, ErrUpstreamNotConfigured) {
			return nil, err
		}
		if existing != nil {
			apiKey = existing.APIKey
		}
	}

	apiKeyEncrypted := ""
	if apiKey != "" {
		apiKeyEncrypted, err = s.encrypt(apiKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt aggregator API key: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upstream_settings (kind, base_url, api_key_encrypted, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			base_url = excluded.base_url,
			api_key_encrypted = excluded.api_key_encrypted,
			updated_at = excluded.updated_at
	`, UpstreamJackett, baseURL, apiKeyEncrypted, now)
	if err != nil {
		return nil, err
	}

	return &JackettSettings{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		UpdatedAt: now,
	}, nil
}
