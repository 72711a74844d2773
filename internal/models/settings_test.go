// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitmaster/qbitmaster/internal/database"
)

func newTestSettingsStore(t *testing.T) *SettingsStore {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSettingsStore(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return store
}

func TestSettingsStoreRequiresFullKey(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = NewSettingsStore(db, []byte("short"))
	assert.Error(t, err)
}

func TestDaemonSettingsRoundTrip(t *testing.T) {
	store := newTestSettingsStore(t)
	ctx := context.Background()

	_, err := store.GetDaemon(ctx)
	assert.ErrorIs(t, err, ErrUpstreamNotConfigured)

	saved, err := store.SetDaemon(ctx, "http://localhost:8080/", "admin", "adminadmin")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", saved.BaseURL, "trailing slash is trimmed")

	loaded, err := store.GetDaemon(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", loaded.Username)
	assert.Equal(t, "adminadmin", loaded.Password, "password decrypts to the original")

	// Overwrite replaces the single row
	_, err = store.SetDaemon(ctx, "daemon.example.com:9090", "other", "secret123")
	require.NoError(t, err)

	loaded, err = store.GetDaemon(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://daemon.example.com:9090", loaded.BaseURL, "missing scheme defaults to http")
	assert.Equal(t, "other", loaded.Username)
}

func TestJackettSettingsRoundTrip(t *testing.T) {
	store := newTestSettingsStore(t)
	ctx := context.Background()

	_, err := store.GetJackett(ctx)
	assert.ErrorIs(t, err, ErrUpstreamNotConfigured)

	_, err = store.SetJackett(ctx, "https://jackett.local", "api-key-123")
	require.NoError(t, err)

	loaded, err := store.GetJackett(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://jackett.local", loaded.BaseURL)
	assert.Equal(t, "api-key-123", loaded.APIKey)
}

func TestSetDaemonBlankPasswordKeepsCredential(t *testing.T) {
	store := newTestSettingsStore(t)
	ctx := context.Background()

	_, err := store.SetDaemon(ctx, "http://localhost:8080", "admin", "adminadmin")
	require.NoError(t, err)

	// Changing only the base URL must not wipe the stored password
	saved, err := store.SetDaemon(ctx, "http://daemon.local:9090", "admin", "")
	require.NoError(t, err)
	assert.Equal(t, "adminadmin", saved.Password)

	loaded, err := store.GetDaemon(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://daemon.local:9090", loaded.BaseURL)
	assert.Equal(t, "adminadmin", loaded.Password)
}

func TestSetJackettBlankKeyKeepsCredential(t *testing.T) {
	store := newTestSettingsStore(t)
	ctx := context.Background()

	_, err := store.SetJackett(ctx, "https://jackett.local", "api-key-123")
	require.NoError(t, err)

	_, err = store.SetJackett(ctx, "https://jackett.example.com", "")
	require.NoError(t, err)

	loaded, err := store.GetJackett(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://jackett.example.com", loaded.BaseURL)
	assert.Equal(t, "api-key-123", loaded.APIKey)
}

func TestSetDaemonRejectsBadURL(t *testing.T) {
	store := newTestSettingsStore(t)

	_, err := store.SetDaemon(context.Background(), "ftp://daemon.local", "u", "p")
	assert.Error(t, err)

	_, err = store.SetDaemon(context.Background(), "", "u", "p")
	assert.Error(t, err)
}

func TestFirstUserBecomesAdmin(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := NewUserStore(db)
	ctx := context.Background()

	first, err := users.Create(ctx, "alice", "alice@example.com", "hash-a")
	require.NoError(t, err)
	assert.True(t, first.IsAdmin)

	second, err := users.Create(ctx, "bob", "bob@example.com", "hash-b")
	require.NoError(t, err)
	assert.False(t, second.IsAdmin)

	_, err = users.Create(ctx, "alice", "other@example.com", "hash-c")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = users.Create(ctx, "carol", "bob@example.com", "hash-d")
	assert.ErrorIs(t, err, ErrEmailTaken)
}
