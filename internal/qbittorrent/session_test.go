// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

type staticSettings struct {
	daemon *models.DaemonSettings
	err    error
}

func (s *staticSettings) GetDaemon(ctx context.Context) (*models.DaemonSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.daemon, nil
}

func settingsFor(url string) *staticSettings {
	return &staticSettings{daemon: &models.DaemonSettings{
		BaseURL:  url,
		Username: "admin",
		Password: "adminadmin",
	}}
}

func TestSessionManagerLogin(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		setCookie  bool
		wantOK     bool
		wantCookie string
	}{
		{
			name:       "success_marker_and_cookie",
			status:     http.StatusOK,
			body:       "Ok.",
			setCookie:  true,
			wantOK:     true,
			wantCookie: "session-token",
		},
		{
			name:   "status_200_without_marker",
			status: http.StatusOK,
			body:   "Fails.",
			wantOK: false,
		},
		{
			name:   "non_200_status",
			status: http.StatusForbidden,
			body:   "Ok.",
			wantOK: false,
		},
		{
			name:      "marker_without_cookie",
			status:    http.StatusOK,
			body:      "Ok.",
			setCookie: false,
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/v2/auth/login", r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "admin", r.PostForm.Get("username"))
				assert.Equal(t, "adminadmin", r.PostForm.Get("password"))

				if tt.setCookie {
					http.SetCookie(w, &http.Cookie{Name: "SID", Value: "session-token"})
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sm := NewSessionManager(settingsFor(srv.URL))

			ok, err := sm.Login(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCookie, sm.Cookie())
		})
	}
}

func TestSessionManagerLoginNotConfigured(t *testing.T) {
	sm := NewSessionManager(&staticSettings{err: models.ErrUpstreamNotConfigured})

	ok, err := sm.Login(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestSessionManagerLoginTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	sm := NewSessionManager(settingsFor(srv.URL))

	ok, err := sm.Login(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestSessionManagerFailedLoginKeepsPriorSession(t *testing.T) {
	accept := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept {
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "first"})
			w.Write([]byte("Ok."))
			return
		}
		w.Write([]byte("Fails."))
	}))
	defer srv.Close()

	sm := NewSessionManager(settingsFor(srv.URL))

	ok, err := sm.Login(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", sm.Cookie())

	accept = false
	ok, err = sm.Login(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "first", sm.Cookie(), "failed attempt must leave the prior session untouched")
}

func TestSessionManagerRereadsSettingsEachAttempt(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = append(got, r.PostForm.Get("username"))
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "tok"})
		w.Write([]byte("Ok."))
	}))
	defer srv.Close()

	provider := settingsFor(srv.URL)
	sm := NewSessionManager(provider)

	_, err := sm.Login(context.Background())
	require.NoError(t, err)

	provider.daemon.Username = "rotated"
	_, err = sm.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"admin", "rotated"}, got)
}
