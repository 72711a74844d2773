// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/require"

	"github.com/qbitmaster/qbitmaster/internal/auth"
	"github.com/qbitmaster/qbitmaster/internal/config"
	"github.com/qbitmaster/qbitmaster/internal/database"
	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
	"github.com/qbitmaster/qbitmaster/internal/qbittorrent"
	"github.com/qbitmaster/qbitmaster/internal/services/jackett"
	"github.com/qbitmaster/qbitmaster/internal/services/torrents"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	encryptionKey := []byte("0123456789abcdef0123456789abcdef")
	settingsStore, err := models.NewSettingsStore(db, encryptionKey)
	require.NoError(t, err)

	userStore := models.NewUserStore(db)
	torrentStore := models.NewTorrentStore(db)
	notificationStore := models.NewNotificationStore(db)
	quotaStore := models.NewQuotaStore(db)

	session := qbittorrent.NewSessionManager(settingsStore)
	gateway := qbittorrent.NewGateway(session, settingsStore)
	resolver := qbittorrent.NewResolver(gateway, torrentStore)
	resolver.SetSettleDelay(time.Millisecond)

	server := NewServer(&Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{BaseURL: "/"},
		},
		Version:           "test",
		DB:                db,
		AuthService:       auth.NewService(userStore),
		SessionManager:    scs.New(),
		UserStore:         userStore,
		TorrentStore:      torrentStore,
		NotificationStore: notificationStore,
		QuotaStore:        quotaStore,
		SettingsStore:     settingsStore,
		Gateway:           gateway,
		JackettClient:     jackett.NewClient(settingsStore),
		TorrentsService:   torrents.NewService(torrentStore, notificationStore, quotaStore, gateway, resolver),
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func register(t *testing.T, client *http.Client, baseURL, username, password string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodPost, baseURL+"/api/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	body := register(t, client, ts.URL, "alice", "password123")
	user := body["user"].(map[string]any)
	require.Equal(t, "alice", user["username"])
	require.Equal(t, true, user["is_admin"], "first account becomes admin")

	resp, me := doJSON(t, client, http.MethodGet, ts.URL+"/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", me["username"])

	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodGet, ts.URL+"/api/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/auth/login", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	for _, path := range []string{"/api/torrents", "/api/search?q=x", "/api/notifications"} {
		resp, _ := doJSON(t, client, http.MethodGet, ts.URL+path, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)

	admin := newClient(t)
	register(t, admin, ts.URL, "alice", "password123")

	member := newClient(t)
	register(t, member, ts.URL, "bob", "password123")

	resp, _ := doJSON(t, member, http.MethodGet, ts.URL+"/api/users", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := doJSON(t, admin, http.MethodGet, ts.URL+"/api/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["users"], 2)
}

func TestQuotaManagement(t *testing.T) {
	ts := newTestServer(t)

	admin := newClient(t)
	register(t, admin, ts.URL, "alice", "password123")

	member := newClient(t)
	body := register(t, member, ts.URL, "bob", "password123")
	bobID := body["user"].(map[string]any)["id"].(string)

	resp, _ := doJSON(t, admin, http.MethodPut, fmt.Sprintf("%s/api/users/%s/quota", ts.URL, bobID), map[string]int{
		"max_torrents": 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, users := doJSON(t, admin, http.MethodGet, ts.URL+"/api/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := false
	for _, raw := range users["users"].([]any) {
		u := raw.(map[string]any)
		if u["username"] == "bob" {
			require.Equal(t, float64(5), u["max_torrents"])
			found = true
		}
	}
	require.True(t, found)

	resp, _ = doJSON(t, admin, http.MethodDelete, fmt.Sprintf("%s/api/users/%s/quota", ts.URL, bobID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTorrentsDegradeWithoutDaemon(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)
	register(t, client, ts.URL, "alice", "password123")

	// Listing works with no daemon configured, there is just nothing to merge
	resp, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/torrents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(0), body["total"])

	// Submission needs the daemon and reports the missing configuration
	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/torrents/magnet", map[string]string{
		"magnet": "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDaemonSettingsRoundTrip(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "sid-1"})
			fmt.Fprint(w, "Ok.")
		case "/api/v2/app/webapiVersion":
			fmt.Fprint(w, "2.9.3")
		case "/api/v2/app/version":
			fmt.Fprint(w, "v4.6.0")
		default:
			http.NotFound(w, r)
		}
	}))
	defer daemon.Close()

	ts := newTestServer(t)
	client := newClient(t)
	register(t, client, ts.URL, "alice", "password123")

	resp, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/settings/daemon", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["configured"])

	resp, body = doJSON(t, client, http.MethodPut, ts.URL+"/api/settings/daemon", map[string]string{
		"base_url": daemon.URL,
		"username": "admin",
		"password": "adminadmin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["configured"])

	// Stored settings never echo the password
	settings := body["settings"].(map[string]any)
	_, leaked := settings["password"]
	require.False(t, leaked)

	resp, body = doJSON(t, client, http.MethodPost, ts.URL+"/api/settings/daemon/test", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["healthy"])
}

func TestSearchWithoutJackettIsConflict(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)
	register(t, client, ts.URL, "alice", "password123")

	resp, _ := doJSON(t, client, http.MethodGet, ts.URL+"/api/search?q=ubuntu", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNotificationsEmpty(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)
	register(t, client, ts.URL, "alice", "password123")

	resp, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(0), body["unread"])
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	client := &http.Client{}

	for _, path := range []string{"/health", "/healthz/readiness", "/healthz/liveness"} {
		resp, err := client.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestHealthReportsServiceStatus(t *testing.T) {
	ts := newTestServer(t)
	client := &http.Client{}

	// No upstreams configured: still 200, components flagged individually
	resp, err := client.Get(ts.URL + "/health")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "ok", body["database"])
	require.Equal(t, "unavailable", body["qbittorrent"])
	require.Equal(t, "not configured", body["jackett"])
}

func TestHealthReportsDaemonReachable(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "sid-1"})
			fmt.Fprint(w, "Ok.")
		case "/api/v2/app/webapiVersion":
			fmt.Fprint(w, "2.9.3")
		case "/api/v2/app/version":
			fmt.Fprint(w, "v4.6.0")
		default:
			http.NotFound(w, r)
		}
	}))
	defer daemon.Close()

	ts := newTestServer(t)

	admin := newClient(t)
	register(t, admin, ts.URL, "alice", "password123")
	resp, _ := doJSON(t, admin, http.MethodPut, ts.URL+"/api/settings/daemon", map[string]string{
		"base_url": daemon.URL,
		"username": "admin",
		"password": "adminadmin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health is public and now sees the daemon
	healthResp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(healthResp.Body).Decode(&body))
	healthResp.Body.Close()
	require.Equal(t, "ok", body["qbittorrent"])
}
