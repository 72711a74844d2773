// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent talks to the shared download daemon: one process-wide
// session, a gateway that transparently re-authenticates once on a forbidden
// response, and the identity resolver that reconciles persisted records with
// the daemon's live view.
package qbittorrent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

// loginSuccessMarker is the literal body the daemon returns on a successful
// login. A 200 response without it means the credentials were rejected.
const loginSuccessMarker = "Ok."

const sessionCookieName = "SID"

const defaultCallTimeout = 30 * time.Second

// SettingsProvider exposes the admin-managed daemon connection settings.
// Implemented by models.SettingsStore. It is re-read on every login attempt
// so settings changes take effect without a restart.
type SettingsProvider interface {
	GetDaemon(ctx context.Context) (*models.DaemonSettings, error)
}

// SessionManager owns the single shared daemon session. The cookie is
// published atomically; concurrent logins are collapsed through singleflight,
// though correctness does not depend on that (login is idempotent and the
// last successful login wins).
type SessionManager struct {
	settings SettingsProvider
	client   *http.Client

	cookie        atomic.Value // string
	webAPIVersion atomic.Value // string

	loginGroup singleflight.Group
}

func NewSessionManager(settings SettingsProvider) *SessionManager {
	sm := &SessionManager{
		settings: settings,
		client:   &http.Client{Timeout: defaultCallTimeout},
	}
	sm.cookie.Store("")
	sm.webAPIVersion.Store("")
	return sm
}

// Cookie returns the current session cookie, or "" when no session is live.
func (sm *SessionManager) Cookie() string {
	return sm.cookie.Load().(string)
}

// Clear drops the current session. Called by the gateway when the daemon
// answers forbidden.
func (sm *SessionManager) Clear() {
	sm.cookie.Store("")
}

// WebAPIVersion returns the daemon's reported WebAPI version, cached from the
// last successful login. Empty if never fetched.
func (sm *SessionManager) WebAPIVersion() string {
	return sm.webAPIVersion.Load().(string)
}

// Login authenticates against the daemon. The returned bool is the credential
// verdict: true means a session is now live. A non-nil error means the
// attempt could not be carried out (no settings, daemon unreachable) and the
// bool is false.
func (sm *SessionManager) Login(ctx context.Context) (bool, error) {
	type outcome struct {
		ok bool
	}

	v, err, _ := sm.loginGroup.Do("login", func() (any, error) {
		ok, err := sm.login(ctx)
		return outcome{ok: ok}, err
	})
	if err != nil {
		return false, err
	}
	return v.(outcome).ok, nil
}

func (sm *SessionManager) login(ctx context.Context) (bool, error) {
	settings, err := sm.settings.GetDaemon(ctx)
	if err != nil {
		if errors.Is(err, models.ErrUpstreamNotConfigured) {
			return false, domain.ErrNotConfigured
		}
		return false, err
	}

	form := url.Values{}
	form.Set("username", settings.Username)
	form.Set("password", settings.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.BaseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return false, domain.Unavailable(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := sm.client.Do(req)
	if err != nil {
		return false, domain.Unavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, domain.Unavailable(err)
	}

	// A failed attempt leaves any prior session untouched.
	if resp.StatusCode != http.StatusOK || string(body) != loginSuccessMarker {
		log.Warn().Int("status", resp.StatusCode).Msg("Daemon login rejected")
		return false, nil
	}

	cookie := ""
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c.Value
			break
		}
	}
	if cookie == "" {
		log.Warn().Msg("Daemon login succeeded but no session cookie was set")
		return false, nil
	}

	sm.cookie.Store(cookie)
	log.Debug().Msg("Daemon login successful")

	sm.refreshWebAPIVersion(ctx, settings.BaseURL, cookie)

	return true, nil
}

// refreshWebAPIVersion is best-effort; version gating falls back to the old
// endpoint names when it is unknown.
func (sm *SessionManager) refreshWebAPIVersion(ctx context.Context, baseURL, cookie string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v2/app/webapiVersion", nil)
	if err != nil {
		return
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: cookie})

	resp, err := sm.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return
	}

	version := strings.TrimSpace(string(body))
	if version != "" {
		sm.webAPIVersion.Store(version)
	}
}
