// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

// fakeDaemon emulates the daemon's login endpoint plus a torrent listing that
// can be made to answer forbidden a configurable number of times.
type fakeDaemon struct {
	mu          sync.Mutex
	srv         *httptest.Server
	loginCalls  int
	infoCalls   int
	rejectLogin bool
	forbidNext  int
	entries     []TorrentEntry
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()

	d := &fakeDaemon{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()

		switch r.URL.Path {
		case "/api/v2/auth/login":
			d.loginCalls++
			if d.rejectLogin {
				w.Write([]byte("Fails."))
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "tok"})
			w.Write([]byte("Ok."))
		case "/api/v2/app/webapiVersion":
			w.Write([]byte("2.11.2"))
		case "/api/v2/torrents/info":
			d.infoCalls++
			if d.forbidNext > 0 {
				d.forbidNext--
				w.WriteHeader(http.StatusForbidden)
				return
			}
			json.NewEncoder(w).Encode(d.entries)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDaemon) gateway() *Gateway {
	settings := settingsFor(d.srv.URL)
	return NewGateway(NewSessionManager(settings), settings)
}

func (d *fakeDaemon) counts() (logins, infos int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loginCalls, d.infoCalls
}

func TestGatewayAutoLoginOnFirstCall(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.entries = []TorrentEntry{{Hash: "abc123", Name: "Some Torrent"}}

	gw := daemon.gateway()

	entries, err := gw.ListTorrents(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc123", entries[0].Hash)

	logins, infos := daemon.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 1, infos)
}

func TestGatewayForbiddenTriggersExactlyOneRetry(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.entries = []TorrentEntry{{Hash: "abc123", Name: "Some Torrent"}}
	daemon.forbidNext = 1

	gw := daemon.gateway()

	entries, err := gw.ListTorrents(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	logins, infos := daemon.counts()
	assert.Equal(t, 2, logins, "initial auto-login plus one re-login")
	assert.Equal(t, 2, infos, "first attempt plus exactly one retry")
}

func TestGatewaySecondForbiddenSurfacesServiceUnavailable(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.forbidNext = 2

	gw := daemon.gateway()

	_, err := gw.ListTorrents(context.Background())
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	logins, infos := daemon.counts()
	assert.Equal(t, 2, logins)
	assert.Equal(t, 2, infos, "no third attempt after the retry fails")
}

func TestGatewayFailedReloginSurfacesServiceUnavailable(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.forbidNext = 1

	gw := daemon.gateway()

	// Establish a session, then make the daemon reject re-logins.
	_, err := gw.ListTorrents(context.Background())
	require.NoError(t, err)

	daemon.mu.Lock()
	daemon.rejectLogin = true
	daemon.forbidNext = 1
	daemon.mu.Unlock()

	_, err = gw.ListTorrents(context.Background())
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestGatewayNotConfiguredFailsBeforeNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected when unconfigured")
	}))
	defer srv.Close()

	settings := &staticSettings{err: models.ErrUpstreamNotConfigured}
	gw := NewGateway(NewSessionManager(settings), settings)

	_, err := gw.ListTorrents(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestGatewayTransportErrorIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	settings := settingsFor(srv.URL)
	gw := NewGateway(NewSessionManager(settings), settings)

	_, err := gw.ListTorrents(context.Background())
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestGatewayStopStartVersionGate(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    bool
	}{
		{name: "modern_daemon", version: "2.11.2", want: true},
		{name: "legacy_daemon", version: "2.9.3", want: false},
		{name: "unknown_version", version: "", want: false},
		{name: "garbage_version", version: "not-a-version", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			settings := settingsFor("http://daemon.invalid")
			gw := NewGateway(NewSessionManager(settings), settings)
			if tt.version != "" {
				gw.session.webAPIVersion.Store(tt.version)
			}

			assert.Equal(t, tt.want, gw.supportsStopStart())
		})
	}
}
