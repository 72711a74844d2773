// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/qbitmaster/qbitmaster/internal/domain"
)

// TorrentEntry is one live daemon torrent, read fresh on every
// reconciliation call and never persisted.
type TorrentEntry struct {
	Hash       string  `json:"hash"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Progress   float64 `json:"progress"`
	Dlspeed    int64   `json:"dlspeed"`
	Upspeed    int64   `json:"upspeed"`
	Size       int64   `json:"size"`
	Downloaded int64   `json:"downloaded"`
	Eta        int64   `json:"eta"`
	AddedOn    int64   `json:"added_on"`
}

// TransferInfo mirrors the daemon's global transfer counters.
type TransferInfo struct {
	DlInfoSpeed int64 `json:"dl_info_speed"`
	UpInfoSpeed int64 `json:"up_info_speed"`
}

// stopStartVersion is the WebAPI version where the daemon renamed the
// pause/resume endpoints to stop/start.
var stopStartVersion = semver.MustParse("2.11.0")

// ListTorrents fetches the full live entry set.
func (g *Gateway) ListTorrents(ctx context.Context) ([]TorrentEntry, error) {
	resp, err := g.Do(ctx, http.MethodGet, "/api/v2/torrents/info", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Unavailable(errors.Errorf("torrent listing returned status %d", resp.StatusCode))
	}

	var entries []TorrentEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, domain.Unavailable(errors.Wrap(err, "failed to decode torrent listing"))
	}

	return entries, nil
}

// TransferInfo fetches the daemon's global transfer rates.
func (g *Gateway) TransferInfo(ctx context.Context) (*TransferInfo, error) {
	resp, err := g.Do(ctx, http.MethodGet, "/api/v2/transfer/info", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Unavailable(errors.Errorf("transfer info returned status %d", resp.StatusCode))
	}

	info := &TransferInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, domain.Unavailable(errors.Wrap(err, "failed to decode transfer info"))
	}

	return info, nil
}

// AddMagnet submits a magnet URI to the daemon.
func (g *Gateway) AddMagnet(ctx context.Context, magnet string) error {
	params := url.Values{}
	params.Set("urls", magnet)

	resp, err := g.Do(ctx, http.MethodPost, "/api/v2/torrents/add", params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return requireOK(resp, "add torrent")
}

// AddFile submits a .torrent file to the daemon.
func (g *Gateway) AddFile(ctx context.Context, filename string, file []byte) error {
	resp, err := g.DoMultipart(ctx, "/api/v2/torrents/add", nil, "torrents", filename, file)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return requireOK(resp, "add torrent file")
}

// Delete removes a torrent from the daemon, optionally with its files.
func (g *Gateway) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	params := url.Values{}
	params.Set("hashes", hash)
	params.Set("deleteFiles", boolString(deleteFiles))

	resp, err := g.Do(ctx, http.MethodPost, "/api/v2/torrents/delete", params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return requireOK(resp, "delete torrent")
}

// Pause pauses (stops, on newer daemons) a torrent.
func (g *Gateway) Pause(ctx context.Context, hash string) error {
	return g.toggle(ctx, hash, "/api/v2/torrents/stop", "/api/v2/torrents/pause")
}

// Resume resumes (starts, on newer daemons) a torrent.
func (g *Gateway) Resume(ctx context.Context, hash string) error {
	return g.toggle(ctx, hash, "/api/v2/torrents/start", "/api/v2/torrents/resume")
}

func (g *Gateway) toggle(ctx context.Context, hash, modernPath, legacyPath string) error {
	path := legacyPath
	if g.supportsStopStart() {
		path = modernPath
	}

	params := url.Values{}
	params.Set("hashes", hash)

	resp, err := g.Do(ctx, http.MethodPost, path, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return requireOK(resp, "toggle torrent")
}

func (g *Gateway) supportsStopStart() bool {
	raw := g.session.WebAPIVersion()
	if raw == "" {
		return false
	}

	version, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}

	return !version.LessThan(stopStartVersion)
}

// AppVersion fetches the daemon application version string.
func (g *Gateway) AppVersion(ctx context.Context) (string, error) {
	resp, err := g.Do(ctx, http.MethodGet, "/api/v2/app/version", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.Unavailable(errors.Errorf("app version returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", domain.Unavailable(err)
	}

	return strings.TrimSpace(string(body)), nil
}

func requireOK(resp *http.Response, op string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return domain.Unavailable(errors.Errorf("%s returned status %d", op, resp.StatusCode))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
