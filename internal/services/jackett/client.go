// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jackett queries the search aggregator and returns normalized,
// seeder-ranked result lists.
package jackett

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

const (
	searchTimeout   = 30 * time.Second
	indexersTimeout = 10 * time.Second
	maxResults      = 50

	placeholderTitle   = "Unknown title"
	placeholderTracker = "Unknown"
)

// SettingsProvider exposes the admin-managed aggregator connection settings,
// re-read on every call. Implemented by models.SettingsStore.
type SettingsProvider interface {
	GetJackett(ctx context.Context) (*models.JackettSettings, error)
}

type Client struct {
	settings SettingsProvider
	client   *http.Client
}

func NewClient(settings SettingsProvider) *Client {
	return &Client{
		settings: settings,
		client:   &http.Client{},
	}
}

// Search runs one aggregator query and returns results ranked by seeders
// descending (stable, ties keep aggregator order), capped at 50. Category is
// optional. A query exceeding the 30 second budget surfaces
// ErrUpstreamTimeout; other transport failures ErrServiceUnavailable.
func (c *Client) Search(ctx context.Context, query, category string) (*SearchResponse, error) {
	settings, err := c.getSettings(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apikey", settings.APIKey)
	params.Set("Query", query)
	if category != "" {
		params.Set("Category[]", category)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	target := settings.BaseURL + "/api/v2.0/indexers/all/results?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.Unavailable(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Unavailable(errors.Errorf("aggregator returned status %d", resp.StatusCode))
	}

	var raw rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, domain.Unavailable(errors.Wrap(err, "failed to decode aggregator response"))
	}

	results := normalizeResults(raw.Results)
	rankResults(results)

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	log.Debug().Str("query", query).Int("results", len(results)).Msg("Aggregator search completed")

	return &SearchResponse{Results: results, Total: len(results)}, nil
}

// Indexers lists the aggregator's configured indexers.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	settings, err := c.getSettings(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("apikey", settings.APIKey)

	ctx, cancel := context.WithTimeout(ctx, indexersTimeout)
	defer cancel()

	target := settings.BaseURL + "/api/v2.0/indexers?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.Unavailable(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Unavailable(errors.Errorf("aggregator returned status %d", resp.StatusCode))
	}

	var indexers []Indexer
	if err := json.NewDecoder(resp.Body).Decode(&indexers); err != nil {
		return nil, domain.Unavailable(errors.Wrap(err, "failed to decode indexer list"))
	}

	return indexers, nil
}

// Configured reports whether aggregator settings exist, used by the health
// endpoint.
func (c *Client) Configured(ctx context.Context) bool {
	_, err := c.getSettings(ctx)
	return err == nil
}

func (c *Client) getSettings(ctx context.Context) (*models.JackettSettings, error) {
	settings, err := c.settings.GetJackett(ctx)
	if err != nil {
		if errors.Is(err, models.ErrUpstreamNotConfigured) {
			return nil, domain.ErrNotConfigured
		}
		return nil, domain.Unavailable(err)
	}
	if settings.APIKey == "" {
		return nil, domain.ErrNotConfigured
	}
	return settings, nil
}

func normalizeResults(raw []rawResult) []SearchResult {
	results := make([]SearchResult, 0, len(raw))
	for _, item := range raw {
		magnet := item.MagnetUri
		if magnet == "" {
			magnet = item.Link
		}

		title := item.Title
		if title == "" {
			title = placeholderTitle
		}

		tracker := item.Tracker
		if tracker == "" {
			tracker = placeholderTracker
		}

		results = append(results, SearchResult{
			Title:     title,
			Size:      item.Size,
			Seeders:   item.Seeders,
			Leechers:  item.Peers,
			Magnet:    magnet,
			Tracker:   tracker,
			Published: item.PublishDate,
		})
	}
	return results
}

// rankResults sorts by seeders descending; the stable sort keeps the
// aggregator's relative order for ties.
func rankResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Seeders > results[j].Seeders
	})
}

func translateTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrUpstreamTimeout
	}
	return domain.Unavailable(err)
}
