// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

type staticSettings struct {
	jackett *models.JackettSettings
	err     error
}

func (s *staticSettings) GetJackett(ctx context.Context) (*models.JackettSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.jackett, nil
}

func clientFor(url string) *Client {
	return NewClient(&staticSettings{jackett: &models.JackettSettings{
		BaseURL: url,
		APIKey:  "test-key",
	}})
}

func TestSearchNormalizesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2.0/indexers/all/results", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "ubuntu", r.URL.Query().Get("Query"))

		json.NewEncoder(w).Encode(map[string]any{
			"Results": []map[string]any{
				{
					"Title":     "Full Result",
					"Size":      1024,
					"Seeders":   5,
					"Peers":     2,
					"MagnetUri": "magnet:?xt=urn:btih:aaa",
					"Link":      "http://dl.example/aaa",
					"Tracker":   "tracker-a",
				},
				{
					"Size": 2048,
					"Link": "http://dl.example/bbb",
				},
			},
		})
	}))
	defer srv.Close()

	resp, err := clientFor(srv.URL).Search(context.Background(), "ubuntu", "")
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	full := resp.Results[0]
	assert.Equal(t, "Full Result", full.Title)
	assert.Equal(t, "magnet:?xt=urn:btih:aaa", full.Magnet, "magnet URI preferred over link")
	assert.Equal(t, "tracker-a", full.Tracker)

	sparse := resp.Results[1]
	assert.Equal(t, "Unknown title", sparse.Title)
	assert.Equal(t, "Unknown", sparse.Tracker)
	assert.Equal(t, "http://dl.example/bbb", sparse.Magnet, "link used when magnet missing")
	assert.Equal(t, 0, sparse.Seeders)
	assert.Equal(t, "", sparse.Published)
}

func TestSearchRanking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Results": []map[string]any{
				{"Title": "three", "Seeders": 3},
				{"Title": "ten-first", "Seeders": 10},
				{"Title": "ten-second", "Seeders": 10},
				{"Title": "one", "Seeders": 1},
			},
		})
	}))
	defer srv.Close()

	resp, err := clientFor(srv.URL).Search(context.Background(), "q", "")
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	var titles []string
	for _, result := range resp.Results {
		titles = append(titles, result.Title)
	}
	assert.Equal(t, []string{"ten-first", "ten-second", "three", "one"}, titles,
		"descending by seeders, ties keep aggregator order")
}

func TestSearchCapsAtFifty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]any, 75)
		for i := range results {
			results[i] = map[string]any{"Title": "r", "Seeders": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"Results": results})
	}))
	defer srv.Close()

	resp, err := clientFor(srv.URL).Search(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Len(t, resp.Results, 50)
	assert.Equal(t, 50, resp.Total)
	assert.Equal(t, 74, resp.Results[0].Seeders, "top seeders survive the cap")
}

func TestSearchNotConfigured(t *testing.T) {
	tests := []struct {
		name     string
		settings *staticSettings
	}{
		{name: "no_settings_row", settings: &staticSettings{err: models.ErrUpstreamNotConfigured}},
		{name: "empty_api_key", settings: &staticSettings{jackett: &models.JackettSettings{BaseURL: "http://jackett.invalid"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.settings).Search(context.Background(), "q", "")
			assert.ErrorIs(t, err, domain.ErrNotConfigured)
		})
	}
}

func TestSearchUpstreamTimeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	client := clientFor(srv.URL)

	// Shrink the budget through the caller's context so the test stays fast;
	// the client treats any deadline the same way.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Search(ctx, "q", "")
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestSearchServerErrorIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := clientFor(srv.URL).Search(context.Background(), "q", "")
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestIndexers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2.0/indexers", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "rarbg", "name": "RARBG", "configured": true},
			{"id": "eztv", "name": "EZTV", "configured": false},
		})
	}))
	defer srv.Close()

	indexers, err := clientFor(srv.URL).Indexers(context.Background())
	require.NoError(t, err)
	require.Len(t, indexers, 2)
	assert.Equal(t, "rarbg", indexers[0].ID)
	assert.True(t, indexers[0].Configured)
	assert.False(t, indexers[1].Configured)
}
