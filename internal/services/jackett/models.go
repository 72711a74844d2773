// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

// SearchResult is one normalized aggregator hit. Magnet falls back to the
// direct download link when the indexer provides no magnet URI.
type SearchResult struct {
	Title     string `json:"title"`
	Size      int64  `json:"size"`
	Seeders   int    `json:"seeders"`
	Leechers  int    `json:"leechers"`
	Magnet    string `json:"magnet"`
	Tracker   string `json:"tracker"`
	Published string `json:"published"`
}

// SearchResponse is the payload returned to the HTTP layer.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// Indexer describes one aggregator-side indexer.
type Indexer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// rawResult mirrors the aggregator's results API wire format.
type rawResult struct {
	Title       string `json:"Title"`
	Size        int64  `json:"Size"`
	Seeders     int    `json:"Seeders"`
	Peers       int    `json:"Peers"`
	MagnetUri   string `json:"MagnetUri"`
	Link        string `json:"Link"`
	Tracker     string `json:"Tracker"`
	PublishDate string `json:"PublishDate"`
}

type rawResponse struct {
	Results []rawResult `json:"Results"`
}
