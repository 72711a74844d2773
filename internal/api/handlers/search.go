// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/services/jackett"
)

type SearchHandler struct {
	jackett *jackett.Client
}

func NewSearchHandler(client *jackett.Client) *SearchHandler {
	return &SearchHandler{jackett: client}
}

// Search queries Jackett and returns results ranked by seeders
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		RespondError(w, http.StatusBadRequest, "Missing search query")
		return
	}
	category := r.URL.Query().Get("category")

	resp, err := h.jackett.Search(r.Context(), query, category)
	if err != nil {
		if respondIfUpstreamError(w, err) {
			return
		}
		log.Error().Err(err).Str("query", query).Msg("Search failed")
		RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}

// ListIndexers returns the indexers configured in Jackett
func (h *SearchHandler) ListIndexers(w http.ResponseWriter, r *http.Request) {
	indexers, err := h.jackett.Indexers(r.Context())
	if err != nil {
		if respondIfUpstreamError(w, err) {
			return
		}
		log.Error().Err(err).Msg("Failed to list indexers")
		RespondError(w, http.StatusInternalServerError, "Failed to list indexers")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"indexers": indexers,
	})
}
