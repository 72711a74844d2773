// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/models"
	"github.com/qbitmaster/qbitmaster/internal/qbittorrent"
	"github.com/qbitmaster/qbitmaster/internal/services/jackett"
)

type SettingsHandler struct {
	store   *models.SettingsStore
	gateway *qbittorrent.Gateway
	jackett *jackett.Client
}

func NewSettingsHandler(store *models.SettingsStore, gateway *qbittorrent.Gateway, jackettClient *jackett.Client) *SettingsHandler {
	return &SettingsHandler{
		store:   store,
		gateway: gateway,
		jackett: jackettClient,
	}
}

// DaemonSettingsRequest carries qBittorrent connection settings
type DaemonSettingsRequest struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// JackettSettingsRequest carries Jackett connection settings
type JackettSettingsRequest struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// GetDaemonSettings returns the stored daemon connection, without secrets
func (h *SettingsHandler) GetDaemonSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetDaemon(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrUpstreamNotConfigured) {
			RespondJSON(w, http.StatusOK, map[string]any{"configured": false})
			return
		}
		log.Error().Err(err).Msg("Failed to load daemon settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load daemon settings")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"settings":   settings,
	})
}

// UpdateDaemonSettings stores new daemon connection settings
func (h *SettingsHandler) UpdateDaemonSettings(w http.ResponseWriter, r *http.Request) {
	var req DaemonSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	settings, err := h.store.SetDaemon(r.Context(), req.BaseURL, req.Username, req.Password)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("base_url", settings.BaseURL).Msg("Daemon settings updated")

	RespondJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"settings":   settings,
	})
}

// TestDaemonConnection checks whether the daemon answers with the stored settings
func (h *SettingsHandler) TestDaemonConnection(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]bool{
		"healthy": h.gateway.Healthy(r.Context()),
	})
}

// GetJackettSettings returns the stored Jackett connection, without secrets
func (h *SettingsHandler) GetJackettSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetJackett(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrUpstreamNotConfigured) {
			RespondJSON(w, http.StatusOK, map[string]any{"configured": false})
			return
		}
		log.Error().Err(err).Msg("Failed to load Jackett settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load Jackett settings")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"settings":   settings,
	})
}

// UpdateJackettSettings stores new Jackett connection settings
func (h *SettingsHandler) UpdateJackettSettings(w http.ResponseWriter, r *http.Request) {
	var req JackettSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	settings, err := h.store.SetJackett(r.Context(), req.BaseURL, req.APIKey)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("base_url", settings.BaseURL).Msg("Jackett settings updated")

	RespondJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"settings":   settings,
	})
}

// TestJackettConnection checks whether Jackett answers with the stored settings
func (h *SettingsHandler) TestJackettConnection(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]bool{
		"healthy": h.jackett.Configured(r.Context()),
	})
}
