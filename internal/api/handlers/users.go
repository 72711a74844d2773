// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/models"
)

type UsersHandler struct {
	users    *models.UserStore
	torrents *models.TorrentStore
	quotas   *models.QuotaStore
}

func NewUsersHandler(users *models.UserStore, torrents *models.TorrentStore, quotas *models.QuotaStore) *UsersHandler {
	return &UsersHandler{
		users:    users,
		torrents: torrents,
		quotas:   quotas,
	}
}

// QuotaRequest sets a per-user torrent limit. Zero means unlimited.
type QuotaRequest struct {
	MaxTorrents int `json:"max_torrents"`
}

// ListUsers returns every account with its torrent count and quota
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list users")
		RespondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, user := range users {
		count, err := h.torrents.CountByUser(r.Context(), user.ID)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to count torrents")
			RespondError(w, http.StatusInternalServerError, "Failed to list users")
			return
		}
		quota, err := h.quotas.Get(r.Context(), user.ID)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to load quota")
			RespondError(w, http.StatusInternalServerError, "Failed to list users")
			return
		}

		out = append(out, map[string]any{
			"id":            user.ID,
			"username":      user.Username,
			"email":         user.Email,
			"is_admin":      user.IsAdmin,
			"created_at":    user.CreatedAt,
			"torrent_count": count,
			"max_torrents":  quota,
		})
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"users": out,
	})
}

// SetQuota sets the torrent limit for a user
func (h *UsersHandler) SetQuota(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if _, err := h.users.GetByID(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load user")
		RespondError(w, http.StatusInternalServerError, "Failed to set quota")
		return
	}

	var req QuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.quotas.Set(r.Context(), userID, req.MaxTorrents); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"max_torrents": req.MaxTorrents,
	})
}

// ClearQuota removes the torrent limit for a user
func (h *UsersHandler) ClearQuota(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.quotas.Delete(r.Context(), userID); err != nil {
		log.Error().Err(err).Msg("Failed to clear quota")
		RespondError(w, http.StatusInternalServerError, "Failed to clear quota")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}
