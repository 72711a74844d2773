// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/api/middleware"
	"github.com/qbitmaster/qbitmaster/internal/models"
	"github.com/qbitmaster/qbitmaster/internal/services/torrents"
)

// Torrent files beyond this size are rejected before parsing.
const maxTorrentFileSize = 10 << 20

type TorrentsHandler struct {
	service *torrents.Service
}

func NewTorrentsHandler(service *torrents.Service) *TorrentsHandler {
	return &TorrentsHandler{service: service}
}

// AddMagnetRequest represents a magnet link submission
type AddMagnetRequest struct {
	Name   string `json:"name"`
	Magnet string `json:"magnet"`
}

// ListTorrents returns the caller's torrents merged with live daemon state.
// Admins see every user's torrents.
func (h *TorrentsHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	views, err := h.service.List(r.Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list torrents")
		RespondError(w, http.StatusInternalServerError, "Failed to list torrents")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"torrents": views,
		"total":    len(views),
	})
}

// GetStats returns aggregate counts and transfer speeds
func (h *TorrentsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	stats, err := h.service.Stats(r.Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute torrent stats")
		RespondError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}

	RespondJSON(w, http.StatusOK, stats)
}

// AddMagnet submits a magnet link to the daemon and records it for the caller
func (h *TorrentsHandler) AddMagnet(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req AddMagnetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !strings.HasPrefix(req.Magnet, "magnet:?") {
		RespondError(w, http.StatusBadRequest, "Not a magnet link")
		return
	}

	record, err := h.service.AddMagnet(r.Context(), user, req.Name, req.Magnet)
	if err != nil {
		h.respondAddError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, record)
}

// AddFile submits an uploaded .torrent file to the daemon and records it
func (h *TorrentsHandler) AddFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	if err := r.ParseMultipartForm(maxTorrentFileSize); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("torrent")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Missing torrent file")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, maxTorrentFileSize))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Failed to read torrent file")
		return
	}

	name := r.FormValue("name")

	record, err := h.service.AddFile(r.Context(), user, name, header.Filename, payload)
	if err != nil {
		h.respondAddError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, record)
}

func (h *TorrentsHandler) respondAddError(w http.ResponseWriter, err error) {
	if respondIfUpstreamError(w, err) {
		return
	}
	if errors.Is(err, torrents.ErrQuotaExceeded) {
		RespondError(w, http.StatusForbidden, "Torrent quota exceeded")
		return
	}
	log.Error().Err(err).Msg("Failed to add torrent")
	RespondError(w, http.StatusInternalServerError, "Failed to add torrent")
}

// DeleteTorrent removes a torrent from the daemon and the caller's list.
// Pass deleteFiles=true to also remove downloaded data.
func (h *TorrentsHandler) DeleteTorrent(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	torrentID := chi.URLParam(r, "torrentID")
	deleteFiles := r.URL.Query().Get("deleteFiles") == "true"

	if err := h.service.Delete(r.Context(), user, torrentID, deleteFiles); err != nil {
		h.respondActionError(w, err, "Failed to delete torrent")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Torrent deleted",
	})
}

// PauseTorrent pauses the torrent on the daemon
func (h *TorrentsHandler) PauseTorrent(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.Pause, "Failed to pause torrent", "Torrent paused")
}

// ResumeTorrent resumes the torrent on the daemon
func (h *TorrentsHandler) ResumeTorrent(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.Resume, "Failed to resume torrent", "Torrent resumed")
}

func (h *TorrentsHandler) action(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, user *models.User, torrentID string) error, failMsg, okMsg string) {
	user := middleware.UserFromContext(r.Context())
	torrentID := chi.URLParam(r, "torrentID")

	if err := op(r.Context(), user, torrentID); err != nil {
		h.respondActionError(w, err, failMsg)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": okMsg,
	})
}

func (h *TorrentsHandler) respondActionError(w http.ResponseWriter, err error, failMsg string) {
	if respondIfUpstreamError(w, err) {
		return
	}
	switch {
	case errors.Is(err, models.ErrTorrentNotFound), errors.Is(err, torrents.ErrNotOwner):
		// Not-owned reads as not-found so torrent IDs cannot be probed
		RespondError(w, http.StatusNotFound, "Torrent not found")
	case errors.Is(err, torrents.ErrUnresolved):
		RespondError(w, http.StatusConflict, "Torrent identity is not resolved yet")
	default:
		log.Error().Err(err).Msg(failMsg)
		RespondError(w, http.StatusInternalServerError, failMsg)
	}
}
