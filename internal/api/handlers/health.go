// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qbitmaster/qbitmaster/internal/database"
	"github.com/qbitmaster/qbitmaster/internal/qbittorrent"
	"github.com/qbitmaster/qbitmaster/internal/services/jackett"
)

const (
	statusOK           = "ok"
	statusUnavailable  = "unavailable"
	statusUnconfigured = "not configured"
)

type HealthHandler struct {
	db      *database.DB
	gateway *qbittorrent.Gateway
	jackett *jackett.Client
}

func NewHealthHandler(db *database.DB, gateway *qbittorrent.Gateway, jackettClient *jackett.Client) *HealthHandler {
	return &HealthHandler{
		db:      db,
		gateway: gateway,
		jackett: jackettClient,
	}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/readiness", h.HandleReady)
	r.Get("/liveness", h.HandleLiveness)
}

// HandleHealth reports per-service status. It always answers 200: a down
// daemon or unconfigured aggregator is a status, not a request failure.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := statusOK
	if err := h.db.Ping(r.Context()); err != nil {
		dbStatus = statusUnavailable
	}

	daemonStatus := statusUnavailable
	if h.gateway.Healthy(r.Context()) {
		daemonStatus = statusOK
	}

	jackettStatus := statusUnconfigured
	if h.jackett.Configured(r.Context()) {
		jackettStatus = statusOK
	}

	overall := statusOK
	if dbStatus != statusOK {
		overall = statusUnavailable
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"status":      overall,
		"database":    dbStatus,
		"qbittorrent": daemonStatus,
		"jackett":     jackettStatus,
	})
}

// HandleReady reports whether the service can serve traffic. Upstream daemon
// state is deliberately not part of readiness: the API degrades instead of
// failing when the daemon is down.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
