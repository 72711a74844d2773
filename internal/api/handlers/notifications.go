// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/api/middleware"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

type NotificationsHandler struct {
	store *models.NotificationStore
}

func NewNotificationsHandler(store *models.NotificationStore) *NotificationsHandler {
	return &NotificationsHandler{store: store}
}

// ListNotifications returns the caller's notifications, newest first
func (h *NotificationsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	notifications, err := h.store.ListByUser(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list notifications")
		RespondError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	unread, err := h.store.UnreadCount(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count unread notifications")
		RespondError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"unread":        unread,
	})
}

// MarkRead marks a single notification as read
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "notificationID")

	if err := h.store.MarkRead(r.Context(), user.ID, id); err != nil {
		h.respondStoreError(w, err, "Failed to mark notification read")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

// MarkAllRead marks every notification of the caller as read
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	if err := h.store.MarkAllRead(r.Context(), user.ID); err != nil {
		log.Error().Err(err).Msg("Failed to mark notifications read")
		RespondError(w, http.StatusInternalServerError, "Failed to mark notifications read")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

// DeleteNotification removes a notification
func (h *NotificationsHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "notificationID")

	if err := h.store.Delete(r.Context(), user.ID, id); err != nil {
		h.respondStoreError(w, err, "Failed to delete notification")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

func (h *NotificationsHandler) respondStoreError(w http.ResponseWriter, err error, failMsg string) {
	if errors.Is(err, models.ErrNotificationNotFound) {
		RespondError(w, http.StatusNotFound, "Notification not found")
		return
	}
	log.Error().Err(err).Msg(failMsg)
	RespondError(w, http.StatusInternalServerError, failMsg)
}
