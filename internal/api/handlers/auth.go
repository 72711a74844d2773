// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/api/middleware"
	"github.com/qbitmaster/qbitmaster/internal/auth"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

type AuthHandler struct {
	authService    *auth.Service
	sessionManager *scs.SessionManager
	userStore      *models.UserStore
}

func NewAuthHandler(authService *auth.Service, sessionManager *scs.SessionManager, userStore *models.UserStore) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		sessionManager: sessionManager,
		userStore:      userStore,
	}
}

// RegisterRequest represents an account creation request
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func userPayload(user *models.User) map[string]any {
	return map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"is_admin": user.IsAdmin,
	}
}

// Register creates a new account. The first account created becomes the admin.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.authService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrUsernameTaken), errors.Is(err, models.ErrEmailTaken):
			RespondError(w, http.StatusConflict, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to create user")
			RespondError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	h.createSession(r, user)

	RespondJSON(w, http.StatusCreated, map[string]any{
		"message": "Account created successfully",
		"user":    userPayload(user),
	})
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.authService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Error().Err(err).Msg("Login failed")
		RespondError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	h.createSession(r, user)
	h.sessionManager.RememberMe(r.Context(), req.RememberMe)

	RespondJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    userPayload(user),
	})
}

func (h *AuthHandler) createSession(r *http.Request, user *models.User) {
	// Renew token to prevent session fixation attacks
	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to renew session token")
	}

	h.sessionManager.Put(r.Context(), "authenticated", true)
	h.sessionManager.Put(r.Context(), "user_id", user.ID)
	h.sessionManager.Put(r.Context(), "username", user.Username)
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to destroy session")
		RespondError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// GetCurrentUser returns the current user information
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	RespondJSON(w, http.StatusOK, userPayload(user))
}

// ChangePassword updates the current user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.authService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			RespondError(w, http.StatusUnauthorized, "Current password is incorrect")
		case errors.Is(err, auth.ErrWeakPassword):
			RespondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to change password")
			RespondError(w, http.StatusInternalServerError, "Failed to change password")
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully",
	})
}
