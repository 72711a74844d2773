// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the authenticated user stored by IsAuthenticated,
// or nil when the request is unauthenticated.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// IsAuthenticated checks the SCS session and loads the account into the
// request context. Sessions that reference a deleted user are destroyed.
func IsAuthenticated(users *models.UserStore, sessionManager *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sessionManager.GetBool(r.Context(), "authenticated") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID := sessionManager.GetString(r.Context(), "user_id")
			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("Session references unknown user")
				if err := sessionManager.Destroy(r.Context()); err != nil {
					log.Error().Err(err).Msg("Failed to destroy stale session")
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates a route on the admin flag. Must run after IsAuthenticated.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil || !user.IsAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
