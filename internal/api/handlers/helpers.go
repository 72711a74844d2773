// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/domain"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response.
// For 204 No Content and 304 Not Modified, no body or Content-Type is sent per HTTP spec.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	// 204 and 304 must not have a body per RFC 7230/9110
	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}

	if data != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
		return
	}

	w.WriteHeader(status)
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// respondIfUpstreamError translates upstream failure modes into their HTTP
// statuses and reports whether it handled the error. ServiceUnavailable is
// checked before AuthenticationFailed so that a wrapped credential rejection
// from an internal re-login still reads as an upstream outage to the client.
func respondIfUpstreamError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrNotConfigured):
		RespondError(w, http.StatusConflict, "Upstream service is not configured")
	case errors.Is(err, domain.ErrUpstreamTimeout):
		RespondError(w, http.StatusGatewayTimeout, "Upstream service timed out")
	case errors.Is(err, domain.ErrServiceUnavailable):
		log.Warn().Err(err).Msg("Upstream service unavailable")
		RespondError(w, http.StatusServiceUnavailable, "Upstream service is unavailable")
	case errors.Is(err, domain.ErrAuthenticationFailed):
		RespondError(w, http.StatusUnauthorized, "Upstream rejected the configured credentials")
	default:
		return false
	}
	return true
}
