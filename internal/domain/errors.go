// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds shared across the upstream-facing packages. Callers branch on
// these with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrNotConfigured means the required upstream connection settings have
	// never been saved. No network call was made.
	ErrNotConfigured = errors.New("upstream not configured")

	// ErrAuthenticationFailed means the upstream rejected the stored
	// credentials.
	ErrAuthenticationFailed = errors.New("upstream rejected credentials")

	// ErrServiceUnavailable means the upstream could not be reached or kept
	// refusing the request after re-authentication.
	ErrServiceUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout means the upstream did not answer within the call's
	// time budget.
	ErrUpstreamTimeout = errors.New("upstream timed out")
)

// Unavailable wraps cause so that errors.Is(err, ErrServiceUnavailable) holds
// while the cause stays visible in logs and responses.
func Unavailable(cause error) error {
	if cause == nil {
		return ErrServiceUnavailable
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, cause)
}
