// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import "github.com/go-chi/chi/v5/middleware"

// RequestID is a middleware that injects a request ID into the context of each
// request.
var RequestID = middleware.RequestID

// Recoverer is a middleware that recovers from panics, logs the panic (and a
// backtrace), and returns a HTTP 500 (Internal Server Error) status if
// possible.
var Recoverer = middleware.Recoverer

// RealIP is a middleware that sets a http.Request's RemoteAddr to the results
// of parsing either the True-Client-IP, X-Real-IP or the X-Forwarded-For
// headers (in that order). Only use this behind a trusted reverse proxy.
var RealIP = middleware.RealIP

// ThrottleBacklog is a middleware that limits number of currently processed
// requests at a time and provides a backlog for holding a finite number of
// pending requests.
var ThrottleBacklog = middleware.ThrottleBacklog
