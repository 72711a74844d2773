// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/domain"
	"github.com/qbitmaster/qbitmaster/internal/models"
)

// Gateway performs authenticated daemon calls. On a forbidden response it
// re-authenticates once and retries once; a second forbidden response is
// surfaced as ErrServiceUnavailable. It never retries beyond that.
type Gateway struct {
	session  *SessionManager
	settings SettingsProvider
	client   *http.Client
}

func NewGateway(session *SessionManager, settings SettingsProvider) *Gateway {
	return &Gateway{
		session:  session,
		settings: settings,
		client:   &http.Client{Timeout: defaultCallTimeout},
	}
}

// Do issues a request to the daemon API. GET parameters go into the query
// string, other methods send them as an urlencoded form body.
func (g *Gateway) Do(ctx context.Context, method, apiPath string, params url.Values) (*http.Response, error) {
	return g.do(ctx, func(baseURL, cookie string) (*http.Request, error) {
		var req *http.Request
		var err error

		switch method {
		case http.MethodGet:
			target := baseURL + apiPath
			if len(params) > 0 {
				target += "?" + params.Encode()
			}
			req, err = http.NewRequestWithContext(ctx, method, target, nil)
		default:
			var body io.Reader
			if len(params) > 0 {
				body = strings.NewReader(params.Encode())
			}
			req, err = http.NewRequestWithContext(ctx, method, baseURL+apiPath, body)
			if err == nil && len(params) > 0 {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return nil, err
		}

		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: cookie})
		return req, nil
	})
}

// DoMultipart issues a multipart POST, used for .torrent file submissions.
func (g *Gateway) DoMultipart(ctx context.Context, apiPath string, fields map[string]string, fileField, filename string, file []byte) (*http.Response, error) {
	return g.do(ctx, func(baseURL, cookie string) (*http.Request, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				return nil, err
			}
		}

		part, err := writer.CreateFormFile(fileField, filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(file); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+apiPath, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: cookie})
		return req, nil
	})
}

// do runs the two-state retry protocol: one attempt with the current session,
// and on forbidden exactly one re-login followed by exactly one retry.
func (g *Gateway) do(ctx context.Context, build func(baseURL, cookie string) (*http.Request, error)) (*http.Response, error) {
	settings, err := g.settings.GetDaemon(ctx)
	if err != nil {
		if errors.Is(err, models.ErrUpstreamNotConfigured) {
			return nil, domain.ErrNotConfigured
		}
		return nil, domain.Unavailable(err)
	}

	if g.session.Cookie() == "" {
		if err := g.ensureLogin(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := g.attempt(ctx, build, settings.BaseURL)
	if err != nil {
		return nil, domain.Unavailable(err)
	}

	if resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	// Session expired: re-authenticate once and retry once.
	drain(resp)
	g.session.Clear()
	log.Debug().Msg("Daemon returned forbidden, re-authenticating")

	if err := g.ensureLogin(ctx); err != nil {
		return nil, err
	}

	resp, err = g.attempt(ctx, build, settings.BaseURL)
	if err != nil {
		return nil, domain.Unavailable(err)
	}

	if resp.StatusCode == http.StatusForbidden {
		drain(resp)
		return nil, domain.Unavailable(errors.New("daemon still refusing after re-authentication"))
	}

	return resp, nil
}

func (g *Gateway) attempt(ctx context.Context, build func(baseURL, cookie string) (*http.Request, error), baseURL string) (*http.Response, error) {
	req, err := build(baseURL, g.session.Cookie())
	if err != nil {
		return nil, err
	}
	return g.client.Do(req)
}

func (g *Gateway) ensureLogin(ctx context.Context) error {
	ok, err := g.session.Login(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Unavailable(domain.ErrAuthenticationFailed)
	}
	return nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// Healthy reports whether the daemon currently answers an authenticated call.
func (g *Gateway) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.AppVersion(ctx)
	return err == nil
}
