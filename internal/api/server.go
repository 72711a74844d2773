// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/api/handlers"
	"github.com/qbitmaster/qbitmaster/internal/api/middleware"
	"github.com/qbitmaster/qbitmaster/internal/auth"
	"github.com/qbitmaster/qbitmaster/internal/config"
	"github.com/qbitmaster/qbitmaster/internal/database"
	"github.com/qbitmaster/qbitmaster/internal/models"
	"github.com/qbitmaster/qbitmaster/internal/qbittorrent"
	"github.com/qbitmaster/qbitmaster/internal/services/jackett"
	"github.com/qbitmaster/qbitmaster/internal/services/torrents"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	db                *database.DB
	authService       *auth.Service
	sessionManager    *scs.SessionManager
	userStore         *models.UserStore
	torrentStore      *models.TorrentStore
	notificationStore *models.NotificationStore
	quotaStore        *models.QuotaStore
	settingsStore     *models.SettingsStore
	gateway           *qbittorrent.Gateway
	jackettClient     *jackett.Client
	torrentsService   *torrents.Service
}

type Dependencies struct {
	Config            *config.AppConfig
	Version           string
	DB                *database.DB
	AuthService       *auth.Service
	SessionManager    *scs.SessionManager
	UserStore         *models.UserStore
	TorrentStore      *models.TorrentStore
	NotificationStore *models.NotificationStore
	QuotaStore        *models.QuotaStore
	SettingsStore     *models.SettingsStore
	Gateway           *qbittorrent.Gateway
	JackettClient     *jackett.Client
	TorrentsService   *torrents.Service
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:            log.Logger.With().Str("module", "api").Logger(),
		config:            deps.Config,
		version:           deps.Version,
		db:                deps.DB,
		authService:       deps.AuthService,
		sessionManager:    deps.SessionManager,
		userStore:         deps.UserStore,
		torrentStore:      deps.TorrentStore,
		notificationStore: deps.NotificationStore,
		quotaStore:        deps.QuotaStore,
		settingsStore:     deps.SettingsStore,
		gateway:           deps.Gateway,
		jackettClient:     deps.JackettClient,
		torrentsService:   deps.TorrentsService,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Responses are small JSON documents, favor speed over ratio
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowedOrigins:   s.config.Config.CorsOrigins,
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	// Session middleware - must be added before any session-dependent middleware
	r.Use(s.sessionManager.LoadAndSave)

	healthHandler := handlers.NewHealthHandler(s.db, s.gateway, s.jackettClient)
	authHandler := handlers.NewAuthHandler(s.authService, s.sessionManager, s.userStore)
	torrentsHandler := handlers.NewTorrentsHandler(s.torrentsService)
	searchHandler := handlers.NewSearchHandler(s.jackettClient)
	notificationsHandler := handlers.NewNotificationsHandler(s.notificationStore)
	settingsHandler := handlers.NewSettingsHandler(s.settingsStore, s.gateway, s.jackettClient)
	usersHandler := handlers.NewUsersHandler(s.userStore, s.torrentStore, s.quotaStore)

	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		// Public routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			// Apply rate limiting to auth endpoints
			r.Use(middleware.ThrottleBacklog(1, 1, time.Second))

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.IsAuthenticated(s.userStore, s.sessionManager))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.GetCurrentUser)
			r.Put("/auth/change-password", authHandler.ChangePassword)

			r.Route("/torrents", func(r chi.Router) {
				r.Get("/", torrentsHandler.ListTorrents)
				r.Get("/stats", torrentsHandler.GetStats)
				r.Post("/magnet", torrentsHandler.AddMagnet)
				r.Post("/file", torrentsHandler.AddFile)

				r.Route("/{torrentID}", func(r chi.Router) {
					r.Delete("/", torrentsHandler.DeleteTorrent)
					r.Post("/pause", torrentsHandler.PauseTorrent)
					r.Post("/resume", torrentsHandler.ResumeTorrent)
				})
			})

			r.Route("/search", func(r chi.Router) {
				r.Get("/", searchHandler.Search)
				r.Get("/indexers", searchHandler.ListIndexers)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationsHandler.ListNotifications)
				r.Post("/read-all", notificationsHandler.MarkAllRead)

				r.Route("/{notificationID}", func(r chi.Router) {
					r.Put("/read", notificationsHandler.MarkRead)
					r.Delete("/", notificationsHandler.DeleteNotification)
				})
			})

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Route("/settings", func(r chi.Router) {
					r.Get("/daemon", settingsHandler.GetDaemonSettings)
					r.Put("/daemon", settingsHandler.UpdateDaemonSettings)
					r.Post("/daemon/test", settingsHandler.TestDaemonConnection)

					r.Get("/jackett", settingsHandler.GetJackettSettings)
					r.Put("/jackett", settingsHandler.UpdateJackettSettings)
					r.Post("/jackett/test", settingsHandler.TestJackettConnection)
				})

				r.Route("/users", func(r chi.Router) {
					r.Get("/", usersHandler.ListUsers)

					r.Route("/{userID}", func(r chi.Router) {
						r.Put("/quota", usersHandler.SetQuota)
						r.Delete("/quota", usersHandler.ClearQuota)
					})
				})
			})
		})
	})

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Route("/healthz", healthHandler.Routes)

	r.Mount(baseURL+"api", apiRouter)

	return r
}
