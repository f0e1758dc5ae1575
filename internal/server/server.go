// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: it assembles the dependency chain
//
//	sqlite.DB → repositories → services → handlers → routes
//
// in one place, so no other package constructs its own collaborators.
// main.go stays minimal — load config, build the server, start it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/cliplru/internal/auth"
	"github.com/sakif/cliplru/internal/config"
	"github.com/sakif/cliplru/internal/handler"
	"github.com/sakif/cliplru/internal/middleware"
	sqliteRepo "github.com/sakif/cliplru/internal/repository/sqlite"
	"github.com/sakif/cliplru/internal/service"
	"github.com/sakif/cliplru/internal/storage"
)

// Server owns the router, the database connection, and the blob store.
// The database is closed during graceful shutdown so the WAL flushes and
// the file lock is released.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	blobs  *storage.Store

	// retention is exposed so a cron entry point can run sweeps against
	// the same wiring the HTTP routes use.
	retention *service.RetentionService
}

// New creates a Server with its full dependency chain wired.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	blobs, err := storage.New(cfg.StoragePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		blobs:  blobs,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Retention returns the wired retention service, for out-of-band sweeps.
func (s *Server) Retention() *service.RetentionService {
	return s.retention
}

// setupRoutes configures middleware, builds the service layer, and maps
// every route.
//
// MIDDLEWARE ORDER:
//  1. RequestID — assigns a unique ID for tracing
//  2. RealIP — extracts the client IP from proxy headers
//  3. Recoverer — turns panics into 500s instead of crashes
//  4. Logger — logs each request with timing
//  5. Principal — extracts JWT / session identity into the context
//
// Principal never rejects; routes that require identity add
// auth.RequireIdentity on their subtree.
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.JWTExpiry)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService()

	retention := service.NewRetentionService(s.db, s.db, s.db, s.blobs, service.RetentionConfig{
		GraceWindow: s.config.EvictionGraceWindow,
		AnonTTL:     s.config.AnonymousClipTTL,
	}, s.logger)
	s.retention = retention

	accounts := service.NewAccountService(s.db, tokens, passwords, service.AccountConfig{
		AllowAnonymous:        s.config.AllowAnonymous,
		DefaultMaxClips:       s.config.MaxClipsPerUser,
		DefaultStorageQuota:   s.config.DefaultStorageQuota,
		AnonymousMaxClips:     s.config.AnonymousMaxClips,
		AnonymousStorageQuota: s.config.AnonymousStorageQuota,
	}, s.logger)

	clips := service.NewClipService(s.db, s.db, s.blobs, retention, passwords, s.logger)

	files := service.NewFileService(s.db, s.db, s.blobs, service.FileLimits{
		MaxFileSize:          s.config.MaxFileSize,
		AnonymousMaxFileSize: s.config.AnonymousMaxFileSize,
	}, s.logger)

	authHandler := handler.NewAuthHandler(accounts, s.logger)
	clipHandler := handler.NewClipHandler(clips, accounts, retention, s.logger)
	fileHandler := handler.NewFileHandler(files, accounts, s.logger)
	adminHandler := handler.NewAdminHandler(retention, accounts, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(auth.Principal(tokens))

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/anonymous", authHandler.HandleAnonymous)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(auth.RequireIdentity()).Get("/me", authHandler.HandleMe)
		})

		// Share links work without any identity at all.
		r.Get("/shared/{token}", clipHandler.HandleGetShared)
		r.Post("/shared/{token}/access", clipHandler.HandleAccessEncrypted)

		// Downloads tolerate missing identity for files on shared clips.
		r.Get("/files/{id}/download", fileHandler.HandleDownload)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireIdentity())

			r.Get("/clips", clipHandler.HandleList)
			r.Post("/clips", clipHandler.HandleCreate)
			r.Get("/clips/{id}", clipHandler.HandleGet)
			r.Put("/clips/{id}", clipHandler.HandleUpdate)
			r.Delete("/clips/{id}", clipHandler.HandleDelete)
			r.Post("/clips/{id}/pin", clipHandler.HandlePin)
			r.Delete("/clips/{id}/pin", clipHandler.HandleUnpin)

			r.Get("/files", fileHandler.HandleList)
			r.Post("/files", fileHandler.HandleUpload)
			r.Get("/files/{id}", fileHandler.HandleGet)
			r.Delete("/files/{id}", fileHandler.HandleDelete)

			r.Get("/stats", clipHandler.HandleStats)

			r.Post("/admin/cleanup", adminHandler.HandleCleanup)
			r.Get("/admin/stats", adminHandler.HandleStats)
		})
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, drain in-flight requests for up
// to 30 seconds, close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  60 * time.Second, // uploads can be slow
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("storage", s.config.StoragePath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Handler exposes the router for tests that drive the API with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
