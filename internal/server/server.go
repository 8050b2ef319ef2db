// Package server is the composition root: it opens the database, builds
// services and handlers, mounts routes, and runs the HTTP server with
// graceful shutdown.
//
// Dependency flow:
//
//	sqlite.DB → UserService ─┬→ UserHandler
//	          → ContributionService(UserService) → ContributionHandler
//	                         └→ auth.RequireUser
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/automata/internal/auth"
	"github.com/sakif/automata/internal/config"
	"github.com/sakif/automata/internal/handler"
	"github.com/sakif/automata/internal/idcodec"
	"github.com/sakif/automata/internal/middleware"
	sqliteRepo "github.com/sakif/automata/internal/repository/sqlite"
	"github.com/sakif/automata/internal/service"
)

// Server owns the router and the database connection, which is closed when
// Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New opens the database and wires every layer. The caller must either call
// Start or Close.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return newServer(cfg, logger, auth.NewPasswordService())
}

func newServer(cfg *config.Config, logger *slog.Logger, passwords *auth.PasswordService) (*Server, error) {
	codec, err := idcodec.New(cfg.CodecOptions())
	if err != nil {
		return nil, fmt.Errorf("creating id codec: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	users := service.NewUserService(db.Users(), passwords, codec, cfg.Moderators, logger)
	contributions := service.NewContributionService(db.Contributions(), users, codec,
		service.ContributionOptions{
			RequireEditOwnership: cfg.Contributions.RequireEditOwnership,
			TagOrder:             cfg.TagOrder(),
		}, logger)

	s.setupRoutes(users, contributions)
	return s, nil
}

// setupRoutes mounts middleware and handlers.
//
// Middleware order: RequestID first so the logger sees the id, Recoverer
// inside the logger so panics are logged as 500s.
//
//	GET    /healthz
//	POST   /api/users
//	GET    /api/users/{username}
//	GET    /api/contributions                 ?limit&offset&tag|author
//	GET    /api/contributions/{publicId}
//	-- Basic auth required below --
//	GET    /api/me
//	POST   /api/contributions
//	PATCH  /api/contributions/{publicId}
//	DELETE /api/contributions/{publicId}
//	POST   /api/contributions/{publicId}/rate
//	POST   /api/contributions/{publicId}/messages
//	DELETE /api/contributions/{publicId}/messages/{messageId}
//	PUT    /api/contributions/{publicId}/review
func (s *Server) setupRoutes(users *service.UserService, contributions *service.ContributionService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	userHandler := handler.NewUserHandler(users, s.logger)
	contributionHandler := handler.NewContributionHandler(contributions, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/users", userHandler.HandleRegister)
		r.Get("/users/{username}", userHandler.HandleGet)
		r.Get("/contributions", contributionHandler.HandleList)
		r.Get("/contributions/{publicId}", contributionHandler.HandleGet)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(users))

			r.Get("/me", userHandler.HandleMe)
			r.Post("/contributions", contributionHandler.HandleSubmit)
			r.Patch("/contributions/{publicId}", contributionHandler.HandleEdit)
			r.Delete("/contributions/{publicId}", contributionHandler.HandleDelete)
			r.Post("/contributions/{publicId}/rate", contributionHandler.HandleRate)
			r.Post("/contributions/{publicId}/messages", contributionHandler.HandleAddMessage)
			r.Delete("/contributions/{publicId}/messages/{messageId}", contributionHandler.HandleDeleteMessage)
			r.Put("/contributions/{publicId}/review", contributionHandler.HandleReview)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Int("moderators", len(s.config.Moderators)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
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
