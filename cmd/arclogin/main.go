package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/shindakun/arclogin/internal/auth"
	"github.com/shindakun/arclogin/internal/config"
	"github.com/shindakun/arclogin/internal/logging"
	"github.com/shindakun/arclogin/internal/metrics"
	"github.com/shindakun/arclogin/internal/storage"
	"github.com/shindakun/arclogin/internal/version"
	"github.com/shindakun/arclogin/internal/web/handlers"
	webmiddleware "github.com/shindakun/arclogin/internal/web/middleware"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.WithField("version", version.GetFullVersion()).Info("Starting arclogin")

	// Initialize database
	logger.WithField("path", cfg.Database.Path).Info("Initializing database")
	db, err := storage.InitDB(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	sessionManager := auth.InitSessions(cfg.Session.Secret, cfg.Session.MaxAge, cfg.CookieSecure(), cfg.CookieSameSite(), db)
	users, err := auth.NewUserService(db, 0)
	if err != nil {
		logger.Fatalf("Failed to initialize user service: %v", err)
	}

	m := metrics.New()

	h, err := handlers.New(sessionManager, users, m, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize handlers: %v", err)
	}

	r := newRouter(cfg, h, sessionManager, users, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessionManager.RunCleanup(ctx, cfg.Session.CleanupEvery, logger)

	// HTTP server configuration
	srv := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Infof("Server starting on %s", cfg.GetBaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return
	}

	logger.Info("Server exited successfully")
}

func newRouter(cfg *config.Config, h *handlers.Handlers, sessions *auth.SessionManager, users *auth.UserService, m *metrics.Metrics, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(webmiddleware.RequestLogger(logger))
	r.Use(webmiddleware.Metrics(m))
	r.Use(webmiddleware.Recover(logger, http.HandlerFunc(h.InternalError)))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(webmiddleware.SecurityHeaders(cfg))
	r.Use(webmiddleware.MaxBytesMiddleware(cfg.Server.Security.MaxRequestBytes))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	limiter := webmiddleware.NewLoginRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)

	// Pages and forms
	r.Group(func(r chi.Router) {
		if !cfg.Server.Security.CSRFDisabled {
			key := sha256.Sum256([]byte("csrf:" + cfg.Session.Secret))
			r.Use(webmiddleware.CSRFProtection(key[:], cfg.IsHTTPS()))
		}

		r.Get("/", h.Home)

		r.Get("/login", h.LoginPage)
		r.With(limiter.Middleware).Post("/login", h.Login)

		r.Get("/join", h.JoinPage)
		r.With(limiter.Middleware).Post("/join", h.Join)

		r.Post("/logout", h.Logout)

		r.With(webmiddleware.RequireUser(sessions, users, logger)).Get("/account", h.Account)
	})

	// 404 handler (must be last)
	r.NotFound(h.NotFound)

	return r
}
