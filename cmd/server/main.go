// SparkPath - career assessment and wellness-check session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/sparkpath/internal/api"
	"github.com/ashureev/sparkpath/internal/catalog"
	"github.com/ashureev/sparkpath/internal/config"
	"github.com/ashureev/sparkpath/internal/dialogue"
	"github.com/ashureev/sparkpath/internal/health"
	"github.com/ashureev/sparkpath/internal/identity"
	"github.com/ashureev/sparkpath/internal/llm"
	"github.com/ashureev/sparkpath/internal/middleware"
	"github.com/ashureev/sparkpath/internal/socket"
	"github.com/ashureev/sparkpath/internal/store"
	"github.com/ashureev/sparkpath/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "auth_required", cfg.AuthRequired)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()
	if err := db.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)
	records := store.NewRecords(db)

	convLogger, err := transcript.New(cfg.ConversationLog, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := convLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	chatModel, err := llm.NewArkModel(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	gateway := llm.NewGateway(chatModel, cfg.LLMTimeout, logger)
	slog.Info("LLM gateway initialized", "model", cfg.LLM.Model, "timeout", cfg.LLMTimeout)

	cat := catalog.Default()
	engine := dialogue.NewEngine(dialogue.Deps{
		LLM:      gateway,
		Records:  records,
		Catalog:  cat,
		Sessions: dialogue.NewRegistry(),
		Mirror:   convLogger,
		Logger:   logger,
	})

	conns := socket.NewConnManager()
	limiter := socket.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Close()

	verifier := identity.NewVerifier(cfg.JWTSecret)
	if verifier == nil && cfg.AuthRequired {
		return errors.New("AUTH_REQUIRED is set but JWT_SECRET is empty")
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(records, cat, dialogue.NewStoryRanker(gateway, logger), func(err error) bool {
		return errors.Is(err, store.ErrNotFound)
	})
	healthHandler := api.NewHealthHandler(records, 5*time.Second, engine.ActiveSessions, conns.Count)
	wsHandler := socket.NewHandler(engine, conns, limiter, socket.Options{
		QueueSize:      cfg.WSQueueSize,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	})
	healthServer := health.NewServer(records, cfg.HealthProbeInterval, logger)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	r.Route("/api", func(r chi.Router) {
		// Public routes.
		healthHandler.RegisterHealth(r)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(verifier, cfg.AuthRequired))
			apiHandler.RegisterRoutes(r)
		})
	})

	// WebSocket endpoint.
	r.With(identity.Middleware(verifier, cfg.AuthRequired)).Get("/ws", wsHandler.ServeHTTP)

	// Note: WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return healthServer.Serve(lis)
	})
	g.Go(func() error {
		return healthServer.Run(gctx)
	})
	g.Go(func() error {
		// Wait for shutdown signal or a failed component.
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		healthServer.Stop()
		conns.CloseAll("server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
