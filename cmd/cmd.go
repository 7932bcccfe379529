package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/content"
	"couple-sync-backend/internal/handlers"
	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	coupleRepo := repository.NewCoupleRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	completionRepo := repository.NewCompletionRepository(db)

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	coupleService := services.NewCoupleService(coupleRepo, userRepo)
	hintHub := services.NewHintHub()
	selector := content.NewProgressionSelector(db)

	hinters := []services.SyncHinter{hintHub}
	if cfg.APNS.Enabled {
		pushService, err := services.NewPushService(cfg.APNS, userRepo)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push service")
		}
		hinters = append(hinters, pushService)
	}

	syncService := services.NewSyncService(db, selector, cfg.Sync, hinters...)

	retentionService, err := services.NewRetentionService(activityRepo, completionRepo, cfg.AWS, cfg.Sync)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create retention service")
	}
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go retentionService.Run(retentionCtx)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	coupleHandler := handlers.NewCoupleHandler(coupleService)
	syncHandler := handlers.NewSyncHandler(syncService)
	hintHandler := handlers.NewHintHandler(hintHub, userService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))
			r.Put("/users/push-token", userHandler.UpdatePushToken)
			r.Post("/couples", coupleHandler.CreateCouple)
			r.Get("/couples/me", coupleHandler.GetCouple)
			r.Post("/sync/quests", syncHandler.SyncQuests)
			r.Post("/sessions", syncHandler.StartSession)
			r.Post("/sessions/{session_id}/answers", syncHandler.SubmitAnswers)
			r.Get("/sessions/{session_id}/pair", syncHandler.FetchPair)
			r.Get("/rewards/balance", syncHandler.GetBalance)
		})
	})

	// Hint channel route
	r.Get("/ws", hintHandler.HandleHintChannel)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	stopRetention()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
