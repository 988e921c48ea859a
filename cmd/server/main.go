package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/auth"
	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/internal/db"
	"gitlab.com/secp/services/syncroom/internal/hub"
	"gitlab.com/secp/services/syncroom/internal/logger"
	"gitlab.com/secp/services/syncroom/internal/presence"
	"gitlab.com/secp/services/syncroom/internal/queue"
	"gitlab.com/secp/services/syncroom/internal/ratelimit"
	"gitlab.com/secp/services/syncroom/internal/rooms"
	"gitlab.com/secp/services/syncroom/internal/server"
	"gitlab.com/secp/services/syncroom/internal/storage"
	"gitlab.com/secp/services/syncroom/internal/tracks"
	"gitlab.com/secp/services/syncroom/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting syncroom server", zap.String("driver", cfg.Database.Driver))

	// Initialize database
	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	files, err := migrations.For(database.Driver)
	if err != nil {
		log.Fatal("Failed to load migrations", zap.Error(err))
	}
	if err := database.RunMigrations(files); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize services
	authService := auth.NewService(database, cfg.Auth.Secret, cfg.Auth.TokenTTL)
	roomService := rooms.NewService(database, log)

	var resolver tracks.Resolver
	if cfg.Youtube.APIKey != "" {
		yt, err := tracks.NewYouTube(context.Background(), cfg.Youtube.APIKey, log)
		if err != nil {
			log.Warn("Failed to initialize YouTube lookups (metadata enrichment disabled)", zap.Error(err))
		} else {
			resolver = yt
		}
	}
	queueService := queue.NewService(database, resolver, log)

	storageService, err := storage.NewService(cfg.S3, log)
	if err != nil {
		log.Warn("Failed to initialize storage service (thumbnail uploads disabled)", zap.Error(err))
		storageService = nil
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := storageService.EnsureBucket(ctx); err != nil {
			log.Warn("Thumbnail bucket unavailable", zap.Error(err))
		}
		cancel()
	}

	// Initialize rate limiter
	rateLimiter := ratelimit.NewLimiter(database.Redis, ratelimit.LimitsFromConfig(cfg.RateLimit), log)

	hubService := hub.NewService(roomService, presence.NewTracker(cfg.Presence.Dedupe), rateLimiter, log)

	srv := server.New(server.Deps{
		DB:      database,
		Auth:    authService,
		Rooms:   roomService,
		Queue:   queueService,
		Hub:     hubService,
		Storage: storageService,
		Limiter: rateLimiter,
		Origins: cfg.HTTP.AllowedOrigins,
		Log:     log,
	})

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
