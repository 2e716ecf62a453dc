package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"cracknum-backend/internal/config"
	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"
	"cracknum-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// CreateStorage returns an S3 provider when an endpoint is configured and a
// local directory provider otherwise. The task buckets are created either way.
func CreateStorage(ctx context.Context, cfg config.Storage, fallbackDir string) (storage.Provider, error) {
	var (
		provider storage.Provider
		err      error
	)

	if cfg.UseS3() {
		slog.Info("using s3 storage", "endpoint", cfg.S3EndpointURL, "region", cfg.S3Region)
		provider, err = storage.NewS3Provider(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	} else {
		dir := cfg.Dir
		if dir == "" {
			dir = fallbackDir
		}
		slog.Info("using local storage", "dir", dir)
		provider, err = storage.NewLocalProvider(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating storage provider: %w", err)
	}

	if err := storage.CreateBuckets(ctx, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

func NewRouter(origins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	return r
}

// RunServer serves until the context is cancelled, then shuts down gracefully.
func RunServer(ctx context.Context, server *http.Server) error {
	errs := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", server.Addr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// PurgeRevokedTokens periodically drops revocation records of tokens that have
// expired on their own.
func PurgeRevokedTokens(ctx context.Context, db *gorm.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := database.PurgeExpiredTokens(ctx, db, now); err != nil {
				slog.Error("error purging revoked tokens", "error", err)
			}
		}
	}
}

// RequeueTasks republishes tasks that were queued but never picked up.
func RequeueTasks(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	tasks, err := database.ListTasksByStatus(ctx, db, database.TaskQueued)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if err := publisher.PublishCrackTask(ctx, messaging.CrackTaskPayload{TaskId: task.Id, Salt: task.Salt}); err != nil {
			return fmt.Errorf("error requeueing task %s: %w", task.Id, err)
		}
		slog.Info("requeued task", "task_id", task.Id)
	}
	return nil
}
