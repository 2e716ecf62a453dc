package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cracknum-backend/cmd"
	"cracknum-backend/internal/api"
	"cracknum-backend/internal/config"
	"cracknum-backend/internal/core"
	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

// LocalConfig holds the settings of the single-process binary. Everything
// else comes from the shared config.
type LocalConfig struct {
	Root string `env:"ROOT" envDefault:"./cracknum"`
	Port int    `env:"PORT" envDefault:"8000"`
}

func main() {
	cmd.LoadEnvFile()

	var localCfg LocalConfig
	if err := env.Parse(&localCfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(localCfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(localCfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", localCfg.Root, "port", localCfg.Port, "allow_execution", cfg.Hashcat.AllowExecution)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = "sqlite://" + filepath.Join(localCfg.Root, "db", "cracknum.db")
	}
	db, err := database.NewDatabase(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.CreateStorage(ctx, cfg.Storage, filepath.Join(localCfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	if n, err := database.FailInterruptedTasks(ctx, db, "interrupted by backend restart"); err != nil {
		log.Fatalf("Failed to recover interrupted tasks: %v", err)
	} else if n > 0 {
		slog.Warn("marked interrupted tasks as failed", "count", n)
	}

	queue := messaging.NewInMemoryQueue()

	job, err := core.NewJob(cfg.Hashcat, core.DefaultTimings())
	if err != nil {
		log.Fatalf("Invalid hashcat configuration: %v", err)
	}

	workerCfg := cfg.Worker
	workerCfg.RuntimeDir = filepath.Join(localCfg.Root, "runtime")
	worker := core.NewTaskProcessor(db, store, queue, job, workerCfg)

	go cmd.PurgeRevokedTokens(ctx, db, time.Hour)

	r := cmd.NewRouter(cfg.CORSOrigins)
	api.NewBackendService(db, store, queue, api.NewAuthenticator(db, cfg.Auth)).AddRoutes(r)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", localCfg.Port),
		Handler: r,
	}

	slog.Info("starting worker")
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Start()
	}()

	if err := cmd.RequeueTasks(ctx, db, queue); err != nil {
		log.Fatalf("Failed to requeue tasks: %v", err)
	}

	if err := cmd.RunServer(ctx, server); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	slog.Info("shutting down worker")
	worker.Stop()
	<-workerDone

	slog.Info("server stopped")
}
