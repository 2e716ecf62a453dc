package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"cracknum-backend/cmd"
	"cracknum-backend/internal/config"
	"cracknum-backend/internal/core"
	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.CreateStorage(ctx, cfg.Storage, filepath.Join(cfg.Worker.RuntimeDir, "storage"))
	if err != nil {
		log.Fatalf("Worker: Failed to create storage: %v", err)
	}

	job, err := core.NewJob(cfg.Hashcat, core.DefaultTimings())
	if err != nil {
		log.Fatalf("Worker: Invalid hashcat configuration: %v", err)
	}
	if !cfg.Hashcat.AllowExecution {
		log.Println("Warning: ALLOW_EXECUTION=false, every crack task will fail without running hashcat.")
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.Worker.Concurrency)
	if err != nil {
		log.Fatalf("Worker: Failed to connect to RabbitMQ: %v", err)
	}

	processor := core.NewTaskProcessor(db, store, receiver, job, cfg.Worker)

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Start()
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, waiting for running tasks to finish...")
		processor.Stop()
		<-done
	case <-done:
	}

	log.Println("Worker process stopped.")
}
