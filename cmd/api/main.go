package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cracknum-backend/cmd"
	"cracknum-backend/internal/api"
	"cracknum-backend/internal/config"
	"cracknum-backend/internal/database"
	"cracknum-backend/internal/messaging"
)

func main() {
	log.Println("Starting API Server...")

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
		log.Fatalf("Failed to create storage: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	go cmd.PurgeRevokedTokens(ctx, db, time.Hour)

	r := cmd.NewRouter(cfg.CORSOrigins)
	service := api.NewBackendService(db, store, publisher, api.NewAuthenticator(db, cfg.Auth))
	service.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	if err := cmd.RunServer(ctx, server); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped.")
}
