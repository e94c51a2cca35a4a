package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/realizacred/mais-energia-solar-sub003/internal/catalog"
	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/ingest"
	"github.com/realizacred/mais-energia-solar-sub003/internal/jobs"
	"github.com/realizacred/mais-energia-solar-sub003/internal/queue"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
	"github.com/realizacred/mais-energia-solar-sub003/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Irradiance Importer...")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicImports, cfg.Kafka.GroupID)
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	worker := queue.NewImportWorker(
		consumer,
		jobs.NewTracker(db),
		version.NewManager(db),
		ingest.NewCoordinator(db, cfg.Ingest.BatchSize),
		catalog.NewRegistry(db),
		&http.Client{Timeout: cfg.Ingest.DownloadTimeout},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start import worker: %v", err)
	}
	fmt.Println("Import worker started")

	// Print consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := consumer.Stats()
			fmt.Printf("Consumer stats: Messages=%d, Bytes=%d, Errors=%d\n",
				stats.Messages, stats.Bytes, stats.Errors)
		}
	}()

	fmt.Println("\n✓ Irradiance Importer is running")
	fmt.Printf("✓ Consuming from topic %s\n", cfg.Kafka.TopicImports)
	fmt.Println("✓ Press Ctrl+C to stop")
	fmt.Println("\nWaiting for import requests...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	worker.Stop()
	fmt.Println("Irradiance Importer stopped")
}
