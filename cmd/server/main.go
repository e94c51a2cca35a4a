package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realizacred/mais-energia-solar-sub003/internal/audit"
	"github.com/realizacred/mais-energia-solar-sub003/internal/cache"
	"github.com/realizacred/mais-energia-solar-sub003/internal/catalog"
	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/ingest"
	"github.com/realizacred/mais-energia-solar-sub003/internal/jobs"
	"github.com/realizacred/mais-energia-solar-sub003/internal/purge"
	"github.com/realizacred/mais-energia-solar-sub003/internal/queue"
	"github.com/realizacred/mais-energia-solar-sub003/internal/server"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
	"github.com/realizacred/mais-energia-solar-sub003/pkg/config"
)

const datasetSeedFile = "seed/datasets.csv"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Irradiance Server...")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	seedCatalog(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicImports)
	defer producer.Close()

	resolver := cache.NewResolver(redisClient, db, cfg.Ingest.CacheTTL)

	httpServer := server.NewHTTPServer(
		&cfg.HTTP,
		db,
		version.NewManager(db),
		ingest.NewCoordinator(db, cfg.Ingest.BatchSize),
		jobs.NewTracker(db),
		audit.NewAuditor(db, cfg.Coverage),
		resolver,
		purge.NewCoordinator(db, resolver),
		producer,
	)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	fmt.Println("\n✓ Irradiance Server is running")
	fmt.Printf("✓ API listening on port %d\n", cfg.HTTP.Port)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		fmt.Printf("HTTP shutdown error: %v\n", err)
	}
	fmt.Println("Irradiance Server stopped")
}

// seedCatalog loads the shipped dataset catalog. Missing seed file is
// fine: the catalog may already be populated, or datasets get upserted
// by hand.
func seedCatalog(db *database.DB) {
	f, err := os.Open(datasetSeedFile)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Fatalf("Failed to open dataset seed: %v", err)
	}
	defer f.Close()

	registry := catalog.NewRegistry(db)
	n, err := registry.SeedFromCSV(context.Background(), f)
	if err != nil {
		log.Fatalf("Failed to seed dataset catalog: %v", err)
	}
	fmt.Printf("Dataset catalog seeded (%d entries)\n", n)
}
