package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"f1-telemetry/stream-processor/internal/config"
	"f1-telemetry/stream-processor/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if cfg.DBHost == "" {
		cfg.DBHost = "localhost"
	}

	ctx := context.Background()

	fmt.Printf("Connecting to PostgreSQL at %s:%s/%s...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
	db, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure PostgreSQL is running:\n  docker-compose up -d postgres", err)
	}
	defer db.Close()
	fmt.Println("✓ Connected")

	step1Schema(ctx, db)
	step2Verify(ctx, db)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func step1Schema(ctx context.Context, db *store.PostgresStore) {
	fmt.Println("\n── Step 1: Tables and indexes ──────────────────")

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("FAILED: %v", err)
	}
	fmt.Println("  ✓ telemetry_data, anomaly_events and indexes")
}

func step2Verify(ctx context.Context, db *store.PostgresStore) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	for _, table := range []string{"telemetry_data", "anomaly_events"} {
		exists, err := db.TableExists(ctx, table)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}
}
