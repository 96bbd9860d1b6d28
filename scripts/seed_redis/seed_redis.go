package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"f1-telemetry/stream-processor/internal/config"
	"f1-telemetry/stream-processor/internal/store"
)

// Key pattern: processor:auth:{api_key} → owner. The authenticator reads
// these when AUTH_REDIS_LOOKUP is on. They never expire.
var apiKeys = map[string]string{
	"pitwall_maranello_key": "pitwall_maranello",
	"trackside_garage_key":  "trackside_garage",
	"simulator_key":         "sensor_simulator",
	"test_key":              "test",
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	cfg := config.Load()
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rdb.Close()
	fmt.Println("✓ Connected")

	step1APIKeys(ctx, rdb)
	step2Verify(ctx, rdb)

	fmt.Println("\n✅ Redis seeded successfully")
}

func step1APIKeys(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	for key, owner := range apiKeys {
		if err := rdb.SetAPIKey(ctx, key, owner); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", store.APIKeyKey(key), owner)
	}
}

func step2Verify(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	keys, err := rdb.Client().Keys(ctx, store.APIKeyKey("*")).Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	owner, err := rdb.GetAPIKey(ctx, "test_key")
	if err != nil || owner == "" {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: %s → %s\n", store.APIKeyKey("test_key"), owner)
}
