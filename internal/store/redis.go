package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"f1-telemetry/stream-processor/internal/config"
	"f1-telemetry/stream-processor/internal/domain"
)

const (
	stateTTL      = 30 * time.Second
	alertDedupTTL = 5 * time.Minute
	apiKeyPrefix  = "processor:auth:"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, e.g. one pointed at miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func PitStopKey(carID string) string { return fmt.Sprintf("car:%s:pitstop", carID) }

func UpdatesChannel(carID string) string { return fmt.Sprintf("car:%s:updates", carID) }

func AlertsChannel(carID string) string { return fmt.Sprintf("car:%s:alerts", carID) }

func APIKeyKey(apiKey string) string { return apiKeyPrefix + apiKey }

// PipelineStateUpdate stores the latest pit-stop view of a car and announces
// it on the car's update channel in one round trip.
func (r *RedisStore) PipelineStateUpdate(ctx context.Context, res *domain.Result) error {
	rec := &res.Record
	pit := &res.PitStop
	stateData := map[string]interface{}{
		"car_id":            rec.CarID,
		"driver":            rec.Driver,
		"lap":               rec.Lap,
		"score":             pit.Score,
		"urgency":           string(pit.Urgency),
		"recommendation":    pit.Recommendation,
		"tire_wear":         pit.TireWear,
		"speed_loss":        pit.SpeedLoss,
		"brake_degradation": pit.BrakeDegradation,
		"anomalies":         len(res.Anomalies),
		"timestamp":         rec.Timestamp.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	key := PitStopKey(rec.CarID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, stateData)
	pipe.Expire(ctx, key, stateTTL)
	pipe.Publish(ctx, UpdatesChannel(rec.CarID), pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, APIKeyKey(apiKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) SetAPIKey(ctx context.Context, apiKey, owner string) error {
	return r.client.Set(ctx, APIKeyKey(apiKey), owner, 0).Err()
}

// ClaimAlert reports true the first time an anomaly kind fires for a car
// within the dedup window, and false for repeats.
func (r *RedisStore) ClaimAlert(ctx context.Context, carID string, kind domain.AnomalyKind) (bool, error) {
	key := fmt.Sprintf("alert:%s:%s", carID, string(kind))
	ok, err := r.client.SetNX(ctx, key, "1", alertDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, carID string, payload []byte) error {
	return r.client.Publish(ctx, AlertsChannel(carID), payload).Err()
}
