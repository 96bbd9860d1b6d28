package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"f1-telemetry/stream-processor/internal/domain"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestPipelineStateUpdate(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()

	sub := rs.Client().Subscribe(ctx, UpdatesChannel("16"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	res := &domain.Result{
		Record: domain.TelemetryRecord{
			CarID:     "16",
			Driver:    "Charles Leclerc",
			Lap:       31,
			Timestamp: time.Date(2024, 5, 26, 14, 0, 0, 0, time.UTC),
		},
		PitStop: domain.PitStopRecommendation{
			CarID:          "16",
			Lap:            31,
			Score:          77.25,
			Urgency:        domain.UrgencyHigh,
			Recommendation: domain.RecommendationHigh,
			TireWear:       80,
		},
	}
	require.NoError(t, rs.PipelineStateUpdate(ctx, res))

	key := PitStopKey("16")
	assert.Equal(t, "car:16:pitstop", key)
	assert.Equal(t, "77.25", mr.HGet(key, "score"))
	assert.Equal(t, "high", mr.HGet(key, "urgency"))
	assert.Equal(t, "31", mr.HGet(key, "lap"))
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "16", payload["car_id"])
	assert.Equal(t, 77.25, payload["score"])

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists(key))
}

func TestAPIKeys(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	owner, err := rs.GetAPIKey(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, owner)

	require.NoError(t, rs.SetAPIKey(ctx, "pitwall_key", "pitwall"))
	owner, err = rs.GetAPIKey(ctx, "pitwall_key")
	require.NoError(t, err)
	assert.Equal(t, "pitwall", owner)
}

func TestClaimAlertDeduplicatesWithinWindow(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()
	kind := domain.BrakeOverheat(domain.FrontLeft)

	first, err := rs.ClaimAlert(ctx, "16", kind)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := rs.ClaimAlert(ctx, "16", kind)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := rs.ClaimAlert(ctx, "55", kind)
	require.NoError(t, err)
	assert.True(t, other)

	mr.FastForward(5*time.Minute + time.Second)
	later, err := rs.ClaimAlert(ctx, "16", kind)
	require.NoError(t, err)
	assert.True(t, later)
}

func TestRedisErrorsSurface(t *testing.T) {
	rs, mr := newTestRedis(t)
	mr.Close()

	_, err := rs.GetAPIKey(context.Background(), "k")
	assert.Error(t, err)
	_, err = rs.ClaimAlert(context.Background(), "16", domain.TireOverheat(domain.RearLeft))
	assert.Error(t, err)
}
