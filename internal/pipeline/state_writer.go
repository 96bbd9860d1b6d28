package pipeline

import (
	"context"
	"log/slog"
	"time"

	"f1-telemetry/stream-processor/internal/domain"
)

type StateStore interface {
	PipelineStateUpdate(ctx context.Context, res *domain.Result) error
}

// StateWriter mirrors each car's latest pit-stop view into Redis for the
// pit-wall dashboards.
type StateWriter struct {
	ch    <-chan *domain.Result
	redis StateStore
	log   *slog.Logger
}

func NewStateWriter(ch <-chan *domain.Result, redis StateStore, log *slog.Logger) *StateWriter {
	return &StateWriter{ch: ch, redis: redis, log: log}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.Result, 0, 100)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-w.ch:
			if !ok {
				w.flushBatch(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, res)
			if len(batch) >= 100 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

// flushBatch only writes the newest result per car; older ones in the same
// batch would be overwritten immediately anyway.
func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.Result) {
	latest := make(map[string]*domain.Result, len(batch))
	order := make([]string, 0, len(batch))
	for _, res := range batch {
		if _, ok := latest[res.Record.CarID]; !ok {
			order = append(order, res.Record.CarID)
		}
		latest[res.Record.CarID] = res
	}

	for _, carID := range order {
		if err := w.redis.PipelineStateUpdate(ctx, latest[carID]); err != nil {
			w.log.Warn("redis state update failed", slog.String("car_id", carID), slog.Any("error", err))
		}
	}
}
