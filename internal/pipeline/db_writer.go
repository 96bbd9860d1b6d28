package pipeline

import (
	"context"
	"log/slog"
	"time"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/metrics"
)

type SummaryStore interface {
	BatchInsert(ctx context.Context, results []*domain.Result) error
}

// DBWriter batches per-record summaries into the relational store.
type DBWriter struct {
	ch         <-chan *domain.Result
	db         SummaryStore
	log        *slog.Logger
	batchSize  int
	flushMS    int
	retryDelay time.Duration
}

func NewDBWriter(
	ch <-chan *domain.Result,
	db SummaryStore,
	log *slog.Logger,
	batchSize int,
	flushMS int,
) *DBWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMS <= 0 {
		flushMS = 100
	}
	return &DBWriter{
		ch:         ch,
		db:         db,
		log:        log,
		batchSize:  batchSize,
		flushMS:    flushMS,
		retryDelay: 500 * time.Millisecond,
	}
}

// Run drains the channel until it is closed. Pending rows are flushed on
// exit with a fresh context so shutdown does not lose the last batch.
func (w *DBWriter) Run(ctx context.Context) {
	batch := make([]*domain.Result, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.WithoutCancel(ctx), batch)
				}
				return
			}
			batch = append(batch, res)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.WithoutCancel(ctx), batch)
			}
			return
		}
	}
}

func (w *DBWriter) flush(ctx context.Context, batch []*domain.Result) {
	err := w.db.BatchInsert(ctx, batch)
	if err != nil {
		w.log.Warn("summary batch write failed, retrying", slog.Int("batch", len(batch)), slog.Any("error", err))
		time.Sleep(w.retryDelay)
		err = w.db.BatchInsert(ctx, batch)
		if err != nil {
			w.log.Error("summary batch permanently failed", slog.Int("batch", len(batch)), slog.Any("error", err))
			metrics.DBWriteFailures.Add(float64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(float64(len(batch)))
}
