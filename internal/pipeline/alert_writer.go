package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"f1-telemetry/stream-processor/internal/domain"
)

type AlertStore interface {
	InsertAnomaly(ctx context.Context, ev domain.AnomalyEvent) error
}

type AlertBus interface {
	ClaimAlert(ctx context.Context, carID string, kind domain.AnomalyKind) (bool, error)
	PublishAlert(ctx context.Context, carID string, payload []byte) error
}

// AlertWriter persists and broadcasts detected anomalies. A sustained
// excursion fires on every record while it lasts, so each (car, kind) pair
// is claimed in the bus first and repeats are skipped. Either dependency may
// be nil.
type AlertWriter struct {
	ch  <-chan *domain.Result
	db  AlertStore
	bus AlertBus
	log *slog.Logger
}

func NewAlertWriter(ch <-chan *domain.Result, db AlertStore, bus AlertBus, log *slog.Logger) *AlertWriter {
	return &AlertWriter{ch: ch, db: db, bus: bus, log: log}
}

func (w *AlertWriter) Run(ctx context.Context) {
	for {
		select {
		case res, ok := <-w.ch:
			if !ok {
				return
			}
			for _, ev := range res.Anomalies {
				w.handle(ctx, ev)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (w *AlertWriter) handle(ctx context.Context, ev domain.AnomalyEvent) {
	if w.bus != nil {
		claimed, err := w.bus.ClaimAlert(ctx, ev.CarID, ev.Kind)
		if err != nil {
			w.log.Warn("alert dedup check failed", slog.String("car_id", ev.CarID), slog.String("anomaly_type", string(ev.Kind)), slog.Any("error", err))
			return
		}
		if !claimed {
			return
		}
	}

	if w.db != nil {
		if err := w.db.InsertAnomaly(ctx, ev); err != nil {
			w.log.Warn("alert insert failed", slog.String("car_id", ev.CarID), slog.Any("error", err))
			return
		}
	}

	if w.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"car_id":       ev.CarID,
		"anomaly_type": string(ev.Kind),
		"severity":     string(ev.Severity),
		"value":        ev.Value,
		"threshold":    ev.Threshold,
		"message":      ev.Message,
		"triggered_at": ev.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := w.bus.PublishAlert(ctx, ev.CarID, payload); err != nil {
		w.log.Warn("alert publish failed", slog.String("car_id", ev.CarID), slog.Any("error", err))
	}
}
