package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/ingest"
)

type Processor interface {
	Process(ctx context.Context, rec domain.TelemetryRecord) (domain.Result, error)
}

// MessageHandler turns raw broker payloads into processed results. Broker
// consumers share it so that Kafka and MQTT behave the same way.
type MessageHandler struct {
	proc Processor
	out  *Dispatcher
	log  *slog.Logger
}

func NewMessageHandler(proc Processor, out *Dispatcher, log *slog.Logger) *MessageHandler {
	return &MessageHandler{proc: proc, out: out, log: log}
}

// Handle decodes and processes one message. Bad messages are logged and
// swallowed; only a stopped processor or a cancelled ctx is returned.
func (h *MessageHandler) Handle(ctx context.Context, source string, raw []byte) error {
	rec, err := ingest.Decode(raw)
	if err != nil {
		h.log.Debug("skipping invalid message", slog.String("source", source), slog.Any("error", err))
		return nil
	}

	res, err := h.proc.Process(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrProcessorStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrOutOfOrder):
		h.log.Debug("skipping out-of-order message", slog.String("source", source), slog.Any("error", err))
		return nil
	default:
		h.log.Error("message processing failed",
			slog.String("source", source),
			slog.String("car_id", rec.CarID),
			slog.Any("error", err),
		)
		return nil
	}

	if h.out != nil {
		h.out.Dispatch(&res)
	}
	return nil
}
