package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"f1-telemetry/stream-processor/internal/config"
)

// Handler processes one raw message. A returned error stops the consumer.
type Handler interface {
	Handle(ctx context.Context, source string, raw []byte) error
}

type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	log     *slog.Logger
}

func NewConsumer(cfg *config.Config, handler Handler, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        100 * time.Millisecond,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, handler: handler, log: log}
}

// Run consumes until ctx is cancelled. Offsets are committed in the
// background by the reader's group session.
func (c *Consumer) Run(ctx context.Context) error {
	rc := c.reader.Config()
	c.log.Info("kafka consumer started",
		slog.String("topic", rc.Topic),
		slog.String("group_id", rc.GroupID),
		slog.Any("brokers", rc.Brokers),
	)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("kafka read failed: %w", err)
		}

		source := fmt.Sprintf("kafka:%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		if err := c.handler.Handle(ctx, source, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
