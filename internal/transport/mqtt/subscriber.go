package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"f1-telemetry/stream-processor/internal/config"
)

const keepAlive = 30 * time.Second

// Handler processes one raw message. A returned error stops the subscriber.
type Handler interface {
	Handle(ctx context.Context, source string, raw []byte) error
}

type Subscriber struct {
	broker   string
	topic    string
	clientID string
	handler  Handler
	log      *slog.Logger
}

func NewSubscriber(cfg *config.Config, handler Handler, log *slog.Logger) *Subscriber {
	return &Subscriber{
		broker:   cfg.MQTTBroker,
		topic:    cfg.MQTTTopic,
		clientID: cfg.MQTTClientID,
		handler:  handler,
		log:      log,
	}
}

// Run connects, subscribes and blocks until ctx ends or the connection is
// lost. Messages are handled one at a time on paho's receive goroutine, so
// the per-car order on the topic is kept.
func (s *Subscriber) Run(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.broker)
	if err != nil {
		return fmt.Errorf("mqtt dial %s failed: %w", s.broker, err)
	}

	fatal := make(chan error, 2)
	report := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: s.clientID,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				source := "mqtt:" + pr.Packet.Topic
				if err := s.handler.Handle(ctx, source, pr.Packet.Payload); err != nil {
					report(err)
					return true, err
				}
				return true, nil
			},
		},
		OnClientError: func(err error) { report(fmt.Errorf("mqtt client error: %w", err)) },
		OnServerDisconnect: func(disc *paho.Disconnect) {
			report(fmt.Errorf("mqtt server disconnected (reason %d)", disc.ReasonCode))
		},
	})

	ca, err := client.Connect(ctx, &paho.Connect{
		ClientID:   s.clientID,
		KeepAlive:  uint16(keepAlive.Seconds()),
		CleanStart: true,
	})
	if err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	if ca.ReasonCode != 0 {
		return fmt.Errorf("mqtt connect refused (reason %d)", ca.ReasonCode)
	}

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: s.topic, QoS: 1}},
	}); err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("mqtt subscribe %s failed: %w", s.topic, err)
	}

	s.log.Info("mqtt subscriber started",
		slog.String("broker", s.broker),
		slog.String("topic", s.topic),
		slog.String("client_id", s.clientID),
	)

	select {
	case <-ctx.Done():
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil
	case err := <-fatal:
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
