package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crabmiau/loaf/internal/logger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures the optional multi-frontend fan-out transport
// (SPEC_FULL.md §B "DOMAIN STACK" C8/C9 wiring). A single-process loaf runtime
// never needs this; it exists for deployments where more than one JSON-RPC
// frontend (out of core scope) wants runtime notifications.
type NATSConfig struct {
	URL           string
	ClientID      string
	MaxReconnects int
}

// NATSBus implements Bus over a NATS connection, adapted from the
// teacher's NATSEventBus with the request/reply and queue-group surface
// dropped (loaf's fan-out is publish/subscribe only).
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

func NewNATSBus(cfg NATSConfig, log *logger.Logger) (*NATSBus, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "eventbus.nats"))

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSBus{conn: conn, logger: log}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping malformed nats event", zap.Error(err))
			return
		}
		if err := handler(context.Background(), &event); err != nil {
			b.logger.Warn("eventbus handler error", zap.String("subject", subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Close() {
	b.conn.Close()
}

func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() {
	_ = s.sub.Unsubscribe()
}
