package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/common/logger"
)

// NATSPubSub implements PubSub over NATS, for deployments that run more than
// one orchestrator replica and need broadcast to cross process boundaries.
type NATSPubSub struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSPubSub connects to NATS with the teacher's reconnect-handler wiring
// and returns a PubSub backed by the connection.
func NewNATSPubSub(cfg config.NATSConfig, log *logger.Logger) (*NATSPubSub, error) {
	opts := []nats.Option{
		nats.Name("agentcore-orchestrator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),

		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			} else {
				log.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				log.Error("NATS connection closed", zap.Error(err))
			} else {
				log.Info("NATS connection closed")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("NATS error", zap.Error(err), zap.String("subject", subject))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info("connected to NATS", zap.String("url", cfg.URL))
	return &NATSPubSub{conn: conn, log: log}, nil
}

func (p *NATSPubSub) Publish(_ context.Context, subject string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Error("failed to publish", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPubSub) Subscribe(subject string, handler func(payload map[string]any)) (Subscription, error) {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			p.log.Error("failed to unmarshal payload", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (p *NATSPubSub) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("error draining NATS connection", zap.Error(err))
		p.conn.Close()
	}
}

// IsConnected reports whether the underlying connection is currently active.
func (p *NATSPubSub) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

var _ PubSub = (*NATSPubSub)(nil)
