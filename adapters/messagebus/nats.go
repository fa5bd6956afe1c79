// Package messagebus provides broker-backed implementations of
// transport.MessageBus.
package messagebus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/freyr/offer/transport"
)

// NATSConfig configures the NATS adapter.
type NATSConfig struct {
	URL               string
	MaxReconnects     int
	ReconnectWait     time.Duration
	DrainTimeout      time.Duration
	ConnectionTimeout time.Duration
	TLS               *tls.Config
	Token             string
	Username          string
	Password          string
}

// Validate checks the configuration.
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	return nil
}

// DefaultNATSConfig returns the default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		DrainTimeout:      30 * time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// NATSBus implements transport.MessageBus over NATS.
type NATSBus struct {
	config NATSConfig
	conn   *nats.Conn
	subs   map[string]*nats.Subscription
	mu     sync.Mutex
	logger *slog.Logger
}

// NewNATSBus connects to NATS with the given configuration. A nil logger
// falls back to slog.Default.
func NewNATSBus(config NATSConfig, logger *slog.Logger) (*NATSBus, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.ConnectionTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if config.TLS != nil {
		opts = append(opts, nats.Secure(config.TLS))
	}
	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	}
	if config.Username != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSBus{
		config: config,
		conn:   conn,
		subs:   make(map[string]*nats.Subscription),
		logger: logger,
	}, nil
}

func (n *NATSBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if len(headers) > 0 {
		msg.Header = make(nats.Header, len(headers))
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (n *NATSBus) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		m := &transport.Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			Headers: make(map[string]string),
		}
		for k, vals := range msg.Header {
			if len(vals) > 0 {
				m.Headers[k] = vals[0]
			}
		}
		if err := handler(ctx, m); err != nil {
			n.logger.Error("nats handler failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	n.mu.Lock()
	n.subs[subject] = sub
	n.mu.Unlock()
	return nil
}

func (n *NATSBus) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	sub, ok := n.subs[subject]
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", subject, err)
	}
	delete(n.subs, subject)
	return nil
}

func (n *NATSBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for subject, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, subject)
	}
	if n.conn != nil && n.conn.IsConnected() {
		_ = n.conn.Drain()
		n.conn.Close()
	}
	return nil
}
