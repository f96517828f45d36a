// Package eventbus wraps NATS JetStream the way packages/go-core/natsclient
// does: one durable DOMAIN_EVENTS stream, a publisher that drains the
// outbox table, and pull consumers that classify failures into Term
// (poison pill) vs Nak (transient), per trm-service's dictionary consumer.
package eventbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamDomainEvents is the durable stream every published domain event
	// and outbox row lands on.
	StreamDomainEvents = "DOMAIN_EVENTS"
	// SubjectDomainEvents is the wildcard subject filter consumers bind to.
	SubjectDomainEvents = "DOMAIN_EVENTS.>"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initializes a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init JetStream: %w", err)
	}
	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// ProvisionStreams idempotently ensures the DOMAIN_EVENTS stream exists.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamDomainEvents)
	if err == nil {
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamDomainEvents))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("stream info: %w", err)
	}
	_, err = c.JS.AddStream(&nats.StreamConfig{
		Name:      StreamDomainEvents,
		Subjects:  []string{SubjectDomainEvents},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	c.Log.Info("NATS stream provisioned", zap.String("stream", StreamDomainEvents))
	return nil
}

// Close drains pending publishes and subscription deliveries before closing.
func (c *Client) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
	}
}
