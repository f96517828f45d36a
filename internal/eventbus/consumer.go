package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

// PoisonPillError wraps structural parse failures in a consumed domain
// event. Handlers return it instead of a plain error for malformed
// payloads; the pull loop terminates these messages instead of
// redelivering them, mirroring trm-service's dictionary consumer.
type PoisonPillError struct{ Msg string }

func (e *PoisonPillError) Error() string { return "poison pill: " + e.Msg }

// Handler processes one decoded OutboxEvent. Returning a *PoisonPillError
// terminates the message; any other error NAKs it for redelivery.
type Handler func(ctx context.Context, event domain.OutboxEvent) error

// Consumer is a durable JetStream pull subscriber over DOMAIN_EVENTS.
type Consumer struct {
	client      *Client
	durableName string
	subject     string
	handler     Handler
	logger      *zap.Logger
}

func NewConsumer(client *Client, durableName, subjectFilter string, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{client: client, durableName: durableName, subject: subjectFilter, handler: handler, logger: logger}
}

// Start creates a durable pull subscription and runs the fetch loop in a
// background goroutine until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.client.JS.PullSubscribe(
		c.subject,
		c.durableName,
		nats.BindStream(StreamDomainEvents),
	)
	if err != nil {
		return fmt.Errorf("PullSubscribe: %w", err)
	}

	c.logger.Info("consumer initialised",
		zap.String("stream", StreamDomainEvents),
		zap.String("durable", c.durableName),
		zap.String("subject", c.subject),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopping", zap.String("durable", c.durableName))
				return
			default:
				msgs, err := sub.Fetch(10, nats.Context(ctx))
				if err != nil {
					continue // nats.ErrTimeout on an empty queue is expected
				}
				for _, msg := range msgs {
					c.processMessage(ctx, msg)
				}
			}
		}
	}()
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg *nats.Msg) {
	err := c.processData(ctx, msg.Data)
	if err != nil {
		var ppe *PoisonPillError
		if errors.As(err, &ppe) {
			c.logger.Warn("terminating poison-pill event", zap.Error(err))
			msg.Term()
			return
		}
		c.logger.Error("NAK event (transient error)", zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}

func (c *Consumer) processData(ctx context.Context, data []byte) error {
	var event domain.OutboxEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return &PoisonPillError{Msg: fmt.Sprintf("unmarshal envelope: %v", err)}
	}
	return c.handler(ctx, event)
}
