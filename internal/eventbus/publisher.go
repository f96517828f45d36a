package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// Publisher drains unpublished outbox rows and republishes them onto
// DOMAIN_EVENTS.<aggregate_type>, the same decoupling pattern the teacher
// uses across every service: the write path only ever inserts an outbox
// row in-transaction, and a separate loop is responsible for fan-out.
type Publisher struct {
	client   *Client
	events   repository.EventRepository
	interval time.Duration
	logger   *zap.Logger
}

func NewPublisher(client *Client, events repository.EventRepository, interval time.Duration, logger *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Publisher{client: client, events: events, interval: interval, logger: logger}
}

// Run polls ListUnpublishedOutboxEvents on a ticker until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.logger.Info("outbox publisher started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	events, err := p.events.ListUnpublishedOutboxEvents(ctx, 100)
	if err != nil {
		p.logger.Error("list unpublished outbox events", zap.Error(err))
		return
	}
	for _, e := range events {
		if err := p.publish(ctx, e); err != nil {
			p.logger.Error("publish outbox event", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		if err := p.events.MarkOutboxPublished(ctx, e.ID); err != nil {
			p.logger.Error("mark outbox published", zap.String("id", e.ID), zap.Error(err))
		}
	}
}

func (p *Publisher) publish(ctx context.Context, e domain.OutboxEvent) error {
	subject := fmt.Sprintf("DOMAIN_EVENTS.%s", e.AggregateType)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	_, err = p.client.JS.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("JS.Publish: %w", err)
	}
	return nil
}
