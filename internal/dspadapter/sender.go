// Package dspadapter is the DSP HTTP Adapter (spec component C7): the Echo
// router that exposes the /dsp/v1 negotiation and transfer endpoints to
// counterparty connectors, and the outbound Sender that delivers our own
// protocol messages to theirs. The outbound side is grounded on
// iam-service's webhook delivery shape (POST + retry) generalized with
// cenkalti/backoff/v4's capped exponential backoff (the same library
// eventsvc.Deliverer uses for its notification retry delays) plus a
// go-redis idempotency cache, modeled on public-api-service's use of
// *redis.Client as a plain key/value cache alongside its NATS publish path.
package dspadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

// idempotencyKeyFmt caches the fact that a given (aggregate, messageType)
// pair was already delivered successfully, so a retried Sender call after a
// crash between HTTP 2xx and our own bookkeeping does not redeliver a
// message the counterparty already accepted.
const idempotencyKeyFmt = "dsp:sent:%s:%s"

const idempotencyTTL = 24 * time.Hour

// Sender delivers outbound DSP messages over HTTP with capped exponential
// backoff, satisfying both negotiation.Sender and transfer.Sender.
type Sender struct {
	client      *http.Client
	redis       *redis.Client
	logger      *zap.Logger
	maxElapsed  time.Duration
}

func NewSender(redisClient *redis.Client, logger *zap.Logger) *Sender {
	return &Sender{
		client:     &http.Client{Timeout: 10 * time.Second},
		redis:      redisClient,
		logger:     logger,
		maxElapsed: 2 * time.Minute,
	}
}

// SendNegotiationMessage satisfies negotiation.Sender.
func (s *Sender) SendNegotiationMessage(ctx context.Context, cnp domain.ContractNegotiationProcess, messageType string, body json.RawMessage) error {
	return s.send(ctx, cnp.CallbackAddress, string(cnp.ConsumerPid), messageType, body)
}

// SendTransferMessage satisfies transfer.Sender.
func (s *Sender) SendTransferMessage(ctx context.Context, tp domain.TransferProcess, messageType string, body json.RawMessage) error {
	return s.send(ctx, tp.CallbackAddress, string(tp.ConsumerPid), messageType, body)
}

func (s *Sender) send(ctx context.Context, callbackAddress, aggregateID, messageType string, body json.RawMessage) error {
	if callbackAddress == "" {
		return fmt.Errorf("%w: no callback address on record", domain.ErrInternal)
	}

	key := fmt.Sprintf(idempotencyKeyFmt, aggregateID, messageType)
	if s.redis != nil {
		done, err := s.redis.Get(ctx, key).Result()
		if err == nil && done == "1" {
			s.logger.Info("skipping already-delivered message", zap.String("key", key))
			return nil
		}
	}

	bo := backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), s.maxElapsed)
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackAddress, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build dsp request: %w", err))
		}
		req.Header.Set("Content-Type", "application/ld+json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: counterparty returned status %d", domain.ErrUpstreamUnreachable, resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("%w: counterparty rejected message with status %d", domain.ErrUpstreamUnreachable, resp.StatusCode))
		}
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		s.logger.Error("dsp message delivery failed", zap.String("messageType", messageType), zap.Error(err))
		return err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, "1", idempotencyTTL).Err(); err != nil {
			s.logger.Warn("failed to record dsp idempotency key", zap.Error(err))
		}
	}
	return nil
}
