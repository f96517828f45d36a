// Package eventsvc implements the Event Service (spec component C2):
// subscription registry, webhook delivery retried with capped exponential
// backoff for up to maxAttempts tries (a notification that exhausts them is
// marked Ok without having been delivered), and a cron-driven expiry sweep. Engines call Notify
// fire-and-forget; delivery itself never blocks a state transition.
package eventsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// Service owns subscription management and notification fan-out.
type Service struct {
	repo       repository.EventRepository
	httpClient *http.Client
	logger     *zap.Logger

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New constructs a Service.
func New(repo repository.EventRepository, logger *zap.Logger, maxAttempts int, baseBackoff, maxBackoff time.Duration) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	return &Service{
		repo:        repo,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Subscribe registers a new subscription.
func (s *Service) Subscribe(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if sub.CallbackAddress == "" {
		return domain.Subscription{}, fmt.Errorf("%w: callbackAddress is required", domain.ErrSchema)
	}
	sub.Active = true
	return s.repo.CreateSubscription(ctx, sub)
}

// Notify is called by the engines, fire-and-forget, whenever an entity of
// the given category changes. It fans out to every matching active
// subscription by enqueueing one Notification row per subscriber; actual
// HTTP delivery happens asynchronously in the deliverer loop, so Notify
// itself never blocks a state transition on network I/O.
func (s *Service) Notify(ctx context.Context, category domain.NotificationCategory, op domain.NotificationOperation, messageType string, payload json.RawMessage) {
	subs, err := s.repo.ListActiveSubscriptions(ctx, category)
	if err != nil {
		s.logger.Error("list active subscriptions", zap.Error(err))
		return
	}
	for _, sub := range subs {
		_, err := s.repo.CreateNotification(ctx, domain.Notification{
			SubscriptionID:   sub.ID,
			Category:         category,
			MessageType:      messageType,
			MessageOperation: op,
			Payload:          payload,
		})
		if err != nil {
			s.logger.Error("enqueue notification", zap.String("subscription_id", sub.ID), zap.Error(err))
		}
	}
}

// Deliverer polls for pending notifications and delivers them over HTTP,
// the same ticking-poll shape as discovery-service's ScanPoller.
type Deliverer struct {
	svc      *Service
	interval time.Duration
}

func NewDeliverer(svc *Service, interval time.Duration) *Deliverer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Deliverer{svc: svc, interval: interval}
}

// Run blocks, polling on a ticker, until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.svc.logger.Info("notification deliverer started", zap.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			d.svc.logger.Info("notification deliverer stopping")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Deliverer) tick(ctx context.Context) {
	pending, err := d.svc.repo.ListPendingNotifications(ctx, 50)
	if err != nil {
		d.svc.logger.Error("list pending notifications", zap.Error(err))
		return
	}
	for _, n := range pending {
		d.deliverOne(ctx, n)
	}
}

func (d *Deliverer) deliverOne(ctx context.Context, n domain.Notification) {
	sub, err := d.svc.repo.GetSubscription(ctx, n.SubscriptionID)
	if err != nil {
		d.svc.logger.Error("lookup subscription for notification", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}

	body, _ := json.Marshal(map[string]any{
		"category":  n.Category,
		"operation": n.MessageOperation,
		"type":      n.MessageType,
		"payload":   n.Payload,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackAddress, bytes.NewReader(body))
	if err != nil {
		d.svc.logger.Error("build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.svc.httpClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
	}
	delivered := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300

	if delivered {
		if err := d.svc.repo.MarkNotificationOk(ctx, n.ID); err != nil {
			d.svc.logger.Error("mark notification ok", zap.String("notification_id", n.ID), zap.Error(err))
		}
		return
	}

	attempts := n.Attempts + 1
	if attempts >= d.svc.maxAttempts {
		d.svc.logger.Warn("notification exhausted retries, giving up",
			zap.String("notification_id", n.ID), zap.Int("attempts", attempts))
		// Giving up still marks the row Ok so the poller stops revisiting it;
		// the delivery failure itself was already logged above.
		if err := d.svc.repo.MarkNotificationOk(ctx, n.ID); err != nil {
			d.svc.logger.Error("mark exhausted notification ok", zap.Error(err))
		}
		return
	}

	next := nextBackoff(d.svc.baseBackoff, d.svc.maxBackoff, attempts)
	if err := d.svc.repo.RescheduleNotification(ctx, n.ID, attempts, time.Now().Add(next)); err != nil {
		d.svc.logger.Error("reschedule notification", zap.String("notification_id", n.ID), zap.Error(err))
	}
}

// nextBackoff computes the capped exponential delay before attempt number
// attempt, using cenkalti/backoff/v4's ExponentialBackOff so the growth
// curve matches the rest of the stack's retry helpers.
func nextBackoff(base, max time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > max {
		d = max
	}
	return d
}

// ExpirySweeper deactivates subscriptions past their expirationTime on a
// cron schedule, grounded in notification-service's robfig/cron scheduler.
type ExpirySweeper struct {
	repo   repository.EventRepository
	cron   *cron.Cron
	logger *zap.Logger
	spec   string
}

// NewExpirySweeper builds a sweeper that runs on the given cron spec
// (standard 5-field, no seconds field — e.g. "*/5 * * * *").
func NewExpirySweeper(repo repository.EventRepository, spec string, logger *zap.Logger) *ExpirySweeper {
	if spec == "" {
		spec = "@every 1m"
	}
	return &ExpirySweeper{repo: repo, cron: cron.New(), logger: logger, spec: spec}
}

func (s *ExpirySweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		n, err := s.repo.DeactivateExpiredSubscriptions(ctx)
		if err != nil {
			s.logger.Error("deactivate expired subscriptions", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("deactivated expired subscriptions", zap.Int("count", n))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("subscription expiry sweeper started", zap.String("spec", s.spec))
	return nil
}

func (s *ExpirySweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("subscription expiry sweeper stopped")
}
