package eventsvc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/eventsvc"
	"github.com/arc-self/rainbow-connector/internal/repository/memory"
)

func TestNotify_EnqueuesOneNotificationPerActiveSubscriber(t *testing.T) {
	store := memory.New()
	svc := eventsvc.New(store, zaptest.NewLogger(t), 3, 0, 0)

	_, err := svc.Subscribe(context.Background(), domain.Subscription{
		OrganizationID:  "org-1",
		ExpirationTime:  time.Now().Add(time.Hour),
		CallbackAddress: "http://example.test/cb",
		Negotiation:     true,
	})
	require.NoError(t, err)

	svc.Notify(context.Background(), domain.CategoryNegotiation, domain.OpUpdated, "ContractNegotiation", json.RawMessage(`{}`))

	pending, err := store.ListPendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNotify_SkipsSubscribersNotOptedIntoCategory(t *testing.T) {
	store := memory.New()
	svc := eventsvc.New(store, zaptest.NewLogger(t), 3, 0, 0)

	_, err := svc.Subscribe(context.Background(), domain.Subscription{
		OrganizationID:  "org-1",
		ExpirationTime:  time.Now().Add(time.Hour),
		CallbackAddress: "http://example.test/cb",
		Negotiation:     false,
		Transfer:        true,
	})
	require.NoError(t, err)

	svc.Notify(context.Background(), domain.CategoryNegotiation, domain.OpUpdated, "ContractNegotiation", json.RawMessage(`{}`))

	pending, err := store.ListPendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeliverer_MarksNotificationOkOn2xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.New()
	svc := eventsvc.New(store, zaptest.NewLogger(t), 3, time.Millisecond, time.Millisecond)
	_, err := svc.Subscribe(context.Background(), domain.Subscription{
		OrganizationID:  "org-1",
		ExpirationTime:  time.Now().Add(time.Hour),
		CallbackAddress: srv.URL,
		Negotiation:     true,
	})
	require.NoError(t, err)
	svc.Notify(context.Background(), domain.CategoryNegotiation, domain.OpUpdated, "ContractNegotiation", json.RawMessage(`{}`))

	deliverer := eventsvc.NewDeliverer(svc, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go deliverer.Run(ctx)

	require.Eventually(t, func() bool {
		pending, err := store.ListPendingNotifications(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, 500*time.Millisecond, 5*time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(1))
}

func TestDeliverer_ReschedulesOnFailureUntilExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := memory.New()
	svc := eventsvc.New(store, zaptest.NewLogger(t), 2, time.Millisecond, time.Millisecond)
	_, err := svc.Subscribe(context.Background(), domain.Subscription{
		OrganizationID:  "org-1",
		ExpirationTime:  time.Now().Add(time.Hour),
		CallbackAddress: srv.URL,
		Negotiation:     true,
	})
	require.NoError(t, err)
	svc.Notify(context.Background(), domain.CategoryNegotiation, domain.OpUpdated, "ContractNegotiation", json.RawMessage(`{}`))

	deliverer := eventsvc.NewDeliverer(svc, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go deliverer.Run(ctx)

	// After exhausting maxAttempts the row is marked Ok anyway so the
	// poller stops revisiting it, even though delivery never succeeded.
	require.Eventually(t, func() bool {
		pending, err := store.ListPendingNotifications(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, 500*time.Millisecond, 5*time.Millisecond)
}
