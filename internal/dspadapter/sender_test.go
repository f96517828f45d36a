package dspadapter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/dspadapter"
)

func TestSendNegotiationMessage_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sender := dspadapter.NewSender(redisClient, zaptest.NewLogger(t))
	cnp := domain.ContractNegotiationProcess{ConsumerPid: domain.NewURN("cnp"), CallbackAddress: srv.URL}

	err = sender.SendNegotiationMessage(context.Background(), cnp, "dspace:ContractOfferMessage", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestSendNegotiationMessage_SkipsAlreadyDeliveredMessage(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sender := dspadapter.NewSender(redisClient, zaptest.NewLogger(t))
	cnp := domain.ContractNegotiationProcess{ConsumerPid: domain.NewURN("cnp"), CallbackAddress: srv.URL}

	require.NoError(t, sender.SendNegotiationMessage(context.Background(), cnp, "dspace:ContractOfferMessage", json.RawMessage(`{}`)))
	require.NoError(t, sender.SendNegotiationMessage(context.Background(), cnp, "dspace:ContractOfferMessage", json.RawMessage(`{}`)))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSendNegotiationMessage_FailsWithoutCallbackAddress(t *testing.T) {
	sender := dspadapter.NewSender(nil, zaptest.NewLogger(t))
	cnp := domain.ContractNegotiationProcess{ConsumerPid: domain.NewURN("cnp")}

	err := sender.SendNegotiationMessage(context.Background(), cnp, "dspace:ContractOfferMessage", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrInternal)
}
