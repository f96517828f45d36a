package negotiation_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/eventsvc"
	"github.com/arc-self/rainbow-connector/internal/negotiation"
	"github.com/arc-self/rainbow-connector/internal/repository/memory"
)

// fakeSender records every outbound message instead of performing HTTP I/O.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendNegotiationMessage(ctx context.Context, cnp domain.ContractNegotiationProcess, messageType string, body json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, messageType)
	return nil
}

func newEngine(t *testing.T) (*negotiation.Engine, *memory.Store, *fakeSender) {
	t.Helper()
	store := memory.New()
	events := eventsvc.New(store, zaptest.NewLogger(t), 3, 0, 0)
	sender := &fakeSender{}
	return negotiation.New(store, events, sender, zaptest.NewLogger(t)), store, sender
}

func TestHandleContractRequest_CreatesCNPOnFirstSight(t *testing.T) {
	engine, _, _ := newEngine(t)
	consumerPid := domain.NewURN("cnp")

	cnp, err := engine.HandleContractRequest(context.Background(), "org-1", consumerPid, "http://consumer.example/callback", domain.NewURN("asset"), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.NegRequested, cnp.State)
	assert.Equal(t, domain.RoleProvider, cnp.Role)
	assert.NotEmpty(t, cnp.ProviderPid)
}

func TestHandleContractOffer_RequiresLegalTransition(t *testing.T) {
	engine, _, _ := newEngine(t)
	consumerPid := domain.NewURN("cnp")
	cnp, err := engine.HandleContractRequest(context.Background(), "org-1", consumerPid, "http://consumer.example/callback", domain.NewURN("asset"), json.RawMessage(`{}`))
	require.NoError(t, err)

	offered, err := engine.HandleContractOffer(context.Background(), cnp.ProviderPid, cnp.ConsumerPid, domain.NewURN("asset"), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.NegOffered, offered.State)

	// OFFERED -> OFFERED is a legal counter-offer, but once the consumer has
	// ACCEPTED only AGREED and TERMINATED are reachable, so a further offer
	// is rejected.
	_, err = engine.HandleContractAccept(context.Background(), cnp.ProviderPid, cnp.ConsumerPid)
	require.NoError(t, err)
	_, err = engine.HandleContractOffer(context.Background(), cnp.ProviderPid, cnp.ConsumerPid, domain.NewURN("asset"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrIllegalStateTransition)
}

func TestFullNegotiationLifecycle_CreatesAgreementExactlyOnce(t *testing.T) {
	engine, store, sender := newEngine(t)
	consumerPid := domain.NewURN("cnp")

	cnp, err := engine.HandleContractRequest(context.Background(), "org-1", consumerPid, "http://consumer.example/callback", domain.NewURN("asset"), json.RawMessage(`{}`))
	require.NoError(t, err)

	cnp, err = engine.HandleContractOffer(context.Background(), cnp.ProviderPid, cnp.ConsumerPid, domain.NewURN("asset"), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.NegOffered, cnp.State)

	cnp, err = engine.HandleContractAccept(context.Background(), cnp.ProviderPid, cnp.ConsumerPid)
	require.NoError(t, err)
	assert.Equal(t, domain.NegAccepted, cnp.State)

	cnp, err = engine.HandleContractAgreement(context.Background(), cnp.ProviderPid, cnp.ConsumerPid, domain.NewURN("asset"), "assignee", "assigner", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.NegAgreed, cnp.State)

	agreement, err := store.GetAgreementByCNP(context.Background(), cnp.ID)
	require.NoError(t, err)
	assert.Equal(t, "assignee", agreement.Assignee)

	cnp, err = engine.HandleVerification(context.Background(), cnp.ProviderPid, cnp.ConsumerPid)
	require.NoError(t, err)
	assert.Equal(t, domain.NegVerified, cnp.State)

	cnp, err = engine.HandleFinalized(context.Background(), cnp.ProviderPid, cnp.ConsumerPid)
	require.NoError(t, err)
	assert.Equal(t, domain.NegFinalized, cnp.State)
	assert.True(t, cnp.State.Terminal())

	msgs, err := store.ListMessages(context.Background(), cnp.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 5) // offer, accept, agreement, verification, finalized — the initial request creates the CNP through CreateCNP, which appends no message

	// Handling inbound messages sends nothing outbound; only InitiateRequest
	// calls the Sender.
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sent)
}

func TestHandleTermination_RejectsAlreadyTerminalCNP(t *testing.T) {
	engine, _, _ := newEngine(t)
	consumerPid := domain.NewURN("cnp")
	cnp, err := engine.HandleContractRequest(context.Background(), "org-1", consumerPid, "http://consumer.example/callback", domain.NewURN("asset"), json.RawMessage(`{}`))
	require.NoError(t, err)

	cnp, err = engine.HandleTermination(context.Background(), cnp.ProviderPid, cnp.ConsumerPid, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, domain.NegTerminated, cnp.State)

	_, err = engine.HandleTermination(context.Background(), cnp.ProviderPid, cnp.ConsumerPid, "again")
	assert.ErrorIs(t, err, domain.ErrIllegalStateTransition)
}
