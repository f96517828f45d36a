package transfer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/eventsvc"
	"github.com/arc-self/rainbow-connector/internal/repository/memory"
	"github.com/arc-self/rainbow-connector/internal/transfer"
)

type fakeSender struct{}

func (fakeSender) SendTransferMessage(ctx context.Context, tp domain.TransferProcess, messageType string, body json.RawMessage) error {
	return nil
}

// fakeDataPlane stands in for internal/dataplane.Controller so transfer
// engine tests don't need a real protocol adapter or repository.
type fakeDataPlane struct {
	started, suspended, resumed, terminated int
	failStart                               bool
}

func (f *fakeDataPlane) StartDataPlane(ctx context.Context, tp domain.TransferProcess, upstream, downstream domain.HopDescriptor) (string, error) {
	if f.failStart {
		return "", errors.New("adapter unavailable")
	}
	f.started++
	return "dpp-1", nil
}
func (f *fakeDataPlane) SuspendDataPlane(ctx context.Context, dataPlaneID string) error {
	f.suspended++
	return nil
}
func (f *fakeDataPlane) ResumeDataPlane(ctx context.Context, dataPlaneID string) error {
	f.resumed++
	return nil
}
func (f *fakeDataPlane) TerminateDataPlane(ctx context.Context, dataPlaneID string) error {
	f.terminated++
	return nil
}

// fakeAgreements stands in for negotiation.Engine.ResolveFinalizedAgreement:
// every agreementId resolves successfully, since these tests exercise the
// Transfer Process state machine in isolation from Contract Negotiation.
type fakeAgreements struct{}

func (fakeAgreements) ResolveFinalizedAgreement(ctx context.Context, agreementID domain.URN) (domain.Agreement, error) {
	return domain.Agreement{ID: agreementID, Target: domain.NewURN("asset")}, nil
}

// fakeCatalog stands in for internal/catalog.DataServiceResolver, returning
// a fixed upstream hop for every asset.
type fakeCatalog struct{}

func (fakeCatalog) Resolve(ctx context.Context, assetID domain.URN) (domain.HopDescriptor, error) {
	return domain.HopDescriptor{Protocol: "HTTP", URL: "https://upstream.example/assets"}, nil
}

func newEngine(t *testing.T) (*transfer.Engine, *fakeDataPlane) {
	t.Helper()
	store := memory.New()
	events := eventsvc.New(store, zaptest.NewLogger(t), 3, 0, 0)
	dp := &fakeDataPlane{}
	return transfer.New(store.AsTransferRepository(), fakeAgreements{}, dp, fakeCatalog{}, events, fakeSender{}, zaptest.NewLogger(t)), dp
}

func TestHandleStart_ProvisionsDataPlaneOnFreshRequest(t *testing.T) {
	engine, dp := newEngine(t)
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPull}

	tp, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.NoError(t, err)

	started, err := engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TPStarted, started.State)
	assert.Equal(t, 1, dp.started)
	assert.NotEmpty(t, started.DataPlaneID)
}

func TestHandleSuspensionThenStart_ResumesRatherThanReprovisions(t *testing.T) {
	engine, dp := newEngine(t)
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPull}

	tp, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.NoError(t, err)

	tp, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, nil)
	require.NoError(t, err)

	tp, err = engine.HandleSuspension(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, "pausing")
	require.NoError(t, err)
	assert.Equal(t, domain.TPSuspended, tp.State)
	assert.Equal(t, 1, dp.suspended)

	tp, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByConsumer, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TPStarted, tp.State)
	assert.Equal(t, 1, dp.resumed)
	assert.Equal(t, 1, dp.started) // still just the original provisioning call
}

func TestHandleCompletion_TerminatesDataPlane(t *testing.T) {
	engine, dp := newEngine(t)
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPull}

	tp, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.NoError(t, err)
	tp, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, nil)
	require.NoError(t, err)

	tp, err = engine.HandleCompletion(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider)
	require.NoError(t, err)
	assert.Equal(t, domain.TPCompleted, tp.State)
	assert.True(t, tp.State.Terminal())
	assert.Equal(t, 1, dp.terminated)
}

func TestHandleStart_PropagatesDataPlaneProvisioningFailure(t *testing.T) {
	engine, dp := newEngine(t)
	dp.failStart = true
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPull}

	tp, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.NoError(t, err)

	_, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, nil)
	assert.Error(t, err)
}

// TestHandleStart_PushRequiresDataAddressOnFirstStart covers edge case 4
// (spec §8): a PUSH TP's first TransferStart without a dataAddress is
// rejected, with one carrying it succeeds, and a second TransferStart
// re-carrying a dataAddress is rejected once it is already set.
func TestHandleStart_PushRequiresDataAddressOnFirstStart(t *testing.T) {
	engine, _ := newEngine(t)
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPush}

	tp, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.NoError(t, err)

	_, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, nil)
	require.ErrorIs(t, err, domain.ErrSchema)

	sink := json.RawMessage(`{"url":"https://consumer.example/sink"}`)
	started, err := engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrOnRequest, sink)
	require.NoError(t, err)
	assert.Equal(t, domain.TPStarted, started.State)
	assert.Equal(t, sink, json.RawMessage(started.DataAddress))

	_, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrOnRequest, sink)
	require.ErrorIs(t, err, domain.ErrIllegalStateTransition)
}

// TestHandleStart_PullRejectsDataAddress covers the inverse of edge case 4:
// a PULL TP's TransferStart must not carry a dataAddress.
func TestHandleStart_PullRejectsDataAddress(t *testing.T) {
	engine, _ := newEngine(t)
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPull}

	tp, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.NoError(t, err)

	_, err = engine.HandleStart(context.Background(), tp.ProviderPid, tp.ConsumerPid, domain.AttrByProvider, json.RawMessage(`{"url":"https://x"}`))
	require.ErrorIs(t, err, domain.ErrSchema)
}

// fakeRejectingAgreements always reports the agreement's CNP as not yet
// FINALIZED, exercising scenario 6 (spec §8): PolicyError, no TP created.
type fakeRejectingAgreements struct{}

func (fakeRejectingAgreements) ResolveFinalizedAgreement(ctx context.Context, agreementID domain.URN) (domain.Agreement, error) {
	return domain.Agreement{}, fmt.Errorf("%w: CNP not finalized", domain.ErrPolicy)
}

func TestHandleTransferRequest_RejectsUnfinalizedAgreement(t *testing.T) {
	store := memory.New()
	events := eventsvc.New(store, zaptest.NewLogger(t), 3, 0, 0)
	engine := transfer.New(store.AsTransferRepository(), fakeRejectingAgreements{}, &fakeDataPlane{}, fakeCatalog{}, events, fakeSender{}, zaptest.NewLogger(t))
	format := domain.Format{Protocol: "HTTP", Action: domain.ActionPull}

	_, err := engine.HandleTransferRequest(context.Background(), "org-1", domain.NewURN("tp"), domain.NewURN("agreement"), format, "http://consumer.example/cb", nil)
	require.ErrorIs(t, err, domain.ErrPolicy)

	tps, err := store.AsTransferRepository().GetTPByAgreementID(context.Background(), domain.NewURN("agreement"))
	require.NoError(t, err)
	assert.Empty(t, tps)
}
