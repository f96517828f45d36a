package dataplane_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/dataplane"
	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository/memory"
)

type fakeAdapter struct {
	name              string
	startErr, stopErr error
	started, stopped  int
}

func (f *fakeAdapter) Protocol() string { return f.name }
func (f *fakeAdapter) OnStart(ctx context.Context, dpp domain.DataPlaneProcess) error {
	f.started++
	return f.startErr
}
func (f *fakeAdapter) OnStop(ctx context.Context, dpp domain.DataPlaneProcess) error {
	f.stopped++
	return f.stopErr
}
func (f *fakeAdapter) Forward(ctx context.Context, dpp domain.DataPlaneProcess, w io.Writer, r *http.Request) (int, error) {
	_, err := w.Write([]byte("ok"))
	return http.StatusOK, err
}

func TestStartDataPlane_RunsAdapterThenMarksStarted(t *testing.T) {
	store := memory.New()
	adapter := &fakeAdapter{name: "HTTP"}
	controller := dataplane.New(store, zaptest.NewLogger(t), adapter)

	tp := domain.TransferProcess{ID: "tp-1", Format: domain.Format{Protocol: "HTTP", Action: domain.ActionPull}}
	upstream := domain.HopDescriptor{Protocol: "HTTP", URL: "https://upstream.example/assets/1"}
	dppID, err := controller.StartDataPlane(context.Background(), tp, upstream, domain.HopDescriptor{})
	require.NoError(t, err)
	assert.NotEmpty(t, dppID)
	assert.Equal(t, 1, adapter.started)

	dpp, err := store.GetDPPByID(context.Background(), dppID)
	require.NoError(t, err)
	assert.Equal(t, domain.DPStarted, dpp.State)
	assert.Equal(t, "HTTP", dpp.ProcessAddress.Protocol)
	assert.Equal(t, upstream, dpp.UpstreamHop)
}

func TestAuthorize_RejectsUnlessBothStarted(t *testing.T) {
	started := domain.DataPlaneProcess{State: domain.DPStarted}

	assert.NoError(t, dataplane.Authorize(domain.TPStarted, started, http.MethodGet))

	err := dataplane.Authorize(domain.TPSuspended, started, http.MethodGet)
	assert.ErrorIs(t, err, domain.ErrPolicy)

	err = dataplane.Authorize(domain.TPStarted, domain.DataPlaneProcess{State: domain.DPStopped}, http.MethodGet)
	assert.ErrorIs(t, err, domain.ErrPolicy)
}

func TestAuthorize_RejectsDirectionMismatch(t *testing.T) {
	pull := domain.DataPlaneProcess{State: domain.DPStarted, Direction: domain.DPDirPull}
	err := dataplane.Authorize(domain.TPStarted, pull, http.MethodPost)
	assert.ErrorIs(t, err, domain.ErrSchema)

	push := domain.DataPlaneProcess{State: domain.DPStarted, Direction: domain.DPDirPush}
	err = dataplane.Authorize(domain.TPStarted, push, http.MethodGet)
	assert.ErrorIs(t, err, domain.ErrSchema)

	bidi := domain.DataPlaneProcess{State: domain.DPStarted, Direction: domain.DPDirBidi}
	assert.NoError(t, dataplane.Authorize(domain.TPStarted, bidi, http.MethodPost))
}

func TestForward_RejectsWhenNotAuthorized(t *testing.T) {
	store := memory.New()
	adapter := &fakeAdapter{name: "HTTP"}
	controller := dataplane.New(store, zaptest.NewLogger(t), adapter)

	dpp, err := store.CreateDPP(context.Background(), domain.DataPlaneProcess{
		TransferID:     "tp-1",
		State:          domain.DPRequested,
		ProcessAddress: domain.HopDescriptor{Protocol: "HTTP"},
	})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "http://localhost/", nil)
	_, err = controller.Forward(context.Background(), domain.TPStarted, dpp.ID, io.Discard, req)
	assert.ErrorIs(t, err, domain.ErrPolicy)
}
