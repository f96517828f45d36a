package dataplane_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/dataplane"
	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository/memory"
)

type fakeTransferLookup struct {
	tp  domain.TransferProcess
	err error
}

func (f fakeTransferLookup) GetByID(ctx context.Context, id string) (domain.TransferProcess, error) {
	return f.tp, f.err
}

func newProxyServer(t *testing.T, dppState domain.DataPlaneState, tp domain.TransferProcess) (*httptest.Server, string) {
	t.Helper()
	store := memory.New()
	adapter := &fakeAdapter{name: "HTTP"}
	controller := dataplane.New(store, zaptest.NewLogger(t), adapter)

	dpp, err := store.CreateDPP(context.Background(), domain.DataPlaneProcess{
		TransferID:     tp.ID,
		State:          dppState,
		Direction:      domain.DPDirPull,
		ProcessAddress: domain.HopDescriptor{Protocol: "HTTP"},
	})
	require.NoError(t, err)

	e := echo.New()
	dataplane.NewHandler(controller, fakeTransferLookup{tp: tp}, zaptest.NewLogger(t)).RegisterRoutes(e)
	return httptest.NewServer(e), dpp.ID
}

func TestDataPlaneProxy_ForwardsWhenStarted(t *testing.T) {
	tp := domain.TransferProcess{ID: "tp-1", State: domain.TPStarted}
	srv, dppID := newProxyServer(t, domain.DPStarted, tp)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data/" + dppID + "/payload")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestDataPlaneProxy_RejectsWhenDPPNotStarted(t *testing.T) {
	tp := domain.TransferProcess{ID: "tp-1", State: domain.TPStarted}
	srv, dppID := newProxyServer(t, domain.DPStopped, tp)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data/" + dppID + "/payload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDataPlaneProxy_RejectsWhenTransferNotStarted(t *testing.T) {
	tp := domain.TransferProcess{ID: "tp-1", State: domain.TPSuspended}
	srv, dppID := newProxyServer(t, domain.DPStarted, tp)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data/" + dppID + "/payload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDataPlaneProxy_UnknownDataPlaneIdReturns404(t *testing.T) {
	tp := domain.TransferProcess{ID: "tp-1", State: domain.TPStarted}
	srv, _ := newProxyServer(t, domain.DPStarted, tp)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data/does-not-exist/payload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
