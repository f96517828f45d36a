package dspadapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/dspadapter"
	"github.com/arc-self/rainbow-connector/internal/eventsvc"
	"github.com/arc-self/rainbow-connector/internal/negotiation"
	"github.com/arc-self/rainbow-connector/internal/repository/memory"
	"github.com/arc-self/rainbow-connector/internal/transfer"
)

type stubSender struct{}

func (stubSender) SendNegotiationMessage(ctx context.Context, cnp domain.ContractNegotiationProcess, messageType string, body json.RawMessage) error {
	return nil
}
func (stubSender) SendTransferMessage(ctx context.Context, tp domain.TransferProcess, messageType string, body json.RawMessage) error {
	return nil
}

type stubDataPlane struct{}

func (stubDataPlane) StartDataPlane(ctx context.Context, tp domain.TransferProcess, upstream, downstream domain.HopDescriptor) (string, error) {
	return "dpp-1", nil
}
func (stubDataPlane) SuspendDataPlane(ctx context.Context, dataPlaneID string) error   { return nil }
func (stubDataPlane) ResumeDataPlane(ctx context.Context, dataPlaneID string) error    { return nil }
func (stubDataPlane) TerminateDataPlane(ctx context.Context, dataPlaneID string) error { return nil }

type stubCatalog struct{}

func (stubCatalog) Resolve(ctx context.Context, assetID domain.URN) (domain.HopDescriptor, error) {
	return domain.HopDescriptor{Protocol: "HTTP", URL: "https://upstream.example"}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	logger := zaptest.NewLogger(t)
	events := eventsvc.New(store, logger, 3, 0, 0)

	neg := negotiation.New(store, events, stubSender{}, logger)
	tr := transfer.New(store.AsTransferRepository(), neg, stubDataPlane{}, stubCatalog{}, events, stubSender{}, logger)

	e := echo.New()
	dspadapter.NewHandler(neg, tr, logger).RegisterRoutes(e)
	return httptest.NewServer(e)
}

func TestNegotiationRequest_CreatesCNP(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{
		"consumerPid":     string(domain.NewURN("cnp")),
		"callbackAddress": "http://consumer.example/cb",
		"target":          string(domain.NewURN("asset")),
		"offer":           json.RawMessage(`{}`),
	})

	resp, err := http.Post(srv.URL+"/dsp/v1/negotiations/request", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var cnp domain.ContractNegotiationProcess
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cnp))
	assert.Equal(t, domain.NegRequested, cnp.State)
}

func TestGetNegotiation_ReturnsNotFoundForUnknownPid(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/dsp/v1/negotiations/urn:cn:00000000-0000-0000-0000-000000000000?consumerPid=urn:cn:00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
