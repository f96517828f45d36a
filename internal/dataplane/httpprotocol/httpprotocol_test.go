package httpprotocol_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rainbow-connector/internal/dataplane/httpprotocol"
	"github.com/arc-self/rainbow-connector/internal/domain"
)

func TestForward_StreamsUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("payload"))
	}))
	defer upstream.Close()

	adapter := httpprotocol.New(zaptest.NewLogger(t))
	dpp := domain.DataPlaneProcess{
		UpstreamHop: domain.HopDescriptor{URL: upstream.URL, AuthType: "Authorization", AuthContent: "secret"},
	}

	req, _ := http.NewRequest(http.MethodGet, "http://localhost/data", nil)
	var buf bytes.Buffer
	status, err := adapter.Forward(context.Background(), dpp, &buf, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "payload", buf.String())
}

func TestForward_FailsWithoutUpstreamHop(t *testing.T) {
	adapter := httpprotocol.New(zaptest.NewLogger(t))
	req, _ := http.NewRequest(http.MethodGet, "http://localhost/data", nil)

	_, err := adapter.Forward(context.Background(), domain.DataPlaneProcess{}, io.Discard, req)
	assert.ErrorIs(t, err, domain.ErrInternal)
}
