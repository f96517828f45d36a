// Package httpprotocol implements the HTTP_PULL / HTTP_PUSH data-plane
// protocol adapter: plain reverse-proxying over HTTP(S), the simplest of
// the concrete transports named in spec §4.6 (grounded, in shape, on
// discovery-service/internal/handler/proxy.go's proxyTo helper — here
// generalized to forward arbitrary request/response bodies rather than a
// fixed admin-API surface).
package httpprotocol

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

const ProtocolName = "HTTP"

// Adapter forwards data-plane payload traffic over plain HTTP.
type Adapter struct {
	client *http.Client
	logger *zap.Logger
}

func New(logger *zap.Logger) *Adapter {
	return &Adapter{client: &http.Client{}, logger: logger}
}

func (a *Adapter) Protocol() string { return ProtocolName }

// OnStart is a no-op for HTTP: there is no persistent connection to open,
// the upstream/downstream hop URLs are already resolved at DPP creation.
func (a *Adapter) OnStart(ctx context.Context, dpp domain.DataPlaneProcess) error { return nil }

// OnStop is a no-op for HTTP for the same reason.
func (a *Adapter) OnStop(ctx context.Context, dpp domain.DataPlaneProcess) error { return nil }

// Forward streams the upstream hop's response body to w, applying the
// upstream hop's auth header if configured.
func (a *Adapter) Forward(ctx context.Context, dpp domain.DataPlaneProcess, w io.Writer, r *http.Request) (int, error) {
	hop := dpp.UpstreamHop
	if hop.URL == "" {
		return 0, fmt.Errorf("%w: data plane process has no upstream hop configured", domain.ErrInternal)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, hop.URL, r.Body)
	if err != nil {
		return 0, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = r.Header.Clone()
	if hop.AuthType != "" {
		req.Header.Set(hop.AuthType, hop.AuthContent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		a.logger.Error("stream upstream response", zap.Error(err))
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}
