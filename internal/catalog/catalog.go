// Package catalog defines the DataServiceResolver contract (spec §4.6): a
// lookup from an asset/agreement URN to the data-service endpoint and
// auth material the Data Plane Controller needs to populate a DPP's
// upstream hop. The concrete resolver is an HTTP client over the
// connector's own catalog store, modeled on discovery-service's
// client.ScannerClient — a thin typed wrapper over one outbound HTTP call.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

// DataServiceResolver resolves an asset URN to its serving endpoint.
type DataServiceResolver interface {
	Resolve(ctx context.Context, assetID domain.URN) (domain.HopDescriptor, error)
}

// HTTPResolver resolves assets against a local catalog HTTP service.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{baseURL: baseURL, client: &http.Client{}}
}

func (r *HTTPResolver) Resolve(ctx context.Context, assetID domain.URN) (domain.HopDescriptor, error) {
	url := fmt.Sprintf("%s/assets/%s/data-service", r.baseURL, assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.HopDescriptor{}, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.HopDescriptor{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.HopDescriptor{}, fmt.Errorf("%w: asset %s", domain.ErrNotFound, assetID)
	}
	if resp.StatusCode >= 300 {
		return domain.HopDescriptor{}, fmt.Errorf("%w: catalog returned status %d", domain.ErrUpstreamUnreachable, resp.StatusCode)
	}

	var hop domain.HopDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&hop); err != nil {
		return domain.HopDescriptor{}, fmt.Errorf("%w: %v", domain.ErrUpstreamDeserialization, err)
	}
	return hop, nil
}
