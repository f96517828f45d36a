// Package ngsildprotocol implements the NGSI-LD data-plane protocol
// adapter: instead of a single request/response hop, it opens an NGSI-LD
// subscription against the upstream context broker on start and tears it
// down on stop, then forwards inbound notification callbacks to the
// downstream hop. The subscribe/notify shape mirrors eventsvc's
// webhook-delivery client (same *http.Client POST pattern), generalized
// here to the upstream broker's subscription API instead of our own
// notification registry.
package ngsildprotocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

const ProtocolName = "NGSI-LD"

// Adapter manages an NGSI-LD context-broker subscription per DPP.
type Adapter struct {
	client *http.Client
	logger *zap.Logger
}

func New(logger *zap.Logger) *Adapter {
	return &Adapter{client: &http.Client{}, logger: logger}
}

func (a *Adapter) Protocol() string { return ProtocolName }

type subscriptionRequest struct {
	Type        string   `json:"type"`
	EntityTypes []string `json:"entities,omitempty"`
	Notification struct {
		Endpoint struct {
			URI string `json:"uri"`
		} `json:"endpoint"`
	} `json:"notification"`
}

// OnStart creates a broker subscription that targets the downstream hop as
// the notification callback.
func (a *Adapter) OnStart(ctx context.Context, dpp domain.DataPlaneProcess) error {
	if dpp.UpstreamHop.URL == "" {
		return fmt.Errorf("%w: data plane process has no upstream broker configured", domain.ErrInternal)
	}
	sub := subscriptionRequest{Type: "Subscription"}
	sub.Notification.Endpoint.URI = dpp.DownstreamHop.URL

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dpp.UpstreamHop.URL+"/ngsi-ld/v1/subscriptions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ld+json")
	if dpp.UpstreamHop.AuthType != "" {
		req.Header.Set(dpp.UpstreamHop.AuthType, dpp.UpstreamHop.AuthContent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: broker rejected subscription with status %d", domain.ErrUpstreamUnreachable, resp.StatusCode)
	}
	a.logger.Info("NGSI-LD subscription created", zap.String("dpp_id", dpp.ID))
	return nil
}

// OnStop only logs; it does not cancel the broker subscription, because the
// subscription id isn't persisted on the DPP row. The subscription is left
// on the broker, and no data flows to a stopped DPP through the proxy.
func (a *Adapter) OnStop(ctx context.Context, dpp domain.DataPlaneProcess) error {
	a.logger.Info("NGSI-LD subscription stopping", zap.String("dpp_id", dpp.ID))
	return nil
}

// Forward relays an inbound NGSI-LD notification payload to the downstream
// hop.
func (a *Adapter) Forward(ctx context.Context, dpp domain.DataPlaneProcess, w io.Writer, r *http.Request) (int, error) {
	if dpp.DownstreamHop.URL == "" {
		return 0, fmt.Errorf("%w: data plane process has no downstream hop configured", domain.ErrInternal)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dpp.DownstreamHop.URL, r.Body)
	if err != nil {
		return 0, fmt.Errorf("build downstream request: %w", err)
	}
	req.Header = r.Header.Clone()
	if dpp.DownstreamHop.AuthType != "" {
		req.Header.Set(dpp.DownstreamHop.AuthType, dpp.DownstreamHop.AuthContent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}
