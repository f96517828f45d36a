// Package dataplane implements the Data Plane Controller (spec component
// C6): Data Plane Process lifecycle, a pluggable protocol-adapter
// interface, the authorization gate every payload request must pass, and a
// streaming reverse-proxy handler grounded in discovery-service's proxyTo
// pattern (internal/handler/proxy.go), generalized from a fixed admin-API
// target to an adapter-selected upstream/downstream hop.
package dataplane

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// ProtocolAdapter is the plugin interface for one data-plane wire protocol
// (spec §4.6). Forward streams bytes from the upstream hop to w; OnStart and
// OnStop perform protocol-specific setup/teardown (e.g. opening a
// subscription, registering a webhook) when a DPP starts or stops.
type ProtocolAdapter interface {
	Protocol() string
	OnStart(ctx context.Context, dpp domain.DataPlaneProcess) error
	OnStop(ctx context.Context, dpp domain.DataPlaneProcess) error
	Forward(ctx context.Context, dpp domain.DataPlaneProcess, w io.Writer, r *http.Request) (statusCode int, err error)
}

// Controller owns DataPlaneProcess lifecycle and dispatches payload
// requests to the registered protocol adapter.
type Controller struct {
	repo     repository.DataPlaneRepository
	adapters map[string]ProtocolAdapter
	logger   *zap.Logger
}

func New(repo repository.DataPlaneRepository, logger *zap.Logger, adapters ...ProtocolAdapter) *Controller {
	m := make(map[string]ProtocolAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Protocol()] = a
	}
	return &Controller{repo: repo, adapters: m, logger: logger}
}

// StartDataPlane creates (or re-fetches) a DataPlaneProcess for a transfer,
// persists the upstream (data service) and downstream (sink) hops resolved
// by the caller, and runs the adapter's OnStart hook, satisfying
// transfer.DataPlaneController. upstream and downstream are only applied
// when the DPP is first created; a re-fetch (e.g. on a retried start) keeps
// whatever hops were set the first time.
func (c *Controller) StartDataPlane(ctx context.Context, tp domain.TransferProcess, upstream, downstream domain.HopDescriptor) (string, error) {
	dpp, err := c.repo.GetDPPByTransferID(ctx, tp.ID)
	if err != nil {
		dpp = domain.DataPlaneProcess{
			TransferID:     tp.ID,
			Direction:      directionFor(tp.Format.Action),
			State:          domain.DPRequested,
			ProcessAddress: domain.HopDescriptor{Protocol: tp.Format.Protocol},
			UpstreamHop:    upstream,
			DownstreamHop:  downstream,
		}
		dpp, err = c.repo.CreateDPP(ctx, dpp)
		if err != nil {
			return "", err
		}
	}

	adapter, ok := c.adapters[dpp.ProcessAddress.Protocol]
	if !ok {
		return "", fmt.Errorf("%w: no protocol adapter registered for %q", domain.ErrInternal, dpp.ProcessAddress.Protocol)
	}
	if err := adapter.OnStart(ctx, dpp); err != nil {
		return "", fmt.Errorf("adapter OnStart: %w", err)
	}

	dpp, err = c.repo.UpdateDPPState(ctx, dpp.ID, domain.DPStarted)
	if err != nil {
		return "", err
	}
	return dpp.ID, nil
}

func directionFor(action domain.FormatAction) domain.DataPlaneDirection {
	switch action {
	case domain.ActionPull:
		return domain.DPDirPull
	case domain.ActionPush:
		return domain.DPDirPush
	default:
		return domain.DPDirBidi
	}
}

// SuspendDataPlane stops adapter activity without tearing down the process
// row, so ResumeDataPlane can restart it without reprovisioning.
func (c *Controller) SuspendDataPlane(ctx context.Context, dataPlaneID string) error {
	dpp, err := c.repo.GetDPPByID(ctx, dataPlaneID)
	if err != nil {
		return err
	}
	if adapter, ok := c.adapters[dpp.ProcessAddress.Protocol]; ok {
		if err := adapter.OnStop(ctx, dpp); err != nil {
			c.logger.Error("adapter OnStop during suspend", zap.Error(err))
		}
	}
	_, err = c.repo.UpdateDPPState(ctx, dataPlaneID, domain.DPStopped)
	return err
}

// ResumeDataPlane restarts adapter activity for a previously suspended DPP.
func (c *Controller) ResumeDataPlane(ctx context.Context, dataPlaneID string) error {
	dpp, err := c.repo.GetDPPByID(ctx, dataPlaneID)
	if err != nil {
		return err
	}
	adapter, ok := c.adapters[dpp.ProcessAddress.Protocol]
	if !ok {
		return fmt.Errorf("%w: no protocol adapter registered for %q", domain.ErrInternal, dpp.ProcessAddress.Protocol)
	}
	if err := adapter.OnStart(ctx, dpp); err != nil {
		return fmt.Errorf("adapter OnStart on resume: %w", err)
	}
	_, err = c.repo.UpdateDPPState(ctx, dataPlaneID, domain.DPStarted)
	return err
}

// TerminateDataPlane tears down adapter activity permanently.
func (c *Controller) TerminateDataPlane(ctx context.Context, dataPlaneID string) error {
	dpp, err := c.repo.GetDPPByID(ctx, dataPlaneID)
	if err != nil {
		return err
	}
	if adapter, ok := c.adapters[dpp.ProcessAddress.Protocol]; ok {
		if err := adapter.OnStop(ctx, dpp); err != nil {
			c.logger.Error("adapter OnStop during terminate", zap.Error(err))
		}
	}
	_, err = c.repo.UpdateDPPState(ctx, dataPlaneID, domain.DPTerminated)
	return err
}

// Authorize is the gate every payload request must pass before Forward is
// called: the owning Transfer Process and its Data Plane Process must both
// be in their STARTED state, and the HTTP verb must match the DPP's
// direction (spec §4.6, I-AUTHZ). tpState is threaded in by the caller (the
// data-plane proxy Handler, via Forward) since the Data Plane Controller does
// not itself hold a TransferRepository.
func Authorize(tpState domain.TransferState, dpp domain.DataPlaneProcess, method string) error {
	if tpState != domain.TPStarted {
		return fmt.Errorf("%w: transfer process is %q, not STARTED", domain.ErrPolicy, tpState)
	}
	if dpp.State != domain.DPStarted {
		return fmt.Errorf("%w: data plane process is %q, not STARTED", domain.ErrPolicy, dpp.State)
	}
	if err := checkDirection(dpp.Direction, method); err != nil {
		return err
	}
	return nil
}

// checkDirection rejects a request whose HTTP verb doesn't match the DPP's
// traffic shape: PULL is read-only (GET/HEAD), PUSH only accepts an
// inbound write (POST/PUT/PATCH). BIDI imposes no restriction.
func checkDirection(dir domain.DataPlaneDirection, method string) error {
	switch dir {
	case domain.DPDirPull:
		if method != http.MethodGet && method != http.MethodHead {
			return fmt.Errorf("%w: data plane direction is PULL, got %s", domain.ErrSchema, method)
		}
	case domain.DPDirPush:
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			return fmt.Errorf("%w: data plane direction is PUSH, got %s", domain.ErrSchema, method)
		}
	}
	return nil
}

// Forward authorizes and streams one payload request through the
// registered adapter for dpp's protocol, the generalized analogue of
// discovery-service's proxyTo: instead of a fixed admin-API target, the
// destination is resolved per data-plane process via its protocol adapter.
func (c *Controller) Forward(ctx context.Context, tpState domain.TransferState, dppID string, w io.Writer, r *http.Request) (int, error) {
	dpp, err := c.repo.GetDPPByID(ctx, dppID)
	if err != nil {
		return 0, err
	}
	if err := Authorize(tpState, dpp, r.Method); err != nil {
		return 0, err
	}
	adapter, ok := c.adapters[dpp.ProcessAddress.Protocol]
	if !ok {
		return 0, fmt.Errorf("%w: no protocol adapter registered for %q", domain.ErrInternal, dpp.ProcessAddress.Protocol)
	}
	return adapter.Forward(ctx, dpp, w, r)
}
