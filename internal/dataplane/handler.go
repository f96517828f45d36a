package dataplane

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// TransferByID resolves a TP's current state for the authorization gate
// without the Data Plane Controller holding a TransferRepository of its own
// (spec §4.6 design note: DPP holds no pointer to TP, resolution is by
// lookup). Satisfied by transfer.Engine.GetByID.
type TransferByID interface {
	GetByID(ctx context.Context, id string) (domain.TransferProcess, error)
}

// Handler exposes the data-plane payload proxy surface (spec §6:
// ANY /data/:dataPlaneId/*rest), generalizing discovery-service's
// proxyTo handler-factory from a fixed JSON admin target to an
// adapter-resolved, per-transfer upstream.
type Handler struct {
	controller *Controller
	transfers  TransferByID
	logger     *zap.Logger
}

func NewHandler(controller *Controller, transfers TransferByID, logger *zap.Logger) *Handler {
	return &Handler{controller: controller, transfers: transfers, logger: logger}
}

// RegisterRoutes mounts the data-plane proxy endpoint.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Any("/data/:dataPlaneId/*", h.proxy)
}

func (h *Handler) proxy(c echo.Context) error {
	dppID := c.Param("dataPlaneId")
	ctx := c.Request().Context()

	dpp, err := h.controller.repo.GetDPPByID(ctx, dppID)
	if err != nil {
		return statusForDataPlaneErr(c, err)
	}
	tp, err := h.transfers.GetByID(ctx, dpp.TransferID)
	if err != nil {
		return statusForDataPlaneErr(c, err)
	}

	status, err := h.controller.Forward(ctx, tp.State, dppID, c.Response(), c.Request())
	if err != nil {
		h.logger.Error("data plane forward failed", zap.String("dataPlaneId", dppID), zap.Error(err))
		if status == 0 {
			status = statusForForwardErr(err)
		}
		if !c.Response().Committed {
			return c.JSON(status, map[string]string{"error": err.Error()})
		}
		return nil
	}
	if !c.Response().Committed {
		c.Response().WriteHeader(status)
	}
	return nil
}

// statusForForwardErr distinguishes the authorization gate's rejections from
// a genuine upstream failure: Authorize (spec §4.6, I-AUTHZ) returns
// ErrPolicy when the TP/DPP isn't STARTED and ErrSchema on a direction
// mismatch, neither of which is the adapter's upstream unreachable — those
// get 502.
func statusForForwardErr(err error) int {
	switch {
	case errors.Is(err, domain.ErrPolicy):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSchema):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func statusForDataPlaneErr(c echo.Context, err error) error {
	var nf *repository.NotFoundError
	switch {
	case errors.As(err, &nf), errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPolicy):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}
