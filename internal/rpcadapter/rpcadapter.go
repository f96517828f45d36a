// Package rpcadapter is the local RPC Adapter (spec component C8): the
// operator-facing Echo router under /rpc/v1 that drives "our own" side of a
// negotiation or transfer — setup-request, setup-start, setup-suspension,
// setup-completion, setup-termination — as opposed to dspadapter's
// counterparty-facing /dsp/v1, which only ever reacts to inbound DSP
// messages. Route and handler shape is grounded on trm-service's
// RegisterRoutes/handler-per-operation convention
// (internal/handler/handlers.go).
package rpcadapter

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/catalog"
	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/httpmw"
	"github.com/arc-self/rainbow-connector/internal/negotiation"
	"github.com/arc-self/rainbow-connector/internal/transfer"
	"github.com/arc-self/rainbow-connector/internal/validation"
)

// Handler wires the negotiation and transfer engines onto the /rpc/v1
// operator-facing routes.
type Handler struct {
	negotiations *negotiation.Engine
	transfers    *transfer.Engine
	catalog      catalog.DataServiceResolver
	logger       *zap.Logger
}

func NewHandler(negotiations *negotiation.Engine, transfers *transfer.Engine, resolver catalog.DataServiceResolver, logger *zap.Logger) *Handler {
	return &Handler{negotiations: negotiations, transfers: transfers, catalog: resolver, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Use(httpmw.OrganizationContext())

	neg := e.Group("/rpc/v1/negotiations")
	neg.POST("/setup-request", h.setupNegotiationRequest)
	neg.POST("/:pid/setup-termination", h.setupNegotiationTermination)

	tr := e.Group("/rpc/v1/transfers")
	tr.POST("/setup-request", h.setupTransferRequest)
	tr.POST("/:pid/setup-start", h.setupTransferStart)
	tr.POST("/:pid/setup-suspension", h.setupTransferSuspension)
	tr.POST("/:pid/setup-completion", h.setupTransferCompletion)
	tr.POST("/:pid/setup-termination", h.setupTransferTermination)
}

type setupNegotiationRequestBody struct {
	CallbackAddress string          `json:"callbackAddress"`
	OfferTarget     domain.URN      `json:"target"`
	Offer           json.RawMessage `json:"offer"`
}

// setupNegotiationRequest starts a negotiation as the consumer: our own
// consumerPid is minted and an outbound ContractRequestMessage is sent to
// the counterparty's callback address.
func (h *Handler) setupNegotiationRequest(c echo.Context) error {
	var req setupNegotiationRequestBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	orgID, _ := httpmw.GetOrgID(c.Request().Context())
	cnp, err := h.negotiations.InitiateRequest(c.Request().Context(), orgID, req.CallbackAddress, req.OfferTarget, req.Offer)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusCreated, cnp)
}

type setupTerminationBody struct {
	ConsumerPid domain.URN `json:"consumerPid"`
	Reason      string     `json:"reason"`
}

func (h *Handler) setupNegotiationTermination(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	var req setupTerminationBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	cnp, err := h.negotiations.GetByPids(c.Request().Context(), providerPid, req.ConsumerPid)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	if err := validation.Chain(c.Request().Context(), validation.RequireRole(cnp.Role, domain.RoleConsumer)); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	cnp, err = h.negotiations.HandleTermination(c.Request().Context(), providerPid, req.ConsumerPid, req.Reason)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

type setupTransferRequestBody struct {
	CallbackAddress string          `json:"callbackAddress"`
	AgreementID     domain.URN      `json:"agreementId"`
	AssetID         domain.URN      `json:"assetId"` // when set, format.Protocol and dataAddress are resolved via the catalog; format.Action still comes from the request
	Format          domain.Format   `json:"format"`
	DataAddress     json.RawMessage `json:"dataAddress"`
}

func (h *Handler) setupTransferRequest(c echo.Context) error {
	var req setupTransferRequestBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}

	format, dataAddress := req.Format, req.DataAddress
	if req.AssetID != "" && h.catalog != nil {
		hop, err := h.catalog.Resolve(c.Request().Context(), req.AssetID)
		if err != nil {
			return c.JSON(statusFor(err), errResp(err.Error()))
		}
		format.Protocol = hop.Protocol
		addr, _ := json.Marshal(hop)
		dataAddress = addr
	}

	orgID, _ := httpmw.GetOrgID(c.Request().Context())
	tp, err := h.transfers.InitiateRequest(c.Request().Context(), orgID, req.CallbackAddress, req.AgreementID, format, dataAddress)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusCreated, tp)
}

type transferPidBody struct {
	ConsumerPid domain.URN      `json:"consumerPid"`
	Reason      string          `json:"reason"`
	DataAddress json.RawMessage `json:"dataAddress"`
}

func (h *Handler) requireOwnTransfer(c echo.Context, providerPid, consumerPid domain.URN) (domain.TransferProcess, error) {
	tp, err := h.transfers.GetByPids(c.Request().Context(), providerPid, consumerPid)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	// The RPC adapter only ever drives the side the local connector owns
	// (spec §4.8): a consumer-initiated transfer can only be started,
	// suspended, completed, or terminated by the local consumer, never by
	// replaying the provider's own callback traffic through this surface.
	if err := validation.Chain(c.Request().Context(), validation.RequireRole(tp.Role, domain.RoleConsumer)); err != nil {
		return domain.TransferProcess{}, err
	}
	return tp, nil
}

func (h *Handler) setupTransferStart(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	var req transferPidBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if _, err := h.requireOwnTransfer(c, providerPid, req.ConsumerPid); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleStart(c.Request().Context(), providerPid, req.ConsumerPid, domain.AttrByConsumer, req.DataAddress)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func (h *Handler) setupTransferSuspension(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	var req transferPidBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if _, err := h.requireOwnTransfer(c, providerPid, req.ConsumerPid); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleSuspension(c.Request().Context(), providerPid, req.ConsumerPid, domain.AttrByConsumer, req.Reason)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func (h *Handler) setupTransferCompletion(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	var req transferPidBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if _, err := h.requireOwnTransfer(c, providerPid, req.ConsumerPid); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleCompletion(c.Request().Context(), providerPid, req.ConsumerPid, domain.AttrByConsumer)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func (h *Handler) setupTransferTermination(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	var req transferPidBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if _, err := h.requireOwnTransfer(c, providerPid, req.ConsumerPid); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleTermination(c.Request().Context(), providerPid, req.ConsumerPid, domain.AttrByConsumer, req.Reason)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
