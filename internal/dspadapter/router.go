package dspadapter

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/httpmw"
	"github.com/arc-self/rainbow-connector/internal/negotiation"
	"github.com/arc-self/rainbow-connector/internal/transfer"
	"github.com/arc-self/rainbow-connector/internal/validation"
)

// Handler wires the negotiation and transfer engines onto the /dsp/v1
// counterparty-facing routes.
type Handler struct {
	negotiations *negotiation.Engine
	transfers    *transfer.Engine
	logger       *zap.Logger
}

func NewHandler(negotiations *negotiation.Engine, transfers *transfer.Engine, logger *zap.Logger) *Handler {
	return &Handler{negotiations: negotiations, transfers: transfers, logger: logger}
}

// RegisterRoutes mounts every DSP endpoint named in spec §4 under /dsp/v1.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Use(httpmw.OrganizationContext())

	neg := e.Group("/dsp/v1/negotiations")
	neg.POST("/request", h.negotiationRequest)
	neg.GET("/:pid", h.getNegotiation)
	neg.POST("/:pid/request", h.negotiationCounterRequest)
	neg.POST("/:pid/offers", h.negotiationOffer)
	neg.POST("/:pid/agreement", h.negotiationAgreement)
	neg.POST("/:pid/agreement/verification", h.negotiationVerification)
	neg.POST("/:pid/events", h.negotiationEvent)
	neg.POST("/:pid/termination", h.negotiationTermination)

	tr := e.Group("/dsp/v1/transfers")
	tr.POST("/request", h.transferRequest)
	tr.GET("/:pid", h.getTransfer)
	tr.POST("/:pid/start", h.transferStart)
	tr.POST("/:pid/suspension", h.transferSuspension)
	tr.POST("/:pid/completion", h.transferCompletion)
	tr.POST("/:pid/termination", h.transferTermination)
}

// requireURNPidCorrelation runs validation checks #1 (required field), #2
// (URN format), and #3 (URI<->body PID correlation, spec §4.3) for a DSP
// endpoint addressed by :pid = providerPid: the URL segment must itself
// parse as a URN, and the providerPid the body carries under the same role
// key must match it exactly. Additional checks (e.g. URN format on the
// body's consumerPid) can be appended via extra.
func requireURNPidCorrelation(c echo.Context, bodyProviderPid domain.URN, extra ...validation.Check) error {
	urlPid := domain.URN(c.Param("pid"))
	checks := append([]validation.Check{
		validation.RequireURN("pid", string(urlPid)),
		validation.RequireURN("providerPid", string(bodyProviderPid)),
		validation.CorrelatePids(bodyProviderPid, urlPid, "providerPid"),
	}, extra...)
	return validation.Chain(c.Request().Context(), checks...)
}

// ── Negotiation ──────────────────────────────────────────────────────────

type negotiationRequestBody struct {
	ProviderPid     domain.URN      `json:"providerPid"`
	ConsumerPid     domain.URN      `json:"consumerPid"`
	CallbackAddress string          `json:"callbackAddress"`
	Offer           json.RawMessage `json:"offer"`
	OfferTarget     domain.URN      `json:"target"`
}

func (h *Handler) negotiationRequest(c echo.Context) error {
	var req negotiationRequestBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := validation.Chain(c.Request().Context(), validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	orgID, _ := httpmw.GetOrgID(c.Request().Context())
	cnp, err := h.negotiations.HandleContractRequest(c.Request().Context(), orgID, req.ConsumerPid, req.CallbackAddress, req.OfferTarget, req.Offer)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusCreated, cnp)
}

// negotiationCounterRequest handles a consumer's re-request against an
// existing, provider-addressed negotiation (spec §6: "Counter-offer from
// consumer"), so — unlike the fresh /request endpoint — the URI carries a
// providerPid that must correlate with the body's own providerPid field
// (validation check #3) before the engine ever sees the message.
func (h *Handler) negotiationCounterRequest(c echo.Context) error {
	var req negotiationRequestBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	orgID, _ := httpmw.GetOrgID(c.Request().Context())
	cnp, err := h.negotiations.HandleContractRequest(c.Request().Context(), orgID, req.ConsumerPid, req.CallbackAddress, req.OfferTarget, req.Offer)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusCreated, cnp)
}

func (h *Handler) getNegotiation(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	consumerPid := domain.URN(c.QueryParam("consumerPid"))
	if err := validation.Chain(c.Request().Context(),
		validation.RequireURN("pid", string(providerPid)),
		validation.RequireURN("consumerPid", string(consumerPid)),
	); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	cnp, err := h.negotiations.GetByPids(c.Request().Context(), providerPid, consumerPid)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

type offerBody struct {
	ProviderPid domain.URN      `json:"providerPid"`
	ConsumerPid domain.URN      `json:"consumerPid"`
	Target      domain.URN      `json:"target"`
	Offer       json.RawMessage `json:"offer"`
}

func (h *Handler) negotiationOffer(c echo.Context) error {
	var req offerBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	cnp, err := h.negotiations.HandleContractOffer(c.Request().Context(), req.ProviderPid, req.ConsumerPid, req.Target, req.Offer)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

type agreementBody struct {
	ProviderPid domain.URN      `json:"providerPid"`
	ConsumerPid domain.URN      `json:"consumerPid"`
	Target      domain.URN      `json:"target"`
	Assignee    string          `json:"assignee"`
	Assigner    string          `json:"assigner"`
	Agreement   json.RawMessage `json:"agreement"`
}

func (h *Handler) negotiationAgreement(c echo.Context) error {
	var req agreementBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	cnp, err := h.negotiations.HandleContractAgreement(c.Request().Context(), req.ProviderPid, req.ConsumerPid, req.Target, req.Assignee, req.Assigner, req.Agreement)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

type pidsBody struct {
	ProviderPid domain.URN `json:"providerPid"`
	ConsumerPid domain.URN `json:"consumerPid"`
}

func (h *Handler) negotiationVerification(c echo.Context) error {
	var req pidsBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	cnp, err := h.negotiations.HandleVerification(c.Request().Context(), req.ProviderPid, req.ConsumerPid)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

type negotiationEventBody struct {
	ProviderPid domain.URN `json:"providerPid"`
	ConsumerPid domain.URN `json:"consumerPid"`
	EventType   string     `json:"eventType"`
}

func (h *Handler) negotiationEvent(c echo.Context) error {
	var req negotiationEventBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	var (
		cnp domain.ContractNegotiationProcess
		err error
	)
	switch req.EventType {
	case "ACCEPTED":
		cnp, err = h.negotiations.HandleContractAccept(c.Request().Context(), req.ProviderPid, req.ConsumerPid)
	case "FINALIZED":
		cnp, err = h.negotiations.HandleFinalized(c.Request().Context(), req.ProviderPid, req.ConsumerPid)
	default:
		return c.JSON(http.StatusBadRequest, errResp("unknown eventType"))
	}
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

type terminationBody struct {
	ProviderPid domain.URN `json:"providerPid"`
	ConsumerPid domain.URN `json:"consumerPid"`
	Reason      string     `json:"reason"`
}

func (h *Handler) negotiationTermination(c echo.Context) error {
	var req terminationBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	cnp, err := h.negotiations.HandleTermination(c.Request().Context(), req.ProviderPid, req.ConsumerPid, req.Reason)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, cnp)
}

// ── Transfer ─────────────────────────────────────────────────────────────

type transferRequestBody struct {
	ConsumerPid     domain.URN      `json:"consumerPid"`
	AgreementID     domain.URN      `json:"agreementId"`
	Format          domain.Format   `json:"format"`
	CallbackAddress string          `json:"callbackAddress"`
	DataAddress     json.RawMessage `json:"dataAddress"`
}

func (h *Handler) transferRequest(c echo.Context) error {
	var req transferRequestBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := validation.Chain(c.Request().Context(),
		validation.RequireURN("consumerPid", string(req.ConsumerPid)),
		validation.RequireURN("agreementId", string(req.AgreementID)),
	); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	orgID, _ := httpmw.GetOrgID(c.Request().Context())
	tp, err := h.transfers.HandleTransferRequest(c.Request().Context(), orgID, req.ConsumerPid, req.AgreementID, req.Format, req.CallbackAddress, req.DataAddress)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusCreated, tp)
}

func (h *Handler) getTransfer(c echo.Context) error {
	providerPid := domain.URN(c.Param("pid"))
	consumerPid := domain.URN(c.QueryParam("consumerPid"))
	if err := validation.Chain(c.Request().Context(),
		validation.RequireURN("pid", string(providerPid)),
		validation.RequireURN("consumerPid", string(consumerPid)),
	); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.GetByPids(c.Request().Context(), providerPid, consumerPid)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

type transferAttrBody struct {
	ProviderPid domain.URN      `json:"providerPid"`
	ConsumerPid domain.URN      `json:"consumerPid"`
	Reason      string          `json:"reason"`
	DataAddress json.RawMessage `json:"dataAddress"`
}

func (h *Handler) transferStart(c echo.Context) error {
	var req transferAttrBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleStart(c.Request().Context(), req.ProviderPid, req.ConsumerPid, domain.AttrByProvider, req.DataAddress)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func (h *Handler) transferSuspension(c echo.Context) error {
	var req transferAttrBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleSuspension(c.Request().Context(), req.ProviderPid, req.ConsumerPid, domain.AttrByProvider, req.Reason)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func (h *Handler) transferCompletion(c echo.Context) error {
	var req transferAttrBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleCompletion(c.Request().Context(), req.ProviderPid, req.ConsumerPid, domain.AttrByProvider)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}

func (h *Handler) transferTermination(c echo.Context) error {
	var req transferAttrBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
	}
	if err := requireURNPidCorrelation(c, req.ProviderPid, validation.RequireURN("consumerPid", string(req.ConsumerPid))); err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	tp, err := h.transfers.HandleTermination(c.Request().Context(), req.ProviderPid, req.ConsumerPid, domain.AttrByProvider, req.Reason)
	if err != nil {
		return c.JSON(statusFor(err), errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, tp)
}
