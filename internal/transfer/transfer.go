// Package transfer implements the Transfer Process engine (spec component
// C5): the state machine backing the five DSP transfer endpoints, and the
// calls into the Data Plane Controller that accompany REQUESTED->STARTED,
// STARTED<->SUSPENDED, and terminal transitions.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/eventsvc"
	"github.com/arc-self/rainbow-connector/internal/repository"
	"github.com/arc-self/rainbow-connector/internal/validation"
)

// Sender delivers an outbound DSP transfer message to the counterparty.
type Sender interface {
	SendTransferMessage(ctx context.Context, tp domain.TransferProcess, messageType string, body json.RawMessage) error
}

// DataPlaneController is called by the engine on the transitions that
// require provisioning or tearing down a data-plane process (spec §4.6).
// It is satisfied by internal/dataplane.Controller; the engine depends only
// on this narrow interface so it never reaches into protocol-adapter
// internals.
type DataPlaneController interface {
	StartDataPlane(ctx context.Context, tp domain.TransferProcess, upstream, downstream domain.HopDescriptor) (dataPlaneID string, err error)
	SuspendDataPlane(ctx context.Context, dataPlaneID string) error
	ResumeDataPlane(ctx context.Context, dataPlaneID string) error
	TerminateDataPlane(ctx context.Context, dataPlaneID string) error
}

// AgreementResolver checks that an agreementId resolves to an Agreement
// whose owning CNP has reached FINALIZED (P2, spec §4.5). Satisfied by
// negotiation.Engine.ResolveFinalizedAgreement.
type AgreementResolver interface {
	ResolveFinalizedAgreement(ctx context.Context, agreementID domain.URN) (domain.Agreement, error)
}

// DataServiceResolver resolves the agreement's target asset to the
// data-service endpoint the data plane must pull from or push to — the
// upstream hop handed to the Data Plane Controller on REQUESTED->STARTED
// (spec §4.5). Satisfied by internal/catalog.DataServiceResolver; declared
// locally so the engine depends only on the narrow method it calls.
type DataServiceResolver interface {
	Resolve(ctx context.Context, assetID domain.URN) (domain.HopDescriptor, error)
}

// Engine drives Transfer Process transitions.
type Engine struct {
	repo       repository.TransferRepository
	agreements AgreementResolver
	dataPlanes DataPlaneController
	catalog    DataServiceResolver
	events     *eventsvc.Service
	sender     Sender
	logger     *zap.Logger
}

func New(repo repository.TransferRepository, agreements AgreementResolver, dataPlanes DataPlaneController, catalog DataServiceResolver, events *eventsvc.Service, sender Sender, logger *zap.Logger) *Engine {
	return &Engine{repo: repo, agreements: agreements, dataPlanes: dataPlanes, catalog: catalog, events: events, sender: sender, logger: logger}
}

// InitiateRequest starts a new TP as the consumer.
func (e *Engine) InitiateRequest(ctx context.Context, organizationID, callbackAddress string, agreementID domain.URN, format domain.Format, dataAddress json.RawMessage) (domain.TransferProcess, error) {
	if _, err := e.agreements.ResolveFinalizedAgreement(ctx, agreementID); err != nil {
		return domain.TransferProcess{}, err
	}
	tp := domain.TransferProcess{
		OrganizationID:  organizationID,
		ConsumerPid:     domain.NewURN("tp"),
		AgreementID:     agreementID,
		Format:          format,
		State:           domain.TPRequested,
		StateAttribute:  domain.AttrOnRequest,
		Role:            domain.RoleConsumer,
		CallbackAddress: callbackAddress,
		DataAddress:     dataAddress,
	}
	created, err := e.repo.CreateTP(ctx, tp)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	body, _ := json.Marshal(map[string]any{
		"consumerPid": created.ConsumerPid,
		"agreementId": agreementID,
		"format":      format,
		"dataAddress": json.RawMessage(dataAddress),
	})
	if err := e.sender.SendTransferMessage(ctx, created, "dspace:TransferRequestMessage", body); err != nil {
		e.logger.Error("send initial transfer request", zap.Error(err))
	}
	return created, nil
}

// HandleTransferRequest processes an inbound TransferRequestMessage as the
// provider, creating the TP.
func (e *Engine) HandleTransferRequest(ctx context.Context, organizationID string, consumerPid domain.URN, agreementID domain.URN, format domain.Format, callbackAddress string, dataAddress json.RawMessage) (domain.TransferProcess, error) {
	// P2 / PolicyError: agreementId must resolve to an Agreement whose CNP
	// is FINALIZED at the moment of TP creation, checked before any write
	// (spec §8 scenario 6: "no TP created" on failure).
	if _, err := e.agreements.ResolveFinalizedAgreement(ctx, agreementID); err != nil {
		return domain.TransferProcess{}, err
	}
	tp := domain.TransferProcess{
		OrganizationID:  organizationID,
		ProviderPid:     domain.NewURN("tp"),
		ConsumerPid:     consumerPid,
		AgreementID:     agreementID,
		Format:          format,
		State:           domain.TPRequested,
		StateAttribute:  domain.AttrOnRequest,
		Role:            domain.RoleProvider,
		CallbackAddress: callbackAddress,
		DataAddress:     dataAddress,
	}
	created, err := e.repo.CreateTP(ctx, tp)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	e.notify(ctx, created, domain.OpCreated)
	return created, nil
}

// HandleStart processes a TransferStartMessage from either party, optionally
// carrying a dataAddress (the PUSH sink the provider emits). Transitions
// REQUESTED/SUSPENDED -> STARTED, provisioning (or resuming) the data plane
// in the same call.
//
// dataAddress rules (spec §4.3 check 7, §4.5, edge case 4): a dataAddress is
// only accepted for format.Action == PUSH and only while none is stored on
// the TP yet, and the first TransferStart of a PUSH TP without a stored
// address must carry one. The sender's role is not checked. A TransferStart
// on a TP that is already STARTED is rejected by the transition table, with
// or without a dataAddress.
func (e *Engine) HandleStart(ctx context.Context, providerPid, consumerPid domain.URN, attr domain.TransferStateAttribute, dataAddress json.RawMessage) (domain.TransferProcess, error) {
	tp, err := e.repo.GetTPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalTransferTransition(tp.State, domain.TPStarted)); err != nil {
		return domain.TransferProcess{}, err
	}
	if len(dataAddress) > 0 {
		if tp.Format.Action != domain.ActionPush {
			return domain.TransferProcess{}, fmt.Errorf("%w: dataAddress on TransferStart requires format action PUSH, got %q", domain.ErrSchema, tp.Format.Action)
		}
		if len(tp.DataAddress) > 0 {
			return domain.TransferProcess{}, fmt.Errorf("%w: dataAddress already set on a prior TransferStart", domain.ErrIllegalStateTransition)
		}
	} else if tp.Format.Action == domain.ActionPush && tp.State == domain.TPRequested && len(tp.DataAddress) == 0 {
		return domain.TransferProcess{}, fmt.Errorf("%w: PUSH transfer's first TransferStart must carry a dataAddress", domain.ErrSchema)
	}

	var dataPlaneID string
	if tp.State == domain.TPSuspended && tp.DataPlaneID != "" {
		if err := e.dataPlanes.ResumeDataPlane(ctx, tp.DataPlaneID); err != nil {
			return domain.TransferProcess{}, fmt.Errorf("resume data plane: %w", err)
		}
		dataPlaneID = tp.DataPlaneID
	} else {
		agreement, err := e.agreements.ResolveFinalizedAgreement(ctx, tp.AgreementID)
		if err != nil {
			return domain.TransferProcess{}, fmt.Errorf("resolve agreement for data service lookup: %w", err)
		}
		upstream, err := e.catalog.Resolve(ctx, agreement.Target)
		if err != nil {
			return domain.TransferProcess{}, fmt.Errorf("resolve data service: %w", err)
		}
		var downstream domain.HopDescriptor
		if len(dataAddress) > 0 {
			if err := json.Unmarshal(dataAddress, &downstream); err != nil {
				return domain.TransferProcess{}, fmt.Errorf("%w: dataAddress: %v", domain.ErrSchema, err)
			}
		}
		dataPlaneID, err = e.dataPlanes.StartDataPlane(ctx, tp, upstream, downstream)
		if err != nil {
			return domain.TransferProcess{}, fmt.Errorf("start data plane: %w", err)
		}
	}

	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid, "dataAddress": json.RawMessage(dataAddress)})
	return e.transitionWithDataAddress(ctx, tp.ID, domain.TPStarted, attr, "dspace:TransferStartMessage", body, &dataPlaneID, dataAddress)
}

// HandleSuspension processes a TransferSuspensionMessage. Transitions
// STARTED -> SUSPENDED.
func (e *Engine) HandleSuspension(ctx context.Context, providerPid, consumerPid domain.URN, attr domain.TransferStateAttribute, reason string) (domain.TransferProcess, error) {
	tp, err := e.repo.GetTPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalTransferTransition(tp.State, domain.TPSuspended)); err != nil {
		return domain.TransferProcess{}, err
	}
	if tp.DataPlaneID != "" {
		if err := e.dataPlanes.SuspendDataPlane(ctx, tp.DataPlaneID); err != nil {
			return domain.TransferProcess{}, fmt.Errorf("suspend data plane: %w", err)
		}
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid, "reason": reason})
	return e.transition(ctx, tp.ID, domain.TPSuspended, attr, "dspace:TransferSuspensionMessage", body, nil)
}

// HandleCompletion processes a TransferCompletionMessage. Transitions
// STARTED -> COMPLETED.
func (e *Engine) HandleCompletion(ctx context.Context, providerPid, consumerPid domain.URN, attr domain.TransferStateAttribute) (domain.TransferProcess, error) {
	tp, err := e.repo.GetTPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalTransferTransition(tp.State, domain.TPCompleted)); err != nil {
		return domain.TransferProcess{}, err
	}
	if tp.DataPlaneID != "" {
		if err := e.dataPlanes.TerminateDataPlane(ctx, tp.DataPlaneID); err != nil {
			return domain.TransferProcess{}, fmt.Errorf("terminate data plane on completion: %w", err)
		}
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid})
	return e.transition(ctx, tp.ID, domain.TPCompleted, attr, "dspace:TransferCompletionMessage", body, nil)
}

// HandleTermination processes a TransferTerminationMessage from either
// party. Allowed from every non-terminal state.
func (e *Engine) HandleTermination(ctx context.Context, providerPid, consumerPid domain.URN, attr domain.TransferStateAttribute, reason string) (domain.TransferProcess, error) {
	tp, err := e.repo.GetTPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	if tp.State.Terminal() {
		return domain.TransferProcess{}, fmt.Errorf("%w: TP already in terminal state %q", domain.ErrIllegalStateTransition, tp.State)
	}
	if tp.DataPlaneID != "" {
		if err := e.dataPlanes.TerminateDataPlane(ctx, tp.DataPlaneID); err != nil {
			e.logger.Error("terminate data plane on TP termination", zap.Error(err))
		}
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid, "reason": reason})
	return e.transition(ctx, tp.ID, domain.TPTerminated, attr, "dspace:TransferTerminationMessage", body, nil)
}

// GetByPids returns the TP for a given pid pair.
func (e *Engine) GetByPids(ctx context.Context, providerPid, consumerPid domain.URN) (domain.TransferProcess, error) {
	return e.repo.GetTPByPids(ctx, providerPid, consumerPid)
}

// GetByID returns the TP for its internal row id, used by the data-plane
// proxy handler to resolve current TP state for the authorization gate
// (spec §4.6, P3) without the Data Plane Controller holding a
// TransferRepository of its own.
func (e *Engine) GetByID(ctx context.Context, id string) (domain.TransferProcess, error) {
	return e.repo.GetTPByID(ctx, id)
}

func (e *Engine) transition(ctx context.Context, id string, to domain.TransferState, attr domain.TransferStateAttribute, messageType string, payload json.RawMessage, dataPlaneID *string) (domain.TransferProcess, error) {
	return e.transitionWithDataAddress(ctx, id, to, attr, messageType, payload, dataPlaneID, nil)
}

// transitionWithDataAddress is transition plus the provider's PUSH sink
// address, set at most once on the first TransferStart (see HandleStart).
func (e *Engine) transitionWithDataAddress(ctx context.Context, id string, to domain.TransferState, attr domain.TransferStateAttribute, messageType string, payload json.RawMessage, dataPlaneID *string, dataAddress json.RawMessage) (domain.TransferProcess, error) {
	next, err := e.repo.UpdateTPState(ctx, id, func(cur domain.TransferProcess) (domain.TransferProcess, domain.TransferMessage, error) {
		next := cur
		next.State = to
		next.StateAttribute = attr
		if dataPlaneID != nil {
			next.DataPlaneID = *dataPlaneID
		}
		if len(dataAddress) > 0 {
			next.DataAddress = dataAddress
		}
		msg := domain.TransferMessage{
			TPID:        id,
			Direction:   domain.DirectionInbound,
			MessageType: messageType,
			FromState:   cur.State,
			ToState:     to,
			Payload:     payload,
		}
		return next, msg, nil
	})
	if err != nil {
		return domain.TransferProcess{}, err
	}
	e.notify(ctx, next, domain.OpUpdated)
	return next, nil
}

func (e *Engine) notify(ctx context.Context, tp domain.TransferProcess, op domain.NotificationOperation) {
	payload, _ := json.Marshal(tp)
	e.events.Notify(ctx, domain.CategoryTransfer, op, "TransferProcess", payload)
}
