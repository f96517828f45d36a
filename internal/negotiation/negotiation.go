// Package negotiation implements the Contract Negotiation Process engine
// (spec component C4): the state machine backing the six DSP negotiation
// endpoints, Offer/Agreement creation, and outbound notification on every
// accepted transition.
package negotiation

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

// Sender delivers an outbound DSP message to the counterparty. The DSP
// adapter implements this with HTTP POST + retry/backoff + idempotency
// caching (spec §4.7); the engine only knows it returns an error on
// terminal failure.
type Sender interface {
	SendNegotiationMessage(ctx context.Context, cnp domain.ContractNegotiationProcess, messageType string, body json.RawMessage) error
}

// Engine drives Contract Negotiation Process transitions.
type Engine struct {
	repo   repository.NegotiationRepository
	events *eventsvc.Service
	sender Sender
	logger *zap.Logger
}

func New(repo repository.NegotiationRepository, events *eventsvc.Service, sender Sender, logger *zap.Logger) *Engine {
	return &Engine{repo: repo, events: events, sender: sender, logger: logger}
}

// InitiateRequest starts a new CNP as the consumer, generating our own
// consumerPid and sending a ContractRequestMessage carrying the offer.
func (e *Engine) InitiateRequest(ctx context.Context, organizationID, callbackAddress string, offerTarget domain.URN, offerBody json.RawMessage) (domain.ContractNegotiationProcess, error) {
	cnp := domain.ContractNegotiationProcess{
		OrganizationID:  organizationID,
		ConsumerPid:     domain.NewURN("cnp"),
		ProviderPid:     "", // unknown until the provider responds
		State:           domain.NegRequested,
		Role:            domain.RoleConsumer,
		InitiatedBy:     domain.RoleConsumer,
		CallbackAddress: callbackAddress,
	}
	created, err := e.repo.CreateCNP(ctx, cnp)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}

	msg := map[string]any{
		"consumerPid": created.ConsumerPid,
		"offer":       json.RawMessage(offerBody),
	}
	payload, _ := json.Marshal(msg)
	if err := e.sender.SendNegotiationMessage(ctx, created, "dspace:ContractRequestMessage", payload); err != nil {
		e.logger.Error("send initial contract request", zap.Error(err))
	}
	return created, nil
}

// HandleContractRequest processes an inbound ContractRequestMessage. On a
// fresh request (providerPid unknown) it creates the CNP as provider; on a
// counter-request against an existing OFFERED negotiation it transitions
// OFFERED -> REQUESTED.
func (e *Engine) HandleContractRequest(ctx context.Context, organizationID string, consumerPid domain.URN, callbackAddress string, offerTarget domain.URN, offerBody json.RawMessage) (domain.ContractNegotiationProcess, error) {
	existing, err := e.repo.GetCNPByConsumerPid(ctx, consumerPid)
	if err != nil {
		cnp := domain.ContractNegotiationProcess{
			OrganizationID:  organizationID,
			ProviderPid:     domain.NewURN("cnp"),
			ConsumerPid:     consumerPid,
			State:           domain.NegRequested,
			Role:            domain.RoleProvider,
			InitiatedBy:     domain.RoleConsumer,
			CallbackAddress: callbackAddress,
		}
		created, cerr := e.repo.CreateCNP(ctx, cnp)
		if cerr != nil {
			return domain.ContractNegotiationProcess{}, cerr
		}
		e.notify(ctx, created, domain.OpCreated)
		return created, nil
	}

	if err := validation.Chain(ctx,
		validation.CorrelatePids(consumerPid, existing.ConsumerPid, "consumerPid"),
		validation.LegalNegotiationTransition(existing.State, domain.NegRequested),
	); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}

	return e.transition(ctx, existing.ID, domain.NegRequested, domain.DirectionInbound, "dspace:ContractRequestMessage", offerBody, nil, nil)
}

// HandleContractOffer processes an inbound ContractOfferMessage sent by the
// provider. Transitions REQUESTED/OFFERED -> OFFERED.
func (e *Engine) HandleContractOffer(ctx context.Context, providerPid, consumerPid domain.URN, offerTarget domain.URN, offerBody json.RawMessage) (domain.ContractNegotiationProcess, error) {
	cnp, err := e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	if err := validation.Chain(ctx,
		validation.LegalNegotiationTransition(cnp.State, domain.NegOffered),
	); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	offer := &domain.Offer{
		ID:     domain.NewURN("offer"),
		Target: offerTarget,
		Body:   offerBody,
	}
	return e.transition(ctx, cnp.ID, domain.NegOffered, domain.DirectionInbound, "dspace:ContractOfferMessage", offerBody, offer, nil)
}

// HandleContractAccept processes the consumer's acceptance of an offer.
// Transitions OFFERED -> ACCEPTED.
func (e *Engine) HandleContractAccept(ctx context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	cnp, err := e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalNegotiationTransition(cnp.State, domain.NegAccepted)); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid, "eventType": "ACCEPTED"})
	return e.transition(ctx, cnp.ID, domain.NegAccepted, domain.DirectionInbound, "dspace:ContractNegotiationEventMessage", body, nil, nil)
}

// HandleContractAgreement processes an inbound ContractAgreementMessage
// from the provider. Transitions REQUESTED/OFFERED/ACCEPTED -> AGREED and creates
// the Agreement (exactly once per CNP — P5).
func (e *Engine) HandleContractAgreement(ctx context.Context, providerPid, consumerPid domain.URN, target domain.URN, assignee, assigner string, agreementBody json.RawMessage) (domain.ContractNegotiationProcess, error) {
	cnp, err := e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalNegotiationTransition(cnp.State, domain.NegAgreed)); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	agreement := &domain.Agreement{
		ID:       domain.NewURN("agreement"),
		Target:   target,
		Assignee: assignee,
		Assigner: assigner,
		Body:     agreementBody,
	}
	return e.transition(ctx, cnp.ID, domain.NegAgreed, domain.DirectionInbound, "dspace:ContractAgreementMessage", agreementBody, nil, agreement)
}

// HandleVerification processes the consumer's ContractAgreementVerification
// message. Transitions AGREED -> VERIFIED.
func (e *Engine) HandleVerification(ctx context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	cnp, err := e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalNegotiationTransition(cnp.State, domain.NegVerified)); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid})
	return e.transition(ctx, cnp.ID, domain.NegVerified, domain.DirectionInbound, "dspace:ContractAgreementVerificationMessage", body, nil, nil)
}

// HandleFinalized processes a FINALIZED ContractNegotiationEventMessage
// from the provider. Transitions VERIFIED -> FINALIZED.
func (e *Engine) HandleFinalized(ctx context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	cnp, err := e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	if err := validation.Chain(ctx, validation.LegalNegotiationTransition(cnp.State, domain.NegFinalized)); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid, "eventType": "FINALIZED"})
	return e.transition(ctx, cnp.ID, domain.NegFinalized, domain.DirectionInbound, "dspace:ContractNegotiationEventMessage", body, nil, nil)
}

// HandleTermination processes a ContractNegotiationTerminationMessage from
// either party. Allowed from every non-terminal state (spec §4.3), and —
// per DESIGN.md's Open Question decision — from SUSPENDED-equivalent states
// driven by either party, taking the transition table's literal reading.
func (e *Engine) HandleTermination(ctx context.Context, providerPid, consumerPid domain.URN, reason string) (domain.ContractNegotiationProcess, error) {
	cnp, err := e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	if cnp.State.Terminal() {
		return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: CNP already in terminal state %q", domain.ErrIllegalStateTransition, cnp.State)
	}
	body, _ := json.Marshal(map[string]any{"providerPid": providerPid, "consumerPid": consumerPid, "reason": reason})
	return e.transition(ctx, cnp.ID, domain.NegTerminated, domain.DirectionInbound, "dspace:ContractNegotiationTerminationMessage", body, nil, nil)
}

// GetByPids returns the CNP for a given pid pair.
func (e *Engine) GetByPids(ctx context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	return e.repo.GetCNPByPids(ctx, providerPid, consumerPid)
}

// ResolveFinalizedAgreement looks up an Agreement and checks that its owning
// CNP has reached FINALIZED — the binding the transfer engine checks before
// calling TransferRepository.CreateTP, per P2 and the PolicyError scenario in spec §8. It satisfies
// transfer.AgreementResolver.
func (e *Engine) ResolveFinalizedAgreement(ctx context.Context, agreementID domain.URN) (domain.Agreement, error) {
	agreement, err := e.repo.GetAgreementByID(ctx, agreementID)
	if err != nil {
		return domain.Agreement{}, err
	}
	cnp, err := e.repo.GetCNPByID(ctx, agreement.CNPID)
	if err != nil {
		return domain.Agreement{}, err
	}
	if cnp.State != domain.NegFinalized {
		return domain.Agreement{}, fmt.Errorf("%w: agreement %q references a CNP in state %q, not FINALIZED", domain.ErrPolicy, agreementID, cnp.State)
	}
	return agreement, nil
}

// transition performs the repository write and fires the at-most-once
// notification side effect; it is the single choke point every Handle*
// method funnels through so P-ONCE (at-most-once side effects per
// transition) holds by construction.
func (e *Engine) transition(ctx context.Context, id string, to domain.NegotiationState, dir domain.MessageDirection, messageType string, payload json.RawMessage, offer *domain.Offer, agreement *domain.Agreement) (domain.ContractNegotiationProcess, error) {
	next, err := e.repo.UpdateCNPState(ctx, id, func(cur domain.ContractNegotiationProcess) (domain.ContractNegotiationProcess, domain.NegotiationMessage, *domain.Offer, *domain.Agreement, error) {
		next := cur
		next.State = to
		msg := domain.NegotiationMessage{
			CNPID:       id,
			Direction:   dir,
			MessageType: messageType,
			FromState:   cur.State,
			ToState:     to,
			Payload:     payload,
		}
		if offer != nil {
			offer.CNPID = id
		}
		if agreement != nil {
			agreement.CNPID = id
		}
		return next, msg, offer, agreement, nil
	})
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	e.notify(ctx, next, domain.OpUpdated)
	return next, nil
}

func (e *Engine) notify(ctx context.Context, cnp domain.ContractNegotiationProcess, op domain.NotificationOperation) {
	payload, _ := json.Marshal(cnp)
	e.events.Notify(ctx, domain.CategoryNegotiation, op, "ContractNegotiation", payload)
}
