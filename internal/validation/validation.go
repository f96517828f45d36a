// Package validation runs every inbound DSP/RPC message through an
// ordered, short-circuiting chain of checks before an engine is allowed to
// touch it: shape, URN format, PID correlation, process existence,
// cross-PID correlation, and state-transition legality. The chain shape
// mirrors an Echo middleware stack (each check either lets the request
// through or returns immediately) even though it runs in-process rather
// than over HTTP, since the teacher structures every layered check this way
// (see packages/go-core/middleware's composable context helpers).
package validation

import (
	"context"
	"fmt"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

// Check is one link in the chain. It returns a non-nil error to abort.
type Check func(ctx context.Context) error

// Chain runs checks in order, stopping at the first error.
func Chain(ctx context.Context, checks ...Check) error {
	for _, check := range checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RequireURN checks that a raw field parses as a URN, per P6.
func RequireURN(field, value string) Check {
	return func(context.Context) error {
		if !domain.URN(value).Valid() {
			return fmt.Errorf("%w: field %q: %q is not a valid URN", domain.ErrUrnFormat, field, value)
		}
		return nil
	}
}

// RequireNonEmpty checks a required string field is present.
func RequireNonEmpty(field, value string) Check {
	return func(context.Context) error {
		if value == "" {
			return fmt.Errorf("%w: field %q is required", domain.ErrSchema, field)
		}
		return nil
	}
}

// CorrelatePids checks that one pid carried by a message equals the value
// it is compared against (the URL segment or the stored process row) for
// the same role key named by field — used for both the URI/body and the
// cross-PID correlation checks (spec §4.3, I-PID). Each call compares
// exactly one pair.
func CorrelatePids(messagePid, storedPid domain.URN, field string) Check {
	return func(context.Context) error {
		if messagePid != storedPid {
			return fmt.Errorf("%w: %s mismatch: message carries %q, process has %q", domain.ErrCorrelation, field, messagePid, storedPid)
		}
		return nil
	}
}

// NegotiationTransitionTable is the legal from -> {to...} map for the
// Contract Negotiation Process (spec §4.3): REQUESTED and OFFERED both carry
// a self-loop for the counter-request / counter-offer cycle, and OFFERED
// also accepts a direct ContractAgreement (AGREED) per the table's literal
// reading.
var NegotiationTransitionTable = map[domain.NegotiationState][]domain.NegotiationState{
	domain.NegRequested: {domain.NegRequested, domain.NegOffered, domain.NegAgreed, domain.NegTerminated},
	domain.NegOffered:   {domain.NegRequested, domain.NegOffered, domain.NegAccepted, domain.NegAgreed, domain.NegTerminated},
	domain.NegAccepted:  {domain.NegAgreed, domain.NegTerminated},
	domain.NegAgreed:    {domain.NegVerified, domain.NegTerminated},
	domain.NegVerified:  {domain.NegFinalized, domain.NegTerminated},
}

// TransferTransitionTable is the legal from -> {to...} map for the Transfer
// Process (spec §3/§4.3).
var TransferTransitionTable = map[domain.TransferState][]domain.TransferState{
	domain.TPRequested: {domain.TPStarted, domain.TPTerminated},
	domain.TPStarted:   {domain.TPSuspended, domain.TPCompleted, domain.TPTerminated},
	domain.TPSuspended: {domain.TPStarted, domain.TPTerminated},
}

// LegalNegotiationTransition checks from -> to against NegotiationTransitionTable.
func LegalNegotiationTransition(from, to domain.NegotiationState) Check {
	return func(context.Context) error {
		if from.Terminal() {
			return fmt.Errorf("%w: CNP already in terminal state %q", domain.ErrIllegalStateTransition, from)
		}
		for _, allowed := range NegotiationTransitionTable[from] {
			if allowed == to {
				return nil
			}
		}
		return fmt.Errorf("%w: %s -> %s is not a legal negotiation transition", domain.ErrIllegalStateTransition, from, to)
	}
}

// LegalTransferTransition checks from -> to against TransferTransitionTable.
func LegalTransferTransition(from, to domain.TransferState) Check {
	return func(context.Context) error {
		if from.Terminal() {
			return fmt.Errorf("%w: TP already in terminal state %q", domain.ErrIllegalStateTransition, from)
		}
		for _, allowed := range TransferTransitionTable[from] {
			if allowed == to {
				return nil
			}
		}
		return fmt.Errorf("%w: %s -> %s is not a legal transfer transition", domain.ErrIllegalStateTransition, from, to)
	}
}

// RequireRole checks that a process row belongs to the expected role —
// used by the RPC adapter, which only ever drives "our own" side of a
// process (spec §4.8).
func RequireRole(got, want domain.Role) Check {
	return func(context.Context) error {
		if got != want {
			return fmt.Errorf("%w: operation requires role %q, process has %q", domain.ErrPolicy, want, got)
		}
		return nil
	}
}
