package validation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/validation"
)

func TestChain_StopsAtFirstError(t *testing.T) {
	var ran []string
	trace := func(name string, err error) validation.Check {
		return func(context.Context) error {
			ran = append(ran, name)
			return err
		}
	}
	boom := errors.New("boom")

	err := validation.Chain(context.Background(),
		trace("first", nil),
		trace("second", boom),
		trace("third", nil),
	)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestRequireURN(t *testing.T) {
	assert.NoError(t, validation.RequireURN("consumerPid", string(domain.NewURN("cnp")))(context.Background()))

	err := validation.RequireURN("consumerPid", "not-a-urn")(context.Background())
	assert.ErrorIs(t, err, domain.ErrUrnFormat)
}

func TestCorrelatePids_RejectsMismatch(t *testing.T) {
	a := domain.NewURN("cnp")
	b := domain.NewURN("cnp")

	assert.NoError(t, validation.CorrelatePids(a, a, "consumerPid")(context.Background()))

	err := validation.CorrelatePids(a, b, "consumerPid")(context.Background())
	assert.ErrorIs(t, err, domain.ErrCorrelation)
}

func TestLegalNegotiationTransition(t *testing.T) {
	assert.NoError(t, validation.LegalNegotiationTransition(domain.NegRequested, domain.NegOffered)(context.Background()))
	assert.NoError(t, validation.LegalNegotiationTransition(domain.NegOffered, domain.NegAccepted)(context.Background()))

	err := validation.LegalNegotiationTransition(domain.NegRequested, domain.NegVerified)(context.Background())
	assert.ErrorIs(t, err, domain.ErrIllegalStateTransition)

	err = validation.LegalNegotiationTransition(domain.NegFinalized, domain.NegTerminated)(context.Background())
	assert.ErrorIs(t, err, domain.ErrIllegalStateTransition)
}

func TestLegalTransferTransition(t *testing.T) {
	assert.NoError(t, validation.LegalTransferTransition(domain.TPRequested, domain.TPStarted)(context.Background()))
	assert.NoError(t, validation.LegalTransferTransition(domain.TPStarted, domain.TPSuspended)(context.Background()))

	err := validation.LegalTransferTransition(domain.TPCompleted, domain.TPStarted)(context.Background())
	assert.ErrorIs(t, err, domain.ErrIllegalStateTransition)
}

func TestRequireRole(t *testing.T) {
	assert.NoError(t, validation.RequireRole(domain.RoleConsumer, domain.RoleConsumer)(context.Background()))

	err := validation.RequireRole(domain.RoleProvider, domain.RoleConsumer)(context.Background())
	assert.ErrorIs(t, err, domain.ErrPolicy)
}
