package rpcadapter

import (
	"errors"
	"net/http"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// statusFor mirrors dspadapter's error-kind mapping (spec §7); kept as a
// separate copy rather than an exported shared helper since the two
// adapters otherwise share no code and a cross-import would only exist to
// serve this one function.
func statusFor(err error) int {
	var nf *repository.NotFoundError
	switch {
	case errors.As(err, &nf), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSchema), errors.Is(err, domain.ErrUrnFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCorrelation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIllegalStateTransition), errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrPolicy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
