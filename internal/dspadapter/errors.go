package dspadapter

import (
	"errors"
	"net/http"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// statusFor maps an engine/repository error to the DSP error-kind status
// code table (spec §7). Order matters: more specific kinds are checked
// before the generic ones they could also satisfy.
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

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
