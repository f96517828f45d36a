package domain

import "errors"

// Error kinds from spec §7. Engines and the repository wrap these with
// fmt.Errorf("%w: ...") so callers can classify failures with errors.Is.
var (
	ErrSchema                     = errors.New("schema error")
	ErrUrnFormat                  = errors.New("urn format error")
	ErrCorrelation                = errors.New("correlation error")
	ErrNotFound                   = errors.New("not found")
	ErrIllegalStateTransition     = errors.New("illegal state transition")
	ErrPolicy                     = errors.New("policy error")
	ErrUpstreamUnreachable        = errors.New("upstream unreachable")
	ErrUpstreamDeserialization    = errors.New("upstream deserialization error")
	ErrDatabase                   = errors.New("database error")
	ErrInternal                   = errors.New("internal error")
	ErrAlreadyExists              = errors.New("already exists")
)
