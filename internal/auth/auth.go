// Package auth defines the TokenVerifier contract the DSP and RPC adapters
// use to authenticate inbound requests. Counterparty connectors are
// expected to carry a bearer token or a pre-shared key the same way
// iam-service's webhook handler checks X-Webhook-Secret with a
// constant-time comparison; the concrete verification policy (DSP's
// eventual OIDC4VP/GNAP machinery, per spec §9) is intentionally left
// external to this package (see DESIGN.md Open Questions).
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned by TokenVerifier implementations on a failed check.
var ErrUnauthorized = errors.New("unauthorized")

// TokenVerifier authenticates one inbound request's credential.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) error
}

// PresharedKeyVerifier is the simplest TokenVerifier: a single shared
// secret compared in constant time, the same mechanism iam-service's
// WebhookHandler uses for its Keycloak callback.
type PresharedKeyVerifier struct {
	key string
}

func NewPresharedKeyVerifier(key string) *PresharedKeyVerifier {
	return &PresharedKeyVerifier{key: key}
}

func (v *PresharedKeyVerifier) Verify(ctx context.Context, credential string) error {
	if subtle.ConstantTimeCompare([]byte(credential), []byte(v.key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
