// Package domain holds the entities, enums, and error kinds shared by
// every DSP engine component.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// URN is a dataspace identifier of the form "urn:<namespace>:<uuid-v4>".
type URN string

// NewURN generates a fresh URN under the given namespace, e.g. "urn:cn:...".
func NewURN(namespace string) URN {
	return URN(fmt.Sprintf("urn:%s:%s", namespace, uuid.New().String()))
}

// Valid reports whether the URN parses as "urn:<ns>:<uuid>".
func (u URN) Valid() bool {
	_, _, err := u.Parse()
	return err == nil
}

// Parse splits the URN into its namespace and UUID parts, validating the
// UUID component. This is the single place property P6 ("all persisted
// URN fields parse as URNs") is enforced.
func (u URN) Parse() (namespace string, id uuid.UUID, err error) {
	parts := strings.SplitN(string(u), ":", 3)
	if len(parts) != 3 || parts[0] != "urn" || parts[1] == "" {
		return "", uuid.UUID{}, fmt.Errorf("%w: %q is not a URN", ErrUrnFormat, u)
	}
	id, err = uuid.Parse(parts[2])
	if err != nil {
		return "", uuid.UUID{}, fmt.Errorf("%w: %q: %v", ErrUrnFormat, u, err)
	}
	return parts[1], id, nil
}

func (u URN) String() string { return string(u) }
