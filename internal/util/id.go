package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a short opaque identifier: the first 16 hex characters of a
// random UUID. Used for instance and thread ids.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
