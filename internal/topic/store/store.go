// Package store persists the user <-> topic directory.
package store

import (
	"fmt"

	"relaygate/pkg/platform/sentinel"
)

// ErrNotFound is returned when no topic row matches.
var ErrNotFound = fmt.Errorf("topic not found: %w", sentinel.ErrNotFound)
