// File: channel/id.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ID identifies a channel for its whole life.
type ID uuid.UUID

// NewID returns a random ID.
func NewID() ID { return ID(uuid.New()) }

// String returns the canonical long form.
func (id ID) String() string { return uuid.UUID(id).String() }

// Short returns the first four bytes in hex, used in log lines.
func (id ID) Short() string { return hex.EncodeToString(id[:4]) }
