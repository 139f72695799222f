// Package session manages per-user conversation state: an in-memory working
// set with durable write-through, idle eviction and transparent reload.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/arborlabs/arbor/internal/tree"
)

// ErrNotFound is returned when no saved conversation exists for a key.
var ErrNotFound = errors.New("session: conversation not found")

// Store is the durable conversation storage boundary. Save overwrites;
// Load returns ErrNotFound for unknown keys.
type Store interface {
	Save(ctx context.Context, td *tree.TreeData) error
	Load(ctx context.Context, userID, conversationID string) (*tree.TreeData, error)
	Exists(ctx context.Context, userID, conversationID string) (bool, error)
	Delete(ctx context.Context, userID, conversationID string) error
}

// Recycler is implemented by stores whose underlying client can be closed
// when idle and re-dialed lazily on the next operation. IdleSince returns
// the time of the last operation, zero when no live client exists.
type Recycler interface {
	IdleSince() time.Time
	Recycle() error
}
