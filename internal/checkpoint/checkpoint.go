// Package checkpoint persists pipeline state snapshots so a run can
// resume without replaying history.
package checkpoint

import (
	"context"
)

// Store saves and loads JSON-serializable state blobs by key.
type Store interface {
	// Save persists the state under key, replacing any previous snapshot.
	Save(ctx context.Context, key string, state any) error

	// Load reads the snapshot under key into dest. Returns
	// models.ErrNoCheckpoint when no snapshot exists.
	Load(ctx context.Context, key string, dest any) error

	// Close releases the store's resources.
	Close() error
}
