// Package persist saves unsent events at shutdown and restores them at
// startup.
//
// Bridge moves the queue contents to and from an io.Writer/io.Reader or a
// Store. Failures are logged and swallowed: a broken or missing store must
// never block startup or shutdown.
package persist

import "errors"

// DefaultKey names the snapshot used when the caller does not pick one.
const DefaultKey = "pending-events"

// Store holds serialized queue snapshots by key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a snapshot, replacing any previous one under key.
	Save(key string, data []byte) error

	// Load retrieves a snapshot.
	// Returns ErrNotFound if no snapshot exists under key.
	Load(key string) ([]byte, error)

	// Delete removes a snapshot.
	// Returns nil if it doesn't exist.
	Delete(key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a snapshot doesn't exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store closed")

	// ErrEmptyKey indicates a blank snapshot key.
	ErrEmptyKey = errors.New("snapshot key required")
)
