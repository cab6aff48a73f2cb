package chunkstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no blob was saved for the key.
var ErrNotFound = errors.New("chunkstore: not found")

type Key struct {
	World     string
	Dimension string
	Index     int
}

func (k Key) String() string { return fmt.Sprintf("%s/%s/%d", k.World, k.Dimension, k.Index) }

// Store persists encoded chunk blobs. Implementations must be safe for
// concurrent use by the streamer's workers.
type Store interface {
	Load(ctx context.Context, k Key) ([]byte, error)
	Save(ctx context.Context, k Key, blob []byte) error
	Close() error
}
