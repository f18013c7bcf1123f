// Package imagestore persists the original uploaded images and hands back
// retrievable handles. The enrollment path only needs Save; handles are
// opaque strings recorded in the ledger.
package imagestore

import "context"

// Store saves image blobs.
type Store interface {
	// Save persists the image under the suggested name and returns a
	// retrievable handle.
	Save(ctx context.Context, data []byte, name string) (string, error)
}
