// Package storage uploads user media (itinerary photos, avatars) to an
// object store and returns public URLs.
package storage

import "context"

// Uploader pushes raw bytes to object storage and returns the public URL.
type Uploader interface {
	Upload(ctx context.Context, folder, name string, data []byte) (string, error)
}
