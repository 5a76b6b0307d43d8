// Package remote defines the document-store contract the synchronization
// layer is written against. Concrete backends live in the sub-packages; the
// in-memory store in this package backs tests and local development.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = fmt.Errorf("document not found")

// Document is one record in a collection. Path is the full document path
// (collection path plus ID).
type Document struct {
	ID   string
	Path string
	Data map[string]any
}

// Snapshot is one listener emission: the full current document set for the
// subscribed collection, or a non-fatal error. Each emission replaces the
// previous result set entirely.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Condition is a single where clause. Op is one of "==", "<", "<=", ">", ">=".
type Condition struct {
	Field string
	Op    string
	Value any
}

// Query scopes a listen or one-shot read.
type Query struct {
	OrderBy    string
	Descending bool
	Where      []Condition
}

// Batch accumulates writes that Commit applies all-or-nothing.
type Batch interface {
	Set(path string, fields map[string]any) Batch
	Update(path string, fields map[string]any) Batch
	Delete(path string) Batch
	Commit(ctx context.Context) error
}

// Store is the remote document database consumed by the caches. All calls
// are suspension points; Listen channels close when ctx is cancelled and
// implementations must not deliver snapshots after cancellation.
type Store interface {
	Listen(ctx context.Context, collection string, q Query) (<-chan Snapshot, error)
	GetAll(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, fields map[string]any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Increment(ctx context.Context, path string, field string, delta int64) error
	Batch() Batch
	// ServerTimestamp returns the store's sentinel value, resolved to a
	// server-assigned time when the enclosing write lands.
	ServerTimestamp() any
}

// ServerTime is the timestamp sentinel for stores without a native one
// (memory, Mongo). The Firestore adapter uses the vendor sentinel instead.
type ServerTime struct{}

// ResolveServerTime returns a copy of fields with every ServerTime sentinel
// replaced by now, recursing into nested maps.
func ResolveServerTime(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case ServerTime:
			out[k] = now
		case map[string]any:
			out[k] = ResolveServerTime(t, now)
		default:
			out[k] = v
		}
	}
	return out
}

// SplitPath separates a document path into its collection path and ID.
func SplitPath(path string) (collection, id string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
