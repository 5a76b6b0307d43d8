// Package firestoredb adapts Cloud Firestore to the remote.Store contract.
package firestoredb

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/triptuner/triptuner-go/remote"
)

// Store implements remote.Store on a Firestore client.
type Store struct {
	client *firestore.Client
}

// Connect initializes the Firebase app and opens a Firestore client.
// credentialsPath may be empty to use application default credentials.
func Connect(ctx context.Context, projectID, credentialsPath string) (*Store, error) {
	conf := &firebase.Config{ProjectID: projectID}
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init Firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open Firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStore wraps an existing Firestore client, e.g. one pointed at the
// emulator.
func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) query(collection string, q remote.Query) firestore.Query {
	ref := s.client.Collection(collection).Query
	for _, cond := range q.Where {
		ref = ref.Where(cond.Field, cond.Op, cond.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		ref = ref.OrderBy(q.OrderBy, dir)
	}
	return ref
}

// Listen streams full query snapshots. Each emission replaces the previous
// result set. The channel closes when ctx is cancelled.
func (s *Store) Listen(ctx context.Context, collection string, q remote.Query) (<-chan remote.Snapshot, error) {
	out := make(chan remote.Snapshot)
	it := s.query(collection, q).Snapshots(ctx)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || ctx.Err() != nil {
					return
				}
				select {
				case out <- remote.Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			docs, err := collectDocs(collection, snap.Documents)
			if err != nil {
				select {
				case out <- remote.Snapshot{Err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case out <- remote.Snapshot{Docs: docs}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) GetAll(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	return collectDocs(collection, s.query(collection, q).Documents(ctx))
}

func collectDocs(collection string, it *firestore.DocumentIterator) ([]remote.Document, error) {
	var docs []remote.Document
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, remote.Document{
			ID:   doc.Ref.ID,
			Path: collection + "/" + doc.Ref.ID,
			Data: doc.Data(),
		})
	}
}

func (s *Store) Get(ctx context.Context, path string) (remote.Document, error) {
	doc, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return remote.Document{}, remote.ErrNotFound
		}
		return remote.Document{}, err
	}
	_, id := remote.SplitPath(path)
	return remote.Document{ID: id, Path: path, Data: doc.Data()}, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]any) error {
	_, err := s.client.Doc(path).Set(ctx, translate(fields))
	return err
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range translate(fields) {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	_, err := s.client.Doc(path).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return remote.ErrNotFound
	}
	return err
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.Doc(path).Delete(ctx)
	return err
}

func (s *Store) Increment(ctx context.Context, path string, field string, delta int64) error {
	_, err := s.client.Doc(path).Set(ctx, map[string]any{
		field: firestore.Increment(delta),
	}, firestore.MergeAll)
	return err
}

// ServerTimestamp returns the Firestore write-time sentinel.
func (s *Store) ServerTimestamp() any {
	return firestore.ServerTimestamp
}

// translate swaps the portable server-time sentinel for Firestore's own.
func translate(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(remote.ServerTime); ok {
			out[k] = firestore.ServerTimestamp
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = translate(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Batch buffers writes for all-or-nothing commit.
type batch struct {
	store *Store
	ops   []func(b *firestore.WriteBatch)
}

func (s *Store) Batch() remote.Batch {
	return &batch{store: s}
}

func (b *batch) Set(path string, fields map[string]any) remote.Batch {
	ref := b.store.client.Doc(path)
	data := translate(fields)
	b.ops = append(b.ops, func(wb *firestore.WriteBatch) { wb.Set(ref, data) })
	return b
}

func (b *batch) Update(path string, fields map[string]any) remote.Batch {
	ref := b.store.client.Doc(path)
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range translate(fields) {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	b.ops = append(b.ops, func(wb *firestore.WriteBatch) { wb.Update(ref, updates) })
	return b
}

func (b *batch) Delete(path string) remote.Batch {
	ref := b.store.client.Doc(path)
	b.ops = append(b.ops, func(wb *firestore.WriteBatch) { wb.Delete(ref) })
	return b
}

func (b *batch) Commit(ctx context.Context) error {
	wb := b.store.client.Batch()
	for _, op := range b.ops {
		op(wb)
	}
	_, err := wb.Commit(ctx)
	if err != nil && strings.Contains(err.Error(), "cannot commit an empty batch") {
		return nil
	}
	return err
}
