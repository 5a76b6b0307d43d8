// Package mongodb adapts MongoDB to the remote.Store contract. Documents
// from every logical collection live in one physical collection keyed by
// full document path, so listeners can watch a single change stream and
// nested sub-collection paths need no schema.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/triptuner/triptuner-go/remote"
)

const documentsCollection = "documents"

// Store implements remote.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client and pings the server before returning.
func Connect(mongoURI, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) col() *mongo.Collection {
	return s.db.Collection(documentsCollection)
}

type record struct {
	ID         string         `bson:"_id"`
	Collection string         `bson:"collection"`
	Data       map[string]any `bson:"data"`
}

// Listen watches the change stream and re-snapshots the collection on any
// event touching it. Emissions always replace the previous full result set.
func (s *Store) Listen(ctx context.Context, collection string, q remote.Query) (<-chan remote.Snapshot, error) {
	stream, err := s.col().Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	out := make(chan remote.Snapshot)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		emit := func() bool {
			docs, err := s.GetAll(ctx, collection, q)
			snap := remote.Snapshot{Docs: docs}
			if err != nil {
				snap = remote.Snapshot{Err: err}
			}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for stream.Next(ctx) {
			var ev struct {
				FullDocument record `bson:"fullDocument"`
				DocumentKey  struct {
					ID string `bson:"_id"`
				} `bson:"documentKey"`
			}
			if err := stream.Decode(&ev); err != nil {
				continue
			}
			// Delete events carry no fullDocument; fall back to the key.
			touched := ev.FullDocument.Collection
			if touched == "" {
				touched, _ = remote.SplitPath(ev.DocumentKey.ID)
			}
			if touched != collection {
				continue
			}
			if !emit() {
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) GetAll(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	filter := bson.M{"collection": collection}
	for _, cond := range q.Where {
		field := "data." + cond.Field
		switch cond.Op {
		case "==":
			filter[field] = cond.Value
		case "<":
			filter[field] = bson.M{"$lt": cond.Value}
		case "<=":
			filter[field] = bson.M{"$lte": cond.Value}
		case ">":
			filter[field] = bson.M{"$gt": cond.Value}
		case ">=":
			filter[field] = bson.M{"$gte": cond.Value}
		}
	}
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: "data." + q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	}
	cur, err := s.col().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []remote.Document
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		_, id := remote.SplitPath(rec.ID)
		docs = append(docs, remote.Document{
			ID:   id,
			Path: rec.ID,
			Data: normalize(rec.Data),
		})
	}
	return docs, cur.Err()
}

func (s *Store) Get(ctx context.Context, path string) (remote.Document, error) {
	var rec record
	err := s.col().FindOne(ctx, bson.M{"_id": path}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return remote.Document{}, remote.ErrNotFound
	}
	if err != nil {
		return remote.Document{}, err
	}
	_, id := remote.SplitPath(path)
	return remote.Document{ID: id, Path: path, Data: normalize(rec.Data)}, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]any) error {
	collection, _ := remote.SplitPath(path)
	rec := record{
		ID:         path,
		Collection: collection,
		Data:       remote.ResolveServerTime(fields, time.Now().UTC()),
	}
	_, err := s.col().ReplaceOne(ctx, bson.M{"_id": path}, rec, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range remote.ResolveServerTime(fields, time.Now().UTC()) {
		set["data."+k] = v
	}
	res, err := s.col().UpdateOne(ctx, bson.M{"_id": path}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return remote.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.col().DeleteOne(ctx, bson.M{"_id": path})
	return err
}

func (s *Store) Increment(ctx context.Context, path string, field string, delta int64) error {
	collection, _ := remote.SplitPath(path)
	_, err := s.col().UpdateOne(ctx, bson.M{"_id": path}, bson.M{
		"$inc":         bson.M{"data." + field: delta},
		"$setOnInsert": bson.M{"collection": collection},
	}, options.Update().SetUpsert(true))
	return err
}

// ServerTimestamp returns the portable sentinel; Set and Update resolve it
// to the adapter's clock at write time.
func (s *Store) ServerTimestamp() any {
	return remote.ServerTime{}
}

type batchOp struct {
	kind   string // "set", "update", "delete"
	path   string
	fields map[string]any
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (s *Store) Batch() remote.Batch {
	return &batch{store: s}
}

func (b *batch) Set(path string, fields map[string]any) remote.Batch {
	b.ops = append(b.ops, batchOp{kind: "set", path: path, fields: fields})
	return b
}

func (b *batch) Update(path string, fields map[string]any) remote.Batch {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, fields: fields})
	return b
}

func (b *batch) Delete(path string) remote.Batch {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
	return b
}

// Commit applies all buffered writes inside one transaction so the batch is
// all-or-nothing. Requires a replica set or mongos.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	session, err := b.store.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, op := range b.ops {
			switch op.kind {
			case "set":
				if err := b.store.Set(sc, op.path, op.fields); err != nil {
					return nil, err
				}
			case "update":
				if err := b.store.Update(sc, op.path, op.fields); err != nil {
					return nil, err
				}
			case "delete":
				if err := b.store.Delete(sc, op.path); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	return err
}

// normalize converts BSON decode artifacts back to the types the parsers
// expect: primitive.DateTime to time.Time, primitive.A to []any, nested
// bson.M to map[string]any.
func normalize(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.M:
		return normalize(t)
	case map[string]any:
		return normalize(t)
	case int32:
		return int(t)
	default:
		return v
	}
}
