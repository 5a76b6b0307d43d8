package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and the feedtail
// harness. Listeners receive coalesced full-snapshot pushes: a burst of
// writes between deliveries collapses into one push carrying the latest
// state, matching the replace-not-patch contract.
type MemoryStore struct {
	mu           sync.RWMutex
	collections  map[string]map[string]map[string]any
	listeners    map[int]*memListener
	nextListener int
	failures     map[string]error
}

type memListener struct {
	id         int
	collection string
	query      Query
	notify     chan struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]map[string]any{},
		listeners:   map[int]*memListener{},
		failures:    map[string]error{},
	}
}

// FailWith makes every write whose path starts with prefix fail with err,
// until ClearFailures. Used to exercise rollback paths in tests.
func (s *MemoryStore) FailWith(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = err
}

// ClearFailures removes all injected write failures.
func (s *MemoryStore) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

// ListenerCount reports the number of live subscriptions.
func (s *MemoryStore) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *MemoryStore) Listen(ctx context.Context, collection string, q Query) (<-chan Snapshot, error) {
	if collection == "" {
		return nil, fmt.Errorf("empty collection path")
	}
	l := &memListener{collection: collection, query: q, notify: make(chan struct{}, 1)}
	s.mu.Lock()
	s.nextListener++
	l.id = s.nextListener
	s.listeners[l.id] = l
	s.mu.Unlock()

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer s.removeListener(l.id)
		for {
			snap := Snapshot{Docs: s.snapshot(collection, q)}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			select {
			case <-l.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) removeListener(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *MemoryStore) GetAll(_ context.Context, collection string, q Query) ([]Document, error) {
	return s.snapshot(collection, q), nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Document, error) {
	collection, id := SplitPath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Document{ID: id, Path: path, Data: copyValue(fields).(map[string]any)}, nil
}

func (s *MemoryStore) Set(_ context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	if err := s.failFor(path); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setLocked(path, fields)
	collection, _ := SplitPath(path)
	s.notifyLocked(collection)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	collection, id := SplitPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor(path); err != nil {
		return err
	}
	existing, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	resolved := ResolveServerTime(fields, time.Now().UTC())
	for k, v := range resolved {
		existing[k] = copyValue(v)
	}
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	collection, id := SplitPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor(path); err != nil {
		return err
	}
	if docs, ok := s.collections[collection]; ok {
		delete(docs, id)
	}
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, path, field string, delta int64) error {
	collection, id := SplitPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor(path); err != nil {
		return err
	}
	docs := s.collections[collection]
	if docs == nil {
		docs = map[string]map[string]any{}
		s.collections[collection] = docs
	}
	fields, ok := docs[id]
	if !ok {
		fields = map[string]any{}
		docs[id] = fields
	}
	switch n := fields[field].(type) {
	case float64:
		fields[field] = n + float64(delta)
	case int:
		fields[field] = int64(n) + delta
	case int64:
		fields[field] = n + delta
	default:
		fields[field] = delta
	}
	s.notifyLocked(collection)
	return nil
}

func (s *MemoryStore) Batch() Batch {
	return &memBatch{store: s}
}

func (s *MemoryStore) ServerTimestamp() any { return ServerTime{} }

type memOp struct {
	kind   string // set, update, delete
	path   string
	fields map[string]any
}

type memBatch struct {
	store *MemoryStore
	ops   []memOp
}

func (b *memBatch) Set(path string, fields map[string]any) Batch {
	b.ops = append(b.ops, memOp{kind: "set", path: path, fields: fields})
	return b
}

func (b *memBatch) Update(path string, fields map[string]any) Batch {
	b.ops = append(b.ops, memOp{kind: "update", path: path, fields: fields})
	return b
}

func (b *memBatch) Delete(path string) Batch {
	b.ops = append(b.ops, memOp{kind: "delete", path: path})
	return b
}

// Commit validates every operation before applying any, so an injected
// failure or missing update target leaves the store untouched.
func (b *memBatch) Commit(_ context.Context) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range b.ops {
		if err := s.failFor(op.path); err != nil {
			return err
		}
		if op.kind == "update" {
			collection, id := SplitPath(op.path)
			if _, ok := s.collections[collection][id]; !ok {
				return fmt.Errorf("%w: %s", ErrNotFound, op.path)
			}
		}
	}
	touched := map[string]struct{}{}
	for _, op := range b.ops {
		collection, id := SplitPath(op.path)
		touched[collection] = struct{}{}
		switch op.kind {
		case "set":
			s.setLocked(op.path, op.fields)
		case "update":
			resolved := ResolveServerTime(op.fields, time.Now().UTC())
			for k, v := range resolved {
				s.collections[collection][id][k] = copyValue(v)
			}
		case "delete":
			if docs, ok := s.collections[collection]; ok {
				delete(docs, id)
			}
		}
	}
	for collection := range touched {
		s.notifyLocked(collection)
	}
	return nil
}

func (s *MemoryStore) setLocked(path string, fields map[string]any) {
	collection, id := SplitPath(path)
	docs := s.collections[collection]
	if docs == nil {
		docs = map[string]map[string]any{}
		s.collections[collection] = docs
	}
	resolved := ResolveServerTime(fields, time.Now().UTC())
	docs[id] = copyValue(resolved).(map[string]any)
}

func (s *MemoryStore) failFor(path string) error {
	for prefix, err := range s.failures {
		if strings.HasPrefix(path, prefix) {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) notifyLocked(collection string) {
	for _, l := range s.listeners {
		if l.collection != collection {
			continue
		}
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

func (s *MemoryStore) snapshot(collection string, q Query) []Document {
	s.mu.RLock()
	docs := make([]Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		match := true
		for _, w := range q.Where {
			if !matches(fields[w.Field], w.Op, w.Value) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		docs = append(docs, Document{
			ID:   id,
			Path: collection + "/" + id,
			Data: copyValue(fields).(map[string]any),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(docs, func(i, j int) bool {
		if q.OrderBy == "" {
			return docs[i].ID < docs[j].ID
		}
		c := compareValues(docs[i].Data[q.OrderBy], docs[j].Data[q.OrderBy])
		if c == 0 {
			return docs[i].ID < docs[j].ID
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	return docs
}

func matches(have any, op string, want any) bool {
	c := compareValues(have, want)
	switch op {
	case "==", "":
		return c == 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 1
		}
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	case bool:
		bv, _ := b.(bool)
		switch {
		case av == bv:
			return 0
		case av:
			return 1
		}
		return -1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	return 1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
