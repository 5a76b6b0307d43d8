package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestListenDeliversInitialAndUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Listen(ctx, "things", Query{})
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	snap := recvSnapshot(t, ch)
	if len(snap.Docs) != 0 {
		t.Errorf("initial snapshot has %d docs, want 0", len(snap.Docs))
	}

	s.Set(ctx, "things/a", map[string]any{"n": 1})
	snap = recvSnapshot(t, ch)
	if len(snap.Docs) != 1 || snap.Docs[0].ID != "a" {
		t.Errorf("snapshot = %v, want [a]", snap.Docs)
	}
}

func TestListenChannelClosesOnCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Listen(ctx, "things", Query{})
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	recvSnapshot(t, ch)

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// One buffered snapshot may still drain; the close must follow.
			if _, ok := <-ch; ok {
				t.Error("channel still open after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ListenerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenQueryOrderAndWhere(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	s.Set(ctx, "things/a", map[string]any{"createdAt": now.Add(-time.Hour), "kind": "x"})
	s.Set(ctx, "things/b", map[string]any{"createdAt": now, "kind": "x"})
	s.Set(ctx, "things/c", map[string]any{"createdAt": now.Add(-time.Minute), "kind": "y"})

	docs, err := s.GetAll(ctx, "things", Query{OrderBy: "createdAt", Descending: true})
	if err != nil {
		t.Fatalf("GetAll() error: %v", err)
	}
	if len(docs) != 3 || docs[0].ID != "b" || docs[1].ID != "c" || docs[2].ID != "a" {
		t.Errorf("order = %v, want [b c a]", docIDs(docs))
	}

	docs, err = s.GetAll(ctx, "things", Query{Where: []Condition{{Field: "kind", Op: "==", Value: "x"}}})
	if err != nil {
		t.Fatalf("GetAll() error: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("where filter = %v, want [a b]", docIDs(docs))
	}
}

func TestCoalescedPushes(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := s.Listen(ctx, "things", Query{})
	recvSnapshot(t, ch)

	// A burst of writes with no receiver collapses into at most two
	// pending deliveries; the stream converges on the final state without
	// one emission per write.
	for i := 0; i < 10; i++ {
		s.Set(ctx, "things/a", map[string]any{"n": i})
	}
	emissions := 0
	for {
		snap := recvSnapshot(t, ch)
		emissions++
		if len(snap.Docs) == 1 {
			if n, _ := snap.Docs[0].Data["n"].(int); n == 9 {
				break
			}
		}
		if emissions > 3 {
			t.Fatalf("%d emissions without converging, pushes not coalesced", emissions)
		}
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "things/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMissingDocFails(t *testing.T) {
	s := NewMemoryStore()
	err := s.Update(context.Background(), "things/missing", map[string]any{"n": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestIncrementCreatesAndAdds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Increment(ctx, "things/a", "n", 3)
	s.Increment(ctx, "things/a", "n", -1)
	doc, err := s.Get(ctx, "things/a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if n, _ := doc.Data["n"].(int64); n != 2 {
		t.Errorf("n = %v, want 2", doc.Data["n"])
	}
}

func TestBatchCommitIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Set(ctx, "things/keep", map[string]any{"n": 1})
	s.FailWith("blocked/", errors.New("write refused"))

	b := s.Batch()
	b.Set("things/new", map[string]any{"n": 2})
	b.Delete("things/keep")
	b.Set("blocked/x", map[string]any{})
	if err := b.Commit(ctx); err == nil {
		t.Fatal("Commit() error = nil, want injected failure")
	}

	// Nothing from the failed batch applied.
	if _, err := s.Get(ctx, "things/new"); err == nil {
		t.Error("failed batch applied a set")
	}
	if _, err := s.Get(ctx, "things/keep"); err != nil {
		t.Error("failed batch applied a delete")
	}
}

func TestBatchUpdateMissingTargetAborts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	b := s.Batch()
	b.Set("things/a", map[string]any{"n": 1})
	b.Update("things/missing", map[string]any{"n": 2})
	if err := b.Commit(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Commit() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "things/a"); err == nil {
		t.Error("aborted batch applied a set")
	}
}

func TestServerTimestampResolvesOnWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	s.Set(ctx, "things/a", map[string]any{"createdAt": s.ServerTimestamp()})
	doc, _ := s.Get(ctx, "things/a")
	ts, ok := doc.Data["createdAt"].(time.Time)
	if !ok {
		t.Fatalf("createdAt = %T, want time.Time", doc.Data["createdAt"])
	}
	if ts.Before(before) {
		t.Errorf("createdAt = %v, not resolved to write time", ts)
	}
}

func TestSnapshotsAreDeepCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Set(ctx, "things/a", map[string]any{"nested": map[string]any{"k": "v"}})

	doc, _ := s.Get(ctx, "things/a")
	doc.Data["nested"].(map[string]any)["k"] = "mutated"

	again, _ := s.Get(ctx, "things/a")
	if again.Data["nested"].(map[string]any)["k"] != "v" {
		t.Error("caller mutation leaked into the store")
	}
}

func docIDs(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
