package managers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/remote"
)

func newItinerariesSetup(t *testing.T, uid string) (*ItinerariesManager, *LikedItinerariesManager, *MembershipManager, *testStoreSession) {
	t.Helper()
	store, session := newTestSetup(uid)
	liked := NewLikedItineraries(store, session, testLogger())
	saved := NewSavedItineraries(store, session, testLogger())
	m := NewItineraries(store, session, liked, saved, testLogger())
	return m, liked, saved, &testStoreSession{store: store, session: session}
}

func seedItinerary(t *testing.T, s *testStoreSession, id, author, title string, createdAt time.Time, likes int) {
	t.Helper()
	err := s.store.Set(context.Background(), "itineraries/"+id, map[string]any{
		"title":     title,
		"author":    map[string]any{"id": author, "name": "Author " + author},
		"likes":     likes,
		"createdAt": createdAt,
	})
	if err != nil {
		t.Fatalf("seed itinerary %s: %v", id, err)
	}
}

func TestItinerariesSubscribeParsesAndOrders(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	now := time.Now().UTC()
	seedItinerary(t, s, "old", "a1", "Old Trip", now.Add(-time.Hour), 2)
	seedItinerary(t, s, "new", "a2", "New Trip", now, 5)
	// Malformed: no title, skipped without failing the push.
	s.store.Set(context.Background(), "itineraries/bad", map[string]any{
		"author": map[string]any{"id": "a3"},
	})

	m.Subscribe()
	waitUntil(t, func() bool { return len(m.Items()) == 2 })

	items := m.Items()
	if items[0].ID != "new" || items[1].ID != "old" {
		t.Errorf("order = [%s %s], want [new old]", items[0].ID, items[1].ID)
	}
}

func TestItinerariesMergesProfilePictures(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	s.store.Set(context.Background(), "users/a1", map[string]any{
		"name":            "Ada",
		"profileImageUrl": "https://cdn.example/ada.png",
	})
	seedItinerary(t, s, "it1", "a1", "Trip", time.Now().UTC(), 0)

	m.Subscribe()
	waitUntil(t, func() bool {
		items := m.Items()
		return len(items) == 1 && items[0].Author.ProfileImageURL == "https://cdn.example/ada.png"
	})
}

func TestItinerariesReconcilesLikedAndSaved(t *testing.T) {
	m, liked, saved, s := newItinerariesSetup(t, "u1")
	seedItinerary(t, s, "it1", "a1", "Trip", time.Now().UTC(), 3)
	liked.setMember("it1", true)
	saved.setMember("it1", true)

	m.Subscribe()
	waitUntil(t, func() bool {
		items := m.Items()
		return len(items) == 1 && items[0].IsLiked && items[0].IsSaved && items[0].Likes == 3
	})
}

func TestItinerariesCreateOptimisticAndPersists(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")

	created := m.Create(models.Itinerary{
		Title:  "Food crawl",
		Author: models.UserRef{ID: "u1", Name: "Me"},
		Stops: []models.Stop{
			{LocationName: "B", Order: 7},
			{LocationName: "A", Order: 2},
		},
	})
	if created.ID == "" {
		t.Fatal("Create() assigned no ID")
	}
	if created.Stops[0].LocationName != "A" || created.Stops[0].Order != 1 || created.Stops[1].Order != 2 {
		t.Errorf("stop order not normalized: %+v", created.Stops)
	}

	items := m.Items()
	if len(items) != 1 || items[0].ID != created.ID {
		t.Fatal("optimistic insert missing from projection")
	}
	waitUntil(t, func() bool {
		_, err := s.store.Get(context.Background(), "itineraries/"+created.ID)
		return err == nil
	})
}

// setCaptureStore records the raw fields handed to Set before the memory
// store resolves timestamp sentinels.
type setCaptureStore struct {
	*remote.MemoryStore
	mu      sync.Mutex
	lastSet map[string]any
}

func (s *setCaptureStore) Set(ctx context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	s.lastSet = fields
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, path, fields)
}

func (s *setCaptureStore) captured() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSet
}

func TestItinerariesCreateTimestamps(t *testing.T) {
	store, session := newTestSetup("u1")
	capture := &setCaptureStore{MemoryStore: store}
	liked := NewLikedItineraries(capture, session, testLogger())
	saved := NewSavedItineraries(capture, session, testLogger())
	m := NewItineraries(capture, session, liked, saved, testLogger())

	created := m.Create(models.Itinerary{
		Title:  "Unstamped",
		Author: models.UserRef{ID: "u1"},
	})
	if created.CreatedAt.IsZero() {
		t.Error("optimistic projection carries no createdAt for ordering")
	}
	waitUntil(t, func() bool { return capture.captured() != nil })
	if _, ok := capture.captured()["createdAt"].(remote.ServerTime); !ok {
		t.Errorf("unset createdAt persisted as %T, want server timestamp sentinel", capture.captured()["createdAt"])
	}

	pinned := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	m.Create(models.Itinerary{
		Title:     "Pinned",
		Author:    models.UserRef{ID: "u1"},
		CreatedAt: pinned,
	})
	waitUntil(t, func() bool {
		ts, ok := capture.captured()["createdAt"].(time.Time)
		return ok && ts.Equal(pinned)
	})
}

func TestItinerariesCreateRollsBackOnFailure(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	s.store.FailWith("itineraries/", errors.New("write refused"))

	m.Create(models.Itinerary{
		Title:  "Doomed",
		Author: models.UserRef{ID: "u1"},
	})
	waitUntil(t, func() bool { return len(m.Items()) == 0 })
	if m.LastError() == "" {
		t.Error("LastError() empty after failed create")
	}
}

func TestItinerariesUpdateRestoresOnFailure(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	seedItinerary(t, s, "it1", "u1", "Original", time.Now().UTC(), 0)
	m.Subscribe()
	waitUntil(t, func() bool { return len(m.Items()) == 1 })

	s.store.FailWith("itineraries/it1", errors.New("write refused"))
	edited := m.Items()[0]
	edited.Title = "Edited"
	m.Update(edited)

	if m.Items()[0].Title != "Edited" {
		t.Fatal("optimistic update not applied")
	}
	waitUntil(t, func() bool { return m.Items()[0].Title == "Original" })
}

func TestItinerariesCascadeDelete(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	ctx := context.Background()
	now := time.Now().UTC()
	seedItinerary(t, s, "it1", "u1", "Trip", now, 1)
	s.store.Set(ctx, "itineraries/it1/comments/c1", map[string]any{
		"content": "nice",
		"author":  map[string]any{"id": "u2"},
	})
	s.store.Set(ctx, "itineraries/it1/comments/c1/votes/u3", map[string]any{"value": 1})
	s.store.Set(ctx, "itineraries/it1/likes/u3", map[string]any{"userId": "u3"})

	m.Subscribe()
	waitUntil(t, func() bool { return len(m.Items()) == 1 })

	if err := m.Delete(ctx, "it1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	for _, path := range []string{
		"itineraries/it1",
		"itineraries/it1/comments/c1",
		"itineraries/it1/comments/c1/votes/u3",
		"itineraries/it1/likes/u3",
	} {
		if _, err := s.store.Get(ctx, path); err == nil {
			t.Errorf("%s still exists after cascade delete", path)
		}
	}
	if len(m.Items()) != 0 {
		t.Error("projection not cleared after confirmed delete")
	}
}

func TestItinerariesDeleteKeepsLocalOnFailure(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	ctx := context.Background()
	seedItinerary(t, s, "it1", "u1", "Trip", time.Now().UTC(), 0)
	m.Subscribe()
	waitUntil(t, func() bool { return len(m.Items()) == 1 })

	s.store.FailWith("itineraries/it1", errors.New("write refused"))
	if err := m.Delete(ctx, "it1"); err == nil {
		t.Fatal("Delete() error = nil, want failure")
	}
	if len(m.Items()) != 1 {
		t.Error("projection mutated despite failed delete")
	}
}

func TestItinerariesByAuthor(t *testing.T) {
	m, _, _, s := newItinerariesSetup(t, "u1")
	now := time.Now().UTC()
	seedItinerary(t, s, "a", "u1", "Mine", now, 0)
	seedItinerary(t, s, "b", "u2", "Theirs", now.Add(-time.Minute), 0)

	m.Subscribe()
	waitUntil(t, func() bool { return len(m.Items()) == 2 })

	mine := m.ByAuthor("u1")
	if len(mine) != 1 || mine[0].ID != "a" {
		t.Errorf("ByAuthor(u1) = %v, want [a]", mine)
	}
}
