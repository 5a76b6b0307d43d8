package viewmodels

import (
	"context"
	"testing"
	"time"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/remote"
)

func newProfileSetup(t *testing.T, uid string) (*ProfileViewModel, *managers.ItinerariesManager, *managers.MembershipManager, *managers.MembershipManager, *remote.MemoryStore) {
	t.Helper()
	store := remote.NewMemoryStore()
	session := auth.NewMemorySession()
	if uid != "" {
		session.SignIn(uid)
	}
	liked := managers.NewLikedItineraries(store, session, testLogger())
	saved := managers.NewSavedItineraries(store, session, testLogger())
	completed := managers.NewCompletedItineraries(store, session, testLogger())
	itineraries := managers.NewItineraries(store, session, liked, saved, testLogger())
	users := managers.NewUsers(store, session, testLogger())
	vm := NewProfile(itineraries, saved, completed, users, session)
	return vm, itineraries, saved, completed, store
}

func TestProfileShelvesResolveAgainstCache(t *testing.T) {
	vm, itineraries, saved, completed, store := newProfileSetup(t, "u1")
	now := time.Now().UTC()
	seedHomeItinerary(t, store, "mine1", "u1", "My Crawl", models.CategoryFood, models.RegionSouthPhilly, 0, now)
	seedHomeItinerary(t, store, "mine2", "u1", "My Walk", models.CategoryHistory, models.RegionOldCity, 0, now.Add(-time.Hour))
	seedHomeItinerary(t, store, "other1", "u2", "Not Mine", models.CategoryCulture, models.RegionCenterCity, 0, now.Add(-2*time.Hour))
	if err := store.Set(context.Background(), "users/u1/savedItineraries/other1", map[string]any{"savedAt": now}); err != nil {
		t.Fatalf("seed saved: %v", err)
	}
	if err := store.Set(context.Background(), "users/u1/savedItineraries/mine2", map[string]any{"savedAt": now}); err != nil {
		t.Fatalf("seed saved: %v", err)
	}
	if err := store.Set(context.Background(), "users/u1/completedItineraries/mine1", map[string]any{"completedAt": now}); err != nil {
		t.Fatalf("seed completed: %v", err)
	}
	itineraries.Subscribe()
	saved.Subscribe()
	completed.Subscribe()
	waitUntil(t, func() bool {
		return len(itineraries.Items()) == 3 && saved.Contains("other1") && completed.Contains("mine1")
	})

	mine := vm.MyItineraries()
	if len(mine) != 2 || mine[0].ID != "mine1" || mine[1].ID != "mine2" {
		t.Errorf("MyItineraries: got %v", ids(mine))
	}
	shelf := vm.Saved()
	if len(shelf) != 2 || shelf[0].ID != "mine2" || shelf[1].ID != "other1" {
		t.Errorf("Saved shelf: got %v", ids(shelf))
	}
	done := vm.Completed()
	if len(done) != 1 || done[0].ID != "mine1" {
		t.Errorf("Completed shelf: got %v", ids(done))
	}
}

func TestProfileUserAndAchievements(t *testing.T) {
	vm, _, _, _, store := newProfileSetup(t, "u1")
	ctx := context.Background()
	if err := store.Set(ctx, "users/u1", map[string]any{"name": "Ada", "handle": "ada_99", "points": 40}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.Set(ctx, "users/u1/achievements/first-trip", map[string]any{"title": "First Trip", "unlockedAt": time.Now().UTC()}); err != nil {
		t.Fatalf("seed achievement: %v", err)
	}

	u, err := vm.User(ctx)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if u.Name != "Ada" || u.Points != 40 {
		t.Errorf("unexpected user: %+v", u)
	}
	got, err := vm.Achievements(ctx)
	if err != nil {
		t.Fatalf("Achievements: %v", err)
	}
	if len(got) != 1 || got[0].ID != "first-trip" || !got[0].Unlocked() {
		t.Errorf("unexpected achievements: %+v", got)
	}
}

func TestProfileSignedOutGuards(t *testing.T) {
	vm, _, _, _, _ := newProfileSetup(t, "")
	if _, err := vm.User(context.Background()); err != managers.ErrNotAuthenticated {
		t.Errorf("User err = %v, want ErrNotAuthenticated", err)
	}
	if _, err := vm.Achievements(context.Background()); err != managers.ErrNotAuthenticated {
		t.Errorf("Achievements err = %v, want ErrNotAuthenticated", err)
	}
	if items := vm.MyItineraries(); len(items) != 0 {
		t.Errorf("MyItineraries while signed out: %v", ids(items))
	}
}
