package managers

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
)

// LikedItinerariesManager owns the like/unlike transaction: the current
// user's liked set plus a global per-itinerary like-count cache. Counts
// returned from ToggleLike are provisional local arithmetic; the next
// listener push carries the converged server value.
type LikedItinerariesManager struct {
	*membershipCache

	countsMu sync.RWMutex
	counts   map[string]int
}

// NewLikedItineraries builds the liked-itineraries manager.
func NewLikedItineraries(store remote.Store, session auth.Session, logger *log.Logger) *LikedItinerariesManager {
	return &LikedItinerariesManager{
		membershipCache: newMembershipCache(store, session, logging.For(logger, "liked"), likedPath),
		counts:          map[string]int{},
	}
}

// Unsubscribe clears the liked set and the count cache.
func (m *LikedItinerariesManager) Unsubscribe() {
	m.countsMu.Lock()
	m.counts = map[string]int{}
	m.countsMu.Unlock()
	m.membershipCache.Unsubscribe()
}

// IsLiked reports whether the current user has liked the itinerary.
func (m *LikedItinerariesManager) IsLiked(itineraryID string) bool {
	return m.Contains(itineraryID)
}

// CountFor returns the locally cached like count for the itinerary.
func (m *LikedItinerariesManager) CountFor(itineraryID string) (int, bool) {
	m.countsMu.RLock()
	defer m.countsMu.RUnlock()
	n, ok := m.counts[itineraryID]
	return n, ok
}

// ToggleLike flips the current user's like and returns the new count,
// computed synchronously from local state. Both like records are written in
// one batch; the count field is adjusted by an atomic increment. On batch
// failure the set and count revert to their pre-toggle values.
func (m *LikedItinerariesManager) ToggleLike(itineraryID string, currentCount int) int {
	uid := m.session.CurrentUserID()
	if uid == "" {
		return currentCount
	}
	wasLiked := m.Contains(itineraryID)

	newCount := currentCount + 1
	if wasLiked {
		newCount = currentCount - 1
		if newCount < 0 {
			newCount = 0
		}
	}
	m.setCount(itineraryID, newCount)
	m.setMember(itineraryID, !wasLiked)

	go m.syncToggle(uid, itineraryID, wasLiked, currentCount)
	return newCount
}

func (m *LikedItinerariesManager) syncToggle(uid, itineraryID string, wasLiked bool, prevCount int) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	userRecord := likedPath(uid) + "/" + itineraryID
	itineraryRecord := itineraryLikesPath(itineraryID) + "/" + uid

	b := m.store.Batch()
	if wasLiked {
		b.Delete(userRecord).Delete(itineraryRecord)
	} else {
		b.Set(userRecord, map[string]any{"itineraryId": itineraryID, "createdAt": m.store.ServerTimestamp()})
		b.Set(itineraryRecord, map[string]any{"userId": uid, "createdAt": m.store.ServerTimestamp()})
	}
	if err := b.Commit(ctx); err != nil {
		m.log.Warn("like toggle failed, reverting", "itinerary", itineraryID, "err", err)
		m.setMember(itineraryID, wasLiked)
		m.setCount(itineraryID, prevCount)
		return
	}

	delta := int64(1)
	if wasLiked {
		delta = -1
	}
	if err := m.store.Increment(ctx, itineraryPath(itineraryID), "likes", delta); err != nil {
		// Count already reflected locally; the next push reconciles.
		m.log.Warn("like count increment failed", "itinerary", itineraryID, "err", err)
	}
}

func (m *LikedItinerariesManager) setCount(itineraryID string, n int) {
	m.countsMu.Lock()
	m.counts[itineraryID] = n
	m.countsMu.Unlock()
	m.notify()
}

// Reconcile rewrites an itinerary's like fields from the local caches: a
// cached count wins over the stored likes field, and counts not seen before
// are seeded from the push. IsLiked always comes from the membership set.
func (m *LikedItinerariesManager) Reconcile(it *models.Itinerary) {
	m.countsMu.Lock()
	if n, ok := m.counts[it.ID]; ok {
		it.Likes = n
	} else {
		m.counts[it.ID] = it.Likes
	}
	m.countsMu.Unlock()
	it.IsLiked = m.Contains(it.ID)
}
