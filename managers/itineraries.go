package managers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
)

// profileFetchTimeout bounds each per-author profile picture fetch during a
// push merge.
const profileFetchTimeout = 3 * time.Second

// ItinerariesManager is the canonical cache of all itineraries. Every push
// is parsed, enriched with each author's current profile picture (the
// fetches fan out and rendezvous before anything is published), and
// reconciled against the liked/saved caches, so consumers observe at most
// one complete projection per server push.
type ItinerariesManager struct {
	store   remote.Store
	session auth.Session
	log     *log.Logger
	liked   *LikedItinerariesManager
	saved   *MembershipManager

	mu          sync.RWMutex
	items       []models.Itinerary
	lastErr     string
	cancel      context.CancelFunc
	gen         uint64
	watchers    map[int]func()
	nextWatcher int

	fetchTimeout time.Duration
}

// NewItineraries builds the canonical itinerary cache. liked and saved are
// read-only collaborators used for the derived-flag reconciliation.
func NewItineraries(store remote.Store, session auth.Session, liked *LikedItinerariesManager, saved *MembershipManager, logger *log.Logger) *ItinerariesManager {
	return &ItinerariesManager{
		store:        store,
		session:      session,
		log:          logging.For(logger, "itineraries"),
		liked:        liked,
		saved:        saved,
		watchers:     map[int]func(){},
		fetchTimeout: profileFetchTimeout,
	}
}

// Subscribe opens the feed listener, newest first. A prior subscription is
// cancelled; when signed out the projection resets to empty.
func (m *ItinerariesManager) Subscribe() {
	uid := m.session.CurrentUserID()

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	if uid == "" {
		m.items = nil
		m.mu.Unlock()
		m.notify()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	gen := m.gen
	m.mu.Unlock()

	ch, err := m.store.Listen(ctx, "itineraries", remote.Query{OrderBy: "createdAt", Descending: true})
	if err != nil {
		m.log.Error("failed to open itinerary listener", "err", err)
		cancel()
		return
	}
	go func() {
		for snap := range ch {
			m.applySnapshot(gen, snap)
		}
	}()
}

// Unsubscribe cancels the listener and clears the projection. Idempotent.
func (m *ItinerariesManager) Unsubscribe() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.items = nil
	m.mu.Unlock()
	m.notify()
}

func (m *ItinerariesManager) applySnapshot(gen uint64, snap remote.Snapshot) {
	if snap.Err != nil {
		m.log.Warn("itinerary listener error", "err", snap.Err)
		return
	}

	parsed := make([]models.Itinerary, 0, len(snap.Docs))
	authorSet := map[string]struct{}{}
	for _, d := range snap.Docs {
		it, ok := models.ParseItinerary(d.ID, d.Data)
		if !ok {
			m.log.Debug("skipping malformed itinerary record", "id", d.ID)
			continue
		}
		parsed = append(parsed, it)
		authorSet[it.Author.ID] = struct{}{}
	}

	pictures := m.fetchProfilePictures(authorSet)
	for i := range parsed {
		if url, ok := pictures[parsed[i].Author.ID]; ok {
			parsed[i].Author.ProfileImageURL = url
		}
		m.liked.Reconcile(&parsed[i])
		parsed[i].IsSaved = m.saved.Contains(parsed[i].ID)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.items = parsed
	m.mu.Unlock()
	m.notify()
}

// fetchProfilePictures resolves each author's current profile picture in
// parallel and joins before returning; a failed or timed-out fetch simply
// leaves that author's stored value in place.
func (m *ItinerariesManager) fetchProfilePictures(authors map[string]struct{}) map[string]string {
	var mu sync.Mutex
	out := make(map[string]string, len(authors))

	g := new(errgroup.Group)
	for id := range authors {
		id := id
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
			defer cancel()
			doc, err := m.store.Get(ctx, userPath(id))
			if err != nil {
				m.log.Debug("profile picture fetch failed", "user", id, "err", err)
				return nil
			}
			if url, _ := doc.Data["profileImageUrl"].(string); url != "" {
				mu.Lock()
				out[id] = url
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Create inserts the itinerary at the front of the projection immediately
// and writes it in the background. A failed write removes the optimistic
// insert again and records the failure message for the UI.
func (m *ItinerariesManager) Create(it models.Itinerary) models.Itinerary {
	uid := m.session.CurrentUserID()
	if uid == "" {
		return it
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	// The local clock orders the optimistic projection only; unless the
	// caller pinned createdAt, the stored value is the server's clock.
	serverStamp := it.CreatedAt.IsZero()
	if serverStamp {
		it.CreatedAt = time.Now().UTC()
	}
	it.Stops = models.NormalizeStopOrder(it.Stops)
	m.liked.Reconcile(&it)
	it.IsSaved = m.saved.Contains(it.ID)

	m.mu.Lock()
	m.items = append([]models.Itinerary{it}, m.items...)
	m.mu.Unlock()
	m.notify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		fields := m.marshal(it)
		if serverStamp {
			fields["createdAt"] = m.store.ServerTimestamp()
		}
		if err := m.store.Set(ctx, itineraryPath(it.ID), fields); err != nil {
			m.log.Warn("itinerary create failed, reverting", "id", it.ID, "err", err)
			m.removeLocal(it.ID, err)
		}
	}()
	return it
}

// Update replaces the itinerary in the projection and writes it in the
// background, restoring the previous value on failure.
func (m *ItinerariesManager) Update(it models.Itinerary) {
	if m.session.CurrentUserID() == "" {
		return
	}
	it.Stops = models.NormalizeStopOrder(it.Stops)

	m.mu.Lock()
	idx := m.indexLocked(it.ID)
	if idx < 0 {
		m.mu.Unlock()
		m.log.Debug("update for itinerary not in projection", "id", it.ID)
		return
	}
	prev := m.items[idx]
	m.items[idx] = it
	m.mu.Unlock()
	m.notify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := m.store.Set(ctx, itineraryPath(it.ID), m.marshal(it)); err != nil {
			m.log.Warn("itinerary update failed, reverting", "id", it.ID, "err", err)
			m.mu.Lock()
			if idx := m.indexLocked(it.ID); idx >= 0 {
				m.items[idx] = prev
			}
			m.lastErr = err.Error()
			m.mu.Unlock()
			m.notify()
		}
	}()
}

// Delete removes the itinerary together with its nested comments, votes and
// like records in one all-or-nothing batch. The local projection changes
// only after the server confirms.
func (m *ItinerariesManager) Delete(ctx context.Context, id string) error {
	comments, err := m.store.GetAll(ctx, commentsPath(id), remote.Query{})
	if err != nil {
		return fmt.Errorf("failed to read comments for cascade: %w", err)
	}
	likes, err := m.store.GetAll(ctx, itineraryLikesPath(id), remote.Query{})
	if err != nil {
		return fmt.Errorf("failed to read likes for cascade: %w", err)
	}

	b := m.store.Batch()
	for _, c := range comments {
		votes, err := m.store.GetAll(ctx, c.Path+"/votes", remote.Query{})
		if err != nil {
			return fmt.Errorf("failed to read votes for cascade: %w", err)
		}
		for _, v := range votes {
			b.Delete(v.Path)
		}
		b.Delete(c.Path)
	}
	for _, l := range likes {
		b.Delete(l.Path)
	}
	b.Delete(itineraryPath(id))

	if err := b.Commit(ctx); err != nil {
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("cascade delete failed: %w", err)
	}
	m.removeLocal(id, nil)
	return nil
}

// UpdateLikeCount rewrites the cached like count for one itinerary. The
// remote likes field is owned by the like toggle's atomic increment, so
// this touches the local projection only.
func (m *ItinerariesManager) UpdateLikeCount(id string, n int) {
	m.mu.Lock()
	if idx := m.indexLocked(id); idx >= 0 {
		m.items[idx].Likes = n
	}
	m.mu.Unlock()
	m.notify()
}

// Items returns a copy of the current projection, newest first.
func (m *ItinerariesManager) Items() []models.Itinerary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Itinerary, len(m.items))
	copy(out, m.items)
	return out
}

// ByAuthor returns the projection filtered to one author, order preserved.
func (m *ItinerariesManager) ByAuthor(uid string) []models.Itinerary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Itinerary
	for _, it := range m.items {
		if it.Author.ID == uid {
			out = append(out, it)
		}
	}
	return out
}

// LastError returns the most recent write failure message, if any.
func (m *ItinerariesManager) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// OnChange registers an observer invoked after every published projection
// change. The returned func removes it.
func (m *ItinerariesManager) OnChange(fn func()) func() {
	m.mu.Lock()
	m.nextWatcher++
	id := m.nextWatcher
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *ItinerariesManager) notify() {
	m.mu.RLock()
	fns := make([]func(), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *ItinerariesManager) indexLocked(id string) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *ItinerariesManager) removeLocal(id string, cause error) {
	m.mu.Lock()
	if idx := m.indexLocked(id); idx >= 0 {
		m.items = append(m.items[:idx], m.items[idx+1:]...)
	}
	if cause != nil {
		m.lastErr = cause.Error()
	}
	m.mu.Unlock()
	m.notify()
}

// marshal flattens an itinerary into remote fields. The session-local
// IsLiked/IsSaved flags are derived and never persisted.
func (m *ItinerariesManager) marshal(it models.Itinerary) map[string]any {
	stops := make([]any, 0, len(it.Stops))
	for _, s := range it.Stops {
		stop := map[string]any{
			"id":           s.ID,
			"locationName": s.LocationName,
			"address":      s.Address,
			"latitude":     s.Latitude,
			"longitude":    s.Longitude,
			"notes":        s.Notes,
			"order":        s.Order,
		}
		if s.Structured != nil {
			stop["structuredAddress"] = map[string]any{
				"street": s.Structured.Street,
				"city":   s.Structured.City,
				"state":  s.Structured.State,
				"zip":    s.Structured.Zip,
			}
		}
		stops = append(stops, stop)
	}
	photos := make([]any, 0, len(it.PhotoURLs))
	for _, p := range it.PhotoURLs {
		photos = append(photos, p)
	}

	fields := map[string]any{
		"title":             it.Title,
		"description":       it.Description,
		"category":          string(it.Category),
		"author": map[string]any{
			"id":              it.Author.ID,
			"name":            it.Author.Name,
			"handle":          it.Author.Handle,
			"profileImageUrl": it.Author.ProfileImageURL,
		},
		"stops":             stops,
		"photos":            photos,
		"likes":             it.Likes,
		"comments":          it.Comments,
		"timeEstimateHours": it.TimeEstimateHours,
		"costLevel":         string(it.CostLevel),
		"noiseLevel":        string(it.NoiseLevel),
		"region":            string(it.Region),
	}
	if it.Cost != nil {
		fields["cost"] = *it.Cost
	}
	if it.CreatedAt.IsZero() {
		fields["createdAt"] = m.store.ServerTimestamp()
	} else {
		fields["createdAt"] = it.CreatedAt
	}
	return fields
}
