package viewmodels

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/pictures"
	"github.com/triptuner/triptuner-go/pkg/logging"
)

const (
	// refreshQuiet is the minimum quiet window after an upstream itinerary
	// change before the ranking is recomputed.
	refreshQuiet = time.Second

	directoryTimeout = 5 * time.Second

	podiumSize     = 3
	publicListSize = 10
)

// LeaderboardViewModel ranks every known user by point total for a period.
// Points come from summing likes over each author's itineraries inside the
// period window; the user directory supplies identity fields and keeps
// zero-point users on the board.
type LeaderboardViewModel struct {
	itineraries *managers.ItinerariesManager
	users       *managers.UsersManager
	session     auth.Session
	cache       pictures.Cache
	log         *log.Logger
	now         func() time.Time

	mu          sync.Mutex
	period      models.Period
	entries     []models.LeaderboardEntry
	pending     *time.Timer
	unwatch     func()
	watchers    map[int]func()
	nextWatcher int
}

// NewLeaderboard builds the view model. The picture cache persists across
// refresh cycles so a once-seen avatar never regresses to empty.
func NewLeaderboard(itineraries *managers.ItinerariesManager, users *managers.UsersManager, session auth.Session, cache pictures.Cache, logger *log.Logger) *LeaderboardViewModel {
	vm := &LeaderboardViewModel{
		itineraries: itineraries,
		users:       users,
		session:     session,
		cache:       cache,
		log:         logging.For(logger, "leaderboard"),
		now:         time.Now,
		period:      models.PeriodThisMonth,
		watchers:    map[int]func(){},
	}
	vm.unwatch = itineraries.OnChange(vm.scheduleRefresh)
	return vm
}

// scheduleRefresh debounces upstream itinerary changes: each new event
// cancels the pending recompute and restarts the quiet window.
func (vm *LeaderboardViewModel) scheduleRefresh() {
	vm.mu.Lock()
	if vm.pending != nil {
		vm.pending.Stop()
	}
	vm.pending = time.AfterFunc(refreshQuiet, func() {
		vm.Refresh(context.Background())
	})
	vm.mu.Unlock()
}

// SetPeriod switches the ranking window and refreshes immediately.
func (vm *LeaderboardViewModel) SetPeriod(ctx context.Context, p models.Period) {
	vm.mu.Lock()
	vm.period = p
	vm.mu.Unlock()
	vm.Refresh(ctx)
}

// Period returns the currently selected ranking window.
func (vm *LeaderboardViewModel) Period() models.Period {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.period
}

// Refresh recomputes the full ranking: snapshot pictures into the cache,
// sum period-filtered likes per author, merge with the user directory,
// stable-sort by points descending, then assign contiguous 1-based ranks.
func (vm *LeaderboardViewModel) Refresh(ctx context.Context) {
	vm.mu.Lock()
	period := vm.period
	for _, e := range vm.entries {
		vm.cache.Put(e.UserID, e.ProfileImageURL)
	}
	vm.mu.Unlock()

	byAuthor := vm.sumPoints(period)

	dctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	directory, err := vm.users.Directory(dctx)
	cancel()
	if err != nil {
		vm.log.Warn("directory fetch failed, ranking itinerary authors only", "err", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(directory)+len(byAuthor))
	seen := make(map[string]struct{}, len(directory))
	for _, u := range directory {
		seen[u.ID] = struct{}{}
		derived := byAuthor[u.ID]
		entries = append(entries, models.LeaderboardEntry{
			UserID:          u.ID,
			Name:            u.Name,
			Handle:          u.Handle,
			ProfileImageURL: vm.resolvePicture(u.ID, u.ProfileImageURL),
			Points:          derived.points,
			TripCount:       derived.trips,
		})
	}
	// Authors with itineraries but no directory record still rank.
	for uid, derived := range byAuthor {
		if _, ok := seen[uid]; ok {
			continue
		}
		entries = append(entries, models.LeaderboardEntry{
			UserID:          uid,
			Name:            derived.name,
			ProfileImageURL: vm.resolvePicture(uid, derived.picture),
			Points:          derived.points,
			TripCount:       derived.trips,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Points > entries[j].Points
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	vm.mu.Lock()
	vm.entries = entries
	vm.mu.Unlock()
	vm.notify()
}

type derivedPoints struct {
	points  int
	trips   int
	name    string
	picture string
}

func (vm *LeaderboardViewModel) sumPoints(period models.Period) map[string]derivedPoints {
	var cutoff time.Time
	if period == models.PeriodThisMonth {
		cutoff = vm.now().AddDate(0, -1, 0)
	}
	out := map[string]derivedPoints{}
	for _, it := range vm.itineraries.Items() {
		if !cutoff.IsZero() && it.CreatedAt.Before(cutoff) {
			continue
		}
		d := out[it.Author.ID]
		d.points += it.Likes
		d.trips++
		if d.name == "" {
			d.name = it.Author.Name
		}
		if d.picture == "" {
			d.picture = it.Author.ProfileImageURL
		}
		out[it.Author.ID] = d
	}
	return out
}

// resolvePicture prefers a fresh non-empty value, falls back to the cache,
// and records any non-empty result for later cycles.
func (vm *LeaderboardViewModel) resolvePicture(uid, fresh string) string {
	if fresh != "" {
		vm.cache.Put(uid, fresh)
		return fresh
	}
	if cached, ok := vm.cache.Get(uid); ok {
		return cached
	}
	return ""
}

// Entries returns a copy of the full ranking.
func (vm *LeaderboardViewModel) Entries() []models.LeaderboardEntry {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]models.LeaderboardEntry, len(vm.entries))
	copy(out, vm.entries)
	return out
}

// Podium returns the top three entries.
func (vm *LeaderboardViewModel) Podium() []models.LeaderboardEntry {
	return vm.slice(0, podiumSize)
}

// PublicList returns ranks four through ten.
func (vm *LeaderboardViewModel) PublicList() []models.LeaderboardEntry {
	return vm.slice(podiumSize, publicListSize)
}

// Remaining returns every entry ranked below the public list.
func (vm *LeaderboardViewModel) Remaining() []models.LeaderboardEntry {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.entries) <= publicListSize {
		return nil
	}
	out := make([]models.LeaderboardEntry, len(vm.entries)-publicListSize)
	copy(out, vm.entries[publicListSize:])
	return out
}

// YourRank returns the signed-in user's entry only when they fall outside
// the public list; visible users see themselves on the board itself.
func (vm *LeaderboardViewModel) YourRank() (models.LeaderboardEntry, bool) {
	uid := vm.session.CurrentUserID()
	if uid == "" {
		return models.LeaderboardEntry{}, false
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, e := range vm.entries {
		if e.UserID == uid {
			if e.Rank <= publicListSize {
				return models.LeaderboardEntry{}, false
			}
			return e, true
		}
	}
	return models.LeaderboardEntry{}, false
}

func (vm *LeaderboardViewModel) slice(from, to int) []models.LeaderboardEntry {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if from >= len(vm.entries) {
		return nil
	}
	if to > len(vm.entries) {
		to = len(vm.entries)
	}
	out := make([]models.LeaderboardEntry, to-from)
	copy(out, vm.entries[from:to])
	return out
}

// OnChange registers an observer invoked after every recompute.
func (vm *LeaderboardViewModel) OnChange(fn func()) func() {
	vm.mu.Lock()
	vm.nextWatcher++
	id := vm.nextWatcher
	vm.watchers[id] = fn
	vm.mu.Unlock()
	return func() {
		vm.mu.Lock()
		delete(vm.watchers, id)
		vm.mu.Unlock()
	}
}

func (vm *LeaderboardViewModel) notify() {
	vm.mu.Lock()
	fns := make([]func(), 0, len(vm.watchers))
	for _, fn := range vm.watchers {
		fns = append(fns, fn)
	}
	vm.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops the upstream watcher and any pending refresh.
func (vm *LeaderboardViewModel) Close() {
	if vm.unwatch != nil {
		vm.unwatch()
	}
	vm.mu.Lock()
	if vm.pending != nil {
		vm.pending.Stop()
		vm.pending = nil
	}
	vm.mu.Unlock()
}
