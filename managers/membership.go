package managers

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/remote"
)

// membershipCache is the shared synchronization pattern behind every
// per-user ID set (liked, saved, completed, blocked): one live listener on
// the user's sub-collection, full-snapshot replacement on every push, and
// a generation counter so a push that raced cancellation is dropped instead
// of resurrecting cleared state.
type membershipCache struct {
	store      remote.Store
	session    auth.Session
	log        *log.Logger
	collection func(uid string) string

	mu          sync.RWMutex
	ids         map[string]struct{}
	cancel      context.CancelFunc
	gen         uint64
	watchers    map[int]func()
	nextWatcher int
}

func newMembershipCache(store remote.Store, session auth.Session, logger *log.Logger, collection func(string) string) *membershipCache {
	return &membershipCache{
		store:      store,
		session:    session,
		log:        logger,
		collection: collection,
		ids:        map[string]struct{}{},
		watchers:   map[int]func(){},
	}
}

// Subscribe opens exactly one live listener scoped to the current user's
// sub-collection, cancelling any previous one first. When no user is signed
// in the projection is reset to empty and no subscription is created.
func (c *membershipCache) Subscribe() {
	uid := c.session.CurrentUserID()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	if uid == "" {
		c.ids = map[string]struct{}{}
		c.mu.Unlock()
		c.notify()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	gen := c.gen
	path := c.collection(uid)
	c.mu.Unlock()

	ch, err := c.store.Listen(ctx, path, remote.Query{})
	if err != nil {
		c.log.Error("failed to open membership listener", "collection", path, "err", err)
		cancel()
		return
	}
	go func() {
		for snap := range ch {
			c.apply(gen, snap)
		}
	}()
}

// Unsubscribe cancels the listener and clears the projection. Safe to call
// repeatedly.
func (c *membershipCache) Unsubscribe() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.ids = map[string]struct{}{}
	c.mu.Unlock()
	c.notify()
}

func (c *membershipCache) apply(gen uint64, snap remote.Snapshot) {
	if snap.Err != nil {
		c.log.Warn("membership listener error", "err", snap.Err)
		return
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ids := make(map[string]struct{}, len(snap.Docs))
	for _, d := range snap.Docs {
		ids[d.ID] = struct{}{}
	}
	c.ids = ids
	c.mu.Unlock()
	c.notify()
}

// Contains is an O(1) membership test against the local projection; it
// never performs I/O and may be stale between pushes.
func (c *membershipCache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// IDs returns a sorted copy of the projection.
func (c *membershipCache) IDs() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (c *membershipCache) setMember(id string, member bool) {
	c.mu.Lock()
	if member {
		c.ids[id] = struct{}{}
	} else {
		delete(c.ids, id)
	}
	c.mu.Unlock()
	c.notify()
}

// OnChange registers an observer invoked after every projection change,
// outside the cache lock. The returned func removes it.
func (c *membershipCache) OnChange(fn func()) func() {
	c.mu.Lock()
	c.nextWatcher++
	id := c.nextWatcher
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *membershipCache) notify() {
	c.mu.RLock()
	fns := make([]func(), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
