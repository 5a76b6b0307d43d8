// Package triptuner is the client-side synchronization core of the
// TripTuner app: live entity caches over a remote document store,
// optimistic mutations with rollback, and the derived view models
// (comments, leaderboard, home, profile) the UI reads from.
package triptuner

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/pictures"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
	"github.com/triptuner/triptuner-go/viewmodels"
)

// Client wires every cache to one store and one auth session. All caches
// subscribe on sign-in and clear on sign-out; there is exactly one instance
// of each cache per Client.
type Client struct {
	store   remote.Store
	session auth.Session
	log     *log.Logger
	cache   pictures.Cache

	Itineraries *managers.ItinerariesManager
	Liked       *managers.LikedItinerariesManager
	Saved       *managers.MembershipManager
	Completed   *managers.MembershipManager
	Moderation  *managers.ModerationManager
	Users       *managers.UsersManager

	unwatch func()
}

// Option adjusts Client construction.
type Option func(*Client)

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPictureCache replaces the in-memory profile picture cache, e.g. with
// the Redis-backed one.
func WithPictureCache(cache pictures.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// New builds the full cache graph and starts reacting to auth changes. If a
// user is already signed in, subscriptions open immediately.
func New(store remote.Store, session auth.Session, opts ...Option) *Client {
	c := &Client{
		store:   store,
		session: session,
		log:     logging.New(os.Stderr),
		cache:   pictures.NewMemoryCache(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Liked = managers.NewLikedItineraries(store, session, c.log)
	c.Saved = managers.NewSavedItineraries(store, session, c.log)
	c.Completed = managers.NewCompletedItineraries(store, session, c.log)
	c.Moderation = managers.NewModeration(store, session, c.log)
	c.Users = managers.NewUsers(store, session, c.log)
	c.Itineraries = managers.NewItineraries(store, session, c.Liked, c.Saved, c.log)

	c.unwatch = session.OnChange(func(uid string) {
		if uid == "" {
			c.unsubscribeAll()
		} else {
			c.subscribeAll()
		}
	})
	if session.CurrentUserID() != "" {
		c.subscribeAll()
	}
	return c
}

// subscribeAll opens every listener. Membership sets go first so the first
// itinerary push already reconciles against them.
func (c *Client) subscribeAll() {
	c.Liked.Subscribe()
	c.Saved.Subscribe()
	c.Completed.Subscribe()
	c.Moderation.Subscribe()
	c.Itineraries.Subscribe()
}

func (c *Client) unsubscribeAll() {
	c.Itineraries.Unsubscribe()
	c.Liked.Unsubscribe()
	c.Saved.Unsubscribe()
	c.Completed.Unsubscribe()
	c.Moderation.Unsubscribe()
}

// Comments builds the live comment thread for one open itinerary. The
// caller subscribes when the screen opens and unsubscribes when it closes.
func (c *Client) Comments(itineraryID string) *viewmodels.CommentsViewModel {
	return viewmodels.NewComments(c.store, c.session, c.Moderation, c.log, itineraryID)
}

// Leaderboard builds the ranking view model bound to the shared picture
// cache.
func (c *Client) Leaderboard() *viewmodels.LeaderboardViewModel {
	return viewmodels.NewLeaderboard(c.Itineraries, c.Users, c.session, c.cache, c.log)
}

// Home builds the filtered feed projection.
func (c *Client) Home() *viewmodels.HomeViewModel {
	return viewmodels.NewHome(c.Itineraries, c.Moderation)
}

// Profile builds the signed-in user's projection.
func (c *Client) Profile() *viewmodels.ProfileViewModel {
	return viewmodels.NewProfile(c.Itineraries, c.Saved, c.Completed, c.Users, c.session)
}

// Close stops the auth watcher and cancels every live listener.
func (c *Client) Close() error {
	if c.unwatch != nil {
		c.unwatch()
	}
	c.unsubscribeAll()
	if closer, ok := c.cache.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Session exposes the bound auth session.
func (c *Client) Session() auth.Session { return c.session }

// Store exposes the bound remote store, mainly for harnesses.
func (c *Client) Store() remote.Store { return c.store }
