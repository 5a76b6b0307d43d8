// Package viewmodels derives screen-facing state from the caches: the
// per-itinerary comment thread with vote reconciliation, the leaderboard
// ranking, and the thin home/profile projections.
package viewmodels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
)

var (
	// ErrNotCommentAuthor marks a delete refused client-side because the
	// caller is not the comment's author.
	ErrNotCommentAuthor = fmt.Errorf("comment can only be deleted by its author")

	// ErrCommentNotFound marks an operation on a comment absent from the
	// local projection.
	ErrCommentNotFound = fmt.Errorf("comment not found")
)

const writeTimeout = 5 * time.Second

// voteFetchTimeout bounds each per-comment vote lookup for newly seen
// comments during a push merge.
const voteFetchTimeout = 3 * time.Second

// CommentsViewModel is the live comment thread for one open itinerary.
// Per push the merge rule is: for a comment already known locally, keep the
// local vote flags and take the server score; for a newly seen comment,
// fetch this user's vote record before first display.
type CommentsViewModel struct {
	store      remote.Store
	session    auth.Session
	moderation *managers.ModerationManager
	log        *log.Logger

	itineraryID string

	mu          sync.RWMutex
	raw         []models.Comment // unfiltered, server order
	visible     []models.Comment // blocked-author filtered, createdAt desc
	votes       map[string]models.VoteState
	cancel      context.CancelFunc
	gen         uint64
	watchers    map[int]func()
	nextWatcher int

	unwatchModeration func()
}

// NewComments builds the view model for one itinerary's comment thread.
func NewComments(store remote.Store, session auth.Session, moderation *managers.ModerationManager, logger *log.Logger, itineraryID string) *CommentsViewModel {
	return &CommentsViewModel{
		store:       store,
		session:     session,
		moderation:  moderation,
		log:         logging.For(logger, "comments"),
		itineraryID: itineraryID,
		votes:       map[string]models.VoteState{},
		watchers:    map[int]func(){},
	}
}

func (vm *CommentsViewModel) collection() string {
	return "itineraries/" + vm.itineraryID + "/comments"
}

func (vm *CommentsViewModel) votePath(commentID, uid string) string {
	return vm.collection() + "/" + commentID + "/votes/" + uid
}

// Subscribe opens the comment listener, newest first; resubscribing
// replaces any previous subscription. Signed out, the thread resets.
func (vm *CommentsViewModel) Subscribe() {
	uid := vm.session.CurrentUserID()

	vm.mu.Lock()
	if vm.cancel != nil {
		vm.cancel()
		vm.cancel = nil
	}
	vm.gen++
	if uid == "" {
		vm.raw = nil
		vm.visible = nil
		vm.votes = map[string]models.VoteState{}
		vm.mu.Unlock()
		vm.notify()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	vm.cancel = cancel
	gen := vm.gen
	if vm.unwatchModeration == nil {
		vm.unwatchModeration = vm.moderation.OnChange(vm.refilter)
	}
	vm.mu.Unlock()

	ch, err := vm.store.Listen(ctx, vm.collection(), remote.Query{OrderBy: "createdAt", Descending: true})
	if err != nil {
		vm.log.Error("failed to open comment listener", "itinerary", vm.itineraryID, "err", err)
		cancel()
		return
	}
	go func() {
		for snap := range ch {
			vm.applySnapshot(gen, uid, snap)
		}
	}()
}

// Unsubscribe cancels the listener and clears the thread. Idempotent.
func (vm *CommentsViewModel) Unsubscribe() {
	vm.mu.Lock()
	if vm.cancel != nil {
		vm.cancel()
		vm.cancel = nil
	}
	vm.gen++
	vm.raw = nil
	vm.visible = nil
	vm.votes = map[string]models.VoteState{}
	unwatch := vm.unwatchModeration
	vm.unwatchModeration = nil
	vm.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	vm.notify()
}

// refilter reapplies the blocked-author filter to the current projection.
// Runs on every moderation change so a freshly blocked author disappears
// from the open thread without waiting for a server push.
func (vm *CommentsViewModel) refilter() {
	vm.mu.Lock()
	vm.rebuildVisibleLocked()
	vm.mu.Unlock()
	vm.notify()
}

func (vm *CommentsViewModel) applySnapshot(gen uint64, uid string, snap remote.Snapshot) {
	if snap.Err != nil {
		vm.log.Warn("comment listener error", "itinerary", vm.itineraryID, "err", snap.Err)
		return
	}

	parsed := make([]models.Comment, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		c, ok := models.ParseComment(d.ID, vm.itineraryID, d.Data)
		if !ok {
			vm.log.Debug("skipping malformed comment record", "id", d.ID)
			continue
		}
		parsed = append(parsed, c)
	}

	vm.mu.RLock()
	unknown := make([]string, 0, len(parsed))
	for _, c := range parsed {
		if _, ok := vm.votes[c.ID]; !ok {
			unknown = append(unknown, c.ID)
		}
	}
	vm.mu.RUnlock()

	fetched := vm.fetchVotes(uid, unknown)

	vm.mu.Lock()
	if gen != vm.gen {
		vm.mu.Unlock()
		return
	}
	for id, v := range fetched {
		vm.votes[id] = v
	}
	for i := range parsed {
		parsed[i].ApplyVote(vm.votes[parsed[i].ID])
	}
	vm.raw = parsed
	vm.rebuildVisibleLocked()
	vm.mu.Unlock()
	vm.notify()
}

// fetchVotes resolves this user's vote record for each newly seen comment,
// in parallel, joining before the snapshot is published. A missing record
// means no vote; a failed fetch defaults to no vote.
func (vm *CommentsViewModel) fetchVotes(uid string, commentIDs []string) map[string]models.VoteState {
	var mu sync.Mutex
	out := make(map[string]models.VoteState, len(commentIDs))

	g := new(errgroup.Group)
	for _, id := range commentIDs {
		id := id
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), voteFetchTimeout)
			defer cancel()
			doc, err := vm.store.Get(ctx, vm.votePath(id, uid))
			state := models.VoteNone
			if err == nil {
				switch n := doc.Data["value"].(type) {
				case int:
					state = models.VoteStateFromContribution(n)
				case int64:
					state = models.VoteStateFromContribution(int(n))
				case float64:
					state = models.VoteStateFromContribution(int(n))
				}
			} else if !errors.Is(err, remote.ErrNotFound) {
				vm.log.Debug("vote fetch failed", "comment", id, "err", err)
			}
			mu.Lock()
			out[id] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// rebuildVisibleLocked applies the blocked-author filter and restores
// newest-first order with an explicit final sort.
func (vm *CommentsViewModel) rebuildVisibleLocked() {
	filtered := managers.FilterBlocked(vm.moderation, vm.raw, func(c models.Comment) string {
		return c.Author.ID
	})
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	vm.visible = filtered
}

// Comments returns a copy of the visible thread, newest first.
func (vm *CommentsViewModel) Comments() []models.Comment {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]models.Comment, len(vm.visible))
	copy(out, vm.visible)
	return out
}

// Vote returns the current user's vote on a comment.
func (vm *CommentsViewModel) Vote(commentID string) models.VoteState {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.votes[commentID]
}

// Upvote applies one upvote press: Neutral becomes Liked (+1), Liked
// toggles off to Neutral (-1), Disliked flips to Liked (+2).
func (vm *CommentsViewModel) Upvote(commentID string) {
	vm.vote(commentID, true)
}

// Downvote applies one downvote press: Neutral becomes Disliked (-1),
// Disliked toggles off to Neutral (+1), Liked flips to Disliked (-2).
func (vm *CommentsViewModel) Downvote(commentID string) {
	vm.vote(commentID, false)
}

func (vm *CommentsViewModel) vote(commentID string, up bool) {
	uid := vm.session.CurrentUserID()
	if uid == "" {
		return
	}

	vm.mu.Lock()
	if vm.indexLocked(commentID) < 0 {
		vm.mu.Unlock()
		return
	}
	prev := vm.votes[commentID]
	next, delta := transition(prev, up)
	vm.applyVoteLocked(commentID, next, delta)
	vm.mu.Unlock()
	vm.notify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		var err error
		if next == models.VoteNone {
			err = vm.store.Delete(ctx, vm.votePath(commentID, uid))
		} else {
			err = vm.store.Set(ctx, vm.votePath(commentID, uid), map[string]any{
				"userId":    uid,
				"value":     next.Contribution(),
				"createdAt": vm.store.ServerTimestamp(),
			})
		}
		if err == nil {
			err = vm.store.Increment(ctx, vm.collection()+"/"+commentID, "score", int64(delta))
		}
		if err != nil {
			vm.log.Warn("vote write failed, reverting", "comment", commentID, "err", err)
			vm.mu.Lock()
			vm.applyVoteLocked(commentID, prev, -delta)
			vm.mu.Unlock()
			vm.notify()
		}
	}()
}

// transition implements the three-state vote machine and its score deltas.
func transition(from models.VoteState, up bool) (to models.VoteState, delta int) {
	if up {
		switch from {
		case models.VoteNone:
			return models.VoteUp, 1
		case models.VoteUp:
			return models.VoteNone, -1
		default: // VoteDown
			return models.VoteUp, 2
		}
	}
	switch from {
	case models.VoteNone:
		return models.VoteDown, -1
	case models.VoteDown:
		return models.VoteNone, 1
	default: // VoteUp
		return models.VoteDown, -2
	}
}

func (vm *CommentsViewModel) applyVoteLocked(commentID string, state models.VoteState, delta int) {
	vm.votes[commentID] = state
	for i := range vm.raw {
		if vm.raw[i].ID == commentID {
			vm.raw[i].Score += delta
			vm.raw[i].ApplyVote(state)
		}
	}
	for i := range vm.visible {
		if vm.visible[i].ID == commentID {
			vm.visible[i].Score += delta
			vm.visible[i].ApplyVote(state)
		}
	}
}

// Add posts a comment: optimistic front insert, background write with
// rollback on failure, then the itinerary's total comment count is
// recomputed and persisted.
func (vm *CommentsViewModel) Add(author models.UserRef, content string) models.Comment {
	uid := vm.session.CurrentUserID()
	if uid == "" || content == "" {
		return models.Comment{}
	}
	author.ID = uid
	c := models.Comment{
		ID:          uuid.NewString(),
		ItineraryID: vm.itineraryID,
		Author:      author,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}

	vm.mu.Lock()
	vm.raw = append([]models.Comment{c}, vm.raw...)
	vm.votes[c.ID] = models.VoteNone
	vm.rebuildVisibleLocked()
	vm.mu.Unlock()
	vm.notify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		fields := map[string]any{
			"content": c.Content,
			"score":   0,
			"author": map[string]any{
				"id":              author.ID,
				"name":            author.Name,
				"handle":          author.Handle,
				"profileImageUrl": author.ProfileImageURL,
			},
			"createdAt": c.CreatedAt,
		}
		if err := vm.store.Set(ctx, vm.collection()+"/"+c.ID, fields); err != nil {
			vm.log.Warn("comment create failed, reverting", "comment", c.ID, "err", err)
			vm.mu.Lock()
			if idx := vm.indexLocked(c.ID); idx >= 0 {
				vm.raw = append(vm.raw[:idx], vm.raw[idx+1:]...)
			}
			delete(vm.votes, c.ID)
			vm.rebuildVisibleLocked()
			vm.mu.Unlock()
			vm.notify()
			return
		}
		vm.persistCount(ctx)
	}()
	return c
}

// Delete removes the caller's own comment together with its vote records.
// A non-author is refused before any network call.
func (vm *CommentsViewModel) Delete(commentID string) error {
	uid := vm.session.CurrentUserID()
	if uid == "" {
		return managers.ErrNotAuthenticated
	}

	vm.mu.Lock()
	idx := vm.indexLocked(commentID)
	if idx < 0 {
		vm.mu.Unlock()
		return ErrCommentNotFound
	}
	removed := vm.raw[idx]
	if removed.Author.ID != uid {
		vm.mu.Unlock()
		return ErrNotCommentAuthor
	}
	vm.raw = append(vm.raw[:idx], vm.raw[idx+1:]...)
	vm.rebuildVisibleLocked()
	vm.mu.Unlock()
	vm.notify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		commentPath := vm.collection() + "/" + commentID
		votes, err := vm.store.GetAll(ctx, commentPath+"/votes", remote.Query{})
		if err != nil {
			vm.log.Warn("vote cascade read failed", "comment", commentID, "err", err)
		}
		b := vm.store.Batch()
		for _, v := range votes {
			b.Delete(v.Path)
		}
		b.Delete(commentPath)
		if err := b.Commit(ctx); err != nil {
			vm.log.Warn("comment delete failed, restoring", "comment", commentID, "err", err)
			vm.mu.Lock()
			vm.raw = append([]models.Comment{removed}, vm.raw...)
			vm.rebuildVisibleLocked()
			vm.mu.Unlock()
			vm.notify()
			return
		}
		vm.persistCount(ctx)
	}()
	return nil
}

// persistCount rewrites the parent itinerary's total comment count from
// the local projection. The count uses the unfiltered thread: blocking an
// author hides comments locally, it does not shrink the stored total.
func (vm *CommentsViewModel) persistCount(ctx context.Context) {
	vm.mu.RLock()
	n := len(vm.raw)
	vm.mu.RUnlock()
	if err := vm.store.Update(ctx, "itineraries/"+vm.itineraryID, map[string]any{"comments": n}); err != nil {
		vm.log.Warn("comment count update failed", "itinerary", vm.itineraryID, "err", err)
	}
}

// OnChange registers an observer invoked after every published change.
func (vm *CommentsViewModel) OnChange(fn func()) func() {
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

func (vm *CommentsViewModel) notify() {
	vm.mu.RLock()
	fns := make([]func(), 0, len(vm.watchers))
	for _, fn := range vm.watchers {
		fns = append(fns, fn)
	}
	vm.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (vm *CommentsViewModel) indexLocked(commentID string) int {
	for i := range vm.raw {
		if vm.raw[i].ID == commentID {
			return i
		}
	}
	return -1
}
