package viewmodels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/triptuner/triptuner-go/models"
)

func seedComment(t *testing.T, store interface {
	Set(ctx context.Context, path string, fields map[string]any) error
}, itineraryID, id, author, content string, score int, createdAt time.Time) {
	t.Helper()
	err := store.Set(context.Background(), "itineraries/"+itineraryID+"/comments/"+id, map[string]any{
		"content":   content,
		"score":     score,
		"author":    map[string]any{"id": author, "name": "Author " + author},
		"createdAt": createdAt,
	})
	if err != nil {
		t.Fatalf("seed comment %s: %v", id, err)
	}
}

func TestCommentsSubscribeNewestFirst(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	now := time.Now().UTC()
	seedComment(t, store, "it1", "old", "a1", "first", 0, now.Add(-time.Hour))
	seedComment(t, store, "it1", "new", "a2", "second", 0, now)

	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 2 })

	got := vm.Comments()
	if got[0].ID != "new" || got[1].ID != "old" {
		t.Errorf("order = [%s %s], want [new old]", got[0].ID, got[1].ID)
	}
}

func TestCommentsFetchVoteForNewComment(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	now := time.Now().UTC()
	seedComment(t, store, "it1", "c1", "a1", "hello", 3, now)
	store.Set(context.Background(), "itineraries/it1/comments/c1/votes/u1", map[string]any{"value": 1})

	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool {
		got := vm.Comments()
		return len(got) == 1 && got[0].IsLiked
	})
	if vm.Vote("c1") != models.VoteUp {
		t.Errorf("Vote(c1) = %v, want VoteUp", vm.Vote("c1"))
	}
}

func TestCommentsMergeKeepsLocalVoteFlags(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	now := time.Now().UTC()
	seedComment(t, store, "it1", "c1", "a1", "hello", 0, now)

	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 1 })

	vm.Upvote("c1")
	waitUntil(t, func() bool {
		doc, err := store.Get(context.Background(), "itineraries/it1/comments/c1")
		if err != nil {
			return false
		}
		n, _ := doc.Data["score"].(int64)
		return n == 1
	})

	// The next push must keep the local vote flag and take the server score.
	seedComment(t, store, "it1", "c1", "a1", "hello", 5, now)
	waitUntil(t, func() bool {
		got := vm.Comments()
		return len(got) == 1 && got[0].Score == 5 && got[0].IsLiked
	})
}

func TestVoteTransitionTable(t *testing.T) {
	cases := []struct {
		name      string
		from      models.VoteState
		up        bool
		wantTo    models.VoteState
		wantDelta int
	}{
		{"neutral upvote", models.VoteNone, true, models.VoteUp, 1},
		{"liked upvote toggles off", models.VoteUp, true, models.VoteNone, -1},
		{"disliked upvote flips", models.VoteDown, true, models.VoteUp, 2},
		{"neutral downvote", models.VoteNone, false, models.VoteDown, -1},
		{"disliked downvote toggles off", models.VoteDown, false, models.VoteNone, 1},
		{"liked downvote flips", models.VoteUp, false, models.VoteDown, -2},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			to, delta := transition(tt.from, tt.up)
			if to != tt.wantTo || delta != tt.wantDelta {
				t.Errorf("transition(%v, %v) = (%v, %d), want (%v, %d)",
					tt.from, tt.up, to, delta, tt.wantTo, tt.wantDelta)
			}
		})
	}
}

func TestVoteInverseRoundTrip(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	seedComment(t, store, "it1", "c1", "a1", "hello", 4, time.Now().UTC())
	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 1 })

	vm.Upvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == 5 && c.IsLiked
	})
	vm.Upvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == 4 && !c.IsLiked && !c.IsDisliked
	})

	vm.Downvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == 3 && c.IsDisliked
	})
	vm.Downvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == 4 && !c.IsLiked && !c.IsDisliked
	})
}

func TestVoteFlipAppliesDoubleDelta(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	seedComment(t, store, "it1", "c1", "a1", "hello", 0, time.Now().UTC())
	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 1 })

	vm.Upvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == 1 && c.IsLiked
	})
	vm.Downvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == -1 && c.IsDisliked
	})
}

func TestVoteRevertsOnWriteFailure(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	seedComment(t, store, "it1", "c1", "a1", "hello", 2, time.Now().UTC())
	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 1 })

	store.FailWith("itineraries/it1/comments/c1/votes", errors.New("write refused"))
	vm.Upvote("c1")
	waitUntil(t, func() bool {
		c := vm.Comments()[0]
		return c.Score == 2 && !c.IsLiked
	})
}

func TestAddCommentPersistsAndRecountsTotal(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	ctx := context.Background()
	store.Set(ctx, "itineraries/it1", map[string]any{
		"title":  "Trip",
		"author": map[string]any{"id": "a1"},
	})
	vm.Subscribe()
	defer vm.Unsubscribe()

	c := vm.Add(models.UserRef{Name: "Me", Handle: "me"}, "great trip")
	if c.ID == "" || c.Author.ID != "u1" {
		t.Fatalf("Add() = %+v, want generated ID and author u1", c)
	}
	if len(vm.Comments()) != 1 {
		t.Fatal("optimistic insert missing")
	}
	waitUntil(t, func() bool {
		_, err := store.Get(ctx, "itineraries/it1/comments/"+c.ID)
		return err == nil
	})
	waitUntil(t, func() bool {
		doc, err := store.Get(ctx, "itineraries/it1")
		if err != nil {
			return false
		}
		n, _ := doc.Data["comments"].(int)
		return n == 1
	})
}

func TestAddCommentRollsBackOnFailure(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	store.FailWith("itineraries/it1/comments", errors.New("write refused"))

	c := vm.Add(models.UserRef{Name: "Me"}, "doomed")
	if c.ID == "" {
		t.Fatal("Add() assigned no ID")
	}
	waitUntil(t, func() bool { return len(vm.Comments()) == 0 })
	if _, err := store.Get(context.Background(), "itineraries/it1/comments/"+c.ID); err == nil {
		t.Error("failed write still persisted")
	}
}

func TestDeleteCommentAuthorOnly(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	now := time.Now().UTC()
	seedComment(t, store, "it1", "mine", "u1", "mine", 0, now)
	seedComment(t, store, "it1", "theirs", "u2", "theirs", 0, now.Add(-time.Minute))
	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 2 })

	if err := vm.Delete("theirs"); !errors.Is(err, ErrNotCommentAuthor) {
		t.Errorf("Delete(theirs) error = %v, want ErrNotCommentAuthor", err)
	}
	if err := vm.Delete("missing"); !errors.Is(err, ErrCommentNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrCommentNotFound", err)
	}
	if err := vm.Delete("mine"); err != nil {
		t.Fatalf("Delete(mine) error: %v", err)
	}
	waitUntil(t, func() bool {
		_, err := store.Get(context.Background(), "itineraries/it1/comments/mine")
		return err != nil
	})
}

func TestDeleteCommentCascadesVotes(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	ctx := context.Background()
	seedComment(t, store, "it1", "c1", "u1", "mine", 2, time.Now().UTC())
	store.Set(ctx, "itineraries/it1/comments/c1/votes/u2", map[string]any{"value": 1})
	store.Set(ctx, "itineraries/it1/comments/c1/votes/u3", map[string]any{"value": 1})
	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 1 })

	if err := vm.Delete("c1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	waitUntil(t, func() bool {
		_, e1 := store.Get(ctx, "itineraries/it1/comments/c1/votes/u2")
		_, e2 := store.Get(ctx, "itineraries/it1/comments/c1/votes/u3")
		return e1 != nil && e2 != nil
	})
}

func TestCommentsFilterBlockedAuthors(t *testing.T) {
	vm, store, moderation := newCommentsSetup(t, "u1", "it1")
	now := time.Now().UTC()
	seedComment(t, store, "it1", "ok", "good", "fine", 0, now)
	seedComment(t, store, "it1", "hidden", "bad", "nope", 0, now.Add(-time.Minute))
	vm.Subscribe()
	defer vm.Unsubscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 2 })

	moderation.Block("bad")
	got := vm.Comments()
	if len(got) != 1 || got[0].ID != "ok" {
		t.Fatalf("blocked author still visible right after Block, got %d comments", len(got))
	}

	moderation.Unblock("bad")
	waitUntil(t, func() bool { return len(vm.Comments()) == 2 })
}

func TestCommentsUnsubscribeIdempotent(t *testing.T) {
	vm, store, _ := newCommentsSetup(t, "u1", "it1")
	seedComment(t, store, "it1", "c1", "a1", "hello", 0, time.Now().UTC())
	vm.Subscribe()
	waitUntil(t, func() bool { return len(vm.Comments()) == 1 })

	vm.Unsubscribe()
	vm.Unsubscribe()
	if len(vm.Comments()) != 0 {
		t.Error("thread not cleared after unsubscribe")
	}
	waitUntil(t, func() bool { return store.ListenerCount() == 0 })
}
