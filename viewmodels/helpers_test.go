package viewmodels

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/remote"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newCommentsSetup(t *testing.T, uid, itineraryID string) (*CommentsViewModel, *remote.MemoryStore, *managers.ModerationManager) {
	t.Helper()
	store := remote.NewMemoryStore()
	session := auth.NewMemorySession()
	if uid != "" {
		session.SignIn(uid)
	}
	moderation := managers.NewModeration(store, session, testLogger())
	vm := NewComments(store, session, moderation, testLogger(), itineraryID)
	return vm, store, moderation
}
