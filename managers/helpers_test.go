package managers

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/remote"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// waitUntil polls cond until it holds or the deadline passes. Background
// writes and listener pushes land asynchronously, so assertions on their
// effects go through here.
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

// testStoreSession bundles the fakes shared by a manager under test.
type testStoreSession struct {
	store   *remote.MemoryStore
	session *auth.MemorySession
}

func newTestSetup(uid string) (*remote.MemoryStore, *auth.MemorySession) {
	store := remote.NewMemoryStore()
	session := auth.NewMemorySession()
	if uid != "" {
		session.SignIn(uid)
	}
	return store, session
}
