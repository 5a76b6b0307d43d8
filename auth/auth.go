// Package auth provides the session identity contract the caches bind to.
package auth

import "sync"

// Session reports the current authenticated user. CurrentUserID returns ""
// when signed out. OnChange registers a callback fired on sign-in and
// sign-out; the returned func removes the registration.
type Session interface {
	CurrentUserID() string
	OnChange(fn func(userID string)) (remove func())
}

// MemorySession is the in-process Session implementation. The app's sign-in
// flow (or a test) drives it via SignIn/SignOut.
type MemorySession struct {
	mu       sync.RWMutex
	userID   string
	nextID   int
	watchers map[int]func(string)
}

// NewMemorySession returns a signed-out session.
func NewMemorySession() *MemorySession {
	return &MemorySession{watchers: map[int]func(string){}}
}

func (s *MemorySession) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SignIn sets the current user and notifies watchers.
func (s *MemorySession) SignIn(userID string) {
	s.setUser(userID)
}

// SignOut clears the current user and notifies watchers.
func (s *MemorySession) SignOut() {
	s.setUser("")
}

func (s *MemorySession) setUser(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	fns := make([]func(string), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(userID)
	}
}

func (s *MemorySession) OnChange(fn func(string)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}
