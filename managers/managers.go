// Package managers holds the per-collection caches: each one keeps an
// observable local projection of a remote collection, applies optimistic
// mutations with compensating rollback, and reconciles the projection from
// full-snapshot listener pushes.
package managers

import (
	"fmt"
	"time"
)

var (
	// ErrNotAuthenticated marks operations refused because no user is
	// signed in. Caches prefer guard-clause no-ops; this is returned only
	// by operations with an error result.
	ErrNotAuthenticated = fmt.Errorf("not authenticated")

	// ErrHandleTaken is returned when a handle is already reserved or in use.
	ErrHandleTaken = fmt.Errorf("handle already taken")
)

// writeTimeout bounds every fire-and-forget remote write.
const writeTimeout = 5 * time.Second

func itineraryPath(id string) string { return "itineraries/" + id }

func itineraryLikesPath(id string) string { return "itineraries/" + id + "/likes" }

func commentsPath(itineraryID string) string { return "itineraries/" + itineraryID + "/comments" }

func likedPath(uid string) string { return "users/" + uid + "/likedItineraries" }

func savedPath(uid string) string { return "users/" + uid + "/savedItineraries" }

func completedPath(uid string) string { return "users/" + uid + "/completedItineraries" }

func blockedPath(uid string) string { return "users/" + uid + "/blockedUsers" }

func userPath(uid string) string { return "users/" + uid }
