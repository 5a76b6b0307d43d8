package managers

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
)

// MembershipManager is a per-user boolean membership set (saved or
// completed itineraries) over the shared cache pattern.
type MembershipManager struct {
	*membershipCache
	name string
}

// NewSavedItineraries builds the saved-itineraries membership manager.
func NewSavedItineraries(store remote.Store, session auth.Session, logger *log.Logger) *MembershipManager {
	return &MembershipManager{
		membershipCache: newMembershipCache(store, session, logging.For(logger, "saved"), savedPath),
		name:            "saved",
	}
}

// NewCompletedItineraries builds the completed-itineraries membership manager.
func NewCompletedItineraries(store remote.Store, session auth.Session, logger *log.Logger) *MembershipManager {
	return &MembershipManager{
		membershipCache: newMembershipCache(store, session, logging.For(logger, "completed"), completedPath),
		name:            "completed",
	}
}

// Toggle flips membership for the itinerary and returns the new local
// state. The local projection is updated immediately; the remote write runs
// in the background and rolls the change back on failure.
func (m *MembershipManager) Toggle(itineraryID string) bool {
	uid := m.session.CurrentUserID()
	if uid == "" {
		return false
	}
	was := m.Contains(itineraryID)
	m.setMember(itineraryID, !was)

	docPath := m.collection(uid) + "/" + itineraryID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		var err error
		if was {
			err = m.store.Delete(ctx, docPath)
		} else {
			err = m.store.Set(ctx, docPath, map[string]any{
				"itineraryId": itineraryID,
				"createdAt":   m.store.ServerTimestamp(),
			})
		}
		if err != nil {
			m.log.Warn("membership write failed, reverting", "set", m.name, "itinerary", itineraryID, "err", err)
			m.setMember(itineraryID, was)
		}
	}()
	return !was
}
