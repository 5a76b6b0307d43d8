package viewmodels

import (
	"context"
	"sort"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/models"
)

// ProfileViewModel is a read-only projection of the signed-in user's own
// content: their itineraries plus the saved and completed shelves.
type ProfileViewModel struct {
	itineraries *managers.ItinerariesManager
	saved       *managers.MembershipManager
	completed   *managers.MembershipManager
	users       *managers.UsersManager
	session     auth.Session
}

func NewProfile(itineraries *managers.ItinerariesManager, saved, completed *managers.MembershipManager, users *managers.UsersManager, session auth.Session) *ProfileViewModel {
	return &ProfileViewModel{
		itineraries: itineraries,
		saved:       saved,
		completed:   completed,
		users:       users,
		session:     session,
	}
}

// User fetches the signed-in user's directory record.
func (vm *ProfileViewModel) User(ctx context.Context) (models.User, error) {
	uid := vm.session.CurrentUserID()
	if uid == "" {
		return models.User{}, managers.ErrNotAuthenticated
	}
	return vm.users.Get(ctx, uid)
}

// MyItineraries returns the user's own trips, newest first.
func (vm *ProfileViewModel) MyItineraries() []models.Itinerary {
	uid := vm.session.CurrentUserID()
	if uid == "" {
		return nil
	}
	return vm.itineraries.ByAuthor(uid)
}

// Saved returns the saved shelf, newest first.
func (vm *ProfileViewModel) Saved() []models.Itinerary {
	return vm.shelf(vm.saved)
}

// Completed returns the completed shelf, newest first.
func (vm *ProfileViewModel) Completed() []models.Itinerary {
	return vm.shelf(vm.completed)
}

func (vm *ProfileViewModel) shelf(set *managers.MembershipManager) []models.Itinerary {
	var out []models.Itinerary
	for _, it := range vm.itineraries.Items() {
		if set.Contains(it.ID) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Achievements fetches the unlock records for the signed-in user.
func (vm *ProfileViewModel) Achievements(ctx context.Context) ([]models.Achievement, error) {
	uid := vm.session.CurrentUserID()
	if uid == "" {
		return nil, managers.ErrNotAuthenticated
	}
	return vm.users.Achievements(ctx, uid)
}
