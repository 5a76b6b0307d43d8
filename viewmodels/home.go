package viewmodels

import (
	"sort"
	"strings"

	"github.com/triptuner/triptuner-go/managers"
	"github.com/triptuner/triptuner-go/models"
)

// HomeFilter narrows the feed. Zero values mean no constraint.
type HomeFilter struct {
	Category   models.Category
	Region     models.Region
	CostLevel  models.CostLevel
	NoiseLevel models.NoiseLevel
	Search     string
}

// HomeViewModel is a read-only projection over the itinerary cache: the
// main feed filtered, blocked authors removed, newest first.
type HomeViewModel struct {
	itineraries *managers.ItinerariesManager
	moderation  *managers.ModerationManager
}

func NewHome(itineraries *managers.ItinerariesManager, moderation *managers.ModerationManager) *HomeViewModel {
	return &HomeViewModel{itineraries: itineraries, moderation: moderation}
}

// Feed returns the visible feed for a filter, newest first.
func (vm *HomeViewModel) Feed(f HomeFilter) []models.Itinerary {
	items := managers.FilterBlocked(vm.moderation, vm.itineraries.Items(), func(it models.Itinerary) string {
		return it.Author.ID
	})
	out := items[:0]
	search := strings.ToLower(strings.TrimSpace(f.Search))
	for _, it := range items {
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		if f.Region != "" && it.Region != f.Region {
			continue
		}
		if f.CostLevel != "" && it.CostLevel != f.CostLevel {
			continue
		}
		if f.NoiseLevel != "" && it.NoiseLevel != f.NoiseLevel {
			continue
		}
		if search != "" && !matchesSearch(it, search) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Trending returns the visible feed ordered by like count.
func (vm *HomeViewModel) Trending(limit int) []models.Itinerary {
	items := vm.Feed(HomeFilter{})
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Likes > items[j].Likes
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func matchesSearch(it models.Itinerary, search string) bool {
	if strings.Contains(strings.ToLower(it.Title), search) {
		return true
	}
	if strings.Contains(strings.ToLower(it.Description), search) {
		return true
	}
	for _, s := range it.Stops {
		if strings.Contains(strings.ToLower(s.LocationName), search) {
			return true
		}
	}
	return false
}
