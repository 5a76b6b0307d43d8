package models

import (
	"sort"
	"time"
)

// Category classifies an itinerary by the kind of trip it describes.
type Category string

const (
	CategoryFood      Category = "food"
	CategoryCulture   Category = "culture"
	CategoryNightlife Category = "nightlife"
	CategoryOutdoors  Category = "outdoors"
	CategoryHistory   Category = "history"
	CategorySports    Category = "sports"
)

// CostLevel is a rough price bracket for a whole itinerary.
type CostLevel string

const (
	CostFree     CostLevel = "free"
	CostCheap    CostLevel = "cheap"
	CostModerate CostLevel = "moderate"
	CostPricey   CostLevel = "pricey"
)

// NoiseLevel describes how loud the stops on an itinerary tend to be.
type NoiseLevel string

const (
	NoiseQuiet    NoiseLevel = "quiet"
	NoiseModerate NoiseLevel = "moderate"
	NoiseLoud     NoiseLevel = "loud"
)

// Region is a Philadelphia neighborhood grouping.
type Region string

const (
	RegionCenterCity     Region = "center_city"
	RegionOldCity        Region = "old_city"
	RegionUniversityCity Region = "university_city"
	RegionSouthPhilly    Region = "south_philly"
	RegionNorthPhilly    Region = "north_philly"
	RegionFishtown       Region = "fishtown"
)

// UserRef is the author identity embedded in itineraries and comments.
type UserRef struct {
	ID              string
	Name            string
	Handle          string
	ProfileImageURL string
}

// Address is the structured form of a stop's street address.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// Stop is a single location on an itinerary. Order is 1-based and must be
// contiguous and unique within an itinerary after edits.
type Stop struct {
	ID           string
	LocationName string
	Address      string
	Structured   *Address
	Latitude     float64
	Longitude    float64
	Notes        string
	Order        int
}

// Itinerary is the canonical trip entity. IsLiked and IsSaved are
// session-local, recomputed from the membership caches on every merge and
// never written back to the store.
type Itinerary struct {
	ID                string
	Title             string
	Description       string
	Category          Category
	Author            UserRef
	Stops             []Stop
	PhotoURLs         []string
	Likes             int
	Comments          int
	TimeEstimateHours float64
	Cost              *float64
	CostLevel         CostLevel
	NoiseLevel        NoiseLevel
	Region            Region
	CreatedAt         time.Time

	IsLiked bool
	IsSaved bool
}

// NormalizeStopOrder sorts stops by their current order and re-assigns a
// contiguous 1-based sequence, repairing gaps and duplicates left by edits.
func NormalizeStopOrder(stops []Stop) []Stop {
	out := make([]Stop, len(stops))
	copy(out, stops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// ParseItinerary builds an Itinerary from a raw remote record. The boolean
// is false when required fields are missing; such records are skipped during
// projection parsing rather than treated as fatal.
func ParseItinerary(id string, data map[string]any) (Itinerary, bool) {
	if id == "" || data == nil {
		return Itinerary{}, false
	}
	title := asString(data["title"])
	author := parseUserRef(data["author"])
	if title == "" || author.ID == "" {
		return Itinerary{}, false
	}

	it := Itinerary{
		ID:                id,
		Title:             title,
		Description:       asString(data["description"]),
		Category:          Category(asString(data["category"])),
		Author:            author,
		Likes:             asInt(data["likes"]),
		Comments:          asInt(data["comments"]),
		TimeEstimateHours: asFloat(data["timeEstimateHours"]),
		CostLevel:         CostLevel(asString(data["costLevel"])),
		NoiseLevel:        NoiseLevel(asString(data["noiseLevel"])),
		Region:            Region(asString(data["region"])),
		CreatedAt:         asTime(data["createdAt"]),
	}
	if v, ok := data["cost"]; ok && v != nil {
		c := asFloat(v)
		it.Cost = &c
	}
	for _, raw := range asSlice(data["stops"]) {
		if s, ok := parseStop(raw); ok {
			it.Stops = append(it.Stops, s)
		}
	}
	it.Stops = NormalizeStopOrder(it.Stops)
	for _, raw := range asSlice(data["photos"]) {
		if url := asString(raw); url != "" {
			it.PhotoURLs = append(it.PhotoURLs, url)
		}
	}
	return it, true
}

func parseUserRef(v any) UserRef {
	m, ok := v.(map[string]any)
	if !ok {
		return UserRef{}
	}
	return UserRef{
		ID:              asString(m["id"]),
		Name:            asString(m["name"]),
		Handle:          asString(m["handle"]),
		ProfileImageURL: asString(m["profileImageUrl"]),
	}
}

func parseStop(v any) (Stop, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Stop{}, false
	}
	s := Stop{
		ID:           asString(m["id"]),
		LocationName: asString(m["locationName"]),
		Address:      asString(m["address"]),
		Latitude:     asFloat(m["latitude"]),
		Longitude:    asFloat(m["longitude"]),
		Notes:        asString(m["notes"]),
		Order:        asInt(m["order"]),
	}
	if s.LocationName == "" {
		return Stop{}, false
	}
	if sa, ok := m["structuredAddress"].(map[string]any); ok {
		s.Structured = &Address{
			Street: asString(sa["street"]),
			City:   asString(sa["city"]),
			State:  asString(sa["state"]),
			Zip:    asString(sa["zip"]),
		}
	}
	return s, true
}
