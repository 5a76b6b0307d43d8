package models

import "time"

// User is a TripTuner account as stored in the user directory. Handle is
// globally unique, case-insensitive; uniqueness is enforced through the
// handle registry, not this record.
type User struct {
	ID              string
	Name            string
	Handle          string
	Email           string
	ProfileImageURL string
	Year            int
	Streak          int
	Points          int
	Achievements    []Achievement
}

// Achievement is unlocked exactly when UnlockedAt is non-nil.
type Achievement struct {
	ID          string
	Title       string
	Description string
	Emoji       string
	UnlockedAt  *time.Time
}

// Unlocked reports whether the achievement has been earned.
func (a Achievement) Unlocked() bool { return a.UnlockedAt != nil }

// Period selects the date window for leaderboard point sums.
type Period string

const (
	PeriodThisMonth Period = "thisMonth"
	PeriodAllTime   Period = "allTime"
)

// LeaderboardEntry is derived, never persisted. Rank is 1-based and assigned
// only after the full sort.
type LeaderboardEntry struct {
	UserID          string
	Name            string
	Handle          string
	ProfileImageURL string
	Rank            int
	Points          int
	TripCount       int
}

// ParseUser builds a User from a raw directory record; false means the
// record is malformed and should be skipped.
func ParseUser(id string, data map[string]any) (User, bool) {
	if id == "" || data == nil {
		return User{}, false
	}
	name := asString(data["name"])
	handle := asString(data["handle"])
	if name == "" && handle == "" {
		return User{}, false
	}
	return User{
		ID:              id,
		Name:            name,
		Handle:          handle,
		Email:           asString(data["email"]),
		ProfileImageURL: asString(data["profileImageUrl"]),
		Year:            asInt(data["year"]),
		Streak:          asInt(data["streak"]),
		Points:          asInt(data["points"]),
	}, true
}

// ParseAchievement builds an Achievement from a raw remote record.
func ParseAchievement(id string, data map[string]any) (Achievement, bool) {
	if id == "" || data == nil {
		return Achievement{}, false
	}
	title := asString(data["title"])
	if title == "" {
		return Achievement{}, false
	}
	a := Achievement{
		ID:          id,
		Title:       title,
		Description: asString(data["description"]),
		Emoji:       asString(data["emoji"]),
	}
	if t := asTime(data["unlockedAt"]); !t.IsZero() {
		a.UnlockedAt = &t
	}
	return a, true
}
