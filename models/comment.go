package models

import "time"

// VoteState is the current user's vote on a comment. The three states are
// mutually exclusive.
type VoteState int

const (
	VoteNone VoteState = iota
	VoteUp
	VoteDown
)

// Contribution is the signed amount a vote adds to a comment's score.
func (v VoteState) Contribution() int {
	switch v {
	case VoteUp:
		return 1
	case VoteDown:
		return -1
	default:
		return 0
	}
}

// VoteStateFromContribution maps a stored vote value back to a state.
func VoteStateFromContribution(n int) VoteState {
	switch {
	case n > 0:
		return VoteUp
	case n < 0:
		return VoteDown
	default:
		return VoteNone
	}
}

// Comment belongs to one itinerary. Score is authoritative only from the
// remote store; IsLiked/IsDisliked reflect the current user's own vote and
// are session-local.
type Comment struct {
	ID          string
	ItineraryID string
	Author      UserRef
	Content     string
	Score       int
	CreatedAt   time.Time

	IsLiked    bool
	IsDisliked bool
}

// ApplyVote sets the session-local vote flags from a vote state.
func (c *Comment) ApplyVote(v VoteState) {
	c.IsLiked = v == VoteUp
	c.IsDisliked = v == VoteDown
}

// ParseComment builds a Comment from a raw remote record; false means the
// record is malformed and should be skipped.
func ParseComment(id, itineraryID string, data map[string]any) (Comment, bool) {
	if id == "" || data == nil {
		return Comment{}, false
	}
	author := parseUserRef(data["author"])
	content := asString(data["content"])
	if author.ID == "" || content == "" {
		return Comment{}, false
	}
	return Comment{
		ID:          id,
		ItineraryID: itineraryID,
		Author:      author,
		Content:     content,
		Score:       asInt(data["score"]),
		CreatedAt:   asTime(data["createdAt"]),
	}, true
}
