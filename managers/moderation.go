package managers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
)

// ModerationManager keeps the current user's blocked-user set and owns the
// blocking and flagging transactions.
type ModerationManager struct {
	*membershipCache
	store   remote.Store
	session auth.Session
}

// NewModeration builds the moderation manager.
func NewModeration(store remote.Store, session auth.Session, logger *log.Logger) *ModerationManager {
	return &ModerationManager{
		membershipCache: newMembershipCache(store, session, logging.For(logger, "moderation"), blockedPath),
		store:           store,
		session:         session,
	}
}

// IsBlocked reports whether the current user has blocked userID.
func (m *ModerationManager) IsBlocked(userID string) bool {
	return m.Contains(userID)
}

// BlockedIDs returns the blocked-user set, sorted.
func (m *ModerationManager) BlockedIDs() []string {
	return m.IDs()
}

// Block inserts the user into the blocked set immediately, then writes the
// record. On success a notice is queued for moderation review
// (fire-and-forget); on failure the local insert is reverted.
func (m *ModerationManager) Block(userID string) {
	uid := m.session.CurrentUserID()
	if uid == "" || userID == "" || userID == uid {
		return
	}
	m.setMember(userID, true)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		err := m.store.Set(ctx, blockedPath(uid)+"/"+userID, map[string]any{
			"userId":    userID,
			"createdAt": m.store.ServerTimestamp(),
		})
		if err != nil {
			m.log.Warn("block write failed, reverting", "user", userID, "err", err)
			m.setMember(userID, false)
			return
		}
		notice := map[string]any{
			"type":         "block",
			"reporterId":   uid,
			"targetUserId": userID,
			"createdAt":    m.store.ServerTimestamp(),
		}
		if err := m.store.Set(ctx, "moderationQueue/"+uuid.NewString(), notice); err != nil {
			m.log.Warn("moderation notice failed", "user", userID, "err", err)
		}
	}()
}

// Unblock removes the user from the blocked set immediately, reverting on
// write failure.
func (m *ModerationManager) Unblock(userID string) {
	uid := m.session.CurrentUserID()
	if uid == "" || userID == "" {
		return
	}
	m.setMember(userID, false)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := m.store.Delete(ctx, blockedPath(uid)+"/"+userID); err != nil {
			m.log.Warn("unblock write failed, reverting", "user", userID, "err", err)
			m.setMember(userID, true)
		}
	}()
}

// FilterBlocked returns the items whose author is not in the blocked set.
// Order-preserving, O(n) with O(1) membership checks, no I/O.
func FilterBlocked[T any](m *ModerationManager, items []T, authorID func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !m.IsBlocked(authorID(item)) {
			out = append(out, item)
		}
	}
	return out
}

// FlagItinerary files a flag carrying a snapshot of the itinerary's author
// and title as they are at flag time, not a live reference.
func (m *ModerationManager) FlagItinerary(ctx context.Context, itineraryID, reason string) error {
	uid := m.session.CurrentUserID()
	if uid == "" {
		return ErrNotAuthenticated
	}
	doc, err := m.store.Get(ctx, itineraryPath(itineraryID))
	if err != nil {
		return fmt.Errorf("failed to read flag target: %w", err)
	}
	flag := map[string]any{
		"targetType": "itinerary",
		"targetId":   itineraryID,
		"reason":     reason,
		"reporterId": uid,
		"createdAt":  m.store.ServerTimestamp(),
	}
	addAuthorSnapshot(flag, doc.Data)
	if title, _ := doc.Data["title"].(string); title != "" {
		flag["contentTitle"] = title
	}
	return m.store.Set(ctx, "flaggedContent/"+uuid.NewString(), flag)
}

// FlagComment files a flag carrying a snapshot of the comment's author and
// content at flag time.
func (m *ModerationManager) FlagComment(ctx context.Context, itineraryID, commentID, reason string) error {
	uid := m.session.CurrentUserID()
	if uid == "" {
		return ErrNotAuthenticated
	}
	doc, err := m.store.Get(ctx, commentsPath(itineraryID)+"/"+commentID)
	if err != nil {
		return fmt.Errorf("failed to read flag target: %w", err)
	}
	flag := map[string]any{
		"targetType":  "comment",
		"targetId":    commentID,
		"itineraryId": itineraryID,
		"reason":      reason,
		"reporterId":  uid,
		"createdAt":   m.store.ServerTimestamp(),
	}
	addAuthorSnapshot(flag, doc.Data)
	if content, _ := doc.Data["content"].(string); content != "" {
		flag["contentSnippet"] = content
	}
	return m.store.Set(ctx, "flaggedContent/"+uuid.NewString(), flag)
}

func addAuthorSnapshot(flag map[string]any, data map[string]any) {
	author, ok := data["author"].(map[string]any)
	if !ok {
		return
	}
	if id, _ := author["id"].(string); id != "" {
		flag["authorId"] = id
	}
	if name, _ := author["name"].(string); name != "" {
		flag["authorName"] = name
	}
}
