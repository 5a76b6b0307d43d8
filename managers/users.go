package managers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/triptuner/triptuner-go/auth"
	"github.com/triptuner/triptuner-go/models"
	"github.com/triptuner/triptuner-go/pkg/handle"
	"github.com/triptuner/triptuner-go/pkg/logging"
	"github.com/triptuner/triptuner-go/remote"
)

// pendingReservationTTL is how long a pending handle reservation blocks the
// handle before it is considered abandoned.
const pendingReservationTTL = 10 * time.Minute

// UsersManager covers the user directory: profile reads for the author
// merge and leaderboard, account creation with the two-phase unique-handle
// reservation, and points/streak/achievement updates.
type UsersManager struct {
	store   remote.Store
	session auth.Session
	log     *log.Logger
	now     func() time.Time
}

// NewUsers builds the user directory manager.
func NewUsers(store remote.Store, session auth.Session, logger *log.Logger) *UsersManager {
	return &UsersManager{
		store:   store,
		session: session,
		log:     logging.For(logger, "users"),
		now:     time.Now,
	}
}

// Directory returns every user record; malformed records are skipped.
func (m *UsersManager) Directory(ctx context.Context) ([]models.User, error) {
	docs, err := m.store.GetAll(ctx, "users", remote.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}
	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		u, ok := models.ParseUser(d.ID, d.Data)
		if !ok {
			m.log.Debug("skipping malformed user record", "id", d.ID)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Get reads one user record.
func (m *UsersManager) Get(ctx context.Context, uid string) (models.User, error) {
	doc, err := m.store.Get(ctx, userPath(uid))
	if err != nil {
		return models.User{}, err
	}
	u, ok := models.ParseUser(doc.ID, doc.Data)
	if !ok {
		return models.User{}, fmt.Errorf("malformed user record: %s", uid)
	}
	return u, nil
}

// FetchProfilePicture reads a user's current profile picture URL.
func (m *UsersManager) FetchProfilePicture(ctx context.Context, uid string) (string, error) {
	doc, err := m.store.Get(ctx, userPath(uid))
	if err != nil {
		return "", err
	}
	url, _ := doc.Data["profileImageUrl"].(string)
	return url, nil
}

// CreateUser writes a new account using the two-phase handle reservation:
// the registry entry is written as pending, the user record is written, and
// the reservation is finalized to active. If the user write fails the
// pending reservation is cleaned up so the handle frees again.
func (m *UsersManager) CreateUser(ctx context.Context, u models.User) error {
	if err := handle.Validate(u.Handle); err != nil {
		return err
	}
	norm := handle.Normalize(u.Handle)
	registry := "handles/" + norm

	existing, err := m.store.Get(ctx, registry)
	switch {
	case err == nil:
		status, _ := existing.Data["status"].(string)
		if status == "active" {
			return ErrHandleTaken
		}
		if status == "pending" && !m.reservationExpired(existing.Data) {
			return ErrHandleTaken
		}
	case errors.Is(err, remote.ErrNotFound):
		// free
	default:
		return fmt.Errorf("failed to check handle registry: %w", err)
	}

	err = m.store.Set(ctx, registry, map[string]any{
		"status":     "pending",
		"userId":     u.ID,
		"reservedAt": m.store.ServerTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("failed to reserve handle: %w", err)
	}

	if err := m.store.Set(ctx, userPath(u.ID), marshalUser(u)); err != nil {
		if derr := m.store.Delete(ctx, registry); derr != nil {
			m.log.Warn("failed to release handle reservation", "handle", norm, "err", derr)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return m.store.Update(ctx, registry, map[string]any{"status": "active"})
}

// IsHandleAvailable reports whether the handle is free to register.
func (m *UsersManager) IsHandleAvailable(ctx context.Context, h string) (bool, error) {
	doc, err := m.store.Get(ctx, "handles/"+handle.Normalize(h))
	if errors.Is(err, remote.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	status, _ := doc.Data["status"].(string)
	if status == "pending" && m.reservationExpired(doc.Data) {
		return true, nil
	}
	return false, nil
}

func (m *UsersManager) reservationExpired(data map[string]any) bool {
	reservedAt, ok := data["reservedAt"].(time.Time)
	if !ok {
		return true
	}
	return m.now().Sub(reservedAt) > pendingReservationTTL
}

// UpdateProfilePicture rewrites the user's profile picture URL.
func (m *UsersManager) UpdateProfilePicture(ctx context.Context, uid, url string) error {
	return m.store.Update(ctx, userPath(uid), map[string]any{"profileImageUrl": url})
}

// AddPoints atomically adds delta to the user's point total.
func (m *UsersManager) AddPoints(ctx context.Context, uid string, delta int64) error {
	return m.store.Increment(ctx, userPath(uid), "points", delta)
}

// BumpStreak atomically extends the user's streak by one day.
func (m *UsersManager) BumpStreak(ctx context.Context, uid string) error {
	return m.store.Increment(ctx, userPath(uid), "streak", 1)
}

// UnlockAchievement records the achievement with a server-assigned unlock
// time; the timestamp's presence is the unlock predicate.
func (m *UsersManager) UnlockAchievement(ctx context.Context, uid string, a models.Achievement) error {
	return m.store.Set(ctx, userPath(uid)+"/achievements/"+a.ID, map[string]any{
		"title":       a.Title,
		"description": a.Description,
		"emoji":       a.Emoji,
		"unlockedAt":  m.store.ServerTimestamp(),
	})
}

// Achievements reads the user's achievement records.
func (m *UsersManager) Achievements(ctx context.Context, uid string) ([]models.Achievement, error) {
	docs, err := m.store.GetAll(ctx, userPath(uid)+"/achievements", remote.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]models.Achievement, 0, len(docs))
	for _, d := range docs {
		if a, ok := models.ParseAchievement(d.ID, d.Data); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func marshalUser(u models.User) map[string]any {
	return map[string]any{
		"name":            u.Name,
		"handle":          u.Handle,
		"email":           u.Email,
		"profileImageUrl": u.ProfileImageURL,
		"year":            u.Year,
		"streak":          u.Streak,
		"points":          u.Points,
	}
}
