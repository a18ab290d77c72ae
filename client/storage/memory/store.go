package memory

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/google/uuid"
)

const (
	defaultMaxNotifications = 50
)

var (
	ErrNotificationNotFound = errors.New("notification is not found")
	ErrLeaderboardNotFound  = errors.New("leaderboard is not found")
)

type (
	StoredNotification struct {
		ID         string    `json:"id"`
		Type       string    `json:"type"`
		Message    string    `json:"message"`
		ReceivedAt time.Time `json:"received_at"`
	}

	// State is a copy of everything the store knows, safe to hand out.
	State struct {
		UserID        string                              `json:"user_id"`
		Points        model.Number                        `json:"points"`
		Badges        []model.Badge                       `json:"badges"`
		Streak        model.Number                        `json:"streak"`
		Leaderboards  map[string][]model.LeaderboardEntry `json:"leaderboards"`
		Notifications []StoredNotification                `json:"notifications"`
		Connected     bool                                `json:"connected"`
	}

	// MemStore keeps the client-side view of the user's game state, fed by
	// realtime events.
	MemStore struct {
		mx               *sync.Mutex
		userID           string
		points           model.Number
		badges           []model.Badge
		streak           model.Number
		leaderboards     map[string][]model.LeaderboardEntry
		notifications    []StoredNotification
		connected        bool
		maxNotifications int
	}
)

func NewMemStore() *MemStore {
	return &MemStore{
		mx:               &sync.Mutex{},
		leaderboards:     make(map[string][]model.LeaderboardEntry),
		maxNotifications: defaultMaxNotifications,
	}
}

func (ms *MemStore) SetUser(userID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.userID = userID
}

// UpdateUserPoints sets the authoritative total sent by the server.
func (ms *MemStore) UpdateUserPoints(total model.Number) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.points = total
}

// AddBadge stores a badge once; a repeated unlock of the same id is ignored.
func (ms *MemStore) AddBadge(badge model.Badge) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if slices.ContainsFunc(ms.badges, func(b model.Badge) bool { return b.ID == badge.ID }) {
		return false
	}
	ms.badges = append(ms.badges, badge)
	return true
}

func (ms *MemStore) SetStreak(streak model.Number) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.streak = streak
}

func (ms *MemStore) SetLeaderboard(courseID string, entries []model.LeaderboardEntry) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.leaderboards[courseID] = slices.Clone(entries)
}

func (ms *MemStore) GetLeaderboard(courseID string) ([]model.LeaderboardEntry, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	entries, ok := ms.leaderboards[courseID]
	if !ok {
		return nil, ErrLeaderboardNotFound
	}
	return slices.Clone(entries), nil
}

// AddNotification prepends n and returns its id. Only the newest
// notifications are kept.
func (ms *MemStore) AddNotification(n model.Notification, at time.Time) string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	stored := StoredNotification{
		ID:         uuid.NewString(),
		Type:       n.Type,
		Message:    n.Message,
		ReceivedAt: at,
	}
	ms.notifications = append([]StoredNotification{stored}, ms.notifications...)
	if len(ms.notifications) > ms.maxNotifications {
		ms.notifications = ms.notifications[:ms.maxNotifications]
	}
	return stored.ID
}

func (ms *MemStore) RemoveNotification(id string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	idx := slices.IndexFunc(ms.notifications, func(n StoredNotification) bool { return n.ID == id })
	if idx < 0 {
		return ErrNotificationNotFound
	}
	ms.notifications = slices.Delete(ms.notifications, idx, idx+1)
	return nil
}

func (ms *MemStore) SetConnected(connected bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.connected = connected
}

func (ms *MemStore) Snapshot() State {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	lbs := make(map[string][]model.LeaderboardEntry, len(ms.leaderboards))
	for id, entries := range ms.leaderboards {
		lbs[id] = slices.Clone(entries)
	}
	return State{
		UserID:        ms.userID,
		Points:        ms.points,
		Badges:        slices.Clone(ms.badges),
		Streak:        ms.streak,
		Leaderboards:  lbs,
		Notifications: slices.Clone(ms.notifications),
		Connected:     ms.connected,
	}
}
