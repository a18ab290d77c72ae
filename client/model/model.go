package model

import (
	"encoding/json"
	"time"
)

// Events sent by server.
const (
	EventLeaderboardUpdate       = "leaderboard-update"
	EventPointsUpdate            = "points-update"
	EventBadgeUnlocked           = "badge-unlocked"
	EventStreakUpdate            = "streak-update"
	EventNotification            = "notification"
	EventCompetitionAnnouncement = "competition-announcement"
	EventQuizSessionUpdate       = "quiz-session-update"
	EventCourseEnrollment        = "course-enrollment"
)

// Events sent by client.
const (
	EventJoinCourse       = "join-course"
	EventLeaveCourse      = "leave-course"
	EventJoinLeaderboard  = "join-leaderboard"
	EventLeaveLeaderboard = "leave-leaderboard"
	EventQuizAnswer       = "quiz-answer"
	EventStartQuiz        = "start-quiz"
	EventLessonCompleted  = "lesson-completed"
	EventHeartbeat        = "heartbeat"
	EventUserActivity     = "user-activity"
)

// Local signals that have no wire counterpart.
const (
	SignalConnected    = "websocket-connected"
	SignalDisconnected = "websocket-disconnected"
)

// Disconnected is the payload of SignalDisconnected.
type Disconnected struct {
	Reason string `json:"reason"`
}

// Notification types.
const (
	NotificationSuccess = "success"
	NotificationInfo    = "info"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Badge rarities.
const (
	RarityCommon    = "Common"
	RarityRare      = "Rare"
	RarityEpic      = "Epic"
	RarityLegendary = "Legendary"
)

// Event is what travels over the local bus.
type Event struct {
	Name       string    `json:"name"`
	Payload    any       `json:"payload,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

type LeaderboardEntry struct {
	Rank             Number `json:"rank"`
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
	Avatar           string `json:"avatar,omitempty"`
	Points           Number `json:"points"`
	CourseID         string `json:"courseId"`
	CompletedLessons Number `json:"completedLessons"`
	AvgQuizScore     Number `json:"avgQuizScore"`
}

type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	UnlockedAt  Time   `json:"unlockedAt"`
	Rarity      string `json:"rarity"`
}

type LeaderboardUpdate struct {
	CourseID    string             `json:"courseId"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type PointsUpdate struct {
	PointsGained Number `json:"pointsGained"`
	NewTotal     Number `json:"newTotal"`
}

type StreakUpdate struct {
	NewStreak       Number `json:"newStreak"`
	StreakMilestone Number `json:"streakMilestone,omitempty"`
}

type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type CompetitionAnnouncement struct {
	Message string `json:"message"`
}

// RawPayload is used for server events that have no fixed shape yet.
type RawPayload = json.RawMessage

type CourseRoom struct {
	CourseID string `json:"courseId"`
	UserID   string `json:"userId"`
}

type LeaderboardRoom struct {
	UserID string `json:"userId"`
}

type QuizAnswer struct {
	CourseID   string `json:"courseId"`
	QuizID     string `json:"quizId"`
	QuestionID string `json:"questionId"`
	Answer     int    `json:"answer"`
	TimeSpent  int    `json:"timeSpent"`
	UserID     string `json:"userId"`
}

type StartQuiz struct {
	CourseID string `json:"courseId"`
	QuizID   string `json:"quizId"`
	UserID   string `json:"userId"`
}

type LessonCompleted struct {
	CourseID  string `json:"courseId"`
	LessonID  string `json:"lessonId"`
	UserID    string `json:"userId"`
	TimeSpent int    `json:"timeSpent"`
}

type Heartbeat struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type UserActivity struct {
	UserID    string `json:"userId"`
	Activity  string `json:"activity"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Room is a server-side group of clients, used by the dev gateway.
type Room struct {
	ID           string                 `json:"room_id"`
	Participants map[string]Participant `json:"participants"`
}

type Participant struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
}

// Millis returns t as unix milliseconds, the timestamp format used on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
