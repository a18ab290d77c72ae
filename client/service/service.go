package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/realtime"
	store "github.com/edurace/realtime/client/storage/memory"
	sw "github.com/edurace/realtime/client/switch"
	"github.com/rs/zerolog"
)

var (
	ErrNoUser     = errors.New("user id is not set")
	ErrBadRequest = errors.New("bad request")
)

type (
	Store interface {
		SetUser(userID string)
		UpdateUserPoints(total model.Number)
		AddBadge(badge model.Badge) bool
		SetStreak(streak model.Number)
		SetLeaderboard(courseID string, entries []model.LeaderboardEntry)
		GetLeaderboard(courseID string) ([]model.LeaderboardEntry, error)
		AddNotification(n model.Notification, at time.Time) string
		RemoveNotification(id string) error
		SetConnected(connected bool)
		Snapshot() store.State
	}

	Bus interface {
		Connect(name string, h sw.Handler) string
		Disconnect(id string)
	}

	Service struct {
		client    realtime.Service
		store     Store
		bus       Bus
		logger    zerolog.Logger
		userID    string
		heartbeat time.Duration
		subs      []string
	}

	Config struct {
		Client            realtime.Service
		Store             Store
		Bus               Bus
		Logger            *zerolog.Logger
		UserID            string
		HeartbeatInterval time.Duration
	}
)

func NewService(cfg Config) *Service {
	svc := &Service{
		client:    cfg.Client,
		store:     cfg.Store,
		bus:       cfg.Bus,
		logger:    cfg.Logger.With().Str("component", "service").Logger(),
		userID:    cfg.UserID,
		heartbeat: cfg.HeartbeatInterval,
	}
	svc.store.SetUser(cfg.UserID)
	svc.bind()
	return svc
}

// bind feeds the store from bus events.
func (svc *Service) bind() {
	on := func(name string, h sw.Handler) {
		svc.subs = append(svc.subs, svc.bus.Connect(name, h))
	}

	on(model.SignalConnected, func(model.Event) {
		svc.store.SetConnected(true)
	})
	on(model.SignalDisconnected, func(model.Event) {
		svc.store.SetConnected(false)
	})
	on(model.EventPointsUpdate, func(ev model.Event) {
		if p, ok := ev.Payload.(model.PointsUpdate); ok {
			svc.store.UpdateUserPoints(p.NewTotal)
		}
	})
	on(model.EventBadgeUnlocked, func(ev model.Event) {
		if b, ok := ev.Payload.(model.Badge); ok && svc.store.AddBadge(b) {
			svc.logger.Debug().Str("badge", b.Name).Msg("badge stored")
		}
	})
	on(model.EventStreakUpdate, func(ev model.Event) {
		if s, ok := ev.Payload.(model.StreakUpdate); ok {
			svc.store.SetStreak(s.NewStreak)
		}
	})
	on(model.EventLeaderboardUpdate, func(ev model.Event) {
		if u, ok := ev.Payload.(model.LeaderboardUpdate); ok {
			svc.store.SetLeaderboard(u.CourseID, u.Leaderboard)
		}
	})
	on(model.EventNotification, func(ev model.Event) {
		if n, ok := ev.Payload.(model.Notification); ok {
			svc.store.AddNotification(n, ev.ReceivedAt)
		}
	})
}

// Close unsubscribes the store from the bus.
func (svc *Service) Close() {
	for _, id := range svc.subs {
		svc.bus.Disconnect(id)
	}
	svc.subs = nil
}

// user returns userID, or the configured user when it is empty.
func (svc *Service) user(userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if svc.userID == "" {
		return "", ErrNoUser
	}
	return svc.userID, nil
}

func (svc *Service) JoinCourse(courseID, userID string) error {
	uid, err := svc.user(userID)
	if err != nil {
		return err
	}
	if courseID == "" {
		return errors.Join(ErrBadRequest, errors.New("course id is empty"))
	}
	svc.client.JoinCourse(courseID, uid)
	svc.logger.Debug().Str("courseID", courseID).Str("userID", uid).Msg("join course requested")
	return nil
}

func (svc *Service) LeaveCourse(courseID, userID string) error {
	uid, err := svc.user(userID)
	if err != nil {
		return err
	}
	if courseID == "" {
		return errors.Join(ErrBadRequest, errors.New("course id is empty"))
	}
	svc.client.LeaveCourse(courseID, uid)
	return nil
}

func (svc *Service) JoinLeaderboard(userID string) error {
	uid, err := svc.user(userID)
	if err != nil {
		return err
	}
	svc.client.JoinLeaderboard(uid)
	return nil
}

func (svc *Service) LeaveLeaderboard(userID string) error {
	uid, err := svc.user(userID)
	if err != nil {
		return err
	}
	svc.client.LeaveLeaderboard(uid)
	return nil
}

func (svc *Service) SubmitQuizAnswer(a model.QuizAnswer) error {
	uid, err := svc.user(a.UserID)
	if err != nil {
		return err
	}
	if a.CourseID == "" || a.QuizID == "" || a.QuestionID == "" {
		return errors.Join(ErrBadRequest, errors.New("course, quiz and question ids are required"))
	}
	a.UserID = uid
	svc.client.SubmitQuizAnswer(a)
	return nil
}

func (svc *Service) StartQuiz(q model.StartQuiz) error {
	uid, err := svc.user(q.UserID)
	if err != nil {
		return err
	}
	if q.CourseID == "" || q.QuizID == "" {
		return errors.Join(ErrBadRequest, errors.New("course and quiz ids are required"))
	}
	q.UserID = uid
	svc.client.StartQuiz(q)
	return nil
}

func (svc *Service) CompleteLesson(l model.LessonCompleted) error {
	uid, err := svc.user(l.UserID)
	if err != nil {
		return err
	}
	if l.CourseID == "" || l.LessonID == "" {
		return errors.Join(ErrBadRequest, errors.New("course and lesson ids are required"))
	}
	l.UserID = uid
	svc.client.CompleteLesson(l)
	return nil
}

func (svc *Service) TrackActivity(userID, activity string) error {
	uid, err := svc.user(userID)
	if err != nil {
		return err
	}
	if activity == "" {
		return errors.Join(ErrBadRequest, errors.New("activity is empty"))
	}
	svc.client.TrackActivity(uid, activity)
	return nil
}

func (svc *Service) Status() realtime.Status {
	return svc.client.Status()
}

func (svc *Service) State() store.State {
	return svc.store.Snapshot()
}

func (svc *Service) Leaderboard(courseID string) ([]model.LeaderboardEntry, error) {
	return svc.store.GetLeaderboard(courseID)
}

func (svc *Service) DismissNotification(id string) error {
	return svc.store.RemoveNotification(id)
}

// Run sends heartbeats for the configured user until ctx is done.
// It does nothing when there is no user or the interval is zero.
func (svc *Service) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		svc.logger.Debug().Msg("heartbeat stopped")
		wg.Done()
	}()
	if svc.userID == "" || svc.heartbeat <= 0 {
		return
	}

	ticker := time.NewTicker(svc.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if svc.client.IsConnected() {
				svc.client.SendHeartbeat(svc.userID)
			}
		}
	}
}
