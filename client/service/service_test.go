package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/realtime"
	store "github.com/edurace/realtime/client/storage/memory"
	sw "github.com/edurace/realtime/client/switch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	realtime.Inert

	mx         sync.Mutex
	connected  bool
	calls      []string
	heartbeats int
}

func (f *fakeClient) record(call string) {
	f.mx.Lock()
	f.calls = append(f.calls, call)
	f.mx.Unlock()
}

func (f *fakeClient) Calls() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) IsConnected() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.connected
}

func (f *fakeClient) JoinCourse(courseID, userID string) {
	f.record("join-course " + courseID + " " + userID)
}

func (f *fakeClient) JoinLeaderboard(userID string) {
	f.record("join-leaderboard " + userID)
}

func (f *fakeClient) SubmitQuizAnswer(a model.QuizAnswer) {
	f.record("quiz-answer " + a.QuizID + " " + a.UserID)
}

func (f *fakeClient) SendHeartbeat(userID string) {
	f.mx.Lock()
	f.heartbeats++
	f.mx.Unlock()
}

func (f *fakeClient) Heartbeats() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.heartbeats
}

func newTestService(t *testing.T, userID string) (*Service, *sw.Switch, *fakeClient) {
	t.Helper()
	logger := zerolog.Nop()
	bus := sw.NewSwitch(&logger)
	client := &fakeClient{}
	svc := NewService(Config{
		Client:            client,
		Store:             store.NewMemStore(),
		Bus:               bus,
		Logger:            &logger,
		UserID:            userID,
		HeartbeatInterval: 10 * time.Millisecond,
	})
	t.Cleanup(svc.Close)
	return svc, bus, client
}

func TestService_StoreFedFromBus(t *testing.T) {
	svc, bus, _ := newTestService(t, "u1")
	now := time.Now()

	bus.Broadcast(model.Event{Name: model.SignalConnected})
	bus.Broadcast(model.Event{Name: model.EventPointsUpdate, Payload: model.PointsUpdate{PointsGained: 50, NewTotal: 1300}})
	bus.Broadcast(model.Event{Name: model.EventBadgeUnlocked, Payload: model.Badge{ID: "b1", Name: "Week Warrior"}})
	bus.Broadcast(model.Event{Name: model.EventStreakUpdate, Payload: model.StreakUpdate{NewStreak: 4}})
	bus.Broadcast(model.Event{Name: model.EventLeaderboardUpdate, Payload: model.LeaderboardUpdate{
		CourseID:    "c1",
		Leaderboard: []model.LeaderboardEntry{{Rank: 1, UserID: "u2", Points: 2000}},
	}})
	bus.Broadcast(model.Event{
		Name:       model.EventNotification,
		Payload:    model.Notification{Type: "info", Message: "hello"},
		ReceivedAt: now,
	})

	st := svc.State()
	assert.Equal(t, "u1", st.UserID)
	assert.True(t, st.Connected)
	assert.Equal(t, model.Number(1300), st.Points)
	require.Len(t, st.Badges, 1)
	assert.Equal(t, "Week Warrior", st.Badges[0].Name)
	assert.Equal(t, model.Number(4), st.Streak)
	require.Len(t, st.Notifications, 1)
	assert.Equal(t, now, st.Notifications[0].ReceivedAt)

	lb, err := svc.Leaderboard("c1")
	require.NoError(t, err)
	assert.Equal(t, "u2", lb[0].UserID)

	require.NoError(t, svc.DismissNotification(st.Notifications[0].ID))
	assert.Empty(t, svc.State().Notifications)

	bus.Broadcast(model.Event{Name: model.SignalDisconnected, Payload: model.Disconnected{Reason: "transport close"}})
	assert.False(t, svc.State().Connected)
}

func TestService_Close(t *testing.T) {
	svc, bus, _ := newTestService(t, "u1")
	svc.Close()

	bus.Broadcast(model.Event{Name: model.EventPointsUpdate, Payload: model.PointsUpdate{NewTotal: 10}})
	assert.Zero(t, svc.State().Points)
}

func TestService_UserDefaulting(t *testing.T) {
	svc, _, client := newTestService(t, "u1")

	require.NoError(t, svc.JoinCourse("c1", ""))
	require.NoError(t, svc.JoinCourse("c2", "u9"))
	require.NoError(t, svc.JoinLeaderboard(""))
	require.NoError(t, svc.SubmitQuizAnswer(model.QuizAnswer{CourseID: "c1", QuizID: "q1", QuestionID: "x"}))

	assert.Equal(t, []string{
		"join-course c1 u1",
		"join-course c2 u9",
		"join-leaderboard u1",
		"quiz-answer q1 u1",
	}, client.Calls())
}

func TestService_Validation(t *testing.T) {
	svc, _, client := newTestService(t, "")

	assert.ErrorIs(t, svc.JoinLeaderboard(""), ErrNoUser)
	assert.ErrorIs(t, svc.JoinCourse("", "u1"), ErrBadRequest)
	assert.ErrorIs(t, svc.StartQuiz(model.StartQuiz{CourseID: "c1", UserID: "u1"}), ErrBadRequest)
	assert.ErrorIs(t, svc.CompleteLesson(model.LessonCompleted{LessonID: "l1", UserID: "u1"}), ErrBadRequest)
	assert.ErrorIs(t, svc.TrackActivity("u1", ""), ErrBadRequest)
	assert.Empty(t, client.Calls())
}

func TestService_Heartbeat(t *testing.T) {
	svc, _, client := newTestService(t, "u1")
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go svc.Run(ctx, wg)

	time.Sleep(35 * time.Millisecond)
	assert.Zero(t, client.Heartbeats())

	client.mx.Lock()
	client.connected = true
	client.mx.Unlock()

	require.Eventually(t, func() bool { return client.Heartbeats() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestService_HeartbeatDisabledWithoutUser(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	wg := &sync.WaitGroup{}
	wg.Add(1)

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background(), wg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not return")
	}
}
