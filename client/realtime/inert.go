package realtime

import (
	"context"

	"github.com/edurace/realtime/client/model"
)

// Service is the operation surface shared by the live and the inert client.
type Service interface {
	Start(ctx context.Context)
	Disconnect()
	IsConnected() bool
	Status() Status

	JoinCourse(courseID, userID string)
	LeaveCourse(courseID, userID string)
	JoinLeaderboard(userID string)
	LeaveLeaderboard(userID string)
	SubmitQuizAnswer(model.QuizAnswer)
	StartQuiz(model.StartQuiz)
	CompleteLesson(model.LessonCompleted)
	SendHeartbeat(userID string)
	TrackActivity(userID, activity string)
}

var (
	_ Service = (*Client)(nil)
	_ Service = Inert{}
)

// Inert never connects. It is used when realtime features are switched off.
type Inert struct{}

func (Inert) Start(context.Context) {}
func (Inert) Disconnect()           {}
func (Inert) IsConnected() bool     { return false }

func (Inert) Status() Status {
	return Status{State: StateIdle.String()}
}

func (Inert) JoinCourse(string, string)            {}
func (Inert) LeaveCourse(string, string)           {}
func (Inert) JoinLeaderboard(string)               {}
func (Inert) LeaveLeaderboard(string)              {}
func (Inert) SubmitQuizAnswer(model.QuizAnswer)    {}
func (Inert) StartQuiz(model.StartQuiz)            {}
func (Inert) CompleteLesson(model.LessonCompleted) {}
func (Inert) SendHeartbeat(string)                 {}
func (Inert) TrackActivity(string, string)         {}
