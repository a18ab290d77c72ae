package realtime

import (
	"context"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/wire"
)

func (c *Client) JoinCourse(courseID, userID string) {
	c.emit(model.EventJoinCourse, model.CourseRoom{CourseID: courseID, UserID: userID})
}

func (c *Client) LeaveCourse(courseID, userID string) {
	c.emit(model.EventLeaveCourse, model.CourseRoom{CourseID: courseID, UserID: userID})
}

func (c *Client) JoinLeaderboard(userID string) {
	c.emit(model.EventJoinLeaderboard, model.LeaderboardRoom{UserID: userID})
}

func (c *Client) LeaveLeaderboard(userID string) {
	c.emit(model.EventLeaveLeaderboard, model.LeaderboardRoom{UserID: userID})
}

func (c *Client) SubmitQuizAnswer(a model.QuizAnswer) {
	c.emit(model.EventQuizAnswer, a)
}

func (c *Client) StartQuiz(q model.StartQuiz) {
	c.emit(model.EventStartQuiz, q)
}

func (c *Client) CompleteLesson(l model.LessonCompleted) {
	c.emit(model.EventLessonCompleted, l)
}

func (c *Client) SendHeartbeat(userID string) {
	c.emit(model.EventHeartbeat, model.Heartbeat{
		UserID:    userID,
		Timestamp: model.Millis(c.now()),
	})
}

func (c *Client) TrackActivity(userID, activity string) {
	c.emit(model.EventUserActivity, model.UserActivity{
		UserID:    userID,
		Activity:  activity,
		Timestamp: model.Millis(c.now()),
	})
}

// emit sends an event if a connected session exists and silently drops it
// otherwise. Callers never see an error.
func (c *Client) emit(name string, payload any) {
	c.mx.RLock()
	s := c.sess
	c.mx.RUnlock()
	if s == nil || !s.connected.Load() {
		c.logger.Trace().Str("event", name).Msg("not connected, event dropped")
		return
	}

	msg, err := wire.EncodeEvent(name, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err = s.conn.Write(ctx, msg); err != nil {
		c.logger.Debug().Err(err).Str("event", name).Msg("failed to send event")
		return
	}
	c.metrics.IncOutbound(name)
}
