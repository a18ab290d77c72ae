package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/notify"
)

// inbound decodes one server event and returns the toast it raises, if any.
type inbound func(data json.RawMessage) (payload any, toast *notify.Toast, err error)

var inboundHandlers = map[string]inbound{
	model.EventLeaderboardUpdate: typed(func(model.LeaderboardUpdate) *notify.Toast {
		return nil
	}),
	model.EventPointsUpdate: typed(func(p model.PointsUpdate) *notify.Toast {
		if p.PointsGained <= 0 {
			return nil
		}
		return toast(notify.Success(fmt.Sprintf("+%s points earned! 🎉", p.PointsGained)))
	}),
	model.EventBadgeUnlocked: typed(func(b model.Badge) *notify.Toast {
		return toast(notify.Success(fmt.Sprintf("🏆 Badge Unlocked: %s!", b.Name)))
	}),
	model.EventStreakUpdate: typed(func(s model.StreakUpdate) *notify.Toast {
		if s.StreakMilestone == 0 {
			return nil
		}
		return toast(notify.Success(fmt.Sprintf("🔥 %s Day Streak!", s.StreakMilestone)))
	}),
	model.EventNotification: typed(notificationToast),
	model.EventCompetitionAnnouncement: typed(func(a model.CompetitionAnnouncement) *notify.Toast {
		return toast(notify.New(notify.KindBlank, a.Message, "🏆"))
	}),
	model.EventQuizSessionUpdate: raw,
	model.EventCourseEnrollment:  raw,
}

func typed[T any](fn func(T) *notify.Toast) inbound {
	return func(data json.RawMessage) (any, *notify.Toast, error) {
		var v T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, nil, err
			}
		}
		return v, fn(v), nil
	}
}

func raw(data json.RawMessage) (any, *notify.Toast, error) {
	return model.RawPayload(data), nil, nil
}

func notificationToast(n model.Notification) *notify.Toast {
	switch n.Type {
	case model.NotificationSuccess:
		return toast(notify.Success(n.Message))
	case model.NotificationError:
		return toast(notify.Error(n.Message))
	case model.NotificationWarning:
		return toast(notify.New(notify.KindBlank, n.Message, "⚠️"))
	default:
		// info and anything unrecognized
		return toast(notify.Blank(n.Message))
	}
}

func toast(t notify.Toast) *notify.Toast {
	return &t
}

// dispatch rebroadcasts an inbound event on the bus, then raises its toast.
func (c *Client) dispatch(name string, data json.RawMessage) {
	h, ok := inboundHandlers[name]
	if !ok {
		c.logger.Debug().Str("event", name).Msg("unknown event dropped")
		return
	}
	payload, t, err := h(data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", name).Msg("failed to decode event payload")
		return
	}
	c.metrics.IncInbound(name)
	c.publish(name, payload)
	if t != nil {
		c.notifier.Notify(*t)
	}
}
