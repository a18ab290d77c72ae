// Package notify models the transient user-facing notifications ("toasts")
// raised by the realtime client.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindBlank   Kind = "blank"
)

type Toast struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(Toast)
}

func New(kind Kind, message, icon string) Toast {
	return Toast{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		Icon:      icon,
		CreatedAt: time.Now(),
	}
}

func Success(message string) Toast { return New(KindSuccess, message, "") }
func Error(message string) Toast   { return New(KindError, message, "") }
func Blank(message string) Toast   { return New(KindBlank, message, "") }

// LogNotifier writes toasts to the structured log. Used by headless
// processes where there is no screen to pop a toast on.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "toast").Logger()}
}

func (n *LogNotifier) Notify(t Toast) {
	ev := n.logger.Info()
	if t.Kind == KindError {
		ev = n.logger.Warn()
	}
	ev.Str("id", t.ID).
		Str("kind", string(t.Kind)).
		Str("icon", t.Icon).
		Msg(t.Message)
}

// Recorder keeps every toast in order.
type Recorder struct {
	mx     sync.Mutex
	toasts []Toast
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(t Toast) {
	r.mx.Lock()
	r.toasts = append(r.toasts, t)
	r.mx.Unlock()
}

func (r *Recorder) Toasts() []Toast {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]Toast, len(r.toasts))
	copy(out, r.toasts)
	return out
}

// Multi fans a toast out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(t Toast) {
	for _, n := range m {
		n.Notify(t)
	}
}
