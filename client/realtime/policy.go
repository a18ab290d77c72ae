package realtime

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = time.Second
)

// ReconnectPolicy bounds automatic reconnection: attempt n waits
// BaseDelay * 2^(n-1), and no attempt is made past MaxAttempts.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: defaultMaxReconnectAttempts,
		BaseDelay:   defaultReconnectDelay,
	}
}

// policy is the stateful side of ReconnectPolicy, owned by the client loop.
type policy struct {
	cfg      ReconnectPolicy
	attempts int
	backoff  retry.Backoff
}

func newPolicy(cfg ReconnectPolicy) *policy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultReconnectDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	p := &policy{cfg: cfg}
	p.reset()
	return p
}

// next reserves the next attempt. ok is false once MaxAttempts is used up.
func (p *policy) next() (attempt int, delay time.Duration, ok bool) {
	delay, stop := p.backoff.Next()
	if stop {
		return p.attempts, 0, false
	}
	p.attempts++
	return p.attempts, delay, true
}

func (p *policy) reset() {
	p.attempts = 0
	p.backoff = retry.WithMaxRetries(uint64(p.cfg.MaxAttempts), retry.NewExponential(p.cfg.BaseDelay))
}
