// Package follow polls the channel follower list and publishes a follow
// event for every new follower.
package follow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/telemetry"
	"github.com/senepa/Firebot/twitchapi"
)

// Lister returns the newest followers first.
type Lister interface {
	GetChannelFollowers(ctx context.Context, first int) ([]twitchapi.Follower, error)
}

// Poller remembers the newest follower it has seen and reports everyone
// newer on the next poll.
type Poller struct {
	lister   Lister
	bus      events.Publisher
	logger   *slog.Logger
	interval time.Duration
	// ready gates polling, typically on the streamer connection.
	ready func() bool
	now   func() time.Time

	mu      sync.Mutex
	started time.Time
	lastID  string
}

// Option configures a Poller.
type Option func(*Poller)

// WithReady skips polls while ready reports false.
func WithReady(ready func() bool) Option { return func(p *Poller) { p.ready = ready } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// NewPoller polls every interval (10s when zero).
func NewPoller(l Lister, bus events.Publisher, logger *slog.Logger, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if bus == nil {
		bus = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		lister:   l,
		bus:      bus,
		logger:   logger.With("component", "follow_poll"),
		interval: interval,
		ready:    func() bool { return true },
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is cancelled. Follows older than the start of Run are
// never reported.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	p.started = p.now()
	p.lastID = ""
	p.mu.Unlock()

	t := time.NewTicker(p.interval)
	defer t.Stop()
	p.logger.Info("follow poll started", slog.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("follow poll stopped")
			return
		case <-t.C:
			if !p.ready() {
				continue
			}
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Warn("follow poll failed", slog.Any("err", err))
			}
		}
	}
}

// Poll fetches one page and returns the new followers, newest first. The
// first successful poll only records the newest follower.
func (p *Poller) Poll(ctx context.Context) ([]twitchapi.Follower, error) {
	follows, err := p.lister.GetChannelFollowers(ctx, 20)
	if err != nil {
		return nil, err
	}
	if len(follows) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started.IsZero() {
		p.started = p.now()
	}
	if p.lastID == "" {
		p.lastID = follows[0].UserID
		return nil, nil
	}
	var fresh []twitchapi.Follower
	for _, f := range follows {
		if f.FollowedAt.Before(p.started) || f.UserID == p.lastID {
			break
		}
		fresh = append(fresh, f)
	}
	p.lastID = follows[0].UserID

	for _, f := range fresh {
		name := f.UserName
		if name == "" {
			name = f.UserLogin
		}
		p.logger.Info("new follower", slog.String("user", name))
		p.bus.Publish(events.TypeFollow, map[string]string{"username": name, "userId": f.UserID})
	}
	if len(fresh) > 0 {
		telemetry.IncFollows(len(fresh))
	}
	return fresh, nil
}
