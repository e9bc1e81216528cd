// Package cooldown tracks per-command global and per-user cooldowns. Check
// and set happen in one atomic step so two concurrent triggers cannot both
// pass an expired window.
package cooldown

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/senepa/Firebot/telemetry"
)

// Request describes the two cooldown windows guarding one trigger. Empty
// keys or zero durations disable that window.
type Request struct {
	GlobalKey string
	UserKey   string
	Global    time.Duration
	User      time.Duration
}

// Keys builds the global and per-user keys for a command and optional
// sub-command argument.
func Keys(commandID, subArg, username string) (global, user string) {
	global = commandID
	if subArg != "" {
		global += ":" + subArg
	}
	return global, global + ":" + strings.ToLower(username)
}

// Store is a cooldown table.
type Store interface {
	// Acquire returns (0, true) and starts both windows when neither is
	// active, otherwise the remaining time and false.
	Acquire(ctx context.Context, req Request) (time.Duration, bool, error)
	// Remaining reports the time left without setting anything.
	Remaining(ctx context.Context, req Request) (time.Duration, error)
	// Flush clears every entry.
	Flush(ctx context.Context) error
}

// remaining combines the two windows: the user window wins when active
// (reported as the larger of the two), otherwise the global window.
func remaining(global, user time.Duration) time.Duration {
	if user > 0 {
		if global > user {
			return global
		}
		return user
	}
	if global > 0 {
		return global
	}
	return 0
}

// Seconds rounds a remaining duration up to whole seconds for display.
func Seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// Memory is an in-process cooldown store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time), now: time.Now}
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) left(key string, now time.Time) time.Duration {
	if key == "" {
		return 0
	}
	exp, ok := m.entries[key]
	if !ok {
		return 0
	}
	if !exp.After(now) {
		delete(m.entries, key)
		return 0
	}
	return exp.Sub(now)
}

// Acquire implements Store.
func (m *Memory) Acquire(_ context.Context, req Request) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if rem := remaining(m.left(req.GlobalKey, now), m.left(req.UserKey, now)); rem > 0 {
		return rem, false, nil
	}
	if req.GlobalKey != "" && req.Global > 0 {
		m.entries[req.GlobalKey] = now.Add(req.Global)
	}
	if req.UserKey != "" && req.User > 0 {
		m.entries[req.UserKey] = now.Add(req.User)
	}
	telemetry.SetCooldownEntries(len(m.entries))
	return 0, true, nil
}

// Remaining implements Store.
func (m *Memory) Remaining(_ context.Context, req Request) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	return remaining(m.left(req.GlobalKey, now), m.left(req.UserKey, now)), nil
}

// Flush implements Store.
func (m *Memory) Flush(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]time.Time)
	m.mu.Unlock()
	telemetry.SetCooldownEntries(0)
	return nil
}

// Sweep drops expired entries; returns how many remain.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k := range m.entries {
		m.left(k, now)
	}
	telemetry.SetCooldownEntries(len(m.entries))
	return len(m.entries)
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
