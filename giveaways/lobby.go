package giveaways

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// State of a lobby.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateSettling State = "settling"
)

var (
	ErrLobbyOpen      = errors.New("lobby already open")
	ErrNotOpen        = errors.New("lobby is not open")
	ErrAlreadyEntered = errors.New("already entered")
	ErrNotEntered     = errors.New("not entered")
)

// Entry is one participant. Weight is captured when the entry is made and
// never recomputed at settlement.
type Entry struct {
	Username string    `json:"username"`
	Weight   int64     `json:"weight"`
	At       time.Time `json:"at"`
}

// Outcome describes how a lobby ended.
type Outcome struct {
	LobbyID  string  `json:"lobbyId"`
	Winner   *Entry  `json:"winner,omitempty"`
	Entrants []Entry `json:"entrants"`
	// Abandoned is set when a manual stop discarded the lobby unsettled.
	Abandoned bool `json:"abandoned,omitempty"`
}

// NoWinner reports an empty or unweighted lobby.
func (o Outcome) NoWinner() bool { return o.Winner == nil }

// Settler is told how a lobby ended. It runs outside the lobby lock while the
// lobby reports StateSettling.
type Settler func(ctx context.Context, o Outcome)

// Timer is the handle returned by the lobby's scheduler.
type Timer interface{ Stop() bool }

// Lobby is the entry window of one giveaway:
// closed -> open -> settling -> closed.
type Lobby struct {
	name   string
	mode   DrawMode
	settle Settler
	logger *slog.Logger

	afterFunc func(d time.Duration, f func()) Timer
	randInt   RandInt
	now       func() time.Time

	mu      sync.Mutex
	state   State
	id      string
	gen     uint64
	timer   Timer
	entries []Entry
	index   map[string]struct{}
}

// LobbyOption configures a Lobby.
type LobbyOption func(*Lobby)

// WithRand replaces the random source.
func WithRand(r RandInt) LobbyOption { return func(l *Lobby) { l.randInt = r } }

// WithAfterFunc replaces time.AfterFunc.
func WithAfterFunc(f func(d time.Duration, fn func()) Timer) LobbyOption {
	return func(l *Lobby) { l.afterFunc = f }
}

// NewLobby returns a closed lobby.
func NewLobby(name string, mode DrawMode, settle Settler, logger *slog.Logger, opts ...LobbyOption) *Lobby {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lobby{
		name:      name,
		mode:      mode,
		settle:    settle,
		logger:    logger.With("component", "lobby", "giveaway", name),
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		randInt:   SecureRandInt,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start opens the lobby for window and returns its id.
func (l *Lobby) Start(window time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateClosed {
		return l.id, ErrLobbyOpen
	}
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	l.stopTimerLocked()
	l.gen++
	gen := l.gen
	l.state = StateOpen
	l.id = id
	l.entries = nil
	l.index = make(map[string]struct{})
	l.timer = l.afterFunc(window, func() { l.expire(gen) })
	l.logger.Info("lobby opened", slog.String("lobby", id), slog.Duration("window", window))
	return id, nil
}

// Enter adds an entrant. Usernames are compared exactly as given.
func (l *Lobby) Enter(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen {
		return ErrNotOpen
	}
	if _, dup := l.index[e.Username]; dup {
		return ErrAlreadyEntered
	}
	if e.At.IsZero() {
		e.At = l.now()
	}
	l.index[e.Username] = struct{}{}
	l.entries = append(l.entries, e)
	return nil
}

// Update changes an existing entrant's weight (bids raise their amount).
func (l *Lobby) Update(username string, weight int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen {
		return ErrNotOpen
	}
	for i := range l.entries {
		if l.entries[i].Username == username {
			l.entries[i].Weight = weight
			return nil
		}
	}
	return ErrNotEntered
}

// Entry returns the current entry of username.
func (l *Lobby) Entry(username string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Username == username {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the entrants in entry order.
func (l *Lobby) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// State returns the current state.
func (l *Lobby) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ID returns the id of the open lobby, "" when closed.
func (l *Lobby) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Stop ends an open lobby now. With settle set the winner is drawn as on the
// deadline, otherwise the lobby is abandoned. It reports false when the
// lobby was not open.
func (l *Lobby) Stop(ctx context.Context, settle bool) bool {
	l.mu.Lock()
	if l.state != StateOpen {
		l.mu.Unlock()
		return false
	}
	l.stopTimerLocked()
	l.gen++
	if !settle {
		o := Outcome{LobbyID: l.id, Entrants: l.entries, Abandoned: true}
		l.resetLocked()
		l.mu.Unlock()
		l.logger.Info("lobby abandoned", slog.String("lobby", o.LobbyID), slog.Int("entrants", len(o.Entrants)))
		l.settle(ctx, o)
		return true
	}
	l.settleLocked(ctx, l.gen)
	return true
}

// Clear cancels the timer and drops all entrants without announcing. It
// returns the entrants of a lobby that was still open.
func (l *Lobby) Clear() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
	l.gen++
	var dropped []Entry
	if l.state == StateOpen {
		dropped = l.entries
	}
	if l.state != StateClosed {
		l.resetLocked()
	}
	return dropped
}

func (l *Lobby) expire(gen uint64) {
	l.mu.Lock()
	if l.gen != gen || l.state != StateOpen {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.settleLocked(context.Background(), gen)
}

// settleLocked draws, releases the lock while the settler runs and closes
// the lobby afterwards unless it was cleared or restarted meanwhile.
func (l *Lobby) settleLocked(ctx context.Context, gen uint64) {
	l.state = StateSettling
	o := Outcome{LobbyID: l.id, Entrants: l.entries}
	idx, err := pick(l.mode, l.entries, l.randInt)
	if err != nil {
		l.logger.Error("draw failed", slog.String("lobby", l.id), slog.Any("err", err))
	}
	if idx >= 0 {
		w := l.entries[idx]
		o.Winner = &w
	}
	l.mu.Unlock()

	l.logger.Info("lobby settled", slog.String("lobby", o.LobbyID), slog.Int("entrants", len(o.Entrants)), slog.Bool("winner", o.Winner != nil))
	l.settle(ctx, o)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen && l.state == StateSettling {
		l.resetLocked()
	}
}

func (l *Lobby) resetLocked() {
	l.state = StateClosed
	l.id = ""
	l.entries = nil
	l.index = nil
}

func (l *Lobby) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
