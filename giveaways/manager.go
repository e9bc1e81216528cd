// Package giveaways runs the chat mini-games (raffle, lottery, bid): their
// persisted settings, entry lobbies and settlement.
package giveaways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/options"
	"github.com/senepa/Firebot/store"
	"github.com/senepa/Firebot/telemetry"
)

var (
	ErrUnknownGiveaway = errors.New("unknown giveaway")
	ErrNotActive       = errors.New("giveaway is not enabled")
)

// Definition describes a giveaway and its setting categories.
type Definition struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Subtitle    string                      `json:"subtitle"`
	Description string                      `json:"description"`
	Icon        string                      `json:"icon"`
	Categories  map[string]options.Category `json:"settingCategories"`
}

// Settings is what the operator saved for a giveaway.
type Settings struct {
	Active   bool                      `json:"active"`
	Settings map[string]map[string]any `json:"settings"`
}

// Category returns the values of one setting category.
func (s Settings) Category(name string) options.Values {
	return options.Values(s.Settings[name])
}

// Giveaway is a registered mini-game.
type Giveaway interface {
	Definition() Definition
	// OnLoad runs when the giveaway becomes enabled.
	OnLoad(ctx context.Context, s Settings)
	// OnUnload runs when an enabled giveaway is disabled.
	OnUnload(ctx context.Context, s Settings)
	// OnSettingsUpdate runs when an enabled giveaway's settings change.
	OnSettingsUpdate(ctx context.Context, s Settings)
}

// LobbyController is implemented by giveaways whose lobby can be driven
// from outside chat.
type LobbyController interface {
	StartLobby(ctx context.Context, window time.Duration) (string, error)
	StopLobby(ctx context.Context) bool
	ClearLobby()
}

// Store persists giveaway settings.
type Store interface {
	ListDocuments(ctx context.Context, collection string) ([]store.Document, error)
	PutDocument(ctx context.Context, collection, id string, data []byte) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Info is the operator view of a giveaway.
type Info struct {
	Definition
	Active   bool                      `json:"active"`
	Settings map[string]map[string]any `json:"settings"`
	Lobby    State                     `json:"lobby,omitempty"`
}

// Manager owns registered giveaways and their saved settings.
type Manager struct {
	store  Store
	bus    events.Publisher
	logger *slog.Logger

	mu        sync.Mutex
	saved     map[string]Settings
	giveaways []Giveaway
}

// NewManager returns an empty manager; call Load before registering.
func NewManager(s Store, bus events.Publisher, logger *slog.Logger) *Manager {
	if bus == nil {
		bus = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		bus:    bus,
		logger: logger.With("component", "giveaways"),
		saved:  make(map[string]Settings),
	}
}

// Load reads saved settings for every giveaway.
func (m *Manager) Load(ctx context.Context) error {
	docs, err := m.store.ListDocuments(ctx, store.CollectionGiveaways)
	if err != nil {
		return fmt.Errorf("load giveaway settings: %w", err)
	}
	saved := make(map[string]Settings, len(docs))
	for _, d := range docs {
		var s Settings
		if err := json.Unmarshal(d.Data, &s); err != nil {
			m.logger.Warn("skipping unreadable giveaway settings", slog.String("id", d.ID), slog.Any("err", err))
			continue
		}
		saved[d.ID] = s
	}
	m.mu.Lock()
	m.saved = saved
	m.mu.Unlock()
	return nil
}

// Register adds a giveaway and loads it when its saved settings are active.
// Registering an id twice is a no-op.
func (m *Manager) Register(ctx context.Context, g Giveaway) bool {
	if g == nil {
		return false
	}
	id := g.Definition().ID
	m.mu.Lock()
	for _, have := range m.giveaways {
		if have.Definition().ID == id {
			m.mu.Unlock()
			return false
		}
	}
	m.giveaways = append(m.giveaways, g)
	s := buildSettings(g.Definition(), m.saved[id])
	m.mu.Unlock()

	if s.Active {
		g.OnLoad(ctx, s)
		m.logger.Info("giveaway loaded", slog.String("id", id))
	}
	return true
}

func (m *Manager) find(id string) Giveaway {
	for _, g := range m.giveaways {
		if g.Definition().ID == id {
			return g
		}
	}
	return nil
}

// buildSettings fills every defined setting missing from saved with its default.
func buildSettings(def Definition, saved Settings) Settings {
	out := Settings{Active: saved.Active, Settings: make(map[string]map[string]any, len(def.Categories))}
	for cat, c := range def.Categories {
		vals := make(map[string]any, len(c.Settings))
		for name, d := range c.Settings {
			if v, ok := saved.Settings[cat][name]; ok {
				vals[name] = v
			} else {
				vals[name] = d.Default
			}
		}
		out.Settings[cat] = vals
	}
	return out
}

// Settings returns the effective settings of a giveaway.
func (m *Manager) Settings(id string) (Settings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.find(id)
	if g == nil {
		return Settings{}, false
	}
	return buildSettings(g.Definition(), m.saved[id]), true
}

// List returns every giveaway with its settings, ordered by name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.giveaways))
	for _, g := range m.giveaways {
		def := g.Definition()
		s := buildSettings(def, m.saved[def.ID])
		info := Info{Definition: def, Active: s.Active, Settings: s.Settings}
		if lg, ok := g.(interface{ LobbyState() State }); ok {
			info.Lobby = lg.LobbyState()
		}
		out = append(out, info)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateSettings validates and saves values over the current settings, then
// loads, unloads or notifies the giveaway as its active flag dictates.
func (m *Manager) UpdateSettings(ctx context.Context, id string, values map[string]map[string]any, active bool) (Settings, error) {
	m.mu.Lock()
	g := m.find(id)
	if g == nil {
		m.mu.Unlock()
		return Settings{}, fmt.Errorf("%w: %s", ErrUnknownGiveaway, id)
	}
	def := g.Definition()
	prev := buildSettings(def, m.saved[id])
	m.mu.Unlock()

	next := Settings{Active: active, Settings: make(map[string]map[string]any, len(def.Categories))}
	var errs []error
	for cat, c := range def.Categories {
		merged := make(map[string]any, len(c.Settings))
		for k, v := range prev.Settings[cat] {
			merged[k] = v
		}
		for k, v := range values[cat] {
			merged[k] = v
		}
		resolved, err := options.Resolve(c.Settings, merged)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cat, err))
		}
		next.Settings[cat] = resolved
	}
	if err := errors.Join(errs...); err != nil {
		return prev, err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return prev, err
	}
	if err := m.store.PutDocument(ctx, store.CollectionGiveaways, id, data); err != nil {
		return prev, fmt.Errorf("save giveaway settings: %w", err)
	}
	m.mu.Lock()
	m.saved[id] = next
	m.mu.Unlock()

	m.transition(ctx, g, prev.Active, next)
	return next, nil
}

// Reset restores defaults and disables the giveaway.
func (m *Manager) Reset(ctx context.Context, id string) error {
	m.mu.Lock()
	g := m.find(id)
	if g == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownGiveaway, id)
	}
	prev := buildSettings(g.Definition(), m.saved[id])
	m.mu.Unlock()

	if err := m.store.DeleteDocument(ctx, store.CollectionGiveaways, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reset giveaway settings: %w", err)
	}
	m.mu.Lock()
	delete(m.saved, id)
	m.mu.Unlock()
	m.transition(ctx, g, prev.Active, buildSettings(g.Definition(), Settings{}))
	return nil
}

func (m *Manager) transition(ctx context.Context, g Giveaway, wasActive bool, s Settings) {
	id := g.Definition().ID
	switch {
	case s.Active && !wasActive:
		g.OnLoad(ctx, s)
		m.logger.Info("giveaway enabled", slog.String("id", id))
	case s.Active:
		g.OnSettingsUpdate(ctx, s)
	case wasActive:
		g.OnUnload(ctx, s)
		m.logger.Info("giveaway disabled", slog.String("id", id))
	}
}

func (m *Manager) controller(id string) (LobbyController, error) {
	s, ok := m.Settings(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGiveaway, id)
	}
	if !s.Active {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lc, ok := m.find(id).(LobbyController)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no lobby", ErrUnknownGiveaway, id)
	}
	return lc, nil
}

// Start opens a giveaway's lobby. A zero window uses the configured delay.
func (m *Manager) Start(ctx context.Context, id string, window time.Duration) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "giveaways", "start", telemetry.GiveawayAttr(id))
	defer span.End()
	lc, err := m.controller(id)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	lobbyID, err := lc.StartLobby(ctx, window)
	telemetry.RecordError(span, err)
	return lobbyID, err
}

// Stop ends a giveaway's lobby per its stop policy.
func (m *Manager) Stop(ctx context.Context, id string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "giveaways", "stop", telemetry.GiveawayAttr(id))
	defer span.End()
	lc, err := m.controller(id)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	return lc.StopLobby(ctx), nil
}

// Shutdown cancels every lobby timer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.giveaways {
		if lc, ok := g.(LobbyController); ok {
			lc.ClearLobby()
		}
	}
}
