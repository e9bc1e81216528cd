// Package viewers keeps viewer records and presence current from chat
// traffic so the ledger has someone to pay.
package viewers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/store"
	"github.com/senepa/Firebot/telemetry"
)

// Store is the persistence the tracker needs.
type Store interface {
	GetViewerByUsername(ctx context.Context, username string) (*store.Viewer, error)
	UpsertViewer(ctx context.Context, v store.Viewer) (bool, error)
	SetOnline(ctx context.Context, username string, online bool) error
	SetAllOffline(ctx context.Context) error
}

// Seeder initialises balances for a newly created viewer.
type Seeder interface {
	AddToNewViewer(ctx context.Context, viewerID string) error
}

// Tracker creates viewers on first sight and follows their presence.
type Tracker struct {
	store  Store
	seeder Seeder
	logger *slog.Logger

	mu     sync.Mutex
	online map[string]bool
}

// NewTracker returns a tracker. seeder may be nil.
func NewTracker(s Store, seeder Seeder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: s, seeder: seeder, logger: logger.With("component", "viewers"), online: make(map[string]bool)}
}

// Reset marks everybody offline, on start-up and after a disconnect.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.online = make(map[string]bool)
	t.mu.Unlock()
	telemetry.SetViewersOnline(0)
	return t.store.SetAllOffline(ctx)
}

// HandleMessage records the sender of a chat message as an online viewer.
func (t *Tracker) HandleMessage(ctx context.Context, msg chat.Message) {
	if msg.Username == "" || msg.Echo {
		return
	}
	display := msg.DisplayName
	if display == "" {
		display = msg.Username
	}
	t.upsert(ctx, store.Viewer{ID: msg.UserID, Username: msg.Username, DisplayName: display, Online: true, Roles: msg.Roles})
}

// HandlePresence follows JOIN and PART.
func (t *Tracker) HandlePresence(ctx context.Context, username string, online bool) {
	if username == "" {
		return
	}
	if !online {
		if err := t.store.SetOnline(ctx, username, false); err != nil {
			t.logger.Warn("presence update failed", slog.String("username", username), slog.Any("err", err))
		}
		t.mark(username, false)
		return
	}
	existing, err := t.store.GetViewerByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		t.upsert(ctx, store.Viewer{Username: username, DisplayName: username, Online: true})
	case err != nil:
		t.logger.Warn("viewer lookup failed", slog.String("username", username), slog.Any("err", err))
	default:
		if err := t.store.SetOnline(ctx, existing.Username, true); err != nil {
			t.logger.Warn("presence update failed", slog.String("username", username), slog.Any("err", err))
			return
		}
		t.mark(username, true)
	}
}

// Online returns the number of viewers currently marked online.
func (t *Tracker) Online() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.online)
}

func (t *Tracker) upsert(ctx context.Context, v store.Viewer) {
	existing, err := t.store.GetViewerByUsername(ctx, v.Username)
	switch {
	case err == nil:
		// The first record wins; JOIN-created viewers keep their generated id.
		v.ID = existing.ID
		if v.Roles == nil {
			v.Roles = existing.Roles
		}
	case !errors.Is(err, store.ErrNotFound):
		t.logger.Warn("viewer lookup failed", slog.String("username", v.Username), slog.Any("err", err))
		return
	case v.ID == "":
		v.ID = uuid.NewString()
	}
	created, err := t.store.UpsertViewer(ctx, v)
	if err != nil {
		t.logger.Warn("viewer upsert failed", slog.String("username", v.Username), slog.Any("err", err))
		return
	}
	t.mark(v.Username, true)
	if !created {
		return
	}
	t.logger.Debug("new viewer", slog.String("username", v.Username), slog.String("id", v.ID))
	if t.seeder != nil {
		if err := t.seeder.AddToNewViewer(ctx, v.ID); err != nil {
			t.logger.Warn("seeding balances failed", slog.String("username", v.Username), slog.Any("err", err))
		}
	}
}

func (t *Tracker) mark(username string, online bool) {
	key := strings.ToLower(username)
	t.mu.Lock()
	if online {
		t.online[key] = true
	} else {
		delete(t.online, key)
	}
	n := len(t.online)
	t.mu.Unlock()
	telemetry.SetViewersOnline(n)
}
