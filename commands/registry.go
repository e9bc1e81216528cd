package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/options"
	"github.com/senepa/Firebot/store"
)

// SyncFailureMessage is published when the command cache cannot be rebuilt.
const SyncFailureMessage = "Could not sync up command cache. Reconnect to try resyncing."

const refreshAttempts = 3

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
)

// Store is the document persistence the registry needs.
type Store interface {
	ListDocuments(ctx context.Context, collection string) ([]store.Document, error)
	PutDocument(ctx context.Context, collection, id string, data []byte) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Flusher clears cooldowns whenever the command cache is rebuilt.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Registry is the in-memory catalog of system and custom commands.
// System commands iterate first in registration order, then custom
// commands in creation order.
type Registry struct {
	store      Store
	bus        events.Publisher
	cooldowns  Flusher
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration

	mu        sync.RWMutex
	system    []SystemCommand
	overrides map[string]Command
	custom    []Command

	patterns patternCache
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCooldownFlusher flushes f on every cache refresh.
func WithCooldownFlusher(f Flusher) RegistryOption { return func(r *Registry) { r.cooldowns = f } }

// WithRetryDelay sets the pause between refresh attempts.
func WithRetryDelay(d time.Duration) RegistryOption { return func(r *Registry) { r.retryDelay = d } }

// NewRegistry returns an empty registry; call RefreshCommandCache to load
// persisted commands.
func NewRegistry(s Store, bus events.Publisher, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if bus == nil {
		bus = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:      s,
		bus:        bus,
		logger:     logger.With("component", "commands"),
		now:        time.Now,
		retryDelay: 500 * time.Millisecond,
		overrides:  make(map[string]Command),
		patterns:   patternCache{m: make(map[string]*patternEntry)},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterSystemCommand adds a code-defined command. Registering an id that
// already exists is a no-op and reports false.
func (r *Registry) RegisterSystemCommand(sc SystemCommand) bool {
	if sc.Definition.ID == "" || sc.OnTrigger == nil {
		r.logger.Warn("refusing incomplete system command", slog.String("id", sc.Definition.ID))
		return false
	}
	sc.Definition.Type = TypeSystem
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.system {
		if existing.Definition.ID == sc.Definition.ID {
			return false
		}
	}
	r.system = append(r.system, sc)
	r.logger.Debug("system command registered", slog.String("id", sc.Definition.ID), slog.String("trigger", sc.Definition.Trigger))
	return true
}

// UnregisterSystemCommand removes a system command; false when absent.
func (r *Registry) UnregisterSystemCommand(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sc := range r.system {
		if sc.Definition.ID == id {
			r.system = append(r.system[:i:i], r.system[i+1:]...)
			return true
		}
	}
	return false
}

// HasSystemCommand reports whether id is registered.
func (r *Registry) HasSystemCommand(id string) bool {
	_, ok := r.GetSystemCommandByID(id)
	return ok
}

// merged applies the stored override over the code definition. Callers hold mu.
func (r *Registry) merged(sc SystemCommand) SystemCommand {
	o, ok := r.overrides[sc.Definition.ID]
	if !ok {
		return sc
	}
	def := sc.Definition
	o.ID = def.ID
	o.Type = TypeSystem
	o.Options = def.Options
	if o.Name == "" {
		o.Name = def.Name
	}
	if o.Description == "" {
		o.Description = def.Description
	}
	if o.Trigger == "" {
		o.Trigger = def.Trigger
	}
	return SystemCommand{Definition: o, OnTrigger: sc.OnTrigger}
}

// GetSystemCommandByID returns the merged system command.
func (r *Registry) GetSystemCommandByID(id string) (SystemCommand, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sc := range r.system {
		if sc.Definition.ID == id {
			return r.merged(sc), true
		}
	}
	return SystemCommand{}, false
}

// GetAllSystemCommandDefinitions returns every merged system definition.
func (r *Registry) GetAllSystemCommandDefinitions() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.system))
	for _, sc := range r.system {
		out = append(out, r.merged(sc).Definition)
	}
	return out
}

// GetCustomCommandByID returns a copy of a custom command.
func (r *Registry) GetCustomCommandByID(id string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.custom {
		if c.ID == id {
			return c, true
		}
	}
	return Command{}, false
}

// GetAllCustomCommands returns every custom command.
func (r *Registry) GetAllCustomCommands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.custom...)
}

// GetAllActiveCommands returns active system commands followed by active
// custom commands. The matcher takes the first hit from this order.
func (r *Registry) GetAllActiveCommands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.system)+len(r.custom))
	for _, sc := range r.system {
		if def := r.merged(sc).Definition; def.Active {
			out = append(out, def)
		}
	}
	for _, c := range r.custom {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// SaveCustomCommand creates (empty id) or updates a custom command.
func (r *Registry) SaveCustomCommand(ctx context.Context, cmd Command, user string) (Command, error) {
	cmd.Trigger = strings.TrimSpace(cmd.Trigger)
	if cmd.Trigger == "" {
		return Command{}, fmt.Errorf("%w: trigger required", ErrInvalidCommand)
	}
	if cmd.TriggerIsRegex {
		if _, err := compilePattern(cmd.Trigger); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
	}
	cmd.Type = TypeCustom
	now := r.now().UTC()
	if existing, ok := r.GetCustomCommandByID(cmd.ID); ok && cmd.ID != "" {
		cmd.CreatedBy, cmd.CreatedAt = existing.CreatedBy, existing.CreatedAt
		cmd.Count = existing.Count
		cmd.LastEditBy, cmd.LastEditAt = user, now
	} else {
		if cmd.ID == "" {
			cmd.ID = uuid.NewString()
		}
		cmd.CreatedBy, cmd.CreatedAt = user, now
		cmd.Count = 0
	}
	for i := range cmd.SubCommands {
		if cmd.SubCommands[i].ID == "" {
			cmd.SubCommands[i].ID = uuid.NewString()
		}
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return Command{}, err
	}
	if err := r.store.PutDocument(ctx, store.CollectionCustomCommands, cmd.ID, data); err != nil {
		return Command{}, fmt.Errorf("save custom command %s: %w", cmd.Trigger, err)
	}

	r.mu.Lock()
	replaced := false
	for i := range r.custom {
		if r.custom[i].ID == cmd.ID {
			r.custom[i] = cmd
			replaced = true
			break
		}
	}
	if !replaced {
		r.custom = append(r.custom, cmd)
	}
	r.mu.Unlock()

	r.bus.Publish(events.TypeCustomCommandsUpdated, r.GetAllCustomCommands())
	r.logger.Info("custom command saved", slog.String("id", cmd.ID), slog.String("trigger", cmd.Trigger))
	return cmd, nil
}

// RemoveCustomCommand deletes a custom command.
func (r *Registry) RemoveCustomCommand(ctx context.Context, id string) error {
	if _, ok := r.GetCustomCommandByID(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	if err := r.store.DeleteDocument(ctx, store.CollectionCustomCommands, id); err != nil {
		return fmt.Errorf("remove custom command %s: %w", id, err)
	}
	r.mu.Lock()
	for i, c := range r.custom {
		if c.ID == id {
			r.custom = append(r.custom[:i:i], r.custom[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.bus.Publish(events.TypeCustomCommandsUpdated, r.GetAllCustomCommands())
	return nil
}

// SaveSystemCommandOverride persists operator edits to a system command.
// Option values are validated against the command's option definitions.
func (r *Registry) SaveSystemCommandOverride(ctx context.Context, cmd Command) error {
	sc, ok := r.GetSystemCommandByID(cmd.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.ID)
	}
	if _, err := options.Resolve(sc.Definition.Options, cmd.OptionValues); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd.Type = TypeSystem
	cmd.Options = nil
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := r.store.PutDocument(ctx, store.CollectionSystemOverrides, cmd.ID, data); err != nil {
		return fmt.Errorf("save override %s: %w", cmd.ID, err)
	}
	r.mu.Lock()
	r.overrides[cmd.ID] = cmd
	r.mu.Unlock()
	return nil
}

// RemoveSystemCommandOverride restores a system command to its code definition.
func (r *Registry) RemoveSystemCommandOverride(ctx context.Context, id string) error {
	if err := r.store.DeleteDocument(ctx, store.CollectionSystemOverrides, id); err != nil {
		return fmt.Errorf("remove override %s: %w", id, err)
	}
	r.mu.Lock()
	delete(r.overrides, id)
	r.mu.Unlock()
	return nil
}

// IncrementCount bumps a custom command's usage counter and persists it.
func (r *Registry) IncrementCount(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	var updated *Command
	for i := range r.custom {
		if r.custom[i].ID == id {
			r.custom[i].Count++
			c := r.custom[i]
			updated = &c
			break
		}
	}
	r.mu.Unlock()
	if updated == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	r.bus.Publish(events.TypeCommandCountUpdate, map[string]any{"commandId": id, "count": updated.Count})

	data, err := json.Marshal(updated)
	if err != nil {
		return updated.Count, err
	}
	if err := r.store.PutDocument(ctx, store.CollectionCustomCommands, id, data); err != nil {
		return updated.Count, fmt.Errorf("persist count %s: %w", id, err)
	}
	return updated.Count, nil
}

// RefreshCommandCache reloads custom commands and system overrides from the
// store, retrying up to three times. On final failure the previous snapshot
// is kept and an error event is published. Cooldowns are flushed on success.
func (r *Registry) RefreshCommandCache(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		if err = r.reload(ctx); err == nil {
			break
		}
		r.logger.Warn("command cache refresh failed", slog.Int("attempt", attempt), slog.Any("err", err))
		if attempt == refreshAttempts {
			return r.syncFailed(err)
		}
		select {
		case <-ctx.Done():
			return r.syncFailed(ctx.Err())
		case <-time.After(r.retryDelay):
		}
	}

	if r.cooldowns != nil {
		if ferr := r.cooldowns.Flush(ctx); ferr != nil {
			r.logger.Warn("cooldown flush failed", slog.Any("err", ferr))
		}
	}
	r.bus.Publish(events.TypeCustomCommandsUpdated, r.GetAllCustomCommands())
	return nil
}

func (r *Registry) syncFailed(err error) error {
	r.logger.Error(SyncFailureMessage, slog.Any("err", err))
	r.bus.Publish(events.TypeError, SyncFailureMessage)
	return fmt.Errorf("refresh command cache: %w", err)
}

func (r *Registry) reload(ctx context.Context) error {
	customDocs, err := r.store.ListDocuments(ctx, store.CollectionCustomCommands)
	if err != nil {
		return err
	}
	overrideDocs, err := r.store.ListDocuments(ctx, store.CollectionSystemOverrides)
	if err != nil {
		return err
	}

	custom := make([]Command, 0, len(customDocs))
	for _, d := range customDocs {
		var c Command
		if err := json.Unmarshal(d.Data, &c); err != nil {
			r.logger.Warn("skipping unreadable custom command", slog.String("id", d.ID), slog.Any("err", err))
			continue
		}
		c.ID = d.ID
		c.Type = TypeCustom
		custom = append(custom, c)
	}
	overrides := make(map[string]Command, len(overrideDocs))
	for _, d := range overrideDocs {
		var c Command
		if err := json.Unmarshal(d.Data, &c); err != nil {
			r.logger.Warn("skipping unreadable override", slog.String("id", d.ID), slog.Any("err", err))
			continue
		}
		c.ID = d.ID
		overrides[d.ID] = c
	}

	r.mu.Lock()
	r.custom = custom
	r.overrides = overrides
	r.mu.Unlock()
	r.logger.Debug("command cache refreshed", slog.Int("custom", len(custom)), slog.Int("overrides", len(overrides)))
	return nil
}

// ResolveOptions returns the effective option values of a command, falling
// back to defaults for anything missing or invalid.
func (r *Registry) ResolveOptions(cmd Command) options.Values {
	if len(cmd.Options) == 0 {
		return options.Values{}
	}
	values, err := options.Resolve(cmd.Options, cmd.OptionValues)
	if err != nil {
		r.logger.Warn("invalid command options, using defaults", slog.String("id", cmd.ID), slog.Any("err", err))
	}
	return values
}
