// Package currency implements the viewer currency ledger: currency
// definitions, clamped per-viewer balances, bulk payouts and leaderboards.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/store"
	"github.com/senepa/Firebot/telemetry"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrDuplicateName   = errors.New("currency name already in use")
	ErrInvalidCurrency = errors.New("invalid currency")
)

// Mode selects how Adjust combines the value with the current balance.
type Mode string

const (
	ModeAdjust Mode = "adjust"
	ModeSet    Mode = "set"
)

// ParseMode maps "set" to ModeSet and anything else to ModeAdjust.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, string(ModeSet)) {
		return ModeSet
	}
	return ModeAdjust
}

// Currency is a named, optionally capped balance type.
type Currency struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Limit caps balances; 0 means uncapped.
	Limit int64 `json:"limit"`
	// Payout is paid to online viewers every Interval minutes.
	Payout   int64 `json:"payout"`
	Interval int   `json:"interval"`
	// Bonus adds an extra payout per viewer role.
	Bonus map[string]int64 `json:"bonus,omitempty"`
}

// Store is the persistence the ledger needs.
type Store interface {
	ListDocuments(ctx context.Context, collection string) ([]store.Document, error)
	PutDocument(ctx context.Context, collection, id string, data []byte) error
	DeleteDocument(ctx context.Context, collection, id string) error
	GetViewerByUsername(ctx context.Context, username string) (*store.Viewer, error)
	ListViewers(ctx context.Context, f store.ViewerFilter) ([]store.Viewer, error)
	UpdateBalance(ctx context.Context, viewerID, currencyID string, fn func(current int64) int64) (int64, error)
	SetBalanceForAll(ctx context.Context, currencyID string, amount int64) error
	DeleteBalances(ctx context.Context, currencyID string) error
	ListHolders(ctx context.Context, currencyID string, limit int) ([]store.Holder, error)
	SumBalances(ctx context.Context, currencyID string) (int64, error)
}

// Ledger owns currency definitions and every balance mutation.
type Ledger struct {
	store   Store
	bus     events.Publisher
	logger  *slog.Logger
	enabled func() bool

	mu         sync.RWMutex
	currencies []Currency

	locks keyedMutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEnabled gates every balance read and write on the viewer database
// setting. Definitions stay editable while it is off.
func WithEnabled(fn func() bool) Option { return func(l *Ledger) { l.enabled = fn } }

// NewLedger returns a ledger; call RefreshCache before use.
func NewLedger(s Store, bus events.Publisher, logger *slog.Logger, opts ...Option) *Ledger {
	if bus == nil {
		bus = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:   s,
		bus:     bus,
		logger:  logger.With("component", "currency"),
		enabled: func() bool { return true },
		locks:   keyedMutex{m: make(map[string]*keyedEntry)},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RefreshCache reloads currency definitions from the store.
func (l *Ledger) RefreshCache(ctx context.Context) error {
	docs, err := l.store.ListDocuments(ctx, store.CollectionCurrencies)
	if err != nil {
		return fmt.Errorf("load currencies: %w", err)
	}
	list := make([]Currency, 0, len(docs))
	for _, d := range docs {
		var c Currency
		if err := json.Unmarshal(d.Data, &c); err != nil {
			l.logger.Warn("skipping unreadable currency", slog.String("id", d.ID), slog.Any("err", err))
			continue
		}
		c.ID = d.ID
		list = append(list, c)
	}
	l.mu.Lock()
	l.currencies = list
	l.mu.Unlock()
	return nil
}

// GetCurrencies returns a copy of all currency definitions.
func (l *Ledger) GetCurrencies() []Currency {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Currency, len(l.currencies))
	copy(out, l.currencies)
	return out
}

// GetCurrencyByID looks a currency up by id.
func (l *Ledger) GetCurrencyByID(id string) (Currency, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.currencies {
		if c.ID == id {
			return c, true
		}
	}
	return Currency{}, false
}

// GetCurrencyByName looks a currency up by name, ignoring case.
func (l *Ledger) GetCurrencyByName(name string) (Currency, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.currencies {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Currency{}, false
}

// CreateCurrency persists a new currency and seeds every viewer with 0. The
// seeding is skipped while the viewer database is disabled.
func (l *Ledger) CreateCurrency(ctx context.Context, c Currency) (Currency, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Currency{}, fmt.Errorf("%w: name required", ErrInvalidCurrency)
	}
	if existing, ok := l.GetCurrencyByName(c.Name); ok && existing.ID != c.ID {
		return Currency{}, ErrDuplicateName
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := l.save(ctx, c); err != nil {
		return Currency{}, err
	}
	if !l.enabled() {
		l.logger.Info("currency created without seeding balances", slog.String("id", c.ID), slog.String("name", c.Name))
		return c, nil
	}
	if err := l.store.SetBalanceForAll(ctx, c.ID, 0); err != nil {
		return Currency{}, err
	}
	l.logger.Info("currency created", slog.String("id", c.ID), slog.String("name", c.Name))
	return c, nil
}

// UpdateCurrency replaces an existing currency definition.
func (l *Ledger) UpdateCurrency(ctx context.Context, c Currency) error {
	if _, ok := l.GetCurrencyByID(c.ID); !ok {
		return ErrUnknownCurrency
	}
	if existing, ok := l.GetCurrencyByName(c.Name); ok && existing.ID != c.ID {
		return ErrDuplicateName
	}
	return l.save(ctx, c)
}

func (l *Ledger) save(ctx context.Context, c Currency) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := l.store.PutDocument(ctx, store.CollectionCurrencies, c.ID, data); err != nil {
		return err
	}
	if err := l.RefreshCache(ctx); err != nil {
		return err
	}
	l.bus.Publish(events.TypeCurrencyUpdated, c)
	return nil
}

// clamp applies mode and the currency cap. Balances never go below 0.
func clamp(current, value int64, mode Mode, limit int64) int64 {
	next := current + value
	if mode == ModeSet {
		next = value
	}
	if limit != 0 && next > limit {
		next = limit
	}
	if next < 0 {
		next = 0
	}
	return next
}

// Adjust changes one viewer's balance. A zero value is a no-op, as is any
// call while the viewer database is disabled.
func (l *Ledger) Adjust(ctx context.Context, v *store.Viewer, currencyID string, value int64, mode Mode) error {
	if v == nil || !l.enabled() || value == 0 {
		return nil
	}
	c, ok := l.GetCurrencyByID(currencyID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, currencyID)
	}

	unlock := l.locks.Lock(v.ID)
	defer unlock()
	next, err := l.store.UpdateBalance(ctx, v.ID, currencyID, func(current int64) int64 {
		return clamp(current, value, mode, c.Limit)
	})
	if err != nil {
		return fmt.Errorf("adjust %s for %s: %w", c.Name, v.Username, err)
	}
	if v.Balances != nil {
		v.Balances[currencyID] = next
	}
	telemetry.IncCurrencyAdjustment(c.Name, string(mode))
	return nil
}

// AdjustForUser resolves username and adjusts its balance. It reports false
// when the viewer is unknown, the adjustment failed or the viewer database is
// disabled.
func (l *Ledger) AdjustForUser(ctx context.Context, username, currencyID string, value int64, mode Mode) bool {
	if !l.enabled() {
		return false
	}
	v, err := l.store.GetViewerByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Warn("viewer lookup failed", slog.String("username", username), slog.Any("err", err))
		}
		return false
	}
	if err := l.Adjust(ctx, v, currencyID, value, mode); err != nil {
		l.logger.Warn("currency adjustment failed", slog.String("username", username), slog.Any("err", err))
		return false
	}
	return true
}

// Charge takes amount from username only when the balance covers it. The
// check and the debit happen in one store update.
func (l *Ledger) Charge(ctx context.Context, username, currencyID string, amount int64) bool {
	if !l.enabled() || amount <= 0 {
		return false
	}
	c, ok := l.GetCurrencyByID(currencyID)
	if !ok {
		return false
	}
	v, err := l.store.GetViewerByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Warn("viewer lookup failed", slog.String("username", username), slog.Any("err", err))
		}
		return false
	}

	unlock := l.locks.Lock(v.ID)
	defer unlock()
	covered := false
	if _, err := l.store.UpdateBalance(ctx, v.ID, currencyID, func(current int64) int64 {
		if current < amount {
			return current
		}
		covered = true
		return current - amount
	}); err != nil {
		l.logger.Warn("currency charge failed", slog.String("username", username), slog.Any("err", err))
		return false
	}
	if covered {
		telemetry.IncCurrencyAdjustment(c.Name, "charge")
	}
	return covered
}

// GetAmount returns a viewer's balance, 0 when either side is unknown.
func (l *Ledger) GetAmount(ctx context.Context, username, currencyID string) int64 {
	if !l.enabled() {
		return 0
	}
	v, err := l.store.GetViewerByUsername(ctx, username)
	if err != nil {
		return 0
	}
	return v.Balances[currencyID]
}

// AddToOnlineUsers adjusts every online viewer. Viewers that opted out of
// automatic accrual are skipped unless ignoreDisable is set.
func (l *Ledger) AddToOnlineUsers(ctx context.Context, currencyID string, value int64, ignoreDisable bool, mode Mode) error {
	return l.bulk(ctx, store.ViewerFilter{OnlineOnly: true}, nil, currencyID, value, ignoreDisable, mode)
}

// AddToRoleOnlineUsers adjusts online viewers holding any of roleIDs.
func (l *Ledger) AddToRoleOnlineUsers(ctx context.Context, roleIDs []string, currencyID string, value int64, ignoreDisable bool, mode Mode) error {
	if len(roleIDs) == 0 {
		return nil
	}
	return l.bulk(ctx, store.ViewerFilter{OnlineOnly: true}, roleIDs, currencyID, value, ignoreDisable, mode)
}

// AddToAllUsers adjusts every known viewer, online or not.
func (l *Ledger) AddToAllUsers(ctx context.Context, currencyID string, value int64, ignoreDisable bool, mode Mode) error {
	return l.bulk(ctx, store.ViewerFilter{}, nil, currencyID, value, ignoreDisable, mode)
}

func (l *Ledger) bulk(ctx context.Context, f store.ViewerFilter, roleIDs []string, currencyID string, value int64, ignoreDisable bool, mode Mode) error {
	if !l.enabled() || value == 0 {
		return nil
	}
	if _, ok := l.GetCurrencyByID(currencyID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, currencyID)
	}
	viewers, err := l.store.ListViewers(ctx, f)
	if err != nil {
		return err
	}
	var errs []error
	for i := range viewers {
		v := &viewers[i]
		if v.DisableAutoStatAccrual && !ignoreDisable {
			continue
		}
		if roleIDs != nil && !hasAnyRole(v.Roles, roleIDs) {
			continue
		}
		if err := l.Adjust(ctx, v, currencyID, value, mode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func hasAnyRole(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// AddToNewViewer seeds a freshly created viewer with 0 in every currency.
func (l *Ledger) AddToNewViewer(ctx context.Context, viewerID string) error {
	if !l.enabled() {
		return nil
	}
	var errs []error
	for _, c := range l.GetCurrencies() {
		if _, err := l.store.UpdateBalance(ctx, viewerID, c.ID, func(cur int64) int64 { return cur }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Purge resets every balance of a currency to 0, keeping the currency.
func (l *Ledger) Purge(ctx context.Context, currencyID string) error {
	if !l.enabled() {
		return nil
	}
	if _, ok := l.GetCurrencyByID(currencyID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, currencyID)
	}
	if err := l.store.SetBalanceForAll(ctx, currencyID, 0); err != nil {
		return err
	}
	l.logger.Info("currency purged", slog.String("id", currencyID))
	return nil
}

// DeleteCurrency removes the currency from every viewer and from the
// definitions, then notifies the UI. Nothing is touched while the viewer
// database is disabled.
func (l *Ledger) DeleteCurrency(ctx context.Context, currencyID string) error {
	if !l.enabled() {
		return nil
	}
	if _, ok := l.GetCurrencyByID(currencyID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, currencyID)
	}
	if err := l.store.DeleteBalances(ctx, currencyID); err != nil {
		return err
	}
	if err := l.store.DeleteDocument(ctx, store.CollectionCurrencies, currencyID); err != nil {
		return err
	}
	if err := l.RefreshCache(ctx); err != nil {
		return err
	}
	l.bus.Publish(events.TypeCurrencyDeleted, currencyID)
	l.logger.Info("currency deleted", slog.String("id", currencyID))
	return nil
}

// TopHolders returns the n highest balances (ties in viewer creation order).
// Unknown currencies yield an empty list.
func (l *Ledger) TopHolders(ctx context.Context, currencyID string, n int) ([]store.Holder, error) {
	if _, ok := l.GetCurrencyByID(currencyID); !ok || n <= 0 || !l.enabled() {
		return []store.Holder{}, nil
	}
	return l.store.ListHolders(ctx, currencyID, n)
}

// AllHolders returns every viewer sorted by balance.
func (l *Ledger) AllHolders(ctx context.Context, currencyID string) ([]store.Holder, error) {
	if _, ok := l.GetCurrencyByID(currencyID); !ok || !l.enabled() {
		return []store.Holder{}, nil
	}
	return l.store.ListHolders(ctx, currencyID, 0)
}

// TotalInCirculation sums every balance of a currency.
func (l *Ledger) TotalInCirculation(ctx context.Context, currencyID string) (int64, error) {
	if !l.enabled() {
		return 0, nil
	}
	return l.store.SumBalances(ctx, currencyID)
}

// ParseAmount parses a chat or API supplied amount ("1,500" is accepted).
func ParseAmount(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
