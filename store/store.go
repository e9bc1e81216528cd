// Package store persists the bot profile: viewer records, per-currency
// balances and JSON documents (custom commands, system command overrides,
// currency definitions, giveaway settings). It runs on Postgres or SQLite
// through database/sql.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/senepa/Firebot/db"
)

// ErrNotFound is returned when a viewer or document does not exist.
var ErrNotFound = errors.New("not found")

// Document collections.
const (
	CollectionCustomCommands  = "custom_commands"
	CollectionSystemOverrides = "system_command_overrides"
	CollectionCurrencies      = "currencies"
	CollectionGiveaways       = "giveaways"
)

// Viewer is a persisted chat user.
type Viewer struct {
	ID                     string           `json:"id"`
	Username               string           `json:"username"`
	DisplayName            string           `json:"displayName"`
	Online                 bool             `json:"online"`
	DisableAutoStatAccrual bool             `json:"disableAutoStatAccrual"`
	Roles                  []string         `json:"roles"`
	Balances               map[string]int64 `json:"currency"`
	Seq                    int64            `json:"-"`
	LastSeen               time.Time        `json:"lastSeen"`
}

// Holder is a (username, amount) pair for leaderboards.
type Holder struct {
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
}

// Document is a stored JSON blob.
type Document struct {
	ID        string
	Data      []byte
	UpdatedAt time.Time
}

// ViewerFilter narrows ListViewers.
type ViewerFilter struct {
	OnlineOnly bool
}

// SQLStore implements the profile store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// New returns a store over an already migrated database.
func New(database *sql.DB, dialect db.Dialect) *SQLStore {
	return &SQLStore{db: database, dialect: dialect, now: time.Now}
}

// DB exposes the underlying handle (health checks).
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) q(query string) string { return db.Rebind(s.dialect, query) }

// ---- documents ----

// ListDocuments returns every document of a collection in insertion order.
func (s *SQLStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, data, updated_at FROM documents WHERE collection = ? ORDER BY seq, id`), collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var data string
		var updated int64
		if err := rows.Scan(&d.ID, &data, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		d.Data = []byte(data)
		d.UpdatedAt = time.UnixMilli(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDocument loads one document.
func (s *SQLStore) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	var data string
	var updated int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data, updated_at FROM documents WHERE collection = ? AND id = ?`), collection, id).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Data: []byte(data), UpdatedAt: time.UnixMilli(updated)}, nil
}

// PutDocument inserts or replaces a document, keeping its original position.
func (s *SQLStore) PutDocument(ctx context.Context, collection, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO documents (collection, id, data, seq, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents WHERE collection = ?), ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		collection, id, string(data), collection, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// DeleteDocument removes a document; deleting a missing one is not an error.
func (s *SQLStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// ---- viewers ----

const viewerColumns = `id, username, display_name, online, disable_auto_stat_accrual, roles, seq, last_seen`

func scanViewer(row interface{ Scan(...any) error }) (Viewer, error) {
	var v Viewer
	var roles string
	var lastSeen int64
	if err := row.Scan(&v.ID, &v.Username, &v.DisplayName, &v.Online, &v.DisableAutoStatAccrual, &roles, &v.Seq, &lastSeen); err != nil {
		return Viewer{}, err
	}
	if roles != "" {
		if err := json.Unmarshal([]byte(roles), &v.Roles); err != nil {
			return Viewer{}, fmt.Errorf("decode roles for %s: %w", v.Username, err)
		}
	}
	v.LastSeen = time.UnixMilli(lastSeen)
	return v, nil
}

// GetViewerByUsername looks a viewer up case-insensitively and loads balances.
func (s *SQLStore) GetViewerByUsername(ctx context.Context, username string) (*Viewer, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+viewerColumns+` FROM viewers WHERE username = ?`), strings.ToLower(username))
	v, err := scanViewer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer %s: %w", username, err)
	}
	if v.Balances, err = s.balancesFor(ctx, v.ID); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetViewer looks a viewer up by id.
func (s *SQLStore) GetViewer(ctx context.Context, id string) (*Viewer, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+viewerColumns+` FROM viewers WHERE id = ?`), id)
	v, err := scanViewer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer %s: %w", id, err)
	}
	if v.Balances, err = s.balancesFor(ctx, v.ID); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLStore) balancesFor(ctx context.Context, viewerID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT currency_id, amount FROM viewer_balances WHERE viewer_id = ?`), viewerID)
	if err != nil {
		return nil, fmt.Errorf("balances for %s: %w", viewerID, err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		out[id] = amount
	}
	return out, rows.Err()
}

// UpsertViewer creates the viewer or refreshes its name, presence and roles.
// DisableAutoStatAccrual is only written on insert; use SetAutoStatAccrual to change it.
// The returned bool reports whether the viewer was newly created.
func (s *SQLStore) UpsertViewer(ctx context.Context, v Viewer) (bool, error) {
	if v.ID == "" || v.Username == "" {
		return false, fmt.Errorf("viewer id and username required")
	}
	roles, err := json.Marshal(nonNil(v.Roles))
	if err != nil {
		return false, err
	}
	now := s.now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM viewers WHERE id = ?`), v.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check viewer %s: %w", v.Username, err)
	}
	if exists > 0 {
		_, err = tx.ExecContext(ctx, s.q(`UPDATE viewers SET username = ?, display_name = ?, online = ?, roles = ?, last_seen = ? WHERE id = ?`),
			strings.ToLower(v.Username), v.DisplayName, v.Online, string(roles), now, v.ID)
	} else {
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO viewers (id, username, display_name, online, disable_auto_stat_accrual, roles, seq, created_at, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM viewers), ?, ?)`),
			v.ID, strings.ToLower(v.Username), v.DisplayName, v.Online, v.DisableAutoStatAccrual, string(roles), now, now)
	}
	if err != nil {
		return false, fmt.Errorf("upsert viewer %s: %w", v.Username, err)
	}
	return exists == 0, tx.Commit()
}

// SetOnline flips presence for a username. Unknown usernames are ignored.
func (s *SQLStore) SetOnline(ctx context.Context, username string, online bool) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE viewers SET online = ?, last_seen = ? WHERE username = ?`), online, s.now().UnixMilli(), strings.ToLower(username))
	if err != nil {
		return fmt.Errorf("set online %s: %w", username, err)
	}
	return nil
}

// SetAllOffline marks every viewer offline (on disconnect or start-up).
func (s *SQLStore) SetAllOffline(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE viewers SET online = ? WHERE online = ?`), false, true); err != nil {
		return fmt.Errorf("set all offline: %w", err)
	}
	return nil
}

// SetAutoStatAccrual toggles the bulk-operation opt-out flag.
func (s *SQLStore) SetAutoStatAccrual(ctx context.Context, username string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE viewers SET disable_auto_stat_accrual = ? WHERE username = ?`), disabled, strings.ToLower(username))
	if err != nil {
		return fmt.Errorf("set accrual %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListViewers returns viewers in creation order.
func (s *SQLStore) ListViewers(ctx context.Context, f ViewerFilter) ([]Viewer, error) {
	query := `SELECT ` + viewerColumns + ` FROM viewers`
	var args []any
	if f.OnlineOnly {
		query += ` WHERE online = ?`
		args = append(args, true)
	}
	query += ` ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list viewers: %w", err)
	}
	defer rows.Close()
	var out []Viewer
	for rows.Next() {
		v, err := scanViewer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---- balances ----

// GetBalance returns the stored amount and whether a row exists.
func (s *SQLStore) GetBalance(ctx context.Context, viewerID, currencyID string) (int64, bool, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT amount FROM viewer_balances WHERE viewer_id = ? AND currency_id = ?`), viewerID, currencyID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get balance: %w", err)
	}
	return amount, true, nil
}

// UpdateBalance reads the current amount (0 when unset), applies fn and
// writes the result in one transaction. Callers serialize per viewer.
func (s *SQLStore) UpdateBalance(ctx context.Context, viewerID, currencyID string, fn func(current int64) int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, s.q(`SELECT amount FROM viewer_balances WHERE viewer_id = ? AND currency_id = ?`), viewerID, currencyID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	next := fn(current)
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO viewer_balances (viewer_id, currency_id, amount) VALUES (?, ?, ?)
		ON CONFLICT (viewer_id, currency_id) DO UPDATE SET amount = excluded.amount`), viewerID, currencyID, next)
	if err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// SetBalanceForAll writes amount into every viewer's balance for a currency.
func (s *SQLStore) SetBalanceForAll(ctx context.Context, currencyID string, amount int64) error {
	// WHERE 1=1 disambiguates INSERT..SELECT..ON CONFLICT for SQLite.
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO viewer_balances (viewer_id, currency_id, amount)
		SELECT id, ?, ? FROM viewers WHERE 1=1
		ON CONFLICT (viewer_id, currency_id) DO UPDATE SET amount = excluded.amount`), currencyID, amount)
	if err != nil {
		return fmt.Errorf("set balance for all: %w", err)
	}
	return nil
}

// DeleteBalances drops a currency from every viewer.
func (s *SQLStore) DeleteBalances(ctx context.Context, currencyID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM viewer_balances WHERE currency_id = ?`), currencyID); err != nil {
		return fmt.Errorf("delete balances: %w", err)
	}
	return nil
}

// ListHolders returns every viewer with their amount for a currency (unset
// counts as 0), highest first, ties in viewer creation order. limit <= 0
// returns everyone.
func (s *SQLStore) ListHolders(ctx context.Context, currencyID string, limit int) ([]Holder, error) {
	query := `SELECT v.username, COALESCE(b.amount, 0) AS balance
		FROM viewers v
		LEFT JOIN viewer_balances b ON b.viewer_id = v.id AND b.currency_id = ?
		ORDER BY balance DESC, v.seq ASC`
	args := []any{currencyID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	defer rows.Close()
	out := []Holder{}
	for rows.Next() {
		var h Holder
		if err := rows.Scan(&h.Username, &h.Amount); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SumBalances returns the total amount in circulation for a currency.
func (s *SQLStore) SumBalances(ctx context.Context, currencyID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT CAST(SUM(amount) AS BIGINT) FROM viewer_balances WHERE currency_id = ?`), currencyID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum balances: %w", err)
	}
	return total.Int64, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
