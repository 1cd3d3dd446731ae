// Package sqlstore persists lots as JSON documents in SQLite or Postgres.
// Each lot row carries a version column; Commit updates it with a
// compare-and-swap inside a single transaction together with the replacement
// request and user history writes.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

type Store struct {
	db *sql.DB
	d  dialect
}

var _ store.Store = (*Store)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. The pool is pinned to one connection so writers queue in
// process instead of failing with SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return open(ctx, db, sqliteDialect)
}

type PostgresConfig struct {
	URL             string        `env:"URL"`
	PingTimeout     time.Duration `env:"PING_TIMEOUT" envDefault:"2s"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("postgres URL is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres max open conns must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("postgres max idle conns must be between 0 and max open conns")
	}
	return nil
}

// OpenPostgres connects through the pgx stdlib driver and applies migrations.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(ctx, db, postgresDialect)
}

func open(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	if err := applyMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, d: d}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateLot(ctx context.Context, l *lot.Lot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := l.Clone()
	row.Version = 1
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode lot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(`
INSERT INTO lots (id, owner_id, status, version, doc, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.OwnerID, string(row.Status), row.Version, doc,
		row.CreatedAt.UnixMilli(), row.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if s.d.conflict(err) {
			return lot.Errorf(lot.KindConflict, "lot %s already exists", l.ID)
		}
		return fmt.Errorf("insert lot: %w", err)
	}
	l.Version = 1
	return nil
}

func (s *Store) LoadLot(ctx context.Context, id string) (lot.Lot, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT doc, version FROM lots WHERE id = ?`), id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.Lot{}, store.NotFound("lot", id)
	}
	if err != nil {
		return lot.Lot{}, fmt.Errorf("load lot %s: %w", id, err)
	}
	var l lot.Lot
	if err := json.Unmarshal(doc, &l); err != nil {
		return lot.Lot{}, fmt.Errorf("decode lot %s: %w", id, err)
	}
	l.Version = version
	return l, nil
}

func (s *Store) LotIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM lots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) LoadReplacement(ctx context.Context, id string) (lot.ReplacementRequest, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT doc, version FROM replacement_requests WHERE id = ?`), id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.ReplacementRequest{}, store.NotFound("replacement request", id)
	}
	if err != nil {
		return lot.ReplacementRequest{}, fmt.Errorf("load replacement request %s: %w", id, err)
	}
	var r lot.ReplacementRequest
	if err := json.Unmarshal(doc, &r); err != nil {
		return lot.ReplacementRequest{}, fmt.Errorf("decode replacement request %s: %w", id, err)
	}
	r.Version = version
	return r, nil
}

func (s *Store) LoadUser(ctx context.Context, id string) (lot.User, error) {
	var u lot.User
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT id, display_name, role FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.DisplayName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.User{}, store.NotFound("user", id)
	}
	if err != nil {
		return lot.User{}, fmt.Errorf("load user %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT doc FROM user_history WHERE user_id = ? ORDER BY position`), id)
	if err != nil {
		return lot.User{}, fmt.Errorf("load history %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return lot.User{}, fmt.Errorf("scan history: %w", err)
		}
		var h lot.UserHistoryEntry
		if err := json.Unmarshal(doc, &h); err != nil {
			return lot.User{}, fmt.Errorf("decode history: %w", err)
		}
		u.History = append(u.History, h)
	}
	return u, rows.Err()
}

// Commit applies c in one transaction. Versions on c.Lot and c.Replacement
// are only bumped after the transaction commits.
func (s *Store) Commit(ctx context.Context, c store.Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin commit: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if c.Lot != nil {
		if err := s.updateLot(ctx, tx, c.Lot, c.LotVersion); err != nil {
			return err
		}
	}
	if c.Replacement != nil {
		if err := s.writeReplacement(ctx, tx, c); err != nil {
			return err
		}
	}
	if c.Actor.ID != "" {
		if err := s.appendHistory(ctx, tx, c.Actor, c.History); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}

	if c.Lot != nil {
		c.Lot.Version = c.LotVersion + 1
	}
	if c.Replacement != nil {
		if c.NewReplacement {
			c.Replacement.Version = 1
		} else {
			c.Replacement.Version = c.ReplacementVersion + 1
		}
	}
	return nil
}

func (s *Store) updateLot(ctx context.Context, tx *sql.Tx, l *lot.Lot, expected int64) error {
	row := l.Clone()
	row.Version = expected + 1
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode lot: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.d.rebind(`
UPDATE lots SET status = ?, version = ?, doc = ?, updated_at = ?
WHERE id = ? AND version = ?`),
		string(row.Status), row.Version, doc, row.UpdatedAt.UnixMilli(), row.ID, expected,
	)
	if err != nil {
		return s.classify(fmt.Errorf("update lot %s: %w", row.ID, err))
	}
	return s.checkSwapped(ctx, tx, res, "lots", "lot", row.ID, expected)
}

func (s *Store) writeReplacement(ctx context.Context, tx *sql.Tx, c store.Change) error {
	row := c.Replacement.Clone()
	if c.NewReplacement {
		row.Version = 1
	} else {
		row.Version = c.ReplacementVersion + 1
	}
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode replacement request: %w", err)
	}
	if c.NewReplacement {
		_, err = tx.ExecContext(ctx, s.d.rebind(`
INSERT INTO replacement_requests (id, lot_id, status, version, doc, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`),
			row.ID, row.LotID, string(row.Status), row.Version, doc, row.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return s.classify(fmt.Errorf("insert replacement request %s: %w", row.ID, err))
		}
		return nil
	}
	res, err := tx.ExecContext(ctx, s.d.rebind(`
UPDATE replacement_requests SET status = ?, version = ?, doc = ?, updated_at = ?
WHERE id = ? AND version = ?`),
		string(row.Status), row.Version, doc, row.UpdatedAt.UnixMilli(), row.ID, c.ReplacementVersion,
	)
	if err != nil {
		return s.classify(fmt.Errorf("update replacement request %s: %w", row.ID, err))
	}
	return s.checkSwapped(ctx, tx, res, "replacement_requests", "replacement request", row.ID, c.ReplacementVersion)
}

// checkSwapped turns a zero-row CAS update into NotFound or Conflict.
func (s *Store) checkSwapped(ctx context.Context, tx *sql.Tx, res sql.Result, table, kind, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM `+table+` WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotFound(kind, id)
	}
	if err != nil {
		return s.classify(fmt.Errorf("check %s %s: %w", kind, id, err))
	}
	return store.Conflict(kind, id, expected)
}

func (s *Store) appendHistory(ctx context.Context, tx *sql.Tx, actor lot.Actor, history []lot.UserHistoryEntry) error {
	_, err := tx.ExecContext(ctx, s.d.rebind(`
INSERT INTO users (id, display_name, role) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, role = excluded.role`),
		actor.ID, actor.DisplayName, string(actor.Role),
	)
	if err != nil {
		return s.classify(fmt.Errorf("upsert user %s: %w", actor.ID, err))
	}
	if len(history) == 0 {
		return nil
	}

	var last int64
	if err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT COALESCE(MAX(position), 0) FROM user_history WHERE user_id = ?`), actor.ID).Scan(&last); err != nil {
		return s.classify(fmt.Errorf("history position %s: %w", actor.ID, err))
	}
	insert := s.d.rebind(`INSERT INTO user_history (user_id, position, entry_id, occurred_at, doc) VALUES (?, ?, ?, ?, ?)`)
	for i, h := range history {
		doc, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, actor.ID, last+int64(i)+1, h.ID, h.Timestamp.UnixMilli(), doc); err != nil {
			return s.classify(fmt.Errorf("append history %s: %w", actor.ID, err))
		}
	}
	return nil
}

// classify maps driver-level contention onto lot.ErrConflict so the engine
// retries; other errors pass through wrapped.
func (s *Store) classify(err error) error {
	if s.d.conflict(err) {
		return &wrappedConflict{err: err}
	}
	return err
}

type wrappedConflict struct{ err error }

func (w *wrappedConflict) Error() string { return w.err.Error() }

func (w *wrappedConflict) Unwrap() []error { return []error{lot.ErrConflict, w.err} }
