// Package sqlitestore persists cookies and the action journal in a SQLite
// file next to the config.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS cookies (
    scope TEXT NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    path TEXT,
    domain TEXT,
    expires TIMESTAMP,
    secure BOOLEAN NOT NULL DEFAULT 0,
    http_only BOOLEAN NOT NULL DEFAULT 0,
    PRIMARY KEY (scope, name)
);

CREATE TABLE IF NOT EXISTS actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identity TEXT NOT NULL,
    item_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    pattern TEXT,
    penalty REAL,
    ok BOOLEAN NOT NULL DEFAULT 0,
    message TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_actions_created_at ON actions(created_at);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.New: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore.New: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore.New: creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveCookies(scope string, cookies []store.Cookie) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cookies WHERE scope = ?`, scope); err != nil {
		return err
	}
	for _, c := range cookies {
		var expires sql.NullTime
		if !c.Expires.IsZero() {
			expires = sql.NullTime{Time: c.Expires.UTC(), Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO cookies (scope, name, value, path, domain, expires, secure, http_only)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			scope, c.Name, c.Value, c.Path, c.Domain, expires, c.Secure, c.HTTPOnly,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadCookies(scope string) ([]store.Cookie, error) {
	rows, err := s.db.Query(
		`SELECT scope, name, value, path, domain, expires, secure, http_only
		FROM cookies WHERE scope = ? ORDER BY name`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cookies []store.Cookie
	for rows.Next() {
		var (
			c            store.Cookie
			path, domain sql.NullString
			expires      sql.NullTime
		)
		if err := rows.Scan(&c.Scope, &c.Name, &c.Value, &path, &domain, &expires, &c.Secure, &c.HTTPOnly); err != nil {
			return nil, err
		}
		c.Path = path.String
		c.Domain = domain.String
		if expires.Valid {
			c.Expires = expires.Time
		}
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}

func (s *SQLiteStore) ClearCookies(scope string) error {
	_, err := s.db.Exec(`DELETE FROM cookies WHERE scope = ?`, scope)
	return err
}

func (s *SQLiteStore) RecordAction(rec *store.ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO actions (identity, item_id, kind, pattern, penalty, ok, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Identity, rec.ItemID, rec.Kind, rec.Pattern, rec.Penalty, rec.OK, rec.Message, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = int(id)
	return nil
}

func (s *SQLiteStore) GetActions(ordering constants.Ordering, limit int) ([]store.ActionRecord, error) {
	order := "DESC"
	if ordering == constants.AscendingOrdering {
		order = "ASC"
	}
	query := `SELECT id, identity, item_id, kind, pattern, penalty, ok, message, created_at
		FROM actions ORDER BY id ` + order
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.ActionRecord
	for rows.Next() {
		var (
			r                store.ActionRecord
			pattern, message sql.NullString
			penalty          sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Identity, &r.ItemID, &r.Kind, &pattern, &penalty, &r.OK, &message, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Pattern = pattern.String
		r.Penalty = penalty.Float64
		r.Message = message.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) CountActions() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&count)
	return count, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
