// Package store persists translated queries in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var ErrNotFound = errors.New("query not found")

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Record là một bản dịch của rule theo dialect; (RuleUID, Dialect) là duy nhất.
type Record struct {
	RuleUID   string    `json:"rule_uid"`
	Dialect   string    `json:"dialect"`
	Title     string    `json:"title"`
	Query     string    `json:"query,omitempty"`
	Table     string    `json:"table,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open kết nối Postgres (driver lib/pq) và ping thử.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return New(db), nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate chạy schema nhúng; các statement tách bằng ';'.
func (s *Store) Migrate(ctx context.Context) error {
	for _, c := range strings.Split(schemaSQL, ";") {
		stmt := strings.TrimSpace(c)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO translated_queries(rule_uid, dialect, title, query, search_table, status, error, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (rule_uid, dialect) DO UPDATE SET title=EXCLUDED.title, query=EXCLUDED.query, search_table=EXCLUDED.search_table,
            status=EXCLUDED.status, error=EXCLUDED.error, updated_at=EXCLUDED.updated_at`,
		rec.RuleUID, rec.Dialect, rec.Title, rec.Query, rec.Table, rec.Status, rec.Error, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", rec.RuleUID, rec.Dialect, err)
	}
	return nil
}

const selectCols = `SELECT rule_uid, dialect, title, query, search_table, status, error, updated_at FROM translated_queries`

// List trả các bản dịch mới nhất; dialect rỗng = mọi dialect.
func (s *Store) List(ctx context.Context, dialect string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var (
		rows *sql.Rows
		err  error
	)
	if dialect == "" {
		rows, err = s.db.QueryContext(ctx, selectCols+` ORDER BY updated_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectCols+` WHERE dialect=$1 ORDER BY updated_at DESC LIMIT $2`, dialect, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, ruleUID, dialect string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE rule_uid=$1 AND dialect=$2`, ruleUID, dialect)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var r Record
	if err := sc.Scan(&r.RuleUID, &r.Dialect, &r.Title, &r.Query, &r.Table, &r.Status, &r.Error, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan query: %w", err)
	}
	return r, nil
}
