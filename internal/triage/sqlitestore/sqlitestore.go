// Package sqlitestore provides a single-file SQLite implementation of
// triage.Store for deployments without PostgreSQL.
//
// Timestamps are stored as unix nanoseconds in UTC.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

var tracer = otel.Tracer("github.com/filmmaker-og/filmmaker-ogbot/internal/triage/sqlitestore")

//go:embed schema.sql
var schema string

// Store persists items and prompt correlations in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Path may be ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const itemColumns = `id, source_url, source_kind, source_name, title, raw_text, summary,
	status, action, bucket, created_at, filed_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlitestore."+name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Exists reports whether an item with the locator was ever stored.
func (s *Store) Exists(ctx context.Context, locator string) (bool, error) {
	ctx, span := startSpan(ctx, "Exists", "SELECT")
	defer span.End()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM items WHERE source_url = ?`, locator).Scan(&n)
	if err != nil {
		return false, fail(span, fmt.Errorf("exists: %w", err))
	}
	return n > 0, nil
}

// Create inserts the item unless its id or locator is already present.
func (s *Store) Create(ctx context.Context, it *triage.Item) (bool, error) {
	ctx, span := startSpan(ctx, "Create", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", it.ID))

	summaryJSON, err := json.Marshal(it.Summary)
	if err != nil {
		return false, fail(span, fmt.Errorf("marshal summary: %w", err))
	}
	status := it.Status
	if status == "" {
		status = triage.StatusPending
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items (`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Locator, string(it.SourceKind), it.SourceName, it.Title, it.RawText, string(summaryJSON),
		string(status), string(it.Action), it.Bucket, toNanos(it.CreatedAt), nullNanos(it.FiledAt),
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("insert item: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fail(span, fmt.Errorf("rows affected: %w", err))
	}
	return n == 1, nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Item, bool, error) {
	ctx, span := startSpan(ctx, "Get", "SELECT")
	defer span.End()

	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// UpdateStatus applies u in a single UPDATE; the Expect check is part of
// the WHERE clause.
func (s *Store) UpdateStatus(ctx context.Context, id string, u triage.StatusUpdate) (bool, error) {
	ctx, span := startSpan(ctx, "UpdateStatus", "UPDATE")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", id),
		attribute.String("item.status.expect", string(u.Expect)),
	)

	u = u.Normalize()
	sets := []string{"status = ?"}
	args := []any{string(u.To)}
	if u.Action != triage.ActionNone {
		sets = append(sets, "action = ?")
		args = append(args, string(u.Action))
	}
	if u.Bucket != "" {
		sets = append(sets, "bucket = ?", "filed_at = ?")
		args = append(args, u.Bucket, toNanos(u.At))
	}
	where := "id = ?"
	args = append(args, id)
	if u.Expect != "" {
		where += " AND status = ?"
		args = append(args, string(u.Expect))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	if err != nil {
		return false, fail(span, fmt.Errorf("update status: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fail(span, fmt.Errorf("rows affected: %w", err))
	}
	return n == 1, nil
}

// ListByStatus returns up to limit items with the status ordered by creation time.
func (s *Store) ListByStatus(ctx context.Context, status triage.Status, limit int, newestFirst bool) ([]*triage.Item, error) {
	ctx, span := startSpan(ctx, "ListByStatus", "SELECT")
	defer span.End()

	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	q := `SELECT ` + itemColumns + ` FROM items WHERE status = ? ORDER BY created_at ` + order + `, id`
	args := []any{string(status)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	items, err := s.queryItems(ctx, q, args...)
	if err != nil {
		return nil, fail(span, err)
	}
	return items, nil
}

// ListFiled returns up to limit filed items with filed_at >= since, newest filing first.
func (s *Store) ListFiled(ctx context.Context, since time.Time, limit int) ([]*triage.Item, error) {
	ctx, span := startSpan(ctx, "ListFiled", "SELECT")
	defer span.End()

	q := `SELECT ` + itemColumns + ` FROM items WHERE status = ? AND filed_at >= ? ORDER BY filed_at DESC, id`
	args := []any{string(triage.StatusFiled), toNanos(since)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	items, err := s.queryItems(ctx, q, args...)
	if err != nil {
		return nil, fail(span, err)
	}
	return items, nil
}

// Count returns the number of items matching f.
func (s *Store) Count(ctx context.Context, f triage.Filter) (int, error) {
	ctx, span := startSpan(ctx, "Count", "SELECT")
	defer span.End()

	where, args := filterClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM items WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("count: %w", err))
	}
	return n, nil
}

// CountByBucket counts items with a bucket that match f.
func (s *Store) CountByBucket(ctx context.Context, f triage.Filter) (map[string]int, error) {
	ctx, span := startSpan(ctx, "CountByBucket", "SELECT")
	defer span.End()

	where, args := filterClause(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket, count(*) FROM items WHERE bucket <> '' AND `+where+` GROUP BY bucket`, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count by bucket: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			bucket string
			n      int
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan bucket count: %w", err))
		}
		out[bucket] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate bucket counts: %w", err))
	}
	return out, nil
}

// RecordPrompt correlates handle with itemID, replacing any previous entry.
func (s *Store) RecordPrompt(ctx context.Context, handle, itemID string) error {
	ctx, span := startSpan(ctx, "RecordPrompt", "UPSERT")
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (handle, item_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (handle) DO UPDATE SET item_id = excluded.item_id, created_at = excluded.created_at`,
		handle, itemID, toNanos(time.Now()),
	)
	if err != nil {
		return fail(span, fmt.Errorf("record prompt: %w", err))
	}
	return nil
}

// ResolvePrompt returns the item correlated with handle.
func (s *Store) ResolvePrompt(ctx context.Context, handle string) (string, bool, error) {
	ctx, span := startSpan(ctx, "ResolvePrompt", "SELECT")
	defer span.End()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT item_id FROM prompts WHERE handle = ?`, handle).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail(span, fmt.Errorf("resolve prompt: %w", err))
	}
	return id, true, nil
}

func (s *Store) queryItems(ctx context.Context, q string, args ...any) ([]*triage.Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []*triage.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans a single row. Returns (nil, nil) when no row is found.
func scanItem(row rowScanner) (*triage.Item, error) {
	var (
		it          triage.Item
		kind        string
		status      string
		action      string
		summaryJSON string
		createdAt   int64
		filedAt     sql.NullInt64
	)
	err := row.Scan(
		&it.ID, &it.Locator, &kind, &it.SourceName, &it.Title, &it.RawText, &summaryJSON,
		&status, &action, &it.Bucket, &createdAt, &filedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if err := json.Unmarshal([]byte(summaryJSON), &it.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary %s: %w", it.ID, err)
	}
	it.SourceKind = triage.SourceKind(kind)
	it.Status = triage.Status(status)
	it.Action = triage.Action(action)
	it.CreatedAt = fromNanos(createdAt)
	if filedAt.Valid {
		it.FiledAt = fromNanos(filedAt.Int64)
	}
	return &it, nil
}

func filterClause(f triage.Filter) (string, []any) {
	conds := []string{"1 = 1"}
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= ?", toNanos(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < ?", toNanos(f.CreatedTo))
	}
	if !f.FiledFrom.IsZero() {
		add("filed_at >= ?", toNanos(f.FiledFrom))
	}
	if !f.FiledTo.IsZero() {
		add("filed_at < ?", toNanos(f.FiledTo))
	}
	return strings.Join(conds, " AND "), args
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(t), Valid: true}
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
