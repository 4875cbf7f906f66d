// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

var tracer = otel.Tracer("github.com/filmmaker-og/filmmaker-ogbot/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists items and prompt correlations in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool; Close releases it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const itemColumns = `id, source_url, source_kind, source_name, title, raw_text, summary,
	status, action, bucket, created_at, filed_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
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

	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE source_url = $1)`, locator).Scan(&ok)
	if err != nil {
		return false, fail(span, fmt.Errorf("exists: %w", err))
	}
	return ok, nil
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
	var filedAt *time.Time
	if !it.FiledAt.IsZero() {
		filedAt = &it.FiledAt
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT DO NOTHING`,
		it.ID, it.Locator, string(it.SourceKind), it.SourceName, it.Title, it.RawText, summaryJSON,
		string(status), string(it.Action), it.Bucket, it.CreatedAt.UTC(), filedAt,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("insert item: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Item, bool, error) {
	ctx, span := startSpan(ctx, "Get", "SELECT")
	defer span.End()

	it, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// UpdateStatus applies u in a single UPDATE. When u.Expect is set the status
// check is part of the WHERE clause, so concurrent callers cannot both apply.
func (s *Store) UpdateStatus(ctx context.Context, id string, u triage.StatusUpdate) (bool, error) {
	ctx, span := startSpan(ctx, "UpdateStatus", "UPDATE")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", id),
		attribute.String("item.status.expect", string(u.Expect)),
	)

	u = u.Normalize()
	q := &query{}
	sets := []string{"status = " + q.arg(string(u.To))}
	if u.Action != triage.ActionNone {
		sets = append(sets, "action = "+q.arg(string(u.Action)))
	}
	if u.Bucket != "" {
		sets = append(sets, "bucket = "+q.arg(u.Bucket), "filed_at = "+q.arg(u.At))
	}
	where := "id = " + q.arg(id)
	if u.Expect != "" {
		where += " AND status = " + q.arg(string(u.Expect))
	}

	tag, err := s.pool.Exec(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE `+where, q.args...)
	if err != nil {
		return false, fail(span, fmt.Errorf("update status: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStatus returns up to limit items with the status ordered by creation time.
func (s *Store) ListByStatus(ctx context.Context, status triage.Status, limit int, newestFirst bool) ([]*triage.Item, error) {
	ctx, span := startSpan(ctx, "ListByStatus", "SELECT")
	defer span.End()

	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	q := &query{}
	sql := `SELECT ` + itemColumns + ` FROM items WHERE status = ` + q.arg(string(status)) +
		` ORDER BY created_at ` + order + `, id`
	if limit > 0 {
		sql += ` LIMIT ` + q.arg(limit)
	}

	items, err := s.queryItems(ctx, sql, q.args...)
	if err != nil {
		return nil, fail(span, err)
	}
	return items, nil
}

// ListFiled returns up to limit filed items with filed_at >= since, newest filing first.
func (s *Store) ListFiled(ctx context.Context, since time.Time, limit int) ([]*triage.Item, error) {
	ctx, span := startSpan(ctx, "ListFiled", "SELECT")
	defer span.End()

	q := &query{}
	sql := `SELECT ` + itemColumns + ` FROM items
		WHERE status = ` + q.arg(string(triage.StatusFiled)) + ` AND filed_at >= ` + q.arg(since.UTC()) + `
		ORDER BY filed_at DESC, id`
	if limit > 0 {
		sql += ` LIMIT ` + q.arg(limit)
	}

	items, err := s.queryItems(ctx, sql, q.args...)
	if err != nil {
		return nil, fail(span, err)
	}
	return items, nil
}

// Count returns the number of items matching f.
func (s *Store) Count(ctx context.Context, f triage.Filter) (int, error) {
	ctx, span := startSpan(ctx, "Count", "SELECT")
	defer span.End()

	q := &query{}
	where := q.filter(f)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM items WHERE `+where, q.args...).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("count: %w", err))
	}
	return n, nil
}

// CountByBucket counts items with a bucket that match f.
func (s *Store) CountByBucket(ctx context.Context, f triage.Filter) (map[string]int, error) {
	ctx, span := startSpan(ctx, "CountByBucket", "SELECT")
	defer span.End()

	q := &query{}
	where := q.filter(f)
	rows, err := s.pool.Query(ctx,
		`SELECT bucket, count(*) FROM items WHERE bucket <> '' AND `+where+` GROUP BY bucket`, q.args...)
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompts (handle, item_id, created_at) VALUES ($1, $2, now())
		 ON CONFLICT (handle) DO UPDATE SET item_id = EXCLUDED.item_id, created_at = EXCLUDED.created_at`,
		handle, itemID,
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
	err := s.pool.QueryRow(ctx, `SELECT item_id FROM prompts WHERE handle = $1`, handle).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail(span, fmt.Errorf("resolve prompt: %w", err))
	}
	return id, true, nil
}

func (s *Store) queryItems(ctx context.Context, sql string, args ...any) ([]*triage.Item, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
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

// scanItem scans a single row. Returns (nil, nil) when no row is found.
func scanItem(row pgx.Row) (*triage.Item, error) {
	var (
		it          triage.Item
		kind        string
		status      string
		action      string
		summaryJSON []byte
		filedAt     *time.Time
	)
	err := row.Scan(
		&it.ID, &it.Locator, &kind, &it.SourceName, &it.Title, &it.RawText, &summaryJSON,
		&status, &action, &it.Bucket, &it.CreatedAt, &filedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if err := json.Unmarshal(summaryJSON, &it.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary %s: %w", it.ID, err)
	}
	it.SourceKind = triage.SourceKind(kind)
	it.Status = triage.Status(status)
	it.Action = triage.Action(action)
	it.CreatedAt = it.CreatedAt.UTC()
	if filedAt != nil {
		it.FiledAt = filedAt.UTC()
	}
	return &it, nil
}

// query accumulates positional arguments for a statement built in pieces.
type query struct {
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// filter renders f as a WHERE clause; an empty filter matches every row.
func (q *query) filter(f triage.Filter) string {
	conds := []string{"TRUE"}
	if f.Status != "" {
		conds = append(conds, "status = "+q.arg(string(f.Status)))
	}
	if !f.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+q.arg(f.CreatedFrom.UTC()))
	}
	if !f.CreatedTo.IsZero() {
		conds = append(conds, "created_at < "+q.arg(f.CreatedTo.UTC()))
	}
	if !f.FiledFrom.IsZero() {
		conds = append(conds, "filed_at >= "+q.arg(f.FiledFrom.UTC()))
	}
	if !f.FiledTo.IsZero() {
		conds = append(conds, "filed_at < "+q.arg(f.FiledTo.UTC()))
	}
	return strings.Join(conds, " AND ")
}
