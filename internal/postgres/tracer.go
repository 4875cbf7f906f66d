package postgres

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Query origins. HTTP queries are further labelled with method and route.
const (
	OriginHTTP     = "http"
	OriginTelegram = "telegram"
	OriginCron     = "cron"
	originUnknown  = "unknown"
)

// slowQuery is the log threshold for successful queries. Failed queries are
// always logged.
const slowQuery = 250 * time.Millisecond

// storePkg marks the frames whose method names become the operation label.
const storePkg = "/internal/triage/pgstore."

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

type originKey struct{}

type queryStartKey struct{}

type queryStart struct {
	sql       string
	args      []any
	start     time.Time
	operation string
	caller    string
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, origin, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, origin, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, origin, operation, outcome string, dur time.Duration) {
	f(ctx, origin, operation, outcome, dur)
}

// SetQueryObserver sets the global query observer.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// WithOrigin tags ctx with where its queries come from, e.g. OriginTelegram
// or OriginCron+":poll".
func WithOrigin(ctx context.Context, origin string) context.Context {
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, origin)
}

// originLabel resolves the metrics origin. HTTP origins carry the method and
// the chi route pattern, never the raw path.
func originLabel(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	if origin == "" {
		return originUnknown
	}
	if origin != OriginHTTP {
		return origin
	}
	rc := chi.RouteContext(ctx)
	if rc == nil || rc.RoutePattern() == "" {
		return OriginHTTP
	}
	return OriginHTTP + " " + rc.RouteMethod + " " + rc.RoutePattern()
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) with metrics and
// slow/failed query logging.
type loggingTracer struct {
	inner pgx.QueryTracer
	obs   QueryObserver // nil uses the global observer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) observer() QueryObserver {
	if t.obs != nil {
		return t.obs
	}
	return getQueryObserver()
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	operation, caller := storeFrames()

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.caller", caller),
			attribute.String("watchtower.origin", originLabel(ctx)),
		)
	}

	return context.WithValue(ctx, queryStartKey{}, &queryStart{
		sql:       data.SQL,
		args:      data.Args,
		start:     time.Now(),
		operation: operation,
		caller:    caller,
	})
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(queryStartKey{}).(*queryStart)
	if qs == nil {
		qs = &queryStart{operation: originUnknown}
	}
	var dur time.Duration
	if !qs.start.IsZero() {
		dur = time.Since(qs.start)
	}

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := t.observer(); obs != nil {
		obs.ObserveQuery(ctx, originLabel(ctx), qs.operation, outcome, dur)
	}

	if data.Err == nil && dur < slowQuery {
		return
	}

	fields := []any{
		"db.statement", compactSQL(qs.sql),
		"db.args", argSummary(qs.args),
		"db.duration", dur.Seconds(),
		"db.operation", qs.operation,
		"db.caller", qs.caller,
		"origin", originLabel(ctx),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

// storeFrames walks the stack for the pgstore method issuing the query and
// the first frame above the store.
func storeFrames() (operation, caller string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "",
			strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.Contains(fn, "/internal/postgres."):
		case strings.Contains(fn, storePkg):
			// the outermost store frame names the operation
			operation = methodName(fn)
		case operation != "" || caller == "":
			caller = shortenFuncName(fn)
			if operation != "" {
				return operation, caller
			}
		}
		if !more {
			break
		}
	}
	if operation == "" {
		operation = originUnknown
	}
	return operation, caller
}

// shortenFuncName trims the import path and package, keeping receiver and
// method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}

// methodName keeps only the final method, dropping closures ("func1").
func methodName(fn string) string {
	short := shortenFuncName(fn)
	parts := strings.Split(short, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := parts[i]; p != "" && !strings.HasPrefix(p, "func") {
			return p
		}
	}
	return short
}

// compactSQL collapses whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// argSummary describes bound arguments without their values. Item rows carry
// full article text.
func argSummary(args []any) string {
	if len(args) == 0 {
		return "none"
	}
	types := make([]string, len(args))
	for i, a := range args {
		types[i] = fmt.Sprintf("%T", a)
	}
	return fmt.Sprintf("%d [%s]", len(args), strings.Join(types, ","))
}
