// Package intelapi exposes the Telegram webhook and a bearer-token JSON API
// over the triage service.
package intelapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/authmw"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/poller"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// TriageService defines the business operations intelapi needs.
type TriageService interface {
	Seen(ctx context.Context, locator string) (bool, error)
	Ingest(ctx context.Context, c triage.Candidate) (*triage.IngestResult, error)
	Get(ctx context.Context, id string) (*triage.Item, bool, error)
	List(ctx context.Context, status triage.Status, limit int) ([]*triage.Item, error)
	DailyStats(ctx context.Context) (*triage.DailyStats, error)
	WeeklyFiledItems(ctx context.Context) ([]*triage.Item, error)
}

// Poller runs feed poll cycles on demand.
type Poller interface {
	Running() bool
	Poll(ctx context.Context) (*poller.Result, error)
}

// Dispatcher handles webhook updates in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, u *telegram.Update)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	svc        TriageService
	poller     Poller
	dispatcher Dispatcher
	secret     string
	token      string

	// background submissions and polls
	wg sync.WaitGroup
}

// Option configures an API.
type Option func(*API)

// WithToken enables the /api/v1 routes behind bearer token auth.
func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithWebhook enables POST /telegram/webhook, authenticated by secret.
func WithWebhook(d Dispatcher, secret string) Option {
	return func(a *API) {
		a.dispatcher = d
		a.secret = secret
	}
}

// WithPoller enables POST /api/v1/poll.
func WithPoller(p Poller) Option {
	return func(a *API) { a.poller = p }
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router. The webhook is only
// mounted with a secret and the JSON API only with a token.
func (a *API) RegisterRoutes(r chi.Router) {
	if a.dispatcher != nil && a.secret != "" {
		r.With(authmw.HeaderSecret(telegram.SecretHeader, a.secret)).
			Post("/telegram/webhook", a.handleWebhook)
	}
	if a.token == "" {
		return
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.BearerToken(a.token))
		r.Post("/items", a.handleSubmit)
		r.Get("/items", a.handleListItems)
		r.Get("/items/{id}", a.handleGetItem)
		r.Get("/digest/daily", a.handleDaily)
		r.Get("/digest/weekly", a.handleWeekly)
		if a.poller != nil {
			r.Post("/poll", a.handlePoll)
		}
	})
}

// Wait blocks until background submissions and polls finish.
func (a *API) Wait() {
	a.wg.Wait()
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("watchtower.item.id", id))

	item, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get item", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("watchtower.item.status", string(item.Status)))

	writeJSON(w, http.StatusOK, item)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
