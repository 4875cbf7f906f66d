package intelapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/poller"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage/memstore"
)

const (
	testToken  = "api-token"
	testSecret = "hook-secret"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	updates []*telegram.Update
}

func (d *fakeDispatcher) Dispatch(_ context.Context, u *telegram.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
}

type fakePoller struct {
	running atomic.Bool
	polls   atomic.Int32
}

func (p *fakePoller) Running() bool { return p.running.Load() }

func (p *fakePoller) Poll(context.Context) (*poller.Result, error) {
	p.polls.Add(1)
	return &poller.Result{RunID: "run"}, nil
}

type testEnv struct {
	api        *API
	router     chi.Router
	svc        *triage.Service
	dispatcher *fakeDispatcher
	poller     *fakePoller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog := triage.DefaultCatalog()
	router := triage.NewRouter(catalog, nil, nil, log.Nop(), triage.Hooks{})
	svc := triage.NewService(memstore.New(), catalog, router, nil, log.Nop())

	e := &testEnv{svc: svc, dispatcher: &fakeDispatcher{}, poller: &fakePoller{}}
	e.api = New(nil, svc,
		WithToken(testToken),
		WithWebhook(e.dispatcher, testSecret),
		WithPoller(e.poller),
	)
	e.router = chi.NewRouter()
	e.api.RegisterRoutes(e.router)
	return e
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

var authed = map[string]string{"Authorization": "Bearer " + testToken}

// New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	if e.api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Auth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		headers    map[string]string
		wantStatus int
	}{
		{"list without token", http.MethodGet, "/api/v1/items", nil, http.StatusUnauthorized},
		{"list with token", http.MethodGet, "/api/v1/items", authed, http.StatusOK},
		{"wrong token", http.MethodGet, "/api/v1/items", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"daily", http.MethodGet, "/api/v1/digest/daily", authed, http.StatusOK},
		{"weekly", http.MethodGet, "/api/v1/digest/weekly", authed, http.StatusOK},
		{"webhook without secret", http.MethodPost, "/telegram/webhook", nil, http.StatusUnauthorized},
		{"unknown path", http.MethodGet, "/api/v1/nope", authed, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/items", authed, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := e.do(t, tt.method, tt.path, "", tt.headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_OptionalSurfaces(t *testing.T) {
	t.Parallel()

	catalog := triage.DefaultCatalog()
	svc := triage.NewService(memstore.New(), catalog, triage.NewRouter(catalog, nil, nil, nil, triage.Hooks{}), nil, nil)
	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)

	for _, path := range []string{"/api/v1/items", "/telegram/webhook"} {
		req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("POST %s = %d, want 404 when unconfigured", path, rec.Code)
		}
	}
}

// Handlers

func TestHandleSubmit(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	const link = "https://deadline.com/story"

	rec := e.do(t, http.MethodPost, "/api/v1/items", `{"url":"`+link+`"}`, authed)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SubmissionID == "" || resp.ItemID != triage.ItemID(link) || resp.Duplicate {
		t.Errorf("resp = %+v", resp)
	}

	e.api.Wait()

	rec = e.do(t, http.MethodGet, "/api/v1/items/"+resp.ItemID, "", authed)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var item triage.Item
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.Status != triage.StatusPending || item.SourceName != "deadline.com" {
		t.Errorf("item = %+v", item)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/items", `{"url":"`+link+`"}`, authed)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	resp = submitResponse{}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Duplicate {
		t.Errorf("resp = %+v, want duplicate", resp)
	}
}

func TestHandleSubmit_PaddedURLResolves(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/items", `{"url":"  https://variety.com/story \n"}`, authed)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ItemID != triage.ItemID("https://variety.com/story") {
		t.Errorf("item_id = %q, want id of the trimmed url", resp.ItemID)
	}

	e.api.Wait()

	if rec := e.do(t, http.MethodGet, "/api/v1/items/"+resp.ItemID, "", authed); rec.Code != http.StatusOK {
		t.Errorf("returned item_id does not resolve: status = %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/v1/items", `{"url":"https://variety.com/story"}`, authed)
	if rec.Code != http.StatusOK {
		t.Errorf("unpadded resubmission status = %d, want 200 duplicate", rec.Code)
	}
}

func TestHandleSubmit_Invalid(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	for _, body := range []string{`{`, `{"url":""}`, `{"url":"ftp://x/y"}`, `{"url":"/relative"}`, `{"url":"   "}`} {
		rec := e.do(t, http.MethodPost, "/api/v1/items", body, authed)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleGetItem_NotFound(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/items/missing", "", authed)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListItems(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	for _, l := range []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"} {
		if _, err := e.svc.Ingest(context.Background(), triage.Candidate{Locator: l, SourceKind: triage.SourceFeed, SourceName: "A"}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	tests := []struct {
		query      string
		wantStatus int
		wantCount  int
	}{
		{"", http.StatusOK, 3},
		{"?status=pending&limit=2", http.StatusOK, 2},
		{"?status=filed", http.StatusOK, 0},
		{"?status=bogus", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			rec := e.do(t, http.MethodGet, "/api/v1/items"+tt.query, "", authed)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				Items []triage.Item `json:"items"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Items) != tt.wantCount {
				t.Errorf("items = %d, want %d", len(body.Items), tt.wantCount)
			}
		})
	}
}

func TestHandleDaily(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	if _, err := e.svc.Ingest(context.Background(), triage.Candidate{Locator: "https://a.com/x", SourceKind: triage.SourceFeed, SourceName: "A"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	rec := e.do(t, http.MethodGet, "/api/v1/digest/daily", "", authed)
	var stats triage.DailyStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalToday != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleWebhook(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	hdr := map[string]string{telegram.SecretHeader: testSecret}

	rec := e.do(t, http.MethodPost, "/telegram/webhook", `{"update_id":5,"message":{"message_id":1,"chat":{"id":1},"text":"/stats"}}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(e.dispatcher.updates) != 1 || e.dispatcher.updates[0].UpdateID != 5 {
		t.Errorf("dispatched = %+v", e.dispatcher.updates)
	}

	rec = e.do(t, http.MethodPost, "/telegram/webhook", `{`, hdr)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid payload status = %d", rec.Code)
	}
}

func TestHandlePoll(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/poll", "", authed)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	e.api.Wait()
	if e.poller.polls.Load() != 1 {
		t.Errorf("polls = %d", e.poller.polls.Load())
	}

	e.poller.running.Store(true)
	rec = e.do(t, http.MethodPost, "/api/v1/poll", "", authed)
	if rec.Code != http.StatusConflict {
		t.Errorf("busy status = %d, want 409", rec.Code)
	}
}

func FuzzWebhook(f *testing.F) {
	f.Add(`{"update_id":1,"message":{"message_id":1,"chat":{"id":1},"text":"hi"}}`)
	f.Add(`{"update_id":2,"callback_query":{"id":"x","from":{"id":1},"data":"y|abc"}}`)
	f.Add(`{}`)
	f.Add(`[`)

	f.Fuzz(func(t *testing.T, body string) {
		e := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		req.Header.Set(telegram.SecretHeader, testSecret)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK && rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
}
