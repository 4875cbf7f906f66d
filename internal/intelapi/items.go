package intelapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/scrape"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	SubmissionID string `json:"submission_id,omitempty"`
	ItemID       string `json:"item_id"`
	Duplicate    bool   `json:"duplicate"`
}

// handleSubmit accepts a link for ingestion. Ingestion runs in the background
// because fetching and summarizing can take longer than a client waits.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	// ids hash the trimmed locator, as Ingest does
	req.URL = strings.TrimSpace(req.URL)
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, `{"error":"url must be an absolute http(s) url"}`, http.StatusBadRequest)
		return
	}

	itemID := triage.ItemID(req.URL)
	seen, err := a.svc.Seen(r.Context(), req.URL)
	if err != nil {
		a.logger.Error(r.Context(), err, "dedupe check failed", "url", req.URL)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if seen {
		writeJSON(w, http.StatusOK, submitResponse{ItemID: itemID, Duplicate: true})
		return
	}

	kind, name := scrape.Classify(req.URL)
	c := triage.Candidate{Locator: req.URL, SourceKind: kind, SourceName: name}
	subID := ulid.Make().String()
	L := a.logger.With("submission_id", subID, "item_id", itemID)

	ctx := context.WithoutCancel(r.Context())
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.svc.Ingest(ctx, c); err != nil {
			L.Error(ctx, err, "submitted link ingestion failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, submitResponse{SubmissionID: subID, ItemID: itemID})
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := triage.Status(q.Get("status"))
	if status == "" {
		status = triage.StatusPending
	}
	if !status.Valid() {
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	items, err := a.svc.List(r.Context(), status, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list items", "status", status)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*triage.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleDaily(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.DailyStats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute daily stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleWeekly(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.WeeklyFiledItems(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list weekly items")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*triage.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
