package intelapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/poller"
)

// handleWebhook acknowledges an update immediately and handles it in the
// background; Telegram redelivers updates that are not acknowledged in time.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	u, err := telegram.DecodeUpdate(r.Body)
	if err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	a.dispatcher.Dispatch(r.Context(), u)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	if a.poller.Running() {
		http.Error(w, `{"error":"poll already in progress"}`, http.StatusConflict)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.poller.Poll(ctx); err != nil && !errors.Is(err, poller.ErrBusy) {
			a.logger.Error(ctx, err, "on-demand poll failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
