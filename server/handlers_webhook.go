package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/calls-relay/relay"
	"github.com/onnwee/calls-relay/telemetry"
)

// HandleCallsWebhook receives calls/callMemberships notifications and relays
// them into the originating room. The response is always 200 with a short
// human string: signaling failure by status would only make the platform
// retry deliveries we have already decided to drop.
func (h *Handlers) HandleCallsWebhook(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	var ev relay.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Name == "" || ev.Secret == "" {
		log.Error("can't find person and room in webhook data", slog.Any("err", err))
		_, _ = w.Write([]byte("Ignoring."))
		return
	}

	rec, err := h.relay.Resolve(r.Context(), ev.Secret, ev.CreatedBy)
	if err != nil {
		log.Error("webhook resolution failed", slog.Any("err", err))
		_, _ = w.Write([]byte("Ignoring."))
		return
	}
	if rec == nil || rec.AccessToken == "" {
		// Expected for since-revoked users; drop quietly.
		telemetry.RelaysDropped.Inc()
		log.Debug("no authorization for inbound webhook",
			slog.String("resource", ev.Resource), slog.String("event", ev.Event))
		_, _ = w.Write([]byte("Ignoring."))
		return
	}

	_, _ = w.Write([]byte("Posting to Webex Teams Room"))

	// Relay after responding; delivery latency shouldn't depend on our
	// upstream lookups.
	go func() {
		ctx := context.WithoutCancel(r.Context())
		if err := h.relay.Dispatch(ctx, rec, &ev); err != nil {
			slog.Error("webhook dispatch failed",
				slog.String("room", rec.RoomID),
				slog.String("person", rec.DisplayName),
				slog.Any("err", err))
		}
	}()
}
