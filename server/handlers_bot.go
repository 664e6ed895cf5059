package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/calls-relay/authstore"
	dbpkg "github.com/onnwee/calls-relay/db"
	"github.com/onnwee/calls-relay/telemetry"
)

// botEvent is the envelope for the bot's own webhook: new messages (commands)
// and membership changes (the bot or an authorized user entering/leaving).
type botEvent struct {
	Resource string `json:"resource"`
	Event    string `json:"event"`
	Data     struct {
		ID          string `json:"id"`
		RoomID      string `json:"roomId"`
		PersonID    string `json:"personId"`
		PersonEmail string `json:"personEmail,omitempty"`
	} `json:"data"`
}

// HandleBotWebhook processes the bot's message and membership notifications.
// Like the calls endpoint it always answers 200; command failures are a
// conversation between the bot and the room, not the webhook sender.
func (h *Handlers) HandleBotWebhook(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	var ev botEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		log.Error("malformed bot webhook payload", slog.Any("err", err))
		_, _ = w.Write([]byte("Ignoring."))
		return
	}

	switch {
	case ev.Resource == "messages" && ev.Event == "created":
		h.handleInboundMessage(w, r, &ev)
	case ev.Resource == "memberships" && ev.Event == "created":
		h.handleMembershipCreated(w, r, &ev)
	case ev.Resource == "memberships" && ev.Event == "deleted":
		h.handleMembershipDeleted(w, r, &ev)
	default:
		log.Debug("unhandled bot webhook",
			slog.String("resource", ev.Resource), slog.String("event", ev.Event))
		_, _ = w.Write([]byte("Ignoring."))
	}
}

func (h *Handlers) handleInboundMessage(w http.ResponseWriter, r *http.Request, ev *botEvent) {
	log := telemetry.LoggerWithCorr(r.Context())
	if ev.Data.PersonID == h.botPersonID(r.Context()) {
		// Our own post echoing back; reacting would loop on the /help text.
		_, _ = w.Write([]byte("Ignoring."))
		return
	}

	msg, err := h.relay.FetchMessage(r.Context(), ev.Data.ID)
	if err != nil {
		log.Error("failed to fetch inbound message", slog.String("id", ev.Data.ID), slog.Any("err", err))
		_, _ = w.Write([]byte("Ignoring."))
		return
	}

	// Hearing any message proves the bot is in this room; remember it so
	// /auth can validate authorization links against it.
	if err := dbpkg.SetKV(r.Context(), h.db, "room:"+msg.RoomID, "known"); err != nil {
		log.Warn("failed to record known room", slog.String("room", msg.RoomID), slog.Any("err", err))
	}

	displayName := ev.Data.PersonEmail
	if name, err := h.personDisplayName(r, msg.PersonID); err == nil {
		displayName = name
	}

	if err := h.cmds.Handle(r.Context(), msg.RoomID, msg.PersonID, displayName, msg.Text); err != nil {
		log.Error("command handling failed",
			slog.String("room", msg.RoomID), slog.String("text", msg.Text), slog.Any("err", err))
	}
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) handleMembershipCreated(w http.ResponseWriter, r *http.Request, ev *botEvent) {
	log := telemetry.LoggerWithCorr(r.Context())
	if ev.Data.PersonID == h.botPersonID(r.Context()) {
		// The bot was just added to a space: remember the room and introduce
		// ourselves with the authorization instructions.
		if err := dbpkg.SetKV(r.Context(), h.db, "room:"+ev.Data.RoomID, "known"); err != nil {
			log.Warn("failed to record known room", slog.String("room", ev.Data.RoomID), slog.Any("err", err))
		}
		if err := h.cmds.Handle(r.Context(), ev.Data.RoomID, ev.Data.PersonID, "", "/help"); err != nil {
			log.Warn("failed to post instructions", slog.String("room", ev.Data.RoomID), slog.Any("err", err))
		}
	}
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) handleMembershipDeleted(w http.ResponseWriter, r *http.Request, ev *botEvent) {
	log := telemetry.LoggerWithCorr(r.Context())
	if ev.Data.PersonID == h.botPersonID(r.Context()) {
		// The bot itself was removed; the room is no longer valid for links.
		if err := dbpkg.DeleteKV(r.Context(), h.db, "room:"+ev.Data.RoomID); err != nil {
			log.Warn("failed to forget room", slog.String("room", ev.Data.RoomID), slog.Any("err", err))
		}
		_, _ = w.Write([]byte("OK"))
		return
	}
	// An authorized user leaving takes their webhooks with them; suppress the
	// farewell so we don't post as someone no longer present.
	err := h.relay.DeleteOneAuthorization(r.Context(), ev.Data.RoomID, ev.Data.PersonID, true)
	if err != nil && !errors.Is(err, authstore.ErrNoAuthorization) {
		log.Error("failed to tear down authorization for departed user",
			slog.String("room", ev.Data.RoomID), slog.String("person", ev.Data.PersonID), slog.Any("err", err))
	}
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) personDisplayName(r *http.Request, personID string) (string, error) {
	p, err := h.relay.PersonByID(r.Context(), personID)
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}
