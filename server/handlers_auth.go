package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	dbpkg "github.com/onnwee/calls-relay/db"
	"github.com/onnwee/calls-relay/relay"
	"github.com/onnwee/calls-relay/telemetry"
	"github.com/onnwee/calls-relay/webexapi"
)

const oauthFailedHeading = "<h1>OAuth Integration could not complete</h1>"

func sendHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

// HandleAuthCallback drives the whole authorization chain for a user coming
// back from the platform's OAuth consent page. Every failure renders a fixed
// HTML page; the interesting diagnostics go to the room and the log.
func (h *Handlers) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())

	// A consent-page error short-circuits the flow; the token endpoint is
	// never contacted.
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		err := webexapi.ClassifyCallbackError(errCode)
		log.Info("authorization declined upstream", slog.String("error", errCode))
		switch {
		case errors.Is(err, webexapi.ErrUserDeclined):
			sendHTML(w, oauthFailedHeading+"<p>Got your NO, ciao.</p>")
		case errors.Is(err, webexapi.ErrInvalidScope):
			sendHTML(w, oauthFailedHeading+"<p>The application is requesting an invalid scope, Bye bye.</p>")
		case errors.Is(err, webexapi.ErrUpstreamServer):
			sendHTML(w, oauthFailedHeading+"<p>Webex sent a Server Error, Auf Wiedersehen.</p>")
		default:
			sendHTML(w, oauthFailedHeading+"<p>Error case not implemented, au revoir.</p>")
		}
		return
	}

	code := r.URL.Query().Get("code")
	roomID := r.URL.Query().Get("state")
	if code == "" || roomID == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}

	// The state must name a room the bot actually lives in; a forged or
	// copy-pasted link to an unknown room goes no further.
	if !h.roomKnown(r.Context(), roomID) {
		sendHTML(w, oauthFailedHeading+
			"<p>You can only authorize the Calls Helper when you click on a link "+
			"supplied by the Calls Webhook Helper bot in a Webex Teams space.</p>")
		return
	}

	rec, err := h.relay.CompleteAuthorization(r.Context(), code, roomID)
	if err != nil {
		h.renderAuthFailure(w, r.Context(), roomID, err)
		return
	}

	sendHTML(w, "<h1>OAuth Integration Successful!</h1><p>"+
		"Return to the Webex Teams space with the Calls Helper bot to see what's next.</p>")

	// The HTTP response is already on its way; confirm in the room as the
	// authorizing user without holding the request open.
	go func() {
		ctx := context.WithoutCancel(r.Context())
		if err := h.relay.SendAuthorizationCompleteMessage(ctx, rec); err != nil {
			slog.Warn("failed to post authorization complete message",
				slog.String("room", rec.RoomID), slog.Any("err", err))
		}
	}()
}

func (h *Handlers) renderAuthFailure(w http.ResponseWriter, ctx context.Context, roomID string, err error) {
	log := telemetry.LoggerWithCorr(ctx)
	log.Error("authorization chain failed", slog.String("room", roomID), slog.Any("err", err))

	var exchange *webexapi.ExchangeError
	var membership *relay.MembershipError
	switch {
	case errors.As(err, &exchange):
		switch exchange.Status {
		case http.StatusBadRequest:
			sendHTML(w, oauthFailedHeading+"<p>Bad request. <br/>"+exchange.Detail+"</p>")
		case http.StatusUnauthorized:
			sendHTML(w, oauthFailedHeading+"<p>OAuth authentication error. Ask the service contact to check the secret.</p>")
		default:
			sendHTML(w, oauthFailedHeading+"<p>Sorry, could not retrieve your access token. Try again...</p>")
		}
	case errors.Is(err, webexapi.ErrMalformedTokenResponse):
		sendHTML(w, oauthFailedHeading+"<p>Sorry, could not retrieve your access token. Try again...</p>")
	case errors.As(err, &membership):
		sendHTML(w, oauthFailedHeading+"<p>Check the Webex Teams space that provided this link for more details.</p>")
		h.notifyRoom(ctx, roomID, "The user who attempted to authorize me: "+membership.DisplayName+
			", is not a member of this space.  Only space members can use this link.\n"+
			"Type **/help** to see the link again.")
	default:
		sendHTML(w, oauthFailedHeading+"<p>Check the Webex Teams space that provided this link for more details.</p>")
		h.notifyRoom(ctx, roomID, "Failed to setup webhooks for a user who just authorized me."+
			"\n\nMake sure they are in this space and that the user is authorized to use the calls API")
	}
}

// notifyRoom posts a bot notice without letting a second failure mask the first.
func (h *Handlers) notifyRoom(ctx context.Context, roomID, markdown string) {
	if err := h.relay.NotifyRoom(context.WithoutCancel(ctx), roomID, markdown); err != nil {
		slog.Warn("failed to post room notice", slog.String("room", roomID), slog.Any("err", err))
	}
}

// roomKnown reports whether the bot has seen this room: either it announced
// itself there (kv marker) or authorizations already exist for it.
func (h *Handlers) roomKnown(ctx context.Context, roomID string) bool {
	if v, err := dbpkg.GetKV(ctx, h.db, "room:"+roomID); err == nil && v != "" {
		return true
	}
	records, err := h.relay.AuthorizedUsers(ctx, roomID)
	return err == nil && len(records) > 0
}
