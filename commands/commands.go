// Package commands parses slash-commands heard in chat rooms and maps them to
// relay operations. This surface is thin glue; the commands exist so room
// members can inspect and tear down the authorizations the relay holds.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/calls-relay/authstore"
	"github.com/onnwee/calls-relay/config"
	"github.com/onnwee/calls-relay/relay"
	"github.com/onnwee/calls-relay/webexapi"
)

// Kind identifies a recognized slash-command.
type Kind int

const (
	Unknown Kind = iota
	Help
	Status
	DeleteAll
	DeleteMe
	TerseMode
)

// Command is a parsed slash-command.
type Command struct {
	Kind Kind
	// TerseOn carries the /tersemode argument.
	TerseOn bool
}

// Parse scans a message for a recognized slash-command. Commands may appear
// anywhere in the message and are case-insensitive, matching how chat clients
// often expand them inline.
func Parse(text string) Command {
	fields := strings.Fields(text)
	for i, f := range fields {
		switch strings.ToLower(strings.TrimRight(f, ".,!?")) {
		case "/help":
			return Command{Kind: Help}
		case "/status":
			return Command{Kind: Status}
		case "/deleteall":
			return Command{Kind: DeleteAll}
		case "/deleteme":
			return Command{Kind: DeleteMe}
		case "/tersemode":
			cmd := Command{Kind: TerseMode}
			if i+1 < len(fields) && strings.EqualFold(fields[i+1], "on") {
				cmd.TerseOn = true
			}
			return cmd
		}
	}
	return Command{Kind: Unknown}
}

// Handler executes parsed commands against the relay service, replying into
// the room as the bot.
type Handler struct {
	Relay *relay.Service
	Cfg   *config.Config
}

// Handle parses and executes one inbound message. Unrecognized messages are
// logged and ignored.
func (h *Handler) Handle(ctx context.Context, roomID, personID, displayName, text string) error {
	cmd := Parse(text)
	switch cmd.Kind {
	case Help:
		return h.Relay.NotifyRoom(ctx, roomID, h.instructions(ctx, roomID))
	case Status:
		return h.Relay.NotifyRoom(ctx, roomID, h.status(ctx, roomID))
	case DeleteAll:
		if err := h.Relay.DeleteAllAuthorizations(ctx, roomID); err != nil {
			return err
		}
		return h.Relay.NotifyRoom(ctx, roomID,
			"No more call webhook events will be posted to this room.\n"+
				"Type **/help** to see the authorization link again.")
	case DeleteMe:
		err := h.Relay.DeleteOneAuthorization(ctx, roomID, personID, false)
		if errors.Is(err, authstore.ErrNoAuthorization) {
			return h.Relay.NotifyRoom(ctx, roomID, noAuthReply(displayName))
		}
		return err
	case TerseMode:
		_, err := h.Relay.SetTerseMode(ctx, roomID, personID, cmd.TerseOn)
		if errors.Is(err, authstore.ErrNoAuthorization) {
			return h.Relay.NotifyRoom(ctx, roomID, noAuthReply(displayName))
		}
		if err != nil {
			if nerr := h.Relay.NotifyRoom(ctx, roomID, "Sorry. I can't change this setting right now."); nerr != nil {
				slog.Warn("failed to post tersemode failure notice", slog.Any("err", nerr))
			}
			return err
		}
		if cmd.TerseOn {
			return h.Relay.NotifyRoom(ctx, roomID, "I will only post summaries of webhook events for "+displayName)
		}
		return h.Relay.NotifyRoom(ctx, roomID, "I will post full details of webhook events for "+displayName)
	default:
		slog.Debug("unhandled message", slog.String("room", roomID), slog.String("text", text))
		return nil
	}
}

func noAuthReply(displayName string) string {
	return "Can't find info for " + displayName +
		". Have you authorized me?  Type **/help** for an authorization link."
}

// AuthorizationLink returns the OAuth link for a room, carrying the room id
// as the state parameter.
func (h *Handler) AuthorizationLink(roomID string) string {
	if h.Cfg.AuthLink != "" {
		return h.Cfg.AuthLink + roomID
	}
	link, err := webexapi.BuildAuthorizeURL(
		h.Cfg.WebexAPIURL+"/authorize",
		h.Cfg.WebexClientID,
		h.Cfg.RedirectURI(),
		h.Cfg.WebexScopes,
		roomID,
	)
	if err != nil {
		return ""
	}
	return link
}

func (h *Handler) authorizedList(ctx context.Context, roomID string) (string, bool) {
	records, err := h.Relay.AuthorizedUsers(ctx, roomID)
	if err != nil {
		slog.Warn("failed to load authorized users", slog.String("room", roomID), slog.Any("err", err))
		return "", false
	}
	if len(records) == 0 {
		return "", false
	}
	var b strings.Builder
	b.WriteString("\n\nThe following people have authorized me:\n\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "* %s\n", rec.DisplayName)
	}
	return b.String(), true
}

func (h *Handler) instructions(ctx context.Context, roomID string) string {
	list, any := h.authorizedList(ctx, roomID)
	msg := "I can post call and callMemberships webhook info for users in this space."
	if any {
		msg += list + "\n\nOther users can authorize me via this link:"
	} else {
		msg += "\n\nFor this to work the user in question must authorize me to do this with this link:"
	}
	msg += "\n\n" + h.AuthorizationLink(roomID) +
		"\n\nTo remove all the authorizations for this room type **/deleteall**" +
		"\n\nTo see this message and link again type **/help**"
	return msg
}

func (h *Handler) status(ctx context.Context, roomID string) string {
	list, any := h.authorizedList(ctx, roomID)
	if !any {
		return "Nobody has authorized me in this space yet. Type **/help** for an authorization link."
	}
	return "Here is what I know about this space." + list +
		"\n\nType **/deleteme** to revoke your own authorization, or **/deleteall** to revoke everyone's."
}
