package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/calls-relay/authstore"
	"github.com/onnwee/calls-relay/telemetry"
	"github.com/onnwee/calls-relay/webexapi"
)

// WebhookEvent is the inbound notification envelope posted by the platform.
type WebhookEvent struct {
	ID        string          `json:"id,omitempty"`
	Resource  string          `json:"resource"`
	Event     string          `json:"event"`
	Name      string          `json:"name"`
	Secret    string          `json:"secret"`
	CreatedBy string          `json:"createdBy"`
	ActorID   string          `json:"actorId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// eventData is the subset of the data payload the relay message references.
type eventData struct {
	Status   string `json:"status"`
	PersonID string `json:"personId"`
}

func (e *WebhookEvent) data() eventData {
	var d eventData
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &d)
	}
	return d
}

// prettyPayload renders the full envelope for the non-terse message tail.
func (e *WebhookEvent) prettyPayload() string {
	raw, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return ""
	}
	return "\n```\n" + string(raw)
}

// Resolve maps an inbound notification to the authorization record it was
// registered for: room id parsed from the secret, then a linear scan by the
// createdBy person id. Returns nil (not an error) when nothing matches;
// notifications for since-revoked users are expected and silently dropped.
func (s *Service) Resolve(ctx context.Context, secret, createdBy string) (*authstore.AuthRecord, error) {
	roomID := ParseRoomID(secret)
	if roomID == "" || createdBy == "" {
		return nil, nil
	}
	records, err := s.store.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("resolving webhook for room %s: %w", roomID, err)
	}
	for i := range records {
		if records[i].PersonID == createdBy {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Dispatch relays one notification into the record's room as the authorizing
// user. The display-name lookups and the message send share one broker
// session, so the impersonation is not released mid-sequence.
func (s *Service) Dispatch(ctx context.Context, rec *authstore.AuthRecord, ev *WebhookEvent) error {
	start := time.Now()
	defer func() {
		if telemetry.DispatchDuration != nil {
			telemetry.DispatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	switch ev.Resource {
	case "calls":
		return s.dispatchCalls(ctx, rec, ev)
	case "callMemberships":
		return s.dispatchCallMemberships(ctx, rec, ev)
	default:
		// Not an error: a misconfigured subscription shouldn't produce noise
		// beyond a log line.
		slog.Error("got unexpected webhook resource", slog.String("resource", ev.Resource))
		return nil
	}
}

func (s *Service) dispatchCalls(ctx context.Context, rec *authstore.AuthRecord, ev *WebhookEvent) error {
	err := s.broker.WithIdentity(ctx, rec.AccessToken, func(ctx context.Context, c *webexapi.Client) error {
		person, err := c.GetPerson(ctx, ev.CreatedBy)
		if err != nil {
			return err
		}
		actor, err := c.GetPerson(ctx, ev.ActorID)
		if err != nil {
			return err
		}

		var markdown string
		switch ev.Event {
		case "created":
			markdown = person.DisplayName + " (webhook.createdBy) got a calls:created event\n\n" +
				actor.DisplayName + " (webhook.actorId) started a call.\n\nStatus: " + ev.data().Status
		case "updated":
			markdown = person.DisplayName + " (webhook.createdBy) got a calls:updated event\n\n" +
				actor.DisplayName + " (webhook.actorId) updated a call.\n\nStatus: " + ev.data().Status
		default:
			return fmt.Errorf("got unexpected calls webhook with event type: %s", ev.Event)
		}
		if !rec.TerseMode {
			markdown += ev.prettyPayload()
		}
		return c.SendMessage(ctx, webexapi.Message{RoomID: rec.RoomID, Markdown: markdown})
	})
	if err != nil {
		telemetry.RelaysFailed.Inc()
		return fmt.Errorf("relaying calls webhook for %s: %w", rec.DisplayName, err)
	}
	telemetry.RelaysPosted.Inc()
	return nil
}

func (s *Service) dispatchCallMemberships(ctx context.Context, rec *authstore.AuthRecord, ev *WebhookEvent) error {
	err := s.broker.WithIdentity(ctx, rec.AccessToken, func(ctx context.Context, c *webexapi.Client) error {
		person, err := c.GetPerson(ctx, ev.CreatedBy)
		if err != nil {
			return err
		}
		participant, err := c.GetPerson(ctx, ev.data().PersonID)
		if err != nil {
			return err
		}

		markdown := person.DisplayName + " (webhook.createdBy) got a " + ev.Resource + ":" + ev.Event +
			" event.\n\nNew Status for " + participant.DisplayName + " (webhook.data.personId): " + ev.data().Status
		if !rec.TerseMode {
			markdown += ev.prettyPayload()
		}
		return c.SendMessage(ctx, webexapi.Message{RoomID: rec.RoomID, Markdown: markdown})
	})
	if err != nil {
		telemetry.RelaysFailed.Inc()
		return fmt.Errorf("relaying callMemberships webhook for %s: %w", rec.DisplayName, err)
	}
	telemetry.RelaysPosted.Inc()
	return nil
}
