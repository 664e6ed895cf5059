package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/calls-relay/authstore"
	"github.com/onnwee/calls-relay/telemetry"
	"github.com/onnwee/calls-relay/webexapi"
)

// subscriptions lists the five webhooks registered per authorized user, in
// the fixed order their ids accumulate into the record.
var subscriptions = []struct {
	resource string
	event    string
}{
	{"calls", "created"},
	{"calls", "updated"},
	{"callMemberships", "created"},
	{"callMemberships", "updated"},
	{"callMemberships", "deleted"},
}

func relayedResource(resource string) bool {
	return resource == "calls" || resource == "callMemberships"
}

// registerWebhooks removes stale subscriptions left over from a previous run
// of this (room, person) pair, then creates the full set fresh. Must run
// inside a broker session holding the user's token. If a creation call fails
// partway, the already-created subscriptions remain registered and the error
// propagates; a retry re-cleans via the stale sweep.
func (s *Service) registerWebhooks(ctx context.Context, c *webexapi.Client, rec *authstore.AuthRecord) error {
	targetURL := s.cfg.CallsWebhookURL()

	existing, err := c.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("listing webhooks: %w", err)
	}
	for _, wh := range existing {
		if wh.TargetURL != targetURL || !relayedResource(wh.Resource) {
			continue
		}
		if ParseRoomID(wh.Secret) != rec.RoomID || ParsePersonID(wh.Name) != rec.PersonID {
			continue
		}
		if err := c.DeleteWebhook(ctx, wh.ID); err != nil {
			return fmt.Errorf("removing stale webhook %s: %w", wh.ID, err)
		}
		telemetry.WebhooksRemoved.Inc()
		slog.Debug("removed stale webhook", slog.String("id", wh.ID), slog.String("room", rec.RoomID))
	}

	name := EncodeName(rec.DisplayName, rec.PersonID)
	secret := EncodeSecret(rec.RoomTitle, rec.RoomID)

	rec.WebhookIDs = rec.WebhookIDs[:0]
	for _, sub := range subscriptions {
		wh, err := c.CreateWebhook(ctx, webexapi.WebhookRequest{
			Name:      name,
			TargetURL: targetURL,
			Resource:  sub.resource,
			Event:     sub.event,
			Secret:    secret,
		})
		if err != nil {
			return fmt.Errorf("webhook registration failed at %s:%s: %w", sub.resource, sub.event, err)
		}
		rec.WebhookIDs = append(rec.WebhookIDs, wh.ID)
		telemetry.WebhooksCreated.Inc()
	}
	return nil
}

// cleanupUser tears down every subscription recorded for a user and, unless
// the user already left the space, posts a farewell as them. Best effort:
// one dead subscription id must not block the rest, so individual failures
// are logged and skipped.
func (s *Service) cleanupUser(ctx context.Context, rec *authstore.AuthRecord, userLeft bool) {
	err := s.broker.WithIdentity(ctx, rec.AccessToken, func(ctx context.Context, c *webexapi.Client) error {
		for _, id := range rec.WebhookIDs {
			slog.Debug("deleting webhook", slog.String("id", id), slog.String("person", rec.DisplayName))
			if err := c.DeleteWebhook(ctx, id); err != nil {
				slog.Warn("failed to delete webhook",
					slog.String("id", id),
					slog.String("person", rec.DisplayName),
					slog.Any("err", err))
				continue
			}
			telemetry.WebhooksRemoved.Inc()
		}
		if userLeft {
			return nil
		}
		return c.SendMessage(ctx, webexapi.Message{
			RoomID:   rec.RoomID,
			Markdown: "Will no longer post webhook information on behalf of " + rec.DisplayName,
		})
	})
	if err != nil {
		slog.Warn("failed to cleanup user",
			slog.String("person", rec.DisplayName),
			slog.String("room", rec.RoomTitle),
			slog.Any("err", err))
	}
}

// rollbackWebhooks is the persistence-failure path: registration succeeded
// upstream but the record could not be saved, so remove what was created.
func (s *Service) rollbackWebhooks(ctx context.Context, rec *authstore.AuthRecord) {
	err := s.broker.WithIdentity(ctx, rec.AccessToken, func(ctx context.Context, c *webexapi.Client) error {
		for _, id := range rec.WebhookIDs {
			if err := c.DeleteWebhook(ctx, id); err != nil {
				slog.Warn("failed to cleanup webhook after save failure", slog.String("id", id), slog.Any("err", err))
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("failed to cleanup webhooks after save failure", slog.Any("err", err))
	}
}
