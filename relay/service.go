// Package relay implements the authorization lifecycle and webhook dispatch
// engine: it takes a user from OAuth code exchange through membership
// validation and webhook registration, persists the resulting authorization,
// and relays inbound call notifications back into the originating room as
// messages attributed to that user.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/calls-relay/authstore"
	"github.com/onnwee/calls-relay/broker"
	"github.com/onnwee/calls-relay/config"
	"github.com/onnwee/calls-relay/telemetry"
	"github.com/onnwee/calls-relay/webexapi"
)

// ErrNotAMember is returned when the authorizing user is not a member of the
// room the OAuth link was posted in. Obtaining a code is not enough; members
// only.
var ErrNotAMember = errors.New("authorizing user is not a member of the space associated with the OAuth link")

// MembershipError carries the resolved display name alongside ErrNotAMember
// so callers can name the user in the room notice.
type MembershipError struct {
	DisplayName string
}

func (e *MembershipError) Error() string {
	return "authorizing user " + e.DisplayName + " is not a member of the space associated with the OAuth link"
}

func (e *MembershipError) Is(target error) bool { return target == ErrNotAMember }

// Store is the durable mapping from room to per-user authorization records.
type Store interface {
	GetAuthorizedUsers(ctx context.Context, roomID string) ([]authstore.AuthRecord, error)
	Save(ctx context.Context, rec authstore.AuthRecord) error
	DeleteAll(ctx context.Context, roomID string) ([]authstore.AuthRecord, error)
	DeleteOne(ctx context.Context, roomID, personID string) (*authstore.AuthRecord, error)
	ListRoomIDs(ctx context.Context) ([]string, error)
}

// Service wires the store, the credential broker, and the OAuth flow together.
type Service struct {
	cfg    *config.Config
	store  Store
	broker *broker.Broker
	flow   *webexapi.Flow
}

func NewService(cfg *config.Config, store Store, b *broker.Broker, flow *webexapi.Flow) *Service {
	return &Service{cfg: cfg, store: store, broker: b, flow: flow}
}

// CompleteAuthorization runs the whole chain for a fresh OAuth callback:
// code exchange, identity resolution, membership validation, webhook
// registration, persistence. Terminal failure at any step aborts the chain;
// no partial record is persisted.
func (s *Service) CompleteAuthorization(ctx context.Context, code, roomID string) (*authstore.AuthRecord, error) {
	start := time.Now()
	bundle, err := s.flow.ExchangeCode(ctx, code)
	if err != nil {
		telemetry.AuthorizationsFailed.Inc()
		return nil, err
	}

	rec := &authstore.AuthRecord{
		RoomID:        roomID,
		AccessToken:   bundle.AccessToken,
		RefreshToken:  bundle.RefreshToken,
		TokenExpiry:   webexapi.ComputeExpiry(bundle.ExpiresIn),
		RefreshExpiry: webexapi.ComputeExpiry(bundle.RefreshTokenExpiresIn),
	}

	// Identity resolution, membership validation, and webhook registration
	// all act as the authorizing user, inside one critical section, so the
	// token cannot be swapped out from under the sequence.
	err = s.broker.WithIdentity(ctx, rec.AccessToken, func(ctx context.Context, c *webexapi.Client) error {
		if err := s.resolveIdentity(ctx, c, rec); err != nil {
			return err
		}
		return s.registerWebhooks(ctx, c, rec)
	})
	if err != nil {
		telemetry.AuthorizationsFailed.Inc()
		return nil, err
	}

	if err := s.store.Save(ctx, *rec); err != nil {
		telemetry.AuthorizationsFailed.Inc()
		// The registration already happened upstream; try to undo it so a
		// half-authorized user doesn't keep generating notifications we can
		// no longer resolve.
		s.rollbackWebhooks(ctx, rec)
		return nil, fmt.Errorf("saving authorization: %w", err)
	}

	telemetry.AuthorizationsCompleted.Inc()
	if telemetry.AuthorizationDuration != nil {
		telemetry.AuthorizationDuration.Observe(time.Since(start).Seconds())
	}
	slog.Info("authorization complete",
		slog.String("room", rec.RoomID),
		slog.String("person", rec.DisplayName),
		slog.Int("webhooks", len(rec.WebhookIDs)))
	return rec, nil
}

// resolveIdentity binds the raw credential to a person and asserts that
// person is a member of the target room. Must run inside a broker session
// holding rec.AccessToken.
func (s *Service) resolveIdentity(ctx context.Context, c *webexapi.Client, rec *authstore.AuthRecord) error {
	me, err := c.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	rec.PersonID = me.ID
	rec.DisplayName = me.DisplayName

	memberships, err := c.ListMemberships(ctx, rec.RoomID)
	if err != nil {
		// Webex answers 403/404 for rooms the caller cannot see; both mean
		// the authorizer has no business in this room.
		return &MembershipError{DisplayName: rec.DisplayName}
	}
	for _, m := range memberships {
		if m.PersonID == rec.PersonID {
			if room, err := c.GetRoom(ctx, rec.RoomID); err == nil {
				rec.RoomTitle = room.Title
			}
			return nil
		}
	}
	return &MembershipError{DisplayName: rec.DisplayName}
}

// FetchMessage loads a stored message as the bot, used to read command text
// out of message-created notifications.
func (s *Service) FetchMessage(ctx context.Context, messageID string) (*webexapi.MessageDetail, error) {
	var msg *webexapi.MessageDetail
	err := s.broker.WithIdentity(ctx, s.cfg.BotToken, func(ctx context.Context, c *webexapi.Client) error {
		var err error
		msg, err = c.GetMessage(ctx, messageID)
		return err
	})
	return msg, err
}

// PersonByID fetches a person's profile as the bot.
func (s *Service) PersonByID(ctx context.Context, personID string) (*webexapi.Person, error) {
	var p *webexapi.Person
	err := s.broker.WithIdentity(ctx, s.cfg.BotToken, func(ctx context.Context, c *webexapi.Client) error {
		var err error
		p, err = c.GetPerson(ctx, personID)
		return err
	})
	return p, err
}

// BotPerson resolves the bot's own identity.
func (s *Service) BotPerson(ctx context.Context) (*webexapi.Person, error) {
	var p *webexapi.Person
	err := s.broker.WithIdentity(ctx, s.cfg.BotToken, func(ctx context.Context, c *webexapi.Client) error {
		var err error
		p, err = c.Me(ctx)
		return err
	})
	return p, err
}

// SendAuthorizationCompleteMessage posts the setup confirmation into the room
// as the authorizing user.
func (s *Service) SendAuthorizationCompleteMessage(ctx context.Context, rec *authstore.AuthRecord) error {
	return s.broker.WithIdentity(ctx, rec.AccessToken, func(ctx context.Context, c *webexapi.Client) error {
		return c.SendMessage(ctx, webexapi.Message{
			RoomID: rec.RoomID,
			Text: rec.DisplayName + " has authorized me to post calls webhook data to this space.\n\n" +
				"Make a call and see what happens...",
		})
	})
}

// NotifyRoom posts a markdown message to a room as the bot itself.
func (s *Service) NotifyRoom(ctx context.Context, roomID, markdown string) error {
	return s.broker.WithIdentity(ctx, s.cfg.BotToken, func(ctx context.Context, c *webexapi.Client) error {
		return c.SendMessage(ctx, webexapi.Message{RoomID: roomID, Markdown: markdown})
	})
}

// AuthorizedUsers returns the authorization records for a room.
func (s *Service) AuthorizedUsers(ctx context.Context, roomID string) ([]authstore.AuthRecord, error) {
	return s.store.GetAuthorizedUsers(ctx, roomID)
}

// DeleteAllAuthorizations removes every authorization in a room: records
// first, then each user's webhooks one at a time. A second call observes an
// empty set and does nothing.
func (s *Service) DeleteAllAuthorizations(ctx context.Context, roomID string) error {
	records, err := s.store.DeleteAll(ctx, roomID)
	if err != nil {
		return err
	}
	for i := range records {
		s.cleanupUser(ctx, &records[i], false)
	}
	return nil
}

// DeleteOneAuthorization removes a single user's authorization. userLeft
// suppresses the farewell message so we don't post as someone no longer in
// the space. Returns authstore.ErrNoAuthorization when the person has none.
func (s *Service) DeleteOneAuthorization(ctx context.Context, roomID, personID string, userLeft bool) error {
	rec, err := s.store.DeleteOne(ctx, roomID, personID)
	if err != nil {
		return err
	}
	s.cleanupUser(ctx, rec, userLeft)
	return nil
}

// SetTerseMode flips the display preference for one user's relayed messages.
func (s *Service) SetTerseMode(ctx context.Context, roomID, personID string, mode bool) (*authstore.AuthRecord, error) {
	records, err := s.store.GetAuthorizedUsers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].PersonID == personID {
			records[i].TerseMode = mode
			if err := s.store.Save(ctx, records[i]); err != nil {
				return nil, err
			}
			return &records[i], nil
		}
	}
	return nil, authstore.ErrNoAuthorization
}
