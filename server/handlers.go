// Package server exposes the HTTP API: the OAuth callback, the inbound
// webhook endpoints, health, status, and metrics. It injects correlation IDs
// into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/onnwee/calls-relay/commands"
	"github.com/onnwee/calls-relay/config"
	"github.com/onnwee/calls-relay/relay"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db    *sql.DB
	cfg   *config.Config
	relay *relay.Service
	cmds  *commands.Handler
	ctx   context.Context

	botOnce sync.Once
	botID   string
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, cfg *config.Config, svc *relay.Service, cmds *commands.Handler) *Handlers {
	return &Handlers{
		db:    db,
		cfg:   cfg,
		relay: svc,
		cmds:  cmds,
		ctx:   ctx,
	}
}

// botPersonID lazily resolves and caches the bot's own person id so inbound
// message notifications caused by the bot's own posts can be ignored.
func (h *Handlers) botPersonID(ctx context.Context) string {
	h.botOnce.Do(func() {
		p, err := h.relay.BotPerson(ctx)
		if err != nil {
			slog.Warn("failed to resolve bot identity", slog.Any("err", err))
			return
		}
		h.botID = p.ID
	})
	return h.botID
}
