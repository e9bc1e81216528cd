package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/giveaways"
	"github.com/senepa/Firebot/telemetry"
)

// Deps wires the API to the bot. Nil components disable their endpoints
// with 503.
type Deps struct {
	DB         *sql.DB
	Registry   *commands.Registry
	Dispatcher *commands.Dispatcher
	Ledger     *currency.Ledger
	Giveaways  *giveaways.Manager
	Chat       chat.Sender
	// Hub serves GET /ws.
	Hub http.Handler
	// ChatConnected reports transport readiness for /readyz.
	ChatConnected func() bool

	AdminToken    string
	AdminUsername string
	AdminPassword string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func (h *Handlers) log(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithCorr(ctx).With("component", "http")
}
