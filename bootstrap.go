package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/senepa/Firebot/config"
	"github.com/senepa/Firebot/db"
	"github.com/senepa/Firebot/twitchapi"
)

// migrate applies the versioned migrations on Postgres and falls back to the
// embedded schema, which is the only path for SQLite.
func migrate(ctx context.Context, dialect db.Dialect, database *sql.DB) error {
	slog.Info("running database migrations", slog.String("component", "db_migrate"), slog.String("dialect", string(dialect)))
	if dialect == db.DialectPostgres {
		err := db.RunMigrations(database)
		if err == nil {
			return nil
		}
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
	}
	return db.Migrate(ctx, database)
}

// newHelix builds the Helix client. The streamer token is validated once to
// learn the broadcaster id when TWITCH_BROADCASTER_ID is unset.
func newHelix(ctx context.Context, cfg *config.Config) *twitchapi.HelixClient {
	hc := &http.Client{Timeout: 10 * time.Second}
	helix := &twitchapi.HelixClient{
		ClientID:      cfg.TwitchClientID,
		BroadcasterID: cfg.TwitchBroadcasterID,
		UserToken:     twitchapi.TrimOAuthPrefix(cfg.TwitchStreamerToken),
		HTTPClient:    hc,
	}
	if cfg.TwitchClientSecret != "" {
		helix.AppTokenSource = &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: hc}
	}
	if helix.UserToken == "" {
		return helix
	}

	vctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	info, err := twitchapi.ValidateToken(vctx, hc, "", helix.UserToken)
	if err != nil {
		slog.Warn("streamer token validation failed; helix calls may fail", slog.Any("err", err))
		return helix
	}
	if info.ClientID != "" && info.ClientID != cfg.TwitchClientID {
		slog.Warn("streamer token was issued for a different client id", slog.String("token_client_id", info.ClientID))
	}
	if helix.BroadcasterID == "" {
		helix.BroadcasterID = info.UserID
	}
	helix.ModeratorID = info.UserID
	for _, scope := range []string{"moderator:read:followers", "moderator:manage:chat_messages", "moderator:manage:banned_users", "user:manage:whispers"} {
		if !info.HasScope(scope) {
			slog.Warn("streamer token is missing a scope", slog.String("scope", scope))
		}
	}
	slog.Info("streamer token validated", slog.String("login", info.Login), slog.Time("expires", info.Expiry()))
	return helix
}
