// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/senepa/Firebot/db"
)

type Config struct {
	// Twitch
	TwitchChannel          string
	TwitchStreamerUsername string
	TwitchStreamerToken    string
	TwitchBotUsername      string
	TwitchBotToken         string
	TwitchClientID         string
	TwitchClientSecret     string
	TwitchBroadcasterID    string

	// Database
	DBDriver        string
	DBDsn           string
	ViewerDBEnabled bool

	// Cooldowns
	CooldownBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Loops
	FollowPollInterval      time.Duration
	CurrencyAccrualInterval time.Duration

	// Operator API
	HTTPAddr      string
	AdminToken    string
	AdminUsername string
	AdminPassword string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require the chat connection. Missing optional variables disable features
// (no client id/secret: no follow poll).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = strings.TrimPrefix(strings.ToLower(os.Getenv("TWITCH_CHANNEL")), "#")
	cfg.TwitchStreamerUsername = os.Getenv("TWITCH_STREAMER_USERNAME")
	cfg.TwitchStreamerToken = os.Getenv("TWITCH_STREAMER_OAUTH_TOKEN")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchBotToken = os.Getenv("TWITCH_BOT_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchBroadcasterID = os.Getenv("TWITCH_BROADCASTER_ID")
	if cfg.TwitchChannel == "" {
		// The streamer's own channel.
		cfg.TwitchChannel = strings.ToLower(cfg.TwitchStreamerUsername)
	}

	// DB
	cfg.DBDriver = envOr("DB_DRIVER", "sqlite")
	cfg.DBDsn = envOr("DB_DSN", "data/profile.db")
	enabled, err := envBool("VIEWER_DB_ENABLED", true)
	if err != nil {
		return nil, err
	}
	cfg.ViewerDBEnabled = enabled

	// Cooldowns
	cfg.CooldownBackend = strings.ToLower(envOr("COOLDOWN_BACKEND", "memory"))
	cfg.RedisAddr = envOr("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}

	// Loops
	if cfg.FollowPollInterval, err = envDuration("FOLLOW_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CurrencyAccrualInterval, err = envDuration("CURRENCY_ACCRUAL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	// HTTP
	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	return cfg, nil
}

// ValidateChatReady checks the fields the chat transport cannot run without.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchStreamerUsername == "" || c.TwitchStreamerToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_STREAMER_USERNAME, TWITCH_STREAMER_OAUTH_TOKEN (and TWITCH_CHANNEL when it differs)")
	}
	if (c.TwitchBotUsername == "") != (c.TwitchBotToken == "") {
		return fmt.Errorf("incomplete bot account: set both TWITCH_BOT_USERNAME and TWITCH_BOT_OAUTH_TOKEN")
	}
	return nil
}

// ValidateStore checks the database and cooldown backend selection.
func (c *Config) ValidateStore() error {
	if _, err := db.ParseDialect(c.DBDriver); err != nil {
		return err
	}
	switch c.CooldownBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported COOLDOWN_BACKEND %q (want memory or redis)", c.CooldownBackend)
	}
	return nil
}

// FollowPollEnabled reports whether the follow poll has credentials and an interval.
func (c *Config) FollowPollEnabled() bool {
	return c.FollowPollInterval > 0 && c.TwitchClientID != "" && (c.TwitchClientSecret != "" || c.TwitchStreamerToken != "")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// envDuration accepts Go durations ("10s") or bare seconds ("10"); "0" disables.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
