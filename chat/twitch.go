package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/senepa/Firebot/telemetry"
)

var (
	ErrNotConnected          = errors.New("chat not connected")
	ErrWhisperUnavailable    = errors.New("whispers require a helix client")
	ErrModerationDisabled    = errors.New("moderation requires a helix client")
	ErrStreamerNotConfigured = errors.New("streamer account not configured")
)

// MessageHandler receives inbound messages.
type MessageHandler func(ctx context.Context, msg Message)

// PresenceHandler receives join (online=true) and part events.
type PresenceHandler func(ctx context.Context, username string, online bool)

// Moderator performs Helix-backed actions IRC no longer supports.
type Moderator interface {
	SendWhisper(ctx context.Context, toLogin, message string) error
	DeleteChatMessage(ctx context.Context, messageID string) error
	BanUser(ctx context.Context, login string, duration time.Duration, reason string) error
	UnbanUser(ctx context.Context, login string) error
}

// ircClient is the subset of *twitch.Client the transport drives.
type ircClient interface {
	Say(channel, text string)
	Join(channels ...string)
	Connect() error
	Close()
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnUserJoinMessage(func(twitch.UserJoinMessage))
	OnUserPartMessage(func(twitch.UserPartMessage))
}

type ircAdapter struct{ *twitch.Client }

func (a ircAdapter) Close() { a.Client.Disconnect() }

func newIRCClient(username, token string) ircClient {
	return ircAdapter{twitch.NewClient(username, token)}
}

// Config names the channel and the accounts.
type Config struct {
	Channel          string
	StreamerUsername string
	StreamerToken    string
	BotUsername      string
	BotToken         string
}

// HasBot reports whether a separate bot login is configured.
func (c Config) HasBot() bool { return c.BotUsername != "" && c.BotToken != "" }

// TwitchTransport connects to Twitch IRC and implements sending, presence and
// message fan-out.
type TwitchTransport struct {
	cfg       Config
	logger    *slog.Logger
	moderator Moderator
	newClient func(username, token string) ircClient

	mu       sync.RWMutex
	streamer ircClient
	bot      ircClient
	ctx      context.Context
	handlers []MessageHandler
	presence []PresenceHandler

	connected atomic.Bool
}

// Option configures a TwitchTransport.
type Option func(*TwitchTransport)

// WithModerator enables whispers and moderation through Helix.
func WithModerator(m Moderator) Option { return func(t *TwitchTransport) { t.moderator = m } }

func withClientFactory(f func(username, token string) ircClient) Option {
	return func(t *TwitchTransport) { t.newClient = f }
}

// NewTwitchTransport returns an unconnected transport.
func NewTwitchTransport(cfg Config, logger *slog.Logger, opts ...Option) *TwitchTransport {
	cfg.Channel = strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))
	cfg.StreamerUsername = strings.ToLower(cfg.StreamerUsername)
	cfg.BotUsername = strings.ToLower(cfg.BotUsername)
	t := &TwitchTransport{
		cfg:       cfg,
		logger:    logger.With("component", "chat"),
		newClient: newIRCClient,
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// OnMessage registers a handler for inbound (and echoed) messages.
func (t *TwitchTransport) OnMessage(h MessageHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// OnPresence registers a join/part handler.
func (t *TwitchTransport) OnPresence(h PresenceHandler) {
	t.mu.Lock()
	t.presence = append(t.presence, h)
	t.mu.Unlock()
}

// Connected reports whether the listening connection is up.
func (t *TwitchTransport) Connected() bool { return t.connected.Load() }

// StreamerUsername returns the configured streamer login.
func (t *TwitchTransport) StreamerUsername() string { return t.cfg.StreamerUsername }

// Run connects every configured account and blocks until ctx is cancelled or
// the listening connection fails.
func (t *TwitchTransport) Run(ctx context.Context) error {
	if t.cfg.Channel == "" || t.cfg.StreamerUsername == "" || t.cfg.StreamerToken == "" {
		return ErrStreamerNotConfigured
	}
	streamer := t.newClient(t.cfg.StreamerUsername, oauthPrefixed(t.cfg.StreamerToken))
	streamer.OnConnect(func() {
		t.connected.Store(true)
		telemetry.UpdateChatGauge(true)
		t.logger.Info("chat connected", slog.String("channel", t.cfg.Channel), slog.String("account", string(AccountStreamer)))
	})
	streamer.OnPrivateMessage(func(pm twitch.PrivateMessage) {
		telemetry.IncChatReceived()
		t.dispatch(ctx, fromPrivateMessage(pm))
	})
	streamer.OnUserJoinMessage(func(m twitch.UserJoinMessage) { t.dispatchPresence(ctx, m.User, true) })
	streamer.OnUserPartMessage(func(m twitch.UserPartMessage) { t.dispatchPresence(ctx, m.User, false) })
	streamer.Join(t.cfg.Channel)

	var bot ircClient
	if t.cfg.HasBot() {
		bot = t.newClient(t.cfg.BotUsername, oauthPrefixed(t.cfg.BotToken))
		bot.Join(t.cfg.Channel)
	}

	t.mu.Lock()
	t.streamer, t.bot, t.ctx = streamer, bot, ctx
	t.mu.Unlock()

	errCh := make(chan error, 2)
	go func() { errCh <- streamer.Connect() }()
	if bot != nil {
		go func() {
			if err := bot.Connect(); err != nil && ctx.Err() == nil {
				t.logger.Warn("bot account connection ended", slog.Any("err", err))
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			t.logger.Error("twitch chat connect error", slog.Any("err", err))
		}
	}
	streamer.Close()
	if bot != nil {
		bot.Close()
	}
	t.connected.Store(false)
	telemetry.UpdateChatGauge(false)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func oauthPrefixed(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func fromPrivateMessage(pm twitch.PrivateMessage) Message {
	ts := pm.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{
		ID:          pm.ID,
		Channel:     pm.Channel,
		UserID:      pm.User.ID,
		Username:    strings.ToLower(pm.User.Name),
		DisplayName: pm.User.DisplayName,
		Text:        pm.Message,
		Roles:       RolesFromBadges(pm.User.Badges),
		Time:        ts.UTC(),
	}
}

func (t *TwitchTransport) dispatch(ctx context.Context, msg Message) {
	t.mu.RLock()
	handlers := append([]MessageHandler(nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, msg)
	}
}

func (t *TwitchTransport) dispatchPresence(ctx context.Context, username string, online bool) {
	t.mu.RLock()
	handlers := append([]PresenceHandler(nil), t.presence...)
	t.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, strings.ToLower(username), online)
	}
}

// Send splits text into fragments and delivers each, as a whisper when
// opts.Whisper is set. The bot account is preferred when configured.
func (t *TwitchTransport) Send(ctx context.Context, text string, opts SendOptions) error {
	fragments := SplitMessage(text, MaxMessageLength)
	if len(fragments) == 0 {
		return nil
	}
	if opts.Whisper != "" {
		if t.moderator == nil {
			return ErrWhisperUnavailable
		}
		for _, f := range fragments {
			if err := t.moderator.SendWhisper(ctx, opts.Whisper, f); err != nil {
				return fmt.Errorf("whisper %s: %w", opts.Whisper, err)
			}
			telemetry.IncChatSent("whisper")
		}
		return nil
	}

	t.mu.RLock()
	client, account, runCtx := t.streamer, AccountStreamer, t.ctx
	if opts.Account != AccountStreamer && t.bot != nil {
		client, account = t.bot, AccountBot
	}
	t.mu.RUnlock()
	if client == nil || !t.Connected() {
		return ErrNotConnected
	}

	for _, f := range fragments {
		client.Say(t.cfg.Channel, f)
		telemetry.IncChatSent(string(account))
		if account == AccountStreamer {
			echo := Message{
				Channel:     t.cfg.Channel,
				Username:    t.cfg.StreamerUsername,
				DisplayName: t.cfg.StreamerUsername,
				Text:        f,
				Roles:       []string{RoleBroadcaster, RoleMod},
				Time:        time.Now().UTC(),
				Echo:        true,
			}
			go t.dispatch(runCtx, echo)
		}
	}
	return nil
}

// DeleteMessage removes a chat message by id.
func (t *TwitchTransport) DeleteMessage(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if t.moderator == nil {
		return ErrModerationDisabled
	}
	return t.moderator.DeleteChatMessage(ctx, id)
}

// Timeout bans a user for d.
func (t *TwitchTransport) Timeout(ctx context.Context, username string, d time.Duration, reason string) error {
	if t.moderator == nil {
		return ErrModerationDisabled
	}
	if d <= 0 {
		d = time.Second
	}
	return t.moderator.BanUser(ctx, username, d, reason)
}

// Purge clears a user's recent messages with a one second timeout.
func (t *TwitchTransport) Purge(ctx context.Context, username string) error {
	return t.Timeout(ctx, username, time.Second, "purge")
}

// Ban permanently bans a user.
func (t *TwitchTransport) Ban(ctx context.Context, username, reason string) error {
	if t.moderator == nil {
		return ErrModerationDisabled
	}
	return t.moderator.BanUser(ctx, username, 0, reason)
}

// Unban lifts a ban or timeout.
func (t *TwitchTransport) Unban(ctx context.Context, username string) error {
	if t.moderator == nil {
		return ErrModerationDisabled
	}
	return t.moderator.UnbanUser(ctx, username)
}
