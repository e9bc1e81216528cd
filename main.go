// Command firebot runs the chat bot core.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the profile database (SQLite or Postgres) and runs migrations.
//   - Connects the streamer (and optional bot) account to Twitch chat and
//     feeds every message through the command pipeline.
//   - Starts background jobs: currency accrual, follow polling and the
//     cooldown sweeper.
//   - Exposes the operator HTTP API with /healthz, /readyz, /metrics and /ws.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/config"
	"github.com/senepa/Firebot/cooldown"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/db"
	"github.com/senepa/Firebot/effects"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/follow"
	"github.com/senepa/Firebot/giveaways"
	"github.com/senepa/Firebot/restrictions"
	"github.com/senepa/Firebot/server"
	"github.com/senepa/Firebot/store"
	"github.com/senepa/Firebot/syscommands"
	"github.com/senepa/Firebot/telemetry"
	"github.com/senepa/Firebot/twitchapi"
	"github.com/senepa/Firebot/viewers"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateStore(); err != nil {
		slog.Error("invalid store config", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("firebot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialect, _ := db.ParseDialect(cfg.DBDriver)
	database, err := db.Connect(ctx, dialect, cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := migrate(ctx, dialect, database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	profile := store.New(database, dialect)

	bus := events.NewBus(256)
	hub := events.NewHub(bus, logger)

	// Currency
	ledger := currency.NewLedger(profile, bus, logger, currency.WithEnabled(func() bool { return cfg.ViewerDBEnabled }))
	if err := ledger.RefreshCache(ctx); err != nil {
		slog.Error("failed to load currencies", slog.Any("err", err))
		os.Exit(1)
	}
	go currency.NewAccrual(ledger, cfg.CurrencyAccrualInterval, logger).Run(ctx)

	// Cooldowns
	var cooldowns cooldown.Store
	switch cfg.CooldownBackend {
	case "redis":
		rc := cooldown.NewRedis(cooldown.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logger)
		if err := rc.Ping(ctx); err != nil {
			slog.Error("redis unreachable", slog.String("addr", cfg.RedisAddr), slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := rc.Close(); err != nil {
				slog.Warn("failed to close redis", slog.Any("err", err))
			}
		}()
		cooldowns = rc
	default:
		mem := cooldown.NewMemory()
		go mem.RunSweeper(ctx, time.Minute)
		cooldowns = mem
	}

	// Helix is optional; without it whispers, moderation and follow events are off.
	var helix *twitchapi.HelixClient
	if cfg.TwitchClientID != "" {
		helix = newHelix(ctx, cfg)
	}

	var transportOpts []chat.Option
	if helix != nil {
		transportOpts = append(transportOpts, chat.WithModerator(helix))
	}
	transport := chat.NewTwitchTransport(chat.Config{
		Channel:          cfg.TwitchChannel,
		StreamerUsername: cfg.TwitchStreamerUsername,
		StreamerToken:    cfg.TwitchStreamerToken,
		BotUsername:      cfg.TwitchBotUsername,
		BotToken:         cfg.TwitchBotToken,
	}, logger, transportOpts...)

	// Commands
	registry := commands.NewRegistry(profile, bus, logger, commands.WithCooldownFlusher(cooldowns))
	gates := restrictions.NewManager(
		restrictions.Permissions{},
		restrictions.Currency{Balances: ledger, Name: func(id string) string {
			c, _ := ledger.GetCurrencyByID(id)
			return c.Name
		}},
	)
	dispatcher := commands.NewDispatcher(commands.DispatcherDeps{
		Registry:     registry,
		Restrictions: gates,
		Cooldowns:    cooldowns,
		Chat:         transport,
		Executor:     effects.NewExecutor(transport, logger),
		Bus:          bus,
		Logger:       logger,
		Accounts: func() commands.Accounts {
			return commands.Accounts{Streamer: strings.ToLower(cfg.TwitchStreamerUsername), Bot: strings.ToLower(cfg.TwitchBotUsername)}
		},
	})
	syscommands.Register(registry, ledger, transport, logger)
	if err := registry.RefreshCommandCache(ctx); err != nil {
		slog.Error("failed to load commands", slog.Any("err", err))
		os.Exit(1)
	}

	// Giveaways register their chat commands into the registry once enabled.
	gm := giveaways.NewManager(profile, bus, logger)
	if err := gm.Load(ctx); err != nil {
		slog.Error("failed to load giveaway settings", slog.Any("err", err))
		os.Exit(1)
	}
	gdeps := giveaways.Deps{Registry: registry, Ledger: ledger, Chat: transport, Bus: bus, Logger: logger}
	gm.Register(ctx, giveaways.NewRaffle(gdeps))
	gm.Register(ctx, giveaways.NewLottery(gdeps))
	gm.Register(ctx, giveaways.NewBid(gdeps))
	defer gm.Shutdown()

	// Viewers
	tracker := viewers.NewTracker(profile, ledger, logger)
	if err := tracker.Reset(ctx); err != nil {
		slog.Warn("failed to reset online viewers", slog.Any("err", err))
	}
	transport.OnMessage(func(ctx context.Context, msg chat.Message) {
		if cfg.ViewerDBEnabled {
			tracker.HandleMessage(ctx, msg)
		}
		dispatcher.HandleMessage(ctx, msg)
	})
	transport.OnPresence(func(ctx context.Context, username string, online bool) {
		if cfg.ViewerDBEnabled {
			tracker.HandlePresence(ctx, username, online)
		}
	})

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat disabled", slog.Any("err", err))
	} else {
		go func() {
			if err := transport.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("chat transport exited", slog.Any("err", err))
			}
		}()
	}

	if helix != nil && cfg.FollowPollEnabled() {
		poller := follow.NewPoller(helix, bus, logger, cfg.FollowPollInterval, follow.WithReady(transport.Connected))
		go poller.Run(ctx)
	} else {
		slog.Info("follow polling disabled (missing twitch client id or credentials)")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		err := server.Start(ctx, server.Deps{
			DB:            database,
			Registry:      registry,
			Dispatcher:    dispatcher,
			Ledger:        ledger,
			Giveaways:     gm,
			Chat:          transport,
			Hub:           hub,
			ChatConnected: transport.Connected,
			AdminToken:    cfg.AdminToken,
			AdminUsername: cfg.AdminUsername,
			AdminPassword: cfg.AdminPassword,
		}, cfg.HTTPAddr)
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
