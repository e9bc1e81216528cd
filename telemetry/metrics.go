// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessagesReceived prometheus.Counter
	ChatMessagesSent     *prometheus.CounterVec // account
	CommandsFired        *prometheus.CounterVec // kind
	CommandsRejected     *prometheus.CounterVec // reason: usage|restriction|cooldown
	CurrencyAdjustments  *prometheus.CounterVec // currency, mode
	GiveawaysSettled     *prometheus.CounterVec // giveaway, outcome
	FollowsDetected      prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	CooldownEntries prometheus.Gauge
	ViewersOnline   prometheus.Gauge
	ChatConnected   prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "firebot_chat_messages_received_total", Help: "Chat messages received from the channel"})
		ChatMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_chat_messages_sent_total", Help: "Chat message fragments sent"}, []string{"account"})
		CommandsFired = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_commands_fired_total", Help: "Commands that reached the fire stage"}, []string{"kind"})
		CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_commands_rejected_total", Help: "Matched commands stopped before firing"}, []string{"reason"})
		CurrencyAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_currency_adjustments_total", Help: "Balance adjustments applied"}, []string{"currency", "mode"})
		GiveawaysSettled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_giveaways_settled_total", Help: "Giveaway lobbies settled"}, []string{"giveaway", "outcome"})
		FollowsDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "firebot_follows_detected_total", Help: "New follows detected by the follower poll"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "firebot_dispatch_duration_seconds", Help: "Time spent in the command pipeline per message", Buckets: prometheus.DefBuckets})
		CooldownEntries = promauto.NewGauge(prometheus.GaugeOpts{Name: "firebot_cooldown_entries", Help: "Active in-memory cooldown entries"})
		ViewersOnline = promauto.NewGauge(prometheus.GaugeOpts{Name: "firebot_viewers_online", Help: "Viewers currently marked online"})
		ChatConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "firebot_chat_connected", Help: "Chat connection state connected=1 disconnected=0"})
	})
}

// IncCommandFired counts a fired command by kind (system|custom).
func IncCommandFired(kind string) {
	if CommandsFired != nil {
		CommandsFired.WithLabelValues(kind).Inc()
	}
}

// IncCommandRejected counts a command stopped at a gate.
func IncCommandRejected(reason string) {
	if CommandsRejected != nil {
		CommandsRejected.WithLabelValues(reason).Inc()
	}
}

// IncCurrencyAdjustment counts an applied balance change.
func IncCurrencyAdjustment(currency, mode string) {
	if CurrencyAdjustments != nil {
		CurrencyAdjustments.WithLabelValues(currency, mode).Inc()
	}
}

// IncGiveawaySettled counts a settled lobby (outcome: winner|empty).
func IncGiveawaySettled(giveaway, outcome string) {
	if GiveawaysSettled != nil {
		GiveawaysSettled.WithLabelValues(giveaway, outcome).Inc()
	}
}

// IncChatReceived counts an inbound chat message.
func IncChatReceived() {
	if ChatMessagesReceived != nil {
		ChatMessagesReceived.Inc()
	}
}

// IncChatSent counts an outbound fragment per account.
func IncChatSent(account string) {
	if ChatMessagesSent != nil {
		ChatMessagesSent.WithLabelValues(account).Inc()
	}
}

// IncFollows adds n detected follows.
func IncFollows(n int) {
	if FollowsDetected != nil && n > 0 {
		FollowsDetected.Add(float64(n))
	}
}

// SetCooldownEntries records the in-memory cooldown table size.
func SetCooldownEntries(n int) {
	if CooldownEntries != nil {
		CooldownEntries.Set(float64(n))
	}
}

// SetViewersOnline records the online viewer count.
func SetViewersOnline(n int) {
	if ViewersOnline != nil {
		ViewersOnline.Set(float64(n))
	}
}

// UpdateChatGauge sets gauge to 1 if connected else 0.
func UpdateChatGauge(connected bool) {
	if ChatConnected != nil {
		if connected {
			ChatConnected.Set(1)
		} else {
			ChatConnected.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
