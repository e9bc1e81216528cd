package currency

import (
	"context"
	"log/slog"
	"time"
)

// Accrual pays each currency's interval payout (plus role bonuses) to
// online viewers.
type Accrual struct {
	ledger *Ledger
	tick   time.Duration
	logger *slog.Logger
	last   map[string]time.Time
}

// NewAccrual checks currencies every tick.
func NewAccrual(l *Ledger, tick time.Duration, logger *slog.Logger) *Accrual {
	if tick <= 0 {
		tick = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accrual{ledger: l, tick: tick, logger: logger.With("component", "currency_accrual"), last: make(map[string]time.Time)}
}

// Run ticks until ctx is cancelled.
func (a *Accrual) Run(ctx context.Context) {
	t := time.NewTicker(a.tick)
	defer t.Stop()
	a.logger.Info("currency accrual started", slog.Duration("tick", a.tick))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.Tick(ctx, now)
		}
	}
}

// Tick pays every currency whose interval elapsed since its last payout.
// The first tick for a currency only starts its clock.
func (a *Accrual) Tick(ctx context.Context, now time.Time) {
	seen := make(map[string]bool)
	for _, c := range a.ledger.GetCurrencies() {
		seen[c.ID] = true
		if c.Interval <= 0 {
			continue
		}
		last, ok := a.last[c.ID]
		if !ok {
			a.last[c.ID] = now
			continue
		}
		if now.Sub(last) < time.Duration(c.Interval)*time.Minute {
			continue
		}
		a.last[c.ID] = now
		if c.Payout != 0 {
			if err := a.ledger.AddToOnlineUsers(ctx, c.ID, c.Payout, false, ModeAdjust); err != nil {
				a.logger.Warn("payout failed", slog.String("currency", c.Name), slog.Any("err", err))
			}
		}
		for role, bonus := range c.Bonus {
			if bonus == 0 {
				continue
			}
			if err := a.ledger.AddToRoleOnlineUsers(ctx, []string{role}, c.ID, bonus, false, ModeAdjust); err != nil {
				a.logger.Warn("role bonus failed", slog.String("currency", c.Name), slog.String("role", role), slog.Any("err", err))
			}
		}
		a.logger.Debug("currency paid out", slog.String("currency", c.Name))
	}
	for id := range a.last {
		if !seen[id] {
			delete(a.last, id)
		}
	}
}
