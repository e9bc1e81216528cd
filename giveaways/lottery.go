package giveaways

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/options"
)

// LotteryID identifies the lottery giveaway.
const LotteryID = "firebot-lottery"

const (
	lotteryCommandID = "firebot:lottery"
	lotteryTicketID  = "firebot:lotteryTicket"
)

// Lottery sells tickets for currency while open; each ticket is one unit of
// weight in the draw and the winner is paid the prize.
type Lottery struct {
	*game

	buyMu sync.Mutex
	// paid tracks what each entrant spent so refunds survive setting changes.
	paid       map[string]int64
	currencyID string
}

// NewLottery returns the lottery giveaway.
func NewLottery(deps Deps) *Lottery {
	l := &Lottery{paid: make(map[string]int64)}
	l.game = newGame(LotteryID, DrawWeighted, deps, l.onSettled)
	return l
}

// Definition implements Giveaway.
func (l *Lottery) Definition() Definition {
	return Definition{
		ID:          LotteryID,
		Name:        "Lottery",
		Subtitle:    "Viewers buy tickets with currency for a prize",
		Description: "While the lottery is open viewers buy tickets with !ticket. Every ticket is a chance to win; the winner receives the prize.",
		Icon:        "fa-ticket-alt",
		Categories: map[string]options.Category{
			"generalSettings": {
				Title:    "Lottery Settings",
				SortRank: 1,
				Settings: map[string]options.Definition{
					"currencyId":   {Type: options.KindCurrency, Title: "Currency", Default: "", SortRank: 1},
					"ticketCost":   {Type: options.KindNumber, Title: "Ticket Cost", Default: float64(10), SortRank: 2, Validation: options.Validation{Min: options.Float64(0)}},
					"maxTickets":   {Type: options.KindNumber, Title: "Max Tickets Per Viewer", Default: float64(10), SortRank: 3, Validation: options.Validation{Min: options.Float64(1)}},
					"prize":        {Type: options.KindNumber, Title: "Prize", Default: float64(1000), SortRank: 4, Validation: options.Validation{Min: options.Float64(0)}},
					"startDelay":   {Type: options.KindNumber, Title: "Entry Window (mins)", Default: float64(5), SortRank: 5, Validation: options.Validation{Min: options.Float64(1)}},
					"settleOnStop": {Type: options.KindBoolean, Title: "Draw On Stop", Default: true, SortRank: 6},
				},
			},
			"messages": {
				Title:    "Messages",
				SortRank: 2,
				Settings: map[string]options.Definition{
					"startMessage":    {Type: options.KindString, Title: "Lottery Started", Default: "The lottery is open for {minutes} minute(s)! Buy tickets with !ticket [count] for {cost} {currency} each.", Validation: options.Validation{Required: true}},
					"winnerMessage":   {Type: options.KindString, Title: "Winner", Default: "{winner} won the lottery with {tickets} ticket(s) and receives {prize} {currency}!", Validation: options.Validation{Required: true}},
					"noWinnerMessage": {Type: options.KindString, Title: "No Tickets", Default: "Nobody bought a lottery ticket."},
					"ticketMessage":   {Type: options.KindString, Title: "Tickets Bought", Default: "{user} now holds {tickets} lottery ticket(s)."},
				},
			},
			"chatSettings": chatCategory,
		},
	}
}

// OnLoad implements Giveaway.
func (l *Lottery) OnLoad(_ context.Context, s Settings) {
	l.setSettings(s)
	l.register(l.lotteryCommand(), l.ticketCommand())
}

// OnUnload implements Giveaway.
func (l *Lottery) OnUnload(_ context.Context, s Settings) {
	l.unregister(lotteryCommandID, lotteryTicketID)
	l.ClearLobby()
	l.setSettings(s)
}

// OnSettingsUpdate implements Giveaway.
func (l *Lottery) OnSettingsUpdate(_ context.Context, s Settings) {
	l.ClearLobby()
	l.setSettings(s)
}

// ClearLobby implements LobbyController; ticket holders are refunded.
func (l *Lottery) ClearLobby() {
	l.buyMu.Lock()
	defer l.buyMu.Unlock()
	l.refundLocked(context.Background(), l.lobby.Clear())
}

func (l *Lottery) refundLocked(ctx context.Context, entries []Entry) {
	for _, e := range entries {
		amount := l.paid[e.Username]
		if amount <= 0 {
			continue
		}
		if !l.deps.Ledger.AdjustForUser(ctx, e.Username, l.currencyID, amount, currency.ModeAdjust) {
			l.logger.Warn("ticket refund failed", slog.String("username", e.Username), slog.Int64("amount", amount))
		}
	}
	l.paid = make(map[string]int64)
}

// StartLobby implements LobbyController.
func (l *Lottery) StartLobby(ctx context.Context, window time.Duration) (string, error) {
	if window <= 0 {
		window = l.window(0, l.current().Category("generalSettings").Int("startDelay"))
	}
	return l.start(ctx, window)
}

// StopLobby implements LobbyController.
func (l *Lottery) StopLobby(ctx context.Context) bool {
	return l.lobby.Stop(ctx, l.current().Category("generalSettings").Bool("settleOnStop"))
}

func (l *Lottery) start(ctx context.Context, window time.Duration) (string, error) {
	gs := l.current().Category("generalSettings")
	c, ok := l.deps.Ledger.GetCurrencyByID(gs.String("currencyId"))
	if !ok {
		return "", ErrNoCurrency
	}
	l.buyMu.Lock()
	id, err := l.lobby.Start(window)
	if err == nil {
		l.currencyID = c.ID
		l.paid = make(map[string]int64)
	}
	l.buyMu.Unlock()
	if err != nil {
		return id, err
	}
	minutes := int(window / time.Minute)
	l.published(events.TypeGiveawayStarted, map[string]any{"lobbyId": id, "minutes": minutes})
	l.say(ctx, fill(l.current().Category("messages").String("startMessage"),
		"minutes", strconv.Itoa(minutes), "cost", humanize.Comma(gs.Int("ticketCost")), "currency", c.Name))
	return id, nil
}

func (l *Lottery) lotteryCommand() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          lotteryCommandID,
			Name:        "Lottery",
			Description: "Starts, stops or clears the lottery.",
			Active:      true,
			Trigger:     "!lottery",
			SubCommands: []commands.SubCommand{
				{ID: "lotteryStart", Arg: "start", Usage: "start [minutes]", RestrictionData: modsOnly},
				{ID: "lotteryStop", Arg: "stop", Usage: "stop", RestrictionData: modsOnly},
				{ID: "lotteryClear", Arg: "clear", Usage: "clear", RestrictionData: modsOnly},
			},
			RestrictionData: modsOnly,
		},
		OnTrigger: l.onLottery,
	}
}

func (l *Lottery) onLottery(ctx context.Context, ev commands.TriggerEvent) error {
	uc := ev.UserCommand
	switch uc.SubcommandID {
	case "lotteryStart":
		var minutes int64
		if len(uc.Args) > 1 {
			minutes, _ = strconv.ParseInt(uc.Args[1], 10, 64)
		}
		_, err := l.start(ctx, l.window(minutes, l.current().Category("generalSettings").Int("startDelay")))
		switch {
		case errors.Is(err, ErrLobbyOpen):
			l.say(ctx, "There is already a lottery running. Use !lottery stop to stop it.")
		case errors.Is(err, ErrNoCurrency):
			l.say(ctx, "Unable to start the lottery as the selected currency appears to not exist anymore.")
		case err != nil:
			return fmt.Errorf("start lottery: %w", err)
		}
	case "lotteryStop":
		if !l.StopLobby(ctx) {
			l.say(ctx, "There is no lottery running.")
		}
	case "lotteryClear":
		l.ClearLobby()
		l.say(ctx, "The lottery has been cleared and all tickets refunded.")
	default:
		l.say(ctx, fmt.Sprintf("Incorrect lottery usage: %s start | stop | clear", uc.Trigger))
	}
	return nil
}

func (l *Lottery) ticketCommand() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          lotteryTicketID,
			Name:        "Lottery Ticket",
			Description: "Buys lottery tickets.",
			Active:      true,
			Trigger:     "!ticket",
			Usage:       "[count]",
			SkipLog:     true,
		},
		OnTrigger: l.onTicket,
	}
}

func (l *Lottery) onTicket(ctx context.Context, ev commands.TriggerEvent) error {
	user := ev.UserCommand.CommandSender
	want := int64(1)
	if args := ev.UserCommand.Args; len(args) > 0 {
		n, ok := currency.ParseAmount(args[0])
		if !ok || n <= 0 {
			l.say(ctx, fmt.Sprintf("%s, please enter a valid number of tickets.", user))
			return nil
		}
		want = n
	}

	gs := l.current().Category("generalSettings")
	cost, limit := gs.Int("ticketCost"), gs.Int("maxTickets")

	l.buyMu.Lock()
	defer l.buyMu.Unlock()
	if l.lobby.State() != StateOpen {
		l.say(ctx, fmt.Sprintf("%s, there is no lottery running.", user))
		return nil
	}
	c, ok := l.deps.Ledger.GetCurrencyByID(l.currencyID)
	if !ok {
		l.say(ctx, "Unable to buy tickets as the lottery currency appears to not exist anymore.")
		return nil
	}
	held := int64(0)
	if e, ok := l.lobby.Entry(user); ok {
		held = e.Weight
	}
	if held+want > limit {
		want = limit - held
	}
	if want <= 0 {
		l.say(ctx, fmt.Sprintf("%s, you already hold the maximum of %d tickets.", user, limit))
		return nil
	}
	price := want * cost
	if price > 0 {
		if bal := l.deps.Ledger.GetAmount(ctx, user, c.ID); bal < price {
			l.say(ctx, fmt.Sprintf("%s, you need %s %s for %d ticket(s).", user, humanize.Comma(price), c.Name, want))
			return nil
		}
		if !l.deps.Ledger.AdjustForUser(ctx, user, c.ID, -price, currency.ModeAdjust) {
			l.say(ctx, fmt.Sprintf("%s, your tickets could not be bought.", user))
			return nil
		}
	}

	var err error
	if held > 0 {
		err = l.lobby.Update(user, held+want)
	} else {
		err = l.lobby.Enter(Entry{Username: user, Weight: want})
	}
	if err != nil {
		if price > 0 {
			l.deps.Ledger.AdjustForUser(ctx, user, c.ID, price, currency.ModeAdjust)
		}
		return nil
	}
	l.paid[user] += price
	l.published(events.TypeGiveawayEntered, map[string]any{"lobbyId": l.lobby.ID(), "username": user, "weight": held + want})
	l.say(ctx, fill(l.current().Category("messages").String("ticketMessage"), "user", user, "tickets", strconv.FormatInt(held+want, 10)))
	return nil
}

func (l *Lottery) onSettled(ctx context.Context, o Outcome) {
	l.settled(o)
	if o.Abandoned {
		l.buyMu.Lock()
		l.refundLocked(ctx, o.Entrants)
		l.buyMu.Unlock()
		l.say(ctx, "The lottery was cancelled and all tickets refunded.")
		return
	}
	msgs := l.current().Category("messages")
	if o.NoWinner() {
		l.say(ctx, msgs.String("noWinnerMessage"))
		return
	}
	prize := l.current().Category("generalSettings").Int("prize")
	l.buyMu.Lock()
	currencyID := l.currencyID
	l.buyMu.Unlock()
	name := currencyID
	if c, ok := l.deps.Ledger.GetCurrencyByID(currencyID); ok {
		name = c.Name
	}
	if prize > 0 && !l.deps.Ledger.AdjustForUser(ctx, o.Winner.Username, currencyID, prize, currency.ModeAdjust) {
		l.logger.Error("lottery prize payout failed", slog.String("winner", o.Winner.Username), slog.Int64("prize", prize))
	}
	l.say(ctx, fill(msgs.String("winnerMessage"),
		"winner", o.Winner.Username,
		"tickets", strconv.FormatInt(o.Winner.Weight, 10),
		"prize", humanize.Comma(prize),
		"currency", name))
}
