package giveaways

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/options"
)

// BidID identifies the bid giveaway.
const BidID = "firebot-bid"

const bidCommandID = "firebot:bid"

// Bid runs an auction: the highest bid when the window closes wins and only
// the winner pays.
type Bid struct {
	*game

	bidMu      sync.Mutex
	currencyID string
}

// NewBid returns the bid giveaway.
func NewBid(deps Deps) *Bid {
	b := &Bid{}
	b.game = newGame(BidID, DrawHighest, deps, b.onSettled)
	return b
}

// Definition implements Giveaway.
func (b *Bid) Definition() Definition {
	return Definition{
		ID:          BidID,
		Name:        "Bid",
		Subtitle:    "Auction off a prize for currency",
		Description: "Viewers bid currency with !bid <amount>. The highest bidder when time runs out wins and pays their bid.",
		Icon:        "fa-gavel",
		Categories: map[string]options.Category{
			"generalSettings": {
				Title:    "Bid Settings",
				SortRank: 1,
				Settings: map[string]options.Definition{
					"currencyId":   {Type: options.KindCurrency, Title: "Currency", Default: "", SortRank: 1},
					"minBid":       {Type: options.KindNumber, Title: "Minimum Bid", Default: float64(10), SortRank: 2, Validation: options.Validation{Min: options.Float64(1)}},
					"startDelay":   {Type: options.KindNumber, Title: "Bidding Window (mins)", Default: float64(2), SortRank: 3, Validation: options.Validation{Min: options.Float64(1)}},
					"settleOnStop": {Type: options.KindBoolean, Title: "Award On Stop", Default: true, SortRank: 4},
				},
			},
			"messages": {
				Title:    "Messages",
				SortRank: 2,
				Settings: map[string]options.Definition{
					"startMessage":    {Type: options.KindString, Title: "Bidding Started", Default: "Bidding has started! Use !bid <amount> within {minutes} minute(s). Minimum bid is {minBid} {currency}.", Validation: options.Validation{Required: true}},
					"winnerMessage":   {Type: options.KindString, Title: "Winner", Default: "{winner} won the auction with a bid of {amount} {currency}!", Validation: options.Validation{Required: true}},
					"noWinnerMessage": {Type: options.KindString, Title: "No Bids", Default: "Nobody placed a bid."},
					"leadMessage":     {Type: options.KindString, Title: "New Highest Bid", Default: "{user} is the highest bidder with {amount} {currency}."},
				},
			},
			"chatSettings": chatCategory,
		},
	}
}

// OnLoad implements Giveaway.
func (b *Bid) OnLoad(_ context.Context, s Settings) {
	b.setSettings(s)
	b.register(b.bidCommand())
}

// OnUnload implements Giveaway.
func (b *Bid) OnUnload(_ context.Context, s Settings) {
	b.unregister(bidCommandID)
	b.ClearLobby()
	b.setSettings(s)
}

// OnSettingsUpdate implements Giveaway.
func (b *Bid) OnSettingsUpdate(_ context.Context, s Settings) {
	b.ClearLobby()
	b.setSettings(s)
}

// StartLobby implements LobbyController.
func (b *Bid) StartLobby(ctx context.Context, window time.Duration) (string, error) {
	if window <= 0 {
		window = b.window(0, b.current().Category("generalSettings").Int("startDelay"))
	}
	return b.start(ctx, window)
}

// StopLobby implements LobbyController.
func (b *Bid) StopLobby(ctx context.Context) bool {
	return b.lobby.Stop(ctx, b.current().Category("generalSettings").Bool("settleOnStop"))
}

func (b *Bid) start(ctx context.Context, window time.Duration) (string, error) {
	gs := b.current().Category("generalSettings")
	c, ok := b.deps.Ledger.GetCurrencyByID(gs.String("currencyId"))
	if !ok {
		return "", ErrNoCurrency
	}
	b.bidMu.Lock()
	id, err := b.lobby.Start(window)
	if err == nil {
		b.currencyID = c.ID
	}
	b.bidMu.Unlock()
	if err != nil {
		return id, err
	}
	minutes := int(window / time.Minute)
	b.published(events.TypeGiveawayStarted, map[string]any{"lobbyId": id, "minutes": minutes})
	b.say(ctx, fill(b.current().Category("messages").String("startMessage"),
		"minutes", strconv.Itoa(minutes), "minBid", humanize.Comma(gs.Int("minBid")), "currency", c.Name))
	return id, nil
}

func (b *Bid) bidCommand() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          bidCommandID,
			Name:        "Bid",
			Description: "Runs an auction or places a bid.",
			Active:      true,
			Trigger:     "!bid",
			Usage:       "<amount>",
			MinArgs:     1,
			SubCommands: []commands.SubCommand{
				{ID: "bidStart", Arg: "start", Usage: "start [minutes]", RestrictionData: modsOnly},
				{ID: "bidStop", Arg: "stop", Usage: "stop", RestrictionData: modsOnly},
				{ID: "bidAmount", Arg: `[\d,]+`, Regex: true, Usage: "<amount>"},
			},
		},
		OnTrigger: b.onBid,
	}
}

func (b *Bid) onBid(ctx context.Context, ev commands.TriggerEvent) error {
	uc := ev.UserCommand
	switch uc.SubcommandID {
	case "bidStart":
		var minutes int64
		if len(uc.Args) > 1 {
			minutes, _ = strconv.ParseInt(uc.Args[1], 10, 64)
		}
		_, err := b.start(ctx, b.window(minutes, b.current().Category("generalSettings").Int("startDelay")))
		switch {
		case errors.Is(err, ErrLobbyOpen):
			b.say(ctx, "There is already an auction running. Use !bid stop to stop it.")
		case errors.Is(err, ErrNoCurrency):
			b.say(ctx, "Unable to start bidding as the selected currency appears to not exist anymore.")
		case err != nil:
			return fmt.Errorf("start bid: %w", err)
		}
	case "bidStop":
		if !b.StopLobby(ctx) {
			b.say(ctx, "There is no auction running.")
		}
	case "bidAmount":
		amount, _ := currency.ParseAmount(uc.Args[0])
		b.place(ctx, uc.CommandSender, amount)
	default:
		b.say(ctx, fmt.Sprintf("Incorrect bid usage: %s <amount>", uc.Trigger))
	}
	return nil
}

func (b *Bid) place(ctx context.Context, user string, amount int64) {
	minBid := b.current().Category("generalSettings").Int("minBid")

	b.bidMu.Lock()
	defer b.bidMu.Unlock()
	if b.lobby.State() != StateOpen {
		b.say(ctx, fmt.Sprintf("%s, there is no auction running.", user))
		return
	}
	c, ok := b.deps.Ledger.GetCurrencyByID(b.currencyID)
	if !ok {
		b.say(ctx, "Unable to bid as the selected currency appears to not exist anymore.")
		return
	}
	if amount < minBid {
		b.say(ctx, fmt.Sprintf("%s, the minimum bid is %s %s.", user, humanize.Comma(minBid), c.Name))
		return
	}
	var highest int64
	for _, e := range b.lobby.Entries() {
		highest = max(highest, e.Weight)
	}
	if amount <= highest {
		b.say(ctx, fmt.Sprintf("%s, you must bid more than %s %s.", user, humanize.Comma(highest), c.Name))
		return
	}
	if bal := b.deps.Ledger.GetAmount(ctx, user, c.ID); bal < amount {
		b.say(ctx, fmt.Sprintf("%s, you do not have enough %s to bid that much.", user, c.Name))
		return
	}

	err := b.lobby.Enter(Entry{Username: user, Weight: amount})
	if errors.Is(err, ErrAlreadyEntered) {
		err = b.lobby.Update(user, amount)
	}
	if err != nil {
		return
	}
	b.published(events.TypeGiveawayEntered, map[string]any{"lobbyId": b.lobby.ID(), "username": user, "weight": amount})
	b.say(ctx, fill(b.current().Category("messages").String("leadMessage"), "user", user, "amount", humanize.Comma(amount), "currency", c.Name))
}

func (b *Bid) onSettled(ctx context.Context, o Outcome) {
	if o.Abandoned {
		b.settled(o)
		b.say(ctx, "The auction was cancelled. No currency was taken.")
		return
	}
	msgs := b.current().Category("messages")
	b.bidMu.Lock()
	currencyID := b.currencyID
	b.bidMu.Unlock()

	// Bids are charged at settlement, so a winner who spent their currency
	// since bidding is skipped for the next highest bid they can still pay.
	o.Winner = nil
	for _, e := range byBidDesc(o.Entrants) {
		if b.deps.Ledger.Charge(ctx, e.Username, currencyID, e.Weight) {
			w := e
			o.Winner = &w
			break
		}
		b.logger.Info("bid no longer covered", slog.String("user", e.Username), slog.Int64("amount", e.Weight))
	}
	b.settled(o)
	if o.NoWinner() {
		b.say(ctx, msgs.String("noWinnerMessage"))
		return
	}
	name := currencyID
	if c, ok := b.deps.Ledger.GetCurrencyByID(currencyID); ok {
		name = c.Name
	}
	b.say(ctx, fill(msgs.String("winnerMessage"), "winner", o.Winner.Username, "amount", humanize.Comma(o.Winner.Weight), "currency", name))
}

// byBidDesc orders entries by bid, highest first; equal bids keep entry order.
func byBidDesc(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
