package giveaways

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/options"
)

// RaffleID identifies the raffle giveaway.
const RaffleID = "firebot-raffle"

const (
	raffleCommandID = "firebot:raffle"
	raffleEnterID   = "firebot:raffleEnter"
	raffleClaimID   = "firebot:raffleClaim"
)

// ErrNoCurrency is returned when a game's configured currency is missing.
var ErrNoCurrency = errors.New("giveaway currency does not exist")

// Raffle draws one winner among viewers who typed !enter. In currency mode
// an entrant's chance is proportional to the balance they held on entry.
type Raffle struct {
	*game

	stateMu    sync.Mutex
	weighted   bool
	currencyID string
	unclaimed  string
}

// NewRaffle returns the raffle giveaway.
func NewRaffle(deps Deps) *Raffle {
	r := &Raffle{}
	r.game = newGame(RaffleID, DrawWeighted, deps, r.onSettled)
	return r
}

// Definition implements Giveaway.
func (r *Raffle) Definition() Definition {
	return Definition{
		ID:          RaffleID,
		Name:        "Raffle",
		Subtitle:    "Pick a random winner among viewers who enter",
		Description: "Viewers type !enter while the raffle is open. In currency mode viewers with more currency have a higher chance of winning.",
		Icon:        "fa-money-bill-wave",
		Categories: map[string]options.Category{
			"generalSettings": {
				Title:    "Raffle Settings",
				SortRank: 1,
				Settings: map[string]options.Definition{
					"requireCurrency": {Type: options.KindBoolean, Title: "Require Currency", Description: "Weight entries by currency and require a balance to enter.", Default: false, SortRank: 1},
					"currencyId":      {Type: options.KindCurrency, Title: "Currency", Default: "", SortRank: 2},
					"startDelay":      {Type: options.KindNumber, Title: "Entry Window (mins)", Default: float64(2), SortRank: 3, Validation: options.Validation{Min: options.Float64(1)}},
					"settleOnStop":    {Type: options.KindBoolean, Title: "Draw On Stop", Description: "Draw a winner when the raffle is stopped early instead of cancelling it.", Default: true, SortRank: 4},
				},
			},
			"messages": {
				Title:    "Messages",
				SortRank: 2,
				Settings: map[string]options.Definition{
					"startMessage":    {Type: options.KindString, Title: "Raffle Started", Default: "A raffle has begun! Type !enter within {minutes} minute(s) to join.", Validation: options.Validation{Required: true}},
					"winnerMessage":   {Type: options.KindString, Title: "Winner", Default: "{winner} has won the raffle, type !claim to claim your prize!", Validation: options.Validation{Required: true}},
					"noWinnerMessage": {Type: options.KindString, Title: "No Entrants", Default: "Nobody entered the raffle, so there is no winner."},
					"claimMessage":    {Type: options.KindString, Title: "Prize Claimed", Default: "{user} has claimed the raffle prize!"},
				},
			},
			"chatSettings": chatCategory,
		},
	}
}

// OnLoad implements Giveaway.
func (r *Raffle) OnLoad(_ context.Context, s Settings) {
	r.setSettings(s)
	r.register(r.raffleCommand(), r.enterCommand(), r.claimCommand())
}

// OnUnload implements Giveaway.
func (r *Raffle) OnUnload(_ context.Context, s Settings) {
	r.unregister(raffleCommandID, raffleEnterID, raffleClaimID)
	r.ClearLobby()
	r.setSettings(s)
}

// OnSettingsUpdate implements Giveaway.
func (r *Raffle) OnSettingsUpdate(_ context.Context, s Settings) {
	r.ClearLobby()
	r.setSettings(s)
}

// ClearLobby implements LobbyController and forgets any unclaimed prize.
func (r *Raffle) ClearLobby() {
	r.lobby.Clear()
	r.stateMu.Lock()
	r.unclaimed = ""
	r.stateMu.Unlock()
}

// StartLobby implements LobbyController using the configured mode.
func (r *Raffle) StartLobby(ctx context.Context, window time.Duration) (string, error) {
	gs := r.current().Category("generalSettings")
	if window <= 0 {
		window = r.window(0, gs.Int("startDelay"))
	}
	return r.start(ctx, gs.Bool("requireCurrency"), window)
}

// StopLobby implements LobbyController.
func (r *Raffle) StopLobby(ctx context.Context) bool {
	return r.lobby.Stop(ctx, r.current().Category("generalSettings").Bool("settleOnStop"))
}

func (r *Raffle) start(ctx context.Context, weighted bool, window time.Duration) (string, error) {
	currencyID := r.current().Category("generalSettings").String("currencyId")
	currencyName := ""
	if weighted {
		c, ok := r.deps.Ledger.GetCurrencyByID(currencyID)
		if !ok {
			return "", ErrNoCurrency
		}
		currencyName = c.Name
	}

	r.stateMu.Lock()
	id, err := r.lobby.Start(window)
	if err == nil {
		r.weighted, r.currencyID, r.unclaimed = weighted, currencyID, ""
	}
	r.stateMu.Unlock()
	if err != nil {
		return id, err
	}

	minutes := int(window / time.Minute)
	r.published(events.TypeGiveawayStarted, map[string]any{"lobbyId": id, "weighted": weighted, "minutes": minutes})
	msg := r.current().Category("messages").String("startMessage")
	r.say(ctx, fill(msg, "minutes", strconv.Itoa(minutes), "currency", currencyName))
	return id, nil
}

func (r *Raffle) raffleCommand() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          raffleCommandID,
			Name:        "Raffle",
			Description: "Starts, stops or clears a raffle.",
			Active:      true,
			Trigger:     "!raffle",
			SubCommands: []commands.SubCommand{
				{ID: "raffleStart", Arg: "start", Usage: "start [manual | currency] [minutes]", RestrictionData: modsOnly},
				{ID: "raffleStop", Arg: "stop", Usage: "stop", RestrictionData: modsOnly},
				{ID: "raffleClear", Arg: "clear", Usage: "clear", RestrictionData: modsOnly},
			},
			RestrictionData: modsOnly,
		},
		OnTrigger: r.onRaffle,
	}
}

func (r *Raffle) onRaffle(ctx context.Context, ev commands.TriggerEvent) error {
	uc := ev.UserCommand
	switch uc.SubcommandID {
	case "raffleStart":
		gs := r.current().Category("generalSettings")
		weighted := gs.Bool("requireCurrency")
		var minutes int64
		for _, a := range uc.Args[1:] {
			switch strings.ToLower(a) {
			case "manual":
				weighted = false
			case "currency":
				weighted = true
			default:
				if n, err := strconv.ParseInt(a, 10, 64); err == nil {
					minutes = n
				}
			}
		}
		_, err := r.start(ctx, weighted, r.window(minutes, gs.Int("startDelay")))
		switch {
		case errors.Is(err, ErrLobbyOpen):
			r.say(ctx, "There is already a raffle running. Use !raffle stop to stop it.")
		case errors.Is(err, ErrNoCurrency):
			r.say(ctx, "Unable to start the raffle as the selected currency appears to not exist anymore.")
		case err != nil:
			return fmt.Errorf("start raffle: %w", err)
		}
	case "raffleStop":
		if !r.StopLobby(ctx) {
			r.say(ctx, "There is no raffle running.")
		}
	case "raffleClear":
		r.ClearLobby()
		r.say(ctx, "The raffle has been cleared.")
	default:
		r.say(ctx, fmt.Sprintf("Incorrect raffle usage: %s start | stop | clear", uc.Trigger))
	}
	return nil
}

func (r *Raffle) enterCommand() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          raffleEnterID,
			Name:        "Raffle Enter",
			Description: "Enters the running raffle.",
			Active:      true,
			Trigger:     "!enter",
			SkipLog:     true,
		},
		OnTrigger: r.onEnter,
	}
}

func (r *Raffle) onEnter(ctx context.Context, ev commands.TriggerEvent) error {
	user := ev.UserCommand.CommandSender
	if r.lobby.State() != StateOpen {
		return nil
	}
	r.stateMu.Lock()
	weighted, currencyID := r.weighted, r.currencyID
	r.stateMu.Unlock()

	weight := int64(1)
	if weighted {
		c, ok := r.deps.Ledger.GetCurrencyByID(currencyID)
		if !ok {
			r.say(ctx, "Unable to enter the raffle as the selected currency appears to not exist anymore.")
			return nil
		}
		weight = r.deps.Ledger.GetAmount(ctx, user, currencyID)
		if weight <= 0 {
			r.say(ctx, fmt.Sprintf("%s, you need some %s to enter the raffle.", user, c.Name))
			return nil
		}
	}
	switch err := r.lobby.Enter(Entry{Username: user, Weight: weight}); {
	case errors.Is(err, ErrAlreadyEntered):
		r.say(ctx, fmt.Sprintf("%s, you are already in the raffle.", user))
		return nil
	case err != nil:
		return nil
	}
	r.published(events.TypeGiveawayEntered, map[string]any{"lobbyId": r.lobby.ID(), "username": user, "weight": weight})
	return nil
}

func (r *Raffle) claimCommand() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          raffleClaimID,
			Name:        "Raffle Claim",
			Description: "Lets the raffle winner claim the prize.",
			Active:      true,
			Trigger:     "!claim",
		},
		OnTrigger: r.onClaim,
	}
}

func (r *Raffle) onClaim(ctx context.Context, ev commands.TriggerEvent) error {
	user := ev.UserCommand.CommandSender
	r.stateMu.Lock()
	winner := r.unclaimed
	ok := winner != "" && strings.EqualFold(winner, user)
	if ok {
		r.unclaimed = ""
	}
	r.stateMu.Unlock()
	if !ok {
		r.say(ctx, fmt.Sprintf("%s, you have no raffle prize to claim.", user))
		return nil
	}
	r.say(ctx, fill(r.current().Category("messages").String("claimMessage"), "user", user))
	r.deps.Bus.Publish(events.TypeEventLog, map[string]any{"type": "general", "username": user, "event": "claimed the raffle prize."})
	return nil
}

func (r *Raffle) onSettled(ctx context.Context, o Outcome) {
	r.settled(o)
	msgs := r.current().Category("messages")
	switch {
	case o.Abandoned:
		r.say(ctx, "The raffle was stopped without a winner.")
	case o.NoWinner():
		r.say(ctx, msgs.String("noWinnerMessage"))
	default:
		r.stateMu.Lock()
		r.unclaimed = o.Winner.Username
		r.stateMu.Unlock()
		r.say(ctx, fill(msgs.String("winnerMessage"), "winner", o.Winner.Username, "weight", humanize.Comma(o.Winner.Weight)))
	}
}
