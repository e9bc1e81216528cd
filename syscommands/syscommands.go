// Package syscommands holds the built-in chat commands that ship with the bot.
package syscommands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/options"
	"github.com/senepa/Firebot/restrictions"
	"github.com/senepa/Firebot/store"
)

// Command ids.
const (
	CommandListID = "firebot:commandlist"
	CurrencyID    = "firebot:currency"
)

// ModsOnly restricts a command or sub-command to moderators and the streamer.
var ModsOnly = restrictions.Data{
	Restrictions: []restrictions.Restriction{{
		ID:      "sys-cmd-mods-only-perms",
		Type:    restrictions.TypePermissions,
		Mode:    "roles",
		RoleIDs: []string{chat.RoleMod, chat.RoleBroadcaster},
	}},
}

// Ledger is the currency surface the built-ins use.
type Ledger interface {
	GetCurrencies() []currency.Currency
	GetCurrencyByID(id string) (currency.Currency, bool)
	GetCurrencyByName(name string) (currency.Currency, bool)
	GetAmount(ctx context.Context, username, currencyID string) int64
	AdjustForUser(ctx context.Context, username, currencyID string, value int64, mode currency.Mode) bool
	TopHolders(ctx context.Context, currencyID string, n int) ([]store.Holder, error)
}

// Register adds the built-in commands to reg.
func Register(reg *commands.Registry, ledger Ledger, sender chat.Sender, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &builtins{reg: reg, ledger: ledger, sender: sender, logger: logger.With("component", "syscommands")}
	reg.RegisterSystemCommand(b.commandList())
	if ledger != nil {
		reg.RegisterSystemCommand(b.currency())
	}
}

type builtins struct {
	reg    *commands.Registry
	ledger Ledger
	sender chat.Sender
	logger *slog.Logger
}

func (b *builtins) say(ctx context.Context, opts options.Values, text string) {
	err := b.sender.Send(ctx, text, chat.SendOptions{Account: chat.Account(opts.String("chatter"))})
	if err != nil {
		b.logger.Warn("reply failed", slog.Any("err", err))
	}
}

var chatterOption = options.Definition{
	Type:     options.KindChatter,
	Title:    "Chat As",
	Default:  string(chat.AccountBot),
	SortRank: 99,
}

func (b *builtins) commandList() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          CommandListID,
			Name:        "Command List",
			Description: "Lists the custom commands viewers can use.",
			Active:      true,
			Trigger:     "!commands",
			Cooldown:    &commands.Cooldown{Global: 30},
			Options: map[string]options.Definition{
				"chatter": chatterOption,
			},
		},
		OnTrigger: func(ctx context.Context, ev commands.TriggerEvent) error {
			var triggers []string
			for _, c := range b.reg.GetAllCustomCommands() {
				if c.Active && !c.Hidden {
					triggers = append(triggers, c.Trigger)
				}
			}
			if len(triggers) == 0 {
				b.say(ctx, ev.Options, "There are no commands available right now.")
				return nil
			}
			sort.Strings(triggers)
			b.say(ctx, ev.Options, "Available commands: "+strings.Join(triggers, ", "))
			return nil
		},
	}
}

func (b *builtins) currency() commands.SystemCommand {
	return commands.SystemCommand{
		Definition: commands.Command{
			ID:          CurrencyID,
			Name:        "Currency",
			Description: "Shows balances and leaderboards; moderators can add or remove currency.",
			Active:      true,
			Trigger:     "!currency",
			Cooldown:    &commands.Cooldown{User: 5},
			SubCommands: []commands.SubCommand{
				{ID: "currency-top", Arg: "top", Usage: "top [currency]"},
				{ID: "currency-add", Arg: "add", Usage: "add <user> <amount> [currency]", MinArgs: 3, RestrictionData: ModsOnly},
				{ID: "currency-remove", Arg: "remove", Usage: "remove <user> <amount> [currency]", MinArgs: 3, RestrictionData: ModsOnly},
			},
			Options: map[string]options.Definition{
				"defaultCurrency": {
					Type:        options.KindCurrency,
					Title:       "Default Currency",
					Description: "Used when no currency name is given. Empty shows every currency.",
					Default:     "",
				},
				"topCount": {
					Type:       options.KindNumber,
					Title:      "Leaderboard Size",
					Default:    float64(5),
					Validation: options.Validation{Min: options.Float64(1), Max: options.Float64(25)},
				},
				"chatter": chatterOption,
			},
		},
		OnTrigger: b.onCurrency,
	}
}

func (b *builtins) onCurrency(ctx context.Context, ev commands.TriggerEvent) error {
	uc := ev.UserCommand
	switch uc.SubcommandID {
	case "currency-top":
		return b.top(ctx, ev, nameArg(uc.Args, 1))
	case "currency-add", "currency-remove":
		return b.adjust(ctx, ev)
	}

	if name := nameArg(uc.Args, 0); name != "" {
		c, ok := b.ledger.GetCurrencyByName(name)
		if !ok {
			b.say(ctx, ev.Options, fmt.Sprintf("%s, there is no currency named %q.", uc.CommandSender, name))
			return nil
		}
		b.say(ctx, ev.Options, b.balanceLine(ctx, uc.CommandSender, []currency.Currency{c}))
		return nil
	}
	list := b.ledger.GetCurrencies()
	if id := ev.Options.String("defaultCurrency"); id != "" {
		if c, ok := b.ledger.GetCurrencyByID(id); ok {
			list = []currency.Currency{c}
		}
	}
	if len(list) == 0 {
		return nil
	}
	b.say(ctx, ev.Options, b.balanceLine(ctx, uc.CommandSender, list))
	return nil
}

func (b *builtins) balanceLine(ctx context.Context, username string, list []currency.Currency) string {
	parts := make([]string, 0, len(list))
	for _, c := range list {
		parts = append(parts, fmt.Sprintf("%s %s", humanize.Comma(b.ledger.GetAmount(ctx, username, c.ID)), c.Name))
	}
	return fmt.Sprintf("%s, you have %s.", username, strings.Join(parts, ", "))
}

// resolve picks the named currency, the configured default or the only one.
func (b *builtins) resolve(opts options.Values, name string) (currency.Currency, bool) {
	if name != "" {
		return b.ledger.GetCurrencyByName(name)
	}
	if id := opts.String("defaultCurrency"); id != "" {
		return b.ledger.GetCurrencyByID(id)
	}
	if list := b.ledger.GetCurrencies(); len(list) > 0 {
		return list[0], true
	}
	return currency.Currency{}, false
}

func (b *builtins) top(ctx context.Context, ev commands.TriggerEvent, name string) error {
	c, ok := b.resolve(ev.Options, name)
	if !ok {
		b.say(ctx, ev.Options, fmt.Sprintf("%s, that currency does not exist.", ev.UserCommand.CommandSender))
		return nil
	}
	n := int(ev.Options.Int("topCount"))
	if n <= 0 {
		n = 5
	}
	holders, err := b.ledger.TopHolders(ctx, c.ID, n)
	if err != nil {
		return fmt.Errorf("top holders for %s: %w", c.Name, err)
	}
	if len(holders) == 0 {
		b.say(ctx, ev.Options, fmt.Sprintf("Nobody has any %s yet.", c.Name))
		return nil
	}
	parts := make([]string, 0, len(holders))
	for i, h := range holders {
		parts = append(parts, fmt.Sprintf("#%d %s (%s)", i+1, h.Username, humanize.Comma(h.Amount)))
	}
	b.say(ctx, ev.Options, fmt.Sprintf("Top %s: %s", c.Name, strings.Join(parts, ", ")))
	return nil
}

func (b *builtins) adjust(ctx context.Context, ev commands.TriggerEvent) error {
	uc := ev.UserCommand
	target := strings.TrimPrefix(uc.Args[1], "@")
	amount, ok := currency.ParseAmount(uc.Args[2])
	if !ok || amount <= 0 {
		b.say(ctx, ev.Options, fmt.Sprintf("%s, %q is not a valid amount.", uc.CommandSender, uc.Args[2]))
		return nil
	}
	c, ok := b.resolve(ev.Options, nameArg(uc.Args, 3))
	if !ok {
		b.say(ctx, ev.Options, fmt.Sprintf("%s, that currency does not exist.", uc.CommandSender))
		return nil
	}
	verb := "added"
	if uc.SubcommandID == "currency-remove" {
		amount, verb = -amount, "removed"
	}
	if !b.ledger.AdjustForUser(ctx, target, c.ID, amount, currency.ModeAdjust) {
		b.say(ctx, ev.Options, fmt.Sprintf("%s, could not update %s for %s.", uc.CommandSender, c.Name, target))
		return nil
	}
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	b.say(ctx, ev.Options, fmt.Sprintf("%s %s %s for %s.", humanize.Comma(abs), c.Name, verb, target))
	return nil
}

// nameArg joins args from i onward so multi-word currency names work.
func nameArg(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return strings.Join(args[i:], " ")
}
