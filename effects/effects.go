// Package effects runs the response effects of custom commands.
package effects

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
)

// TypeChat sends a chat message.
const TypeChat = "firebot:chat"

// Executor runs custom command effects through the chat transport.
type Executor struct {
	sender chat.Sender
	logger *slog.Logger
}

// NewExecutor returns an executor sending through sender.
func NewExecutor(sender chat.Sender, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sender: sender, logger: logger.With("component", "effects")}
}

// Execute runs every effect in order. Failures are logged per effect and
// never abort the remaining effects.
func (e *Executor) Execute(ctx context.Context, cmd commands.Command, uc commands.UserCommand, _ *chat.Message, manual bool) error {
	for _, eff := range cmd.Effects {
		switch eff.Type {
		case TypeChat, "chat":
			text := Expand(eff.Message, cmd, uc)
			if strings.TrimSpace(text) == "" {
				continue
			}
			opts := chat.SendOptions{Account: chat.Account(eff.Chatter)}
			if eff.Whisper != "" {
				opts.Whisper = Expand(eff.Whisper, cmd, uc)
			}
			if err := e.sender.Send(ctx, text, opts); err != nil {
				e.logger.Warn("chat effect failed", slog.String("command", cmd.ID), slog.Any("err", err))
			}
		default:
			e.logger.Warn("skipping unsupported effect", slog.String("command", cmd.ID), slog.String("type", eff.Type))
		}
	}
	if manual {
		e.logger.Debug("manual effects run", slog.String("command", cmd.ID))
	}
	return nil
}

// Expand replaces {user}, {args}, {argN}, {count} and {trigger} in s.
func Expand(s string, cmd commands.Command, uc commands.UserCommand) string {
	if !strings.Contains(s, "{") {
		return s
	}
	pairs := []string{
		"{user}", uc.CommandSender,
		"{args}", strings.Join(uc.Args, " "),
		"{count}", strconv.FormatInt(cmd.Count, 10),
		"{trigger}", cmd.Trigger,
	}
	// Longest index first so {arg10} is not eaten by {arg1}.
	for i := len(uc.Args); i >= 1; i-- {
		pairs = append(pairs, "{arg"+strconv.Itoa(i)+"}", uc.Args[i-1])
	}
	out := strings.NewReplacer(pairs...).Replace(s)
	// Unfilled argument placeholders collapse to nothing.
	for strings.Contains(out, "{arg") {
		start := strings.Index(out, "{arg")
		end := strings.Index(out[start:], "}")
		if end < 0 {
			break
		}
		if _, err := strconv.Atoi(out[start+4 : start+end]); err != nil {
			break
		}
		out = out[:start] + out[start+end+1:]
	}
	return out
}
