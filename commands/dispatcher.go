package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/cooldown"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/restrictions"
	"github.com/senepa/Firebot/telemetry"
)

// Stage is the furthest pipeline state a message reached.
type Stage string

const (
	StageReceived           Stage = "received"
	StageDeduped            Stage = "deduped"
	StageMatched            Stage = "matched"
	StageSubcommandResolved Stage = "subcommand_resolved"
	StageRestrictionChecked Stage = "restriction_checked"
	StageCooldownChecked    Stage = "cooldown_checked"
	StageFired              Stage = "fired"
)

// Result reports how far a message travelled and whether a command fired.
type Result struct {
	Stage   Stage
	Handled bool
}

// Chat is the transport surface the pipeline replies through.
type Chat interface {
	chat.Sender
	DeleteMessage(ctx context.Context, id string) error
}

// Accounts names the logged-in streamer and bot users.
type Accounts struct {
	Streamer string
	Bot      string
}

// DispatcherDeps wires a Dispatcher.
type DispatcherDeps struct {
	Registry     *Registry
	Restrictions restrictions.Evaluator
	Cooldowns    cooldown.Store
	Chat         Chat
	Executor     Executor
	Bus          events.Publisher
	Logger       *slog.Logger
	Accounts     func() Accounts
}

// Dispatcher runs inbound chat messages through the command pipeline.
type Dispatcher struct {
	registry     *Registry
	restrictions restrictions.Evaluator
	cooldowns    cooldown.Store
	chat         Chat
	executor     Executor
	bus          events.Publisher
	logger       *slog.Logger
	accounts     func() Accounts

	seen dedup
}

// NewDispatcher builds a pipeline. Restrictions, Cooldowns and Executor may
// be nil, which disables that gate or command kind.
func NewDispatcher(d DispatcherDeps) *Dispatcher {
	if d.Bus == nil {
		d.Bus = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Accounts == nil {
		d.Accounts = func() Accounts { return Accounts{} }
	}
	return &Dispatcher{
		registry:     d.Registry,
		restrictions: d.Restrictions,
		cooldowns:    d.Cooldowns,
		chat:         d.Chat,
		executor:     d.Executor,
		bus:          d.Bus,
		logger:       d.Logger.With("component", "dispatch"),
		accounts:     d.Accounts,
		seen:         dedup{seen: make(map[string]struct{}), max: maxTrackedMessages},
	}
}

// HandleMessage runs msg through the pipeline.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg chat.Message) Result {
	var res Result
	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		res = d.handle(ctx, msg)
	})
	return res
}

func (d *Dispatcher) handle(ctx context.Context, msg chat.Message) Result {
	if !d.seen.first(msg.ID) {
		d.logger.Debug("duplicate message swallowed", slog.String("id", msg.ID))
		return Result{Stage: StageReceived}
	}

	cmd, ok := d.registry.FindCommand(msg.Text)
	if !ok {
		return Result{Stage: StageDeduped}
	}

	ctx, span := telemetry.StartSpan(ctx, "commands", "dispatch",
		telemetry.CommandAttr(cmd.ID), telemetry.ChatUserAttr(msg.Username))
	defer span.End()

	accts := d.accounts()
	if cmd.IgnoreBot && accts.Bot != "" && strings.EqualFold(msg.Username, accts.Bot) {
		return Result{Stage: StageMatched}
	}
	if cmd.IgnoreStreamer && accts.Streamer != "" && strings.EqualFold(msg.Username, accts.Streamer) {
		return Result{Stage: StageMatched}
	}

	uc, sub := NewUserCommand(cmd, msg)

	if cmd.AutoDeleteTrigger || (sub != nil && sub.AutoDeleteTrigger) {
		d.deleteTrigger(ctx, msg.ID)
	}

	minArgs, usage := cmd.MinArgs, cmd.Usage
	if sub != nil {
		minArgs, usage = sub.MinArgs, sub.Usage
	}
	if len(uc.Args) < minArgs {
		telemetry.IncCommandRejected("usage")
		d.reply(ctx, strings.TrimSpace(fmt.Sprintf("Invalid command. Usage: %s %s", cmd.Trigger, usage)))
		return Result{Stage: StageSubcommandResolved}
	}

	data := cmd.RestrictionData
	if sub != nil && !sub.RestrictionData.Empty() {
		data = sub.RestrictionData
	}
	if d.restrictions != nil && !data.Empty() {
		trigger := restrictions.Trigger{
			Type: restrictions.TriggerCommand,
			Metadata: restrictions.Metadata{
				Username:    msg.Username,
				UserID:      msg.UserID,
				Roles:       msg.Roles,
				Command:     cmd,
				UserCommand: uc,
				ChatMessage: msg,
			},
		}
		if err := d.restrictions.RunPredicates(ctx, trigger, data); err != nil {
			telemetry.IncCommandRejected("restriction")
			var rej *restrictions.Rejection
			if !errors.As(err, &rej) {
				telemetry.RecordError(span, err)
				d.logger.Error("restriction evaluation failed", slog.String("command", cmd.Trigger), slog.Any("err", err))
				return Result{Stage: StageSubcommandResolved}
			}
			d.logger.Debug("command restricted", slog.String("user", msg.Username), slog.String("command", cmd.Trigger), slog.String("reason", rej.Error()))
			if data.ShouldSendFailMessage() {
				d.reply(ctx, fmt.Sprintf("Sorry %s, you cannot use this command because: %s", msg.Username, rej.Error()))
			}
			return Result{Stage: StageSubcommandResolved}
		}
	}

	cd := cmd.Cooldown
	subArg := ""
	if sub != nil {
		subArg = sub.Arg
		if sub.Cooldown != nil {
			cd = sub.Cooldown
		}
	}
	if d.cooldowns != nil && !cd.empty() {
		gk, uk := cooldown.Keys(cmd.ID, subArg, msg.Username)
		req := cooldown.Request{}
		if cd.Global > 0 {
			req.GlobalKey, req.Global = gk, time.Duration(cd.Global)*time.Second
		}
		if cd.User > 0 {
			req.UserKey, req.User = uk, time.Duration(cd.User)*time.Second
		}
		rem, ok, err := d.cooldowns.Acquire(ctx, req)
		switch {
		case err != nil:
			// Backend errors fail open.
			d.logger.Warn("cooldown check failed", slog.String("command", cmd.Trigger), slog.Any("err", err))
		case !ok:
			telemetry.IncCommandRejected("cooldown")
			if cmd.shouldSendCooldownMessage() {
				d.reply(ctx, fmt.Sprintf("%s, this command is still on cooldown for: %s", msg.Username, secondsForHumans(cooldown.Seconds(rem))))
			}
			return Result{Stage: StageRestrictionChecked}
		}
	}

	if !cmd.SkipLog {
		d.bus.Publish(events.TypeEventLog, map[string]string{
			"type":     "general",
			"username": msg.Username,
			"event":    "used the " + cmd.Trigger + " command.",
		})
	}
	if cmd.Type == TypeCustom {
		n, err := d.registry.IncrementCount(ctx, cmd.ID)
		if err != nil {
			d.logger.Warn("command count update failed", slog.String("id", cmd.ID), slog.Any("err", err))
		}
		if n > 0 {
			cmd.Count = n
		}
	}

	m := msg
	d.fire(ctx, cmd, uc, &m, false)
	return Result{Stage: StageFired, Handled: true}
}

// TriggerCustomCommand fires a custom command as the streamer without any
// gate checks.
func (d *Dispatcher) TriggerCustomCommand(ctx context.Context, id string) error {
	cmd, ok := d.registry.GetCustomCommandByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	uc := BuildUserCommand(cmd, "", d.accounts().Streamer, nil)
	d.logger.Info("firing command manually", slog.String("id", id), slog.String("trigger", cmd.Trigger))
	d.fire(ctx, cmd, uc, nil, true)
	return nil
}

func (d *Dispatcher) fire(ctx context.Context, cmd Command, uc UserCommand, msg *chat.Message, manual bool) {
	var err error
	switch cmd.Type {
	case TypeSystem:
		sc, ok := d.registry.GetSystemCommandByID(cmd.ID)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.ID)
			break
		}
		err = sc.OnTrigger(ctx, TriggerEvent{
			Command:     cmd,
			Options:     d.registry.ResolveOptions(cmd),
			UserCommand: uc,
			ChatMessage: msg,
		})
	case TypeCustom:
		if d.executor == nil {
			d.logger.Warn("no effect executor configured", slog.String("id", cmd.ID))
			return
		}
		err = d.executor.Execute(ctx, cmd, uc, msg, manual)
	default:
		err = fmt.Errorf("unknown command type %q", cmd.Type)
	}
	telemetry.IncCommandFired(string(cmd.Type))
	if err != nil {
		d.logger.Error("command failed", slog.String("id", cmd.ID), slog.String("trigger", cmd.Trigger), slog.Any("err", err))
	}
}

func (d *Dispatcher) reply(ctx context.Context, text string) {
	if d.chat == nil {
		return
	}
	if err := d.chat.Send(ctx, text, chat.SendOptions{}); err != nil {
		d.logger.Warn("reply failed", slog.Any("err", err))
	}
}

func (d *Dispatcher) deleteTrigger(ctx context.Context, id string) {
	if d.chat == nil || id == "" {
		return
	}
	if err := d.chat.DeleteMessage(ctx, id); err != nil {
		d.logger.Debug("auto delete failed", slog.String("id", id), slog.Any("err", err))
	}
}

// maxTrackedMessages bounds the dedup set when only one account is
// connected and second sightings never arrive.
const maxTrackedMessages = 4096

// dedup remembers a message id until it is seen a second time.
type dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	max   int
}

// first reports whether id is new. A repeated id is forgotten so it is
// swallowed exactly once. Empty ids are always new.
func (d *dedup) first(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		delete(d.seen, id)
		return false
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.max {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true
}

func (d *dedup) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
