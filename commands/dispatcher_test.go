package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/cooldown"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/restrictions"
	"github.com/senepa/Firebot/testutil"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []executed
}

type executed struct {
	cmd    Command
	uc     UserCommand
	msg    *chat.Message
	manual bool
}

func (r *recordingExecutor) Execute(_ context.Context, cmd Command, uc UserCommand, msg *chat.Message, manual bool) error {
	r.mu.Lock()
	r.calls = append(r.calls, executed{cmd, uc, msg, manual})
	r.mu.Unlock()
	return nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type harness struct {
	registry  *Registry
	dispatch  *Dispatcher
	chat      *testutil.RecordingChat
	executor  *recordingExecutor
	cooldowns *cooldown.Memory
	bus       *events.Bus
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chat:      &testutil.RecordingChat{},
		executor:  &recordingExecutor{},
		cooldowns: cooldown.NewMemory(),
		bus:       events.NewBus(64),
		now:       time.Unix(10_000, 0),
	}
	h.cooldowns.SetClock(func() time.Time { return h.now })
	h.registry = NewRegistry(testutil.NewStore(t), h.bus, testutil.Logger(), WithCooldownFlusher(h.cooldowns))
	h.dispatch = NewDispatcher(DispatcherDeps{
		Registry:     h.registry,
		Restrictions: restrictions.NewManager(restrictions.Permissions{}),
		Cooldowns:    h.cooldowns,
		Chat:         h.chat,
		Executor:     h.executor,
		Bus:          h.bus,
		Logger:       testutil.Logger(),
		Accounts:     func() Accounts { return Accounts{Streamer: "streamer", Bot: "botty"} },
	})
	return h
}

func (h *harness) system(t *testing.T, def Command) *[]TriggerEvent {
	t.Helper()
	var mu sync.Mutex
	var got []TriggerEvent
	def.Active = true
	ok := h.registry.RegisterSystemCommand(SystemCommand{Definition: def, OnTrigger: func(_ context.Context, ev TriggerEvent) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	}})
	if !ok {
		t.Fatalf("register %s failed", def.ID)
	}
	return &got
}

var msgSeq atomic.Int64

func msg(user, text string, roles ...string) chat.Message {
	return chat.Message{
		ID:       fmt.Sprintf("m%d", msgSeq.Add(1)),
		UserID:   "u-" + user,
		Username: user,
		Text:     text,
		Roles:    roles,
	}
}

func TestBasicCommandScenario(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "hello", Trigger: "!hello"})

	res := h.dispatch.HandleMessage(context.Background(), msg("bob", "!hello"))
	if !res.Handled || res.Stage != StageFired {
		t.Fatalf("result %+v", res)
	}
	if len(*fired) != 1 {
		t.Fatalf("handler fired %d times", len(*fired))
	}
	ev := (*fired)[0]
	if ev.UserCommand.Trigger != "!hello" || len(ev.UserCommand.Args) != 0 || ev.UserCommand.CommandSender != "bob" || ev.ChatMessage == nil {
		t.Fatalf("trigger event %+v", ev)
	}
}

func TestSubCommandScenario(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "raffle", Trigger: "!raffle", SubCommands: []SubCommand{{ID: "raffle-start", Arg: "start"}}})

	h.dispatch.HandleMessage(context.Background(), msg("mod", "!raffle start"))
	if len(*fired) != 1 || (*fired)[0].UserCommand.SubcommandID != "raffle-start" {
		t.Fatalf("fired %+v", *fired)
	}
}

func TestDedupHandlesOnce(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "hello", Trigger: "!hello"})
	m := msg("bob", "!hello")
	m.ID = "dup-1"

	first := h.dispatch.HandleMessage(context.Background(), m)
	second := h.dispatch.HandleMessage(context.Background(), m)
	if !first.Handled || second.Handled || second.Stage != StageReceived {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if len(*fired) != 1 {
		t.Fatalf("fired %d times, want 1", len(*fired))
	}
	if n := h.dispatch.seen.size(); n != 0 {
		t.Fatalf("id not forgotten after second sighting (%d tracked)", n)
	}
	// A third delivery is treated as new again.
	if !h.dispatch.HandleMessage(context.Background(), m).Handled {
		t.Fatal("third delivery should be handled")
	}
}

func TestDedupIsBounded(t *testing.T) {
	d := dedup{seen: make(map[string]struct{}), max: 3}
	for _, id := range []string{"a", "b", "c", "d"} {
		d.first(id)
	}
	if d.size() != 3 {
		t.Fatalf("size = %d", d.size())
	}
	if !d.first("a") {
		t.Fatal("evicted id must look new")
	}
}

func TestNoMatchIsNotHandled(t *testing.T) {
	h := newHarness(t)
	h.system(t, Command{ID: "hello", Trigger: "!hello"})
	res := h.dispatch.HandleMessage(context.Background(), msg("bob", "just chatting"))
	if res.Handled || res.Stage != StageDeduped {
		t.Fatalf("result %+v", res)
	}
}

func TestIgnoreBotAndStreamer(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "hello", Trigger: "!hello", IgnoreBot: true, IgnoreStreamer: true})
	for _, user := range []string{"botty", "Streamer"} {
		if res := h.dispatch.HandleMessage(context.Background(), msg(user, "!hello")); res.Handled || res.Stage != StageMatched {
			t.Fatalf("%s: %+v", user, res)
		}
	}
	h.dispatch.HandleMessage(context.Background(), msg("viewer", "!hello"))
	if len(*fired) != 1 {
		t.Fatalf("fired %d", len(*fired))
	}
}

func TestMinArgsReply(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "give", Trigger: "!give", MinArgs: 2, Usage: "[user] [amount]",
		SubCommands: []SubCommand{{ID: "give-all", Arg: "all", MinArgs: 2, Usage: "all [amount]"}}})

	h.dispatch.HandleMessage(context.Background(), msg("bob", "!give alice"))
	h.dispatch.HandleMessage(context.Background(), msg("bob", "!give all"))
	texts := h.chat.Texts()
	want := []string{"Invalid command. Usage: !give [user] [amount]", "Invalid command. Usage: !give all [amount]"}
	if len(texts) != 2 || texts[0] != want[0] || texts[1] != want[1] {
		t.Fatalf("replies %q", texts)
	}
	if len(*fired) != 0 {
		t.Fatal("handler must not fire")
	}
}

func TestRestrictionReplyAndSuppression(t *testing.T) {
	h := newHarness(t)
	quiet := false
	modsOnly := restrictions.Restriction{Type: restrictions.TypePermissions, Mode: "roles", RoleIDs: []string{"mod"}}
	fired := h.system(t, Command{ID: "mod", Trigger: "!modonly", RestrictionData: restrictions.Data{Restrictions: []restrictions.Restriction{modsOnly}}})
	h.system(t, Command{ID: "quiet", Trigger: "!quiet", RestrictionData: restrictions.Data{SendFailMessage: &quiet, Restrictions: []restrictions.Restriction{modsOnly}}})

	res := h.dispatch.HandleMessage(context.Background(), msg("bob", "!modonly"))
	if res.Handled {
		t.Fatal("restricted command fired")
	}
	if !h.chat.Contains("Sorry bob, you cannot use this command because: You must be one of the following roles: mod") {
		t.Fatalf("replies %q", h.chat.Texts())
	}
	h.chat.Reset()
	h.dispatch.HandleMessage(context.Background(), msg("bob", "!quiet"))
	if len(h.chat.Texts()) != 0 {
		t.Fatalf("suppressed fail message was sent: %q", h.chat.Texts())
	}
	h.dispatch.HandleMessage(context.Background(), msg("alice", "!modonly", "mod"))
	if len(*fired) != 1 {
		t.Fatal("mod should pass")
	}
}

func TestSubCommandRestrictionsOverrideCommand(t *testing.T) {
	h := newHarness(t)
	modsOnly := restrictions.Data{Restrictions: []restrictions.Restriction{{Type: restrictions.TypePermissions, Mode: "roles", RoleIDs: []string{"mod"}}}}
	fired := h.system(t, Command{ID: "raffle", Trigger: "!raffle", SubCommands: []SubCommand{{ID: "start", Arg: "start", RestrictionData: modsOnly}}})

	h.dispatch.HandleMessage(context.Background(), msg("bob", "!raffle start"))
	h.dispatch.HandleMessage(context.Background(), msg("bob", "!raffle"))
	if len(*fired) != 1 || (*fired)[0].UserCommand.SubcommandID != "" {
		t.Fatalf("fired %+v", *fired)
	}
}

func TestCooldowns(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "cd", Trigger: "!cd", Cooldown: &Cooldown{User: 65}})
	ctx := context.Background()

	h.dispatch.HandleMessage(ctx, msg("bob", "!cd"))
	res := h.dispatch.HandleMessage(ctx, msg("bob", "!cd"))
	if res.Handled || res.Stage != StageRestrictionChecked {
		t.Fatalf("second trigger in window: %+v", res)
	}
	if !h.chat.Contains("bob, this command is still on cooldown for: 1 minute, 5 seconds") {
		t.Fatalf("replies %q", h.chat.Texts())
	}
	if !h.dispatch.HandleMessage(ctx, msg("alice", "!cd")).Handled {
		t.Fatal("user-only cooldown must not block other users")
	}
	h.now = h.now.Add(65 * time.Second)
	if !h.dispatch.HandleMessage(ctx, msg("bob", "!cd")).Handled {
		t.Fatal("trigger after window must pass")
	}
	if len(*fired) != 3 {
		t.Fatalf("fired %d, want 3", len(*fired))
	}
}

func TestGlobalCooldownAndSilence(t *testing.T) {
	h := newHarness(t)
	silent := false
	h.system(t, Command{ID: "g", Trigger: "!g", Cooldown: &Cooldown{Global: 30}, SendCooldownMessage: &silent})
	ctx := context.Background()
	h.dispatch.HandleMessage(ctx, msg("bob", "!g"))
	if h.dispatch.HandleMessage(ctx, msg("alice", "!g")).Handled {
		t.Fatal("global cooldown must block everyone")
	}
	if len(h.chat.Texts()) != 0 {
		t.Fatalf("cooldown message should be suppressed: %q", h.chat.Texts())
	}
	if err := h.registry.RefreshCommandCache(ctx); err != nil {
		t.Fatal(err)
	}
	if !h.dispatch.HandleMessage(ctx, msg("alice", "!g")).Handled {
		t.Fatal("refresh must flush cooldowns")
	}
}

func TestConcurrentTriggersPassCooldownOnce(t *testing.T) {
	h := newHarness(t)
	h.system(t, Command{ID: "burst", Trigger: "!burst", Cooldown: &Cooldown{Global: 60}})
	var handled atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := msg("viewer", "!burst")
			m.ID = fmt.Sprintf("burst-%d", i)
			if h.dispatch.HandleMessage(context.Background(), m).Handled {
				handled.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if handled.Load() != 1 {
		t.Fatalf("%d concurrent triggers fired, want 1", handled.Load())
	}
}

func TestCustomCommandCountsLogsAndAutoDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cmd, err := h.registry.SaveCustomCommand(ctx, Command{Trigger: "!so", Active: true, AutoDeleteTrigger: true}, "streamer")
	if err != nil {
		t.Fatal(err)
	}
	quiet, err := h.registry.SaveCustomCommand(ctx, Command{Trigger: "!quiet", Active: true, SkipLog: true}, "streamer")
	if err != nil {
		t.Fatal(err)
	}
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	m := msg("bob", "!so alice")
	h.dispatch.HandleMessage(ctx, m)
	if h.executor.count() != 1 || h.executor.calls[0].manual || h.executor.calls[0].uc.Args[0] != "alice" {
		t.Fatalf("executor calls %+v", h.executor.calls)
	}
	if got, _ := h.registry.GetCustomCommandByID(cmd.ID); got.Count != 1 {
		t.Fatalf("count = %d", got.Count)
	}
	if d := h.chat.Deleted(); len(d) != 1 || d[0] != m.ID {
		t.Fatalf("deleted %v", d)
	}

	var types []string
	drain := func() {
		for {
			select {
			case ev := <-ch:
				types = append(types, ev.Type)
			default:
				return
			}
		}
	}
	drain()
	if strings.Join(types, ",") != events.TypeEventLog+","+events.TypeCommandCountUpdate {
		t.Fatalf("events %v", types)
	}

	types = nil
	h.dispatch.HandleMessage(ctx, msg("bob", "!quiet"))
	drain()
	if strings.Join(types, ",") != events.TypeCommandCountUpdate {
		t.Fatalf("skipLog events %v", types)
	}
	if got, _ := h.registry.GetCustomCommandByID(quiet.ID); got.Count != 1 {
		t.Fatalf("quiet count = %d", got.Count)
	}
}

func TestManualTrigger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cmd, err := h.registry.SaveCustomCommand(ctx, Command{Trigger: "!manual", Active: true, Cooldown: &Cooldown{Global: 600}}, "streamer")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := h.dispatch.TriggerCustomCommand(ctx, cmd.ID); err != nil {
			t.Fatal(err)
		}
	}
	if h.executor.count() != 2 {
		t.Fatalf("manual triggers bypass cooldown; executed %d", h.executor.count())
	}
	call := h.executor.calls[0]
	if !call.manual || call.msg != nil || call.uc.CommandSender != "streamer" || call.uc.Trigger != "!manual" {
		t.Fatalf("manual call %+v", call)
	}
	if got, _ := h.registry.GetCustomCommandByID(cmd.ID); got.Count != 0 {
		t.Fatal("manual triggers do not count")
	}
	if err := h.dispatch.TriggerCustomCommand(ctx, "missing"); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestSystemCommandReceivesResolvedOptions(t *testing.T) {
	h := newHarness(t)
	fired := h.system(t, Command{ID: "opts", Trigger: "!opts"})
	h.dispatch.HandleMessage(context.Background(), msg("bob", "!opts"))
	if len(*fired) != 1 || (*fired)[0].Options == nil {
		t.Fatalf("fired %+v", *fired)
	}
}
