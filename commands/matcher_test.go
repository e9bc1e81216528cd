package commands

import (
	"reflect"
	"testing"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/testutil"
)

func TestTriggerMatching(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		text string
		want bool
	}{
		{"exact", Command{Trigger: "!hello"}, "!hello", true},
		{"with args", Command{Trigger: "!hello"}, "!hello world", true},
		{"case insensitive", Command{Trigger: "!Hello"}, "!HELLO there", true},
		{"prefix of longer word", Command{Trigger: "!hello"}, "!helloworld", false},
		{"not at start", Command{Trigger: "!hello"}, "say !hello", false},
		{"scan whole message", Command{Trigger: "pizza", ScanWholeMessage: true}, "I love pizza today", true},
		{"scan needs word start", Command{Trigger: "pizza", ScanWholeMessage: true}, "mypizza", false},
		{"escaped metachars", Command{Trigger: "!c++"}, "!c++ rocks", true},
		{"escaped metachars miss", Command{Trigger: "!c++"}, "!cc rocks", false},
		{"regex trigger", Command{Trigger: `^!(hi|hey)\b`, TriggerIsRegex: true}, "!hey you", true},
		{"regex trigger miss", Command{Trigger: `^!(hi|hey)\b`, TriggerIsRegex: true}, "!hello", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(testutil.NewStore(t), nil, testutil.Logger())
			tt.cmd.ID, tt.cmd.Active, tt.cmd.Type = "c1", true, TypeCustom
			r.custom = []Command{tt.cmd}
			_, got := r.FindCommand(tt.text)
			if got != tt.want {
				t.Fatalf("FindCommand(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTriggerPriorityFirstRegisteredWins(t *testing.T) {
	r := NewRegistry(testutil.NewStore(t), nil, testutil.Logger())
	r.RegisterSystemCommand(SystemCommand{Definition: Command{ID: "general", Trigger: "!give", Active: true}, OnTrigger: noop})
	r.RegisterSystemCommand(SystemCommand{Definition: Command{ID: "specific", Trigger: "!give coins", Active: true}, OnTrigger: noop})
	r.custom = []Command{{ID: "custom", Trigger: "!give", Active: true, Type: TypeCustom}}

	cmd, ok := r.FindCommand("!give coins 5")
	if !ok || cmd.ID != "general" {
		t.Fatalf("matched %q, want general", cmd.ID)
	}
}

func TestInvalidRegexTriggerIsSkipped(t *testing.T) {
	r := NewRegistry(testutil.NewStore(t), nil, testutil.Logger())
	r.custom = []Command{
		{ID: "bad", Trigger: "(", TriggerIsRegex: true, Active: true, Type: TypeCustom},
		{ID: "good", Trigger: "!ok", Active: true, Type: TypeCustom},
	}
	if cmd, ok := r.FindCommand("!ok"); !ok || cmd.ID != "good" {
		t.Fatalf("got %q %v", cmd.ID, ok)
	}
}

func TestBuildUserCommand(t *testing.T) {
	cmd := Command{Trigger: "!hello"}
	uc := BuildUserCommand(cmd, "!Hello  big   world", "bob", nil)
	if uc.Trigger != "!Hello" || !reflect.DeepEqual(uc.Args, []string{"big", "world"}) || uc.CommandSender != "bob" {
		t.Fatalf("unexpected user command %+v", uc)
	}

	uc = BuildUserCommand(Command{Trigger: "!hello"}, "!hello", "bob", nil)
	if uc.Trigger != "!hello" || len(uc.Args) != 0 || uc.Args == nil {
		t.Fatalf("no-arg user command %+v", uc)
	}

	uc = BuildUserCommand(Command{Trigger: "pizza", ScanWholeMessage: true}, "i want pizza", "bob", nil)
	if uc.Trigger != "pizza" || len(uc.Args) != 3 {
		t.Fatalf("whole-message user command %+v", uc)
	}

	uc = BuildUserCommand(Command{Trigger: "!manual"}, "", "streamer", nil)
	if uc.Trigger != "!manual" || len(uc.Args) != 0 {
		t.Fatalf("manual user command %+v", uc)
	}
}

func TestSubCommandResolution(t *testing.T) {
	off := false
	cmd := Command{
		ID:      "raffle",
		Trigger: "!raffle",
		SubCommands: []SubCommand{
			{ID: "s-disabled", Arg: "start", Active: &off},
			{ID: "s-start", Arg: "start"},
			{ID: "s-start-2", Arg: "start"},
			{ID: "s-num", Arg: `\d+`, Regex: true},
		},
	}

	uc, sub := NewUserCommand(cmd, chat.Message{Text: "!raffle START 5", Username: "mod"})
	if sub == nil || sub.ID != "s-start" || uc.SubcommandID != "s-start" || uc.TriggeredArg != "start" {
		t.Fatalf("resolved %+v / %+v", sub, uc)
	}

	_, sub = NewUserCommand(cmd, chat.Message{Text: "!raffle 42"})
	if sub == nil || sub.ID != "s-num" {
		t.Fatalf("regex sub-command not resolved: %+v", sub)
	}

	_, sub = NewUserCommand(cmd, chat.Message{Text: "!raffle 42abc"})
	if sub != nil {
		t.Fatalf("regex must match the whole argument, got %+v", sub)
	}

	_, sub = NewUserCommand(cmd, chat.Message{Text: "!raffle"})
	if sub != nil {
		t.Fatal("no args must not resolve a sub-command")
	}

	cmd.ScanWholeMessage = true
	if _, ok := ResolveSubCommand(cmd, []string{"start"}); ok {
		t.Fatal("whole-message commands never resolve sub-commands")
	}
}

func TestSecondsForHumans(t *testing.T) {
	tests := map[int]string{
		0:     "0 seconds",
		1:     "1 second",
		65:    "1 minute, 5 seconds",
		3600:  "1 hour",
		90061: "1 day, 1 hour, 1 minute, 1 second",
	}
	for in, want := range tests {
		if got := secondsForHumans(in); got != want {
			t.Errorf("secondsForHumans(%d) = %q, want %q", in, got, want)
		}
	}
}
