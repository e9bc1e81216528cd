package effects

import (
	"context"
	"errors"
	"testing"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/testutil"
)

func TestExpand(t *testing.T) {
	cmd := commands.Command{Trigger: "!so", Count: 7}
	uc := commands.UserCommand{CommandSender: "bob", Args: []string{"alice", "b", "c", "d", "e", "f", "g", "h", "i", "tenth"}}
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"Go follow {arg1}!", "Go follow alice!"},
		{"{user} said {args}", "bob said alice b c d e f g h i tenth"},
		{"{arg10}/{arg1}", "tenth/alice"},
		{"used {count} times via {trigger}", "used 7 times via !so"},
		{"missing [{arg11}]", "missing []"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, cmd, uc); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExecuteChatEffects(t *testing.T) {
	rec := &testutil.RecordingChat{}
	e := NewExecutor(rec, testutil.Logger())
	cmd := commands.Command{ID: "c", Trigger: "!hi", Effects: []commands.Effect{
		{Type: TypeChat, Message: "hello {user}"},
		{Type: "firebot:play-sound", Message: "ignored"},
		{Type: "chat", Message: "psst", Whisper: "{user}", Chatter: "bot"},
		{Type: TypeChat, Message: "   "},
	}}
	uc := commands.UserCommand{CommandSender: "bob"}
	if err := e.Execute(context.Background(), cmd, uc, nil, false); err != nil {
		t.Fatal(err)
	}
	sent := rec.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %+v", sent)
	}
	if sent[0].Text != "hello bob" || sent[0].Opts.Whisper != "" {
		t.Fatalf("first %+v", sent[0])
	}
	if sent[1].Opts.Whisper != "bob" || sent[1].Opts.Account != chat.AccountBot {
		t.Fatalf("whisper %+v", sent[1])
	}
}

func TestExecuteSwallowsSendErrors(t *testing.T) {
	rec := &testutil.RecordingChat{Err: errors.New("offline")}
	e := NewExecutor(rec, testutil.Logger())
	cmd := commands.Command{Effects: []commands.Effect{{Type: TypeChat, Message: "a"}, {Type: TypeChat, Message: "b"}}}
	if err := e.Execute(context.Background(), cmd, commands.UserCommand{}, nil, true); err != nil {
		t.Fatalf("errors must stay inside the executor: %v", err)
	}
}
