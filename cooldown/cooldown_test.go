package cooldown

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestKeys(t *testing.T) {
	g, u := Keys("cmd1", "", "Alice")
	if g != "cmd1" || u != "cmd1:alice" {
		t.Fatalf("got %q %q", g, u)
	}
	g, u = Keys("cmd1", "start", "bob")
	if g != "cmd1:start" || u != "cmd1:start:bob" {
		t.Fatalf("got %q %q", g, u)
	}
}

func TestRemainingCombination(t *testing.T) {
	tests := []struct {
		global, user, want time.Duration
	}{
		{0, 0, 0},
		{5 * time.Second, 0, 5 * time.Second},
		{0, 3 * time.Second, 3 * time.Second},
		{2 * time.Second, 7 * time.Second, 7 * time.Second},
		{9 * time.Second, 7 * time.Second, 9 * time.Second},
	}
	for _, tt := range tests {
		if got := remaining(tt.global, tt.user); got != tt.want {
			t.Errorf("remaining(%v, %v) = %v, want %v", tt.global, tt.user, got, tt.want)
		}
	}
}

func TestMemoryGlobalAndUserWindows(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1000, 0)}
	m := NewMemory()
	m.now = c.now

	alice := Request{GlobalKey: "cmd", UserKey: "cmd:alice", Global: 10 * time.Second, User: 30 * time.Second}
	bob := Request{GlobalKey: "cmd", UserKey: "cmd:bob", Global: 10 * time.Second, User: 30 * time.Second}

	if _, ok, _ := m.Acquire(ctx, alice); !ok {
		t.Fatal("first trigger must pass")
	}
	c.advance(4 * time.Second)
	rem, ok, _ := m.Acquire(ctx, bob)
	if ok || rem != 6*time.Second {
		t.Fatalf("bob during global window: ok=%v rem=%v", ok, rem)
	}
	c.advance(6 * time.Second)
	if _, ok, _ := m.Acquire(ctx, bob); !ok {
		t.Fatal("bob after global window must pass")
	}
	rem, ok, _ = m.Acquire(ctx, alice)
	if ok || rem != 20*time.Second {
		t.Fatalf("alice in user window: ok=%v rem=%v", ok, rem)
	}
	c.advance(20 * time.Second)
	if _, ok, _ := m.Acquire(ctx, alice); !ok {
		t.Fatal("alice after user window must pass")
	}
	if n := m.Sweep(); n != 3 {
		t.Fatalf("live entries = %d, want 3", n)
	}
	_ = m.Flush(ctx)
	if rem, _ := m.Remaining(ctx, alice); rem != 0 {
		t.Fatalf("after flush remaining = %v", rem)
	}
}

func TestMemoryAcquireIsAtomic(t *testing.T) {
	m := NewMemory()
	req := Request{GlobalKey: "race", UserKey: "race:u", Global: time.Minute}
	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.Acquire(context.Background(), req); ok {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()
	if passed.Load() != 1 {
		t.Fatalf("%d concurrent triggers passed, want exactly 1", passed.Load())
	}
}

func TestSeconds(t *testing.T) {
	if Seconds(1500*time.Millisecond) != 2 || Seconds(0) != 0 || Seconds(3*time.Second) != 3 {
		t.Fatal("unexpected rounding")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r := NewRedis(RedisConfig{Addr: addr, Prefix: "test:" + uuid.NewString() + ":"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer r.Close()
	if err := r.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	defer func() { _ = r.Flush(ctx) }()

	req := Request{GlobalKey: "cmd", UserKey: "cmd:alice", Global: 5 * time.Second, User: 20 * time.Second}
	if _, ok, err := r.Acquire(ctx, req); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	rem, ok, err := r.Acquire(ctx, req)
	if err != nil || ok || rem <= 5*time.Second {
		t.Fatalf("second acquire: ok=%v rem=%v err=%v", ok, rem, err)
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Acquire(ctx, req); !ok {
		t.Fatal("acquire after flush must pass")
	}
}
