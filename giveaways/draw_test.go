package giveaways

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestPickWeightedWalksInEntryOrder(t *testing.T) {
	entries := []Entry{{Username: "a", Weight: 3}, {Username: "zero", Weight: 0}, {Username: "c", Weight: 5}}
	tests := []struct {
		r    int64
		want string
	}{
		{0, "a"},
		{2, "a"},
		{3, "c"},
		{7, "c"},
	}
	for _, tt := range tests {
		idx, err := pick(DrawWeighted, entries, fixedRand(tt.r))
		if err != nil {
			t.Fatal(err)
		}
		if entries[idx].Username != tt.want {
			t.Errorf("r=%d picked %s, want %s", tt.r, entries[idx].Username, tt.want)
		}
	}
}

func TestPickEdgeCases(t *testing.T) {
	if idx, err := pick(DrawWeighted, nil, fixedRand(0)); idx != -1 || err != nil {
		t.Fatalf("empty lobby: %d %v", idx, err)
	}
	if idx, _ := pick(DrawWeighted, []Entry{{Username: "a"}}, fixedRand(0)); idx != -1 {
		t.Fatalf("zero total weight picked %d", idx)
	}
	if idx, _ := pick(DrawUniform, []Entry{{Username: "a"}, {Username: "b"}}, fixedRand(1)); idx != 1 {
		t.Fatalf("uniform picked %d", idx)
	}
	highest := []Entry{{Username: "a", Weight: 5}, {Username: "b", Weight: 9}, {Username: "c", Weight: 9}}
	if idx, _ := pick(DrawHighest, highest, nil); idx != 1 {
		t.Fatalf("highest picked %d, want earliest of the tie", idx)
	}
	if idx, _ := pick(DrawHighest, []Entry{{Username: "a"}}, nil); idx != -1 {
		t.Fatalf("highest with no bids picked %d", idx)
	}
}

func TestWeightedDrawFairness(t *testing.T) {
	src := rand.New(rand.NewPCG(7, 11))
	rnd := func(n int64) (int64, error) { return src.Int64N(n), nil }
	entries := []Entry{{Username: "light", Weight: 1}, {Username: "heavy", Weight: 3}}

	const draws = 20000
	wins := 0
	for range draws {
		idx, err := pick(DrawWeighted, entries, rnd)
		if err != nil {
			t.Fatal(err)
		}
		if idx == 1 {
			wins++
		}
	}
	got := float64(wins) / draws
	if math.Abs(got-0.75) > 0.02 {
		t.Fatalf("heavy won %.3f of draws, want about 0.75", got)
	}
}

func TestSecureRandInt(t *testing.T) {
	for range 100 {
		v, err := SecureRandInt(3)
		if err != nil || v < 0 || v >= 3 {
			t.Fatalf("SecureRandInt(3) = %d, %v", v, err)
		}
	}
	if _, err := SecureRandInt(0); err == nil {
		t.Fatal("SecureRandInt(0) must fail")
	}
}
