package giveaways

import (
	crand "crypto/rand"
	"errors"
	"math/big"
)

// DrawMode selects how a lobby picks its winner.
type DrawMode string

const (
	// DrawUniform gives every entrant the same chance.
	DrawUniform DrawMode = "uniform"
	// DrawWeighted makes the chance proportional to the entry weight.
	DrawWeighted DrawMode = "weighted"
	// DrawHighest picks the largest weight, earliest entrant on ties.
	DrawHighest DrawMode = "highest"
)

var errNoEligible = errors.New("no eligible entrants")

// RandInt returns a uniform value in [0, n).
type RandInt func(n int64) (int64, error)

// SecureRandInt draws from crypto/rand.
func SecureRandInt(n int64) (int64, error) {
	if n <= 0 {
		return 0, errNoEligible
	}
	v, err := crand.Int(crand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// pick returns the index of the winning entry, or -1 when nobody can win.
func pick(mode DrawMode, entries []Entry, rnd RandInt) (int, error) {
	if len(entries) == 0 {
		return -1, nil
	}
	switch mode {
	case DrawHighest:
		best := -1
		for i, e := range entries {
			if e.Weight > 0 && (best < 0 || e.Weight > entries[best].Weight) {
				best = i
			}
		}
		return best, nil
	case DrawWeighted:
		var total int64
		for _, e := range entries {
			if e.Weight > 0 {
				total += e.Weight
			}
		}
		if total <= 0 {
			return -1, nil
		}
		r, err := rnd(total)
		if err != nil {
			return -1, err
		}
		// Walk in entry order subtracting weights until the counter goes negative.
		for i, e := range entries {
			if e.Weight <= 0 {
				continue
			}
			r -= e.Weight
			if r < 0 {
				return i, nil
			}
		}
		return -1, errNoEligible
	default:
		r, err := rnd(int64(len(entries)))
		if err != nil {
			return -1, err
		}
		return int(r), nil
	}
}
