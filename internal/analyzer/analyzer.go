// Package analyzer is the rules core: win detection, kong enumeration and
// wait-set computation. It is stateless apart from result caches; every
// input is explicit and trial mutations happen on value copies.
package analyzer

import (
	"sync"

	"github.com/tilewind/mahjong/internal/tile"
)

// Analyzer evaluates hands over a fixed universe. The universe excludes
// honors when the session was configured without them, which narrows the
// wait-set probes accordingly.
type Analyzer struct {
	universe []tile.Tile

	mu        sync.RWMutex
	winCache  map[winKey]bool
	meldCache map[Counts]bool
}

type winKey struct {
	counts  Counts
	noMelds bool
}

// New returns an analyzer for a session with or without honor tiles.
func New(includeHonors bool) *Analyzer {
	return &Analyzer{
		universe:  tile.Universe(includeHonors),
		winCache:  make(map[winKey]bool, 4096),
		meldCache: make(map[Counts]bool, 4096),
	}
}

// IsWinning reports whether the concealed tiles form a winning hand.
// melds is the number of exposed melds the player owns; exposed melds are
// already-formed sets and are not re-expanded into the vector. A hand wins
// on the standard form (exactly one pair plus triplets/sequences) or on
// seven pairs (14 concealed tiles, no exposed melds, four of a kind counts
// as two pairs).
func (a *Analyzer) IsWinning(hand Counts, melds int) bool {
	total := hand.Total()
	if total < 2 || total%3 != 2 {
		return false
	}

	key := winKey{counts: hand, noMelds: melds == 0}
	a.mu.RLock()
	if v, ok := a.winCache[key]; ok {
		a.mu.RUnlock()
		return v
	}
	a.mu.RUnlock()

	win := a.standardWin(hand)
	if !win && melds == 0 && total == 14 {
		win = sevenPairs(hand)
	}

	a.mu.Lock()
	a.winCache[key] = win
	a.mu.Unlock()
	return win
}

// standardWin enumerates candidate pairs and checks that the remainder
// decomposes into triplets and sequences.
func (a *Analyzer) standardWin(hand Counts) bool {
	for i := range hand {
		if hand[i] < 2 {
			continue
		}
		rest := hand
		rest[i] -= 2
		if a.canFormMelds(rest) {
			return true
		}
	}
	return false
}

// canFormMelds checks that the vector decomposes entirely into triplets and
// sequences. It always works on the smallest remaining tile, so every tile
// is consumed by exactly one branch: a triplet of it, or a sequence it
// starts. Honors admit only the triplet branch.
func (a *Analyzer) canFormMelds(c Counts) bool {
	first := -1
	for i := range c {
		if c[i] > 0 {
			first = i
			break
		}
	}
	if first == -1 {
		return true
	}

	a.mu.RLock()
	if v, ok := a.meldCache[c]; ok {
		a.mu.RUnlock()
		return v
	}
	a.mu.RUnlock()

	ok := false
	if c[first] >= 3 {
		rest := c
		rest[first] -= 3
		ok = a.canFormMelds(rest)
	}
	// Sequences exist only inside a numbered suit and may not start past 7.
	if !ok && first < tile.NumSuited && first%9 <= 6 {
		if c[first+1] > 0 && c[first+2] > 0 {
			rest := c
			rest[first]--
			rest[first+1]--
			rest[first+2]--
			ok = a.canFormMelds(rest)
		}
	}

	a.mu.Lock()
	a.meldCache[c] = ok
	a.mu.Unlock()
	return ok
}

// sevenPairs holds when every kind is present an even number of times;
// a four of a kind counts as two pairs.
func sevenPairs(hand Counts) bool {
	for _, v := range hand {
		if v%2 != 0 {
			return false
		}
	}
	return true
}

// Waits returns the wait-set of a 3n+1 hand: every universe tile whose
// addition makes the hand winning. Kinds the hand already holds four of are
// skipped, no fifth copy exists. This is the authoritative source for a
// listening player's fixed waits.
func (a *Analyzer) Waits(hand Counts, melds int) []tile.Tile {
	if hand.Total()%3 != 1 {
		return nil
	}
	var waits []tile.Tile
	for _, t := range a.universe {
		idx := tile.Index(t)
		if hand[idx] >= tile.CopiesPerKind {
			continue
		}
		trial := hand
		trial[idx]++
		if a.IsWinning(trial, melds) {
			waits = append(waits, t)
		}
	}
	return waits
}

// ListenOptions computes the declare-listen set of a 3n+2 hand: each
// distinct tile whose removal leaves a non-empty wait-set, mapped to that
// wait-set. A player may declare listen only if the result is non-empty,
// and the following discard must be one of the keys.
func (a *Analyzer) ListenOptions(hand Counts, melds int) map[tile.Tile][]tile.Tile {
	if hand.Total()%3 != 2 {
		return nil
	}
	options := make(map[tile.Tile][]tile.Tile)
	for i := range hand {
		if hand[i] == 0 {
			continue
		}
		trial := hand
		trial[i]--
		if waits := a.Waits(trial, melds); len(waits) > 0 {
			options[tile.FromIndex(i)] = waits
		}
	}
	return options
}
