package analyzer

import (
	"github.com/tilewind/mahjong/internal/tile"
)

// ConcealedKongCandidates returns every kind the hand holds all four
// copies of.
func (a *Analyzer) ConcealedKongCandidates(hand Counts) []tile.Tile {
	var out []tile.Tile
	for i, v := range hand {
		if v == tile.CopiesPerKind {
			out = append(out, tile.FromIndex(i))
		}
	}
	return out
}

// CanExposedKong reports whether a responder holding hand may claim the
// discarded tile t as an exposed kong: exactly three copies in hand.
func (a *Analyzer) CanExposedKong(hand Counts, t tile.Tile) bool {
	idx := tile.Index(t)
	return idx >= 0 && hand[idx] == 3
}

// KongPreservesWaits simulates removing copies of t from the hand (four for
// a concealed kong, one for an added kong), recomputes the wait-set on the
// shortened hand with one more exposed meld, and compares it to the fixed
// waits as sets. A listening player may kong only when this holds.
func (a *Analyzer) KongPreservesWaits(hand Counts, melds int, t tile.Tile, copies int, fixed []tile.Tile) bool {
	idx := tile.Index(t)
	if idx < 0 || int(hand[idx]) < copies {
		return false
	}
	trial := hand
	trial[idx] -= uint8(copies)
	after := a.Waits(trial, melds+1)
	return sameTileSet(after, fixed)
}

func sameTileSet(a, b []tile.Tile) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[tile.Tile]bool, len(a))
	for _, t := range a {
		seen[t] = true
	}
	for _, t := range b {
		if !seen[t] {
			return false
		}
	}
	return true
}
