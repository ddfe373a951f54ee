// Package tile defines the mahjong tile universe, its canonical ordering
// and the wall the game draws from.
package tile

import (
	"fmt"
	"sort"
)

// Tile is a tile identifier such as "m_5", "wind_E" or "dragon_red".
// Equality of identifiers is equality of tiles; the four physical copies
// of a kind are indistinguishable.
type Tile string

// Suit classifies a tile for sorting and sequence arithmetic.
type Suit int

const (
	SuitCharacter Suit = iota // m
	SuitBamboo                // s
	SuitDot                   // p
	SuitWind
	SuitDragon
)

const (
	// NumKinds is the number of distinct tiles including honors.
	NumKinds = 34
	// NumSuited is the number of distinct numbered tiles (three suits x 1-9).
	NumSuited = 27
	// CopiesPerKind is the number of physical copies of each tile.
	CopiesPerKind = 4
)

var suitPrefixes = [3]string{"m", "s", "p"}

var winds = [4]Tile{"wind_E", "wind_S", "wind_W", "wind_N"}

var dragons = [3]Tile{"dragon_red", "dragon_green", "dragon_white"}

// universe holds all 34 kinds in canonical order; index into this slice is
// the dense index used by count vectors.
var universe [NumKinds]Tile

// indexOf maps identifiers back to their dense index.
var indexOf map[Tile]int

func init() {
	i := 0
	for _, prefix := range suitPrefixes {
		for v := 1; v <= 9; v++ {
			universe[i] = Tile(fmt.Sprintf("%s_%d", prefix, v))
			i++
		}
	}
	for _, w := range winds {
		universe[i] = w
		i++
	}
	for _, d := range dragons {
		universe[i] = d
		i++
	}
	indexOf = make(map[Tile]int, NumKinds)
	for idx, t := range universe {
		indexOf[t] = idx
	}
}

// Valid reports whether t names a tile in the universe.
func Valid(t Tile) bool {
	_, ok := indexOf[t]
	return ok
}

// Index returns the dense 0-33 index of t, or -1 for an unknown identifier.
func Index(t Tile) int {
	idx, ok := indexOf[t]
	if !ok {
		return -1
	}
	return idx
}

// FromIndex returns the tile with dense index i.
func FromIndex(i int) Tile {
	return universe[i]
}

// Universe returns the distinct tile kinds in canonical order, 34 kinds with
// honors or 27 without.
func Universe(includeHonors bool) []Tile {
	n := NumKinds
	if !includeHonors {
		n = NumSuited
	}
	out := make([]Tile, n)
	copy(out, universe[:n])
	return out
}

// Decompose splits a tile into its suit and value. Numbered tiles return
// their 1-9 value; winds and dragons return their enumeration position
// (1-based) and must never participate in sequence arithmetic.
func (t Tile) Decompose() (Suit, int) {
	idx := Index(t)
	switch {
	case idx < 0:
		return SuitCharacter, 0
	case idx < NumSuited:
		return Suit(idx / 9), idx%9 + 1
	case idx < NumSuited+4:
		return SuitWind, idx - NumSuited + 1
	default:
		return SuitDragon, idx - NumSuited - 4 + 1
	}
}

// IsHonor reports whether t is a wind or a dragon.
func (t Tile) IsHonor() bool {
	idx := Index(t)
	return idx >= NumSuited
}

// SortKey returns the canonical (suit order, value) pair: suits m < s < p,
// then winds E < S < W < N, then dragons red < green < white.
func (t Tile) SortKey() (int, int) {
	suit, value := t.Decompose()
	return int(suit), value
}

// Less orders tiles canonically.
func Less(a, b Tile) bool {
	return Index(a) < Index(b)
}

// Sort sorts tiles in place into canonical order.
func Sort(tiles []Tile) {
	sort.Slice(tiles, func(i, j int) bool { return Less(tiles[i], tiles[j]) })
}

// Sorted returns a canonically ordered copy of tiles.
func Sorted(tiles []Tile) []Tile {
	out := make([]Tile, len(tiles))
	copy(out, tiles)
	Sort(out)
	return out
}
