package analyzer

import (
	"github.com/tilewind/mahjong/internal/tile"
)

// Counts is a dense per-kind count vector over the 34-tile universe.
// It is a value type: copies are cheap and trial mutations never share
// state with the caller.
type Counts [tile.NumKinds]uint8

// CountsOf builds a count vector from a list of tiles. Unknown identifiers
// are ignored; callers validate tiles at the protocol boundary.
func CountsOf(tiles []tile.Tile) Counts {
	var c Counts
	for _, t := range tiles {
		if idx := tile.Index(t); idx >= 0 {
			c[idx]++
		}
	}
	return c
}

// Total returns the number of tiles counted.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += int(v)
	}
	return n
}

// Tiles expands the vector back into a canonically ordered tile list.
func (c Counts) Tiles() []tile.Tile {
	out := make([]tile.Tile, 0, c.Total())
	for i, v := range c {
		for k := uint8(0); k < v; k++ {
			out = append(out, tile.FromIndex(i))
		}
	}
	return out
}
