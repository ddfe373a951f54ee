package tile

import (
	"errors"
	"math/rand"
)

// ErrEmptyWall is returned by draws on an exhausted wall. The engine
// translates it into a draw-game termination.
var ErrEmptyWall = errors.New("wall is empty")

// Wall is the shuffled tile stack. Normal draws come off the front;
// kong-replacement draws come off the back.
type Wall struct {
	tiles []Tile
	front int
	back  int
}

// NewWall builds a wall from the full multiset, four copies of each kind,
// shuffled with the supplied RNG.
func NewWall(includeHonors bool, rng *rand.Rand) *Wall {
	kinds := Universe(includeHonors)
	tiles := make([]Tile, 0, len(kinds)*CopiesPerKind)
	for _, t := range kinds {
		for i := 0; i < CopiesPerKind; i++ {
			tiles = append(tiles, t)
		}
	}
	rng.Shuffle(len(tiles), func(i, j int) {
		tiles[i], tiles[j] = tiles[j], tiles[i]
	})
	return &Wall{tiles: tiles, back: len(tiles)}
}

// NewStackedWall builds an unshuffled wall whose front draws come out in the
// given order. Used by tests to script exact deals.
func NewStackedWall(tiles []Tile) *Wall {
	cp := make([]Tile, len(tiles))
	copy(cp, tiles)
	return &Wall{tiles: cp, back: len(cp)}
}

// DrawFront removes and returns the next tile from the front of the wall.
func (w *Wall) DrawFront() (Tile, error) {
	if w.front >= w.back {
		return "", ErrEmptyWall
	}
	t := w.tiles[w.front]
	w.front++
	return t, nil
}

// DrawBack removes and returns the next tile from the back of the wall,
// used for kong replacements.
func (w *Wall) DrawBack() (Tile, error) {
	if w.front >= w.back {
		return "", ErrEmptyWall
	}
	w.back--
	return w.tiles[w.back], nil
}

// Remaining reports how many tiles are left.
func (w *Wall) Remaining() int {
	return w.back - w.front
}
