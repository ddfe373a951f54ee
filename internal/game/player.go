package game

import (
	"github.com/tilewind/mahjong/internal/analyzer"
	"github.com/tilewind/mahjong/internal/tile"
)

// Player is one seat in the session. All mutation happens on the engine
// goroutine; the server never touches these fields directly.
type Player struct {
	ID   int
	Name string

	Hand     []tile.Tile // concealed tiles, kept in canonical order
	Melds    []Meld
	Discards []tile.Tile // insertion order preserved

	// Listening state. FixedWaits is established at the moment the listen
	// declaration's discard is accepted and is invariant afterwards except
	// where a kong provably preserves it.
	IsListening    bool
	FixedWaits     []tile.Tile
	AttemptingTing bool
	CurrentDraw    tile.Tile // most recent draw this turn, "" otherwise
}

// NewPlayer creates a seat for a connected client.
func NewPlayer(id int, name string) *Player {
	return &Player{ID: id, Name: name}
}

// AddTile inserts t and re-sorts the hand.
func (p *Player) AddTile(t tile.Tile) {
	p.Hand = append(p.Hand, t)
	tile.Sort(p.Hand)
}

// RemoveTile removes one copy of t, reporting whether it was present.
func (p *Player) RemoveTile(t tile.Tile) bool {
	for i, h := range p.Hand {
		if h == t {
			p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveTiles removes n copies of t, restoring the hand untouched if fewer
// are present.
func (p *Player) RemoveTiles(t tile.Tile, n int) bool {
	if p.CountTile(t) < n {
		return false
	}
	for i := 0; i < n; i++ {
		p.RemoveTile(t)
	}
	return true
}

// CountTile counts copies of t in the hand.
func (p *Player) CountTile(t tile.Tile) int {
	n := 0
	for _, h := range p.Hand {
		if h == t {
			n++
		}
	}
	return n
}

// HandCounts returns the hand as a count vector for the analyzer.
func (p *Player) HandCounts() analyzer.Counts {
	return analyzer.CountsOf(p.Hand)
}

// AddedKongOptions lists every exposed triplet the player could upgrade
// with a matching tile from hand.
func (p *Player) AddedKongOptions() []AddedKong {
	var out []AddedKong
	for i, m := range p.Melds {
		if m.Kind == MeldPong && p.CountTile(m.Tile) >= 1 {
			out = append(out, AddedKong{MeldIndex: i, Tile: m.Tile})
		}
	}
	return out
}

// AddedKong names a triplet meld that can grow into a kong.
type AddedKong struct {
	MeldIndex int
	Tile      tile.Tile
}

// resetRoundState clears per-round flags before dealing.
func (p *Player) resetRoundState() {
	p.IsListening = false
	p.FixedWaits = nil
	p.AttemptingTing = false
	p.CurrentDraw = ""
}
