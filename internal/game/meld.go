package game

import (
	"github.com/tilewind/mahjong/internal/protocol"
	"github.com/tilewind/mahjong/internal/tile"
)

// MeldKind distinguishes triplets from kong quartets.
type MeldKind int

const (
	MeldPong MeldKind = iota
	MeldKong
)

// Meld is an exposed combination owned by a player. Once added it is never
// removed; an added kong upgrades a triplet in place.
type Meld struct {
	Kind     MeldKind
	GangType string // protocol.GangConcealed/GangAdded/GangExposed, kongs only
	Tile     tile.Tile
}

// Size is the number of physical tiles the meld binds.
func (m Meld) Size() int {
	if m.Kind == MeldKong {
		return 4
	}
	return 3
}

// Tiles expands the meld for display and final-hand reporting.
func (m Meld) Tiles() []tile.Tile {
	out := make([]tile.Tile, m.Size())
	for i := range out {
		out[i] = m.Tile
	}
	return out
}

func (m Meld) wire() protocol.Meld {
	kind := "pong"
	if m.Kind == MeldKong {
		kind = "kong"
	}
	return protocol.Meld{
		Kind:     kind,
		GangType: m.GangType,
		Tile:     m.Tile,
		Tiles:    m.Tiles(),
	}
}

func wireMelds(melds []Meld) []protocol.Meld {
	out := make([]protocol.Meld, len(melds))
	for i, m := range melds {
		out[i] = m.wire()
	}
	return out
}
