package game

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/tilewind/mahjong/internal/protocol"
	"github.com/tilewind/mahjong/internal/tile"
)

type sentMsg struct {
	to  int
	msg any
}

// recorder captures engine output for assertions.
type recorder struct {
	direct     []sentMsg
	broadcasts []any
}

func (r *recorder) SendTo(id int, msg any) { r.direct = append(r.direct, sentMsg{to: id, msg: msg}) }
func (r *recorder) Broadcast(msg any)      { r.broadcasts = append(r.broadcasts, msg) }

func (r *recorder) gameOvers() []*protocol.GameOver {
	var out []*protocol.GameOver
	for _, m := range r.broadcasts {
		if g, ok := m.(*protocol.GameOver); ok {
			out = append(out, g)
		}
	}
	return out
}

func (r *recorder) lastResponsePromptFor(id int) *protocol.ActionPrompt {
	var found *protocol.ActionPrompt
	for _, s := range r.direct {
		if s.to != id {
			continue
		}
		if p, ok := s.msg.(*protocol.ActionPrompt); ok && p.IsResponsePrompt {
			found = p
		}
	}
	return found
}

func (r *recorder) errorsFor(id int) []*protocol.Error {
	var out []*protocol.Error
	for _, s := range r.direct {
		if s.to != id {
			continue
		}
		if e, ok := s.msg.(*protocol.Error); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) tingBroadcasts() []*protocol.PlayerTinged {
	var out []*protocol.PlayerTinged
	for _, m := range r.broadcasts {
		if p, ok := m.(*protocol.PlayerTinged); ok {
			out = append(out, p)
		}
	}
	return out
}

// testEngine builds a started engine with a scripted wall: hands are dealt
// round-robin, frontDraws come off the front in order, backDraws off the
// back in order.
func testEngine(t *testing.T, hands [][]tile.Tile, frontDraws, backDraws []tile.Tile) (*Engine, *recorder) {
	t.Helper()

	rec := &recorder{}
	eng, err := New(Config{Players: len(hands), IncludeHonors: true, Seed: 1},
		rec, log.New(io.Discard))
	require.NoError(t, err)

	names := []string{"alice", "bob", "carol", "dave"}
	for i := range hands {
		require.Len(t, hands[i], initialHandSize, "hand %d", i)
		require.NoError(t, eng.AddPlayer(i, names[i]))
	}

	var wallTiles []tile.Tile
	for round := 0; round < initialHandSize; round++ {
		for p := range hands {
			wallTiles = append(wallTiles, hands[p][round])
		}
	}
	wallTiles = append(wallTiles, frontDraws...)
	for i := len(backDraws) - 1; i >= 0; i-- {
		wallTiles = append(wallTiles, backDraws[i])
	}
	eng.wall = tile.NewStackedWall(wallTiles)

	require.NoError(t, eng.Start())
	return eng, rec
}

// takePrompt drains the one-slot prompt buffer, failing if nothing is
// queued.
func takePrompt(t *testing.T, e *Engine) (int, *protocol.ActionPrompt) {
	t.Helper()
	id, msg, ok := e.TakePrompt()
	require.True(t, ok, "expected a queued prompt")
	return id, msg
}

func discard(e *Engine, playerID int, tl tile.Tile) {
	e.HandleAction(playerID, &protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionDiscard,
		Tile:       tl,
	})
}

func respond(e *Engine, playerID int, actionType string) {
	e.HandleActionResponse(playerID, &protocol.ActionResponse{
		Type:       protocol.TypeActionResponse,
		ActionType: actionType,
	})
}

// tilesInPlay verifies conservation: concealed hands, the live wall, the
// discard pile and every meld's hand-sourced tiles always total the full
// set. A claimed discard stays in the pile for display, so claimed melds
// contribute one tile fewer than they show.
func tilesInPlay(e *Engine) int {
	total := e.wall.Remaining() + len(e.discardPile)
	for _, p := range e.players {
		total += len(p.Hand)
		for _, m := range p.Melds {
			switch {
			case m.Kind == MeldPong:
				total += 2
			case m.GangType == protocol.GangConcealed:
				total += 4
			default: // claimed or upgraded kongs hold three tiles from hand
				total += 3
			}
		}
	}
	return total
}

var junkHand = []tile.Tile{"m_1", "m_4", "m_7", "s_1", "s_4", "s_7",
	"p_1", "p_4", "p_7", "wind_E", "wind_S", "wind_W", "wind_N"}

func TestDealingDistribution(t *testing.T) {
	rec := &recorder{}
	eng, err := New(Config{Players: 4, IncludeHonors: true, Seed: 7},
		rec, log.New(io.Discard))
	require.NoError(t, err)
	for i, name := range []string{"alice", "bob", "carol", "dave"} {
		require.NoError(t, eng.AddPlayer(i, name))
	}
	require.NoError(t, eng.Start())

	require.Equal(t, PhasePlaying, eng.Phase())
	for i, p := range eng.players {
		if i == 0 {
			// Current player has drawn.
			require.Len(t, p.Hand, initialHandSize+1)
		} else {
			require.Len(t, p.Hand, initialHandSize)
		}
		require.Equal(t, tile.Sorted(p.Hand), p.Hand, "hand %d should be sorted", i)
	}
	// 136 tiles, 52 dealt, one drawn.
	require.Equal(t, 136-4*initialHandSize-1, eng.wall.Remaining())
	require.Equal(t, 136, tilesInPlay(eng))

	id, prompt := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.Contains(t, prompt.Actions, protocol.ActionDiscard)
}

func TestStartRequiresFullTable(t *testing.T) {
	rec := &recorder{}
	eng, err := New(Config{Players: 4, IncludeHonors: true, Seed: 7},
		rec, log.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, eng.AddPlayer(0, "alice"))
	require.ErrorIs(t, eng.Start(), ErrNotEnoughSeats)
}

func TestSelfDrawWin(t *testing.T) {
	p0 := []tile.Tile{"m_1", "m_1", "m_1", "m_2", "m_3", "m_4",
		"s_5", "s_6", "s_7", "p_2", "p_3", "p_4", "wind_E"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, junkHand},
		[]tile.Tile{"wind_E"}, nil)

	id, prompt := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.Contains(t, prompt.Actions, protocol.ActionHu)
	require.Equal(t, tile.Tile("wind_E"), prompt.DrawnTile)

	eng.HandleAction(0, &protocol.Action{
		Type: protocol.TypeAction, ActionType: protocol.ActionHu})

	require.Equal(t, PhaseFinished, eng.Phase())
	winner, winningTile := eng.Winner()
	require.Equal(t, 0, winner)
	require.Equal(t, WinningSelfDraw, winningTile)

	overs := rec.gameOvers()
	require.Len(t, overs, 1)
	require.NotNil(t, overs[0].WinningPlayerID)
	require.Equal(t, 0, *overs[0].WinningPlayerID)
	require.Len(t, overs[0].FinalHands, 2)
}

func TestFalseWinRejected(t *testing.T) {
	eng, rec := testEngine(t, [][]tile.Tile{junkHand, {
		"m_2", "m_5", "m_8", "s_2", "s_5", "s_8", "p_2", "p_5", "p_8",
		"dragon_red", "dragon_green", "dragon_white", "m_9"}},
		[]tile.Tile{"s_9"}, nil)

	takePrompt(t, eng)
	eng.HandleAction(0, &protocol.Action{
		Type: protocol.TypeAction, ActionType: protocol.ActionHu})

	require.Equal(t, PhasePlaying, eng.Phase())
	require.NotEmpty(t, rec.errorsFor(0))
	// The prompt is re-issued so the player can recover.
	id, _ := takePrompt(t, eng)
	require.Equal(t, 0, id)
}

func TestWinOnDiscardBeatsKong(t *testing.T) {
	p0 := []tile.Tile{"p_1", "m_1", "m_4", "m_7", "s_1", "s_4", "s_7",
		"wind_E", "wind_S", "wind_W", "wind_N", "dragon_red", "dragon_green"}
	p1 := []tile.Tile{"p_1", "p_1", "p_1", "m_2", "m_5", "m_8",
		"s_2", "s_5", "s_8", "dragon_white", "m_3", "m_6", "s_3"}
	p2 := []tile.Tile{"m_1", "m_1", "m_2", "m_3", "m_4", "s_5", "s_6", "s_7",
		"p_7", "p_8", "p_9", "p_2", "p_3"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1, p2},
		[]tile.Tile{"m_9"}, nil)

	takePrompt(t, eng)
	discard(eng, 0, "p_1")

	// Both downstream players must be offered the discard.
	kongPrompt := rec.lastResponsePromptFor(1)
	require.NotNil(t, kongPrompt)
	require.Contains(t, kongPrompt.Actions, protocol.ActionGang)
	require.Contains(t, kongPrompt.Actions, protocol.ActionPass)

	winPrompt := rec.lastResponsePromptFor(2)
	require.NotNil(t, winPrompt)
	require.Contains(t, winPrompt.Actions, protocol.ActionHu)
	require.NotNil(t, winPrompt.DiscarderID)
	require.Equal(t, 0, *winPrompt.DiscarderID)

	// No prompt leaves the buffer while the window is open.
	_, _, ok := eng.TakePrompt()
	require.False(t, ok)

	respond(eng, 1, protocol.ActionGang)
	require.Equal(t, PhasePlaying, eng.Phase(), "window resolves only when all have answered")
	respond(eng, 2, protocol.ActionHu)

	require.Equal(t, PhaseFinished, eng.Phase())
	winner, winningTile := eng.Winner()
	require.Equal(t, 2, winner)
	require.Equal(t, "p_1", winningTile)
	require.Empty(t, eng.players[1].Melds, "the losing kong claim must not fire")
}

func TestPongTransfersTurn(t *testing.T) {
	p0 := []tile.Tile{"s_1", "m_1", "m_4", "m_7", "s_4", "s_7", "p_1",
		"p_4", "p_7", "wind_E", "wind_S", "wind_W", "wind_N"}
	p1 := []tile.Tile{"s_1", "s_1", "m_2", "m_5", "m_8", "s_2", "s_5",
		"s_8", "p_2", "p_5", "p_8", "dragon_red", "dragon_green"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"m_9", "dragon_white"}, nil)

	takePrompt(t, eng)
	discard(eng, 0, "s_1")

	prompt := rec.lastResponsePromptFor(1)
	require.NotNil(t, prompt)
	require.Contains(t, prompt.Actions, protocol.ActionPong)
	require.NotContains(t, prompt.Actions, protocol.ActionGang, "two copies do not allow a kong")

	respond(eng, 1, protocol.ActionPong)

	p := eng.players[1]
	require.Len(t, p.Melds, 1)
	require.Equal(t, MeldPong, p.Melds[0].Kind)
	require.Equal(t, tile.Tile("s_1"), p.Melds[0].Tile)
	require.Len(t, p.Hand, 11)
	require.Equal(t, 1, eng.turn, "pong transfers the turn")
	require.Equal(t, 28, tilesInPlay(eng), "26 dealt plus 2 scripted draws")

	// The claimer discards without drawing.
	id, next := takePrompt(t, eng)
	require.Equal(t, 1, id)
	require.Equal(t, []string{protocol.ActionDiscard}, next.Actions)
	require.Empty(t, next.DrawnTile)

	discard(eng, 1, "dragon_red")
	// Nobody can claim a lone dragon, so play passes back to player 0.
	id, _ = takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.Equal(t, 0, eng.turn)
}

func TestExposedKongDrawsReplacement(t *testing.T) {
	p0 := []tile.Tile{"s_1", "m_1", "m_4", "m_7", "s_4", "s_7", "p_1",
		"p_4", "p_7", "wind_E", "wind_S", "wind_W", "wind_N"}
	p1 := []tile.Tile{"s_1", "s_1", "s_1", "m_2", "m_5", "m_8", "s_2",
		"s_5", "s_8", "p_2", "p_5", "p_8", "dragon_red"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"m_9"}, []tile.Tile{"dragon_white"})

	takePrompt(t, eng)
	discard(eng, 0, "s_1")

	prompt := rec.lastResponsePromptFor(1)
	require.NotNil(t, prompt)
	require.Contains(t, prompt.Actions, protocol.ActionGang)
	require.Contains(t, prompt.Actions, protocol.ActionPong)

	respond(eng, 1, protocol.ActionGang)

	p := eng.players[1]
	require.Len(t, p.Melds, 1)
	require.Equal(t, MeldKong, p.Melds[0].Kind)
	require.Equal(t, protocol.GangExposed, p.Melds[0].GangType)
	require.Equal(t, 1, eng.turn)

	// Replacement comes off the back of the wall.
	require.Equal(t, tile.Tile("dragon_white"), p.CurrentDraw)
	require.Len(t, p.Hand, 11)

	id, next := takePrompt(t, eng)
	require.Equal(t, 1, id)
	require.True(t, next.IsGangReplacement)
	require.Equal(t, 28, tilesInPlay(eng), "26 dealt plus a draw and a replacement")
}

func TestConcealedKong(t *testing.T) {
	p0 := []tile.Tile{"s_1", "s_1", "s_1", "s_1", "m_1", "m_4", "m_7",
		"p_1", "p_4", "p_7", "wind_E", "wind_S", "wind_W"}
	p1 := []tile.Tile{"m_2", "m_5", "m_8", "s_2", "s_5", "s_8", "p_2",
		"p_5", "p_8", "dragon_red", "dragon_green", "dragon_white", "m_9"}
	eng, _ := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"wind_N"}, []tile.Tile{"m_3"})

	id, prompt := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.Contains(t, prompt.Actions, protocol.ActionGang)
	require.Equal(t, []tile.Tile{"s_1"}, prompt.PossibleAnGangs)

	eng.HandleAction(0, &protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionGang,
		GangType:   protocol.GangConcealed,
		TileInfo:   json.RawMessage(`"s_1"`),
	})

	p := eng.players[0]
	require.Len(t, p.Melds, 1)
	require.Equal(t, protocol.GangConcealed, p.Melds[0].GangType)
	require.Equal(t, tile.Tile("m_3"), p.CurrentDraw)
	require.Len(t, p.Hand, 11)

	id, next := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.True(t, next.IsGangReplacement)
	require.Equal(t, 28, tilesInPlay(eng), "26 dealt plus a draw and a replacement")
}

func TestAddedKong(t *testing.T) {
	p0 := []tile.Tile{"s_1", "m_1", "m_4", "m_7", "s_4", "s_7", "p_1",
		"p_4", "p_7", "wind_E", "wind_S", "wind_W", "wind_N"}
	p1 := []tile.Tile{"s_1", "s_1", "s_1", "m_2", "m_5", "m_8", "s_2",
		"s_5", "s_8", "p_2", "p_5", "p_8", "dragon_red"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"m_9", "dragon_green", "dragon_white"}, []tile.Tile{"m_3"})

	takePrompt(t, eng)
	discard(eng, 0, "s_1")
	// Claim the triplet, keeping the fourth s_1 in hand.
	respond(eng, 1, protocol.ActionPong)

	takePrompt(t, eng)
	discard(eng, 1, "dragon_red")

	// Back to player 0, who discards a tile nobody wants.
	takePrompt(t, eng)
	discard(eng, 0, "m_9")

	// Player 1 draws and may now upgrade the exposed triplet.
	id, prompt := takePrompt(t, eng)
	require.Equal(t, 1, id)
	require.Contains(t, prompt.Actions, protocol.ActionGang)
	require.Equal(t, []protocol.BuGang{{MeldIndex: 0, Tile: "s_1"}}, prompt.PossibleBuGangs)

	eng.HandleAction(1, &protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionGang,
		GangType:   protocol.GangAdded,
		TileInfo:   json.RawMessage(`[0, "s_1"]`),
	})

	p := eng.players[1]
	require.Len(t, p.Melds, 1)
	require.Equal(t, MeldKong, p.Melds[0].Kind)
	require.Equal(t, protocol.GangAdded, p.Melds[0].GangType)
	require.Equal(t, tile.Tile("m_3"), p.CurrentDraw)

	id, next := takePrompt(t, eng)
	require.Equal(t, 1, id)
	require.True(t, next.IsGangReplacement)
	require.Equal(t, 30, tilesInPlay(eng), "26 dealt plus 3 draws and a replacement")
	require.NotEmpty(t, rec.broadcasts)
}

func TestDeclareListen(t *testing.T) {
	p0 := []tile.Tile{"m_1", "m_2", "m_3", "m_4", "m_5", "s_5", "s_5",
		"s_6", "s_7", "s_8", "p_9", "p_9", "p_9"}
	p1 := []tile.Tile{"m_7", "m_8", "m_9", "s_1", "s_2", "s_3", "p_1",
		"p_2", "p_3", "wind_E", "wind_S", "wind_W", "wind_N"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"m_1", "dragon_red", "wind_E"}, nil)

	id, prompt := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.Contains(t, prompt.Actions, protocol.ActionTing)

	eng.HandleAction(0, &protocol.Action{
		Type: protocol.TypeAction, ActionType: protocol.ActionTing})

	id, tingPrompt := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.True(t, tingPrompt.PromptForTingDiscard)
	require.Equal(t, []string{protocol.ActionDiscard}, tingPrompt.Actions)

	discard(eng, 0, "m_1")

	tings := rec.tingBroadcasts()
	require.Len(t, tings, 1)
	require.Equal(t, 0, tings[0].PlayerID)
	require.Equal(t, []tile.Tile{"m_3", "m_6"}, tings[0].ListeningTiles)

	p := eng.players[0]
	require.True(t, p.IsListening)
	require.Equal(t, []tile.Tile{"m_3", "m_6"}, p.FixedWaits)

	// Player 1 cannot use m_1 and play moves on.
	id, _ = takePrompt(t, eng)
	require.Equal(t, 1, id)
	discard(eng, 1, "dragon_red")

	// The listener draws and must discard exactly the drawn tile.
	id, listenTurn := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.True(t, listenTurn.IsListeningPlayerTurn)

	discard(eng, 0, "s_5")
	require.NotEmpty(t, rec.errorsFor(0), "a listening hand keeps its shape")
	takePrompt(t, eng) // re-issued prompt

	discard(eng, 0, "wind_E")
	require.Equal(t, 1, eng.turn)
}

func TestListenDeclarationLapses(t *testing.T) {
	p0 := []tile.Tile{"m_1", "m_2", "m_3", "m_4", "m_5", "s_5", "s_5",
		"s_6", "s_7", "s_8", "p_9", "p_9", "p_9"}
	p1 := []tile.Tile{"m_7", "m_8", "m_9", "s_1", "s_2", "s_3", "p_1",
		"p_2", "p_3", "wind_E", "wind_S", "wind_W", "wind_N"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"m_1", "dragon_red"}, nil)

	takePrompt(t, eng)
	eng.HandleAction(0, &protocol.Action{
		Type: protocol.TypeAction, ActionType: protocol.ActionTing})
	takePrompt(t, eng)

	// p_9 leaves no waits: the declaration lapses silently but the discard
	// stands.
	discard(eng, 0, "p_9")

	require.Empty(t, rec.tingBroadcasts())
	p := eng.players[0]
	require.False(t, p.IsListening)
	require.False(t, p.AttemptingTing)
	require.Len(t, p.Hand, 13)
	require.Equal(t, tile.Tile("p_9"), eng.lastDiscard)
}

func TestListeningKongOfferedWhenWaitsSurvive(t *testing.T) {
	p0 := []tile.Tile{"wind_E", "wind_E", "wind_E", "m_4", "m_5", "m_6",
		"p_7", "p_8", "p_9", "s_9", "s_9", "p_5", "p_5"}
	p1 := []tile.Tile{"m_1", "m_2", "m_3", "s_1", "s_2", "s_3", "p_1",
		"p_2", "p_3", "wind_S", "wind_W", "wind_N", "dragon_green"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"dragon_red", "dragon_white", "wind_E"}, []tile.Tile{"m_7"})

	takePrompt(t, eng)
	eng.HandleAction(0, &protocol.Action{
		Type: protocol.TypeAction, ActionType: protocol.ActionTing})
	takePrompt(t, eng)
	discard(eng, 0, "dragon_red")

	tings := rec.tingBroadcasts()
	require.Len(t, tings, 1)
	require.Equal(t, []tile.Tile{"s_9", "p_5"}, tings[0].ListeningTiles)

	id, _ := takePrompt(t, eng)
	require.Equal(t, 1, id)
	discard(eng, 1, "dragon_white")

	// The listener draws the fourth wind_E. Its triplet is self-contained,
	// so konging it keeps the wait set and the kong stays on offer.
	id, prompt := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.True(t, prompt.IsListeningPlayerTurn)
	require.Contains(t, prompt.Actions, protocol.ActionGang)
	require.Equal(t, []tile.Tile{"wind_E"}, prompt.PossibleAnGangs)

	eng.HandleAction(0, &protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionGang,
		GangType:   protocol.GangConcealed,
		TileInfo:   json.RawMessage(`"wind_E"`),
	})

	p := eng.players[0]
	require.Len(t, p.Melds, 1)
	require.Equal(t, protocol.GangConcealed, p.Melds[0].GangType)
	require.Equal(t, tile.Tile("wind_E"), p.Melds[0].Tile)
	require.True(t, p.IsListening)
	require.Equal(t, []tile.Tile{"s_9", "p_5"}, p.FixedWaits)
	require.Equal(t, tile.Tile("m_7"), p.CurrentDraw)

	id, next := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.True(t, next.IsGangReplacement)
	require.Empty(t, next.PossibleAnGangs)
}

func TestListeningKongWithheldWhenWaitsBreak(t *testing.T) {
	// The s_1 quad feeds the s_1 s_2 s_3 sequence; konging it would strand
	// s_2 s_3 and empty the wait set.
	p0 := []tile.Tile{"s_1", "s_1", "s_1", "s_1", "s_2", "s_3", "m_4",
		"m_5", "m_6", "p_7", "p_8", "p_9", "p_5"}
	p1 := []tile.Tile{"m_1", "m_2", "m_3", "s_5", "s_6", "s_7", "p_1",
		"p_2", "p_3", "wind_E", "wind_S", "wind_W", "dragon_red"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"wind_N", "dragon_white", "dragon_green", "m_8"}, nil)

	// Before listening the quad is offered freely.
	_, prompt := takePrompt(t, eng)
	require.Equal(t, []tile.Tile{"s_1"}, prompt.PossibleAnGangs)
	require.Contains(t, prompt.Actions, protocol.ActionTing)

	eng.HandleAction(0, &protocol.Action{
		Type: protocol.TypeAction, ActionType: protocol.ActionTing})
	takePrompt(t, eng)
	discard(eng, 0, "wind_N")

	tings := rec.tingBroadcasts()
	require.Len(t, tings, 1)
	require.Equal(t, []tile.Tile{"p_5"}, tings[0].ListeningTiles)

	id, _ := takePrompt(t, eng)
	require.Equal(t, 1, id)
	discard(eng, 1, "dragon_white")

	// Same quad, but the listener's next prompt must withhold it.
	id, listenTurn := takePrompt(t, eng)
	require.Equal(t, 0, id)
	require.True(t, listenTurn.IsListeningPlayerTurn)
	require.NotContains(t, listenTurn.Actions, protocol.ActionGang)
	require.Empty(t, listenTurn.PossibleAnGangs)

	// Trying it anyway is rejected and the hand is untouched.
	eng.HandleAction(0, &protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionGang,
		GangType:   protocol.GangConcealed,
		TileInfo:   json.RawMessage(`"s_1"`),
	})
	require.NotEmpty(t, rec.errorsFor(0))
	require.Empty(t, eng.players[0].Melds)
	require.Len(t, eng.players[0].Hand, 14)

	takePrompt(t, eng) // re-issued prompt
	discard(eng, 0, "dragon_green")
	require.Equal(t, 1, eng.turn)
}

func TestExhaustiveDraw(t *testing.T) {
	rec := &recorder{}
	eng, err := New(Config{Players: 2, IncludeHonors: true, Seed: 1},
		rec, log.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, eng.AddPlayer(0, "alice"))
	require.NoError(t, eng.AddPlayer(1, "bob"))

	p1 := []tile.Tile{"m_2", "m_5", "m_8", "s_2", "s_5", "s_8", "p_2",
		"p_5", "p_8", "dragon_red", "dragon_green", "dragon_white", "m_9"}
	var wallTiles []tile.Tile
	for round := 0; round < initialHandSize; round++ {
		wallTiles = append(wallTiles, junkHand[round], p1[round])
	}
	// Exactly one tile past the deal: the first draw empties the wall.
	wallTiles = append(wallTiles, "s_9")
	eng.wall = tile.NewStackedWall(wallTiles)
	require.NoError(t, eng.Start())

	takePrompt(t, eng)
	require.Equal(t, 0, eng.wall.Remaining())
	discard(eng, 0, "s_9")

	require.Equal(t, PhaseFinished, eng.Phase())
	winner, _ := eng.Winner()
	require.Equal(t, NoWinner, winner)

	overs := rec.gameOvers()
	require.Len(t, overs, 1)
	require.Nil(t, overs[0].WinningPlayerID)
	require.Equal(t, "exhaustive draw", overs[0].Reason)
}

func TestEndGameIdempotent(t *testing.T) {
	eng, rec := testEngine(t, [][]tile.Tile{junkHand, {
		"m_2", "m_5", "m_8", "s_2", "s_5", "s_8", "p_2", "p_5", "p_8",
		"dragon_red", "dragon_green", "dragon_white", "m_9"}},
		[]tile.Tile{"s_9"}, nil)

	eng.EndGame("player bob disconnected", NoWinner, "")
	eng.EndGame("player bob disconnected", NoWinner, "")

	require.Len(t, rec.gameOvers(), 1)
	require.Equal(t, PhaseFinished, eng.Phase())
}

func TestOutOfTurnActionRejected(t *testing.T) {
	eng, rec := testEngine(t, [][]tile.Tile{junkHand, {
		"m_2", "m_5", "m_8", "s_2", "s_5", "s_8", "p_2", "p_5", "p_8",
		"dragon_red", "dragon_green", "dragon_white", "m_9"}},
		[]tile.Tile{"s_9"}, nil)

	discard(eng, 1, "m_2")
	require.NotEmpty(t, rec.errorsFor(1))
	require.Len(t, eng.players[1].Hand, 13, "hand must be untouched")
	require.Equal(t, 0, eng.turn)
}

func TestInvalidResponseCoercedToPass(t *testing.T) {
	p0 := []tile.Tile{"s_1", "m_1", "m_4", "m_7", "s_4", "s_7", "p_1",
		"p_4", "p_7", "wind_E", "wind_S", "wind_W", "wind_N"}
	p1 := []tile.Tile{"s_1", "s_1", "m_2", "m_5", "m_8", "s_2", "s_5",
		"s_8", "p_2", "p_5", "p_8", "dragon_red", "dragon_green"}
	eng, rec := testEngine(t, [][]tile.Tile{p0, p1},
		[]tile.Tile{"m_9", "dragon_white"}, nil)

	takePrompt(t, eng)
	discard(eng, 0, "s_1")
	require.NotNil(t, rec.lastResponsePromptFor(1))

	// Only pong was offered; a hu reply counts as a pass.
	respond(eng, 1, protocol.ActionHu)

	require.Empty(t, eng.players[1].Melds)
	require.Equal(t, 1, eng.turn, "play advances normally after the pass")
	id, _ := takePrompt(t, eng)
	require.Equal(t, 1, id)
}

func TestStateForHidesOtherHands(t *testing.T) {
	eng, _ := testEngine(t, [][]tile.Tile{junkHand, {
		"m_2", "m_5", "m_8", "s_2", "s_5", "s_8", "p_2", "p_5", "p_8",
		"dragon_red", "dragon_green", "dragon_white", "m_9"}},
		[]tile.Tile{"s_9"}, nil)

	st := eng.StateFor(1)
	require.Len(t, st.State.YourHand, 13)
	require.Len(t, st.State.Players, 2)
	for _, p := range st.State.Players {
		switch p.PlayerID {
		case 0:
			require.Equal(t, 14, p.HandSize)
			require.True(t, p.IsCurrentTurn)
		case 1:
			require.Equal(t, 13, p.HandSize)
		}
	}
	require.NotNil(t, st.State.CurrentTurnPlayerID)
	require.Equal(t, 0, *st.State.CurrentTurnPlayerID)
	require.Equal(t, eng.SessionID(), st.State.SessionID)
}
