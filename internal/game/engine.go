// Package game owns the authoritative session state machine: dealing, turn
// sequencing, discard-response arbitration, kong replacement and
// termination. Every mutation happens on the single engine goroutine; the
// engine itself performs no I/O and emits messages through a Messenger.
package game

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tilewind/mahjong/internal/analyzer"
	"github.com/tilewind/mahjong/internal/protocol"
	"github.com/tilewind/mahjong/internal/tile"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseDealing  Phase = "dealing"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// WinningSelfDraw is the literal winning-tile value for a self-drawn win.
const WinningSelfDraw = "self-draw"

const initialHandSize = 13

// NoWinner marks a game that ended without a winning player.
const NoWinner = -1

var (
	ErrGameFull       = errors.New("game is full")
	ErrWrongPhase     = errors.New("wrong game phase")
	ErrNotEnoughSeats = errors.New("not all seats are filled")
)

// Messenger delivers engine output. Implementations must be safe to call
// while the session lock is held; the server buffers and flushes outside
// the lock.
type Messenger interface {
	SendTo(playerID int, msg any)
	Broadcast(msg any)
}

// Config fixes the session parameters at construction.
type Config struct {
	Players       int // 2-4
	IncludeHonors bool
	Seed          int64
}

// promptMode remembers how to rebuild the current own-turn prompt when a
// rejected action forces a re-emission.
type promptMode struct {
	replacement bool
	discardOnly bool
	tingDiscard bool
}

type pendingPrompt struct {
	playerID int
	msg      *protocol.ActionPrompt
}

// Engine is one game session. It is not internally synchronized: the
// server serializes all calls under the session mutex.
type Engine struct {
	logger    *log.Logger
	an        *analyzer.Analyzer
	cfg       Config
	sessionID string

	wall    *tile.Wall
	players []*Player
	turn    int
	phase   Phase

	discardPile   []tile.Tile
	lastDiscard   tile.Tile
	lastDiscarder int

	winnerID    int
	winningTile string

	// Response window: nil when closed. responses maps eligible player ids
	// to their reply ("" while pending); allowed holds the action sets the
	// prompts offered.
	responses       map[int]string
	allowed         map[int][]string
	windowTile      tile.Tile
	windowDiscarder int

	// One-slot outbound prompt, drained by the server loop once the window
	// is closed.
	prompt *pendingPrompt
	mode   promptMode

	out Messenger
}

// New creates a session in the waiting phase.
func New(cfg Config, out Messenger, logger *log.Logger) (*Engine, error) {
	if cfg.Players < 2 || cfg.Players > 4 {
		return nil, fmt.Errorf("player count must be 2-4, got %d", cfg.Players)
	}
	return &Engine{
		logger:        logger.WithPrefix("engine"),
		an:            analyzer.New(cfg.IncludeHonors),
		cfg:           cfg,
		sessionID:     uuid.NewString(),
		phase:         PhaseWaiting,
		lastDiscarder: -1,
		winnerID:      NoWinner,
		out:           out,
	}, nil
}

// SessionID identifies the session in logs and state snapshots.
func (e *Engine) SessionID() string { return e.sessionID }

// Phase returns the lifecycle phase.
func (e *Engine) Phase() Phase { return e.phase }

// NumPlayers is the configured seat count.
func (e *Engine) NumPlayers() int { return e.cfg.Players }

// PlayerCount is the number of seats currently filled.
func (e *Engine) PlayerCount() int { return len(e.players) }

// Winner returns the winning player id (NoWinner for none) and tile.
func (e *Engine) Winner() (int, string) { return e.winnerID, e.winningTile }

// AddPlayer seats a connected client. Only valid while waiting.
func (e *Engine) AddPlayer(id int, name string) error {
	if e.phase != PhaseWaiting {
		return ErrWrongPhase
	}
	if len(e.players) >= e.cfg.Players {
		return ErrGameFull
	}
	e.players = append(e.players, NewPlayer(id, name))
	e.logger.Info("player joined", "id", id, "name", name,
		"seated", len(e.players), "of", e.cfg.Players)
	return nil
}

// RemovePlayer detaches a seat during the waiting phase. Disconnects during
// play are handled by the server via EndGame.
func (e *Engine) RemovePlayer(id int) {
	if e.phase != PhaseWaiting {
		return
	}
	for i, p := range e.players {
		if p.ID == id {
			e.players = append(e.players[:i], e.players[i+1:]...)
			return
		}
	}
}

// Start deals and opens play. The wall may have been injected beforehand
// (tests stack it); otherwise it is built from the seeded shuffle.
func (e *Engine) Start() error {
	if e.phase != PhaseWaiting {
		return ErrWrongPhase
	}
	if len(e.players) != e.cfg.Players {
		return ErrNotEnoughSeats
	}

	e.phase = PhaseDealing
	if e.wall == nil {
		e.wall = tile.NewWall(e.cfg.IncludeHonors, rand.New(rand.NewSource(e.cfg.Seed)))
	}
	for _, p := range e.players {
		p.resetRoundState()
	}

	// Round-robin single-tile passes: 13 rounds, one tile per player per
	// round.
	for round := 0; round < initialHandSize; round++ {
		for _, p := range e.players {
			t, err := e.wall.DrawFront()
			if err != nil {
				e.EndGame("not enough tiles", NoWinner, "")
				return fmt.Errorf("deal: %w", err)
			}
			p.AddTile(t)
		}
	}

	e.logger.Info("game started", "session", e.sessionID,
		"players", len(e.players), "wall", e.wall.Remaining(),
		"honors", e.cfg.IncludeHonors)

	e.phase = PhasePlaying
	e.turn = 0
	e.startTurn(0, "")
	return nil
}

// startTurn draws for player i (or uses the kong-replacement override) and
// queues the action prompt.
func (e *Engine) startTurn(i int, override tile.Tile) {
	if e.phase != PhasePlaying {
		return
	}
	p := e.players[i]

	drawn := override
	replacement := override != ""
	if !replacement {
		t, err := e.wall.DrawFront()
		if err != nil {
			e.EndGame("exhaustive draw", NoWinner, "")
			return
		}
		drawn = t
	}
	p.AddTile(drawn)
	p.CurrentDraw = drawn
	e.logger.Debug("tile drawn", "player", p.ID, "replacement", replacement,
		"wall", e.wall.Remaining())

	e.queueTurnPrompt(p, promptMode{replacement: replacement})
}

// queueTurnPrompt derives the legal own-turn actions from the player's
// 3n+2 hand and places the prompt in the one-slot buffer.
func (e *Engine) queueTurnPrompt(p *Player, mode promptMode) {
	e.mode = mode

	msg := &protocol.ActionPrompt{
		Type:                  protocol.TypeActionPrompt,
		DrawnTile:             p.CurrentDraw,
		IsGangReplacement:     mode.replacement,
		IsListeningPlayerTurn: p.IsListening,
		PromptForTingDiscard:  mode.tingDiscard,
	}

	if mode.discardOnly || mode.tingDiscard {
		msg.Actions = []string{protocol.ActionDiscard}
		e.prompt = &pendingPrompt{playerID: p.ID, msg: msg}
		return
	}

	counts := p.HandCounts()
	var actions []string

	if e.an.IsWinning(counts, len(p.Melds)) {
		actions = append(actions, protocol.ActionHu)
	}

	anGangs, buGangs := e.kongOptions(p, counts)
	if len(anGangs) > 0 || len(buGangs) > 0 {
		actions = append(actions, protocol.ActionGang)
		msg.PossibleAnGangs = anGangs
		for _, bg := range buGangs {
			msg.PossibleBuGangs = append(msg.PossibleBuGangs,
				protocol.BuGang{MeldIndex: bg.MeldIndex, Tile: bg.Tile})
		}
	}

	if !p.IsListening && !p.AttemptingTing &&
		len(e.an.ListenOptions(counts, len(p.Melds))) > 0 {
		actions = append(actions, protocol.ActionTing)
	}

	actions = append(actions, protocol.ActionDiscard)
	msg.Actions = actions
	e.prompt = &pendingPrompt{playerID: p.ID, msg: msg}
}

// kongOptions enumerates concealed and added kong candidates, filtered to
// wait-preserving ones for a listening player.
func (e *Engine) kongOptions(p *Player, counts analyzer.Counts) ([]tile.Tile, []AddedKong) {
	anGangs := e.an.ConcealedKongCandidates(counts)
	buGangs := p.AddedKongOptions()
	if !p.IsListening {
		return anGangs, buGangs
	}
	var anOK []tile.Tile
	for _, t := range anGangs {
		if e.an.KongPreservesWaits(counts, len(p.Melds), t, 4, p.FixedWaits) {
			anOK = append(anOK, t)
		}
	}
	var buOK []AddedKong
	for _, bg := range buGangs {
		if e.an.KongPreservesWaits(counts, len(p.Melds), bg.Tile, 1, p.FixedWaits) {
			buOK = append(buOK, bg)
		}
	}
	return anOK, buOK
}

// TakePrompt hands the server the queued prompt, but never while a response
// window is open: responders settle first, then the next prompt goes out.
func (e *Engine) TakePrompt() (int, *protocol.ActionPrompt, bool) {
	if e.prompt == nil || e.responses != nil {
		return 0, nil, false
	}
	pr := e.prompt
	e.prompt = nil
	return pr.playerID, pr.msg, true
}

func (e *Engine) playerIndex(id int) int {
	for i, p := range e.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// PlayerByID returns the seat for a player id, or nil.
func (e *Engine) PlayerByID(id int) *Player {
	if i := e.playerIndex(id); i >= 0 {
		return e.players[i]
	}
	return nil
}

// rejectAction surfaces a rules violation to the sender and re-emits the
// current prompt, re-derived from state.
func (e *Engine) rejectAction(p *Player, reason string) {
	e.logger.Warn("action rejected", "player", p.ID, "reason", reason)
	e.out.SendTo(p.ID, &protocol.Error{Type: protocol.TypeError, Message: reason})
	e.queueTurnPrompt(p, e.mode)
}

// HandleAction processes an own-turn action message. Legality is re-derived
// from engine state; client-supplied fields are advisory.
func (e *Engine) HandleAction(playerID int, act *protocol.Action) {
	if e.phase != PhasePlaying {
		return
	}
	idx := e.playerIndex(playerID)
	if idx == -1 || idx != e.turn {
		e.out.SendTo(playerID, &protocol.Error{
			Type: protocol.TypeError, Message: "not your turn"})
		return
	}
	p := e.players[idx]
	if e.responses != nil {
		e.rejectAction(p, "awaiting responses to your discard")
		return
	}
	if p.AttemptingTing && act.ActionType != protocol.ActionDiscard {
		e.rejectAction(p, "a listen declaration must be followed by a discard")
		return
	}

	switch act.ActionType {
	case protocol.ActionDiscard:
		e.handleDiscard(p, act.Tile)
	case protocol.ActionHu:
		e.handleSelfDrawWin(p)
	case protocol.ActionGang:
		e.handleKong(p, act)
	case protocol.ActionTing:
		e.handleTing(p)
	default:
		e.rejectAction(p, fmt.Sprintf("unknown action %q", act.ActionType))
	}
}

func (e *Engine) handleDiscard(p *Player, t tile.Tile) {
	if !tile.Valid(t) || p.CountTile(t) == 0 {
		e.rejectAction(p, fmt.Sprintf("tile %s is not in your hand", t))
		return
	}
	if p.IsListening && t != p.CurrentDraw {
		e.rejectAction(p, "a listening hand must discard the drawn tile")
		return
	}

	if p.AttemptingTing {
		// The declaration succeeds only if this discard leaves a waiting
		// hand; otherwise it lapses silently and the discard stands.
		options := e.an.ListenOptions(p.HandCounts(), len(p.Melds))
		p.AttemptingTing = false
		if waits, ok := options[t]; ok {
			p.IsListening = true
			p.FixedWaits = waits
			e.logger.Info("listen declared", "player", p.ID, "waits", waits)
			e.out.Broadcast(&protocol.PlayerTinged{
				Type:           protocol.TypePlayerTinged,
				PlayerID:       p.ID,
				ListeningTiles: waits,
			})
		} else {
			e.logger.Info("listen declaration lapsed", "player", p.ID, "discard", t)
		}
	}

	p.RemoveTile(t)
	p.Discards = append(p.Discards, t)
	e.discardPile = append(e.discardPile, t)
	e.lastDiscard = t
	e.lastDiscarder = p.ID
	p.CurrentDraw = ""
	e.logger.Info("tile discarded", "player", p.ID, "tile", t)

	e.out.Broadcast(&protocol.PlayerDiscarded{
		Type: protocol.TypePlayerDiscarded, PlayerID: p.ID, Tile: t})
	e.openResponseWindow()
}

func (e *Engine) handleSelfDrawWin(p *Player) {
	if !e.an.IsWinning(p.HandCounts(), len(p.Melds)) {
		e.rejectAction(p, "hand is not a winning hand")
		return
	}
	e.logger.Info("self-draw win", "player", p.ID)
	e.EndGame(fmt.Sprintf("%s won by self-draw", p.Name), p.ID, WinningSelfDraw)
}

func (e *Engine) handleKong(p *Player, act *protocol.Action) {
	counts := p.HandCounts()
	anGangs, buGangs := e.kongOptions(p, counts)

	switch act.GangType {
	case protocol.GangConcealed:
		t, err := act.ConcealedKongTile()
		if err != nil {
			e.rejectAction(p, err.Error())
			return
		}
		if !containsTile(anGangs, t) {
			e.rejectAction(p, fmt.Sprintf("concealed kong of %s is not available", t))
			return
		}
		p.RemoveTiles(t, 4)
		p.Melds = append(p.Melds, Meld{Kind: MeldKong, GangType: protocol.GangConcealed, Tile: t})
		e.afterKong(p, t, protocol.GangConcealed)

	case protocol.GangAdded:
		meldIdx, t, err := act.AddedKongTarget()
		if err != nil {
			e.rejectAction(p, err.Error())
			return
		}
		ok := false
		for _, bg := range buGangs {
			if bg.MeldIndex == meldIdx && bg.Tile == t {
				ok = true
				break
			}
		}
		if !ok {
			e.rejectAction(p, fmt.Sprintf("added kong of %s is not available", t))
			return
		}
		p.RemoveTile(t)
		p.Melds[meldIdx] = Meld{Kind: MeldKong, GangType: protocol.GangAdded, Tile: t}
		e.afterKong(p, t, protocol.GangAdded)

	default:
		e.rejectAction(p, fmt.Sprintf("unknown gang type %q", act.GangType))
	}
}

// afterKong broadcasts the meld and takes the replacement draw from the
// back of the wall. No response window opens: robbing the kong is not part
// of this rule set.
func (e *Engine) afterKong(p *Player, t tile.Tile, gangType string) {
	e.logger.Info("kong declared", "player", p.ID, "tile", t, "style", gangType)
	e.out.Broadcast(&protocol.PlayerGanged{
		Type:     protocol.TypePlayerGanged,
		PlayerID: p.ID,
		Tile:     t,
		GangType: gangType,
		Melds:    wireMelds(p.Melds),
	})

	replacement, err := e.wall.DrawBack()
	if err != nil {
		e.EndGame("exhaustive draw", NoWinner, "")
		return
	}
	p.AddTile(replacement)
	p.CurrentDraw = replacement
	e.logger.Debug("kong replacement drawn", "player", p.ID, "wall", e.wall.Remaining())
	e.queueTurnPrompt(p, promptMode{replacement: true})
}

func (e *Engine) handleTing(p *Player) {
	if p.IsListening {
		e.rejectAction(p, "already listening")
		return
	}
	if len(p.Hand)%3 != 2 {
		e.rejectAction(p, "cannot declare listen before drawing")
		return
	}
	if len(e.an.ListenOptions(p.HandCounts(), len(p.Melds))) == 0 {
		e.rejectAction(p, "no discard leaves a waiting hand")
		return
	}
	p.AttemptingTing = true
	e.logger.Info("listen declaration pending", "player", p.ID)
	e.queueTurnPrompt(p, promptMode{replacement: e.mode.replacement, tingDiscard: true})
}

// openResponseWindow offers the last discard to every other player who can
// win, kong or pong it. With no takers the turn advances immediately.
func (e *Engine) openResponseWindow() {
	t := e.lastDiscard
	discarderIdx := e.playerIndex(e.lastDiscarder)
	tIdx := tile.Index(t)

	eligible := make(map[int][]string)
	for step := 1; step < len(e.players); step++ {
		p := e.players[(discarderIdx+step)%len(e.players)]
		var actions []string

		counts := p.HandCounts()
		trial := counts
		trial[tIdx]++
		if e.an.IsWinning(trial, len(p.Melds)) {
			actions = append(actions, protocol.ActionHu)
		}
		if !p.IsListening && e.an.CanExposedKong(counts, t) {
			actions = append(actions, protocol.ActionGang)
		}
		if !p.IsListening && counts[tIdx] >= 2 {
			actions = append(actions, protocol.ActionPong)
		}

		if len(actions) > 0 {
			eligible[p.ID] = actions
		}
	}

	if len(eligible) == 0 {
		e.advanceTurn()
		return
	}

	e.responses = make(map[int]string, len(eligible))
	e.allowed = eligible
	e.windowTile = t
	e.windowDiscarder = e.lastDiscarder
	discarderID := e.lastDiscarder

	for pid, actions := range eligible {
		e.responses[pid] = ""
		prompt := &protocol.ActionPrompt{
			Type:             protocol.TypeActionPrompt,
			Actions:          append(append([]string{}, actions...), protocol.ActionPass),
			Tile:             t,
			DiscarderID:      &discarderID,
			IsResponsePrompt: true,
		}
		e.logger.Info("response offered", "player", pid, "tile", t, "actions", actions)
		e.out.SendTo(pid, prompt)
	}
}

// HandleActionResponse records one reply to an open response window and
// resolves the window once every eligible player has answered. Replies
// outside the offered set are coerced to pass.
func (e *Engine) HandleActionResponse(playerID int, resp *protocol.ActionResponse) {
	if e.phase != PhasePlaying || e.responses == nil {
		e.out.SendTo(playerID, &protocol.Error{
			Type: protocol.TypeError, Message: "no response expected"})
		return
	}
	prev, expected := e.responses[playerID]
	if !expected || prev != "" {
		e.out.SendTo(playerID, &protocol.Error{
			Type: protocol.TypeError, Message: "no response expected"})
		return
	}

	choice := resp.ActionType
	if choice != protocol.ActionPass && !containsString(e.allowed[playerID], choice) {
		e.logger.Warn("response coerced to pass", "player", playerID, "sent", choice)
		choice = protocol.ActionPass
	}
	e.responses[playerID] = choice
	e.logger.Info("response recorded", "player", playerID, "choice", choice)

	for _, r := range e.responses {
		if r == "" {
			return
		}
	}
	e.resolveResponses()
}

// resolveResponses arbitrates the window with the fixed total priority
// win > kong > pong, ties broken by clockwise distance from the discarder.
func (e *Engine) resolveResponses() {
	t := e.windowTile
	discarderIdx := e.playerIndex(e.windowDiscarder)

	var kongClaimer, pongClaimer *Player
	for step := 1; step < len(e.players); step++ {
		p := e.players[(discarderIdx+step)%len(e.players)]
		switch e.responses[p.ID] {
		case protocol.ActionHu:
			e.closeWindow()
			e.logger.Info("discard won", "player", p.ID, "tile", t)
			e.EndGame(fmt.Sprintf("%s won on a discard", p.Name), p.ID, string(t))
			return
		case protocol.ActionGang:
			if kongClaimer == nil {
				kongClaimer = p
			}
		case protocol.ActionPong:
			if pongClaimer == nil {
				pongClaimer = p
			}
		}
	}

	switch {
	case kongClaimer != nil:
		e.closeWindow()
		p := kongClaimer
		p.RemoveTiles(t, 3)
		p.Melds = append(p.Melds, Meld{Kind: MeldKong, GangType: protocol.GangExposed, Tile: t})
		e.turn = e.playerIndex(p.ID)
		e.afterKong(p, t, protocol.GangExposed)

	case pongClaimer != nil:
		e.closeWindow()
		p := pongClaimer
		p.RemoveTiles(t, 2)
		p.Melds = append(p.Melds, Meld{Kind: MeldPong, Tile: t})
		e.turn = e.playerIndex(p.ID)
		e.logger.Info("pong claimed", "player", p.ID, "tile", t)
		e.out.Broadcast(&protocol.PlayerPonged{
			Type:     protocol.TypePlayerPonged,
			PlayerID: p.ID,
			Tile:     t,
			Melds:    wireMelds(p.Melds),
		})
		e.queueTurnPrompt(p, promptMode{discardOnly: true})

	default:
		e.closeWindow()
		e.advanceTurn()
	}
}

func (e *Engine) closeWindow() {
	e.responses = nil
	e.allowed = nil
	e.windowTile = ""
	e.windowDiscarder = -1
}

// advanceTurn moves play to the next seat, ending the game when the wall
// is exhausted.
func (e *Engine) advanceTurn() {
	if e.phase != PhasePlaying {
		return
	}
	e.turn = (e.turn + 1) % len(e.players)
	if e.wall.Remaining() == 0 {
		e.EndGame("exhaustive draw", NoWinner, "")
		return
	}
	e.startTurn(e.turn, "")
}

// EndGame finishes the session, records the result and broadcasts the
// final hands. Idempotent: a second call is logged and ignored.
func (e *Engine) EndGame(reason string, winnerID int, winningTile string) {
	if e.phase == PhaseFinished {
		e.logger.Warn("duplicate end-game ignored", "reason", reason)
		return
	}
	e.phase = PhaseFinished
	e.winnerID = winnerID
	e.winningTile = winningTile
	e.prompt = nil
	e.closeWindow()

	e.logger.Info("game over", "session", e.sessionID, "reason", reason,
		"winner", winnerID, "tile", winningTile)

	final := make(map[string]protocol.FinalHand, len(e.players))
	for _, p := range e.players {
		final[fmt.Sprintf("%d", p.ID)] = protocol.FinalHand{
			Hand:           append([]tile.Tile{}, p.Hand...),
			Melds:          wireMelds(p.Melds),
			IsListening:    p.IsListening,
			ListeningTiles: p.FixedWaits,
		}
	}

	msg := &protocol.GameOver{
		Type:        protocol.TypeGameOver,
		Reason:      reason,
		WinningTile: winningTile,
		FinalHands:  final,
	}
	if winnerID != NoWinner {
		id := winnerID
		msg.WinningPlayerID = &id
	}
	e.out.Broadcast(msg)
}

// StateFor builds the session snapshot tailored to one player: their own
// hand in full, everyone else by hand size.
func (e *Engine) StateFor(playerID int) *protocol.GameState {
	body := protocol.GameStateBody{
		SessionID:     e.sessionID,
		Phase:         string(e.phase),
		WallRemaining: e.wallRemaining(),
		ActionPending: e.responses != nil,
		WinningTile:   e.winningTile,
	}
	if e.phase == PhasePlaying && len(e.players) > 0 {
		id := e.players[e.turn].ID
		body.CurrentTurnPlayerID = &id
	}
	if e.lastDiscarder != -1 {
		id := e.lastDiscarder
		body.LastDiscarderID = &id
		body.LastDiscardedTile = e.lastDiscard
	}
	if e.winnerID != NoWinner {
		id := e.winnerID
		body.WinningPlayerID = &id
	}
	for i, p := range e.players {
		pub := protocol.PlayerPublic{
			PlayerID:      p.ID,
			Name:          p.Name,
			IsCurrentTurn: e.phase == PhasePlaying && i == e.turn,
			HandSize:      len(p.Hand),
			Melds:         wireMelds(p.Melds),
			Discards:      append([]tile.Tile{}, p.Discards...),
			IsListening:   p.IsListening,
		}
		if p.ID == playerID {
			pub.ListeningTiles = p.FixedWaits
			body.YourHand = append([]tile.Tile{}, p.Hand...)
		}
		body.Players = append(body.Players, pub)
	}
	return &protocol.GameState{Type: protocol.TypeGameState, State: body}
}

func (e *Engine) wallRemaining() int {
	if e.wall == nil {
		return 0
	}
	return e.wall.Remaining()
}

func containsTile(ts []tile.Tile, t tile.Tile) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
