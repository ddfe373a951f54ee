// Package protocol defines the wire messages exchanged between the session
// server and its clients, and the length-prefixed JSON framing that carries
// them over TCP.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tilewind/mahjong/internal/tile"
)

// Message types carried in the envelope `type` key.
const (
	// Client -> server
	TypeConnect        = "connect"
	TypeAction         = "action"
	TypeActionResponse = "action_response"

	// Server -> client (targeted)
	TypeConnectSuccess = "connect_success"
	TypeActionPrompt   = "action_prompt"
	TypeError          = "error"

	// Server -> all (broadcast)
	TypePlayerJoined    = "player_joined"
	TypeGameState       = "game_state"
	TypePlayerDiscarded = "player_discarded"
	TypePlayerPonged    = "player_ponged"
	TypePlayerGanged    = "player_ganged"
	TypePlayerTinged    = "player_tinged"
	TypeGameOver        = "game_over"
)

// Action type values.
const (
	ActionDiscard = "discard"
	ActionHu      = "hu"
	ActionGang    = "gang"
	ActionPong    = "pong"
	ActionTing    = "ting"
	ActionPass    = "pass"
)

// Gang (kong) styles.
const (
	GangConcealed = "an"   // formed entirely from hand
	GangAdded     = "bu"   // fourth tile added to an exposed triplet
	GangExposed   = "ming" // claimed from a discard
)

// Head is decoded first to dispatch on the envelope type.
type Head struct {
	Type string `json:"type"`
}

// PeekType returns the envelope type of a raw frame.
func PeekType(raw []byte) (string, error) {
	var h Head
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	return h.Type, nil
}

// Client -> server messages.

// Connect must be the first message on a new connection.
type Connect struct {
	Type       string `json:"type"`
	PlayerName string `json:"player_name"`
}

// Action is an own-turn action: discard, hu, gang or ting.
// TileInfo is polymorphic: the kong tile for gang_type "an", a
// [meldIndex, tile] pair for gang_type "bu".
type Action struct {
	Type       string          `json:"type"`
	ActionType string          `json:"action_type"`
	Tile       tile.Tile       `json:"tile,omitempty"`
	DrawnTile  tile.Tile       `json:"drawn_tile,omitempty"`
	GangType   string          `json:"gang_type,omitempty"`
	TileInfo   json.RawMessage `json:"tile_info,omitempty"`
}

// ConcealedKongTile decodes TileInfo for a gang_type "an" action.
func (a *Action) ConcealedKongTile() (tile.Tile, error) {
	var t tile.Tile
	if err := json.Unmarshal(a.TileInfo, &t); err != nil {
		return "", fmt.Errorf("decode concealed kong tile: %w", err)
	}
	return t, nil
}

// AddedKongTarget decodes TileInfo for a gang_type "bu" action.
func (a *Action) AddedKongTarget() (int, tile.Tile, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(a.TileInfo, &pair); err != nil || len(pair) != 2 {
		return 0, "", fmt.Errorf("decode added kong target: want [meldIndex, tile]")
	}
	var idx int
	if err := json.Unmarshal(pair[0], &idx); err != nil {
		return 0, "", fmt.Errorf("decode added kong meld index: %w", err)
	}
	var t tile.Tile
	if err := json.Unmarshal(pair[1], &t); err != nil {
		return 0, "", fmt.Errorf("decode added kong tile: %w", err)
	}
	return idx, t, nil
}

// ActionResponse answers a discard-response prompt: hu, gang, pong or pass.
type ActionResponse struct {
	Type       string `json:"type"`
	ActionType string `json:"action_type"`
}

// Server -> client (targeted) messages.

// ConnectSuccess acknowledges a successful join.
type ConnectSuccess struct {
	Type       string `json:"type"`
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
}

// BuGang names an added-kong option: the triplet meld to upgrade and its tile.
type BuGang struct {
	MeldIndex int       `json:"meld_index"`
	Tile      tile.Tile `json:"tile"`
}

// ActionPrompt asks one player to act. For an own-turn prompt DrawnTile is
// set; for a discard-response prompt Tile and DiscarderID are set and
// IsResponsePrompt is true.
type ActionPrompt struct {
	Type                  string      `json:"type"`
	Actions               []string    `json:"actions"`
	DrawnTile             tile.Tile   `json:"drawn_tile,omitempty"`
	Tile                  tile.Tile   `json:"tile,omitempty"`
	DiscarderID           *int        `json:"discarder_id,omitempty"`
	PossibleAnGangs       []tile.Tile `json:"possible_an_gangs,omitempty"`
	PossibleBuGangs       []BuGang    `json:"possible_bu_gangs,omitempty"`
	IsGangReplacement     bool        `json:"is_gang_replacement"`
	IsResponsePrompt      bool        `json:"is_response_prompt"`
	IsListeningPlayerTurn bool        `json:"is_listening_player_turn"`
	PromptForTingDiscard  bool        `json:"prompt_for_ting_discard"`
}

// Error reports a recoverable protocol or rules violation to the sender.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Server -> all (broadcast) messages.

// PlayerJoined is broadcast when a player joins the waiting session.
type PlayerJoined struct {
	Type       string `json:"type"`
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// Meld is the wire form of an exposed combination.
type Meld struct {
	Kind     string      `json:"kind"` // "pong" or "kong"
	GangType string      `json:"gang_type,omitempty"`
	Tile     tile.Tile   `json:"tile"`
	Tiles    []tile.Tile `json:"tiles"`
}

// PlayerDiscarded is broadcast after every accepted discard.
type PlayerDiscarded struct {
	Type     string    `json:"type"`
	PlayerID int       `json:"player_id"`
	Tile     tile.Tile `json:"tile"`
}

// PlayerPonged is broadcast when a discard is claimed as a triplet.
type PlayerPonged struct {
	Type     string    `json:"type"`
	PlayerID int       `json:"player_id"`
	Tile     tile.Tile `json:"tile"`
	Melds    []Meld    `json:"melds"`
}

// PlayerGanged is broadcast for every kong, with its style.
type PlayerGanged struct {
	Type     string    `json:"type"`
	PlayerID int       `json:"player_id"`
	Tile     tile.Tile `json:"tile"`
	GangType string    `json:"gang_type"`
	Melds    []Meld    `json:"melds"`
}

// PlayerTinged is broadcast after a validated listen declaration, once the
// discard fixing the wait-set has been accepted.
type PlayerTinged struct {
	Type           string      `json:"type"`
	PlayerID       int         `json:"player_id"`
	ListeningTiles []tile.Tile `json:"listening_tiles"`
}

// PlayerPublic is the per-player slice of a game_state broadcast. Hand
// contents are only revealed to their owner; everyone else sees hand sizes.
type PlayerPublic struct {
	PlayerID       int         `json:"player_id"`
	Name           string      `json:"name"`
	IsCurrentTurn  bool        `json:"is_current_turn"`
	HandSize       int         `json:"hand_size"`
	Melds          []Meld      `json:"melds"`
	Discards       []tile.Tile `json:"discards"`
	IsListening    bool        `json:"is_listening"`
	ListeningTiles []tile.Tile `json:"listening_tiles,omitempty"`
}

// GameStateBody is the tailored session snapshot sent to one player.
type GameStateBody struct {
	SessionID           string         `json:"session_id"`
	Phase               string         `json:"phase"`
	CurrentTurnPlayerID *int           `json:"current_turn_player_id"`
	Players             []PlayerPublic `json:"players"`
	YourHand            []tile.Tile    `json:"your_hand"`
	LastDiscardedTile   tile.Tile      `json:"last_discarded_tile,omitempty"`
	LastDiscarderID     *int           `json:"last_discarder_id,omitempty"`
	WallRemaining       int            `json:"wall_remaining"`
	WinningPlayerID     *int           `json:"winning_player_id,omitempty"`
	WinningTile         string         `json:"winning_tile,omitempty"`
	ActionPending       bool           `json:"action_pending"`
}

// GameState wraps the snapshot for the wire.
type GameState struct {
	Type  string        `json:"type"`
	State GameStateBody `json:"state"`
}

// FinalHand is one player's holdings revealed at game end.
type FinalHand struct {
	Hand           []tile.Tile `json:"hand"`
	Melds          []Meld      `json:"melds"`
	IsListening    bool        `json:"is_listening"`
	ListeningTiles []tile.Tile `json:"listening_tiles,omitempty"`
}

// GameOver terminates the session. WinningTile is a tile identifier for a
// win on a discard, or the literal "self-draw".
type GameOver struct {
	Type            string               `json:"type"`
	Reason          string               `json:"reason"`
	WinningPlayerID *int                 `json:"winning_player_id,omitempty"`
	WinningTile     string               `json:"winning_tile,omitempty"`
	FinalHands      map[string]FinalHand `json:"final_hands"`
}
