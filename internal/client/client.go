// Package client is a synchronous library client for the session protocol,
// used by the interactive CLI and by server tests.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tilewind/mahjong/internal/protocol"
	"github.com/tilewind/mahjong/internal/tile"
)

// Client is one connection to a session server. Reads are synchronous:
// callers drive the message pump themselves, which keeps test flows
// deterministic.
type Client struct {
	conn   net.Conn
	logger *log.Logger
	wmu    sync.Mutex

	PlayerID   int
	PlayerName string
}

// Dial connects and completes the join handshake, blocking until the
// server acknowledges with connect_success.
func Dial(addr, playerName string, logger *log.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, logger: logger.WithPrefix("client"), PlayerID: -1}

	if err := c.send(&protocol.Connect{
		Type:       protocol.TypeConnect,
		PlayerName: playerName,
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	// The ack may be preceded by nothing, but join broadcasts for earlier
	// players never arrive before our own connect_success.
	raw, err := c.readRaw()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	msgType, err := protocol.PeekType(raw)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch msgType {
	case protocol.TypeConnectSuccess:
		var ack protocol.ConnectSuccess
		if err := json.Unmarshal(raw, &ack); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("decode connect_success: %w", err)
		}
		c.PlayerID = ack.PlayerID
		c.PlayerName = ack.PlayerName
		c.logger.Info("joined", "player", ack.PlayerID, "name", ack.PlayerName)
		return c, nil
	case protocol.TypeError:
		var e protocol.Error
		_ = json.Unmarshal(raw, &e)
		_ = conn.Close()
		return nil, fmt.Errorf("join rejected: %s", e.Message)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake message %q", msgType)
	}
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.conn, v)
}

func (c *Client) readRaw() ([]byte, error) {
	return protocol.ReadFrame(c.conn)
}

// ReadMessage blocks for the next frame and returns its envelope type with
// the raw payload for the caller to decode.
func (c *Client) ReadMessage() (string, []byte, error) {
	raw, err := c.readRaw()
	if err != nil {
		return "", nil, err
	}
	msgType, err := protocol.PeekType(raw)
	if err != nil {
		return "", nil, err
	}
	return msgType, raw, nil
}

// ReadUntil pumps messages until one of the given types arrives, returning
// it. Other messages are discarded. The deadline bounds the whole wait.
func (c *Client) ReadUntil(deadline time.Time, types ...string) (string, []byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", nil, err
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	for {
		msgType, raw, err := c.ReadMessage()
		if err != nil {
			return "", nil, err
		}
		if want[msgType] {
			return msgType, raw, nil
		}
	}
}

// Discard plays a tile from hand.
func (c *Client) Discard(t tile.Tile) error {
	return c.send(&protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionDiscard,
		Tile:       t,
	})
}

// DeclareWin claims a self-drawn win on the current hand.
func (c *Client) DeclareWin() error {
	return c.send(&protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionHu,
	})
}

// KongConcealed declares a concealed kong of t.
func (c *Client) KongConcealed(t tile.Tile) error {
	info, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.send(&protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionGang,
		GangType:   protocol.GangConcealed,
		TileInfo:   info,
	})
}

// KongAdded upgrades the exposed triplet at meldIndex with t from hand.
func (c *Client) KongAdded(meldIndex int, t tile.Tile) error {
	info, err := json.Marshal([]any{meldIndex, t})
	if err != nil {
		return err
	}
	return c.send(&protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionGang,
		GangType:   protocol.GangAdded,
		TileInfo:   info,
	})
}

// DeclareListen starts a listen declaration; the server answers with a
// discard-only prompt.
func (c *Client) DeclareListen() error {
	return c.send(&protocol.Action{
		Type:       protocol.TypeAction,
		ActionType: protocol.ActionTing,
	})
}

// Respond answers a discard-response prompt with hu, gang, pong or pass.
func (c *Client) Respond(actionType string) error {
	return c.send(&protocol.ActionResponse{
		Type:       protocol.TypeActionResponse,
		ActionType: actionType,
	})
}

// Pass declines a discard-response prompt.
func (c *Client) Pass() error { return c.Respond(protocol.ActionPass) }
