// Command mahjong-client is a line-oriented interactive client: it prints
// session events as they arrive and reads actions from stdin when prompted.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/tilewind/mahjong/internal/client"
	"github.com/tilewind/mahjong/internal/protocol"
	"github.com/tilewind/mahjong/internal/tile"
)

var CLI struct {
	Addr     string `short:"a" long:"addr" default:"localhost:12345" help:"Server address"`
	Name     string `short:"n" long:"name" required:"" help:"Player name"`
	LogLevel string `short:"l" long:"log-level" default:"warn" help:"Log level"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logger := log.New(os.Stderr)
	if CLI.LogLevel == "debug" {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}

	c, err := client.Dial(CLI.Addr, CLI.Name, logger)
	if err != nil {
		fmt.Printf("Failed to join: %v\n", err)
		kctx.Exit(1)
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("Joined as player %d (%s). Waiting for the game to start.\n",
		c.PlayerID, c.PlayerName)

	stdin := bufio.NewScanner(os.Stdin)
	for {
		msgType, raw, err := c.ReadMessage()
		if err != nil {
			fmt.Printf("Connection closed: %v\n", err)
			return
		}
		if done := handle(c, stdin, msgType, raw); done {
			return
		}
	}
}

// handle prints one server message and, for prompts, collects and sends
// the reply. Returns true once the game is over.
func handle(c *client.Client, stdin *bufio.Scanner, msgType string, raw []byte) bool {
	switch msgType {
	case protocol.TypePlayerJoined:
		var m protocol.PlayerJoined
		if json.Unmarshal(raw, &m) == nil && m.PlayerID != c.PlayerID {
			fmt.Printf("* %s joined as player %d\n", m.PlayerName, m.PlayerID)
		}

	case protocol.TypeGameState:
		var m protocol.GameState
		if json.Unmarshal(raw, &m) == nil {
			printState(&m.State)
		}

	case protocol.TypePlayerDiscarded:
		var m protocol.PlayerDiscarded
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("* player %d discarded %s\n", m.PlayerID, m.Tile)
		}

	case protocol.TypePlayerPonged:
		var m protocol.PlayerPonged
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("* player %d ponged %s\n", m.PlayerID, m.Tile)
		}

	case protocol.TypePlayerGanged:
		var m protocol.PlayerGanged
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("* player %d declared a %s kong of %s\n", m.PlayerID, m.GangType, m.Tile)
		}

	case protocol.TypePlayerTinged:
		var m protocol.PlayerTinged
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("* player %d is listening for %v\n", m.PlayerID, m.ListeningTiles)
		}

	case protocol.TypeActionPrompt:
		var m protocol.ActionPrompt
		if json.Unmarshal(raw, &m) == nil {
			prompt(c, stdin, &m)
		}

	case protocol.TypeError:
		var m protocol.Error
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("! %s\n", m.Message)
		}

	case protocol.TypeGameOver:
		var m protocol.GameOver
		if json.Unmarshal(raw, &m) == nil {
			fmt.Printf("\n=== Game over: %s ===\n", m.Reason)
			if m.WinningPlayerID != nil {
				fmt.Printf("Winner: player %d (%s)\n", *m.WinningPlayerID, m.WinningTile)
			}
			for id, fh := range m.FinalHands {
				fmt.Printf("  player %s: %v melds=%d\n", id, fh.Hand, len(fh.Melds))
			}
		}
		return true
	}
	return false
}

func printState(st *protocol.GameStateBody) {
	if len(st.YourHand) > 0 {
		fmt.Printf("  hand: %s  (wall %d)\n", strings.Join(tileStrings(st.YourHand), " "), st.WallRemaining)
	}
}

func tileStrings(ts []tile.Tile) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func prompt(c *client.Client, stdin *bufio.Scanner, m *protocol.ActionPrompt) {
	if m.IsResponsePrompt {
		fmt.Printf("\nPlayer %d discarded %s. Respond with one of %v:\n> ",
			deref(m.DiscarderID), m.Tile, m.Actions)
		for stdin.Scan() {
			choice := strings.TrimSpace(stdin.Text())
			if choice == "" {
				fmt.Print("> ")
				continue
			}
			_ = c.Respond(choice)
			return
		}
		_ = c.Pass()
		return
	}

	if m.DrawnTile != "" {
		fmt.Printf("\nYou drew %s.", m.DrawnTile)
	}
	fmt.Printf(" Actions: %v\n", m.Actions)
	if len(m.PossibleAnGangs) > 0 {
		fmt.Printf("  concealed kongs: %v\n", m.PossibleAnGangs)
	}
	if len(m.PossibleBuGangs) > 0 {
		fmt.Printf("  added kongs: %v\n", m.PossibleBuGangs)
	}
	fmt.Print("> ")

	for stdin.Scan() {
		fields := strings.Fields(stdin.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}
		switch fields[0] {
		case "discard":
			if len(fields) != 2 {
				fmt.Print("usage: discard <tile>\n> ")
				continue
			}
			_ = c.Discard(tile.Tile(fields[1]))
			return
		case "hu":
			_ = c.DeclareWin()
			return
		case "ting":
			_ = c.DeclareListen()
			return
		case "gang":
			if len(fields) == 2 {
				_ = c.KongConcealed(tile.Tile(fields[1]))
				return
			}
			if len(fields) == 3 {
				idx, err := strconv.Atoi(fields[1])
				if err != nil {
					fmt.Print("usage: gang <tile> | gang <meld-index> <tile>\n> ")
					continue
				}
				_ = c.KongAdded(idx, tile.Tile(fields[2]))
				return
			}
			fmt.Print("usage: gang <tile> | gang <meld-index> <tile>\n> ")
		default:
			fmt.Printf("unknown action %q\n> ", fields[0])
		}
	}
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
