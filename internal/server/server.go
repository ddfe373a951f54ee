// Package server hosts a single game session over TCP, with an optional
// WebSocket listener carrying the same protocol. One goroutine per client
// reads frames; a single engine loop applies them, so all game state is
// mutated from one place.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tilewind/mahjong/internal/game"
	"github.com/tilewind/mahjong/internal/protocol"
)

// pollInterval is the engine loop tick. Input arrives through a one-slot
// buffer, so the loop only needs to run often enough to feel immediate.
const pollInterval = 150 * time.Millisecond

type clientConn struct {
	id   int
	name string
	tr   transport
}

type input struct {
	playerID int
	raw      []byte
}

// Server accepts connections, seats players into one session and runs the
// engine loop until the game finishes.
type Server struct {
	cfg    *Config
	logger *log.Logger
	clock  quartz.Clock

	ln     net.Listener
	wsSrv  *http.Server
	cancel context.CancelFunc
	finish sync.Once

	mu      sync.Mutex
	engine  *game.Engine
	box     *outbox
	pending *input
	clients map[int]*clientConn
	nextID  int
}

// New builds a server for one session with the given rules.
func New(cfg *Config, logger *log.Logger, clock quartz.Clock) (*Server, error) {
	box := &outbox{}
	eng, err := game.New(game.Config{
		Players:       cfg.Game.Players,
		IncludeHonors: *cfg.Game.IncludeHonors,
		Seed:          gameSeed(cfg.Game.Seed),
	}, box, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.WithPrefix("server"),
		clock:   clock,
		engine:  eng,
		box:     box,
		clients: make(map[int]*clientConn),
	}, nil
}

func gameSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}

// Engine exposes the session for tests and state inspection.
func (s *Server) Engine() *game.Engine { return s.engine }

// Addr returns the bound TCP address, valid after Start has begun
// listening.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listen binds the TCP listener without serving yet, so callers can learn
// the bound port before Start blocks.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	return nil
}

// Start serves until the session finishes or ctx is cancelled. It blocks.
func (s *Server) Start(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.logger.Info("listening", "addr", s.ln.Addr().String(),
		"players", s.cfg.Game.Players, "session", s.engine.SessionID())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.acceptLoop(ctx) })
	g.Go(func() error { return s.engineLoop(ctx) })
	if s.cfg.Server.WSAddress != "" {
		g.Go(func() error { return s.serveWebSocket(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		_ = s.ln.Close()
		if s.wsSrv != nil {
			_ = s.wsSrv.Close()
		}
		s.closeAllClients()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the serving context. Safe to call from any goroutine.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(newTCPTransport(conn))
	}
}

func (s *Server) serveWebSocket(ctx context.Context) error {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		go s.handleConn(newWSTransport(conn))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "OK")
	})

	s.wsSrv = &http.Server{Addr: s.cfg.Server.WSAddress, Handler: mux}
	s.logger.Info("websocket listener up", "addr", s.cfg.Server.WSAddress)
	err := s.wsSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// handleConn performs the join handshake, then reads frames into the
// one-slot input buffer until the connection drops.
func (s *Server) handleConn(tr transport) {
	raw, err := tr.ReadMessage()
	if err != nil {
		_ = tr.Close()
		return
	}
	var connect protocol.Connect
	if err := json.Unmarshal(raw, &connect); err != nil || connect.Type != protocol.TypeConnect {
		_ = tr.WriteMessage(&protocol.Error{
			Type: protocol.TypeError, Message: "first message must be connect"})
		_ = tr.Close()
		return
	}
	name := connect.PlayerName
	if name == "" {
		name = "anonymous"
	}

	s.mu.Lock()
	if s.engine.Phase() != game.PhaseWaiting {
		s.mu.Unlock()
		_ = tr.WriteMessage(&protocol.Error{
			Type: protocol.TypeError, Message: "game already in progress"})
		_ = tr.Close()
		return
	}
	id := s.nextID
	if err := s.engine.AddPlayer(id, name); err != nil {
		s.mu.Unlock()
		_ = tr.WriteMessage(&protocol.Error{
			Type: protocol.TypeError, Message: err.Error()})
		_ = tr.Close()
		return
	}
	s.nextID++
	s.clients[id] = &clientConn{id: id, name: name, tr: tr}

	s.box.SendTo(id, &protocol.ConnectSuccess{
		Type:       protocol.TypeConnectSuccess,
		PlayerID:   id,
		PlayerName: name,
		Message: fmt.Sprintf("welcome, %s (%d/%d players)", name,
			s.engine.PlayerCount(), s.engine.NumPlayers()),
	})
	s.box.Broadcast(&protocol.PlayerJoined{
		Type:       protocol.TypePlayerJoined,
		PlayerID:   id,
		PlayerName: name,
	})
	full := s.engine.PlayerCount() == s.engine.NumPlayers()
	if full {
		if err := s.engine.Start(); err != nil {
			s.logger.Error("failed to start game", "error", err)
		}
	}
	s.mu.Unlock()

	s.logger.Info("client joined", "player", id, "name", name,
		"remote", tr.RemoteAddr())
	s.step()

	for {
		raw, err := tr.ReadMessage()
		if err != nil {
			s.handleDisconnect(id)
			return
		}
		s.enqueueInput(id, raw)
	}
}

// enqueueInput places a frame in the one-slot buffer. An unprocessed
// earlier frame is overwritten: the engine only ever wants the latest
// answer to its most recent prompt. When the overwritten frame came
// from another player, that player is told to resend so a response
// window cannot stall waiting on a reply the slot dropped.
func (s *Server) enqueueInput(id int, raw []byte) {
	s.mu.Lock()
	if s.pending != nil {
		s.logger.Warn("overwriting unprocessed input",
			"dropped_from", s.pending.playerID, "new_from", id)
		if s.pending.playerID != id {
			s.box.SendTo(s.pending.playerID, &protocol.Error{
				Type:    protocol.TypeError,
				Message: "message dropped before processing, please resend",
			})
		}
	}
	s.pending = &input{playerID: id, raw: raw}
	s.mu.Unlock()
}

func (s *Server) handleDisconnect(id int) {
	s.mu.Lock()
	c, ok := s.clients[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, id)
	_ = c.tr.Close()
	phase := s.engine.Phase()
	switch phase {
	case game.PhaseWaiting:
		s.engine.RemovePlayer(id)
	case game.PhasePlaying, game.PhaseDealing:
		s.engine.EndGame(fmt.Sprintf("player %s disconnected", c.name), game.NoWinner, "")
	}
	s.mu.Unlock()

	s.logger.Info("client disconnected", "player", id, "phase", phase)
	s.step()
}

func (s *Server) engineLoop(ctx context.Context) error {
	tick := s.clock.TickerFunc(ctx, pollInterval, func() error {
		s.step()
		return nil
	}, "engine-loop")
	err := tick.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// step runs one engine iteration: apply pending input, collect the next
// prompt, then deliver everything outside the lock. When the session has
// finished and its output is flushed, the server shuts down.
func (s *Server) step() {
	s.mu.Lock()

	in := s.pending
	s.pending = nil
	if in != nil {
		s.dispatchLocked(in)
	}

	if pid, prompt, ok := s.engine.TakePrompt(); ok {
		s.box.SendTo(pid, prompt)
	}

	outs := s.box.drain()
	dirty := len(outs) > 0 || in != nil

	var states []envelope
	if dirty && s.engine.Phase() != game.PhaseWaiting {
		for id := range s.clients {
			states = append(states, envelope{to: id, msg: s.engine.StateFor(id)})
		}
	}

	recipients := make(map[int]*clientConn, len(s.clients))
	for id, c := range s.clients {
		recipients[id] = c
	}
	finished := s.engine.Phase() == game.PhaseFinished
	s.mu.Unlock()

	for _, env := range outs {
		s.deliver(recipients, env)
	}
	for _, env := range states {
		s.deliver(recipients, env)
	}

	if finished && dirty {
		s.finish.Do(func() {
			s.logger.Info("session finished, shutting down")
			s.Stop()
		})
	}
}

// dispatchLocked decodes and applies one client frame. Caller holds s.mu.
func (s *Server) dispatchLocked(in *input) {
	msgType, err := protocol.PeekType(in.raw)
	if err != nil {
		s.box.SendTo(in.playerID, &protocol.Error{
			Type: protocol.TypeError, Message: err.Error()})
		return
	}
	switch msgType {
	case protocol.TypeAction:
		var act protocol.Action
		if err := json.Unmarshal(in.raw, &act); err != nil {
			s.box.SendTo(in.playerID, &protocol.Error{
				Type: protocol.TypeError, Message: fmt.Sprintf("decode action: %v", err)})
			return
		}
		s.engine.HandleAction(in.playerID, &act)
	case protocol.TypeActionResponse:
		var resp protocol.ActionResponse
		if err := json.Unmarshal(in.raw, &resp); err != nil {
			s.box.SendTo(in.playerID, &protocol.Error{
				Type: protocol.TypeError, Message: fmt.Sprintf("decode response: %v", err)})
			return
		}
		s.engine.HandleActionResponse(in.playerID, &resp)
	default:
		s.box.SendTo(in.playerID, &protocol.Error{
			Type: protocol.TypeError, Message: fmt.Sprintf("unexpected message type %q", msgType)})
	}
}

func (s *Server) deliver(recipients map[int]*clientConn, env envelope) {
	if env.to == broadcastID {
		for _, c := range recipients {
			s.write(c, env.msg)
		}
		return
	}
	if c, ok := recipients[env.to]; ok {
		s.write(c, env.msg)
	}
}

func (s *Server) write(c *clientConn, msg any) {
	if err := c.tr.WriteMessage(msg); err != nil {
		s.logger.Debug("write failed", "player", c.id, "error", err)
	}
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		_ = c.tr.Close()
	}
}
