package server

import (
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tilewind/mahjong/internal/protocol"
)

// transport abstracts one client connection. The native transport is TCP
// with length-prefixed JSON frames; a WebSocket listener can carry the same
// messages, one JSON document per text frame.
type transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(v any) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	conn net.Conn
	wmu  sync.Mutex
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) ReadMessage() ([]byte, error) {
	return protocol.ReadFrame(t.conn)
}

func (t *tcpTransport) WriteMessage(v any) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return protocol.WriteFrame(t.conn, v)
}

func (t *tcpTransport) Close() error { return t.conn.Close() }

func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(v any) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error { return t.conn.Close() }

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
