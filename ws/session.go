// Package ws implements Marlin's WebSocket engine (spec.md §4.G):
// RFC-6455 handshake and framing over gorilla/websocket, fragmented
// delivery bounded by a per-site receive buffer, keepalive ping/pong,
// and the connecting/open/closing/closed session state machine.
//
// Grounded on the streamspace-dev websocket hub-and-spoke handler
// (other_examples/e758d000_...websocket.go.go and
// other_examples/dde9945a_...websocket-hub.go.go): Upgrader with
// CheckOrigin, a read pump calling SetReadDeadline/SetPongHandler for
// keepalive, and a write pump serializing writes onto one connection.
// Frame masking enforcement, continuation-frame reassembly, and text
// UTF-8 validation are gorilla/websocket's own responsibility as a
// protocol-conformant server implementation; Marlin configures it
// rather than re-implementing RFC-6455's bit-level framing.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is a session's position in spec.md §4.G's state machine:
// connecting -> open -> closing -> closed, with any state able to
// fall straight to closed on a fatal codec/IO error.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "connecting"
	}
}

// WSFrame is one delivered chunk of a message, per spec.md §4.G's
// "fragment size is bounded by recv_buffer_size; messages larger than
// the buffer are delivered to the handler as multiple WSFrame records
// with final=false until the last."
type WSFrame struct {
	Binary bool
	Data   []byte
	Final  bool
}

// Callbacks are a session's four deferred-completion hooks (spec.md
// §4.G: "each session exposes on_open, on_message, on_close,
// on_error"). Invocation is serialized per session by Session's own
// callback mutex; nil callbacks are skipped.
type Callbacks struct {
	OnOpen    func(*Session)
	OnMessage func(*Session, WSFrame)
	OnClose   func(*Session, int)
	OnError   func(*Session, error)
}

// Session is one open WebSocket connection (spec.md §3's action_context
// shape, simplified to the fields Marlin's engine actually needs: a
// handle, the underlying framed connection, and its lifecycle state).
type Session struct {
	handle  string
	routing []string
	conn    *websocket.Conn

	recvBufferSize int
	keepaliveEvery time.Duration

	writeMu sync.Mutex // gorilla/websocket permits at most one writer at a time
	cbMu    sync.Mutex // serializes on_open/on_message/on_close/on_error

	mu    sync.Mutex
	state State
	cb    Callbacks
}

// Handle is the connection_handle the engine registered this session
// under.
func (s *Session) Handle() string { return s.handle }

// Routing is the path segments the upgrading request matched under.
func (s *Session) Routing() []string { return s.routing }

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// invoke runs fn (one of the four Callbacks hooks) holding cbMu, so two
// callbacks for the same session never run concurrently while separate
// sessions' callbacks remain fully concurrent (spec.md §4.G:
// "invocation is serialized per session; concurrent callbacks across
// sessions are permitted").
func (s *Session) invoke(fn func()) {
	if fn == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	fn()
}

// writeFrame serializes access to the one connection gorilla/websocket
// allows a single writer on at a time.
func (s *Session) writeFrame(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}
