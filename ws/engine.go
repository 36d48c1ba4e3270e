package ws

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/johnjansen/marlin/errs"
	"github.com/johnjansen/marlin/site"
)

const (
	minKeepalive      = 15000 * time.Millisecond
	defaultRecvBuffer = 4096
)

// Config tunes an Engine's handshake and framing behavior, per spec.md
// §4.G's per-site WebSocket options.
type Config struct {
	// CheckOrigin validates the handshake's Origin header. Nil allows
	// every origin, matching gorilla/websocket's own default.
	CheckOrigin func(r *http.Request) bool
	// Subprotocols are offered during negotiation in preference order.
	Subprotocols []string
	// RecvBufferSize bounds each delivered WSFrame chunk; messages
	// larger than this arrive as multiple frames with Final=false
	// until the last. Defaults to 4096 if <= 0.
	RecvBufferSize int
	// KeepaliveIntervalMs is the ping cadence; spec.md §4.G floors it
	// at 15000ms regardless of the configured value.
	KeepaliveIntervalMs int
	// DisableUTF8Verify and DisableClientMasking are carried for
	// config-surface fidelity with spec.md §4.G but have no effect:
	// gorilla/websocket validates text-message UTF-8 and enforces
	// client-frame masking unconditionally, as any conformant
	// RFC-6455 server must.
	DisableUTF8Verify    bool
	DisableClientMasking bool
}

// Engine implements router.StreamEngine for WebSocket upgrades. It
// performs the handshake itself (spec.md §4.G: handshake validation
// happens at upgrade time, not before), then hands the session's
// lifecycle to resolve's returned Callbacks.
type Engine struct {
	cfg      Config
	upgrader websocket.Upgrader
	resolve  func(s *site.Site, routing []string) Callbacks

	mu       sync.RWMutex
	byHandle map[string]*Session
}

// NewEngine returns an Engine. resolve is called once per upgraded
// connection to obtain that connection's callback set; it may be nil
// if the caller only needs Send/Close without callbacks.
func NewEngine(cfg Config, resolve func(s *site.Site, routing []string) Callbacks) *Engine {
	return &Engine{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  recvBufferSize(cfg.RecvBufferSize),
			WriteBufferSize: recvBufferSize(cfg.RecvBufferSize),
			CheckOrigin:     cfg.CheckOrigin,
			Subprotocols:    cfg.Subprotocols,
			Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
				http.Error(w, reason.Error(), http.StatusBadRequest)
			},
		},
		resolve:  resolve,
		byHandle: make(map[string]*Session),
	}
}

// Serve implements router.StreamEngine. On a handshake failure, the
// upgrader's Error hook has already written a 400 response carrying the
// failure reason (spec.md §4.G), so Serve simply returns.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, s *site.Site, routing []string) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle, herr := generateHandle()
	if herr != nil {
		_ = conn.Close()
		return
	}

	keepalive := clampKeepalive(e.cfg.KeepaliveIntervalMs)
	sess := &Session{
		handle:         handle,
		routing:        routing,
		conn:           conn,
		recvBufferSize: recvBufferSize(e.cfg.RecvBufferSize),
		keepaliveEvery: keepalive,
		state:          StateConnecting,
	}
	if e.resolve != nil {
		sess.cb = e.resolve(s, routing)
	}

	e.mu.Lock()
	e.byHandle[handle] = sess
	e.mu.Unlock()

	sess.setState(StateOpen)
	sess.invoke(func() {
		if sess.cb.OnOpen != nil {
			sess.cb.OnOpen(sess)
		}
	})

	conn.SetReadDeadline(time.Now().Add(keepalive))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(keepalive))
		return nil
	})

	stop := make(chan struct{})
	go e.pingLoop(sess, stop)

	e.readLoop(sess)
	close(stop)
	e.evict(sess)
}

// pingLoop sends a ping every keepalive interval (spec.md §4.G: "if no
// frame observed for keepalive_interval_ms, the engine sends a ping").
// A failed write is left for the read loop to notice and close.
func (e *Engine) pingLoop(sess *Session, stop chan struct{}) {
	ticker := time.NewTicker(sess.keepaliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = sess.writeFrame(websocket.PingMessage, nil)
		case <-stop:
			return
		}
	}
}

// readLoop pumps incoming frames until the connection closes or a
// fatal error occurs, delivering WSFrame chunks bounded by
// recvBufferSize (spec.md §4.G's reassembly/fragmentation clause).
// Absence of a pong within the keepalive deadline surfaces here as a
// read timeout, which closes with code 1006 per spec.md §4.G.
func (e *Engine) readLoop(sess *Session) {
	for {
		msgType, reader, err := sess.conn.NextReader()
		if err != nil {
			e.finishClose(sess, err)
			return
		}

		binary := msgType == websocket.BinaryMessage
		buf := make([]byte, sess.recvBufferSize)
		for {
			n, rerr := io.ReadFull(reader, buf)
			final := rerr == io.ErrUnexpectedEOF || rerr == io.EOF
			if rerr != nil && !final {
				e.finishClose(sess, rerr)
				return
			}

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			frame := WSFrame{Binary: binary, Data: chunk, Final: final}
			sess.invoke(func() {
				if sess.cb.OnMessage != nil {
					sess.cb.OnMessage(sess, frame)
				}
			})
			if final {
				break
			}
		}

		sess.conn.SetReadDeadline(time.Now().Add(sess.keepaliveEvery))
	}
}

func (e *Engine) finishClose(sess *Session, cause error) {
	code := websocket.CloseAbnormalClosure
	if ce, ok := cause.(*websocket.CloseError); ok {
		code = ce.Code
	} else {
		sess.invoke(func() {
			if sess.cb.OnError != nil {
				sess.cb.OnError(sess, cause)
			}
		})
	}
	sess.setState(StateClosed)
	e.evict(sess)
	sess.invoke(func() {
		if sess.cb.OnClose != nil {
			sess.cb.OnClose(sess, code)
		}
	})
}

// Send writes one complete message to the session registered under
// handle. binary selects opcode 0x2 over 0x1.
func (e *Engine) Send(handle string, data []byte, binary bool) error {
	sess := e.get(handle)
	if sess == nil {
		return errs.New(errs.StreamGone, "no such websocket session")
	}
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	if err := sess.writeFrame(messageType, data); err != nil {
		return errs.Wrap(errs.StreamGone, "write failed, session disconnected", err)
	}
	return nil
}

// Close performs spec.md §4.G's send_close_socket: it emits an
// opcode-0x8 frame and transitions the session to closing. The read
// loop observes the peer's close frame (or its own deadline expiring)
// and completes the closing->closed transition, firing OnClose.
func (e *Engine) Close(handle string, code int, reason string) error {
	sess := e.get(handle)
	if sess == nil {
		return errs.New(errs.StreamGone, "no such websocket session")
	}
	sess.setState(StateClosing)
	msg := websocket.FormatCloseMessage(code, reason)
	return sess.writeFrame(websocket.CloseMessage, msg)
}

// HasSession reports whether handle names a session the engine still
// tracks.
func (e *Engine) HasSession(handle string) bool {
	return e.get(handle) != nil
}

func (e *Engine) get(handle string) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byHandle[handle]
}

func (e *Engine) evict(sess *Session) {
	e.mu.Lock()
	delete(e.byHandle, sess.handle)
	e.mu.Unlock()
}

func clampKeepalive(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d < minKeepalive {
		return minKeepalive
	}
	return d
}

func recvBufferSize(n int) int {
	if n <= 0 {
		return defaultRecvBuffer
	}
	return n
}

func generateHandle() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
