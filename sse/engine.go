package sse

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnjansen/marlin/errs"
	"github.com/johnjansen/marlin/site"
)

// Config tunes an Engine's optional reconnection behavior.
type Config struct {
	// Retain enables replay-on-reconnect: a stream reopened with a
	// Last-Event-ID header receives everything it missed, sourced from
	// a per-endpoint ring buffer (spec.md §4.F's last_id, completed
	// per SPEC_FULL.md's supplemented-features note).
	Retain bool
	// RetainBufferSize bounds how many events the ring buffer keeps
	// per endpoint. Defaults to 256 if <= 0.
	RetainBufferSize int
}

// Engine holds every open SSE stream across every site on one
// listener and implements router.StreamEngine. A handler that wants to
// push events obtains a *Stream via Open before returning
// site.UpgradeSSE; the router then calls Serve, which owns the
// connection until the client disconnects or the stream is closed.
type Engine struct {
	mu        sync.RWMutex
	byHandle  map[string]*Stream
	byRequest map[*http.Request]*Stream
	bySite    map[*site.Site][]*Stream
	onClose   []func(*Stream)

	retain *retainStore
}

// NewEngine returns an empty Engine. Retain mode is off unless
// cfg.Retain is set.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		byHandle:  make(map[string]*Stream),
		byRequest: make(map[*http.Request]*Stream),
		bySite:    make(map[*site.Site][]*Stream),
	}
	if cfg.Retain {
		e.retain = newRetainStore(cfg.RetainBufferSize)
	}
	return e
}

// Open upgrades w/r to an SSE stream: it writes the fixed response
// preamble spec.md §4.F names ("200, Content-Type: text/event-stream,
// Cache-Control: no-cache, Connection: keep-alive, no compression")
// and registers the stream under s in registration order. Handlers
// call this, stash the returned handle for later SendEvent calls, and
// return site.UpgradeSSE.
func (e *Engine) Open(w http.ResponseWriter, r *http.Request, s *site.Site, routing []string) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errs.New(errs.HandlerFault, "response writer does not support flushing")
	}

	handle, err := generateHandle()
	if err != nil {
		return nil, errs.Wrap(errs.HandlerFault, "failed to generate stream handle", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := &Stream{
		handle:  handle,
		routing: routing,
		w:       w,
		flusher: flusher,
		open:    true,
	}

	if e.retain != nil {
		stream.retainKey = retainKey(s, routing)
		if afterID, ok := lastEventID(r); ok {
			for _, ev := range e.retain.replay(stream.retainKey, afterID) {
				if err := stream.writeEvent(ev); err != nil {
					break
				}
				atomic.StoreUint64(&stream.lastID, ev.id)
			}
		}
	}

	e.mu.Lock()
	e.byHandle[handle] = stream
	e.byRequest[r] = stream
	e.bySite[s] = append(e.bySite[s], stream)
	e.mu.Unlock()

	return stream, nil
}

// retainKey identifies a retention endpoint by site and routing path,
// independent of any one connection's handle, so a reconnecting client
// hitting the same logical stream finds what it missed regardless of
// which prior connection produced it.
func retainKey(s *site.Site, routing []string) string {
	return fmt.Sprintf("%p:%s", s, strings.Join(routing, "/"))
}

// lastEventID parses the Last-Event-ID header a reconnecting
// EventSource sends automatically.
func lastEventID(r *http.Request) (uint64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Serve implements router.StreamEngine. It blocks until the client
// disconnects or the stream is closed by application code, then
// evicts the stream from the registry. The actual event pushing
// happens out of band, through SendEvent calls against the handle Open
// returned — Serve just owns the connection's lifetime.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, s *site.Site, routing []string) {
	e.mu.RLock()
	stream, ok := e.byRequest[r]
	e.mu.RUnlock()
	if !ok {
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for stream.Open() {
		select {
		case <-r.Context().Done():
			stream.writeFinal()
			e.evict(stream)
			return
		case <-ticker.C:
		}
	}
	e.evict(stream)
}

// SendEvent serializes and writes ev against the stream registered
// under handle, assigning it the stream's next monotonic id (spec.md
// §4.F: "id is the stream's last_id, monotonically chosen"). A dead
// connection evicts the stream and returns errs.StreamGone.
func (e *Engine) SendEvent(handle string, ev Event) error {
	e.mu.RLock()
	stream, ok := e.byHandle[handle]
	e.mu.RUnlock()
	if !ok {
		return errs.New(errs.StreamGone, "no such stream")
	}
	return e.send(stream, ev)
}

func (e *Engine) send(stream *Stream, ev Event) error {
	ev.id = atomic.AddUint64(&stream.lastID, 1)
	if err := stream.writeEvent(ev); err != nil {
		e.evict(stream)
		return err
	}
	if e.retain != nil && stream.retainKey != "" {
		e.retain.record(stream.retainKey, ev)
	}
	return nil
}

// CloseStream closes the stream registered under handle, writing the
// final empty record and firing OnClose listeners (spec.md §4.F's
// close_stream).
func (e *Engine) CloseStream(handle string) {
	e.mu.RLock()
	stream, ok := e.byHandle[handle]
	e.mu.RUnlock()
	if !ok {
		return
	}
	stream.writeFinal()
	e.evict(stream)
}

// evict removes stream from every index and notifies OnClose listeners.
// It is idempotent: calling it twice for the same stream is harmless.
func (e *Engine) evict(stream *Stream) {
	e.mu.Lock()
	_, present := e.byHandle[stream.handle]
	if present {
		delete(e.byHandle, stream.handle)
		for req, s := range e.byRequest {
			if s == stream {
				delete(e.byRequest, req)
				break
			}
		}
		for site, streams := range e.bySite {
			for i, s := range streams {
				if s == stream {
					e.bySite[site] = append(streams[:i], streams[i+1:]...)
					break
				}
			}
		}
	}
	listeners := append([]func(*Stream){}, e.onClose...)
	e.mu.Unlock()

	if present {
		for _, fn := range listeners {
			fn(stream)
		}
	}
}

// HasStream reports whether handle still names an open stream
// (spec.md §4.F: "has_stream(stream) returns false after close").
func (e *Engine) HasStream(handle string) bool {
	e.mu.RLock()
	stream, ok := e.byHandle[handle]
	e.mu.RUnlock()
	return ok && stream.Open()
}

// Broadcast sends ev to every open stream on s, in registration order
// (spec.md §4.F: "broadcast(site, event) sends to every stream on a
// site in registration order"). Streams found dead along the way are
// evicted; their errors are returned keyed by handle.
func (e *Engine) Broadcast(s *site.Site, ev Event) map[string]error {
	e.mu.RLock()
	streams := append([]*Stream{}, e.bySite[s]...)
	e.mu.RUnlock()

	failures := map[string]error{}
	for _, stream := range streams {
		evCopy := ev
		if err := e.send(stream, evCopy); err != nil {
			failures[stream.handle] = err
		}
	}
	return failures
}

// OnClose registers fn to be called, out of band, every time any
// stream closes (spec.md §4.F: "an OnClose is delivered out-of-band to
// registered listeners").
func (e *Engine) OnClose(fn func(*Stream)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = append(e.onClose, fn)
}

func generateHandle() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
