// Package sse implements Marlin's SSE engine (spec.md §4.F): holding
// open response streams, formatting event/id/data records, and closing
// or broadcasting across them.
//
// Grounded on the teacher's ssr/sse Broker (register/unregister/
// broadcast channels feeding a run loop) generalized from a
// session-persistent client model to spec.md's plain EventStream
// value — one stream per live connection, with cross-reconnect replay
// only in the opt-in Retain mode (retain.go) —
// and on the wusher-volcano and coraza-envoy-go-filter standalone SSE
// servers for the wire-format idiom (text/event-stream framing via
// fmt.Fprintf against an http.Flusher).
package sse

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/johnjansen/marlin/errs"
)

// Event is one SSE record to emit, per spec.md §4.F's send_event shape.
// ID is assigned by the engine (the stream's monotonic last_id); the
// caller only sets Type and Data.
type Event struct {
	Type  string
	Data  string
	Retry int // milliseconds; 0 omits the retry: line
	id    uint64
}

// Stream is one open SSE connection (spec.md §3's EventStream value:
// site_ref, connection_handle, last_id, open, keepalive_deadline).
// Multiple producers may call SendEvent concurrently; mu serializes
// them onto the one underlying connection, per spec.md §4.F: "single
// producer per stream at a time, multiple producers serialized by the
// SSE engine."
type Stream struct {
	handle  string
	routing []string

	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	lastID    uint64
	open      bool
	retainKey string
}

// Handle is the connection_handle a caller holds onto to address a
// stream for later SendEvent/CloseStream calls after the upgrading
// handler has returned.
func (s *Stream) Handle() string { return s.handle }

// Routing is the path segments the upgrading request matched under,
// unchanged for the life of the stream.
func (s *Stream) Routing() []string { return s.routing }

// Open reports whether the stream still accepts SendEvent calls.
func (s *Stream) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// LastID returns the id of the most recently sent event, 0 before the
// first SendEvent call.
func (s *Stream) LastID() uint64 {
	return atomic.LoadUint64(&s.lastID)
}

// writeEvent serializes ev to the SSE text grammar (spec.md §4.F:
// "data is split on newlines into multiple data: lines") and flushes
// it. Returns errs.StreamGone if the underlying write fails, per
// spec.md §4.F's back-pressure clause: "if the connection is detected
// dead, send_event returns err(Gone) and the stream is closed."
func (s *Stream) writeEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return errs.New(errs.StreamGone, "stream already closed")
	}

	if err := writeRecord(s.w, ev.id, ev.Type, ev.Data, ev.Retry); err != nil {
		s.open = false
		return errs.Wrap(errs.StreamGone, "write failed, stream disconnected", err)
	}
	s.flusher.Flush()
	return nil
}

// writeFinal writes the bare terminating record spec.md §4.F's
// close_stream names ("writes a final empty record").
func (s *Stream) writeFinal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	_, _ = io.WriteString(s.w, "\n")
	s.flusher.Flush()
	s.open = false
}

func writeRecord(w io.Writer, id uint64, eventType, data string, retryMs int) error {
	if id != 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if eventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	if retryMs > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", retryMs); err != nil {
			return err
		}
	}
	for _, line := range splitLines(data) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func splitLines(data string) []string {
	if data == "" {
		return []string{""}
	}
	var lines []string
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	lines = append(lines, data[start:])
	return lines
}
