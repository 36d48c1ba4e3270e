// Retain mode completes spec.md §4.F's bare last_id field into the
// replay-on-reconnect behavior SSE clients actually expect: a browser
// EventSource automatically reconnects and resends whatever id it last
// saw in the Last-Event-ID header, and a well-behaved server replays
// what that client missed.
//
// Grounded on the teacher's sse.SessionManager (container/ring buffer
// per session, ReconnectSession filtering buffered events by
// lastEventID) generalized from a per-client session identifier to a
// per-endpoint retention key, since Marlin's Open has no notion of a
// client-issued session id to key on.
package sse

import (
	"container/ring"
	"sort"
	"sync"
)

// retainStore holds one ring buffer of recently sent events per
// retention key.
type retainStore struct {
	mu      sync.Mutex
	size    int
	buffers map[string]*ring.Ring
}

func newRetainStore(size int) *retainStore {
	if size <= 0 {
		size = 256
	}
	return &retainStore{size: size, buffers: make(map[string]*ring.Ring)}
}

func (rs *retainStore) record(key string, ev Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	buf, ok := rs.buffers[key]
	if !ok {
		buf = ring.New(rs.size)
	}
	buf.Value = ev
	rs.buffers[key] = buf.Next()
}

// replay returns every buffered event for key with an id greater than
// afterID, oldest first.
func (rs *retainStore) replay(key string, afterID uint64) []Event {
	rs.mu.Lock()
	buf, ok := rs.buffers[key]
	rs.mu.Unlock()
	if !ok {
		return nil
	}

	var events []Event
	buf.Do(func(v any) {
		if v == nil {
			return
		}
		ev := v.(Event)
		if ev.id > afterID {
			events = append(events, ev)
		}
	})
	sort.Slice(events, func(i, j int) bool { return events[i].id < events[j].id })
	return events
}
