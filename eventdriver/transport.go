package eventdriver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/johnjansen/marlin/site"
	"github.com/johnjansen/marlin/sse"
	"github.com/johnjansen/marlin/ws"
)

// SSEDeliverer bridges a channel to one sse.Engine stream handle,
// encoding an LTEvent's Kind as the SSE event type and its Payload as
// the data field (spec.md §4.H's transport bridging clause).
type SSEDeliverer struct {
	Engine *sse.Engine
}

func (d SSEDeliverer) Deliver(handle string, ev LTEvent) error {
	return d.Engine.SendEvent(handle, sse.Event{Type: string(ev.Kind), Data: string(ev.Payload)})
}

// WSDeliverer bridges a channel to one ws.Engine session, sending
// Message-kind events as text frames and Binary-kind events as binary
// frames. Open/Close events carry no payload of their own over
// WebSocket since the handshake and close frame already signal them;
// Deliver treats them as no-ops that still count as successful so they
// never pile up in a SureDelivery queue.
type WSDeliverer struct {
	Engine *ws.Engine
}

func (d WSDeliverer) Deliver(handle string, ev LTEvent) error {
	switch ev.Kind {
	case KindOpen, KindClose:
		return nil
	case KindBinary:
		return d.Engine.Send(handle, ev.Payload, true)
	default:
		return d.Engine.Send(handle, ev.Payload, false)
	}
}

// LongPollHandler returns a site.HandlerFunc implementing spec.md
// §4.H's long-poll transport: a request blocks until either an event
// is queued for id or timeout elapses, in which case it responds 204
// with no body. A delivered event is removed from the channel's queue
// as part of being written, matching SureDelivery's "LongPoll acks on
// next successful poll response" rule.
func LongPollHandler(d *Driver, id uint32, timeout time.Duration) site.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		ch := d.channel(id)
		if ch == nil {
			w.WriteHeader(http.StatusNotFound)
			return site.UpgradeNone
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		for {
			if ev, ok := popOldest(ch); ok {
				writeLongPollEvent(w, ev)
				return site.UpgradeNone
			}

			select {
			case <-ch.notify:
				continue
			case <-ctx.Done():
				w.WriteHeader(http.StatusNoContent)
				return site.UpgradeNone
			}
		}
	}
}

// popOldest removes and returns the oldest queued/pending event on ch,
// if any.
func popOldest(ch *Channel) (LTEvent, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.pending != nil {
		ev := *ch.pending
		ch.pending = nil
		return ev, true
	}
	if len(ch.queue) > 0 {
		ev := ch.queue[0]
		ch.queue = ch.queue[1:]
		return ev, true
	}
	return LTEvent{}, false
}

func writeLongPollEvent(w http.ResponseWriter, ev LTEvent) {
	w.Header().Set("X-Event-Number", strconv.FormatUint(ev.Number, 10))
	w.Header().Set("X-Event-Kind", string(ev.Kind))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ev.Payload)
}
