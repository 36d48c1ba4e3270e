// Package eventdriver implements Marlin's event driver (spec.md §4.H):
// channel-addressed event queues with open/message/close semantics,
// per-channel delivery policy, and transport bridging to SSE,
// WebSocket, and long-poll.
//
// Grounded on the teacher's jobs.Runtime (asynq Client/Server/Mux
// wiring a background worker around a typed task queue) for the
// registration/dispatch shape generalized from Redis-backed job
// queues to an in-process channel registry; the SureDelivery
// retry/flush cycle in retry.go reuses jobs.Runtime directly rather
// than reimplementing a scheduler.
package eventdriver

import (
	"sync"
	"sync/atomic"

	"github.com/johnjansen/marlin/errs"
	"github.com/johnjansen/marlin/report"
)

// Policy is a channel's delivery guarantee (spec.md §4.H).
type Policy int

const (
	Unbound Policy = iota
	BestEffort
	SureDelivery
)

// Transport is which surface a channel bridges events to.
type Transport int

const (
	TransportUnbound Transport = iota
	TransportWebSocket
	TransportSSE
	TransportLongPoll
)

// Kind is an LTEvent's category (spec.md §3's LTEvent value).
type Kind string

const (
	KindOpen    Kind = "Open"
	KindMessage Kind = "Message"
	KindBinary  Kind = "Binary"
	KindError   Kind = "Error"
	KindClose   Kind = "Close"
)

// LTEvent is one queued/delivered event (spec.md §3). Number is
// strictly monotonic per channel; clients may drop duplicates by
// comparing it.
type LTEvent struct {
	Number  uint64
	Kind    Kind
	Payload []byte
	Sender  any
}

// Deliverer pushes one event onto whatever transport a channel is
// currently bound to (sse.Engine/ws.Engine adapters in transport.go).
// A non-nil error means the event was not delivered and, for
// SureDelivery channels, stays queued for retry.
type Deliverer interface {
	Deliver(handle string, ev LTEvent) error
}

// Channel is one registered event channel (spec.md §3).
type Channel struct {
	id              uint32
	name            string
	cookieName      string
	cookieValue     string
	mu              sync.Mutex
	policy          Policy
	callback        func(LTEvent)
	transport       Transport
	transportHandle string
	deliverer       Deliverer
	attached        bool
	nextSeq         uint64
	queue           []LTEvent // SureDelivery FIFO
	pending         *LTEvent  // BestEffort's single slot
	notify          chan struct{}
}

// QueueCount returns the number of events still waiting for delivery
// (spec.md §4.H: "channel_queue_count(id) returns pending events").
func (c *Channel) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	if c.pending != nil {
		n++
	}
	return n
}

// Driver is the registry of all channels on one process.
type Driver struct {
	mu       sync.RWMutex
	byID     map[uint32]*Channel
	byIdentity map[string]uint32
	nextID   uint32
	reporter *report.Reporter
}

// NewDriver returns an empty Driver reporting SureDelivery drain
// failures to rpt.
func NewDriver(rpt *report.Reporter) *Driver {
	return &Driver{
		byID:       make(map[uint32]*Channel),
		byIdentity: make(map[string]uint32),
		reporter:   rpt,
	}
}

func identityKey(name, cookieName, cookieValue string) string {
	return name + "\x00" + cookieName + "\x00" + cookieValue
}

// RegisterChannel registers a new channel identified by the
// (name, cookieName, cookieValue) triple, returning its id. Per
// spec.md §4.H, a conflicting identity triple returns 0 rather than an
// error.
func (d *Driver) RegisterChannel(name, cookieName, cookieValue string) uint32 {
	key := identityKey(name, cookieName, cookieValue)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byIdentity[key]; exists {
		return 0
	}

	d.nextID++
	id := d.nextID
	d.byID[id] = &Channel{
		id:          id,
		name:        name,
		cookieName:  cookieName,
		cookieValue: cookieValue,
		policy:      Unbound,
		transport:   TransportUnbound,
		notify:      make(chan struct{}, 1),
	}
	d.byIdentity[key] = id
	return id
}

// SetChannelPolicy binds a channel's delivery policy, callback, and
// transport. Only the Unbound -> any-policy transition is allowed
// (spec.md §4.H); calling this again on an already-bound channel fails.
func (d *Driver) SetChannelPolicy(id uint32, policy Policy, callback func(LTEvent), transport Transport, transportHandle string, deliverer Deliverer) error {
	ch := d.channel(id)
	if ch == nil {
		return errs.New(errs.NotFound, "channel not registered")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.policy != Unbound {
		return errs.New(errs.ConfigInvalid, "channel policy already bound")
	}
	ch.policy = policy
	ch.callback = callback
	ch.transport = transport
	ch.transportHandle = transportHandle
	ch.deliverer = deliverer
	return nil
}

// UnregisterChannel drops id, surfacing any still-queued SureDelivery
// events to the error report before removing the channel (spec.md
// §4.H: "drops queued events according to policy (SureDelivery
// surfaces them to the error report)").
func (d *Driver) UnregisterChannel(id uint32) error {
	d.mu.Lock()
	ch, ok := d.byID[id]
	if ok {
		delete(d.byID, id)
		delete(d.byIdentity, identityKey(ch.name, ch.cookieName, ch.cookieValue))
	}
	d.mu.Unlock()

	if !ok {
		return errs.New(errs.Unknown, "channel not registered")
	}

	ch.mu.Lock()
	dropped := ch.queue
	ch.queue = nil
	ch.mu.Unlock()

	if ch.policy == SureDelivery && len(dropped) > 0 && d.reporter != nil {
		d.reporter.Report("eventdriver.unregister", nil,
			"channel unregistered with undelivered SureDelivery events", report.SeverityWarning)
	}
	return nil
}

func (d *Driver) channel(id uint32) *Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byID[id]
}

// PostEvent assigns the channel's next sequence number to an event of
// kind carrying payload, and bridges it to the bound transport
// per-policy (spec.md §4.H's transport bridging clause).
func (d *Driver) PostEvent(id uint32, kind Kind, payload []byte) (LTEvent, error) {
	ch := d.channel(id)
	if ch == nil {
		return LTEvent{}, errs.New(errs.NotFound, "channel not registered")
	}
	ev := LTEvent{Number: atomic.AddUint64(&ch.nextSeq, 1), Kind: kind, Payload: payload}
	d.deliverOrQueue(ch, ev)
	return ev, nil
}

// deliverOrQueue implements the BestEffort/SureDelivery split: an
// attached channel always attempts immediate delivery; on failure (or
// when detached) BestEffort drops down to its one-slot buffer while
// SureDelivery appends to the FIFO for the retry job to drain.
func (d *Driver) deliverOrQueue(ch *Channel, ev LTEvent) {
	ch.mu.Lock()
	attached := ch.attached
	deliverer := ch.deliverer
	handle := ch.transportHandle
	policy := ch.policy
	callback := ch.callback
	ch.mu.Unlock()

	if attached && deliverer != nil {
		if err := deliverer.Deliver(handle, ev); err == nil {
			if callback != nil {
				callback(ev)
			}
			return
		}
	}

	ch.mu.Lock()
	switch policy {
	case SureDelivery:
		ch.queue = append(ch.queue, ev)
	default: // BestEffort and Unbound: single-slot, overwrites
		ch.pending = &ev
	}
	notify := ch.notify
	ch.mu.Unlock()

	select {
	case notify <- struct{}{}:
	default:
	}
}

// Acknowledge removes events up to and including seq from a
// SureDelivery channel's FIFO (spec.md §4.H's per-transport ack
// clause: SSE on byte flush, WebSocket on frame ack, LongPoll on next
// successful poll response).
func (d *Driver) Acknowledge(id uint32, seq uint64) {
	ch := d.channel(id)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	kept := ch.queue[:0]
	for _, ev := range ch.queue {
		if ev.Number > seq {
			kept = append(kept, ev)
		}
	}
	ch.queue = kept
}

// AttachTransport marks a channel's transport live and synthesizes
// EV_Open (spec.md §4.H), then attempts to flush anything queued while
// it was detached.
func (d *Driver) AttachTransport(id uint32, deliverer Deliverer, transportHandle string) error {
	ch := d.channel(id)
	if ch == nil {
		return errs.New(errs.NotFound, "channel not registered")
	}
	ch.mu.Lock()
	ch.attached = true
	ch.deliverer = deliverer
	ch.transportHandle = transportHandle
	ch.mu.Unlock()

	d.deliverOrQueue(ch, LTEvent{Number: atomic.AddUint64(&ch.nextSeq, 1), Kind: KindOpen})
	d.flushChannel(ch)
	return nil
}

// DetachTransport marks a channel's transport gone and synthesizes
// EV_Close. The transport is already unreachable, so the close event
// goes straight to the channel's own callback rather than through
// deliverOrQueue (which would just queue it for a deliverer that will
// never be attempted again until AttachTransport runs).
func (d *Driver) DetachTransport(id uint32) error {
	ch := d.channel(id)
	if ch == nil {
		return errs.New(errs.NotFound, "channel not registered")
	}
	ch.mu.Lock()
	ch.attached = false
	callback := ch.callback
	ch.mu.Unlock()

	ev := LTEvent{Number: atomic.AddUint64(&ch.nextSeq, 1), Kind: KindClose}
	if callback != nil {
		callback(ev)
	}
	return nil
}

// flushChannel attempts to deliver everything queued on ch, stopping
// at the first failure (spec.md §4.H's ordering invariant: delivery
// respects ascending number, so a gap must not be skipped over).
func (d *Driver) flushChannel(ch *Channel) {
	ch.mu.Lock()
	attached := ch.attached
	deliverer := ch.deliverer
	handle := ch.transportHandle
	pending := ch.pending
	ch.pending = nil
	queue := ch.queue
	ch.mu.Unlock()

	if !attached || deliverer == nil {
		ch.mu.Lock()
		ch.pending = pending
		ch.mu.Unlock()
		return
	}

	if pending != nil {
		if err := deliverer.Deliver(handle, *pending); err != nil {
			ch.mu.Lock()
			ch.pending = pending
			ch.mu.Unlock()
			return
		}
	}

	delivered := 0
	for _, ev := range queue {
		if err := deliverer.Deliver(handle, ev); err != nil {
			break
		}
		delivered++
	}

	ch.mu.Lock()
	ch.queue = ch.queue[delivered:]
	ch.mu.Unlock()
}

// FlushSureDelivery attempts one delivery pass across every
// SureDelivery channel, returning the total events still queued
// afterward. Called by the retry job and by StopDriver's final flush
// (spec.md §4.H).
func (d *Driver) FlushSureDelivery() int {
	d.mu.RLock()
	channels := make([]*Channel, 0, len(d.byID))
	for _, ch := range d.byID {
		if ch.policy == SureDelivery {
			channels = append(channels, ch)
		}
	}
	d.mu.RUnlock()

	remaining := 0
	for _, ch := range channels {
		d.flushChannel(ch)
		remaining += ch.QueueCount()
	}
	return remaining
}

// StartDriver initializes worker state. The driver has no background
// goroutines of its own until a retry job is registered via
// RegisterRetryJob, so this is currently a no-op kept for symmetry
// with spec.md §4.H's start_driver/stop_driver pair.
func (d *Driver) StartDriver() {}

// StopDriver drains SureDelivery queues by attempting a final flush,
// then detaches every channel (spec.md §4.H).
func (d *Driver) StopDriver() {
	d.FlushSureDelivery()
	d.mu.RLock()
	channels := make([]*Channel, 0, len(d.byID))
	for _, ch := range d.byID {
		channels = append(channels, ch)
	}
	d.mu.RUnlock()

	for _, ch := range channels {
		ch.mu.Lock()
		ch.attached = false
		ch.mu.Unlock()
	}
}

// ChannelQueueCount returns the pending event count for id, or 0 if
// id is not registered.
func (d *Driver) ChannelQueueCount(id uint32) int {
	ch := d.channel(id)
	if ch == nil {
		return 0
	}
	return ch.QueueCount()
}
