package daemon

import "github.com/ccnetlab/ccnet/pkg/wire"

// subscription is a correlation waiter registered by pkg/adapter (spec
// §4.4): the adapter unicasts or broadcasts a request, then awaits a reply
// on a known tag whose payload satisfies match (e.g. the same "id").
// Subscriptions only ever live on the event-loop goroutine, so no lock is
// needed around d.subs. One-shot subscriptions (request/response
// correlation) remove themselves after their first match; persistent ones
// (an open WS connection's data stream) stay registered until cancelled.
type subscription struct {
	id         uint64
	tag        wire.Tag
	match      func(payload []byte) bool
	deliver    chan wire.Datagram
	persistent bool
}

// Await registers a one-shot subscription for the next inbound datagram on
// tag whose payload satisfies match, and returns a channel that receives it
// (buffered 1) plus a cancel function. Both Await and cancel hop onto the
// event-loop goroutine via enqueue, preserving the single-writer invariant
// spec §5 requires of adapter-invoked operations.
func (d *Daemon) Await(tag wire.Tag, match func(payload []byte) bool) (<-chan wire.Datagram, func()) {
	return d.subscribe(tag, match, false, 1)
}

// Subscribe registers a persistent subscription that keeps receiving every
// datagram matching tag+match until cancelled -- used for an open WS
// connection's inbound data stream, where more than one frame is expected.
func (d *Daemon) Subscribe(tag wire.Tag, match func(payload []byte) bool) (<-chan wire.Datagram, func()) {
	return d.subscribe(tag, match, true, 16)
}

func (d *Daemon) subscribe(tag wire.Tag, match func(payload []byte) bool, persistent bool, bufSize int) (<-chan wire.Datagram, func()) {
	ch := make(chan wire.Datagram, bufSize)
	var id uint64
	d.enqueue(func() {
		d.subID++
		id = d.subID
		d.subs = append(d.subs, subscription{id: id, tag: tag, match: match, deliver: ch, persistent: persistent})
	})
	cancel := func() {
		d.enqueue(func() {
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
	return ch, cancel
}

// tryDeliverSubscriber checks dg against every live subscription on its
// tag; the first match consumes it (removed from d.subs unless persistent)
// and the datagram is delivered non-blocking. Returns whether a subscriber
// consumed the datagram.
func (d *Daemon) tryDeliverSubscriber(dg wire.Datagram) bool {
	for i, s := range d.subs {
		if s.tag != dg.Tag || !s.match(dg.Payload) {
			continue
		}
		if !s.persistent {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
		}
		select {
		case s.deliver <- dg:
		default:
		}
		return true
	}
	return false
}
