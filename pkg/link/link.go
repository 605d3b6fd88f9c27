// Package link implements component C1: the single-hop datagram medium
// every node broadcasts to or unicasts on, addressed by integer node-id
// (spec §1, §3, §5 "Shared resources").
package link

import (
	"context"
	"sync"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// Link is the client-side handle a daemon holds on the medium. It is a
// single process-wide resource: only the owning daemon's event loop
// transmits and receives on it (spec §5).
type Link interface {
	// Send unicasts payload to dest on tag. A no-op error is returned if
	// dest does not exist; the medium does not guarantee delivery.
	Send(ctx context.Context, dest uint32, tag wire.Tag, payload []byte) error
	// Broadcast sends payload to every other attached node on tag.
	Broadcast(ctx context.Context, tag wire.Tag, payload []byte) error
	// Recv returns the channel of inbound datagrams for this node.
	Recv() <-chan wire.Datagram
	// ID is this link's own node-id on the medium.
	ID() uint32
	// Close detaches the node from the medium.
	Close() error
}

// Bus is an in-process broadcast medium: every Attach'd node can Send to,
// or Broadcast to, any other attached node. It stands in for the real
// single-hop radio/modem hardware the spec abstracts over (the "rednet"
// link of §1); a production deployment could replace it with a UDP
// multicast or AF_PACKET backed Link without changing any handler code,
// since handlers only depend on the Link interface.
//
// Grounded on pkg/connpool's mutex-guarded map-of-handlers shape
// (.grounding_refs/pool.go): one map, one mutex, O(1) critical sections.
type Bus struct {
	mu    sync.RWMutex
	nodes map[uint32]*busLink
}

// NewBus creates an empty medium.
func NewBus() *Bus {
	return &Bus{nodes: make(map[uint32]*busLink)}
}

// Attach registers id on the bus and returns its Link handle. The inbound
// channel has a bounded buffer; once it is full, further sends to that node
// are dropped at once without blocking (modem_available
// degrades to false is not modeled here -- a full node that never reads is
// a test bug, not a runtime condition this medium needs to survive).
func (b *Bus) Attach(id uint32) Link {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &busLink{bus: b, id: id, recv: make(chan wire.Datagram, 256)}
	b.nodes[id] = l
	return l
}

func (b *Bus) detach(id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, id)
}

func (b *Bus) deliver(from uint32, to uint32, tag wire.Tag, payload []byte) bool {
	b.mu.RLock()
	target, ok := b.nodes[to]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case target.recv <- wire.Datagram{SenderID: from, Tag: tag, Payload: payload}:
	default:
		// Receiver's buffer is full; the medium drops rather than blocks
		// the sender, matching a real broadcast medium's best-effort
		// delivery (spec §5 ordering guarantees only promise per-sender-tag
		// ordering, not lossless delivery).
	}
	return true
}

func (b *Bus) broadcast(from uint32, tag wire.Tag, payload []byte) {
	b.mu.RLock()
	targets := make([]*busLink, 0, len(b.nodes))
	for id, l := range b.nodes {
		if id == from {
			continue
		}
		targets = append(targets, l)
	}
	b.mu.RUnlock()
	for _, t := range targets {
		select {
		case t.recv <- wire.Datagram{SenderID: from, Tag: tag, Payload: payload}:
		default:
		}
	}
}

type busLink struct {
	bus  *Bus
	id   uint32
	recv chan wire.Datagram
}

func (l *busLink) Send(_ context.Context, dest uint32, tag wire.Tag, payload []byte) error {
	l.bus.deliver(l.id, dest, tag, payload)
	return nil
}

func (l *busLink) Broadcast(_ context.Context, tag wire.Tag, payload []byte) error {
	l.bus.broadcast(l.id, tag, payload)
	return nil
}

func (l *busLink) Recv() <-chan wire.Datagram { return l.recv }
func (l *busLink) ID() uint32                 { return l.id }

func (l *busLink) Close() error {
	l.bus.detach(l.id)
	close(l.recv)
	return nil
}
