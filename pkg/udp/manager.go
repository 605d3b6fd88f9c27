package udp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

// Sender is the subset of link.Link the UDP manager needs to emit on the
// medium; kept narrow so tests can fake it without a whole Bus.
type Sender interface {
	Broadcast(ctx context.Context, tag wire.Tag, payload []byte) error
}

// Manager owns the per-node socket table (spec §4.3). It is invoked both by
// the network daemon (inbound "udp" tagged datagrams) and by the adapter
// (outbound udp.send calls); every mutation of the socket table happens
// under a single mutex whose critical sections are O(1), matching spec §5's
// requirement for adapter-invoked UDP operations.
//
// Grounded on .grounding_refs/pool.go's mutex-guarded map-of-handlers.
type Manager struct {
	mu       sync.Mutex
	sockets  map[uint16]*Socket
	nextPort uint16

	selfIP string
	sender Sender

	activeSockets  int64
	packetsDropped uint64
}

// NewManager creates a Manager bound to selfIP (used for the "local" fast
// path of Send) and sender (the Link used for the broadcast path).
func NewManager(selfIP string, sender Sender) *Manager {
	return &Manager{
		sockets:  make(map[uint16]*Socket),
		nextPort: EphemeralStart,
		selfIP:   selfIP,
		sender:   sender,
	}
}

// Socket creates a new socket. port 0 auto-assigns from the ephemeral range
// (spec §4.3); a non-zero port that is already bound fails ErrAddrInUse.
func (m *Manager) Socket(port uint16, bufferSize int) (*Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if port == 0 {
		p, err := m.allocateLocked()
		if err != nil {
			return nil, err
		}
		port = p
	} else if _, taken := m.sockets[port]; taken {
		return nil, ErrAddrInUse
	}
	s := newSocket(port, bufferSize)
	m.sockets[port] = s
	atomic.AddInt64(&m.activeSockets, 1)
	return s, nil
}

// allocateLocked scans forward from nextPort for up to maxAllocAttempts
// ports, wrapping EphemeralEnd -> EphemeralStart (spec §4.3, §8 property 5).
// Caller must hold m.mu.
func (m *Manager) allocateLocked() (uint16, error) {
	start := m.nextPort
	if start < EphemeralStart || start > EphemeralEnd {
		start = EphemeralStart
	}
	p := start
	for i := 0; i < maxAllocAttempts; i++ {
		if _, taken := m.sockets[p]; !taken {
			m.nextPort = p + 1
			if m.nextPort > EphemeralEnd {
				m.nextPort = EphemeralStart
			}
			return p, nil
		}
		if p == EphemeralEnd {
			p = EphemeralStart
		} else {
			p++
		}
	}
	return 0, ErrPortExhausted
}

// Bind rebinds sock to newPort. Rebinding is permitted only if sock is
// currently unbound or newPort equals its current port (spec §4.3). Ties
// between two sockets racing for the same free port resolve in
// lock-acquisition order: the loser observes ErrAddrInUse (see DESIGN.md
// "Rebind tie-break").
func (m *Manager) Bind(sock *Socket, newPort uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sock.mu.Lock()
	cur := sock.port
	bound := sock.bound
	sock.mu.Unlock()

	if bound && cur != newPort {
		return ErrAddrInUse
	}
	if existing, taken := m.sockets[newPort]; taken && existing != sock {
		return ErrAddrInUse
	}
	if bound && cur != 0 {
		delete(m.sockets, cur)
	}
	m.sockets[newPort] = sock
	sock.mu.Lock()
	sock.port = newPort
	sock.bound = true
	sock.mu.Unlock()
	return nil
}

// Close releases sock's port, flushes its buffer and updates active_sockets
// (spec §4.3 close()).
func (m *Manager) Close(sock *Socket) {
	m.mu.Lock()
	port := sock.Port()
	if existing, ok := m.sockets[port]; ok && existing == sock {
		delete(m.sockets, port)
		atomic.AddInt64(&m.activeSockets, -1)
	}
	m.mu.Unlock()
	sock.close()
}

// ActiveSockets returns the global count of open sockets.
func (m *Manager) ActiveSockets() int64 { return atomic.LoadInt64(&m.activeSockets) }

// PacketsDropped returns the global drop counter (incremented when no
// socket is bound on the destination port; per-socket buffer-full drops are
// tracked on the Socket itself but also folded in here since scenario S6
// observes a single global counter).
func (m *Manager) PacketsDropped() uint64 { return atomic.LoadUint64(&m.packetsDropped) }

func (m *Manager) addGlobalDrop() { atomic.AddUint64(&m.packetsDropped, 1) }

func (m *Manager) lookup(port uint16) (*Socket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sockets[port]
	return s, ok
}

// Dispatch delivers an inbound NetworkPacket to the socket bound on its
// destination port, per spec §4.3: buffer it if a socket exists (counting a
// drop on buffer-full), or count a global drop if no socket is bound.
func (m *Manager) Dispatch(np *NetworkPacket, now time.Time) {
	if np == nil || np.UDP == nil {
		return
	}
	sock, ok := m.lookup(np.UDP.DestPort)
	if !ok {
		m.addGlobalDrop()
		return
	}
	if !sock.deliver(np.UDP.Data, np.SourceIP, np.UDP.SourcePort, now) {
		m.addGlobalDrop()
	}
}

// Send builds the UDP+network packet envelope and either enqueues it
// locally (destIP is this node or 127.0.0.1) or broadcasts it on the medium
// with tag "udp" (spec §4.3 send()).
func (m *Manager) Send(ctx context.Context, sock *Socket, data []byte, destIP string, destPort uint16, nowMillis uint64) error {
	pkt, err := NewPacket(sock.Port(), destPort, data, nowMillis)
	if err != nil {
		return err
	}
	np := NewNetworkPacket(m.selfIP, destIP, pkt)
	if destIP == m.selfIP || destIP == "127.0.0.1" {
		m.Dispatch(np, time.UnixMilli(int64(nowMillis)))
		return nil
	}
	payload, err := wire.Marshal(np)
	if err != nil {
		return err
	}
	return m.sender.Broadcast(ctx, wire.TagUDP, payload)
}
