package udp

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// EphemeralStart and EphemeralEnd bound the auto-assigned port range
	// (spec §4.3, §8 property 5, GLOSSARY "Ephemeral port").
	EphemeralStart = 49152
	EphemeralEnd   = 65535

	// maxAllocAttempts bounds the ephemeral scan per spec §4.3 ("up to
	// 16384 attempts").
	maxAllocAttempts = EphemeralEnd - EphemeralStart + 1

	// DefaultBufferSize is the default bounded receive-buffer capacity
	// (spec §3 UDPSocket, §4.3 dispatch).
	DefaultBufferSize = 100
)

// ErrAddrInUse is returned by Bind/Socket when the requested port is
// already bound by another live socket (spec §4.3).
var ErrAddrInUse = errors.New("udp: address already in use")

// ErrPortExhausted is returned when the ephemeral allocator cannot find a
// free port within maxAllocAttempts (spec §4.3, §7).
var ErrPortExhausted = errors.New("udp: ephemeral port range exhausted")

// ErrTimeout is returned by Socket.Receive when no packet arrives within
// the requested timeout (spec §7 Timeout).
var ErrTimeout = errors.New("udp: receive timeout")

// ErrClosed is returned by operations on a closed socket.
var ErrClosed = errors.New("udp: socket closed")

// Received is one entry in a socket's receive buffer (spec §3 UDPSocket
// recv_buffer).
type Received struct {
	Data     []byte
	SourceIP string
	SrcPort  uint16
	At       time.Time
}

// SocketStats are the per-socket counters spec §3 calls out.
type SocketStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
}

// RecvCallback, if set, is invoked inline by the dispatching daemon/router
// goroutine for every packet delivered to the socket (spec §4.3 "send(...)
// ... server callback echoes", used by scenario S5). It runs on the
// dispatcher's single-writer loop, so it must not block (spec §5
// "Suspension points").
type RecvCallback func(data []byte, sourceIP string, srcPort uint16)

// Socket is spec §3's UDPSocket.
type Socket struct {
	mu         sync.Mutex
	port       uint16
	bound      bool
	bufferSize int
	buf        []Received
	waiters    []chan struct{}
	callback   RecvCallback
	closed     bool
	stats      SocketStats
}

func newSocket(port uint16, bufferSize int) *Socket {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Socket{port: port, bound: true, bufferSize: bufferSize}
}

// Port returns the bound port, or 0 if unbound.
func (s *Socket) Port() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetCallback installs or clears the inline receive callback.
func (s *Socket) SetCallback(cb RecvCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// deliver pushes a datagram into the socket's bounded buffer, dropping the
// newest arrival and counting it if the buffer is full (spec §4.3
// "if buffer full, increment packets_dropped"; scenario S6 requires the
// *first* N arrivals survive in arrival order, so we drop incoming, not
// evict old).
func (s *Socket) deliver(data []byte, sourceIP string, srcPort uint16, now time.Time) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	cb := s.callback
	if cb == nil {
		if len(s.buf) >= s.bufferSize {
			s.stats.PacketsDropped++
			s.mu.Unlock()
			return false
		}
		s.buf = append(s.buf, Received{Data: data, SourceIP: sourceIP, SrcPort: srcPort, At: now})
		s.stats.PacketsReceived++
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
		return true
	}
	s.stats.PacketsReceived++
	s.mu.Unlock()
	cb(data, sourceIP, srcPort)
	return true
}

// Receive blocks until a packet is available or timeout elapses (spec
// §4.3 receive(timeout_s), §5 "UDP receive(timeout) must return Timeout at
// or before now+timeout"). It is not valid to call Receive on a socket that
// has an installed RecvCallback.
func (s *Socket) Receive(timeout time.Duration) (Received, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Received{}, ErrClosed
		}
		if len(s.buf) > 0 {
			r := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return r, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.mu.Unlock()
			return Received{}, ErrTimeout
		}
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-time.After(remaining):
			return Received{}, ErrTimeout
		}
	}
}

// Stats returns a copy of the socket's counters.
func (s *Socket) Stats() SocketStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// BufferLen reports how many packets are currently queued.
func (s *Socket) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.bound = false
	s.buf = nil
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}
