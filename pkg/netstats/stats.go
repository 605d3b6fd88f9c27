// Package netstats implements the Statistics record of spec §3: monotonic
// counters that are reset only explicitly.
package netstats

import (
	"sync/atomic"
	"time"
)

// Stats holds the daemon's running counters. All fields are accessed only
// through atomic operations so Snapshot can be called from any goroutine
// without involving the daemon's single-writer event loop (spec §5
// "Suspension points" only restricts handler-invoking code, not read-only
// introspection).
type Stats struct {
	packetsSent     uint64
	packetsReceived uint64
	bytesSent       uint64
	bytesReceived   uint64
	dnsQueries      uint64
	arpRequests     uint64
	httpRequests    uint64
	wsConns         uint64
	udpPackets      uint64
	errors          uint64

	startTime time.Time
}

// New creates a Stats with startTime fixed at creation (used for uptime_ms).
func New(startTime time.Time) *Stats {
	return &Stats{startTime: startTime}
}

func (s *Stats) IncPacketsSent(n uint64)     { atomic.AddUint64(&s.packetsSent, n) }
func (s *Stats) IncPacketsReceived(n uint64) { atomic.AddUint64(&s.packetsReceived, n) }
func (s *Stats) AddBytesSent(n uint64)       { atomic.AddUint64(&s.bytesSent, n) }
func (s *Stats) AddBytesReceived(n uint64)   { atomic.AddUint64(&s.bytesReceived, n) }
func (s *Stats) IncDNSQueries()              { atomic.AddUint64(&s.dnsQueries, 1) }
func (s *Stats) IncARPRequests()             { atomic.AddUint64(&s.arpRequests, 1) }
func (s *Stats) IncHTTPRequests()            { atomic.AddUint64(&s.httpRequests, 1) }
func (s *Stats) IncWSConns()                 { atomic.AddUint64(&s.wsConns, 1) }
func (s *Stats) IncUDPPackets()              { atomic.AddUint64(&s.udpPackets, 1) }
func (s *Stats) IncErrors()                  { atomic.AddUint64(&s.errors, 1) }

// Snapshot is the serializable form written to /var/run/netd.stats (spec
// §4.1 "Stats write").
type Snapshot struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	BytesSent       uint64 `json:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
	DNSQueries      uint64 `json:"dns_queries"`
	ARPRequests     uint64 `json:"arp_requests"`
	HTTPRequests    uint64 `json:"http_requests"`
	WSConns         uint64 `json:"ws_conns"`
	UDPPackets      uint64 `json:"udp_packets"`
	Errors          uint64 `json:"errors"`
	UptimeMillis    int64  `json:"uptime_ms"`
}

// Snapshot returns the current counters plus uptime_ms = now - start_time.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		PacketsSent:     atomic.LoadUint64(&s.packetsSent),
		PacketsReceived: atomic.LoadUint64(&s.packetsReceived),
		BytesSent:       atomic.LoadUint64(&s.bytesSent),
		BytesReceived:   atomic.LoadUint64(&s.bytesReceived),
		DNSQueries:      atomic.LoadUint64(&s.dnsQueries),
		ARPRequests:     atomic.LoadUint64(&s.arpRequests),
		HTTPRequests:    atomic.LoadUint64(&s.httpRequests),
		WSConns:         atomic.LoadUint64(&s.wsConns),
		UDPPackets:      atomic.LoadUint64(&s.udpPackets),
		Errors:          atomic.LoadUint64(&s.errors),
		UptimeMillis:    now.Sub(s.startTime).Milliseconds(),
	}
}

// Reset zeroes every counter explicitly; spec §3 says counters reset "only
// explicitly", i.e. never implicitly on read or on a timer.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.packetsSent, 0)
	atomic.StoreUint64(&s.packetsReceived, 0)
	atomic.StoreUint64(&s.bytesSent, 0)
	atomic.StoreUint64(&s.bytesReceived, 0)
	atomic.StoreUint64(&s.dnsQueries, 0)
	atomic.StoreUint64(&s.arpRequests, 0)
	atomic.StoreUint64(&s.httpRequests, 0)
	atomic.StoreUint64(&s.wsConns, 0)
	atomic.StoreUint64(&s.udpPackets, 0)
	atomic.StoreUint64(&s.errors, 0)
}
