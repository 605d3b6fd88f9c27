// Package udp implements component C4: ephemeral-port allocation, the
// socket table, bounded per-socket receive buffers and packet dispatch
// (spec §4.3).
package udp

import (
	"github.com/pkg/errors"
)

// MaxDataLen is the spec §3 invariant: a UDP packet carrying more than
// 65507 bytes of data is dropped.
const MaxDataLen = 65507

// Packet is spec §4.3's UDPPacket wire record.
type Packet struct {
	Protocol   string `json:"protocol"`
	SourcePort uint16 `json:"source_port"`
	DestPort   uint16 `json:"dest_port"`
	Length     uint16 `json:"length"`
	Checksum   uint16 `json:"checksum"`
	Data       []byte `json:"data"`
	Timestamp  uint64 `json:"timestamp"`
}

// ErrPacketTooLarge is returned by NewPacket when len(data) > MaxDataLen
// (spec §3 invariant).
var ErrPacketTooLarge = errors.New("udp: packet data exceeds 65507 bytes")

// Checksum computes spec §4.3's advisory checksum:
// (source_port + dest_port + length + sum(bytes(data))) mod 65536.
func Checksum(sourcePort, destPort, length uint16, data []byte) uint16 {
	sum := uint32(sourcePort) + uint32(destPort) + uint32(length)
	for _, b := range data {
		sum += uint32(b)
	}
	return uint16(sum % 65536)
}

// NewPacket builds a Packet with Length and Checksum computed per spec
// §4.3, failing closed on oversize data (spec §3 invariant).
func NewPacket(sourcePort, destPort uint16, data []byte, timestampMillis uint64) (*Packet, error) {
	if len(data) > MaxDataLen {
		return nil, ErrPacketTooLarge
	}
	length := uint16(8 + len(data))
	return &Packet{
		Protocol:   "UDP",
		SourcePort: sourcePort,
		DestPort:   destPort,
		Length:     length,
		Checksum:   Checksum(sourcePort, destPort, length, data),
		Data:       data,
		Timestamp:  timestampMillis,
	}, nil
}

// VerifyChecksum reports whether p's checksum matches its content, per spec
// §8 property 10. Verification is advisory (spec §4.3): callers opt in to
// dropping on mismatch via configuration, NewPacket/dispatch never force it.
func (p *Packet) VerifyChecksum() bool {
	return p.Checksum == Checksum(p.SourcePort, p.DestPort, p.Length, p.Data)
}

// NetworkPacket is the carrier spec §4.3 wraps a UDP Packet in before
// handing it to the Link: {protocol:"UDP", source_ip, dest_ip, ttl:64,
// udp_packet}.
type NetworkPacket struct {
	Protocol string  `json:"protocol"`
	SourceIP string  `json:"source_ip"`
	DestIP   string  `json:"dest_ip"`
	TTL      int     `json:"ttl"`
	UDP      *Packet `json:"udp_packet"`
}

// NewNetworkPacket wraps pkt for transmission per spec §4.3.
func NewNetworkPacket(sourceIP, destIP string, pkt *Packet) *NetworkPacket {
	return &NetworkPacket{Protocol: "UDP", SourceIP: sourceIP, DestIP: destIP, TTL: 64, UDP: pkt}
}
