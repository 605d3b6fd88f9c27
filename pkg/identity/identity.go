// Package identity implements component C2: the node's immutable identity
// (spec §3 NodeIdentity) derived from config at daemon start.
package identity

import (
	"context"
	"fmt"
)

// Tags records which protocol tags this node answers on, per spec §3.
type Tags struct {
	Discovery bool
	DNS       bool
	ARP       bool
	HTTP      bool
	WS        bool
	UDP       bool
	Generic   bool
}

// DefaultTags enables every protocol, matching the spec's default posture
// (all protocol handlers run unless explicitly disabled in config).
func DefaultTags() Tags {
	return Tags{Discovery: true, DNS: true, ARP: true, HTTP: true, WS: true, UDP: true, Generic: true}
}

// Identity is the per-process NodeIdentity (spec §3), immutable after
// daemon start.
type Identity struct {
	ID       uint32
	MAC      string
	IPv4     string
	Hostname string
	FQDN     string
	Gateway  string
	DNS      []string
	Tags     Tags
}

// MACForID derives "CC:AF:"+hex(id, 4 bytes) per spec §3's deterministic
// fallback formula.
func MACForID(id uint32) string {
	return fmt.Sprintf("CC:AF:%02X:%02X:%02X:%02X",
		byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
}

// IPv4ForID derives "10.0."+(id/254 mod 256)+"."+(id mod 254 + 1) per spec §3.
func IPv4ForID(id uint32) string {
	third := (id / 254) % 256
	fourth := id%254 + 1
	return fmt.Sprintf("10.0.%d.%d", third, fourth)
}

// New builds an Identity, deriving MAC/IP/hostname from id wherever the
// corresponding override is empty, and FQDN as hostname+".local" always
// (spec §3).
func New(id uint32, mac, ipv4, hostname, gateway string, dnsServers []string, tags Tags) *Identity {
	if mac == "" {
		mac = MACForID(id)
	}
	if ipv4 == "" {
		ipv4 = IPv4ForID(id)
	}
	if hostname == "" {
		hostname = fmt.Sprintf("cc-%d", id)
	}
	return &Identity{
		ID:       id,
		MAC:      mac,
		IPv4:     ipv4,
		Hostname: hostname,
		FQDN:     hostname + ".local",
		Gateway:  gateway,
		DNS:      dnsServers,
		Tags:     tags,
	}
}

// MatchesSelf reports whether hostname refers to this node without a
// network round-trip: self hostname, self FQDN, or "localhost" (spec §3
// invariant, §8 property 2).
func (n *Identity) MatchesSelf(hostname string) bool {
	return hostname == n.Hostname || hostname == n.FQDN || hostname == "localhost"
}

// ResolveSelf returns the IP a hostname matching MatchesSelf resolves to:
// 127.0.0.1 for "localhost", this node's IP otherwise.
func (n *Identity) ResolveSelf(hostname string) string {
	if hostname == "localhost" {
		return "127.0.0.1"
	}
	return n.IPv4
}

type identityKey struct{}

// WithIdentity stores id on ctx, the way .grounding_refs/context.go carries
// a *Pool -- context-scoped, not global, per spec §9's "Global mutable
// state" re-architecture note.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
