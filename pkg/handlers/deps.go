// Package handlers implements component C5: the discovery, DNS, ARP,
// ICMP-ping, HTTP and WebSocket protocol handlers the network daemon
// dispatches to by protocol tag (spec §4.2).
package handlers

import (
	"context"
	"time"

	"github.com/ccnetlab/ccnet/pkg/cache"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/netstats"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

// Sender is the subset of link.Link handlers need to reply on the medium.
type Sender interface {
	Send(ctx context.Context, dest uint32, tag wire.Tag, payload []byte) error
	Broadcast(ctx context.Context, tag wire.Tag, payload []byte) error
}

// Deps bundles every piece of daemon state a handler needs. Handlers never
// reach into a package-level global (spec §9 "Global mutable state"
// re-architecture note) -- everything comes in through Deps, constructed
// once by the daemon and passed to every dispatch call.
type Deps struct {
	Self     *identity.Identity
	Link     Sender
	ARP      *cache.ARP
	DNS      *cache.DNS
	Stats    *netstats.Stats
	Registry *Registry
	WS       *WSTable

	DNSTTL               time.Duration
	ARPTTL               time.Duration
	ConnectionTimeout    time.Duration
	DiscoveryServices    []string

	// Now is injected for deterministic tests; production wiring sets it
	// to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// CurrentTime is the exported form of now(), for callers outside this
// package (pkg/daemon's event loop) that need the same injectable clock.
func (d *Deps) CurrentTime() time.Time {
	return d.now()
}
