package handlers

import (
	"context"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// HandleDNS dispatches a "ccnet_dns" tagged payload (spec §4.2 DNS).
//
// The spec's distinctive rule: if the queried hostname matches this node
// itself, the node both replies AND writes its own answer into its own DNS
// cache -- a query for yourself is also a cache-warming event.
func HandleDNS(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	switch typ {
	case wire.TypeQuery:
		var q DNSQuery
		if err := wire.Unmarshal(payload, &q); err != nil {
			d.Stats.IncErrors()
			return
		}
		d.Stats.IncDNSQueries()

		if d.Self.MatchesSelf(q.Hostname) {
			ip := d.Self.ResolveSelf(q.Hostname)
			d.DNS.Upsert(q.Hostname, ip, d.DNSTTL, d.now())
			resp := DNSResponse{Type: wire.TypeResponse, Hostname: q.Hostname, IP: ip, TTL: int(d.DNSTTL.Seconds())}
			sendJSON(ctx, d, from, wire.TagDNS, resp)
		}

		if e, ok := d.DNS.Lookup(q.Hostname, d.now()); ok {
			resp := DNSResponse{Type: wire.TypeResponse, Hostname: q.Hostname, IP: e.IP, TTL: int(d.DNSTTL.Seconds())}
			sendJSON(ctx, d, from, wire.TagDNS, resp)
		}
		// Negative answers (no cache hit, not self) are silently dropped --
		// only the authoritative node for a hostname replies.

	case wire.TypeResponse:
		var r DNSResponse
		if err := wire.Unmarshal(payload, &r); err != nil {
			d.Stats.IncErrors()
			return
		}
		if r.IP == "" {
			// Negative answers are never cached (spec §4.2).
			return
		}
		d.DNS.Upsert(r.Hostname, r.IP, d.DNSTTL, d.now())

	default:
		d.Stats.IncErrors()
	}
}
