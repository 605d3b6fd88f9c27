package handlers

import (
	"context"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// HandleARP dispatches a "ccnet_arp" tagged payload (spec §4.2 ARP).
func HandleARP(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	switch typ {
	case wire.TypeARPRequest:
		var req ARPRequest
		if err := wire.Unmarshal(payload, &req); err != nil {
			d.Stats.IncErrors()
			return
		}
		d.Stats.IncARPRequests()
		if req.TargetIP != d.Self.IPv4 {
			return
		}
		reply := ARPReply{Type: wire.TypeARPReply, IP: d.Self.IPv4, MAC: d.Self.MAC, Hostname: d.Self.Hostname}
		sendJSON(ctx, d, from, wire.TagARP, reply)

	case wire.TypeARPReply:
		var rep ARPReply
		if err := wire.Unmarshal(payload, &rep); err != nil {
			d.Stats.IncErrors()
			return
		}
		// Spec invariant: only cache a reply that carries both ip and mac.
		if rep.IP == "" || rep.MAC == "" {
			d.Stats.IncErrors()
			return
		}
		d.ARP.Upsert(rep.IP, rep.MAC, rep.Hostname, from, d.ARPTTL, d.now())

	default:
		d.Stats.IncErrors()
	}
}

// BuildARPRequest constructs the broadcast payload used to resolve targetIP
// (spec §4.2 "ARP resolution": a node broadcasts a request and collects
// replies for a short window).
func BuildARPRequest(targetIP string) ARPRequest {
	return ARPRequest{Type: wire.TypeARPRequest, TargetIP: targetIP}
}
