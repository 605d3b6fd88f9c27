package handlers

import (
	"context"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// HandleGeneric dispatches a payload received on the "ccnet" generic tag
// (spec §4.2 Discovery "on generic tag"): the bare "whoami?" string gets a
// WhoamiReply; any other payload is counted as an error.
func HandleGeneric(ctx context.Context, d *Deps, from uint32, payload []byte) {
	if string(payload) == `"whoami?"` || string(payload) == "whoami?" {
		reply := WhoamiReply{ID: d.Self.ID, Hostname: d.Self.Hostname, MAC: d.Self.MAC, IP: d.Self.IPv4}
		sendJSON(ctx, d, from, wire.TagGeneric, reply)
		return
	}
	d.Stats.IncErrors()
}

// HandleDiscovery dispatches a payload received on the "ccnet_discovery"
// tag (spec §4.2 Discovery).
func HandleDiscovery(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	switch typ {
	case wire.TypeQuery:
		resp := DiscoveryResponse{
			Type:      wire.TypeResponse,
			ID:        d.Self.ID,
			Hostname:  d.Self.Hostname,
			FQDN:      d.Self.FQDN,
			MAC:       d.Self.MAC,
			IP:        d.Self.IPv4,
			Services:  d.DiscoveryServices,
			Timestamp: d.now().UnixMilli(),
			Protocols: DiscoveryProto{UDP: d.Self.Tags.UDP},
		}
		sendJSON(ctx, d, from, wire.TagDiscovery, resp)

	case wire.TypeAnnounce:
		var a DiscoveryAnnounce
		if err := wire.Unmarshal(payload, &a); err != nil {
			d.Stats.IncErrors()
			return
		}
		if a.IP != "" && a.MAC != "" {
			d.ARP.Upsert(a.IP, a.MAC, a.Hostname, a.ID, d.ARPTTL, d.now())
		}

	case wire.TypeIDQuery:
		var q IDQuery
		if err := wire.Unmarshal(payload, &q); err != nil {
			d.Stats.IncErrors()
			return
		}
		if q.IP == d.Self.IPv4 {
			resp := IDResponse{Type: wire.TypeIDResponse, IP: q.IP, MAC: d.Self.MAC, Hostname: d.Self.Hostname}
			sendJSON(ctx, d, from, wire.TagDiscovery, resp)
		}

	case wire.TypeIDResponse:
		// No adapter was awaiting this id_response; not an error.

	default:
		d.Stats.IncErrors()
	}
}

// HandleAdapterDiscovery dispatches "network_adapter_discovery" tagged
// payloads: the hostname_query half of adapter resolution (spec §4.4).
func HandleAdapterDiscovery(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	if typ == wire.TypeHostnameResponse {
		// No adapter was awaiting this hostname_response; not an error.
		return
	}
	if typ != wire.TypeHostnameQuery {
		d.Stats.IncErrors()
		return
	}
	var q HostnameQuery
	if err := wire.Unmarshal(payload, &q); err != nil {
		d.Stats.IncErrors()
		return
	}
	if d.Self.MatchesSelf(q.Hostname) {
		resp := HostnameResponse{
			Type:     wire.TypeHostnameResponse,
			Hostname: q.Hostname,
			IP:       d.Self.ResolveSelf(q.Hostname),
			MAC:      d.Self.MAC,
		}
		sendJSON(ctx, d, from, wire.TagAdapterDiscovery, resp)
	}
}

// BuildAnnounce constructs the periodic presence broadcast payload (spec
// §4.2 "Periodic: every services.discovery.interval, broadcast an announce
// payload").
func BuildAnnounce(d *Deps) DiscoveryAnnounce {
	return DiscoveryAnnounce{
		Type:      wire.TypeAnnounce,
		ID:        d.Self.ID,
		Hostname:  d.Self.Hostname,
		IP:        d.Self.IPv4,
		MAC:       d.Self.MAC,
		Services:  d.DiscoveryServices,
		Timestamp: d.now().UnixMilli(),
	}
}

func sendJSON(ctx context.Context, d *Deps, to uint32, tag wire.Tag, v interface{}) {
	payload, err := wire.Marshal(v)
	if err != nil {
		d.Stats.IncErrors()
		return
	}
	if err := d.Link.Send(ctx, to, tag, payload); err != nil {
		d.Stats.IncErrors()
		return
	}
	d.Stats.IncPacketsSent(1)
	d.Stats.AddBytesSent(uint64(len(payload)))
}

func broadcastJSON(ctx context.Context, d *Deps, tag wire.Tag, v interface{}) {
	payload, err := wire.Marshal(v)
	if err != nil {
		d.Stats.IncErrors()
		return
	}
	if err := d.Link.Broadcast(ctx, tag, payload); err != nil {
		d.Stats.IncErrors()
		return
	}
	d.Stats.IncPacketsSent(1)
	d.Stats.AddBytesSent(uint64(len(payload)))
}
