package handlers

import (
	"context"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// HandlePing dispatches a payload arriving on a per-source-IP ping tag
// ("ping_<ip>", spec §4.2 ICMP-ping). Folding the source IP into the tag is
// what lets several nodes ping the same target concurrently without their
// replies being confused for one another -- the pong comes back on
// "pong_<ip>", which only the original pinger is listening on.
func HandlePing(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	if typ != wire.TypePing {
		d.Stats.IncErrors()
		return
	}
	var req PingRequest
	if err := wire.Unmarshal(payload, &req); err != nil {
		d.Stats.IncErrors()
		return
	}
	reply := PingReply{Type: wire.TypePong, Seq: req.Seq, Timestamp: req.Timestamp, Source: d.Self.IPv4}
	sendJSON(ctx, d, from, wire.PongTag(req.Source), reply)
}

// BuildPingRequest constructs a ping request for sourceIP (this node's own
// IP, stamped into the payload so the responder can route the pong back on
// the matching per-source tag).
func BuildPingRequest(selfIP string, seq int, nowMillis int64) PingRequest {
	return PingRequest{Type: wire.TypePing, Seq: seq, Timestamp: nowMillis, Source: selfIP}
}
