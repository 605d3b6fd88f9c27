package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// HandleWS dispatches a "ccnet_ws" tagged payload, implementing the
// connect/accept/reject/data/close state machine of spec §4.2 WebSocket
// lifecycle. Only the server side's reaction is implemented here; the
// client-initiating side (sending the initial "connect") lives in
// pkg/adapter.
func HandleWS(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	switch typ {
	case wire.TypeWSConnect:
		handleWSConnect(ctx, d, from, payload)
	case wire.TypeWSData:
		handleWSData(ctx, d, from, payload)
	case wire.TypeWSClose:
		handleWSClose(d, payload)
	case wire.TypeWSAccept, wire.TypeWSReject:
		// No adapter was awaiting this connectionId (already timed out, or
		// this daemon has no adapter attached); not an error.
	default:
		d.Stats.IncErrors()
	}
}

func handleWSConnect(ctx context.Context, d *Deps, from uint32, payload []byte) {
	var msg WSConnectMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		d.Stats.IncErrors()
		return
	}

	port, ok := parseWSPort(msg.URL)
	if !ok {
		reject := WSRejectMsg{Type: wire.TypeWSReject, ConnectionID: msg.ConnectionID, Reason: "malformed url"}
		sendJSON(ctx, d, from, wire.TagWS, reject)
		return
	}

	if _, ok := d.Registry.WS(port); !ok {
		reject := WSRejectMsg{Type: wire.TypeWSReject, ConnectionID: msg.ConnectionID, Reason: "no handler registered on this port"}
		sendJSON(ctx, d, from, wire.TagWS, reject)
		return
	}

	d.WS.Insert(msg.ConnectionID, from, port, d.now())
	d.Stats.IncWSConns()
	accept := WSAcceptMsg{Type: wire.TypeWSAccept, ConnectionID: msg.ConnectionID}
	sendJSON(ctx, d, from, wire.TagWS, accept)
}

func handleWSData(ctx context.Context, d *Deps, from uint32, payload []byte) {
	var msg WSDataMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		d.Stats.IncErrors()
		return
	}
	conn, ok := d.WS.Get(msg.ConnectionID)
	if !ok {
		// Data for an unknown connection id is dropped -- no implicit accept
		// (spec §4.2).
		d.Stats.IncErrors()
		return
	}
	d.WS.Touch(msg.ConnectionID, d.now())

	handler, ok := d.Registry.WS(conn.Port)
	if !ok {
		return
	}
	handler(ctx, msg.ConnectionID, []byte(msg.Data))
}

func handleWSClose(d *Deps, payload []byte) {
	var msg WSCloseMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		d.Stats.IncErrors()
		return
	}
	d.WS.Remove(msg.ConnectionID)
}

// BuildWSConnect constructs the client-initiated connect payload (used by
// pkg/adapter to open a WS-style connection).
func BuildWSConnect(connID, url string) WSConnectMsg {
	return WSConnectMsg{Type: wire.TypeWSConnect, ConnectionID: connID, URL: url}
}

// parseWSPort extracts the port from a "ws://host:port/path"-shaped URL.
// The medium has no real sockets, so this is a string convention, not an
// actual network parse (spec §4.2 "the url's port selects the registered
// handler").
func parseWSPort(url string) (uint16, bool) {
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	colon := strings.LastIndex(rest, ":")
	if colon < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(rest[colon+1:], 10, 16)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint16(n), true
}
