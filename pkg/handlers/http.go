package handlers

import (
	"context"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

// HandleHTTP dispatches a "ccnet_http" tagged payload (spec §4.2 HTTP
// request/response). Only request messages arrive here; responses are
// correlated and consumed by the adapter (pkg/adapter), not by this daemon
// side handler.
func HandleHTTP(ctx context.Context, d *Deps, from uint32, payload []byte) {
	typ, ok := wire.PeekType(payload)
	if !ok {
		d.Stats.IncErrors()
		return
	}
	if typ == wire.TypeHTTPResponse {
		// No adapter was awaiting this id (it already timed out, or this
		// daemon has no adapter attached); not an error (spec §4.2: "the
		// daemon does not consume; this is for the adapter").
		return
	}
	if typ != wire.TypeHTTPRequest {
		d.Stats.IncErrors()
		return
	}
	var req HTTPRequestMsg
	if err := wire.Unmarshal(payload, &req); err != nil {
		d.Stats.IncErrors()
		return
	}
	d.Stats.IncHTTPRequests()

	handler, ok := d.Registry.HTTP(req.Port)
	if !ok {
		resp := HTTPResponseMsg{
			Type:      wire.TypeHTTPResponse,
			ID:        req.ID,
			Code:      404,
			Headers:   map[string]string{},
			Body:      "no handler registered on this port",
			Timestamp: d.now().UnixMilli(),
		}
		sendJSON(ctx, d, from, wire.TagHTTP, resp)
		return
	}

	hreq := HTTPRequest{Method: req.Method, Path: req.Path, Headers: req.Headers, Body: req.Body, Source: from}
	hresp, err := handler(ctx, hreq)
	if err != nil {
		resp := HTTPResponseMsg{
			Type:      wire.TypeHTTPResponse,
			ID:        req.ID,
			Code:      500,
			Headers:   map[string]string{},
			Body:      err.Error(),
			Timestamp: d.now().UnixMilli(),
		}
		sendJSON(ctx, d, from, wire.TagHTTP, resp)
		return
	}

	headers := hresp.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	resp := HTTPResponseMsg{
		Type:      wire.TypeHTTPResponse,
		ID:        req.ID,
		Code:      hresp.Code,
		Headers:   headers,
		Body:      hresp.Body,
		Timestamp: d.now().UnixMilli(),
	}
	sendJSON(ctx, d, from, wire.TagHTTP, resp)
}
