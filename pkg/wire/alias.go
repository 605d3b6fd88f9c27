package wire

import "encoding/json"

// Canonical message "type" field values. Handlers switch on these; Canonical
// folds in every alias spec §9 says a conformant implementation MUST accept.
const (
	TypeWhoamiQuery      = "whoami?"
	TypeQuery            = "query"
	TypeResponse         = "response"
	TypeAnnounce         = "announce"
	TypeIDQuery          = "id_query"
	TypeIDResponse       = "id_response"
	TypeHostnameQuery    = "hostname_query"
	TypeHostnameResponse = "hostname_response"

	TypeARPRequest = "request"
	TypeARPReply   = "reply"

	TypePing = "ping"
	TypePong = "pong"

	TypeHTTPRequest  = "request"
	TypeHTTPResponse = "response"

	TypeWSConnect = "connect"
	TypeWSAccept  = "accept"
	TypeWSReject  = "reject"
	TypeWSData    = "data"
	TypeWSClose   = "close"
)

// aliases maps every accepted synonym (spec §9 "Tag aliases") to the
// canonical type string this implementation emits and switches on.
var aliases = map[string]string{
	"ws_connect": TypeWSConnect,
	"ws_data":    TypeWSData,
	"ws_close":   TypeWSClose,

	"http_request":  TypeHTTPRequest,
	"http_response": TypeHTTPResponse,
}

// Canonical resolves a raw "type" field value to the canonical type string
// this implementation uses internally. Unknown values pass through
// unchanged so the caller's own "unknown type" handling (counted as a
// dropped packet, per spec §7 PacketDropped) still applies.
func Canonical(rawType string) string {
	if c, ok := aliases[rawType]; ok {
		return c
	}
	return rawType
}

// PeekType extracts the "type" field from a raw JSON payload without fully
// decoding it, so a handler can dispatch before committing to a concrete
// struct.
func PeekType(payload []byte) (string, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", false
	}
	return Canonical(head.Type), head.Type != ""
}
