package wire

import "encoding/json"

// Datagram is what travels over the Link (pkg/link): a sender node-id, the
// protocol tag that selects a handler, and an opaque payload. This mirrors
// the spec's "(sender_id, message, protocol_tag)" event shape (§4.1).
type Datagram struct {
	SenderID uint32
	Tag      Tag
	Payload  []byte
}

// Marshal encodes v as the Payload of a datagram-ready JSON blob.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a datagram payload into v.
func Unmarshal(payload []byte, v interface{}) error {
	return json.Unmarshal(payload, v)
}
