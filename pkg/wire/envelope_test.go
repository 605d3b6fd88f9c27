package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type dnsLikeMsg struct {
	Type     string `json:"type"`
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	TTL      int    `json:"ttl"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := dnsLikeMsg{Type: TypeResponse, Hostname: "cc-1", IP: "10.0.0.1", TTL: 300}

	payload, err := Marshal(in)
	require.NoError(t, err)

	var out dnsLikeMsg
	require.NoError(t, Unmarshal(payload, &out))

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip changed the struct (-want +got):\n%s", diff)
	}
}

func TestDatagramFieldsSurviveIndependentOfPayloadShape(t *testing.T) {
	want := Datagram{SenderID: 7, Tag: TagDNS, Payload: []byte(`{"type":"query"}`)}
	got := Datagram{SenderID: 7, Tag: TagDNS, Payload: []byte(`{"type":"query"}`)}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("equivalent datagrams compared unequal (-want +got):\n%s", diff)
	}
}

func TestPeekTypeResolvesAliasToCanonical(t *testing.T) {
	typ, ok := PeekType([]byte(`{"type":"ws_connect"}`))
	require.True(t, ok)
	require.Equal(t, TypeWSConnect, typ)
}
