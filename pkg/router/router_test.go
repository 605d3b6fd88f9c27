package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

func newTestRouter(t *testing.T, l link.Link) *Router {
	t.Helper()
	r, err := New(Config{
		Link:          l,
		Interfaces:    []Interface{{Role: RoleLAN, Name: "eth0"}, {Role: RoleWAN, Name: "eth1"}},
		LANCIDR:       "10.0.1.0/24",
		DHCPPoolStart: "10.0.1.100",
		DHCPPoolEnd:   "10.0.1.100",
		DHCPLeaseSecs: 3600,
		SSID:          "ccnet",
		Security:      "OPEN",
		Channel:       6,
	})
	require.NoError(t, err)
	return r
}

func TestRouterDHCPDiscoverOfferRequestAck(t *testing.T) {
	bus := link.NewBus()
	routerLink := bus.Attach(1)
	clientLink := bus.Attach(2)

	r := newTestRouter(t, routerLink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	discover := DHCPMessage{Type: DHCPDiscover, TransactionID: "xid-1", ClientMAC: "AA:AA:AA:AA:AA:AA"}
	payload, err := wire.Marshal(discover)
	require.NoError(t, err)
	require.NoError(t, clientLink.Send(ctx, 1, wire.TagDHCP, payload))

	offerDg := waitFor(t, clientLink, wire.TagDHCP)
	var offer DHCPMessage
	require.NoError(t, wire.Unmarshal(offerDg.Payload, &offer))
	assert.Equal(t, DHCPOffer, offer.Type)
	assert.Equal(t, "10.0.1.100", offer.OfferedIP)

	request := DHCPMessage{Type: DHCPRequest, TransactionID: "xid-1", ClientMAC: "AA:AA:AA:AA:AA:AA", RequestedIP: offer.OfferedIP}
	payload, err = wire.Marshal(request)
	require.NoError(t, err)
	require.NoError(t, clientLink.Send(ctx, 1, wire.TagDHCP, payload))

	ackDg := waitFor(t, clientLink, wire.TagDHCP)
	var ack DHCPMessage
	require.NoError(t, wire.Unmarshal(ackDg.Payload, &ack))
	assert.Equal(t, DHCPAck, ack.Type)
	assert.Equal(t, "10.0.1.100", ack.OfferedIP)
}

func TestRouterWirelessOpenAssociation(t *testing.T) {
	bus := link.NewBus()
	routerLink := bus.Attach(1)
	clientLink := bus.Attach(2)

	r := newTestRouter(t, routerLink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	auth := WirelessAuthMessage{Type: AuthOpen, ClientMAC: "AA:AA:AA:AA:AA:AA"}
	payload, err := wire.Marshal(auth)
	require.NoError(t, err)
	require.NoError(t, clientLink.Send(ctx, 1, wire.TagWirelessAuth, payload))

	dg := waitFor(t, clientLink, wire.TagWirelessAuth)
	var resp WirelessAuthMessage
	require.NoError(t, wire.Unmarshal(dg.Payload, &resp))
	assert.Equal(t, AuthAssociated, resp.Type)
	assert.True(t, resp.Success)
}

func TestRouterBeacons(t *testing.T) {
	bus := link.NewBus()
	routerLink := bus.Attach(1)
	listener := bus.Attach(2)

	r := newTestRouter(t, routerLink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	dg := waitFor(t, listener, wire.TagBeacon)
	var beacon BeaconMessage
	require.NoError(t, wire.Unmarshal(dg.Payload, &beacon))
	assert.Equal(t, "ccnet", beacon.SSID)
	assert.Equal(t, "OPEN", beacon.Security)
}

func waitFor(t *testing.T, l link.Link, tag wire.Tag) wire.Datagram {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case dg := <-l.Recv():
			if dg.Tag == tag {
				return dg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for tag %s", tag)
		}
	}
}
