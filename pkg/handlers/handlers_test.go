package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnetlab/ccnet/pkg/cache"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/netstats"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

// fakeSender records every Send/Broadcast call instead of touching a real
// link.Link, the same role a hand-rolled fake plays in pkg/udp's tests.
type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMsg
	bcast []sentMsg
}

type sentMsg struct {
	to  uint32
	tag wire.Tag
	raw []byte
}

func (f *fakeSender) Send(_ context.Context, dest uint32, tag wire.Tag, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{to: dest, tag: tag, raw: payload})
	return nil
}

func (f *fakeSender) Broadcast(_ context.Context, tag wire.Tag, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bcast = append(f.bcast, sentMsg{tag: tag, raw: payload})
	return nil
}

func (f *fakeSender) last() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func newTestDeps(sender *fakeSender) *Deps {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	self := identity.New(1, "", "", "", "", nil, identity.DefaultTags())
	return &Deps{
		Self:              self,
		Link:              sender,
		ARP:               cache.NewARP(),
		DNS:               cache.NewDNS(),
		Stats:             netstats.New(now),
		Registry:          NewRegistry(),
		WS:                NewWSTable(),
		DNSTTL:            5 * time.Minute,
		ARPTTL:            10 * time.Minute,
		ConnectionTimeout: 30 * time.Second,
		Now:               func() time.Time { return now },
	}
}

func TestHandleDiscoveryQueryRepliesWithSelf(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(DiscoveryQuery{Type: wire.TypeQuery})
	require.NoError(t, err)
	HandleDiscovery(context.Background(), d, 2, payload)

	msg := sender.last()
	assert.Equal(t, wire.TagDiscovery, msg.tag)
	var resp DiscoveryResponse
	require.NoError(t, wire.Unmarshal(msg.raw, &resp))
	assert.Equal(t, d.Self.ID, resp.ID)
	assert.Equal(t, d.Self.Hostname, resp.Hostname)
}

func TestHandleDiscoveryAnnounceWarmsARP(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	announce := DiscoveryAnnounce{Type: wire.TypeAnnounce, ID: 7, Hostname: "cc-7", IP: "10.0.0.7", MAC: "AA:BB"}
	payload, err := wire.Marshal(announce)
	require.NoError(t, err)
	HandleDiscovery(context.Background(), d, 7, payload)

	entry, ok := d.ARP.Lookup("10.0.0.7", d.now())
	require.True(t, ok)
	assert.Equal(t, "AA:BB", entry.MAC)
}

func TestHandleDNSSelfQueryAnswersAndCaches(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(DNSQuery{Type: wire.TypeQuery, Hostname: d.Self.Hostname})
	require.NoError(t, err)
	HandleDNS(context.Background(), d, 2, payload)

	msg := sender.last()
	var resp DNSResponse
	require.NoError(t, wire.Unmarshal(msg.raw, &resp))
	assert.Equal(t, d.Self.IPv4, resp.IP)

	entry, ok := d.DNS.Lookup(d.Self.Hostname, d.now())
	require.True(t, ok)
	assert.Equal(t, d.Self.IPv4, entry.IP)
}

func TestHandleDNSQueryForUnknownHostnameIsDropped(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(DNSQuery{Type: wire.TypeQuery, Hostname: "nowhere.local"})
	require.NoError(t, err)
	HandleDNS(context.Background(), d, 2, payload)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sent, "no cache hit and not self: silently dropped")
}

func TestHandleDNSNegativeResponseNotCached(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(DNSResponse{Type: wire.TypeResponse, Hostname: "ghost.local", IP: ""})
	require.NoError(t, err)
	HandleDNS(context.Background(), d, 2, payload)

	_, ok := d.DNS.Lookup("ghost.local", d.now())
	assert.False(t, ok)
}

func TestHandleARPRequestForSelfReplies(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(ARPRequest{Type: wire.TypeARPRequest, TargetIP: d.Self.IPv4})
	require.NoError(t, err)
	HandleARP(context.Background(), d, 3, payload)

	msg := sender.last()
	var reply ARPReply
	require.NoError(t, wire.Unmarshal(msg.raw, &reply))
	assert.Equal(t, d.Self.MAC, reply.MAC)
}

func TestHandleARPRequestForOtherIPIgnored(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(ARPRequest{Type: wire.TypeARPRequest, TargetIP: "10.0.9.9"})
	require.NoError(t, err)
	HandleARP(context.Background(), d, 3, payload)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sent)
}

func TestHandleARPReplyWithoutMACIsAnError(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(ARPReply{Type: wire.TypeARPReply, IP: "10.0.0.5"})
	require.NoError(t, err)
	HandleARP(context.Background(), d, 3, payload)

	_, ok := d.ARP.Lookup("10.0.0.5", d.now())
	assert.False(t, ok)
	assert.Equal(t, uint64(1), d.Stats.Snapshot(d.now()).Errors)
}

func TestHandlePingRepliesOnPerSourcePongTag(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	req := BuildPingRequest("10.0.0.9", 1, d.now().UnixMilli())
	payload, err := wire.Marshal(req)
	require.NoError(t, err)
	HandlePing(context.Background(), d, 9, payload)

	msg := sender.last()
	assert.Equal(t, wire.PongTag("10.0.0.9"), msg.tag)
	var reply PingReply
	require.NoError(t, wire.Unmarshal(msg.raw, &reply))
	assert.Equal(t, 1, reply.Seq)
}

func TestHandleHTTPNoHandlerReturns404(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	req := HTTPRequestMsg{Type: wire.TypeHTTPRequest, ID: "req-1", Method: "GET", Path: "/", Port: 8080}
	payload, err := wire.Marshal(req)
	require.NoError(t, err)
	HandleHTTP(context.Background(), d, 2, payload)

	msg := sender.last()
	var resp HTTPResponseMsg
	require.NoError(t, wire.Unmarshal(msg.raw, &resp))
	assert.Equal(t, 404, resp.Code)
	assert.Equal(t, "req-1", resp.ID)
}

func TestHandleHTTPRegisteredHandlerEchoes(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)
	d.Registry.RegisterHTTP(8080, func(_ context.Context, req HTTPRequest) (HTTPResponse, error) {
		return HTTPResponse{Code: 200, Body: "echo:" + req.Body}, nil
	})

	req := HTTPRequestMsg{Type: wire.TypeHTTPRequest, ID: "req-2", Method: "POST", Path: "/echo", Port: 8080, Body: "hi"}
	payload, err := wire.Marshal(req)
	require.NoError(t, err)
	HandleHTTP(context.Background(), d, 2, payload)

	msg := sender.last()
	var resp HTTPResponseMsg
	require.NoError(t, wire.Unmarshal(msg.raw, &resp))

	want := HTTPResponseMsg{
		Type:      wire.TypeHTTPResponse,
		ID:        "req-2",
		Code:      200,
		Headers:   map[string]string{},
		Body:      "echo:hi",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Fatalf("unexpected HTTP response (-want +got):\n%s", diff)
	}
}

func TestHandleHTTPHandlerErrorReturns500(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)
	d.Registry.RegisterHTTP(8080, func(_ context.Context, _ HTTPRequest) (HTTPResponse, error) {
		return HTTPResponse{}, errors.New("boom")
	})

	req := HTTPRequestMsg{Type: wire.TypeHTTPRequest, ID: "req-3", Method: "GET", Path: "/", Port: 8080}
	payload, err := wire.Marshal(req)
	require.NoError(t, err)
	HandleHTTP(context.Background(), d, 2, payload)

	msg := sender.last()
	var resp HTTPResponseMsg
	require.NoError(t, wire.Unmarshal(msg.raw, &resp))
	assert.Equal(t, 500, resp.Code)
	assert.Equal(t, "boom", resp.Body)
}

func TestHandleAdapterDiscoveryMatchesSelfHostname(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(HostnameQuery{Type: wire.TypeHostnameQuery, Hostname: d.Self.Hostname})
	require.NoError(t, err)
	HandleAdapterDiscovery(context.Background(), d, 2, payload)

	msg := sender.last()
	assert.Equal(t, wire.TagAdapterDiscovery, msg.tag)
	var resp HostnameResponse
	require.NoError(t, wire.Unmarshal(msg.raw, &resp))
	assert.Equal(t, d.Self.IPv4, resp.IP)
}

func TestHandleWSConnectAcceptsWhenHandlerRegistered(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)
	d.Registry.RegisterWS(9000, func(_ context.Context, _ string, _ []byte) {})

	payload, err := wire.Marshal(BuildWSConnect("conn-1", "ws://host:9000/chat"))
	require.NoError(t, err)
	HandleWS(context.Background(), d, 4, payload)

	msg := sender.last()
	var accept WSAcceptMsg
	require.NoError(t, wire.Unmarshal(msg.raw, &accept))
	assert.Equal(t, "conn-1", accept.ConnectionID)
	assert.Equal(t, 1, d.WS.Len())
}

func TestHandleWSConnectRejectsWithoutHandler(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(BuildWSConnect("conn-2", "ws://host:9000/chat"))
	require.NoError(t, err)
	HandleWS(context.Background(), d, 4, payload)

	msg := sender.last()
	var reject WSRejectMsg
	require.NoError(t, wire.Unmarshal(msg.raw, &reject))
	assert.Equal(t, "conn-2", reject.ConnectionID)
	assert.Equal(t, 0, d.WS.Len())
}

func TestHandleWSDataForUnknownConnectionIsDropped(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(WSDataMsg{Type: wire.TypeWSData, ConnectionID: "ghost", Data: "hi"})
	require.NoError(t, err)
	HandleWS(context.Background(), d, 4, payload)

	snap := d.Stats.Snapshot(d.now())
	assert.Equal(t, uint64(1), snap.Errors)
}

func TestHandleWSDataDeliversToRegisteredHandler(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)
	var gotConn, gotData string
	d.Registry.RegisterWS(9000, func(_ context.Context, connID string, data []byte) {
		gotConn, gotData = connID, string(data)
	})
	d.WS.Insert("conn-3", 4, 9000, d.now())

	payload, err := wire.Marshal(WSDataMsg{Type: wire.TypeWSData, ConnectionID: "conn-3", Data: "hello"})
	require.NoError(t, err)
	HandleWS(context.Background(), d, 4, payload)

	assert.Equal(t, "conn-3", gotConn)
	assert.Equal(t, "hello", gotData)
}

func TestHandleWSCloseRemovesConnection(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)
	d.WS.Insert("conn-4", 4, 9000, d.now())

	payload, err := wire.Marshal(WSCloseMsg{Type: wire.TypeWSClose, ConnectionID: "conn-4"})
	require.NoError(t, err)
	HandleWS(context.Background(), d, 4, payload)

	assert.Equal(t, 0, d.WS.Len())
}

func TestHandleAdapterDiscoveryIgnoresOtherHostnames(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDeps(sender)

	payload, err := wire.Marshal(HostnameQuery{Type: wire.TypeHostnameQuery, Hostname: "someone-else"})
	require.NoError(t, err)
	HandleAdapterDiscovery(context.Background(), d, 2, payload)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sent)
}
