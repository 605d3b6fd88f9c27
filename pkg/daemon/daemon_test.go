package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnetlab/ccnet/pkg/handlers"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

func newTestDaemon(t *testing.T, bus *link.Bus, id uint32) *Daemon {
	t.Helper()
	dir := t.TempDir()
	self := identity.New(id, "", "", "", "", nil, identity.DefaultTags())
	return New(Config{
		Self:           self,
		Link:           bus.Attach(id),
		PIDPath:        filepath.Join(dir, "netd.pid"),
		StatsPath:      filepath.Join(dir, "netd.stats"),
		StatePath:      filepath.Join(dir, "netd.state"),
		GlobalStopPath: filepath.Join(dir, "netd.stop.all"),
		LocalStopPath:  filepath.Join(dir, "netd.stop"),
	})
}

func runDaemon(t *testing.T, d *Daemon) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx, cancel
}

// TestTwoNodeDiscoveryLearnsEachOther covers scenario S1: two daemons on the
// same medium each broadcast an announce on start, and each picks up the
// other's hostname/IP into its ARP cache.
func TestTwoNodeDiscoveryLearnsEachOther(t *testing.T) {
	bus := link.NewBus()
	d1 := newTestDaemon(t, bus, 1)
	d2 := newTestDaemon(t, bus, 2)
	runDaemon(t, d1)
	runDaemon(t, d2)

	require.Eventually(t, func() bool {
		_, ok := d1.deps.ARP.Lookup(d2.deps.Self.IPv4, time.Now())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := d2.deps.ARP.Lookup(d1.deps.Self.IPv4, time.Now())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaemonInfoReflectsIdentity(t *testing.T) {
	bus := link.NewBus()
	d := newTestDaemon(t, bus, 5)
	runDaemon(t, d)

	info := d.Info()
	assert.Equal(t, uint32(5), info.ID)
	assert.Equal(t, d.deps.Self.Hostname, info.Hostname)
	assert.True(t, info.ModemAvailable)
}

func TestDaemonStatsCountsReceivedPackets(t *testing.T) {
	bus := link.NewBus()
	d1 := newTestDaemon(t, bus, 1)
	d2 := newTestDaemon(t, bus, 2)
	runDaemon(t, d1)
	runDaemon(t, d2)

	require.Eventually(t, func() bool {
		return d1.Stats().PacketsReceived > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaemonLocalStopFileTerminatesRun(t *testing.T) {
	bus := link.NewBus()
	d := newTestDaemon(t, bus, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.State() == Running
	}, time.Second, 5*time.Millisecond)

	f, err := os.OpenFile(d.cfg.LocalStopPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after local stop file was written")
	}
}

func TestRegisterServerBindsHTTPHandlerAndServesRequest(t *testing.T) {
	bus := link.NewBus()
	d := newTestDaemon(t, bus, 1)
	runDaemon(t, d)
	client := bus.Attach(9)

	d.RegisterServer(8080, func(_ context.Context, req handlers.HTTPRequest) (handlers.HTTPResponse, error) {
		return handlers.HTTPResponse{Code: 200, Body: "echo:" + req.Body}, nil
	}, nil)

	req := handlers.HTTPRequestMsg{Type: wire.TypeHTTPRequest, ID: "r1", Method: "GET", Path: "/", Port: 8080, Body: "hi"}
	payload, err := wire.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, client.Send(context.Background(), 1, wire.TagHTTP, payload))

	select {
	case dg := <-client.Recv():
		var resp handlers.HTTPResponseMsg
		require.NoError(t, wire.Unmarshal(dg.Payload, &resp))
		assert.Equal(t, 200, resp.Code)
		assert.Equal(t, "echo:hi", resp.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("no response received")
	}
}

func TestAwaitDeliversMatchingDatagramOnce(t *testing.T) {
	bus := link.NewBus()
	d := newTestDaemon(t, bus, 1)
	runDaemon(t, d)
	other := bus.Attach(9)

	ch, cancel := d.Await(wire.TagGeneric, func(p []byte) bool { return string(p) == `"hello"` })
	defer cancel()

	require.NoError(t, other.Send(context.Background(), 1, wire.TagGeneric, []byte(`"hello"`)))

	select {
	case dg := <-ch:
		assert.Equal(t, uint32(9), dg.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not receive matching datagram")
	}
}
