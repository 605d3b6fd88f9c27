package daemon

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/ccnetlab/ccnet/internal/pidfile"
	"github.com/ccnetlab/ccnet/pkg/cache"
	"github.com/ccnetlab/ccnet/pkg/handlers"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/netstats"
	"github.com/ccnetlab/ccnet/pkg/udp"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

const (
	cleanupInterval    = 60 * time.Second
	statsWriteInterval = 10 * time.Second
	stateSaveInterval  = 5 * time.Minute
	tickInterval       = 1 * time.Second
)

// Config is everything New needs to construct a Daemon (spec §4.1,
// §6 config table).
type Config struct {
	Self   *identity.Identity
	Link   link.Link
	UDP    *udp.Manager // optional; nil disables UDP dispatch

	DiscoveryServices []string
	DiscoveryInterval time.Duration
	DNSTTL            time.Duration
	ARPTTL            time.Duration
	ConnectionTimeout time.Duration

	PIDPath        string
	StatsPath      string
	StatePath      string
	GlobalStopPath string
	LocalStopPath  string

	// Now is injected for deterministic tests; zero value means time.Now.
	Now func() time.Time
}

// command is an enqueued node-local IPC call (spec §4.1 "Public contract"),
// executed on the event-loop goroutine to preserve the single-writer
// invariant (spec §5: "preferred: message-passing").
type command struct {
	run  func()
	done chan struct{}
}

// Daemon implements component C6.
type Daemon struct {
	cfg  Config
	deps *handlers.Deps

	stateMu sync.RWMutex
	state   State

	startTime time.Time
	cmds      chan command
	ctx       context.Context // valid only inside Run's goroutine

	subs  []subscription
	subID uint64
}

// New constructs a Daemon in the Starting state. It does not yet touch the
// filesystem or the link; call Run to do that.
func New(cfg Config) *Daemon {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	deps := &handlers.Deps{
		Self:              cfg.Self,
		Link:              cfg.Link,
		ARP:               cache.NewARP(),
		DNS:               cache.NewDNS(),
		Stats:             netstats.New(cfg.Now()),
		Registry:          handlers.NewRegistry(),
		WS:                handlers.NewWSTable(),
		DNSTTL:            cfg.DNSTTL,
		ARPTTL:            cfg.ARPTTL,
		ConnectionTimeout: cfg.ConnectionTimeout,
		DiscoveryServices: cfg.DiscoveryServices,
		Now:               cfg.Now,
	}
	return &Daemon{
		cfg:       cfg,
		deps:      deps,
		state:     Starting,
		startTime: cfg.Now(),
		cmds:      make(chan command),
	}
}

func (d *Daemon) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

func (d *Daemon) setState(s State) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// Run drives the event loop until ctx is cancelled or a stop file/signal is
// observed (spec §4.1 Event loop). It implements the Starting -> Running ->
// Stopping -> exit transitions.
func (d *Daemon) Run(ctx context.Context) error {
	d.ctx = ctx

	if err := pidfile.Acquire(d.cfg.PIDPath); err != nil {
		return err
	}
	defer pidfile.Release(d.cfg.PIDPath)

	d.loadState()
	d.broadcastPresence()
	d.setState(Running)
	dlog.Infof(ctx, "daemon running: id=%d hostname=%s ip=%s", d.deps.Self.ID, d.deps.Self.Hostname, d.deps.Self.IPv4)

	now := d.deps.CurrentTime()
	nextCleanup := now.Add(cleanupInterval)
	nextStatsWrite := now.Add(statsWriteInterval)
	nextStateSave := now.Add(stateSaveInterval)
	nextBroadcast := now.Add(d.discoveryInterval())

	recv := d.cfg.Link.Recv()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown(d.deps.CurrentTime())
			return ctx.Err()

		case dg, ok := <-recv:
			if !ok {
				d.shutdown(d.deps.CurrentTime())
				return nil
			}
			d.dispatch(ctx, dg)

		case cmd := <-d.cmds:
			cmd.run()
			close(cmd.done)

		case t := <-ticker.C:
			if d.checkStopFiles() {
				d.shutdown(t)
				return nil
			}
			if !t.Before(nextBroadcast) {
				d.broadcastPresence()
				nextBroadcast = t.Add(d.discoveryInterval())
			}
			if !t.Before(nextCleanup) {
				d.cleanup(t)
				nextCleanup = t.Add(cleanupInterval)
			}
			if !t.Before(nextStatsWrite) {
				d.writeStats(t)
				nextStatsWrite = t.Add(statsWriteInterval)
			}
			if !t.Before(nextStateSave) {
				d.saveState(t)
				nextStateSave = t.Add(stateSaveInterval)
			}
		}
	}
}

func (d *Daemon) discoveryInterval() time.Duration {
	if d.cfg.DiscoveryInterval <= 0 {
		return 30 * time.Second
	}
	return d.cfg.DiscoveryInterval
}

func (d *Daemon) shutdown(now time.Time) {
	d.setState(Stopping)
	d.saveState(now)
	d.deps.Registry.UnregisterAll()
	dlog.Infof(d.ctx, "daemon stopping: id=%d", d.deps.Self.ID)
}

// checkStopFiles implements the Open Question decision recorded in
// DESIGN.md: the global stop file is a pure presence check (never removed
// by the daemon), the local stop file is consumed (removed) on observation.
func (d *Daemon) checkStopFiles() bool {
	if d.cfg.GlobalStopPath != "" && fileExists(d.cfg.GlobalStopPath) {
		return true
	}
	if d.cfg.LocalStopPath != "" && fileExists(d.cfg.LocalStopPath) {
		removeFile(d.cfg.LocalStopPath)
		return true
	}
	return false
}

// cleanup runs the "Cache cleanup" maintenance algorithm (spec §4.1): ARP,
// DNS, and WS connections past their deadline are dropped. UDP sockets have
// no expires_at in this implementation (they are explicitly closed, not
// TTL'd), so cleanup leaves UDP sockets and their buffers untouched.
func (d *Daemon) cleanup(now time.Time) {
	d.deps.ARP.Sweep(now)
	d.deps.DNS.Sweep(now)
	d.deps.WS.SweepIdle(d.deps.ConnectionTimeout, now)
}

func (d *Daemon) broadcastPresence() {
	announce := handlers.BuildAnnounce(d.deps)
	payload, err := wire.Marshal(announce)
	if err != nil {
		d.deps.Stats.IncErrors()
		return
	}
	if err := d.cfg.Link.Broadcast(d.ctxOrBackground(), wire.TagDiscovery, payload); err != nil {
		d.deps.Stats.IncErrors()
	}
}

func (d *Daemon) ctxOrBackground() context.Context {
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}

// dispatch matches the datagram's tag against the known tag set and routes
// it to one handler, recovering from any handler panic (spec §4.1
// Failure: "any handler that throws is caught, counted as errors, logged
// at error, and does not terminate the loop").
func (d *Daemon) dispatch(ctx context.Context, dg wire.Datagram) {
	defer func() {
		if r := recover(); r != nil {
			d.deps.Stats.IncErrors()
			dlog.Errorf(ctx, "handler panic: tag=%s recovered=%v", dg.Tag, r)
		}
	}()

	d.deps.Stats.IncPacketsReceived(1)
	d.deps.Stats.AddBytesReceived(uint64(len(dg.Payload)))

	if d.tryDeliverSubscriber(dg) {
		return
	}

	switch {
	case dg.Tag == wire.TagGeneric:
		handlers.HandleGeneric(ctx, d.deps, dg.SenderID, dg.Payload)
	case dg.Tag == wire.TagDiscovery:
		handlers.HandleDiscovery(ctx, d.deps, dg.SenderID, dg.Payload)
	case dg.Tag == wire.TagAdapterDiscovery:
		handlers.HandleAdapterDiscovery(ctx, d.deps, dg.SenderID, dg.Payload)
	case dg.Tag == wire.TagDNS:
		handlers.HandleDNS(ctx, d.deps, dg.SenderID, dg.Payload)
	case dg.Tag == wire.TagARP:
		handlers.HandleARP(ctx, d.deps, dg.SenderID, dg.Payload)
	case dg.Tag == wire.TagHTTP:
		handlers.HandleHTTP(ctx, d.deps, dg.SenderID, dg.Payload)
	case dg.Tag == wire.TagWS:
		handlers.HandleWS(ctx, d.deps, dg.SenderID, dg.Payload)
	case isPingTag(dg.Tag):
		handlers.HandlePing(ctx, d.deps, dg.SenderID, dg.Payload)
	case isPongTag(dg.Tag):
		// An uncorrelated pong (no adapter awaiting it, e.g. its pinger
		// already timed out) is stale, not an error.
	case wire.IsUDPTag(dg.Tag):
		d.dispatchUDP(dg)
	default:
		d.deps.Stats.IncErrors()
	}
}

func isPingTag(t wire.Tag) bool { return strings.HasPrefix(string(t), "ping_") }
func isPongTag(t wire.Tag) bool { return strings.HasPrefix(string(t), "pong_") }

func (d *Daemon) dispatchUDP(dg wire.Datagram) {
	if d.cfg.UDP == nil {
		d.deps.Stats.IncErrors()
		return
	}
	var np udp.NetworkPacket
	if err := wire.Unmarshal(dg.Payload, &np); err != nil {
		d.deps.Stats.IncErrors()
		return
	}
	d.deps.Stats.IncUDPPackets()
	d.cfg.UDP.Dispatch(&np, d.deps.CurrentTime())
}

// enqueue runs fn on the event-loop goroutine and blocks until it
// completes, the message-passing discipline spec §5 calls the preferred
// way to serialize adapter-invoked operations against the loop.
func (d *Daemon) enqueue(fn func()) {
	done := make(chan struct{})
	d.cmds <- command{run: fn, done: done}
	<-done
}

// Info implements the info() node-local IPC call.
func (d *Daemon) Info() Info {
	var out Info
	d.enqueue(func() {
		out = Info{
			ID:             d.deps.Self.ID,
			MAC:            d.deps.Self.MAC,
			IPv4:           d.deps.Self.IPv4,
			Hostname:       d.deps.Self.Hostname,
			FQDN:           d.deps.Self.FQDN,
			ModemAvailable: d.cfg.Link != nil,
			UDPEnabled:     d.cfg.UDP != nil,
		}
	})
	return out
}

// Stats implements the stats() node-local IPC call.
func (d *Daemon) Stats() netstats.Snapshot {
	var out netstats.Snapshot
	d.enqueue(func() {
		out = d.deps.Stats.Snapshot(d.deps.CurrentTime())
	})
	return out
}

// RegisterServer implements register_server(port, http_handler | ws_handler).
// Exactly one of http/ws may be nil.
func (d *Daemon) RegisterServer(port uint16, http handlers.HTTPHandler, ws handlers.WSHandler) {
	d.enqueue(func() {
		if http != nil {
			d.deps.Registry.RegisterHTTP(port, http)
		}
		if ws != nil {
			d.deps.Registry.RegisterWS(port, ws)
		}
	})
}

// UnregisterServer implements unregister_server(port).
func (d *Daemon) UnregisterServer(port uint16) {
	d.enqueue(func() {
		d.deps.Registry.Unregister(port)
	})
}

// BroadcastPresence implements the explicit broadcast_presence() trigger.
func (d *Daemon) BroadcastPresence() {
	d.enqueue(func() {
		d.broadcastPresence()
	})
}

func (d *Daemon) logWarnf(format string, args ...interface{}) {
	if d.ctx != nil {
		dlog.Warnf(d.ctx, format, args...)
	}
}
