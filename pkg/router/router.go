package router

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ccnetlab/ccnet/internal/pidfile"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/netstats"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

const (
	beaconInterval    = 100 * time.Millisecond
	natSweepInterval  = 30 * time.Second
	leaseSweepInterval = 30 * time.Second
	routerTickInterval = 50 * time.Millisecond
)

// Config configures a Router (spec §4.5, §6 router.cfg table).
type Config struct {
	Self net.IP
	Link link.Link

	Interfaces []Interface

	LANCIDR string
	Gateway string

	Firewall *Firewall

	NATEnabled bool
	WANIPv4    net.IP
	DMZHost    net.IP
	Forwards   []DNATRule

	DHCPPoolStart string
	DHCPPoolEnd   string
	DHCPLeaseSecs int
	LeaseStatePath string

	SSID     string
	Security string
	Channel  int

	PIDPath string

	Now func() time.Time
}

// Router implements component C8: the gateway router daemon running on the
// same medium as the node daemons, but dispatching on router-specific tags
// (spec §4.1's data-flow note: "C8 runs on a designated gateway node and
// consumes the same C1 medium but with router-specific tags").
type Router struct {
	cfg Config

	Routes   *RoutingTable
	Firewall *Firewall
	NAT      *NATTable
	Leases   *LeasePool
	Assoc    *AssociationTable
	Stats    *netstats.Stats

	packetsForwarded uint64
	packetsDropped   uint64

	ctx context.Context
	now func() time.Time
}

// PacketsForwarded returns the running count of FORWARD-chain packets
// whose action was ACCEPT (spec scenario S8 companion counter).
func (r *Router) PacketsForwarded() uint64 { return atomic.LoadUint64(&r.packetsForwarded) }

// PacketsDropped returns the running count of FORWARD-chain packets
// dropped or rejected by the firewall (spec §8 scenario S8:
// "packets_dropped increments").
func (r *Router) PacketsDropped() uint64 { return atomic.LoadUint64(&r.packetsDropped) }

// New constructs a Router. Run must be called to start its event loop.
func New(cfg Config) (*Router, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Firewall == nil {
		cfg.Firewall = NewFirewall()
	}

	lanIface, wanIface := "", ""
	for _, i := range cfg.Interfaces {
		switch i.Role {
		case RoleLAN:
			lanIface = i.Name
		case RoleWAN:
			wanIface = i.Name
		}
	}

	routes, err := NewRoutingTable(cfg.LANCIDR, lanIface, wanIface, cfg.Gateway)
	if err != nil {
		return nil, err
	}

	leases, err := NewLeasePool(cfg.DHCPPoolStart, cfg.DHCPPoolEnd, cfg.DHCPLeaseSecs, cfg.LeaseStatePath, cfg.Now)
	if err != nil {
		return nil, err
	}

	return &Router{
		cfg:      cfg,
		Routes:   routes,
		Firewall: cfg.Firewall,
		NAT:      NewNATTable(cfg.WANIPv4, cfg.Forwards, cfg.DMZHost, cfg.Now),
		Leases:   leases,
		Assoc:    NewAssociationTable(),
		Stats:    netstats.New(cfg.Now()),
		now:      cfg.Now,
	}, nil
}

// ForwardPacket implements spec §4.5's FORWARD-chain traversal plus NAT:
// evaluate the firewall, and if accepted and nat_enabled, apply SNAT for a
// LAN-origin packet or DNAT for a WAN-origin one. This is the router's core
// datapath (spec scenario S8 "packets_dropped increments").
func (r *Router) ForwardPacket(pkt Packet) (Action, error) {
	action := r.Firewall.Evaluate(ChainForward, pkt)
	switch action {
	case ActionDrop, ActionReject:
		atomic.AddUint64(&r.packetsDropped, 1)
		return action, nil
	}

	if r.cfg.NATEnabled {
		if pkt.Iface == r.lanIfaceName() {
			r.NAT.TranslateOutbound(pkt.Proto, pkt.SrcIP, uint16(pkt.SPort))
		} else if pkt.Iface == r.wanIfaceName() {
			if lanIP, lanPort, ok := r.NAT.TranslateInbound(pkt.Proto, pkt.DstIP, pkt.DPort); ok {
				pkt.DstIP = lanIP
				pkt.DPort = lanPort
			}
		}
	}

	atomic.AddUint64(&r.packetsForwarded, 1)
	r.Stats.IncPacketsReceived(1)
	return ActionAccept, nil
}

func (r *Router) lanIfaceName() string {
	for _, i := range r.cfg.Interfaces {
		if i.Role == RoleLAN {
			return i.Name
		}
	}
	return ""
}

func (r *Router) wanIfaceName() string {
	for _, i := range r.cfg.Interfaces {
		if i.Role == RoleWAN {
			return i.Name
		}
	}
	return ""
}

// Run drives the router's event loop: dispatches DHCP/WIRELESS_AUTH
// traffic arriving on the medium, beacons every 100ms, and periodically
// sweeps expired NAT/DHCP state.
func (r *Router) Run(ctx context.Context) error {
	r.ctx = ctx

	if r.cfg.PIDPath != "" {
		if err := pidfile.Acquire(r.cfg.PIDPath); err != nil {
			return err
		}
		defer pidfile.Release(r.cfg.PIDPath)
	}

	recv := r.cfg.Link.Recv()

	beaconLimiter := rate.NewLimiter(rate.Every(beaconInterval), 1)
	beaconTicker := time.NewTicker(beaconInterval)
	defer beaconTicker.Stop()
	sweepTicker := time.NewTicker(routerTickInterval)
	defer sweepTicker.Stop()

	nextNATSweep := r.now().Add(natSweepInterval)
	nextLeaseSweep := r.now().Add(leaseSweepInterval)

	dlog.Infof(ctx, "router running: ssid=%s security=%s", r.cfg.SSID, r.cfg.Security)

	for {
		select {
		case <-ctx.Done():
			return r.shutdown()

		case dg, ok := <-recv:
			if !ok {
				return r.shutdown()
			}
			r.dispatch(ctx, dg)

		case <-beaconTicker.C:
			if beaconLimiter.Allow() {
				r.broadcastBeacon(ctx)
			}

		case t := <-sweepTicker.C:
			if !t.Before(nextNATSweep) {
				r.NAT.Sweep()
				nextNATSweep = t.Add(natSweepInterval)
			}
			if !t.Before(nextLeaseSweep) {
				r.Leases.SweepExpired()
				nextLeaseSweep = t.Add(leaseSweepInterval)
			}
		}
	}
}

// shutdown runs the router's teardown steps under an errgroup (lease save is
// already synchronous-on-write, so the only step is a final sweep of expired
// leases) and aggregates any failures with go-multierror.
func (r *Router) shutdown() error {
	var errs *multierror.Error
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		reclaimed := r.Leases.SweepExpired()
		dlog.Infof(r.ctx, "router stopping: reclaimed %d expired leases", len(reclaimed))
		return nil
	})
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	dlog.Infof(r.ctx, "router stopped")
	return errs.ErrorOrNil()
}

func (r *Router) dispatch(ctx context.Context, dg wire.Datagram) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Stats.IncErrors()
			dlog.Errorf(ctx, "router handler panic: tag=%s recovered=%v", dg.Tag, rec)
		}
	}()
	r.Stats.IncPacketsReceived(1)
	switch dg.Tag {
	case wire.TagDHCP:
		r.handleDHCP(ctx, dg)
	case wire.TagWirelessAuth:
		r.handleWirelessAuth(ctx, dg)
	case wire.TagRouterDNS:
		// Router-level DNS relay is out of this spec's router scope beyond
		// acknowledging the tag exists; node DNS (wire.TagDNS) already
		// covers hostname resolution end to end.
	default:
		r.Stats.IncErrors()
	}
}

func (r *Router) broadcastBeacon(ctx context.Context) {
	msg := BeaconMessage{Type: "BEACON", SSID: r.cfg.SSID, Security: r.cfg.Security, Channel: r.cfg.Channel}
	payload, err := wire.Marshal(msg)
	if err != nil {
		r.Stats.IncErrors()
		return
	}
	if err := r.cfg.Link.Broadcast(ctx, wire.TagBeacon, payload); err != nil {
		r.Stats.IncErrors()
	}
}

func (r *Router) handleDHCP(ctx context.Context, dg wire.Datagram) {
	var msg DHCPMessage
	if err := wire.Unmarshal(dg.Payload, &msg); err != nil {
		r.Stats.IncErrors()
		return
	}
	switch msg.Type {
	case DHCPDiscover:
		ip, ok := r.Leases.Offer(msg.ClientMAC, msg.TransactionID)
		if !ok {
			r.reply(ctx, dg.SenderID, DHCPMessage{Type: DHCPNak, TransactionID: msg.TransactionID, ClientMAC: msg.ClientMAC})
			return
		}
		r.reply(ctx, dg.SenderID, DHCPMessage{
			Type: DHCPOffer, TransactionID: msg.TransactionID, ClientMAC: msg.ClientMAC,
			OfferedIP: ip, LeaseSeconds: r.cfg.DHCPLeaseSecs,
		})

	case DHCPRequest:
		if msg.RequestedIP == "" || !r.Leases.Ack(msg.TransactionID, msg.RequestedIP, msg.ClientMAC) {
			r.reply(ctx, dg.SenderID, DHCPMessage{Type: DHCPNak, TransactionID: msg.TransactionID, ClientMAC: msg.ClientMAC})
			return
		}
		r.reply(ctx, dg.SenderID, DHCPMessage{
			Type: DHCPAck, TransactionID: msg.TransactionID, ClientMAC: msg.ClientMAC,
			OfferedIP: msg.RequestedIP, LeaseSeconds: r.cfg.DHCPLeaseSecs,
		})

	case DHCPRelease:
		r.Leases.Release(msg.RequestedIP, msg.ClientMAC)

	default:
		r.Stats.IncErrors()
	}
}

func (r *Router) handleWirelessAuth(ctx context.Context, dg wire.Datagram) {
	var msg WirelessAuthMessage
	if err := wire.Unmarshal(dg.Payload, &msg); err != nil {
		r.Stats.IncErrors()
		return
	}
	switch msg.Type {
	case AuthOpen:
		r.reply(ctx, dg.SenderID, r.Assoc.HandleOpen(msg.ClientMAC))
	case SAECommit:
		resp, err := r.Assoc.BeginSAE(msg.ClientMAC)
		if err != nil {
			r.Stats.IncErrors()
			return
		}
		r.reply(ctx, dg.SenderID, resp)
	case SAEConfirm:
		r.reply(ctx, dg.SenderID, r.Assoc.ConfirmSAE(msg.ClientMAC, msg.Response))
	default:
		r.Stats.IncErrors()
	}
}

func (r *Router) reply(ctx context.Context, dest uint32, v interface{}) {
	payload, err := wire.Marshal(v)
	if err != nil {
		r.Stats.IncErrors()
		return
	}
	var tag wire.Tag
	switch v.(type) {
	case DHCPMessage:
		tag = wire.TagDHCP
	case WirelessAuthMessage:
		tag = wire.TagWirelessAuth
	default:
		tag = wire.TagGeneric
	}
	if err := r.cfg.Link.Send(ctx, dest, tag, payload); err != nil {
		r.Stats.IncErrors()
	}
}

// NewTransactionID mints a DHCP transaction id the way pkg/adapter mints
// WS connection ids: an opaque uuid rather than a raw counter, so
// concurrent DISCOVERs from the same client never collide.
func NewTransactionID() string {
	return uuid.NewString()
}
