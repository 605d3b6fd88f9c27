// Package dhcpclient implements component C9: the DHCP client state
// machine a node runs to acquire and renew an IPv4-like lease from a
// router's DHCP server (spec §4.6).
package dhcpclient

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ccnetlab/ccnet/internal/atomicfile"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/router"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

// State is one node of the client state machine (spec §4.6): INIT ->
// DISCOVERING -> (on OFFER) REQUESTING -> (on ACK) BOUND -> (near T1)
// RENEWING -> BOUND.
type State int

const (
	Init State = iota
	Discovering
	Requesting
	Bound
	Renewing
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Discovering:
		return "DISCOVERING"
	case Requesting:
		return "REQUESTING"
	case Bound:
		return "BOUND"
	case Renewing:
		return "RENEWING"
	default:
		return "UNKNOWN"
	}
}

const (
	retryTimeout = 10 * time.Second
	maxRetries   = 3
)

// defaultLeasePath is where a bound lease's config is persisted (spec
// §4.6 "release... deletes persisted config").
const defaultLeasePath = "/var/lib/dhcp/client.lease"

// ErrNoOffer is returned by Acquire if every DISCOVER or REQUEST retry
// exhausts without a reply (spec §4.6 "timeout+retry... default 10s, 3
// retries").
var ErrNoOffer = errors.New("dhcpclient: no offer received after retries")

// ErrNakked is returned if the server NAKs a REQUEST.
var ErrNakked = errors.New("dhcpclient: request was NAKed")

// PersistedLease is the JSON shape atomically written to
// /var/lib/dhcp/client.lease on every ACK.
type PersistedLease struct {
	IP           string    `json:"ip"`
	ServerID     uint32    `json:"server_id"`
	LeaseSeconds int       `json:"lease_seconds"`
	BoundAt      time.Time `json:"bound_at"`
}

// Config configures a Client.
type Config struct {
	Link     link.Link
	ServerID uint32 // node-id of the router running the DHCP server
	MAC      string
	LeasePath string

	// RetryTimeout overrides the per-attempt wait in DISCOVERING/REQUESTING
	// (default 10s per spec §4.6); tests shorten this to avoid a real
	// multi-second sleep per retry.
	RetryTimeout time.Duration

	Now func() time.Time
}

// Client drives the DHCP client state machine for one node.
type Client struct {
	cfg   Config
	state State
	lease *PersistedLease
	now   func() time.Time
}

// New constructs a Client in the INIT state.
func New(cfg Config) *Client {
	if cfg.LeasePath == "" {
		cfg.LeasePath = defaultLeasePath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = retryTimeout
	}
	return &Client{cfg: cfg, state: Init, now: cfg.Now}
}

func (c *Client) State() State { return c.state }

// Acquire runs INIT -> DISCOVERING -> REQUESTING -> BOUND to completion,
// retrying DISCOVER and REQUEST up to maxRetries times at retryTimeout
// each (spec §4.6). It blocks until bound, failed, or ctx is cancelled.
func (c *Client) Acquire(ctx context.Context) error {
	c.state = Discovering
	xid := uuid.NewString()

	offer, err := c.discover(ctx, xid)
	if err != nil {
		return err
	}

	c.state = Requesting
	ack, err := c.request(ctx, xid, offer.OfferedIP)
	if err != nil {
		return err
	}

	c.state = Bound
	c.lease = &PersistedLease{IP: ack.OfferedIP, ServerID: c.cfg.ServerID, LeaseSeconds: ack.LeaseSeconds, BoundAt: c.now()}
	return c.save()
}

func (c *Client) discover(ctx context.Context, xid string) (*router.DHCPMessage, error) {
	recv := c.cfg.Link.Recv()
	for attempt := 0; attempt < maxRetries; attempt++ {
		c.logf(ctx, "dhcp discover attempt=%d xid=%s", attempt+1, xid)
		msg := router.DHCPMessage{Type: router.DHCPDiscover, TransactionID: xid, ClientMAC: c.cfg.MAC}
		if err := c.send(ctx, msg); err != nil {
			return nil, err
		}
		offer, ok := waitForDHCP(ctx, recv, xid, c.cfg.RetryTimeout, router.DHCPOffer, router.DHCPNak)
		if ok {
			if offer.Type == router.DHCPNak {
				return nil, ErrNakked
			}
			return offer, nil
		}
	}
	return nil, ErrNoOffer
}

func (c *Client) request(ctx context.Context, xid, requestedIP string) (*router.DHCPMessage, error) {
	recv := c.cfg.Link.Recv()
	for attempt := 0; attempt < maxRetries; attempt++ {
		c.logf(ctx, "dhcp request attempt=%d xid=%s ip=%s", attempt+1, xid, requestedIP)
		msg := router.DHCPMessage{Type: router.DHCPRequest, TransactionID: xid, ClientMAC: c.cfg.MAC, RequestedIP: requestedIP}
		if err := c.send(ctx, msg); err != nil {
			return nil, err
		}
		ack, ok := waitForDHCP(ctx, recv, xid, c.cfg.RetryTimeout, router.DHCPAck, router.DHCPNak)
		if ok {
			if ack.Type == router.DHCPNak {
				return nil, ErrNakked
			}
			return ack, nil
		}
	}
	return nil, ErrNoOffer
}

// waitForDHCP drains recv until a DHCPMessage on wire.TagDHCP matches xid
// and one of wantTypes, or timeout elapses. Datagrams not addressed to
// this exchange are simply not a match and are dropped, the same benign-
// uncorrelated-traffic posture pkg/daemon's subscriber delivery takes.
func waitForDHCP(ctx context.Context, recv <-chan wire.Datagram, xid string, timeout time.Duration, wantTypes ...string) (*router.DHCPMessage, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case dg, ok := <-recv:
			if !ok {
				return nil, false
			}
			if dg.Tag != wire.TagDHCP {
				continue
			}
			var msg router.DHCPMessage
			if wire.Unmarshal(dg.Payload, &msg) != nil || msg.TransactionID != xid {
				continue
			}
			for _, want := range wantTypes {
				if msg.Type == want {
					return &msg, true
				}
			}
		case <-deadline:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (c *Client) send(ctx context.Context, msg router.DHCPMessage) error {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	return c.cfg.Link.Send(ctx, c.cfg.ServerID, wire.TagDHCP, payload)
}

// RenewalDue reports whether the bound lease has crossed T1 (spec §4.6
// "near T1"), taken here as half the lease lifetime, the conventional DHCP
// T1 default absent a spec-given fraction.
func (c *Client) RenewalDue() bool {
	if c.state != Bound || c.lease == nil {
		return false
	}
	t1 := c.lease.BoundAt.Add(time.Duration(c.lease.LeaseSeconds) * time.Second / 2)
	return !c.now().Before(t1)
}

// Renew re-sends REQUEST with the currently-held IP (spec §4.6 RENEWING ->
// BOUND); failure leaves the client in RENEWING for the caller to retry or
// fall back to a fresh Acquire.
func (c *Client) Renew(ctx context.Context) error {
	if c.lease == nil {
		return errors.New("dhcpclient: no lease to renew")
	}
	c.state = Renewing
	xid := uuid.NewString()
	ack, err := c.request(ctx, xid, c.lease.IP)
	if err != nil {
		return err
	}
	c.state = Bound
	c.lease.LeaseSeconds = ack.LeaseSeconds
	c.lease.BoundAt = c.now()
	return c.save()
}

// Release sends RELEASE, transitions to INIT, and deletes the persisted
// lease config (spec §4.6 "release is a terminal transition to INIT that
// deletes persisted config").
func (c *Client) Release(ctx context.Context) error {
	if c.lease != nil {
		msg := router.DHCPMessage{Type: router.DHCPRelease, ClientMAC: c.cfg.MAC, RequestedIP: c.lease.IP}
		_ = c.send(ctx, msg)
	}
	c.state = Init
	c.lease = nil
	if err := os.Remove(c.cfg.LeasePath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove persisted lease")
	}
	return nil
}

func (c *Client) save() error {
	data, err := json.Marshal(c.lease)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(c.cfg.LeasePath, data, 0o644)
}

// Load restores a previously-persisted lease, if present, setting state to
// BOUND. A missing or corrupt file leaves the client in INIT.
func (c *Client) Load() {
	data, err := os.ReadFile(c.cfg.LeasePath)
	if err != nil {
		return
	}
	var lease PersistedLease
	if err := json.Unmarshal(data, &lease); err != nil {
		return
	}
	c.lease = &lease
	c.state = Bound
}

func (c *Client) logf(ctx context.Context, format string, args ...interface{}) {
	dlog.Infof(ctx, format, args...)
}
