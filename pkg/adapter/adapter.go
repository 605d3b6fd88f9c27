package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/ccnetlab/ccnet/pkg/daemon"
	"github.com/ccnetlab/ccnet/pkg/handlers"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/udp"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

const (
	defaultHTTPTimeout    = 5 * time.Second
	defaultResolveTimeout = 2 * time.Second
	defaultWSTimeout      = 5 * time.Second
)

// ErrHostUnreachable is returned by hostname->node-id resolution on timeout
// (spec §4.4).
var ErrHostUnreachable = errors.New("adapter: host unreachable")

// ErrTimeout is returned when an HTTP or WS round trip exceeds its timeout.
var ErrTimeout = errors.New("adapter: request timed out")

// Config configures an Adapter.
type Config struct {
	Self   *identity.Identity
	Link   link.Link
	Daemon *daemon.Daemon
	UDP    *udp.Manager

	HTTPTimeout    time.Duration
	ResolveTimeout time.Duration
	WSTimeout      time.Duration

	// HTTPClient serves remote (non-local) requests, delegating to the host
	// environment's native HTTP facility (spec §4.4). Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	Now func() time.Time
}

// Adapter implements component C7.
type Adapter struct {
	cfg          Config
	reqID        uint64
	resolveGroup singleflight.Group
}

func New(cfg Config) *Adapter {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	if cfg.WSTimeout <= 0 {
		cfg.WSTimeout = defaultWSTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) nextRequestID() string {
	return strconv.FormatUint(atomic.AddUint64(&a.reqID, 1), 10)
}

// HTTPResult is the object the spec's adapter.http(...) exposes.
type HTTPResult struct {
	Code    int
	Body    string
	Headers map[string]string
}

// DoHTTP implements spec §4.4 HTTP: local requests are dispatched over the
// medium with id-based correlation; remote requests delegate to the host
// environment's native HTTP client.
func (a *Adapter) DoHTTP(ctx context.Context, method, rawURL string, headers map[string]string, body string) (*HTTPResult, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if !IsLocal(u.Host, a.cfg.Self) {
		return a.doRemoteHTTP(ctx, method, rawURL, headers, body)
	}

	nodeID, err := a.ResolveNodeID(ctx, u.Host)
	if err != nil {
		return nil, err
	}

	id := a.nextRequestID()
	req := handlers.HTTPRequestMsg{
		Type:    wire.TypeHTTPRequest,
		ID:      id,
		Method:  method,
		Path:    u.Path,
		Port:    u.Port,
		Headers: headers,
		Body:    body,
	}
	payload, err := wire.Marshal(req)
	if err != nil {
		return nil, err
	}

	match := func(p []byte) bool {
		var head struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if wire.Unmarshal(p, &head) != nil {
			return false
		}
		return wire.Canonical(head.Type) == wire.TypeHTTPResponse && head.ID == id
	}
	ch, cancel := a.cfg.Daemon.Await(wire.TagHTTP, match)
	defer cancel()

	if err := a.cfg.Link.Send(ctx, nodeID, wire.TagHTTP, payload); err != nil {
		return nil, err
	}

	select {
	case dg := <-ch:
		var resp handlers.HTTPResponseMsg
		if err := wire.Unmarshal(dg.Payload, &resp); err != nil {
			return nil, err
		}
		return &HTTPResult{Code: resp.Code, Body: resp.Body, Headers: resp.Headers}, nil
	case <-time.After(a.cfg.HTTPTimeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) doRemoteHTTP(ctx context.Context, method, rawURL string, headers map[string]string, body string) (*HTTPResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for k := range resp.Header {
		out[k] = resp.Header.Get(k)
	}
	return &HTTPResult{Code: resp.StatusCode, Body: string(data), Headers: out}, nil
}

// ResolveNodeID implements spec §4.4 hostname -> node-id resolution.
//
// Concurrent lookups for the same host are collapsed into a single
// broadcast/wait via singleflight, so a burst of DoHTTP calls against one
// hostname doesn't flood the medium with duplicate id_query/hostname_query
// traffic.
func (a *Adapter) ResolveNodeID(ctx context.Context, host string) (uint32, error) {
	if host == "localhost" || (a.cfg.Self != nil && (host == a.cfg.Self.Hostname || host == a.cfg.Self.FQDN)) {
		return a.cfg.Self.ID, nil
	}

	v, err, _ := a.resolveGroup.Do(host, func() (interface{}, error) {
		return a.resolveRemoteNodeID(ctx, host)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

func (a *Adapter) resolveRemoteNodeID(ctx context.Context, host string) (uint32, error) {
	if looksLikeDottedQuad(host) {
		q := handlers.IDQuery{Type: wire.TypeIDQuery, IP: host}
		payload, err := wire.Marshal(q)
		if err != nil {
			return 0, err
		}
		match := func(p []byte) bool {
			var head struct {
				Type string `json:"type"`
				IP   string `json:"ip"`
			}
			if wire.Unmarshal(p, &head) != nil {
				return false
			}
			return wire.Canonical(head.Type) == wire.TypeIDResponse && head.IP == host
		}
		ch, cancel := a.cfg.Daemon.Await(wire.TagDiscovery, match)
		defer cancel()
		if err := a.cfg.Link.Broadcast(ctx, wire.TagDiscovery, payload); err != nil {
			return 0, err
		}
		select {
		case dg := <-ch:
			var resp handlers.IDResponse
			if err := wire.Unmarshal(dg.Payload, &resp); err != nil {
				return 0, err
			}
			return dg.SenderID, nil
		case <-time.After(a.cfg.ResolveTimeout):
			return 0, ErrHostUnreachable
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	q := handlers.HostnameQuery{Type: wire.TypeHostnameQuery, Hostname: host}
	payload, err := wire.Marshal(q)
	if err != nil {
		return 0, err
	}
	match := func(p []byte) bool {
		var head struct {
			Type     string `json:"type"`
			Hostname string `json:"hostname"`
		}
		if wire.Unmarshal(p, &head) != nil {
			return false
		}
		return wire.Canonical(head.Type) == wire.TypeHostnameResponse && head.Hostname == host
	}
	ch, cancel := a.cfg.Daemon.Await(wire.TagAdapterDiscovery, match)
	defer cancel()
	if err := a.cfg.Link.Broadcast(ctx, wire.TagAdapterDiscovery, payload); err != nil {
		return 0, err
	}
	select {
	case dg := <-ch:
		return dg.SenderID, nil
	case <-time.After(a.cfg.ResolveTimeout):
		return 0, ErrHostUnreachable
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Ping sends an ICMP-ping-style request to targetIP and waits for the
// matching pong (spec §4.2 ICMP-ping / §4.4 dispatch).
func (a *Adapter) Ping(ctx context.Context, targetID uint32, targetIP string, seq int, timeout time.Duration) (handlers.PingReply, error) {
	req := handlers.BuildPingRequest(a.cfg.Self.IPv4, seq, a.cfg.Now().UnixMilli())
	payload, err := wire.Marshal(req)
	if err != nil {
		return handlers.PingReply{}, err
	}
	match := func(p []byte) bool {
		var r handlers.PingReply
		if wire.Unmarshal(p, &r) != nil {
			return false
		}
		return r.Seq == seq && r.Source == targetIP
	}
	ch, cancel := a.cfg.Daemon.Await(wire.PongTag(a.cfg.Self.IPv4), match)
	defer cancel()
	if err := a.cfg.Link.Send(ctx, targetID, wire.PingTag(a.cfg.Self.IPv4), payload); err != nil {
		return handlers.PingReply{}, err
	}
	select {
	case dg := <-ch:
		var reply handlers.PingReply
		if err := wire.Unmarshal(dg.Payload, &reply); err != nil {
			return handlers.PingReply{}, err
		}
		return reply, nil
	case <-time.After(timeout):
		return handlers.PingReply{}, ErrTimeout
	case <-ctx.Done():
		return handlers.PingReply{}, ctx.Err()
	}
}

// NewConnectionID builds a "ws_<now_ms>_<rand>" id per spec §4.4 WebSocket;
// the random component is a uuid rather than a raw PRNG draw, matching how
// the teacher mints opaque connection identifiers.
func NewConnectionID(now time.Time) string {
	return fmt.Sprintf("ws_%d_%s", now.UnixMilli(), uuid.NewString())
}
