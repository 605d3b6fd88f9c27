package adapter

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ccnetlab/ccnet/pkg/handlers"
	"github.com/ccnetlab/ccnet/pkg/wire"
)

func errorsWSRejected(reason string) error {
	return errors.Errorf("adapter: ws connection rejected: %s", reason)
}

// Conn is the object spec §4.4's adapter.ws(...) returns: send/receive/close
// over an established WebSocket-style connection.
type Conn struct {
	id     string
	peer   uint32
	a      *Adapter
	inbox  <-chan wire.Datagram
	cancel func()
}

// OpenWS implements spec §4.4 WebSocket: local connect with accept/reject
// correlation (timeout 5s default). Remote hosts are out of scope for this
// medium's WS emulation (spec §4.4 only defines the local path).
func (a *Adapter) OpenWS(ctx context.Context, rawURL string) (*Conn, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	nodeID, err := a.ResolveNodeID(ctx, u.Host)
	if err != nil {
		return nil, err
	}

	id := NewConnectionID(a.cfg.Now())
	msg := handlers.BuildWSConnect(id, rawURL)
	payload, err := wire.Marshal(msg)
	if err != nil {
		return nil, err
	}

	match := func(p []byte) bool {
		var head struct {
			Type         string `json:"type"`
			ConnectionID string `json:"connectionId"`
		}
		if wire.Unmarshal(p, &head) != nil {
			return false
		}
		typ := wire.Canonical(head.Type)
		return (typ == wire.TypeWSAccept || typ == wire.TypeWSReject) && head.ConnectionID == id
	}
	ch, cancelAwait := a.cfg.Daemon.Await(wire.TagWS, match)

	if err := a.cfg.Link.Send(ctx, nodeID, wire.TagWS, payload); err != nil {
		cancelAwait()
		return nil, err
	}

	select {
	case dg := <-ch:
		typ, _ := wire.PeekType(dg.Payload)
		if typ == wire.TypeWSReject {
			var rej handlers.WSRejectMsg
			wire.Unmarshal(dg.Payload, &rej)
			return nil, errorsWSRejected(rej.Reason)
		}
		dataCh, cancelData := a.cfg.Daemon.Subscribe(wire.TagWS, func(p []byte) bool {
			var head struct {
				Type         string `json:"type"`
				ConnectionID string `json:"connectionId"`
			}
			if wire.Unmarshal(p, &head) != nil {
				return false
			}
			return wire.Canonical(head.Type) == wire.TypeWSData && head.ConnectionID == id
		})
		return &Conn{id: id, peer: nodeID, a: a, inbox: dataCh, cancel: cancelData}, nil
	case <-time.After(a.cfg.WSTimeout):
		cancelAwait()
		return nil, ErrTimeout
	case <-ctx.Done():
		cancelAwait()
		return nil, ctx.Err()
	}
}

// Send transmits a data frame on the connection.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	msg := handlers.WSDataMsg{Type: wire.TypeWSData, ConnectionID: c.id, Data: string(data)}
	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	return c.a.cfg.Link.Send(ctx, c.peer, wire.TagWS, payload)
}

// Receive blocks for the next data frame up to timeout.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case dg := <-c.inbox:
		var msg handlers.WSDataMsg
		if err := wire.Unmarshal(dg.Payload, &msg); err != nil {
			return nil, err
		}
		return []byte(msg.Data), nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Close sends a close frame and releases the connection's persistent data
// subscription.
func (c *Conn) Close(ctx context.Context) error {
	defer c.cancel()
	msg := handlers.WSCloseMsg{Type: wire.TypeWSClose, ConnectionID: c.id}
	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	return c.a.cfg.Link.Send(ctx, c.peer, wire.TagWS, payload)
}
