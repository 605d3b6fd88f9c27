package handlers

import (
	"sync"
	"time"
)

// WSConnection is spec §3's WSConnection record.
type WSConnection struct {
	ID             string
	PeerNodeID     uint32
	Port           uint16
	EstablishedAt  time.Time
	LastActivityAt time.Time
}

// WSTable is the node's live WebSocket-style connection table (spec §4.2
// WebSocket lifecycle state machine). Only Established connections are
// present in the table -- Pending is represented implicitly by "we just
// sent accept/reject and haven't inserted yet", per the state diagram in
// spec §4.2.
type WSTable struct {
	mu    sync.Mutex
	conns map[string]*WSConnection
}

func NewWSTable() *WSTable {
	return &WSTable{conns: make(map[string]*WSConnection)}
}

// Insert adds an Established connection (spec: "A WS connection in the
// connection table implies the accept handshake completed").
func (t *WSTable) Insert(id string, peer uint32, port uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[id] = &WSConnection{ID: id, PeerNodeID: peer, Port: port, EstablishedAt: now, LastActivityAt: now}
}

// Touch refreshes last_activity_at for an established connection; reports
// false if id is unknown (spec: "If a data arrives for an unknown
// connection id, it is dropped -- no implicit accept").
func (t *WSTable) Touch(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	if !ok {
		return false
	}
	c.LastActivityAt = now
	return true
}

// Get returns the connection, if established.
func (t *WSTable) Get(id string) (*WSConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	return c, ok
}

// Remove deletes id atomically (spec: "a close message removes it
// atomically").
func (t *WSTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// SweepIdle removes every connection whose last activity is older than
// timeout (spec §4.1 cleanup, §8 property 7 "WS liveness"). Returns the
// removed connection ids.
func (t *WSTable) SweepIdle(timeout time.Duration, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for id, c := range t.conns {
		if now.Sub(c.LastActivityAt) > timeout {
			delete(t.conns, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Len returns the number of established connections.
func (t *WSTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
