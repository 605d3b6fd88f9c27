package handlers

import (
	"context"
	"sync"
	"time"
)

// HTTPRequest is what an HTTP handler receives (spec §4.2 "Handler
// contract").
type HTTPRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    string
	Source  uint32
}

// HTTPResponse is what an HTTP handler must return.
type HTTPResponse struct {
	Code    int
	Headers map[string]string
	Body    string
}

// HTTPHandler serves one registered port. It "must be synchronous or at
// most suspend on I/O the daemon owns" (spec §4.2); the daemon does not
// enforce a timeout (handlers are trusted).
type HTTPHandler func(ctx context.Context, req HTTPRequest) (HTTPResponse, error)

// WSHandler receives data frames for an accepted WebSocket-style
// connection. It returns nothing, so a frame the handler cannot process
// does not close the connection (WS has no HTTP-style response-per-message
// to carry an error status on).
type WSHandler func(ctx context.Context, connID string, data []byte)

// registration is one ServerRegistry entry (spec §3 ServerRegistry):
// "exactly one handler per port per role", but a single port MAY have both
// an HTTP and a WS handler (spec §9).
type registration struct {
	http      HTTPHandler
	ws        WSHandler
	createdAt time.Time
}

// Registry is spec §3's ServerRegistry: port -> {http_handler?, ws_handler?,
// created_at}. Grounded on .grounding_refs/pool.go's mutex-guarded map.
type Registry struct {
	mu    sync.RWMutex
	ports map[uint16]*registration
}

func NewRegistry() *Registry {
	return &Registry{ports: make(map[uint16]*registration)}
}

// RegisterHTTP binds an HTTP handler on port, replacing any existing HTTP
// handler on that port (a second http register_server call on the same
// port is a redefinition, not an error -- the spec only disallows more than
// one handler per *role*, so re-registering the same role is just an
// update).
func (r *Registry) RegisterHTTP(port uint16, h HTTPHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.ports[port]
	if reg == nil {
		reg = &registration{createdAt: time.Now()}
		r.ports[port] = reg
	}
	reg.http = h
}

// RegisterWS binds a WS handler on port.
func (r *Registry) RegisterWS(port uint16, h WSHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.ports[port]
	if reg == nil {
		reg = &registration{createdAt: time.Now()}
		r.ports[port] = reg
	}
	reg.ws = h
}

// Unregister removes both roles' handlers on port (spec §4.1
// unregister_server(port)).
func (r *Registry) Unregister(port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, port)
}

// HTTP returns the HTTP handler bound on port, if any.
func (r *Registry) HTTP(port uint16) (HTTPHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.ports[port]
	if !ok || reg.http == nil {
		return nil, false
	}
	return reg.http, true
}

// WS returns the WS handler bound on port, if any.
func (r *Registry) WS(port uint16) (WSHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.ports[port]
	if !ok || reg.ws == nil {
		return nil, false
	}
	return reg.ws, true
}

// UnregisterAll clears the registry (daemon shutdown, spec §4.1 "unregister
// handlers").
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports = make(map[uint16]*registration)
}

// PortSnapshot is the serializable shape of one registration, used by the
// daemon's "State save" (spec §4.1) -- handler closures themselves cannot
// be persisted, only which ports had which roles bound.
type PortSnapshot struct {
	Port      uint16    `json:"port"`
	HasHTTP   bool      `json:"has_http"`
	HasWS     bool      `json:"has_ws"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot returns one PortSnapshot per registered port, for persistence.
func (r *Registry) Snapshot() []PortSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PortSnapshot, 0, len(r.ports))
	for port, reg := range r.ports {
		out = append(out, PortSnapshot{
			Port:      port,
			HasHTTP:   reg.http != nil,
			HasWS:     reg.ws != nil,
			CreatedAt: reg.createdAt,
		})
	}
	return out
}
