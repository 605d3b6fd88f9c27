// Package daemon implements component C6: the per-node network daemon
// event loop that owns caches, the server registry, the presence timer,
// and state persistence, dispatching inbound datagrams to pkg/handlers
// (spec §4.1).
package daemon

import "fmt"

// State is one of the daemon's three lifecycle states (spec §4.1 Event loop).
type State int

const (
	Starting State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Info is the node-local info() IPC response (spec §4.1 Public contract).
type Info struct {
	ID             uint32 `json:"id"`
	MAC            string `json:"mac"`
	IPv4           string `json:"ipv4"`
	Hostname       string `json:"hostname"`
	FQDN           string `json:"fqdn"`
	ModemAvailable bool   `json:"modem_available"`
	UDPEnabled     bool   `json:"udp_enabled"`
}
