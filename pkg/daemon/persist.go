package daemon

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ccnetlab/ccnet/internal/atomicfile"
	"github.com/ccnetlab/ccnet/pkg/cache"
	"github.com/ccnetlab/ccnet/pkg/handlers"
	"github.com/ccnetlab/ccnet/pkg/netstats"
)

// PersistedState is the shape written to /var/cache/netd.state by "State
// save" (spec §4.1: "serialize ARP cache, DNS cache, server registry,
// stats (only), start_time").
type PersistedState struct {
	ARP       map[string]cache.ARPEntry    `json:"arp"`
	DNS       map[string]cache.DNSEntry    `json:"dns"`
	Registry  []handlers.PortSnapshot      `json:"registry"`
	Stats     netstats.Snapshot            `json:"stats"`
	StartTime time.Time                    `json:"start_time"`
}

// saveState writes PersistedState to d.cfg.StatePath atomically. Failures
// are logged at warn and otherwise swallowed (spec §4.1 "best-effort...
// must not corrupt the live cache").
func (d *Daemon) saveState(now time.Time) {
	ps := PersistedState{
		ARP:       d.deps.ARP.Snapshot(),
		DNS:       d.deps.DNS.Snapshot(),
		Registry:  d.deps.Registry.Snapshot(),
		Stats:     d.deps.Stats.Snapshot(now),
		StartTime: d.startTime,
	}
	data, err := json.Marshal(ps)
	if err != nil {
		d.logWarnf("marshal state: %v", err)
		return
	}
	if err := atomicfile.WriteFile(d.cfg.StatePath, data, 0o644); err != nil {
		d.logWarnf("write state: %v", err)
	}
}

// writeStats writes just the stats snapshot to d.cfg.StatsPath (spec §4.1
// "Stats write").
func (d *Daemon) writeStats(now time.Time) {
	snap := d.deps.Stats.Snapshot(now)
	data, err := json.Marshal(snap)
	if err != nil {
		d.logWarnf("marshal stats: %v", err)
		return
	}
	if err := atomicfile.WriteFile(d.cfg.StatsPath, data, 0o644); err != nil {
		d.logWarnf("write stats: %v", err)
	}
}

// loadState restores ARP/DNS caches from a prior state save, if present. A
// missing or corrupt file is not an error -- a fresh daemon simply starts
// with empty caches.
func (d *Daemon) loadState() {
	data, err := os.ReadFile(d.cfg.StatePath)
	if err != nil {
		return
	}
	var ps PersistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		d.logWarnf("corrupt state file %s: %v", d.cfg.StatePath, err)
		return
	}
	if ps.ARP != nil {
		d.deps.ARP.Restore(ps.ARP)
	}
	if ps.DNS != nil {
		d.deps.DNS.Restore(ps.DNS)
	}
}
