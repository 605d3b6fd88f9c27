package router

import (
	"net"
	"sort"
)

// Route is one entry of the routing table (spec §4.5 "routing table
// lookup"): a destination network and the interface/gateway that reaches
// it, with metric breaking ties between overlapping entries.
type Route struct {
	Dest    *net.IPNet
	Iface   string
	Gateway string
	Metric  int
}

// RoutingTable is a longest-prefix-match lookup over a small, static set of
// routes -- this router never speaks a dynamic routing protocol, so a
// linear scan over the (at most a handful of) entries is the right shape,
// not a trie.
type RoutingTable struct {
	routes []Route
}

// NewRoutingTable builds the default table spec §4.5 describes: the LAN
// subnet direct via the LAN interface at metric 0, and a default route out
// the WAN interface via gateway at metric 100.
func NewRoutingTable(lanCIDR, lanIface, wanIface, gateway string) (*RoutingTable, error) {
	t := &RoutingTable{}
	if lanCIDR != "" {
		_, lanNet, err := net.ParseCIDR(lanCIDR)
		if err != nil {
			return nil, err
		}
		t.routes = append(t.routes, Route{Dest: lanNet, Iface: lanIface, Metric: 0})
	}
	if wanIface != "" {
		_, defNet, _ := net.ParseCIDR("0.0.0.0/0")
		t.routes = append(t.routes, Route{Dest: defNet, Iface: wanIface, Gateway: gateway, Metric: 100})
	}
	return t, nil
}

// Add inserts an additional route (used by tests exercising overlapping
// prefixes and metric tie-breaks).
func (t *RoutingTable) Add(r Route) {
	t.routes = append(t.routes, r)
}

// Lookup returns the best route for dst: the longest matching prefix,
// ties broken by the lower metric (spec §4.5).
func (t *RoutingTable) Lookup(dst net.IP) (Route, bool) {
	var candidates []Route
	for _, r := range t.routes {
		if r.Dest.Contains(dst) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Route{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		oi, _ := candidates[i].Dest.Mask.Size()
		oj, _ := candidates[j].Dest.Mask.Size()
		if oi != oj {
			return oi > oj
		}
		return candidates[i].Metric < candidates[j].Metric
	})
	return candidates[0], true
}
