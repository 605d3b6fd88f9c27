package router

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFirewallBlock implements scenario S8: a FORWARD rule dropping
// src=10.0.1.50 traffic, verified with Firewall.Evaluate on the FORWARD
// chain (the ForwardPacket datapath and its drop counter are covered in
// nat_test.go).
func TestFirewallBlock(t *testing.T) {
	fw, err := ParseFirewallRules(strings.NewReader("chain=FORWARD src=10.0.1.50 action=DROP\n"))
	require.NoError(t, err)

	blocked := fw.Evaluate(ChainForward, Packet{
		SrcIP: net.ParseIP("10.0.1.50"),
		DstIP: net.ParseIP("8.8.8.8"),
		Proto: "tcp",
	})
	assert.Equal(t, ActionDrop, blocked)

	allowed := fw.Evaluate(ChainForward, Packet{
		SrcIP: net.ParseIP("10.0.1.51"),
		DstIP: net.ParseIP("8.8.8.8"),
		Proto: "tcp",
	})
	assert.Equal(t, ActionAccept, allowed, "default policy is ACCEPT when nothing matches")
}

func TestFirewallFullCIDRMatching(t *testing.T) {
	fw, err := ParseFirewallRules(strings.NewReader("chain=FORWARD src_cidr=10.0.1.0/25 action=DROP\n"))
	require.NoError(t, err)

	inRange := fw.Evaluate(ChainForward, Packet{SrcIP: net.ParseIP("10.0.1.100"), DstIP: net.ParseIP("1.1.1.1")})
	assert.Equal(t, ActionDrop, inRange, "10.0.1.100 is within the /25's first 128 addresses")

	outOfRange := fw.Evaluate(ChainForward, Packet{SrcIP: net.ParseIP("10.0.1.200"), DstIP: net.ParseIP("1.1.1.1")})
	assert.Equal(t, ActionAccept, outOfRange, "10.0.1.200 falls outside a /25 (bit 7 set), unlike octet-only matching")
}

func TestFirewallDefaultPolicyOverride(t *testing.T) {
	fw, err := ParseFirewallRules(strings.NewReader("chain=INPUT default=DROP\n"))
	require.NoError(t, err)
	assert.Equal(t, ActionDrop, fw.Evaluate(ChainInput, Packet{SrcIP: net.ParseIP("1.2.3.4")}))
}

func TestFirewallFirstMatchWins(t *testing.T) {
	fw, err := ParseFirewallRules(strings.NewReader(
		"chain=FORWARD src=10.0.1.50 action=ACCEPT\n" +
			"chain=FORWARD src=10.0.1.50 action=DROP\n",
	))
	require.NoError(t, err)
	assert.Equal(t, ActionAccept, fw.Evaluate(ChainForward, Packet{SrcIP: net.ParseIP("10.0.1.50")}))
}

func TestRoutingLongestPrefixMatch(t *testing.T) {
	rt, err := NewRoutingTable("10.0.1.0/24", "eth0", "eth1", "10.0.1.1")
	require.NoError(t, err)

	r, ok := rt.Lookup(net.ParseIP("10.0.1.50"))
	require.True(t, ok)
	assert.Equal(t, "eth0", r.Iface)

	r, ok = rt.Lookup(net.ParseIP("8.8.8.8"))
	require.True(t, ok)
	assert.Equal(t, "eth1", r.Iface)
	assert.Equal(t, "10.0.1.1", r.Gateway)
}

func TestRoutingMetricTieBreak(t *testing.T) {
	rt, err := NewRoutingTable("10.0.1.0/24", "eth0", "", "")
	require.NoError(t, err)
	rt.Add(Route{Dest: mustCIDR("10.0.1.0/24"), Iface: "eth2", Metric: 5})

	r, ok := rt.Lookup(net.ParseIP("10.0.1.5"))
	require.True(t, ok)
	assert.Equal(t, "eth0", r.Iface, "equal-prefix routes break ties by lower metric")
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}
