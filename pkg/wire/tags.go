// Package wire defines the on-the-medium message envelope and the protocol
// tag vocabulary shared by every handler, the daemon, the adapter and the
// router.
package wire

// Tag is a protocol tag string that prefixes a datagram and selects the
// handler that consumes it (spec §6).
type Tag string

const (
	TagGeneric   Tag = "ccnet"
	TagDiscovery Tag = "ccnet_discovery"
	TagDNS       Tag = "ccnet_dns"
	TagARP       Tag = "ccnet_arp"
	TagHTTP      Tag = "ccnet_http"
	TagWS        Tag = "ccnet_ws"
	TagUDP       Tag = "ccnet_udp"
	TagUDPAlt    Tag = "UDP_PACKET"

	TagAdapterDiscovery Tag = "network_adapter_discovery"
	TagAdapterHTTP      Tag = "network_adapter_http"
	TagAdapterWS        Tag = "network_adapter_ws"
	TagAdapterUDP       Tag = "network_adapter_udp"

	TagDHCP         Tag = "DHCP"
	TagRouterDNS    Tag = "DNS"
	TagWirelessAuth Tag = "WIRELESS_AUTH"
	TagBeacon       Tag = "BEACON"
)

// PingTag returns the tag a ping request is sent on for a given source IP,
// and PongTag the tag its reply comes back on. Folding the source IP into
// the tag is what lets concurrent pingers avoid cross-talk (spec §4.2).
func PingTag(sourceIP string) Tag { return Tag("ping_" + sourceIP) }
func PongTag(sourceIP string) Tag { return Tag("pong_" + sourceIP) }

// IsUDPTag reports whether tag is one of the UDP transport aliases.
func IsUDPTag(t Tag) bool { return t == TagUDP || t == TagUDPAlt }
