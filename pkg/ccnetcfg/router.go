package ccnetcfg

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PortForward is one entry of a router's port_forwards list (spec §4.5 DNAT).
type PortForward struct {
	DstPort  int
	Proto    string // "tcp" or "udp"
	LANIP    string
	LANPort  int
}

// RouterConfig is the parsed form of /etc/router.cfg (spec §4.5, §6).
type RouterConfig struct {
	NodeID uint32

	LANInterface  string
	WANInterface  string
	WLANInterface string

	LANSubnetCIDR string
	WANIPv4       string
	GatewayIPv4   string

	NATEnabled   bool
	DMZHost      string
	PortForwards []PortForward

	DHCPPoolStart string
	DHCPPoolEnd   string
	DHCPLeaseSecs int

	SSID     string
	Security string // "OPEN" or "WPA3"
	Channel  int

	LoggingLevel string
	LoggingFile  string
}

// LoadRouterConfig builds a RouterConfig from kv, the already-parsed
// contents of /etc/router.cfg.
func LoadRouterConfig(kv KV) (*RouterConfig, error) {
	idStr, ok := kv["id"]
	if !ok || idStr == "" {
		return nil, ErrMissingID
	}
	id, err := parseNodeID(idStr)
	if err != nil {
		return nil, errors.Wrap(ErrMissingID, err.Error())
	}

	pfs, err := parsePortForwards(kv.String("nat.port_forwards", ""))
	if err != nil {
		return nil, errors.Wrap(err, "nat.port_forwards")
	}

	return &RouterConfig{
		NodeID:        id,
		LANInterface:  kv.String("lan.interface", "eth0"),
		WANInterface:  kv.String("wan.interface", "eth1"),
		WLANInterface: kv.String("wlan.interface", "wlan0"),
		LANSubnetCIDR: kv.String("lan.subnet", "10.0.1.0/24"),
		WANIPv4:       kv.String("wan.ipv4", ""),
		GatewayIPv4:   kv.String("lan.gateway", "10.0.1.1"),
		NATEnabled:    kv.Bool("nat.enabled", true),
		DMZHost:       kv.String("nat.dmz_host", ""),
		PortForwards:  pfs,
		DHCPPoolStart: kv.String("dhcp.pool_start", "10.0.1.100"),
		DHCPPoolEnd:   kv.String("dhcp.pool_end", "10.0.1.200"),
		DHCPLeaseSecs: kv.Int("dhcp.lease_seconds", 3600),
		SSID:          kv.String("wireless.ssid", "ccnet"),
		Security:      kv.String("wireless.security", "OPEN"),
		Channel:       kv.Int("wireless.channel", 6),
		LoggingLevel:  kv.String("logging.level", "info"),
		LoggingFile:   kv.String("logging.file", "/var/log/routerd.log"),
	}, nil
}

// parsePortForwards parses "80/tcp=10.0.1.50:8080,53/udp=10.0.1.53:53".
func parsePortForwards(raw string) ([]PortForward, error) {
	if raw == "" {
		return nil, nil
	}
	var out []PortForward
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		lhs, rhs, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, errors.Errorf("malformed port forward %q", entry)
		}
		portStr, proto, ok := strings.Cut(lhs, "/")
		if !ok {
			proto = "tcp"
			portStr = lhs
		}
		dstPort, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, errors.Wrapf(err, "port forward %q", entry)
		}
		lanIP, lanPortStr, ok := strings.Cut(rhs, ":")
		if !ok {
			return nil, errors.Errorf("malformed port forward target %q", entry)
		}
		lanPort, err := strconv.Atoi(lanPortStr)
		if err != nil {
			return nil, errors.Wrapf(err, "port forward %q", entry)
		}
		out = append(out, PortForward{DstPort: dstPort, Proto: strings.ToLower(proto), LANIP: lanIP, LANPort: lanPort})
	}
	return out, nil
}
