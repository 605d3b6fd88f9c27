package ccnetcfg

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"github.com/ccnetlab/ccnet/pkg/identity"
)

// NodeConfig is the parsed form of /etc/network.cfg (spec §6), with
// defaults from the table in spec §6 already applied.
type NodeConfig struct {
	ID       uint32
	MAC      string
	IPv4     string
	Hostname string
	Gateway  string
	DNS      []string

	DNSTTLSeconds int
	ARPTTLSeconds int

	DiscoveryEnabled  bool
	DiscoveryInterval int

	ConnectionTimeoutSeconds int

	LoggingLevel string
	LoggingFile  string

	UDPEnabled bool
	Tags       identity.Tags
}

// envOverlay is processed by go-envconfig with prefix CCNET_ (SPEC_FULL.md
// B "Configuration"), e.g. CCNET_HOSTNAME, CCNET_LOGGING_LEVEL. Any field
// left at its zero value does not override the file-sourced KV.
type envOverlay struct {
	Hostname     string `env:"CCNET_HOSTNAME"`
	LoggingLevel string `env:"CCNET_LOGGING_LEVEL"`
	LoggingFile  string `env:"CCNET_LOGGING_FILE"`
}

// ErrMissingID is the Configuration error (spec §7) that makes daemon
// startup fatal: every node must be told its own id.
var ErrMissingID = errors.New("config: \"id\" is required")

// LoadNodeConfig reads /etc/network.cfg (falling back to
// /config/network.cfg per spec §6), overlays CCNET_* environment variables,
// and fills in every default from the spec §6 table.
func LoadNodeConfig(ctx context.Context) (*NodeConfig, error) {
	kv, _, err := LoadKVFile("/etc/network.cfg", "/config/network.cfg")
	if err != nil {
		return nil, err
	}

	var overlay envOverlay
	if err := envconfig.Process(ctx, &overlay); err != nil {
		return nil, errors.Wrap(err, "process environment overlay")
	}

	idStr, ok := kv["id"]
	if !ok || idStr == "" {
		return nil, ErrMissingID
	}
	id, err := parseNodeID(idStr)
	if err != nil {
		return nil, errors.Wrap(ErrMissingID, err.Error())
	}

	hostname := kv.String("hostname", "")
	if overlay.Hostname != "" {
		hostname = overlay.Hostname
	}
	loggingLevel := kv.String("logging.level", "info")
	if overlay.LoggingLevel != "" {
		loggingLevel = overlay.LoggingLevel
	}
	loggingFile := kv.String("logging.file", "/var/log/netd.log")
	if overlay.LoggingFile != "" {
		loggingFile = overlay.LoggingFile
	}

	tags := identity.DefaultTags()
	tags.Discovery = kv.Bool("protocols.discovery", tags.Discovery)
	tags.DNS = kv.Bool("protocols.dns", tags.DNS)
	tags.ARP = kv.Bool("protocols.arp", tags.ARP)
	tags.HTTP = kv.Bool("protocols.http", tags.HTTP)
	tags.WS = kv.Bool("protocols.ws", tags.WS)
	tags.UDP = kv.Bool("protocols.udp", tags.UDP)
	tags.Generic = kv.Bool("protocols.generic", tags.Generic)

	return &NodeConfig{
		ID:                       id,
		MAC:                      kv.String("mac", ""),
		IPv4:                     kv.String("ipv4", ""),
		Hostname:                 hostname,
		Gateway:                  kv.String("gateway", ""),
		DNS:                      kv.List("dns", nil),
		DNSTTLSeconds:            kv.Int("cache.dns_ttl", 300),
		ARPTTLSeconds:            kv.Int("cache.arp_ttl", 600),
		DiscoveryEnabled:         kv.Bool("services.discovery.enabled", true),
		DiscoveryInterval:        kv.Int("services.discovery.interval", 30),
		ConnectionTimeoutSeconds: kv.Int("advanced.connection_timeout", 30),
		LoggingLevel:             loggingLevel,
		LoggingFile:              loggingFile,
		UDPEnabled:               kv.Bool("udp.enabled", true),
		Tags:                     tags,
	}, nil
}

// Identity builds this config's NodeIdentity.
func (c *NodeConfig) Identity() *identity.Identity {
	return identity.New(c.ID, c.MAC, c.IPv4, c.Hostname, c.Gateway, c.DNS, c.Tags)
}

func parseNodeID(s string) (uint32, error) {
	var id uint32
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
