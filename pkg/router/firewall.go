package router

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Chain names spec §4.5's firewall traverses a packet through.
type Chain string

const (
	ChainInput   Chain = "INPUT"
	ChainForward Chain = "FORWARD"
	ChainOutput  Chain = "OUTPUT"
)

// Action is a rule's or a chain's default disposition.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionDrop   Action = "DROP"
	ActionReject Action = "REJECT"
)

// Rule is one line of /etc/firewall.rules (spec §3 FirewallRule). SrcCIDR
// and DstCIDR are parsed net.IPNets rather than raw strings: per SPEC_FULL's
// redesign of the spec §9 open question, matching honors full CIDR prefix
// bits via net.IPNet.Contains, not the spec's "simple octet-level matching
// for masks that are multiples of 8" fallback.
type Rule struct {
	Chain   Chain
	Iface   string
	SrcCIDR *net.IPNet
	DstCIDR *net.IPNet
	Proto   string
	SPort   int // 0 means unset
	DPort   int // 0 means unset
	Action  Action
}

// Packet is the tuple a firewall decision is evaluated against.
type Packet struct {
	Iface   string
	SrcIP   net.IP
	DstIP   net.IP
	Proto   string
	SPort   int
	DPort   int
}

// Firewall holds the three chains plus their default policies.
type Firewall struct {
	rules    map[Chain][]Rule
	defaults map[Chain]Action
}

// NewFirewall builds an empty firewall with every chain defaulting to
// ACCEPT, matching a freshly-booted router that has not yet loaded
// /etc/firewall.rules.
func NewFirewall() *Firewall {
	return &Firewall{
		rules: map[Chain][]Rule{ChainInput: nil, ChainForward: nil, ChainOutput: nil},
		defaults: map[Chain]Action{
			ChainInput:   ActionAccept,
			ChainForward: ActionAccept,
			ChainOutput:  ActionAccept,
		},
	}
}

// SetDefault overrides a chain's default policy.
func (f *Firewall) SetDefault(c Chain, a Action) {
	f.defaults[c] = a
}

// AddRule appends r to the end of its chain's evaluation order.
func (f *Firewall) AddRule(r Rule) {
	f.rules[r.Chain] = append(f.rules[r.Chain], r)
}

// Evaluate implements spec §4.5: iterate the chain's rules in order, apply
// the first match's action; if none match, apply the chain's default
// policy. A rule matches when every non-empty condition it carries matches
// (logical AND).
func (f *Firewall) Evaluate(chain Chain, pkt Packet) Action {
	for _, r := range f.rules[chain] {
		if ruleMatches(r, pkt) {
			return r.Action
		}
	}
	return f.defaults[chain]
}

func ruleMatches(r Rule, pkt Packet) bool {
	if r.Iface != "" && r.Iface != pkt.Iface {
		return false
	}
	if r.SrcCIDR != nil && !r.SrcCIDR.Contains(pkt.SrcIP) {
		return false
	}
	if r.DstCIDR != nil && !r.DstCIDR.Contains(pkt.DstIP) {
		return false
	}
	if r.Proto != "" && !strings.EqualFold(r.Proto, pkt.Proto) {
		return false
	}
	if r.SPort != 0 && r.SPort != pkt.SPort {
		return false
	}
	if r.DPort != 0 && r.DPort != pkt.DPort {
		return false
	}
	return true
}

// ParseFirewallRules reads /etc/firewall.rules: one rule per line,
// "chain=FORWARD src_cidr=10.0.1.50/32 action=DROP", "#" comments and blank
// lines ignored, matching the key=value line shape pkg/ccnetcfg.ParseKV
// uses for the other two config files. A line that sets only "chain" and
// "default" sets that chain's default policy instead of appending a rule.
func ParseFirewallRules(r io.Reader) (*Firewall, error) {
	fw := NewFirewall()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		kv := make(map[string]string, len(fields))
		for _, f := range fields {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return nil, errors.Errorf("firewall.rules line %d: malformed field %q", lineNo, f)
			}
			kv[k] = v
		}
		chain := Chain(strings.ToUpper(kv["chain"]))
		if chain != ChainInput && chain != ChainForward && chain != ChainOutput {
			return nil, errors.Errorf("firewall.rules line %d: unknown chain %q", lineNo, kv["chain"])
		}
		if def, ok := kv["default"]; ok {
			fw.SetDefault(chain, Action(strings.ToUpper(def)))
			continue
		}
		rule := Rule{Chain: chain, Iface: kv["iface"], Proto: kv["proto"], Action: Action(strings.ToUpper(kv["action"]))}
		if rule.Action == "" {
			return nil, errors.Errorf("firewall.rules line %d: missing action", lineNo)
		}
		var err error
		if rule.SrcCIDR, err = parseOptionalCIDR(kv["src_cidr"], kv["src"]); err != nil {
			return nil, errors.Wrapf(err, "firewall.rules line %d", lineNo)
		}
		if rule.DstCIDR, err = parseOptionalCIDR(kv["dst_cidr"], kv["dst"]); err != nil {
			return nil, errors.Wrapf(err, "firewall.rules line %d", lineNo)
		}
		if sp, ok := kv["sport"]; ok {
			if rule.SPort, err = strconv.Atoi(sp); err != nil {
				return nil, errors.Wrapf(err, "firewall.rules line %d: sport", lineNo)
			}
		}
		if dp, ok := kv["dport"]; ok {
			if rule.DPort, err = strconv.Atoi(dp); err != nil {
				return nil, errors.Wrapf(err, "firewall.rules line %d: dport", lineNo)
			}
		}
		fw.AddRule(rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan firewall.rules")
	}
	return fw, nil
}

// parseOptionalCIDR accepts either a full CIDR ("10.0.1.0/24") under key
// "*_cidr" or a bare host address ("10.0.1.50", spec S8's scenario shape)
// under "src"/"dst", widened to a /32 host route.
func parseOptionalCIDR(cidr, bare string) (*net.IPNet, error) {
	if cidr != "" {
		_, n, err := net.ParseCIDR(cidr)
		return n, err
	}
	if bare != "" {
		ip := net.ParseIP(bare)
		if ip == nil {
			return nil, errors.Errorf("invalid address %q", bare)
		}
		if ip4 := ip.To4(); ip4 != nil {
			return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
	}
	return nil, nil
}
