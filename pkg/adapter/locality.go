package adapter

import (
	"strings"

	"github.com/ccnetlab/ccnet/pkg/identity"
)

// IsLocal implements spec §4.4 Locality: a host is local iff it is
// "localhost", "127.0.0.1", equal to the node's hostname or FQDN, or falls
// within the private address ranges / hostname conventions this medium
// uses for node addressing.
func IsLocal(host string, self *identity.Identity) bool {
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	if self != nil && (host == self.Hostname || host == self.FQDN) {
		return true
	}
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") {
		return true
	}
	if strings.HasPrefix(host, "172.") {
		if oct, ok := secondOctet(host); ok && oct >= 16 && oct <= 31 {
			return true
		}
	}
	if strings.HasPrefix(host, "cc-") || strings.HasPrefix(host, "computer-") {
		return true
	}
	return false
}

// secondOctet extracts the second dotted-quad octet of a "172.X.Y.Z" style
// host string.
func secondOctet(host string) (int, bool) {
	parts := strings.SplitN(host, ".", 3)
	if len(parts) < 2 {
		return 0, false
	}
	n := 0
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// looksLikeDottedQuad is a loose check used by hostname->node-id
// resolution (spec §4.4 (b)): four dot-separated all-digit groups.
func looksLikeDottedQuad(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
