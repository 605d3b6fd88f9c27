// Package adapter implements component C7: the client-facing facade over
// the node's network daemon — URL parsing, locality classification, and
// HTTP/WebSocket/UDP dispatch with request/response correlation (spec
// §4.4).
package adapter

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// defaultPorts is spec §4.4's proto -> default port table.
var defaultPorts = map[string]uint16{
	"http":  80,
	"https": 443,
	"ws":    8080,
	"wss":   8443,
	"mqtt":  1883,
	"ftp":   21,
	"ssh":   22,
	"udp":   0,
}

// ParsedURL is the decomposed form of "<proto>://<host>[:<port>]<path>".
type ParsedURL struct {
	Proto string
	Host  string
	Port  uint16
	Path  string
}

// ParseURL implements spec §4.4 URL parsing: proto defaults to "http" if
// absent, path defaults to "/", and the port defaults per defaultPorts if
// not explicit in the host part.
func ParseURL(raw string) (*ParsedURL, error) {
	proto := "http"
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		proto = strings.ToLower(rest[:i])
		rest = rest[i+3:]
	}
	if rest == "" {
		return nil, errors.Errorf("adapter: empty host in url %q", raw)
	}

	path := "/"
	hostport := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		hostport = rest[:i]
		path = rest[i:]
	}
	if hostport == "" {
		return nil, errors.Errorf("adapter: empty host in url %q", raw)
	}

	host := hostport
	port, explicit := defaultPorts[proto]
	if i := strings.LastIndex(hostport, ":"); i >= 0 {
		host = hostport[:i]
		p, err := strconv.ParseUint(hostport[i+1:], 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "adapter: bad port in url %q", raw)
		}
		port = uint16(p)
	} else if !explicit {
		return nil, errors.Errorf("adapter: unknown proto %q in url %q and no port given", proto, raw)
	}

	return &ParsedURL{Proto: proto, Host: host, Port: port, Path: path}, nil
}
