package ccnetcfg

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// KV is a flat "key.sub = value" config file, the shape spec §6 calls out
// for /etc/network.cfg and /etc/router.cfg: one assignment per line, "#"
// starts a line comment, blank lines ignored. /etc/firewall.rules is not a
// KV file; router.ParseFirewallRules parses it.
type KV map[string]string

// ParseKV reads r as a KV file.
func ParseKV(r io.Reader) (KV, error) {
	kv := make(KV)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		kv[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan config")
	}
	return kv, nil
}

// LoadKVFile loads the first of paths that exists, returning an empty KV
// (not an error) if none do -- absence of /etc/network.cfg is not fatal by
// itself, spec §7 only makes "missing/invalid config" fatal when a required
// key is absent, which callers check after loading.
func LoadKVFile(paths ...string) (KV, string, error) {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", errors.Wrapf(err, "open config %s", p)
		}
		defer f.Close()
		kv, err := ParseKV(f)
		if err != nil {
			return nil, "", errors.Wrapf(err, "parse config %s", p)
		}
		return kv, p, nil
	}
	return KV{}, "", nil
}

func (kv KV) String(key, def string) string {
	if v, ok := kv[key]; ok && v != "" {
		return v
	}
	return def
}

func (kv KV) Int(key string, def int) int {
	if v, ok := kv[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (kv KV) Bool(key string, def bool) bool {
	if v, ok := kv[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (kv KV) List(key string, def []string) []string {
	v, ok := kv[key]
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
