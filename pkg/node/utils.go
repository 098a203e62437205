package node

import (
	"net"
	"strings"
)

// DefaultPort is appended to addresses that do not carry one.
const DefaultPort = "8080"

// NormalizeHostPort cuts the http:// and https:// prefixes from addr and adds
// defPort when addr has no port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}
