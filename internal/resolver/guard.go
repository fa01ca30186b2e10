package resolver

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrBlockedHost is returned for requests aimed at loopback, link-local
// or cloud metadata addresses.
var ErrBlockedHost = errors.New("blocked host")

var blockedNames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// lookupIP is replaced in tests.
var lookupIP = net.LookupIP

// CheckHost rejects host when it names or resolves to a loopback,
// link-local (including 169.254.169.254) or unspecified address. Lookup
// failures pass; the request itself reports them.
func CheckHost(host string) error {
	name := strings.TrimSuffix(strings.ToLower(host), ".")
	if blockedNames[name] || strings.HasSuffix(name, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	ips := []net.IP{net.ParseIP(name)}
	if ips[0] == nil {
		resolved, err := lookupIP(name)
		if err != nil {
			return nil //nolint:nilerr // the fetch reports DNS failures
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, ip)
		}
	}
	return nil
}
