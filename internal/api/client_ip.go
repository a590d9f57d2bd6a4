package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver picks the address rate limits are keyed on. Forwarding
// headers are only trusted when the direct peer is a configured proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

func NewClientIPResolver(trustedProxyCIDRs []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxyCIDRs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", value, err)
		}
		resolver.trusted = append(resolver.trusted, prefix.Masked())
	}

	return resolver, nil
}

func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer, ok := parseAddr(req.RemoteAddr)
	if !ok {
		return "unknown"
	}

	if r.isTrustedProxy(peer) {
		for _, part := range strings.Split(req.Header.Get("X-Forwarded-For"), ",") {
			if addr, ok := parseAddr(part); ok {
				return addr.String()
			}
		}
		if addr, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}
	}

	return peer.String()
}

// KeyFunc adapts Resolve to the rate limiter's key signature.
func (r *ClientIPResolver) KeyFunc(req *http.Request) (string, error) {
	return r.Resolve(req), nil
}

func (r *ClientIPResolver) isTrustedProxy(addr netip.Addr) bool {
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseAddr accepts a bare address, a quoted one or host:port.
func parseAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return netip.Addr{}, false
	}

	if addr, err := netip.ParseAddr(value); err == nil {
		return addr.Unmap(), true
	}

	host, _, err := net.SplitHostPort(value)
	if err != nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
