package goGate

import (
	"net"
	"net/netip"
	"strings"
)

// ClientIP resolves the caller's address from the transport peer address and
// the X-Forwarded-For value received with the request.
//
// The peer is the client unless it falls inside Proxy.TrustedProxies. Only
// then is forwardedFor read, right to left, skipping trusted hops; the first
// untrusted hop is the client. A malformed hop stops the walk at the last
// address that was parsed. With no trusted proxies configured forwardedFor is
// ignored.
func (e *Engine) ClientIP(remoteAddr, forwardedFor string) string {
	host := peerHost(remoteAddr)
	if e == nil || len(e.trustedProxies) == 0 || strings.TrimSpace(forwardedFor) == "" {
		return host
	}
	client, err := netip.ParseAddr(host)
	if err != nil || !e.trustedProxy(client.Unmap()) {
		return host
	}

	hops := strings.Split(forwardedFor, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !e.trustedProxy(client) {
			break
		}
	}
	return client.String()
}

func (e *Engine) trustedProxy(addr netip.Addr) bool {
	for _, prefix := range e.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
