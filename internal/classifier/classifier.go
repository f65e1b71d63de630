// Package classifier derives the metered subject of a request.
package classifier

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/auth"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
)

const unknownOrigin = "unknown"

type Options struct {
	// TrustForwarded enables X-Forwarded-For and X-Real-IP. Leave it off
	// unless the gateway only receives traffic through a proxy, since any
	// client can send these headers.
	TrustForwarded bool
	// TrustedProxies are the proxy hops skipped when walking
	// X-Forwarded-For from the right. When empty, only the immediate peer is
	// treated as a proxy.
	TrustedProxies []*net.IPNet
	ElevatedRoles  []string
}

type Classifier struct {
	trustForwarded bool
	proxies        []*net.IPNet
	elevated       map[string]struct{}
}

// New returns a classifier. Elevated roles are matched case-insensitively.
func New(opts Options) *Classifier {
	elevated := make(map[string]struct{}, len(opts.ElevatedRoles))
	for _, role := range opts.ElevatedRoles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" {
			elevated[role] = struct{}{}
		}
	}

	return &Classifier{
		trustForwarded: opts.TrustForwarded,
		proxies:        opts.TrustedProxies,
		elevated:       elevated,
	}
}

// IsElevated reports whether role is one of the configured elevated roles.
func (c *Classifier) IsElevated(role string) bool {
	_, ok := c.elevated[strings.ToLower(role)]
	return ok
}

// Classify never fails. A request without a usable identity is metered by
// its network origin.
func (c *Classifier) Classify(r *http.Request) ratelimit.Subject {
	if id, ok := auth.FromContext(r.Context()); ok && id.UserID != "" && id.Role != "" {
		class := ratelimit.ClassAuthenticated
		if c.IsElevated(id.Role) {
			class = ratelimit.ClassElevated
		}
		return ratelimit.Subject{
			Key:   UserKey(id.UserID, id.Role),
			Class: class,
		}
	}

	return ratelimit.Subject{
		Key:   "ip:" + c.origin(r),
		Class: ratelimit.ClassAnonymous,
	}
}

// UserKey builds the subject key of an authenticated caller. Both parts are
// escaped so a ':' inside either one cannot shift the boundary between them.
func UserKey(userID, role string) string {
	return "user:" + url.QueryEscape(userID) + ":" + url.QueryEscape(role)
}

// origin resolves the client address. With forwarding enabled the
// X-Forwarded-For chain is read right to left, starting from the peer, and
// the first hop that is not a trusted proxy wins. Entries left of that hop
// were written by the client and are never consulted.
func (c *Classifier) origin(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !c.trustForwarded || (peer != nil && !c.isProxy(peer, true)) {
		return ipString(peer)
	}

	if header := r.Header.Get("X-Forwarded-For"); strings.TrimSpace(header) != "" {
		hops := strings.Split(header, ",")
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			client = ip
			if !c.isProxy(ip, false) {
				break
			}
		}
		return ipString(client)
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ipString(peer)
}

func (c *Classifier) isProxy(ip net.IP, peer bool) bool {
	if len(c.proxies) == 0 {
		return peer
	}
	for _, n := range c.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseProxies parses addresses and CIDR ranges. A bare address is treated
// as a single-host range.
func ParseProxies(values []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", v)
			}
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy range %q: %w", v, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return unknownOrigin
	}
	return ip.String()
}
