// Package admission implements Admission Control (spec.md §4.G): the IP
// filter, client authentication, per-client concurrency slots, and rate
// limiting that run, in that order, before a request reaches the runner —
// ported from backend/app/core/gateway/{firewall,auth,concurrent,ratelimit}.py.
package admission

import (
	"context"
	"net"
	"strings"

	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/store"
)

// Firewall evaluates the ordered IP allow/deny list. Unlike
// backend/app/core/gateway/firewall.py's check_firewall (a permanently
// disabled stub that always returns True), this is a real first-match-wins
// evaluator per spec.md §9's explicit instruction — see DESIGN.md Open
// Question 3.
type Firewall struct {
	rulesFn     func(ctx context.Context) ([]store.IPRule, error)
	defaultAllow bool
}

func NewFirewall(rulesFn func(ctx context.Context) ([]store.IPRule, error), defaultAllow bool) *Firewall {
	return &Firewall{rulesFn: rulesFn, defaultAllow: defaultAllow}
}

// Check returns an error (KindForbidden) if clientIP is denied.
func (f *Firewall) Check(ctx context.Context, clientIP string) error {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return gwerror.Forbidden("invalid or empty client IP")
	}

	rules, err := f.rulesFn(ctx)
	if err != nil {
		return gwerror.Internal(err, "loading firewall rules")
	}

	for _, rule := range rules {
		network, err := parseRule(rule.CIDR)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			if rule.Action == "allow" {
				return nil
			}
			return gwerror.Forbidden("client IP %s denied by firewall rule", clientIP)
		}
	}

	if f.defaultAllow {
		return nil
	}
	return gwerror.Forbidden("client IP %s not covered by any allow rule", clientIP)
}

// parseRule parses rule.CIDR, treating a bare IP (no "/") as a single-host
// network — /32 for IPv4, /128 for IPv6 — per spec.md §4.G.1.
func parseRule(cidr string) (*net.IPNet, error) {
	if _, network, err := net.ParseCIDR(cidr); err == nil {
		return network, nil
	}
	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, gwerror.BadRequest("invalid ip_range %q", cidr)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	mask := net.CIDRMask(bits, bits)
	return &net.IPNet{IP: ip, Mask: mask}, nil
}

// ClientIP extracts the admitting IP per spec.md §4.K: the rightmost entry
// of X-Forwarded-For, else the transport peer address.
func ClientIP(xForwardedFor, remoteAddr string) string {
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			if p := strings.TrimSpace(parts[i]); p != "" {
				return p
			}
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
