// Package netguard classifies hosts by the address space they resolve to and
// guards outbound connections against private and loopback targets.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"
)

// ErrPrivateAddress is returned when a target resolves to a disallowed address.
var ErrPrivateAddress = errors.New("blocked access to private/internal address")

// blockedPrefixes lists the disallowed address ranges. IPv4-mapped IPv6
// addresses are unmapped before matching.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("::1/128"),
	// "this network"; 0.0.0.0 reaches local listeners on most stacks.
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Classifier decides whether a hostname points into private address space.
// It holds no per-host state; every call resolves again.
type Classifier struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewClassifier creates a Classifier backed by the system resolver.
func NewClassifier(logger *slog.Logger) *Classifier {
	return NewClassifierWithResolver(net.DefaultResolver, logger)
}

// NewClassifierWithResolver creates a Classifier that resolves through r.
func NewClassifierWithResolver(r Resolver, logger *slog.Logger) *Classifier {
	return &Classifier{
		resolver: r,
		logger:   logger.With("component", "address_classifier"),
	}
}

// IsPrivate reports whether hostname is, or resolves to, a disallowed address.
// A host that fails to resolve is reported as not private; the fetch that
// follows fails on its own.
func (c *Classifier) IsPrivate(ctx context.Context, hostname string) bool {
	if hostname == "" {
		return false
	}
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return IsPrivateAddr(addr)
	}

	addrs, err := c.resolver.LookupNetIP(ctx, "ip", hostname)
	if err != nil {
		c.logger.Debug("host did not resolve; treating as public",
			"host", hostname,
			"err", err,
		)
		return false
	}
	for _, addr := range addrs {
		if IsPrivateAddr(addr) {
			return true
		}
	}
	return false
}

// IsPrivateAddr reports whether addr falls in a disallowed range.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DialControl is a net.Dialer Control hook. It runs after name resolution
// with the literal address being dialed, so it also covers redirects and
// names whose DNS answer changed since validation.
func (c *Classifier) DialControl(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if IsPrivateAddr(ap.Addr()) {
		c.logger.Warn("refused outbound connection to private address", "address", address)
		return fmt.Errorf("dial %s: %w", address, ErrPrivateAddress)
	}
	return nil
}
