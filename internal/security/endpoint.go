// Package security vets outbound endpoints the server is configured to call.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrInvalidScheme    = errors.New("URL must use http or https scheme")
	ErrCredentialsInURL = errors.New("URL must not carry credentials")
	ErrPrivateAddress   = errors.New("URL points to a private or loopback address")
	ErrMetadataEndpoint = errors.New("URL points to a cloud metadata endpoint")
	ErrUnresolvableHost = errors.New("cannot resolve hostname")
)

var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
}

var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("169.254.169.254"),
	netip.MustParseAddr("100.100.100.200"),
	netip.MustParseAddr("fd00:ec2::254"),
}

// Resolver looks up the addresses of a host.
type Resolver func(host string) ([]netip.Addr, error)

func systemResolver(host string) ([]netip.Addr, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, a.Unmap())
		}
	}
	return out, nil
}

// EndpointPolicy controls which destinations CheckEndpoint accepts.
type EndpointPolicy struct {
	// AllowPrivate admits loopback, private and link-local addresses.
	AllowPrivate bool
	Resolve      Resolver
}

// CheckEndpoint validates rawURL as a destination for outbound calls.
// Cloud metadata endpoints are always refused.
func (p EndpointPolicy) CheckEndpoint(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrInvalidScheme
	}
	if u.User != nil {
		return ErrCredentialsInURL
	}

	host := strings.ToLower(u.Hostname())
	if metadataHosts[host] {
		return ErrMetadataEndpoint
	}

	var addrs []netip.Addr
	if a, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{a.Unmap()}
	} else {
		resolve := p.Resolve
		if resolve == nil {
			resolve = systemResolver
		}
		addrs, err = resolve(host)
		if err != nil || len(addrs) == 0 {
			return fmt.Errorf("%w: %s", ErrUnresolvableHost, host)
		}
	}

	for _, a := range addrs {
		if err := p.checkAddr(a); err != nil {
			return err
		}
	}
	return nil
}

func (p EndpointPolicy) checkAddr(a netip.Addr) error {
	for _, m := range metadataAddrs {
		if a == m {
			return ErrMetadataEndpoint
		}
	}
	if p.AllowPrivate {
		return nil
	}
	if a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsUnspecified() {
		return ErrPrivateAddress
	}
	return nil
}
