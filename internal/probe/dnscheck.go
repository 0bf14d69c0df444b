package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/samber/lo"
)

// DNSClass summarizes how a host name resolved.
type DNSClass string

const (
	DNSResolves    DNSClass = "RESOLVES"
	DNSNoAddress   DNSClass = "NO_A_RECORD"
	DNSNXDomain    DNSClass = "NXDOMAIN"
	DNSUnavailable DNSClass = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName DNSClass = "INVALID_NAME"
	DNSIPLiteral   DNSClass = "IP_LITERAL"
)

const dnsTimeout = 3 * time.Second

// Resolver is the subset of *net.Resolver ResolveWith needs.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

type DNSStatus struct {
	Host        string   `json:"host"`
	Class       DNSClass `json:"class"`
	Addrs       []string `json:"addrs,omitempty"`
	CNAME       string   `json:"cname,omitempty"`
	Nameservers []string `json:"nameservers,omitempty"`
	Err         string   `json:"error,omitempty"`
}

// ResolveWith classifies host using r. Lookups share one deadline, at most
// dnsTimeout and never past ctx's.
func ResolveWith(ctx context.Context, r Resolver, host string) DNSStatus {
	s := DNSStatus{Host: strings.TrimSpace(host)}
	switch {
	case s.Host == "" || strings.Contains(s.Host, "://"):
		s.Class = DNSInvalidName
		return s
	case net.ParseIP(s.Host) != nil:
		s.Class = DNSIPLiteral
		s.Addrs = []string{s.Host}
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, ipErr := r.LookupIP(ctx, "ip", s.Host)
	s.Addrs = lo.Map(ips, func(ip net.IP, _ int) string { return ip.String() })
	if ipErr != nil {
		s.Err = ipErr.Error()
	}
	if cname, err := r.LookupCNAME(ctx, s.Host); err == nil && !strings.EqualFold(strings.TrimSuffix(cname, "."), s.Host) {
		s.CNAME = strings.TrimSuffix(cname, ".")
	}
	if ns, err := r.LookupNS(ctx, s.Host); err == nil {
		s.Nameservers = lo.Map(ns, func(n *net.NS, _ int) string { return strings.TrimSuffix(n.Host, ".") })
	}

	s.Class = classifyDNS(len(s.Addrs) > 0, len(s.Nameservers) > 0, ipErr)
	return s
}

func classifyDNS(hasAddr, hasNS bool, err error) DNSClass {
	if hasAddr {
		return DNSResolves
	}
	if hasNS {
		// the zone exists but has no address records for this name
		return DNSNoAddress
	}
	var de *net.DNSError
	if err == nil || (errors.As(err, &de) && de.IsNotFound) {
		return DNSNXDomain
	}
	return DNSUnavailable
}
