package probe

import (
	"context"
	"net"
	"net/url"

	"github.com/hamed0406/heartbeat/internal/domain"
)

// DNSDiagnoser wraps a checker and, when a check fails at the network level,
// appends the DNS classification of the target host to the message. The
// lookups share the check's context, so they end with the request deadline.
type DNSDiagnoser struct {
	Inner    Checker
	Resolver Resolver // nil means the system resolver
}

func (d *DNSDiagnoser) Check(ctx context.Context, t domain.Target) CheckResult {
	out := d.Inner.Check(ctx, t)
	if out.Success || out.Kind != domain.KindNetwork || ctx.Err() != nil {
		return out
	}
	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	dns := ResolveWith(ctx, r, extractHost(t.URL))
	out.Message += " dns=" + string(dns.Class)
	if dns.CNAME != "" {
		out.Message += " cname=" + dns.CNAME
	}
	return out
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
