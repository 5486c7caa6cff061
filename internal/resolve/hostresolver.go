package resolve

import (
	"context"
	"net"

	"moshvm/internal/logging"
)

// HostResolver delegates A/AAAA lookups to the host's own resolver
// (net.Resolver) and declares SSHFP unsupported. It never validates its
// answers, matching a plain OS stub resolver with no DNSSEC awareness.
type HostResolver struct {
	logger   logging.Logger
	resolver *net.Resolver
}

func NewHostResolver(logger logging.Logger) *HostResolver {
	return &HostResolver{logger: logger, resolver: net.DefaultResolver}
}

func (r *HostResolver) IsValidating() bool { return false }

func (r *HostResolver) Resolve(name string, rrtype RRType, cb Callback) {
	switch rrtype {
	case TypeA, TypeAAAA:
		go r.resolveAddr(name, rrtype, cb)
	case TypeSSHFP:
		cb(Result{Status: TypeNotSupported, Authenticity: Insecure})
	default:
		cb(Result{Status: TypeNotSupported, Authenticity: Insecure})
	}
}

func (r *HostResolver) resolveAddr(name string, rrtype RRType, cb Callback) {
	ips, err := r.resolver.LookupIP(context.Background(), lookupNetwork(rrtype), name)
	if err != nil {
		r.logger.WLogf("host resolve %q failed: %s", name, err)
		cb(Result{Status: NotResolved, Authenticity: Insecure})
		return
	}
	results := make([]string, 0, len(ips))
	for _, ip := range ips {
		results = append(results, ip.String())
	}
	if len(results) == 0 {
		cb(Result{Status: NotResolved, Authenticity: Insecure})
		return
	}
	cb(Result{Status: OK, Authenticity: Insecure, Results: results})
}

func lookupNetwork(rrtype RRType) string {
	if rrtype == TypeAAAA {
		return "ip6"
	}
	return "ip4"
}
