package egress

import (
	"net"
	"net/http"
	"strings"

	"forgebench/engine/internal/llm"
)

// AllowlistRoundTripper enforces HTTPS-only requests to a fixed host allowlist.
// Loopback hosts may be reached over plain HTTP when AllowLoopback is set,
// which is how local OpenAI-compatible gateways are used.
type AllowlistRoundTripper struct {
	Base          http.RoundTripper
	Allowlist     map[string]bool
	AllowLoopback bool
}

// NewAllowlistRoundTripper returns a RoundTripper that enforces a host allowlist.
func NewAllowlistRoundTripper(base http.RoundTripper, hosts []string) *AllowlistRoundTripper {
	allowlist := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			allowlist[host] = true
		}
	}
	return &AllowlistRoundTripper{Base: base, Allowlist: allowlist}
}

func (rt *AllowlistRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, llm.ErrEgressBlocked
	}
	host := req.URL.Hostname()
	if host == "" {
		return nil, llm.ErrEgressBlocked
	}
	if !(rt.AllowLoopback && isLoopback(host)) {
		if req.URL.Scheme != "https" {
			return nil, llm.ErrEgressBlocked
		}
		if ip := net.ParseIP(host); ip != nil {
			return nil, llm.ErrEgressBlocked
		}
		if !rt.Allowlist[strings.ToLower(host)] {
			return nil, llm.ErrEgressBlocked
		}
	}
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
