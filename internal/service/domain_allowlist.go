package service

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HostAllowlist restricts outbound webhook hosts. A host is allowed when it equals an entry
// or shares its registrable domain (eTLD+1), so "example.com" admits "api.eu.example.com".
// An empty allowlist admits every host.
type HostAllowlist struct {
	exact      map[string]struct{}
	registered map[string]struct{}
}

// NewHostAllowlist builds an allowlist from domain entries. Blank entries are ignored.
func NewHostAllowlist(domains []string) *HostAllowlist {
	a := &HostAllowlist{
		exact:      make(map[string]struct{}, len(domains)),
		registered: make(map[string]struct{}, len(domains)),
	}
	for _, d := range domains {
		d = normalizeHost(d)
		if d == "" {
			continue
		}
		a.exact[d] = struct{}{}
		if etld1 := registrableDomain(d); etld1 != "" {
			a.registered[etld1] = struct{}{}
		}
	}
	return a
}

// Empty reports whether the allowlist admits every host.
func (a *HostAllowlist) Empty() bool {
	return a == nil || len(a.exact) == 0
}

// Allowed reports whether host (optionally with a port) may be called.
func (a *HostAllowlist) Allowed(host string) bool {
	if a.Empty() {
		return true
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	if _, ok := a.exact[host]; ok {
		return true
	}
	// IP literals only match exactly.
	if net.ParseIP(host) != nil {
		return false
	}
	etld1 := registrableDomain(host)
	if etld1 == "" {
		return false
	}
	_, ok := a.registered[etld1]
	return ok
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.Trim(host, "[]"), ".")
}

// registrableDomain extracts the eTLD+1 of host using the public suffix list.
func registrableDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return etld1
}
