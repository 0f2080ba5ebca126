package domain

import (
	"net"
	"net/url"
	"strings"
)

type IndicatorType string

const (
	IPAddress IndicatorType = "ip"
	Domain    IndicatorType = "domain"
	URL       IndicatorType = "url"
)

// Indicator is an observable tied to a scanned site, used for threat-feed export.
type Indicator struct {
	Type  IndicatorType `json:"type"`
	Value string        `json:"value"`
}

// ExtractIndicators collects the observables of a scan:
// - the scanned URL itself
// - its host, as IP or domain
// - the domain, IP and hostnames reported by AbuseIPDB
// Values are normalized and de-duplicated, keeping first-seen order.
func ExtractIndicators(scan ScanResult) []Indicator {
	var out []Indicator
	seen := make(map[Indicator]bool)

	add := func(t IndicatorType, value string) {
		value = NormalizeIndicatorValue(value, t)
		if value == "" {
			return
		}
		ind := Indicator{Type: t, Value: value}
		if seen[ind] {
			return
		}
		seen[ind] = true
		out = append(out, ind)
	}

	if strings.HasPrefix(scan.URL, "http://") || strings.HasPrefix(scan.URL, "https://") {
		add(URL, scan.URL)
		if u, err := url.Parse(scan.URL); err == nil {
			add(hostType(u.Hostname()), u.Hostname())
		}
	} else if scan.URL != "" {
		// Bare host, e.g. "example.com" or "203.0.113.7"
		add(hostType(scan.URL), scan.URL)
	}

	abuse := scan.ThreatIntel.AbuseIPDB
	add(Domain, abuse.Domain)
	add(IPAddress, abuse.IP)
	for _, h := range abuse.Hostnames {
		add(hostType(h), h)
	}

	return out
}

func hostType(host string) IndicatorType {
	if net.ParseIP(host) != nil {
		return IPAddress
	}
	return Domain
}

// NormalizeIndicatorValue normalizes values for better matching
func NormalizeIndicatorValue(value string, t IndicatorType) string {
	value = strings.TrimSpace(value)

	switch t {
	case URL:
		value = strings.ToLower(value)
		return strings.TrimSuffix(value, "/")
	case Domain:
		return strings.TrimSuffix(strings.ToLower(value), ".")
	default:
		return value
	}
}
