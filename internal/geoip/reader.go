package geoip

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Provider wraps the GeoIP2 database reader to provide country lookup functionality.
type Provider struct {
	db *geoip2.Reader
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	return p.db.Close()
}

// CountryCode looks up the ISO country code (e.g., "US", "DE") of a server address.
// The address may carry a port. Host names are not resolved.
// It returns an empty string if the address is invalid or the country cannot be determined.
func (p *Provider) CountryCode(address string) string {
	if p == nil || p.db == nil {
		return ""
	}

	ip := net.ParseIP(HostOf(address))
	if ip == nil {
		return ""
	}

	record, err := p.db.Country(ip)
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}

// HostOf strips an optional port (and IPv6 brackets) from address.
func HostOf(address string) string {
	address = strings.TrimSpace(address)
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}

	return strings.Trim(address, "[]")
}
