package audit

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/pkg/errors"
)

// GeoIPResolver resolves countries from a MaxMind GeoIP2/GeoLite2 Country or City database.
type GeoIPResolver struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "[audit.OpenGeoIP] %s", path)
	}
	return &GeoIPResolver{reader: reader}, nil
}

func (g *GeoIPResolver) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	rec, err := g.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

func (g *GeoIPResolver) Close() error {
	return g.reader.Close()
}
