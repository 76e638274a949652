package geodb

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// ErrNotCountryDB is returned for databases without country records
var ErrNotCountryDB = errors.New("database has no country records")

// Info describes a validated geo database
type Info struct {
	Path         string
	DatabaseType string
	IPVersion    uint
	NodeCount    uint
	BuildTime    time.Time
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// probeAddr is looked up to check that records decode as country records
var probeAddr = net.ParseIP("8.8.8.8")

// Validate opens the database at path and checks that it resolves addresses to
// countries. The engine reads the file itself, so nothing is kept open.
func Validate(path string) (*Info, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database %s: %w", path, err)
	}
	defer reader.Close()

	if err := reader.Verify(); err != nil {
		return nil, fmt.Errorf("geo database %s is corrupt: %w", path, err)
	}

	meta := reader.Metadata
	info := &Info{
		Path:         path,
		DatabaseType: meta.DatabaseType,
		IPVersion:    meta.IPVersion,
		NodeCount:    meta.NodeCount,
		BuildTime:    time.Unix(int64(meta.BuildEpoch), 0).UTC(),
	}

	var record countryRecord
	if err := reader.Lookup(probeAddr, &record); err != nil {
		return nil, fmt.Errorf("geo database %s: %w: %v", path, ErrNotCountryDB, err)
	}
	return info, nil
}

// Country returns the ISO code for ip from the database at path, falling back
// to the registered country
func Country(path string, ip net.IP) (string, bool, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to open geo database %s: %w", path, err)
	}
	defer reader.Close()

	var record countryRecord
	if err := reader.Lookup(ip, &record); err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", ip, err)
	}
	if record.Country.ISOCode != "" {
		return record.Country.ISOCode, true, nil
	}
	if record.RegisteredCountry.ISOCode != "" {
		return record.RegisteredCountry.ISOCode, true, nil
	}
	return "", false, nil
}
