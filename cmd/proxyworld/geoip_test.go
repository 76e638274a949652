package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCountriesRejectsInvalidIP(t *testing.T) {
	// the database is never opened when an argument is not an address
	_, err := lookupCountries(filepath.Join(t.TempDir(), "missing.mmdb"), []string{"1.1.1.1", "not-an-ip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid IP address "not-an-ip"`)
}

func TestLookupCountriesBadDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Country.mmdb")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0644))

	_, err := lookupCountries(path, []string{"1.1.1.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open geo database")
}
