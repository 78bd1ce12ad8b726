package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveVenueUsesMappingWhenPresent(t *testing.T) {
	cfg := &Config{
		TraderExchangeMap: map[string]Venue{"alice": VenueK},
		DefaultVenue:      VenueB,
	}
	assert.Equal(t, VenueK, cfg.ResolveVenue("alice"))
}

func TestResolveVenueFallsBackToDefaultForUnknownTrader(t *testing.T) {
	cfg := &Config{
		TraderExchangeMap: map[string]Venue{"alice": VenueK},
		DefaultVenue:      VenueB,
	}
	assert.Equal(t, VenueB, cfg.ResolveVenue("stranger"))
}

func TestParseTraderExchangeMapParsesCommaSeparatedPairs(t *testing.T) {
	m := parseTraderExchangeMap("alice:b, bob:k ,  carol:B")
	assert.Equal(t, VenueB, m["alice"])
	assert.Equal(t, VenueK, m["bob"])
	assert.Equal(t, VenueB, m["carol"])
}

func TestParseTraderExchangeMapEmptyStringYieldsEmptyMap(t *testing.T) {
	m := parseTraderExchangeMap("")
	assert.Empty(t, m)
}

func TestParseTraderExchangeMapSkipsMalformedEntries(t *testing.T) {
	m := parseTraderExchangeMap("alice:b,justaname,bob:k")
	assert.Len(t, m, 2)
}

func TestGetEnvBoolRecognizesTruthyStrings(t *testing.T) {
	t.Setenv("TC_TEST_BOOL", "yes")
	assert.True(t, getEnvBool("TC_TEST_BOOL", false))

	t.Setenv("TC_TEST_BOOL", "0")
	assert.False(t, getEnvBool("TC_TEST_BOOL", true))
}

func TestGetEnvDurationFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("TC_TEST_DURATION", "not-a-duration")
	assert.Equal(t, 5*time.Second, getEnvDuration("TC_TEST_DURATION", 5*time.Second))
}
