package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/engine"
)

func openDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(t.TempDir() + "/router_test.db")
	require.NoError(t, err)
	return db
}

func TestEngineForRoutesToMappedVenue(t *testing.T) {
	cfg := &config.Config{
		TraderExchangeMap: map[string]config.Venue{"alice": config.VenueK},
		DefaultVenue:      config.VenueB,
	}
	kEngine := &engine.Engine{}
	r := New(cfg, nil, map[config.Venue]*engine.Engine{config.VenueK: kEngine})

	eng, venue, err := r.EngineFor("alice")
	require.NoError(t, err)
	assert.Equal(t, config.VenueK, venue)
	assert.Same(t, kEngine, eng)
}

func TestEngineForErrorsWhenVenueUnconfigured(t *testing.T) {
	cfg := &config.Config{DefaultVenue: config.VenueB}
	r := New(cfg, nil, map[config.Venue]*engine.Engine{})

	_, _, err := r.EngineFor("anyone")
	assert.Error(t, err)
}

func TestMatchFollowUpMatchesByCoinAndTimestampTolerance(t *testing.T) {
	db := openDB(t)
	cfg := &config.Config{TimestampToleranceMinutes: 5}
	r := New(cfg, db, nil)

	now := time.Now()
	trade := database.Trade{SourceMessageID: "m1", Coin: "BTC", Status: database.StatusOpen, CreatedAt: now}
	require.NoError(t, db.CreateTrade(&trade))

	alert := database.Alert{Coin: "BTC", Timestamp: now.Add(2 * time.Minute)}
	related, err := r.MatchFollowUp(alert)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, trade.ID, related[0].ID)
}

func TestMatchFollowUpFiltersByTradeGroupID(t *testing.T) {
	db := openDB(t)
	cfg := &config.Config{TimestampToleranceMinutes: 60}
	r := New(cfg, db, nil)

	now := time.Now()
	require.NoError(t, db.CreateTrade(&database.Trade{SourceMessageID: "m1", Coin: "BTC", Status: database.StatusOpen, CreatedAt: now, TradeGroupID: "grp-a"}))
	require.NoError(t, db.CreateTrade(&database.Trade{SourceMessageID: "m2", Coin: "BTC", Status: database.StatusOpen, CreatedAt: now, TradeGroupID: "grp-b"}))

	alert := database.Alert{Coin: "BTC", Timestamp: now, TradeGroupID: "grp-b"}
	related, err := r.MatchFollowUp(alert)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "m2", related[0].SourceMessageID)
}

func TestMatchFollowUpFallsBackToSourceMessageIDWhenNoneWithinTolerance(t *testing.T) {
	db := openDB(t)
	cfg := &config.Config{TimestampToleranceMinutes: 1}
	r := New(cfg, db, nil)

	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, db.CreateTrade(&database.Trade{SourceMessageID: "m1", Coin: "BTC", Status: database.StatusOpen, CreatedAt: old}))

	alert := database.Alert{Coin: "BTC", Timestamp: time.Now(), SourceMessageID: "m1"}
	related, err := r.MatchFollowUp(alert)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "m1", related[0].SourceMessageID)
}

func TestMatchFollowUpReturnsEmptyWhenNothingMatches(t *testing.T) {
	db := openDB(t)
	cfg := &config.Config{TimestampToleranceMinutes: 1}
	r := New(cfg, db, nil)

	alert := database.Alert{Coin: "BTC", Timestamp: time.Now(), SourceMessageID: "does-not-exist"}
	related, err := r.MatchFollowUp(alert)
	require.NoError(t, err)
	assert.Empty(t, related)
}
