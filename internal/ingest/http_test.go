package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradecore/internal/config"
	"github.com/web3guy0/tradecore/internal/database"
	"github.com/web3guy0/tradecore/internal/followup"
	"github.com/web3guy0/tradecore/internal/risk"
	"github.com/web3guy0/tradecore/internal/router"
)

func openDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(t.TempDir() + "/ingest_test.db")
	require.NoError(t, err)
	return db
}

func newTestServer(t *testing.T) *Server {
	db := openDB(t)
	cfg := &config.Config{DefaultVenue: config.VenueB, TimestampToleranceMinutes: 5}
	r := router.New(cfg, db, nil)
	proc := followup.New(r, db, cfg.FixedFeeRate)
	return NewServer(r, proc, db, map[config.Venue]*risk.PositionManager{})
}

func TestHandleSignalRejectsNonPostMethod(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/signals", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSignalRejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSignalRejectsUnroutableTrader(t *testing.T) {
	s := newTestServer(t)
	body := `{"coin_symbol":"BTC","position_type":"LONG","order_type":"MARKET","entry_prices":["100"],"trader":"nobody"}`
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	// No engine is configured for VenueB in this test server, so routing
	// itself fails closed rather than panicking on a nil engine.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAlertRejectsNonPostMethod(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleAlertRejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAlertPersistsAndSkipsUnclassifiableContent(t *testing.T) {
	s := newTestServer(t)
	body := `{"trade":"m1","trader":"alice","coin":"BTC","content":"gm everyone"}`
	req := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	alerts, err := s.db.FindPendingAlertsForTrade("m1")
	require.NoError(t, err)
	assert.Empty(t, alerts) // classified as skipped, no longer pending
}
