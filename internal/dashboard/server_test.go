package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededServer(t *testing.T, authToken string) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	entry := time.Date(2026, 8, 27, 14, 45, 0, 0, time.UTC)

	legs := models.LegSet{
		ShortCall: models.Leg{Symbol: ".SPXW260827C6900", Strike: 6900, Type: models.OptionTypeCall, Side: models.SideShort},
		LongCall:  models.Leg{Symbol: ".SPXW260827C6925", Strike: 6925, Type: models.OptionTypeCall, Side: models.SideLong},
		ShortPut:  models.Leg{Symbol: ".SPXW260827P6800", Strike: 6800, Type: models.OptionTypePut, Side: models.SideShort},
		LongPut:   models.Leg{Symbol: ".SPXW260827P6775", Strike: 6775, Type: models.OptionTypePut, Side: models.SideLong},
		Credit:    4.10,
	}
	open := models.NewPosition("IC-20D-1445", "SPX", "20 Delta", legs, 0.25, 35, entry)
	closed := models.NewPosition("IC-30D-1530", "SPX", "30 Delta", legs, 0.25, 35, entry.Add(45*time.Minute))
	require.NoError(t, store.AddPosition(open))
	require.NoError(t, store.AddPosition(closed))
	require.NoError(t, store.ClosePosition(closed.ID, entry.Add(3*time.Hour), 1.05, "profit target", ""))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewServer(Config{Port: 0, AuthToken: authToken}, store, nil, logger)
}

func TestGetPositions(t *testing.T) {
	s := seededServer(t, "")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []PositionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "condor", views[0].Structure)
	assert.Equal(t, 6900.0, views[0].ShortCall)
}

func TestGetPositionByID(t *testing.T) {
	s := seededServer(t, "")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/position/IC-20D-1445-20260827", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/position/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStats(t *testing.T) {
	s := seededServer(t, "")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.OpenTrades)
	assert.Equal(t, 1, stats.ClosedTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.InDelta(t, 100.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 1.05, stats.TotalPL, 1e-9)
	assert.InDelta(t, (25-4.10)*100, stats.OpenBuyingPower, 1e-9)
}

func TestAuthTokenProtectsAPIButNotHealth(t *testing.T) {
	s := seededServer(t, "sekrit")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-Auth-Token", "sekrit")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
