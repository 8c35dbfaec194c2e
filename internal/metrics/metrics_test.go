package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveLeaderboard(time.Now(), 3, nil)
	r.PriceLookup(true, nil)
	r.PrizeCache(true)
	r.RosterEvent("enrolled", "published")
	r.Snapshot(nil)
	r.BreakerTransition("market-quotes", "open")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	r := New()
	r.ObserveLeaderboard(time.Now(), 4, nil)
	r.ObserveLeaderboard(time.Now(), 9, errors.New("boom"))
	r.PriceLookup(true, nil)
	r.PriceLookup(false, nil)
	r.PriceLookup(false, errors.New("down"))
	r.PrizeCache(true)
	r.PrizeCache(false)
	r.PrizeCache(false)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.ParticipantsRanked))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PriceLookups.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PriceLookups.WithLabelValues("missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PriceLookups.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PrizeCacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.PrizeCacheMisses))

	r.BreakerTransition("market-quotes", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BreakerTransitions.WithLabelValues("market-quotes", "open")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	r := New()
	r.PrizeCache(true)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "champs_prize_cache_hits_total 1"))
}
