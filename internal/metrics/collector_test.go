package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.FetchTile("fetched")
	c.FetchDuration(0.1)
	c.PackTile("packed")
	c.CacheLookup("hit")
	c.CacheEviction()
	c.CacheEntries(3)
	c.TileRequest("200")
	assert.Nil(t, c.Registry())
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.FetchTile("fetched")
	c.FetchTile("fetched")
	c.FetchTile("failed")
	c.CacheLookup("hit")
	c.CacheEviction()
	c.CacheEntries(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetchTiles.WithLabelValues("fetched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchTiles.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheEvictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.cacheEntries))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.TileRequest("404")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tiler_http_tile_requests_total{code="404"} 1`)
}
