package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilepyramid/internal/fetch"
	"tilepyramid/internal/mbtiles"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/pack"
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tree"
)

func newTestHandlers(src Source, format string) (*Handlers, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	svc := NewService(src, NewCache(16, nil), log)
	view := View{Lat: 36.07, Lon: 136.55, Zoom: 14, MaxZoom: 18}
	return NewHandlers(svc, format, view, metrics.NewCollector(), log), hook
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleTile(t *testing.T) {
	src := &fakeSource{rows: map[CacheKey][]byte{{Z: 14, X: 100, Row: 16183}: []byte("jpeg-bytes")}}
	h, _ := newTestHandlers(src, tile.JPG)
	routes := h.Routes()

	rec := get(t, routes, "/tiles/14/100/200.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = get(t, routes, "/tiles/14/100/201.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, routes, "/tiles/14/100/99999.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, bad := range []string{"/tiles/a/100/200.png", "/tiles/14/b/200.png", "/tiles/14/100/c.png", "/tiles/14/100/200"} {
		rec = get(t, routes, bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestHandleTileStorageError(t *testing.T) {
	src := &fakeSource{err: &mbtiles.StorageError{Op: "read tile", Err: errors.New("database disk image is malformed")}}
	h, hook := newTestHandlers(src, tile.JPG)
	routes := h.Routes()

	rec := get(t, routes, "/tiles/1/0/0.jpg")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotNil(t, hook.LastEntry())

	rec = get(t, routes, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTileInterruptedLookup(t *testing.T) {
	src := &fakeSource{err: &mbtiles.StorageError{Op: "read tile", Err: context.DeadlineExceeded}}
	h, hook := newTestHandlers(src, tile.JPG)

	rec := get(t, h.Routes(), "/tiles/2/1/1.jpg")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level, e.Message)
	}
}

func TestHandleTileContentTypeFromExtension(t *testing.T) {
	src := &fakeSource{rows: map[CacheKey][]byte{{Z: 0, X: 0, Row: 0}: []byte("png")}}
	h, _ := newTestHandlers(src, "")
	rec := get(t, h.Routes(), "/tiles/0/0/0.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestHandleLog(t *testing.T) {
	h, hook := newTestHandlers(&fakeSource{}, tile.JPG)
	routes := h.Routes()

	rec := get(t, routes, "/log?lat=36.070000&lon=136.550000")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "clicked coordinate" {
			logged = true
			assert.Equal(t, 36.07, e.Data["lat"])
			assert.Equal(t, 136.55, e.Data["lon"])
		}
	}
	assert.True(t, logged)

	rec = get(t, routes, "/log?lat=north")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndexAndMetrics(t *testing.T) {
	h, _ := newTestHandlers(&fakeSource{}, tile.JPG)
	routes := h.Routes()

	rec := get(t, routes, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "L.tileLayer")
	assert.Contains(t, rec.Body.String(), "36.07")

	get(t, routes, "/tiles/3/0/0.jpg")
	rec = get(t, routes, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tiler_http_tile_requests_total{code="404"} 1`)
}

// TestFetchPackServe runs the three pipelines end to end against a fake
// remote source and checks the served bytes match the downloaded files.
func TestFetchPackServe(t *testing.T) {
	ctx := context.Background()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "aerial photo %s", r.URL.Path)
	}))
	defer remote.Close()

	log, _ := test.NewNullLogger()
	treeDir := t.TempDir()
	tr := tree.New(treeDir, tile.JPG)
	box := tile.NewBBox(36.06, 136.55, 36.08, 136.57)

	f, err := fetch.New(fetch.Config{
		BBox:        box,
		MinZoom:     14,
		MaxZoom:     14,
		URLTemplate: remote.URL + "/xyz/seamlessphoto/{z}/{x}/{y}.jpg",
		Delay:       1,
	}, tr, log)
	require.NoError(t, err)
	fr, err := f.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, fr.Total, fr.Satisfied)
	rng := fr.Levels[0].Range
	assert.LessOrEqual(t, rng.Width(), 3)
	assert.LessOrEqual(t, rng.Height(), 3)

	out := filepath.Join(t.TempDir(), "output.mbtiles")
	pr, err := pack.New(pack.Config{TreeDir: treeDir, Container: out}, log).Pack(ctx)
	require.NoError(t, err)
	require.Equal(t, fr.Total, pr.Packed)

	c, err := mbtiles.Open(out)
	require.NoError(t, err)
	defer c.Close()
	meta, err := c.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "14", meta["minzoom"])

	h := NewHandlers(NewService(c, NewCache(DefaultCacheSize, nil), log), meta["format"], View{}, nil, log)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	for _, mt := range rng.Tiles() {
		want, err := os.ReadFile(tr.Path(mt))
		require.NoError(t, err)

		resp, err := http.Get(fmt.Sprintf("%s/tiles/%d/%d/%d.png", srv.URL, mt.Z, mt.X, mt.Y))
		require.NoError(t, err)
		got, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, want, got)
	}

	resp, err := http.Get(fmt.Sprintf("%s/tiles/14/%d/%d.png", srv.URL, rng.MaxX+1, rng.MinY))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
