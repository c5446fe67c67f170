package server

import (
	"errors"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tilepyramid/internal/mbtiles"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/tile"
)

// View positions the map page.
type View struct {
	Lat     float64
	Lon     float64
	Zoom    int
	MaxZoom int
}

// Handlers serves tiles and the companion endpoints.
type Handlers struct {
	svc     *Service
	log     logrus.FieldLogger
	metrics *metrics.Collector
	format  string
	view    View
}

// NewHandlers creates the HTTP handlers. format is the container's tile
// format and decides the response content type.
func NewHandlers(svc *Service, format string, view View, m *metrics.Collector, log logrus.FieldLogger) *Handlers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{svc: svc, log: log, metrics: m, format: format, view: view}
}

// Routes returns the router wrapped in the request-logging middleware.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{z}/{x}/{file}", h.HandleTile)
	mux.HandleFunc("GET /log", h.HandleLog)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	return h.RequestLoggingMiddleware(mux)
}

// HandleTile serves GET /tiles/{z}/{x}/{y}.{ext}, WebXYZ scheme.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	z, x, y, ext, ok := parseTilePath(r.PathValue("z"), r.PathValue("x"), r.PathValue("file"))
	if !ok {
		h.metrics.TileRequest(strconv.Itoa(http.StatusBadRequest))
		http.Error(w, "Invalid tile coordinate", http.StatusBadRequest)
		return
	}

	data, err := h.svc.Tile(r.Context(), z, x, y)
	switch {
	case errors.Is(err, mbtiles.ErrNotFound):
		h.metrics.TileRequest(strconv.Itoa(http.StatusNotFound))
		http.NotFound(w, r)
		return
	case Interrupted(err):
		h.metrics.TileRequest(strconv.Itoa(http.StatusServiceUnavailable))
		http.Error(w, "Tile lookup interrupted", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.metrics.TileRequest(strconv.Itoa(http.StatusInternalServerError))
		http.Error(w, "Tile storage error", http.StatusInternalServerError)
		return
	}

	format := h.format
	if format == "" {
		format = ext
	}
	h.metrics.TileRequest(strconv.Itoa(http.StatusOK))
	w.Header().Set("Content-Type", tile.ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func parseTilePath(zs, xs, file string) (z, x, y int, ext string, ok bool) {
	ys, ext, found := strings.Cut(file, ".")
	if !found || ext == "" {
		return 0, 0, 0, "", false
	}
	var err error
	if z, err = strconv.Atoi(zs); err != nil {
		return 0, 0, 0, "", false
	}
	if x, err = strconv.Atoi(xs); err != nil {
		return 0, 0, 0, "", false
	}
	if y, err = strconv.Atoi(ys); err != nil {
		return 0, 0, 0, "", false
	}
	return z, x, y, ext, true
}

// HandleLog logs a coordinate clicked on the map page.
func (h *Handlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}
	h.log.WithFields(logrus.Fields{"lat": lat, "lon": lon}).Info("clicked coordinate")
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>tiler</title>
    <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.3/dist/leaflet.css" />
    <script src="https://unpkg.com/leaflet@1.9.3/dist/leaflet.js"></script>
  </head>
  <body style="margin:0">
    <div id="map" style="width:100%; height:100vh;"></div>
    <script>
      var map = L.map('map').setView([{{.Lat}}, {{.Lon}}], {{.Zoom}});
      L.tileLayer('/tiles/{z}/{x}/{y}.{{.Ext}}', {maxZoom: {{.MaxZoom}}, attribution: 'Local MBTiles'}).addTo(map);
      map.on('click', function(e) {
        L.marker(e.latlng).addTo(map);
        fetch('/log?lat=' + e.latlng.lat.toFixed(6) + '&lon=' + e.latlng.lng.toFixed(6));
      });
    </script>
  </body>
</html>
`))

// HandleIndex serves the map page.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	ext := h.format
	if ext == "" {
		ext = tile.PNG
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, struct {
		View
		Ext string
	}{h.view, ext})
	if err != nil {
		h.log.Errorf("render index: %s", err)
	}
}

// RequestLoggingMiddleware logs every request with a request id.
func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(wrapped, r)

		entry := h.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"ip":          extractIP(r),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"bytes":       wrapped.bytesWritten,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if wrapped.statusCode >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	})
}

func extractIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
