// Package fetch downloads the tiles covering a bounding box into a tile tree.
//
// The tree doubles as the work queue: a tile already present is satisfied
// and never requested again, so an interrupted or partially failed run is
// resumed by running it again. Failed tiles are not retried within a run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"

	"tilepyramid/internal/metrics"
	"tilepyramid/internal/tile"
)

// Defaults applied by New.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultDelay     = 100 * time.Millisecond
	DefaultUserAgent = "Mozilla/5.0"
	DefaultWorkers   = 1
)

// Store is the fetched-tile tree. Exists is the "already satisfied" check.
type Store interface {
	Exists(t maptile.Tile) bool
	Put(t maptile.Tile, data []byte) error
}

// Outcome is what happened to one tile of the covering set.
type Outcome string

const (
	Existing Outcome = "existing"
	Fetched  Outcome = "fetched"
	Failed   Outcome = "failed"
)

// Observer receives progress events. TileDone may be called from several
// goroutines at once.
type Observer interface {
	LevelStarted(rng tile.Range)
	TileDone(t maptile.Tile, outcome Outcome)
	LevelFinished(level LevelReport)
}

// Config describes one fetch run.
type Config struct {
	BBox        tile.BBox
	MinZoom     int
	MaxZoom     int
	URLTemplate string
	UserAgent   string
	// Timeout bounds each remote request.
	Timeout time.Duration
	// Delay is the minimum spacing between two request starts, shared by
	// all workers.
	Delay   time.Duration
	Workers int
}

func (c *Config) setDefaults() {
	if c.URLTemplate == "" {
		c.URLTemplate = DefaultURLTemplate
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
}

// Validate checks the zoom range.
func (c Config) Validate() error {
	if c.MinZoom < tile.ZoomMin || c.MaxZoom > tile.ZoomMax {
		return fmt.Errorf("zoom range %d-%d outside %d-%d", c.MinZoom, c.MaxZoom, tile.ZoomMin, tile.ZoomMax)
	}
	if c.MinZoom > c.MaxZoom {
		return fmt.Errorf("min zoom %d above max zoom %d", c.MinZoom, c.MaxZoom)
	}
	return nil
}

// LevelReport counts one zoom level. Satisfied = Existing + Fetched.
type LevelReport struct {
	Range     tile.Range
	Total     int
	Satisfied int
	Existing  int
	Fetched   int
	Failed    int
}

// Report is the result of a fetch run.
type Report struct {
	RunID     string
	Levels    []LevelReport
	Total     int
	Satisfied int
	Fetched   int
	Failed    int
	Elapsed   time.Duration
}

func (r *Report) add(l LevelReport) {
	r.Levels = append(r.Levels, l)
	r.Total += l.Total
	r.Satisfied += l.Satisfied
	r.Fetched += l.Fetched
	r.Failed += l.Failed
}

// Fetcher downloads tiles into a Store.
type Fetcher struct {
	cfg     Config
	store   Store
	log     logrus.FieldLogger
	limiter *rate.Limiter

	// Client issues the remote requests. Optional.
	Client *http.Client
	// Metrics records outcomes. Optional.
	Metrics *metrics.Collector
	// Observer receives progress events. Optional.
	Observer Observer
}

// New creates a fetcher. Zero config fields take the package defaults.
func New(cfg Config, store Store, log logrus.FieldLogger) (*Fetcher, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Fetcher{
		cfg:     cfg,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(limit, 1),
		Client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Fetch walks every zoom level of the configured range. On cancellation it
// stops issuing requests, waits for in-flight ones, and returns the partial
// report together with the context error.
func (f *Fetcher) Fetch(ctx context.Context) (*Report, error) {
	start := time.Now()
	id, _ := shortid.Generate()
	report := &Report{RunID: id}
	log := f.log.WithField("run", id)

	log.Infof("fetch %s zoom %d-%d starting", f.cfg.BBox, f.cfg.MinZoom, f.cfg.MaxZoom)
	var err error
	for z := f.cfg.MinZoom; z <= f.cfg.MaxZoom; z++ {
		var level LevelReport
		level, err = f.fetchLevel(ctx, log, tile.Cover(f.cfg.BBox, z))
		report.add(level)
		if err != nil {
			break
		}
	}
	report.Elapsed = time.Since(start)
	if err != nil {
		log.Warnf("fetch stopped: %s", err)
		return report, err
	}
	log.Infof("fetch finished: %d/%d tiles, %d downloaded, %d failed, %.3fs",
		report.Satisfied, report.Total, report.Fetched, report.Failed, report.Elapsed.Seconds())
	return report, nil
}

func (f *Fetcher) fetchLevel(ctx context.Context, log logrus.FieldLogger, rng tile.Range) (LevelReport, error) {
	level := LevelReport{Range: rng, Total: rng.Count()}
	log.Infof("%s total %d", rng, level.Total)
	if f.Observer != nil {
		f.Observer.LevelStarted(rng)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		workers = make(chan struct{}, f.cfg.Workers)
		err     error
	)
	record := func(mt maptile.Tile, outcome Outcome) {
		mu.Lock()
		switch outcome {
		case Existing:
			level.Existing++
		case Fetched:
			level.Fetched++
		case Failed:
			level.Failed++
		}
		mu.Unlock()
		f.Metrics.FetchTile(string(outcome))
		if f.Observer != nil {
			f.Observer.TileDone(mt, outcome)
		}
	}

	for _, mt := range rng.Tiles() {
		if f.store.Exists(mt) {
			record(mt, Existing)
			continue
		}
		// take the worker slot before the rate token so that the spacing
		// holds between actual request starts
		select {
		case workers <- struct{}{}:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
		if err = f.limiter.Wait(ctx); err != nil {
			<-workers
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			break
		}

		wg.Add(1)
		go func(mt maptile.Tile) {
			defer func() {
				<-workers
				wg.Done()
			}()
			if ferr := f.fetchTile(ctx, mt); ferr != nil {
				f.logFailure(log, mt, ferr)
				record(mt, Failed)
				return
			}
			record(mt, Fetched)
		}(mt)
	}
	wg.Wait()

	level.Satisfied = level.Existing + level.Fetched
	log.Infof("zoom %d done: %d/%d tiles", rng.Zoom, level.Satisfied, level.Total)
	if f.Observer != nil {
		f.Observer.LevelFinished(level)
	}
	return level, err
}

func (f *Fetcher) fetchTile(ctx context.Context, mt maptile.Tile) error {
	start := time.Now()
	url := TileURL(f.cfg.URLTemplate, mt)

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{Tile: mt, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.Client.Do(req)
	f.Metrics.FetchDuration(time.Since(start).Seconds())
	if err != nil {
		return &TransportError{Tile: mt, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &RemoteRejection{Tile: mt, URL: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Tile: mt, URL: url, Err: err}
	}
	if len(body) == 0 {
		return &RemoteRejection{Tile: mt, URL: url, StatusCode: resp.StatusCode, Reason: "empty body"}
	}

	if err := f.store.Put(mt, body); err != nil {
		return fmt.Errorf("save tile %v: %w", mt, err)
	}

	f.log.Debugf("tile(z:%d, x:%d, y:%d), %dms, %.2f kb, %s",
		mt.Z, mt.X, mt.Y, time.Since(start).Milliseconds(), float32(len(body))/1024.0, url)
	return nil
}

func (f *Fetcher) logFailure(log logrus.FieldLogger, mt maptile.Tile, err error) {
	entry := log.WithFields(logrus.Fields{"z": mt.Z, "x": mt.X, "y": mt.Y})
	var (
		transport *TransportError
		rejection *RemoteRejection
	)
	switch {
	case errors.As(err, &rejection):
		entry.Warnf("remote rejected tile: %s", err)
	case errors.As(err, &transport):
		entry.Warnf("transport error: %s", err)
	default:
		entry.Errorf("tile not saved: %s", err)
	}
}
