// Package pack consolidates a fetched tile tree into an MBTiles container.
package pack

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"tilepyramid/internal/mbtiles"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tree"
)

// Config describes one packaging run.
type Config struct {
	TreeDir   string
	Container string
	// Format is the tile file extension looked for in the tree.
	Format   string
	Metadata mbtiles.Metadata
}

// LevelReport counts one zoom subtree.
type LevelReport struct {
	Zoom    int
	Packed  int
	Skipped int
	Failed  int
}

// Report is the result of a packaging run. Skipped counts names that do
// not follow the tree layout, Failed counts unreadable tile files.
type Report struct {
	RunID   string
	Levels  []LevelReport
	Packed  int
	Skipped int
	Failed  int
	Elapsed time.Duration
}

// Packager writes a tree into a container.
type Packager struct {
	cfg Config
	log logrus.FieldLogger

	// Metrics records outcomes. Optional.
	Metrics *metrics.Collector
}

// New creates a packager.
func New(cfg Config, log logrus.FieldLogger) *Packager {
	if cfg.Format == "" {
		cfg.Format = tile.JPG
	}
	if cfg.Metadata == nil {
		cfg.Metadata = mbtiles.DefaultMetadata()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Packager{cfg: cfg, log: log}
}

// Pack upserts every tile of the tree. The whole run is one transaction:
// storage errors roll it back, malformed names and unreadable files are
// logged and skipped.
func (p *Packager) Pack(ctx context.Context) (*Report, error) {
	start := time.Now()
	id, _ := shortid.Generate()
	report := &Report{RunID: id}
	log := p.log.WithField("run", id)

	tr := tree.New(p.cfg.TreeDir, p.cfg.Format)
	levels, err := tr.Levels(func(name string, err error) {
		log.Debugf("skip %s: %s", name, err)
	})
	if err != nil {
		return nil, fmt.Errorf("read tile tree: %w", err)
	}

	c, err := mbtiles.Create(p.cfg.Container)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	w, err := c.Begin(ctx, p.cfg.Metadata)
	if err != nil {
		return nil, err
	}

	for _, level := range levels {
		lr, err := p.packLevel(ctx, log, tr, level, w)
		report.Levels = append(report.Levels, lr)
		report.Packed += lr.Packed
		report.Skipped += lr.Skipped
		report.Failed += lr.Failed
		if err != nil {
			w.Rollback()
			return report, err
		}
	}

	if err := w.Commit(); err != nil {
		return report, err
	}
	report.Elapsed = time.Since(start)
	log.Infof("packed %d tiles into %s (%d skipped, %d failed), %.3fs",
		report.Packed, p.cfg.Container, report.Skipped, report.Failed, report.Elapsed.Seconds())
	return report, nil
}

func (p *Packager) packLevel(ctx context.Context, log logrus.FieldLogger, tr *tree.Tree, level tree.Level, w *mbtiles.Writer) (LevelReport, error) {
	lr := LevelReport{Zoom: level.Zoom}
	skip := func(name string, err error) {
		lr.Skipped++
		p.Metrics.PackTile("skipped")
		log.Warnf("skip %s: %s", name, err)
	}

	err := tr.Walk(level, skip, func(e tree.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(e.Path)
		if err != nil {
			lr.Failed++
			p.Metrics.PackTile("failed")
			log.Errorf("read %s: %s", e.Path, err)
			return nil
		}
		row := tile.FlipY(int(e.Tile.Y), level.Zoom)
		if err := w.Put(ctx, level.Zoom, int(e.Tile.X), row, data); err != nil {
			return err
		}
		lr.Packed++
		p.Metrics.PackTile("packed")
		return nil
	})
	if err != nil {
		return lr, err
	}
	log.Infof("zoom %d: %d tiles packed", level.Zoom, lr.Packed)
	return lr, nil
}
