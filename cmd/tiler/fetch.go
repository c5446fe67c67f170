package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tilepyramid/internal/fetch"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/tree"
)

func newFetchCmd(a *app) *cobra.Command {
	var metricsFile string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the tiles covering an area into a tile tree",
		Long: `Download every tile covering the configured area at every zoom level of
the configured range. Tiles already in the tree are skipped, so running the
command again resumes an interrupted or partially failed run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc := a.conf.Fetch
			cfg, err := fc.Fetcher()
			if err != nil {
				return err
			}

			f, err := fetch.New(cfg, tree.New(fc.TreeDir, fc.Format), a.log)
			if err != nil {
				return err
			}
			m := metrics.NewCollector()
			f.Metrics = m
			if !noProgress {
				f.Observer = newProgress(cmd.OutOrStdout())
			}

			report, err := f.Fetch(a.ctx)
			if report != nil {
				printFetchReport(cmd.OutOrStdout(), report)
			}
			if metricsFile != "" {
				if werr := prometheus.WriteToTextfile(metricsFile, m.Registry()); werr != nil {
					a.log.Warnf("write metrics to %s: %s", metricsFile, werr)
				}
			}
			if err != nil {
				return fmt.Errorf("fetch interrupted: %w", err)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.String("tree", "", "tile tree `directory`")
	fs.String("url", "", "remote URL template with {z}, {x} and {y}")
	fs.String("geojson", "", "take the area from the bounds of a GeoJSON `file`")
	fs.Float64("lat1", 0, "latitude of the first corner")
	fs.Float64("lon1", 0, "longitude of the first corner")
	fs.Float64("lat2", 0, "latitude of the opposite corner")
	fs.Float64("lon2", 0, "longitude of the opposite corner")
	fs.Int("min-zoom", 0, "first zoom level")
	fs.Int("max-zoom", 0, "last zoom level")
	fs.Int("workers", 0, "concurrent requests")
	fs.Duration("delay", time.Duration(0), "minimum spacing between two requests")
	fs.Duration("timeout", time.Duration(0), "per-request timeout")
	fs.StringVar(&metricsFile, "metrics-file", "", "write the run metrics to `file` in the text exposition format")
	fs.BoolVar(&noProgress, "no-progress", false, "do not draw progress bars")

	for name, key := range map[string]string{
		"tree":     "fetch.treeDir",
		"url":      "fetch.url",
		"geojson":  "fetch.geojson",
		"lat1":     "fetch.lat1",
		"lon1":     "fetch.lon1",
		"lat2":     "fetch.lat2",
		"lon2":     "fetch.lon2",
		"min-zoom": "fetch.minZoom",
		"max-zoom": "fetch.maxZoom",
		"workers":  "fetch.workers",
		"delay":    "fetch.delay",
		"timeout":  "fetch.timeout",
	} {
		bindKey(fs, name, key)
	}
	return cmd
}
