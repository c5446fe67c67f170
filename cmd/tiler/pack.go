package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tilepyramid/internal/metrics"
	"tilepyramid/internal/pack"
)

func newPackCmd(a *app) *cobra.Command {
	var metricsFile string

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Pack a tile tree into an MBTiles container",
		Long: `Upsert every tile of the tree into the container, flipping rows to the
TMS scheme. Re-packing the same tree is idempotent. Files whose names do not
follow the tree layout are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := a.conf.Pack
			meta, err := pc.MetadataSet()
			if err != nil {
				return err
			}

			p := pack.New(pack.Config{
				TreeDir:   pc.TreeDir,
				Container: pc.Container,
				Format:    pc.Format,
				Metadata:  meta,
			}, a.log)
			m := metrics.NewCollector()
			p.Metrics = m

			report, err := p.Pack(a.ctx)
			if report != nil {
				printPackReport(cmd.OutOrStdout(), report, pc.Container)
			}
			if metricsFile != "" {
				if werr := prometheus.WriteToTextfile(metricsFile, m.Registry()); werr != nil {
					a.log.Warnf("write metrics to %s: %s", metricsFile, werr)
				}
			}
			return err
		},
	}

	fs := cmd.Flags()
	fs.String("tree", "", "tile tree `directory`")
	fs.String("mbtiles", "", "output MBTiles `file`")
	fs.String("format", "", "tile file extension")
	fs.StringVar(&metricsFile, "metrics-file", "", "write the run metrics to `file` in the text exposition format")

	bindKey(fs, "tree", "pack.treeDir")
	bindKey(fs, "mbtiles", "pack.container")
	bindKey(fs, "format", "pack.format")
	return cmd
}
