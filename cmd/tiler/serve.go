package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"tilepyramid/internal/mbtiles"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an MBTiles container as XYZ tiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.conf.Serve
			if err := sc.Validate(); err != nil {
				return err
			}

			c, err := mbtiles.Open(sc.Container)
			if err != nil {
				return err
			}
			a.exit.Register(func() { closeQuietly(c) })

			meta, err := c.Metadata(a.ctx)
			if err != nil {
				return err
			}
			view := server.View{Lat: sc.Lat, Lon: sc.Lon, Zoom: sc.Zoom, MaxZoom: sc.MaxZoom}
			if mz, err := strconv.Atoi(meta["maxzoom"]); err == nil && !cmd.Flags().Changed("max-zoom") {
				view.MaxZoom = mz
			}

			m := metrics.NewCollector()
			svc := server.NewService(c, server.NewCache(sc.CacheSize, m), a.log)
			h := server.NewHandlers(svc, meta["format"], view, m, a.log)
			a.log.Infof("serving %s (%s, zoom %s-%s)", sc.Container, meta["format"], meta["minzoom"], meta["maxzoom"])
			return server.ListenAndServe(a.ctx, sc.Addr, h.Routes(), a.log)
		},
	}

	fs := cmd.Flags()
	fs.String("addr", "", "listen `address`")
	fs.String("mbtiles", "", "MBTiles `file` to serve")
	fs.Int("cache-size", 0, "tiles kept in the LRU cache")
	fs.Int("max-zoom", 0, "maximum zoom of the map page")

	bindKey(fs, "addr", "serve.addr")
	bindKey(fs, "mbtiles", "serve.container")
	bindKey(fs, "cache-size", "serve.cacheSize")
	bindKey(fs, "max-zoom", "serve.maxZoom")
	return cmd
}
