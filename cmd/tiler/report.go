package main

import (
	"fmt"
	"io"

	"tilepyramid/internal/fetch"
	"tilepyramid/internal/pack"
)

func printFetchReport(w io.Writer, r *fetch.Report) {
	fmt.Fprintf(w, "fetch run %s\n", r.RunID)
	for _, l := range r.Levels {
		fmt.Fprintf(w, "  %s  %d/%d tiles (%d existing, %d downloaded, %d failed)\n",
			l.Range, l.Satisfied, l.Total, l.Existing, l.Fetched, l.Failed)
	}
	fmt.Fprintf(w, "total %d/%d tiles, %d downloaded, %d failed, %.3fs\n",
		r.Satisfied, r.Total, r.Fetched, r.Failed, r.Elapsed.Seconds())
}

func printPackReport(w io.Writer, r *pack.Report, container string) {
	fmt.Fprintf(w, "pack run %s\n", r.RunID)
	for _, l := range r.Levels {
		fmt.Fprintf(w, "  zoom %d  %d packed, %d skipped, %d failed\n", l.Zoom, l.Packed, l.Skipped, l.Failed)
	}
	fmt.Fprintf(w, "packed %d tiles into %s, %.3fs\n", r.Packed, container, r.Elapsed.Seconds())
}
