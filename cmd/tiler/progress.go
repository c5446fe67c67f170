package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
	pb "gopkg.in/cheggaaa/pb.v1"

	"tilepyramid/internal/fetch"
	"tilepyramid/internal/tile"
)

// progress draws one bar per zoom level of a fetch run.
type progress struct {
	out io.Writer

	mu  sync.Mutex
	bar *pb.ProgressBar
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out}
}

func (p *progress) LevelStarted(rng tile.Range) {
	bar := pb.New64(int64(rng.Count())).Prefix(fmt.Sprintf("Zoom %d : ", rng.Zoom))
	bar.SetRefreshRate(time.Second)
	bar.Output = p.out
	bar.Start()

	p.mu.Lock()
	p.bar = bar
	p.mu.Unlock()
}

func (p *progress) TileDone(t maptile.Tile, outcome fetch.Outcome) {
	p.mu.Lock()
	bar := p.bar
	p.mu.Unlock()
	if bar != nil {
		bar.Increment()
	}
}

func (p *progress) LevelFinished(l fetch.LevelReport) {
	p.mu.Lock()
	bar := p.bar
	p.bar = nil
	p.mu.Unlock()
	if bar != nil {
		bar.FinishPrint(fmt.Sprintf("Zoom %d finished: %d/%d tiles, %d failed",
			l.Range.Zoom, l.Satisfied, l.Total, l.Failed))
	}
}
