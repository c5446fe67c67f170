package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"tilepyramid/internal/mbtiles"
	"tilepyramid/internal/tile"
)

// lookupTimeout bounds a container query shared by coalesced requests.
const lookupTimeout = 10 * time.Second

// Source looks up a tile by container coordinates. *mbtiles.Container
// implements it.
type Source interface {
	Tile(ctx context.Context, zoom, column, row int) ([]byte, error)
}

// Service answers WebXYZ tile requests from a TMS container through an LRU
// cache. Absent tiles are cached as well; storage errors are not.
type Service struct {
	src   Source
	cache *Cache
	group singleflight.Group
	log   logrus.FieldLogger
}

// NewService creates a tile service.
func NewService(src Source, cache *Cache, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{src: src, cache: cache, log: log}
}

// Tile returns the tile at WebXYZ (z, x, y), or mbtiles.ErrNotFound.
func (s *Service) Tile(ctx context.Context, z, x, y int) ([]byte, error) {
	if !tile.Valid(z, x, y) {
		return nil, mbtiles.ErrNotFound
	}
	key := CacheKey{Z: z, X: x, Row: tile.FlipY(y, z)}

	if v, ok := s.cache.Get(key); ok {
		return result(v)
	}

	// concurrent misses on the same row share one container query, which
	// must outlive any single caller
	ch := s.group.DoChan(fmt.Sprintf("%d/%d/%d", key.Z, key.X, key.Row), func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		data, err := s.src.Tile(qctx, key.Z, key.X, key.Row)
		var val CacheValue
		switch {
		case err == nil:
			val = CacheValue{Data: data, Found: true}
		case errors.Is(err, mbtiles.ErrNotFound):
			val = CacheValue{}
		default:
			return nil, err
		}
		s.cache.Add(key, val)
		return val, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			entry := s.log.WithFields(logrus.Fields{"z": z, "x": x, "y": y})
			if Interrupted(res.Err) {
				entry.Warnf("tile lookup interrupted: %s", res.Err)
			} else {
				entry.Errorf("tile lookup failed: %s", res.Err)
			}
			return nil, res.Err
		}
		return result(res.Val.(CacheValue))
	}
}

// Interrupted reports whether err comes from a cancelled or timed out
// context rather than from the container itself.
func Interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func result(v CacheValue) ([]byte, error) {
	if !v.Found {
		return nil, mbtiles.ErrNotFound
	}
	return v.Data, nil
}
