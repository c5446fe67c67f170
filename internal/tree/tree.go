// Package tree stores tiles on disk as <root>/zoom_NN/tile_X_Y.<format>,
// always in the WebXYZ scheme. A tile file is only ever created by rename, so
// its presence means the tile was fully fetched.
package tree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	"tilepyramid/internal/tile"
)

const (
	zoomPrefix = "zoom_"
	tilePrefix = "tile_"
	tmpPattern = ".tile-*.part"
)

// ErrParse marks a directory or file name that does not follow the tree layout.
var ErrParse = errors.New("tree: malformed name")

// ParseError describes a name that could not be parsed.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tree: malformed name %q: %s", e.Name, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Tree is a tile tree rooted at a directory.
type Tree struct {
	root   string
	format string
}

// New returns a tree rooted at root holding tiles with the given extension.
func New(root, format string) *Tree {
	if format == "" {
		format = tile.JPG
	}
	return &Tree{root: root, format: format}
}

// Root is the tree's base directory.
func (t *Tree) Root() string { return t.root }

// Format is the tile file extension.
func (t *Tree) Format() string { return t.format }

// ZoomDirName returns the directory name of a zoom level.
func ZoomDirName(zoom int) string {
	return fmt.Sprintf("%s%02d", zoomPrefix, zoom)
}

// TileFileName returns the file name of a tile.
func TileFileName(x, y int, format string) string {
	return fmt.Sprintf("%s%d_%d.%s", tilePrefix, x, y, format)
}

// Path returns where mt is stored.
func (t *Tree) Path(mt maptile.Tile) string {
	return filepath.Join(t.root, ZoomDirName(int(mt.Z)), TileFileName(int(mt.X), int(mt.Y), t.format))
}

// Exists reports whether mt has already been fetched.
func (t *Tree) Exists(mt maptile.Tile) bool {
	info, err := os.Stat(t.Path(mt))
	return err == nil && info.Mode().IsRegular()
}

// Put writes data for mt. The content goes to a temporary file in the target
// directory first and is renamed into place, so a crash never leaves a
// partial tile under the final name.
func (t *Tree) Put(mt maptile.Tile, data []byte) error {
	path := t.Path(mt)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create zoom directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("create temp tile: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := tmp.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write tile %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename tile %s: %w", path, err)
	}
	return nil
}

// ParseZoomDir parses a zoom_NN directory name.
func ParseZoomDir(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, zoomPrefix)
	if !ok {
		return 0, &ParseError{Name: name, Reason: "missing " + zoomPrefix + " prefix"}
	}
	zoom, err := strconv.Atoi(rest)
	if err != nil || zoom < tile.ZoomMin || zoom > tile.ZoomMax {
		return 0, &ParseError{Name: name, Reason: "zoom is not a valid level"}
	}
	return zoom, nil
}

// ParseTileName parses a tile_X_Y.<format> file name.
func ParseTileName(name, format string) (x, y int, err error) {
	stem, ok := strings.CutSuffix(name, "."+format)
	if !ok {
		return 0, 0, &ParseError{Name: name, Reason: "missing ." + format + " suffix"}
	}
	stem, ok = strings.CutPrefix(stem, tilePrefix)
	if !ok {
		return 0, 0, &ParseError{Name: name, Reason: "missing " + tilePrefix + " prefix"}
	}
	parts := strings.Split(stem, "_")
	if len(parts) != 2 {
		return 0, 0, &ParseError{Name: name, Reason: "expected two coordinates"}
	}
	if x, err = parseCoord(parts[0]); err != nil {
		return 0, 0, &ParseError{Name: name, Reason: "bad x coordinate"}
	}
	if y, err = parseCoord(parts[1]); err != nil {
		return 0, 0, &ParseError{Name: name, Reason: "bad y coordinate"}
	}
	return x, y, nil
}

func parseCoord(s string) (int, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}

// Level is one zoom subtree.
type Level struct {
	Zoom int
	Dir  string
}

// Levels lists the zoom subtrees in ascending zoom order. Entries that are
// not zoom directories are reported through skip and otherwise ignored.
func (t *Tree) Levels(skip func(name string, err error)) ([]Level, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, err
	}

	var levels []Level
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		zoom, err := ParseZoomDir(e.Name())
		if err != nil {
			if skip != nil {
				skip(e.Name(), err)
			}
			continue
		}
		levels = append(levels, Level{Zoom: zoom, Dir: filepath.Join(t.root, e.Name())})
	}
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Zoom < levels[j].Zoom })
	return levels, nil
}

// Entry is a tile file found while walking a level.
type Entry struct {
	Tile maptile.Tile
	Path string
}

// Walk calls fn for every tile of a level. Files without the tree's
// extension are ignored; names that do not parse or lie off the zoom's grid
// are reported through skip.
func (t *Tree) Walk(level Level, skip func(name string, err error), fn func(Entry) error) error {
	entries, err := os.ReadDir(level.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "."+t.format) {
			continue
		}
		x, y, err := ParseTileName(e.Name(), t.format)
		if err == nil && !tile.Valid(level.Zoom, x, y) {
			err = &ParseError{Name: e.Name(), Reason: fmt.Sprintf("outside the zoom %d grid", level.Zoom)}
		}
		if err != nil {
			if skip != nil {
				skip(e.Name(), err)
			}
			continue
		}
		entry := Entry{
			Tile: maptile.New(uint32(x), uint32(y), maptile.Zoom(level.Zoom)),
			Path: filepath.Join(level.Dir, e.Name()),
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}
