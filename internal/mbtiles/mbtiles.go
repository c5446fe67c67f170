// Package mbtiles reads and writes MBTiles containers: a SQLite file with a
// metadata relation and a tiles relation keyed by (zoom_level, tile_column,
// tile_row), tile_row in the TMS scheme.
package mbtiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

const busyTimeoutMS = 10000

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	name TEXT,
	value TEXT
);
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level INTEGER,
	tile_column INTEGER,
	tile_row INTEGER,
	tile_data BLOB
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tiles ON tiles (zoom_level, tile_column, tile_row);
`

// ErrNotFound is returned for a coordinate with no row in the container.
var ErrNotFound = errors.New("mbtiles: tile not found")

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("mbtiles: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Required metadata keys.
var RequiredKeys = []string{"name", "format", "bounds", "minzoom", "maxzoom", "type"}

// Metadata is the container's name/value metadata.
type Metadata map[string]string

// DefaultMetadata is the descriptive metadata written by the packager unless
// configured otherwise.
func DefaultMetadata() Metadata {
	return Metadata{
		"name":    "GSI Aerial Photos",
		"format":  "jpg",
		"version": "1.0",
		"bounds":  "-180.0,-85.0511,180.0,85.0511",
		"minzoom": "14",
		"maxzoom": "18",
		"type":    "overlay",
	}
}

// Validate reports missing required keys.
func (m Metadata) Validate() error {
	for _, k := range RequiredKeys {
		if m[k] == "" {
			return fmt.Errorf("mbtiles: metadata %q is required", k)
		}
	}
	return nil
}

func (m Metadata) keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Container is an open MBTiles file.
type Container struct {
	db       *sql.DB
	path     string
	readOnly bool
}

func dsn(path string, params url.Values) string {
	params.Set("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	return "file:" + path + "?" + params.Encode()
}

// Create opens path for writing, creating the file when missing. Write
// transactions take the database write lock up front (BEGIN IMMEDIATE), so
// two packagers against the same file are serialized.
func Create(path string) (*Container, error) {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite3", dsn(path, params))
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}
	return &Container{db: db, path: path}, nil
}

// Open opens an existing container read-only.
func Open(path string) (*Container, error) {
	params := url.Values{}
	params.Set("mode", "ro")
	db, err := sql.Open("sqlite3", dsn(path, params))
	if err != nil {
		return nil, storageErr("open", err)
	}
	c := &Container{db: db, path: path, readOnly: true}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'tiles'`).Scan(&n); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}
	if n == 0 {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("%s has no tiles table", path))
	}
	return c, nil
}

// Path is the container file.
func (c *Container) Path() string { return c.path }

// Close closes the database.
func (c *Container) Close() error {
	return c.db.Close()
}

// Tile returns the tile at (zoom, column, row), row in the TMS scheme.
func (c *Container) Tile(ctx context.Context, zoom, column, row int) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		zoom, column, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("read tile", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Metadata reads the metadata relation.
func (c *Container) Metadata(ctx context.Context) (Metadata, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, storageErr("read metadata", err)
	}
	defer rows.Close()

	m := make(Metadata)
	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, storageErr("read metadata", err)
		}
		m[name.String] = value.String
	}
	return m, storageErr("read metadata", rows.Err())
}

// Count returns the number of tile rows, optionally for one zoom level
// (zoom < 0 counts all).
func (c *Container) Count(ctx context.Context, zoom int) (int, error) {
	var n int
	var err error
	if zoom < 0 {
		err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n)
	} else {
		err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles WHERE zoom_level = ?`, zoom).Scan(&n)
	}
	return n, storageErr("count tiles", err)
}

// Each calls fn for every tile row in (zoom, column, row) order.
func (c *Container) Each(ctx context.Context, fn func(zoom, column, row int, data []byte) error) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles ORDER BY zoom_level, tile_column, tile_row`)
	if err != nil {
		return storageErr("read tiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var z, x, y int
		var data []byte
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			return storageErr("read tiles", err)
		}
		if err := fn(z, x, y, data); err != nil {
			return err
		}
	}
	return storageErr("read tiles", rows.Err())
}

// Writer is a single write transaction over the container.
type Writer struct {
	tx     *sql.Tx
	upsert *sql.Stmt
}

// Begin starts the write transaction, creates the schema when missing and
// writes meta if the metadata relation is still empty. Metadata already
// present is left untouched.
func (c *Container) Begin(ctx context.Context, meta Metadata) (*Writer, error) {
	if c.readOnly {
		return nil, storageErr("begin", errors.New("container opened read-only"))
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	w := &Writer{tx: tx}
	if err := w.init(ctx, meta); err != nil {
		tx.Rollback()
		return nil, err
	}
	return w, nil
}

func (w *Writer) init(ctx context.Context, meta Metadata) error {
	if _, err := w.tx.ExecContext(ctx, schema); err != nil {
		return storageErr("create schema", err)
	}

	var n int
	if err := w.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata`).Scan(&n); err != nil {
		return storageErr("read metadata", err)
	}
	if n == 0 {
		for _, k := range meta.keys() {
			if _, err := w.tx.ExecContext(ctx, `INSERT INTO metadata (name, value) VALUES (?, ?)`, k, meta[k]); err != nil {
				return storageErr("write metadata", err)
			}
		}
	}

	stmt, err := w.tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return storageErr("prepare upsert", err)
	}
	w.upsert = stmt
	return nil
}

// Put upserts a tile, row in the TMS scheme.
func (w *Writer) Put(ctx context.Context, zoom, column, row int, data []byte) error {
	_, err := w.upsert.ExecContext(ctx, zoom, column, row, data)
	return storageErr("write tile", err)
}

// Commit makes the writes visible.
func (w *Writer) Commit() error {
	w.upsert.Close()
	return storageErr("commit", w.tx.Commit())
}

// Rollback discards the writes.
func (w *Writer) Rollback() error {
	if w.upsert != nil {
		w.upsert.Close()
	}
	err := w.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return storageErr("rollback", err)
}
