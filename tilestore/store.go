// Package tilestore archives compressed navigation tile layers in
// PostgreSQL, keyed by their grid location.
package tilestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/gorustyt/navtile/tilecache"
)

// ErrNotFound reports that no tile is stored at the requested location.
var ErrNotFound = errors.New("tile not found")

// pushWorkers bounds the concurrency of bulk cache transfers.
const pushWorkers = 8

// TileKey locates one stored layer.
type TileKey struct {
	TX, TY, TLayer int32
}

// Store archives compressed tile buffers.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and returns a Store handle.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() { s.pool.Close() }

// Put upserts the buffer stored at a grid location.
func (s *Store) Put(ctx context.Context, key TileKey, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO compressed_tiles (tx, ty, tlayer, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tx, ty, tlayer) DO UPDATE SET data = EXCLUDED.data`,
		key.TX, key.TY, key.TLayer, data,
	)
	if err != nil {
		return fmt.Errorf("storing tile (%d,%d,%d): %w", key.TX, key.TY, key.TLayer, err)
	}
	return nil
}

// Get retrieves the buffer stored at a grid location. Returns ErrNotFound
// when nothing is stored there.
func (s *Store) Get(ctx context.Context, key TileKey) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM compressed_tiles WHERE tx = $1 AND ty = $2 AND tlayer = $3`,
		key.TX, key.TY, key.TLayer,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying tile (%d,%d,%d): %w", key.TX, key.TY, key.TLayer, err)
	}
	return data, nil
}

// Delete removes the buffer stored at a grid location. Returns ErrNotFound
// when nothing was stored there.
func (s *Store) Delete(ctx context.Context, key TileKey) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM compressed_tiles WHERE tx = $1 AND ty = $2 AND tlayer = $3`,
		key.TX, key.TY, key.TLayer,
	)
	if err != nil {
		return fmt.Errorf("deleting tile (%d,%d,%d): %w", key.TX, key.TY, key.TLayer, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the keys of every stored tile, ordered by location.
func (s *Store) List(ctx context.Context) ([]TileKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tx, ty, tlayer FROM compressed_tiles ORDER BY tx, ty, tlayer`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tiles: %w", err)
	}
	defer rows.Close()

	var keys []TileKey
	for rows.Next() {
		var key TileKey
		if err := rows.Scan(&key.TX, &key.TY, &key.TLayer); err != nil {
			return nil, fmt.Errorf("scanning tile key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tiles: %w", err)
	}
	return keys, nil
}

// PushCache uploads every tile held by the cache. Uploads run concurrently;
// the cache itself is only read up front.
func (s *Store) PushCache(ctx context.Context, cache *tilecache.Cache) error {
	type entry struct {
		key  TileKey
		data []byte
	}
	var entries []entry
	for i := 0; i < int(cache.GetTileCount()); i++ {
		tile := cache.GetTile(i)
		if tile.Header == nil || tile.Data == nil {
			continue
		}
		entries = append(entries, entry{
			key:  TileKey{TX: tile.Header.TX, TY: tile.Header.TY, TLayer: tile.Header.TLayer},
			data: tile.Data,
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pushWorkers)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			return s.Put(ctx, e.key, e.data)
		})
	}
	return g.Wait()
}

// PullCache downloads every stored tile into the cache. Downloads run
// concurrently; the cache is filled from a single goroutine since it is not
// safe for concurrent mutation.
func (s *Store) PullCache(ctx context.Context, cache *tilecache.Cache) error {
	keys, err := s.List(ctx)
	if err != nil {
		return err
	}

	buffers := make([][]byte, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pushWorkers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			data, err := s.Get(gctx, key)
			if err != nil {
				return err
			}
			buffers[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, data := range buffers {
		if _, status := cache.AddTile(data, tilecache.CompressedTileFreeData); status.Failed() {
			return fmt.Errorf("adding tile (%d,%d,%d) to cache: %v",
				keys[i].TX, keys[i].TY, keys[i].TLayer, status)
		}
	}
	return nil
}
