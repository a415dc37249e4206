package tilestore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gorustyt/navtile/navmesh"
	"github.com/gorustyt/navtile/tilecache"
)

// rawCompressor stores layer grids uncompressed.
type rawCompressor struct{}

func (rawCompressor) MaxCompressedSize(srcSize int) int { return srcSize }

func (rawCompressor) Compress(dst, src []byte) (int, navmesh.Status) {
	copy(dst, src)
	return len(src), navmesh.Success
}

func (rawCompressor) Decompress(dst, src []byte) (int, navmesh.Status) {
	n := copy(dst, src)
	return n, navmesh.Success
}

func layerData(t *testing.T, tx, ty int32) []byte {
	t.Helper()
	const side = 8
	header := &tilecache.LayerHeader{
		Magic:   tilecache.LayerMagic,
		Version: tilecache.LayerVersion,
		TX:      tx,
		TY:      ty,
		BMin:    [3]float32{float32(tx) * side, 0, float32(ty) * side},
		BMax:    [3]float32{float32(tx)*side + side, 2, float32(ty)*side + side},
		HMax:    1,
		Width:   side,
		Height:  side,
		MaxX:    side - 1,
		MaxY:    side - 1,
	}
	grid := make([]uint8, side*side)
	areas := make([]uint8, side*side)
	for i := range areas {
		areas[i] = tilecache.WalkableArea
	}
	data, status := tilecache.BuildTileLayer(rawCompressor{}, header, grid, areas, grid)
	require.True(t, status.Succeeded())
	return data
}

// StoreSuite needs a reachable PostgreSQL; it is skipped unless
// NAVTILE_DB_ADDR carries a DSN.
type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
}

func TestStoreSuite(t *testing.T) {
	if os.Getenv("NAVTILE_DB_ADDR") == "" {
		t.Skip("NAVTILE_DB_ADDR not set")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()
	dsn := os.Getenv("NAVTILE_DB_ADDR")
	s.Require().NoError(Migrate(s.ctx, dsn))

	store, err := Open(s.ctx, dsn)
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *StoreSuite) SetupTest() {
	_, err := s.store.pool.Exec(s.ctx, `DELETE FROM compressed_tiles`)
	s.Require().NoError(err)
}

func (s *StoreSuite) TestPutGetDelete() {
	key := TileKey{TX: 1, TY: 2, TLayer: 0}
	data := layerData(s.T(), 1, 2)

	s.Require().NoError(s.store.Put(s.ctx, key, data))
	got, err := s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(data, got)

	// Put at an occupied key overwrites.
	data2 := layerData(s.T(), 1, 2)
	data2[len(data2)-1] ^= 0xff
	s.Require().NoError(s.store.Put(s.ctx, key, data2))
	got, err = s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(data2, got)

	s.Require().NoError(s.store.Delete(s.ctx, key))
	_, err = s.store.Get(s.ctx, key)
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(s.store.Delete(s.ctx, key), ErrNotFound)
}

func (s *StoreSuite) TestList() {
	keys := []TileKey{{TX: 0, TY: 0}, {TX: 0, TY: 1}, {TX: 1, TY: 0}}
	for _, key := range keys {
		s.Require().NoError(s.store.Put(s.ctx, key, layerData(s.T(), key.TX, key.TY)))
	}

	got, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Equal([]TileKey{{TX: 0, TY: 0}, {TX: 0, TY: 1}, {TX: 1, TY: 0}}, got)
}

func (s *StoreSuite) TestPushPullCacheRoundTrip() {
	params := &tilecache.Params{
		CS: 1, CH: 0.2, Width: 8, Height: 8,
		MaxTiles: 16, MaxObstacles: 4,
	}
	src, status := tilecache.NewCache(params, rawCompressor{}, nil, nil, nil)
	s.Require().True(status.Succeeded())
	for tx := int32(0); tx < 2; tx++ {
		for ty := int32(0); ty < 2; ty++ {
			_, status := src.AddTile(layerData(s.T(), tx, ty), 0)
			s.Require().True(status.Succeeded())
		}
	}

	s.Require().NoError(s.store.PushCache(s.ctx, src))

	dst, status := tilecache.NewCache(params, rawCompressor{}, nil, nil, nil)
	s.Require().True(status.Succeeded())
	s.Require().NoError(s.store.PullCache(s.ctx, dst))

	for tx := int32(0); tx < 2; tx++ {
		for ty := int32(0); ty < 2; ty++ {
			tile := dst.GetTileAt(tx, ty, 0)
			s.Require().NotNil(tile)
			s.Equal(src.GetTileAt(tx, ty, 0).Data, tile.Data)
		}
	}
}
