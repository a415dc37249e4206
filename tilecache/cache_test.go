package tilecache

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorustyt/navtile/navmesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridMeshBuilder turns the usable region of a layer into a single quad, or
// an empty mesh when every usable cell has been carved away. It records the
// carved cell count of each build so tests can observe obstacle stamping.
type gridMeshBuilder struct {
	carved []int
	fail   bool
}

func (b *gridMeshBuilder) Build(layer *TileLayer, cfg *BuildConfig) (*PolyMesh, navmesh.Status) {
	if b.fail {
		return nil, navmesh.Failure
	}
	h := layer.Header
	w := int(h.Width)
	walkable, carved := 0, 0
	for y := int(h.MinY); y <= int(h.MaxY); y++ {
		for x := int(h.MinX); x <= int(h.MaxX); x++ {
			if layer.Areas[x+y*w] == NullArea {
				carved++
			} else {
				walkable++
			}
		}
	}
	b.carved = append(b.carved, carved)
	if walkable == 0 {
		return &PolyMesh{}, navmesh.Success
	}
	return &PolyMesh{
		Verts: []uint16{
			uint16(h.MinX), 0, uint16(h.MinY),
			uint16(h.MaxX) + 1, 0, uint16(h.MinY),
			uint16(h.MaxX) + 1, 0, uint16(h.MaxY) + 1,
			uint16(h.MinX), 0, uint16(h.MaxY) + 1,
		},
		Polys: []uint16{
			0, 1, 2, 3, 0xffff, 0xffff,
			0x800f, 0x800f, 0x800f, 0x800f, 0, 0,
		},
		Flags:  []uint16{1},
		Areas:  []uint8{WalkableArea},
		NVerts: 4,
		NPolys: 1,
	}, navmesh.Success
}

func testCacheParams(maxTiles, maxObstacles int32) *Params {
	return &Params{
		Orig:   mgl32.Vec3{0, 0, 0},
		CS:     1,
		CH:     0.2,
		Width:  testGridSide,
		Height: testGridSide,

		WalkableHeight:         2,
		WalkableRadius:         0.5,
		WalkableClimb:          0.9,
		MaxSimplificationError: 1.3,

		MaxTiles:     maxTiles,
		MaxObstacles: maxObstacles,
	}
}

func newTestCache(t *testing.T, maxTiles, maxObstacles int32, builder MeshBuilder) *Cache {
	t.Helper()
	c, status := NewCache(testCacheParams(maxTiles, maxObstacles), passthroughCompressor{}, builder, nil, nil)
	require.True(t, status.Succeeded())
	return c
}

func newCacheMesh(t *testing.T) *navmesh.Mesh {
	t.Helper()
	m, status := navmesh.NewMesh(&navmesh.Params{
		TileWidth:  testGridSide,
		TileHeight: testGridSide,
		MaxTiles:   16,
		MaxPolys:   16,
	})
	require.True(t, status.Succeeded())
	return m
}

// addTestTile stores a layer at (tx, ty) and returns its reference.
func addTestTile(t *testing.T, c *Cache, tx, ty int32) CompressedTileRef {
	t.Helper()
	ref, status := c.AddTile(testLayerData(t, tx, ty, 0), 0)
	require.True(t, status.Succeeded())
	require.NotZero(t, ref)
	return ref
}

// drain ticks the cache until it reports up to date and returns how many
// ticks that took.
func drain(t *testing.T, c *Cache, mesh *navmesh.Mesh) int {
	t.Helper()
	for i := 1; ; i++ {
		status, upToDate := c.Update(0.1, mesh)
		require.True(t, status.Succeeded())
		if upToDate {
			return i
		}
		require.Less(t, i, 100)
	}
}

func TestCacheAddRemoveTile(t *testing.T) {
	c := newTestCache(t, 8, 4, &gridMeshBuilder{})

	ref := addTestTile(t, c, 2, 3)

	tile := c.GetTileAt(2, 3, 0)
	require.NotNil(t, tile)
	assert.Equal(t, ref, c.GetTileRef(tile))
	assert.Same(t, tile, c.GetTileByRef(ref))
	assert.Nil(t, c.GetTileAt(2, 3, 1))
	assert.Nil(t, c.GetTileAt(3, 2, 0))

	var refs [4]CompressedTileRef
	assert.Equal(t, 1, c.GetTilesAt(2, 3, refs[:]))
	assert.Equal(t, ref, refs[0])

	// The grid location is taken.
	_, status := c.AddTile(testLayerData(t, 2, 3, 0), 0)
	assert.True(t, status.Failed())

	// The caller kept ownership, so removal hands the buffer back.
	data, status := c.RemoveTile(ref)
	require.True(t, status.Succeeded())
	assert.NotNil(t, data)
	assert.Nil(t, c.GetTileAt(2, 3, 0))
	assert.Nil(t, c.GetTileByRef(ref))

	// The stale reference is rejected everywhere.
	_, status = c.RemoveTile(ref)
	assert.True(t, status.Detail(navmesh.InvalidParam))

	// With ownership passed to the cache nothing is handed back.
	ref2, status := c.AddTile(testLayerData(t, 2, 3, 0), CompressedTileFreeData)
	require.True(t, status.Succeeded())
	assert.NotEqual(t, ref, ref2)
	data, status = c.RemoveTile(ref2)
	require.True(t, status.Succeeded())
	assert.Nil(t, data)
}

func TestCacheAddTileValidation(t *testing.T) {
	c := newTestCache(t, 8, 4, &gridMeshBuilder{})

	_, status := c.AddTile(nil, 0)
	assert.True(t, status.Detail(navmesh.InvalidParam))

	data := testLayerData(t, 0, 0, 0)

	bad := append([]byte(nil), data...)
	bad[3] ^= 0xff
	_, status = c.AddTile(bad, 0)
	assert.True(t, status.Detail(navmesh.WrongMagic))

	bad = append([]byte(nil), data...)
	bad[4] ^= 0xff
	_, status = c.AddTile(bad, 0)
	assert.True(t, status.Detail(navmesh.WrongVersion))

	_, status = c.RemoveTile(0)
	assert.True(t, status.Detail(navmesh.InvalidParam))

	// A reference minted from a never-occupied slot matches the slot's
	// initial salt but carries no tile.
	free := c.GetTileRef(c.GetTile(1))
	require.NotZero(t, free)
	_, status = c.RemoveTile(free)
	assert.True(t, status.Detail(navmesh.InvalidParam))
}

func TestCacheTilePoolExhausted(t *testing.T) {
	c := newTestCache(t, 2, 4, &gridMeshBuilder{})

	addTestTile(t, c, 0, 0)
	addTestTile(t, c, 1, 0)

	_, status := c.AddTile(testLayerData(t, 2, 0, 0), 0)
	assert.True(t, status.Detail(navmesh.OutOfMemory))
}

func TestQueryTilesTightBounds(t *testing.T) {
	c := newTestCache(t, 8, 4, &gridMeshBuilder{})

	// Content occupies only the low quarter of the grid, so the tight bounds
	// stop at x,z = 5 even though the tile nominally spans 10.
	header := testLayerHeader(0, 0, 0)
	header.MaxX = 4
	header.MaxY = 4
	heights, areas, cons := testLayerGrids()
	data, status := BuildTileLayer(passthroughCompressor{}, header, heights, areas, cons)
	require.True(t, status.Succeeded())
	ref, status := c.AddTile(data, 0)
	require.True(t, status.Succeeded())

	var results [4]CompressedTileRef
	n := c.QueryTiles(mgl32.Vec3{1, -1, 1}, mgl32.Vec3{3, 1, 3}, results[:])
	require.Equal(t, 1, n)
	assert.Equal(t, ref, results[0])

	// Inside the nominal tile but outside the occupied region.
	n = c.QueryTiles(mgl32.Vec3{7, -1, 7}, mgl32.Vec3{9, 1, 9}, results[:])
	assert.Equal(t, 0, n)
}

func TestObstacleLifecycle(t *testing.T) {
	builder := &gridMeshBuilder{}
	c := newTestCache(t, 8, 4, builder)
	mesh := newCacheMesh(t)

	addTestTile(t, c, 0, 0)
	addTestTile(t, c, 1, 0)
	require.True(t, c.BuildTilesAt(0, 0, mesh).Succeeded())
	require.True(t, c.BuildTilesAt(1, 0, mesh).Succeeded())
	require.NotNil(t, mesh.GetTileAt(0, 0, 0))
	require.NotNil(t, mesh.GetTileAt(1, 0, 0))
	builder.carved = nil

	// A cylinder straddling the shared tile border touches both tiles.
	ref, status := c.AddObstacle(mgl32.Vec3{10, 0, 5}, 2, 1)
	require.True(t, status.Succeeded())
	ob := c.GetObstacleByRef(ref)
	require.NotNil(t, ob)
	assert.Equal(t, ObstacleProcessing, ob.State)

	// First tick drains the request and rebuilds one of the two tiles.
	status, upToDate := c.Update(0.1, mesh)
	require.True(t, status.Succeeded())
	assert.False(t, upToDate)
	assert.Equal(t, 2, ob.NTouched)
	assert.Equal(t, ObstacleProcessing, ob.State)

	// Second tick rebuilds the other; the obstacle is now fully applied.
	status, upToDate = c.Update(0.1, mesh)
	require.True(t, status.Succeeded())
	assert.True(t, upToDate)
	assert.Equal(t, ObstacleProcessed, ob.State)

	// Both rebuilds saw carved cells.
	require.Len(t, builder.carved, 2)
	assert.Greater(t, builder.carved[0], 0)
	assert.Greater(t, builder.carved[1], 0)

	// Ticking an idle cache is a no-op.
	status, upToDate = c.Update(0.1, mesh)
	require.True(t, status.Succeeded())
	assert.True(t, upToDate)

	// Removing rebuilds the touched tiles without the obstacle and frees the
	// slot under a new salt.
	builder.carved = nil
	require.True(t, c.RemoveObstacle(ref).Succeeded())
	drain(t, c, mesh)
	assert.Nil(t, c.GetObstacleByRef(ref))
	assert.Equal(t, ObstacleEmpty, ob.State)
	require.Len(t, builder.carved, 2)
	assert.Equal(t, 0, builder.carved[0])
	assert.Equal(t, 0, builder.carved[1])

	// Removing an already-freed obstacle via its stale reference is dropped
	// during the drain without touching the reused slot.
	require.True(t, c.RemoveObstacle(ref).Succeeded())
	drain(t, c, mesh)
	assert.Equal(t, ObstacleEmpty, ob.State)
}

func TestObstacleRemoveBeforeProcessed(t *testing.T) {
	builder := &gridMeshBuilder{}
	c := newTestCache(t, 8, 4, builder)
	mesh := newCacheMesh(t)

	addTestTile(t, c, 0, 0)
	addTestTile(t, c, 1, 0)

	// Add and remove within the same tick: the drain flips the obstacle to
	// removing before any tile is rebuilt, so it never carves.
	ref, status := c.AddObstacle(mgl32.Vec3{10, 0, 5}, 2, 1)
	require.True(t, status.Succeeded())
	ob := c.GetObstacleByRef(ref)
	require.NotNil(t, ob)
	require.True(t, c.RemoveObstacle(ref).Succeeded())

	status, upToDate := c.Update(0.1, mesh)
	require.True(t, status.Succeeded())
	assert.False(t, upToDate)
	assert.Equal(t, ObstacleRemoving, ob.State)

	drain(t, c, mesh)
	assert.Equal(t, ObstacleEmpty, ob.State)
	assert.Nil(t, c.GetObstacleByRef(ref))
	for _, carved := range builder.carved {
		assert.Equal(t, 0, carved)
	}

	// The freed slot is reusable and gets a different reference.
	ref2, status := c.AddObstacle(mgl32.Vec3{5, 0, 5}, 1, 1)
	require.True(t, status.Succeeded())
	assert.NotEqual(t, ref, ref2)
}

func TestObstacleRequestQueueFull(t *testing.T) {
	c := newTestCache(t, 8, 128, &gridMeshBuilder{})

	var first ObstacleRef
	for i := 0; i < maxRequests; i++ {
		ref, status := c.AddObstacle(mgl32.Vec3{float32(i), 0, 0}, 1, 1)
		require.True(t, status.Succeeded())
		if i == 0 {
			first = ref
		}
	}

	// A full queue rejects both kinds of request without touching any state.
	_, status := c.AddObstacle(mgl32.Vec3{0, 0, 0}, 1, 1)
	assert.True(t, status.Detail(navmesh.BufferTooSmall))
	assert.True(t, c.RemoveObstacle(first).Detail(navmesh.BufferTooSmall))

	allocated := 0
	for i := 0; i < int(c.GetObstacleCount()); i++ {
		if c.GetObstacle(i).State != ObstacleEmpty {
			allocated++
		}
	}
	assert.Equal(t, maxRequests, allocated)
}

func TestObstacleSlotsExhausted(t *testing.T) {
	c := newTestCache(t, 8, 1, &gridMeshBuilder{})

	_, status := c.AddObstacle(mgl32.Vec3{0, 0, 0}, 1, 1)
	require.True(t, status.Succeeded())

	_, status = c.AddObstacle(mgl32.Vec3{5, 0, 0}, 1, 1)
	assert.True(t, status.Detail(navmesh.OutOfMemory))
}

func TestObstacleTouchedTileTruncation(t *testing.T) {
	c := newTestCache(t, 16, 4, &gridMeshBuilder{})
	mesh := newCacheMesh(t)

	for ty := int32(0); ty < 3; ty++ {
		for tx := int32(0); tx < 3; tx++ {
			addTestTile(t, c, tx, ty)
		}
	}

	// The box overlaps all nine tiles; the touched list holds eight.
	ref, status := c.AddBoxObstacle(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{31, 1, 31})
	require.True(t, status.Succeeded())

	_, _ = c.Update(0.1, mesh)
	ob := c.GetObstacleByRef(ref)
	require.NotNil(t, ob)
	assert.Equal(t, MaxTouchedTiles, ob.NTouched)
}

func TestObstacleCarveRemovesEmptyTile(t *testing.T) {
	builder := &gridMeshBuilder{}
	c := newTestCache(t, 8, 4, builder)
	mesh := newCacheMesh(t)

	addTestTile(t, c, 0, 0)
	require.True(t, c.BuildTilesAt(0, 0, mesh).Succeeded())
	require.NotNil(t, mesh.GetTileAt(0, 0, 0))

	// A cylinder swallowing the whole tile carves every cell; the rebuilt
	// tile is empty, so the mesh location is cleared rather than kept stale.
	ref, status := c.AddObstacle(mgl32.Vec3{5, 0, 5}, 8, 1)
	require.True(t, status.Succeeded())
	drain(t, c, mesh)
	assert.Nil(t, mesh.GetTileAt(0, 0, 0))

	// Removing the obstacle brings the tile back.
	require.True(t, c.RemoveObstacle(ref).Succeeded())
	drain(t, c, mesh)
	assert.NotNil(t, mesh.GetTileAt(0, 0, 0))
}

func TestObstacleOBBCarves(t *testing.T) {
	builder := &gridMeshBuilder{}
	c := newTestCache(t, 8, 4, builder)
	mesh := newCacheMesh(t)

	addTestTile(t, c, 0, 0)

	_, status := c.AddObstacleOBB(mgl32.Vec3{5, 0, 5}, mgl32.Vec3{2, 1, 1}, 0.785398)
	require.True(t, status.Succeeded())
	drain(t, c, mesh)

	require.NotEmpty(t, builder.carved)
	carved := builder.carved[len(builder.carved)-1]
	assert.Greater(t, carved, 0)
	assert.Less(t, carved, testGridSide*testGridSide)
}

func TestBuildTilesAt(t *testing.T) {
	c := newTestCache(t, 8, 4, &gridMeshBuilder{})
	mesh := newCacheMesh(t)

	addTestTile(t, c, 1, 2)
	require.Nil(t, mesh.GetTileAt(1, 2, 0))

	require.True(t, c.BuildTilesAt(1, 2, mesh).Succeeded())
	assert.NotNil(t, mesh.GetTileAt(1, 2, 0))

	// A cell with no stored layers is fine.
	assert.True(t, c.BuildTilesAt(5, 5, mesh).Succeeded())
}

func TestBuildFailureLeavesMeshTile(t *testing.T) {
	builder := &gridMeshBuilder{}
	c := newTestCache(t, 8, 4, builder)
	mesh := newCacheMesh(t)

	addTestTile(t, c, 0, 0)
	require.True(t, c.BuildTilesAt(0, 0, mesh).Succeeded())
	prev := mesh.GetTileRefAt(0, 0, 0)
	require.NotZero(t, prev)

	// A failed rebuild reports the failure and leaves the mesh tile as it
	// was.
	builder.fail = true
	_, status := c.AddObstacle(mgl32.Vec3{5, 0, 5}, 2, 1)
	require.True(t, status.Succeeded())
	status, _ = c.Update(0.1, mesh)
	assert.True(t, status.Failed())
	assert.Equal(t, prev, mesh.GetTileRefAt(0, 0, 0))
}

func TestCacheRefEncoding(t *testing.T) {
	c := newTestCache(t, 8, 4, &gridMeshBuilder{})

	assert.Equal(t, CompressedTileRef(0), c.GetTileRef(nil))
	assert.Nil(t, c.GetTileByRef(0))
	assert.Equal(t, ObstacleRef(0), c.GetObstacleRef(nil))
	assert.Nil(t, c.GetObstacleByRef(0))

	ref := addTestTile(t, c, 0, 0)
	// An out-of-range tile index is rejected.
	assert.Nil(t, c.GetTileByRef(ref|CompressedTileRef(c.params.MaxTiles)))
}

func TestNewCacheRejectsHugeTileCount(t *testing.T) {
	params := testCacheParams(1<<24, 4)
	_, status := NewCache(params, passthroughCompressor{}, &gridMeshBuilder{}, nil, nil)
	assert.True(t, status.Detail(navmesh.InvalidParam))
}
