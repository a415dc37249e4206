package navmesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// overheadTileParams holds two disjoint quads: a low one on the west side
// and one 1.8 units up on the east side, close enough for a point over the
// low quad to be nearer in space to the high quad's edge.
func overheadTileParams() *CreateParams {
	p := squareTileParams(0, 0, 0)
	p.Verts = []uint16{
		0, 0, 0,
		4, 0, 0,
		4, 0, 10,
		0, 0, 10,
		4, 18, 0,
		10, 18, 0,
		10, 18, 10,
		4, 18, 10,
	}
	p.VertCount = 8
	p.Polys = []uint16{
		0, 1, 2, 3, meshNullIdx, meshNullIdx,
		meshNullIdx, meshNullIdx, meshNullIdx, meshNullIdx, 0, 0,
		4, 5, 6, 7, meshNullIdx, meshNullIdx,
		meshNullIdx, meshNullIdx, meshNullIdx, meshNullIdx, 0, 0,
	}
	p.PolyFlags = []uint16{1, 1}
	p.PolyAreas = []uint8{0, 0}
	p.PolyCount = 2
	p.BMax = [3]float32{10, 4, 10}
	p.CH = 0.1
	p.WalkableClimb = 2
	return p
}

func offMeshTileParams() *CreateParams {
	p := squareTileParams(0, 0, 0)
	p.OffMeshConVerts = []float32{2, 0, 2, 8, 0, 8}
	p.OffMeshConRad = []float32{0.6}
	p.OffMeshConDir = []uint8{1}
	p.OffMeshConAreas = []uint8{5}
	p.OffMeshConFlags = []uint16{0x10}
	p.OffMeshConUserID = []uint32{42}
	p.OffMeshConCount = 1
	return p
}

func TestFindNearestPrefersPolyUnderPoint(t *testing.T) {
	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, overheadTileParams()), 0, 0)
	require.True(t, status.Succeeded())
	tile := m.GetTileByRef(ref)
	base := m.GetPolyRefBase(tile)

	// The point stands over the low quad within climb height. The high
	// quad's border is closer in straight-line distance, but standing
	// position wins.
	center := mgl32.Vec3{3.5, 1.9, 5}
	nearest, nearestPt := m.FindNearestPolyInTile(tile, center, mgl32.Vec3{5, 5, 5})

	assert.Equal(t, base|0, nearest)
	assert.InDelta(t, 3.5, nearestPt[0], 1e-5)
	assert.InDelta(t, 0, nearestPt[1], 1e-5)
	assert.InDelta(t, 5, nearestPt[2], 1e-5)
}

func TestFindNearestOverPolyBeyondClimb(t *testing.T) {
	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, overheadTileParams()), 0, 0)
	require.True(t, status.Succeeded())
	tile := m.GetTileByRef(ref)
	base := m.GetPolyRefBase(tile)

	// High above the east quad: the standing bonus no longer zeroes the
	// distance, but the remaining vertical gap still beats the low quad.
	center := mgl32.Vec3{4.5, 6, 5}
	nearest, nearestPt := m.FindNearestPolyInTile(tile, center, mgl32.Vec3{6, 6, 6})

	assert.Equal(t, base|1, nearest)
	assert.InDelta(t, 4.5, nearestPt[0], 1e-5)
	assert.InDelta(t, 1.8, nearestPt[1], 1e-5)
	assert.InDelta(t, 5, nearestPt[2], 1e-5)
}

func TestGetPolyHeightDegenerateDetail(t *testing.T) {
	p := squareTileParams(0, 0, 0)
	p.Verts = []uint16{
		0, 0, 0,
		10, 0, 0,
		0, 0, 10,
	}
	p.VertCount = 3
	p.Polys = []uint16{
		0, 1, 2, meshNullIdx, meshNullIdx, meshNullIdx,
		meshNullIdx, meshNullIdx, meshNullIdx, 0, 0, 0,
	}
	p.PolyCount = 1
	// The only detail triangle repeats a vertex, so it has no area in the
	// xz plane and height sampling cannot hit it.
	p.DetailMeshes = []uint32{0, 3, 0, 1}
	p.DetailTris = []uint8{0, 1, 1, 0x15}
	p.DetailTriCount = 1

	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, p), 0, 0)
	require.True(t, status.Succeeded())
	tile := m.GetTileByRef(ref)

	// The edge fallback still produces a height for a point inside the
	// polygon.
	h, ok := m.GetPolyHeight(tile, &tile.Polys[0], mgl32.Vec3{2, 0.5, 1})
	require.True(t, ok)
	assert.InDelta(t, 0, h, 1e-5)

	closest, over := m.ClosestPointOnPoly(m.GetPolyRefBase(tile)|0, mgl32.Vec3{2, 0.5, 1})
	assert.True(t, over)
	assert.InDelta(t, 0, closest[1], 1e-5)
}

func TestGetPolyHeightOutside(t *testing.T) {
	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, squareTileParams(0, 0, 0)), 0, 0)
	require.True(t, status.Succeeded())
	tile := m.GetTileByRef(ref)

	_, ok := m.GetPolyHeight(tile, &tile.Polys[0], mgl32.Vec3{11, 0, 5})
	assert.False(t, ok)

	h, ok := m.GetPolyHeight(tile, &tile.Polys[0], mgl32.Vec3{5, 3, 5})
	require.True(t, ok)
	assert.InDelta(t, 0, h, 1e-5)
}

func TestOffMeshConnectionLinking(t *testing.T) {
	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, offMeshTileParams()), 0, 0)
	require.True(t, status.Succeeded())
	tile := m.GetTileByRef(ref)
	base := m.GetPolyRefBase(tile)

	require.Equal(t, int32(2), tile.Header.PolyCount)
	require.Equal(t, int32(1), tile.Header.OffMeshConCount)
	conRef := base | 1

	// The connection polygon links out of both endpoints, the ground
	// polygon links back to the connection twice: once for the based start
	// point and once for the bidirectional landing.
	conLinks := polyLinks(tile, 1)
	require.Len(t, conLinks, 2)
	for _, link := range conLinks {
		assert.Equal(t, base|0, link.Ref)
	}
	groundLinks := polyLinks(tile, 0)
	require.Len(t, groundLinks, 2)
	for _, link := range groundLinks {
		assert.Equal(t, conRef, link.Ref)
		assert.Equal(t, uint8(0xff), link.Edge)
	}

	con := m.GetOffMeshConnectionByRef(conRef)
	require.NotNil(t, con)
	assert.Equal(t, uint32(42), con.UserID)
	assert.InDelta(t, 0.6, con.Rad, 1e-6)
	assert.Nil(t, m.GetOffMeshConnectionByRef(base|0))

	// Endpoint order depends on where travel comes from.
	start, end, status := m.GetOffMeshConnectionPolyEndPoints(base|0, conRef)
	require.True(t, status.Succeeded())
	assert.InDelta(t, 2, start[0], 1e-5)
	assert.InDelta(t, 2, start[2], 1e-5)
	assert.InDelta(t, 8, end[0], 1e-5)
	assert.InDelta(t, 8, end[2], 1e-5)

	start, end, status = m.GetOffMeshConnectionPolyEndPoints(0, conRef)
	require.True(t, status.Succeeded())
	assert.InDelta(t, 8, start[0], 1e-5)
	assert.InDelta(t, 2, end[0], 1e-5)

	_, _, status = m.GetOffMeshConnectionPolyEndPoints(base|0, base|0)
	assert.True(t, status.Failed())
}

func TestClosestPointOnOffMeshPoly(t *testing.T) {
	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, offMeshTileParams()), 0, 0)
	require.True(t, status.Succeeded())
	base := m.GetPolyRefBase(m.GetTileByRef(ref))

	closest, over := m.ClosestPointOnPoly(base|1, mgl32.Vec3{5, 0, 0})
	assert.False(t, over)
	assert.InDelta(t, 2.5, closest[0], 1e-5)
	assert.InDelta(t, 2.5, closest[2], 1e-5)
}

func TestQueryPolygonsSkipsOffMesh(t *testing.T) {
	for _, withTree := range []bool{true, false} {
		p := offMeshTileParams()
		p.BuildBvTree = withTree

		m := newTestMesh(t)
		ref, status := m.AddTile(buildTile(t, p), 0, 0)
		require.True(t, status.Succeeded())
		tile := m.GetTileByRef(ref)
		base := m.GetPolyRefBase(tile)

		var polys [8]PolyRef
		n := m.QueryPolygonsInTile(tile, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{11, 3, 11}, polys[:])
		require.Equal(t, 1, n)
		assert.Equal(t, base|0, polys[0])
	}
}

func TestQueryPolygonsBounds(t *testing.T) {
	m := newTestMesh(t)
	ref, status := m.AddTile(buildTile(t, overheadTileParams()), 0, 0)
	require.True(t, status.Succeeded())
	tile := m.GetTileByRef(ref)
	base := m.GetPolyRefBase(tile)

	// A box over the west quad only, clear of the quantization padding
	// around the east quad's bounds.
	var polys [8]PolyRef
	n := m.QueryPolygonsInTile(tile, mgl32.Vec3{1, -1, 1}, mgl32.Vec3{2, 1, 3}, polys[:])
	require.Equal(t, 1, n)
	assert.Equal(t, base|0, polys[0])

	// A box spanning both.
	n = m.QueryPolygonsInTile(tile, mgl32.Vec3{0, -1, 0}, mgl32.Vec3{10, 3, 10}, polys[:])
	assert.Equal(t, 2, n)

	// Results past the buffer are dropped, not an error.
	var one [1]PolyRef
	n = m.QueryPolygonsInTile(tile, mgl32.Vec3{0, -1, 0}, mgl32.Vec3{10, 3, 10}, one[:])
	assert.Equal(t, 1, n)
}
