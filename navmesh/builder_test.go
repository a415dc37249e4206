package navmesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTileDataValidation(t *testing.T) {
	p := squareTileParams(0, 0, 0)
	p.Nvp = VertsPerPolygon + 1
	_, ok := BuildTileData(p)
	assert.False(t, ok)

	p = squareTileParams(0, 0, 0)
	p.VertCount = 0xffff
	_, ok = BuildTileData(p)
	assert.False(t, ok)

	p = squareTileParams(0, 0, 0)
	p.PolyCount = 0
	p.Polys = nil
	_, ok = BuildTileData(p)
	assert.False(t, ok)
}

func TestBuildTileDataPolys(t *testing.T) {
	data := buildTile(t, squareTileParams(2, 1, 0))
	h := data.Header

	assert.Equal(t, int32(NavMeshMagic), h.Magic)
	assert.Equal(t, int32(NavMeshVersion), h.Version)
	assert.Equal(t, int32(2), h.X)
	assert.Equal(t, int32(1), h.Y)
	assert.Equal(t, int32(1), h.PolyCount)
	assert.Equal(t, int32(4), h.VertCount)
	// 4 edges, all of them portals: 4 + 4*2 links.
	assert.Equal(t, int32(12), h.MaxLinkCount)

	// Vertices are dequantized into world space.
	assert.InDelta(t, 20, data.Verts[0], 1e-5)
	assert.InDelta(t, 0, data.Verts[1], 1e-5)
	assert.InDelta(t, 10, data.Verts[2], 1e-5)

	// Border direction codes map onto compass sides.
	poly := &data.Polys[0]
	assert.Equal(t, uint8(4), poly.VertCount)
	assert.Equal(t, uint16(ExtLink|6), poly.Neis[0])
	assert.Equal(t, uint16(ExtLink|0), poly.Neis[1])
	assert.Equal(t, uint16(ExtLink|2), poly.Neis[2])
	assert.Equal(t, uint16(ExtLink|4), poly.Neis[3])
	assert.Equal(t, uint8(PolyTypeGround), poly.Type())
}

func TestBuildTileDataInternalNeighbors(t *testing.T) {
	p := overheadTileParams()
	// Pretend the quads share an edge: poly 0 edge 1 to poly 1, and back.
	p.Polys[6+1] = 1
	p.Polys[12+6+3] = 0

	data := buildTile(t, p)
	assert.Equal(t, uint16(2), data.Polys[0].Neis[1])
	assert.Equal(t, uint16(1), data.Polys[1].Neis[3])
	assert.Equal(t, uint16(0), data.Polys[0].Neis[0])
}

func TestBuildTileDataDummyDetail(t *testing.T) {
	data := buildTile(t, squareTileParams(0, 0, 0))
	h := data.Header

	require.Equal(t, int32(1), h.DetailMeshCount)
	require.Equal(t, int32(0), h.DetailVertCount)
	require.Equal(t, int32(2), h.DetailTriCount)

	dtl := data.DetailMeshes[0]
	assert.Equal(t, uint8(0), dtl.VertCount)
	assert.Equal(t, uint8(2), dtl.TriCount)

	// Fan triangulation from vertex 0 with hull edges flagged.
	assert.Equal(t, []uint8{0, 1, 2, 1<<2 | 1<<0}, data.DetailTris[0:4])
	assert.Equal(t, []uint8{0, 2, 3, 1<<2 | 1<<4}, data.DetailTris[4:8])
}

func TestBuildTileDataOffMeshClassification(t *testing.T) {
	p := squareTileParams(0, 0, 0)
	p.OffMeshConVerts = []float32{
		2, 0, 2, 12, 0, 5, // starts inside, lands east of the tile
		-1, 0, 5, 5, 0, 5, // starts west of the tile: dropped
		3, 5, 3, 6, 0, 6, // starts far above the surface: dropped
	}
	p.OffMeshConRad = []float32{0.5, 0.5, 0.5}
	p.OffMeshConDir = []uint8{0, 1, 1}
	p.OffMeshConAreas = []uint8{1, 1, 1}
	p.OffMeshConFlags = []uint16{1, 1, 1}
	p.OffMeshConUserID = []uint32{1, 2, 3}
	p.OffMeshConCount = 3

	data := buildTile(t, p)
	h := data.Header

	require.Equal(t, int32(1), h.OffMeshConCount)
	assert.Equal(t, int32(1), h.OffMeshBase)
	assert.Equal(t, int32(2), h.PolyCount)
	assert.Equal(t, int32(6), h.VertCount)
	// 4 edges + 4 portals twice + one linkable endpoint twice.
	assert.Equal(t, int32(14), h.MaxLinkCount)

	con := data.OffMeshCons[0]
	assert.Equal(t, uint32(1), con.UserID)
	assert.Equal(t, uint16(1), con.Poly)
	// The far endpoint lies past the east border.
	assert.Equal(t, uint8(0), con.Side)
	assert.Equal(t, uint8(0), con.Flags&OffMeshConBidir)

	conPoly := data.Polys[1]
	assert.Equal(t, uint8(PolyTypeOffMeshConnection), conPoly.Type())
	assert.Equal(t, uint8(2), conPoly.VertCount)
	assert.Equal(t, uint16(4), conPoly.Verts[0])
	assert.Equal(t, uint16(5), conPoly.Verts[1])
}

func TestBuildTileDataBVTree(t *testing.T) {
	data := buildTile(t, overheadTileParams())
	h := data.Header

	// Two leaves under one root.
	require.Equal(t, int32(3), h.BvNodeCount)
	require.Len(t, data.BvTree, 3)
	root := data.BvTree[0]
	assert.Equal(t, int32(-3), root.I)
	assert.Equal(t, int32(0), data.BvTree[1].I)
	assert.Equal(t, int32(1), data.BvTree[2].I)

	// Root bounds cover both children.
	for _, leaf := range data.BvTree[1:] {
		for k := 0; k < 3; k++ {
			assert.LessOrEqual(t, root.BMin[k], leaf.BMin[k])
			assert.GreaterOrEqual(t, root.BMax[k], leaf.BMax[k])
		}
	}

	p := squareTileParams(0, 0, 0)
	p.BuildBvTree = false
	data = buildTile(t, p)
	assert.Zero(t, data.Header.BvNodeCount)
	assert.Empty(t, data.BvTree)
}

func TestTileDataWireRoundTrip(t *testing.T) {
	data := buildTile(t, offMeshTileParams())

	blob := data.Serialize()
	require.NotEmpty(t, blob)

	parsed, status := ParseTileData(blob)
	require.True(t, status.Succeeded())

	assert.Equal(t, *data.Header, *parsed.Header)
	assert.Equal(t, data.Verts, parsed.Verts)
	assert.Equal(t, data.Polys, parsed.Polys)
	assert.Equal(t, data.DetailMeshes, parsed.DetailMeshes)
	assert.Equal(t, data.DetailTris, parsed.DetailTris)
	assert.Equal(t, data.BvTree, parsed.BvTree)
	assert.Equal(t, data.OffMeshCons, parsed.OffMeshCons)

	_, status = ParseTileData(blob[:16])
	assert.True(t, status.Failed())

	blob[0] ^= 0xff
	_, status = ParseTileData(blob)
	assert.True(t, status.Detail(WrongMagic))
}
