// Package navmesh implements a runtime store for a tiled navigation mesh:
// tile slots with generation-counted references, per-tile adjacency link
// arenas, bounding-volume spatial queries and the connectivity wiring that
// joins polygon edges within a tile, across tile borders and through
// off-mesh connections.
package navmesh

import "github.com/go-gl/mathgl/mgl32"

const (
	// VertsPerPolygon is the maximum number of vertices per navigation polygon.
	VertsPerPolygon = 6

	// Magic and version of the tile data format.
	NavMeshMagic   = 'D'<<24 | 'N'<<16 | 'A'<<8 | 'V'
	NavMeshVersion = 7

	// Magic and version of the tile state (flags and areas) snapshot format.
	NavMeshStateMagic   = 'D'<<24 | 'N'<<16 | 'M'<<8 | 'S'
	NavMeshStateVersion = 1

	// ExtLink marks a polygon edge as crossing the tile border; the low bits
	// hold the compass side the edge faces.
	ExtLink = 0x8000

	// NullLink terminates a link list and flags an exhausted link arena.
	NullLink = 0xffffffff

	// OffMeshConBidir marks an off-mesh connection traversable both ways.
	OffMeshConBidir = 1

	// MaxAreas is the number of user defined area ids.
	MaxAreas = 64
)

// TileFlags control tile ownership inside the mesh.
type TileFlags uint8

const (
	// TileFreeData passes buffer ownership to the mesh: the tile data is
	// dropped on RemoveTile instead of being handed back to the caller.
	TileFreeData TileFlags = 0x01
)

// Polygon types.
const (
	// PolyTypeGround is an ordinary polygon that is part of the surface.
	PolyTypeGround = 0
	// PolyTypeOffMeshConnection is a two-vertex off-mesh connection.
	PolyTypeOffMeshConnection = 1
)

// DetailEdgeBoundary flags a detail-triangle edge lying on the polygon
// boundary.
const DetailEdgeBoundary = 0x01

// PolyRef identifies a polygon: a generation counter (salt), the index of
// the tile slot holding it and the polygon index inside that tile, packed
// into one opaque value. Zero is never a valid reference.
type PolyRef uint32

// TileRef identifies a tile with the same salt discipline as PolyRef.
// Zero is never a valid reference.
type TileRef uint32

// Params configure the tile layout and capacity of a Mesh.
type Params struct {
	Orig       mgl32.Vec3 // World-space origin of the tile grid.
	TileWidth  float32    // Width of each tile along x.
	TileHeight float32    // Height of each tile along z.
	MaxTiles   int32      // Maximum number of tiles the mesh can hold.
	MaxPolys   int32      // Maximum number of polygons per tile.
}

// Poly is one polygon inside a tile.
type Poly struct {
	// FirstLink is the index of the first link in the polygon's adjacency
	// list, or NullLink.
	FirstLink uint32
	// Verts are indices into the tile vertex array. Only the first VertCount
	// entries are used.
	Verts [VertsPerPolygon]uint16
	// Neis holds per-edge neighbour data: 0 for a hard edge, an internal
	// polygon index plus one, or ExtLink|side for a tile border edge.
	Neis      [VertsPerPolygon]uint16
	Flags     uint16
	VertCount uint8
	// areaAndType packs the area id (low 6 bits) and polygon type (high 2).
	areaAndType uint8
}

func (p *Poly) SetArea(a uint8) { p.areaAndType = (p.areaAndType & 0xc0) | (a & 0x3f) }
func (p *Poly) SetType(t uint8) { p.areaAndType = (p.areaAndType & 0x3f) | (t << 6) }
func (p *Poly) Area() uint8     { return p.areaAndType & 0x3f }
func (p *Poly) Type() uint8     { return p.areaAndType >> 6 }

// PolyDetail locates a polygon's height-detail triangles inside the tile's
// detail arrays.
type PolyDetail struct {
	VertBase  uint32
	TriBase   uint32
	VertCount uint8
	TriCount  uint8
}

// Link is one directed adjacency edge hanging off a polygon. Links live in
// their tile's arena and are threaded into per-polygon singly linked lists.
type Link struct {
	Ref  PolyRef // Target polygon.
	Next uint32  // Next link in the list, or NullLink.
	Edge uint8   // Edge of the owning polygon the link crosses.
	Side uint8   // Border side the link crosses, or 0xff for internal links.
	BMin uint8   // Portal interval start, quantized to 0-255.
	BMax uint8   // Portal interval end, quantized to 0-255.
}

// BVNode is one node of a tile's bounding-volume tree. Leaves carry the
// polygon index in I; internal nodes store the negated escape offset.
type BVNode struct {
	BMin [3]uint16
	BMax [3]uint16
	I    int32
}

// OffMeshConnection is a point-to-point connection stored as a two-vertex
// polygon in its owning tile.
type OffMeshConnection struct {
	// Pos holds the two endpoints: start followed by end.
	Pos [6]float32
	// Rad is the snap radius around each endpoint.
	Rad float32
	// Poly is the connection's polygon index inside the tile.
	Poly uint16
	// Flags holds link direction flags (OffMeshConBidir).
	Flags uint8
	// Side is the compass side the end point leaves through, or 0xff.
	Side uint8
	// UserID is assigned by the builder for application use.
	UserID uint32
}

// MeshHeader describes the layout of one tile's data.
type MeshHeader struct {
	Magic           int32
	Version         int32
	X               int32 // Tile x-coordinate in the grid.
	Y               int32 // Tile y-coordinate in the grid.
	Layer           int32 // Tile layer at (X, Y).
	UserID          uint32
	PolyCount       int32
	VertCount       int32
	MaxLinkCount    int32
	DetailMeshCount int32
	DetailVertCount int32
	DetailTriCount  int32
	BvNodeCount     int32
	OffMeshConCount int32
	OffMeshBase     int32 // Index of the first off-mesh connection polygon.
	WalkableHeight  float32
	WalkableRadius  float32
	WalkableClimb   float32
	BMin            [3]float32
	BMax            [3]float32
	// BvQuantFactor converts world units to BV-tree quantized units.
	BvQuantFactor float32
}

// TileData is a parsed tile buffer: the header followed by the sub-arrays
// the serialized form stores in fixed order. A TileData handed to
// Mesh.AddTile with TileFreeData must not be mutated by the caller again.
type TileData struct {
	Header       *MeshHeader
	Verts        []float32
	Polys        []Poly
	DetailMeshes []PolyDetail
	DetailVerts  []float32
	DetailTris   []uint8
	BvTree       []BVNode
	OffMeshCons  []OffMeshConnection
}

// MeshTile is one tile slot. Fields other than Salt and Next alias the
// slot's current TileData and are nil while the slot is free.
type MeshTile struct {
	// Salt is the slot generation; it changes on every release and is never
	// zero while references to the slot may exist.
	Salt uint32

	// LinksFreeList heads the arena free-list, or NullLink.
	LinksFreeList uint32

	Header       *MeshHeader
	Polys        []Poly
	Verts        []float32
	Links        []Link
	DetailMeshes []PolyDetail
	DetailVerts  []float32
	DetailTris   []uint8
	BvTree       []BVNode
	OffMeshCons  []OffMeshConnection

	// Data is the tile's source data; retained so RemoveTile can hand it
	// back when the caller owns it.
	Data  *TileData
	Flags TileFlags

	// Next chains the tile in the position lookup while occupied and in the
	// free list while not.
	Next *MeshTile

	// index is the tile's slot in the pool, fixed at mesh init.
	index uint32
}

// detailTriEdgeFlags extracts the two flag bits of one detail-triangle edge.
func detailTriEdgeFlags(triFlags uint8, edgeIndex int) uint8 {
	return (triFlags >> (uint(edgeIndex) * 2)) & 0x3
}
