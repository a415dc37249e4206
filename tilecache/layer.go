// Package tilecache keeps compressed height layers for a tiled navigation
// mesh and rebuilds tiles incrementally as dynamic obstacles come and go.
// Each update rebuilds at most one tile, so the cost of carving obstacles
// into the world is spread over many calls.
package tilecache

import (
	"math"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
	"github.com/gorustyt/navtile/navmesh"
)

const (
	// Magic and version of the compressed layer format.
	LayerMagic   = 'D'<<24 | 'T'<<16 | 'L'<<8 | 'R'
	LayerVersion = 1

	// NullArea marks a cell with nothing to walk on.
	NullArea = 0
	// WalkableArea is the default area id of walkable cells.
	WalkableArea = 63
)

// layerHeaderWireSize is the aligned size of the serialized LayerHeader; the
// compressed grid data starts right after it.
const layerHeaderWireSize = 56

// LayerHeader describes one compressed height layer.
type LayerHeader struct {
	Magic   int32
	Version int32
	TX      int32 // Tile x-coordinate in the grid.
	TY      int32 // Tile y-coordinate in the grid.
	TLayer  int32 // Layer index at (TX, TY).
	BMin    [3]float32
	BMax    [3]float32
	// HMin and HMax bound the occupied height cells.
	HMin uint16
	HMax uint16
	// Width and Height are the layer grid dimensions.
	Width  uint8
	Height uint8
	// MinX, MaxX, MinY and MaxY bound the usable sub-region of the grid.
	MinX uint8
	MaxX uint8
	MinY uint8
	MaxY uint8
}

// TileLayer is one decompressed height layer: per-cell height, area id and
// neighbour connectivity, plus the region ids a mesh builder assigns.
type TileLayer struct {
	Header   *LayerHeader
	Heights  []uint8
	Areas    []uint8
	Cons     []uint8
	Regs     []uint8
	RegCount uint8
}

// Compressor compresses and decompresses raw layer grids. The codec is
// outside this package; only the buffer contract matters here.
type Compressor interface {
	// MaxCompressedSize returns the worst-case compressed size of srcSize
	// input bytes.
	MaxCompressedSize(srcSize int) int
	// Compress writes the compressed form of src into dst and returns the
	// number of bytes written.
	Compress(dst, src []byte) (int, navmesh.Status)
	// Decompress writes the decompressed form of src into dst and returns
	// the number of bytes written.
	Decompress(dst, src []byte) (int, navmesh.Status)
}

// BuildConfig carries the per-rebuild knobs a MeshBuilder needs.
type BuildConfig struct {
	// WalkableClimbVx is the walkable climb in height cells.
	WalkableClimbVx int32
	// MaxSimplificationError bounds contour simplification, in voxels.
	MaxSimplificationError float32
}

// PolyMesh is the polygon mesh a MeshBuilder extracts from a layer. Vertices
// are in layer grid space, three components each; polygons hold
// navmesh.VertsPerPolygon vertex indices followed by as many neighbour
// entries, 0xffff-terminated.
type PolyMesh struct {
	Verts  []uint16
	Polys  []uint16
	Flags  []uint16
	Areas  []uint8
	NVerts int32
	NPolys int32
}

// MeshBuilder extracts regions, contours and polygons from a decompressed
// layer after obstacles have been carved into its areas. The extraction
// pipeline lives outside this package; the cache only drives it.
type MeshBuilder interface {
	Build(layer *TileLayer, cfg *BuildConfig) (*PolyMesh, navmesh.Status)
}

// MeshProcess is an optional hook run after polygon extraction and before
// the tile data is assembled, free to rewrite per-polygon areas and flags.
type MeshProcess interface {
	Process(params *navmesh.CreateParams)
}

func writeLayerHeader(w *rw.Writer, h *LayerHeader) {
	w.WriteInt32(h.Magic)
	w.WriteInt32(h.Version)
	w.WriteInt32(h.TX)
	w.WriteInt32(h.TY)
	w.WriteInt32(h.TLayer)
	w.WriteFloat32s(h.BMin[:])
	w.WriteFloat32s(h.BMax[:])
	w.WriteUint16(h.HMin)
	w.WriteUint16(h.HMax)
	w.WriteUint8(h.Width)
	w.WriteUint8(h.Height)
	w.WriteUint8(h.MinX)
	w.WriteUint8(h.MaxX)
	w.WriteUint8(h.MinY)
	w.WriteUint8(h.MaxY)
}

func readLayerHeader(r *rw.Reader) *LayerHeader {
	h := &LayerHeader{}
	h.Magic = r.ReadInt32()
	h.Version = r.ReadInt32()
	h.TX = r.ReadInt32()
	h.TY = r.ReadInt32()
	h.TLayer = r.ReadInt32()
	r.ReadFloat32s(h.BMin[:])
	r.ReadFloat32s(h.BMax[:])
	h.HMin = r.ReadUint16()
	h.HMax = r.ReadUint16()
	h.Width = r.ReadUint8()
	h.Height = r.ReadUint8()
	h.MinX = r.ReadUint8()
	h.MaxX = r.ReadUint8()
	h.MinY = r.ReadUint8()
	h.MaxY = r.ReadUint8()
	return h
}

// BuildTileLayer frames a raw layer grid into the compressed buffer format:
// the header in plain bytes followed by the compressed concatenation of the
// height, area and connectivity grids.
func BuildTileLayer(comp Compressor, header *LayerHeader, heights, areas, cons []uint8) ([]byte, navmesh.Status) {
	if comp == nil || header == nil {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}
	gridSize := int(header.Width) * int(header.Height)
	if len(heights) != gridSize || len(areas) != gridSize || len(cons) != gridSize {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}

	w := rw.NewWriter()
	writeLayerHeader(w, header)
	w.Pad(layerHeaderWireSize - w.Len())

	src := make([]uint8, 0, 3*gridSize)
	src = append(src, heights...)
	src = append(src, areas...)
	src = append(src, cons...)

	dst := make([]uint8, comp.MaxCompressedSize(len(src)))
	n, status := comp.Compress(dst, src)
	if status.Failed() {
		return nil, status
	}
	w.WriteUint8s(dst[:n])
	return w.Bytes(), navmesh.Success
}

// DecompressTileLayer unpacks a buffer framed by BuildTileLayer. The
// returned layer owns fresh grid buffers, so carving into it never touches
// the stored compressed tile.
func DecompressTileLayer(comp Compressor, data []byte) (*TileLayer, navmesh.Status) {
	if comp == nil {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}
	r := rw.NewReader(data)
	header := readLayerHeader(r)
	if r.Err() != nil {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}
	if header.Magic != LayerMagic {
		return nil, navmesh.Failure | navmesh.WrongMagic
	}
	if header.Version != LayerVersion {
		return nil, navmesh.Failure | navmesh.WrongVersion
	}
	if len(data) < layerHeaderWireSize {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}

	gridSize := int(header.Width) * int(header.Height)
	grids := make([]uint8, 3*gridSize)
	n, status := comp.Decompress(grids, data[layerHeaderWireSize:])
	if status.Failed() {
		return nil, status
	}
	if n != len(grids) {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}

	regs := make([]uint8, gridSize)
	for i := range regs {
		regs[i] = 0xff
	}
	return &TileLayer{
		Header:  header,
		Heights: grids[:gridSize],
		Areas:   grids[gridSize : 2*gridSize],
		Cons:    grids[2*gridSize:],
		Regs:    regs,
	}, navmesh.Success
}

// MarkCylinderArea stamps areaID over every walkable cell inside the
// cylinder's footprint and height range.
func MarkCylinderArea(layer *TileLayer, orig []float32, cs, ch float32, pos []float32, radius, height float32, areaID uint8) {
	w := int(layer.Header.Width)
	h := int(layer.Header.Height)
	ics := 1 / cs
	ich := 1 / ch

	px := (pos[0] - orig[0]) * ics
	pz := (pos[2] - orig[2]) * ics
	r2 := common.Sqr(radius*ics + 0.5)

	minx := int(math.Floor(float64((pos[0] - radius - orig[0]) * ics)))
	miny := int(math.Floor(float64((pos[1] - orig[1]) * ich)))
	minz := int(math.Floor(float64((pos[2] - radius - orig[2]) * ics)))
	maxx := int(math.Floor(float64((pos[0] + radius - orig[0]) * ics)))
	maxy := int(math.Floor(float64((pos[1] + height - orig[1]) * ich)))
	maxz := int(math.Floor(float64((pos[2] + radius - orig[2]) * ics)))

	if maxx < 0 || minx >= w || maxz < 0 || minz >= h {
		return
	}
	minx = max(minx, 0)
	maxx = min(maxx, w-1)
	minz = max(minz, 0)
	maxz = min(maxz, h-1)

	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			dx := float32(x) + 0.5 - px
			dz := float32(z) + 0.5 - pz
			if dx*dx+dz*dz > r2 {
				continue
			}
			y := int(layer.Heights[x+z*w])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[x+z*w] = areaID
		}
	}
}

// MarkBoxArea stamps areaID over every walkable cell inside an axis-aligned
// box.
func MarkBoxArea(layer *TileLayer, orig []float32, cs, ch float32, bmin, bmax []float32, areaID uint8) {
	w := int(layer.Header.Width)
	h := int(layer.Header.Height)
	ics := 1 / cs
	ich := 1 / ch

	minx := int(math.Floor(float64((bmin[0] - orig[0]) * ics)))
	miny := int(math.Floor(float64((bmin[1] - orig[1]) * ich)))
	minz := int(math.Floor(float64((bmin[2] - orig[2]) * ics)))
	maxx := int(math.Floor(float64((bmax[0] - orig[0]) * ics)))
	maxy := int(math.Floor(float64((bmax[1] - orig[1]) * ich)))
	maxz := int(math.Floor(float64((bmax[2] - orig[2]) * ics)))

	if maxx < 0 || minx >= w || maxz < 0 || minz >= h {
		return
	}
	minx = max(minx, 0)
	maxx = min(maxx, w-1)
	minz = max(minz, 0)
	maxz = min(maxz, h-1)

	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			y := int(layer.Heights[x+z*w])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[x+z*w] = areaID
		}
	}
}

// MarkOrientedBoxArea stamps areaID over every walkable cell inside a
// y-rotated box. rotAux is {cos(a/2)*sin(-a/2), cos(a/2)^2 - 0.5}, a
// half-angle form that rotates a doubled vector with two multiplies.
func MarkOrientedBoxArea(layer *TileLayer, orig []float32, cs, ch float32, center, halfExtents, rotAux []float32, areaID uint8) {
	w := int(layer.Header.Width)
	h := int(layer.Header.Height)
	ics := 1 / cs
	ich := 1 / ch

	cx := (center[0] - orig[0]) * ics
	cz := (center[2] - orig[2]) * ics

	maxr := 1.41 * max(halfExtents[0], halfExtents[2])
	minx := int(math.Floor(float64(cx - maxr*ics)))
	maxx := int(math.Floor(float64(cx + maxr*ics)))
	minz := int(math.Floor(float64(cz - maxr*ics)))
	maxz := int(math.Floor(float64(cz + maxr*ics)))
	miny := int(math.Floor(float64((center[1] - halfExtents[1] - orig[1]) * ich)))
	maxy := int(math.Floor(float64((center[1] + halfExtents[1] - orig[1]) * ich)))

	if maxx < 0 || minx >= w || maxz < 0 || minz >= h {
		return
	}
	minx = max(minx, 0)
	maxx = min(maxx, w-1)
	minz = max(minz, 0)
	maxz = min(maxz, h-1)

	xhalf := halfExtents[0]*ics + 0.5
	zhalf := halfExtents[2]*ics + 0.5

	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			x2 := 2 * (float32(x) - cx)
			z2 := 2 * (float32(z) - cz)
			xrot := rotAux[1]*x2 + rotAux[0]*z2
			if xrot > xhalf || xrot < -xhalf {
				continue
			}
			zrot := rotAux[1]*z2 - rotAux[0]*x2
			if zrot > zhalf || zrot < -zhalf {
				continue
			}
			y := int(layer.Heights[x+z*w])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[x+z*w] = areaID
		}
	}
}
