package navmesh

import (
	"math"
	"sort"

	"github.com/gorustyt/navtile/common"
)

// meshNullIdx terminates a polygon's vertex list in the input poly mesh.
const meshNullIdx = 0xffff

// CreateParams carries everything BuildTileData needs to assemble one tile:
// the quantized polygon mesh, the optional detail mesh, candidate off-mesh
// connections crossing the tile, and the grid and agent attributes the
// runtime needs back at query time.
type CreateParams struct {
	// Polygon mesh attributes.
	Verts     []uint16 // tile-local grid coordinates, 3 per vertex
	VertCount int32
	Polys     []uint16 // 2*Nvp per polygon: vertex indices then neighbours
	PolyFlags []uint16
	PolyAreas []uint8
	PolyCount int32
	Nvp       int32

	// Height detail, optional. DetailMeshes holds 4 values per polygon:
	// vert base, vert count, tri base, tri count.
	DetailMeshes     []uint32
	DetailVerts      []float32
	DetailVertsCount int32
	DetailTris       []uint8
	DetailTriCount   int32

	// Off-mesh connections, optional. Two endpoints per connection; only
	// those whose first endpoint lands inside this tile are kept.
	OffMeshConVerts  []float32
	OffMeshConRad    []float32
	OffMeshConFlags  []uint16
	OffMeshConAreas  []uint8
	OffMeshConDir    []uint8
	OffMeshConUserID []uint32
	OffMeshConCount  int32

	// Tile attributes.
	UserID    uint32
	TileX     int32
	TileY     int32
	TileLayer int32
	BMin      [3]float32
	BMax      [3]float32

	// Agent attributes.
	WalkableHeight float32
	WalkableRadius float32
	WalkableClimb  float32

	// Grid cell size and height.
	CS float32
	CH float32

	BuildBvTree bool
}

// BuildTileData assembles a tile from a built polygon mesh. Returns false
// when the input is out of range: more than VertsPerPolygon vertices per
// polygon, 0xffff or more vertices, or an empty mesh.
func BuildTileData(params *CreateParams) (*TileData, bool) {
	if params.Nvp > VertsPerPolygon {
		return nil, false
	}
	if params.VertCount >= 0xffff {
		return nil, false
	}
	if params.VertCount == 0 || len(params.Verts) == 0 {
		return nil, false
	}
	if params.PolyCount == 0 || len(params.Polys) == 0 {
		return nil, false
	}

	nvp := int(params.Nvp)

	// Classify off-mesh connection points. Only connections whose start
	// point is inside the tile are stored.
	var offMeshConClass []uint8
	storedOffMeshConCount := int32(0)
	offMeshConLinkCount := int32(0)

	if params.OffMeshConCount > 0 {
		offMeshConClass = make([]uint8, params.OffMeshConCount*2)

		// Find tight height bounds, used for culling out off-mesh start
		// locations.
		hmin := float32(math.MaxFloat32)
		hmax := float32(-math.MaxFloat32)
		if len(params.DetailVerts) > 0 && params.DetailVertsCount > 0 {
			for i := int32(0); i < params.DetailVertsCount; i++ {
				h := params.DetailVerts[i*3+1]
				hmin = min(hmin, h)
				hmax = max(hmax, h)
			}
		} else {
			for i := int32(0); i < params.VertCount; i++ {
				h := params.BMin[1] + float32(params.Verts[i*3+1])*params.CH
				hmin = min(hmin, h)
				hmax = max(hmax, h)
			}
		}
		hmin -= params.WalkableClimb
		hmax += params.WalkableClimb
		bmin := params.BMin
		bmax := params.BMax
		bmin[1] = hmin
		bmax[1] = hmax

		for i := int32(0); i < params.OffMeshConCount; i++ {
			p0 := params.OffMeshConVerts[(i*2+0)*3 : (i*2+0)*3+3]
			p1 := params.OffMeshConVerts[(i*2+1)*3 : (i*2+1)*3+3]
			offMeshConClass[i*2+0] = classifyOffMeshPoint(p0, bmin, bmax)
			offMeshConClass[i*2+1] = classifyOffMeshPoint(p1, bmin, bmax)

			// Zero out start positions which are not even potentially
			// touching the mesh.
			if offMeshConClass[i*2+0] == 0xff {
				if p0[1] < bmin[1] || p0[1] > bmax[1] {
					offMeshConClass[i*2+0] = 0
				}
			}

			// Count how many links should be allocated for off-mesh
			// connections.
			if offMeshConClass[i*2+0] == 0xff {
				offMeshConLinkCount++
			}
			if offMeshConClass[i*2+1] == 0xff {
				offMeshConLinkCount++
			}
			if offMeshConClass[i*2+0] == 0xff {
				storedOffMeshConCount++
			}
		}
	}

	// Off-mesh connections are stored as polygons, adjust values.
	totPolyCount := params.PolyCount + storedOffMeshConCount
	totVertCount := params.VertCount + storedOffMeshConCount*2

	// Find portal edges which are at tile borders.
	edgeCount := int32(0)
	portalCount := int32(0)
	for i := int32(0); i < params.PolyCount; i++ {
		p := params.Polys[i*2*int32(nvp):]
		for j := 0; j < nvp; j++ {
			if p[j] == meshNullIdx {
				break
			}
			edgeCount++
			if p[nvp+j]&0x8000 != 0 {
				dir := p[nvp+j] & 0xf
				if dir != 0xf {
					portalCount++
				}
			}
		}
	}

	maxLinkCount := edgeCount + portalCount*2 + offMeshConLinkCount*2

	// Find unique detail vertices.
	uniqueDetailVertCount := int32(0)
	detailTriCount := int32(0)
	if len(params.DetailMeshes) > 0 {
		detailTriCount = params.DetailTriCount
		for i := int32(0); i < params.PolyCount; i++ {
			p := params.Polys[i*2*int32(nvp):]
			ndv := int32(params.DetailMeshes[i*4+1])
			nv := int32(0)
			for j := 0; j < nvp; j++ {
				if p[j] == meshNullIdx {
					break
				}
				nv++
			}
			uniqueDetailVertCount += ndv - nv
		}
	} else {
		// No input detail mesh, triangulate the nav polys instead.
		for i := int32(0); i < params.PolyCount; i++ {
			p := params.Polys[i*2*int32(nvp):]
			nv := int32(0)
			for j := 0; j < nvp; j++ {
				if p[j] == meshNullIdx {
					break
				}
				nv++
			}
			detailTriCount += nv - 2
		}
	}

	data := &TileData{
		Header:       &MeshHeader{},
		Verts:        make([]float32, totVertCount*3),
		Polys:        make([]Poly, totPolyCount),
		DetailMeshes: make([]PolyDetail, params.PolyCount),
		DetailVerts:  make([]float32, uniqueDetailVertCount*3),
		DetailTris:   make([]uint8, detailTriCount*4),
		OffMeshCons:  make([]OffMeshConnection, storedOffMeshConCount),
	}

	header := data.Header
	header.Magic = NavMeshMagic
	header.Version = NavMeshVersion
	header.X = params.TileX
	header.Y = params.TileY
	header.Layer = params.TileLayer
	header.UserID = params.UserID
	header.PolyCount = totPolyCount
	header.VertCount = totVertCount
	header.MaxLinkCount = maxLinkCount
	header.BMin = params.BMin
	header.BMax = params.BMax
	header.DetailMeshCount = params.PolyCount
	header.DetailVertCount = uniqueDetailVertCount
	header.DetailTriCount = detailTriCount
	header.BvQuantFactor = 1.0 / params.CS
	header.OffMeshBase = params.PolyCount
	header.WalkableHeight = params.WalkableHeight
	header.WalkableRadius = params.WalkableRadius
	header.WalkableClimb = params.WalkableClimb
	header.OffMeshConCount = storedOffMeshConCount

	offMeshVertsBase := params.VertCount
	offMeshPolyBase := params.PolyCount

	// Store mesh vertices, dequantized into world space.
	for i := int32(0); i < params.VertCount; i++ {
		iv := params.Verts[i*3 : i*3+3]
		data.Verts[i*3+0] = params.BMin[0] + float32(iv[0])*params.CS
		data.Verts[i*3+1] = params.BMin[1] + float32(iv[1])*params.CH
		data.Verts[i*3+2] = params.BMin[2] + float32(iv[2])*params.CS
	}
	// Off-mesh link vertices.
	n := int32(0)
	for i := int32(0); i < params.OffMeshConCount; i++ {
		if offMeshConClass[i*2+0] == 0xff {
			linkv := params.OffMeshConVerts[i*2*3 : i*2*3+6]
			v := data.Verts[(offMeshVertsBase+n*2)*3:]
			copy(v[0:3], linkv[0:3])
			copy(v[3:6], linkv[3:6])
			n++
		}
	}

	// Store mesh polys.
	for i := int32(0); i < params.PolyCount; i++ {
		src := params.Polys[i*2*int32(nvp):]
		p := &data.Polys[i]
		p.VertCount = 0
		p.Flags = params.PolyFlags[i]
		p.SetArea(params.PolyAreas[i])
		p.SetType(PolyTypeGround)
		for j := 0; j < nvp; j++ {
			if src[j] == meshNullIdx {
				break
			}
			p.Verts[j] = src[j]
			if src[nvp+j]&0x8000 != 0 {
				// Border or portal edge.
				dir := src[nvp+j] & 0xf
				switch dir {
				case 0xf: // Border
					p.Neis[j] = 0
				case 0: // Portal x-
					p.Neis[j] = ExtLink | 4
				case 1: // Portal z+
					p.Neis[j] = ExtLink | 2
				case 2: // Portal x+
					p.Neis[j] = ExtLink | 0
				case 3: // Portal z-
					p.Neis[j] = ExtLink | 6
				}
			} else {
				// Normal connection.
				p.Neis[j] = src[nvp+j] + 1
			}
			p.VertCount++
		}
	}
	// Off-mesh connection polygons.
	n = 0
	for i := int32(0); i < params.OffMeshConCount; i++ {
		if offMeshConClass[i*2+0] == 0xff {
			p := &data.Polys[offMeshPolyBase+n]
			p.VertCount = 2
			p.Verts[0] = uint16(offMeshVertsBase + n*2 + 0)
			p.Verts[1] = uint16(offMeshVertsBase + n*2 + 1)
			p.Flags = params.OffMeshConFlags[i]
			p.SetArea(params.OffMeshConAreas[i])
			p.SetType(PolyTypeOffMeshConnection)
			n++
		}
	}

	// Store detail meshes and regular patch data.
	if len(params.DetailMeshes) > 0 {
		vbase := int32(0)
		for i := int32(0); i < params.PolyCount; i++ {
			dtl := &data.DetailMeshes[i]
			vb := int32(params.DetailMeshes[i*4+0])
			ndv := int32(params.DetailMeshes[i*4+1])
			nv := int32(data.Polys[i].VertCount)
			dtl.VertBase = uint32(vbase)
			dtl.VertCount = uint8(ndv - nv)
			dtl.TriBase = params.DetailMeshes[i*4+2]
			dtl.TriCount = uint8(params.DetailMeshes[i*4+3])
			// Copy vertices except the first nv, which equal the nav poly
			// vertices.
			if ndv-nv > 0 {
				copy(data.DetailVerts[vbase*3:], params.DetailVerts[(vb+nv)*3:(vb+ndv)*3])
				vbase += ndv - nv
			}
		}
		copy(data.DetailTris, params.DetailTris[:detailTriCount*4])
	} else {
		// Create dummy detail mesh by triangulating the polys.
		tbase := int32(0)
		for i := int32(0); i < params.PolyCount; i++ {
			dtl := &data.DetailMeshes[i]
			nv := int32(data.Polys[i].VertCount)
			dtl.VertBase = 0
			dtl.VertCount = 0
			dtl.TriBase = uint32(tbase)
			dtl.TriCount = uint8(nv - 2)
			// Triangulate the polygon with local indices, marking the edges
			// on the polygon boundary.
			for j := int32(2); j < nv; j++ {
				t := data.DetailTris[tbase*4 : tbase*4+4]
				t[0] = 0
				t[1] = uint8(j - 1)
				t[2] = uint8(j)
				t[3] = 1 << 2
				if j == 2 {
					t[3] |= 1 << 0
				}
				if j == nv-1 {
					t[3] |= 1 << 4
				}
				tbase++
			}
		}
	}

	// Store and create BV tree.
	if params.BuildBvTree {
		data.BvTree = createBVTree(params)
		header.BvNodeCount = int32(len(data.BvTree))
	}

	// Store off-mesh connections.
	n = 0
	for i := int32(0); i < params.OffMeshConCount; i++ {
		if offMeshConClass[i*2+0] == 0xff {
			con := &data.OffMeshCons[n]
			con.Poly = uint16(offMeshPolyBase + n)
			endPts := params.OffMeshConVerts[i*2*3 : i*2*3+6]
			copy(con.Pos[0:3], endPts[0:3])
			copy(con.Pos[3:6], endPts[3:6])
			con.Rad = params.OffMeshConRad[i]
			if params.OffMeshConDir[i] != 0 {
				con.Flags = OffMeshConBidir
			} else {
				con.Flags = 0
			}
			con.Side = offMeshConClass[i*2+1]
			if len(params.OffMeshConUserID) > 0 {
				con.UserID = params.OffMeshConUserID[i]
			}
			n++
		}
	}

	return data, true
}

// classifyOffMeshPoint maps a point to the tile border side it lies beyond,
// or 0xff when it is inside the bounds.
func classifyOffMeshPoint(pt []float32, bmin, bmax [3]float32) uint8 {
	const (
		xp = 1 << 0
		zp = 1 << 1
		xm = 1 << 2
		zm = 1 << 3
	)
	outcode := uint8(0)
	if pt[0] >= bmax[0] {
		outcode |= xp
	}
	if pt[2] >= bmax[2] {
		outcode |= zp
	}
	if pt[0] < bmin[0] {
		outcode |= xm
	}
	if pt[2] < bmin[2] {
		outcode |= zm
	}
	switch outcode {
	case xp:
		return 0
	case xp | zp:
		return 1
	case zp:
		return 2
	case xm | zp:
		return 3
	case xm:
		return 4
	case xm | zm:
		return 5
	case zm:
		return 6
	case xp | zm:
		return 7
	}
	return 0xff
}

type bvItem struct {
	bmin [3]uint16
	bmax [3]uint16
	i    int32
}

// createBVTree builds the tile's bounding volume tree over the ground
// polygons. Bounds come from the detail mesh when present, which keeps the
// tree tight around the real surface.
func createBVTree(params *CreateParams) []BVNode {
	quantFactor := 1 / params.CS
	items := make([]bvItem, params.PolyCount)
	for i := int32(0); i < params.PolyCount; i++ {
		it := &items[i]
		it.i = i
		if len(params.DetailMeshes) > 0 {
			vb := int32(params.DetailMeshes[i*4+0])
			ndv := int32(params.DetailMeshes[i*4+1])
			var bmin, bmax [3]float32
			dv := params.DetailVerts[vb*3:]
			copy(bmin[:], dv[:3])
			copy(bmax[:], dv[:3])
			for j := int32(1); j < ndv; j++ {
				common.VMin(bmin[:], dv[j*3:j*3+3])
				common.VMax(bmax[:], dv[j*3:j*3+3])
			}

			// The tree uses the cell size for all dimensions.
			for k := 0; k < 3; k++ {
				it.bmin[k] = uint16(common.Clamp(int32((bmin[k]-params.BMin[k])*quantFactor), 0, 0xffff))
				it.bmax[k] = uint16(common.Clamp(int32((bmax[k]-params.BMin[k])*quantFactor), 0, 0xffff))
			}
		} else {
			p := params.Polys[i*2*params.Nvp:]
			it.bmin[0] = params.Verts[p[0]*3+0]
			it.bmin[1] = params.Verts[p[0]*3+1]
			it.bmin[2] = params.Verts[p[0]*3+2]
			it.bmax = it.bmin
			for j := int32(1); j < params.Nvp; j++ {
				if p[j] == meshNullIdx {
					break
				}
				x := params.Verts[p[j]*3+0]
				y := params.Verts[p[j]*3+1]
				z := params.Verts[p[j]*3+2]
				it.bmin[0] = min(it.bmin[0], x)
				it.bmin[1] = min(it.bmin[1], y)
				it.bmin[2] = min(it.bmin[2], z)
				it.bmax[0] = max(it.bmax[0], x)
				it.bmax[1] = max(it.bmax[1], y)
				it.bmax[2] = max(it.bmax[2], z)
			}
			// Remap y to the xz quantization grid.
			it.bmin[1] = uint16(math.Floor(float64(it.bmin[1]) * float64(params.CH) / float64(params.CS)))
			it.bmax[1] = uint16(math.Ceil(float64(it.bmax[1]) * float64(params.CH) / float64(params.CS)))
		}
	}

	nodes := make([]BVNode, 0, params.PolyCount*2)
	return subdivide(items, 0, len(items), nodes)
}

func subdivide(items []bvItem, imin, imax int, nodes []BVNode) []BVNode {
	inum := imax - imin
	icur := len(nodes)
	nodes = append(nodes, BVNode{})

	if inum == 1 {
		// Leaf.
		nodes[icur].BMin = items[imin].bmin
		nodes[icur].BMax = items[imin].bmax
		nodes[icur].I = items[imin].i
		return nodes
	}

	// Split.
	bmin, bmax := calcExtends(items, imin, imax)
	nodes[icur].BMin = bmin
	nodes[icur].BMax = bmax

	axis := longestAxis(bmax[0]-bmin[0], bmax[1]-bmin[1], bmax[2]-bmin[2])
	sort.Slice(items[imin:imax], func(a, b int) bool {
		return items[imin+a].bmin[axis] < items[imin+b].bmin[axis]
	})

	isplit := imin + inum/2
	nodes = subdivide(items, imin, isplit, nodes)
	nodes = subdivide(items, isplit, imax, nodes)

	// Negative index means escape.
	nodes[icur].I = -int32(len(nodes) - icur)
	return nodes
}

func calcExtends(items []bvItem, imin, imax int) (bmin, bmax [3]uint16) {
	bmin = items[imin].bmin
	bmax = items[imin].bmax
	for i := imin + 1; i < imax; i++ {
		for k := 0; k < 3; k++ {
			bmin[k] = min(bmin[k], items[i].bmin[k])
			bmax[k] = max(bmax[k], items[i].bmax[k])
		}
	}
	return
}

func longestAxis(x, y, z uint16) int {
	axis := 0
	maxAxis := x
	if y > maxAxis {
		axis = 1
		maxAxis = y
	}
	if z > maxAxis {
		axis = 2
	}
	return axis
}
