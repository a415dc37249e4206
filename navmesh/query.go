package navmesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gorustyt/navtile/common"
)

// QueryPolygonsInTile collects polygons in tile whose bounds overlap the
// query box, up to len(polys). Traverses the tile's bounding volume tree when
// one was built, otherwise scans polygon bounds directly. Off-mesh connection
// polygons are never returned.
func (m *Mesh) QueryPolygonsInTile(tile *MeshTile, qmin, qmax mgl32.Vec3, polys []PolyRef) int {
	if len(tile.BvTree) > 0 {
		node := 0
		end := int(tile.Header.BvNodeCount)
		tbmin := tile.Header.BMin
		tbmax := tile.Header.BMax
		qfac := tile.Header.BvQuantFactor

		// Clamp query box to world box and quantize into tree space. Minima
		// round down to even, maxima up to odd, so touching boxes still
		// overlap after quantization.
		minx := common.Clamp(qmin[0], tbmin[0], tbmax[0]) - tbmin[0]
		miny := common.Clamp(qmin[1], tbmin[1], tbmax[1]) - tbmin[1]
		minz := common.Clamp(qmin[2], tbmin[2], tbmax[2]) - tbmin[2]
		maxx := common.Clamp(qmax[0], tbmin[0], tbmax[0]) - tbmin[0]
		maxy := common.Clamp(qmax[1], tbmin[1], tbmax[1]) - tbmin[1]
		maxz := common.Clamp(qmax[2], tbmin[2], tbmax[2]) - tbmin[2]

		var bmin, bmax [3]uint16
		bmin[0] = uint16(qfac*minx) & 0xfffe
		bmin[1] = uint16(qfac*miny) & 0xfffe
		bmin[2] = uint16(qfac*minz) & 0xfffe
		bmax[0] = uint16(qfac*maxx+1) | 1
		bmax[1] = uint16(qfac*maxy+1) | 1
		bmax[2] = uint16(qfac*maxz+1) | 1

		base := m.GetPolyRefBase(tile)
		n := 0
		for node < end {
			overlap := common.OverlapQuantBounds(bmin, bmax, tile.BvTree[node].BMin, tile.BvTree[node].BMax)
			isLeafNode := tile.BvTree[node].I >= 0

			if isLeafNode && overlap {
				if n < len(polys) {
					polys[n] = base | PolyRef(tile.BvTree[node].I)
					n++
				}
			}

			if overlap || isLeafNode {
				node++
			} else {
				node += int(-tile.BvTree[node].I)
			}
		}
		return n
	}

	var bmin, bmax [3]float32
	n := 0
	base := m.GetPolyRefBase(tile)
	for i := int32(0); i < tile.Header.PolyCount; i++ {
		p := &tile.Polys[i]
		// Do not return off-mesh connection polygons.
		if p.Type() == PolyTypeOffMeshConnection {
			continue
		}
		// Calc polygon bounds.
		v := tile.Verts[p.Verts[0]*3 : p.Verts[0]*3+3]
		copy(bmin[:], v)
		copy(bmax[:], v)
		for j := 1; j < int(p.VertCount); j++ {
			v = tile.Verts[p.Verts[j]*3 : p.Verts[j]*3+3]
			common.VMin(bmin[:], v)
			common.VMax(bmax[:], v)
		}
		if common.OverlapBounds(qmin[:], qmax[:], bmin[:], bmax[:]) {
			if n < len(polys) {
				polys[n] = base | PolyRef(i)
				n++
			}
		}
	}
	return n
}

// FindNearestPolyInTile returns the polygon nearest to center within the box
// center±halfExtents together with the corresponding surface point. A point
// standing over a polygon within climb height beats a nearer straight-line
// candidate.
func (m *Mesh) FindNearestPolyInTile(tile *MeshTile, center, halfExtents mgl32.Vec3) (PolyRef, mgl32.Vec3) {
	bmin := center.Sub(halfExtents)
	bmax := center.Add(halfExtents)

	// Get nearby polygons from proximity grid.
	var polys [128]PolyRef
	polyCount := m.QueryPolygonsInTile(tile, bmin, bmax, polys[:])

	// Find nearest polygon amongst the nearby polygons.
	var nearest PolyRef
	var nearestPt mgl32.Vec3
	nearestDistanceSqr := float32(math.MaxFloat32)
	for i := 0; i < polyCount; i++ {
		ref := polys[i]
		closestPtPoly, posOverPoly := m.ClosestPointOnPoly(ref, center)

		// If a point is directly over a polygon and closer than climb
		// height, favor that over the straight-line nearest point.
		var d float32
		diff := center.Sub(closestPtPoly)
		if posOverPoly {
			d = common.Abs(diff[1]) - tile.Header.WalkableClimb
			if d > 0 {
				d = d * d
			} else {
				d = 0
			}
		} else {
			d = common.VLenSqr(diff[:])
		}

		if d < nearestDistanceSqr {
			nearestPt = closestPtPoly
			nearestDistanceSqr = d
			nearest = ref
		}
	}
	return nearest, nearestPt
}

// ClosestPointOnPoly returns the point on the referenced polygon closest to
// pos and reports whether pos lies over the polygon. The reference must be
// valid. For off-mesh connection polygons the result is the nearest point on
// the connection segment.
func (m *Mesh) ClosestPointOnPoly(ref PolyRef, pos mgl32.Vec3) (closest mgl32.Vec3, posOverPoly bool) {
	_, it, ip := m.DecodePolyID(ref)
	tile := &m.tiles[it]
	poly := &tile.Polys[ip]

	closest = pos

	if h, ok := m.polyHeight(tile, ip, pos[:]); ok {
		closest[1] = h
		return closest, true
	}

	// Off-mesh connections don't have detail polygons.
	if poly.Type() == PolyTypeOffMeshConnection {
		v0 := tile.Verts[poly.Verts[0]*3 : poly.Verts[0]*3+3]
		v1 := tile.Verts[poly.Verts[1]*3 : poly.Verts[1]*3+3]
		_, t := common.DistancePtSegSqr2D(pos[:], v0, v1)
		common.VLerp(closest[:], v0, v1, t)
		return closest, false
	}

	// Outside poly that is not an off-mesh connection.
	m.closestPointOnDetailEdges(tile, ip, pos[:], true, closest[:])
	return closest, false
}

// GetPolyHeight returns the detail surface height under pos when pos lies
// within the polygon's xz bounds. Fails for off-mesh connection polygons and
// for positions outside the polygon.
func (m *Mesh) GetPolyHeight(tile *MeshTile, poly *Poly, pos mgl32.Vec3) (float32, bool) {
	for i := range tile.Polys {
		if &tile.Polys[i] == poly {
			return m.polyHeight(tile, uint32(i), pos[:])
		}
	}
	return 0, false
}

func (m *Mesh) polyHeight(tile *MeshTile, ip uint32, pos []float32) (float32, bool) {
	poly := &tile.Polys[ip]

	// Off-mesh connections have no surface to stand on.
	if poly.Type() == PolyTypeOffMeshConnection {
		return 0, false
	}

	pd := &tile.DetailMeshes[ip]

	var verts [VertsPerPolygon * 3]float32
	nv := int(poly.VertCount)
	for i := 0; i < nv; i++ {
		copy(verts[i*3:i*3+3], tile.Verts[poly.Verts[i]*3:poly.Verts[i]*3+3])
	}

	if !common.PointInPolygon(pos, verts[:], nv) {
		return 0, false
	}

	// Find height at the location.
	for j := 0; j < int(pd.TriCount); j++ {
		t := tile.DetailTris[(pd.TriBase+uint32(j))*4 : (pd.TriBase+uint32(j))*4+4]
		var v [3][]float32
		for k := 0; k < 3; k++ {
			if int(t[k]) < nv {
				v[k] = tile.Verts[poly.Verts[t[k]]*3 : poly.Verts[t[k]]*3+3]
			} else {
				idx := (pd.VertBase + uint32(int(t[k])-nv)) * 3
				v[k] = tile.DetailVerts[idx : idx+3]
			}
		}
		if h, ok := common.ClosestHeightPointTriangle(pos, v[0], v[1], v[2]); ok {
			return h, true
		}
	}

	// All triangle checks failed, which can happen with degenerate triangles
	// or larger floating point values; the point is on an edge, so pick the
	// closest edge point.
	var closest [3]float32
	m.closestPointOnDetailEdges(tile, ip, pos, false, closest[:])
	return closest[1], true
}

// closestPointOnDetailEdges finds the closest point to pos over the
// polygon's detail edges, considering only hull boundary edges when
// onlyBoundary is set.
func (m *Mesh) closestPointOnDetailEdges(tile *MeshTile, ip uint32, pos []float32, onlyBoundary bool, closest []float32) {
	poly := &tile.Polys[ip]
	pd := &tile.DetailMeshes[ip]

	dmin := float32(math.MaxFloat32)
	tmin := float32(0)
	var pmin, pmax []float32

	for i := 0; i < int(pd.TriCount); i++ {
		tris := tile.DetailTris[(pd.TriBase+uint32(i))*4 : (pd.TriBase+uint32(i))*4+4]
		anyBoundaryEdge := uint8(DetailEdgeBoundary<<0 | DetailEdgeBoundary<<2 | DetailEdgeBoundary<<4)
		if onlyBoundary && tris[3]&anyBoundaryEdge == 0 {
			continue
		}

		var v [3][]float32
		for j := 0; j < 3; j++ {
			if int(tris[j]) < int(poly.VertCount) {
				v[j] = tile.Verts[poly.Verts[tris[j]]*3 : poly.Verts[tris[j]]*3+3]
			} else {
				idx := (pd.VertBase + uint32(int(tris[j])-int(poly.VertCount))) * 3
				v[j] = tile.DetailVerts[idx : idx+3]
			}
		}

		for k, j := 0, 2; k < 3; j, k = k, k+1 {
			if detailTriEdgeFlags(tris[3], j)&DetailEdgeBoundary == 0 &&
				(onlyBoundary || tris[j] < tris[k]) {
				// Only looking at boundary edges and this is internal, or
				// this is an inner edge that we will see again or have
				// already seen.
				continue
			}

			d, t := common.DistancePtSegSqr2D(pos, v[j], v[k])
			if d < dmin {
				dmin = d
				tmin = t
				pmin = v[j]
				pmax = v[k]
			}
		}
	}

	if pmin == nil {
		return
	}
	common.VLerp(closest, pmin, pmax, tmin)
}
