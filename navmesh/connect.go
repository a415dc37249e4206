package navmesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gorustyt/navtile/common"
)

// connectIntLinks builds the in-tile adjacency lists from the polygon
// neighbour indices baked at tile build time.
func (m *Mesh) connectIntLinks(tile *MeshTile) {
	if tile == nil {
		return
	}
	base := m.GetPolyRefBase(tile)
	for i := int32(0); i < tile.Header.PolyCount; i++ {
		poly := &tile.Polys[i]
		poly.FirstLink = NullLink
		if poly.Type() == PolyTypeOffMeshConnection {
			continue
		}
		// Build edge links backwards so that the links will be in the linked
		// list from lowest index to highest.
		for j := int(poly.VertCount) - 1; j >= 0; j-- {
			// Skip hard and non-internal edges.
			if poly.Neis[j] == 0 || poly.Neis[j]&ExtLink != 0 {
				continue
			}
			idx := allocLink(tile)
			if idx != NullLink {
				link := &tile.Links[idx]
				link.Ref = base | PolyRef(poly.Neis[j]-1)
				link.Edge = uint8(j)
				link.Side = 0xff
				link.BMin, link.BMax = 0, 0
				link.Next = poly.FirstLink
				poly.FirstLink = idx
			}
		}
	}
}

// baseOffMeshLinks connects each off-mesh connection's start endpoint to the
// polygon it stands over, and that polygon back to the connection.
func (m *Mesh) baseOffMeshLinks(tile *MeshTile) {
	if tile == nil {
		return
	}
	base := m.GetPolyRefBase(tile)
	for i := int32(0); i < tile.Header.OffMeshConCount; i++ {
		con := &tile.OffMeshCons[i]
		poly := &tile.Polys[con.Poly]

		halfExtents := mgl32.Vec3{con.Rad, tile.Header.WalkableClimb, con.Rad}
		p := mgl32.Vec3(con.Pos[0:3])
		ref, nearestPt := m.FindNearestPolyInTile(tile, p, halfExtents)
		if ref == 0 {
			continue
		}
		// The nearest-point search may land outside the connection radius in
		// the xz plane; reject those.
		if common.Sqr(nearestPt[0]-p[0])+common.Sqr(nearestPt[2]-p[2]) > common.Sqr(con.Rad) {
			continue
		}
		// Make sure the location is on current mesh.
		copy(tile.Verts[poly.Verts[0]*3:poly.Verts[0]*3+3], nearestPt[:])

		// Link off-mesh connection to target poly.
		idx := allocLink(tile)
		if idx != NullLink {
			link := &tile.Links[idx]
			link.Ref = ref
			link.Edge = 0
			link.Side = 0xff
			link.BMin, link.BMax = 0, 0
			link.Next = poly.FirstLink
			poly.FirstLink = idx
		}

		// Start end-point is always connected back to the off-mesh
		// connection.
		tidx := allocLink(tile)
		if tidx != NullLink {
			landPolyIdx := uint16(m.DecodePolyIDPoly(ref))
			landPoly := &tile.Polys[landPolyIdx]
			link := &tile.Links[tidx]
			link.Ref = base | PolyRef(con.Poly)
			link.Edge = 0xff
			link.Side = 0xff
			link.BMin, link.BMax = 0, 0
			link.Next = landPoly.FirstLink
			landPoly.FirstLink = tidx
		}
	}
}

// connectExtLinks links tile's border edges on the given side to matching
// border edges in target. Side -1 considers every border edge, which handles
// stacked layers at the same grid location.
func (m *Mesh) connectExtLinks(tile, target *MeshTile, side int32) {
	if tile == nil {
		return
	}
	for i := int32(0); i < tile.Header.PolyCount; i++ {
		poly := &tile.Polys[i]
		nv := int(poly.VertCount)
		for j := 0; j < nv; j++ {
			// Skip non-portal edges.
			if poly.Neis[j]&ExtLink == 0 {
				continue
			}
			dir := int32(poly.Neis[j] & 0xff)
			if side != -1 && dir != side {
				continue
			}

			va := tile.Verts[poly.Verts[j]*3 : poly.Verts[j]*3+3]
			vb := tile.Verts[poly.Verts[(j+1)%nv]*3 : poly.Verts[(j+1)%nv]*3+3]
			var nei [4]PolyRef
			var neia [4 * 2]float32
			nnei := m.findConnectingPolys(va, vb, target, common.OppositeTile(dir), nei[:], neia[:])
			for k := 0; k < nnei; k++ {
				idx := allocLink(tile)
				if idx == NullLink {
					continue
				}
				link := &tile.Links[idx]
				link.Ref = nei[k]
				link.Edge = uint8(j)
				link.Side = uint8(dir)
				link.Next = poly.FirstLink
				poly.FirstLink = idx

				// Compress portal limits to a byte value.
				if dir == 0 || dir == 4 {
					tmin := (neia[k*2+0] - va[2]) / (vb[2] - va[2])
					tmax := (neia[k*2+1] - va[2]) / (vb[2] - va[2])
					if tmin > tmax {
						tmin, tmax = tmax, tmin
					}
					link.BMin = uint8(math.Round(float64(common.Clamp(tmin, 0, 1) * 255)))
					link.BMax = uint8(math.Round(float64(common.Clamp(tmax, 0, 1) * 255)))
				} else if dir == 2 || dir == 6 {
					tmin := (neia[k*2+0] - va[0]) / (vb[0] - va[0])
					tmax := (neia[k*2+1] - va[0]) / (vb[0] - va[0])
					if tmin > tmax {
						tmin, tmax = tmax, tmin
					}
					link.BMin = uint8(math.Round(float64(common.Clamp(tmin, 0, 1) * 255)))
					link.BMax = uint8(math.Round(float64(common.Clamp(tmax, 0, 1) * 255)))
				}
			}
		}
	}
}

// connectExtOffMeshLinks lands off-mesh connections whose far endpoint
// crosses from target into tile. Side -1 matches connections marked as
// staying inside the tile.
func (m *Mesh) connectExtOffMeshLinks(tile, target *MeshTile, side int32) {
	if tile == nil {
		return
	}
	// We are interested in links landing from target tile into this tile.
	oppositeSide := uint8(0xff)
	if side != -1 {
		oppositeSide = uint8(common.OppositeTile(side))
	}
	for i := int32(0); i < target.Header.OffMeshConCount; i++ {
		targetCon := &target.OffMeshCons[i]
		if targetCon.Side != oppositeSide {
			continue
		}
		targetPoly := &target.Polys[targetCon.Poly]
		// Skip connections whose start location could not be connected at
		// all.
		if targetPoly.FirstLink == NullLink {
			continue
		}

		halfExtents := mgl32.Vec3{targetCon.Rad, target.Header.WalkableClimb, targetCon.Rad}
		p := mgl32.Vec3(targetCon.Pos[3:6])
		ref, nearestPt := m.FindNearestPolyInTile(tile, p, halfExtents)
		if ref == 0 {
			continue
		}
		if common.Sqr(nearestPt[0]-p[0])+common.Sqr(nearestPt[2]-p[2]) > common.Sqr(targetCon.Rad) {
			continue
		}
		// Make sure the location is on current mesh.
		copy(target.Verts[targetPoly.Verts[1]*3:targetPoly.Verts[1]*3+3], nearestPt[:])

		// Link off-mesh connection to target poly.
		idx := allocLink(target)
		if idx != NullLink {
			link := &target.Links[idx]
			link.Ref = ref
			link.Edge = 1
			link.Side = oppositeSide
			link.BMin, link.BMax = 0, 0
			link.Next = targetPoly.FirstLink
			targetPoly.FirstLink = idx
		}

		// Link target poly to off-mesh connection.
		if targetCon.Flags&OffMeshConBidir != 0 {
			tidx := allocLink(tile)
			if tidx != NullLink {
				landPolyIdx := uint16(m.DecodePolyIDPoly(ref))
				landPoly := &tile.Polys[landPolyIdx]
				link := &tile.Links[tidx]
				link.Ref = m.GetPolyRefBase(target) | PolyRef(targetCon.Poly)
				link.Edge = 0xff
				if side == -1 {
					link.Side = 0xff
				} else {
					link.Side = uint8(side)
				}
				link.BMin, link.BMax = 0, 0
				link.Next = landPoly.FirstLink
				landPoly.FirstLink = tidx
			}
		}
	}
}

// unconnectLinks removes from tile every link whose reference decodes to
// target's slot. Safe to call for pairs that were never connected.
func (m *Mesh) unconnectLinks(tile, target *MeshTile) {
	if tile == nil || target == nil {
		return
	}
	targetNum := m.DecodePolyIDTile(PolyRef(m.GetTileRef(target)))
	for i := int32(0); i < tile.Header.PolyCount; i++ {
		poly := &tile.Polys[i]
		j := poly.FirstLink
		pj := uint32(NullLink)
		for j != NullLink {
			if m.DecodePolyIDTile(tile.Links[j].Ref) == targetNum {
				// Remove link.
				nj := tile.Links[j].Next
				if pj == NullLink {
					poly.FirstLink = nj
				} else {
					tile.Links[pj].Next = nj
				}
				freeLink(tile, j)
				j = nj
			} else {
				// Advance.
				pj = j
				j = tile.Links[j].Next
			}
		}
	}
}

// findConnectingPolys collects polygons in tile whose border edge on the
// given side lines up with segment va-vb, writing the overlap interval per
// match into conarea.
func (m *Mesh) findConnectingPolys(va, vb []float32, tile *MeshTile, side int32, con []PolyRef, conarea []float32) int {
	if tile == nil {
		return 0
	}
	var amin, amax [2]float32
	calcSlabEndPoints(va, vb, amin[:], amax[:], side)
	apos := getSlabCoord(va, side)

	var bmin, bmax [2]float32
	mask := uint16(ExtLink | uint16(side))
	n := 0
	base := m.GetPolyRefBase(tile)

	for i := int32(0); i < tile.Header.PolyCount; i++ {
		poly := &tile.Polys[i]
		nv := int(poly.VertCount)
		for j := 0; j < nv; j++ {
			// Skip edges which do not point to the right side.
			if poly.Neis[j] != mask {
				continue
			}

			vc := tile.Verts[poly.Verts[j]*3 : poly.Verts[j]*3+3]
			vd := tile.Verts[poly.Verts[(j+1)%nv]*3 : poly.Verts[(j+1)%nv]*3+3]
			bpos := getSlabCoord(vc, side)

			// Segments are not close enough.
			if common.Abs(apos-bpos) > 0.01 {
				continue
			}

			// Check if the segments touch.
			calcSlabEndPoints(vc, vd, bmin[:], bmax[:], side)
			if !overlapSlabs(amin[:], amax[:], bmin[:], bmax[:], 0.01, tile.Header.WalkableClimb) {
				continue
			}

			// Add return value.
			if n < len(con) {
				conarea[n*2+0] = max(amin[0], bmin[0])
				conarea[n*2+1] = min(amax[0], bmax[0])
				con[n] = base | PolyRef(i)
				n++
			}
			break
		}
	}
	return n
}

// getSlabCoord picks the axis a border side is perpendicular to.
func getSlabCoord(va []float32, side int32) float32 {
	if side == 0 || side == 4 {
		return va[0]
	} else if side == 2 || side == 6 {
		return va[2]
	}
	return 0
}

// calcSlabEndPoints projects a border edge onto the slab plane of its side,
// ordered along the slab axis. The slab coordinates are (along, height).
func calcSlabEndPoints(va, vb []float32, bmin, bmax []float32, side int32) {
	if side == 0 || side == 4 {
		if va[2] < vb[2] {
			bmin[0], bmin[1] = va[2], va[1]
			bmax[0], bmax[1] = vb[2], vb[1]
		} else {
			bmin[0], bmin[1] = vb[2], vb[1]
			bmax[0], bmax[1] = va[2], va[1]
		}
	} else if side == 2 || side == 6 {
		if va[0] < vb[0] {
			bmin[0], bmin[1] = va[0], va[1]
			bmax[0], bmax[1] = vb[0], vb[1]
		} else {
			bmin[0], bmin[1] = vb[0], vb[1]
			bmax[0], bmax[1] = va[0], va[1]
		}
	}
}

// overlapSlabs reports whether two projected border edges touch, px shrinking
// the horizontal interval so slabs meeting only at endpoints do not connect,
// py the vertical tolerance.
func overlapSlabs(amin, amax, bmin, bmax []float32, px, py float32) bool {
	// Check for horizontal overlap.
	minx := max(amin[0]+px, bmin[0]+px)
	maxx := min(amax[0]-px, bmax[0]-px)
	if minx > maxx {
		return false
	}

	// Check vertical overlap.
	ad := (amax[1] - amin[1]) / (amax[0] - amin[0])
	ak := amin[1] - ad*amin[0]
	bd := (bmax[1] - bmin[1]) / (bmax[0] - bmin[0])
	bk := bmin[1] - bd*bmin[0]
	aminy := ad*minx + ak
	amaxy := ad*maxx + ak
	bminy := bd*minx + bk
	bmaxy := bd*maxx + bk
	dmin := bminy - aminy
	dmax := bmaxy - amaxy

	// Crossing segments always overlap.
	if dmin*dmax < 0 {
		return true
	}

	// Check for overlap at endpoints.
	thr := common.Sqr(py * 2)
	return dmin*dmin <= thr || dmax*dmax <= thr
}
