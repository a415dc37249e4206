package common

// NextPow2 returns the smallest power of two >= v.
func NextPow2(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// Ilog2 returns floor(log2(v)).
func Ilog2(v uint32) uint32 {
	var r, shift uint32
	if v > 0xffff {
		r = 1 << 4
	}
	v >>= r
	if v > 0xff {
		shift = 1 << 3
	} else {
		shift = 0
	}
	v >>= shift
	r |= shift
	if v > 0xf {
		shift = 1 << 2
	} else {
		shift = 0
	}
	v >>= shift
	r |= shift
	if v > 0x3 {
		shift = 1 << 1
	} else {
		shift = 0
	}
	v >>= shift
	r |= shift
	r |= v >> 1
	return r
}

// Align4 rounds x up to the next multiple of four.
func Align4(x int) int { return (x + 3) &^ 3 }

func Sqr[T ~int | ~int32 | ~float32 | ~float64](a T) T { return a * a }

func Clamp[T ~int | ~int32 | ~uint16 | ~float32 | ~float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Abs[T ~int | ~int32 | ~float32 | ~float64](a T) T {
	if a < 0 {
		return -a
	}
	return a
}

func VMin(mn, v []float32) {
	mn[0] = min(mn[0], v[0])
	mn[1] = min(mn[1], v[1])
	mn[2] = min(mn[2], v[2])
}

func VMax(mx, v []float32) {
	mx[0] = max(mx[0], v[0])
	mx[1] = max(mx[1], v[1])
	mx[2] = max(mx[2], v[2])
}

// VLerp computes dst = v1 + (v2-v1)*t.
func VLerp(dst, v1, v2 []float32, t float32) {
	dst[0] = v1[0] + (v2[0]-v1[0])*t
	dst[1] = v1[1] + (v2[1]-v1[1])*t
	dst[2] = v1[2] + (v2[2]-v1[2])*t
}

// VSub computes dst = v1 - v2.
func VSub(dst, v1, v2 []float32) {
	dst[0] = v1[0] - v2[0]
	dst[1] = v1[1] - v2[1]
	dst[2] = v1[2] - v2[2]
}

func VDot(v1, v2 []float32) float32 {
	return v1[0]*v2[0] + v1[1]*v2[1] + v1[2]*v2[2]
}

func VLenSqr(v []float32) float32 { return VDot(v, v) }

// OverlapQuantBounds reports whether two quantized AABBs overlap.
func OverlapQuantBounds(amin, amax, bmin, bmax [3]uint16) bool {
	return amin[0] <= bmax[0] && amax[0] >= bmin[0] &&
		amin[1] <= bmax[1] && amax[1] >= bmin[1] &&
		amin[2] <= bmax[2] && amax[2] >= bmin[2]
}

// OverlapBounds reports whether two world-space AABBs overlap.
func OverlapBounds(amin, amax, bmin, bmax []float32) bool {
	return amin[0] <= bmax[0] && amax[0] >= bmin[0] &&
		amin[1] <= bmax[1] && amax[1] >= bmin[1] &&
		amin[2] <= bmax[2] && amax[2] >= bmin[2]
}

// TileHash buckets a tile grid coordinate into a power-of-two lookup table.
func TileHash(x, y, mask int32) int32 {
	const h1 = 0x8da6b343 // Large multiplicative constants,
	const h2 = 0xd8163841 // arbitrarily chosen primes.
	n := uint32(h1)*uint32(x) + uint32(h2)*uint32(y)
	return int32(n & uint32(mask))
}

// OppositeTile maps a compass side (0-7) to the side facing it.
func OppositeTile(side int32) int32 { return (side + 4) & 0x7 }

// DistancePtSegSqr2D returns the squared xz-distance from pt to segment pq
// and the parameter t of the closest point along the segment.
func DistancePtSegSqr2D(pt, p, q []float32) (dist, t float32) {
	pqx := q[0] - p[0]
	pqz := q[2] - p[2]
	dx := pt[0] - p[0]
	dz := pt[2] - p[2]
	d := pqx*pqx + pqz*pqz
	t = pqx*dx + pqz*dz
	if d > 0 {
		t /= d
	}
	t = Clamp(t, 0, 1)
	dx = p[0] + t*pqx - pt[0]
	dz = p[2] + t*pqz - pt[2]
	return dx*dx + dz*dz, t
}

// ClosestHeightPointTriangle samples the height of triangle abc at the
// xz-location of p. Returns false when p lies outside the triangle or the
// triangle is degenerate on the xz-plane.
func ClosestHeightPointTriangle(p, a, b, c []float32) (h float32, ok bool) {
	const eps = 1e-6
	var v0, v1, v2 [3]float32
	VSub(v0[:], c, a)
	VSub(v1[:], b, a)
	VSub(v2[:], p, a)

	// Compute scaled barycentric coordinates.
	denom := v0[0]*v1[2] - v0[2]*v1[0]
	if Abs(denom) < eps {
		return 0, false
	}
	u := v1[2]*v2[0] - v1[0]*v2[2]
	v := v0[0]*v2[2] - v0[2]*v2[0]
	if denom < 0 {
		denom = -denom
		u = -u
		v = -v
	}

	// The point lies inside the triangle if u, v and u+v are all within bounds.
	if u >= 0 && v >= 0 && u+v <= denom {
		return a[1] + (v0[1]*u+v1[1]*v)/denom, true
	}
	return 0, false
}

// PointInPolygon reports whether pt is inside the xz-projection of the
// polygon described by nverts vertices. All points are treated as 2D.
func PointInPolygon(pt []float32, verts []float32, nverts int) bool {
	c := false
	for i, j := 0, nverts-1; i < nverts; j, i = i, i+1 {
		vi := verts[i*3 : i*3+3]
		vj := verts[j*3 : j*3+3]
		if ((vi[2] > pt[2]) != (vj[2] > pt[2])) &&
			(pt[0] < (vj[0]-vi[0])*(pt[2]-vi[2])/(vj[2]-vi[2])+vi[0]) {
			c = !c
		}
	}
	return c
}
