package tilecache

import "math"

// ObstacleRef identifies an obstacle slot: a 16-bit generation counter over
// a 16-bit slot index. Zero is never a valid reference.
type ObstacleRef uint32

// MaxTouchedTiles bounds how many tiles one obstacle can be associated with.
// Discovery past the bound is silently truncated; the obstacle simply does
// not carve into the dropped tiles.
const MaxTouchedTiles = 8

// Obstacle processing states.
type ObstacleState uint8

const (
	ObstacleEmpty ObstacleState = iota
	ObstacleProcessing
	ObstacleProcessed
	ObstacleRemoving
)

// Obstacle shapes.
type ObstacleType uint8

const (
	ObstacleCylinder ObstacleType = iota
	ObstacleBox
	ObstacleOrientedBox
)

// ObstacleCylinderShape is a vertical cylinder standing on Pos.
type ObstacleCylinderShape struct {
	Pos    [3]float32
	Radius float32
	Height float32
}

// ObstacleBoxShape is an axis-aligned box.
type ObstacleBoxShape struct {
	BMin [3]float32
	BMax [3]float32
}

// ObstacleOrientedBoxShape is a box rotated around the y axis. RotAux caches
// {cos(a/2)*sin(-a/2), cos(a/2)^2 - 0.5} for the half-angle rotation used
// while carving.
type ObstacleOrientedBoxShape struct {
	Center      [3]float32
	HalfExtents [3]float32
	RotAux      [2]float32
}

// Obstacle is one obstacle slot. The shape union holds whichever variant
// Type names; Touched lists the compressed tiles the obstacle overlaps and
// Pending the subset still waiting for a rebuild.
type Obstacle struct {
	Cylinder    ObstacleCylinderShape
	Box         ObstacleBoxShape
	OrientedBox ObstacleOrientedBoxShape

	Touched  [MaxTouchedTiles]CompressedTileRef
	Pending  [MaxTouchedTiles]CompressedTileRef
	NTouched int
	NPending int

	Type  ObstacleType
	State ObstacleState

	salt uint16
	next *Obstacle
}

const (
	requestAdd = iota
	requestRemove
)

type obstacleRequest struct {
	action int
	ref    ObstacleRef
}

func encodeObstacleID(salt uint16, idx int) ObstacleRef {
	return ObstacleRef(uint32(salt)<<16 | uint32(idx))
}

func decodeObstacleIDSalt(ref ObstacleRef) uint16 { return uint16(uint32(ref) >> 16) }

func decodeObstacleIDObstacle(ref ObstacleRef) int { return int(uint32(ref) & 0xffff) }

// rotAux precomputes the half-angle terms MarkOrientedBoxArea rotates with.
func rotAux(yRadians float32) [2]float32 {
	coshalf := float32(math.Cos(0.5 * float64(yRadians)))
	sinhalf := float32(math.Sin(-0.5 * float64(yRadians)))
	return [2]float32{coshalf * sinhalf, coshalf*coshalf - 0.5}
}

// bounds returns the obstacle's world-space AABB. Oriented boxes use a
// conservative footprint covering any rotation.
func (ob *Obstacle) bounds(bmin, bmax []float32) {
	switch ob.Type {
	case ObstacleCylinder:
		cl := &ob.Cylinder
		bmin[0] = cl.Pos[0] - cl.Radius
		bmin[1] = cl.Pos[1]
		bmin[2] = cl.Pos[2] - cl.Radius
		bmax[0] = cl.Pos[0] + cl.Radius
		bmax[1] = cl.Pos[1] + cl.Height
		bmax[2] = cl.Pos[2] + cl.Radius
	case ObstacleBox:
		copy(bmin, ob.Box.BMin[:])
		copy(bmax, ob.Box.BMax[:])
	case ObstacleOrientedBox:
		orientedBox := &ob.OrientedBox
		maxr := 1.41 * max(orientedBox.HalfExtents[0], orientedBox.HalfExtents[2])
		bmin[0] = orientedBox.Center[0] - maxr
		bmax[0] = orientedBox.Center[0] + maxr
		bmin[1] = orientedBox.Center[1] - orientedBox.HalfExtents[1]
		bmax[1] = orientedBox.Center[1] + orientedBox.HalfExtents[1]
		bmin[2] = orientedBox.Center[2] - maxr
		bmax[2] = orientedBox.Center[2] + maxr
	}
}

// touches reports whether ref is in the obstacle's touched set.
func (ob *Obstacle) touches(ref CompressedTileRef) bool {
	return containsRef(ob.Touched[:], ob.NTouched, ref)
}

func containsRef(refs []CompressedTileRef, n int, v CompressedTileRef) bool {
	for i := 0; i < n; i++ {
		if refs[i] == v {
			return true
		}
	}
	return false
}
