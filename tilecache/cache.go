package tilecache

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
	"github.com/gorustyt/navtile/navmesh"
	"go.uber.org/zap"
)

// CompressedTileRef identifies a compressed tile slot with the same salted
// index scheme as navmesh tile references. Zero is never a valid reference.
type CompressedTileRef uint32

// CompressedTileFlags control tile buffer ownership inside the cache.
type CompressedTileFlags uint8

const (
	// CompressedTileFreeData passes buffer ownership to the cache.
	CompressedTileFreeData CompressedTileFlags = 0x01
)

const (
	// maxRequests bounds the obstacle request queue; a full queue rejects
	// the triggering call.
	maxRequests = 64
	// maxUpdates bounds the dirty tile queue.
	maxUpdates = 64
	// maxCellLayers bounds how many stacked layers one grid cell can hold.
	maxCellLayers = 32
)

// CompressedTile is one compressed layer slot.
type CompressedTile struct {
	// Salt is the slot generation, never zero while references may exist.
	Salt uint32

	Header *LayerHeader
	// Data is the full stored buffer; Compressed aliases its payload past
	// the layer header.
	Data       []byte
	Compressed []byte
	Flags      CompressedTileFlags

	// Next chains the tile in the position lookup while occupied and in the
	// free list while not.
	Next *CompressedTile

	index uint32
}

// Params configure the tile layout and capacity of a Cache.
type Params struct {
	Orig mgl32.Vec3 // World-space origin of the tile grid.
	CS   float32    // Cell size of the layer grids.
	CH   float32    // Cell height of the layer grids.
	// Width and Height are the layer grid dimensions of one tile, so a tile
	// covers Width*CS by Height*CS world units.
	Width  int32
	Height int32

	WalkableHeight         float32
	WalkableRadius         float32
	WalkableClimb          float32
	MaxSimplificationError float32

	MaxTiles     int32 // Maximum number of compressed tiles.
	MaxObstacles int32 // Maximum number of obstacle slots.
}

// Cache stores compressed tiles and schedules incremental rebuilds around
// dynamic obstacles. Like the navigation mesh it feeds, a Cache is owned by
// a single goroutine; no operation may run while an Update is in progress.
type Cache struct {
	params  Params
	comp    Compressor
	builder MeshBuilder
	proc    MeshProcess
	log     *zap.Logger

	tileLutMask int32
	posLookup   []*CompressedTile
	nextFree    *CompressedTile
	tiles       []CompressedTile

	saltBits uint32
	tileBits uint32

	obstacles        []Obstacle
	nextFreeObstacle *Obstacle

	reqs  [maxRequests]obstacleRequest
	nreqs int

	update  [maxUpdates]CompressedTileRef
	nupdate int
}

// NewCache initializes a cache. comp and builder are required for rebuilds
// but may be nil in a store-only cache; proc and log are optional.
func NewCache(params *Params, comp Compressor, builder MeshBuilder, proc MeshProcess, log *zap.Logger) (*Cache, navmesh.Status) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		params:  *params,
		comp:    comp,
		builder: builder,
		proc:    proc,
		log:     log,
	}

	c.tileBits = common.Ilog2(common.NextPow2(uint32(params.MaxTiles)))
	// Only allow 31 salt bits: the salt mask is computed in 32-bit space.
	c.saltBits = min(31, 32-c.tileBits)
	if c.saltBits < 10 {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}

	c.obstacles = make([]Obstacle, params.MaxObstacles)
	for i := params.MaxObstacles - 1; i >= 0; i-- {
		c.obstacles[i].salt = 1
		c.obstacles[i].next = c.nextFreeObstacle
		c.nextFreeObstacle = &c.obstacles[i]
	}

	lutSize := common.NextPow2(uint32(params.MaxTiles / 4))
	if lutSize == 0 {
		lutSize = 1
	}
	c.tileLutMask = int32(lutSize - 1)
	c.posLookup = make([]*CompressedTile, lutSize)

	c.tiles = make([]CompressedTile, params.MaxTiles)
	for i := params.MaxTiles - 1; i >= 0; i-- {
		c.tiles[i].Salt = 1
		c.tiles[i].index = uint32(i)
		c.tiles[i].Next = c.nextFree
		c.nextFree = &c.tiles[i]
	}
	return c, navmesh.Success
}

// GetParams returns the layout the cache was initialized with.
func (c *Cache) GetParams() *Params { return &c.params }

// GetCompressor returns the compressor collaborator.
func (c *Cache) GetCompressor() Compressor { return c.comp }

// GetTileCount returns the compressed tile slot capacity.
func (c *Cache) GetTileCount() int32 { return c.params.MaxTiles }

// GetTile returns the tile slot at index i, occupied or not.
func (c *Cache) GetTile(i int) *CompressedTile { return &c.tiles[i] }

// GetObstacleCount returns the obstacle slot capacity.
func (c *Cache) GetObstacleCount() int32 { return c.params.MaxObstacles }

// GetObstacle returns the obstacle slot at index i, in whatever state.
func (c *Cache) GetObstacle(i int) *Obstacle { return &c.obstacles[i] }

func (c *Cache) encodeTileID(salt, it uint32) CompressedTileRef {
	return CompressedTileRef(salt<<c.tileBits | it)
}

func (c *Cache) decodeTileIDSalt(ref CompressedTileRef) uint32 {
	saltMask := uint32(1)<<c.saltBits - 1
	return uint32(ref) >> c.tileBits & saltMask
}

func (c *Cache) decodeTileIDTile(ref CompressedTileRef) uint32 {
	tileMask := uint32(1)<<c.tileBits - 1
	return uint32(ref) & tileMask
}

// GetTileRef returns the reference of an occupied tile slot.
func (c *Cache) GetTileRef(tile *CompressedTile) CompressedTileRef {
	if tile == nil {
		return 0
	}
	return c.encodeTileID(tile.Salt, tile.index)
}

// GetTileByRef resolves a tile reference, or nil when the reference is null,
// out of range or stale.
func (c *Cache) GetTileByRef(ref CompressedTileRef) *CompressedTile {
	if ref == 0 {
		return nil
	}
	tileIndex := c.decodeTileIDTile(ref)
	tileSalt := c.decodeTileIDSalt(ref)
	if tileIndex >= uint32(c.params.MaxTiles) {
		return nil
	}
	tile := &c.tiles[tileIndex]
	if tile.Salt != tileSalt {
		return nil
	}
	return tile
}

// GetObstacleRef returns the reference of an obstacle slot.
func (c *Cache) GetObstacleRef(ob *Obstacle) ObstacleRef {
	if ob == nil {
		return 0
	}
	idx := 0
	for i := range c.obstacles {
		if &c.obstacles[i] == ob {
			idx = i
			break
		}
	}
	return encodeObstacleID(ob.salt, idx)
}

// GetObstacleByRef resolves an obstacle reference, or nil when the reference
// is null, out of range or stale.
func (c *Cache) GetObstacleByRef(ref ObstacleRef) *Obstacle {
	if ref == 0 {
		return nil
	}
	idx := decodeObstacleIDObstacle(ref)
	if idx >= int(c.params.MaxObstacles) {
		return nil
	}
	ob := &c.obstacles[idx]
	if ob.salt != decodeObstacleIDSalt(ref) {
		return nil
	}
	return ob
}

// GetTileAt returns the tile at a grid coordinate and layer, or nil.
func (c *Cache) GetTileAt(tx, ty, tlayer int32) *CompressedTile {
	h := common.TileHash(tx, ty, c.tileLutMask)
	for tile := c.posLookup[h]; tile != nil; tile = tile.Next {
		if tile.Header != nil &&
			tile.Header.TX == tx &&
			tile.Header.TY == ty &&
			tile.Header.TLayer == tlayer {
			return tile
		}
	}
	return nil
}

// GetTilesAt fills tiles with the references of all layers stored at a grid
// coordinate and returns how many were found. Results past len(tiles) are
// dropped.
func (c *Cache) GetTilesAt(tx, ty int32, tiles []CompressedTileRef) int {
	n := 0
	h := common.TileHash(tx, ty, c.tileLutMask)
	for tile := c.posLookup[h]; tile != nil; tile = tile.Next {
		if tile.Header != nil && tile.Header.TX == tx && tile.Header.TY == ty {
			if n < len(tiles) {
				tiles[n] = c.GetTileRef(tile)
				n++
			}
		}
	}
	return n
}

// AddTile stores a compressed layer buffer at the grid location named by its
// header. With CompressedTileFreeData the cache takes ownership of data.
func (c *Cache) AddTile(data []byte, flags CompressedTileFlags) (CompressedTileRef, navmesh.Status) {
	header, status := PeekLayerHeader(data)
	if status.Failed() {
		return 0, status
	}

	// Make sure the location is free.
	if c.GetTileAt(header.TX, header.TY, header.TLayer) != nil {
		return 0, navmesh.Failure
	}

	// Allocate a tile.
	var tile *CompressedTile
	if c.nextFree != nil {
		tile = c.nextFree
		c.nextFree = tile.Next
		tile.Next = nil
	}
	if tile == nil {
		return 0, navmesh.Failure | navmesh.OutOfMemory
	}

	// Insert tile into the position lut.
	h := common.TileHash(header.TX, header.TY, c.tileLutMask)
	tile.Next = c.posLookup[h]
	c.posLookup[h] = tile

	tile.Header = header
	tile.Data = data
	tile.Compressed = data[layerHeaderWireSize:]
	tile.Flags = flags

	return c.GetTileRef(tile), navmesh.Success
}

// PeekLayerHeader decodes just the layer header of a compressed tile buffer,
// validating magic and version.
func PeekLayerHeader(data []byte) (*LayerHeader, navmesh.Status) {
	if len(data) < layerHeaderWireSize {
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
	return header, navmesh.Success
}

// RemoveTile removes the referenced compressed tile. When the caller owns
// the buffer it is handed back; when the cache owns it nil is returned.
func (c *Cache) RemoveTile(ref CompressedTileRef) ([]byte, navmesh.Status) {
	if ref == 0 {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}
	tileIndex := c.decodeTileIDTile(ref)
	tileSalt := c.decodeTileIDSalt(ref)
	if tileIndex >= uint32(c.params.MaxTiles) {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}
	tile := &c.tiles[tileIndex]
	if tile.Salt != tileSalt {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}
	if tile.Header == nil {
		return nil, navmesh.Failure | navmesh.InvalidParam
	}

	// Remove tile from hash lookup.
	h := common.TileHash(tile.Header.TX, tile.Header.TY, c.tileLutMask)
	var prev *CompressedTile
	cur := c.posLookup[h]
	for cur != nil {
		if cur == tile {
			if prev != nil {
				prev.Next = cur.Next
			} else {
				c.posLookup[h] = cur.Next
			}
			break
		}
		prev = cur
		cur = cur.Next
	}

	// Reset tile.
	var data []byte
	if tile.Flags&CompressedTileFreeData != 0 {
		// Owned by the cache; drop it.
		tile.Data = nil
	} else {
		data = tile.Data
	}
	tile.Header = nil
	tile.Data = nil
	tile.Compressed = nil
	tile.Flags = 0

	// Update salt, salt should never be zero.
	tile.Salt = (tile.Salt + 1) & (uint32(1)<<c.saltBits - 1)
	if tile.Salt == 0 {
		tile.Salt++
	}

	// Add to free list.
	tile.Next = c.nextFree
	c.nextFree = tile

	return data, navmesh.Success
}

// QueryTiles collects the tiles whose tight bounds overlap a world-space
// box, up to len(results). Results past the capacity are silently dropped.
func (c *Cache) QueryTiles(bmin, bmax mgl32.Vec3, results []CompressedTileRef) int {
	var tiles [maxCellLayers]CompressedTileRef

	tw := float32(c.params.Width) * c.params.CS
	th := float32(c.params.Height) * c.params.CS
	tx0 := int32(math.Floor(float64((bmin[0] - c.params.Orig[0]) / tw)))
	tx1 := int32(math.Floor(float64((bmax[0] - c.params.Orig[0]) / tw)))
	ty0 := int32(math.Floor(float64((bmin[2] - c.params.Orig[2]) / th)))
	ty1 := int32(math.Floor(float64((bmax[2] - c.params.Orig[2]) / th)))

	n := 0
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			ntiles := c.GetTilesAt(tx, ty, tiles[:])
			for i := 0; i < ntiles; i++ {
				tile := &c.tiles[c.decodeTileIDTile(tiles[i])]
				var tbmin, tbmax [3]float32
				c.calcTightTileBounds(tile.Header, tbmin[:], tbmax[:])
				if common.OverlapBounds(bmin[:], bmax[:], tbmin[:], tbmax[:]) {
					if n < len(results) {
						results[n] = tiles[i]
						n++
					}
				}
			}
		}
	}
	return n
}

// calcTightTileBounds clips a tile's nominal bounds to the grid cells its
// content actually occupies, so queries do not hit mostly-empty tiles.
func (c *Cache) calcTightTileBounds(header *LayerHeader, bmin, bmax []float32) {
	cs := c.params.CS
	bmin[0] = header.BMin[0] + float32(header.MinX)*cs
	bmin[1] = header.BMin[1]
	bmin[2] = header.BMin[2] + float32(header.MinY)*cs
	bmax[0] = header.BMin[0] + float32(header.MaxX+1)*cs
	bmax[1] = header.BMax[1]
	bmax[2] = header.BMin[2] + float32(header.MaxY+1)*cs
}

// allocObstacle pops an obstacle slot, resetting it but preserving its salt.
// The request queue is checked before allocation so a rejected call mutates
// nothing.
func (c *Cache) allocObstacle() (*Obstacle, navmesh.Status) {
	if c.nreqs >= maxRequests {
		return nil, navmesh.Failure | navmesh.BufferTooSmall
	}
	ob := c.nextFreeObstacle
	if ob == nil {
		return nil, navmesh.Failure | navmesh.OutOfMemory
	}
	c.nextFreeObstacle = ob.next
	ob.next = nil

	salt := ob.salt
	*ob = Obstacle{}
	ob.salt = salt
	ob.State = ObstacleProcessing
	return ob, navmesh.Success
}

func (c *Cache) pushRequest(action int, ref ObstacleRef) {
	c.reqs[c.nreqs] = obstacleRequest{action: action, ref: ref}
	c.nreqs++
}

// AddObstacle requests a cylinder obstacle. The obstacle starts carving only
// after Update has rebuilt every tile it touches.
func (c *Cache) AddObstacle(pos mgl32.Vec3, radius, height float32) (ObstacleRef, navmesh.Status) {
	ob, status := c.allocObstacle()
	if status.Failed() {
		return 0, status
	}
	ob.Type = ObstacleCylinder
	ob.Cylinder.Pos = [3]float32(pos)
	ob.Cylinder.Radius = radius
	ob.Cylinder.Height = height

	ref := c.GetObstacleRef(ob)
	c.pushRequest(requestAdd, ref)
	c.log.Debug("obstacle add requested", zap.Uint32("ref", uint32(ref)))
	return ref, navmesh.Success
}

// AddBoxObstacle requests an axis-aligned box obstacle.
func (c *Cache) AddBoxObstacle(bmin, bmax mgl32.Vec3) (ObstacleRef, navmesh.Status) {
	ob, status := c.allocObstacle()
	if status.Failed() {
		return 0, status
	}
	ob.Type = ObstacleBox
	ob.Box.BMin = [3]float32(bmin)
	ob.Box.BMax = [3]float32(bmax)

	ref := c.GetObstacleRef(ob)
	c.pushRequest(requestAdd, ref)
	c.log.Debug("obstacle add requested", zap.Uint32("ref", uint32(ref)))
	return ref, navmesh.Success
}

// AddObstacleOBB requests a box obstacle rotated around the y axis.
func (c *Cache) AddObstacleOBB(center, halfExtents mgl32.Vec3, yRadians float32) (ObstacleRef, navmesh.Status) {
	ob, status := c.allocObstacle()
	if status.Failed() {
		return 0, status
	}
	ob.Type = ObstacleOrientedBox
	ob.OrientedBox.Center = [3]float32(center)
	ob.OrientedBox.HalfExtents = [3]float32(halfExtents)
	ob.OrientedBox.RotAux = rotAux(yRadians)

	ref := c.GetObstacleRef(ob)
	c.pushRequest(requestAdd, ref)
	c.log.Debug("obstacle add requested", zap.Uint32("ref", uint32(ref)))
	return ref, navmesh.Success
}

// RemoveObstacle requests removal of an obstacle, legal at any point of its
// lifecycle including mid-add. A null reference succeeds as a no-op.
func (c *Cache) RemoveObstacle(ref ObstacleRef) navmesh.Status {
	if ref == 0 {
		return navmesh.Success
	}
	if c.nreqs >= maxRequests {
		return navmesh.Failure | navmesh.BufferTooSmall
	}
	c.pushRequest(requestRemove, ref)
	c.log.Debug("obstacle remove requested", zap.Uint32("ref", uint32(ref)))
	return navmesh.Success
}

// Update runs one scheduler tick: when the dirty queue is empty it drains
// all pending obstacle requests into it, then rebuilds at most one dirty
// tile into mesh. upToDate reports whether both queues are now empty, so a
// caller can keep ticking until the mesh has converged.
func (c *Cache) Update(dt float32, mesh *navmesh.Mesh) (status navmesh.Status, upToDate bool) {
	_ = dt
	if c.nupdate == 0 {
		// Process requests.
		for i := 0; i < c.nreqs; i++ {
			req := &c.reqs[i]

			idx := decodeObstacleIDObstacle(req.ref)
			if idx >= int(c.params.MaxObstacles) {
				continue
			}
			ob := &c.obstacles[idx]
			if ob.salt != decodeObstacleIDSalt(req.ref) {
				continue
			}

			switch req.action {
			case requestAdd:
				// Find touched tiles.
				var bmin, bmax [3]float32
				ob.bounds(bmin[:], bmax[:])
				ob.NTouched = c.QueryTiles(mgl32.Vec3(bmin), mgl32.Vec3(bmax), ob.Touched[:])
				// Add tiles to update list.
				ob.NPending = 0
				for j := 0; j < ob.NTouched; j++ {
					if c.nupdate < maxUpdates {
						if !containsRef(c.update[:], c.nupdate, ob.Touched[j]) {
							c.update[c.nupdate] = ob.Touched[j]
							c.nupdate++
						}
						ob.Pending[ob.NPending] = ob.Touched[j]
						ob.NPending++
					}
				}
			case requestRemove:
				// Prepare to remove obstacle.
				ob.State = ObstacleRemoving
				// Add tiles to update list.
				ob.NPending = 0
				for j := 0; j < ob.NTouched; j++ {
					if c.nupdate < maxUpdates {
						if !containsRef(c.update[:], c.nupdate, ob.Touched[j]) {
							c.update[c.nupdate] = ob.Touched[j]
							c.nupdate++
						}
						ob.Pending[ob.NPending] = ob.Touched[j]
						ob.NPending++
					}
				}
			}
		}
		c.nreqs = 0
	}

	status = navmesh.Success
	// Process updates.
	if c.nupdate != 0 {
		// Build the head of the dirty queue.
		ref := c.update[0]
		status = c.buildTile(ref, mesh)
		c.nupdate--
		if c.nupdate > 0 {
			copy(c.update[:], c.update[1:1+c.nupdate])
		}

		// Update obstacle states.
		for i := int32(0); i < c.params.MaxObstacles; i++ {
			ob := &c.obstacles[i]
			if ob.State != ObstacleProcessing && ob.State != ObstacleRemoving {
				continue
			}
			// Remove handled tile from pending list.
			for j := 0; j < ob.NPending; j++ {
				if ob.Pending[j] == ref {
					ob.Pending[j] = ob.Pending[ob.NPending-1]
					ob.NPending--
					break
				}
			}
			// If all pending tiles are processed, change state.
			if ob.NPending == 0 {
				if ob.State == ObstacleProcessing {
					ob.State = ObstacleProcessed
					c.log.Debug("obstacle processed", zap.Uint32("ref", uint32(c.GetObstacleRef(ob))))
				} else {
					ob.State = ObstacleEmpty
					c.log.Debug("obstacle removed", zap.Uint32("ref", uint32(c.GetObstacleRef(ob))))
					// Update salt, salt should never be zero.
					ob.salt++
					if ob.salt == 0 {
						ob.salt++
					}
					// Return obstacle to free list.
					ob.next = c.nextFreeObstacle
					c.nextFreeObstacle = ob
				}
			}
		}
		if c.nupdate == 0 && c.nreqs == 0 {
			c.log.Info("tile cache up to date")
		}
	}

	return status, c.nupdate == 0 && c.nreqs == 0
}

// BuildTilesAt rebuilds every layer stored at a grid cell immediately,
// outside the amortized Update loop.
func (c *Cache) BuildTilesAt(tx, ty int32, mesh *navmesh.Mesh) navmesh.Status {
	var tiles [maxCellLayers]CompressedTileRef
	ntiles := c.GetTilesAt(tx, ty, tiles[:])
	for i := 0; i < ntiles; i++ {
		if status := c.buildTile(tiles[i], mesh); status.Failed() {
			return status
		}
	}
	return navmesh.Success
}

// buildTile rebuilds one tile: decompress its layer, carve every live
// obstacle touching it, extract polygons and swap the result into mesh. A
// failure at any stage leaves the mesh tile as it was.
func (c *Cache) buildTile(ref CompressedTileRef, mesh *navmesh.Mesh) navmesh.Status {
	if c.comp == nil || c.builder == nil {
		return navmesh.Failure | navmesh.InvalidParam
	}
	idx := c.decodeTileIDTile(ref)
	if idx >= uint32(c.params.MaxTiles) {
		return navmesh.Failure | navmesh.InvalidParam
	}
	tile := &c.tiles[idx]
	if tile.Salt != c.decodeTileIDSalt(ref) {
		return navmesh.Failure | navmesh.InvalidParam
	}
	header := tile.Header

	layer, status := DecompressTileLayer(c.comp, tile.Data)
	if status.Failed() {
		c.logBuildFailure(header, status)
		return status
	}

	// Rasterize obstacles.
	for i := int32(0); i < c.params.MaxObstacles; i++ {
		ob := &c.obstacles[i]
		if ob.State == ObstacleEmpty || ob.State == ObstacleRemoving {
			continue
		}
		if !ob.touches(ref) {
			continue
		}
		switch ob.Type {
		case ObstacleCylinder:
			MarkCylinderArea(layer, header.BMin[:], c.params.CS, c.params.CH,
				ob.Cylinder.Pos[:], ob.Cylinder.Radius, ob.Cylinder.Height, NullArea)
		case ObstacleBox:
			MarkBoxArea(layer, header.BMin[:], c.params.CS, c.params.CH,
				ob.Box.BMin[:], ob.Box.BMax[:], NullArea)
		case ObstacleOrientedBox:
			MarkOrientedBoxArea(layer, header.BMin[:], c.params.CS, c.params.CH,
				ob.OrientedBox.Center[:], ob.OrientedBox.HalfExtents[:], ob.OrientedBox.RotAux[:], NullArea)
		}
	}

	// Extract polygons.
	cfg := BuildConfig{
		WalkableClimbVx:        int32(c.params.WalkableClimb / c.params.CH),
		MaxSimplificationError: c.params.MaxSimplificationError,
	}
	pm, status := c.builder.Build(layer, &cfg)
	if status.Failed() {
		c.logBuildFailure(header, status)
		return status
	}

	// Early out if the mesh tile is empty: the old tile is removed and the
	// location left empty rather than kept stale.
	if pm.NPolys == 0 {
		mesh.RemoveTile(mesh.GetTileRefAt(header.TX, header.TY, header.TLayer))
		return navmesh.Success
	}

	params := navmesh.CreateParams{
		Verts:     pm.Verts,
		VertCount: pm.NVerts,
		Polys:     pm.Polys,
		PolyAreas: pm.Areas,
		PolyFlags: pm.Flags,
		PolyCount: pm.NPolys,
		Nvp:       navmesh.VertsPerPolygon,

		WalkableHeight: c.params.WalkableHeight,
		WalkableRadius: c.params.WalkableRadius,
		WalkableClimb:  c.params.WalkableClimb,
		TileX:          header.TX,
		TileY:          header.TY,
		TileLayer:      header.TLayer,
		BMin:           header.BMin,
		BMax:           header.BMax,
		CS:             c.params.CS,
		CH:             c.params.CH,
		BuildBvTree:    false,
	}

	if c.proc != nil {
		c.proc.Process(&params)
	}

	data, ok := navmesh.BuildTileData(&params)
	if !ok {
		c.logBuildFailure(header, navmesh.Failure)
		return navmesh.Failure
	}

	// Remove existing tile, then add the rebuilt one or leave the location
	// empty.
	mesh.RemoveTile(mesh.GetTileRefAt(header.TX, header.TY, header.TLayer))
	if _, status := mesh.AddTile(data, navmesh.TileFreeData, 0); status.Failed() {
		c.logBuildFailure(header, status)
		return status
	}
	return navmesh.Success
}

func (c *Cache) logBuildFailure(header *LayerHeader, status navmesh.Status) {
	c.log.Warn("tile rebuild failed",
		zap.Int32("tx", header.TX),
		zap.Int32("ty", header.TY),
		zap.Int32("tlayer", header.TLayer),
		zap.Stringer("status", status),
	)
}
