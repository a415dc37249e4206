package navmesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorustyt/navtile/common"
)

// Mesh is a tiled navigation mesh: a fixed pool of tile slots addressed by
// grid coordinate through a spatial hash, with polygon adjacency maintained
// across tile borders as tiles come and go. All operations are synchronous
// and the mesh is not safe for concurrent use.
type Mesh struct {
	params     Params
	orig       [3]float32
	tileWidth  float32
	tileHeight float32

	maxTiles    int32
	tileLutMask int32
	posLookup   []*MeshTile
	nextFree    *MeshTile
	tiles       []MeshTile

	saltBits uint32
	tileBits uint32
	polyBits uint32
}

// NewMesh initializes a mesh for the given tile layout. Fails with
// InvalidParam when the configured maxima leave fewer than 10 bits of each
// reference for the generation counter.
func NewMesh(params *Params) (*Mesh, Status) {
	m := &Mesh{
		params:     *params,
		orig:       params.Orig,
		tileWidth:  params.TileWidth,
		tileHeight: params.TileHeight,
		maxTiles:   params.MaxTiles,
	}

	lutSize := common.NextPow2(uint32(params.MaxTiles / 4))
	if lutSize == 0 {
		lutSize = 1
	}
	m.tileLutMask = int32(lutSize - 1)

	m.tiles = make([]MeshTile, m.maxTiles)
	m.posLookup = make([]*MeshTile, lutSize)
	for i := m.maxTiles - 1; i >= 0; i-- {
		m.tiles[i].Salt = 1
		m.tiles[i].index = uint32(i)
		m.tiles[i].Next = m.nextFree
		m.nextFree = &m.tiles[i]
	}

	m.tileBits = common.Ilog2(common.NextPow2(uint32(params.MaxTiles)))
	m.polyBits = common.Ilog2(common.NextPow2(uint32(params.MaxPolys)))
	// Only allow 31 salt bits: the salt mask is computed in 32-bit space.
	m.saltBits = min(31, 32-m.tileBits-m.polyBits)
	if m.saltBits < 10 {
		return nil, Failure | InvalidParam
	}
	return m, Success
}

// NewMeshSingle builds a single-tile mesh around one tile's data, deriving
// the layout from its header.
func NewMeshSingle(data *TileData, flags TileFlags) (*Mesh, Status) {
	if data == nil || data.Header == nil {
		return nil, Failure | InvalidParam
	}
	h := data.Header
	if h.Magic != NavMeshMagic {
		return nil, Failure | WrongMagic
	}
	if h.Version != NavMeshVersion {
		return nil, Failure | WrongVersion
	}
	params := Params{
		Orig:       mgl32.Vec3(h.BMin),
		TileWidth:  h.BMax[0] - h.BMin[0],
		TileHeight: h.BMax[2] - h.BMin[2],
		MaxTiles:   1,
		MaxPolys:   h.PolyCount,
	}
	m, status := NewMesh(&params)
	if status.Failed() {
		return nil, status
	}
	if _, status := m.AddTile(data, flags, 0); status.Failed() {
		return nil, status
	}
	return m, Success
}

// GetParams returns the layout the mesh was initialized with.
func (m *Mesh) GetParams() *Params { return &m.params }

// GetMaxTiles returns the tile slot capacity.
func (m *Mesh) GetMaxTiles() int32 { return m.maxTiles }

// GetTile returns the tile slot at index i, occupied or not.
func (m *Mesh) GetTile(i int) *MeshTile { return &m.tiles[i] }

// EncodePolyID packs a salt, tile index and polygon index into a reference.
func (m *Mesh) EncodePolyID(salt, it, ip uint32) PolyRef {
	return PolyRef(salt<<(m.polyBits+m.tileBits) | it<<m.polyBits | ip)
}

// DecodePolyID unpacks a reference into salt, tile index and polygon index.
func (m *Mesh) DecodePolyID(ref PolyRef) (salt, it, ip uint32) {
	saltMask := uint32(1)<<m.saltBits - 1
	tileMask := uint32(1)<<m.tileBits - 1
	polyMask := uint32(1)<<m.polyBits - 1
	salt = uint32(ref) >> (m.polyBits + m.tileBits) & saltMask
	it = uint32(ref) >> m.polyBits & tileMask
	ip = uint32(ref) & polyMask
	return
}

// DecodePolyIDSalt extracts the generation counter from a reference.
func (m *Mesh) DecodePolyIDSalt(ref PolyRef) uint32 {
	saltMask := uint32(1)<<m.saltBits - 1
	return uint32(ref) >> (m.polyBits + m.tileBits) & saltMask
}

// DecodePolyIDTile extracts the tile slot index from a reference.
func (m *Mesh) DecodePolyIDTile(ref PolyRef) uint32 {
	tileMask := uint32(1)<<m.tileBits - 1
	return uint32(ref) >> m.polyBits & tileMask
}

// DecodePolyIDPoly extracts the polygon index from a reference.
func (m *Mesh) DecodePolyIDPoly(ref PolyRef) uint32 {
	polyMask := uint32(1)<<m.polyBits - 1
	return uint32(ref) & polyMask
}

// GetPolyRefBase returns the reference of the tile's polygon zero; polygon
// references within the tile are base|polyIndex.
func (m *Mesh) GetPolyRefBase(tile *MeshTile) PolyRef {
	if tile == nil {
		return 0
	}
	return m.EncodePolyID(tile.Salt, tile.index, 0)
}

// GetTileRef returns the reference of an occupied tile slot.
func (m *Mesh) GetTileRef(tile *MeshTile) TileRef {
	if tile == nil {
		return 0
	}
	return TileRef(m.EncodePolyID(tile.Salt, tile.index, 0))
}

// GetTileByRef resolves a tile reference, or nil when the reference is null,
// out of range or stale.
func (m *Mesh) GetTileByRef(ref TileRef) *MeshTile {
	if ref == 0 {
		return nil
	}
	tileIndex := m.DecodePolyIDTile(PolyRef(ref))
	tileSalt := m.DecodePolyIDSalt(PolyRef(ref))
	if tileIndex >= uint32(m.maxTiles) {
		return nil
	}
	tile := &m.tiles[tileIndex]
	if tile.Salt != tileSalt {
		return nil
	}
	return tile
}

// CalcTileLoc returns the grid coordinate containing a world position.
func (m *Mesh) CalcTileLoc(pos mgl32.Vec3) (tx, ty int32) {
	tx = int32(math.Floor(float64((pos[0] - m.orig[0]) / m.tileWidth)))
	ty = int32(math.Floor(float64((pos[2] - m.orig[2]) / m.tileHeight)))
	return
}

// GetTileAt returns the tile at a grid coordinate and layer, or nil.
func (m *Mesh) GetTileAt(x, y, layer int32) *MeshTile {
	h := common.TileHash(x, y, m.tileLutMask)
	for tile := m.posLookup[h]; tile != nil; tile = tile.Next {
		if tile.Header != nil &&
			tile.Header.X == x &&
			tile.Header.Y == y &&
			tile.Header.Layer == layer {
			return tile
		}
	}
	return nil
}

// GetTilesAt fills tiles with all layers stored at a grid coordinate and
// returns how many were found. Results past len(tiles) are dropped.
func (m *Mesh) GetTilesAt(x, y int32, tiles []*MeshTile) int {
	n := 0
	h := common.TileHash(x, y, m.tileLutMask)
	for tile := m.posLookup[h]; tile != nil; tile = tile.Next {
		if tile.Header != nil && tile.Header.X == x && tile.Header.Y == y {
			if n < len(tiles) {
				tiles[n] = tile
				n++
			}
		}
	}
	return n
}

// GetTileRefAt returns the reference of the tile at a grid coordinate and
// layer, or zero.
func (m *Mesh) GetTileRefAt(x, y, layer int32) TileRef {
	return m.GetTileRef(m.GetTileAt(x, y, layer))
}

// getNeighbourTilesAt collects the tiles adjacent to cell (x, y) through a
// compass side.
func (m *Mesh) getNeighbourTilesAt(x, y, side int32, tiles []*MeshTile) int {
	nx, ny := x, y
	switch side {
	case 0:
		nx++
	case 1:
		nx++
		ny++
	case 2:
		ny++
	case 3:
		nx--
		ny++
	case 4:
		nx--
	case 5:
		nx--
		ny--
	case 6:
		ny--
	case 7:
		nx++
		ny--
	}
	return m.GetTilesAt(nx, ny, tiles)
}

// GetTileAndPolyByRef resolves a polygon reference into its tile and polygon.
func (m *Mesh) GetTileAndPolyByRef(ref PolyRef) (*MeshTile, *Poly, Status) {
	if ref == 0 {
		return nil, nil, Failure
	}
	salt, it, ip := m.DecodePolyID(ref)
	if it >= uint32(m.maxTiles) {
		return nil, nil, Failure | InvalidParam
	}
	if m.tiles[it].Salt != salt || m.tiles[it].Header == nil {
		return nil, nil, Failure | InvalidParam
	}
	if ip >= uint32(m.tiles[it].Header.PolyCount) {
		return nil, nil, Failure | InvalidParam
	}
	return &m.tiles[it], &m.tiles[it].Polys[ip], Success
}

// GetTileAndPolyByRefUnsafe resolves a reference the caller has already
// validated.
func (m *Mesh) GetTileAndPolyByRefUnsafe(ref PolyRef) (*MeshTile, *Poly) {
	_, it, ip := m.DecodePolyID(ref)
	return &m.tiles[it], &m.tiles[it].Polys[ip]
}

// IsValidPolyRef reports whether a reference currently resolves: its slot is
// occupied, the salt matches and the polygon index is in range.
func (m *Mesh) IsValidPolyRef(ref PolyRef) bool {
	if ref == 0 {
		return false
	}
	salt, it, ip := m.DecodePolyID(ref)
	if it >= uint32(m.maxTiles) {
		return false
	}
	if m.tiles[it].Salt != salt || m.tiles[it].Header == nil {
		return false
	}
	return ip < uint32(m.tiles[it].Header.PolyCount)
}

// AddTile adds a tile at the grid location named by its header and wires its
// polygons to the surrounding tiles. Passing a non-zero lastRef restores the
// tile to the exact slot and generation it had before a RemoveTile, so that
// references held across the remove stay valid.
//
// With TileFreeData in flags the mesh takes ownership of data; the caller
// must not touch it afterwards.
func (m *Mesh) AddTile(data *TileData, flags TileFlags, lastRef TileRef) (TileRef, Status) {
	if data == nil || data.Header == nil {
		return 0, Failure | InvalidParam
	}
	header := data.Header
	if header.Magic != NavMeshMagic {
		return 0, Failure | WrongMagic
	}
	if header.Version != NavMeshVersion {
		return 0, Failure | WrongVersion
	}

	// Do not allow adding more polygons than the reference layout can
	// address.
	if m.polyBits < common.Ilog2(common.NextPow2(uint32(header.PolyCount))) {
		return 0, Failure | InvalidParam
	}

	// Make sure the location is free.
	if m.GetTileAt(header.X, header.Y, header.Layer) != nil {
		return 0, Failure | AlreadyOccupied
	}

	var tile *MeshTile
	if lastRef == 0 {
		if m.nextFree != nil {
			tile = m.nextFree
			m.nextFree = tile.Next
			tile.Next = nil
		}
	} else {
		// Try to relocate the tile to the slot the old reference named.
		tileIndex := m.DecodePolyIDTile(PolyRef(lastRef))
		if tileIndex >= uint32(m.maxTiles) {
			return 0, Failure | OutOfMemory
		}
		target := &m.tiles[tileIndex]
		var prev *MeshTile
		tile = m.nextFree
		for tile != nil && tile != target {
			prev = tile
			tile = tile.Next
		}
		// Could not find the correct location.
		if tile != target {
			return 0, Failure | OutOfMemory
		}
		if prev == nil {
			m.nextFree = tile.Next
		} else {
			prev.Next = tile.Next
		}
		tile.Next = nil
		// Restore salt so the old references resolve again.
		tile.Salt = m.DecodePolyIDSalt(PolyRef(lastRef))
	}

	// Make sure we could allocate a tile.
	if tile == nil {
		return 0, Failure | OutOfMemory
	}

	// Insert tile into the position lut.
	h := common.TileHash(header.X, header.Y, m.tileLutMask)
	tile.Next = m.posLookup[h]
	m.posLookup[h] = tile

	tile.Verts = data.Verts
	tile.Polys = data.Polys
	tile.Links = make([]Link, header.MaxLinkCount)
	tile.DetailMeshes = data.DetailMeshes
	tile.DetailVerts = data.DetailVerts
	tile.DetailTris = data.DetailTris
	tile.BvTree = data.BvTree
	tile.OffMeshCons = data.OffMeshCons

	// Build links freelist.
	tile.LinksFreeList = NullLink
	if len(tile.Links) > 0 {
		tile.LinksFreeList = 0
		tile.Links[len(tile.Links)-1].Next = NullLink
		for i := 0; i < len(tile.Links)-1; i++ {
			tile.Links[i].Next = uint32(i + 1)
		}
	}

	// Init tile.
	tile.Header = header
	tile.Data = data
	tile.Flags = flags

	m.connectIntLinks(tile)

	// Base off-mesh connections to their starting polygons and connect
	// connections inside the tile.
	m.baseOffMeshLinks(tile)
	m.connectExtOffMeshLinks(tile, tile, -1)

	var neis [maxLayerTiles]*MeshTile

	// Connect with layers in current tile.
	nneis := m.GetTilesAt(header.X, header.Y, neis[:])
	for j := 0; j < nneis; j++ {
		if neis[j] == tile {
			continue
		}
		m.connectExtLinks(tile, neis[j], -1)
		m.connectExtLinks(neis[j], tile, -1)
		m.connectExtOffMeshLinks(tile, neis[j], -1)
		m.connectExtOffMeshLinks(neis[j], tile, -1)
	}

	// Connect with neighbour tiles.
	for i := int32(0); i < 8; i++ {
		nneis = m.getNeighbourTilesAt(header.X, header.Y, i, neis[:])
		for j := 0; j < nneis; j++ {
			m.connectExtLinks(tile, neis[j], i)
			m.connectExtLinks(neis[j], tile, common.OppositeTile(i))
			m.connectExtOffMeshLinks(tile, neis[j], i)
			m.connectExtOffMeshLinks(neis[j], tile, common.OppositeTile(i))
		}
	}

	return m.GetTileRef(tile), Success
}

// RemoveTile removes the referenced tile, unwiring every neighbour link into
// it first. When the caller owns the tile data it is handed back; when the
// mesh owns it (TileFreeData) nil is returned and the data is dropped.
func (m *Mesh) RemoveTile(ref TileRef) (*TileData, Status) {
	if ref == 0 {
		return nil, Failure | InvalidParam
	}
	tileIndex := m.DecodePolyIDTile(PolyRef(ref))
	tileSalt := m.DecodePolyIDSalt(PolyRef(ref))
	if tileIndex >= uint32(m.maxTiles) {
		return nil, Failure | InvalidParam
	}
	tile := &m.tiles[tileIndex]
	if tile.Salt != tileSalt {
		return nil, Failure | InvalidParam
	}
	if tile.Header == nil {
		return nil, Failure | InvalidParam
	}

	// Remove tile from hash lookup.
	h := common.TileHash(tile.Header.X, tile.Header.Y, m.tileLutMask)
	var prev *MeshTile
	cur := m.posLookup[h]
	for cur != nil {
		if cur == tile {
			if prev != nil {
				prev.Next = cur.Next
			} else {
				m.posLookup[h] = cur.Next
			}
			break
		}
		prev = cur
		cur = cur.Next
	}

	var neis [maxLayerTiles]*MeshTile

	// Disconnect from other layers in current tile.
	nneis := m.GetTilesAt(tile.Header.X, tile.Header.Y, neis[:])
	for j := 0; j < nneis; j++ {
		if neis[j] == tile {
			continue
		}
		m.unconnectLinks(neis[j], tile)
	}

	// Disconnect from neighbour tiles.
	for i := int32(0); i < 8; i++ {
		nneis = m.getNeighbourTilesAt(tile.Header.X, tile.Header.Y, i, neis[:])
		for j := 0; j < nneis; j++ {
			m.unconnectLinks(neis[j], tile)
		}
	}

	// Reset tile.
	var data *TileData
	if tile.Flags&TileFreeData != 0 {
		// Owned by the mesh; drop it.
		tile.Data = nil
	} else {
		data = tile.Data
	}
	tile.Header = nil
	tile.Flags = 0
	tile.LinksFreeList = 0
	tile.Polys = nil
	tile.Verts = nil
	tile.Links = nil
	tile.DetailMeshes = nil
	tile.DetailVerts = nil
	tile.DetailTris = nil
	tile.BvTree = nil
	tile.OffMeshCons = nil
	tile.Data = nil

	// Update salt, salt should never be zero.
	tile.Salt = (tile.Salt + 1) & (uint32(1)<<m.saltBits - 1)
	if tile.Salt == 0 {
		tile.Salt++
	}

	// Add to free list.
	tile.Next = m.nextFree
	m.nextFree = tile

	return data, Success
}

// SetPolyFlags overwrites the flags of the referenced polygon.
func (m *Mesh) SetPolyFlags(ref PolyRef, flags uint16) Status {
	tile, poly, status := m.resolvePoly(ref)
	if status.Failed() {
		return status
	}
	_ = tile
	poly.Flags = flags
	return Success
}

// GetPolyFlags reads the flags of the referenced polygon.
func (m *Mesh) GetPolyFlags(ref PolyRef) (uint16, Status) {
	_, poly, status := m.resolvePoly(ref)
	if status.Failed() {
		return 0, status
	}
	return poly.Flags, Success
}

// SetPolyArea overwrites the area id of the referenced polygon.
func (m *Mesh) SetPolyArea(ref PolyRef, area uint8) Status {
	_, poly, status := m.resolvePoly(ref)
	if status.Failed() {
		return status
	}
	poly.SetArea(area)
	return Success
}

// GetPolyArea reads the area id of the referenced polygon.
func (m *Mesh) GetPolyArea(ref PolyRef) (uint8, Status) {
	_, poly, status := m.resolvePoly(ref)
	if status.Failed() {
		return 0, status
	}
	return poly.Area(), Success
}

func (m *Mesh) resolvePoly(ref PolyRef) (*MeshTile, *Poly, Status) {
	if ref == 0 {
		return nil, nil, Failure
	}
	salt, it, ip := m.DecodePolyID(ref)
	if it >= uint32(m.maxTiles) {
		return nil, nil, Failure | InvalidParam
	}
	tile := &m.tiles[it]
	if tile.Salt != salt || tile.Header == nil {
		return nil, nil, Failure | InvalidParam
	}
	if ip >= uint32(tile.Header.PolyCount) {
		return nil, nil, Failure | InvalidParam
	}
	return tile, &tile.Polys[ip], Success
}

// GetOffMeshConnectionPolyEndPoints returns the endpoints of an off-mesh
// connection polygon ordered for travel out of prevRef.
func (m *Mesh) GetOffMeshConnectionPolyEndPoints(prevRef, polyRef PolyRef) (start, end mgl32.Vec3, status Status) {
	if polyRef == 0 {
		return start, end, Failure
	}
	tile, poly, st := m.resolvePoly(polyRef)
	if st.Failed() {
		return start, end, st
	}
	if poly.Type() != PolyTypeOffMeshConnection {
		return start, end, Failure
	}

	idx0, idx1 := 0, 1
	// The connection's own link at edge 0 points to the polygon its start
	// endpoint was based into; arriving from anywhere else flips it.
	for i := poly.FirstLink; i != NullLink; i = tile.Links[i].Next {
		if tile.Links[i].Edge == 0 {
			if tile.Links[i].Ref != prevRef {
				idx0, idx1 = 1, 0
			}
			break
		}
	}

	copy(start[:], tile.Verts[poly.Verts[idx0]*3:poly.Verts[idx0]*3+3])
	copy(end[:], tile.Verts[poly.Verts[idx1]*3:poly.Verts[idx1]*3+3])
	return start, end, Success
}

// GetOffMeshConnectionByRef returns the connection record stored for an
// off-mesh connection polygon, or nil.
func (m *Mesh) GetOffMeshConnectionByRef(ref PolyRef) *OffMeshConnection {
	if ref == 0 {
		return nil
	}
	tile, poly, status := m.resolvePoly(ref)
	if status.Failed() {
		return nil
	}
	if poly.Type() != PolyTypeOffMeshConnection {
		return nil
	}
	_, _, ip := m.DecodePolyID(ref)
	idx := ip - uint32(tile.Header.OffMeshBase)
	if idx >= uint32(tile.Header.OffMeshConCount) {
		return nil
	}
	return &tile.OffMeshCons[idx]
}

// maxLayerTiles bounds how many stacked layers and border neighbours a
// single connect pass considers.
const maxLayerTiles = 32

func allocLink(tile *MeshTile) uint32 {
	if tile.LinksFreeList == NullLink {
		return NullLink
	}
	link := tile.LinksFreeList
	tile.LinksFreeList = tile.Links[link].Next
	return link
}

func freeLink(tile *MeshTile, link uint32) {
	tile.Links[link].Next = tile.LinksFreeList
	tile.LinksFreeList = link
}
