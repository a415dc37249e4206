package navmesh

import (
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
)

const (
	tileStateHeaderSize = 12
	polyStateWireSize   = 3
)

// TileStateSize returns the buffer size StoreTileState needs for the tile.
func (m *Mesh) TileStateSize(tile *MeshTile) int {
	if tile == nil || tile.Header == nil {
		return 0
	}
	headerSize := common.Align4(tileStateHeaderSize)
	polyStateSize := common.Align4(polyStateWireSize * int(tile.Header.PolyCount))
	return headerSize + polyStateSize
}

// StoreTileState snapshots the tile's per-polygon flags and area ids into
// data. The snapshot is keyed to the tile's current reference and can only
// be restored onto the same slot and generation.
func (m *Mesh) StoreTileState(tile *MeshTile, data []byte) Status {
	sizeReq := m.TileStateSize(tile)
	if len(data) < sizeReq {
		return Failure | BufferTooSmall
	}

	w := rw.NewWriter()
	w.WriteInt32(NavMeshStateMagic)
	w.WriteInt32(NavMeshStateVersion)
	w.WriteUint32(uint32(m.GetTileRef(tile)))

	for i := int32(0); i < tile.Header.PolyCount; i++ {
		p := &tile.Polys[i]
		w.WriteUint16(p.Flags)
		w.WriteUint8(p.Area())
	}
	w.Pad(sizeReq - w.Len())

	copy(data, w.Bytes())
	return Success
}

// RestoreTileState applies a snapshot taken by StoreTileState back onto the
// tile. The snapshot must have been taken from the same tile reference.
func (m *Mesh) RestoreTileState(tile *MeshTile, data []byte) Status {
	sizeReq := m.TileStateSize(tile)
	if len(data) < sizeReq {
		return Failure | InvalidParam
	}

	r := rw.NewReader(data)
	magic := r.ReadInt32()
	version := r.ReadInt32()
	ref := TileRef(r.ReadUint32())
	if magic != NavMeshStateMagic {
		return Failure | WrongMagic
	}
	if version != NavMeshStateVersion {
		return Failure | WrongVersion
	}
	if ref != m.GetTileRef(tile) {
		return Failure | InvalidParam
	}

	for i := int32(0); i < tile.Header.PolyCount; i++ {
		p := &tile.Polys[i]
		p.Flags = r.ReadUint16()
		p.SetArea(r.ReadUint8())
	}
	if r.Err() != nil {
		return Failure | InvalidParam
	}
	return Success
}
