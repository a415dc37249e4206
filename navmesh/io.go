package navmesh

import (
	"fmt"

	"github.com/gorustyt/navtile/common/rw"
)

const (
	meshSetMagic   = 'M'<<24 | 'S'<<16 | 'E'<<8 | 'T'
	meshSetVersion = 1
)

// SaveMeshSet serializes the mesh layout and every loaded tile into one
// buffer. Tile references are stored alongside the tile payloads so a later
// LoadMeshSet hands out the same references.
func SaveMeshSet(m *Mesh) []byte {
	w := rw.NewWriter()

	numTiles := int32(0)
	for i := int32(0); i < m.GetMaxTiles(); i++ {
		tile := m.GetTile(int(i))
		if tile.Header == nil || tile.Data == nil {
			continue
		}
		numTiles++
	}

	w.WriteInt32(meshSetMagic)
	w.WriteInt32(meshSetVersion)
	w.WriteInt32(numTiles)
	writeMeshParams(w, m.GetParams())

	for i := int32(0); i < m.GetMaxTiles(); i++ {
		tile := m.GetTile(int(i))
		if tile.Header == nil || tile.Data == nil {
			continue
		}
		payload := tile.Data.Serialize()
		w.WriteUint32(uint32(m.GetTileRef(tile)))
		w.WriteInt32(int32(len(payload)))
		w.WriteUint8s(payload)
	}

	return w.Bytes()
}

// LoadMeshSet rebuilds a mesh from a SaveMeshSet buffer. Each tile is added
// back into the exact slot and generation its stored reference names, so
// references serialized elsewhere stay valid against the loaded mesh.
func LoadMeshSet(data []byte) (*Mesh, error) {
	r := rw.NewReader(data)
	magic := r.ReadInt32()
	version := r.ReadInt32()
	numTiles := r.ReadInt32()
	if r.Err() != nil {
		return nil, fmt.Errorf("read mesh set header: %w", r.Err())
	}
	if magic != meshSetMagic {
		return nil, fmt.Errorf("mesh set: wrong magic %#08x", magic)
	}
	if version != meshSetVersion {
		return nil, fmt.Errorf("mesh set: unsupported version %d", version)
	}

	var params Params
	readMeshParams(r, &params)
	if r.Err() != nil {
		return nil, fmt.Errorf("read mesh set params: %w", r.Err())
	}

	m, status := NewMesh(&params)
	if status.Failed() {
		return nil, fmt.Errorf("init mesh: %v", status)
	}

	for i := int32(0); i < numTiles; i++ {
		ref := TileRef(r.ReadUint32())
		size := r.ReadInt32()
		if r.Err() != nil {
			return nil, fmt.Errorf("read tile %d header: %w", i, r.Err())
		}
		if ref == 0 || size == 0 {
			break
		}
		payload := make([]byte, size)
		r.ReadUint8s(payload)
		if r.Err() != nil {
			return nil, fmt.Errorf("read tile %d payload: %w", i, r.Err())
		}

		td, status := ParseTileData(payload)
		if status.Failed() {
			return nil, fmt.Errorf("parse tile %d: %v", i, status)
		}
		if _, status := m.AddTile(td, TileFreeData, ref); status.Failed() {
			return nil, fmt.Errorf("add tile %d: %v", i, status)
		}
	}

	return m, nil
}

func writeMeshParams(w *rw.Writer, p *Params) {
	w.WriteFloat32s(p.Orig[:])
	w.WriteFloat32(p.TileWidth)
	w.WriteFloat32(p.TileHeight)
	w.WriteInt32(p.MaxTiles)
	w.WriteInt32(p.MaxPolys)
}

func readMeshParams(r *rw.Reader, p *Params) {
	r.ReadFloat32s(p.Orig[:])
	p.TileWidth = r.ReadFloat32()
	p.TileHeight = r.ReadFloat32()
	p.MaxTiles = r.ReadInt32()
	p.MaxPolys = r.ReadInt32()
}
