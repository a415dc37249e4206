package navmesh

import (
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
)

// Wire sizes of the serialized records. The layout is little-endian with
// each sub-array starting at a 4-byte aligned offset, in fixed order:
// header, verts, polys, links, detail meshes, detail verts, detail tris,
// BV nodes, off-mesh connections.
const (
	headerWireSize     = 100
	polyWireSize       = 32
	linkWireSize       = 12
	polyDetailWireSize = 10
	bvNodeWireSize     = 16
	offMeshConWireSize = 36
)

func writeHeader(w *rw.Writer, h *MeshHeader) {
	w.WriteInt32(h.Magic)
	w.WriteInt32(h.Version)
	w.WriteInt32(h.X)
	w.WriteInt32(h.Y)
	w.WriteInt32(h.Layer)
	w.WriteUint32(h.UserID)
	w.WriteInt32(h.PolyCount)
	w.WriteInt32(h.VertCount)
	w.WriteInt32(h.MaxLinkCount)
	w.WriteInt32(h.DetailMeshCount)
	w.WriteInt32(h.DetailVertCount)
	w.WriteInt32(h.DetailTriCount)
	w.WriteInt32(h.BvNodeCount)
	w.WriteInt32(h.OffMeshConCount)
	w.WriteInt32(h.OffMeshBase)
	w.WriteFloat32(h.WalkableHeight)
	w.WriteFloat32(h.WalkableRadius)
	w.WriteFloat32(h.WalkableClimb)
	w.WriteFloat32s(h.BMin[:])
	w.WriteFloat32s(h.BMax[:])
	w.WriteFloat32(h.BvQuantFactor)
}

func readHeader(r *rw.Reader) *MeshHeader {
	h := &MeshHeader{}
	h.Magic = r.ReadInt32()
	h.Version = r.ReadInt32()
	h.X = r.ReadInt32()
	h.Y = r.ReadInt32()
	h.Layer = r.ReadInt32()
	h.UserID = r.ReadUint32()
	h.PolyCount = r.ReadInt32()
	h.VertCount = r.ReadInt32()
	h.MaxLinkCount = r.ReadInt32()
	h.DetailMeshCount = r.ReadInt32()
	h.DetailVertCount = r.ReadInt32()
	h.DetailTriCount = r.ReadInt32()
	h.BvNodeCount = r.ReadInt32()
	h.OffMeshConCount = r.ReadInt32()
	h.OffMeshBase = r.ReadInt32()
	h.WalkableHeight = r.ReadFloat32()
	h.WalkableRadius = r.ReadFloat32()
	h.WalkableClimb = r.ReadFloat32()
	r.ReadFloat32s(h.BMin[:])
	r.ReadFloat32s(h.BMax[:])
	h.BvQuantFactor = r.ReadFloat32()
	return h
}

func writePoly(w *rw.Writer, p *Poly) {
	w.WriteUint32(p.FirstLink)
	w.WriteUint16s(p.Verts[:])
	w.WriteUint16s(p.Neis[:])
	w.WriteUint16(p.Flags)
	w.WriteUint8(p.VertCount)
	w.WriteUint8(p.areaAndType)
}

func readPoly(r *rw.Reader, p *Poly) {
	p.FirstLink = r.ReadUint32()
	r.ReadUint16s(p.Verts[:])
	r.ReadUint16s(p.Neis[:])
	p.Flags = r.ReadUint16()
	p.VertCount = r.ReadUint8()
	p.areaAndType = r.ReadUint8()
}

func writePolyDetail(w *rw.Writer, d *PolyDetail) {
	w.WriteUint32(d.VertBase)
	w.WriteUint32(d.TriBase)
	w.WriteUint8(d.VertCount)
	w.WriteUint8(d.TriCount)
}

func readPolyDetail(r *rw.Reader, d *PolyDetail) {
	d.VertBase = r.ReadUint32()
	d.TriBase = r.ReadUint32()
	d.VertCount = r.ReadUint8()
	d.TriCount = r.ReadUint8()
}

func writeBVNode(w *rw.Writer, n *BVNode) {
	w.WriteUint16s(n.BMin[:])
	w.WriteUint16s(n.BMax[:])
	w.WriteInt32(n.I)
}

func readBVNode(r *rw.Reader, n *BVNode) {
	r.ReadUint16s(n.BMin[:])
	r.ReadUint16s(n.BMax[:])
	n.I = r.ReadInt32()
}

func writeOffMeshCon(w *rw.Writer, c *OffMeshConnection) {
	w.WriteFloat32s(c.Pos[:])
	w.WriteFloat32(c.Rad)
	w.WriteUint16(c.Poly)
	w.WriteUint8(c.Flags)
	w.WriteUint8(c.Side)
	w.WriteUint32(c.UserID)
}

func readOffMeshCon(r *rw.Reader, c *OffMeshConnection) {
	r.ReadFloat32s(c.Pos[:])
	c.Rad = r.ReadFloat32()
	c.Poly = r.ReadUint16()
	c.Flags = r.ReadUint8()
	c.Side = r.ReadUint8()
	c.UserID = r.ReadUint32()
}

func pad4(w *rw.Writer, sectionSize int) {
	w.Pad(common.Align4(sectionSize) - sectionSize)
}

func skip4(r *rw.Reader, sectionSize int) {
	r.Skip(common.Align4(sectionSize) - sectionSize)
}

// Serialize encodes the tile into its binary buffer form. The link section
// is written as zeroed records: links are rebuilt when the tile is added to
// a mesh.
func (d *TileData) Serialize() []byte {
	w := rw.NewWriter()
	h := d.Header
	writeHeader(w, h)
	pad4(w, headerWireSize)

	w.WriteFloat32s(d.Verts)
	pad4(w, 4*len(d.Verts))

	for i := range d.Polys {
		writePoly(w, &d.Polys[i])
	}
	pad4(w, polyWireSize*len(d.Polys))

	w.Pad(common.Align4(linkWireSize * int(h.MaxLinkCount)))

	for i := range d.DetailMeshes {
		writePolyDetail(w, &d.DetailMeshes[i])
	}
	pad4(w, polyDetailWireSize*len(d.DetailMeshes))

	w.WriteFloat32s(d.DetailVerts)
	pad4(w, 4*len(d.DetailVerts))

	w.WriteUint8s(d.DetailTris)
	pad4(w, len(d.DetailTris))

	for i := range d.BvTree {
		writeBVNode(w, &d.BvTree[i])
	}
	pad4(w, bvNodeWireSize*len(d.BvTree))

	for i := range d.OffMeshCons {
		writeOffMeshCon(w, &d.OffMeshCons[i])
	}
	pad4(w, offMeshConWireSize*len(d.OffMeshCons))

	return w.Bytes()
}

// ParseTileData decodes a tile buffer produced by Serialize, splitting it
// into the header and sub-arrays. Fails with WrongMagic or WrongVersion on a
// foreign buffer and InvalidParam on a truncated or inconsistent one.
func ParseTileData(data []byte) (*TileData, Status) {
	r := rw.NewReader(data)
	h := readHeader(r)
	if r.Err() != nil {
		return nil, Failure | InvalidParam
	}
	if h.Magic != NavMeshMagic {
		return nil, Failure | WrongMagic
	}
	if h.Version != NavMeshVersion {
		return nil, Failure | WrongVersion
	}
	if h.PolyCount < 0 || h.VertCount < 0 || h.MaxLinkCount < 0 ||
		h.DetailMeshCount < 0 || h.DetailVertCount < 0 || h.DetailTriCount < 0 ||
		h.BvNodeCount < 0 || h.OffMeshConCount < 0 {
		return nil, Failure | InvalidParam
	}
	skip4(r, headerWireSize)

	d := &TileData{Header: h}

	d.Verts = make([]float32, 3*h.VertCount)
	r.ReadFloat32s(d.Verts)
	skip4(r, 4*len(d.Verts))

	d.Polys = make([]Poly, h.PolyCount)
	for i := range d.Polys {
		readPoly(r, &d.Polys[i])
	}
	skip4(r, polyWireSize*len(d.Polys))

	r.Skip(common.Align4(linkWireSize * int(h.MaxLinkCount)))

	d.DetailMeshes = make([]PolyDetail, h.DetailMeshCount)
	for i := range d.DetailMeshes {
		readPolyDetail(r, &d.DetailMeshes[i])
	}
	skip4(r, polyDetailWireSize*len(d.DetailMeshes))

	d.DetailVerts = make([]float32, 3*h.DetailVertCount)
	r.ReadFloat32s(d.DetailVerts)
	skip4(r, 4*len(d.DetailVerts))

	d.DetailTris = make([]uint8, 4*h.DetailTriCount)
	r.ReadUint8s(d.DetailTris)
	skip4(r, len(d.DetailTris))

	d.BvTree = make([]BVNode, h.BvNodeCount)
	for i := range d.BvTree {
		readBVNode(r, &d.BvTree[i])
	}
	skip4(r, bvNodeWireSize*len(d.BvTree))

	d.OffMeshCons = make([]OffMeshConnection, h.OffMeshConCount)
	for i := range d.OffMeshCons {
		readOffMeshCon(r, &d.OffMeshCons[i])
	}
	skip4(r, offMeshConWireSize*len(d.OffMeshCons))

	if r.Err() != nil {
		return nil, Failure | InvalidParam
	}
	return d, Success
}
