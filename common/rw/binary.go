// Package rw implements the little-endian binary framing shared by the tile
// and mesh-set codecs.
package rw

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is reported by a reader that ran past the end of its data.
var ErrShortBuffer = errors.New("rw: short buffer")

// Writer accumulates little-endian values.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) WriteUint8(v uint8)  { w.buf = append(w.buf, v) }
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteUint8s(vs []uint8) { w.buf = append(w.buf, vs...) }

func (w *Writer) WriteUint16s(vs []uint16) {
	for _, v := range vs {
		w.WriteUint16(v)
	}
}

func (w *Writer) WriteFloat32s(vs []float32) {
	for _, v := range vs {
		w.WriteFloat32(v)
	}
}

// Pad appends n zero bytes.
func (w *Writer) Pad(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the accumulated buffer. The writer keeps ownership.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes little-endian values from a byte slice. Reads past the end
// return zero values and latch a sticky error, so a parser can run its whole
// field sequence and check Err once.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader { return &Reader{data: data} }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

func (r *Reader) ReadUint8s(vs []uint8) {
	b := r.take(len(vs))
	if b != nil {
		copy(vs, b)
	}
}

func (r *Reader) ReadUint16s(vs []uint16) {
	for i := range vs {
		vs[i] = r.ReadUint16()
	}
}

func (r *Reader) ReadFloat32s(vs []float32) {
	for i := range vs {
		vs[i] = r.ReadFloat32()
	}
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) { r.take(n) }

// Rest returns the unread remainder without consuming it.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.data[r.off:]
}

func (r *Reader) Off() int { return r.off }

// Err reports whether any read ran past the end of the buffer.
func (r *Reader) Err() error { return r.err }
