package wire

import (
	"encoding/binary"
	"math"
	"math/bits"

	"turbo-tophits/internal/hits"
)

// writer appends fields to a growing byte slice.
type writer struct {
	buf []byte
}

func (w *writer) writeByte(b byte)      { w.buf = append(w.buf, b) }
func (w *writer) writeUvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }
func (w *writer) writeVarint(v int64)   { w.buf = binary.AppendVarint(w.buf, v) }
func (w *writer) writeFloat(f float64)  { w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(f)) }
func (w *writer) writeCount(n int)      { w.writeUvarint(uint64(n)) }

func (w *writer) writeString(s string) {
	w.writeUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) writeBytes(b []byte) {
	w.writeUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) writeBool(b bool) {
	if b {
		w.writeByte(1)
		return
	}
	w.writeByte(0)
}

func (w *writer) writeSortValues(vs []hits.SortValue) {
	w.writeCount(len(vs))
	for _, v := range vs {
		w.writeByte(byte(v.Kind))
		switch v.Kind {
		case hits.KindString:
			w.writeString(v.Str)
		case hits.KindInt:
			w.writeVarint(v.Int)
		case hits.KindFloat:
			w.writeFloat(v.Float)
		}
	}
}

// reader consumes fields in order. The first failure sticks: every later call
// returns a zero value and err keeps the original fault.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = decodeError(r.off, format, args...)
	}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 1 {
		r.fail("truncated byte")
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) readUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("malformed uvarint")
		return 0
	}
	if n != uvarintLen(v) {
		r.fail("overlong uvarint")
		return 0
	}
	r.off += n
	return v
}

func (r *reader) readVarint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		r.fail("malformed varint")
		return 0
	}
	if n != varintLen(v) {
		r.fail("overlong varint")
		return 0
	}
	r.off += n
	return v
}

// uvarintLen is the length of the minimal encoding of v. Any other length
// would not survive a re-encode byte for byte.
func uvarintLen(v uint64) int {
	return max(1, (bits.Len64(v)+6)/7)
}

func varintLen(v int64) int {
	ux := uint64(v) << 1
	if v < 0 {
		ux = ^ux
	}
	return uvarintLen(ux)
}

func (r *reader) readFloat() float64 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 8 {
		r.fail("truncated float")
		return 0
	}
	bits := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return math.Float64frombits(bits)
}

// maxInt bounds from, size and shard ordinals on both sides of the codec.
const maxInt = math.MaxInt32

// readInt reads a uvarint that must fit a non-negative int.
func (r *reader) readInt() int {
	v := r.readUvarint()
	if v > maxInt {
		r.fail("integer %d out of range", v)
		return 0
	}
	return int(v)
}

// readCount reads an element count. Every element takes at least minSize bytes,
// so a count the remaining input cannot hold is rejected before allocating.
func (r *reader) readCount(minSize int) int {
	n := r.readUvarint()
	if r.err != nil {
		return 0
	}
	if n > uint64(r.remaining()/minSize) {
		r.fail("count %d exceeds remaining input", n)
		return 0
	}
	return int(n)
}

func (r *reader) readRaw() []byte {
	n := r.readCount(1)
	if r.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+n])
	r.off += n
	return b
}

func (r *reader) readString() string {
	return string(r.readRaw())
}

func (r *reader) readBool() bool {
	switch b := r.readByte(); b {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("invalid bool %d", b)
		return false
	}
}

func (r *reader) readSortValues() []hits.SortValue {
	n := r.readCount(1)
	if r.err != nil || n == 0 {
		return nil
	}
	vs := make([]hits.SortValue, n)
	for i := range vs {
		switch kind := hits.ValueKind(r.readByte()); kind {
		case hits.KindNull:
			vs[i] = hits.Null()
		case hits.KindString:
			vs[i] = hits.String(r.readString())
		case hits.KindInt:
			vs[i] = hits.Int(r.readVarint())
		case hits.KindFloat:
			vs[i] = hits.Float(r.readFloat())
		default:
			r.fail("unknown sort value kind %d", kind)
			return nil
		}
	}
	return vs
}
