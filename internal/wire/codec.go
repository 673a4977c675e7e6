// Package wire is the binary encoding of partial and merged results exchanged
// between shard nodes, the coordinator and the result cache.
//
// Both messages start with a one byte tag, the result label, from and size as
// uvarints and the sort criteria (a zero field count means score order).
// Integers are uvarints, floats are little-endian IEEE 754 bits and strings
// and byte blobs are uvarint length prefixed.
package wire

import (
	"errors"
	"fmt"

	"turbo-tophits/internal/apperror"
	"turbo-tophits/internal/hits"
)

// ErrDecode is the cause of every decoding failure.
var ErrDecode = errors.New("malformed message")

const (
	tagPartial byte = 'P'
	tagMerged  byte = 'M'

	flagFinal byte = 1 << 0

	// smallest possible encodings, used to bound counts before allocating
	minSortField = 3
	minEntry     = 10
	minPayload   = 12
	minHit       = minEntry + 1 + minPayload
)

func decodeError(off int, format string, args ...any) error {
	return apperror.Wrap(ErrDecode, apperror.KindDecode, "decode", fmt.Sprintf(format, args...)).
		With("offset", off)
}

func encodeError(message string) error {
	return apperror.New(apperror.KindValidation, "encode", message)
}

func checkWindow(from, size int) error {
	if from < 0 || size < 0 {
		return encodeError("from and size must be non-negative")
	}
	if from > maxInt || size > maxInt {
		return encodeError("from or size out of range")
	}
	return nil
}

// EncodePartial serializes one shard result.
func EncodePartial(p *hits.PartialResult) ([]byte, error) {
	if err := checkWindow(p.From, p.Size); err != nil {
		return nil, err
	}
	w := &writer{buf: make([]byte, 0, 64+len(p.Entries)*32)}
	w.writeByte(tagPartial)
	w.writeHeader(p.Name, p.From, p.Size, p.Sort)

	var flags byte
	if p.Final {
		flags |= flagFinal
	}
	w.writeByte(flags)
	w.writeUvarint(p.TotalMatched)
	w.writeFloat(p.MaxScore)

	w.writeCount(len(p.Entries))
	for _, e := range p.Entries {
		w.writeEntry(e)
	}
	w.writeCount(len(p.Payloads))
	for _, pl := range p.Payloads {
		w.writePayload(pl)
	}
	return w.buf, nil
}

// DecodePartial parses a message produced by EncodePartial. It returns either
// a complete result or an error wrapping ErrDecode.
func DecodePartial(b []byte) (*hits.PartialResult, error) {
	r := &reader{buf: b}
	if tag := r.readByte(); r.err == nil && tag != tagPartial {
		r.fail("unexpected message tag %q", tag)
	}
	p := &hits.PartialResult{}
	p.Name, p.From, p.Size, p.Sort = r.readHeader()

	flags := r.readByte()
	if flags&^flagFinal != 0 {
		r.fail("unknown flags %#x", flags)
	}
	p.Final = flags&flagFinal != 0
	p.TotalMatched = r.readUvarint()
	p.MaxScore = r.readFloat()

	if n := r.readCount(minEntry); n > 0 {
		p.Entries = make([]hits.RankedEntry, n)
		for i := range p.Entries {
			p.Entries[i] = r.readEntry()
		}
	}
	if n := r.readCount(minPayload); n > 0 {
		p.Payloads = make([]hits.HitPayload, n)
		for i := range p.Payloads {
			p.Payloads[i] = r.readPayload()
		}
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeMerged serializes a reduced result. Unlike a partial, each hit keeps
// the shard ordinal assigned during the merge.
func EncodeMerged(m *hits.MergedResult) ([]byte, error) {
	if err := checkWindow(m.From, m.Size); err != nil {
		return nil, err
	}
	w := &writer{buf: make([]byte, 0, 64+len(m.Hits)*64)}
	w.writeByte(tagMerged)
	w.writeHeader(m.Name, m.From, m.Size, m.Sort)
	w.writeUvarint(m.TotalMatched)
	w.writeFloat(m.MaxScore)

	w.writeCount(len(m.Hits))
	for _, h := range m.Hits {
		if h.Entry.ShardIndex < 0 || h.Entry.ShardIndex > maxInt {
			return nil, encodeError("shard ordinal out of range")
		}
		w.writeEntry(h.Entry)
		w.writeCount(h.Entry.ShardIndex)
		w.writePayload(h.Payload)
	}
	return w.buf, nil
}

// DecodeMerged parses a message produced by EncodeMerged.
func DecodeMerged(b []byte) (*hits.MergedResult, error) {
	r := &reader{buf: b}
	if tag := r.readByte(); r.err == nil && tag != tagMerged {
		r.fail("unexpected message tag %q", tag)
	}
	m := &hits.MergedResult{}
	m.Name, m.From, m.Size, m.Sort = r.readHeader()
	m.TotalMatched = r.readUvarint()
	m.MaxScore = r.readFloat()

	if n := r.readCount(minHit); n > 0 {
		m.Hits = make([]hits.Hit, n)
		for i := range m.Hits {
			e := r.readEntry()
			e.ShardIndex = r.readInt()
			m.Hits[i] = hits.Hit{Entry: e, Payload: r.readPayload()}
		}
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func (w *writer) writeHeader(name string, from, size int, sort *hits.Sort) {
	w.writeString(name)
	w.writeCount(from)
	w.writeCount(size)
	w.writeCount(sort.Len())
	if sort.IsScoreOnly() {
		return
	}
	for _, f := range sort.Fields {
		w.writeString(f.Field)
		w.writeByte(byte(f.Type))
		w.writeBool(f.Reverse)
	}
}

func (w *writer) writeEntry(e hits.RankedEntry) {
	w.writeFloat(e.Score)
	w.writeSortValues(e.SortKey)
	w.writeUvarint(e.DocRef)
}

func (w *writer) writePayload(p hits.HitPayload) {
	w.writeString(p.ID)
	w.writeString(p.Index)
	w.writeFloat(p.Score)
	w.writeSortValues(p.Sort)
	w.writeBytes(p.Source)
}

func (r *reader) readHeader() (name string, from, size int, sort *hits.Sort) {
	name = r.readString()
	from = r.readInt()
	size = r.readInt()
	n := r.readCount(minSortField)
	if r.err != nil || n == 0 {
		return name, from, size, nil
	}
	sort = &hits.Sort{Fields: make([]hits.SortField, n)}
	for i := range sort.Fields {
		f := hits.SortField{Field: r.readString()}
		f.Type = hits.SortType(r.readByte())
		if r.err == nil && !f.Type.Valid() {
			r.fail("unknown sort type %d", f.Type)
		}
		f.Reverse = r.readBool()
		sort.Fields[i] = f
	}
	return name, from, size, sort
}

func (r *reader) readEntry() hits.RankedEntry {
	var e hits.RankedEntry
	e.Score = r.readFloat()
	e.SortKey = r.readSortValues()
	e.DocRef = r.readUvarint()
	return e
}

func (r *reader) readPayload() hits.HitPayload {
	var p hits.HitPayload
	p.ID = r.readString()
	p.Index = r.readString()
	p.Score = r.readFloat()
	p.Sort = r.readSortValues()
	p.Source = r.readRaw()
	return p
}

// finish reports the first fault, or trailing bytes after a complete message.
func (r *reader) finish() error {
	if r.err == nil && r.remaining() != 0 {
		r.fail("%d trailing bytes", r.remaining())
	}
	return r.err
}
