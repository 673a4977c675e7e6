// Package docstore keeps the source payload of every document a shard holds,
// addressed by the shard-local sequence number assigned at indexing time.
//
// The file is a run of records, each a uvarint length followed by the raw
// source bytes. Sequence numbers are record ordinals.
package docstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

var (
	ErrFull     = errors.New("docstore capacity exhausted")
	ErrNotFound = errors.New("document not found")
)

// Writer appends records into a file pre-sized to its capacity and mapped
// read-write. Close truncates the file to the bytes actually used.
type Writer struct {
	file *os.File
	mm   mmap.MMap
	off  int
	next uint32
}

func Create(path string, capacity int) (*Writer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("docstore capacity must be positive, got %d", capacity)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(int64(capacity)); err != nil {
		file.Close()
		return nil, err
	}
	mm, err := mmap.MapRegion(file, capacity, mmap.RDWR, 0, 0)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Writer{file: file, mm: mm}, nil
}

// Append stores src and returns its sequence number.
func (w *Writer) Append(src []byte) (uint32, error) {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(src)))
	if w.off+n+len(src) > len(w.mm) {
		return 0, fmt.Errorf("%w: %d bytes used of %d", ErrFull, w.off, len(w.mm))
	}
	w.off += copy(w.mm[w.off:], hdr[:n])
	w.off += copy(w.mm[w.off:], src)

	seq := w.next
	w.next++
	return seq, nil
}

func (w *Writer) Path() string {
	return w.file.Name()
}

// Len returns the number of records appended so far.
func (w *Writer) Len() int {
	return int(w.next)
}

func (w *Writer) Close() error {
	if err := w.mm.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.mm.Unmap(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Truncate(int64(w.off)); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
