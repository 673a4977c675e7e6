package docstore

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/blevesearch/mmap-go"
)

// Reader maps a store read-only and indexes record offsets on open.
type Reader struct {
	file    *os.File
	mm      mmap.MMap
	offsets []int
}

func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	r := &Reader{file: file}
	// an empty file cannot be mapped
	if info.Size() == 0 {
		return r, nil
	}

	r.mm, err = mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := r.index(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) index() error {
	for off := 0; off < len(r.mm); {
		size, n := binary.Uvarint(r.mm[off:])
		if n <= 0 || uint64(len(r.mm)-off-n) < size {
			return fmt.Errorf("docstore: corrupt record at offset %d", off)
		}
		r.offsets = append(r.offsets, off)
		off += n + int(size)
	}
	return nil
}

// Get returns a copy of the record with the given sequence number.
func (r *Reader) Get(seq uint32) ([]byte, error) {
	if int(seq) >= len(r.offsets) {
		return nil, fmt.Errorf("%w: seq %d", ErrNotFound, seq)
	}
	off := r.offsets[seq]
	size, n := binary.Uvarint(r.mm[off:])
	out := make([]byte, size)
	copy(out, r.mm[off+n:])
	return out, nil
}

func (r *Reader) Len() int {
	return len(r.offsets)
}

func (r *Reader) Close() error {
	if r.mm != nil {
		if err := r.mm.Unmap(); err != nil {
			r.file.Close()
			return err
		}
	}
	return r.file.Close()
}
