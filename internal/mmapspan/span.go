// Package mmapspan represents byte ranges backed by a read-only memory
// mapping. Ownership of a mapping lives with the Chunk Store, not with
// the Span: dispatch copies span bytes into an outbound frame
// synchronously before yielding, so Span is a plain value type with no
// reference counting — the store unmaps a file only after removing its
// entry from the index, by which point no copy can still be in flight.
//
// golang.org/x/sys/unix is used for the mmap/munmap syscalls rather than
// a hand-rolled wrapper: it is the ecosystem's standard low-level mmap
// primitive.
package mmapspan

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is one mmap'd file's backing bytes.
type Mapping struct {
	data []byte
}

// Span is a (mapping, offset, length) view into memory-mapped bytes.
type Span struct {
	mapping *Mapping
	offset  int
	length  int
}

// MapFile memory-maps the whole file at path read-only and returns a Span
// covering it plus the Mapping so the caller can Unmap it later.
func MapFile(path string) (Span, *Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return Span{}, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Span{}, nil, err
	}
	size := info.Size()
	if size == 0 {
		m := &Mapping{}
		return Span{mapping: m}, m, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Span{}, nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	m := &Mapping{data: data}
	return Span{mapping: m, offset: 0, length: len(data)}, m, nil
}

// Bytes returns the span's bytes. Valid only until the owning Mapping is
// unmapped.
func (s Span) Bytes() []byte {
	if s.mapping == nil {
		return nil
	}
	return s.mapping.data[s.offset : s.offset+s.length]
}

// Len returns the span's length in bytes.
func (s Span) Len() int { return s.length }

// Valid reports whether the span refers to a mapping.
func (s Span) Valid() bool { return s.mapping != nil }

// Unmap releases the mapping's bytes back to the OS. Safe to call once
// per Mapping, after every Span derived from it has been dropped by its
// owner (the Chunk Store guarantees this by only calling Unmap when it
// removes the entry from its index).
func (m *Mapping) Unmap() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
