// Package arena implements the chunked bump allocator described in §4.1 of
// the scan core spec: a monotonically growing region that hands out stable
// references (never copied or moved) and supports a self-describing
// save/load round trip.
//
// Unlike a C arena, a Ref here is a logical byte offset from the start of
// the arena rather than a host pointer, so "fixing up pointers after
// reload at a different host address" is free: offsets are
// address-space-independent by construction. Chunk boundaries are
// invisible to callers — NextAddress walks fixed-width records across them
// transparently, exactly like the original yr_arena_next_address.
package arena

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/scanforge/yaracore/pkg/yaraerr"
)

// Ref is a stable logical reference into an Arena. The zero value refers to
// the arena's first byte; use NilRef for "no reference".
type Ref uint64

// NilRef is the sentinel "no reference" value. Real allocations never reach
// it: a Ref is a byte offset, and no arena holds 2^64-1 bytes.
const NilRef Ref = ^Ref(0)

const (
	defaultChunkSize = 64 * 1024
	formatVersion    = uint32(1)
	magic            = uint32(0x59415241) // "YARA"
)

type chunk struct {
	start Ref // logical offset of chunk[0]
	data  []byte
}

// Arena is a chunked bump allocator. The zero value is not usable; use New.
type Arena struct {
	chunkSize int
	chunks    []chunk
	size      Ref // high-water mark == total bytes allocated so far
}

// New creates an Arena that grows in chunks of at least chunkSize bytes
// (rounded up for any single allocation larger than that).
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// Allocate reserves n bytes and returns a stable reference to them plus a
// slice viewing that memory directly (valid until the Arena is discarded).
// A single allocation never straddles a chunk boundary, which is what makes
// NextAddress's transparent hopping possible.
func (a *Arena) Allocate(n int) (Ref, []byte, error) {
	if n < 0 {
		return NilRef, nil, fmt.Errorf("arena: negative allocation size %d: %w", n, yaraerr.ErrInvalidArgument)
	}
	if n == 0 {
		return a.size, nil, nil
	}

	if len(a.chunks) == 0 || a.currentRemaining() < n {
		size := a.chunkSize
		if n > size {
			size = n
		}
		a.chunks = append(a.chunks, chunk{start: a.size, data: make([]byte, 0, size)})
	}

	c := &a.chunks[len(a.chunks)-1]
	ref := c.start + Ref(len(c.data))
	c.data = c.data[:len(c.data)+n]
	a.size += Ref(n)

	return ref, c.data[ref-c.start : ref-c.start+Ref(n)], nil
}

func (a *Arena) currentRemaining() int {
	if len(a.chunks) == 0 {
		return 0
	}
	c := &a.chunks[len(a.chunks)-1]
	return cap(c.data) - len(c.data)
}

// BaseAddress returns the reference to the first byte ever allocated. The
// ruleset container places its fixed header there.
func (a *Arena) BaseAddress() Ref {
	return 0
}

// Size returns the high-water mark: total bytes allocated.
func (a *Arena) Size() Ref {
	return a.size
}

// At returns the n-byte slice at ref, or an error if the range is not
// entirely contained in one allocation chunk or falls outside the arena.
func (a *Arena) At(ref Ref, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	idx := a.chunkIndex(ref)
	if idx < 0 {
		return nil, fmt.Errorf("arena: reference %d out of bounds: %w", ref, yaraerr.ErrInvalidArgument)
	}
	c := &a.chunks[idx]
	off := ref - c.start
	if off < 0 || int(off)+n > len(c.data) {
		return nil, fmt.Errorf("arena: range [%d,%d) escapes its chunk: %w", ref, uint64(ref)+uint64(n), yaraerr.ErrInvalidArgument)
	}
	return c.data[off : off+Ref(n)], nil
}

// NextAddress walks fixed-width records of the given stride as if the arena
// were one contiguous array, returning NilRef once prev+stride reaches the
// high-water mark. prev must be a reference previously produced by this
// arena (or Allocate's returned ref for the first record).
func (a *Arena) NextAddress(prev Ref, stride int) Ref {
	next := prev + Ref(stride)
	if next >= a.size {
		return NilRef
	}
	return next
}

// chunkIndex finds the chunk containing ref via binary search over chunk
// start offsets (chunks are appended in increasing-offset order).
func (a *Arena) chunkIndex(ref Ref) int {
	i := sort.Search(len(a.chunks), func(i int) bool {
		return a.chunks[i].start > ref
	})
	i--
	if i < 0 || i >= len(a.chunks) {
		return -1
	}
	return i
}

// Save writes a self-describing dump of the arena: a small header (magic,
// format version, total size) followed by the bytes of every chunk in
// order. Because references are offsets rather than host pointers, no
// fixup table is required — Load reconstructs byte-identical Refs.
func (a *Arena) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(a.size)); err != nil {
		return err
	}
	var written Ref
	for _, c := range a.chunks {
		if _, err := bw.Write(c.data); err != nil {
			return err
		}
		written += Ref(len(c.data))
	}
	if written != a.size {
		return fmt.Errorf("arena: internal inconsistency, wrote %d of %d bytes", written, a.size)
	}
	return bw.Flush()
}

// Load reads a stream produced by Save. It rejects streams whose magic or
// format version does not match this runtime with ErrCorruptFile.
func Load(r io.Reader) (*Arena, error) {
	br := bufio.NewReader(r)

	var gotMagic, version uint32
	var size uint64

	if err := binary.Read(br, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("arena: reading magic: %w", yaraerr.ErrCorruptFile)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("arena: bad magic 0x%x: %w", gotMagic, yaraerr.ErrCorruptFile)
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("arena: reading version: %w", yaraerr.ErrCorruptFile)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("arena: unsupported format version %d: %w", version, yaraerr.ErrCorruptFile)
	}
	if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("arena: reading size: %w", yaraerr.ErrCorruptFile)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("arena: reading body: %w", yaraerr.ErrCorruptFile)
	}

	a := New(defaultChunkSize)
	if size > 0 {
		a.chunks = []chunk{{start: 0, data: data}}
		a.size = Ref(size)
	}
	return a, nil
}
