// Package heap implements the kernel's fixed-region heap allocator used to
// back dynamically-sized thread stacks (C2). It is a first-fit allocator
// over a single pre-sized byte region, with an address-ordered free list,
// one-word size headers, split-on-free, and neighbor coalescing — the Go
// analogue of the source's static-region arena allocator.
package heap

import "fmt"

const headerSize = 8 // one 64-bit size header, word-aligned
const alignment = 8

// Heap is a fixed-size arena carved out of a single byte slice at
// construction. It never grows.
type Heap struct {
	region []byte
	free   []freeBlock // address-ordered
}

type freeBlock struct {
	offset int
	size   int // usable bytes, excludes header
}

// New carves a heap out of a region of the given size, word-aligned.
func New(size int) *Heap {
	size = alignUp(size)
	h := &Heap{region: make([]byte, size)}
	if size > headerSize {
		h.free = []freeBlock{{offset: 0, size: size - headerSize}}
	}
	return h
}

func alignUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Alloc returns a slice of at least size usable bytes carved from the
// region, or nil if no free block is large enough.
func (h *Heap) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	need := alignUp(size)

	for i, b := range h.free {
		if b.size < need {
			continue
		}
		remainder := b.size - need
		if remainder >= headerSize+alignment {
			// Split: keep the tail as a smaller free block.
			h.free[i] = freeBlock{offset: b.offset + headerSize + need, size: remainder - headerSize}
			h.writeHeader(b.offset, need)
			return h.region[b.offset+headerSize : b.offset+headerSize+size]
		}
		// Whole-block allocation; remainder too small to be useful on its own.
		h.free = append(h.free[:i], h.free[i+1:]...)
		h.writeHeader(b.offset, b.size)
		return h.region[b.offset+headerSize : b.offset+headerSize+size]
	}
	return nil
}

func (h *Heap) writeHeader(offset, size int) {
	putUint64(h.region[offset:offset+headerSize], uint64(size))
}

func (h *Heap) readHeader(offset int) int {
	return int(getUint64(h.region[offset : offset+headerSize]))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Free releases a slice previously returned by Alloc. Out-of-region
// pointers are ignored. Freeing the same slice twice is ignored (detected
// by scanning the free list for the block's offset, per §4.2).
func (h *Heap) Free(p []byte) {
	offset, ok := h.offsetOf(p)
	if !ok {
		return
	}
	headerOffset := offset - headerSize
	if headerOffset < 0 {
		return
	}
	for _, b := range h.free {
		if b.offset == headerOffset {
			return // double free, silently ignored
		}
	}
	size := h.readHeader(headerOffset)
	h.insertCoalesced(headerOffset, size)
}

func (h *Heap) offsetOf(p []byte) (int, bool) {
	if len(p) == 0 {
		return 0, false
	}
	base := addr(h.region)
	pa := addr(p)
	if pa < base || pa >= base+uintptrLen(h.region) {
		return 0, false
	}
	return int(pa - base), true
}

func (h *Heap) insertCoalesced(offset, size int) {
	idx := 0
	for idx < len(h.free) && h.free[idx].offset < offset {
		idx++
	}
	nb := freeBlock{offset: offset, size: size}

	// Coalesce with the following neighbor if adjacent.
	if idx < len(h.free) {
		next := h.free[idx]
		if offset+headerSize+size == next.offset {
			nb.size = nb.size + headerSize + next.size
			h.free = append(h.free[:idx], h.free[idx+1:]...)
		}
	}
	// Coalesce with the preceding neighbor if adjacent.
	if idx > 0 {
		prev := h.free[idx-1]
		if prev.offset+headerSize+prev.size == nb.offset {
			nb.offset = prev.offset
			nb.size = prev.size + headerSize + nb.size
			idx--
			h.free = append(h.free[:idx], h.free[idx+1:]...)
		}
	}

	h.free = append(h.free, freeBlock{})
	copy(h.free[idx+1:], h.free[idx:])
	h.free[idx] = nb
}

// Stats reports the total free bytes and the count of distinct free
// blocks, useful for tests asserting coalescing behavior.
func (h *Heap) Stats() (freeBytes, blocks int) {
	for _, b := range h.free {
		freeBytes += b.size
	}
	return freeBytes, len(h.free)
}

func (h *Heap) String() string {
	return fmt.Sprintf("heap{region=%dB free=%d blocks}", len(h.region), len(h.free))
}
