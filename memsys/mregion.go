// Package memsys provides the pinned transmit memory arena and the
// scatter-gather-list types the packetizer and tx pipeline allocate from,
// plus a generic bounded object pool used for packet work requests and
// payload states.
package memsys

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mediaconduit/txcore/status"
)

// MRegion is a single, contiguous, page-aligned byte arena that the adapter
// registers with the datagram provider exactly once; every packet header
// buffer is allocated from here so the adapter never has to register a new
// memory region mid-flight. Allocation hands out fixed-size slots from a
// free-list, matching "pool grows to a bound, never shrinks under load".
type MRegion struct {
	mem      []byte
	slotSize int
	numSlots int
	free     []int32
	mu       sync.Mutex
}

// NewMRegion reserves numSlots slots of slotSize bytes each via an anonymous
// mmap and advises the kernel the region will be touched repeatedly
// (MADV_WILLNEED), the closest a pure-Go process can get to the "huge-page
// pinned" requirement without cgo.
func NewMRegion(slotSize, numSlots int) (*MRegion, error) {
	size := slotSize * numSlots
	if size <= 0 {
		return nil, status.New(status.InvalidParameter, "mregion size must be positive")
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, status.New(status.NotEnoughMemory, "mmap %d bytes: %v", size, err)
	}
	_ = unix.Madvise(b, unix.MADV_WILLNEED)

	r := &MRegion{
		mem:      b,
		slotSize: slotSize,
		numSlots: numSlots,
		free:     make([]int32, numSlots),
	}
	for i := range r.free {
		r.free[i] = int32(numSlots - 1 - i)
	}
	return r, nil
}

func (r *MRegion) SlotSize() int { return r.slotSize }
func (r *MRegion) NumSlots() int { return r.numSlots }

// Alloc hands out one free slot as a (slot handle, buffer) pair; ok is false
// when the region is exhausted, in which case the caller (packetizer) must
// treat this as a resumable "not ready" and retry after completions free
// slots.
func (r *MRegion) Alloc() (handle int32, buf []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.free)
	if n == 0 {
		return -1, nil, false
	}
	handle = r.free[n-1]
	r.free = r.free[:n-1]
	off := int64(handle) * int64(r.slotSize)
	return handle, r.mem[off : off+int64(r.slotSize)], true
}

func (r *MRegion) Free(handle int32) {
	if handle < 0 {
		return
	}
	r.mu.Lock()
	r.free = append(r.free, handle)
	r.mu.Unlock()
}

// InUse reports how many slots are currently checked out.
func (r *MRegion) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numSlots - len(r.free)
}

func (r *MRegion) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
