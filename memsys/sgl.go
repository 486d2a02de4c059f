package memsys

// SGLEntry is one (address, size) entry of a scatter-gather list. Handle is
// the owning MRegion slot for header entries allocated via MRegion.Alloc,
// or -1 for entries that slice into application- or pool-owned memory
// (payload data, cloned source SGL entries) that MRegion does not own.
type SGLEntry struct {
	Buf    []byte
	Handle int32
}

func (e SGLEntry) Size() int { return len(e.Buf) }

// SGL is an ordered scatter-gather list with a cached total size, reused
// across packet work requests and cloned source payloads rather than
// reallocated per packet.
type SGL struct {
	Entries []SGLEntry
	total   int64
}

func NewSGL(capacity int) *SGL {
	return &SGL{Entries: make([]SGLEntry, 0, capacity)}
}

func (s *SGL) Append(e SGLEntry) {
	s.Entries = append(s.Entries, e)
	s.total += int64(len(e.Buf))
}

func (s *SGL) TotalSize() int64 { return s.total }

func (s *SGL) Reset() {
	s.Entries = s.Entries[:0]
	s.total = 0
}

// Free returns every header-region handle in the list to its owning
// MRegion; external (application-owned) entries are left untouched since
// the SDK never owns that memory.
func (s *SGL) Free(region *MRegion) {
	for _, e := range s.Entries {
		if e.Handle >= 0 {
			region.Free(e.Handle)
		}
	}
	s.Reset()
}
