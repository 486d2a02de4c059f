package memsys_test

import (
	"testing"

	"github.com/mediaconduit/txcore/memsys"
)

func TestMRegionAllocFree(t *testing.T) {
	r, err := memsys.NewMRegion(64, 4)
	if err != nil {
		t.Fatalf("NewMRegion: %v", err)
	}
	defer r.Close()

	var handles []int32
	for i := 0; i < 4; i++ {
		h, buf, ok := r.Alloc()
		if !ok {
			t.Fatalf("Alloc %d: expected ok", i)
		}
		if len(buf) != 64 {
			t.Fatalf("Alloc %d: len(buf) = %d, want 64", i, len(buf))
		}
		handles = append(handles, h)
	}
	if _, _, ok := r.Alloc(); ok {
		t.Fatalf("Alloc beyond capacity should fail")
	}
	if got := r.InUse(); got != 4 {
		t.Fatalf("InUse() = %d, want 4", got)
	}
	r.Free(handles[0])
	if got := r.InUse(); got != 3 {
		t.Fatalf("InUse() after Free = %d, want 3", got)
	}
	if _, _, ok := r.Alloc(); !ok {
		t.Fatalf("Alloc after Free should succeed")
	}
}

func TestSGLAppendAndFree(t *testing.T) {
	r, err := memsys.NewMRegion(16, 1)
	if err != nil {
		t.Fatalf("NewMRegion: %v", err)
	}
	defer r.Close()

	h, buf, ok := r.Alloc()
	if !ok {
		t.Fatalf("Alloc: expected ok")
	}
	sgl := memsys.NewSGL(2)
	sgl.Append(memsys.SGLEntry{Buf: buf, Handle: h})
	sgl.Append(memsys.SGLEntry{Buf: make([]byte, 100), Handle: -1})

	if got := sgl.TotalSize(); got != 116 {
		t.Fatalf("TotalSize() = %d, want 116", got)
	}
	sgl.Free(r)
	if got := r.InUse(); got != 0 {
		t.Fatalf("InUse() after SGL.Free = %d, want 0", got)
	}
	if got := sgl.TotalSize(); got != 0 {
		t.Fatalf("TotalSize() after Free = %d, want 0", got)
	}
}

func TestPoolBoundedReuse(t *testing.T) {
	type widget struct{ n int }
	made := 0
	p := memsys.NewPool(2, func() *widget {
		made++
		return &widget{n: made}
	})

	a, ok := p.Get()
	if !ok {
		t.Fatalf("Get a: expected ok")
	}
	b, ok := p.Get()
	if !ok {
		t.Fatalf("Get b: expected ok")
	}
	if _, ok := p.Get(); ok {
		t.Fatalf("Get beyond Max should fail")
	}
	p.Put(a)
	c, ok := p.Get()
	if !ok {
		t.Fatalf("Get after Put: expected ok")
	}
	if c != a {
		t.Fatalf("expected Get to reuse freed object")
	}
	if made != 2 {
		t.Fatalf("expected exactly 2 constructions, got %d", made)
	}

	var seen int
	p.PeekInUse(func(*widget) { seen++ })
	if seen != 2 {
		t.Fatalf("PeekInUse saw %d objects, want 2", seen)
	}
	_ = b
}
