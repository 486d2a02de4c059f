// Package atomic provides thin, typed wrappers over sync/atomic values,
// used pervasively for lock-free counters and flags (endpoint command
// signals, pool high-water marks, payload/packet counters).
package atomic

import "sync/atomic"

type Bool struct{ v atomic.Bool }

func NewBool(v bool) *Bool { b := &Bool{}; b.Store(v); return b }

func (b *Bool) Load() bool       { return b.v.Load() }
func (b *Bool) Store(v bool)     { b.v.Store(v) }
func (b *Bool) CAS(old, new bool) bool { return b.v.CompareAndSwap(old, new) }
func (b *Bool) Toggle() bool {
	for {
		old := b.Load()
		if b.CAS(old, !old) {
			return old
		}
	}
}

type Int32 struct{ v atomic.Int32 }

func NewInt32(v int32) *Int32 { i := &Int32{}; i.Store(v); return i }

func (i *Int32) Load() int32           { return i.v.Load() }
func (i *Int32) Store(v int32)         { i.v.Store(v) }
func (i *Int32) Add(d int32) int32     { return i.v.Add(d) }
func (i *Int32) Inc() int32            { return i.v.Add(1) }
func (i *Int32) Dec() int32            { return i.v.Add(-1) }
func (i *Int32) CAS(old, new int32) bool { return i.v.CompareAndSwap(old, new) }
func (i *Int32) Swap(v int32) int32    { return i.v.Swap(v) }

type Int64 struct{ v atomic.Int64 }

func NewInt64(v int64) *Int64 { i := &Int64{}; i.Store(v); return i }

func (i *Int64) Load() int64           { return i.v.Load() }
func (i *Int64) Store(v int64)         { i.v.Store(v) }
func (i *Int64) Add(d int64) int64     { return i.v.Add(d) }
func (i *Int64) Inc() int64            { return i.v.Add(1) }
func (i *Int64) Dec() int64            { return i.v.Add(-1) }
func (i *Int64) CAS(old, new int64) bool { return i.v.CompareAndSwap(old, new) }
func (i *Int64) Swap(v int64) int64    { return i.v.Swap(v) }

type Uint32 struct{ v atomic.Uint32 }

func NewUint32(v uint32) *Uint32 { u := &Uint32{}; u.Store(v); return u }

func (u *Uint32) Load() uint32           { return u.v.Load() }
func (u *Uint32) Store(v uint32)         { u.v.Store(v) }
func (u *Uint32) Add(d uint32) uint32    { return u.v.Add(d) }
func (u *Uint32) Inc() uint32            { return u.v.Add(1) }
func (u *Uint32) CAS(old, new uint32) bool { return u.v.CompareAndSwap(old, new) }

type Uint64 struct{ v atomic.Uint64 }

func NewUint64(v uint64) *Uint64 { u := &Uint64{}; u.Store(v); return u }

func (u *Uint64) Load() uint64           { return u.v.Load() }
func (u *Uint64) Store(v uint64)         { u.v.Store(v) }
func (u *Uint64) Add(d uint64) uint64    { return u.v.Add(d) }
func (u *Uint64) Inc() uint64            { return u.v.Add(1) }
func (u *Uint64) CAS(old, new uint64) bool { return u.v.CompareAndSwap(old, new) }
