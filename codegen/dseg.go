// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package codegen

import (
	"encoding/binary"
	"math"

	"jitasm/utils"
)

// dsegValueKind tags what's stored at a DSeg entry.
type dsegValueKind int

const (
	dsegInt32 dsegValueKind = iota
	dsegFloat32
	dsegFloat64
	dsegPtr
)

type dsegEntry struct {
	disp  int32
	kind  dsegValueKind
	ival  int32
	f32   float32
	f64   float64
	ptr   uintptr
}

// DSeg is the append-only constant pool laid out immediately before a
// function's code. Insertion aligns the
// running size up to the value's natural alignment, then records the
// displacement *from the end of the segment*; Finalize writes entries
// backwards from the end so `base + (size - disp)` is the entry's address
// once the segment is copied in front of the code.
type DSeg struct {
	entries []dsegEntry
	size    int32
}

func NewDSeg() *DSeg {
	return &DSeg{}
}

func (d *DSeg) Size() int32 {
	return d.size
}

// Align rounds the running size up to a multiple of n (n > 0).
func (d *DSeg) Align(n int32) int32 {
	utils.Assert(n > 0, "alignment must be positive, got %d", n)
	d.size = alignUp(d.size, n)
	return d.size
}

func alignUp(n, align int32) int32 {
	return (n + align - 1) / align * align
}

func (d *DSeg) add(kind dsegValueKind, size int32, fill func(*dsegEntry)) int32 {
	d.size = alignUp(d.size+size, size)
	e := dsegEntry{disp: d.size, kind: kind}
	fill(&e)
	d.entries = append(d.entries, e)
	return d.size
}

// AddInt32 appends an i32 constant, always fresh (no dedup).
func (d *DSeg) AddInt32(v int32) int32 {
	return d.add(dsegInt32, 4, func(e *dsegEntry) { e.ival = v })
}

// AddFloat32 appends an f32 constant, always fresh (no dedup).
func (d *DSeg) AddFloat32(v float32) int32 {
	return d.add(dsegFloat32, 4, func(e *dsegEntry) { e.f32 = v })
}

// AddFloat64 appends an f64 constant, always fresh (no dedup).
func (d *DSeg) AddFloat64(v float64) int32 {
	return d.add(dsegFloat64, 8, func(e *dsegEntry) { e.f64 = v })
}

// AddPtr appends a pointer constant, always fresh. Use AddPtrReuse for the
// deduplicating variant.
func (d *DSeg) AddPtr(v uintptr) int32 {
	return d.add(dsegPtr, 8, func(e *dsegEntry) { e.ptr = v })
}

// AddPtrReuse performs linear-scan deduplication for pointer entries only:
// if an identical pointer was already inserted, its displacement is
// returned unchanged. Widening this to floats/ints would require
// bit-for-bit equality decisions for NaN payloads and signed zero that
// have no single obviously right answer; so only pointers, which have no
// such ambiguity, get reuse.
func (d *DSeg) AddPtrReuse(v uintptr) int32 {
	for _, e := range d.entries {
		if e.kind == dsegPtr && e.ptr == v {
			return e.disp
		}
	}
	return d.AddPtr(v)
}

// Finalize writes every entry into dst (a byte slice at least Size() bytes
// long, the start of the allocated page) in its native little-endian
// representation, at dst[size-entry.disp:].
func (d *DSeg) Finalize(dst []byte) {
	for _, e := range d.entries {
		off := d.size - e.disp
		switch e.kind {
		case dsegInt32:
			binary.LittleEndian.PutUint32(dst[off:], uint32(e.ival))
		case dsegFloat32:
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(e.f32))
		case dsegFloat64:
			binary.LittleEndian.PutUint64(dst[off:], math.Float64bits(e.f64))
		case dsegPtr:
			binary.LittleEndian.PutUint64(dst[off:], uint64(e.ptr))
		default:
			utils.ShouldNotReachHere()
		}
	}
}
