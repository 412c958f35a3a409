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

// Package memexec is the platform shim that allocates page-aligned memory
// and flips its protection from writable to executable. It is the only
// package in this module that allocates or re-protects memory through the
// OS; host symbol lookup through the dynamic loader lives in package module.
package memexec

import (
	"os"
	"unsafe"

	"jitasm/utils"
)

// Memory is one allocated page-aligned region: Bytes is writable until
// MakeExecutable is called, after which writing through the Go slice is
// undefined (the page may no longer be PROT_WRITE). Pages are never freed
// for the lifetime of the module -- the generated code may be referenced
// by external pointers -- so Memory has no Close/Free.
type Memory struct {
	bytes []byte
}

// Size reports the page-rounded allocation size.
func (m *Memory) Size() int { return len(m.bytes) }

// Bytes exposes the writable region for the module linker to copy the data
// segment and code into before the page is made executable.
func (m *Memory) Bytes() []byte { return m.bytes }

// BasePtr is the address of byte 0 of the allocation.
func (m *Memory) BasePtr() uintptr { return addrOf(m.bytes) }

// Alloc reserves a page-aligned, zero-initialized, read-write region of at
// least size bytes. The caller fills it via Bytes() and then calls
// MakeExecutable once writing is done.
func Alloc(size int) (*Memory, error) {
	utils.Assert(size >= 0, "memexec.Alloc: negative size %d", size)
	if size == 0 {
		size = 1
	}
	return allocRW(alignToPage(size))
}

// MakeExecutable flips the region from read-write to read-execute. The
// host must flush any instruction cache / issue a sequential fence before
// entering the code for the first time on architectures where that
// matters; on x86-64 the protection-change syscall itself is a sufficient
// fence.
func (m *Memory) MakeExecutable() error {
	return protectRX(m.bytes)
}

func alignToPage(n int) int {
	ps := os.Getpagesize()
	return (n + ps - 1) / ps * ps
}

func addrOf(b []byte) uintptr {
	utils.Assert(len(b) > 0, "memexec: addrOf of empty slice")
	return uintptr(unsafe.Pointer(&b[0]))
}
