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

//go:build windows

package memexec

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// allocRW reserves and commits a page-aligned region via VirtualAlloc,
// initially read-write so the module linker can copy the
// data segment and code in before MakeExecutable flips it to read-execute.
func allocRW(size int) (*Memory, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return &Memory{bytes: unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)}, nil
}

// protectRX calls VirtualProtect to switch the region from PAGE_READWRITE
// to PAGE_EXECUTE_READ once the region is fully written.
func protectRX(b []byte) error {
	var old uint32
	addr := uintptr(unsafe.Pointer(&b[0]))
	return windows.VirtualProtect(addr, uintptr(len(b)), windows.PAGE_EXECUTE_READ, &old)
}
