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

//go:build linux || darwin

package memexec

import "golang.org/x/sys/unix"

// allocRW mmaps an anonymous, private, page-aligned region; mmap already
// returns page-aligned addresses, so no separate aligned-alloc step is
// needed.
func allocRW(size int) (*Memory, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &Memory{bytes: b}, nil
}

// protectRX mprotects the region from read-write to read-execute once the
// module linker has finished copying the data segment and code into it.
func protectRX(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
}
