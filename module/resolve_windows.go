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

package module

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// resolvePlatformDefault probes kernel32.dll and then the C runtime
// (ucrtbase.dll); the executable's own module is not searched.
func resolvePlatformDefault(name string) (uintptr, error) {
	if ptr, err := procAddr("kernel32.dll", name); err == nil {
		return ptr, nil
	}
	return procAddr("ucrtbase.dll", name)
}

func resolvePlatformLib(lib, name string) (uintptr, error) {
	return procAddr(lib, name)
}

func procAddr(lib, name string) (uintptr, error) {
	dll := windows.NewLazySystemDLL(lib)
	if err := dll.Load(); err != nil {
		return 0, fmt.Errorf("loading %q: %w", lib, err)
	}
	proc := dll.NewProc(name)
	if err := proc.Find(); err != nil {
		return 0, fmt.Errorf("symbol %q not found in %q: %w", name, lib, err)
	}
	return proc.Addr(), nil
}
