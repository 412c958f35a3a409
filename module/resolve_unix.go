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

package module

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	defaultLibOnce   sync.Once
	defaultLibHandle uintptr
	defaultLibErr    error
)

// resolvePlatformDefault opens the platform C library -- the closest
// cgo-free approximation of "the default dynamic symbol namespace" -- and
// looks up name in it. Opened once and cached, since every Import lookup
// in a module shares the same namespace.
func resolvePlatformDefault(name string) (uintptr, error) {
	defaultLibOnce.Do(func() {
		defaultLibHandle, defaultLibErr = purego.Dlopen(defaultLibPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	})
	if defaultLibErr != nil {
		return 0, fmt.Errorf("opening default dynamic namespace (%s): %w", defaultLibPath, defaultLibErr)
	}
	ptr, err := purego.Dlsym(defaultLibHandle, name)
	if err != nil {
		return 0, fmt.Errorf("symbol %q not found in default namespace: %w", name, err)
	}
	return ptr, nil
}

func resolvePlatformLib(lib, name string) (uintptr, error) {
	handle, err := purego.Dlopen(lib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("opening %q: %w", lib, err)
	}
	ptr, err := purego.Dlsym(handle, name)
	if err != nil {
		return 0, fmt.Errorf("symbol %q not found in %q: %w", name, lib, err)
	}
	return ptr, nil
}
