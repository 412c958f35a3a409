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

package module

// resolveDefault resolves name in the platform's default dynamic symbol
// namespace. resolveFrom resolves name from an
// explicitly named shared library / DLL (DynamicImport linkage). Both are
// implemented per-platform in resolve_unix.go / resolve_windows.go; this
// file only states the contract every platform must meet.
func resolveDefault(name string) (uintptr, error) {
	return resolvePlatformDefault(name)
}

func resolveFrom(lib, name string) (uintptr, error) {
	return resolvePlatformLib(lib, name)
}
