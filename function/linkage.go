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

// Package function is the typed IR builder: values, variables, stack slots,
// arithmetic, branches and ABI-correct calls, lowering immediately to bytes
// through package codegen.
package function

// Linkage says where a declared function or data blob actually lives.
type Linkage int

const (
	// Local is defined inside this module; its code is compiled by the
	// builder and finalized by the module linker.
	Local Linkage = iota
	// Import is declared here but defined elsewhere in the default dynamic
	// symbol namespace, resolved by name at Module.Finish.
	Import
	// Extern carries its host address directly; no symbol lookup needed.
	Extern
	// DynamicImport is resolved from an explicitly named shared library
	// rather than the default namespace.
	DynamicImport
)

func (l Linkage) String() string {
	switch l {
	case Local:
		return "local"
	case Import:
		return "import"
	case Extern:
		return "extern"
	case DynamicImport:
		return "dynamic_import"
	default:
		return "unknown"
	}
}

func (l Linkage) IsImport() bool        { return l == Import }
func (l Linkage) IsExtern() bool        { return l == Extern }
func (l Linkage) IsDynamicImport() bool { return l == DynamicImport }

// ABI selects the calling convention the builder lowers call_indirect and
// incoming parameters against.
type ABI int

const (
	SysV ABI = iota
	Win64
)
