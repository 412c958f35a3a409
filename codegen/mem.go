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

import "jitasm/utils"

// memKind discriminates the four addressing-mode shapes.
type memKind int

const (
	memLocal memKind = iota
	memBase
	memIndex
	memOffset
)

// Mem is an x86-64 memory operand. Construct with Local/Base/Index/Offset;
// the zero value is not a valid Mem.
type Mem struct {
	kind  memKind
	base  Register
	index Register
	scale int
	disp  int32
}

// Local denotes [RBP + offset], the canonical stack-slot / local-variable
// addressing form. Offsets for locals are conventionally negative.
func Local(offset int32) Mem {
	return Mem{kind: memLocal, base: RBP, index: NoReg, disp: offset}
}

// Base denotes [reg + disp]; when reg == RIP this is RIP-relative
// [RIP + disp32] addressing, used to reach data-segment constants.
func Base(reg Register, disp int32) Mem {
	return Mem{kind: memBase, base: reg, index: NoReg, disp: disp}
}

// Index denotes [base + index*scale + disp], scale in {1,2,4,8}.
func Index(base, index Register, scale int, disp int32) Mem {
	utils.Assert(scale == 1 || scale == 2 || scale == 4 || scale == 8, "scale must be 1/2/4/8, got %d", scale)
	utils.Assert(index != RSP, "RSP cannot be used as a SIB index")
	return Mem{kind: memIndex, base: base, index: index, scale: scale, disp: disp}
}

// Offset denotes [index*scale + disp], i.e. Index with no base register.
func Offset(index Register, scale int, disp int32) Mem {
	utils.Assert(scale == 1 || scale == 2 || scale == 4 || scale == 8, "scale must be 1/2/4/8, got %d", scale)
	utils.Assert(index != RSP, "RSP cannot be used as a SIB index")
	return Mem{kind: memOffset, base: NoReg, index: index, scale: scale, disp: disp}
}

func (m Mem) IsRIPRelative() bool {
	return m.kind == memBase && m.base == RIP
}
