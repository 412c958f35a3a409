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

// Kind tags a value's machine representation. Ptr aliases I64 for encoding
// purposes (same width, same register class, same REX.W requirement).
type Kind int

const (
	I8 Kind = iota
	I32
	I64
	F32
	F64
	Ptr
)

func (k Kind) String() string {
	switch k {
	case I8:
		return "i8"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Ptr:
		return "ptr"
	default:
		utils.ShouldNotReachHere()
		return ""
	}
}

// Size is the natural byte size, also used as the natural alignment by the
// data segment and the stack-slot allocator.
func (k Kind) Size() int {
	switch k {
	case I8:
		return 1
	case I32, F32:
		return 4
	case I64, F64, Ptr:
		return 8
	default:
		utils.ShouldNotReachHere()
		return 0
	}
}

func (k Kind) IsFloat() bool {
	return k == F32 || k == F64
}

// IsWide reports whether the kind requires REX.W (64-bit operand size) when
// used in an integer ALU or mov instruction.
func (k Kind) IsWide() bool {
	return k == I64 || k == Ptr
}

// RexW is the REX.W bit for an integer operation on this kind: 1 for
// 64-bit operands, 0 otherwise. Must not be called on a float kind.
func (k Kind) RexW() byte {
	utils.Assert(!k.IsFloat(), "RexW is undefined for float kind %v", k)
	if k.IsWide() {
		return 1
	}
	return 0
}

// CondCode is the condition-code enumeration shared by cmp/jcc/setcc/cmov.
// Signed forms map to jl/jle/jg/jge/setl; unsigned forms map to
// jb/jbe/ja/jae/setb; equality maps to je/jne.
type CondCode int

const (
	Zero CondCode = iota
	NonZero
	Equal
	NotEqual
	Greater
	GreaterEq
	Less
	LessEq
	UnsignedGreater
	UnsignedGreaterEq
	UnsignedLess
	UnsignedLessEq
)

// jccOpcode is the second opcode byte of the two-byte 0F 8x jcc encoding.
func (c CondCode) jccOpcode() byte {
	switch c {
	case Zero, Equal:
		return 0x84
	case NonZero, NotEqual:
		return 0x85
	case Greater:
		return 0x8F
	case GreaterEq:
		return 0x8D
	case Less:
		return 0x8C
	case LessEq:
		return 0x8E
	case UnsignedGreater:
		return 0x87
	case UnsignedGreaterEq:
		return 0x83
	case UnsignedLess:
		return 0x82
	case UnsignedLessEq:
		return 0x86
	default:
		utils.ShouldNotReachHere()
		return 0
	}
}

// setccOpcode is the second opcode byte of the two-byte 0F 9x setcc
// encoding; same condition ordering as jcc (0x90 + (jccOpcode - 0x80)).
func (c CondCode) setccOpcode() byte {
	return c.jccOpcode() + 0x10
}

// cmovOpcode is the second opcode byte of the two-byte 0F 4x cmovcc
// encoding.
func (c CondCode) cmovOpcode() byte {
	return c.jccOpcode() - 0x40
}

// Negate returns the condition testing the opposite of c.
func (c CondCode) Negate() CondCode {
	switch c {
	case Zero:
		return NonZero
	case NonZero:
		return Zero
	case Equal:
		return NotEqual
	case NotEqual:
		return Equal
	case Greater:
		return LessEq
	case GreaterEq:
		return Less
	case Less:
		return GreaterEq
	case LessEq:
		return Greater
	case UnsignedGreater:
		return UnsignedLessEq
	case UnsignedGreaterEq:
		return UnsignedLess
	case UnsignedLess:
		return UnsignedGreaterEq
	case UnsignedLessEq:
		return UnsignedGreater
	default:
		utils.ShouldNotReachHere()
		return c
	}
}
