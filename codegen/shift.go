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

// shiftOp is the ModR/M "reg" extension digit for the shift-group
// instructions, all sharing the 0xC1 (/digit ib) / 0xD3 (/digit, count in
// CL) opcode layout.
type shiftOp byte

const (
	shiftShl shiftOp = 4
	shiftShr shiftOp = 5
	shiftSar shiftOp = 7
)

func (s *Sink) emitShiftImm(op shiftOp, k Kind, dst Register, imm byte) {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	s.Put1(0xC1)
	s.Put1(modDirect<<6 | byte(op)<<3 | dst.Low3())
	s.Put1(imm)
}

// emitShiftCL emits `op dst, cl`, the variable-count shift form; the shift
// count must already be in CL by convention (the caller moves it there
// before calling this).
func (s *Sink) emitShiftCL(op shiftOp, k Kind, dst Register) {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	s.Put1(0xD3)
	s.Put1(modDirect<<6 | byte(op)<<3 | dst.Low3())
}

func (s *Sink) ShlImm(k Kind, dst Register, imm byte) { s.emitShiftImm(shiftShl, k, dst, imm) }
func (s *Sink) ShrImm(k Kind, dst Register, imm byte) { s.emitShiftImm(shiftShr, k, dst, imm) }
func (s *Sink) SarImm(k Kind, dst Register, imm byte) { s.emitShiftImm(shiftSar, k, dst, imm) }

func (s *Sink) ShlCL(k Kind, dst Register) { s.emitShiftCL(shiftShl, k, dst) }
func (s *Sink) ShrCL(k Kind, dst Register) { s.emitShiftCL(shiftShr, k, dst) }
func (s *Sink) SarCL(k Kind, dst Register) { s.emitShiftCL(shiftSar, k, dst) }
