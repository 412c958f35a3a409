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

// Selected three-operand AVX scalar forms. The 2-byte 0xC5 prefix covers
// the common case (opcode map 0F, W=0, no extended X/B); an r/m operand in XMM8-15 needs the inverted B bit that
// only the 3-byte 0xC4 prefix carries, so the prefix emitter picks per
// operand. Field layout follows the VEX encoding (Intel SDM vol 2, 2.3.6):
//
//	2-byte: 0xC5, R' << 7 | ~vvvv << 3 | L << 2 | pp
//	3-byte: 0xC4, R' << 7 | X' << 6 | B' << 5 | mmmmm, W << 7 | ~vvvv << 3 | L << 2 | pp
//
// R'/X'/B' are the *inverted* REX.R/X/B equivalents, vvvv is the inverted
// index of the second source operand, L selects 128/256-bit width (always 0,
// scalar), pp selects the mandatory-prefix equivalent (01=0x66, 10=0xF3,
// 11=0xF2), mmmmm=00001 is the 0F opcode map.
const (
	vexPP_None byte = 0
	vexPP_66   byte = 1
	vexPP_F3   byte = 2
	vexPP_F2   byte = 3
)

// emitVexPrefix emits the VEX prefix for a register-only 0F-map scalar op:
// reg is the ModR/M.reg operand, vvvv the second source, rm the ModR/M.rm
// operand (whose high bit forces the 3-byte form).
func (s *Sink) emitVexPrefix(pp byte, reg, vvvv, rm FloatRegister) {
	invVVVV := (^byte(vvvv)) & 0xF
	rBar := byte(1)
	if reg.IsExtended() {
		rBar = 0
	}
	if !rm.IsExtended() {
		s.Put1(0xC5)
		s.Put1(rBar<<7 | invVVVV<<3 | 0<<2 | pp)
		return
	}
	// B' inverted like R'; X' stays 1 (no index register in a direct
	// register operand), mmmmm=00001 selects the 0F map, W=0.
	s.Put1(0xC4)
	s.Put1(rBar<<7 | 1<<6 | 0<<5 | 0x01)
	s.Put1(0<<7 | invVVVV<<3 | 0<<2 | pp)
}

// emitVexRRR emits a VEX-prefixed two-byte opcode with an all-register
// ModR/M: dst/src1 (the vvvv operand) /src2, the canonical three-operand
// AVX arithmetic shape (`vaddsd dst, src1, src2` means dst := src1 + src2).
func (s *Sink) emitVexRRR(pp, opcode byte, dst, src1, src2 FloatRegister) {
	s.emitVexPrefix(pp, dst, src1, src2)
	s.Put1(opcode)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src2.Low3())
}

func (s *Sink) VaddsdRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F2, 0x58, dst, src1, src2) }
func (s *Sink) VaddssRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F3, 0x58, dst, src1, src2) }
func (s *Sink) VmulsdRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F2, 0x59, dst, src1, src2) }
func (s *Sink) VmulssRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F3, 0x59, dst, src1, src2) }
func (s *Sink) VsubsdRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F2, 0x5C, dst, src1, src2) }
func (s *Sink) VsubssRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F3, 0x5C, dst, src1, src2) }
func (s *Sink) VdivsdRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F2, 0x5E, dst, src1, src2) }
func (s *Sink) VdivssRegReg(dst, src1, src2 FloatRegister) { s.emitVexRRR(vexPP_F3, 0x5E, dst, src1, src2) }

// VmovsdRegReg / VmovssRegReg emit the register-register move (opcode 0F 10
// /r). In this form vvvv names the upper-lane merge source; passing src
// there as well makes the result a plain copy of src across all lanes.
func (s *Sink) VmovsdRegReg(dst, src FloatRegister) {
	s.emitVexPrefix(vexPP_F2, dst, src, src)
	s.Put1(0x10)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

func (s *Sink) VmovssRegReg(dst, src FloatRegister) {
	s.emitVexPrefix(vexPP_F3, dst, src, src)
	s.Put1(0x10)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}
