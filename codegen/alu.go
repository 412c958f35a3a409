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

// aluOp is the ModR/M "reg" extension digit for the eight two-operand ALU
// instructions that all share the same 0x00-0x3D opcode block layout.
type aluOp byte

const (
	aluAdd aluOp = 0
	aluOr  aluOp = 1
	aluAdc aluOp = 2
	aluSbb aluOp = 3
	aluAnd aluOp = 4
	aluSub aluOp = 5
	aluXor aluOp = 6
	aluCmp aluOp = 7
)

// emitAluRegReg emits `op dst, src` (dst op= src), e.g. AddRegReg(I64, RAX,
// RCX) is `add rax, rcx`. Opcode 0x01 /r is "ALU r/m, r" (reg is the source,
// rm is the destination) in Intel syntax, which AT&T `add src, dst` also
// reads right to left; we keep dst-first Go argument order to match the
// function builder's instruction shape.
func (s *Sink) emitAluRegReg(op aluOp, k Kind, dst, src Register) {
	s.emitModRMReg(k.RexW(), src, dst)
	s.Put1(byte(op)<<3 | 0x01)
	s.putModRMReg(src, dst)
}

func (s *Sink) AddRegReg(k Kind, dst, src Register) { s.emitAluRegReg(aluAdd, k, dst, src) }
func (s *Sink) OrRegReg(k Kind, dst, src Register)  { s.emitAluRegReg(aluOr, k, dst, src) }
func (s *Sink) AndRegReg(k Kind, dst, src Register) { s.emitAluRegReg(aluAnd, k, dst, src) }
func (s *Sink) SubRegReg(k Kind, dst, src Register) { s.emitAluRegReg(aluSub, k, dst, src) }
func (s *Sink) XorRegReg(k Kind, dst, src Register) { s.emitAluRegReg(aluXor, k, dst, src) }
func (s *Sink) CmpRegReg(k Kind, dst, src Register) { s.emitAluRegReg(aluCmp, k, dst, src) }

// emitAluImm32Reg emits `op dst, imm32` via opcode 0x81 /digit id, with the
// compact 0x83 /digit ib form when imm fits in a sign-extended byte.
func (s *Sink) emitAluImm32Reg(op aluOp, k Kind, dst Register, imm int32) {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	if fits8(imm) {
		s.Put1(0x83)
		s.Put1(modDirect<<6 | byte(op)<<3 | dst.Low3())
		s.Put1(byte(int8(imm)))
		return
	}
	s.Put1(0x81)
	s.Put1(modDirect<<6 | byte(op)<<3 | dst.Low3())
	s.Put4(imm)
}

// SubImm32RegSlot emits `sub dst, imm32` always in the full 0x81 /5 id
// encoding, never the compact imm8 form, and returns the buffer offset of
// the 4-byte immediate so it can be patched once the real value is known.
// The function prologue reserves its frame this way: the frame keeps
// growing while the body is lowered, and the final size is only patched in
// at Finalize.
func (s *Sink) SubImm32RegSlot(k Kind, dst Register, imm int32) int {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	s.Put1(0x81)
	s.Put1(modDirect<<6 | byte(aluSub)<<3 | dst.Low3())
	at := s.Pos()
	s.Put4(imm)
	return at
}

func (s *Sink) AddImm32Reg(k Kind, dst Register, imm int32) { s.emitAluImm32Reg(aluAdd, k, dst, imm) }
func (s *Sink) SubImm32Reg(k Kind, dst Register, imm int32) { s.emitAluImm32Reg(aluSub, k, dst, imm) }
func (s *Sink) AndImm32Reg(k Kind, dst Register, imm int32) { s.emitAluImm32Reg(aluAnd, k, dst, imm) }
func (s *Sink) XorImm32Reg(k Kind, dst Register, imm int32) { s.emitAluImm32Reg(aluXor, k, dst, imm) }
func (s *Sink) CmpImm32Reg(k Kind, dst Register, imm int32) { s.emitAluImm32Reg(aluCmp, k, dst, imm) }

// CmpRegMem emits `cmp reg, [mem]` (opcode 0x3B /r, reg is the ALU "reg"
// operand read from memory's counterpart).
func (s *Sink) CmpRegMem(k Kind, reg Register, m Mem) {
	s.emitMem(k.RexW(), reg.MSB(), m)
	s.Put1(0x3B)
	s.emitMemBody(reg.Low3(), m)
}

// NegReg emits two's-complement negation: `neg dst` (opcode 0xF7 /3).
func (s *Sink) NegReg(k Kind, dst Register) {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	s.Put1(0xF7)
	s.Put1(modDirect<<6 | 3<<3 | dst.Low3())
}

// NotReg emits one's-complement / bitwise negation: `not dst` (opcode 0xF7
// /2), used to lower the builder's INot op.
func (s *Sink) NotReg(k Kind, dst Register) {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	s.Put1(0xF7)
	s.Put1(modDirect<<6 | 2<<3 | dst.Low3())
}

// ImulRegReg emits the two-operand signed multiply `imul dst, src` (opcode
// 0F AF /r, dst := dst * src).
func (s *Sink) ImulRegReg(k Kind, dst, src Register) {
	s.emitRexOpt(k.RexW(), dst.MSB(), 0, src.MSB())
	s.Put1(0x0F)
	s.Put1(0xAF)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// TestRegReg emits `test a, b` (opcode 0x85 /r), used to synthesize
// zero/non-zero branches without a separate cmp-against-0.
func (s *Sink) TestRegReg(k Kind, a, b Register) {
	s.emitModRMReg(k.RexW(), b, a)
	s.Put1(0x85)
	s.putModRMReg(b, a)
}
