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

// MovRegReg emits `mov dst, src` (opcode 0x89 /r: r/m, reg -- reg is the
// source, rm the destination).
func (s *Sink) MovRegReg(k Kind, dst, src Register) {
	s.emitModRMReg(k.RexW(), src, dst)
	s.Put1(0x89)
	s.putModRMReg(src, dst)
}

// MovRegMem emits `mov dst, [mem]` (opcode 0x8B /r: load).
func (s *Sink) MovRegMem(k Kind, dst Register, m Mem) {
	s.emitMem(k.RexW(), dst.MSB(), m)
	s.Put1(0x8B)
	s.emitMemBody(dst.Low3(), m)
}

// MovMemReg emits `mov [mem], src` (opcode 0x89 /r: store).
func (s *Sink) MovMemReg(k Kind, m Mem, src Register) {
	s.emitMem(k.RexW(), src.MSB(), m)
	s.Put1(0x89)
	s.emitMemBody(src.Low3(), m)
}

// MovImm32Reg emits `mov dst, imm32` (opcode 0xC7 /0 id). For 64-bit
// destinations the immediate is sign-extended to 64 bits by the CPU; use
// MovImm64Reg when the full 64-bit range is needed.
func (s *Sink) MovImm32Reg(k Kind, dst Register, imm int32) {
	s.emitRexOpt(k.RexW(), 0, 0, dst.MSB())
	s.Put1(0xC7)
	s.Put1(modDirect<<6 | 0<<3 | dst.Low3())
	s.Put4(imm)
}

// MovImm64Reg emits `movabs dst, imm64` (opcode 0xB8+rd io), the only x86-64
// form that can materialize a full 64-bit immediate in one instruction. This
// is also the encoding the module linker's CallFixup patches in place:
// the 8-byte immediate field starts 2 bytes after this call returns
// Sink.Pos() at entry.
func (s *Sink) MovImm64Reg(dst Register, imm int64) {
	s.emitRex(1, 0, 0, dst.MSB())
	s.Put1(0xB8 + dst.Low3())
	s.Put8(imm)
}

// MovzxRegReg emits a zero-extending move widening `src` of kind `from` into
// `dst` of kind `to` (opcode 0F B6 /r for an 8-bit source, 0F B7 /r for a
// 16-bit source). Used to normalize I8 values to I32 before any ALU op.
func (s *Sink) MovzxRegReg(to Kind, dst Register, from Kind, src Register) {
	s.emitRexOpt(to.RexW(), dst.MSB(), 0, src.MSB())
	s.Put1(0x0F)
	if from == I8 {
		s.Put1(0xB6)
	} else {
		s.Put1(0xB7)
	}
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// MovsxRegReg emits a sign-extending move (opcode 0F BE /r for an 8-bit
// source, 0F BF /r for a 16-bit source, 0x63 /r for a 32-bit source under
// REX.W for movsxd).
func (s *Sink) MovsxRegReg(to Kind, dst Register, from Kind, src Register) {
	if from == I32 {
		s.emitRexOpt(to.RexW(), dst.MSB(), 0, src.MSB())
		s.Put1(0x63)
		s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
		return
	}
	s.emitRexOpt(to.RexW(), dst.MSB(), 0, src.MSB())
	s.Put1(0x0F)
	if from == I8 {
		s.Put1(0xBE)
	} else {
		s.Put1(0xBF)
	}
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// MovImm8Mem emits `mov byte [mem], imm8` (opcode 0xC6 /0 ib), a one-byte
// immediate store.
func (s *Sink) MovImm8Mem(m Mem, imm int8) {
	s.emitMem(0, 0, m)
	s.Put1(0xC6)
	s.emitMemBody(0, m)
	s.Put1(byte(imm))
}

// Lea emits `lea dst, [mem]` (opcode 0x8D /r), used to materialize a
// data-segment constant's address via RIP-relative addressing
// without dereferencing it.
func (s *Sink) Lea(dst Register, m Mem) {
	s.emitMem(1, dst.MSB(), m)
	s.Put1(0x8D)
	s.emitMemBody(dst.Low3(), m)
}
