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

// Jmp emits an unconditional near jump to label l (opcode 0xE9 rel32),
// resolved through the Sink label/forward-jump protocol.
func (s *Sink) Jmp(l Label) {
	s.Put1(0xE9)
	s.EmitRel32(l)
}

// Jcc emits a conditional near jump (two-byte opcode 0F 8x rel32).
func (s *Sink) Jcc(cc CondCode, l Label) {
	s.Put1(0x0F)
	s.Put1(cc.jccOpcode())
	s.EmitRel32(l)
}

// SetccReg emits `setcc dst8` (two-byte opcode 0F 9x /0), storing the
// condition as a 0/1 byte in the low 8 bits of dst; the caller is
// responsible for zero-extending the result if a wider kind is needed.
func (s *Sink) SetccReg(cc CondCode, dst Register) {
	s.emitRexIf(0, NoReg, dst)
	s.Put1(0x0F)
	s.Put1(cc.setccOpcode())
	s.Put1(modDirect<<6 | 0<<3 | dst.Low3())
}

// CmovccRegReg emits `cmovcc dst, src` (two-byte opcode 0F 4x /r).
func (s *Sink) CmovccRegReg(cc CondCode, k Kind, dst, src Register) {
	s.emitRexOpt(k.RexW(), dst.MSB(), 0, src.MSB())
	s.Put1(0x0F)
	s.Put1(cc.cmovOpcode())
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// CallRel32 emits a direct near call to label l (opcode 0xE8 rel32). Used
// only for intra-module calls whose target is already bound in the same
// Sink; cross-function calls go through CallIndirect + the module linker's
// CallFixup instead, since a callee's final address isn't known
// until Module.Finish.
func (s *Sink) CallRel32(l Label) {
	s.Put1(0xE8)
	s.EmitRel32(l)
}

// CallIndirectReg emits `call reg` (opcode 0xFF /2), the form used for
// call_indirect after the callee's address has been loaded into a register
// by MovImm64Reg (movabs + call reg, patched post-hoc).
func (s *Sink) CallIndirectReg(reg Register) {
	s.emitRexIf(0, NoReg, reg)
	s.Put1(0xFF)
	s.Put1(modDirect<<6 | 2<<3 | reg.Low3())
}

// Ret emits `ret` (opcode 0xC3, no operands).
func (s *Sink) Ret() {
	s.Put1(0xC3)
}

// PushReg emits `push reg` (opcode 0x50+rd).
func (s *Sink) PushReg(reg Register) {
	s.emitRexIf(0, NoReg, reg)
	s.Put1(0x50 + reg.Low3())
}

// PopReg emits `pop reg` (opcode 0x58+rd).
func (s *Sink) PopReg(reg Register) {
	s.emitRexIf(0, NoReg, reg)
	s.Put1(0x58 + reg.Low3())
}

// Cdq emits `cdq` (opcode 0x99), sign-extending EAX into EDX:EAX ahead of a
// 32-bit idiv.
func (s *Sink) Cdq() {
	s.Put1(0x99)
}

// Cqo emits `cqo` (opcode REX.W 0x99), sign-extending RAX into RDX:RAX ahead
// of a 64-bit idiv.
func (s *Sink) Cqo() {
	s.emitRex(1, 0, 0, 0)
	s.Put1(0x99)
}

// IdivReg emits `idiv divisor` (opcode 0xF7 /7): signed divide RDX:RAX (or
// EDX:EAX) by divisor, quotient in RAX/EAX, remainder in RDX/EDX. The
// builder emits Cdq/Cqo immediately before this.
func (s *Sink) IdivReg(k Kind, divisor Register) {
	s.emitRexOpt(k.RexW(), 0, 0, divisor.MSB())
	s.Put1(0xF7)
	s.Put1(modDirect<<6 | 7<<3 | divisor.Low3())
}

// SetParityReg / SetNotParityReg emit `setp`/`setnp` (opcode 0F 9A/9B /0),
// the parity-flag conditions used to detect the "unordered" (NaN operand)
// outcome of ucomiss/ucomisd that has no slot in CondCode since every other
// comparison in this module is built from the signed/unsigned/equality
// families.
func (s *Sink) SetParityReg(dst Register) {
	s.emitRexIf(0, NoReg, dst)
	s.Put1(0x0F)
	s.Put1(0x9A)
	s.Put1(modDirect<<6 | 0<<3 | dst.Low3())
}

func (s *Sink) SetNotParityReg(dst Register) {
	s.emitRexIf(0, NoReg, dst)
	s.Put1(0x0F)
	s.Put1(0x9B)
	s.Put1(modDirect<<6 | 0<<3 | dst.Low3())
}

// Nop emits a single-byte `nop` (opcode 0x90).
func (s *Sink) Nop() {
	s.Put1(0x90)
}

// Int3 emits a breakpoint trap (opcode 0xCC).
func (s *Sink) Int3() {
	s.Put1(0xCC)
}
