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

// REX prefix bit positions (Intel SDM vol 2, 2.2.1.2). rexW selects 64-bit
// operand size; rexR/rexX/rexB are the high bits of the ModR/M.reg, SIB.index
// and ModR/M.rm / SIB.base fields respectively.
const (
	rexBase byte = 0x40
	rexW    byte = 0x08
	rexR    byte = 0x04
	rexX    byte = 0x02
	rexB    byte = 0x01
)

// modrm mode field values.
const (
	modIndirect     byte = 0 // [reg] or [SIB] or [RIP+disp32], no displacement
	modIndirectDisp8 byte = 1
	modIndirectDisp32 byte = 2
	modDirect       byte = 3 // reg, reg
)

const sibNoIndex byte = 4 // SIB.index == 100 means "no index"
const ridNoBase = 5       // ModR/M.rm == 101 with mod==00 means RIP-relative

// fits8 reports whether v fits in a sign-extended 8-bit displacement or
// immediate, letting the emitter choose the compact disp8/imm8 encoding.
func fits8(v int32) bool {
	return v >= -128 && v <= 127
}

// emitRex always emits a REX prefix, with W/R/X/B set from w/r/x/b (each 0
// or 1); emitRexOpt and emitRexIf are the conditional forms.
func (s *Sink) emitRex(w, r, x, b byte) {
	rex := rexBase
	if w != 0 {
		rex |= rexW
	}
	if r != 0 {
		rex |= rexR
	}
	if x != 0 {
		rex |= rexX
	}
	if b != 0 {
		rex |= rexB
	}
	s.Put1(rex)
}

// emitRexOpt emits a REX prefix only if one of w/r/x/b is actually set,
// the conditional counterpart to emitRex used by every call site where the
// bits aren't already known to be forced. A REX byte that is not required
// must not be emitted: some byte-register forms change meaning under one.
func (s *Sink) emitRexOpt(w, r, x, b byte) {
	if w == 0 && r == 0 && x == 0 && b == 0 {
		return
	}
	s.emitRex(w, r, x, b)
}

// emitRexIf emits a REX prefix only when w is set or an operand register is
// extended (R8..R15). It does not emit the bare REX that byte access to
// SPL/BPL/SIL/DIL takes. Many single-byte-opcode forms (e.g. plain
// `inc eax`) never need one.
func (s *Sink) emitRexIf(w byte, regs ...Register) {
	need := w != 0
	for _, r := range regs {
		if r != NoReg && r != RIP && r.IsExtended() {
			need = true
		}
	}
	if !need {
		return
	}
	var r, b byte
	if len(regs) >= 1 && regs[0] != NoReg && regs[0] != RIP {
		r = regs[0].MSB()
	}
	if len(regs) >= 2 && regs[1] != NoReg && regs[1] != RIP {
		b = regs[1].MSB()
	}
	s.emitRex(w, r, 0, b)
}

// emitModRMReg emits the REX prefix a register-register operand pair (mod=11)
// requires. Must be called before the opcode byte(s) are written (REX is a
// prefix, not a suffix); the matching ModR/M byte is written afterwards by
// putModRMReg. reg is the opcode's "reg" field operand, rm is the "r/m"
// field operand.
func (s *Sink) emitModRMReg(w byte, reg, rm Register) {
	s.emitRexOpt(w, reg.MSB(), 0, rm.MSB())
}

// putModRMReg emits the ModR/M byte for a direct register-register operand
// pair (mod=11), once the opcode byte(s) and any preceding REX (emitModRMReg)
// are already in the stream.
func (s *Sink) putModRMReg(reg, rm Register) {
	s.Put1(modDirect<<6 | reg.Low3()<<3 | rm.Low3())
}

// memRexBits returns the REX.X/REX.B contribution of a Mem operand's
// base/index registers, independent of which addressing-mode branch
// emitMemBody takes.
func memRexBits(m Mem) (x, b byte) {
	switch m.kind {
	case memLocal, memBase:
		if m.base == RIP {
			return 0, 0
		}
		return 0, m.base.MSB()
	case memIndex:
		return m.index.MSB(), m.base.MSB()
	case memOffset:
		return m.index.MSB(), 0
	default:
		utils.ShouldNotReachHere()
		return 0, 0
	}
}

// emitMem emits the REX prefix a memory operand requires, given the "reg"
// field's MSB (so callers can pass either a GPR, an XMM register, or a bare
// opcode-extension digit with regMSB=0). Must be called before the opcode
// byte(s); the matching ModR/M (+ SIB) (+ disp) is written afterwards by
// emitMemBody. It does not emit the REX.W bit on its own; callers pass w
// explicitly so non-integer callers (SSE) can skip it.
func (s *Sink) emitMem(w, regMSB byte, m Mem) {
	x, b := memRexBits(m)
	s.emitRexOpt(w, regMSB, x, b)
}

// emitMemBody emits ModR/M (+ SIB) (+ disp) for an operand whose "reg" field
// is given directly as its low 3 bits and whose r/m operand is the memory
// location `m`. Must be called after the opcode byte(s) and any preceding
// REX (emitMem) are already in the stream.
//
// Handles the three addressing quirks x86-64 imposes:
//   - RSP or R12 as a base forces the SIB-byte encoding (mod.rm=100 alone
//     means "SIB follows", there is no way to address RSP/R12 directly);
//   - RBP or R13 as a base with disp==0 cannot use mod=00 (that encoding is
//     repurposed for RIP-relative / no-base forms) so an explicit disp8=0
//     is forced instead;
//   - RIP as a base uses mod=00, rm=101, always followed by a disp32 (never
//     disp8), with no SIB byte — the one rm=101 case where no SIB follows.
func (s *Sink) emitMemBody(regLow3 byte, m Mem) {
	switch m.kind {
	case memLocal, memBase:
		if m.base == RIP {
			s.Put1(modIndirect<<6 | regLow3<<3 | ridNoBase)
			s.Put4(m.disp)
			return
		}
		needsSIB := m.base == RSP || m.base == R12
		forceDisp := m.base == RBP || m.base == R13
		mode := modIndirect
		switch {
		case forceDisp && m.disp == 0:
			mode = modIndirectDisp8
		case fits8(m.disp) && m.disp != 0:
			mode = modIndirectDisp8
		case m.disp != 0:
			mode = modIndirectDisp32
		}
		if needsSIB {
			s.Put1(mode<<6 | regLow3<<3 | sibNoIndex)
			s.Put1(0<<6 | sibNoIndex<<3 | m.base.Low3())
		} else {
			s.Put1(mode<<6 | regLow3<<3 | m.base.Low3())
		}
		s.emitDisp(mode, m.disp)

	case memIndex:
		utils.Assert(m.index != RSP, "RSP cannot be a SIB index")
		forceDisp := m.base == RBP || m.base == R13
		mode := modIndirect
		switch {
		case forceDisp && m.disp == 0:
			mode = modIndirectDisp8
		case fits8(m.disp) && m.disp != 0:
			mode = modIndirectDisp8
		case m.disp != 0:
			mode = modIndirectDisp32
		}
		s.Put1(mode<<6 | regLow3<<3 | 0x4)
		s.Put1(scaleBits(m.scale)<<6 | m.index.Low3()<<3 | m.base.Low3())
		s.emitDisp(mode, m.disp)

	case memOffset:
		utils.Assert(m.index != RSP, "RSP cannot be a SIB index")
		s.Put1(modIndirect<<6 | regLow3<<3 | 0x4)
		s.Put1(scaleBits(m.scale)<<6 | m.index.Low3()<<3 | ridNoBase)
		s.Put4(m.disp)

	default:
		utils.ShouldNotReachHere()
	}
}

func (s *Sink) emitDisp(mode byte, disp int32) {
	switch mode {
	case modIndirectDisp8:
		s.Put1(byte(int8(disp)))
	case modIndirectDisp32:
		s.Put4(disp)
	}
}

func scaleBits(scale int) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		utils.ShouldNotReachHere()
		return 0
	}
}
