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

// Scalar SSE/SSE2 float arithmetic. Every instruction
// here is a mandatory prefix byte (0xF3 for single precision, 0xF2 for
// double) followed by the two-byte 0F opcode and a ModR/M; the prefix byte
// takes the place of the legacy operand-size prefix, so REX (when needed
// for XMM8-15) still goes immediately before the two-byte opcode, after the
// mandatory prefix.

func (s *Sink) emitFRexIf(dst, src FloatRegister) {
	if dst.IsExtended() || src.IsExtended() {
		var rex byte = rexBase
		if dst.IsExtended() {
			rex |= rexR
		}
		if src.IsExtended() {
			rex |= rexB
		}
		s.Put1(rex)
	}
}

func (s *Sink) emitSSERegReg(mandatoryPrefix, opcode byte, dst, src FloatRegister) {
	s.Put1(mandatoryPrefix)
	s.emitFRexIf(dst, src)
	s.Put1(0x0F)
	s.Put1(opcode)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// MovssRegReg / MovsdRegReg emit `movss`/`movsd` register-to-register
// (opcode 0F 10 /r under the 0xF3/0xF2 mandatory prefix).
func (s *Sink) MovssRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF3, 0x10, dst, src) }
func (s *Sink) MovsdRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF2, 0x10, dst, src) }

func (s *Sink) AddssRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF3, 0x58, dst, src) }
func (s *Sink) SubssRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF3, 0x5C, dst, src) }
func (s *Sink) MulssRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF3, 0x59, dst, src) }
func (s *Sink) DivssRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF3, 0x5E, dst, src) }

func (s *Sink) AddsdRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF2, 0x58, dst, src) }
func (s *Sink) SubsdRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF2, 0x5C, dst, src) }
func (s *Sink) MulsdRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF2, 0x59, dst, src) }
func (s *Sink) DivsdRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF2, 0x5E, dst, src) }

// MovssRegMem / MovsdRegMem emit `movss`/`movsd` loading from a memory
// operand (opcode 0F 10 /r under the 0xF3/0xF2 mandatory prefix, same
// opcode as the register-register form with an r/m memory operand).
func (s *Sink) MovssRegMem(dst FloatRegister, m Mem) {
	s.Put1(0xF3)
	s.emitMem(0, dst.MSB(), m)
	s.Put1(0x0F)
	s.Put1(0x10)
	s.emitMemBody(dst.Low3(), m)
}

func (s *Sink) MovsdRegMem(dst FloatRegister, m Mem) {
	s.Put1(0xF2)
	s.emitMem(0, dst.MSB(), m)
	s.Put1(0x0F)
	s.Put1(0x10)
	s.emitMemBody(dst.Low3(), m)
}

// MovssMemReg / MovsdMemReg emit `movss`/`movsd` storing to a memory
// operand (opcode 0F 11 /r).
func (s *Sink) MovssMemReg(m Mem, src FloatRegister) {
	s.Put1(0xF3)
	s.emitMem(0, src.MSB(), m)
	s.Put1(0x0F)
	s.Put1(0x11)
	s.emitMemBody(src.Low3(), m)
}

func (s *Sink) MovsdMemReg(m Mem, src FloatRegister) {
	s.Put1(0xF2)
	s.emitMem(0, src.MSB(), m)
	s.Put1(0x0F)
	s.Put1(0x11)
	s.emitMemBody(src.Low3(), m)
}

// UcomissRegReg / UcomisdRegReg emit `ucomiss`/`ucomisd` (opcode 0F 2E /r,
// no mandatory prefix for ucomiss, 0x66 for ucomisd), setting ZF/PF/CF the
// same way integer cmp sets flags but with PF=1 signaling "unordered"
// (either operand NaN) -- the fcmp lowering tests PF explicitly to get
// IEEE-754 semantics right for NaN comparisons.
func (s *Sink) UcomissRegReg(a, b FloatRegister) {
	s.emitFRexIf(a, b)
	s.Put1(0x0F)
	s.Put1(0x2E)
	s.Put1(modDirect<<6 | a.Low3()<<3 | b.Low3())
}

func (s *Sink) UcomisdRegReg(a, b FloatRegister) {
	s.Put1(0x66)
	s.emitFRexIf(a, b)
	s.Put1(0x0F)
	s.Put1(0x2E)
	s.Put1(modDirect<<6 | a.Low3()<<3 | b.Low3())
}

// Cvtsi2sdRegReg / Cvtsi2ssRegReg convert a signed GPR integer to F64/F32
// (opcode 0F 2A /r under 0xF2/0xF3, REX.W per the integer kind).
func (s *Sink) Cvtsi2sdRegReg(k Kind, dst FloatRegister, src Register) {
	s.Put1(0xF2)
	s.emitRexGPRToXMM(k.RexW(), dst, src)
	s.Put1(0x0F)
	s.Put1(0x2A)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

func (s *Sink) Cvtsi2ssRegReg(k Kind, dst FloatRegister, src Register) {
	s.Put1(0xF3)
	s.emitRexGPRToXMM(k.RexW(), dst, src)
	s.Put1(0x0F)
	s.Put1(0x2A)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// Cvttsd2siRegReg / Cvttss2siRegReg truncate F64/F32 to a signed GPR integer
// (opcode 0F 2C /r under 0xF2/0xF3), matching Go/C truncating-toward-zero
// conversion semantics.
func (s *Sink) Cvttsd2siRegReg(k Kind, dst Register, src FloatRegister) {
	s.Put1(0xF2)
	s.emitRexXMMToGPR(k.RexW(), dst, src)
	s.Put1(0x0F)
	s.Put1(0x2C)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

func (s *Sink) Cvttss2siRegReg(k Kind, dst Register, src FloatRegister) {
	s.Put1(0xF3)
	s.emitRexXMMToGPR(k.RexW(), dst, src)
	s.Put1(0x0F)
	s.Put1(0x2C)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

// Cvtss2sdRegReg / Cvtsd2ssRegReg convert between single and double
// precision (opcode 0F 5A /r under 0xF3/0xF2).
func (s *Sink) Cvtss2sdRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF3, 0x5A, dst, src) }
func (s *Sink) Cvtsd2ssRegReg(dst, src FloatRegister) { s.emitSSERegReg(0xF2, 0x5A, dst, src) }

func (s *Sink) emitRexGPRToXMM(w byte, dst FloatRegister, src Register) {
	if w != 0 || dst.IsExtended() || src.IsExtended() {
		rex := rexBase | w
		if dst.IsExtended() {
			rex |= rexR
		}
		if src.IsExtended() {
			rex |= rexB
		}
		s.Put1(rex)
	}
}

func (s *Sink) emitRexXMMToGPR(w byte, dst Register, src FloatRegister) {
	if w != 0 || dst.IsExtended() || src.IsExtended() {
		rex := rexBase | w
		if dst.IsExtended() {
			rex |= rexR
		}
		if src.IsExtended() {
			rex |= rexB
		}
		s.Put1(rex)
	}
}

// MovdRegToXMM / MovqRegToXMM move a GPR's bit pattern into the low
// lane of an XMM register without conversion (opcode 0F 6E /r under 0x66,
// REX.W for the 64-bit movq form).
func (s *Sink) MovdRegToXMM(dst FloatRegister, src Register) {
	s.Put1(0x66)
	s.emitRexGPRToXMM(0, dst, src)
	s.Put1(0x0F)
	s.Put1(0x6E)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}

func (s *Sink) MovqRegToXMM(dst FloatRegister, src Register) {
	s.Put1(0x66)
	s.emitRexGPRToXMM(1, dst, src)
	s.Put1(0x0F)
	s.Put1(0x6E)
	s.Put1(modDirect<<6 | dst.Low3()<<3 | src.Low3())
}
