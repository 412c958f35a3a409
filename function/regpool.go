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

package function

import "jitasm/codegen"

// regPool is the linear first-fit allocator backing Function's value
// lifecycle: caller-saved GPRs are preferred over callee-saved ones so a
// function making no calls pays no save/restore cost.
type regPool struct {
	gprPref []codegen.Register
	usedGPR map[codegen.Register]bool

	fregPref []codegen.FloatRegister
	usedFReg map[codegen.FloatRegister]bool
}

func newRegPool() *regPool {
	pref := append(append([]codegen.Register{}, codegen.CallerSavedGPR()...), codegen.CalleeSavedGPR()...)
	return &regPool{
		gprPref:  pref,
		usedGPR:  make(map[codegen.Register]bool),
		fregPref: codegen.FloatPool(),
		usedFReg: make(map[codegen.FloatRegister]bool),
	}
}

// allocGPR returns a free general register in preference order, or false if
// the pool is exhausted (caller must spill to a stack slot).
func (p *regPool) allocGPR() (codegen.Register, bool) {
	for _, r := range p.gprPref {
		if !p.usedGPR[r] {
			p.usedGPR[r] = true
			return r, true
		}
	}
	return codegen.NoReg, false
}

func (p *regPool) freeGPR(r codegen.Register) {
	delete(p.usedGPR, r)
}

func (p *regPool) allocFReg() (codegen.FloatRegister, bool) {
	for _, r := range p.fregPref {
		if !p.usedFReg[r] {
			p.usedFReg[r] = true
			return r, true
		}
	}
	return codegen.NoFloatReg, false
}

func (p *regPool) freeFReg(r codegen.FloatRegister) {
	delete(p.usedFReg, r)
}

// usedGPRSet / freeGPRSet expose the current partition invariant to the
// tests: used ∩ free = ∅, used ∪ free =
// allocatable.
func (p *regPool) usedGPRSet() []codegen.Register {
	var out []codegen.Register
	for _, r := range p.gprPref {
		if p.usedGPR[r] {
			out = append(out, r)
		}
	}
	return out
}

func (p *regPool) freeGPRSet() []codegen.Register {
	var out []codegen.Register
	for _, r := range p.gprPref {
		if !p.usedGPR[r] {
			out = append(out, r)
		}
	}
	return out
}
