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

// argGPR / argXMM select the incoming/outgoing argument register lists for
// this function's ABI.
func (f *Function) argGPR() []codegen.Register {
	if f.ABI == Win64 {
		return codegen.ArgGPRWin64()
	}
	return codegen.ArgGPRSysV()
}

func (f *Function) argXMM() []codegen.FloatRegister {
	if f.ABI == Win64 {
		return codegen.ArgXMMWin64()
	}
	return codegen.ArgXMMSysV()
}

// addParams lowers every declared parameter into a stack-resident Variable
// at function entry: register-passed parameters are read out of their ABI
// register right away so the register is free for the rest of the function
// body to use, and overflow
// parameters are read from their positive caller-stack offset above RBP
// (return address at [RBP+8], stack args starting at [RBP+16] in System
// V; Win64 callers additionally leave a 32-byte shadow area before the
// first stack argument). Each parameter becomes the variable at that
// position, queried later via LoadParam.
func (f *Function) addParams() {
	gprRegs := f.argGPR()
	xmmRegs := f.argXMM()
	gprIdx, xmmIdx := 0, 0
	overflowOff := int32(16)
	if f.ABI == Win64 {
		overflowOff = 48
	}

	f.paramVars = make([]Variable, len(f.paramTypes))
	for i, typ := range f.paramTypes {
		v := f.declareVariable(i, typ)
		f.paramVars[i] = v
		slot := f.variables[v]

		inXMM, inGPR := false, false
		var xmm codegen.FloatRegister
		var gpr codegen.Register
		if f.ABI == Win64 {
			// Win64 argument slots are positional: parameter i uses the i-th
			// slot of whichever register file matches its class.
			if i < len(gprRegs) {
				if typ.IsFloat() {
					inXMM, xmm = true, xmmRegs[i]
				} else {
					inGPR, gpr = true, gprRegs[i]
				}
			}
		} else {
			if typ.IsFloat() && xmmIdx < len(xmmRegs) {
				inXMM, xmm = true, xmmRegs[xmmIdx]
				xmmIdx++
			} else if !typ.IsFloat() && gprIdx < len(gprRegs) {
				inGPR, gpr = true, gprRegs[gprIdx]
				gprIdx++
			}
		}

		switch {
		case inXMM:
			f.storeFRegMem(typ, codegen.Local(slot.off), xmm)
		case inGPR:
			f.sink.MovMemReg(typ, codegen.Local(slot.off), gpr)
		case typ.IsFloat():
			f.loadFRegMem(typ, codegen.FloatScratch0, codegen.Base(codegen.RBP, overflowOff))
			f.storeFRegMem(typ, codegen.Local(slot.off), codegen.FloatScratch0)
			overflowOff += 8
		default:
			f.sink.MovRegMem(typ, codegen.GeneralScratch0, codegen.Base(codegen.RBP, overflowOff))
			f.sink.MovMemReg(typ, codegen.Local(slot.off), codegen.GeneralScratch0)
			overflowOff += 8
		}
	}
	f.nextVar = len(f.paramTypes)
}

// LoadParam returns a fresh Value holding a copy of the i-th parameter.
func (f *Function) LoadParam(i int) Value {
	return f.UseVar(f.paramVars[i])
}

// argDest describes where the ABI wants one outgoing argument: an integer
// or float register, or an 8-byte overflow slot above RSP. Integer
// register arguments are parked in a staging slot first and loaded into
// their ABI register as the final step, because the value allocator hands
// out the very registers the ABI consumes (RDI, RSI, ...) and an in-order
// load sequence would overwrite a later argument's home while
// materializing an earlier one.
type argDest struct {
	isFloat  bool
	inReg    bool
	gpr      codegen.Register
	xmm      codegen.FloatRegister
	stageOff int32
	overOff  int32
}

// CallIndirect lowers an outgoing call through a runtime-resolved address:
// values live past the call are parked out of caller-saved registers, the fixed
// {R12,R13,R14,R15} set is pushed, args are partitioned into ABI registers
// and stack overflow slots, the callee address is loaded via a movabs
// placeholder recorded as a CallFixup for the module linker to patch, and
// the return value is pulled out of RAX/XMM0 into a freshly allocated
// location.
func (f *Function) CallIndirect(callee string, args []Value, retType codegen.Kind) Value {
	gprRegs := f.argGPR()
	xmmRegs := f.argXMM()

	f.spillLiveAcrossCall(args)

	for _, r := range codegen.CallPushSet() {
		f.sink.PushReg(r)
	}

	dests := make([]argDest, len(args))
	gprIdx, xmmIdx := 0, 0
	var overflowBytes, stagedBytes int32
	for i, a := range args {
		typ := f.typeOf(a)
		d := argDest{isFloat: typ.IsFloat()}
		if f.ABI == Win64 {
			// Positional slots: argument i rides in the i-th register of its
			// class, or overflows once the first four slots are spent.
			if i < len(gprRegs) {
				d.inReg = true
				if d.isFloat {
					d.xmm = xmmRegs[i]
				} else {
					d.gpr = gprRegs[i]
				}
			}
		} else {
			if d.isFloat && xmmIdx < len(xmmRegs) {
				d.inReg, d.xmm = true, xmmRegs[xmmIdx]
				xmmIdx++
			} else if !d.isFloat && gprIdx < len(gprRegs) {
				d.inReg, d.gpr = true, gprRegs[gprIdx]
				gprIdx++
			}
		}
		switch {
		case d.inReg && !d.isFloat:
			d.stageOff = stagedBytes
			stagedBytes += 8
		case !d.inReg:
			d.overOff = overflowBytes
			overflowBytes += 8
		}
		dests[i] = d
	}

	// One reservation covers the Win64 shadow area, the overflow slots and
	// the integer staging slots, rounded so RSP is 16-byte aligned at the
	// call instruction: the four pushes above preserve the
	// prologue's alignment, so only the reservation itself needs rounding.
	var shadow int32
	if f.ABI == Win64 {
		shadow = 32
	}
	overflowBase := shadow
	stagingBase := shadow + overflowBytes
	reserve := alignUp32(stagingBase+stagedBytes, 16)
	if reserve > 0 {
		f.sink.SubImm32Reg(codegen.Ptr, codegen.RSP, reserve)
	}

	// Every argument is first written to its overflow or staging slot,
	// reading only value homes and scratch registers; the ABI registers
	// themselves are written last.
	for i, a := range args {
		d := dests[i]
		typ := f.typeOf(a)
		switch {
		case !d.inReg && d.isFloat:
			f.loadValueFReg(a, codegen.FloatScratch0)
			f.storeFRegMem(typ, codegen.Base(codegen.RSP, overflowBase+d.overOff), codegen.FloatScratch0)
		case !d.inReg:
			f.loadValueGPR(a, codegen.GeneralScratch0)
			f.sink.MovMemReg(typ, codegen.Base(codegen.RSP, overflowBase+d.overOff), codegen.GeneralScratch0)
		case !d.isFloat:
			f.loadValueGPR(a, codegen.GeneralScratch0)
			f.sink.MovMemReg(typ, codegen.Base(codegen.RSP, stagingBase+d.stageOff), codegen.GeneralScratch0)
		}
	}
	for i, a := range args {
		if d := dests[i]; d.inReg && d.isFloat {
			// XMM0..XMM7 are never a value's home, so these loads cannot
			// disturb a yet-unread argument.
			f.loadValueFReg(a, d.xmm)
		}
	}
	for i, a := range args {
		d := dests[i]
		if d.inReg && !d.isFloat {
			f.sink.MovRegMem(f.typeOf(a), d.gpr, codegen.Base(codegen.RSP, stagingBase+d.stageOff))
		}
	}

	for _, a := range args {
		f.kill(a)
	}

	f.sink.MovImm64Reg(codegen.RAX, 0)
	f.Fixups = append(f.Fixups, CallFixup{Callee: callee, Pos: f.sink.Pos() - 8})
	f.sink.CallIndirectReg(codegen.RAX)

	if reserve > 0 {
		f.sink.AddImm32Reg(codegen.Ptr, codegen.RSP, reserve)
	}

	pushSet := codegen.CallPushSet()
	for i := len(pushSet) - 1; i >= 0; i-- {
		f.sink.PopReg(pushSet[i])
	}

	value := f.newValue(retType)
	loc := f.allocateValue(value)
	if retType.IsFloat() {
		dst := codegen.FloatScratch0
		if loc.kind == locFReg {
			dst = loc.freg
		}
		f.movFReg(retType, dst, codegen.XMM0)
		if loc.kind == locStack {
			f.storeFRegMem(retType, codegen.Local(loc.off), dst)
		}
	} else {
		if loc.kind == locReg {
			f.sink.MovRegReg(retType, loc.reg, codegen.RAX)
		} else {
			f.sink.MovMemReg(retType, codegen.Local(loc.off), codegen.RAX)
		}
	}
	info := f.values[value]
	info.loc = loc
	f.values[value] = info
	return value
}
