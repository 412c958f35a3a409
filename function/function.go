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

import (
	"sort"

	"jitasm/codegen"
	"jitasm/utils"
)

// CallFixup marks an 8-byte immediate slot inside a movabs/call pair that
// the module linker must patch once the callee's finalized address is
// known.
type CallFixup struct {
	Callee string
	Pos    int
}

// Function is the per-function builder: its own code sink and data
// segment, register pool, value/variable tables, and the list of
// cross-function call sites awaiting relocation.
type Function struct {
	Name    string
	Linkage Linkage
	ABI     ABI

	paramTypes []codegen.Kind
	retType    codegen.Kind

	sink *codegen.Sink
	dseg *codegen.DSeg
	pool *regPool

	values    map[Value]valueInfo
	variables map[Variable]variableInfo
	paramVars []Variable

	localSize int32
	nextValue int
	nextVar   int

	// frameSlot is the offset of the prologue's sub-rsp imm32, patched with
	// the final frame size at Finalize.
	frameSlot int

	// Callee-saved registers handed out by the pool, each saved to a frame
	// slot the first time it is taken and reloaded in the epilogue.
	savedGPRs  []savedReg
	savedFRegs []savedFReg

	Fixups []CallFixup
}

type savedReg struct {
	reg codegen.Register
	off int32
}

type savedFReg struct {
	reg codegen.FloatRegister
	off int32
}

// New creates a function and immediately emits its prologue (`push rbp;
// mov rbp, rsp; sub rsp, <patched at Finalize>`).
func New(name string, linkage Linkage, abi ABI, paramTypes []codegen.Kind, retType codegen.Kind) *Function {
	f := &Function{
		Name:       name,
		Linkage:    linkage,
		ABI:        abi,
		paramTypes: paramTypes,
		retType:    retType,
		sink:       codegen.NewSink(),
		dseg:       codegen.NewDSeg(),
		pool:       newRegPool(),
		values:     make(map[Value]valueInfo),
		variables:  make(map[Variable]variableInfo),
	}
	f.emitPrologue()
	f.addParams()
	return f
}

func (f *Function) emitPrologue() {
	f.sink.PushReg(codegen.RBP)
	f.sink.MovRegReg(codegen.Ptr, codegen.RBP, codegen.RSP)
	// The frame size is unknown until the whole body has been lowered, so
	// the reservation is emitted with a placeholder immediate and patched at
	// Finalize. Without it, the pushes and the call instruction inside
	// CallIndirect would land on top of the RBP-relative slots.
	f.frameSlot = f.sink.SubImm32RegSlot(codegen.Ptr, codegen.RSP, 0)
}

func (f *Function) emitEpilogue() {
	for _, s := range f.savedFRegs {
		f.sink.MovsdRegMem(s.reg, codegen.Local(s.off))
	}
	for _, s := range f.savedGPRs {
		f.sink.MovRegMem(codegen.Ptr, s.reg, codegen.Local(s.off))
	}
	f.sink.MovRegReg(codegen.Ptr, codegen.RSP, codegen.RBP)
	f.sink.PopReg(codegen.RBP)
}

// Sink exposes the underlying byte emitter for tests and for the module
// linker's Finalize step.
func (f *Function) Sink() *codegen.Sink { return f.sink }

// DSeg exposes the data segment so callers can insert constants ahead of
// building operations that reference them.
func (f *Function) DSeg() *codegen.DSeg { return f.dseg }

// allocateStack bumps the frame by one naturally aligned slot of kind k and
// returns its negative offset from RBP.
func (f *Function) allocateStack(k codegen.Kind) int32 {
	size := int32(k.Size())
	if size < 4 {
		// I8 slots are widened to 4 bytes: every I8 value moves through the
		// builder as a zero-extended I32 (see loadInt), so its spills and
		// reloads are 32-bit accesses.
		size = 4
	}
	newOffset := alignUp32(f.localSize+size, size)
	f.localSize = newOffset
	return -newOffset
}

func alignUp32(n, align int32) int32 {
	return (n + align - 1) / align * align
}

func (f *Function) newValue(typ codegen.Kind) Value {
	v := Value(f.nextValue)
	f.nextValue++
	f.values[v] = valueInfo{typ: typ}
	return v
}

// allocateValue picks a location for a freshly produced value of the given
// kind: a register if the pool has one free, otherwise a spilled stack
// slot.
func (f *Function) allocateValue(v Value) valueLoc {
	info := f.values[v]
	if info.typ.IsFloat() {
		if r, ok := f.takeFReg(); ok {
			return valueLoc{kind: locFReg, freg: r}
		}
		return valueLoc{kind: locStack, off: f.allocateStack(info.typ)}
	}
	if r, ok := f.takeGPR(); ok {
		return valueLoc{kind: locReg, reg: r}
	}
	return valueLoc{kind: locStack, off: f.allocateStack(info.typ)}
}

// takeGPR pulls a general register from the pool. The first time a
// callee-saved register is handed out, its incoming contents are parked in
// a frame slot so the epilogue can reload them; a function that never
// exhausts the caller-saved set pays nothing.
func (f *Function) takeGPR() (codegen.Register, bool) {
	r, ok := f.pool.allocGPR()
	if !ok {
		return r, false
	}
	if f.isCalleeSavedGPR(r) && !f.gprSaved(r) {
		off := f.allocateStack(codegen.Ptr)
		f.sink.MovMemReg(codegen.Ptr, codegen.Local(off), r)
		f.savedGPRs = append(f.savedGPRs, savedReg{reg: r, off: off})
	}
	return r, true
}

// takeFReg pulls a float register from the pool. On Win64 every XMM the
// pool hands out is nonvolatile, so its incoming low lane is saved the same
// way; the builder only ever keeps scalar lanes in XMM registers, so the
// low half is what must survive.
func (f *Function) takeFReg() (codegen.FloatRegister, bool) {
	r, ok := f.pool.allocFReg()
	if !ok {
		return r, false
	}
	if f.ABI == Win64 && !f.fregSaved(r) {
		off := f.allocateStack(codegen.F64)
		f.sink.MovsdMemReg(codegen.Local(off), r)
		f.savedFRegs = append(f.savedFRegs, savedFReg{reg: r, off: off})
	}
	return r, true
}

func (f *Function) gprSaved(r codegen.Register) bool {
	for _, s := range f.savedGPRs {
		if s.reg == r {
			return true
		}
	}
	return false
}

func (f *Function) fregSaved(r codegen.FloatRegister) bool {
	for _, s := range f.savedFRegs {
		if s.reg == r {
			return true
		}
	}
	return false
}

func (f *Function) isCalleeSavedGPR(r codegen.Register) bool {
	if f.ABI == Win64 {
		switch r {
		case codegen.RBX, codegen.RSI, codegen.RDI, codegen.R12, codegen.R13, codegen.R14, codegen.R15:
			return true
		}
		return false
	}
	switch r {
	case codegen.RBX, codegen.R12, codegen.R13, codegen.R14, codegen.R15:
		return true
	}
	return false
}

// callClobberedGPR lists the registers the callee of an outgoing call is
// free to overwrite, per this function's ABI. R10/R11 are absent: they are
// lowering scratch and never a value's home.
func (f *Function) callClobberedGPR() []codegen.Register {
	if f.ABI == Win64 {
		return []codegen.Register{codegen.RAX, codegen.RCX, codegen.RDX, codegen.R8, codegen.R9}
	}
	return codegen.CallerSavedGPR()
}

// spillLiveAcrossCall parks every live value the imminent call does not
// consume out of registers the callee may overwrite: the caller-saved GPRs
// and, on System V, every XMM register (System V preserves none of them).
// Callee-saved homes survive on their own: RBX through the callee's save
// obligation, R12-R15 through the push/pop braces CallIndirect emits.
func (f *Function) spillLiveAcrossCall(args []Value) {
	consumed := make(map[Value]bool, len(args))
	for _, a := range args {
		consumed[a] = true
	}
	clobbered := make(map[codegen.Register]bool)
	for _, r := range f.callClobberedGPR() {
		clobbered[r] = true
	}

	live := make([]Value, 0, len(f.values))
	for v := range f.values {
		if !consumed[v] {
			live = append(live, v)
		}
	}
	// Map iteration order is random; emitted bytes must not be.
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	for _, v := range live {
		info := f.values[v]
		switch info.loc.kind {
		case locReg:
			if !clobbered[info.loc.reg] {
				continue
			}
			off := f.allocateStack(info.typ)
			f.sink.MovMemReg(info.typ, codegen.Local(off), info.loc.reg)
			f.pool.freeGPR(info.loc.reg)
			info.loc = valueLoc{kind: locStack, off: off}
			f.values[v] = info
		case locFReg:
			if f.ABI == Win64 {
				continue
			}
			off := f.allocateStack(info.typ)
			f.storeFRegMem(info.typ, codegen.Local(off), info.loc.freg)
			f.pool.freeFReg(info.loc.freg)
			info.loc = valueLoc{kind: locStack, off: off}
			f.values[v] = info
		}
	}
}

// kill releases a value's register (if any) back to the pool and forgets
// it; stack slots are not reclaimed (the frame only grows).
func (f *Function) kill(v Value) {
	info, ok := f.values[v]
	if !ok {
		return
	}
	switch info.loc.kind {
	case locReg:
		f.pool.freeGPR(info.loc.reg)
	case locFReg:
		f.pool.freeFReg(info.loc.freg)
	}
	delete(f.values, v)
}

// evictHardwiredGPRs relocates whichever live values (if any) currently
// occupy the given hard-wired registers into freshly allocated locations,
// freeing them for an instruction with a fixed register contract -- idiv's
// RAX:RDX dividend/remainder pair being the only such case in this builder.
// Both registers are reserved in the pool before either
// eviction runs so that a value moved out of one of them can never be
// reassigned into the other, which would otherwise be clobbered moments
// later by the same instruction.
func (f *Function) evictHardwiredGPRs(regs ...codegen.Register) {
	for _, r := range regs {
		f.pool.usedGPR[r] = true
	}
	for _, r := range regs {
		for v, info := range f.values {
			if info.loc.kind == locReg && info.loc.reg == r {
				newLoc := f.allocateValue(v)
				dst := codegen.GeneralScratch1
				if newLoc.kind == locReg {
					dst = newLoc.reg
				}
				f.sink.MovRegReg(info.typ, dst, r)
				if newLoc.kind == locStack {
					f.sink.MovMemReg(info.typ, codegen.Local(newLoc.off), dst)
				}
				info.loc = newLoc
				f.values[v] = info
			}
		}
	}
	for _, r := range regs {
		f.pool.freeGPR(r)
	}
}

func (f *Function) typeOf(v Value) codegen.Kind {
	info, ok := f.values[v]
	utils.Assert(ok, "value %d not defined", v)
	return info.typ
}

// loadValueGPR moves v's current contents into the scratch register reg,
// regardless of whether v currently lives in a register or on the stack.
func (f *Function) loadValueGPR(v Value, reg codegen.Register) {
	info := f.values[v]
	utils.Assert(!info.typ.IsFloat(), "loadValueGPR called on float value %d", v)
	switch info.loc.kind {
	case locReg:
		if info.loc.reg != reg {
			f.sink.MovRegReg(info.typ, reg, info.loc.reg)
		}
	case locStack:
		f.sink.MovRegMem(info.typ, reg, codegen.Local(info.loc.off))
	default:
		utils.ShouldNotReachHere()
	}
}

func (f *Function) loadValueFReg(v Value, reg codegen.FloatRegister) {
	info := f.values[v]
	utils.Assert(info.typ.IsFloat(), "loadValueFReg called on integer value %d", v)
	switch info.loc.kind {
	case locFReg:
		if info.loc.freg != reg {
			f.movFReg(info.typ, reg, info.loc.freg)
		}
	case locStack:
		f.loadFRegMem(info.typ, reg, codegen.Local(info.loc.off))
	default:
		utils.ShouldNotReachHere()
	}
}

func (f *Function) movFReg(k codegen.Kind, dst, src codegen.FloatRegister) {
	if k == codegen.F32 {
		f.sink.MovssRegReg(dst, src)
	} else {
		f.sink.MovsdRegReg(dst, src)
	}
}

func (f *Function) loadFRegMem(k codegen.Kind, dst codegen.FloatRegister, m codegen.Mem) {
	// Picks codegen's movss or movsd memory load (0F 10 /r against a memory
	// r/m) by the float kind.
	if k == codegen.F32 {
		f.sink.MovssRegMem(dst, m)
	} else {
		f.sink.MovsdRegMem(dst, m)
	}
}

func (f *Function) storeFRegMem(k codegen.Kind, m codegen.Mem, src codegen.FloatRegister) {
	if k == codegen.F32 {
		f.sink.MovssMemReg(m, src)
	} else {
		f.sink.MovsdMemReg(m, src)
	}
}

// declareVariable allocates a variable's stack slot, indexed by the given
// id (the host picks ids; typically a dense counter per function).
func (f *Function) declareVariable(id int, typ codegen.Kind) Variable {
	off := f.allocateStack(typ)
	v := Variable(id)
	f.variables[v] = variableInfo{typ: typ, off: off}
	return v
}

// DeclareVariable is the public entry point; it assigns the next dense id
// automatically.
func (f *Function) DeclareVariable(typ codegen.Kind) Variable {
	v := f.declareVariable(f.nextVar, typ)
	f.nextVar++
	return v
}

// DefVar stores val's contents into var's slot and kills val. Type mismatch between the value and the variable is a
// programmer error.
func (f *Function) DefVar(v Variable, val Value) {
	varInfo, ok := f.variables[v]
	utils.Assert(ok, "variable %d not defined", v)
	valInfo, ok := f.values[val]
	utils.Assert(ok, "value %d not defined", val)
	utils.Assert(varInfo.typ == valInfo.typ, "def_var: variable %d has type %v, value has type %v", v, varInfo.typ, valInfo.typ)

	if valInfo.typ.IsFloat() {
		f.loadValueFReg(val, codegen.FloatScratch0)
		f.storeFRegMem(varInfo.typ, codegen.Local(varInfo.off), codegen.FloatScratch0)
	} else {
		f.loadValueGPR(val, codegen.GeneralScratch0)
		f.sink.MovMemReg(varInfo.typ, codegen.Local(varInfo.off), codegen.GeneralScratch0)
	}
	f.kill(val)
}

// UseVar allocates a fresh value holding a copy of var's current contents.
func (f *Function) UseVar(v Variable) Value {
	info, ok := f.variables[v]
	utils.Assert(ok, "variable %d not defined", v)

	value := f.newValue(info.typ)
	loc := f.allocateValue(value)

	if info.typ.IsFloat() {
		switch loc.kind {
		case locFReg:
			f.loadFRegMem(info.typ, loc.freg, codegen.Local(info.off))
		case locStack:
			f.loadFRegMem(info.typ, codegen.FloatScratch0, codegen.Local(info.off))
			f.storeFRegMem(info.typ, codegen.Local(loc.off), codegen.FloatScratch0)
		}
	} else {
		switch loc.kind {
		case locReg:
			f.sink.MovRegMem(info.typ, loc.reg, codegen.Local(info.off))
		case locStack:
			f.sink.MovRegMem(info.typ, codegen.GeneralScratch0, codegen.Local(info.off))
			f.sink.MovMemReg(info.typ, codegen.Local(loc.off), codegen.GeneralScratch0)
		}
	}

	info2 := f.values[value]
	info2.loc = loc
	f.values[value] = info2
	return value
}

// NewLabel / BindLabel / Jump / JumpZero / JumpNonZero are thin wrappers
// over the code sink's label protocol.
func (f *Function) NewLabel() codegen.Label { return f.sink.CreateLabel() }
func (f *Function) BindLabel(l codegen.Label) { f.sink.BindLabel(l) }
func (f *Function) Jump(l codegen.Label)       { f.sink.Jmp(l) }

func (f *Function) JumpZero(v Value, l codegen.Label) {
	f.loadValueGPR(v, codegen.GeneralScratch0)
	f.sink.TestRegReg(f.typeOf(v), codegen.GeneralScratch0, codegen.GeneralScratch0)
	f.sink.Jcc(codegen.Zero, l)
}

func (f *Function) JumpNonZero(v Value, l codegen.Label) {
	f.loadValueGPR(v, codegen.GeneralScratch0)
	f.sink.TestRegReg(f.typeOf(v), codegen.GeneralScratch0, codegen.GeneralScratch0)
	f.sink.Jcc(codegen.NonZero, l)
}

// Ret moves v into RAX (integer/pointer) or XMM0 (float), emits the
// epilogue, and returns. Calling Ret more than once on the same Function
// is a programmer error the host must not do; the builder does not guard
// against it.
func (f *Function) Ret(v Value) {
	info := f.values[v]
	if info.typ.IsFloat() {
		f.loadValueFReg(v, codegen.XMM0)
	} else {
		f.loadValueGPR(v, codegen.RAX)
	}
	f.kill(v)
	f.emitEpilogue()
	f.sink.Ret()
}

// Finalize patches the prologue's frame reservation with the final frame
// size and resolves every forward jump queued against this function's sink.
// Idempotent: the frame patch writes the same value both times and
// FixForwardJumps drains its own worklist.
func (f *Function) Finalize() {
	f.sink.PatchPut4(f.frameSlot, alignUp32(f.localSize, 16))
	f.sink.FixForwardJumps()
}

// CodeSize reports the current byte length of the emitted code, used by
// the module linker to size the executable page.
func (f *Function) CodeSize() int { return f.sink.Pos() }

// ParamTypes / RetType expose the function's declared signature.
func (f *Function) ParamTypes() []codegen.Kind { return f.paramTypes }
func (f *Function) RetType() codegen.Kind      { return f.retType }
