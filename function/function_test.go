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
	"bytes"
	"testing"

	"jitasm/codegen"
)

// The prologue reserves the frame with a full-width immediate that Finalize
// patches once the body has grown the frame to its final size.
func TestPrologueReservesPatchedFrame(t *testing.T) {
	f := New("frame", Local, SysV, nil, codegen.I64)
	f.DeclareVariable(codegen.I64)
	f.Finalize()

	code := f.Sink().Bytes()
	// push rbp; mov rbp, rsp; sub rsp, 16
	want := []byte{0x55, 0x48, 0x89, 0xe5, 0x48, 0x81, 0xec, 0x10, 0x00, 0x00, 0x00}
	if !bytes.HasPrefix(code, want) {
		t.Fatalf("prologue = % x, want prefix % x", code[:len(want)], want)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := New("twice", Local, SysV, nil, codegen.I64)
	lbl := f.NewLabel()
	f.Jump(lbl)
	f.BindLabel(lbl)
	f.Finalize()
	first := append([]byte(nil), f.Sink().Bytes()...)
	f.Finalize()
	if !bytes.Equal(first, f.Sink().Bytes()) {
		t.Fatal("second Finalize changed the emitted bytes")
	}
}

// At every point, used and free partition the allocatable set.
func TestRegisterPoolPartitionStaysDisjoint(t *testing.T) {
	f := New("pool", Local, SysV, nil, codegen.I64)
	vals := make([]Value, 0, 15)
	for i := 0; i < 15; i++ {
		vals = append(vals, f.IConst(codegen.I64, int64(i)))
		checkPartition(t, f.pool)
	}
	for _, v := range vals {
		f.kill(v)
		checkPartition(t, f.pool)
	}
}

func checkPartition(t *testing.T, p *regPool) {
	t.Helper()
	used := p.usedGPRSet()
	free := p.freeGPRSet()
	seen := make(map[codegen.Register]bool)
	for _, r := range used {
		seen[r] = true
	}
	for _, r := range free {
		if seen[r] {
			t.Fatalf("register %v is both used and free", r)
		}
		seen[r] = true
	}
	if len(seen) != len(p.gprPref) {
		t.Fatalf("used+free covers %d registers, want %d", len(seen), len(p.gprPref))
	}
}

// The first time the pool hands out a callee-saved register its incoming
// contents are parked in the frame, and the epilogue reloads them.
func TestCalleeSavedRegisterSavedOnFirstUse(t *testing.T) {
	f := New("callee_saved", Local, SysV, nil, codegen.I64)
	// Seven constants drain the caller-saved set; the eighth takes RBX.
	var last Value
	for i := 0; i < 8; i++ {
		last = f.IConst(codegen.I64, int64(i))
	}
	if len(f.savedGPRs) != 1 || f.savedGPRs[0].reg != codegen.RBX {
		t.Fatalf("savedGPRs = %+v, want exactly RBX", f.savedGPRs)
	}
	if f.savedGPRs[0].off >= 0 {
		t.Fatalf("save slot offset = %d, want negative (below RBP)", f.savedGPRs[0].off)
	}

	before := f.Sink().Pos()
	f.Ret(last)
	epilogue := f.Sink().Bytes()[before:]
	// mov rbx, [rbp+disp8] somewhere before the final ret.
	reload := []byte{0x48, 0x8b, 0x5d}
	if !bytes.Contains(epilogue, reload) {
		t.Fatalf("epilogue % x does not reload rbx from its save slot", epilogue)
	}
}

// A call's fixup records the position of the movabs immediate, bracketed by
// the movabs opcode bytes and the indirect call through RAX.
func TestCallIndirectFixupSlotShape(t *testing.T) {
	f := New("caller", Local, SysV, nil, codegen.I32)
	arg := f.IConst(codegen.I64, 1)
	f.CallIndirect("callee", []Value{arg}, codegen.I32)

	if len(f.Fixups) != 1 {
		t.Fatalf("got %d fixups, want 1", len(f.Fixups))
	}
	fx := f.Fixups[0]
	if fx.Callee != "callee" {
		t.Fatalf("fixup callee = %q, want %q", fx.Callee, "callee")
	}
	code := f.Sink().Bytes()
	if got := code[fx.Pos-2 : fx.Pos]; !bytes.Equal(got, []byte{0x48, 0xb8}) {
		t.Fatalf("bytes before fixup slot = % x, want movabs rax prefix 48 b8", got)
	}
	for i := 0; i < 8; i++ {
		if code[fx.Pos+i] != 0 {
			t.Fatalf("fixup placeholder byte %d = %#x, want 0", i, code[fx.Pos+i])
		}
	}
	if got := code[fx.Pos+8 : fx.Pos+10]; !bytes.Equal(got, []byte{0xff, 0xd0}) {
		t.Fatalf("bytes after fixup slot = % x, want call rax ff d0", got)
	}
}

// With 9 integer arguments on System V, six ride in registers (staged
// through the reserved area) and three overflow, so the call reserves
// align16(6*8 + 3*8) = 80 bytes.
func TestCallIndirectReservesAlignedArgArea(t *testing.T) {
	f := New("caller", Local, SysV, nil, codegen.I64)
	args := make([]Value, 9)
	for i := range args {
		args[i] = f.IConst(codegen.I64, int64(i))
	}
	f.CallIndirect("sink9", args, codegen.I64)

	code := f.Sink().Bytes()
	if !bytes.Contains(code, []byte{0x48, 0x83, 0xec, 0x50}) {
		t.Fatalf("call sequence does not reserve 80 bytes (sub rsp, 0x50):\n% x", code)
	}
	if !bytes.Contains(code, []byte{0x48, 0x83, 0xc4, 0x50}) {
		t.Fatalf("call sequence does not release the 80 bytes (add rsp, 0x50):\n% x", code)
	}
}

// A Win64 call with no arguments still reserves the 32-byte shadow area.
func TestCallIndirectWin64ShadowSpace(t *testing.T) {
	f := New("caller", Local, Win64, nil, codegen.I32)
	f.CallIndirect("ext", nil, codegen.I32)

	if !bytes.Contains(f.Sink().Bytes(), []byte{0x48, 0x83, 0xec, 0x20}) {
		t.Fatalf("no 32-byte shadow reservation (sub rsp, 0x20) in:\n% x", f.Sink().Bytes())
	}
}

// A value that stays live past a call may not remain in a caller-saved
// register; the builder parks it in the frame.
func TestCallSpillsCallerSavedHomes(t *testing.T) {
	f := New("spill", Local, SysV, nil, codegen.I64)
	v := f.IConst(codegen.I64, 40)
	if loc := f.values[v].loc; loc.kind != locReg {
		t.Fatalf("fresh constant not in a register: %+v", loc)
	}
	f.CallIndirect("other", nil, codegen.I64)
	if loc := f.values[v].loc; loc.kind != locStack {
		t.Fatalf("value home after call = %+v, want a stack slot", loc)
	}
}

// Float values spill too: System V preserves no XMM register across calls.
func TestCallSpillsFloatHomes(t *testing.T) {
	f := New("fspill", Local, SysV, nil, codegen.F64)
	v := f.FConst(codegen.F64, 1.5)
	if loc := f.values[v].loc; loc.kind != locFReg {
		t.Fatalf("fresh float constant not in an XMM register: %+v", loc)
	}
	f.CallIndirect("other", nil, codegen.F64)
	if loc := f.values[v].loc; loc.kind != locStack {
		t.Fatalf("float home after call = %+v, want a stack slot", loc)
	}
}

func TestDefVarTypeMismatchPanics(t *testing.T) {
	f := New("mismatch", Local, SysV, nil, codegen.I64)
	v := f.DeclareVariable(codegen.I64)
	val := f.IConst(codegen.I32, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("DefVar with mismatched types did not panic")
		}
	}()
	f.DefVar(v, val)
}

// use_var returns a fresh value each time; both copies coexist.
func TestUseVarReturnsFreshCopies(t *testing.T) {
	f := New("copies", Local, SysV, nil, codegen.I64)
	v := f.DeclareVariable(codegen.I64)
	f.DefVar(v, f.IConst(codegen.I64, 7))

	a := f.UseVar(v)
	b := f.UseVar(v)
	if a == b {
		t.Fatal("UseVar returned the same handle twice")
	}
	la, lb := f.values[a].loc, f.values[b].loc
	if la.kind == locReg && lb.kind == locReg && la.reg == lb.reg {
		t.Fatalf("both copies share register %v", la.reg)
	}
}

// I8 operands are widened to I32 before any ALU work (movzx appears in the
// stream), and their spill slots are 4 bytes wide.
func TestI8OperandsWidenedBeforeALU(t *testing.T) {
	f := New("bytes8", Local, SysV, nil, codegen.I8)
	a := f.IConst(codegen.I8, 5)
	b := f.IConst(codegen.I8, 3)
	before := f.Sink().Pos()
	f.IAdd(a, b)
	if !bytes.Contains(f.Sink().Bytes()[before:], []byte{0x0f, 0xb6}) {
		t.Fatal("no movzx in the i8 add lowering")
	}

	off1 := f.allocateStack(codegen.I8)
	off2 := f.allocateStack(codegen.I8)
	if off1-off2 < 4 {
		t.Fatalf("i8 slots %d and %d overlap under 4-byte stores", off1, off2)
	}
}

// Incoming parameters land in stack-resident variables; LoadParam hands
// back a copy without disturbing the original slot.
func TestLoadParamCopiesIncomingParameter(t *testing.T) {
	f := New("params", Local, SysV, []codegen.Kind{codegen.I64, codegen.F64}, codegen.I64)
	if len(f.paramVars) != 2 {
		t.Fatalf("paramVars = %d entries, want 2", len(f.paramVars))
	}
	p0 := f.LoadParam(0)
	p1 := f.LoadParam(1)
	if f.typeOf(p0) != codegen.I64 || f.typeOf(p1) != codegen.F64 {
		t.Fatalf("param types = %v, %v", f.typeOf(p0), f.typeOf(p1))
	}
	again := f.LoadParam(0)
	if again == p0 {
		t.Fatal("LoadParam returned the same handle twice")
	}
}
