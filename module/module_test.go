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

package module

import (
	"bytes"
	"io"
	"math"
	"os"
	"runtime"
	"syscall"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"

	"jitasm/codegen"
	"jitasm/function"
)

// bind wraps a finalized entry point in a Go function value through
// purego's C-ABI trampoline. The generated code follows the System V
// calling convention, so it must be entered the way any C function would
// be, not through a direct Go function-value call (Go's own calling
// convention passes arguments in different registers).
func bind(t *testing.T, m *Module, name string, fptr interface{}) {
	t.Helper()
	ptr, size := m.GetFinalizedFunction(name)
	if ptr == 0 {
		t.Fatalf("GetFinalizedFunction(%q) returned nil entry point", name)
	}
	if size <= 0 {
		t.Fatalf("GetFinalizedFunction(%q) size = %d, want > 0", name, size)
	}
	purego.RegisterFunc(fptr, ptr)
}

// buildAdd declares `add(a, b i64) i64 { return a + b }`.
func buildAdd(m *Module) {
	f := m.DeclareFunction("add", function.SysV, []codegen.Kind{codegen.I64, codegen.I64}, codegen.I64)
	a := f.LoadParam(0)
	b := f.LoadParam(1)
	f.Ret(f.IAdd(a, b))
}

func TestFinishExecutesGeneratedAdd(t *testing.T) {
	m := New()
	buildAdd(m)

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var addFn func(int64, int64) int64
	bind(t, m, "add", &addFn)
	if got := addFn(17, 25); got != 42 {
		t.Fatalf("add(17, 25) = %d, want 42", got)
	}
	if got := addFn(2, -5); got != -3 {
		t.Fatalf("add(2, -5) = %d, want -3", got)
	}
}

func TestGetFinalizedFunctionIsStable(t *testing.T) {
	m := New()
	buildAdd(m)
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	p1, _ := m.GetFinalizedFunction("add")
	p2, _ := m.GetFinalizedFunction("add")
	if p1 != p2 {
		t.Fatalf("GetFinalizedFunction returned %#x then %#x, want identical pointers", p1, p2)
	}
}

func TestFinishIsIdempotentlyRejectedTwice(t *testing.T) {
	m := New()
	buildAdd(m)
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("second Finish() call did not panic")
		}
	}()
	_ = m.Finish()
}

func TestDuplicateNameRejected(t *testing.T) {
	m := New()
	buildAdd(m)
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate DeclareFunction name did not panic")
		}
	}()
	m.DeclareExternFunction("add", 1)
}

// TestCallFixupCrossFunctionRelocation: a Local function calling another Local function must resolve
// to the real finalized address, not the placeholder movabs immediate.
func TestCallFixupCrossFunctionRelocation(t *testing.T) {
	m := New()
	square := m.DeclareFunction("square", function.SysV, []codegen.Kind{codegen.I64}, codegen.I64)
	x := square.LoadParam(0)
	y := square.LoadParam(0)
	square.Ret(square.IMul(x, y))

	caller := m.DeclareFunction("main", function.SysV, nil, codegen.I64)
	three := caller.IConst(codegen.I64, 3)
	caller.Ret(caller.CallIndirect("square", []function.Value{three}, codegen.I64))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var mainFn func() int64
	bind(t, m, "main", &mainFn)
	if got := mainFn(); got != 9 {
		t.Fatalf("main() = %d, want 9", got)
	}

	// The 8-byte slot at every recorded fixup position must now hold the
	// callee's finalized entry, little-endian.
	squareEntry, _ := m.GetFinalizedFunction("square")
	mainEntry, _ := m.GetFinalizedFunction("main")
	fx := m.GetFunction("main").Fixups[0]
	slot := unsafe.Slice((*byte)(unsafe.Pointer(mainEntry+uintptr(fx.Pos))), 8)
	var got uintptr
	for i := 7; i >= 0; i-- {
		got = got<<8 | uintptr(slot[i])
	}
	if got != squareEntry {
		t.Fatalf("fixup slot holds %#x, want entry(square) = %#x", got, squareEntry)
	}
}

// TestFinishExecutesValueLiveAcrossCall holds a value across a call: the
// callee overwrites every caller-saved register, so the builder must have
// parked the value somewhere that survives.
func TestFinishExecutesValueLiveAcrossCall(t *testing.T) {
	m := New()
	two := m.DeclareFunction("two", function.SysV, nil, codegen.I64)
	two.Ret(two.IConst(codegen.I64, 2))

	main := m.DeclareFunction("main", function.SysV, nil, codegen.I64)
	forty := main.IConst(codegen.I64, 40)
	got := main.CallIndirect("two", nil, codegen.I64)
	main.Ret(main.IAdd(forty, got))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var mainFn func() int64
	bind(t, m, "main", &mainFn)
	if got := mainFn(); got != 42 {
		t.Fatalf("main() = %d, want 42", got)
	}
}

// TestFinishExecutesNegAndNot: negate(x) = -x, complement(x) = ^x.
func TestFinishExecutesNegAndNot(t *testing.T) {
	m := New()
	neg := m.DeclareFunction("negate", function.SysV, []codegen.Kind{codegen.I64}, codegen.I64)
	neg.Ret(neg.INeg(neg.LoadParam(0)))

	not := m.DeclareFunction("complement", function.SysV, []codegen.Kind{codegen.I64}, codegen.I64)
	not.Ret(not.INot(not.LoadParam(0)))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var negFn, notFn func(int64) int64
	bind(t, m, "negate", &negFn)
	bind(t, m, "complement", &notFn)
	if got := negFn(17); got != -17 {
		t.Fatalf("negate(17) = %d, want -17", got)
	}
	if got := notFn(0); got != -1 {
		t.Fatalf("complement(0) = %d, want -1", got)
	}
}

// TestFinishExecutesDataAddr exercises the `lea` emitter via DataAddr: a
// function that embeds a constant in its data segment and hands
// back a pointer to it rather than its value.
func TestFinishExecutesDataAddr(t *testing.T) {
	m := New()
	f := m.DeclareFunction("const_addr", function.SysV, nil, codegen.Ptr)
	f.Ret(f.DataAddr(1234))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var constAddrFn func() uintptr
	bind(t, m, "const_addr", &constAddrFn)
	addr := constAddrFn()
	if got := *(*int32)(unsafe.Pointer(addr)); got != 1234 {
		t.Fatalf("*const_addr() = %d, want 1234", got)
	}
}

// TestFinishExecutesSignExtend exercises the `movsxd` path: ISignExtend
// widens a negative I32 to I64 preserving sign.
func TestFinishExecutesSignExtend(t *testing.T) {
	m := New()
	f := m.DeclareFunction("widen", function.SysV, []codegen.Kind{codegen.I32}, codegen.I64)
	f.Ret(f.ISignExtend(f.LoadParam(0)))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var widenFn func(int32) int64
	bind(t, m, "widen", &widenFn)
	if got := widenFn(-5); got != -5 {
		t.Fatalf("widen(-5) = %d, want -5", got)
	}
}

// TestFinishExecutesIntCompare: icmp(3, 4, Less) materializes
// to 1, and replacing Less with Greater flips it to 0.
func TestFinishExecutesIntCompare(t *testing.T) {
	m := New()
	less := m.DeclareFunction("three_less_four", function.SysV, nil, codegen.I32)
	less.Ret(less.ICmp(less.IConst(codegen.I32, 3), less.IConst(codegen.I32, 4), codegen.Less))

	greater := m.DeclareFunction("three_greater_four", function.SysV, nil, codegen.I32)
	greater.Ret(greater.ICmp(greater.IConst(codegen.I32, 3), greater.IConst(codegen.I32, 4), codegen.Greater))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var lessFn, greaterFn func() int32
	bind(t, m, "three_less_four", &lessFn)
	bind(t, m, "three_greater_four", &greaterFn)
	if got := lessFn(); got != 1 {
		t.Fatalf("icmp(3, 4, Less) = %d, want 1", got)
	}
	if got := greaterFn(); got != 0 {
		t.Fatalf("icmp(3, 4, Greater) = %d, want 0", got)
	}
}

// TestFinishExecutesNaNCompareUnordered: comparing NaN
// against itself for equality must yield 0 via the parity-flag path, not
// the plain sete encoding that would wrongly read ZF=1 on the unordered
// case.
func TestFinishExecutesNaNCompareUnordered(t *testing.T) {
	m := New()
	f := m.DeclareFunction("nan_eq_self", function.SysV, nil, codegen.I32)
	nan := f.FConst(codegen.F64, math.NaN())
	f.Ret(f.FCmp(nan, nan, codegen.Equal))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var fn func() int32
	bind(t, m, "nan_eq_self", &fn)
	if got := fn(); got != 0 {
		t.Fatalf("fcmp(NaN, NaN, Equal) = %d, want 0", got)
	}
}

// TestFinishExecutesDivMod: truncated-toward-zero division
// and remainder for a negative dividend.
func TestFinishExecutesDivMod(t *testing.T) {
	m := New()
	q := m.DeclareFunction("neg7_div_2", function.SysV, nil, codegen.I32)
	q.Ret(q.IDiv(q.IConst(codegen.I32, -7), q.IConst(codegen.I32, 2)))

	r := m.DeclareFunction("neg7_mod_2", function.SysV, nil, codegen.I32)
	r.Ret(r.IMod(r.IConst(codegen.I32, -7), r.IConst(codegen.I32, 2)))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var qFn, rFn func() int32
	bind(t, m, "neg7_div_2", &qFn)
	bind(t, m, "neg7_mod_2", &rFn)
	if got := qFn(); got != -3 {
		t.Fatalf("idiv(-7, 2) = %d, want -3", got)
	}
	if got := rFn(); got != -1 {
		t.Fatalf("imod(-7, 2) = %d, want -1", got)
	}
}

// TestFinishExecutesPutsImport: an Import-linked host
// symbol ("puts") called through call_indirect with the address of a
// host-resident C string, resolved from the default dynamic namespace at
// Finish. The string's address is already known at IR-build time (it is
// ordinary pinned Go memory, not a module-owned data blob), so it is
// passed as an I64 immediate.
func TestFinishExecutesPutsImport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("puts stdout capture via syscall.Dup2 is POSIX-only")
	}
	m := New()
	m.DeclareImportFunction("puts")

	main := m.DeclareFunction("main", function.SysV, nil, codegen.I32)
	msg := append([]byte("Hello,world!"), 0)
	addr := int64(uintptr(unsafe.Pointer(&msg[0])))
	s := main.IConst(codegen.I64, addr)
	r := main.CallIndirect("puts", []function.Value{s}, codegen.I32)
	main.Ret(r)

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var mainFn func() int32
	bind(t, m, "main", &mainFn)

	r2, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	savedStdout, err := syscall.Dup(1)
	if err != nil {
		t.Fatalf("dup stdout: %v", err)
	}
	if err := syscall.Dup2(int(w.Fd()), 1); err != nil {
		t.Fatalf("dup2 stdout: %v", err)
	}

	got := mainFn()

	// puts writes through libc's stdout buffer, which is fully buffered on
	// a pipe; flush it before fd 1 is restored.
	fflush, err := resolveDefault("fflush")
	if err != nil {
		t.Fatalf("resolve fflush: %v", err)
	}
	purego.SyscallN(fflush, 0)

	w.Close()
	syscall.Dup2(savedStdout, 1)
	syscall.Close(savedStdout)
	out, _ := io.ReadAll(r2)
	r2.Close()
	runtime.KeepAlive(msg)

	if got < 0 {
		t.Fatalf("main() (puts return) = %d, want >= 0", got)
	}
	if !bytes.Contains(out, []byte("Hello,world!")) {
		t.Fatalf("captured stdout = %q, want it to contain %q", out, "Hello,world!")
	}
}

// TestFinishExecutesLoopWithVariables exercises variables, backward labels,
// and jump_zero: sum(n) = 0+1+...+n computed with a counting loop rather
// than straight-line arithmetic, proving label binding, the fixed-up
// forward jump_zero, the backward jmp, and def_var/use_var round trips all
// work together.
func TestFinishExecutesLoopWithVariables(t *testing.T) {
	m := New()
	f := m.DeclareFunction("sum_to_n", function.SysV, []codegen.Kind{codegen.I32}, codegen.I32)

	n := f.DeclareVariable(codegen.I32)
	f.DefVar(n, f.LoadParam(0))
	acc := f.DeclareVariable(codegen.I32)
	f.DefVar(acc, f.IConst(codegen.I32, 0))

	loop := f.NewLabel()
	f.BindLabel(loop)

	nv := f.UseVar(n)
	cond := f.ICmp(nv, f.IConst(codegen.I32, 0), codegen.NotEqual)
	done := f.NewLabel()
	f.JumpZero(cond, done)

	f.DefVar(acc, f.IAdd(f.UseVar(acc), f.UseVar(n)))
	f.DefVar(n, f.ISub(f.UseVar(n), f.IConst(codegen.I32, 1)))
	f.Jump(loop)

	f.BindLabel(done)
	f.Ret(f.UseVar(acc))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var fn func(int32) int32
	bind(t, m, "sum_to_n", &fn)
	if got := fn(10); got != 55 {
		t.Fatalf("sum_to_n(10) = %d, want 55", got)
	}
	if got := fn(0); got != 0 {
		t.Fatalf("sum_to_n(0) = %d, want 0", got)
	}
}

// TestFinishExecutesFloatArithmetic exercises the F64 fadd/fmul path and
// float-typed LoadParam/Ret through XMM registers.
func TestFinishExecutesFloatArithmetic(t *testing.T) {
	m := New()
	f := m.DeclareFunction("quadratic", function.SysV, []codegen.Kind{codegen.F64, codegen.F64}, codegen.F64)
	x := f.LoadParam(0)
	c := f.LoadParam(1)
	sq := f.FMul(x, x)
	f.Ret(f.FAdd(sq, c))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var fn func(float64, float64) float64
	bind(t, m, "quadratic", &fn)
	if got := fn(3.0, 1.5); got != 10.5 {
		t.Fatalf("quadratic(3.0, 1.5) = %v, want 10.5", got)
	}
}

// TestFinishExecutesStackArgumentOverflow: a call with 9 integer arguments places the first 6 in RDI/RSI/RDX/RCX/
// R8/R9 and the remaining 3 on the stack at increasing RSP offsets.
func TestFinishExecutesStackArgumentOverflow(t *testing.T) {
	m := New()
	nine := make([]codegen.Kind, 9)
	for i := range nine {
		nine[i] = codegen.I64
	}
	sum9 := m.DeclareFunction("sum9", function.SysV, nine, codegen.I64)
	total := sum9.LoadParam(0)
	for i := 1; i < 9; i++ {
		total = sum9.IAdd(total, sum9.LoadParam(i))
	}
	sum9.Ret(total)

	caller := m.DeclareFunction("call_sum9", function.SysV, nil, codegen.I64)
	args := make([]function.Value, 9)
	for i := range args {
		args[i] = caller.IConst(codegen.I64, int64(i+1))
	}
	caller.Ret(caller.CallIndirect("sum9", args, codegen.I64))

	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var fn func() int64
	bind(t, m, "call_sum9", &fn)
	if got := fn(); got != 45 {
		t.Fatalf("call_sum9() = %d, want 45 (1+...+9)", got)
	}
}

func TestDeclareExternFunctionSkipsResolution(t *testing.T) {
	m := New()
	var sentinel int64 = 7
	m.DeclareExternFunction("sentinel_addr", uintptr(unsafe.Pointer(&sentinel)))
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	ptr, _ := m.GetFinalizedFunction("sentinel_addr")
	if ptr != uintptr(unsafe.Pointer(&sentinel)) {
		t.Fatal("extern function address was not carried through verbatim")
	}
}

// TestFinishExecutesLocalDataBlob round-trips a Local data declaration:
// define bytes, finalize, read them back at the recorded address.
func TestFinishExecutesLocalDataBlob(t *testing.T) {
	m := New()
	m.DeclareData("greeting", []byte("hi\x00"))
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	ptr, size := m.GetFinalizedData("greeting")
	if size != 3 {
		t.Fatalf("data size = %d, want 3", size)
	}
	got := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	if !bytes.Equal(got, []byte("hi\x00")) {
		t.Fatalf("finalized data = %q, want %q", got, "hi\x00")
	}
}

func TestUnresolvedImportSurfacesSymbolName(t *testing.T) {
	m := New()
	m.DeclareImportFunction("definitely_not_a_real_symbol_xyzzy")
	err := m.Finish()
	if err == nil {
		t.Fatal("Finish resolved a symbol that cannot exist")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("definitely_not_a_real_symbol_xyzzy")) {
		t.Fatalf("error %q does not name the missing symbol", err)
	}
}
