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

// Package module is the linker: it owns a set of named functions and data
// blobs, finalizes each local function into executable memory, resolves
// host symbols for imports, and patches the absolute call-site immediates
// recorded as function.CallFixup so that inter-function and extern calls
// resolve to real runtime addresses.
package module

import (
	"encoding/binary"
	"fmt"

	"jitasm/codegen"
	"jitasm/function"
	"jitasm/memexec"
	"jitasm/utils"
)

// Kind discriminates what a resolved Module entry names: a callable
// function entry point, or a data blob's address.
type Kind int

const (
	KindFunction Kind = iota
	KindData
)

// DataContext is the resolved table entry the module exposes once Finish
// has run: every declared name -- Local, Import, Extern or DynamicImport,
// function or data -- ends up as one of these.
type DataContext struct {
	Ptr     uintptr
	Size    int
	Kind    Kind
	Linkage function.Linkage
}

// symKind mirrors Kind but stays unexported: it only needs to discriminate
// the two payload shapes a not-yet-finalized declaration can hold.
type symKind int

const (
	symFunction symKind = iota
	symData
)

// symbol is one not-yet-(or just-)finalized declaration. Only one of
// fn/data is ever populated, selected by kind; only one of externPtr
// (direct)/dynLib+dynSymbol (looked up) is meaningful, selected by linkage.
// function.Linkage is a bare tag, so the payload a linkage kind needs
// (a direct pointer, or a library/symbol pair to look up) lives here, on
// the declaration that owns it.
type symbol struct {
	name    string
	kind    symKind
	linkage function.Linkage

	fn   *function.Function // non-nil only for a Local function
	data []byte              // non-nil only for a Local data blob

	externPtr uintptr // Extern: supplied at declare time; Import/DynamicImport: filled at Finish; Local: filled at Finish
	dynLib    string  // DynamicImport only
	dynSymbol string  // Import/DynamicImport: the name looked up (defaults to the declared name for Import)

	size int                // byte size, known once finalized (Local) or declared (Import/Extern/DynamicImport data)
	mem  *memexec.Memory    // backing allocation, kept alive for the module's lifetime once finalized
}

// Module owns every declared function and data blob and, after Finish,
// their finalized addresses.
type Module struct {
	symbols  map[string]*symbol
	order    []*symbol
	resolved map[string]*DataContext
	finished bool
}

// New creates an empty module.
func New() *Module {
	return &Module{symbols: make(map[string]*symbol)}
}

func (m *Module) add(s *symbol) *symbol {
	utils.Assert(!m.finished, "module: cannot declare %q after Finish", s.name)
	_, dup := m.symbols[s.name]
	utils.Assert(!dup, "module: duplicate name %q", s.name)
	m.symbols[s.name] = s
	m.order = append(m.order, s)
	return s
}

// DeclareFunction declares a Local function and returns its builder; the
// host immediately starts lowering IR operations into it. A Local function
// is always built through the Module that will finalize it.
func (m *Module) DeclareFunction(name string, abi function.ABI, paramTypes []codegen.Kind, retType codegen.Kind) *function.Function {
	f := function.New(name, function.Local, abi, paramTypes, retType)
	m.add(&symbol{name: name, kind: symFunction, linkage: function.Local, fn: f})
	return f
}

// DeclareImportFunction declares a function resolved by name in the
// platform's default dynamic symbol namespace at Finish.
func (m *Module) DeclareImportFunction(name string) {
	m.add(&symbol{name: name, kind: symFunction, linkage: function.Import, dynSymbol: name})
}

// DeclareExternFunction declares a function whose host address is already
// known; no resolution happens at Finish.
func (m *Module) DeclareExternFunction(name string, ptr uintptr) {
	m.add(&symbol{name: name, kind: symFunction, linkage: function.Extern, externPtr: ptr})
}

// DeclareDynamicImportFunction declares a function resolved from an
// explicitly named shared library / DLL rather than the default namespace.
func (m *Module) DeclareDynamicImportFunction(name, lib, sym string) {
	m.add(&symbol{name: name, kind: symFunction, linkage: function.DynamicImport, dynLib: lib, dynSymbol: sym})
}

// DeclareData declares and defines a Local data blob in one step, the
// common case where the bytes are already in hand.
func (m *Module) DeclareData(name string, bytes []byte) {
	m.add(&symbol{name: name, kind: symData, linkage: function.Local, data: bytes})
}

// DeclareExternData declares a data blob at a known host address.
func (m *Module) DeclareExternData(name string, ptr uintptr, size int) {
	m.add(&symbol{name: name, kind: symData, linkage: function.Extern, externPtr: ptr, size: size})
}

// DeclareImportData declares a data symbol resolved by name in the default
// dynamic namespace at Finish.
func (m *Module) DeclareImportData(name string, size int) {
	m.add(&symbol{name: name, kind: symData, linkage: function.Import, dynSymbol: name, size: size})
}

// DeclareDynamicImportData declares a data symbol resolved from an
// explicitly named shared library / DLL.
func (m *Module) DeclareDynamicImportData(name, lib, sym string, size int) {
	m.add(&symbol{name: name, kind: symData, linkage: function.DynamicImport, dynLib: lib, dynSymbol: sym, size: size})
}

// GetFunction returns the builder for a previously declared Local function.
// Calling this on a non-Local declaration, or one that does not exist, is
// a programmer error.
func (m *Module) GetFunction(name string) *function.Function {
	s, ok := m.symbols[name]
	utils.Assert(ok && s.kind == symFunction && s.fn != nil, "module: %q is not a declared local function", name)
	return s.fn
}

// Finish resolves every import, finalizes every Local function and data
// blob into real memory, and patches every call-site fixup. It is
// a programmer error to call Finish twice, or to read a finalized name
// beforehand.
func (m *Module) Finish() error {
	utils.Assert(!m.finished, "module: Finish called twice")

	for _, s := range m.order {
		switch s.linkage {
		case function.Import:
			ptr, err := resolveDefault(s.dynSymbol)
			if err != nil {
				return fmt.Errorf("module: unresolved import %q: %w", s.name, err)
			}
			s.externPtr = ptr
		case function.DynamicImport:
			ptr, err := resolveFrom(s.dynLib, s.dynSymbol)
			if err != nil {
				return fmt.Errorf("module: unresolved dynamic import %q (%s!%s): %w", s.name, s.dynLib, s.dynSymbol, err)
			}
			s.externPtr = ptr
		}
	}

	for _, s := range m.order {
		if s.linkage != function.Local {
			continue
		}
		var err error
		switch s.kind {
		case symFunction:
			err = m.finalizeFunction(s)
		case symData:
			err = m.finalizeData(s)
		}
		if err != nil {
			return err
		}
	}

	m.resolved = make(map[string]*DataContext, len(m.order))
	for _, s := range m.order {
		kind := KindFunction
		if s.kind == symData {
			kind = KindData
		}
		m.resolved[s.name] = &DataContext{Ptr: s.externPtr, Size: s.size, Kind: kind, Linkage: s.linkage}
	}

	m.relocFix()

	// Pages stay writable until every call-site fixup above has been
	// patched; only now is each function's page flipped to read-execute.
	for _, s := range m.order {
		if s.kind != symFunction || s.linkage != function.Local {
			continue
		}
		if err := s.mem.MakeExecutable(); err != nil {
			return fmt.Errorf("module: protecting %q executable: %w", s.name, err)
		}
	}

	m.finished = true
	return nil
}

// finalizeFunction resolves forward jumps, 16-byte-aligns the data
// segment, allocates one page holding the data segment followed by the
// code, and records the entry point as base+dsegSize. The page is left
// writable: relocFix still has to patch the call-site immediates, so the
// read-execute flip happens in Finish after all patching is done.
func (m *Module) finalizeFunction(s *symbol) error {
	f := s.fn
	f.Finalize()
	dseg := f.DSeg()
	dseg.Align(16)
	dsegSize := int(dseg.Size())
	codeSize := f.CodeSize()

	mem, err := memexec.Alloc(dsegSize + codeSize)
	if err != nil {
		return fmt.Errorf("module: allocating executable memory for %q: %w", s.name, err)
	}
	dseg.Finalize(mem.Bytes())
	copy(mem.Bytes()[dsegSize:], f.Sink().Bytes())

	s.mem = mem
	s.externPtr = mem.BasePtr() + uintptr(dsegSize)
	s.size = codeSize
	return nil
}

// finalizeData copies a Local data blob's bytes into a dedicated
// allocation and records its address; data blobs are never marked
// executable.
func (m *Module) finalizeData(s *symbol) error {
	mem, err := memexec.Alloc(len(s.data))
	if err != nil {
		return fmt.Errorf("module: allocating memory for data %q: %w", s.name, err)
	}
	copy(mem.Bytes(), s.data)
	s.mem = mem
	s.externPtr = mem.BasePtr()
	s.size = len(s.data)
	return nil
}

// relocFix patches every CallFixup's 8-byte movabs immediate with the
// callee's resolved entry address, now that every function in the module
// has been finalized or resolved -- a callee's address is only known once
// every function has its page.
func (m *Module) relocFix() {
	for _, s := range m.order {
		if s.kind != symFunction || s.linkage != function.Local {
			continue
		}
		dsegSize := int(s.fn.DSeg().Size())
		code := s.mem.Bytes()[dsegSize:]
		for _, fx := range s.fn.Fixups {
			callee, ok := m.resolved[fx.Callee]
			utils.Assert(ok, "module: %q calls undeclared symbol %q", s.name, fx.Callee)
			binary.LittleEndian.PutUint64(code[fx.Pos:fx.Pos+8], uint64(callee.Ptr))
		}
	}
}

// GetFinalizedFunction returns a finalized function's entry point and code
// size. Calling this before Finish, or on a name that isn't a function, is
// a programmer error.
func (m *Module) GetFinalizedFunction(name string) (uintptr, int) {
	dc := m.mustResolved(name, KindFunction)
	return dc.Ptr, dc.Size
}

// GetFinalizedData returns a finalized data blob's address and size.
func (m *Module) GetFinalizedData(name string) (uintptr, int) {
	dc := m.mustResolved(name, KindData)
	return dc.Ptr, dc.Size
}

func (m *Module) mustResolved(name string, kind Kind) *DataContext {
	utils.Assert(m.finished, "module: %q read before Finish", name)
	dc, ok := m.resolved[name]
	utils.Assert(ok && dc.Kind == kind, "module: %q is not a finalized entry of the requested kind", name)
	return dc
}
