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

// Package regalloc implements a graph-coloring register allocator, an
// alternate lowering path beside the immediate-mode builder's fixed
// push/pop policy (package function). It operates on its own small
// CFG/LIR rather than function's eager one-pass codegen.
package regalloc

import "jitasm/utils"

// TermKind classifies how a Block hands control to its successors.
type TermKind int

const (
	TermJump TermKind = iota
	TermJumpCondInt
	TermJumpCondFloat
	TermSelect
	TermReturn
	TermTailCall
)

// Reg is a virtual register index. Negative values denote precolored
// (physical) registers so the allocator can pin call-clobbered and
// ABI-fixed operands.
type Reg int

// IsPrecolored reports whether r names a physical register rather than a
// virtual one.
func (r Reg) IsPrecolored() bool { return r < 0 }

// Instr is one LIR instruction: it defines at most one register, uses zero
// or more, and optionally behaves as a register-to-register move (the
// coalescing hint interference.go consumes).
type Instr struct {
	Def     Reg
	HasDef  bool
	Uses    []Reg
	IsMove  bool // true for plain reg-to-reg copies; move-coalescing target
	MoveSrc Reg  // valid only when IsMove
}

// Block is one basic block in the CFG: a straight-line Instr run ended by a
// terminator that names its successors.
type Block struct {
	ID    int
	Instr []Instr

	Term     TermKind
	TermUses []Reg // operands the terminator itself reads (e.g. a cmp result)

	Preds []*Block
	Succs []*Block
}

// Func is a CFG: an entry block plus every block reachable from it.
type Func struct {
	Entry  *Block
	Blocks []*Block
}

// NewFunc builds a Func from entry plus the full block list; entry must
// appear in blocks. Caller wires Preds/Succs via AddEdge before running any
// analysis.
func NewFunc(entry *Block, blocks []*Block) *Func {
	utils.Assert(entry != nil, "regalloc: nil entry block")
	found := false
	for _, b := range blocks {
		if b == entry {
			found = true
			break
		}
	}
	utils.Assert(found, "regalloc: entry block not present in blocks")
	return &Func{Entry: entry, Blocks: blocks}
}

// AddEdge records a control-flow edge from -> to, wiring both sides'
// Preds/Succs in one call so callers can't forget the reverse link.
func AddEdge(from, to *Block) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// AllUses returns every register this instruction reads, including the
// move source when IsMove is set.
func (in *Instr) AllUses() []Reg {
	if in.IsMove {
		return append(append([]Reg{}, in.Uses...), in.MoveSrc)
	}
	return in.Uses
}
