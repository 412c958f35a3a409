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

package regalloc

import "sort"

// Allocation is the result of coloring: a physical register (as a color
// index in [0,k)) or a stack slot for every virtual register, plus the set
// of moves coloring coalesced away.
type Allocation struct {
	Color       map[Reg]Reg  // virtual register -> assigned physical register
	Spilled     map[Reg]bool // virtual register -> spilled to a stack slot
	StackSlot   map[Reg]int  // spilled register -> slot index
	CoalescedTo map[Reg]Reg  // move-eliminated register -> the register it now aliases
}

// Color runs Chaitin-Briggs coloring over g with k physical-register
// colors. loops may be nil (treated as "no loop information", depth 0
// everywhere); when present it weights spill cost by loop nesting depth.
// Which registers spill is decided by the simplify/select order alone; the
// spill cost only orders the stack slots of the registers that failed to
// color, cheapest first.
func Color(fn *Func, g *InterferenceGraph, lv *Liveness, loops *LoopTree, k int) *Allocation {
	alloc := &Allocation{
		Color:       make(map[Reg]Reg),
		Spilled:     make(map[Reg]bool),
		StackSlot:   make(map[Reg]int),
		CoalescedTo: make(map[Reg]Reg),
	}

	coalesced := coalesceMoves(g)
	rep := func(r Reg) Reg {
		for {
			to, ok := coalesced[r]
			if !ok {
				return r
			}
			r = to
		}
	}

	// Rebuild adjacency over representatives: every virtual register g
	// knows about maps to itself or to whatever it was coalesced into.
	adj := make(map[Reg]map[Reg]bool)
	nodeSet := make(map[Reg]bool)
	for _, n := range g.Nodes() {
		rn := rep(n)
		nodeSet[rn] = true
		if adj[rn] == nil {
			adj[rn] = make(map[Reg]bool)
		}
	}
	precolored := make(map[Reg]map[Reg]bool) // representative -> precolored neighbors
	for _, n := range g.Nodes() {
		rn := rep(n)
		for _, m := range g.Neighbors(n) {
			if m.IsPrecolored() {
				if precolored[rn] == nil {
					precolored[rn] = make(map[Reg]bool)
				}
				precolored[rn][m] = true
				continue
			}
			rm := rep(m)
			if rn == rm {
				continue
			}
			adj[rn][rm] = true
			adj[rm][rn] = true
		}
	}

	stack := simplify(nodeSet, adj, k)

	assigned := make(map[Reg]Reg)
	var spilled []Reg
	for i := len(stack) - 1; i >= 0; i-- {
		r := stack[i]
		used := make(map[Reg]bool)
		for n := range precolored[r] {
			used[n] = true
		}
		for n := range adj[r] {
			if c, ok := assigned[n]; ok {
				used[c] = true
			}
		}
		color, ok := pickColor(k, used)
		if !ok {
			spilled = append(spilled, r)
			continue
		}
		assigned[r] = color
	}

	spillCost := computeSpillCost(fn, lv, loops)
	sort.Slice(spilled, func(i, j int) bool { return spillCost[spilled[i]] < spillCost[spilled[j]] })
	for slot, r := range spilled {
		alloc.Spilled[r] = true
		alloc.StackSlot[r] = slot
	}
	for r, c := range assigned {
		alloc.Color[r] = c
	}
	for _, n := range g.Nodes() {
		if n.IsPrecolored() {
			continue
		}
		rn := rep(n)
		if rn == n {
			continue
		}
		alloc.CoalescedTo[n] = rn
		if c, ok := assigned[rn]; ok {
			alloc.Color[n] = c
		} else if alloc.Spilled[rn] {
			alloc.Spilled[n] = true
			alloc.StackSlot[n] = alloc.StackSlot[rn]
		}
	}
	return alloc
}

// Rewrite applies the allocation to fn in place: every colored virtual
// register id in the instruction stream is replaced by its physical
// register id, and a move whose two sides landed in the same register is
// deleted. Spilled registers keep their virtual ids; inserting their
// loads and stores is the caller's concern.
func (a *Allocation) Rewrite(fn *Func) {
	mapReg := func(r Reg) Reg {
		if r.IsPrecolored() {
			return r
		}
		if c, ok := a.Color[r]; ok {
			return c
		}
		return r
	}
	for _, b := range fn.Blocks {
		kept := b.Instr[:0]
		for _, in := range b.Instr {
			if in.HasDef {
				in.Def = mapReg(in.Def)
			}
			for i, u := range in.Uses {
				in.Uses[i] = mapReg(u)
			}
			if in.IsMove {
				in.MoveSrc = mapReg(in.MoveSrc)
				if in.HasDef && in.Def == in.MoveSrc {
					continue
				}
			}
			kept = append(kept, in)
		}
		b.Instr = kept
		for i, u := range b.TermUses {
			b.TermUses[i] = mapReg(u)
		}
	}
}

// coalesceMoves merges every move-related pair whose coalesced classes have
// no interference edge between any of their members (no Briggs degree test
// is applied). Pairs are visited in register order and the lower-numbered
// representative is kept. Returns a map from the eliminated register to the
// representative it was folded into.
func coalesceMoves(g *InterferenceGraph) map[Reg]Reg {
	coalescedTo := make(map[Reg]Reg)
	rep := func(r Reg) Reg {
		for {
			to, ok := coalescedTo[r]
			if !ok {
				return r
			}
			r = to
		}
	}
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	classesInterfere := func(x, y Reg) bool {
		for _, n := range nodes {
			for _, m := range nodes {
				if rep(n) == x && rep(m) == y && g.Interferes(n, m) {
					return true
				}
			}
		}
		return false
	}
	for _, a := range nodes {
		for _, b := range nodes {
			if !g.IsMoveRelated(a, b) {
				continue
			}
			ra, rb := rep(a), rep(b)
			if ra == rb || classesInterfere(ra, rb) {
				continue
			}
			if rb < ra {
				ra, rb = rb, ra
			}
			coalescedTo[rb] = ra
		}
	}
	return coalescedTo
}

// simplify builds the coloring stack by repeatedly removing a node with
// fewer than k live neighbors (always safely colorable once its neighbors
// are). When no such node remains, it optimistically removes the
// highest-degree node anyway -- Briggs' "optimistic coloring" -- deferring
// the spill decision until the assignment pass actually fails to find a
// free color for it.
func simplify(nodeSet map[Reg]bool, adj map[Reg]map[Reg]bool, k int) []Reg {
	remaining := make(map[Reg]bool, len(nodeSet))
	for n := range nodeSet {
		remaining[n] = true
	}
	degree := func(r Reg) int {
		d := 0
		for n := range adj[r] {
			if remaining[n] {
				d++
			}
		}
		return d
	}

	var stack []Reg
	for len(remaining) > 0 {
		var picked Reg
		best := -1
		for r := range remaining {
			d := degree(r)
			if d < k {
				picked = r
				break
			}
			if d > best {
				best, picked = d, r
			}
		}
		stack = append(stack, picked)
		delete(remaining, picked)
	}
	return stack
}

// pickColor returns the lowest-numbered color in [0,k) not present in used.
func pickColor(k int, used map[Reg]bool) (Reg, bool) {
	for c := 0; c < k; c++ {
		if !used[Reg(c)] {
			return Reg(c), true
		}
	}
	return 0, false
}

// computeSpillCost assigns every virtual register a cost: how many times it
// is used or defined, weighted 10^loopDepth per occurrence so a register
// that is only hot inside a deep loop is far more expensive to spill than
// one that is merely used many times at the top level. Color gives
// lower-cost spilled registers the lower stack-slot indices.
func computeSpillCost(fn *Func, lv *Liveness, loops *LoopTree) map[Reg]float64 {
	cost := make(map[Reg]float64)
	for _, b := range fn.Blocks {
		weight := 1.0
		if loops != nil {
			depth := loops.LoopDepthOf(b)
			for i := 0; i < depth; i++ {
				weight *= 10
			}
		}
		add := func(r Reg) {
			if r.IsPrecolored() {
				return
			}
			cost[r] += weight
		}
		for _, u := range b.TermUses {
			add(u)
		}
		for _, in := range b.Instr {
			for _, u := range in.AllUses() {
				add(u)
			}
			if in.HasDef {
				add(in.Def)
			}
		}
	}
	return cost
}
