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

import "jitasm/utils"

// Liveness holds the per-block gen/kill and live-in/out sets of the
// classic backward dataflow:
//
//	in[b]  = use[b] ∪ (out[b] − def[b])
//	out[b] = ∪ in[s] for every successor s
//
// The interference graph built from this (interference.go) must hold
// across arbitrary control flow, which is why liveness is computed at the
// block level rather than over a single linear schedule.
type Liveness struct {
	fn *Func

	gen  map[*Block]*utils.Set[Reg]
	kill map[*Block]*utils.Set[Reg]
	in   map[*Block]*utils.Set[Reg]
	out  map[*Block]*utils.Set[Reg]
}

// In returns the set of registers live on entry to b.
func (lv *Liveness) In(b *Block) *utils.Set[Reg] { return lv.in[b] }

// Out returns the set of registers live on exit from b.
func (lv *Liveness) Out(b *Block) *utils.Set[Reg] { return lv.out[b] }

// ComputeLiveness runs the standard backward fixed-point dataflow over fn.
// Iteration order doesn't matter for correctness (only for how many passes
// it takes to converge), so this walks fn.Blocks directly rather than
// computing a reverse-postorder.
func ComputeLiveness(fn *Func) *Liveness {
	lv := &Liveness{
		fn:   fn,
		gen:  make(map[*Block]*utils.Set[Reg], len(fn.Blocks)),
		kill: make(map[*Block]*utils.Set[Reg], len(fn.Blocks)),
		in:   make(map[*Block]*utils.Set[Reg], len(fn.Blocks)),
		out:  make(map[*Block]*utils.Set[Reg], len(fn.Blocks)),
	}
	for _, b := range fn.Blocks {
		gen, kill := computeGenKill(b)
		lv.gen[b] = gen
		lv.kill[b] = kill
		lv.in[b] = utils.NewSet[Reg]()
		lv.out[b] = utils.NewSet[Reg]()
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			newOut := utils.NewSet[Reg]()
			for _, s := range b.Succs {
				newOut.Union(lv.in[s])
			}
			newIn := newOut.Clone()
			newIn.Subtract(lv.kill[b])
			newIn.Union(lv.gen[b])

			if !newIn.Equal(lv.in[b]) || !newOut.Equal(lv.out[b]) {
				changed = true
				lv.in[b] = newIn
				lv.out[b] = newOut
			}
		}
	}
	return lv
}

// computeGenKill walks b forward, in program order, the textbook way to
// tell an upward-exposed use (one with no preceding local definition, which
// belongs in gen) from a use of a value the block defines itself (which
// does not make the register live-in).
func computeGenKill(b *Block) (gen, kill *utils.Set[Reg]) {
	gen = utils.NewSet[Reg]()
	kill = utils.NewSet[Reg]()

	noteUse := func(r Reg) {
		if !kill.Contains(r) {
			gen.Add(r)
		}
	}
	for _, in := range b.Instr {
		for _, u := range in.AllUses() {
			noteUse(u)
		}
		if in.HasDef {
			kill.Add(in.Def)
		}
	}
	for _, u := range b.TermUses {
		noteUse(u)
	}
	return gen, kill
}
