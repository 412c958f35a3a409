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

import "fmt"

// DomTree is the iterative worklist dominator computation. It runs in
// O(n^2) worst case, which is fine at the basic-block counts a single
// function's LIR produces.
//
// a dom b if every path from entry to b passes through a. a sdom b if
// additionally a != b. a idom b if a sdom b and no c has a sdom c sdom b.
type DomTree struct {
	Fn  *Func
	Dom map[*Block][]*Block
}

func (dt *DomTree) IsDominate(a, b *Block) bool {
	for _, dom := range dt.Dom[b] {
		if dom == a {
			return true
		}
	}
	return false
}

func (dt *DomTree) IsSDominate(a, b *Block) bool {
	return dt.IsDominate(a, b) && a != b
}

func (dt *DomTree) IsIDominate(a, b *Block) bool {
	if !dt.IsSDominate(a, b) {
		return false
	}
	for _, c := range dt.Dom[b] {
		if c != a && c != b && dt.IsSDominate(a, c) {
			return false
		}
	}
	return true
}

func intersectBlocks(a, b []*Block) []*Block {
	if len(a) > len(b) {
		a, b = b, a
	}
	res := make([]*Block, 0, len(a))
	for _, x := range a {
		for _, y := range b {
			if x == y {
				res = append(res, x)
				break
			}
		}
	}
	return res
}

func unionBlocks(a, b []*Block) []*Block {
	m := make(map[*Block]bool, len(a)+len(b))
	for _, x := range a {
		m[x] = true
	}
	for _, x := range b {
		m[x] = true
	}
	res := make([]*Block, 0, len(m))
	for x := range m {
		res = append(res, x)
	}
	return res
}

func (dt *DomTree) String() string {
	s := "== Dom Tree:\n"
	for block, doms := range dt.Dom {
		s += fmt.Sprintf("b%d:", block.ID)
		for _, dom := range doms {
			s += fmt.Sprintf(" b%d", dom.ID)
		}
		s += "\n"
	}
	return s
}

// BuildDomTree computes the dominator relation for every block in fn.
func BuildDomTree(fn *Func) *DomTree {
	dom := make(map[*Block][]*Block, len(fn.Blocks))
	dom[fn.Entry] = []*Block{fn.Entry}
	for _, block := range fn.Blocks {
		if block == fn.Entry {
			continue
		}
		dom[block] = fn.Blocks
	}

	changed := true
	for changed {
		changed = false
		for _, block := range fn.Blocks {
			if block == fn.Entry {
				continue
			}
			var newdom []*Block
			if len(block.Preds) > 0 {
				newdom = dom[block.Preds[0]]
				for _, pred := range block.Preds[1:] {
					newdom = intersectBlocks(newdom, dom[pred])
				}
			}
			newdom = unionBlocks(newdom, []*Block{block})
			if len(newdom) != len(dom[block]) {
				changed = true
				dom[block] = newdom
			}
		}
	}
	return &DomTree{Fn: fn, Dom: dom}
}
