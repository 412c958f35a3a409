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

// InterferenceGraph pairs two virtual registers whenever one is live at a
// point where the other is defined -- the classic Chaitin construction --
// and separately tracks move-related pairs so color.go can prefer
// coalescing them into a single register instead of an arbitrary edge.
type InterferenceGraph struct {
	adj   map[Reg]map[Reg]bool
	moves map[Reg]map[Reg]bool
	degs  map[Reg]int
	nodes map[Reg]bool
}

func newInterferenceGraph() *InterferenceGraph {
	return &InterferenceGraph{
		adj:   make(map[Reg]map[Reg]bool),
		moves: make(map[Reg]map[Reg]bool),
		degs:  make(map[Reg]int),
		nodes: make(map[Reg]bool),
	}
}

func (g *InterferenceGraph) addNode(r Reg) {
	if g.nodes[r] {
		return
	}
	g.nodes[r] = true
	g.adj[r] = make(map[Reg]bool)
	g.moves[r] = make(map[Reg]bool)
	g.degs[r] = 0
}

// Nodes returns every virtual register touched by the graph.
func (g *InterferenceGraph) Nodes() []Reg {
	out := make([]Reg, 0, len(g.nodes))
	for r := range g.nodes {
		if !r.IsPrecolored() {
			out = append(out, r)
		}
	}
	return out
}

// Degree returns the number of distinct interference neighbors of r.
func (g *InterferenceGraph) Degree(r Reg) int { return g.degs[r] }

// Neighbors returns the registers r interferes with.
func (g *InterferenceGraph) Neighbors(r Reg) []Reg {
	out := make([]Reg, 0, len(g.adj[r]))
	for n := range g.adj[r] {
		out = append(out, n)
	}
	return out
}

// Interferes reports whether a and b are connected by an interference edge.
func (g *InterferenceGraph) Interferes(a, b Reg) bool {
	return g.adj[a] != nil && g.adj[a][b]
}

func (g *InterferenceGraph) addEdge(a, b Reg) {
	if a == b {
		return
	}
	g.addNode(a)
	g.addNode(b)
	if g.adj[a][b] {
		return
	}
	g.adj[a][b] = true
	g.adj[b][a] = true
	g.degs[a]++
	g.degs[b]++
}

func (g *InterferenceGraph) addMoveHint(a, b Reg) {
	if a == b {
		return
	}
	g.addNode(a)
	g.addNode(b)
	g.moves[a][b] = true
	g.moves[b][a] = true
}

// IsMoveRelated reports whether a and b were ever copied between each
// other, the coalescing hint color.go consults before it picks spill
// candidates.
func (g *InterferenceGraph) IsMoveRelated(a, b Reg) bool {
	return g.moves[a] != nil && g.moves[a][b]
}

// BuildInterferenceGraph walks fn's liveness sets and, for every
// instruction, connects its definition to everything live immediately
// after it -- except, for a plain move, the copy's own source, which is
// recorded as a coalescing hint instead of an interference edge so
// color.go can try to assign both the same physical register and delete
// the move entirely.
func BuildInterferenceGraph(fn *Func, lv *Liveness) *InterferenceGraph {
	g := newInterferenceGraph()

	for _, b := range fn.Blocks {
		live := lv.Out(b).Clone()
		for _, u := range b.TermUses {
			live.Add(u)
		}

		// Walk backward: out[] mid-block is out[b] minus everything defined
		// strictly after the current instruction, built incrementally.
		for i := len(b.Instr) - 1; i >= 0; i-- {
			in := b.Instr[i]
			if in.HasDef {
				if in.IsMove {
					g.addMoveHint(in.Def, in.MoveSrc)
				}
				live.ForEach(func(other Reg) {
					if in.IsMove && other == in.MoveSrc {
						return
					}
					g.addEdge(in.Def, other)
				})
				live.Remove(in.Def)
			}
			for _, u := range in.AllUses() {
				live.Add(u)
			}
		}
	}
	return g
}
