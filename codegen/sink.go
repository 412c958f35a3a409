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

package codegen

import (
	"encoding/binary"

	"jitasm/utils"
)

// Label is an opaque handle to a code position, bound at most once. Created
// via Sink.CreateLabel, consumed by jmp/jcc as a branch target.
type Label int

const noTarget = -1

type labelState struct {
	// target is the bound byte offset, or noTarget if still unbound.
	target int
}

// ForwardJump records a not-yet-resolved rel32 slot: at Sink.Pos() == at a
// 4-byte placeholder was written for a branch to label `to`. FixForwardJumps
// patches every such slot once every label used by the function has been
// bound.
type ForwardJump struct {
	at int
	to Label
}

// Sink is the growable byte buffer instructions are appended to, plus the
// label table and forward-jump worklist that implement the two-pass branch
// protocol:
//
//   - a backward branch's target is already bound, so its rel32 is computed
//     and written immediately;
//   - a forward branch's target is not bound yet, so a zero rel32
//     placeholder is written and the (offset, label) pair is queued;
//   - FixForwardJumps is called once, after every label referenced by the
//     function has been bound, to patch every queued placeholder.
type Sink struct {
	buf          []byte
	labels       []labelState
	forwardJumps []ForwardJump
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Pos() int {
	return len(s.buf)
}

func (s *Sink) Bytes() []byte {
	return s.buf
}

func (s *Sink) Put1(b byte) {
	s.buf = append(s.buf, b)
}

func (s *Sink) Put4(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	s.buf = append(s.buf, tmp[:]...)
}

func (s *Sink) Put8(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	s.buf = append(s.buf, tmp[:]...)
}

// PatchPut4 overwrites 4 bytes already emitted at offset `at`, used both by
// FixForwardJumps and by Function.Finalize's frame-size patch.
func (s *Sink) PatchPut4(at int, v int32) {
	binary.LittleEndian.PutUint32(s.buf[at:at+4], uint32(v))
}

// PatchPut8 overwrites 8 bytes already emitted at offset `at`.
func (s *Sink) PatchPut8(at int, v int64) {
	binary.LittleEndian.PutUint64(s.buf[at:at+8], uint64(v))
}

// CreateLabel allocates a new, as-yet-unbound label.
func (s *Sink) CreateLabel() Label {
	s.labels = append(s.labels, labelState{target: noTarget})
	return Label(len(s.labels) - 1)
}

// BindLabel fixes a label's target to the current buffer position. A label
// may be bound exactly once.
func (s *Sink) BindLabel(l Label) {
	st := &s.labels[l]
	utils.Assert(st.target == noTarget, "label %d already bound at %d", l, st.target)
	st.target = s.Pos()
}

func (s *Sink) IsBound(l Label) bool {
	return s.labels[l].target != noTarget
}

// EmitRel32 writes a 4-byte relative displacement for a branch instruction
// whose opcode bytes have already been emitted and whose rel32 is computed
// from the position immediately after this 4-byte field (the x86-64
// convention: rel32 is relative to the address of the *next* instruction).
// If the label is already bound this resolves immediately; otherwise a zero
// placeholder is written and the jump queued for FixForwardJumps.
func (s *Sink) EmitRel32(l Label) {
	st := s.labels[l]
	if st.target != noTarget {
		rel := int32(st.target - (s.Pos() + 4))
		s.Put4(rel)
		return
	}
	s.forwardJumps = append(s.forwardJumps, ForwardJump{at: s.Pos(), to: l})
	s.Put4(0)
}

// FixForwardJumps patches every queued forward-jump placeholder. Every label
// referenced by a queued jump must be bound by the time this is called
// (Function.Finalize's contract). Idempotent: calling it twice with no
// intervening EmitRel32 calls is a no-op the second time since the worklist
// is drained.
func (s *Sink) FixForwardJumps() {
	for _, fj := range s.forwardJumps {
		st := s.labels[fj.to]
		utils.Assert(st.target != noTarget, "label %d referenced by forward jump at %d was never bound", fj.to, fj.at)
		rel := int32(st.target - (fj.at + 4))
		s.PatchPut4(fj.at, rel)
	}
	s.forwardJumps = s.forwardJumps[:0]
}
