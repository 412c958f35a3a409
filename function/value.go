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

import "jitasm/codegen"

// Value is an opaque, monotonically increasing handle to an SSA-like
// result.
type Value int

// locKind discriminates where a Value currently lives.
type locKind int

const (
	locReg locKind = iota
	locFReg
	locStack
)

type valueLoc struct {
	kind locKind
	reg  codegen.Register
	freg codegen.FloatRegister
	off  int32 // stack slots are negative offsets from RBP
}

type valueInfo struct {
	typ codegen.Kind
	loc valueLoc
}
