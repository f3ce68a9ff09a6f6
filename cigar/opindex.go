// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cigar

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// OpIndex pairs every operation of a CIGAR with the query offset it starts
// at.  Offsets are prefix sums of the query-consuming operation lengths, so
// they are non-decreasing; zero-query-length operations (D, N, H, P) share an
// offset with their successor.
type OpIndex struct {
	offsets []int
	ops     []sam.CigarOp
}

// NewOpIndex builds the offset table for c.  An empty CIGAR is an error.
func NewOpIndex(c sam.Cigar) (*OpIndex, error) {
	if len(c) == 0 {
		return nil, errors.E(errors.Invalid, "cigar.NewOpIndex: empty CIGAR")
	}
	idx := &OpIndex{
		offsets: make([]int, len(c)),
		ops:     make([]sam.CigarOp, len(c)),
	}
	pos := 0
	for i, co := range c {
		idx.offsets[i] = pos
		idx.ops[i] = co
		if consumesQuery(co.Type()) {
			pos += co.Len()
		}
	}
	return idx, nil
}

// Len returns the number of operations.
func (idx *OpIndex) Len() int { return len(idx.ops) }

// Offset returns the query offset at which operation i starts.
func (idx *OpIndex) Offset(i int) int { return idx.offsets[i] }

// Op returns operation i.
func (idx *OpIndex) Op(i int) sam.CigarOp { return idx.ops[i] }

// startOp returns the index of the operation containing query offset pos,
// for use as the left boundary of a range.  When several operations start at
// pos the last of them is chosen.
func (idx *OpIndex) startOp(pos int) int {
	// First op starting strictly after pos, minus one.
	i := sort.Search(len(idx.offsets), func(i int) bool { return idx.offsets[i] > pos })
	if i == 0 {
		return 0
	}
	return i - 1
}

// endOp returns the index of the operation containing query offset pos, for
// use as the (exclusive) right boundary of a range.  When several operations
// start at pos the first of them is chosen.
func (idx *OpIndex) endOp(pos int) int {
	i := sort.Search(len(idx.offsets), func(i int) bool { return idx.offsets[i] >= pos })
	if i < len(idx.offsets) && idx.offsets[i] == pos {
		return i
	}
	if i == 0 {
		return 0
	}
	return i - 1
}
