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
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// RangeIdentityCalculator answers "what is the identity of query sub-range
// [start, end)?" for a single alignment without rescanning its CIGAR.
//
// Offsets are absolute query coordinates (soft-clipped bases included), and
// the CIGAR must use the =/X vocabulary.  A calculator is immutable and safe
// for concurrent use.
type RangeIdentityCalculator struct {
	idx        *OpIndex
	queryStart int
	queryEnd   int
}

// NewRangeIdentityCalculator builds a calculator for c.  An empty CIGAR is an
// error.
func NewRangeIdentityCalculator(c sam.Cigar) (*RangeIdentityCalculator, error) {
	idx, err := NewOpIndex(c)
	if err != nil {
		return nil, err
	}
	return &RangeIdentityCalculator{
		idx:        idx,
		queryStart: QueryAlignStart(c),
		queryEnd:   QueryAlignEnd(c),
	}, nil
}

// QueryStart returns the first aligned query offset.
func (rc *RangeIdentityCalculator) QueryStart() int { return rc.queryStart }

// QueryEnd returns 1 + the last aligned query offset.
func (rc *RangeIdentityCalculator) QueryEnd() int { return rc.queryEnd }

// RangeIdentity returns the identity eq / max(1, eq + diff + ins + del) of the
// alignment restricted to query range [start, end).  The range is first
// clamped to the aligned query span; the clamped bounds are returned along
// with the identity.  An empty clamped range has identity 0.
func (rc *RangeIdentityCalculator) RangeIdentity(start, end int) (int, int, float32, error) {
	s, e, eq, span, err := rc.RangeSums(start, end)
	if err != nil {
		return s, e, 0, err
	}
	return s, e, ratio(eq, span), nil
}

// RangeSums is like RangeIdentity, but returns the numerator (number of =
// bases) and denominator (number of =, X, I and D bases) separately, so that
// results for adjacent ranges can be combined.
func (rc *RangeIdentityCalculator) RangeSums(start, end int) (s, e, eq, span int, err error) {
	s, e = clampRange(start, end, rc.queryStart, rc.queryEnd)
	if s >= e {
		return s, s, 0, 0, nil
	}
	idx := rc.idx
	si := idx.startOp(s)
	ei := idx.endOp(e)

	add := func(t sam.CigarOpType, n int) {
		switch t {
		case sam.CigarEqual:
			eq += n
			span += n
		case sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion:
			span += n
		}
	}

	if si >= ei {
		// Both boundaries fall inside one operation.
		t := idx.ops[si].Type()
		if !truncatable(t) {
			return s, e, 0, 0, invalidRangeOp(t, s, e)
		}
		add(t, e-s)
		return
	}

	first := idx.ops[si]
	t := first.Type()
	if !truncatable(t) {
		return s, e, 0, 0, invalidRangeOp(t, s, e)
	}
	if consumesQuery(t) {
		add(t, first.Len()-(s-idx.offsets[si]))
	} else {
		add(t, first.Len())
	}

	for i := si + 1; i < ei; i++ {
		t = idx.ops[i].Type()
		if !wholeInRange(t) {
			return s, e, 0, 0, invalidRangeOp(t, s, e)
		}
		add(t, idx.ops[i].Len())
	}

	last := idx.ops[ei]
	t = last.Type()
	if !truncatable(t) {
		return s, e, 0, 0, invalidRangeOp(t, s, e)
	}
	if consumesQuery(t) {
		add(t, e-idx.offsets[ei])
	} else {
		add(t, last.Len())
	}
	return
}

// truncatable reports whether an operation of type t may sit at a range
// boundary.  Clips, skips and pads only land on a boundary when they abut it,
// and contribute nothing.
func truncatable(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion,
		sam.CigarSoftClipped, sam.CigarHardClipped, sam.CigarSkipped, sam.CigarPadded:
		return true
	}
	return false
}

// wholeInRange reports whether an operation of type t may appear strictly
// inside a range.
func wholeInRange(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion, sam.CigarSoftClipped:
		return true
	}
	return false
}

func invalidRangeOp(t sam.CigarOpType, start, end int) error {
	return errors.E(errors.Integrity, fmt.Sprintf("cigar.RangeSums: operation %v not valid in query range [%d, %d)", t, start, end))
}

func clampRange(start, end, lo, hi int) (int, int) {
	if start < lo {
		start = lo
	}
	if end > hi {
		end = hi
	}
	return start, end
}
