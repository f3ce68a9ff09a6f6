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
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Region is a 0-based half-open interval.
type Region struct {
	Start int
	End   int
}

// Len returns the number of positions in r.
func (r Region) Len() int {
	return r.End - r.Start
}

// consumesQuery reports whether t advances the query cursor.
func consumesQuery(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarSoftClipped:
		return true
	}
	return false
}

// consumesRef reports whether t advances the reference cursor.
func consumesRef(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarDeletion, sam.CigarSkipped:
		return true
	}
	return false
}

// QueryAlignStart returns the query offset of the first aligned base, i.e.
// the length of the leading soft-clip.  Hard-clips preceding the soft-clip
// are skipped since they are absent from the stored query sequence.
func QueryAlignStart(c sam.Cigar) int {
	for _, co := range c {
		switch co.Type() {
		case sam.CigarHardClipped:
			continue
		case sam.CigarSoftClipped:
			return co.Len()
		}
		return 0
	}
	return 0
}

// QueryAlignEnd returns 1 + the query offset of the last aligned base.
func QueryAlignEnd(c sam.Cigar) int {
	alignedLen := 0
	for _, co := range c {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion:
			alignedLen += co.Len()
		}
	}
	return QueryAlignStart(c) + alignedLen
}

// RefLen returns the number of reference positions spanned by c.
func RefLen(c sam.Cigar) int {
	n := 0
	for _, co := range c {
		if consumesRef(co.Type()) {
			n += co.Len()
		}
	}
	return n
}

// QueryLen returns the number of bases c consumes from the stored query
// sequence, soft-clips included.
func QueryLen(c sam.Cigar) int {
	n := 0
	for _, co := range c {
		if consumesQuery(co.Type()) {
			n += co.Len()
		}
	}
	return n
}

// Identity returns eq / (eq + diff + ins + del) over the whole alignment.  It
// requires the extended =/X vocabulary; an M operation is an error since it
// does not distinguish matches from mismatches.
func Identity(c sam.Cigar) (float32, error) {
	matched, span := 0, 0
	for _, co := range c {
		switch co.Type() {
		case sam.CigarEqual:
			matched += co.Len()
			span += co.Len()
		case sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion:
			span += co.Len()
		case sam.CigarMatch:
			return 0, errors.E(errors.Invalid, "cigar.Identity: =/X CIGAR required, got", String(c))
		}
	}
	return ratio(matched, span), nil
}

// QueryCoverage returns the fraction of the query sequence covered by
// aligned (non-clipped) bases.
func QueryCoverage(c sam.Cigar, queryLen int) float32 {
	aligned := 0
	for _, co := range c {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion:
			aligned += co.Len()
		}
	}
	return ratio(aligned, queryLen)
}

// LongInsertionRegions returns the query-coordinate intervals of every
// insertion with length >= threshold, in query order.
func LongInsertionRegions(c sam.Cigar, threshold int) []Region {
	var regions []Region
	pos := 0
	for _, co := range c {
		t := co.Type()
		if t == sam.CigarInsertion && co.Len() >= threshold {
			regions = append(regions, Region{Start: pos, End: pos + co.Len()})
		}
		if consumesQuery(t) {
			pos += co.Len()
		}
	}
	return regions
}

// ratio returns num / max(1, den).
func ratio(num, den int) float32 {
	if den <= 0 {
		den = 1
	}
	return float32(num) / float32(den)
}
