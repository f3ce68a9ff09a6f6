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

// Package pileup builds insertion-aware per-column base histograms from a
// batch of alignment records.
package pileup

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/cigar"
)

// Common pileup components.

// These constants double as the natural value for A/C/G/T in a packed 2-bit
// representation, and as the row offset within a strand block of PlpCnts.
const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX as well as the regular base types.
	NBaseEnum = 5
)

// Seq8ToEnumTable is the .bam seq nibble -> A/C/G/T/X enum mapping.
var Seq8ToEnumTable = [...]byte{BaseX, BaseA, BaseC, BaseX, BaseG, BaseX, BaseX, BaseX, BaseT, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX}

// EnumToASCIITable is the A/C/G/T/X -> ASCII mapping, with X rendered as 'N'.
var EnumToASCIITable = [NBaseEnum]byte{'A', 'C', 'G', 'T', 'N'}

// Seq8ToASCIITable is the .bam seq nibble -> ASCII mapping.
var Seq8ToASCIITable = [...]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// StrandType describes which strand a single read is aligned to.
type StrandType int

const (
	// StrandFwd means the read is aligned to the forward strand.
	StrandFwd StrandType = iota
	// StrandRev means the read is reverse-complemented.
	StrandRev
	// NStrand is the number of strands.
	NStrand
)

// StrandTypeToASCIITable is the StrandType -> ASCII mapping.
var StrandTypeToASCIITable = [NStrand]byte{'+', '-'}

// GetStrand returns the strand samr is aligned to.
func GetStrand(samr *sam.Record) StrandType {
	if samr.Flags&sam.Reverse != 0 {
		return StrandRev
	}
	return StrandFwd
}

// Rows of a PlpCnts matrix.  The four base rows of each strand come first,
// followed by one gap row per strand.
const (
	RowFwdA = iota
	RowFwdC
	RowFwdG
	RowFwdT
	RowRevA
	RowRevC
	RowRevG
	RowRevT
	RowFwdGap
	RowRevGap
	// NRow is the number of rows.
	NRow
)

// RowNames are short labels for each row, used as text headers: the base
// (or '*' for a gap) followed by the strand, e.g. "A+" or "*-".
var RowNames = rowNames()

func rowNames() (names [NRow]string) {
	for strand := StrandFwd; strand < NStrand; strand++ {
		s := StrandTypeToASCIITable[strand]
		for base := BaseA; base < NBase; base++ {
			names[BaseRow(base, strand)] = string([]byte{EnumToASCIITable[base], s})
		}
		names[GapRow(strand)] = string([]byte{'*', s})
	}
	return
}

// BaseRow returns the row counting base (a BaseA..BaseT enum) on strand.
func BaseRow(base byte, strand StrandType) int {
	return int(strand)*NBase + int(base)
}

// GapRow returns the gap row of strand.
func GapRow(strand StrandType) int {
	return RowFwdGap + int(strand)
}

// CheckSeq returns an Invalid error if rec stores fewer query bases than its
// CIGAR consumes, e.g. when SEQ is "*".
func CheckSeq(rec *sam.Record) error {
	if n := cigar.QueryLen(rec.Cigar); rec.Seq.Length < n {
		return errors.E(errors.Invalid, fmt.Sprintf("pileup.CheckSeq: record %s stores %d query bases, CIGAR needs %d", rec.Name, rec.Seq.Length, n))
	}
	return nil
}

// seq8At returns the 4-bit .bam encoding of the i'th base of seq.
func seq8At(seq sam.Seq, i int) byte {
	d := seq.Seq[i>>1]
	if i&1 == 0 {
		return byte(d >> 4)
	}
	return byte(d & 0xf)
}
