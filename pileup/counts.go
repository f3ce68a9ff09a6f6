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
package pileup

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/blacklist"
	"github.com/grailbio/plp/cigar"
)

// PlpCnts is a pileup count matrix.  It has NRow rows and one column per
// (reference position, insertion slot) of its layout; cnts is stored
// row-major.
//
// - Major()[col] and Minor()[col] give the reference position and insertion
//   slot of column col.
// - Counts()[row*NumColumns() + col] is the number of reads showing the
//   row's base (or gap) on the row's strand at column col.
type PlpCnts struct {
	layout *ColumnLayout
	major  []int
	minor  []int
	cnts   []uint32
	ncols  int
}

// NewPlpCnts allocates a zeroed matrix for layout.
func NewPlpCnts(layout *ColumnLayout) (*PlpCnts, error) {
	if layout == nil || layout.NumColumns() == 0 {
		return nil, errors.E(errors.Invalid, "pileup.NewPlpCnts: empty column layout")
	}
	ncols := layout.NumColumns()
	p := &PlpCnts{
		layout: layout,
		major:  make([]int, ncols),
		minor:  make([]int, ncols),
		cnts:   make([]uint32, NRow*ncols),
		ncols:  ncols,
	}
	for _, e := range layout.entries {
		for i := 0; i < e.nCol; i++ {
			p.major[e.startCol+i] = e.pos
			p.minor[e.startCol+i] = i
		}
	}
	return p, nil
}

// Layout returns the column layout.
func (p *PlpCnts) Layout() *ColumnLayout { return p.layout }

// NumColumns returns the number of columns.
func (p *PlpCnts) NumColumns() int { return p.ncols }

// Major returns the reference position of every column.  The caller must not
// modify the result.
func (p *PlpCnts) Major() []int { return p.major }

// Minor returns the insertion slot of every column.  The caller must not
// modify the result.
func (p *PlpCnts) Minor() []int { return p.minor }

// Counts returns the row-major count table.  The caller must not modify the
// result.
func (p *PlpCnts) Counts() []uint32 { return p.cnts }

// Count returns the count at (row, col).
func (p *PlpCnts) Count(row, col int) uint32 { return p.cnts[row*p.ncols+col] }

// ColumnTotal returns the sum of all rows of column col.
func (p *PlpCnts) ColumnTotal(col int) uint32 {
	var total uint32
	for row := 0; row < NRow; row++ {
		total += p.cnts[row*p.ncols+col]
	}
	return total
}

// Accumulate adds the bases of rec that fall within the layout.  Query
// offsets in bl are skipped; blacklisted insertion bases also give up their
// insertion slot, so the next inserted base takes it.  Only A/C/G/T bases
// are counted.
//
// Accumulate returns an Invalid error if rec stores too few query bases for
// its CIGAR, and an Integrity error if rec touches a reference position the
// layout does not have room for.
func (p *PlpCnts) Accumulate(rec *sam.Record, bl blacklist.LocusSet) error {
	refStart, err := RefStart(rec)
	if err != nil {
		return err
	}
	refEnd, _ := RefEnd(rec)
	start, end := p.layout.RefStart(), p.layout.RefEnd()
	if refStart > start {
		start = refStart
	}
	if refEnd < end {
		end = refEnd
	}
	if start >= end {
		return nil
	}
	if err := CheckSeq(rec); err != nil {
		return err
	}
	pairs, err := AlignedPairs(rec)
	if err != nil {
		return err
	}
	queryEnd := cigar.QueryAlignEnd(rec.Cigar)
	strand := GetStrand(rec)

	rcur := -1
	var anchor, width, ins int
	for _, s := range pairs {
		if s.R >= 0 {
			rcur = s.R
		}
		if rcur < 0 || rcur < start {
			continue
		}
		if rcur >= end {
			break
		}
		if s.Q >= 0 && s.Q >= queryEnd {
			break
		}
		if s.R >= 0 {
			var ok bool
			if anchor, width, ok = p.layout.Columns(s.R); !ok {
				return errors.E(errors.Integrity, fmt.Sprintf("pileup.Accumulate: record %s: reference position %d is not in the layout", rec.Name, s.R))
			}
			ins = 0
		} else {
			ins++
		}
		if s.Q >= 0 && bl.Contains(s.Q) {
			if s.R < 0 {
				ins--
			}
			continue
		}
		if ins >= width {
			return errors.E(errors.Integrity, fmt.Sprintf("pileup.Accumulate: record %s: insertion slot %d out of range [0, %d) at position %d", rec.Name, ins, width, rcur))
		}
		col := anchor + ins
		if s.Q < 0 {
			p.cnts[GapRow(strand)*p.ncols+col]++
			continue
		}
		base := Seq8ToEnumTable[seq8At(rec.Seq, s.Q)]
		if base == BaseX {
			continue
		}
		p.cnts[BaseRow(base, strand)*p.ncols+col]++
	}
	return nil
}

// Merge adds the counts of other to p.  Both matrices must share a layout.
func (p *PlpCnts) Merge(other *PlpCnts) error {
	if p.layout != other.layout && !p.layout.Equal(other.layout) {
		return errors.E(errors.Integrity, "pileup.PlpCnts.Merge: column layouts differ")
	}
	for i, c := range other.cnts {
		p.cnts[i] += c
	}
	return nil
}

// WriteText writes one line per column, each holding the NRow counts of that
// column separated by ", ".
func (p *PlpCnts) WriteText(w io.Writer) error {
	tw := tsv.NewWriter(w)
	line := make([]byte, 0, 64)
	for col := 0; col < p.ncols; col++ {
		line = line[:0]
		for row := 0; row < NRow; row++ {
			if row > 0 {
				line = append(line, ", "...)
			}
			line = strconv.AppendUint(line, uint64(p.cnts[row*p.ncols+col]), 10)
		}
		tw.WriteBytes(line)
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func (p *PlpCnts) String() string {
	var buf bytes.Buffer
	if err := p.WriteText(&buf); err != nil {
		panic(err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}
