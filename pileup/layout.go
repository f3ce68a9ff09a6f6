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
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MajorMinor identifies one column of a pileup: Major is the reference
// position, and Minor the insertion slot after it (0 is the reference base
// itself).
type MajorMinor struct {
	Major int
	Minor int
}

func (mm MajorMinor) String() string {
	return fmt.Sprintf("%d.%d", mm.Major, mm.Minor)
}

// layoutEntry describes the columns reserved for one reference position.
type layoutEntry struct {
	pos      int
	startCol int
	nCol     int
}

// ColumnLayout assigns flat column indices to (reference position,
// insertion slot) pairs.  Positions are laid out in increasing order; each
// position owns 1 + (max insertion count) consecutive columns.
type ColumnLayout struct {
	entries []layoutEntry
	// byPos maps a reference position to its index in entries.
	byPos    map[int]int
	nColumns int
}

// NewColumnLayout builds a layout from an insertion profile.  An empty
// profile yields an empty layout.
func NewColumnLayout(profile InsertionProfile) *ColumnLayout {
	positions := maps.Keys(profile)
	slices.Sort(positions)
	l := &ColumnLayout{
		entries: make([]layoutEntry, len(positions)),
		byPos:   make(map[int]int, len(positions)),
	}
	col := 0
	for i, pos := range positions {
		n := profile[pos] + 1
		l.entries[i] = layoutEntry{pos: pos, startCol: col, nCol: n}
		l.byPos[pos] = i
		col += n
	}
	l.nColumns = col
	return l
}

// NumColumns returns the total number of columns.
func (l *ColumnLayout) NumColumns() int { return l.nColumns }

// NumPositions returns the number of reference positions.
func (l *ColumnLayout) NumPositions() int { return len(l.entries) }

// RefStart returns the smallest reference position of the layout.  It must
// not be called on an empty layout.
func (l *ColumnLayout) RefStart() int { return l.entries[0].pos }

// RefEnd returns 1 + the largest reference position of the layout.  It must
// not be called on an empty layout.
func (l *ColumnLayout) RefEnd() int { return l.entries[len(l.entries)-1].pos + 1 }

// Columns returns the first column and the column count reserved for pos.
// ok is false if pos is not part of the layout.
func (l *ColumnLayout) Columns(pos int) (start, n int, ok bool) {
	i, ok := l.byPos[pos]
	if !ok {
		return 0, 0, false
	}
	e := l.entries[i]
	return e.startCol, e.nCol, true
}

// Index returns the flat column index of mm.
func (l *ColumnLayout) Index(mm MajorMinor) (int, error) {
	start, n, ok := l.Columns(mm.Major)
	if !ok {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("pileup.ColumnLayout: reference position %d is not in the layout", mm.Major))
	}
	if mm.Minor < 0 || mm.Minor >= n {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("pileup.ColumnLayout: insertion slot %d out of range [0, %d) at position %d", mm.Minor, n, mm.Major))
	}
	return start + mm.Minor, nil
}

// At returns the (position, slot) pair of flat column col.
func (l *ColumnLayout) At(col int) (MajorMinor, error) {
	if col < 0 || col >= l.nColumns {
		return MajorMinor{}, errors.E(errors.Integrity, fmt.Sprintf("pileup.ColumnLayout: column %d out of range [0, %d)", col, l.nColumns))
	}
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].startCol > col }) - 1
	e := l.entries[i]
	return MajorMinor{Major: e.pos, Minor: col - e.startCol}, nil
}

// Equal returns true iff l and other assign the same columns.
func (l *ColumnLayout) Equal(other *ColumnLayout) bool {
	return l.nColumns == other.nColumns && slices.Equal(l.entries, other.entries)
}
