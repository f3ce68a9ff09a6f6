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
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/cigar"
)

// Window is a half-open reference interval [Start, End).  A nil *Window
// means "no restriction".
type Window struct {
	Start, End int
}

func (w *Window) String() string {
	if w == nil {
		return "*"
	}
	return fmt.Sprintf("[%d,%d)", w.Start, w.End)
}

// RefStart returns the reference position of the first aligned base of rec.
func RefStart(rec *sam.Record) (int, error) {
	if rec.Pos < 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("pileup.RefStart: record %s has no reference position", rec.Name))
	}
	return rec.Pos, nil
}

// RefEnd returns 1 + the reference position of the last aligned base of rec.
func RefEnd(rec *sam.Record) (int, error) {
	start, err := RefStart(rec)
	if err != nil {
		return 0, err
	}
	return start + cigar.RefLen(rec.Cigar), nil
}

// AlignedPair is one step of an alignment trace.  Q is a query offset and R
// a reference position; either is -1 when the step does not consume that
// sequence.
type AlignedPair struct {
	Q, R int
}

// AlignedPairs returns the full trace of rec: one step per matched base
// (M, =, X), per inserted or soft-clipped base (R == -1), and per deleted or
// skipped reference base (Q == -1).  Hard clips and pads produce no steps.
func AlignedPairs(rec *sam.Record) ([]AlignedPair, error) {
	r, err := RefStart(rec)
	if err != nil {
		return nil, err
	}
	var pairs []AlignedPair
	q := 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				pairs = append(pairs, AlignedPair{q, r})
				q++
				r++
			}
		case sam.CigarInsertion, sam.CigarSoftClipped:
			for i := 0; i < n; i++ {
				pairs = append(pairs, AlignedPair{q, -1})
				q++
			}
		case sam.CigarDeletion, sam.CigarSkipped:
			for i := 0; i < n; i++ {
				pairs = append(pairs, AlignedPair{-1, r})
				r++
			}
		}
	}
	return pairs, nil
}

// DrawAlignedSeq renders the part of rec that overlaps window (nil for the
// whole trace) as two equal-length strings: the reference and the query,
// with '-' marking the gaps on either side.  ref holds the reference
// sequence, indexed by reference position.
func DrawAlignedSeq(rec *sam.Record, ref []byte, window *Window) (string, string, error) {
	if err := CheckSeq(rec); err != nil {
		return "", "", err
	}
	pairs, err := AlignedPairs(rec)
	if err != nil {
		return "", "", err
	}
	var refOut, queryOut strings.Builder
	rcur := -1
	for _, p := range pairs {
		if p.R >= 0 {
			rcur = p.R
		}
		if window != nil && (rcur < 0 || rcur < window.Start) {
			continue
		}
		qc, rc := byte('-'), byte('-')
		if p.Q >= 0 {
			qc = Seq8ToASCIITable[seq8At(rec.Seq, p.Q)]
		}
		if p.R >= 0 {
			if p.R >= len(ref) {
				return "", "", errors.E(errors.Invalid, fmt.Sprintf("pileup.DrawAlignedSeq: reference position %d beyond reference length %d", p.R, len(ref)))
			}
			rc = ref[p.R]
		}
		refOut.WriteByte(rc)
		queryOut.WriteByte(qc)
		if window != nil && rcur >= window.End-1 {
			break
		}
	}
	return refOut.String(), queryOut.String(), nil
}
