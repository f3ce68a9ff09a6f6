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

// Package cigar contains CIGAR text parsing, per-alignment summary
// statistics, and the range-identity calculator used to score arbitrary
// query-coordinate sub-ranges of a single alignment.
package cigar

import (
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// letterToType maps a CIGAR operation letter to its sam.CigarOpType.  Letters
// that are not valid operations map to sam.CigarBack, which is never produced
// by Parse.
var letterToType = func() (table [256]sam.CigarOpType) {
	for i := range table {
		table[i] = sam.CigarBack
	}
	table['M'] = sam.CigarMatch
	table['='] = sam.CigarEqual
	table['X'] = sam.CigarMismatch
	table['I'] = sam.CigarInsertion
	table['D'] = sam.CigarDeletion
	table['N'] = sam.CigarSkipped
	table['S'] = sam.CigarSoftClipped
	table['H'] = sam.CigarHardClipped
	table['P'] = sam.CigarPadded
	return
}()

// maxOpLen is the largest length representable in a packed sam.CigarOp.
const maxOpLen = 1<<28 - 1

// Parse parses a CIGAR string such as "2S1=2I2=1D1=3S".
//
// Every operation is a decimal length followed by one of the letters
// MIDNSHP=X.  An operation letter with no preceding digits gets length zero.
// Parse fails on any other byte, naming it, and on a string that ends with
// digits that are not followed by an operation letter.
func Parse(s string) (sam.Cigar, error) {
	c := make(sam.Cigar, 0, len(s)/2)
	n := 0
	nDigits := 0
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= '0' && b <= '9' {
			n = n*10 + int(b-'0')
			nDigits++
			if n > maxOpLen {
				return nil, errors.E(errors.Invalid, "cigar.Parse: operation length too large in", s)
			}
			continue
		}
		t := letterToType[b]
		if t == sam.CigarBack {
			return nil, errors.E(errors.Invalid, "cigar.Parse: invalid CIGAR operator", string(rune(b)), "in", s)
		}
		c = append(c, sam.NewCigarOp(t, n))
		n = 0
		nDigits = 0
	}
	if nDigits != 0 {
		return nil, errors.E(errors.Invalid, "cigar.Parse: trailing digits in CIGAR string", s)
	}
	return c, nil
}

// MustParse is like Parse, but panics on error.  It is intended for tests and
// hardcoded CIGARs.
func MustParse(s string) sam.Cigar {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders c in the textual CIGAR grammar accepted by Parse.  Unlike
// sam.Cigar.String, an empty CIGAR renders as "" instead of "*".
func String(c sam.Cigar) string {
	var sb strings.Builder
	for _, co := range c {
		sb.WriteString(co.String())
	}
	return sb.String()
}
