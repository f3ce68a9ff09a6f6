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

// Package blacklist decides which query bases of an alignment are too
// unreliable to contribute to a pileup.
package blacklist

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/cigar"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// LocusSet is a set of query offsets.  A nil LocusSet is empty and may be
// queried, but not added to.
type LocusSet map[int]struct{}

// Contains returns true iff offset is in s.
func (s LocusSet) Contains(offset int) bool {
	_, ok := s[offset]
	return ok
}

// AddRange adds [start, end) to s.
func (s LocusSet) AddRange(start, end int) {
	for i := start; i < end; i++ {
		s[i] = struct{}{}
	}
}

// Union adds every element of other to s.
func (s LocusSet) Union(other LocusSet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Sorted returns the elements of s in increasing order.
func (s LocusSet) Sorted() []int {
	keys := maps.Keys(s)
	slices.Sort(keys)
	return keys
}

// Policy maps an alignment record to the query offsets that should be
// excluded from downstream counting.
type Policy interface {
	Blacklist(rec *sam.Record) (LocusSet, error)
}

// QueryLocusBlacklist returns the union of the blacklists of every policy.
// It returns an empty set when policies is empty.
func QueryLocusBlacklist(rec *sam.Record, policies []Policy) (LocusSet, error) {
	result := LocusSet{}
	for _, p := range policies {
		s, err := p.Blacklist(rec)
		if err != nil {
			return nil, err
		}
		result.Union(s)
	}
	return result, nil
}

// LongInsertion blacklists every base of an insertion at least Threshold
// bases long.
type LongInsertion struct {
	Threshold int
}

// NewLongInsertion returns a LongInsertion policy with the given threshold.
func NewLongInsertion(threshold int) *LongInsertion {
	return &LongInsertion{Threshold: threshold}
}

// Blacklist implements Policy.
func (p *LongInsertion) Blacklist(rec *sam.Record) (LocusSet, error) {
	s := LocusSet{}
	for _, r := range cigar.LongInsertionRegions(rec.Cigar, p.Threshold) {
		s.AddRange(r.Start, r.End)
	}
	return s, nil
}

func (p *LongInsertion) String() string {
	return fmt.Sprintf("LongInsertion(%d)", p.Threshold)
}

// LowIdentity blacklists every base of a sliding query window whose identity
// is below a threshold.
type LowIdentity struct {
	identityThreshold float32
	windowSize        int
	windowOverlap     int
}

// NewLowIdentity returns a LowIdentity policy.  windowSize must be larger
// than windowOverlap.
func NewLowIdentity(identityThreshold float32, windowSize, windowOverlap int) (*LowIdentity, error) {
	if windowSize <= windowOverlap {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("blacklist.NewLowIdentity: window size %d must be larger than window overlap %d", windowSize, windowOverlap))
	}
	return &LowIdentity{
		identityThreshold: identityThreshold,
		windowSize:        windowSize,
		windowOverlap:     windowOverlap,
	}, nil
}

// Blacklist implements Policy.
//
// Windows are laid over the whole stored query sequence, and then clamped to
// the aligned span by the range-identity calculator.  A window is only
// flagged when more than half of it survives clamping; windows that are
// mostly soft-clip say nothing about alignment quality.
func (p *LowIdentity) Blacklist(rec *sam.Record) (LocusSet, error) {
	s := LocusSet{}
	if len(rec.Cigar) == 0 {
		return s, nil
	}
	rc, err := cigar.NewRangeIdentityCalculator(rec.Cigar)
	if err != nil {
		return nil, err
	}
	windows, err := SlidingWindows(rec.Seq.Length, p.windowSize, p.windowOverlap, true)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		start, end, identity, err := rc.RangeIdentity(w.Start, w.End)
		if err != nil {
			return nil, err
		}
		if end-start > p.windowSize/2 && identity < p.identityThreshold {
			s.AddRange(start, end)
		}
	}
	return s, nil
}

func (p *LowIdentity) String() string {
	return fmt.Sprintf("LowIdentity(%g, %d, %d)", p.identityThreshold, p.windowSize, p.windowOverlap)
}

// SlidingWindows partitions [0, length) into windows of size windowSize,
// starting every windowSize - windowOverlap positions.  The final window is
// truncated at length, or dropped entirely if dropLast is set and it is
// shorter than windowSize.
func SlidingWindows(length, windowSize, windowOverlap int, dropLast bool) ([]cigar.Region, error) {
	if windowSize <= windowOverlap {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("blacklist.SlidingWindows: window size %d must be larger than window overlap %d", windowSize, windowOverlap))
	}
	step := windowSize - windowOverlap
	var windows []cigar.Region
	for start := 0; start < length; start += step {
		end := start + windowSize
		if end > length {
			if dropLast {
				break
			}
			end = length
		}
		windows = append(windows, cigar.Region{Start: start, End: end})
	}
	return windows, nil
}
