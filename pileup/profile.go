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
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/blacklist"
	"github.com/grailbio/plp/cigar"
)

// InsertionProfile maps a reference position to the largest number of
// query bases any record inserts immediately after it.  Every position
// covered by at least one record within the window is present, with value 0
// when nothing is inserted there.
type InsertionProfile map[int]int

func (p InsertionProfile) observe(pos, ins int) {
	if cur, ok := p[pos]; !ok || ins > cur {
		p[pos] = ins
	}
}

// MergeProfiles returns the elementwise maximum of profiles.  Profiles
// computed over disjoint subsets of a batch merge to the profile of the
// whole batch.
func MergeProfiles(profiles ...InsertionProfile) InsertionProfile {
	merged := InsertionProfile{}
	for _, p := range profiles {
		for pos, ins := range p {
			merged.observe(pos, ins)
		}
	}
	return merged
}

// clipToWindow intersects the reference span of rec with window.
func clipToWindow(rec *sam.Record, window *Window) (start, end int, err error) {
	if start, err = RefStart(rec); err != nil {
		return
	}
	if end, err = RefEnd(rec); err != nil {
		return
	}
	if window != nil {
		if window.Start > start {
			start = window.Start
		}
		if window.End < end {
			end = window.End
		}
	}
	return
}

// ComputeInsertionProfile computes the insertion profile of records,
// restricted to window (nil means each record's own span).  Query bases
// blacklisted by policies do not count as inserted.
func ComputeInsertionProfile(records []*sam.Record, window *Window, policies []blacklist.Policy) (InsertionProfile, error) {
	profile := InsertionProfile{}
	for _, rec := range records {
		bl, err := blacklist.QueryLocusBlacklist(rec, policies)
		if err != nil {
			return nil, err
		}
		if err := profile.Add(rec, window, bl); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// Add folds rec into p, skipping the query offsets in bl.  Records that do
// not overlap window are ignored.  Add returns an Invalid error, leaving p
// unchanged, if rec has no position or too short a SEQ.
func (p InsertionProfile) Add(rec *sam.Record, window *Window, bl blacklist.LocusSet) error {
	start, end, err := clipToWindow(rec, window)
	if err != nil {
		return err
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
	if len(pairs) == 0 {
		return nil
	}
	refEnd, _ := RefEnd(rec)
	// The trailing step flushes insertions (and deletions) that end the
	// alignment.
	pairs = append(pairs, AlignedPair{Q: -1, R: refEnd})
	queryEnd := cigar.QueryAlignEnd(rec.Cigar)

	rcur, ins := -1, 0
	for _, s := range pairs {
		if s.R >= 0 {
			rcur = s.R
		}
		if rcur < 0 || rcur < start {
			continue
		}
		if rcur >= end {
			p.observe(rcur-1, ins)
			break
		}
		if s.Q >= 0 && s.Q >= queryEnd {
			p.observe(rcur, ins)
			break
		}
		if s.R >= 0 {
			if s.R > start {
				p.observe(s.R-1, ins)
			}
			ins = 0
		} else if !bl.Contains(s.Q) {
			ins++
		}
	}
	return nil
}
