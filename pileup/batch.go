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
	"context"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/blacklist"
)

// PlpWithRecords computes the insertion profile of records, lays out the
// columns, and accumulates every record.  window may be nil.
func PlpWithRecords(records []*sam.Record, window *Window, policies []blacklist.Policy) (*PlpCnts, error) {
	bls, err := queryBlacklists(records, policies)
	if err != nil {
		return nil, err
	}
	profile, err := profileAll(records, window, bls)
	if err != nil {
		return nil, err
	}
	plp, err := NewPlpCnts(NewColumnLayout(profile))
	if err != nil {
		return nil, err
	}
	if err := accumulateAll(plp, records, bls); err != nil {
		return nil, err
	}
	return plp, nil
}

// queryBlacklists evaluates policies once per record; both stages share the
// result.
func queryBlacklists(records []*sam.Record, policies []blacklist.Policy) ([]blacklist.LocusSet, error) {
	bls := make([]blacklist.LocusSet, len(records))
	for i, rec := range records {
		bl, err := blacklist.QueryLocusBlacklist(rec, policies)
		if err != nil {
			return nil, err
		}
		bls[i] = bl
	}
	return bls, nil
}

func profileAll(records []*sam.Record, window *Window, bls []blacklist.LocusSet) (InsertionProfile, error) {
	profile := InsertionProfile{}
	for i, rec := range records {
		if err := profile.Add(rec, window, bls[i]); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

func accumulateAll(plp *PlpCnts, records []*sam.Record, bls []blacklist.LocusSet) error {
	for i, rec := range records {
		if err := plp.Accumulate(rec, bls[i]); err != nil {
			return err
		}
	}
	return nil
}

// PlpParallel is a parallel version of PlpWithRecords.  records are split
// into up to parallelism contiguous shards; per-shard profiles are merged
// before the shared layout is built, and per-shard matrices are summed.  The
// result is identical to PlpWithRecords.
func PlpParallel(ctx context.Context, records []*sam.Record, window *Window, policies []blacklist.Policy, parallelism int) (*PlpCnts, error) {
	if parallelism <= 1 || len(records) < 2 {
		return PlpWithRecords(records, window, policies)
	}
	if parallelism > len(records) {
		parallelism = len(records)
	}
	bounds := func(i int) (int, int) {
		return i * len(records) / parallelism, (i + 1) * len(records) / parallelism
	}

	bls := make([]blacklist.LocusSet, len(records))
	profiles := make([]InsertionProfile, parallelism)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		lo, hi := bounds(jobIdx)
		shardBls, err := queryBlacklists(records[lo:hi], policies)
		if err != nil {
			return err
		}
		copy(bls[lo:hi], shardBls)
		profiles[jobIdx], err = profileAll(records[lo:hi], window, shardBls)
		return err
	})
	if err != nil {
		return nil, err
	}
	layout := NewColumnLayout(MergeProfiles(profiles...))

	partials := make([]*PlpCnts, parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		plp, err := NewPlpCnts(layout)
		if err != nil {
			return err
		}
		partials[jobIdx] = plp
		lo, hi := bounds(jobIdx)
		return accumulateAll(plp, records[lo:hi], bls[lo:hi])
	})
	if err != nil {
		return nil, err
	}
	for _, p := range partials[1:] {
		if err := partials[0].Merge(p); err != nil {
			return nil, err
		}
	}
	return partials[0], nil
}
