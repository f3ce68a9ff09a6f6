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
package plp

import (
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/blacklist"
	"github.com/grailbio/plp/pileup"
)

// Stats summarizes a Pileup run.
type Stats struct {
	Windows      int
	EmptyWindows int
	Records      int
	Filtered     int
	// Malformed counts records skipped for lacking a position, CIGAR or
	// SEQ, or for failing blacklist evaluation.
	Malformed int
	Columns   int
}

// Pileup computes one count matrix per window of opts (a region, or every
// BED entry) over the indexed BAM at bamPath, and writes all columns to
// <opts.OutPrefix>.plp.{tsv,tsv.gz,rio}.
func Pileup(ctx context.Context, bamPath string, opts *Opts) (stats Stats, err error) {
	if err = opts.validate(); err != nil {
		return
	}
	policies, err := opts.Policies()
	if err != nil {
		return
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	src, err := openBAM(ctx, bamPath, opts.BamIndexPath)
	if err != nil {
		return
	}

	var regions []Region
	if opts.Region != "" {
		var r Region
		if r, err = ParseRegion(opts.Region); err != nil {
			return
		}
		regions = []Region{r}
	} else if regions, err = ReadBED(ctx, opts.BedPath); err != nil {
		return
	}

	piles := make([]WindowPileup, len(regions))
	filter := newRecordFilter(opts)
	var mu sync.Mutex
	err = traverse.Each(parallelism, func(jobIdx int) error {
		for i := jobIdx; i < len(regions); i += parallelism {
			ref, region, err := src.resolve(regions[i])
			if err != nil {
				return err
			}
			plp, rs, err := pileWindow(ctx, src, ref, region, filter, policies)
			if err != nil {
				return err
			}
			piles[i] = WindowPileup{RefID: ref.ID(), Region: region, Plp: plp}
			mu.Lock()
			stats.Windows++
			if plp == nil {
				stats.EmptyWindows++
			}
			stats.Records += rs.Read
			stats.Filtered += rs.Filtered
			stats.Malformed += rs.Malformed
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return
	}

	cols := columns(piles)
	stats.Columns = len(cols)
	refNames := make([]string, len(src.header.Refs()))
	for i, ref := range src.header.Refs() {
		refNames[i] = ref.Name()
	}
	switch opts.Format {
	case "tsv":
		err = writeTSVFile(ctx, opts.OutPrefix+".plp.tsv", cols, refNames, false, parallelism)
	case "tsv-bgz":
		err = writeTSVFile(ctx, opts.OutPrefix+".plp.tsv.gz", cols, refNames, true, parallelism)
	case "rio":
		err = writeRioFile(ctx, opts.OutPrefix+".plp.rio", cols, refNames)
	}
	if err != nil {
		return
	}
	log.Printf("plp.Pileup: %d window(s) (%d empty), %d record(s) read, %d filtered, %d malformed, %d column(s) written",
		stats.Windows, stats.EmptyWindows, stats.Records, stats.Filtered, stats.Malformed, stats.Columns)
	return
}

// pileWindow reads and piles up one window.  It returns a nil matrix when no
// record covers the window.
func pileWindow(ctx context.Context, src *bamSource, ref *sam.Reference, region Region, filter recordFilter, policies []blacklist.Policy) (*pileup.PlpCnts, readStats, error) {
	recs, stats, err := src.read(ctx, ref, region, filter)
	if err != nil {
		return nil, stats, err
	}
	window := &pileup.Window{Start: region.Start, End: region.End}
	profile := pileup.InsertionProfile{}
	// Records whose blacklist cannot be evaluated (e.g. M operations under a
	// low-identity policy) are skipped rather than failing the window.
	kept := recs[:0]
	var bls []blacklist.LocusSet
	for _, rec := range recs {
		bl, err := blacklist.QueryLocusBlacklist(rec, policies)
		if err == nil {
			err = profile.Add(rec, window, bl)
		}
		if err != nil {
			log.Debug.Printf("plp: skipping record %s: %v", rec.Name, err)
			stats.Malformed++
			continue
		}
		kept = append(kept, rec)
		bls = append(bls, bl)
	}
	if len(profile) == 0 {
		return nil, stats, nil
	}
	plp, err := pileup.NewPlpCnts(pileup.NewColumnLayout(profile))
	if err != nil {
		return nil, stats, err
	}
	for i, rec := range kept {
		if err := plp.Accumulate(rec, bls[i]); err != nil {
			if errors.Is(errors.Integrity, err) {
				return nil, stats, err
			}
			log.Debug.Printf("plp: skipping record %s: %v", rec.Name, err)
			stats.Malformed++
		}
	}
	log.Debug.Printf("plp: %v: %d record(s), %d column(s)", region, len(kept), plp.NumColumns())
	return plp, stats, nil
}
