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

// Package plp computes insertion-aware pileup count matrices over the
// regions of an indexed BAM file, and writes them as TSV or recordio.
package plp

import (
	"fmt"

	"github.com/grailbio/plp/blacklist"
)

// Opts configures Pileup.
type Opts struct {
	// BedPath is the path of a BED file listing the windows to pile up.
	// Exactly one of BedPath and Region must be set.
	BedPath string
	// Region is a single window, formatted as <contig>:<1-based first
	// pos>-<last pos>, <contig>:<1-based pos>, or just <contig>.
	Region string
	// BamIndexPath is the path of the .bai index.  Defaults to bampath + ".bai".
	BamIndexPath string
	// OutPrefix is the output path prefix; files are named
	// <OutPrefix>.plp.tsv, <OutPrefix>.plp.tsv.gz or <OutPrefix>.plp.rio
	// depending on Format.
	OutPrefix string
	// Format is one of "tsv", "tsv-bgz" and "rio".
	Format string
	// FlagExclude: reads with a FLAG bit intersecting this value are skipped.
	FlagExclude int
	// Mapq: reads with MAPQ below this level are skipped.
	Mapq int
	// MaxInsertion blacklists every insertion at least this long.  0
	// disables the policy.
	MaxInsertion int
	// MinIdentity blacklists every IdentityWindow-long query window whose
	// identity is below it.  0 disables the policy.
	MinIdentity     float64
	IdentityWindow  int
	IdentityOverlap int
	// Parallelism is the maximum number of windows processed at once.  0 =
	// runtime.NumCPU().
	Parallelism int
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	OutPrefix:       "bio-plp",
	Format:          "tsv",
	FlagExclude:     0xf04,
	Mapq:            0,
	MaxInsertion:    0,
	MinIdentity:     0,
	IdentityWindow:  100,
	IdentityOverlap: 50,
}

func (o *Opts) validate() error {
	if (o.BedPath == "") == (o.Region == "") {
		return fmt.Errorf("plp.Opts: exactly one of BedPath and Region must be set")
	}
	switch o.Format {
	case "tsv", "tsv-bgz", "rio":
	default:
		return fmt.Errorf("plp.Opts: unknown format %q", o.Format)
	}
	if o.OutPrefix == "" {
		return fmt.Errorf("plp.Opts: empty OutPrefix")
	}
	if o.MaxInsertion < 0 {
		return fmt.Errorf("plp.Opts: negative MaxInsertion %d", o.MaxInsertion)
	}
	return nil
}

// Policies returns the blacklist policies enabled by o.
func (o *Opts) Policies() ([]blacklist.Policy, error) {
	var policies []blacklist.Policy
	if o.MaxInsertion > 0 {
		policies = append(policies, blacklist.NewLongInsertion(o.MaxInsertion))
	}
	if o.MinIdentity > 0 {
		p, err := blacklist.NewLowIdentity(float32(o.MinIdentity), o.IdentityWindow, o.IdentityOverlap)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}
