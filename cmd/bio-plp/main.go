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
package main

import (
	"fmt"
	"io"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/blacklist"
	"github.com/grailbio/plp/cigar"
	"github.com/grailbio/plp/pileup/plp"
	"v.io/x/lib/cmdline"
)

func newCmdCounts() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "counts",
		Short:    "Write per-window pileup count matrices of an indexed BAM",
		ArgsName: "bampath",
	}
	opts := plp.DefaultOpts
	cmd.Flags.StringVar(&opts.BedPath, "bed", opts.BedPath, "Input BED path; this xor -region required")
	cmd.Flags.StringVar(&opts.Region, "region", opts.Region, "Restrict pileup computation to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>; this xor -bed required")
	cmd.Flags.StringVar(&opts.BamIndexPath, "index", opts.BamIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	cmd.Flags.StringVar(&opts.OutPrefix, "out", opts.OutPrefix, "Output path prefix")
	cmd.Flags.StringVar(&opts.Format, "format", opts.Format, "Output format; 'tsv', 'tsv-bgz' and 'rio' supported")
	cmd.Flags.IntVar(&opts.FlagExclude, "flag-exclude", opts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	cmd.Flags.IntVar(&opts.Mapq, "mapq", opts.Mapq, "Reads with MAPQ below this level are skipped")
	cmd.Flags.IntVar(&opts.MaxInsertion, "max-insertion", opts.MaxInsertion, "Blacklist insertions of at least this many bases; 0 disables")
	cmd.Flags.Float64Var(&opts.MinIdentity, "min-identity", opts.MinIdentity, "Blacklist sliding windows with identity below this value; 0 disables")
	cmd.Flags.IntVar(&opts.IdentityWindow, "identity-window", opts.IdentityWindow, "Sliding window size for -min-identity")
	cmd.Flags.IntVar(&opts.IdentityOverlap, "identity-overlap", opts.IdentityOverlap, "Overlap of consecutive sliding windows for -min-identity")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Maximum number of windows to pile up at once; 0 = runtime.NumCPU()")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("counts takes one bampath argument, but got %v", argv)
		}
		_, err := plp.Pileup(vcontext.Background(), argv[0], &opts)
		return err
	})
	return cmd
}

func newCmdIdentity() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "identity",
		Short:    "Print the identity of a CIGAR over a query range",
		ArgsName: "cigar",
	}
	start := cmd.Flags.Int("start", 0, "First query offset of the range, 0-based")
	end := cmd.Flags.Int("end", -1, "Query offset one past the range; -1 means the end of the query")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("identity takes one cigar argument, but got %v", argv)
		}
		return printIdentity(env.Stdout, argv[0], *start, *end)
	})
	return cmd
}

func printIdentity(w io.Writer, text string, start, end int) error {
	c, err := cigar.Parse(text)
	if err != nil {
		return err
	}
	rc, err := cigar.NewRangeIdentityCalculator(c)
	if err != nil {
		return err
	}
	if end < 0 {
		end = cigar.QueryLen(c)
	}
	s, e, identity, err := rc.RangeIdentity(start, end)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d\t%d\t%.6f\n", s, e, identity)
	return err
}

func newCmdBlacklist() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "blacklist",
		Short:    "Print the blacklisted query offsets of a CIGAR",
		ArgsName: "cigar",
	}
	opts := plp.DefaultOpts
	cmd.Flags.IntVar(&opts.MaxInsertion, "max-insertion", opts.MaxInsertion, "Blacklist insertions of at least this many bases; 0 disables")
	cmd.Flags.Float64Var(&opts.MinIdentity, "min-identity", opts.MinIdentity, "Blacklist sliding windows with identity below this value; 0 disables")
	cmd.Flags.IntVar(&opts.IdentityWindow, "identity-window", opts.IdentityWindow, "Sliding window size for -min-identity")
	cmd.Flags.IntVar(&opts.IdentityOverlap, "identity-overlap", opts.IdentityOverlap, "Overlap of consecutive sliding windows for -min-identity")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("blacklist takes one cigar argument, but got %v", argv)
		}
		policies, err := opts.Policies()
		if err != nil {
			return err
		}
		return printBlacklist(env.Stdout, argv[0], policies)
	})
	return cmd
}

// printBlacklist writes one blacklisted query offset per line.
func printBlacklist(w io.Writer, text string, policies []blacklist.Policy) error {
	c, err := cigar.Parse(text)
	if err != nil {
		return err
	}
	seq := make([]byte, cigar.QueryLen(c))
	for i := range seq {
		seq[i] = 'N'
	}
	rec := &sam.Record{Name: "cigar", Pos: 0, Cigar: c, Seq: sam.NewSeq(seq), MatePos: -1}
	bl, err := blacklist.QueryLocusBlacklist(rec, policies)
	if err != nil {
		return err
	}
	for _, off := range bl.Sorted() {
		if _, err := fmt.Fprintln(w, off); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "bio-plp",
		Short:    "Pileup count matrices with insertion columns",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdCounts(),
			newCmdIdentity(),
			newCmdBlacklist(),
		},
	})
}
