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

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/cigar"
	"github.com/grailbio/plp/pileup"
	"github.com/pkg/errors"
)

// bamSource opens per-window iterators over an indexed BAM file.  The index
// and header are loaded once; every window opens its own reader, so windows
// may be read concurrently.
type bamSource struct {
	path   string
	index  *bam.Index
	header *sam.Header
	refs   map[string]*sam.Reference
}

func openBAM(ctx context.Context, path, indexPath string) (src *bamSource, err error) {
	if indexPath == "" {
		indexPath = path + ".bai"
	}
	src = &bamSource{path: path}

	var indexIn file.File
	if indexIn, err = file.Open(ctx, indexPath); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, indexIn, &err)
	if src.index, err = bam.ReadIndex(indexIn.Reader(ctx)); err != nil {
		return nil, errors.Wrapf(err, "plp: reading index %s", indexPath)
	}

	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.Wrapf(err, "plp: reading header of %s", path)
	}
	src.header = reader.Header()
	if err = reader.Close(); err != nil {
		return nil, err
	}
	src.refs = make(map[string]*sam.Reference, len(src.header.Refs()))
	for _, ref := range src.header.Refs() {
		src.refs[ref.Name()] = ref
	}
	return src, nil
}

// resolve maps region onto a header reference, clipping its end to the
// reference length.
func (s *bamSource) resolve(region Region) (*sam.Reference, Region, error) {
	ref, ok := s.refs[region.Contig]
	if !ok {
		return nil, region, errors.Errorf("plp: contig %s not in BAM header of %s", region.Contig, s.path)
	}
	if region.End > ref.Len() {
		region.End = ref.Len()
	}
	return ref, region, nil
}

// recordFilter decides which records are piled up.
type recordFilter struct {
	flagExclude sam.Flags
	mapq        byte
}

func newRecordFilter(opts *Opts) recordFilter {
	mapq := opts.Mapq
	if mapq > 255 {
		mapq = 255
	}
	return recordFilter{
		flagExclude: sam.Flags(opts.FlagExclude) | sam.Unmapped,
		mapq:        byte(mapq),
	}
}

func (f recordFilter) keep(rec *sam.Record) bool {
	return rec.Flags&f.flagExclude == 0 && rec.MapQ >= f.mapq
}

// readStats counts what happened to the records read for one window.
type readStats struct {
	Read      int
	Filtered  int
	Malformed int
}

// read returns the records overlapping [region.Start, region.End) of ref
// that pass filter.  Records without a usable position, CIGAR or SEQ are
// counted as malformed and skipped.
func (s *bamSource) read(ctx context.Context, ref *sam.Reference, region Region, filter recordFilter) (recs []*sam.Record, stats readStats, err error) {
	chunks, err := s.index.Chunks(ref, region.Start, region.End)
	if err == index.ErrInvalid || (err == nil && len(chunks) == 0) {
		// No reads in this interval.
		return nil, stats, nil
	}
	if err != nil {
		return nil, stats, errors.Wrapf(err, "plp: index lookup for %v", region)
	}

	var in file.File
	if in, err = file.Open(ctx, s.path); err != nil {
		return nil, stats, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, stats, err
	}
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	iter, err := bam.NewIterator(reader, chunks)
	if err != nil {
		return nil, stats, err
	}
	for iter.Next() {
		rec := iter.Record()
		stats.Read++
		if rec.Ref == nil || rec.Ref.ID() != ref.ID() || !filter.keep(rec) {
			stats.Filtered++
			continue
		}
		if rec.Pos < 0 || len(rec.Cigar) == 0 {
			log.Debug.Printf("plp: skipping malformed record %s", rec.Name)
			stats.Malformed++
			continue
		}
		if err := pileup.CheckSeq(rec); err != nil {
			log.Debug.Printf("plp: skipping malformed record: %v", err)
			stats.Malformed++
			continue
		}
		end := rec.Pos + cigar.RefLen(rec.Cigar)
		if end <= region.Start || rec.Pos >= region.End {
			stats.Filtered++
			continue
		}
		recs = append(recs, rec)
	}
	if err = iter.Close(); err != nil {
		return nil, stats, errors.Wrapf(err, "plp: reading %v", region)
	}
	return recs, stats, nil
}
