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
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Region is a 0-based half-open interval on one contig.
type Region struct {
	Contig string
	Start  int
	End    int
}

func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Contig, r.Start+1, r.End)
}

// regionEndMax marks "to the end of the contig"; it is clipped against the
// contig length once the BAM header is known.
const regionEndMax = math.MaxInt32

// ParseRegion parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.
func ParseRegion(region string) (result Region, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("plp.ParseRegion: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.Contig = region
		result.End = regionEndMax
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("plp.ParseRegion: empty contig ID")
		return
	}
	result.Contig = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("plp.ParseRegion: position %v in region string out of range", rangeStr)
			return
		}
		result.Start = pos1 - 1
		result.End = pos1
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("plp.ParseRegion: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 || end >= regionEndMax {
		err = fmt.Errorf("plp.ParseRegion: invalid range string %v", rangeStr)
		return
	}
	result.Start = start1 - 1
	result.End = end
	return
}

// ReadBED reads the first three columns of every line of a BED file.  Blank
// lines and "#", "track" and "browser" lines are skipped.  Gzipped input is
// detected from the path.
func ReadBED(ctx context.Context, path string) (regions []Region, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return nil, errors.Wrapf(err, "plp.ReadBED: %s", path)
		}
		defer gz.Close()
		reader = gz
	}
	regions, err = parseBED(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "plp.ReadBED: %s", path)
	}
	log.Printf("plp.ReadBED: %d region(s) loaded from %s", len(regions), path)
	return regions, nil
}

func parseBED(r io.Reader) ([]Region, error) {
	var regions []Region
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		fields := strings.Fields(gunsafe.BytesToString(scanner.Bytes()))
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") || fields[0] == "track" || fields[0] == "browser" {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineIdx)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineIdx)
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("invalid coordinate pair on line %d", lineIdx)
		}
		if end == start {
			continue
		}
		regions = append(regions, Region{Contig: strings.Clone(fields[0]), Start: start, End: end})
	}
	return regions, scanner.Err()
}
