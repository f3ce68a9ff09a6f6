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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/plp/pileup"
	"github.com/pkg/errors"
)

func init() {
	recordiozstd.Init()
}

const (
	refNamesHeader = "RefNames"
	trailerVersion = 1
	// columnSize is the marshalled size of a Column: RefID, Pos, Ins and
	// pileup.NRow counts, all uint32.
	columnSize = 4 * (3 + pileup.NRow)
)

// Column is one column of a windowed pileup, flattened for output.
//
// - Pos is zero-based; the TSV output adds 1.
// - Ins is the insertion slot after Pos; 0 is the reference base itself.
// - Counts is indexed by pileup row (pileup.RowFwdA etc.).
type Column struct {
	RefID  uint32
	Pos    uint32
	Ins    uint32
	Counts [pileup.NRow]uint32
}

// WindowPileup is the pileup of one window.
type WindowPileup struct {
	RefID  int
	Region Region
	Plp    *pileup.PlpCnts
}

// columns flattens piles in order.
func columns(piles []WindowPileup) []Column {
	var cols []Column
	for _, w := range piles {
		if w.Plp == nil {
			continue
		}
		major, minor := w.Plp.Major(), w.Plp.Minor()
		for col := 0; col < w.Plp.NumColumns(); col++ {
			c := Column{RefID: uint32(w.RefID), Pos: uint32(major[col]), Ins: uint32(minor[col])}
			for row := 0; row < pileup.NRow; row++ {
				c.Counts[row] = w.Plp.Count(row, col)
			}
			cols = append(cols, c)
		}
	}
	return cols
}

var tsvHeader = "#CHROM\tPOS\tINS\t" + strings.Join(pileup.RowNames[:], "\t")

// WriteColumnsTSV writes cols as a TSV with a header line.
func WriteColumnsTSV(cols []Column, refNames []string, w io.Writer) (err error) {
	tw := tsv.NewWriter(w)
	tw.WriteString(tsvHeader)
	if err = tw.EndLine(); err != nil {
		return
	}
	for _, c := range cols {
		tw.WriteString(refNames[c.RefID])
		tw.WriteUint32(c.Pos + 1) // POS (1-based in text)
		tw.WriteUint32(c.Ins)
		for _, n := range c.Counts {
			tw.WriteUint32(n)
		}
		if err = tw.EndLine(); err != nil {
			return
		}
	}
	return tw.Flush()
}

func writeTSVFile(ctx context.Context, path string, cols []Column, refNames []string, bgzip bool, parallelism int) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if !bgzip {
		return WriteColumnsTSV(cols, refNames, dst.Writer(ctx))
	}
	bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), parallelism)
	defer func() {
		if e := bgzfWriter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return WriteColumnsTSV(cols, refNames, bgzfWriter)
}

// WriteColumnsRio writes cols to out using recordio.
func WriteColumnsRio(cols []Column, refNames []string, out io.Writer) error {
	recordWriter := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalColumn,
		Transformers: []string{recordiozstd.Name},
	})
	recordWriter.AddHeader(refNamesHeader, strings.Join(refNames, "\000"))
	recordWriter.AddHeader(recordio.KeyTrailer, true)
	for i := range cols {
		recordWriter.Append(&cols[i])
	}
	recordWriter.SetTrailer(columnsTrailer{
		Version:    trailerVersion,
		NumColumns: int64(len(cols)),
		NumRows:    pileup.NRow,
	}.marshal())
	return recordWriter.Finish()
}

func writeRioFile(ctx context.Context, path string, cols []Column, refNames []string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	return WriteColumnsRio(cols, refNames, dst.Writer(ctx))
}

// columnsTrailer is the recordio trailer of a columns file.
type columnsTrailer struct {
	Version    int64
	NumColumns int64
	NumRows    int64
}

func (t columnsTrailer) marshal() []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &t); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func parseColumnsTrailer(b []byte) (t columnsTrailer, err error) {
	if err = binary.Read(bytes.NewReader(b), binary.LittleEndian, &t); err != nil {
		return
	}
	if t.Version != trailerVersion {
		err = fmt.Errorf("plp: unrecognized trailer version: got %d, want %d", t.Version, trailerVersion)
	} else if t.NumRows != pileup.NRow {
		err = fmt.Errorf("plp: columns have %d rows, want %d", t.NumRows, pileup.NRow)
	}
	return
}

func marshalColumn(scratch []byte, p interface{}) ([]byte, error) {
	t := scratch
	if len(t) < columnSize {
		t = make([]byte, columnSize)
	}
	t = t[:columnSize]
	c := p.(*Column)
	binary.LittleEndian.PutUint32(t[0:4], c.RefID)
	binary.LittleEndian.PutUint32(t[4:8], c.Pos)
	binary.LittleEndian.PutUint32(t[8:12], c.Ins)
	for row, n := range c.Counts {
		off := 12 + 4*row
		binary.LittleEndian.PutUint32(t[off:off+4], n)
	}
	return t, nil
}

func unmarshalColumn(in []byte) (interface{}, error) {
	if len(in) != columnSize {
		return nil, fmt.Errorf("plp: column record has %d bytes, want %d", len(in), columnSize)
	}
	c := &Column{
		RefID: binary.LittleEndian.Uint32(in[0:4]),
		Pos:   binary.LittleEndian.Uint32(in[4:8]),
		Ins:   binary.LittleEndian.Uint32(in[8:12]),
	}
	for row := range c.Counts {
		off := 12 + 4*row
		c.Counts[row] = binary.LittleEndian.Uint32(in[off : off+4])
	}
	return c, nil
}

// ReadColumnsRio reads columns from a recordio file written by
// WriteColumnsRio.
func ReadColumnsRio(rs io.ReadSeeker) (cols []Column, refNames []string, err error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalColumn,
	})
	trailer, err := parseColumnsTrailer(scanner.Trailer())
	if err != nil {
		err = errors.Wrap(err, "plp.ReadColumnsRio")
		return
	}
	cols = make([]Column, 0, trailer.NumColumns)
	for _, kv := range scanner.Header() {
		if kv.Key == refNamesHeader {
			refNames = strings.Split(kv.Value.(string), "\000")
		}
	}
	for scanner.Scan() {
		cols = append(cols, *scanner.Get().(*Column))
	}
	if err = scanner.Err(); err != nil {
		return
	}
	if int64(len(cols)) != trailer.NumColumns {
		err = fmt.Errorf("plp.ReadColumnsRio: read %d columns, trailer says %d", len(cols), trailer.NumColumns)
	}
	return
}
