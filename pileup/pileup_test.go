package pileup_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/blacklist"
	"github.com/grailbio/plp/cigar"
	"github.com/grailbio/plp/pileup"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newRecord(name string, pos int, seq, c string, flags sam.Flags) *sam.Record {
	return &sam.Record{
		Name:  name,
		Pos:   pos,
		Flags: flags,
		Cigar: cigar.MustParse(c),
		Seq:   sam.NewSeq([]byte(seq)),
	}
}

// --A--CTCC---
// GGACCCT-CGGG
//   A--TTCC
//      CTCC
func threeRecords() []*sam.Record {
	return []*sam.Record{
		newRecord("r0", 0, "GGACCCTCGGG", "2S1=2I2=1D1=3S", 0),
		newRecord("r1", 0, "ATTCC", "1=1X3=", 0),
		newRecord("r2", 1, "CTCC", "4=", 0),
	}
}

func zeros(n int) []uint32 { return make([]uint32, n) }

func concat(parts ...[]uint32) []uint32 {
	var r []uint32
	for _, p := range parts {
		r = append(r, p...)
	}
	return r
}

func TestAlignedPairs(t *testing.T) {
	pairs, err := pileup.AlignedPairs(newRecord("r", 10, "GGACCTCGGG", "1H2S1=1I2=1D1=3S", 0))
	assert.NoError(t, err)
	expect.EQ(t, pairs, []pileup.AlignedPair{
		{0, -1}, {1, -1}, {2, 10}, {3, -1}, {4, 11}, {5, 12}, {-1, 13}, {6, 14}, {7, -1}, {8, -1}, {9, -1},
	})

	_, err = pileup.AlignedPairs(newRecord("r", -1, "AC", "2=", 0))
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestRefStartEnd(t *testing.T) {
	rec := newRecord("r", 5, "GGACCTCGGG", "2S1=1I2=1D1=3S", 0)
	start, err := pileup.RefStart(rec)
	assert.NoError(t, err)
	expect.EQ(t, start, 5)
	end, err := pileup.RefEnd(rec)
	assert.NoError(t, err)
	expect.EQ(t, end, 10)

	rec.Pos = -1
	_, err = pileup.RefEnd(rec)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestInsertionProfile(t *testing.T) {
	tests := []struct {
		name string
		recs []*sam.Record
		want pileup.InsertionProfile
	}{
		{
			name: "right_soft_clip",
			recs: []*sam.Record{newRecord("r", 0, "ACTCGGG", "4=3S", 0)},
			want: pileup.InsertionProfile{0: 0, 1: 0, 2: 0, 3: 0},
		},
		{
			name: "indel",
			recs: []*sam.Record{newRecord("r", 0, "GGACCTCGGG", "2S1=1I2=1D1=3S", 0)},
			want: pileup.InsertionProfile{0: 1, 1: 0, 2: 0, 3: 0, 4: 0},
		},
		{
			name: "trailing_insertion",
			recs: []*sam.Record{newRecord("r", 3, "ACGTTT", "3=3I", 0)},
			want: pileup.InsertionProfile{3: 0, 4: 0, 5: 3},
		},
		{
			name: "trailing_deletion",
			recs: []*sam.Record{newRecord("r", 0, "ACG", "3=2D", 0)},
			want: pileup.InsertionProfile{0: 0, 1: 0, 2: 0, 3: 0, 4: 0},
		},
		{
			name: "max_over_records",
			recs: threeRecords(),
			want: pileup.InsertionProfile{0: 2, 1: 0, 2: 0, 3: 0, 4: 0},
		},
	}
	for _, test := range tests {
		got, err := pileup.ComputeInsertionProfile(test.recs, nil, nil)
		assert.NoError(t, err, test.name)
		expect.EQ(t, got, test.want, test.name)
	}
}

func TestInsertionProfileWindow(t *testing.T) {
	recs := threeRecords()
	got, err := pileup.ComputeInsertionProfile(recs, &pileup.Window{Start: 1, End: 4}, nil)
	assert.NoError(t, err)
	expect.EQ(t, got, pileup.InsertionProfile{1: 0, 2: 0, 3: 0})

	// Records entirely outside the window contribute nothing.
	got, err = pileup.ComputeInsertionProfile(recs, &pileup.Window{Start: 100, End: 200}, nil)
	assert.NoError(t, err)
	expect.EQ(t, len(got), 0)
}

func TestInsertionProfileBlacklist(t *testing.T) {
	recs := []*sam.Record{newRecord("r", 0, "AAAAAAAAAACCCC", "2=10I2=", 0)}
	got, err := pileup.ComputeInsertionProfile(recs, nil, nil)
	assert.NoError(t, err)
	expect.EQ(t, got[1], 10)
	got, err = pileup.ComputeInsertionProfile(recs, nil, []blacklist.Policy{blacklist.NewLongInsertion(5)})
	assert.NoError(t, err)
	expect.EQ(t, got, pileup.InsertionProfile{0: 0, 1: 0, 2: 0, 3: 0})

	// A precomputed blacklist covering part of the insertion.
	bl := blacklist.LocusSet{}
	bl.AddRange(2, 5)
	profile := pileup.InsertionProfile{}
	assert.NoError(t, profile.Add(recs[0], nil, bl))
	expect.EQ(t, profile, pileup.InsertionProfile{0: 0, 1: 7, 2: 0, 3: 0})
}

func TestMergeProfiles(t *testing.T) {
	merged := pileup.MergeProfiles(
		pileup.InsertionProfile{0: 1, 1: 0},
		pileup.InsertionProfile{1: 3, 2: 0},
		nil,
	)
	expect.EQ(t, merged, pileup.InsertionProfile{0: 1, 1: 3, 2: 0})
}

func TestColumnLayout(t *testing.T) {
	l := pileup.NewColumnLayout(pileup.InsertionProfile{5: 0, 3: 2, 4: 1})
	expect.EQ(t, l.NumColumns(), 6)
	expect.EQ(t, l.NumPositions(), 3)
	expect.EQ(t, l.RefStart(), 3)
	expect.EQ(t, l.RefEnd(), 6)
	for col, want := range []pileup.MajorMinor{{3, 0}, {3, 1}, {3, 2}, {4, 0}, {4, 1}, {5, 0}} {
		got, err := l.At(col)
		assert.NoError(t, err)
		expect.EQ(t, got, want)
		idx, err := l.Index(want)
		assert.NoError(t, err)
		expect.EQ(t, idx, col)
	}
	_, err := l.Index(pileup.MajorMinor{Major: 4, Minor: 2})
	expect.True(t, errors.Is(errors.Integrity, err))
	_, err = l.Index(pileup.MajorMinor{Major: 7})
	expect.True(t, errors.Is(errors.Integrity, err))
	_, err = l.At(6)
	expect.True(t, errors.Is(errors.Integrity, err))

	_, err = pileup.NewPlpCnts(pileup.NewColumnLayout(pileup.InsertionProfile{}))
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestPlpCnts(t *testing.T) {
	plp, err := pileup.PlpWithRecords(threeRecords(), nil, nil)
	assert.NoError(t, err)
	expect.EQ(t, plp.NumColumns(), 7)
	expect.EQ(t, plp.Major(), []int{0, 0, 0, 1, 2, 3, 4})
	expect.EQ(t, plp.Minor(), []int{0, 1, 2, 0, 0, 0, 0})
	want := concat(
		[]uint32{2, 0, 0, 0, 0, 0, 0},
		[]uint32{0, 1, 1, 2, 0, 2, 3},
		zeros(7),
		[]uint32{0, 0, 0, 1, 3, 0, 0},
		zeros(28),
		[]uint32{0, 0, 0, 0, 0, 1, 0},
		zeros(7),
	)
	expect.EQ(t, plp.Counts(), want)
	expect.EQ(t, plp.Count(pileup.RowFwdGap, 5), uint32(1))

	expect.EQ(t, strings.Split(plp.String(), "\n")[0], "2, 0, 0, 0, 0, 0, 0, 0, 0, 0")
	expect.EQ(t, strings.Split(plp.String(), "\n")[6], "0, 3, 0, 0, 0, 0, 0, 0, 0, 0")
}

func TestPlpCntsWindow(t *testing.T) {
	plp, err := pileup.PlpWithRecords(threeRecords(), &pileup.Window{Start: 1, End: 4}, nil)
	assert.NoError(t, err)
	want := concat(
		zeros(3),
		[]uint32{2, 0, 2},
		zeros(3),
		[]uint32{1, 3, 0},
		zeros(12),
		[]uint32{0, 0, 1},
		zeros(3),
	)
	expect.EQ(t, plp.Counts(), want)
	expect.EQ(t, plp.Major(), []int{1, 2, 3})
}

func TestPlpCntsReverseStrand(t *testing.T) {
	recs := []*sam.Record{
		newRecord("f", 0, "ACG", "1=1D2=", 0),
		newRecord("r", 0, "ANG", "1=1D2=", sam.Reverse),
	}
	plp, err := pileup.PlpWithRecords(recs, nil, nil)
	assert.NoError(t, err)
	expect.EQ(t, plp.NumColumns(), 4)
	expect.EQ(t, plp.Count(pileup.RowFwdA, 0), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowRevA, 0), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowFwdGap, 1), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowRevGap, 1), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowFwdC, 2), uint32(1))
	// N is not counted.
	expect.EQ(t, plp.ColumnTotal(2), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowRevG, 3), uint32(1))
}

func TestPlpCntsBlacklist(t *testing.T) {
	// ACxxxxxxGT with the 6-base insertion blacklisted, next to a record with
	// a 2-base insertion at the same place.
	recs := []*sam.Record{
		newRecord("long", 0, "ACTTTTTTGT", "2=6I2=", 0),
		newRecord("short", 0, "ACGGGT", "2=2I2=", 0),
	}
	policies := []blacklist.Policy{blacklist.NewLongInsertion(5)}
	plp, err := pileup.PlpWithRecords(recs, nil, policies)
	assert.NoError(t, err)
	expect.EQ(t, plp.Minor(), []int{0, 0, 1, 2, 0, 0})
	expect.EQ(t, plp.Count(pileup.RowFwdG, 2), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowFwdG, 3), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowFwdT, 2), uint32(0))
	expect.EQ(t, plp.ColumnTotal(4), uint32(2))

	// Accumulating without the blacklist overflows the layout built with it.
	profile, err := pileup.ComputeInsertionProfile(recs, nil, policies)
	assert.NoError(t, err)
	small, err := pileup.NewPlpCnts(pileup.NewColumnLayout(profile))
	assert.NoError(t, err)
	err = small.Accumulate(recs[0], nil)
	expect.True(t, errors.Is(errors.Integrity, err))
}

func TestPlpCntsLowIdentityBlacklist(t *testing.T) {
	recs := []*sam.Record{
		newRecord("mismatch", 0, "ACGTTGCAACGT", "4=4X4=", 0),
		newRecord("match", 0, "ACGTACGTACGT", "12=", 0),
	}
	p, err := blacklist.NewLowIdentity(0.5, 4, 0)
	assert.NoError(t, err)
	plp, err := pileup.PlpWithRecords(recs, nil, []blacklist.Policy{p})
	assert.NoError(t, err)
	all, err := pileup.PlpWithRecords(recs, nil, nil)
	assert.NoError(t, err)
	assert.EQ(t, plp.NumColumns(), 12)
	for col := 0; col < 12; col++ {
		want := uint32(2)
		if col >= 4 && col < 8 {
			want = 1
		}
		expect.EQ(t, plp.ColumnTotal(col), want, col)
		expect.EQ(t, all.ColumnTotal(col), uint32(2), col)
		expect.EQ(t, plp.Count(pileup.RowFwdGap, col), uint32(0), col)
		expect.EQ(t, plp.Count(pileup.RowRevGap, col), uint32(0), col)
	}
	// Only the matching record's A survives at position 4.
	expect.EQ(t, plp.Count(pileup.RowFwdA, 4), uint32(1))
	expect.EQ(t, plp.Count(pileup.RowFwdT, 4), uint32(0))
	expect.EQ(t, all.Count(pileup.RowFwdT, 4), uint32(1))
}

func TestPlpCntsMissingSeq(t *testing.T) {
	noSeq := newRecord("noseq", 0, "", "3=", 0)
	short := newRecord("short", 0, "AC", "3=", 0)
	for _, rec := range []*sam.Record{noSeq, short} {
		_, err := pileup.PlpWithRecords([]*sam.Record{rec}, nil, nil)
		expect.True(t, errors.Is(errors.Invalid, err), rec.Name)

		profile := pileup.InsertionProfile{}
		err = profile.Add(rec, nil, nil)
		expect.True(t, errors.Is(errors.Invalid, err), rec.Name)
		expect.EQ(t, len(profile), 0)

		plp, err := pileup.NewPlpCnts(pileup.NewColumnLayout(pileup.InsertionProfile{0: 0, 1: 0, 2: 0}))
		assert.NoError(t, err)
		err = plp.Accumulate(rec, nil)
		expect.True(t, errors.Is(errors.Invalid, err), rec.Name)
		for col := 0; col < plp.NumColumns(); col++ {
			expect.EQ(t, plp.ColumnTotal(col), uint32(0))
		}

		_, _, err = pileup.DrawAlignedSeq(rec, []byte("ACG"), nil)
		expect.True(t, errors.Is(errors.Invalid, err), rec.Name)
	}
	// Outside the window, the record is ignored before SEQ is looked at.
	profile := pileup.InsertionProfile{}
	assert.NoError(t, profile.Add(noSeq, &pileup.Window{Start: 5, End: 10}, nil))
}

func TestPlpCntsText(t *testing.T) {
	var recs []*sam.Record
	for i := 0; i < 12; i++ {
		recs = append(recs, newRecord("r", 0, "AC", "1=1D1=", sam.Reverse))
	}
	plp, err := pileup.PlpWithRecords(recs, nil, nil)
	assert.NoError(t, err)
	expect.EQ(t, plp.Count(pileup.RowRevGap, 1), uint32(12))
	expect.EQ(t, plp.String(), strings.Join([]string{
		"0, 0, 0, 0, 12, 0, 0, 0, 0, 0",
		"0, 0, 0, 0, 0, 0, 0, 0, 0, 12",
		"0, 0, 0, 0, 0, 12, 0, 0, 0, 0",
	}, "\n"))
}

func TestRowNames(t *testing.T) {
	expect.EQ(t, pileup.RowNames, [pileup.NRow]string{"A+", "C+", "G+", "T+", "A-", "C-", "G-", "T-", "*+", "*-"})
}

func TestPlpCntsMissingPosition(t *testing.T) {
	plp, err := pileup.NewPlpCnts(pileup.NewColumnLayout(pileup.InsertionProfile{0: 0, 2: 0}))
	assert.NoError(t, err)
	err = plp.Accumulate(newRecord("r", 0, "ACG", "3=", 0), nil)
	expect.True(t, errors.Is(errors.Integrity, err))
	assert.HasSubstr(t, err.Error(), "reference position 1")

	err = plp.Accumulate(newRecord("r", 10, "ACG", "3=", 0), nil)
	assert.NoError(t, err)
}

func TestPlpCntsMerge(t *testing.T) {
	recs := threeRecords()
	profile, err := pileup.ComputeInsertionProfile(recs, nil, nil)
	assert.NoError(t, err)
	a, err := pileup.NewPlpCnts(pileup.NewColumnLayout(profile))
	assert.NoError(t, err)
	b, err := pileup.NewPlpCnts(pileup.NewColumnLayout(profile))
	assert.NoError(t, err)
	assert.NoError(t, a.Accumulate(recs[0], nil))
	assert.NoError(t, b.Accumulate(recs[1], nil))
	assert.NoError(t, b.Accumulate(recs[2], nil))
	assert.NoError(t, a.Merge(b))
	whole, err := pileup.PlpWithRecords(recs, nil, nil)
	assert.NoError(t, err)
	expect.EQ(t, a.Counts(), whole.Counts())

	other, err := pileup.NewPlpCnts(pileup.NewColumnLayout(pileup.InsertionProfile{0: 0}))
	assert.NoError(t, err)
	expect.True(t, errors.Is(errors.Integrity, a.Merge(other)))
}

// randomRecord returns a forward or reverse =/X/I/D record starting within
// [0, 20).
func randomRecord(r *rand.Rand, name string) *sam.Record {
	const bases = "ACGT"
	var c sam.Cigar
	qlen := 0
	if r.Intn(3) == 0 {
		n := 1 + r.Intn(3)
		c = append(c, sam.NewCigarOp(sam.CigarSoftClipped, n))
		qlen += n
	}
	n := 1 + r.Intn(5)
	c = append(c, sam.NewCigarOp(sam.CigarEqual, n))
	qlen += n
	for i := r.Intn(6); i > 0; i-- {
		t := []sam.CigarOpType{sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion}[r.Intn(4)]
		n = 1 + r.Intn(4)
		c = append(c, sam.NewCigarOp(t, n))
		if t != sam.CigarDeletion {
			qlen += n
		}
	}
	n = 1 + r.Intn(5)
	c = append(c, sam.NewCigarOp(sam.CigarEqual, n))
	qlen += n
	seq := make([]byte, qlen)
	for i := range seq {
		seq[i] = bases[r.Intn(4)]
	}
	var flags sam.Flags
	if r.Intn(2) == 0 {
		flags = sam.Reverse
	}
	return &sam.Record{Name: name, Pos: r.Intn(20), Flags: flags, Cigar: c, Seq: sam.NewSeq(seq)}
}

func TestPlpCntsProperties(t *testing.T) {
	r := rand.New(rand.NewSource(0))
	for iter := 0; iter < 100; iter++ {
		var recs []*sam.Record
		for i, n := 0, 1+r.Intn(10); i < n; i++ {
			recs = append(recs, randomRecord(r, "r"))
		}
		var window *pileup.Window
		if r.Intn(2) == 0 {
			start := r.Intn(20)
			window = &pileup.Window{Start: start, End: start + 1 + r.Intn(20)}
		}
		profile, err := pileup.ComputeInsertionProfile(recs, window, nil)
		assert.NoError(t, err)
		if len(profile) == 0 {
			continue
		}
		layout := pileup.NewColumnLayout(profile)
		wantCols := 0
		for _, ins := range profile {
			wantCols += ins + 1
		}
		expect.EQ(t, layout.NumColumns(), wantCols)

		plp, err := pileup.NewPlpCnts(layout)
		assert.NoError(t, err)
		for _, rec := range recs {
			assert.NoError(t, plp.Accumulate(rec, nil))
		}
		// Every reference column is covered exactly once by each record
		// spanning it, by a base or a gap.
		for col := 0; col < plp.NumColumns(); col++ {
			if plp.Minor()[col] != 0 {
				continue
			}
			pos := plp.Major()[col]
			var covering uint32
			for _, rec := range recs {
				start, _ := pileup.RefStart(rec)
				end, _ := pileup.RefEnd(rec)
				if start <= pos && pos < end {
					covering++
				}
			}
			expect.EQ(t, plp.ColumnTotal(col), covering, "column %d", col)
		}

		par, err := pileup.PlpParallel(vcontext.Background(), recs, window, nil, 3)
		assert.NoError(t, err)
		expect.EQ(t, par.Counts(), plp.Counts())
	}
}

func TestDrawAlignedSeq(t *testing.T) {
	rec := newRecord("r", 0, "GGACCTCGGG", "2S1=1I2=1D1=3S", 0)
	ref := []byte("ACTCC")
	r, q, err := pileup.DrawAlignedSeq(rec, ref, nil)
	assert.NoError(t, err)
	expect.EQ(t, r, "--A-CTCC---")
	expect.EQ(t, q, "GGACCT-CGGG")

	r, q, err = pileup.DrawAlignedSeq(rec, ref, &pileup.Window{Start: 1, End: 4})
	assert.NoError(t, err)
	expect.EQ(t, r, "CTC")
	expect.EQ(t, q, "CT-")

	// Ambiguity codes are drawn as stored.
	r, q, err = pileup.DrawAlignedSeq(newRecord("n", 0, "ANR", "3X", 0), []byte("CCC"), nil)
	assert.NoError(t, err)
	expect.EQ(t, r, "CCC")
	expect.EQ(t, q, "ANR")
}
