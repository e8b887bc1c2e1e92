package descriptor

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/regiongen/pinpoints"
)

const iCountCSV = `# Regions based on 'create_region_file.pl -seq_region_ids -tid 0 -region_file t.simpoints -weight_file t.weights t.bb':
comment,thread-id,region-id,simulation-region-start-icount,simulation-region-end-icount,region-weight
# Region = 1 Slice = 88 Icount = 308000214 Length = 3500002 Weight = 0.5432
cluster 0 from slice 88,0,1,308000214,311500216,0.543210
Warmup for regionid 1,0,1,307000214,308000214,0.543210
# Region = 2 Slice = 12 Icount = 42000000 Length = 3500000 Weight = 0.2568
cluster 1 from slice 12,0,2,42000000,45500000,0.256790
# Region = 3 Slice = 140 Icount = 490000000 Length = 3500000 Weight = 0.2
cluster 2 from slice 140,0,3,490000000,493500000,0.2
# Total instructions in mcf.ref_4521 = 512000000
`

const pcCSV = `# comment,thread-id,region-id,start-pc, start-image-name, start-image-offset, start-pc-count,end-pc, end-image-name, end-image-offset, end-pc-count,end-pc-relative-count, region-length, region-weight, region-multiplier, region-type
cluster 0 from slice 5459,0,1,0x4029a5,mcf_base.linux,0x29a5,478047360,0x401e47,mcf_base.linux,0x1e47,2406261603,1516288,30000005,0.54461,463.000,simulation
cluster 1 from slice 4,0,2,0x7ffff7de6351,ld-linux-x86-64.so.2,0x11974,13,0x7fffdea57990,ld-linux-x86-64.so.2,0x11980,14,1,17962,0.45539,0.615,simulation
Warmup for regionid 2,0,2,0x7ffff7de0000,ld-linux-x86-64.so.2,0x10000,2,0x7ffff7de6351,ld-linux-x86-64.so.2,0x11974,13,13,5000,0.45539,0.615,warmup
`

func TestRead_ICountDescriptor_AllFields(t *testing.T) {
	// GIVEN a clustering-generated icount descriptor
	d, err := Read(strings.NewReader(iCountCSV), "mcf.csv")

	// THEN every cluster is parsed with its markers and weight
	require.NoError(t, err)
	assert.Equal(t, pinpoints.EncodingICount, d.Encoding)
	assert.Equal(t, 3, d.ClusterCount())
	assert.Equal(t, "mcf.ref_4521", d.Source)
	assert.Equal(t, int64(512000000), d.TotalInstructions)

	r0 := d.Regions[0]
	assert.Equal(t, 0, r0.ClusterID)
	assert.Equal(t, 88, r0.Slice)
	assert.Equal(t, 1, r0.RegionID)
	assert.Equal(t, int64(308000214), r0.Span.StartICount)
	assert.Equal(t, int64(3500002), r0.Length(d.Encoding))
	assert.InDelta(t, 0.54321, r0.Weight, 1e-9)
	require.NotNil(t, r0.Warmup, "warmup row attaches to cluster regionid-1")
	assert.Equal(t, int64(1000000), r0.Warmup.Length(d.Encoding))
	assert.Nil(t, d.Regions[1].Warmup)
}

func TestRead_PCDescriptor_CommentedHeaderWithSpaces(t *testing.T) {
	d, err := Read(strings.NewReader(pcCSV), "pc.csv")
	require.NoError(t, err)
	assert.Equal(t, pinpoints.EncodingPC, d.Encoding)
	require.Equal(t, 2, d.ClusterCount())

	r1 := d.Regions[1]
	assert.Equal(t, "0x7ffff7de6351", r1.Span.Start.PC)
	assert.Equal(t, "ld-linux-x86-64.so.2", r1.Span.End.Image)
	assert.Equal(t, int64(14), r1.Span.End.Count)
	assert.Equal(t, int64(17962), r1.Length(d.Encoding))
	assert.InDelta(t, 0.615, r1.Multiplier, 1e-9)
	assert.Equal(t, pinpoints.RowSimulation, r1.Type)
	require.NotNil(t, r1.Warmup)
	assert.Equal(t, int64(5000), r1.Warmup.Length(d.Encoding))
}

func TestRead_Malformed(t *testing.T) {
	header := "comment,thread-id,region-id,simulation-region-start-icount,simulation-region-end-icount,region-weight\n"
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"field count", header + "cluster 0 from slice 1,0,1,100,200\n", "5 fields, header has 6"},
		{"bad weight", header + "cluster 0 from slice 1,0,1,100,200,heavy\n", "region-weight"},
		{"pc in icount file", header + "cluster 0 from slice 1,0,1,0x4029a5,200,0.5\n", "mixed encodings"},
		{"two encodings", header + "# comment,thread-id,region-id,start-pc,start-image-name,start-image-offset,start-pc-count,end-pc,end-image-name,end-image-offset,end-pc-count,end-pc-relative-count,region-length,region-weight\n", "mixed encodings"},
		{"row before header", "cluster 0 from slice 1,0,1,100,200,0.5\n", "before the column header"},
		{"duplicate cluster", header + "cluster 0 from slice 1,0,1,100,200,0.5\ncluster 0 from slice 2,0,1,300,400,0.5\n", "duplicate cluster 0"},
		{"unnamed row", header + "region zero,0,1,100,200,0.5\n", "does not name a cluster"},
		{"reversed span", header + "cluster 0 from slice 1,0,1,300,200,1.0\n", "ends (200) before it starts (300)"},
		{"mixed threads", header + "cluster 0 from slice 1,-1,1,100,200,0.5\ncluster 1 from slice 2,0,2,300,400,0.5\n", "mixed thread conventions"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.input), "bad.csv")
			require.Error(t, err)
			assert.True(t, errors.Is(err, pinpoints.ErrMalformedDescriptor), "got %v", err)
			assert.Contains(t, err.Error(), tc.reason)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "bad.csv", pe.Path)
		})
	}
}

func TestRead_EmptyOrCommentOnly_NoClusters(t *testing.T) {
	for _, input := range []string{"", "\n\n", "# nothing here\n# Total instructions in bench = 0\n"} {
		_, err := Read(strings.NewReader(input), "empty.csv")
		assert.ErrorIs(t, err, pinpoints.ErrNoClusters, "input %q", input)
		assert.False(t, errors.Is(err, pinpoints.ErrMalformedDescriptor), "input %q", input)
	}
}

func TestRead_OrphanWarmupDropped(t *testing.T) {
	input := "comment,thread-id,region-id,simulation-region-start-icount,simulation-region-end-icount,region-weight\n" +
		"cluster 0 from slice 1,0,1,100,200,1.0\n" +
		"Warmup for regionid 4,0,4,10,100,0.5\n"
	d, err := Read(strings.NewReader(input), "orphan.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, d.ClusterCount())
	assert.Nil(t, d.Regions[0].Warmup)
}

func TestWriteParse_RoundTrip(t *testing.T) {
	for name, input := range map[string]string{"icount": iCountCSV, "pc": pcCSV} {
		t.Run(name, func(t *testing.T) {
			// GIVEN a parsed descriptor
			orig, err := Read(strings.NewReader(input), name)
			require.NoError(t, err)

			// WHEN written and parsed back
			path := filepath.Join(t.TempDir(), name+".pinpoints.csv")
			require.NoError(t, Write(path, orig, IterationNote(1)))
			back, err := Parse(path)
			require.NoError(t, err)

			// THEN the regions are identical up to order
			byCluster := cmpopts.SortSlices(func(a, b pinpoints.Region) bool { return a.ClusterID < b.ClusterID })
			if diff := cmp.Diff(orig.Regions, back.Regions, byCluster); diff != "" {
				t.Errorf("round trip mismatch (-orig +back):\n%s", diff)
			}
			assert.Equal(t, orig.Encoding, back.Encoding)
			assert.Equal(t, orig.Header, back.Header)
		})
	}
}

func TestEncode_PreservesCallerOrderAndNotes(t *testing.T) {
	d, err := Read(strings.NewReader(iCountCSV), "mcf.csv")
	require.NoError(t, err)
	d.Regions[0], d.Regions[2] = d.Regions[2], d.Regions[0]

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, d, IterationNote(3)))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Machine generated CSV file, iteration 3\n"))
	first := strings.Index(out, "cluster 2 from slice 140")
	last := strings.Index(out, "cluster 0 from slice 88")
	assert.True(t, first >= 0 && last > first, "regions must be written in caller order")
	assert.Less(t, last, strings.Index(out, "Warmup for regionid 1"), "warmup follows its simulation row")
	assert.Contains(t, out, "# Region = 1 Slice = 88 Icount = 308000214 Length = 3500002")
	assert.Contains(t, out, "# Total instructions in mcf.ref_4521 = 512000000")
}

func TestWrite_ReplacesExistingFile(t *testing.T) {
	d, err := Read(strings.NewReader(iCountCSV), "mcf.csv")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nested", "cur.csv")
	require.NoError(t, Write(path, d, ""))

	sub, err := d.Subset([]int{1})
	require.NoError(t, err)
	require.NoError(t, Write(path, sub, IterationNote(2)))

	back, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, back.ClusterIDs())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "mcf.ref_4521", SourceName("/x/mcf.ref_4521.Data/mcf.ref_4521.pinpoints.csv"))
	assert.Equal(t, "omp_1", SourceName("omp_1.global.pinpoints.csv"))
	assert.Equal(t, "bench", SourceName("bench.pinpoints.in.csv"))
}

func TestCheckWeights(t *testing.T) {
	regions := func(ws ...float64) []pinpoints.Region {
		out := make([]pinpoints.Region, len(ws))
		for i, w := range ws {
			out[i] = pinpoints.Region{ClusterID: i, Row: pinpoints.Row{Weight: w}}
		}
		return out
	}
	assert.True(t, CheckWeights(regions(0.5, 0.3, 0.2), DefaultWeightTolerance))
	assert.False(t, CheckWeights(regions(0.5, 0.3), DefaultWeightTolerance))
	assert.False(t, CheckWeights(regions(1.2, -0.2), DefaultWeightTolerance))
	assert.InDelta(t, 1.0, WeightSum(regions(0.5, 0.3, 0.2)), 1e-12)
}
