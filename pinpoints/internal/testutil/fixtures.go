// Package testutil provides shared test infrastructure for the pinpoints
// packages: descriptor fixtures and a fake capture tool that materializes
// artifacts on disk.
package testutil

import (
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Fixture returns the path of a descriptor under testdata/.
// The path is resolved relative to this source file.
func Fixture(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "testdata", name)
}

// Descriptor builds an icount descriptor with one thread-0 region per weight.
// Cluster i starts at i*1,000,000 and spans 500,000 instructions.
func Descriptor(source string, weights ...float64) *pinpoints.Descriptor {
	d := &pinpoints.Descriptor{Source: source, Encoding: pinpoints.EncodingICount}
	for i, w := range weights {
		start := int64(i) * 1000000
		d.Regions = append(d.Regions, pinpoints.Region{
			ClusterID: i,
			Slice:     i * 10,
			Row: pinpoints.Row{
				Comment:  fmt.Sprintf("cluster %d from slice %d", i, i*10),
				RegionID: i + 1,
				Weight:   w,
				Span:     pinpoints.Span{StartICount: start, EndICount: start + 500000},
			},
		})
	}
	return d
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
