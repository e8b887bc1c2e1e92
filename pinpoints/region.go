package pinpoints

import (
	"fmt"
	"sort"
)

// Encoding identifies how region boundaries are expressed in a descriptor.
type Encoding int

const (
	// EncodingUnknown is the zero value; no descriptor is ever parsed to it.
	EncodingUnknown Encoding = iota
	// EncodingICount marks regions by global instruction counts.
	EncodingICount
	// EncodingPC marks regions by program counter plus execution count.
	EncodingPC
)

// String returns the short name used in logs and reports.
func (e Encoding) String() string {
	switch e {
	case EncodingICount:
		return "icount"
	case EncodingPC:
		return "pc"
	default:
		return "unknown"
	}
}

// GlobalThread is the thread id used by aggregate (all-thread) regions.
const GlobalThread = -1

// Row types for PC-encoded descriptors.
const (
	RowSimulation = "simulation"
	RowWarmup     = "warmup"
)

// PCMarker locates an instruction by address and execution count.
type PCMarker struct {
	PC          string // hex address as written by the tool, e.g. 0x4029a5
	Image       string
	ImageOffset string
	Count       int64
}

// Span is the interval one descriptor row covers. Only the fields of the
// descriptor's encoding are populated.
type Span struct {
	StartICount int64
	EndICount   int64

	Start            PCMarker
	End              PCMarker
	EndRelativeCount int64
	Length           int64
}

// Row is one data row of a regions CSV file.
type Row struct {
	Comment    string // first CSV field, e.g. "cluster 0 from slice 88"
	ThreadID   int
	RegionID   int
	Span       Span
	Weight     float64
	Multiplier float64 // optional column
	Type       string  // optional column: RowSimulation or RowWarmup
}

// Length returns the number of instructions the row covers under enc.
func (r Row) Length(enc Encoding) int64 {
	if enc == EncodingPC {
		return r.Span.Length
	}
	return r.Span.EndICount - r.Span.StartICount
}

// Region is one representative interval selected by clustering.
type Region struct {
	ClusterID int // 0-based, unique within a descriptor
	Slice     int // slice the cluster representative was taken from
	Row
	Warmup *Row // optional warmup record for this cluster
}

// Number returns the 1-based region number the capture tool encodes in
// artifact names.
func (r Region) Number() int { return r.ClusterID + 1 }

// IsGlobal reports whether the region aggregates all threads.
func (r Region) IsGlobal() bool { return r.ThreadID == GlobalThread }

// Descriptor is the set of regions for one generation pass.
type Descriptor struct {
	Source            string   // whole-program capture the regions were selected from
	Encoding          Encoding // shared by every region
	Header            []string // column names, in file order
	TotalInstructions int64    // from the "Total instructions in" comment; 0 if absent
	Regions           []Region
}

// ClusterCount returns the number of regions in the descriptor.
func (d *Descriptor) ClusterCount() int {
	if d == nil {
		return 0
	}
	return len(d.Regions)
}

// ClusterIDs returns the cluster ids in ascending order.
func (d *Descriptor) ClusterIDs() []int {
	ids := make([]int, 0, d.ClusterCount())
	for _, r := range d.Regions {
		ids = append(ids, r.ClusterID)
	}
	sort.Ints(ids)
	return ids
}

// Region returns the region with the given cluster id.
func (d *Descriptor) Region(clusterID int) (Region, bool) {
	for _, r := range d.Regions {
		if r.ClusterID == clusterID {
			return r, true
		}
	}
	return Region{}, false
}

// Subset returns a descriptor holding only the given clusters, in ascending
// cluster order. Region fields are carried over unchanged. Every id must be
// present in d.
func (d *Descriptor) Subset(clusterIDs []int) (*Descriptor, error) {
	ids := append([]int(nil), clusterIDs...)
	sort.Ints(ids)
	out := &Descriptor{
		Source:            d.Source,
		Encoding:          d.Encoding,
		Header:            append([]string(nil), d.Header...),
		TotalInstructions: d.TotalInstructions,
		Regions:           make([]Region, 0, len(ids)),
	}
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		r, ok := d.Region(id)
		if !ok {
			return nil, fmt.Errorf("cluster %d not in descriptor for %s", id, d.Source)
		}
		out.Regions = append(out.Regions, r)
	}
	return out, nil
}
