// Package artifact locates region capture artifacts on disk and classifies
// each expected region as captured, missing, or truncated.
//
// A capture is a set of files sharing one stem, for example
//
//	mcf_t0r7_warmup5000000_prolog0_region2000017_epilog0_007_0-06573.0.result
//
// where the stem encodes the thread, the 1-based region number, the requested
// segment lengths, the trace number and the region weight. The ".0.result"
// suffix names the per-thread result file holding the realized instruction
// count.
package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/inference-sim/regiongen/pinpoints"
)

const resultExt = ".result"

var (
	iCountNamePattern = regexp.MustCompile(
		`_(?:t(\d+)|global)r(\d+)_warmup(\d+)_prolog(\d+)_region(\d+)_epilog(\d+)_(\d+)_([0-1]-\d+)$`)
	pcNamePattern = regexp.MustCompile(
		`_(?:t(\d+)|global)r(\d+)_warmupendPC(0x[0-9A-Fa-f]+)_warmupendPCCount(\d+)_warmuplength(\d+)` +
			`_endPC(0x[0-9A-Fa-f]+)_endPCCount(\d+)_length(\d+)_multiplier(\d+-\d+)_(\d+)_([0-1]-\d+)$`)
)

// Name is the decoded stem of a region capture.
type Name struct {
	Base     string
	Encoding pinpoints.Encoding
	ThreadID int // pinpoints.GlobalThread for aggregate captures
	Region   int // 1-based region number

	// Instruction-count form.
	Warmup, Prolog, RegionLength, Epilog int64

	// PC form.
	WarmupEndPC      string
	WarmupEndPCCount int64
	WarmupLength     int64
	EndPC            string
	EndPCCount       int64
	Length           int64
	Multiplier       float64

	TraceNo int
	Weight  float64
}

// String encodes n the way the capture tool names its output.
func (n Name) String() string {
	thread := "t" + strconv.Itoa(n.ThreadID)
	if n.ThreadID == pinpoints.GlobalThread {
		thread = "global"
	}
	if n.Encoding == pinpoints.EncodingPC {
		return fmt.Sprintf("%s_%sr%d_warmupendPC%s_warmupendPCCount%d_warmuplength%d_endPC%s_endPCCount%d_length%d_multiplier%s_%03d_%s",
			n.Base, thread, n.Region, n.WarmupEndPC, n.WarmupEndPCCount, n.WarmupLength,
			n.EndPC, n.EndPCCount, n.Length, dashed(n.Multiplier, 3), n.TraceNo, dashed(n.Weight, 5))
	}
	return fmt.Sprintf("%s_%sr%d_warmup%d_prolog%d_region%d_epilog%d_%03d_%s",
		n.Base, thread, n.Region, n.Warmup, n.Prolog, n.RegionLength, n.Epilog, n.TraceNo, dashed(n.Weight, 5))
}

// Total is the instruction count the name says the capture should hold.
func (n Name) Total() int64 {
	if n.Encoding == pinpoints.EncodingPC {
		return n.WarmupLength + n.Length
	}
	return n.Warmup + n.Prolog + n.RegionLength + n.Epilog
}

// dashed formats f with prec decimals and '-' in place of the decimal point.
func dashed(f float64, prec int) string {
	return strings.Replace(strconv.FormatFloat(f, 'f', prec, 64), ".", "-", 1)
}

func undashed(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, "-", ".", 1), 64)
}

// ParseName decodes a capture stem (no directory, no result suffix).
func ParseName(stem string) (Name, error) {
	if m := pcNamePattern.FindStringSubmatchIndex(stem); m != nil {
		return parsePCName(stem, m)
	}
	if m := iCountNamePattern.FindStringSubmatchIndex(stem); m != nil {
		return parseICountName(stem, m)
	}
	return Name{}, fmt.Errorf("%q is not a region capture name", stem)
}

type submatches struct {
	s   string
	idx []int
	err error
}

func (sm *submatches) str(group int) string {
	lo, hi := sm.idx[2*group], sm.idx[2*group+1]
	if lo < 0 {
		return ""
	}
	return sm.s[lo:hi]
}

func (sm *submatches) int64(group int) int64 {
	if sm.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(sm.str(group), 10, 64)
	if err != nil {
		sm.err = fmt.Errorf("field %q in %q: %w", sm.str(group), sm.s, err)
	}
	return v
}

func (sm *submatches) float(group int) float64 {
	if sm.err != nil {
		return 0
	}
	v, err := undashed(sm.str(group))
	if err != nil {
		sm.err = fmt.Errorf("field %q in %q: %w", sm.str(group), sm.s, err)
	}
	return v
}

func (sm *submatches) thread() int {
	if sm.str(1) == "" {
		return pinpoints.GlobalThread
	}
	return int(sm.int64(1))
}

func parseICountName(stem string, idx []int) (Name, error) {
	sm := &submatches{s: stem, idx: idx}
	n := Name{
		Base:         stem[:idx[0]],
		Encoding:     pinpoints.EncodingICount,
		ThreadID:     sm.thread(),
		Region:       int(sm.int64(2)),
		Warmup:       sm.int64(3),
		Prolog:       sm.int64(4),
		RegionLength: sm.int64(5),
		Epilog:       sm.int64(6),
		TraceNo:      int(sm.int64(7)),
		Weight:       sm.float(8),
	}
	return n, sm.err
}

func parsePCName(stem string, idx []int) (Name, error) {
	sm := &submatches{s: stem, idx: idx}
	n := Name{
		Base:             stem[:idx[0]],
		Encoding:         pinpoints.EncodingPC,
		ThreadID:         sm.thread(),
		Region:           int(sm.int64(2)),
		WarmupEndPC:      sm.str(3),
		WarmupEndPCCount: sm.int64(4),
		WarmupLength:     sm.int64(5),
		EndPC:            sm.str(6),
		EndPCCount:       sm.int64(7),
		Length:           sm.int64(8),
		Multiplier:       sm.float(9),
		TraceNo:          int(sm.int64(10)),
		Weight:           sm.float(11),
	}
	return n, sm.err
}

// SplitResultPath splits a result file path into the capture stem (with
// directory) and the thread variant. "x/foo.3.result" yields ("x/foo", 3);
// "x/foo.global.result" yields ("x/foo", pinpoints.GlobalThread); a result
// file without a variant is thread 0.
func SplitResultPath(path string) (stem string, variant int, ok bool) {
	if !strings.HasSuffix(path, resultExt) {
		return "", 0, false
	}
	stem = strings.TrimSuffix(path, resultExt)
	dot := strings.LastIndex(stem, ".")
	if dot < 0 || dot < len(stem)-len(filepath.Base(stem)) {
		return stem, 0, true
	}
	suffix := stem[dot+1:]
	if suffix == "global" {
		return stem[:dot], pinpoints.GlobalThread, true
	}
	if tid, err := strconv.Atoi(suffix); err == nil && tid >= 0 {
		return stem[:dot], tid, true
	}
	return stem, 0, true
}

// NameFor returns the capture name the tool produces for r, given the
// requested segment lengths.
func NameFor(base string, r pinpoints.Region, enc pinpoints.Encoding, seg pinpoints.SegmentLengths) Name {
	n := Name{
		Base:     base,
		Encoding: enc,
		ThreadID: r.ThreadID,
		Region:   r.Number(),
		TraceNo:  r.Number(),
		Weight:   r.Weight,
	}
	if enc == pinpoints.EncodingPC {
		n.EndPC = r.Span.End.PC
		n.EndPCCount = r.Span.End.Count
		n.Length = r.Span.Length
		n.Multiplier = r.Multiplier
		if r.Warmup != nil {
			n.WarmupEndPC = r.Warmup.Span.End.PC
			n.WarmupEndPCCount = r.Warmup.Span.End.Count
			n.WarmupLength = r.Warmup.Span.Length
		} else {
			n.WarmupEndPC = "0x0"
		}
		return n
	}
	exp := Expected(r, enc, seg)
	n.Warmup, n.Prolog, n.RegionLength, n.Epilog = exp.Warmup, exp.Prolog, exp.Region, exp.Epilog
	return n
}
