package artifact

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Status is the classification of one expected region.
type Status int

const (
	StatusOK Status = iota
	StatusMissing
	StatusTooShort
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissing:
		return "missing"
	case StatusTooShort:
		return "too-short"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Segments are the instruction counts a capture of one region should hold.
type Segments struct {
	Warmup, Prolog, Region, Epilog int64
}

// Total returns the sum of all segments.
func (s Segments) Total() int64 { return s.Warmup + s.Prolog + s.Region + s.Epilog }

// Expected derives the segment lengths of r from its descriptor fields and
// the requested lengths. An explicit warmup record wins over the requested
// warmup; an icount warmup never reaches before the start of the program.
// PC captures hold only the warmup record and the region: the tool is given
// no prolog or epilog for them.
func Expected(r pinpoints.Region, enc pinpoints.Encoding, seg pinpoints.SegmentLengths) Segments {
	s := Segments{Region: r.Length(enc)}
	if r.Warmup != nil {
		s.Warmup = r.Warmup.Length(enc)
	}
	if enc == pinpoints.EncodingPC {
		return s
	}
	s.Prolog, s.Epilog = seg.Prolog, seg.Epilog
	if r.Warmup == nil {
		s.Warmup = min(seg.Warmup, r.Span.StartICount)
	}
	return s
}

// Candidate is one result file found for a region.
type Candidate struct {
	Path     string
	Stem     string // Path without the variant and result suffix
	Name     Name
	Variant  int // thread of the per-thread result file
	InsCount int64
}

// Files lists every file of the capture the candidate belongs to.
func (c Candidate) Files() ([]string, error) {
	return filepath.Glob(c.Stem + ".*")
}

// Index maps 1-based region numbers to the result files found for them.
type Index map[int][]Candidate

// Scan globs pattern and indexes every parsable result file by region number.
// Files whose names do not decode, or whose inscount cannot be read, are
// logged and skipped; nothing is deleted.
func Scan(pattern string) (Index, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scanning artifacts %q: %w", pattern, err)
	}
	sort.Strings(paths)
	idx := make(Index)
	for _, p := range paths {
		stem, variant, ok := SplitResultPath(p)
		if !ok {
			continue
		}
		name, err := ParseName(filepath.Base(stem))
		if err != nil {
			logrus.Warnf("Spurious result file: %s", p)
			continue
		}
		count, err := InsCount(p)
		if err != nil {
			logrus.Warnf("skipping result file: %v", err)
			continue
		}
		idx[name.Region] = append(idx[name.Region], Candidate{
			Path: p, Stem: stem, Name: name, Variant: variant, InsCount: count,
		})
	}
	return idx, nil
}

// HighestInstructionCountVariant returns the candidate with the largest
// realized instruction count; ties go to the lowest thread. ok is false for
// an empty list.
func HighestInstructionCountVariant(candidates []Candidate) (best Candidate, ok bool) {
	for i, c := range candidates {
		if i == 0 || c.InsCount > best.InsCount ||
			(c.InsCount == best.InsCount && c.Variant < best.Variant) {
			best = c
		}
	}
	return best, len(candidates) > 0
}

// Result is the classification of one region.
type Result struct {
	Region     pinpoints.Region
	Status     Status
	Expected   Segments
	Realized   int64
	Artifact   *Candidate  // authoritative capture; nil when Missing
	Candidates []Candidate // every result file matched to the region
}

// Problem reports whether the region needs another pass when truncated
// captures are retried.
func (r Result) Problem() bool { return r.Status != StatusOK }

// Discarded lists the files of every capture matched to the region. Callers
// move them aside before regenerating the region.
func (r Result) Discarded() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.Candidates {
		files, err := c.Files()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Prober classifies regions against the captures on disk. It never modifies
// the artifact directory.
type Prober struct {
	segments pinpoints.SegmentLengths
	slack    int64
	pattern  string
}

// NewProber returns a prober using the segment lengths, slack and artifact
// pattern of cfg.
func NewProber(cfg pinpoints.Config) *Prober {
	return &Prober{segments: cfg.Segments, slack: cfg.Slack(), pattern: cfg.ArtifactPattern()}
}

// Classify reports whether r has a complete capture among the files matching
// pattern.
func (p *Prober) Classify(r pinpoints.Region, enc pinpoints.Encoding, pattern string) (Result, error) {
	idx, err := Scan(pattern)
	if err != nil {
		return Result{}, err
	}
	return p.classify(idx, r, enc), nil
}

// ClassifyAll classifies every region against the prober's artifact pattern,
// scanning the directory once. Results are in the order of regions.
func (p *Prober) ClassifyAll(regions []pinpoints.Region, enc pinpoints.Encoding) ([]Result, error) {
	idx, err := Scan(p.pattern)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(regions))
	for i, r := range regions {
		out[i] = p.classify(idx, r, enc)
	}
	return out, nil
}

func (p *Prober) classify(idx Index, r pinpoints.Region, enc pinpoints.Encoding) Result {
	res := Result{Region: r, Expected: Expected(r, enc, p.segments), Status: StatusMissing}
	for _, c := range idx[r.Number()] {
		if (c.Name.ThreadID == pinpoints.GlobalThread) == r.IsGlobal() {
			res.Candidates = append(res.Candidates, c)
		}
	}
	best, ok := HighestInstructionCountVariant(res.Candidates)
	if !ok {
		return res
	}
	res.Artifact = &best
	res.Realized = best.InsCount
	if r.IsGlobal() {
		res.Realized = 0
		for _, c := range res.Candidates {
			if c.Stem == best.Stem {
				res.Realized += c.InsCount
			}
		}
	}
	res.Status = StatusOK
	if res.Realized < res.Expected.Total()-p.slack {
		res.Status = StatusTooShort
		logrus.Debugf("region %d realized %d instructions, expected %d (slack %d)",
			r.Number(), res.Realized, res.Expected.Total(), p.slack)
	}
	return res
}
