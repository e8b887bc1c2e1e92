// Package descriptor reads and writes region descriptor CSV files: the list
// of clusters selected for capture, as produced by the clustering step and as
// reduced by the controller between passes.
package descriptor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Column names. The marker columns of the two encodings are mutually
// exclusive within one header.
const (
	colComment          = "comment"
	colThreadID         = "thread-id"
	colRegionID         = "region-id"
	colStartICount      = "simulation-region-start-icount"
	colEndICount        = "simulation-region-end-icount"
	colStartPC          = "start-pc"
	colStartImage       = "start-image-name"
	colStartImageOffset = "start-image-offset"
	colStartPCCount     = "start-pc-count"
	colEndPC            = "end-pc"
	colEndImage         = "end-image-name"
	colEndImageOffset   = "end-image-offset"
	colEndPCCount       = "end-pc-count"
	colEndPCRelative    = "end-pc-relative-count"
	colLength           = "region-length"
	colWeight           = "region-weight"
	colMultiplier       = "region-multiplier"
	colType             = "region-type"
)

var (
	iCountColumns = []string{colStartICount, colEndICount}
	pcColumns     = []string{
		colStartPC, colStartImage, colStartImageOffset, colStartPCCount,
		colEndPC, colEndImage, colEndImageOffset, colEndPCCount, colEndPCRelative, colLength,
	}
	commonColumns = []string{colComment, colThreadID, colRegionID, colWeight}

	clusterPattern    = regexp.MustCompile(`^[Cc]luster\s+(\d+)\s+from\s+slice\s+(\d+)`)
	warmupPattern     = regexp.MustCompile(`^[Ww]armup\s+for\s+regionid\s+(\d+)`)
	totalInstrPattern = regexp.MustCompile(`Total instructions in\s+(\S+)\s*=\s*(\d+)`)
)

// DefaultHeader returns the canonical column list for an encoding.
func DefaultHeader(enc pinpoints.Encoding) []string {
	if enc == pinpoints.EncodingPC {
		h := []string{colComment, colThreadID, colRegionID}
		h = append(h, pcColumns...)
		return append(h, colWeight, colMultiplier, colType)
	}
	return []string{colComment, colThreadID, colRegionID, colStartICount, colEndICount, colWeight}
}

// ParseError reports a malformed descriptor. It matches
// pinpoints.ErrMalformedDescriptor with errors.Is.
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s:%d: %s", pinpoints.ErrMalformedDescriptor, e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", pinpoints.ErrMalformedDescriptor, e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return pinpoints.ErrMalformedDescriptor }

// Parse reads the regions CSV file at path.
func Parse(path string) (*pinpoints.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening region descriptor: %w", err)
	}
	defer func() { _ = f.Close() }()
	d, err := Read(f, path)
	if err != nil {
		return nil, err
	}
	if d.Source == "" {
		d.Source = SourceName(path)
	}
	return d, nil
}

// SourceName derives the whole-program capture name from a descriptor file
// name, e.g. "mcf.ref_4521.pinpoints.csv" -> "mcf.ref_4521".
func SourceName(path string) string {
	name := filepath.Base(path)
	for _, suffix := range []string{".csv", ".in", ".out", ".pinpoints", ".global"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

type parser struct {
	name    string
	line    int
	header  []string
	cols    map[string]int
	enc     pinpoints.Encoding
	total   int64
	source  string
	order   []int
	regions map[int]*pinpoints.Region
	warmups map[int]*pinpoints.Row
}

// Read parses a regions CSV from r. name is used in error messages only.
func Read(r io.Reader, name string) (*pinpoints.Descriptor, error) {
	p := &parser{
		name:    name,
		regions: make(map[int]*pinpoints.Region),
		warmups: make(map[int]*pinpoints.Row),
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line++
		if err := p.consume(strings.TrimSpace(scanner.Text())); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading region descriptor %s: %w", name, err)
	}
	return p.finish()
}

func (p *parser) fail(format string, args ...any) error {
	return &ParseError{Path: p.name, Line: p.line, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) consume(line string) error {
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "#") {
		body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if isHeader(body) {
			return p.setHeader(body)
		}
		if m := totalInstrPattern.FindStringSubmatch(body); m != nil {
			total, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return p.fail("total instruction count %q: %v", m[2], err)
			}
			p.source, p.total = m[1], total
		}
		return nil
	}
	if isHeader(line) {
		return p.setHeader(line)
	}
	if p.header == nil {
		return p.fail("data row before the column header")
	}
	fields, err := splitFields(line)
	if err != nil {
		return p.fail("%v", err)
	}
	if len(fields) != len(p.header) {
		return p.fail("row has %d fields, header has %d", len(fields), len(p.header))
	}
	row, err := p.row(fields)
	if err != nil {
		return err
	}
	return p.add(row)
}

func isHeader(line string) bool {
	first, _, _ := strings.Cut(line, ",")
	return strings.Contains(strings.ToLower(first), colComment)
}

func splitFields(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

func (p *parser) setHeader(line string) error {
	fields, err := splitFields(line)
	if err != nil {
		return p.fail("header: %v", err)
	}
	cols := make(map[string]int, len(fields))
	for i, f := range fields {
		f = strings.ToLower(f)
		fields[i] = f
		cols[f] = i
	}
	// Older files name the first column "# comment".
	cols[colComment] = 0
	fields[0] = colComment

	enc, err := headerEncoding(cols)
	if err != nil {
		return p.fail("%v", err)
	}
	if p.enc != pinpoints.EncodingUnknown && p.enc != enc {
		return p.fail("mixed encodings: %s header after %s header", enc, p.enc)
	}
	required := append(append([]string(nil), commonColumns...), markerColumns(enc)...)
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return p.fail("header is missing column %q", c)
		}
	}
	p.header, p.cols, p.enc = fields, cols, enc
	return nil
}

func headerEncoding(cols map[string]int) (pinpoints.Encoding, error) {
	_, icount := cols[colStartICount]
	_, pc := cols[colStartPC]
	switch {
	case icount && pc:
		return pinpoints.EncodingUnknown, fmt.Errorf("mixed encodings: header has both icount and pc markers")
	case icount:
		return pinpoints.EncodingICount, nil
	case pc:
		return pinpoints.EncodingPC, nil
	default:
		return pinpoints.EncodingUnknown, fmt.Errorf("header names no region markers")
	}
}

func markerColumns(enc pinpoints.Encoding) []string {
	if enc == pinpoints.EncodingPC {
		return pcColumns
	}
	return iCountColumns
}

func (p *parser) field(fields []string, col string) (string, bool) {
	i, ok := p.cols[col]
	if !ok {
		return "", false
	}
	return fields[i], true
}

func (p *parser) intField(fields []string, col string) (int64, error) {
	v, _ := p.field(fields, col)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		if p.enc == pinpoints.EncodingICount && isHex(v) {
			return 0, p.fail("mixed encodings: %s %q is a program counter in an icount descriptor", col, v)
		}
		return 0, p.fail("%s %q is not an integer", col, v)
	}
	return n, nil
}

func (p *parser) pcField(fields []string, col string) (string, error) {
	v, _ := p.field(fields, col)
	if !isHex(v) {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return "", p.fail("mixed encodings: %s %q is an instruction count in a pc descriptor", col, v)
		}
		return "", p.fail("%s %q is not a hex address", col, v)
	}
	return v, nil
}

func isHex(v string) bool {
	if !strings.HasPrefix(v, "0x") && !strings.HasPrefix(v, "0X") {
		return false
	}
	_, err := strconv.ParseUint(v[2:], 16, 64)
	return err == nil
}

func (p *parser) row(fields []string) (pinpoints.Row, error) {
	var row pinpoints.Row
	row.Comment, _ = p.field(fields, colComment)

	tid, err := p.intField(fields, colThreadID)
	if err != nil {
		return row, err
	}
	if tid < pinpoints.GlobalThread {
		return row, p.fail("thread-id %d is negative", tid)
	}
	row.ThreadID = int(tid)
	rid, err := p.intField(fields, colRegionID)
	if err != nil {
		return row, err
	}
	row.RegionID = int(rid)

	w, _ := p.field(fields, colWeight)
	if row.Weight, err = strconv.ParseFloat(w, 64); err != nil {
		return row, p.fail("region-weight %q is not a number", w)
	}
	if m, ok := p.field(fields, colMultiplier); ok && m != "" {
		if row.Multiplier, err = strconv.ParseFloat(m, 64); err != nil {
			return row, p.fail("region-multiplier %q is not a number", m)
		}
	}
	row.Type, _ = p.field(fields, colType)

	if p.enc == pinpoints.EncodingPC {
		err = p.pcSpan(fields, &row.Span)
	} else {
		err = p.iCountSpan(fields, &row.Span)
	}
	return row, err
}

func (p *parser) iCountSpan(fields []string, s *pinpoints.Span) error {
	var err error
	if s.StartICount, err = p.intField(fields, colStartICount); err != nil {
		return err
	}
	if s.EndICount, err = p.intField(fields, colEndICount); err != nil {
		return err
	}
	if s.EndICount < s.StartICount {
		return p.fail("region ends (%d) before it starts (%d)", s.EndICount, s.StartICount)
	}
	return nil
}

func (p *parser) pcSpan(fields []string, s *pinpoints.Span) error {
	var err error
	if s.Start.PC, err = p.pcField(fields, colStartPC); err != nil {
		return err
	}
	if s.End.PC, err = p.pcField(fields, colEndPC); err != nil {
		return err
	}
	s.Start.Image, _ = p.field(fields, colStartImage)
	s.Start.ImageOffset, _ = p.field(fields, colStartImageOffset)
	s.End.Image, _ = p.field(fields, colEndImage)
	s.End.ImageOffset, _ = p.field(fields, colEndImageOffset)
	if s.Start.Count, err = p.intField(fields, colStartPCCount); err != nil {
		return err
	}
	if s.End.Count, err = p.intField(fields, colEndPCCount); err != nil {
		return err
	}
	if s.EndRelativeCount, err = p.intField(fields, colEndPCRelative); err != nil {
		return err
	}
	if s.Length, err = p.intField(fields, colLength); err != nil {
		return err
	}
	return nil
}

func (p *parser) add(row pinpoints.Row) error {
	if m := warmupPattern.FindStringSubmatch(row.Comment); m != nil || row.Type == pinpoints.RowWarmup {
		var id int
		if m != nil {
			rid, _ := strconv.Atoi(m[1])
			id = rid - 1
		} else if c := clusterPattern.FindStringSubmatch(row.Comment); c != nil {
			id, _ = strconv.Atoi(c[1])
		} else {
			return p.fail("warmup row %q names no region", row.Comment)
		}
		if _, dup := p.warmups[id]; dup {
			return p.fail("duplicate warmup record for cluster %d", id)
		}
		w := row
		p.warmups[id] = &w
		return nil
	}
	m := clusterPattern.FindStringSubmatch(row.Comment)
	if m == nil {
		return p.fail("comment %q does not name a cluster", row.Comment)
	}
	id, _ := strconv.Atoi(m[1])
	slice, _ := strconv.Atoi(m[2])
	if _, dup := p.regions[id]; dup {
		return p.fail("duplicate cluster %d", id)
	}
	p.regions[id] = &pinpoints.Region{ClusterID: id, Slice: slice, Row: row}
	p.order = append(p.order, id)
	return nil
}

func (p *parser) finish() (*pinpoints.Descriptor, error) {
	if p.header == nil {
		// Data rows cannot precede the header, so the file holds no regions.
		return nil, fmt.Errorf("%w: %s has no column header or rows", pinpoints.ErrNoClusters, p.name)
	}
	d := &pinpoints.Descriptor{
		Source:            p.source,
		Encoding:          p.enc,
		Header:            p.header,
		TotalInstructions: p.total,
		Regions:           make([]pinpoints.Region, 0, len(p.order)),
	}
	for id, w := range p.warmups {
		r, ok := p.regions[id]
		if !ok {
			logrus.Warnf("%s: warmup record for region %d has no matching cluster; dropped", p.name, id+1)
			continue
		}
		r.Warmup = w
	}
	global := 0
	for _, id := range p.order {
		r := p.regions[id]
		if r.IsGlobal() {
			global++
		}
		d.Regions = append(d.Regions, *r)
	}
	if global != 0 && global != len(d.Regions) {
		return nil, &ParseError{Path: p.name, Reason: fmt.Sprintf(
			"mixed thread conventions: %d of %d regions are global", global, len(d.Regions))}
	}
	return d, nil
}
