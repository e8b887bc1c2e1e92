package descriptor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/inference-sim/regiongen/pinpoints"
)

// IterationNote returns the header comment written on machine-generated
// descriptors.
func IterationNote(iteration int) string {
	return fmt.Sprintf("Machine generated CSV file, iteration %d", iteration)
}

// Write stores d at path, replacing any existing file atomically. note, if
// non-empty, is written as the first comment line. Regions are written in the
// order given; each simulation row is followed by its warmup row.
func Write(path string, d *pinpoints.Descriptor, note string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating descriptor directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating descriptor: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Encode(tmp, d, note); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing descriptor %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing descriptor %s: %w", path, err)
	}
	return nil
}

// Encode writes d in regions CSV format to w.
func Encode(w io.Writer, d *pinpoints.Descriptor, note string) error {
	header := d.Header
	if len(header) == 0 {
		header = DefaultHeader(d.Encoding)
	}
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	comment := func(format string, args ...any) error {
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(bw, "# "+format+"\n", args...)
		return err
	}

	if note != "" {
		if err := comment("%s", note); err != nil {
			return fmt.Errorf("writing descriptor note: %w", err)
		}
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing descriptor header: %w", err)
	}
	for _, r := range d.Regions {
		if err := comment("%s", regionComment(r, d.Encoding)); err != nil {
			return fmt.Errorf("writing region %d: %w", r.Number(), err)
		}
		if err := cw.Write(record(header, r.Row)); err != nil {
			return fmt.Errorf("writing region %d: %w", r.Number(), err)
		}
		if r.Warmup != nil {
			if err := cw.Write(record(header, *r.Warmup)); err != nil {
				return fmt.Errorf("writing warmup for region %d: %w", r.Number(), err)
			}
		}
	}
	if d.TotalInstructions > 0 {
		if err := comment("Total instructions in %s = %d", d.Source, d.TotalInstructions); err != nil {
			return fmt.Errorf("writing descriptor trailer: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	return bw.Flush()
}

// regionComment is the human-readable line preceding each region; region
// numbers are 1-based here.
func regionComment(r pinpoints.Region, enc pinpoints.Encoding) string {
	if enc == pinpoints.EncodingPC {
		return fmt.Sprintf("Region = %d Slice = %d StartPC = %s Length = %d Weight = %.5f",
			r.Number(), r.Slice, r.Span.Start.PC, r.Length(enc), r.Weight)
	}
	return fmt.Sprintf("Region = %d Slice = %d Icount = %d Length = %d Weight = %.5f",
		r.Number(), r.Slice, r.Span.StartICount, r.Length(enc), r.Weight)
}

func record(header []string, row pinpoints.Row) []string {
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = value(col, row)
	}
	return out
}

func value(col string, row pinpoints.Row) string {
	s := row.Span
	switch col {
	case colComment:
		return row.Comment
	case colThreadID:
		return strconv.Itoa(row.ThreadID)
	case colRegionID:
		return strconv.Itoa(row.RegionID)
	case colStartICount:
		return strconv.FormatInt(s.StartICount, 10)
	case colEndICount:
		return strconv.FormatInt(s.EndICount, 10)
	case colStartPC:
		return s.Start.PC
	case colStartImage:
		return s.Start.Image
	case colStartImageOffset:
		return s.Start.ImageOffset
	case colStartPCCount:
		return strconv.FormatInt(s.Start.Count, 10)
	case colEndPC:
		return s.End.PC
	case colEndImage:
		return s.End.Image
	case colEndImageOffset:
		return s.End.ImageOffset
	case colEndPCCount:
		return strconv.FormatInt(s.End.Count, 10)
	case colEndPCRelative:
		return strconv.FormatInt(s.EndRelativeCount, 10)
	case colLength:
		return strconv.FormatInt(s.Length, 10)
	case colWeight:
		return strconv.FormatFloat(row.Weight, 'f', -1, 64)
	case colMultiplier:
		return strconv.FormatFloat(row.Multiplier, 'f', -1, 64)
	case colType:
		return row.Type
	default:
		return ""
	}
}
