package artifact

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// InsCountKey is the result-file key holding the realized instruction count.
const InsCountKey = "inscount"

// ReadResult parses a result file of "key: value" lines. Lines without a
// colon are ignored; a repeated key keeps its first value.
func ReadResult(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer func() { _ = f.Close() }()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, seen := fields[key]; !seen {
			fields[key] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading result file %s: %w", path, err)
	}
	return fields, nil
}

// InsCount returns the realized instruction count recorded in a result file.
func InsCount(path string) (int64, error) {
	fields, err := ReadResult(path)
	if err != nil {
		return 0, err
	}
	v, ok := fields[InsCountKey]
	if !ok {
		return 0, fmt.Errorf("%s: no %q field, possible corruption in capture", path, InsCountKey)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %s %q: %w", path, InsCountKey, v, err)
	}
	return n, nil
}

// WriteResult writes a result file recording count. Used by test fixtures and
// by tools that post-process captures.
func WriteResult(path string, count int64) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%s: %d\n", InsCountKey, count)), 0o644)
}
