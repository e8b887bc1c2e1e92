// Package trace records what each generation pass dispatched and what the
// probe found, for post-hoc analysis of a run.
// This package has no dependencies on the other pinpoints packages: it stores pure data types.
package trace

// PassRecord captures the outcome of one generation pass. Region lists hold
// 1-based region numbers.
type PassRecord struct {
	Iteration  int   `yaml:"iteration"`
	Dispatched []int `yaml:"dispatched"`
	Missing    []int `yaml:"missing,omitempty"`
	TooShort   []int `yaml:"too_short,omitempty"`
	Ignored    []int `yaml:"ignored,omitempty"` // too short, but not retried
	DurationMs int64 `yaml:"duration_ms"`
}

// Problems returns the regions scheduled for the next pass.
func (r PassRecord) Problems() []int {
	out := make([]int, 0, len(r.Missing)+len(r.TooShort))
	out = append(out, r.Missing...)
	return append(out, r.TooShort...)
}
