package controller

import (
	"fmt"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeConverged   Outcome = "converged"
	OutcomeExhausted   Outcome = "exhausted"
	OutcomeHardFailure Outcome = "hard-failure"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeListed      Outcome = "listed" // dry run: jobs printed, nothing probed
)

// PassState is the loop state between passes.
type PassState struct {
	Iteration     int // 1-based
	MaxIterations int // cluster count of the original descriptor
	WorkList      *pinpoints.Descriptor
}

// Report summarizes a finished run.
type Report struct {
	Outcome       Outcome `json:"outcome"`
	Passes        int     `json:"passes"`
	MaxIterations int     `json:"max_iterations"`
	ClusterCount  int     `json:"cluster_count"`
	Unresolved    []int   `json:"unresolved,omitempty"` // 1-based region numbers
	Descriptor    string  `json:"descriptor"`           // descriptor of the last pass
}

// ExhaustedError reports regions still unresolved when the iteration bound
// was reached.
type ExhaustedError struct {
	Iterations   int
	ClusterCount int
	Unresolved   []int // 1-based region numbers
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d iterations for %d clusters, unresolved regions %v",
		pinpoints.ErrExhausted, e.Iterations, e.ClusterCount, e.Unresolved)
}

// Is matches pinpoints.ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == pinpoints.ErrExhausted }
