package pinpoints

import "errors"

// Error taxonomy. Fatal categories end the run; Missing and TooShort
// classifications are not errors and only shape the next pass.
var (
	// ErrMalformedDescriptor: the regions CSV cannot be parsed. Not retried.
	ErrMalformedDescriptor = errors.New("malformed region descriptor")
	// ErrNoClusters: the descriptor holds no regions.
	ErrNoClusters = errors.New("no clusters were found in the region descriptor")
	// ErrDispatchFailure: the capture tool exited non-zero.
	ErrDispatchFailure = errors.New("region pinball generation failed")
	// ErrExhausted: the iteration bound was reached with unresolved regions.
	ErrExhausted = errors.New("too many iterations; problems encountered during region generation")
	// ErrCancelled: the run was interrupted.
	ErrCancelled = errors.New("region generation interrupted")
)
