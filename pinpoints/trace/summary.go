package trace

// RunSummary aggregates statistics from a RunTrace.
type RunSummary struct {
	Passes          int         `json:"passes"`
	JobsDispatched  int         `json:"jobs_dispatched"`
	MissingTotal    int         `json:"missing_total"`
	TooShortTotal   int         `json:"too_short_total"`
	IgnoredTotal    int         `json:"ignored_total"`
	DurationMs      int64       `json:"duration_ms"`
	MaxRetries      int         `json:"max_retries"`
	RetryHistogram  map[int]int `json:"retries_by_region"` // region -> extra dispatches
	RetriedRegions  int         `json:"retried_regions"`
	LastProblemPass int         `json:"last_problem_pass"` // 0 if no pass found problems
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *RunSummary {
	summary := &RunSummary{
		RetryHistogram: make(map[int]int),
	}
	if rt == nil {
		return summary
	}

	summary.Passes = len(rt.Passes)
	dispatches := make(map[int]int)
	for _, p := range rt.Passes {
		summary.JobsDispatched += len(p.Dispatched)
		summary.MissingTotal += len(p.Missing)
		summary.TooShortTotal += len(p.TooShort)
		summary.IgnoredTotal += len(p.Ignored)
		summary.DurationMs += p.DurationMs
		for _, r := range p.Dispatched {
			dispatches[r]++
		}
		if len(p.Missing)+len(p.TooShort) > 0 {
			summary.LastProblemPass = p.Iteration
		}
	}

	for region, n := range dispatches {
		if n > 1 {
			summary.RetryHistogram[region] = n - 1
			if n-1 > summary.MaxRetries {
				summary.MaxRetries = n - 1
			}
		}
	}
	summary.RetriedRegions = len(summary.RetryHistogram)

	return summary
}
