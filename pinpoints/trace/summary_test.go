package trace

import "testing"

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	// GIVEN no trace at all
	summary := Summarize(nil)

	// THEN all counts are zero
	if summary.Passes != 0 || summary.JobsDispatched != 0 {
		t.Errorf("expected zero passes and jobs, got %d and %d", summary.Passes, summary.JobsDispatched)
	}
	if summary.RetryHistogram == nil || len(summary.RetryHistogram) != 0 {
		t.Error("expected empty, non-nil retry histogram")
	}
}

func TestSummarize_RetriedRegions_CorrectCounts(t *testing.T) {
	// GIVEN three passes where region 1 is retried twice and region 3 once
	rt := NewRunTrace("bench.csv", 3, 3)
	rt.RecordPass(PassRecord{Iteration: 1, Dispatched: []int{1, 2, 3}, Missing: []int{1}, TooShort: []int{3}, DurationMs: 40})
	rt.RecordPass(PassRecord{Iteration: 2, Dispatched: []int{1, 3}, Missing: []int{1}, DurationMs: 20})
	rt.RecordPass(PassRecord{Iteration: 3, Dispatched: []int{1}, DurationMs: 10})

	// WHEN summarized
	summary := Summarize(rt)

	// THEN retries and totals match
	if summary.Passes != 3 {
		t.Errorf("expected 3 passes, got %d", summary.Passes)
	}
	if summary.JobsDispatched != 6 {
		t.Errorf("expected 6 jobs, got %d", summary.JobsDispatched)
	}
	if summary.MissingTotal != 2 || summary.TooShortTotal != 1 {
		t.Errorf("expected 2 missing and 1 too short, got %d and %d", summary.MissingTotal, summary.TooShortTotal)
	}
	if summary.MaxRetries != 2 {
		t.Errorf("expected max retries 2, got %d", summary.MaxRetries)
	}
	if summary.RetryHistogram[1] != 2 || summary.RetryHistogram[3] != 1 {
		t.Errorf("unexpected retry histogram %v", summary.RetryHistogram)
	}
	if summary.RetriedRegions != 2 {
		t.Errorf("expected 2 retried regions, got %d", summary.RetriedRegions)
	}
	if summary.LastProblemPass != 2 {
		t.Errorf("expected last problem pass 2, got %d", summary.LastProblemPass)
	}
	if summary.DurationMs != 70 {
		t.Errorf("expected 70ms, got %d", summary.DurationMs)
	}
}

func TestPassRecord_Problems_MissingThenTooShort(t *testing.T) {
	r := PassRecord{Missing: []int{4}, TooShort: []int{2}, Ignored: []int{9}}
	got := r.Problems()
	if len(got) != 2 || got[0] != 4 || got[1] != 2 {
		t.Errorf("expected [4 2], got %v", got)
	}
}
