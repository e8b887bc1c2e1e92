package trace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportLoad_PreservesPasses(t *testing.T) {
	// GIVEN a recorded run
	rt := NewRunTrace("bench.csv", 2, 2)
	rt.RecordPass(PassRecord{Iteration: 1, Dispatched: []int{1, 2}, Missing: []int{2}, DurationMs: 5})
	rt.RecordPass(PassRecord{Iteration: 2, Dispatched: []int{2}, DurationMs: 3})

	// WHEN exported and loaded back
	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, Export(rt, path))
	back, err := Load(path)

	// THEN the passes survive
	require.NoError(t, err)
	assert.Equal(t, rt, back)
}

func TestNewRunTrace_EmptyPasses(t *testing.T) {
	rt := NewRunTrace("x.csv", 5, 5)
	assert.NotNil(t, rt.Passes)
	assert.Empty(t, rt.Passes)
	assert.Equal(t, 5, rt.MaxIterations)
}
