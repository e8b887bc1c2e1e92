package trace

// RunTrace collects pass records during one generation run.
type RunTrace struct {
	Descriptor    string       `yaml:"descriptor"`
	ClusterCount  int          `yaml:"cluster_count"`
	MaxIterations int          `yaml:"max_iterations"`
	Passes        []PassRecord `yaml:"passes"`
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(descriptor string, clusterCount, maxIterations int) *RunTrace {
	return &RunTrace{
		Descriptor:    descriptor,
		ClusterCount:  clusterCount,
		MaxIterations: maxIterations,
		Passes:        make([]PassRecord, 0),
	}
}

// RecordPass appends a pass record.
func (rt *RunTrace) RecordPass(record PassRecord) {
	rt.Passes = append(rt.Passes, record)
}
