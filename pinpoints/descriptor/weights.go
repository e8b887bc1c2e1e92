package descriptor

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/regiongen/pinpoints"
)

// DefaultWeightTolerance is how far the weight sum may stray from 1.
const DefaultWeightTolerance = 0.01

// WeightSum returns the total weight of regions.
func WeightSum(regions []pinpoints.Region) float64 {
	sum := 0.0
	for _, r := range regions {
		sum += r.Weight
	}
	return sum
}

// CheckWeights reports whether every weight lies in (0,1] and the weights sum
// to 1 within tolerance. The check is advisory: problems are logged, never
// returned as errors.
func CheckWeights(regions []pinpoints.Region, tolerance float64) bool {
	ok := true
	for _, r := range regions {
		if r.Weight <= 0 || r.Weight > 1 {
			logrus.Warnf("region %d has weight %g outside (0,1]", r.Number(), r.Weight)
			ok = false
		}
	}
	if sum := WeightSum(regions); math.Abs(sum-1) > tolerance {
		logrus.Warnf("region weights sum to %.5f, expected 1 +/- %g; regions may not cover the whole run", sum, tolerance)
		ok = false
	}
	return ok
}
