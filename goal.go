package manipenv

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"
)

// RewardType selects between the two reward modes. The mode is fixed at
// configuration time and never mixed within an environment.
type RewardType string

const (
	RewardSparse RewardType = "sparse"
	RewardDense  RewardType = "dense"
)

const (
	// Position error is weighted 10x in the dense reward so distances in
	// meters are not dominated by rotation errors in radians.
	densePosWeight = 10.0

	// An object counts as grasped when the effector-to-object distance
	// feature is below this value.
	graspProximityThreshold = 0.08
)

// GoalEvaluator scores achieved goals against desired goals. It is a pure
// value: no method reads or writes environment state, so it is equally usable
// on a live transition or on a batch of replayed (achieved, desired) pairs.
type GoalEvaluator struct {
	RewardType     RewardType
	PosThreshold   float64
	RotThreshold   float64
	IgnoreRotation bool
}

// Validate rejects invalid evaluator configurations.
func (e GoalEvaluator) Validate() error {
	if e.RewardType != RewardSparse && e.RewardType != RewardDense {
		return fmt.Errorf("reward type must be %q or %q, got %q", RewardSparse, RewardDense, e.RewardType)
	}
	if e.PosThreshold <= 0 {
		return fmt.Errorf("position threshold must be positive, got %g", e.PosThreshold)
	}
	if e.RotThreshold <= 0 {
		return fmt.Errorf("rotation threshold must be positive, got %g", e.RotThreshold)
	}
	return nil
}

func checkGoalShapes(achieved, desired []float64) {
	if len(achieved) != len(desired) {
		panic(fmt.Sprintf("manipenv: goal shape mismatch: achieved %d vs desired %d", len(achieved), len(desired)))
	}
	switch len(achieved) {
	case 3, 7, 8:
	default:
		panic(fmt.Sprintf("manipenv: goal must have length 3, 7 or 8, got %d", len(achieved)))
	}
}

// Distance returns the position distance and, unless rotation is ignored or
// the goals are position-only, the angular distance between the orientation
// components. Shapes must match exactly; a mismatch is a programming error.
func (e GoalEvaluator) Distance(achieved, desired []float64) (dPos, dRot float64) {
	checkGoalShapes(achieved, desired)

	dPos = floats.Distance(achieved[:3], desired[:3], 2)
	if e.IgnoreRotation || len(achieved) < 7 {
		return dPos, 0
	}
	qa := quat.Number{Real: achieved[3], Imag: achieved[4], Jmag: achieved[5], Kmag: achieved[6]}
	qb := quat.Number{Real: desired[3], Imag: desired[4], Jmag: desired[5], Kmag: desired[6]}
	return dPos, AngleBetween(qa, qb)
}

// IsSuccess reports 1 when the achieved goal is within both thresholds of the
// desired goal, 0 otherwise. Goals carrying the auxiliary grasp-distance
// feature (length 8) additionally require the object to be held.
func (e GoalEvaluator) IsSuccess(achieved, desired []float64) float64 {
	checkGoalShapes(achieved, desired)
	dPos, dRot := e.Distance(achieved[:minInt(len(achieved), 7)], desired[:minInt(len(desired), 7)])
	success := 0.0
	if dPos < e.PosThreshold && dRot < e.RotThreshold {
		success = 1.0
	}
	if len(achieved) == 8 && achieved[7] >= graspProximityThreshold {
		success = 0.0
	}
	return success
}

// Reward scores a single transition. Sparse rewards are success-1, so always
// in {-1, 0}; dense rewards are the weighted negative distance.
func (e GoalEvaluator) Reward(achieved, desired []float64) float64 {
	return e.WeightedReward(achieved, desired, 1)
}

// WeightedReward is Reward with a per-sample weight applied to the success
// term of the sparse reward. The weight never moves the -1 failure floor and
// has no effect on dense rewards.
func (e GoalEvaluator) WeightedReward(achieved, desired []float64, weight float64) float64 {
	if e.RewardType == RewardSparse {
		return e.IsSuccess(achieved, desired)*weight - 1
	}
	dPos, dRot := e.Distance(achieved[:minInt(len(achieved), 7)], desired[:minInt(len(desired), 7)])
	return -(densePosWeight*dPos + dRot)
}

// RewardBatch scores previously recorded goal pairs, e.g. for replay-buffer
// relabeling. weights may be nil; when present it must match the batch size.
func (e GoalEvaluator) RewardBatch(achieved, desired [][]float64, weights []float64) []float64 {
	if len(achieved) != len(desired) {
		panic(fmt.Sprintf("manipenv: goal batch size mismatch: %d vs %d", len(achieved), len(desired)))
	}
	if weights != nil && len(weights) != len(achieved) {
		panic(fmt.Sprintf("manipenv: weights length %d does not match batch size %d", len(weights), len(achieved)))
	}
	out := make([]float64, len(achieved))
	for i := range achieved {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		out[i] = e.WeightedReward(achieved[i], desired[i], w)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
