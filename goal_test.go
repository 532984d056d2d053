package manipenv

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func sparseEvaluator() GoalEvaluator {
	return GoalEvaluator{RewardType: RewardSparse, PosThreshold: 0.05, RotThreshold: 0.1, IgnoreRotation: true}
}

func denseEvaluator() GoalEvaluator {
	return GoalEvaluator{RewardType: RewardDense, PosThreshold: 0.05, RotThreshold: 0.1, IgnoreRotation: true}
}

func goalAt(x, y, z float64) []float64 {
	return NewPose(r3.Vector{X: x, Y: y, Z: z}, IdentityQuat()).Slice()
}

func TestEvaluatorValidate(t *testing.T) {
	e := sparseEvaluator()
	if err := e.Validate(); err != nil {
		t.Fatalf("valid evaluator rejected: %v", err)
	}
	e.RewardType = "bogus"
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for unknown reward type")
	}
	e = sparseEvaluator()
	e.PosThreshold = 0
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for non-positive position threshold")
	}
}

func TestReachAtGoalExactly(t *testing.T) {
	e := sparseEvaluator()
	g := goalAt(1.2, 0.8, 0.5)
	if s := e.IsSuccess(g, g); s != 1 {
		t.Fatalf("at-goal success = %g, want 1", s)
	}
	if r := e.Reward(g, g); r != 0 {
		t.Fatalf("at-goal sparse reward = %g, want 0", r)
	}
}

func TestSparseRewardRange(t *testing.T) {
	e := sparseEvaluator()
	desired := goalAt(1, 1, 1)
	for _, achieved := range [][]float64{
		goalAt(1, 1, 1),
		goalAt(1.04, 1, 1),
		goalAt(2, 1, 1),
		goalAt(-5, 3, 0),
	} {
		r := e.Reward(achieved, desired)
		if r != 0 && r != -1 {
			t.Fatalf("sparse reward %g outside {-1, 0}", r)
		}
	}
}

func TestDensePickAndPlaceScenario(t *testing.T) {
	// Object half a length unit from the goal, rotation ignored.
	e := denseEvaluator()
	achieved := goalAt(1.5, 1, 1)
	desired := goalAt(1, 1, 1)
	assert.InDelta(t, -5.0, e.Reward(achieved, desired), 1e-9)
	if s := e.IsSuccess(achieved, desired); s != 0 {
		t.Fatalf("success = %g, want 0", s)
	}
}

func TestDenseRewardDecreasesWithDistance(t *testing.T) {
	e := denseEvaluator()
	desired := goalAt(0, 0, 0)
	prev := math.Inf(-1)
	for _, d := range []float64{2, 1, 0.5, 0.1, 0} {
		r := e.Reward(goalAt(d, 0, 0), desired)
		if r < prev {
			t.Fatalf("dense reward not increasing as distance shrinks: %g after %g", r, prev)
		}
		prev = r
	}
	if prev != 0 {
		t.Fatalf("dense reward at goal = %g, want 0", prev)
	}
}

func TestSuccessMonotonicity(t *testing.T) {
	e := GoalEvaluator{RewardType: RewardSparse, PosThreshold: 0.05, RotThreshold: 0.1}
	desired := goalAt(0, 0, 0)
	wasSuccess := false
	for _, d := range []float64{1, 0.2, 0.06, 0.04, 0.01, 0} {
		s := e.IsSuccess(goalAt(d, 0, 0), desired) == 1
		if wasSuccess && !s {
			t.Fatalf("decreasing distance %g turned success into failure", d)
		}
		wasSuccess = s
	}
	if !wasSuccess {
		t.Fatal("expected success at zero distance")
	}
}

func TestRotationGating(t *testing.T) {
	e := GoalEvaluator{RewardType: RewardSparse, PosThreshold: 0.05, RotThreshold: 0.1}
	desired := goalAt(0, 0, 0)
	achieved := NewPose(r3.Vector{}, EulerToQuat(r3.Vector{Z: 0.5})).Slice()
	if s := e.IsSuccess(achieved, desired); s != 0 {
		t.Fatalf("rotation 0.5 rad past threshold still succeeded")
	}
	e.IgnoreRotation = true
	if s := e.IsSuccess(achieved, desired); s != 1 {
		t.Fatalf("rotation should be ignored")
	}
}

func TestGraspFeatureGatesSuccess(t *testing.T) {
	e := sparseEvaluator()
	desired := append(goalAt(0, 0, 0), 0)

	held := append(goalAt(0, 0, 0), 0.05)
	if s := e.IsSuccess(held, desired); s != 1 {
		t.Fatalf("held object within threshold should succeed")
	}
	dropped := append(goalAt(0, 0, 0), 0.2)
	if s := e.IsSuccess(dropped, desired); s != 0 {
		t.Fatalf("object outside grasp proximity should not succeed")
	}
}

func TestComputeRewardIsPure(t *testing.T) {
	e := denseEvaluator()
	achieved := goalAt(0.3, 0.2, 0.1)
	desired := goalAt(0, 0, 0)
	first := e.Reward(achieved, desired)
	for i := 0; i < 5; i++ {
		if r := e.Reward(achieved, desired); r != first {
			t.Fatalf("reward changed across identical calls: %g vs %g", r, first)
		}
	}
}

func TestWeightedSparseReward(t *testing.T) {
	e := sparseEvaluator()
	g := goalAt(1, 1, 1)
	assert.InDelta(t, -0.5, e.WeightedReward(g, g, 0.5), 1e-9)
	// Weights scale success only; the failure floor stays at -1.
	assert.InDelta(t, -1.0, e.WeightedReward(goalAt(5, 5, 5), g, 0.5), 1e-9)
}

func TestRewardBatch(t *testing.T) {
	e := sparseEvaluator()
	g := goalAt(1, 1, 1)
	achieved := [][]float64{g, goalAt(5, 5, 5)}
	desired := [][]float64{g, g}

	out := e.RewardBatch(achieved, desired, nil)
	assert.Equal(t, []float64{0, -1}, out)

	out = e.RewardBatch(achieved, desired, []float64{0.25, 0.25})
	assert.InDelta(t, -0.75, out[0], 1e-9)
	assert.InDelta(t, -1.0, out[1], 1e-9)
}

func TestGoalShapeMismatchPanics(t *testing.T) {
	e := sparseEvaluator()
	t.Run("length mismatch", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on shape mismatch")
			}
		}()
		e.Distance([]float64{1, 2, 3}, []float64{1, 2, 3, 0, 0, 0, 1})
	})
	t.Run("unsupported length", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on unsupported goal length")
			}
		}()
		e.Distance([]float64{1, 2}, []float64{1, 2})
	})
	t.Run("batch size mismatch", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on batch size mismatch")
			}
		}()
		e.RewardBatch([][]float64{goalAt(0, 0, 0)}, nil, nil)
	})
}

func TestPositionOnlyGoals(t *testing.T) {
	e := GoalEvaluator{RewardType: RewardSparse, PosThreshold: 0.05, RotThreshold: 0.1}
	if s := e.IsSuccess([]float64{1, 2, 3}, []float64{1, 2, 3.01}); s != 1 {
		t.Fatal("position-only goals within threshold should succeed")
	}
	dPos, dRot := e.Distance([]float64{1, 0, 0}, []float64{0, 0, 0})
	assert.InDelta(t, 1.0, dPos, 1e-9)
	assert.Equal(t, 0.0, dRot)
}
