package manipenv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

func testTaskConfig() TaskConfig {
	cfg := DefaultTaskConfig()
	cfg.Seed = 7
	// Wide bounds so workspace clamping cannot interfere with scripted moves.
	cfg.ForearmBounds = Bounds{Max: r3.Vector{X: 3, Y: 3, Z: 3}}
	return cfg
}

func newTestEnv(t *testing.T, cfg TaskConfig) (*SingleEffectorEnv, *FakeSim) {
	t.Helper()
	sim := NewSingleEffectorFakeSim(cfg)
	env, err := NewSingleEffectorEnv(cfg, sim, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("failed to build env: %v", err)
	}
	return env, sim
}

func zeroAction(env *SingleEffectorEnv) []float64 {
	return make([]float64, env.ActionSpace().Size())
}

func TestReachSuccessAtGoal(t *testing.T) {
	cfg := testTaskConfig()
	cfg.HasObject = false
	env, sim := newTestEnv(t, cfg)

	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	goal := env.Goal()
	assert.Len(t, goal, 7)

	// Drive the effector exactly onto the goal by shifting the mocap by the
	// palm's offset from it.
	palm := PoseFromSlice(obs.AchievedGoal)
	mocap, err := sim.MocapPose(cfg.Names.ArmMocap)
	if err != nil {
		t.Fatal(err)
	}
	delta := r3.Vector{X: goal[0], Y: goal[1], Z: goal[2]}.Sub(palm.Pos)
	mocap.Pos = mocap.Pos.Add(delta)
	if err := sim.SetMocapPose(cfg.Names.ArmMocap, mocap); err != nil {
		t.Fatal(err)
	}
	if err := sim.Forward(); err != nil {
		t.Fatal(err)
	}

	_, reward, done, info, err := env.Step(zeroAction(env))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1.0, info.IsSuccess)
	assert.Equal(t, 0.0, reward)
	// Success never terminates the episode.
	assert.False(t, done)
}

func TestObservationLengthInvariance(t *testing.T) {
	cfg := testTaskConfig()
	env, _ := newTestEnv(t, cfg)
	want := env.ObservationSchema().Size()

	for episode := 0; episode < 2; episode++ {
		obs, err := env.Reset()
		if err != nil {
			t.Fatal(err)
		}
		if len(obs.Observation) != want {
			t.Fatalf("reset obs length %d, want %d", len(obs.Observation), want)
		}
		for i := 0; i < 4; i++ {
			a := zeroAction(env)
			a[0] = 0.5
			a[len(a)-5] = -0.3
			obs, _, _, _, err := env.Step(a)
			if err != nil {
				t.Fatal(err)
			}
			if len(obs.Observation) != want {
				t.Fatalf("step obs length %d, want %d", len(obs.Observation), want)
			}
			assert.Len(t, obs.AchievedGoal, cfg.GoalSize())
			assert.Len(t, obs.DesiredGoal, cfg.GoalSize())
		}
	}
}

func TestSparseStepRewards(t *testing.T) {
	cfg := testTaskConfig()
	env, _ := newTestEnv(t, cfg)
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_, reward, _, _, err := env.Step(zeroAction(env))
		if err != nil {
			t.Fatal(err)
		}
		if reward != 0 && reward != -1 {
			t.Fatalf("sparse reward %g outside {-1, 0}", reward)
		}
	}
}

func TestDensePickAndPlaceReward(t *testing.T) {
	cfg := testTaskConfig()
	cfg.RewardType = RewardDense
	env, sim := newTestEnv(t, cfg)

	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	goal := env.Goal()
	objPose := NewPose(r3.Vector{X: goal[0] + 0.5, Y: goal[1], Z: goal[2]}, IdentityQuat())
	if err := sim.SetJointQPos(cfg.Names.ObjectJoint, objPose.Slice()); err != nil {
		t.Fatal(err)
	}
	if err := sim.SetJointQVel(cfg.Names.ObjectJoint, make([]float64, 6)); err != nil {
		t.Fatal(err)
	}
	if err := sim.Forward(); err != nil {
		t.Fatal(err)
	}

	_, reward, _, info, err := env.Step(zeroAction(env))
	if err != nil {
		t.Fatal(err)
	}
	assert.InDelta(t, -5.0, reward, 1e-9)
	assert.Equal(t, 0.0, info.IsSuccess)
}

func TestResetRetriesUntilObjectSettles(t *testing.T) {
	cfg := testTaskConfig()
	env, sim := newTestEnv(t, cfg)

	// Knock the object out of the safe region during the first attempts'
	// settle steps; reset must keep retrying until placement sticks.
	badSteps := 4
	calls := 0
	sim.StepHook = func(s *FakeSim, n int) {
		calls++
		if calls <= badSteps {
			pose := NewPose(r3.Vector{X: 9, Y: 9, Z: 0.45}, IdentityQuat())
			if err := s.SetJointQPos(cfg.Names.ObjectJoint, pose.Slice()); err != nil {
				t.Fatal(err)
			}
		}
	}

	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	if calls <= badSteps {
		t.Fatalf("reset gave up after %d steps without retrying", calls)
	}
	obj := PoseFromSlice(obs.AchievedGoal[:7])
	if !cfg.TableSafeBounds.ContainsXY(obj.Pos) {
		t.Fatalf("object at %v outside safe bounds after reset", obj.Pos)
	}
}

func TestResetSamplingExhausted(t *testing.T) {
	cfg := testTaskConfig()
	cfg.MaxResetAttempts = 3
	env, sim := newTestEnv(t, cfg)

	sim.StepHook = func(s *FakeSim, n int) {
		pose := NewPose(r3.Vector{X: 9, Y: 9, Z: 0.45}, IdentityQuat())
		if err := s.SetJointQPos(cfg.Names.ObjectJoint, pose.Slice()); err != nil {
			t.Fatal(err)
		}
	}

	_, err := env.Reset()
	if !errors.Is(err, ErrSamplingExhausted) {
		t.Fatalf("expected ErrSamplingExhausted, got %v", err)
	}
}

func TestSnapshotReset(t *testing.T) {
	cfg := testTaskConfig()
	sim := NewSingleEffectorFakeSim(cfg)

	// Record a held state: object still, at the palm.
	palm, err := sim.SitePose(cfg.Names.PalmSite)
	if err != nil {
		t.Fatal(err)
	}
	held := NewPose(palm.Pos, IdentityQuat())
	if err := sim.SetJointQPos(cfg.Names.ObjectJoint, held.Slice()); err != nil {
		t.Fatal(err)
	}
	if err := sim.SetJointQVel(cfg.Names.ObjectJoint, make([]float64, 6)); err != nil {
		t.Fatal(err)
	}
	if err := sim.Forward(); err != nil {
		t.Fatal(err)
	}
	snapshot, err := sim.SaveState()
	if err != nil {
		t.Fatal(err)
	}
	cfg.GraspSnapshot = snapshot
	cfg.GraspSnapshotResetP = 1.0

	env, err := NewSingleEffectorEnv(cfg, sim, logging.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	// A snapshot reset re-seeds from the snapshot: the object stays in the
	// hand instead of being re-sampled onto the table.
	obj := PoseFromSlice(obs.AchievedGoal[:7])
	assert.InDelta(t, palm.Pos.X, obj.Pos.X, 1e-9)
	assert.InDelta(t, palm.Pos.Y, obj.Pos.Y, 1e-9)
	assert.Less(t, obj.Pos.Sub(palm.Pos).Norm(), 0.08)
}

func TestBrokenSnapshotExhaustsReset(t *testing.T) {
	cfg := testTaskConfig()
	cfg.MaxResetAttempts = 3
	sim := NewSingleEffectorFakeSim(cfg)

	// Record a state where the object is flying far from the hand; settling
	// cannot validate it, so every snapshot attempt must be rejected.
	flung := NewPose(r3.Vector{X: 9, Y: 9, Z: 9}, IdentityQuat())
	if err := sim.SetJointQPos(cfg.Names.ObjectJoint, flung.Slice()); err != nil {
		t.Fatal(err)
	}
	if err := sim.SetJointQVel(cfg.Names.ObjectJoint, []float64{50, 50, 50, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := sim.Forward(); err != nil {
		t.Fatal(err)
	}
	snapshot, err := sim.SaveState()
	if err != nil {
		t.Fatal(err)
	}
	cfg.GraspSnapshot = snapshot
	cfg.GraspSnapshotResetP = 1.0

	env, err := NewSingleEffectorEnv(cfg, sim, logging.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Reset(); !errors.Is(err, ErrSamplingExhausted) {
		t.Fatalf("expected ErrSamplingExhausted, got %v", err)
	}
}

func TestMissingSnapshotFileFailsConstruction(t *testing.T) {
	cfg := testTaskConfig()
	cfg.GraspSnapshotPath = filepath.Join(t.TempDir(), "missing.bin")
	cfg.GraspSnapshotResetP = 0.5

	sim := NewSingleEffectorFakeSim(cfg)
	_, err := NewSingleEffectorEnv(cfg, sim, logging.NewTestLogger(t))
	if err == nil {
		t.Fatal("expected construction error for missing snapshot file")
	}
}

func TestObjectAccessorsPanicWithoutObject(t *testing.T) {
	cfg := testTaskConfig()
	cfg.HasObject = false
	env, _ := newTestEnv(t, cfg)

	t.Run("ObjectPose", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		env.ObjectPose() //nolint:errcheck
	})
	t.Run("ObjectContacts", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		env.ObjectContacts("") //nolint:errcheck
	})
}

func TestTableSurfacePose(t *testing.T) {
	cfg := testTaskConfig()
	env, _ := newTestEnv(t, cfg)
	table, err := env.TableSurfacePose()
	if err != nil {
		t.Fatal(err)
	}
	assert.InDelta(t, 0.4, table.Pos.Z, 1e-9)
}

func TestSeededResetsAreDeterministic(t *testing.T) {
	cfg := testTaskConfig()
	cfg.Seed = 42
	cfg.RandomizeInitialArmPos = true

	envA, _ := newTestEnv(t, cfg)
	envB, _ := newTestEnv(t, cfg)

	obsA, err := envA.Reset()
	if err != nil {
		t.Fatal(err)
	}
	obsB, err := envB.Reset()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, envA.Goal(), envB.Goal())
	assert.Equal(t, obsA.Observation, obsB.Observation)
}

func TestGroundedGoalsWithoutAirProbability(t *testing.T) {
	cfg := testTaskConfig()
	cfg.HasObject = false
	cfg.TargetInAirP = 0
	env, _ := newTestEnv(t, cfg)

	// With zero air probability every goal sits on the surface, even in the
	// reach task.
	for i := 0; i < 5; i++ {
		if _, err := env.Reset(); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, 0.4, env.Goal()[2])
	}
}

func TestGoalOrientationOmittedWhenIgnored(t *testing.T) {
	cfg := testTaskConfig()
	env, _ := newTestEnv(t, cfg)
	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	// Orientation is not part of the goal: both quaternion slots are zeroed.
	for i := 3; i < 7; i++ {
		assert.Equal(t, 0.0, obs.AchievedGoal[i])
		assert.Equal(t, 0.0, obs.DesiredGoal[i])
	}

	cfg.IgnoreTargetRotation = false
	cfg.IgnoreRotationCtrl = false
	env, _ = newTestEnv(t, cfg)
	obs, err = env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	var achievedNorm, goalNorm float64
	for i := 3; i < 7; i++ {
		achievedNorm += obs.AchievedGoal[i] * obs.AchievedGoal[i]
		goalNorm += obs.DesiredGoal[i] * obs.DesiredGoal[i]
	}
	assert.InDelta(t, 1, achievedNorm, 1e-9)
	assert.InDelta(t, 1, goalNorm, 1e-9)
}

func TestStepPanicsOnWrongActionLength(t *testing.T) {
	cfg := testTaskConfig()
	env, _ := newTestEnv(t, cfg)
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for wrong action length")
		}
	}()
	env.Step([]float64{1}) //nolint:errcheck
}
