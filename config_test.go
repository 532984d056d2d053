package manipenv

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestDefaultTaskConfigValidates(t *testing.T) {
	cfg := DefaultTaskConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
	if cfg.GoalSize() != 7 {
		t.Fatalf("default goal size = %d, want 7", cfg.GoalSize())
	}
	cfg.SuccessOnGraspOnly = true
	if cfg.GoalSize() != 8 {
		t.Fatalf("grasp-gated goal size = %d, want 8", cfg.GoalSize())
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := TaskConfig{HasObject: true, ObjectID: "box", TableSafeBounds: DefaultTaskConfig().TableSafeBounds}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
	assert.Equal(t, RewardSparse, cfg.RewardType)
	assert.Equal(t, 0.05, cfg.DistanceThreshold)
	assert.Equal(t, 20, cfg.Substeps)
	assert.Equal(t, 10, cfg.SettleSteps)
	assert.NotEmpty(t, cfg.Names.RobotJoints)
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *TaskConfig)
	}{
		{"air probability out of range", func(cfg *TaskConfig) { cfg.TargetInAirP = 1.5 }},
		{"rotation goal without rotation control", func(cfg *TaskConfig) {
			cfg.IgnoreRotationCtrl = true
			cfg.IgnoreTargetRotation = false
		}},
		{"grasp success with dense reward", func(cfg *TaskConfig) {
			cfg.SuccessOnGraspOnly = true
			cfg.RewardType = RewardDense
		}},
		{"grasp success without object", func(cfg *TaskConfig) {
			cfg.SuccessOnGraspOnly = true
			cfg.HasObject = false
		}},
		{"unknown object", func(cfg *TaskConfig) { cfg.ObjectID = "banana" }},
		{"snapshot without probability", func(cfg *TaskConfig) { cfg.GraspSnapshotPath = "snap.bin" }},
		{"negative snapshot probability", func(cfg *TaskConfig) { cfg.GraspSnapshotResetP = -0.1 }},
		{"negative reset cap", func(cfg *TaskConfig) { cfg.MaxResetAttempts = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTaskConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBounds(t *testing.T) {
	b := Bounds{Min: r3.Vector{X: 0, Y: 0, Z: 0}, Max: r3.Vector{X: 1, Y: 2, Z: 3}}
	if !b.Contains(r3.Vector{X: 0.5, Y: 1, Z: 1}) {
		t.Fatal("interior point reported outside")
	}
	if b.Contains(r3.Vector{X: 1.5, Y: 1, Z: 1}) {
		t.Fatal("exterior point reported inside")
	}
	if !b.ContainsXY(r3.Vector{X: 0.5, Y: 1, Z: 99}) {
		t.Fatal("ContainsXY must ignore z")
	}
	clamped := b.Clamp(r3.Vector{X: -1, Y: 5, Z: 1})
	assert.Equal(t, r3.Vector{X: 0, Y: 2, Z: 1}, clamped)
}

func TestObjectCatalogValidates(t *testing.T) {
	for id, spec := range ObjectCatalog {
		if err := spec.Validate(); err != nil {
			t.Fatalf("catalog entry %q invalid: %v", id, err)
		}
	}

	bad := ObjectSpec{Type: "box"}
	if err := bad.Validate(); err == nil {
		t.Fatal("zero-size box should be rejected")
	}
	bad = ObjectSpec{Type: "mesh", Mesh: "m", MeshParts: 3, PartMasses: []float64{1}}
	if err := bad.Validate(); err == nil {
		t.Fatal("part-mass count mismatch should be rejected")
	}
}

func TestCageGeometries(t *testing.T) {
	scene := DefaultSceneConfig()
	walls, err := scene.CageGeometries()
	if err != nil {
		t.Fatal(err)
	}
	if walls != nil {
		t.Fatal("cage disabled by default")
	}

	scene.ObjectCage = true
	walls, err = scene.CageGeometries()
	if err != nil {
		t.Fatal(err)
	}
	if len(walls) != 4 {
		t.Fatalf("expected 4 cage walls, got %d", len(walls))
	}
}

func TestDualArmConfigValidate(t *testing.T) {
	cfg := DefaultDualArmConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default dual-arm config rejected: %v", err)
	}

	cfg = DefaultDualArmConfig()
	cfg.CtrlHigh = []float64{1, 2, 3}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ctrl_high length mismatch error")
	}

	cfg = DefaultDualArmConfig()
	cfg.MinSeparation = 0.4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected inverted separation range error")
	}
}

func TestMapSeparation(t *testing.T) {
	cfg := DefaultDualArmConfig()
	assert.InDelta(t, 0.05, cfg.MapSeparation(-1), 1e-9)
	assert.InDelta(t, 0.30, cfg.MapSeparation(1), 1e-9)
	assert.InDelta(t, 0.175, cfg.MapSeparation(0), 1e-9)
	// Inputs outside [-1,1] clip, not extrapolate.
	assert.InDelta(t, 0.30, cfg.MapSeparation(3), 1e-9)
}
