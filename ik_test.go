package manipenv

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestMocapIKSolveAndRestore(t *testing.T) {
	cfg := DefaultTaskConfig()
	s := NewSingleEffectorFakeSim(cfg)
	ik := NewMocapIK(s, cfg.Names.ArmMocap, cfg.Names.RobotJoints[:3])

	before, err := s.MocapPose(cfg.Names.ArmMocap)
	if err != nil {
		t.Fatal(err)
	}

	target := NewPose(r3.Vector{X: 1.3, Y: 0.6, Z: 0.8}, before.Quat)
	inputs, err := ik.Solve(target)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []float64{1.3, 0.6, 0.8}, []float64(inputs))

	// Probing must leave the simulator untouched.
	after, err := s.MocapPose(cfg.Names.ArmMocap)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, before.Pos, after.Pos)
}
