package manipenv

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestFakeSimMocapAttachment(t *testing.T) {
	s := NewFakeSim()
	s.AddMocap("m", IdentityPose())
	s.AddBody("hand", IdentityPose())
	s.AttachBodyToMocap("hand", "m", NewPose(r3.Vector{Z: -0.1}, IdentityQuat()))
	s.AddSite("palm", "hand", IdentityPose())

	target := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, IdentityQuat())
	if err := s.SetMocapPose("m", target); err != nil {
		t.Fatal(err)
	}
	if err := s.Step(1); err != nil {
		t.Fatal(err)
	}
	p, err := s.SitePose("palm")
	if err != nil {
		t.Fatal(err)
	}
	assert.InDelta(t, 1, p.Pos.X, 1e-9)
	assert.InDelta(t, 2.9, p.Pos.Z, 1e-9)
}

func TestFakeSimFreeJointBodySync(t *testing.T) {
	s := NewFakeSim()
	s.AddFreeJoint("obj:joint", "obj", NewPose(r3.Vector{Z: 0.4}, IdentityQuat()))

	want := NewPose(r3.Vector{X: 0.2, Y: -0.1, Z: 0.5}, IdentityQuat())
	if err := s.SetJointQPos("obj:joint", want.Slice()); err != nil {
		t.Fatal(err)
	}
	got, err := s.BodyPose("obj")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, want.Pos, got.Pos)

	// Velocity integrates and damps during stepping.
	if err := s.SetJointQVel("obj:joint", []float64{1, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Step(5); err != nil {
		t.Fatal(err)
	}
	got, _ = s.BodyPose("obj")
	if got.Pos.X <= want.Pos.X {
		t.Fatal("free joint velocity did not move the body")
	}
	qvel, _ := s.JointQVel("obj:joint")
	if qvel[0] >= 1 {
		t.Fatal("velocity did not damp")
	}
}

func TestFakeSimSaveRestoreRoundTrip(t *testing.T) {
	cfg := DefaultTaskConfig()
	s := NewSingleEffectorFakeSim(cfg)

	saved, err := s.SaveState()
	if err != nil {
		t.Fatal(err)
	}
	before, err := s.BodyPose(cfg.Names.ObjectBody)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetJointQPos(cfg.Names.ObjectJoint,
		NewPose(r3.Vector{X: 9, Y: 9, Z: 9}, IdentityQuat()).Slice()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMocapPose(cfg.Names.ArmMocap, IdentityPose()); err != nil {
		t.Fatal(err)
	}

	if err := s.RestoreState(saved); err != nil {
		t.Fatal(err)
	}
	after, err := s.BodyPose(cfg.Names.ObjectBody)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, before.Pos, after.Pos)
	mocap, _ := s.MocapPose(cfg.Names.ArmMocap)
	assert.Equal(t, cfg.InitialArmPose.Pos, mocap.Pos)
}

func TestFakeSimDrivenJointsTrackMocap(t *testing.T) {
	cfg := DefaultTaskConfig()
	s := NewSingleEffectorFakeSim(cfg)

	target := NewPose(r3.Vector{X: 1.2, Y: 0.9, Z: 0.7}, cfg.InitialArmPose.Quat)
	if err := s.SetMocapPose(cfg.Names.ArmMocap, target); err != nil {
		t.Fatal(err)
	}
	if err := s.Forward(); err != nil {
		t.Fatal(err)
	}
	qpos, err := s.JointPositionsByName(cfg.Names.RobotJoints[:3])
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []float64{1.2, 0.9, 0.7}, qpos)
}

func TestFakeSimUnknownNamesError(t *testing.T) {
	s := NewFakeSim()
	if _, err := s.BodyPose("ghost"); err == nil {
		t.Fatal("expected error for unknown body")
	}
	if _, err := s.JointQPos("ghost"); err == nil {
		t.Fatal("expected error for unknown joint")
	}
	if err := s.SetMocapPose("ghost", IdentityPose()); err == nil {
		t.Fatal("expected error for unknown mocap")
	}
	if _, err := s.ContactPoints("ghost", ""); err == nil {
		t.Fatal("expected error for unknown contact body")
	}
}
