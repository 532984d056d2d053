package manipenv

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
)

// Arm identifies one of the two arms of a dual-arm robot.
type Arm int

const (
	ArmRight Arm = iota
	ArmLeft
)

func (a Arm) String() string {
	if a == ArmLeft {
		return "left"
	}
	return "right"
}

// IKSolver maps a desired effector pose to joint inputs. Implementations may
// probe the simulator; they must leave its state unchanged on return.
type IKSolver interface {
	Solve(target Pose) ([]referenceframe.Input, error)
}

// MocapIK solves inverse kinematics by probing the simulator: it snapshots
// the state, drags the arm's mocap onto the target, lets the weld constraint
// pull the joints along for a few steps, reads the joint values off and
// restores the snapshot.
type MocapIK struct {
	Sim        Simulator
	MocapName  string
	JointNames []string
	ProbeSteps int
}

// NewMocapIK builds a probing solver for one arm of a loaded scene.
func NewMocapIK(sim Simulator, mocapName string, jointNames []string) *MocapIK {
	return &MocapIK{Sim: sim, MocapName: mocapName, JointNames: jointNames, ProbeSteps: 10}
}

// Solve returns joint inputs reaching the target pose.
func (ik *MocapIK) Solve(target Pose) (inputs []referenceframe.Input, err error) {
	saved, err := ik.Sim.SaveState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot simulator for ik probe")
	}
	defer func() {
		if rerr := ik.Sim.RestoreState(saved); rerr != nil && err == nil {
			inputs = nil
			err = errors.Wrap(rerr, "failed to restore simulator after ik probe")
		}
	}()

	if err = ik.Sim.SetMocapPose(ik.MocapName, target); err != nil {
		return nil, errors.Wrapf(err, "failed to move mocap %q", ik.MocapName)
	}
	if err = ik.Sim.Step(ik.ProbeSteps); err != nil {
		return nil, errors.Wrap(err, "ik probe step failed")
	}
	qpos, err := ik.Sim.JointPositionsByName(ik.JointNames)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read probed joint positions")
	}
	return qpos, nil
}
