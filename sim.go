package manipenv

import (
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// SimState is an opaque full-simulator snapshot. It is produced by
// Simulator.SaveState, consumed as-is by RestoreState, and may be persisted
// to disk (e.g. a pre-grasped reset snapshot).
type SimState []byte

// Contact describes a contact point between the object and another body,
// expressed in the object frame.
type Contact struct {
	Body1       string
	Body2       string
	RelativePos r3.Vector
	Force       [6]float64
}

// Simulator is the external rigid-body physics engine this package drives.
// Implementations query and mutate a loaded scene by entity name; stepping,
// contact resolution and collision detection are entirely theirs.
type Simulator interface {
	// Kinematic queries.
	BodyPose(name string) (Pose, error)
	SitePose(name string) (Pose, error)
	SiteLinVel(name string) (r3.Vector, error)
	SiteAngVel(name string) (r3.Vector, error)

	// Joint state. Free joints expose 7 position values and 6 velocities.
	JointQPos(name string) ([]float64, error)
	SetJointQPos(name string, qpos []float64) error
	JointQVel(name string) ([]float64, error)
	SetJointQVel(name string, qvel []float64) error
	JointPositionsByName(names []string) ([]float64, error)
	JointVelocitiesByName(names []string) ([]float64, error)

	// Actuation.
	SetControl(u []float64) error
	MocapPose(name string) (Pose, error)
	SetMocapPose(name string, p Pose) error

	// Time.
	Step(n int) error
	Forward() error
	DT() float64

	// Snapshots.
	SaveState() (SimState, error)
	RestoreState(state SimState) error

	// Scene introspection.
	ContactPoints(body, other string) ([]Contact, error)
	GeomType(name string) (string, error)
	GeomSize(name string) (r3.Vector, error)
}

// LoadSimState reads a serialized simulator snapshot from disk. A missing or
// unreadable file is an external-resource error surfaced once at
// construction time.
func LoadSimState(path string) (SimState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load simulator state from %s", path)
	}
	if len(data) == 0 {
		return nil, errors.Errorf("simulator state file %s is empty", path)
	}
	return SimState(data), nil
}
