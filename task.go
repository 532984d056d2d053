package manipenv

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrSamplingExhausted reports that reset rejection sampling hit the
// configured attempt cap without producing a valid episode start.
var ErrSamplingExhausted = errors.New("reset sampling attempts exhausted")

const (
	// Mocap position deltas are a tenth of the normalized action, in meters.
	mocapPosDeltaScale = 0.1
	// Planar jitter applied to every object placement, randomized or not.
	objectPlacementJitter = 0.005
	// An object is settled when its free-joint velocity norm is below this.
	objectStillnessThreshold = 0.8
	// Tolerance below the resting height before a placement counts as
	// fallen off the support surface.
	objectDropTolerance = 0.02
)

// SingleEffectorEnv is the reach / pick-and-place task core: one mocap-driven
// end-effector, an optional free object on a table, goal-conditioned
// observations. Episodes are strictly sequential; the env owns all mutable
// episode state between Reset calls.
type SingleEffectorEnv struct {
	cfg    TaskConfig
	sim    Simulator
	logger logging.Logger
	eval   GoalEvaluator

	rng *rand.Rand
	src rand.Source

	schema      ObsSchema
	actionSpace BoxSpace

	initialState  SimState
	graspSnapshot SimState

	restingHeight float64
	tableHeight   float64

	goal []float64
}

// NewSingleEffectorEnv validates the configuration once, snapshots the
// simulator's canonical initial state and fixes the observation and action
// layouts.
func NewSingleEffectorEnv(cfg TaskConfig, sim Simulator, logger logging.Logger) (*SingleEffectorEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid task config")
	}

	snapshot := cfg.GraspSnapshot
	if snapshot == nil && cfg.GraspSnapshotPath != "" {
		loaded, err := LoadSimState(cfg.GraspSnapshotPath)
		if err != nil {
			return nil, err
		}
		snapshot = loaded
	}
	// The snapshot is shared read-only input; keep a private copy.
	snapshot = append(SimState(nil), snapshot...)
	if len(snapshot) == 0 {
		snapshot = nil
	}

	if err := sim.Forward(); err != nil {
		return nil, errors.Wrap(err, "initial forward failed")
	}
	initial, err := sim.SaveState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot canonical initial state")
	}

	src := rand.NewSource(cfg.Seed)
	e := &SingleEffectorEnv{
		cfg:          cfg,
		sim:          sim,
		logger:       logger,
		eval:         cfg.evaluator(),
		rng:          rand.New(src),
		src:          src,
		schema:       singleEffectorSchema(cfg),
		actionSpace:  UniformBoxSpace(len(cfg.Names.FingerJoints)+7, -1, 1),
		initialState: initial,
	}
	e.graspSnapshot = snapshot

	table, err := e.TableSurfacePose()
	if err != nil {
		return nil, err
	}
	e.tableHeight = table.Pos.Z
	e.restingHeight = e.tableHeight
	if cfg.HasObject {
		obj, err := sim.BodyPose(cfg.Names.ObjectBody)
		if err != nil {
			return nil, errors.Wrap(err, "scene is missing the configured object")
		}
		e.restingHeight = obj.Pos.Z
	}

	logger.Infof("single-effector env ready: object=%t reward=%s obs_len=%d action_len=%d",
		cfg.HasObject, cfg.RewardType, e.schema.Size(), e.actionSpace.Size())
	return e, nil
}

func singleEffectorSchema(cfg TaskConfig) ObsSchema {
	nj := len(cfg.Names.RobotJoints)
	obj3, obj6 := 0, 0
	if cfg.HasObject {
		obj3, obj6 = 3, 6
	}
	return NewObsSchema([]ObsSegment{
		{Name: "effector_pose", Len: 6},
		{Name: "effector_velp", Len: 3},
		{Name: "effector_pos", Len: 3},
		{Name: "object_rel_pos", Len: obj3},
		{Name: "robot_qpos", Len: nj},
		{Name: "robot_qvel", Len: nj},
		{Name: "object_pose", Len: obj6},
		{Name: "object_vel", Len: obj6},
	})
}

// ActionSpace returns the declared action bounds. Layout, fixed across all
// calls: finger commands, then a position delta (3), then a rotation delta
// quaternion (4).
func (e *SingleEffectorEnv) ActionSpace() BoxSpace { return e.actionSpace }

// ObservationSchema returns the fixed observation layout.
func (e *SingleEffectorEnv) ObservationSchema() ObsSchema { return e.schema }

// Evaluator returns the pure goal evaluator used for rewards.
func (e *SingleEffectorEnv) Evaluator() GoalEvaluator { return e.eval }

// Goal returns a copy of the current desired goal.
func (e *SingleEffectorEnv) Goal() []float64 {
	return append([]float64(nil), e.goal...)
}

// ComputeReward scores an arbitrary (achieved, desired) pair, independent of
// live episode state. Suitable for replay-buffer goal relabeling.
func (e *SingleEffectorEnv) ComputeReward(achieved, desired []float64) float64 {
	return e.eval.Reward(achieved, desired)
}

// Reset starts a new episode: restore the canonical state (or, with the
// configured probability, the pre-grasped snapshot), randomize the arm and
// object placement, settle and validate, then sample a fresh goal. Each
// attempt is validated after settling and retried on failure; the loop is
// unbounded unless MaxResetAttempts caps it.
func (e *SingleEffectorEnv) Reset() (Observation, error) {
	if err := e.resetSim(); err != nil {
		return Observation{}, err
	}

	goal, err := e.sampleGoal()
	if err != nil {
		return Observation{}, err
	}
	e.goal = goal
	if err := e.showGoal(); err != nil {
		return Observation{}, err
	}
	return e.observe()
}

// resetSim retries whole reset attempts until one validates. The snapshot
// probability is drawn per attempt, so a snapshot that fails validation can
// still fall through to a canonical reset on a later attempt.
func (e *SingleEffectorEnv) resetSim() error {
	for attempt := 1; ; attempt++ {
		if e.cfg.MaxResetAttempts > 0 && attempt > e.cfg.MaxResetAttempts {
			return errors.Wrapf(ErrSamplingExhausted, "after %d attempts", e.cfg.MaxResetAttempts)
		}
		if e.graspSnapshot != nil && e.rng.Float64() < e.cfg.GraspSnapshotResetP {
			ok, err := e.attemptSnapshotReset()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			e.logger.Debugf("reset attempt %d rejected: snapshot object not held", attempt)
			continue
		}
		ok, err := e.attemptCanonicalReset()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		e.logger.Debugf("reset attempt %d rejected: object unsettled or out of bounds", attempt)
	}
}

// attemptSnapshotReset restores the pre-grasped snapshot, settles, and
// validates that the object is still and held at the palm.
func (e *SingleEffectorEnv) attemptSnapshotReset() (bool, error) {
	if err := e.sim.RestoreState(append(SimState(nil), e.graspSnapshot...)); err != nil {
		return false, errors.Wrap(err, "failed to restore grasp snapshot")
	}
	if err := e.sim.Forward(); err != nil {
		return false, errors.Wrap(err, "forward after snapshot restore failed")
	}
	if err := e.sim.Step(e.cfg.SettleSteps); err != nil {
		return false, errors.Wrap(err, "settle step failed")
	}
	return e.objectHeld()
}

// attemptCanonicalReset runs one full canonical reset attempt: restore,
// randomize the arm, place the object, settle, validate. Each attempt fully
// overwrites simulator state; retries leave no residue.
func (e *SingleEffectorEnv) attemptCanonicalReset() (bool, error) {
	if err := e.sim.RestoreState(e.initialState); err != nil {
		return false, errors.Wrap(err, "failed to restore initial state")
	}
	if err := e.randomizeArm(); err != nil {
		return false, err
	}
	if err := e.sim.Step(e.cfg.SettleSteps); err != nil {
		return false, errors.Wrap(err, "settle step failed")
	}
	if !e.cfg.HasObject {
		return true, nil
	}
	if err := e.placeObject(); err != nil {
		return false, err
	}
	if err := e.sim.Step(e.cfg.SettleSteps); err != nil {
		return false, errors.Wrap(err, "settle step failed")
	}
	return e.objectSettled()
}

func (e *SingleEffectorEnv) randomizeArm() error {
	mocap, err := e.sim.MocapPose(e.cfg.Names.ArmMocap)
	if err != nil {
		return errors.Wrap(err, "failed to read arm mocap")
	}
	if e.cfg.RandomizeInitialArmPos {
		r := e.cfg.ArmRandomizationRange
		mocap.Pos.X += e.uniform(-r, r)
		mocap.Pos.Y += e.uniform(-r, r)
	}
	mocap.Pos = e.cfg.ForearmBounds.Clamp(mocap.Pos)
	return errors.Wrap(e.sim.SetMocapPose(e.cfg.Names.ArmMocap, mocap), "failed to set arm mocap")
}

func (e *SingleEffectorEnv) placeObject() error {
	names := e.cfg.Names
	var x, y float64
	if e.cfg.FixedInitialObjectPos {
		palm, err := e.sim.SitePose(names.PalmSite)
		if err != nil {
			return errors.Wrap(err, "failed to read palm site")
		}
		x, y = palm.Pos.X, palm.Pos.Y
	} else {
		x, y = e.cfg.TableSafeBounds.SampleXY(e.src)
	}
	// Jitter always, even for fixed placement, to avoid exact-replay
	// degeneracy.
	x += e.uniform(-objectPlacementJitter, objectPlacementJitter)
	y += e.uniform(-objectPlacementJitter, objectPlacementJitter)

	pose := NewPose(r3.Vector{X: x, Y: y, Z: e.restingHeight}, IdentityQuat())
	if err := e.sim.SetJointQPos(names.ObjectJoint, pose.Slice()); err != nil {
		return errors.Wrap(err, "failed to place object")
	}
	if err := e.sim.SetJointQVel(names.ObjectJoint, make([]float64, 6)); err != nil {
		return errors.Wrap(err, "failed to still object")
	}
	return errors.Wrap(e.sim.Forward(), "forward after object placement failed")
}

func (e *SingleEffectorEnv) objectSettled() (bool, error) {
	names := e.cfg.Names
	qvel, err := e.sim.JointQVel(names.ObjectJoint)
	if err != nil {
		return false, errors.Wrap(err, "failed to read object velocity")
	}
	if floats.Norm(qvel, 2) >= objectStillnessThreshold {
		return false, nil
	}
	obj, err := e.sim.BodyPose(names.ObjectBody)
	if err != nil {
		return false, errors.Wrap(err, "failed to read object pose")
	}
	if !e.cfg.TableSafeBounds.ContainsXY(obj.Pos) {
		return false, nil
	}
	return obj.Pos.Z > e.restingHeight-objectDropTolerance, nil
}

// objectHeld reports whether the object is still and within grasping distance
// of the palm, the acceptance test for snapshot resets.
func (e *SingleEffectorEnv) objectHeld() (bool, error) {
	names := e.cfg.Names
	qvel, err := e.sim.JointQVel(names.ObjectJoint)
	if err != nil {
		return false, errors.Wrap(err, "failed to read object velocity")
	}
	if floats.Norm(qvel, 2) >= objectStillnessThreshold {
		return false, nil
	}
	obj, err := e.sim.BodyPose(names.ObjectBody)
	if err != nil {
		return false, errors.Wrap(err, "failed to read object pose")
	}
	palm, err := e.sim.SitePose(names.PalmSite)
	if err != nil {
		return false, errors.Wrap(err, "failed to read palm site")
	}
	return obj.Pos.Sub(palm.Pos).Norm() < graspProximityThreshold, nil
}

func (e *SingleEffectorEnv) sampleGoal() ([]float64, error) {
	x, y := e.cfg.TableSafeBounds.SampleXY(e.src)
	z := e.restingHeight
	if e.rng.Float64() < e.cfg.TargetInAirP {
		z += e.uniform(0, e.cfg.GoalAirLift)
	}

	goal := []float64{x, y, z, 0, 0, 0, 0}
	if !e.cfg.IgnoreTargetRotation {
		q := EulerToQuat(r3.Vector{Z: e.uniform(-math.Pi, math.Pi)})
		goal = NewPose(r3.Vector{X: x, Y: y, Z: z}, q).Slice()
	}
	if e.cfg.SuccessOnGraspOnly {
		goal = append(goal, 0)
	}
	return goal, nil
}

// showGoal moves the visual target marker onto the sampled goal.
func (e *SingleEffectorEnv) showGoal() error {
	pose := PoseFromSlice(e.goal[:7])
	if err := e.sim.SetJointQPos(e.cfg.Names.TargetJoint, pose.Slice()); err != nil {
		return errors.Wrap(err, "failed to move target marker")
	}
	if err := e.sim.SetJointQVel(e.cfg.Names.TargetJoint, make([]float64, 6)); err != nil {
		return errors.Wrap(err, "failed to still target marker")
	}
	return errors.Wrap(e.sim.Forward(), "forward after goal placement failed")
}

// Step decodes and applies one action, advances physics by the configured
// substeps and scores the transition. done is always false: success never
// terminates an episode, only the caller's budget does.
func (e *SingleEffectorEnv) Step(action []float64) (Observation, float64, bool, StepInfo, error) {
	if len(action) != e.actionSpace.Size() {
		panic(fmt.Sprintf("manipenv: action length %d does not match action space size %d",
			len(action), e.actionSpace.Size()))
	}
	a := e.actionSpace.Clip(action)
	nf := len(e.cfg.Names.FingerJoints)
	fingers := a[:nf]
	posDelta := r3.Vector{X: a[nf], Y: a[nf+1], Z: a[nf+2]}.Mul(mocapPosDeltaScale)
	rotDelta := IdentityQuat()
	if !e.cfg.IgnoreRotationCtrl {
		rotDelta = normalizeQuat(quat.Number{Real: a[nf+3], Imag: a[nf+4], Jmag: a[nf+5], Kmag: a[nf+6]})
	}

	mocap, err := e.sim.MocapPose(e.cfg.Names.ArmMocap)
	if err != nil {
		return Observation{}, 0, false, StepInfo{}, errors.Wrap(err, "failed to read arm mocap")
	}
	mocap.Pos = e.cfg.ForearmBounds.Clamp(mocap.Pos.Add(posDelta))
	mocap.Quat = normalizeQuat(quat.Mul(mocap.Quat, rotDelta))
	if err := e.sim.SetMocapPose(e.cfg.Names.ArmMocap, mocap); err != nil {
		return Observation{}, 0, false, StepInfo{}, errors.Wrap(err, "failed to command arm mocap")
	}

	ctrl := append([]float64(nil), fingers...)
	if e.cfg.RelativeControl {
		cur, err := e.sim.JointPositionsByName(e.cfg.Names.FingerJoints)
		if err != nil {
			return Observation{}, 0, false, StepInfo{}, errors.Wrap(err, "failed to read finger joints")
		}
		floats.Add(ctrl, cur)
	}
	if err := e.sim.SetControl(ctrl); err != nil {
		return Observation{}, 0, false, StepInfo{}, errors.Wrap(err, "failed to command fingers")
	}

	if err := e.sim.Step(e.cfg.Substeps); err != nil {
		return Observation{}, 0, false, StepInfo{}, errors.Wrap(err, "physics step failed")
	}

	obs, err := e.observe()
	if err != nil {
		return Observation{}, 0, false, StepInfo{}, err
	}
	reward := e.eval.Reward(obs.AchievedGoal, obs.DesiredGoal)
	info := StepInfo{IsSuccess: e.eval.IsSuccess(obs.AchievedGoal, obs.DesiredGoal)}
	return obs, reward, false, info, nil
}

func (e *SingleEffectorEnv) observe() (Observation, error) {
	names := e.cfg.Names

	palm, err := e.sim.SitePose(names.PalmSite)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read palm site")
	}
	velp, err := e.sim.SiteLinVel(names.PalmSite)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read palm velocity")
	}
	qpos, err := e.sim.JointPositionsByName(names.RobotJoints)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read robot joints")
	}
	qvel, err := e.sim.JointVelocitiesByName(names.RobotJoints)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read robot joint velocities")
	}

	b := e.schema.NewBuilder()
	b.Set("effector_pose", palm.SliceEuler())
	b.Set("effector_velp", []float64{velp.X, velp.Y, velp.Z})
	b.Set("effector_pos", []float64{palm.Pos.X, palm.Pos.Y, palm.Pos.Z})
	b.Set("robot_qpos", qpos)
	b.Set("robot_qvel", qvel)

	achieved := palm.Slice()
	if e.cfg.HasObject {
		obj, err := e.sim.BodyPose(names.ObjectBody)
		if err != nil {
			return Observation{}, errors.Wrap(err, "failed to read object pose")
		}
		objVel, err := e.sim.JointQVel(names.ObjectJoint)
		if err != nil {
			return Observation{}, errors.Wrap(err, "failed to read object velocity")
		}
		rel := obj.Pos.Sub(palm.Pos)
		b.Set("object_rel_pos", []float64{rel.X, rel.Y, rel.Z})
		b.Set("object_pose", obj.SliceEuler())
		b.Set("object_vel", objVel)
		achieved = obj.Slice()
		if e.cfg.SuccessOnGraspOnly {
			achieved = append(achieved, rel.Norm())
		}
	}
	if e.cfg.IgnoreTargetRotation {
		// Match the goal layout: orientation is not part of the goal, so
		// the achieved quaternion is zeroed rather than reported.
		for i := 3; i < 7; i++ {
			achieved[i] = 0
		}
	}

	return Observation{
		Observation:  b.Vector(),
		AchievedGoal: achieved,
		DesiredGoal:  append([]float64(nil), e.goal...),
	}, nil
}

// ObjectPose returns the object's world pose. Calling it on an environment
// configured without an object is caller misuse.
func (e *SingleEffectorEnv) ObjectPose() (Pose, error) {
	if !e.cfg.HasObject {
		panic("manipenv: ObjectPose called on an environment configured without an object")
	}
	return e.sim.BodyPose(e.cfg.Names.ObjectBody)
}

// ObjectContacts returns contact points between the object and another body
// ("" for all). Panics when no object is configured.
func (e *SingleEffectorEnv) ObjectContacts(other string) ([]Contact, error) {
	if !e.cfg.HasObject {
		panic("manipenv: ObjectContacts called on an environment configured without an object")
	}
	return e.sim.ContactPoints(e.cfg.Names.ObjectBody, other)
}

// TableSurfacePose returns the pose of the table's top surface, derived from
// the table body pose and its geom half-height.
func (e *SingleEffectorEnv) TableSurfacePose() (Pose, error) {
	body, err := e.sim.BodyPose(e.cfg.Names.TableBody)
	if err != nil {
		return Pose{}, errors.Wrap(err, "failed to read table body")
	}
	size, err := e.sim.GeomSize(e.cfg.Names.TableGeom)
	if err != nil {
		return Pose{}, errors.Wrap(err, "failed to read table geom")
	}
	body.Pos.Z += size.Z
	return body, nil
}

func (e *SingleEffectorEnv) uniform(min, max float64) float64 {
	return distuv.Uniform{Min: min, Max: max, Src: e.src}.Rand()
}
