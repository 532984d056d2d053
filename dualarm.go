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

const (
	// Normalized center deltas map to meters at a fifth of the action.
	centerDeltaScale = 0.2
	// Relative object motion below this counts as stable.
	stabilityTolerance = 0.002
	// Iterations of instability tolerated before stability counting bails.
	stabilityGracePeriod = 10
)

// DualArmNames fixes the naming conventions of the dual-arm scene template.
type DualArmNames struct {
	RightJoints    []string `json:"right_joints"`
	LeftJoints     []string `json:"left_joints"`
	GripperJoints  []string `json:"gripper_joints"`
	RightGraspSite string   `json:"right_grasp_site"`
	LeftGraspSite  string   `json:"left_grasp_site"`
	RightMocap     string   `json:"right_mocap"`
	LeftMocap      string   `json:"left_mocap"`
	ObjectBody     string   `json:"object_body"`
	ObjectJoint    string   `json:"object_joint"`
	TableBody      string   `json:"table_body"`
	TableGeom      string   `json:"table_geom"`
}

// DefaultDualArmNames matches the stock dual-arm scene template.
func DefaultDualArmNames() DualArmNames {
	right := make([]string, 0, 7)
	left := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		right = append(right, fmt.Sprintf("arm_joint_%d_r", i))
		left = append(left, fmt.Sprintf("arm_joint_%d_l", i))
	}
	return DualArmNames{
		RightJoints:    right,
		LeftJoints:     left,
		GripperJoints:  []string{"gripper_r_joint", "gripper_l_joint"},
		RightGraspSite: "gripper_r_center",
		LeftGraspSite:  "gripper_l_center",
		RightMocap:     "mocap_r",
		LeftMocap:      "mocap_l",
		ObjectBody:     "object",
		ObjectJoint:    "object:joint",
		TableBody:      "table0",
		TableGeom:      "table0_geom",
	}
}

// DefaultDualArmCtrlHigh returns the actuator bounds of the stock dual-arm
// robot: seven arm actuators per arm, then the two gripper actuators.
func DefaultDualArmCtrlHigh() []float64 {
	arm := []float64{40, 35, 30, 20, 15, 10, 10}
	out := make([]float64, 0, 16)
	for _, scale := range []float64{10, 10} {
		for _, v := range arm {
			out = append(out, v*scale)
		}
	}
	return append(out, 0.02, 0.02)
}

// DualArmConfig parameterizes the coordinated dual-arm pick-and-place task.
type DualArmConfig struct {
	RewardType        RewardType `json:"reward_type"`
	DistanceThreshold float64    `json:"distance_threshold"`

	// Servo convergence thresholds, in meters and radians.
	PosThreshold float64 `json:"pos_threshold"`
	RotThreshold float64 `json:"rot_threshold"`

	// Inter-gripper separation range the normalized [-1,1] input maps to.
	MinSeparation float64 `json:"min_separation"`
	MaxSeparation float64 `json:"max_separation"`

	FingerControl  bool      `json:"finger_control"`
	Gains          PDGains   `json:"gains"`
	CtrlHigh       []float64 `json:"ctrl_high"`
	MaxServoIters  int       `json:"max_servo_iters"`
	StepServoIters int       `json:"step_servo_iters"`

	TargetInAirP     float64 `json:"target_in_air_p"`
	GoalAirLift      float64 `json:"goal_air_lift"`
	SettleSteps      int     `json:"settle_steps"`
	MaxResetAttempts int     `json:"max_reset_attempts"`
	Seed             uint64  `json:"seed"`

	TableSafeBounds Bounds `json:"table_safe_bounds"`
	CenterBounds    Bounds `json:"center_bounds"`

	Names DualArmNames `json:"names"`
}

// DefaultDualArmConfig returns the stock configuration.
func DefaultDualArmConfig() DualArmConfig {
	return DualArmConfig{
		RewardType:        RewardSparse,
		DistanceThreshold: 0.05,
		PosThreshold:      0.02,
		RotThreshold:      0.1,
		MinSeparation:     0.05,
		MaxSeparation:     0.30,
		Gains:             DefaultPDGains(),
		CtrlHigh:          DefaultDualArmCtrlHigh(),
		MaxServoIters:     100,
		StepServoIters:    5,
		TargetInAirP:      0.5,
		GoalAirLift:       0.45,
		SettleSteps:       10,
		TableSafeBounds:   Bounds{Min: r3.Vector{X: -0.25, Y: -0.35}, Max: r3.Vector{X: 0.25, Y: 0.35}},
		CenterBounds: Bounds{
			Min: r3.Vector{X: -0.30, Y: -0.40, Z: 0.05},
			Max: r3.Vector{X: 0.30, Y: 0.40, Z: 0.50},
		},
		Names: DefaultDualArmNames(),
	}
}

// Validate fills defaults and rejects invalid combinations.
func (cfg *DualArmConfig) Validate() error {
	if cfg.RewardType == "" {
		cfg.RewardType = RewardSparse
	}
	if cfg.DistanceThreshold == 0 {
		cfg.DistanceThreshold = 0.05
	}
	if cfg.PosThreshold == 0 {
		cfg.PosThreshold = 0.02
	}
	if cfg.RotThreshold == 0 {
		cfg.RotThreshold = 0.1
	}
	if cfg.MinSeparation == 0 && cfg.MaxSeparation == 0 {
		cfg.MinSeparation, cfg.MaxSeparation = 0.05, 0.30
	}
	if cfg.Gains == (PDGains{}) {
		cfg.Gains = DefaultPDGains()
	}
	if cfg.CtrlHigh == nil {
		cfg.CtrlHigh = DefaultDualArmCtrlHigh()
	}
	if cfg.MaxServoIters == 0 {
		cfg.MaxServoIters = 100
	}
	if cfg.StepServoIters == 0 {
		cfg.StepServoIters = 5
	}
	if cfg.GoalAirLift == 0 {
		cfg.GoalAirLift = 0.45
	}
	if cfg.SettleSteps == 0 {
		cfg.SettleSteps = 10
	}
	if cfg.Names.RightGraspSite == "" {
		cfg.Names = DefaultDualArmNames()
	}

	if err := cfg.evaluator().Validate(); err != nil {
		return err
	}
	if err := cfg.Gains.Validate(); err != nil {
		return err
	}
	if cfg.MinSeparation <= 0 || cfg.MaxSeparation <= cfg.MinSeparation {
		return fmt.Errorf("separation range [%g, %g] is invalid", cfg.MinSeparation, cfg.MaxSeparation)
	}
	if cfg.TargetInAirP < 0 || cfg.TargetInAirP > 1 {
		return fmt.Errorf("target_in_air_p must be in [0, 1], got %g", cfg.TargetInAirP)
	}
	if cfg.MaxResetAttempts < 0 {
		return fmt.Errorf("max_reset_attempts must be >= 0, got %d", cfg.MaxResetAttempts)
	}
	want := len(cfg.Names.RightJoints) + len(cfg.Names.LeftJoints) + len(cfg.Names.GripperJoints)
	if len(cfg.CtrlHigh) != want {
		return fmt.Errorf("ctrl_high length %d does not match %d actuators", len(cfg.CtrlHigh), want)
	}
	return nil
}

func (cfg *DualArmConfig) evaluator() GoalEvaluator {
	return GoalEvaluator{
		RewardType:     cfg.RewardType,
		PosThreshold:   cfg.DistanceThreshold,
		RotThreshold:   cfg.RotThreshold,
		IgnoreRotation: true,
	}
}

// MapSeparation converts a normalized [-1,1] input to an absolute
// inter-gripper separation in meters.
func (cfg *DualArmConfig) MapSeparation(u float64) float64 {
	u = clamp(u, -1, 1)
	return cfg.MinSeparation + (u+1)/2*(cfg.MaxSeparation-cfg.MinSeparation)
}

// GripperTargets derives both grippers' target poses from a grasp-center pose
// and a separation distance: each target sits half the separation away along
// the center's lateral axis, and the yaws are derived from the vector
// connecting the two targets so the grippers face each other regardless of
// the center's orientation. The approach pitch is not baked in here; the
// servo loop schedules it per iteration from the object's current height.
func GripperTargets(center Pose, separation float64) (right, left Pose) {
	half := RotateVec(center.Quat, r3.Vector{Y: separation / 2})
	rightPos := center.Pos.Sub(half)
	leftPos := center.Pos.Add(half)

	v := leftPos.Sub(rightPos)
	rightYaw := math.Atan2(v.Y, v.X) + math.Pi/2
	leftYaw := math.Atan2(-v.Y, -v.X) + math.Pi/2

	right = NewPose(rightPos, EulerToQuat(r3.Vector{Z: rightYaw}))
	left = NewPose(leftPos, EulerToQuat(r3.Vector{Z: leftYaw}))
	return right, left
}

// approachPitch tilts the grippers toward the table as the object descends.
func approachPitch(heightAboveResting float64) float64 {
	return math.Pi - (0.9 + 2*heightAboveResting)
}

// ServoRequest is one coordinated servo command for both arms.
type ServoRequest struct {
	Right   Pose
	Left    Pose
	Fingers []float64

	MaxIters int
	// SchedulePitch tilts both targets by the approach pitch, recomputed
	// every iteration from the object's height above its resting height.
	SchedulePitch bool
	// CountStableSteps switches the loop to stability counting: instead of
	// converging on pose error, count consecutive iterations where the
	// object has not moved relative to the grasp center and touches no
	// disallowed surface.
	CountStableSteps bool
	ForbiddenContact string
}

// ServoResult reports the outcome of a servo run.
type ServoResult struct {
	Iterations  int
	MaxPosErr   float64
	MaxRotErr   float64
	StableSteps int
	Converged   bool
}

// DualArmController drives both arms toward Cartesian targets with per-arm
// IK and a PD law over joint-space error. Controller state is threaded
// explicitly per arm; the two arms never alias each other's previous error.
type DualArmController struct {
	sim    Simulator
	names  DualArmNames
	gains  PDGains
	ctrl   BoxSpace
	high   []float64
	ikR    IKSolver
	ikL    IKSolver
	logger logging.Logger

	posThreshold  float64
	rotThreshold  float64
	restingHeight float64
}

// NewDualArmController wires a controller to a loaded scene.
func NewDualArmController(sim Simulator, cfg DualArmConfig, logger logging.Logger) *DualArmController {
	c := &DualArmController{
		sim:          sim,
		names:        cfg.Names,
		gains:        cfg.Gains,
		ctrl:         UniformBoxSpace(len(cfg.CtrlHigh), -1, 1),
		high:         append([]float64(nil), cfg.CtrlHigh...),
		ikR:          NewMocapIK(sim, cfg.Names.RightMocap, cfg.Names.RightJoints),
		ikL:          NewMocapIK(sim, cfg.Names.LeftMocap, cfg.Names.LeftJoints),
		logger:       logger,
		posThreshold: cfg.PosThreshold,
		rotThreshold: cfg.RotThreshold,
	}
	if obj, err := sim.BodyPose(cfg.Names.ObjectBody); err == nil {
		c.restingHeight = obj.Pos.Z
	}
	return c
}

// SetIKSolvers overrides the per-arm IK solvers.
func (c *DualArmController) SetIKSolvers(right, left IKSolver) {
	c.ikR, c.ikL = right, left
}

// MoveArms runs the closed-loop servo until both arms converge or the
// iteration budget runs out. Each iteration performs exactly one physics
// step.
func (c *DualArmController) MoveArms(req ServoRequest) (ServoResult, error) {
	if req.MaxIters <= 0 {
		panic("manipenv: servo request needs a positive iteration budget")
	}
	var res ServoResult
	var stateR, stateL ControllerState
	var prevRel r3.Vector
	havePrevRel := false
	dt := c.sim.DT()

	for iter := 0; iter < req.MaxIters; iter++ {
		res.Iterations = iter + 1

		right, left, err := c.effectiveTargets(req)
		if err != nil {
			return res, err
		}
		uR, nextR, err := c.armControl(c.ikR, c.names.RightJoints, right, stateR, dt)
		if err != nil {
			return res, errors.Wrap(err, "right arm")
		}
		uL, nextL, err := c.armControl(c.ikL, c.names.LeftJoints, left, stateL, dt)
		if err != nil {
			return res, errors.Wrap(err, "left arm")
		}
		stateR, stateL = nextR, nextL

		u := append(append(append([]float64(nil), uR...), uL...), c.fingerControl(req.Fingers)...)
		u = c.ctrl.Clip(u)
		floats.MulTo(u, u, c.high)
		if err := c.sim.SetControl(u); err != nil {
			return res, errors.Wrap(err, "failed to set arm control")
		}
		if err := c.sim.Step(1); err != nil {
			return res, errors.Wrap(err, "servo step failed")
		}

		posErr, rotErr, err := c.cartesianError(right, left)
		if err != nil {
			return res, err
		}
		res.MaxPosErr, res.MaxRotErr = posErr, rotErr

		unstable := false
		if req.CountStableSteps {
			rel, err := c.objectRelativeToCenter()
			if err != nil {
				return res, err
			}
			stable := havePrevRel && rel.Sub(prevRel).Norm() < stabilityTolerance
			if stable {
				contactFree, err := c.contactFree(req.ForbiddenContact)
				if err != nil {
					return res, err
				}
				stable = contactFree
			}
			if stable {
				res.StableSteps++
			} else {
				res.StableSteps = 0
				unstable = iter > stabilityGracePeriod
			}
			prevRel, havePrevRel = rel, true
		}
		if unstable {
			break
		}

		// Pose convergence ends the run in both modes.
		if posErr < c.posThreshold && rotErr < c.rotThreshold {
			res.Converged = true
			break
		}
	}
	c.logger.Debugf("servo finished: iters=%d pos_err=%.4f rot_err=%.4f stable=%d",
		res.Iterations, res.MaxPosErr, res.MaxRotErr, res.StableSteps)
	return res, nil
}

func (c *DualArmController) armControl(
	ik IKSolver, joints []string, target Pose, state ControllerState, dt float64,
) ([]float64, ControllerState, error) {
	want, err := ik.Solve(target)
	if err != nil {
		return nil, state, errors.Wrap(err, "ik solve failed")
	}
	cur, err := c.sim.JointPositionsByName(joints)
	if err != nil {
		return nil, state, errors.Wrap(err, "failed to read joints")
	}
	if len(cur) != len(want) {
		return nil, state, errors.Errorf("ik returned %d joints, scene has %d", len(want), len(cur))
	}
	jointErr := make([]float64, len(cur))
	floats.SubTo(jointErr, cur, want)
	u, next := c.gains.Output(jointErr, state, dt)
	return u, next, nil
}

// effectiveTargets resolves the poses the servo iteration tracks. With
// SchedulePitch set, both requests are tilted by the approach pitch for the
// object's current height above resting.
func (c *DualArmController) effectiveTargets(req ServoRequest) (right, left Pose, err error) {
	if !req.SchedulePitch {
		return req.Right, req.Left, nil
	}
	obj, err := c.sim.BodyPose(c.names.ObjectBody)
	if err != nil {
		return Pose{}, Pose{}, errors.Wrap(err, "failed to read object pose")
	}
	tilt := EulerToQuat(r3.Vector{X: approachPitch(obj.Pos.Z - c.restingHeight)})
	right = NewPose(req.Right.Pos, quat.Mul(req.Right.Quat, tilt))
	left = NewPose(req.Left.Pos, quat.Mul(req.Left.Quat, tilt))
	return right, left, nil
}

// fingerControl fills the gripper slots of the control vector. Without an
// explicit command the grippers are driven fully closed.
func (c *DualArmController) fingerControl(fingers []float64) []float64 {
	out := make([]float64, len(c.names.GripperJoints))
	for i := range out {
		out[i] = -1
	}
	copy(out, fingers)
	return out
}

func (c *DualArmController) cartesianError(rightTarget, leftTarget Pose) (posErr, rotErr float64, err error) {
	for _, arm := range []struct {
		site   string
		target Pose
	}{
		{c.names.RightGraspSite, rightTarget},
		{c.names.LeftGraspSite, leftTarget},
	} {
		cur, err := c.sim.SitePose(arm.site)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "failed to read site %q", arm.site)
		}
		posErr = math.Max(posErr, cur.Pos.Sub(arm.target.Pos).Norm())
		rotErr = math.Max(rotErr, AngleBetween(cur.Quat, arm.target.Quat))
	}
	return posErr, rotErr, nil
}

// GraspCenter returns the midpoint pose between the two grasp sites, with the
// right gripper's orientation.
func (c *DualArmController) GraspCenter() (Pose, error) {
	r, err := c.sim.SitePose(c.names.RightGraspSite)
	if err != nil {
		return Pose{}, errors.Wrap(err, "failed to read right grasp site")
	}
	l, err := c.sim.SitePose(c.names.LeftGraspSite)
	if err != nil {
		return Pose{}, errors.Wrap(err, "failed to read left grasp site")
	}
	return NewPose(r.Pos.Add(l.Pos).Mul(0.5), r.Quat), nil
}

// Separation returns the current distance between the two grasp sites.
func (c *DualArmController) Separation() (float64, error) {
	r, err := c.sim.SitePose(c.names.RightGraspSite)
	if err != nil {
		return 0, err
	}
	l, err := c.sim.SitePose(c.names.LeftGraspSite)
	if err != nil {
		return 0, err
	}
	return l.Pos.Sub(r.Pos).Norm(), nil
}

func (c *DualArmController) objectRelativeToCenter() (r3.Vector, error) {
	center, err := c.GraspCenter()
	if err != nil {
		return r3.Vector{}, err
	}
	obj, err := c.sim.BodyPose(c.names.ObjectBody)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, "failed to read object pose")
	}
	return obj.Pos.Sub(center.Pos), nil
}

func (c *DualArmController) contactFree(forbidden string) (bool, error) {
	if forbidden == "" {
		return true, nil
	}
	contacts, err := c.sim.ContactPoints(c.names.ObjectBody, forbidden)
	if err != nil {
		return false, errors.Wrap(err, "failed to query object contacts")
	}
	return len(contacts) == 0, nil
}

// DualArmEnv is the coordinated dual-arm pick-and-place environment. Actions
// command the shared grasp-center frame: a normalized separation, a center
// position delta and, when finger control is enabled, gripper apertures.
type DualArmEnv struct {
	cfg    DualArmConfig
	sim    Simulator
	ctrl   *DualArmController
	logger logging.Logger
	eval   GoalEvaluator

	rng *rand.Rand
	src rand.Source

	schema      ObsSchema
	actionSpace BoxSpace

	initialState  SimState
	restingHeight float64
	tableHeight   float64

	goal []float64
}

// NewDualArmEnv validates the configuration and snapshots the canonical
// initial state.
func NewDualArmEnv(cfg DualArmConfig, sim Simulator, logger logging.Logger) (*DualArmEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid dual-arm config")
	}
	if err := sim.Forward(); err != nil {
		return nil, errors.Wrap(err, "initial forward failed")
	}
	initial, err := sim.SaveState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot canonical initial state")
	}

	actionLen := 4
	if cfg.FingerControl {
		actionLen += len(cfg.Names.GripperJoints)
	}
	src := rand.NewSource(cfg.Seed)
	e := &DualArmEnv{
		cfg:          cfg,
		sim:          sim,
		ctrl:         NewDualArmController(sim, cfg, logger),
		logger:       logger,
		eval:         cfg.evaluator(),
		rng:          rand.New(src),
		src:          src,
		schema:       dualArmSchema(cfg),
		actionSpace:  UniformBoxSpace(actionLen, -1, 1),
		initialState: initial,
	}

	table, err := sim.BodyPose(cfg.Names.TableBody)
	if err != nil {
		return nil, errors.Wrap(err, "scene is missing the table")
	}
	size, err := sim.GeomSize(cfg.Names.TableGeom)
	if err != nil {
		return nil, errors.Wrap(err, "scene is missing the table geom")
	}
	e.tableHeight = table.Pos.Z + size.Z
	obj, err := sim.BodyPose(cfg.Names.ObjectBody)
	if err != nil {
		return nil, errors.Wrap(err, "scene is missing the object")
	}
	e.restingHeight = obj.Pos.Z

	logger.Infof("dual-arm env ready: reward=%s obs_len=%d action_len=%d",
		cfg.RewardType, e.schema.Size(), actionLen)
	return e, nil
}

func dualArmSchema(cfg DualArmConfig) ObsSchema {
	nj := len(cfg.Names.RightJoints) + len(cfg.Names.LeftJoints)
	return NewObsSchema([]ObsSegment{
		{Name: "robot_qpos", Len: nj},
		{Name: "robot_qvel", Len: nj},
		{Name: "grasp_center_pose", Len: 6},
		{Name: "separation", Len: 1},
		{Name: "object_pos", Len: 3},
		{Name: "object_rel_pos", Len: 3},
		{Name: "object_vel", Len: 6},
	})
}

// ActionSpace returns the declared action bounds.
func (e *DualArmEnv) ActionSpace() BoxSpace { return e.actionSpace }

// ObservationSchema returns the fixed observation layout.
func (e *DualArmEnv) ObservationSchema() ObsSchema { return e.schema }

// Controller exposes the underlying coordinated controller, e.g. for
// scripted grasp-stability probes.
func (e *DualArmEnv) Controller() *DualArmController { return e.ctrl }

// Goal returns a copy of the current desired goal.
func (e *DualArmEnv) Goal() []float64 {
	return append([]float64(nil), e.goal...)
}

// ComputeReward scores an arbitrary (achieved, desired) pair.
func (e *DualArmEnv) ComputeReward(achieved, desired []float64) float64 {
	return e.eval.Reward(achieved, desired)
}

// Reset starts a new episode with a freshly placed object and goal.
func (e *DualArmEnv) Reset() (Observation, error) {
	names := e.cfg.Names
	for attempt := 1; ; attempt++ {
		if e.cfg.MaxResetAttempts > 0 && attempt > e.cfg.MaxResetAttempts {
			return Observation{}, errors.Wrapf(ErrSamplingExhausted, "after %d attempts", e.cfg.MaxResetAttempts)
		}
		if err := e.sim.RestoreState(e.initialState); err != nil {
			return Observation{}, errors.Wrap(err, "failed to restore initial state")
		}
		x, y := e.cfg.TableSafeBounds.SampleXY(e.src)
		x += e.uniform(-objectPlacementJitter, objectPlacementJitter)
		y += e.uniform(-objectPlacementJitter, objectPlacementJitter)
		pose := NewPose(r3.Vector{X: x, Y: y, Z: e.restingHeight}, IdentityQuat())
		if err := e.sim.SetJointQPos(names.ObjectJoint, pose.Slice()); err != nil {
			return Observation{}, errors.Wrap(err, "failed to place object")
		}
		if err := e.sim.SetJointQVel(names.ObjectJoint, make([]float64, 6)); err != nil {
			return Observation{}, errors.Wrap(err, "failed to still object")
		}
		if err := e.sim.Step(e.cfg.SettleSteps); err != nil {
			return Observation{}, errors.Wrap(err, "settle step failed")
		}
		ok, err := e.objectSettled()
		if err != nil {
			return Observation{}, err
		}
		if ok {
			break
		}
		e.logger.Debugf("dual-arm reset attempt %d rejected", attempt)
	}

	x, y := e.cfg.TableSafeBounds.SampleXY(e.src)
	z := e.restingHeight
	if e.rng.Float64() < e.cfg.TargetInAirP {
		z += e.uniform(0, e.cfg.GoalAirLift)
	}
	e.goal = []float64{x, y, z}
	return e.observe()
}

func (e *DualArmEnv) objectSettled() (bool, error) {
	qvel, err := e.sim.JointQVel(e.cfg.Names.ObjectJoint)
	if err != nil {
		return false, errors.Wrap(err, "failed to read object velocity")
	}
	if floats.Norm(qvel, 2) >= objectStillnessThreshold {
		return false, nil
	}
	obj, err := e.sim.BodyPose(e.cfg.Names.ObjectBody)
	if err != nil {
		return false, errors.Wrap(err, "failed to read object pose")
	}
	if !e.cfg.TableSafeBounds.ContainsXY(obj.Pos) {
		return false, nil
	}
	return obj.Pos.Z > e.restingHeight-objectDropTolerance, nil
}

// Step decodes one grasp-center action, servos both arms for a bounded
// number of iterations and scores the transition. done is always false.
func (e *DualArmEnv) Step(action []float64) (Observation, float64, bool, StepInfo, error) {
	if len(action) != e.actionSpace.Size() {
		panic(fmt.Sprintf("manipenv: action length %d does not match action space size %d",
			len(action), e.actionSpace.Size()))
	}
	a := e.actionSpace.Clip(action)
	separation := e.cfg.MapSeparation(a[0])
	delta := r3.Vector{X: a[1], Y: a[2], Z: a[3]}.Mul(centerDeltaScale)

	center, err := e.ctrl.GraspCenter()
	if err != nil {
		return Observation{}, 0, false, StepInfo{}, err
	}
	center.Pos = e.cfg.CenterBounds.Clamp(center.Pos.Add(delta))

	right, left := GripperTargets(center, separation)
	req := ServoRequest{Right: right, Left: left, MaxIters: e.cfg.StepServoIters, SchedulePitch: true}
	if e.cfg.FingerControl {
		req.Fingers = a[4:]
	}
	if _, err := e.ctrl.MoveArms(req); err != nil {
		return Observation{}, 0, false, StepInfo{}, err
	}

	obs, err := e.observe()
	if err != nil {
		return Observation{}, 0, false, StepInfo{}, err
	}
	reward := e.eval.Reward(obs.AchievedGoal, obs.DesiredGoal)
	info := StepInfo{IsSuccess: e.eval.IsSuccess(obs.AchievedGoal, obs.DesiredGoal)}
	return obs, reward, false, info, nil
}

func (e *DualArmEnv) observe() (Observation, error) {
	names := e.cfg.Names
	joints := append(append([]string(nil), names.RightJoints...), names.LeftJoints...)
	qpos, err := e.sim.JointPositionsByName(joints)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read arm joints")
	}
	qvel, err := e.sim.JointVelocitiesByName(joints)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read arm joint velocities")
	}
	center, err := e.ctrl.GraspCenter()
	if err != nil {
		return Observation{}, err
	}
	sep, err := e.ctrl.Separation()
	if err != nil {
		return Observation{}, err
	}
	obj, err := e.sim.BodyPose(names.ObjectBody)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read object pose")
	}
	objVel, err := e.sim.JointQVel(names.ObjectJoint)
	if err != nil {
		return Observation{}, errors.Wrap(err, "failed to read object velocity")
	}

	rel := obj.Pos.Sub(center.Pos)
	b := e.schema.NewBuilder()
	b.Set("robot_qpos", qpos)
	b.Set("robot_qvel", qvel)
	b.Set("grasp_center_pose", center.SliceEuler())
	b.Set("separation", []float64{sep})
	b.Set("object_pos", []float64{obj.Pos.X, obj.Pos.Y, obj.Pos.Z})
	b.Set("object_rel_pos", []float64{rel.X, rel.Y, rel.Z})
	b.Set("object_vel", objVel)

	return Observation{
		Observation:  b.Vector(),
		AchievedGoal: []float64{obj.Pos.X, obj.Pos.Y, obj.Pos.Z},
		DesiredGoal:  append([]float64(nil), e.goal...),
	}, nil
}

func (e *DualArmEnv) uniform(min, max float64) float64 {
	return distuv.Uniform{Min: min, Max: max, Src: e.src}.Rand()
}
