package manipenv

import (
	"fmt"

	"github.com/golang/geo/r3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Bounds is an axis-aligned box used for workspace safety regions.
type Bounds struct {
	Min r3.Vector `json:"min"`
	Max r3.Vector `json:"max"`
}

// Contains reports whether v lies inside the box (bounds inclusive).
func (b Bounds) Contains(v r3.Vector) bool {
	return b.ContainsXY(v) && b.Min.Z <= v.Z && v.Z <= b.Max.Z
}

// ContainsXY checks only the planar components.
func (b Bounds) ContainsXY(v r3.Vector) bool {
	return b.Min.X <= v.X && v.X <= b.Max.X && b.Min.Y <= v.Y && v.Y <= b.Max.Y
}

// Clamp projects v into the box.
func (b Bounds) Clamp(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: clamp(v.X, b.Min.X, b.Max.X),
		Y: clamp(v.Y, b.Min.Y, b.Max.Y),
		Z: clamp(v.Z, b.Min.Z, b.Max.Z),
	}
}

// SampleXY draws a uniform planar point inside the box.
func (b Bounds) SampleXY(src rand.Source) (x, y float64) {
	x = distuv.Uniform{Min: b.Min.X, Max: b.Max.X, Src: src}.Rand()
	y = distuv.Uniform{Min: b.Min.Y, Max: b.Max.Y, Src: src}.Rand()
	return x, y
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SceneNames fixes the entity-naming conventions the scene template must
// satisfy. The environments only require that these named bodies, sites and
// joints exist in the loaded scene.
type SceneNames struct {
	ObjectBody       string   `json:"object_body"`
	ObjectJoint      string   `json:"object_joint"`
	ObjectCenterSite string   `json:"object_center_site"`
	ObjectGeom       string   `json:"object_geom"`
	TargetJoint      string   `json:"target_joint"`
	PalmSite         string   `json:"palm_site"`
	GraspCenterSite  string   `json:"grasp_center_site"`
	ForearmBody      string   `json:"forearm_body"`
	ArmMocap         string   `json:"arm_mocap"`
	TableBody        string   `json:"table_body"`
	TableGeom        string   `json:"table_geom"`
	RobotJoints      []string `json:"robot_joints"`
	FingerJoints     []string `json:"finger_joints"`
}

// DefaultSceneNames matches the stock single-effector scene template.
func DefaultSceneNames() SceneNames {
	fingers := []string{
		"robot0:FFJ1", "robot0:MFJ1", "robot0:RFJ1", "robot0:LFJ1", "robot0:THJ1",
	}
	robot := append([]string{
		"robot0:ARM_Tx", "robot0:ARM_Ty", "robot0:ARM_Tz", "robot0:ARM_Rx",
	}, fingers...)
	return SceneNames{
		ObjectBody:       "object",
		ObjectJoint:      "object:joint",
		ObjectCenterSite: "object:center",
		ObjectGeom:       "object_geom",
		TargetJoint:      "target:joint",
		PalmSite:         "robot0:palm_center",
		GraspCenterSite:  "robot0:grasp_center",
		ForearmBody:      "robot0:forearm",
		ArmMocap:         "robot0:mocap",
		TableBody:        "table0",
		TableGeom:        "table0_geom",
		RobotJoints:      robot,
		FingerJoints:     fingers,
	}
}

// TaskConfig is the immutable per-episode-constant bundle for the
// single-effector task core. Build one with DefaultTaskConfig and override
// fields; the environment constructor runs Validate exactly once.
type TaskConfig struct {
	HasObject bool   `json:"has_object"`
	ObjectID  string `json:"object_id"`

	RewardType           RewardType `json:"reward_type"`
	DistanceThreshold    float64    `json:"distance_threshold"`
	RotationThreshold    float64    `json:"rotation_threshold"`
	IgnoreTargetRotation bool       `json:"ignore_target_rotation"`
	IgnoreRotationCtrl   bool       `json:"ignore_rotation_ctrl"`
	SuccessOnGraspOnly   bool       `json:"success_on_grasp_only"`
	RelativeControl      bool       `json:"relative_control"`

	RandomizeInitialArmPos bool `json:"randomize_initial_arm_pos"`
	// When set, the object is re-seeded under the effector with a small
	// jitter instead of being sampled across the table.
	FixedInitialObjectPos bool    `json:"fixed_initial_object_pos"`
	TargetInAirP          float64 `json:"target_in_air_p"`

	GraspSnapshotPath   string   `json:"grasp_snapshot_path,omitempty"`
	GraspSnapshot       SimState `json:"-"`
	GraspSnapshotResetP float64  `json:"grasp_snapshot_reset_p"`

	// MaxResetAttempts caps reset rejection sampling. Zero keeps the loop
	// unbounded, which is the reference behavior.
	MaxResetAttempts int `json:"max_reset_attempts"`

	Substeps    int    `json:"substeps"`
	SettleSteps int    `json:"settle_steps"`
	Seed        uint64 `json:"seed"`

	ForearmBounds         Bounds  `json:"forearm_bounds"`
	TableSafeBounds       Bounds  `json:"table_safe_bounds"`
	InitialArmPose        Pose    `json:"-"`
	ArmRandomizationRange float64 `json:"arm_randomization_range"`
	GoalAirLift           float64 `json:"goal_air_lift"`

	Scene SceneConfig `json:"scene"`
	Names SceneNames  `json:"names"`
}

// DefaultTaskConfig returns the stock pick-and-place configuration.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		HasObject:             true,
		ObjectID:              "original",
		RewardType:            RewardSparse,
		DistanceThreshold:     0.05,
		RotationThreshold:     0.1,
		IgnoreTargetRotation:  true,
		IgnoreRotationCtrl:    true,
		TargetInAirP:          0.5,
		Substeps:              20,
		SettleSteps:           10,
		ForearmBounds:         Bounds{Min: r3.Vector{X: 0.65, Y: 0.3, Z: 0.42}, Max: r3.Vector{X: 1.75, Y: 1.2, Z: 1.0}},
		TableSafeBounds:       Bounds{Min: r3.Vector{X: 1.10, Y: 0.43}, Max: r3.Vector{X: 1.49, Y: 1.05}},
		InitialArmPose:        NewPose(r3.Vector{X: 1.05, Y: 0.75, Z: 0.65}, EulerToQuat(r3.Vector{X: 0, Y: 1.59, Z: 1.57})),
		ArmRandomizationRange: 0.2,
		GoalAirLift:           0.45,
		Scene:                 DefaultSceneConfig(),
		Names:                 DefaultSceneNames(),
	}
}

// Validate fills structural defaults and rejects invalid flag combinations.
// All configuration errors surface here, once, at construction time.
func (cfg *TaskConfig) Validate() error {
	if cfg.RewardType == "" {
		cfg.RewardType = RewardSparse
	}
	if cfg.DistanceThreshold == 0 {
		cfg.DistanceThreshold = 0.05
	}
	if cfg.RotationThreshold == 0 {
		cfg.RotationThreshold = 0.1
	}
	if cfg.Substeps == 0 {
		cfg.Substeps = 20
	}
	if cfg.SettleSteps == 0 {
		cfg.SettleSteps = 10
	}
	if cfg.ArmRandomizationRange == 0 {
		cfg.ArmRandomizationRange = 0.2
	}
	if cfg.GoalAirLift == 0 {
		cfg.GoalAirLift = 0.45
	}
	if cfg.Names.PalmSite == "" {
		cfg.Names = DefaultSceneNames()
	}
	if (cfg.InitialArmPose == Pose{}) {
		cfg.InitialArmPose = DefaultTaskConfig().InitialArmPose
	}

	if err := cfg.evaluator().Validate(); err != nil {
		return err
	}
	if cfg.TargetInAirP < 0 || cfg.TargetInAirP > 1 {
		return fmt.Errorf("target_in_air_p must be in [0, 1], got %g", cfg.TargetInAirP)
	}
	if cfg.IgnoreRotationCtrl && !cfg.IgnoreTargetRotation {
		return fmt.Errorf("target rotation must be ignored if the arm cannot rotate: set ignore_target_rotation")
	}
	if cfg.SuccessOnGraspOnly {
		if cfg.RewardType != RewardSparse {
			return fmt.Errorf("success_on_grasp_only requires sparse rewards")
		}
		if !cfg.HasObject {
			return fmt.Errorf("success_on_grasp_only requires an object to be grasped")
		}
	}
	if cfg.HasObject {
		if cfg.ObjectID == "" {
			cfg.ObjectID = "original"
		}
		if _, ok := ObjectCatalog[cfg.ObjectID]; !ok {
			return fmt.Errorf("unknown object id %q", cfg.ObjectID)
		}
	}
	if (cfg.GraspSnapshot != nil || cfg.GraspSnapshotPath != "") && cfg.GraspSnapshotResetP <= 0 {
		return fmt.Errorf("grasp_snapshot_reset_p must be greater than zero if a grasp snapshot is specified")
	}
	if cfg.GraspSnapshotResetP < 0 || cfg.GraspSnapshotResetP > 1 {
		return fmt.Errorf("grasp_snapshot_reset_p must be in [0, 1], got %g", cfg.GraspSnapshotResetP)
	}
	if cfg.MaxResetAttempts < 0 {
		return fmt.Errorf("max_reset_attempts must be >= 0, got %d", cfg.MaxResetAttempts)
	}
	return nil
}

func (cfg *TaskConfig) evaluator() GoalEvaluator {
	return GoalEvaluator{
		RewardType:     cfg.RewardType,
		PosThreshold:   cfg.DistanceThreshold,
		RotThreshold:   cfg.RotationThreshold,
		IgnoreRotation: cfg.IgnoreTargetRotation,
	}
}

// GoalSize returns the fixed goal-vector length implied by the flags.
func (cfg *TaskConfig) GoalSize() int {
	if cfg.SuccessOnGraspOnly {
		return 8
	}
	return 7
}
