package manipenv

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// FakeSim is an in-memory Simulator with purely kinematic semantics: bodies
// attached to a mocap track it exactly, free joints are authoritative for
// their bodies, and velocities decay geometrically each step. There is no
// gravity and no collision response, which keeps resets and servo loops fully
// deterministic in tests.
type FakeSim struct {
	dt float64

	bodies map[string]*fakeBody
	sites  map[string]*fakeSite
	joints map[string]*fakeJoint
	mocaps map[string]Pose
	geoms  map[string]fakeGeom

	attachments  map[string]mocapAttachment
	freeJoints   map[string]string
	jointDrivers map[string]func(s *FakeSim) float64
	contacts     map[string][]Contact

	ctrl []float64

	// StepHook runs after every Step call, letting tests perturb state
	// mid-episode (e.g. to knock a freshly placed object off the table).
	StepHook func(s *FakeSim, n int)
}

type fakeBody struct {
	Pose Pose
}

type fakeSite struct {
	Body   string
	Offset Pose
	LinVel r3.Vector
	AngVel r3.Vector
}

type fakeJoint struct {
	QPos []float64
	QVel []float64
}

type fakeGeom struct {
	Type string
	Size r3.Vector
}

type mocapAttachment struct {
	Mocap  string
	Offset Pose
}

// NewFakeSim returns an empty scene with a 2ms timestep.
func NewFakeSim() *FakeSim {
	return &FakeSim{
		dt:           0.002,
		bodies:       make(map[string]*fakeBody),
		sites:        make(map[string]*fakeSite),
		joints:       make(map[string]*fakeJoint),
		mocaps:       make(map[string]Pose),
		geoms:        make(map[string]fakeGeom),
		attachments:  make(map[string]mocapAttachment),
		freeJoints:   make(map[string]string),
		jointDrivers: make(map[string]func(s *FakeSim) float64),
		contacts:     make(map[string][]Contact),
	}
}

// AddBody declares a rigid body at an initial pose.
func (s *FakeSim) AddBody(name string, p Pose) {
	s.bodies[name] = &fakeBody{Pose: p}
}

// AddSite declares a site rigidly offset from a body.
func (s *FakeSim) AddSite(name, body string, offset Pose) {
	s.sites[name] = &fakeSite{Body: body, Offset: offset}
}

// AddJoint declares a scalar or multi-dof joint.
func (s *FakeSim) AddJoint(name string, qpos, qvel []float64) {
	s.joints[name] = &fakeJoint{QPos: append([]float64(nil), qpos...), QVel: append([]float64(nil), qvel...)}
}

// AddFreeJoint declares a 7-dof free joint that is authoritative for the
// given body's pose.
func (s *FakeSim) AddFreeJoint(name, body string, p Pose) {
	s.joints[name] = &fakeJoint{QPos: p.Slice(), QVel: make([]float64, 6)}
	s.freeJoints[name] = body
	if _, ok := s.bodies[body]; !ok {
		s.AddBody(body, p)
	}
}

// AddMocap declares a kinematically driven mocap body.
func (s *FakeSim) AddMocap(name string, p Pose) {
	s.mocaps[name] = p
}

// AddGeom declares a named geom with a type and size.
func (s *FakeSim) AddGeom(name, typ string, size r3.Vector) {
	s.geoms[name] = fakeGeom{Type: typ, Size: size}
}

// AttachBodyToMocap pins a body to a mocap with a fixed offset, the fake
// stand-in for a weld constraint.
func (s *FakeSim) AttachBodyToMocap(body, mocap string, offset Pose) {
	s.attachments[body] = mocapAttachment{Mocap: mocap, Offset: offset}
}

// DriveJoint derives a scalar joint's position from scene state on every
// Forward, mimicking an actuated joint tracking the mocap.
func (s *FakeSim) DriveJoint(name string, driver func(s *FakeSim) float64) {
	if _, ok := s.joints[name]; !ok {
		s.AddJoint(name, []float64{0}, []float64{0})
	}
	s.jointDrivers[name] = driver
}

// SetContacts replaces the recorded contact set for a body.
func (s *FakeSim) SetContacts(body string, contacts []Contact) {
	s.contacts[body] = append([]Contact(nil), contacts...)
}

// SetBodyPose moves a body directly, updating its free joint if it has one.
func (s *FakeSim) SetBodyPose(name string, p Pose) error {
	b, ok := s.bodies[name]
	if !ok {
		return errors.Errorf("unknown body %q", name)
	}
	b.Pose = p
	for joint, body := range s.freeJoints {
		if body == name {
			s.joints[joint].QPos = p.Slice()
		}
	}
	return nil
}

// SetSiteVel overrides a site's reported velocities.
func (s *FakeSim) SetSiteVel(name string, lin, ang r3.Vector) error {
	site, ok := s.sites[name]
	if !ok {
		return errors.Errorf("unknown site %q", name)
	}
	site.LinVel = lin
	site.AngVel = ang
	return nil
}

// LastControl returns the most recent control vector.
func (s *FakeSim) LastControl() []float64 {
	return append([]float64(nil), s.ctrl...)
}

func (s *FakeSim) BodyPose(name string) (Pose, error) {
	b, ok := s.bodies[name]
	if !ok {
		return Pose{}, errors.Errorf("unknown body %q", name)
	}
	return b.Pose, nil
}

func (s *FakeSim) SitePose(name string) (Pose, error) {
	site, ok := s.sites[name]
	if !ok {
		return Pose{}, errors.Errorf("unknown site %q", name)
	}
	body, ok := s.bodies[site.Body]
	if !ok {
		return Pose{}, errors.Errorf("site %q references unknown body %q", name, site.Body)
	}
	return Compose(site.Offset, body.Pose), nil
}

func (s *FakeSim) SiteLinVel(name string) (r3.Vector, error) {
	site, ok := s.sites[name]
	if !ok {
		return r3.Vector{}, errors.Errorf("unknown site %q", name)
	}
	return site.LinVel, nil
}

func (s *FakeSim) SiteAngVel(name string) (r3.Vector, error) {
	site, ok := s.sites[name]
	if !ok {
		return r3.Vector{}, errors.Errorf("unknown site %q", name)
	}
	return site.AngVel, nil
}

func (s *FakeSim) JointQPos(name string) ([]float64, error) {
	j, ok := s.joints[name]
	if !ok {
		return nil, errors.Errorf("unknown joint %q", name)
	}
	return append([]float64(nil), j.QPos...), nil
}

func (s *FakeSim) SetJointQPos(name string, qpos []float64) error {
	j, ok := s.joints[name]
	if !ok {
		return errors.Errorf("unknown joint %q", name)
	}
	if len(qpos) != len(j.QPos) {
		return errors.Errorf("joint %q expects %d position values, got %d", name, len(j.QPos), len(qpos))
	}
	j.QPos = append([]float64(nil), qpos...)
	if body, ok := s.freeJoints[name]; ok {
		s.bodies[body].Pose = PoseFromSlice(j.QPos)
	}
	return nil
}

func (s *FakeSim) JointQVel(name string) ([]float64, error) {
	j, ok := s.joints[name]
	if !ok {
		return nil, errors.Errorf("unknown joint %q", name)
	}
	return append([]float64(nil), j.QVel...), nil
}

func (s *FakeSim) SetJointQVel(name string, qvel []float64) error {
	j, ok := s.joints[name]
	if !ok {
		return errors.Errorf("unknown joint %q", name)
	}
	if len(qvel) != len(j.QVel) {
		return errors.Errorf("joint %q expects %d velocity values, got %d", name, len(j.QVel), len(qvel))
	}
	j.QVel = append([]float64(nil), qvel...)
	return nil
}

func (s *FakeSim) JointPositionsByName(names []string) ([]float64, error) {
	out := make([]float64, 0, len(names))
	for _, name := range names {
		j, ok := s.joints[name]
		if !ok {
			return nil, errors.Errorf("unknown joint %q", name)
		}
		out = append(out, j.QPos...)
	}
	return out, nil
}

func (s *FakeSim) JointVelocitiesByName(names []string) ([]float64, error) {
	out := make([]float64, 0, len(names))
	for _, name := range names {
		j, ok := s.joints[name]
		if !ok {
			return nil, errors.Errorf("unknown joint %q", name)
		}
		out = append(out, j.QVel...)
	}
	return out, nil
}

func (s *FakeSim) SetControl(u []float64) error {
	s.ctrl = append([]float64(nil), u...)
	return nil
}

func (s *FakeSim) MocapPose(name string) (Pose, error) {
	p, ok := s.mocaps[name]
	if !ok {
		return Pose{}, errors.Errorf("unknown mocap %q", name)
	}
	return p, nil
}

func (s *FakeSim) SetMocapPose(name string, p Pose) error {
	if _, ok := s.mocaps[name]; !ok {
		return errors.Errorf("unknown mocap %q", name)
	}
	s.mocaps[name] = p
	return nil
}

// Step advances the scene n timesteps: free joints integrate their linear
// velocity and damp, mocap attachments propagate, joint drivers run.
func (s *FakeSim) Step(n int) error {
	for i := 0; i < n; i++ {
		for joint, body := range s.freeJoints {
			j := s.joints[joint]
			j.QPos[0] += j.QVel[0] * s.dt
			j.QPos[1] += j.QVel[1] * s.dt
			j.QPos[2] += j.QVel[2] * s.dt
			for k := range j.QVel {
				j.QVel[k] *= 0.9
			}
			s.bodies[body].Pose = PoseFromSlice(j.QPos)
		}
		if err := s.Forward(); err != nil {
			return err
		}
	}
	if s.StepHook != nil {
		s.StepHook(s, n)
	}
	return nil
}

// Forward propagates kinematic state without advancing time.
func (s *FakeSim) Forward() error {
	for body, att := range s.attachments {
		mocap, ok := s.mocaps[att.Mocap]
		if !ok {
			return errors.Errorf("attachment of %q references unknown mocap %q", body, att.Mocap)
		}
		b, ok := s.bodies[body]
		if !ok {
			return errors.Errorf("attachment references unknown body %q", body)
		}
		b.Pose = Compose(att.Offset, mocap)
	}
	for joint, body := range s.freeJoints {
		s.bodies[body].Pose = PoseFromSlice(s.joints[joint].QPos)
	}
	for name, driver := range s.jointDrivers {
		s.joints[name].QPos[0] = driver(s)
	}
	return nil
}

func (s *FakeSim) DT() float64 { return s.dt }

type fakeSimSnapshot struct {
	Bodies   map[string]Pose
	Sites    map[string]fakeSiteSnapshot
	Joints   map[string]fakeJoint
	Mocaps   map[string]Pose
	Contacts map[string][]Contact
	Ctrl     []float64
}

type fakeSiteSnapshot struct {
	LinVel r3.Vector
	AngVel r3.Vector
}

// SaveState serializes the mutable scene state. Scene structure (sites,
// attachments, drivers, geoms) is construction-time and not part of the
// snapshot.
func (s *FakeSim) SaveState() (SimState, error) {
	snap := fakeSimSnapshot{
		Bodies:   make(map[string]Pose, len(s.bodies)),
		Sites:    make(map[string]fakeSiteSnapshot, len(s.sites)),
		Joints:   make(map[string]fakeJoint, len(s.joints)),
		Mocaps:   make(map[string]Pose, len(s.mocaps)),
		Contacts: make(map[string][]Contact, len(s.contacts)),
		Ctrl:     append([]float64(nil), s.ctrl...),
	}
	for name, b := range s.bodies {
		snap.Bodies[name] = b.Pose
	}
	for name, site := range s.sites {
		snap.Sites[name] = fakeSiteSnapshot{LinVel: site.LinVel, AngVel: site.AngVel}
	}
	for name, j := range s.joints {
		snap.Joints[name] = fakeJoint{
			QPos: append([]float64(nil), j.QPos...),
			QVel: append([]float64(nil), j.QVel...),
		}
	}
	for name, p := range s.mocaps {
		snap.Mocaps[name] = p
	}
	for name, cs := range s.contacts {
		snap.Contacts[name] = append([]Contact(nil), cs...)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, errors.Wrap(err, "failed to encode simulator state")
	}
	return SimState(buf.Bytes()), nil
}

// RestoreState replaces the mutable scene state with a saved snapshot. The
// snapshot must come from a scene with the same structure.
func (s *FakeSim) RestoreState(state SimState) error {
	var snap fakeSimSnapshot
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&snap); err != nil {
		return errors.Wrap(err, "failed to decode simulator state")
	}
	for name, p := range snap.Bodies {
		b, ok := s.bodies[name]
		if !ok {
			return errors.Errorf("snapshot references unknown body %q", name)
		}
		b.Pose = p
	}
	for name, ss := range snap.Sites {
		site, ok := s.sites[name]
		if !ok {
			return errors.Errorf("snapshot references unknown site %q", name)
		}
		site.LinVel = ss.LinVel
		site.AngVel = ss.AngVel
	}
	for name, j := range snap.Joints {
		cur, ok := s.joints[name]
		if !ok {
			return errors.Errorf("snapshot references unknown joint %q", name)
		}
		cur.QPos = append([]float64(nil), j.QPos...)
		cur.QVel = append([]float64(nil), j.QVel...)
	}
	for name, p := range snap.Mocaps {
		if _, ok := s.mocaps[name]; !ok {
			return errors.Errorf("snapshot references unknown mocap %q", name)
		}
		s.mocaps[name] = p
	}
	s.contacts = make(map[string][]Contact, len(snap.Contacts))
	for name, cs := range snap.Contacts {
		s.contacts[name] = append([]Contact(nil), cs...)
	}
	s.ctrl = append([]float64(nil), snap.Ctrl...)
	return s.Forward()
}

func (s *FakeSim) ContactPoints(body, other string) ([]Contact, error) {
	if _, ok := s.bodies[body]; !ok {
		return nil, errors.Errorf("unknown body %q", body)
	}
	var out []Contact
	for _, c := range s.contacts[body] {
		if other == "" || c.Body2 == other {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FakeSim) GeomType(name string) (string, error) {
	g, ok := s.geoms[name]
	if !ok {
		return "", errors.Errorf("unknown geom %q", name)
	}
	return g.Type, nil
}

func (s *FakeSim) GeomSize(name string) (r3.Vector, error) {
	g, ok := s.geoms[name]
	if !ok {
		return r3.Vector{}, errors.Errorf("unknown geom %q", name)
	}
	return g.Size, nil
}

// NewSingleEffectorFakeSim builds the stock single-effector scene: a table,
// a mocap-driven effector with palm and grasp sites, the named robot joints
// with the translation joints slaved to the mocap, and optionally the object
// and target.
func NewSingleEffectorFakeSim(cfg TaskConfig) *FakeSim {
	s := NewFakeSim()
	names := cfg.Names

	s.AddBody(names.TableBody, NewPose(r3.Vector{X: 1.3, Y: 0.75, Z: 0.2}, IdentityQuat()))
	s.AddGeom(names.TableGeom, "box", r3.Vector{X: 0.625, Y: 0.45, Z: 0.2})

	armPose := cfg.InitialArmPose
	s.AddMocap(names.ArmMocap, armPose)
	s.AddBody(names.ForearmBody, armPose)
	s.AttachBodyToMocap(names.ForearmBody, names.ArmMocap, IdentityPose())
	s.AddSite(names.PalmSite, names.ForearmBody, NewPose(r3.Vector{Z: -0.05}, IdentityQuat()))
	s.AddSite(names.GraspCenterSite, names.ForearmBody, NewPose(r3.Vector{Z: -0.08}, IdentityQuat()))

	for _, j := range names.RobotJoints {
		s.AddJoint(j, []float64{0}, []float64{0})
	}
	if len(names.RobotJoints) >= 3 {
		tx, ty, tz := names.RobotJoints[0], names.RobotJoints[1], names.RobotJoints[2]
		s.DriveJoint(tx, func(s *FakeSim) float64 { return s.mocaps[names.ArmMocap].Pos.X })
		s.DriveJoint(ty, func(s *FakeSim) float64 { return s.mocaps[names.ArmMocap].Pos.Y })
		s.DriveJoint(tz, func(s *FakeSim) float64 { return s.mocaps[names.ArmMocap].Pos.Z })
	}

	if cfg.HasObject {
		objPose := NewPose(r3.Vector{X: 1.3, Y: 0.75, Z: 0.45}, IdentityQuat())
		s.AddFreeJoint(names.ObjectJoint, names.ObjectBody, objPose)
		s.AddSite(names.ObjectCenterSite, names.ObjectBody, IdentityPose())
		spec := ObjectCatalog[cfg.ObjectID]
		s.AddGeom(names.ObjectGeom, spec.Type, spec.Size)
	}
	s.AddFreeJoint(names.TargetJoint, "target", NewPose(r3.Vector{X: 1.3, Y: 0.75, Z: 0.5}, IdentityQuat()))

	if err := s.Forward(); err != nil {
		panic(err)
	}
	return s
}

// NewDualArmFakeSim builds the stock dual-arm scene: a table, an object, and
// two mocap-driven grippers with their grasp sites and named arm joints.
func NewDualArmFakeSim(cfg DualArmConfig) *FakeSim {
	s := NewFakeSim()
	names := cfg.Names

	s.AddBody(names.TableBody, NewPose(r3.Vector{Z: 0.2}, IdentityQuat()))
	s.AddGeom(names.TableGeom, "box", r3.Vector{X: 0.6, Y: 0.8, Z: 0.2})

	arms := []struct {
		mocap  string
		body   string
		site   string
		joints []string
		pose   Pose
	}{
		{names.RightMocap, "gripper_r_base", names.RightGraspSite, names.RightJoints,
			NewPose(r3.Vector{Y: -0.15, Z: 0.6}, IdentityQuat())},
		{names.LeftMocap, "gripper_l_base", names.LeftGraspSite, names.LeftJoints,
			NewPose(r3.Vector{Y: 0.15, Z: 0.6}, IdentityQuat())},
	}
	for _, arm := range arms {
		mocap := arm.mocap
		s.AddMocap(mocap, arm.pose)
		s.AddBody(arm.body, arm.pose)
		s.AttachBodyToMocap(arm.body, mocap, IdentityPose())
		s.AddSite(arm.site, arm.body, IdentityPose())
		for i, j := range arm.joints {
			s.AddJoint(j, []float64{0}, []float64{0})
			switch i {
			case 0:
				s.DriveJoint(j, func(s *FakeSim) float64 { return s.mocaps[mocap].Pos.X })
			case 1:
				s.DriveJoint(j, func(s *FakeSim) float64 { return s.mocaps[mocap].Pos.Y })
			case 2:
				s.DriveJoint(j, func(s *FakeSim) float64 { return s.mocaps[mocap].Pos.Z })
			}
		}
	}
	for _, j := range names.GripperJoints {
		s.AddJoint(j, []float64{0}, []float64{0})
	}

	s.AddFreeJoint(names.ObjectJoint, names.ObjectBody, NewPose(r3.Vector{Z: 0.45}, IdentityQuat()))

	if err := s.Forward(); err != nil {
		panic(err)
	}
	return s
}
