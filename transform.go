package manipenv

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a position and a scalar-first unit quaternion.
// The quaternion is renormalized after every arithmetic combination so the
// unit-magnitude invariant holds for all values produced by this package.
type Pose struct {
	Pos  r3.Vector
	Quat quat.Number
}

// IdentityQuat is the no-rotation quaternion (1, 0, 0, 0).
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// IdentityPose returns the zero transform.
func IdentityPose() Pose {
	return Pose{Quat: IdentityQuat()}
}

// NewPose builds a pose from a point and quaternion, normalizing the
// quaternion.
func NewPose(pos r3.Vector, q quat.Number) Pose {
	return Pose{Pos: pos, Quat: normalizeQuat(q)}
}

func normalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return IdentityQuat()
	}
	return quat.Scale(1.0/n, q)
}

// PoseFromSlice decodes a pose from its surface representations: a 3-vector
// (position only, identity rotation), a 6-vector (position + Euler angles) or
// a 7-vector (position + scalar-first quaternion). Any other length is a
// programming error and panics.
func PoseFromSlice(v []float64) Pose {
	switch len(v) {
	case 3:
		return Pose{Pos: r3.Vector{X: v[0], Y: v[1], Z: v[2]}, Quat: IdentityQuat()}
	case 6:
		return Pose{
			Pos:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
			Quat: EulerToQuat(r3.Vector{X: v[3], Y: v[4], Z: v[5]}),
		}
	case 7:
		return NewPose(
			r3.Vector{X: v[0], Y: v[1], Z: v[2]},
			quat.Number{Real: v[3], Imag: v[4], Jmag: v[5], Kmag: v[6]},
		)
	default:
		panic(fmt.Sprintf("manipenv: pose slice must have length 3, 6 or 7, got %d", len(v)))
	}
}

// Slice encodes the pose as a 7-vector (position + scalar-first quaternion).
func (p Pose) Slice() []float64 {
	return []float64{p.Pos.X, p.Pos.Y, p.Pos.Z, p.Quat.Real, p.Quat.Imag, p.Quat.Jmag, p.Quat.Kmag}
}

// SliceEuler encodes the pose as a 6-vector (position + Euler angles).
func (p Pose) SliceEuler() []float64 {
	e := QuatToEuler(p.Quat)
	return []float64{p.Pos.X, p.Pos.Y, p.Pos.Z, e.X, e.Y, e.Z}
}

// RotateVec rotates v by the unit quaternion q.
func RotateVec(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Compose applies the transform parentToChild in the frame worldToParent and
// returns worldToChild.
func Compose(parentToChild, worldToParent Pose) Pose {
	return Pose{
		Pos:  worldToParent.Pos.Add(RotateVec(worldToParent.Quat, parentToChild.Pos)),
		Quat: normalizeQuat(quat.Mul(worldToParent.Quat, parentToChild.Quat)),
	}
}

// ComposeSlice is the slice-level form of Compose. Either argument may be a
// 3-vector (position only, identity rotation assumed); when the reference
// frame is position-only the result degrades to a 3-vector.
func ComposeSlice(parentToChild, worldToParent []float64) []float64 {
	posOnly := len(worldToParent) == 3
	out := Compose(PoseFromSlice(parentToChild), PoseFromSlice(worldToParent))
	if posOnly {
		return []float64{out.Pos.X, out.Pos.Y, out.Pos.Z}
	}
	return out.Slice()
}

// Relative expresses worldToB against worldToA: the position is B's origin
// in A's frame, and the orientation is the world-frame difference rotation q
// satisfying q * worldToA.Quat = worldToB.Quat.
func Relative(worldToB, worldToA Pose) Pose {
	inv := quat.Conj(worldToA.Quat)
	return Pose{
		Pos:  RotateVec(inv, worldToB.Pos.Sub(worldToA.Pos)),
		Quat: normalizeQuat(quat.Mul(worldToB.Quat, inv)),
	}
}

// AngleBetween returns the rotation angle separating two unit quaternions,
// canonically in [0, pi]. Quaternion double cover is respected: q and -q
// compare as identical orientations.
func AngleBetween(a, b quat.Number) float64 {
	diff := normalizeQuat(quat.Mul(a, quat.Conj(b)))
	w := diff.Real
	if w > 1 {
		w = 1
	} else if w < -1 {
		w = -1
	}
	angle := 2 * math.Acos(w)
	// Wrap into (-pi, pi] and take the absolute value to remove the sign
	// ambiguity near pi.
	angle = math.Mod(angle+math.Pi, 2*math.Pi)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return math.Abs(angle - math.Pi)
}

// EulerToQuat converts roll/pitch/yaw angles (radians, stored as X/Y/Z) to a
// unit quaternion.
func EulerToQuat(e r3.Vector) quat.Number {
	return (&spatialmath.EulerAngles{Roll: e.X, Pitch: e.Y, Yaw: e.Z}).Quaternion()
}

// QuatToEuler converts a unit quaternion to roll/pitch/yaw angles.
func QuatToEuler(q quat.Number) r3.Vector {
	e := spatialmath.QuatToEulerAngles(q)
	return r3.Vector{X: e.Roll, Y: e.Pitch, Z: e.Yaw}
}

// QuatToMatrix returns the 3x3 rotation matrix of a unit quaternion.
func QuatToMatrix(q quat.Number) *mat.Dense {
	q = normalizeQuat(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// MatrixToQuat recovers a unit quaternion from a 3x3 rotation matrix.
func MatrixToQuat(m mat.Matrix) quat.Number {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		panic(fmt.Sprintf("manipenv: rotation matrix must be 3x3, got %dx%d", r, c))
	}
	trace := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Number
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{
			Real: s / 4,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1))
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
	return normalizeQuat(q)
}

// PoseToMatrix returns the 4x4 homogeneous matrix of a pose.
func PoseToMatrix(p Pose) *mat.Dense {
	rot := QuatToMatrix(p.Quat)
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rot.At(i, j))
		}
	}
	out.Set(0, 3, p.Pos.X)
	out.Set(1, 3, p.Pos.Y)
	out.Set(2, 3, p.Pos.Z)
	out.Set(3, 3, 1)
	return out
}

// MatrixToPose recovers a pose from a 4x4 homogeneous matrix.
func MatrixToPose(m mat.Matrix) Pose {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		panic(fmt.Sprintf("manipenv: homogeneous matrix must be 4x4, got %dx%d", r, c))
	}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, m.At(i, j))
		}
	}
	return Pose{
		Pos:  r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
		Quat: MatrixToQuat(rot),
	}
}

// ToSpatialPose converts to the rdk spatialmath representation.
func (p Pose) ToSpatialPose() spatialmath.Pose {
	e := QuatToEuler(p.Quat)
	return spatialmath.NewPose(p.Pos, &spatialmath.EulerAngles{Roll: e.X, Pitch: e.Y, Yaw: e.Z})
}

// PoseFromSpatial converts from the rdk spatialmath representation.
func PoseFromSpatial(sp spatialmath.Pose) Pose {
	return NewPose(sp.Point(), sp.Orientation().Quaternion())
}
