package manipenv

import (
	"encoding/json"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// ObjectSpec parameterizes the manipulated object's geometry and mass. Mesh
// objects may be split into parts with per-part masses.
type ObjectSpec struct {
	Type       string    `json:"type"` // "box", "ellipsoid" or "mesh"
	Size       r3.Vector `json:"size"`
	Mass       float64   `json:"mass"`
	Mesh       string    `json:"mesh,omitempty"`
	MeshParts  int       `json:"mesh_parts,omitempty"`
	PartMasses []float64 `json:"part_masses,omitempty"`
	Material   string    `json:"material,omitempty"`
}

// ObjectCatalog lists the manipulable objects the scene template can be
// instantiated with.
var ObjectCatalog = map[string]ObjectSpec{
	"original":     {Type: "ellipsoid", Size: r3.Vector{X: 0.03, Y: 0.03, Z: 0.04}, Mass: 0.2, Material: "material:object"},
	"box":          {Type: "box", Size: r3.Vector{X: 0.03, Y: 0.03, Z: 0.03}, Mass: 0.2, Material: "material:object"},
	"small_box":    {Type: "box", Size: r3.Vector{X: 0.022, Y: 0.022, Z: 0.022}, Mass: 0.2, Material: "material:object"},
	"sphere":       {Type: "ellipsoid", Size: r3.Vector{X: 0.028, Y: 0.028, Z: 0.028}, Mass: 0.2, Material: "material:object"},
	"small_sphere": {Type: "ellipsoid", Size: r3.Vector{X: 0.024, Y: 0.024, Z: 0.024}, Mass: 0.2, Material: "material:object"},
	"teapot": {
		Type: "mesh", Mesh: "object_mesh:teapot_vhacd_m", MeshParts: 6,
		PartMasses: []float64{0.01, 0.01, 0.01, 0.5, 0.01, 0.01}, Material: "material:object",
	},
}

// Validate checks internal consistency of an object spec.
func (o ObjectSpec) Validate() error {
	switch o.Type {
	case "box", "ellipsoid":
		if o.Size.X <= 0 || o.Size.Y <= 0 || o.Size.Z <= 0 {
			return errors.Errorf("object size must be positive, got %v", o.Size)
		}
	case "mesh":
		if o.Mesh == "" {
			return errors.New("mesh object requires a mesh name")
		}
		if o.MeshParts > 0 && o.PartMasses != nil && len(o.PartMasses) != o.MeshParts {
			return errors.Errorf("expected %d part masses, got %d", o.MeshParts, len(o.PartMasses))
		}
	default:
		return errors.Errorf("unknown object type %q", o.Type)
	}
	if o.Mass < 0 {
		return errors.Errorf("object mass must be non-negative, got %g", o.Mass)
	}
	return nil
}

// Geometry returns the object's collision geometry for box and ellipsoid
// objects. Mesh objects carry their geometry in the scene assets.
func (o ObjectSpec) Geometry(label string) (spatialmath.Geometry, error) {
	switch o.Type {
	case "box":
		// Catalog sizes are half-extents, geometry dims are full extents.
		return spatialmath.NewBox(spatialmath.NewZeroPose(), o.Size.Mul(2), label)
	case "ellipsoid":
		return spatialmath.NewSphere(spatialmath.NewZeroPose(), o.Size.X, label)
	default:
		return nil, errors.Errorf("no analytic geometry for object type %q", o.Type)
	}
}

// SceneConfig selects optional scene augmentations consumed by the scene
// template: a safety cage of four tilted heavy walls around the workspace
// and kinematic welds pinning the fingertips to mocap bodies.
type SceneConfig struct {
	ObjectCage  bool    `json:"object_cage"`
	CageOpacity float64 `json:"cage_opacity"`
	WeldFingers bool    `json:"weld_fingers"`
}

// DefaultSceneConfig returns a bare scene with no augmentation.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{CageOpacity: 0.1}
}

// CageGeometries builds the four tilted cage walls when the cage is enabled.
func (s SceneConfig) CageGeometries() ([]spatialmath.Geometry, error) {
	if !s.ObjectCage {
		return nil, nil
	}
	tilt := math.Pi / 4
	walls := []struct {
		pos  r3.Vector
		rot  spatialmath.EulerAngles
		dims r3.Vector
	}{
		{r3.Vector{Y: 0.55, Z: 0.4}, spatialmath.EulerAngles{Roll: tilt}, r3.Vector{X: 2, Y: 1.5, Z: 0.02}},
		{r3.Vector{Y: -0.55, Z: 0.4}, spatialmath.EulerAngles{Roll: -tilt}, r3.Vector{X: 2, Y: 1.5, Z: 0.02}},
		{r3.Vector{X: -0.45, Z: 0.4}, spatialmath.EulerAngles{Pitch: tilt}, r3.Vector{X: 1.5, Y: 2, Z: 0.02}},
		{r3.Vector{X: 0.45, Z: 0.4}, spatialmath.EulerAngles{Pitch: -tilt}, r3.Vector{X: 1.5, Y: 2, Z: 0.02}},
	}
	out := make([]spatialmath.Geometry, 0, len(walls))
	for i, w := range walls {
		rot := w.rot
		box, err := spatialmath.NewBox(spatialmath.NewPose(w.pos, &rot), w.dims, cageWallLabel(i))
		if err != nil {
			return nil, errors.Wrap(err, "failed to build cage wall")
		}
		out = append(out, box)
	}
	return out, nil
}

func cageWallLabel(i int) string {
	return []string{"cage_wall_front", "cage_wall_back", "cage_wall_left", "cage_wall_right"}[i]
}

// LoadTaskConfig reads a TaskConfig from a JSON file and validates it.
func LoadTaskConfig(path string) (TaskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskConfig{}, errors.Wrapf(err, "failed to read task config %s", path)
	}
	cfg := DefaultTaskConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return TaskConfig{}, errors.Wrapf(err, "failed to parse task config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return TaskConfig{}, errors.Wrap(err, "invalid task config")
	}
	return cfg, nil
}
