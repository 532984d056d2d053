package manipenv

import (
	"fmt"
	"math"
)

// BoxSpace declares the bounds and shape of a flat real vector space, as
// advertised for actions and observations.
type BoxSpace struct {
	Low  []float64
	High []float64
}

// UniformBoxSpace builds an n-dimensional space with identical bounds per
// dimension.
func UniformBoxSpace(n int, low, high float64) BoxSpace {
	s := BoxSpace{Low: make([]float64, n), High: make([]float64, n)}
	for i := 0; i < n; i++ {
		s.Low[i] = low
		s.High[i] = high
	}
	return s
}

// UnboundedBoxSpace builds an n-dimensional space with infinite bounds.
func UnboundedBoxSpace(n int) BoxSpace {
	return UniformBoxSpace(n, math.Inf(-1), math.Inf(1))
}

// Size returns the dimensionality of the space.
func (s BoxSpace) Size() int { return len(s.Low) }

// Clip projects v into the space bounds, returning a new slice.
func (s BoxSpace) Clip(v []float64) []float64 {
	if len(v) != s.Size() {
		panic(fmt.Sprintf("manipenv: vector length %d does not match space size %d", len(v), s.Size()))
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = clamp(x, s.Low[i], s.High[i])
	}
	return out
}

// ObsSegment is one named slice of the observation vector.
type ObsSegment struct {
	Name   string
	Offset int
	Len    int
}

// ObsSchema describes the exact fixed layout of the observation vector for
// one configuration. It is computed once at construction; absent features
// appear as zero-length segments so the vector length is constant across all
// steps and episodes of a configuration.
type ObsSchema struct {
	segments []ObsSegment
	index    map[string]int
	size     int
}

// NewObsSchema lays out segments in the given fixed order.
func NewObsSchema(segments []ObsSegment) ObsSchema {
	s := ObsSchema{index: make(map[string]int, len(segments))}
	for _, seg := range segments {
		if seg.Len < 0 {
			panic(fmt.Sprintf("manipenv: segment %q has negative length", seg.Name))
		}
		if _, dup := s.index[seg.Name]; dup {
			panic(fmt.Sprintf("manipenv: duplicate observation segment %q", seg.Name))
		}
		seg.Offset = s.size
		s.index[seg.Name] = len(s.segments)
		s.segments = append(s.segments, seg)
		s.size += seg.Len
	}
	return s
}

// Size returns the total observation length.
func (s ObsSchema) Size() int { return s.size }

// Segment looks up a named segment.
func (s ObsSchema) Segment(name string) (ObsSegment, bool) {
	i, ok := s.index[name]
	if !ok {
		return ObsSegment{}, false
	}
	return s.segments[i], true
}

// Segments returns the layout in order.
func (s ObsSchema) Segments() []ObsSegment {
	out := make([]ObsSegment, len(s.segments))
	copy(out, s.segments)
	return out
}

// NewBuilder allocates a builder for one observation vector.
func (s ObsSchema) NewBuilder() *ObsBuilder {
	return &ObsBuilder{schema: s, buf: make([]float64, s.size)}
}

// ObsBuilder fills an observation vector segment by segment. Writing a value
// of the wrong length is a programming error.
type ObsBuilder struct {
	schema ObsSchema
	buf    []float64
}

// Set writes a segment's values.
func (b *ObsBuilder) Set(name string, values []float64) {
	seg, ok := b.schema.Segment(name)
	if !ok {
		panic(fmt.Sprintf("manipenv: unknown observation segment %q", name))
	}
	if len(values) != seg.Len {
		panic(fmt.Sprintf("manipenv: segment %q expects %d values, got %d", name, seg.Len, len(values)))
	}
	copy(b.buf[seg.Offset:seg.Offset+seg.Len], values)
}

// Vector returns the assembled observation.
func (b *ObsBuilder) Vector() []float64 {
	out := make([]float64, len(b.buf))
	copy(out, b.buf)
	return out
}

// Observation is the goal-conditioned observation bundle returned by Reset
// and Step.
type Observation struct {
	Observation  []float64
	AchievedGoal []float64
	DesiredGoal  []float64
}

// StepInfo carries auxiliary per-step signals. Success never terminates an
// episode; it is reported here only.
type StepInfo struct {
	IsSuccess float64
}
