package manipenv

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// PDGains parameterizes the proportional-derivative position servo used to
// track grasp-center targets.
type PDGains struct {
	Kp float64
	Kd float64
	K  float64
}

// DefaultPDGains returns the stock servo gains.
func DefaultPDGains() PDGains {
	return PDGains{Kp: 1.0, Kd: 0.05, K: 2.0}
}

// Validate rejects non-positive gains.
func (g PDGains) Validate() error {
	if g.Kp <= 0 || g.Kd < 0 || g.K <= 0 {
		return errors.Errorf("invalid servo gains %+v", g)
	}
	return nil
}

// ControllerState carries the previous-iteration error the derivative term
// needs. It is threaded explicitly through servo iterations: Output never
// mutates its receiver or argument, it returns the successor state.
type ControllerState struct {
	PrevErr []float64
	primed  bool
}

// Output computes the control for the current error vector and returns the
// state to thread into the next iteration. The derivative term is zero on the
// first iteration of an episode.
func (g PDGains) Output(err []float64, state ControllerState, dt float64) ([]float64, ControllerState) {
	deriv := make([]float64, len(err))
	if state.primed {
		if len(state.PrevErr) != len(err) {
			panic(fmt.Sprintf("manipenv: servo error length changed from %d to %d", len(state.PrevErr), len(err)))
		}
		floats.SubTo(deriv, err, state.PrevErr)
		floats.Scale(1/dt, deriv)
	}
	u := make([]float64, len(err))
	for i := range err {
		u[i] = -(g.Kp*err[i] + g.Kd*deriv[i]) * g.K
	}
	next := ControllerState{PrevErr: append([]float64(nil), err...), primed: true}
	return u, next
}
