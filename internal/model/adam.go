package model

import "math"

// Adam implements the Adam update with the bias correction folded into the
// step size, matching the Keras formulation.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m    map[*Param][]float64
	v    map[*Param][]float64
}

// NewAdam returns an optimizer with β1=0.9, β2=0.999, ε=1e-7.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		m:            make(map[*Param][]float64),
		v:            make(map[*Param][]float64),
	}
}

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.step }

// Step applies one update to every trainable param using its current gradient.
func (a *Adam) Step(params []*Param) {
	a.step++
	t := float64(a.step)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for _, p := range params {
		if !p.Trainable {
			continue
		}
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(w))
			a.m[p] = m
			a.v[p] = make([]float64, len(w))
		}
		v := a.v[p]
		for i := range w {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g[i]
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g[i]*g[i]
			w[i] -= lr * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
		}
	}
}
