package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Param is a named parameter matrix. Non-trainable params (batch-norm running
// statistics) are persisted and snapshotted but never touched by the optimizer.
type Param struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool
}

func newParam(name string, r, c int, trainable bool) *Param {
	p := &Param{Name: name, Value: mat.NewDense(r, c, nil), Trainable: trainable}
	if trainable {
		p.Grad = mat.NewDense(r, c, nil)
	}
	return p
}

// Size is the number of scalars in the parameter.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// layer is one stage of the head. forward caches what backward needs; backward
// overwrites the gradients of the layer's params and returns dL/d(input).
type layer interface {
	name() string
	forward(x *mat.Dense, train bool) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []*Param
	outputWidth(in int) int
}

type activation int

const (
	linear activation = iota
	relu
)

type dense struct {
	id  string
	act activation
	w   *Param
	b   *Param

	x   *mat.Dense
	out *mat.Dense
}

func newDense(id string, in, out int, act activation, rng *rand.Rand) *dense {
	d := &dense{
		id:  id,
		act: act,
		w:   newParam(id+"/kernel", in, out, true),
		b:   newParam(id+"/bias", 1, out, true),
	}
	// Glorot-uniform, the Keras default for Dense kernels
	limit := math.Sqrt(6.0 / float64(in+out))
	raw := d.w.Value.RawMatrix().Data
	for i := range raw {
		raw[i] = (rng.Float64()*2 - 1) * limit
	}
	return d
}

func (d *dense) name() string { return d.id }
func (d *dense) params() []*Param { return []*Param{d.w, d.b} }
func (d *dense) outputWidth(int) int {
	_, c := d.w.Value.Dims()
	return c
}

func (d *dense) forward(x *mat.Dense, _ bool) *mat.Dense {
	var out mat.Dense
	out.Mul(x, d.w.Value)
	bias := d.b.Value.RawRowView(0)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		floats.Add(row, bias)
		if d.act == relu {
			for j, v := range row {
				if v < 0 {
					row[j] = 0
				}
			}
		}
	}
	d.x = x
	d.out = &out
	return &out
}

func (d *dense) backward(grad *mat.Dense) *mat.Dense {
	g := grad
	if d.act == relu {
		masked := mat.DenseCopyOf(grad)
		masked.Apply(func(i, j int, v float64) float64 {
			if d.out.At(i, j) <= 0 {
				return 0
			}
			return v
		}, masked)
		g = masked
	}
	d.w.Grad.Mul(d.x.T(), g)

	bg := d.b.Grad.RawRowView(0)
	for j := range bg {
		bg[j] = 0
	}
	r, _ := g.Dims()
	for i := 0; i < r; i++ {
		floats.Add(bg, g.RawRowView(i))
	}

	var dx mat.Dense
	dx.Mul(g, d.w.Value.T())
	return &dx
}

// batchNorm normalises each feature. Training uses batch statistics and
// updates the running averages; inference uses the running averages.
type batchNorm struct {
	id       string
	momentum float64
	eps      float64
	gamma    *Param
	beta     *Param
	mean     *Param
	variance *Param

	train  bool
	xhat   *mat.Dense
	invStd []float64
}

func newBatchNorm(id string, width int) *batchNorm {
	bn := &batchNorm{
		id:       id,
		momentum: 0.99,
		eps:      1e-3,
		gamma:    newParam(id+"/gamma", 1, width, true),
		beta:     newParam(id+"/beta", 1, width, true),
		mean:     newParam(id+"/moving_mean", 1, width, false),
		variance: newParam(id+"/moving_variance", 1, width, false),
	}
	fill(bn.gamma.Value, 1)
	fill(bn.variance.Value, 1)
	return bn
}

func (bn *batchNorm) name() string { return bn.id }
func (bn *batchNorm) params() []*Param {
	return []*Param{bn.gamma, bn.beta, bn.mean, bn.variance}
}
func (bn *batchNorm) outputWidth(in int) int { return in }

func (bn *batchNorm) forward(x *mat.Dense, train bool) *mat.Dense {
	r, c := x.Dims()
	gamma := bn.gamma.Value.RawRowView(0)
	beta := bn.beta.Value.RawRowView(0)
	runMean := bn.mean.Value.RawRowView(0)
	runVar := bn.variance.Value.RawRowView(0)

	mean := make([]float64, c)
	variance := make([]float64, c)
	if train {
		for i := 0; i < r; i++ {
			floats.Add(mean, x.RawRowView(i))
		}
		floats.Scale(1/float64(r), mean)
		for i := 0; i < r; i++ {
			for j, v := range x.RawRowView(i) {
				d := v - mean[j]
				variance[j] += d * d
			}
		}
		floats.Scale(1/float64(r), variance)
		for j := 0; j < c; j++ {
			runMean[j] = bn.momentum*runMean[j] + (1-bn.momentum)*mean[j]
			runVar[j] = bn.momentum*runVar[j] + (1-bn.momentum)*variance[j]
		}
	} else {
		copy(mean, runMean)
		copy(variance, runVar)
	}

	invStd := make([]float64, c)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.eps)
	}
	xhat := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src := x.RawRowView(i)
		hat := xhat.RawRowView(i)
		dst := out.RawRowView(i)
		for j := range src {
			hat[j] = (src[j] - mean[j]) * invStd[j]
			dst[j] = gamma[j]*hat[j] + beta[j]
		}
	}
	bn.train = train
	bn.xhat = xhat
	bn.invStd = invStd
	return out
}

func (bn *batchNorm) backward(grad *mat.Dense) *mat.Dense {
	r, c := grad.Dims()
	gamma := bn.gamma.Value.RawRowView(0)
	dGamma := bn.gamma.Grad.RawRowView(0)
	dBeta := bn.beta.Grad.RawRowView(0)
	for j := 0; j < c; j++ {
		dGamma[j], dBeta[j] = 0, 0
	}
	for i := 0; i < r; i++ {
		g := grad.RawRowView(i)
		hat := bn.xhat.RawRowView(i)
		for j := range g {
			dGamma[j] += g[j] * hat[j]
			dBeta[j] += g[j]
		}
	}

	dx := mat.NewDense(r, c, nil)
	if !bn.train {
		for i := 0; i < r; i++ {
			g := grad.RawRowView(i)
			dst := dx.RawRowView(i)
			for j := range g {
				dst[j] = g[j] * gamma[j] * bn.invStd[j]
			}
		}
		return dx
	}

	// dx = invStd/N · (N·dxhat - Σdxhat - xhat·Σ(dxhat·xhat))
	n := float64(r)
	sumD := make([]float64, c)
	sumDX := make([]float64, c)
	for i := 0; i < r; i++ {
		g := grad.RawRowView(i)
		hat := bn.xhat.RawRowView(i)
		for j := range g {
			dh := g[j] * gamma[j]
			sumD[j] += dh
			sumDX[j] += dh * hat[j]
		}
	}
	for i := 0; i < r; i++ {
		g := grad.RawRowView(i)
		hat := bn.xhat.RawRowView(i)
		dst := dx.RawRowView(i)
		for j := range g {
			dh := g[j] * gamma[j]
			dst[j] = bn.invStd[j] / n * (n*dh - sumD[j] - hat[j]*sumDX[j])
		}
	}
	return dx
}

// dropout zeroes inputs with probability rate during training and rescales
// the survivors by 1/(1-rate). It is the identity at inference.
type dropout struct {
	id   string
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func newDropout(id string, rate float64, rng *rand.Rand) *dropout {
	return &dropout{id: id, rate: rate, rng: rng}
}

func (d *dropout) name() string { return d.id }
func (d *dropout) params() []*Param { return nil }
func (d *dropout) outputWidth(in int) int { return in }

func (d *dropout) forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || d.rate == 0 {
		d.mask = nil
		return x
	}
	r, c := x.Dims()
	keep := 1 - d.rate
	mask := mat.NewDense(r, c, nil)
	raw := mask.RawMatrix().Data
	for i := range raw {
		if d.rng.Float64() < keep {
			raw[i] = 1 / keep
		}
	}
	var out mat.Dense
	out.MulElem(x, mask)
	d.mask = mask
	return &out
}

func (d *dropout) backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	var dx mat.Dense
	dx.MulElem(grad, d.mask)
	return &dx
}

func fill(m *mat.Dense, v float64) {
	raw := m.RawMatrix().Data
	for i := range raw {
		raw[i] = v
	}
}
