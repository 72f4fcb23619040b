package train

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/nvandessel/observer/internal/model"
)

// Adam is the Adam optimizer with L2 weight decay folded into the gradient.
type Adam struct {
	lr, beta1, beta2, eps, decay float64

	m, v    *model.Params
	scratch *model.Params
	step    int
}

// NewAdam returns an optimizer with zeroed moments shaped like params.
func NewAdam(params *model.Params, cfg Config) *Adam {
	return &Adam{
		lr:    cfg.LearningRate,
		beta1: cfg.Beta1,
		beta2: cfg.Beta2,
		eps:   cfg.Epsilon,
		decay: cfg.WeightDecay,
		m:     params.ZerosLike(),
		v:     params.ZerosLike(),

		scratch: params.ZerosLike(),
	}
}

// Step applies one update to params given grad. grad is left untouched.
func (a *Adam) Step(params, grad *model.Params) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	ps, gs := params.Slices(), grad.Slices()
	ms, vs, ds := a.m.Slices(), a.v.Slices(), a.scratch.Slices()
	for t := range ps {
		p, m, v, d := ps[t], ms[t], vs[t], ds[t]

		// d = grad + decay*p
		floats.AddScaledTo(d, gs[t], a.decay, p)

		floats.Scale(a.beta1, m)
		floats.AddScaled(m, 1-a.beta1, d)

		floats.Mul(d, d)
		floats.Scale(a.beta2, v)
		floats.AddScaled(v, 1-a.beta2, d)

		for i := range p {
			p[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}
