package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer holds the weights of one LSTM layer. Gate rows are stacked in the
// order input, forget, cell, output.
type Layer struct {
	Wx *mat.Dense    // 4H × in
	Wh *mat.Dense    // 4H × H
	B  *mat.VecDense // 4H
}

// Params is the full trainable state of a Model. The same type is used for
// gradients and optimizer moments.
type Params struct {
	Layers []Layer
	Wout   *mat.Dense    // D × H
	Bout   *mat.VecDense // D
}

func newParams(inputDim, hidden, layers int) *Params {
	p := &Params{Layers: make([]Layer, layers)}
	in := inputDim
	for l := range p.Layers {
		p.Layers[l] = Layer{
			Wx: mat.NewDense(4*hidden, in, nil),
			Wh: mat.NewDense(4*hidden, hidden, nil),
			B:  mat.NewVecDense(4*hidden, nil),
		}
		in = hidden
	}
	p.Wout = mat.NewDense(inputDim, hidden, nil)
	p.Bout = mat.NewVecDense(inputDim, nil)
	return p
}

// randomize fills every parameter from U(-1/sqrt(hidden), 1/sqrt(hidden)).
func (p *Params) randomize(rng *rand.Rand, hidden int) {
	k := 1 / math.Sqrt(float64(hidden))
	for _, s := range p.Slices() {
		for i := range s {
			s[i] = (2*rng.Float64() - 1) * k
		}
	}
}

// Slices returns the backing storage of every tensor in a fixed order.
// Writing through the slices mutates the parameters.
func (p *Params) Slices() [][]float64 {
	out := make([][]float64, 0, 3*len(p.Layers)+2)
	for _, l := range p.Layers {
		out = append(out, l.Wx.RawMatrix().Data, l.Wh.RawMatrix().Data, l.B.RawVector().Data)
	}
	return append(out, p.Wout.RawMatrix().Data, p.Bout.RawVector().Data)
}

// NumParams returns the total number of scalars.
func (p *Params) NumParams() int {
	n := 0
	for _, s := range p.Slices() {
		n += len(s)
	}
	return n
}

// ZerosLike returns a zero-valued Params with the same shapes as p.
func (p *Params) ZerosLike() *Params {
	q := &Params{Layers: make([]Layer, len(p.Layers))}
	for l, layer := range p.Layers {
		r, c := layer.Wx.Dims()
		_, h := layer.Wh.Dims()
		q.Layers[l] = Layer{
			Wx: mat.NewDense(r, c, nil),
			Wh: mat.NewDense(r, h, nil),
			B:  mat.NewVecDense(r, nil),
		}
	}
	r, c := p.Wout.Dims()
	q.Wout = mat.NewDense(r, c, nil)
	q.Bout = mat.NewVecDense(r, nil)
	return q
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	q := p.ZerosLike()
	dst := q.Slices()
	for i, s := range p.Slices() {
		copy(dst[i], s)
	}
	return q
}

// Zero sets every scalar to zero.
func (p *Params) Zero() {
	for _, s := range p.Slices() {
		clear(s)
	}
}

// Add adds q into p element-wise. q must have the same shapes.
func (p *Params) Add(q *Params) {
	src := q.Slices()
	for i, s := range p.Slices() {
		floats.Add(s, src[i])
	}
}

// Finite reports whether every scalar is finite.
func (p *Params) Finite() bool {
	for _, s := range p.Slices() {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
