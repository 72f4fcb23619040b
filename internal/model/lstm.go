package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// cell is the cached state of one LSTM layer at one timestep.
type cell struct {
	x            []float64
	hPrev, cPrev []float64
	i, f, g, o   []float64
	c, tanhC, h  []float64
}

// trace is everything a forward pass over one window keeps for backprop.
type trace struct {
	layers [][]cell
	y      []float64
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func vec(s []float64) *mat.VecDense {
	return mat.NewVecDense(len(s), s)
}

// run feeds xs through one layer starting from zero hidden and cell state.
func (l *Layer) run(xs [][]float64, hidden int) []cell {
	cells := make([]cell, len(xs))
	hPrev := make([]float64, hidden)
	cPrev := make([]float64, hidden)

	gates := make([]float64, 4*hidden)
	rec := make([]float64, 4*hidden)
	gv, rv := vec(gates), vec(rec)
	bias := l.B.RawVector().Data

	H := hidden
	for t, x := range xs {
		gv.MulVec(l.Wx, vec(x))
		rv.MulVec(l.Wh, vec(hPrev))
		floats.Add(gates, rec)
		floats.Add(gates, bias)

		buf := make([]float64, 7*H)
		c := cell{
			x: x, hPrev: hPrev, cPrev: cPrev,
			i: buf[0:H], f: buf[H : 2*H], g: buf[2*H : 3*H], o: buf[3*H : 4*H],
			c: buf[4*H : 5*H], tanhC: buf[5*H : 6*H], h: buf[6*H : 7*H],
		}
		for k := 0; k < H; k++ {
			c.i[k] = sigmoid(gates[k])
			c.f[k] = sigmoid(gates[H+k])
			c.g[k] = math.Tanh(gates[2*H+k])
			c.o[k] = sigmoid(gates[3*H+k])
			c.c[k] = c.f[k]*cPrev[k] + c.i[k]*c.g[k]
			c.tanhC[k] = math.Tanh(c.c[k])
			c.h[k] = c.o[k] * c.tanhC[k]
		}
		cells[t] = c
		hPrev, cPrev = c.h, c.c
	}
	return cells
}

// forward runs the stacked layers and the linear head over one history.
func (p *Params) forward(history [][]float64, hidden int) trace {
	tr := trace{layers: make([][]cell, len(p.Layers))}
	inputs := history
	for l := range p.Layers {
		cells := p.Layers[l].run(inputs, hidden)
		tr.layers[l] = cells
		hs := make([][]float64, len(cells))
		for t := range cells {
			hs[t] = cells[t].h
		}
		inputs = hs
	}

	last := inputs[len(inputs)-1]
	tr.y = make([]float64, p.Bout.Len())
	yv := vec(tr.y)
	yv.MulVec(p.Wout, vec(last))
	floats.Add(tr.y, p.Bout.RawVector().Data)
	return tr
}

// backward accumulates into g the gradient of a loss whose derivative with
// respect to the head output is dy.
func (p *Params) backward(tr trace, dy []float64, g *Params, hidden int) {
	H := hidden
	top := len(p.Layers) - 1
	steps := len(tr.layers[0])

	hLast := tr.layers[top][steps-1].h
	g.Wout.RankOne(g.Wout, 1, vec(dy), vec(hLast))
	floats.Add(g.Bout.RawVector().Data, dy)

	// dhAbove[t] is the gradient flowing into h_t from the layer above (or
	// the head); nil means zero.
	dhAbove := make([][]float64, steps)
	dhAbove[steps-1] = make([]float64, H)
	vec(dhAbove[steps-1]).MulVec(p.Wout.T(), vec(dy))

	da := make([]float64, 4*H)
	dav := vec(da)
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	for l := top; l >= 0; l-- {
		layer, gl := p.Layers[l], g.Layers[l]
		cells := tr.layers[l]
		clear(dhNext)
		clear(dcNext)

		var dxs [][]float64
		if l > 0 {
			dxs = make([][]float64, steps)
		}

		for t := steps - 1; t >= 0; t-- {
			c := cells[t]
			above := dhAbove[t]
			for k := 0; k < H; k++ {
				dh := dhNext[k]
				if above != nil {
					dh += above[k]
				}
				do := dh * c.tanhC[k]
				dc := dcNext[k] + dh*c.o[k]*(1-c.tanhC[k]*c.tanhC[k])
				di := dc * c.g[k]
				dg := dc * c.i[k]
				df := dc * c.cPrev[k]
				dcNext[k] = dc * c.f[k]

				da[k] = di * c.i[k] * (1 - c.i[k])
				da[H+k] = df * c.f[k] * (1 - c.f[k])
				da[2*H+k] = dg * (1 - c.g[k]*c.g[k])
				da[3*H+k] = do * c.o[k] * (1 - c.o[k])
			}

			gl.Wx.RankOne(gl.Wx, 1, dav, vec(c.x))
			if t > 0 {
				gl.Wh.RankOne(gl.Wh, 1, dav, vec(c.hPrev))
			}
			floats.Add(gl.B.RawVector().Data, da)

			vec(dhNext).MulVec(layer.Wh.T(), dav)
			if dxs != nil {
				dxs[t] = make([]float64, len(c.x))
				vec(dxs[t]).MulVec(layer.Wx.T(), dav)
			}
		}
		dhAbove = dxs
	}
}
