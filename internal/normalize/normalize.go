// Package normalize fits and applies per-feature standardization.
//
// A Normalizer stores the mean and population standard deviation of every
// feature over a reference set and maps vectors to (x - mean) / scale.
// Features with zero variance get scale 1 unless the Normalizer was fit in
// strict mode, in which case Fit fails with ErrDegenerateFeature.
package normalize

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmpty is returned when fitting on an empty reference set.
	ErrEmpty = errors.New("normalize: empty reference set")

	// ErrDimensionMismatch is returned for vectors whose length differs from
	// the fitted feature count.
	ErrDimensionMismatch = errors.New("normalize: dimension mismatch")

	// ErrDegenerateFeature is returned in strict mode when a feature has zero
	// variance over the reference set.
	ErrDegenerateFeature = errors.New("normalize: zero-variance feature")
)

// Option configures Fit.
type Option func(*options)

type options struct {
	strict bool
}

// WithStrict makes Fit fail on zero-variance features instead of
// substituting unit scale.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// Normalizer is a fitted per-feature affine standardization.
// It is immutable after Fit and safe for concurrent use.
type Normalizer struct {
	mean       []float64
	scale      []float64
	degenerate []int
}

// Fit computes per-feature statistics over reference.
func Fit(reference [][]float64, opts ...Option) (*Normalizer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if len(reference) == 0 || len(reference[0]) == 0 {
		return nil, ErrEmpty
	}
	dim := len(reference[0])

	column := make([]float64, len(reference))
	n := &Normalizer{
		mean:  make([]float64, dim),
		scale: make([]float64, dim),
	}
	for j := 0; j < dim; j++ {
		for i, v := range reference {
			if len(v) != dim {
				return nil, fmt.Errorf("%w: vector %d has length %d, want %d", ErrDimensionMismatch, i, len(v), dim)
			}
			column[i] = v[j]
		}

		mean, std := stat.PopMeanStdDev(column, nil)
		n.mean[j] = mean
		if std == 0 {
			if o.strict {
				return nil, fmt.Errorf("%w: feature %d", ErrDegenerateFeature, j)
			}
			std = 1
			n.degenerate = append(n.degenerate, j)
		}
		n.scale[j] = std
	}

	return n, nil
}

// Dim returns the number of features the Normalizer was fit on.
func (n *Normalizer) Dim() int {
	return len(n.mean)
}

// Mean returns a copy of the per-feature means.
func (n *Normalizer) Mean() []float64 {
	return append([]float64(nil), n.mean...)
}

// Scale returns a copy of the per-feature scales.
func (n *Normalizer) Scale() []float64 {
	return append([]float64(nil), n.scale...)
}

// DegenerateFeatures lists the features that received unit scale.
func (n *Normalizer) DegenerateFeatures() []int {
	return append([]int(nil), n.degenerate...)
}

// Transform returns (vec - mean) / scale as a new slice.
func (n *Normalizer) Transform(vec []float64) ([]float64, error) {
	if len(vec) != len(n.mean) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), len(n.mean))
	}
	out := make([]float64, len(vec))
	floats.SubTo(out, vec, n.mean)
	floats.Div(out, n.scale)
	return out, nil
}

// Inverse maps a standardized vector back to the original feature space.
func (n *Normalizer) Inverse(vec []float64) ([]float64, error) {
	if len(vec) != len(n.mean) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), len(n.mean))
	}
	out := make([]float64, len(vec))
	floats.MulTo(out, vec, n.scale)
	floats.Add(out, n.mean)
	return out, nil
}

// TransformAll transforms every vector, leaving the input untouched.
func (n *Normalizer) TransformAll(vectors [][]float64) ([][]float64, error) {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		t, err := n.Transform(v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}
