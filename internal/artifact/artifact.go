// Package artifact defines the artifact sequence consumed by the scorers: an
// ordered run of fixed-width feature vectors, one per logical simulation
// timestep, plus the parallel index of real simulation times.
package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSequence is returned when a sequence is empty or ragged.
	ErrInvalidSequence = errors.New("artifact: invalid sequence")

	// ErrMissingColumn is returned when an artifact file lacks a required column.
	ErrMissingColumn = errors.New("artifact: missing column")
)

// Sequence is an ordered artifact sequence with its time index.
// Scorers treat a Sequence as read-only.
type Sequence struct {
	// Vectors holds one feature vector per timestep. All vectors share a length.
	Vectors [][]float64

	// Times maps artifact index to real simulation time. Same length as Vectors.
	Times []float64
}

// New validates vectors and times and returns a Sequence over them.
// A nil times slice is replaced by the artifact indices.
func New(vectors [][]float64, times []float64) (*Sequence, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no artifacts", ErrInvalidSequence)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero feature dimension", ErrInvalidSequence)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: artifact %d has dimension %d, want %d", ErrInvalidSequence, i, len(v), dim)
		}
	}

	if times == nil {
		times = make([]float64, len(vectors))
		for i := range times {
			times[i] = float64(i)
		}
	}
	if len(times) != len(vectors) {
		return nil, fmt.Errorf("%w: %d times for %d artifacts", ErrInvalidSequence, len(times), len(vectors))
	}

	return &Sequence{Vectors: vectors, Times: times}, nil
}

// Len returns the number of artifacts.
func (s *Sequence) Len() int {
	return len(s.Vectors)
}

// Dim returns the feature dimension.
func (s *Sequence) Dim() int {
	if len(s.Vectors) == 0 {
		return 0
	}
	return len(s.Vectors[0])
}

// TimeAt returns the real time of artifact i.
func (s *Sequence) TimeAt(i int) float64 {
	return s.Times[i]
}
