// Package window turns an artifact sequence into supervised history → target
// pairs for the forecasting model.
package window

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a requested window reaches outside [0, N).
	ErrOutOfRange = errors.New("window: index out of range")

	// ErrInvalidSize is returned for a non-positive count or lookback.
	ErrInvalidSize = errors.New("window: count and lookback must be positive")
)

// Window is one history → target pair. History and Target alias the rows of
// the sequence the window was built from; treat them as read-only.
type Window struct {
	// Start is the sequence index of History[0].
	Start int

	// History holds lookback consecutive vectors.
	History [][]float64

	// Target is the vector immediately following History.
	Target []float64
}

// Lookback returns the history length.
func (w Window) Lookback() int {
	return len(w.History)
}

// TargetIndex returns the sequence index of Target.
func (w Window) TargetIndex() int {
	return w.Start + len(w.History)
}

// Build returns count windows over vectors. Window i has history
// vectors[start+i : start+i+lookback] and target vectors[start+i+lookback].
func Build(vectors [][]float64, start, count, lookback int) ([]Window, error) {
	if count < 1 || lookback < 1 {
		return nil, fmt.Errorf("%w: count=%d lookback=%d", ErrInvalidSize, count, lookback)
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: start %d is negative", ErrOutOfRange, start)
	}
	// The last target sits at start+count-1+lookback.
	if last := start + count + lookback - 1; last >= len(vectors) {
		return nil, fmt.Errorf("%w: target index %d with %d artifacts", ErrOutOfRange, last, len(vectors))
	}

	windows := make([]Window, count)
	for i := range windows {
		s := start + i
		windows[i] = Window{
			Start:   s,
			History: vectors[s : s+lookback : s+lookback],
			Target:  vectors[s+lookback],
		}
	}
	return windows, nil
}

// Preceding returns count windows whose targets are the vectors at
// first, first+1, ..., each with the lookback vectors right before it.
func Preceding(vectors [][]float64, first, count, lookback int) ([]Window, error) {
	return Build(vectors, first-lookback, count, lookback)
}
