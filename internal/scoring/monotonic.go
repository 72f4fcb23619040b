package scoring

import (
	"fmt"
	"math"
)

// CountNewMinima counts the losses that are strictly lower than every loss
// before them. The running best starts at +Inf, so a finite first loss
// always counts.
func CountNewMinima(losses []float64) int {
	best := math.Inf(1)
	n := 0
	for _, l := range losses {
		if l < best {
			n++
			best = l
		}
	}
	return n
}

// CountNewMaxima counts the losses that strictly exceed the running maximum,
// which starts at 0.
func CountNewMaxima(losses []float64) int {
	least := 0.0
	n := 0
	for _, l := range losses {
		if l > least {
			n++
			least = l
		}
	}
	return n
}

// LearnabilityScore is the fraction of lookback candidates whose prediction
// loss set a new minimum.
func LearnabilityScore(losses []float64) (float64, error) {
	if len(losses) == 0 {
		return 0, fmt.Errorf("%w: no prediction losses", ErrInsufficientData)
	}
	return float64(CountNewMinima(losses)) / float64(len(losses)), nil
}

// NoveltyScore is the fraction of forward steps whose prediction loss set a
// new maximum.
func NoveltyScore(losses []float64) (float64, error) {
	if len(losses) == 0 {
		return 0, fmt.Errorf("%w: no prediction losses", ErrInsufficientData)
	}
	return float64(CountNewMaxima(losses)) / float64(len(losses)), nil
}
