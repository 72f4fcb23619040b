package scoring

import (
	"iter"
	"slices"
)

// Lookbacks yields the doubling lookback candidates 1, 2, 4, ... up to and
// including max. It yields nothing for max < 1. The sequence is a pure
// function of max and can be ranged over any number of times.
func Lookbacks(max int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if max < 1 {
			return
		}
		for l := 1; ; l *= 2 {
			if !yield(l) || l > max/2 {
				return
			}
		}
	}
}

// LookbackCandidates collects Lookbacks(max) into a slice.
func LookbackCandidates(max int) []int {
	return slices.Collect(Lookbacks(max))
}
