package artifact

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// SynthConfig controls Synthesize.
type SynthConfig struct {
	Steps     int     // number of artifacts
	Dim       int     // number of clusters (feature dimension)
	Agents    int     // agents distributed across clusters per step
	Period    float64 // steps per cycle of the periodic component
	Amplitude float64 // strength of the periodic component
	Drift     float64 // per-step standard deviation of the random-walk component
	TimeStep  float64 // real time between consecutive artifacts
	Seed      uint64
}

// DefaultSynthConfig returns a small, clearly periodic configuration.
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{
		Steps:     512,
		Dim:       8,
		Agents:    64,
		Period:    32,
		Amplitude: 2.0,
		Drift:     0.05,
		TimeStep:  0.1,
		Seed:      1,
	}
}

// Synthesize generates a cluster-count artifact sequence: each step assigns
// Agents agents to Dim clusters from a distribution that rotates periodically
// and drifts as a random walk. The same config always yields the same sequence.
func Synthesize(cfg SynthConfig) (*Sequence, error) {
	if cfg.Steps < 1 || cfg.Dim < 1 || cfg.Agents < 1 {
		return nil, fmt.Errorf("%w: steps, dim and agents must be positive", ErrInvalidSequence)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive", ErrInvalidSequence)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0x6172746966616374))
	step := distuv.Normal{Mu: 0, Sigma: cfg.Drift, Src: rng}
	drift := make([]float64, cfg.Dim)
	weights := make([]float64, cfg.Dim)

	vectors := make([][]float64, cfg.Steps)
	times := make([]float64, cfg.Steps)
	for t := 0; t < cfg.Steps; t++ {
		phase := 2 * math.Pi * float64(t) / cfg.Period
		for k := range weights {
			drift[k] += step.Rand()
			offset := 2 * math.Pi * float64(k) / float64(cfg.Dim)
			weights[k] = math.Exp(cfg.Amplitude*math.Cos(phase+offset) + drift[k])
		}

		clusters := distuv.NewCategorical(weights, rng)
		counts := make([]float64, cfg.Dim)
		for a := 0; a < cfg.Agents; a++ {
			counts[int(clusters.Rand())]++
		}
		vectors[t] = counts
		times[t] = float64(t) * cfg.TimeStep
	}

	return New(vectors, times)
}
