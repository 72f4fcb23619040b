package scoring

import (
	"fmt"

	"github.com/nvandessel/observer/internal/diagnostics"
)

// Kind names a scoring algorithm.
type Kind string

const (
	KindLearnability Kind = "learnability"
	KindNovelty      Kind = "novelty"
)

// Curve is the per-epoch training loss of one model.
type Curve struct {
	Label  string
	Losses []float64
}

// Record is the complete result of one scorer invocation.
type Record struct {
	Kind     Kind
	T        int
	RealTime float64

	Score float64
	Count int // candidates (learnability) or steps (novelty) that counted

	// Horizons lists the lookback candidates (learnability) or the number of
	// steps past T (novelty) that Losses were measured at.
	Horizons []int
	Losses   []float64
	Curves   []Curve

	Lookback    int
	TrainSize   int
	PredictSize int
}

// GroupName returns the diagnostics group name, e.g. "novelty_120_meta".
func (r *Record) GroupName() string {
	return fmt.Sprintf("%s_%d_meta", r.Kind, r.T)
}

// Group renders the record as a diagnostics group.
func (r *Record) Group() (*diagnostics.Group, error) {
	g, err := diagnostics.NewGroup(r.GroupName())
	if err != nil {
		return nil, err
	}

	write := func(g *diagnostics.Group, name string, data []float64) {
		if err == nil {
			err = g.WriteArray(name, data)
		}
	}

	switch r.Kind {
	case KindLearnability:
		curves, cerr := g.Require("training loss")
		if cerr != nil {
			return nil, cerr
		}
		for _, c := range r.Curves {
			write(curves, c.Label, c.Losses)
		}
		write(g, "lookbacks", ints(r.Horizons))
	case KindNovelty:
		if len(r.Curves) > 0 {
			write(g, "training loss v epoch", r.Curves[0].Losses)
		}
		write(g, "lookback", []float64{float64(r.Lookback)})
		write(g, "predict size", []float64{float64(r.PredictSize)})
	default:
		return nil, fmt.Errorf("unknown record kind %q", r.Kind)
	}
	write(g, "prediction loss", r.Losses)
	write(g, "train size", []float64{float64(r.TrainSize)})
	write(g, "score", []float64{r.Score})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func ints(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
