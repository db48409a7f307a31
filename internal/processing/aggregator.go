package processing

import (
	"github.com/pv/telemetry-recorder/internal/session"
)

// Aggregator считает First/Last/Min/Max/Mean по интервалу. Состояния между вызовами нет.
type Aggregator struct{}

func NewAggregator() *Aggregator { return &Aggregator{} }

func (Aggregator) Variants() []session.Variant {
	return append([]session.Variant(nil), session.StatsVariants...)
}

func (Aggregator) Process(pc ProcessContext) ProcessResult {
	res := ProcessResult{Parameter: pc.Parameter, Start: pc.Start, End: pc.End, Stats: &Stats{}}
	points := sortedPoints(pc.Points)

	var first, last, lo, hi, sum float64
	n := 0
	for _, p := range points {
		if p.Parameter != "" && p.Parameter != pc.Parameter {
			continue
		}
		v := p.Value
		if n == 0 {
			first, lo, hi = v, v, v
		}
		last = v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
		n++
	}
	if n == 0 {
		return res
	}
	mean := sum / float64(n)
	res.Stats = &Stats{Count: n, First: &first, Last: &last, Min: &lo, Max: &hi, Mean: &mean}
	return res
}
