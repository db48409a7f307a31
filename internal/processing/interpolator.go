package processing

import (
	"sort"
	"sync"
	"time"

	"github.com/pv/telemetry-recorder/internal/sample"
	"github.com/pv/telemetry-recorder/internal/session"
)

type cursor struct {
	last sample.DataPoint
	next int64 // следующая точка сетки
}

// Interpolator строит ряд с фиксированным шагом линейной интерполяцией.
// Сетка каждого параметра привязана к первой полученной точке, последняя точка
// сохраняется между вызовами и служит началом первого отрезка следующего вызова.
type Interpolator struct {
	period int64

	mu      sync.Mutex
	cursors map[string]*cursor
}

func NewInterpolator(period time.Duration) *Interpolator {
	return &Interpolator{
		period:  int64(period),
		cursors: map[string]*cursor{},
	}
}

func (ip *Interpolator) Variants() []session.Variant {
	return []session.Variant{session.Interpolated}
}

func (ip *Interpolator) Process(pc ProcessContext) ProcessResult {
	res := ProcessResult{Parameter: pc.Parameter, Start: pc.Start, End: pc.End}
	if ip.period <= 0 || len(pc.Points) == 0 {
		return res
	}
	points := sortedPoints(pc.Points)

	ip.mu.Lock()
	defer ip.mu.Unlock()

	cur := ip.cursors[pc.Parameter]
	for _, p := range points {
		if p.Parameter != "" && p.Parameter != pc.Parameter {
			continue
		}
		if cur == nil {
			// первая точка не выдаётся, она лишь начало первого отрезка
			cur = &cursor{last: p, next: p.Timestamp + ip.period}
			continue
		}
		switch {
		case p.Timestamp < cur.last.Timestamp:
			continue
		case p.Timestamp == cur.last.Timestamp:
			cur.last.Value = p.Value
			continue
		}
		p0 := cur.last
		span := float64(p.Timestamp - p0.Timestamp)
		for cur.next <= p.Timestamp {
			f := float64(cur.next-p0.Timestamp) / span
			res.Series = append(res.Series, Sample{Timestamp: cur.next, Value: lerp(p0.Value, p.Value, f)})
			cur.next += ip.period
		}
		cur.last = p
	}
	if cur != nil {
		ip.cursors[pc.Parameter] = cur
	}
	return res
}

// Reset забывает последнюю точку параметра.
func (ip *Interpolator) Reset(parameter string) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	delete(ip.cursors, parameter)
}

// lerp точен на обоих концах: f=0 даёт a, f=1 даёт b.
func lerp(a, b, f float64) float64 {
	return a*(1-f) + b*f
}

func sortedPoints(points []sample.DataPoint) []sample.DataPoint {
	if sort.SliceIsSorted(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp }) {
		return points
	}
	out := append([]sample.DataPoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
