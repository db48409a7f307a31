package sample

import "time"

// DataPoint — единичный числовой отсчёт параметра.
type DataPoint struct {
	Timestamp int64 // ns since epoch
	Parameter string
	Value     float64
}

// Time возвращает метку времени как time.Time в UTC.
func (p DataPoint) Time() time.Time {
	return time.Unix(0, p.Timestamp).UTC()
}
