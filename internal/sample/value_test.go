package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindDispatch(t *testing.T) {
	values := []Value{
		Double(1.5),
		Marker{Timestamp: 10, ID: 1, Label: "Out Lap"},
		Event{ID: "pit"},
		Error{Code: 3},
		BusFrame{ID: 0x100, Data: []byte{1}},
	}
	want := []Kind{KindDouble, KindMarker, KindEvent, KindError, KindBusFrame}
	for i, v := range values {
		assert.Equal(t, want[i], v.Kind())
	}
	assert.Equal(t, "bus-frame", KindBusFrame.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestTypedExtraction(t *testing.T) {
	d, ok := AsDouble(Double(2.25))
	assert.True(t, ok)
	assert.Equal(t, 2.25, d)

	_, ok = AsDouble(Marker{})
	assert.False(t, ok)

	m, ok := AsMarker(Marker{ID: 7, Label: "Lap 7"})
	assert.True(t, ok)
	assert.Equal(t, int64(7), m.ID)

	m, ok = AsMarker(&Marker{ID: 8})
	assert.True(t, ok)
	assert.Equal(t, int64(8), m.ID)

	_, ok = AsMarker(Double(1))
	assert.False(t, ok)
	var nilMarker *Marker
	_, ok = AsMarker(nilMarker)
	assert.False(t, ok)
}

func TestDoublesAndDataPointTime(t *testing.T) {
	vals := Doubles(1, 2, 3)
	assert.Len(t, vals, 3)
	assert.Equal(t, Double(2), vals[1])

	ts := time.Date(2024, 6, 1, 0, 0, 0, 500, time.UTC)
	p := DataPoint{Timestamp: ts.UnixNano(), Parameter: "vCar:Chassis", Value: 1}
	assert.True(t, p.Time().Equal(ts))
}
