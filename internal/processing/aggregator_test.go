package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/sample"
	"github.com/pv/telemetry-recorder/internal/session"
)

func TestAggregatorStats(t *testing.T) {
	res := NewAggregator().Process(ProcessContext{Parameter: param, Start: 0, End: 3, Points: points(0, 1.0, 1, 3.0, 2, 2.0)})

	require.NotNil(t, res.Stats)
	st := res.Stats
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 1.0, *st.First)
	assert.Equal(t, 2.0, *st.Last)
	assert.Equal(t, 1.0, *st.Min)
	assert.Equal(t, 3.0, *st.Max)
	assert.Equal(t, 2.0, *st.Mean)
	assert.Nil(t, res.Series)
}

func TestAggregatorEmptyInterval(t *testing.T) {
	res := NewAggregator().Process(ProcessContext{Parameter: param, Start: 0, End: 10})

	require.NotNil(t, res.Stats)
	assert.True(t, res.Stats.Empty())
	assert.Nil(t, res.Stats.First)
	assert.Nil(t, res.Stats.Last)
	assert.Nil(t, res.Stats.Min)
	assert.Nil(t, res.Stats.Max)
	assert.Nil(t, res.Stats.Mean)
}

func TestAggregatorOrdersByTimeAndFiltersParameter(t *testing.T) {
	in := []sample.DataPoint{
		{Timestamp: 5, Parameter: param, Value: 50},
		{Timestamp: 1, Parameter: param, Value: 10},
		{Timestamp: 3, Parameter: "other", Value: 1000},
	}
	res := NewAggregator().Process(ProcessContext{Parameter: param, Points: in})
	assert.Equal(t, 2, res.Stats.Count)
	assert.Equal(t, 10.0, *res.Stats.First)
	assert.Equal(t, 50.0, *res.Stats.Last)
	assert.Equal(t, 30.0, *res.Stats.Mean)
}

func TestProcessorVariants(t *testing.T) {
	assert.Equal(t, session.StatsVariants, NewAggregator().Variants())
	assert.Equal(t, []session.Variant{session.Interpolated}, NewInterpolator(1).Variants())
	assert.Equal(t,
		session.AllVariants(),
		session.VariantsFor(NewAggregator(), NewInterpolator(1)))
}
