package results

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/processing"
	"github.com/pv/telemetry-recorder/internal/recorder/memrecorder"
	"github.com/pv/telemetry-recorder/internal/sample"
	"github.com/pv/telemetry-recorder/internal/session"
)

const vCar = "vCar:Chassis"

func setup(t *testing.T, variants ...session.Variant) (*memrecorder.Store, *session.Registry, *Recorder) {
	t.Helper()
	store := memrecorder.New()
	reg, err := session.New(session.Config{Parameters: []string{vCar}, Variants: variants, Recorder: store})
	require.NoError(t, err)
	rec, err := New(Config{Sessions: reg})
	require.NoError(t, err)
	_, err = reg.ResolveOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	return store, reg, rec
}

func statsFor(points ...sample.DataPoint) processing.ProcessResult {
	return processing.NewAggregator().Process(processing.ProcessContext{Parameter: vCar, Start: 1000, End: 2000, Points: points})
}

func TestStatsWrittenAsOneRow(t *testing.T) {
	store, _, rec := setup(t, session.AllVariants()...)

	res := statsFor(
		sample.DataPoint{Timestamp: 1000, Parameter: vCar, Value: 1},
		sample.DataPoint{Timestamp: 1001, Parameter: vCar, Value: 3},
		sample.DataPoint{Timestamp: 1002, Parameter: vCar, Value: 2},
	)
	rec.HandleResult(context.Background(), processing.BatchResult{SessionKey: "s1", Results: []processing.ProcessResult{res}})

	snap, ok := store.SessionByKey("s1")
	require.True(t, ok)
	assert.Equal(t, 1, snap.RowWrites)
	assert.Equal(t, []memrecorder.Point{{Timestamp: 1000, Value: 1}}, snap.Samples["vCar_Min"])
	assert.Equal(t, []memrecorder.Point{{Timestamp: 1000, Value: 3}}, snap.Samples["vCar_Max"])
	assert.Equal(t, []memrecorder.Point{{Timestamp: 1000, Value: 1}}, snap.Samples["vCar_First"])
	assert.Equal(t, []memrecorder.Point{{Timestamp: 1000, Value: 2}}, snap.Samples["vCar_Last"])
	assert.Equal(t, []memrecorder.Point{{Timestamp: 1000, Value: 2}}, snap.Samples["vCar_Mean"])
	assert.EqualValues(t, 1, rec.Written())
}

func TestSeriesWrittenToInterpolatedChannel(t *testing.T) {
	store, _, rec := setup(t, session.Buffered, session.Interpolated)

	res := processing.ProcessResult{Parameter: vCar, Series: []processing.Sample{{Timestamp: 5, Value: 0.5}, {Timestamp: 10, Value: 1}}}
	rec.HandleResult(context.Background(), processing.BatchResult{SessionKey: "s1", Results: []processing.ProcessResult{res}})

	snap, _ := store.SessionByKey("s1")
	assert.Equal(t, 1, snap.SeriesWrites)
	assert.Equal(t, []memrecorder.Point{{Timestamp: 5, Value: 0.5}, {Timestamp: 10, Value: 1}}, snap.Samples["vCar_Interpolated"])
}

func TestMissingChannelsSkipOnlyThatWrite(t *testing.T) {
	// только Buffered и Interpolated: каналов статистики нет
	store, _, rec := setup(t, session.Buffered, session.Interpolated)

	stats := statsFor(sample.DataPoint{Timestamp: 1000, Parameter: vCar, Value: 1})
	unknownParam := processing.ProcessResult{Parameter: "other:X", Series: []processing.Sample{{Timestamp: 1, Value: 1}}}
	series := processing.ProcessResult{Parameter: vCar, Series: []processing.Sample{{Timestamp: 1, Value: 1}}}
	empty := statsFor()

	rec.HandleResult(context.Background(), processing.BatchResult{
		SessionKey: "s1",
		Results:    []processing.ProcessResult{stats, unknownParam, empty, series},
	})

	snap, _ := store.SessionByKey("s1")
	assert.Equal(t, 1, snap.Writes())
	assert.EqualValues(t, 2, rec.Skipped())
	assert.EqualValues(t, 1, rec.Written())
}

func TestUnknownAndEndedSessions(t *testing.T) {
	ctx := context.Background()
	store, reg, rec := setup(t, session.AllVariants()...)
	res := statsFor(sample.DataPoint{Timestamp: 1000, Parameter: vCar, Value: 1})

	rec.HandleResult(ctx, processing.BatchResult{SessionKey: "ghost", Results: []processing.ProcessResult{res}})
	require.NoError(t, reg.End(ctx, "s1"))
	rec.HandleResult(ctx, processing.BatchResult{SessionKey: "s1", Results: []processing.ProcessResult{res}})

	assert.Zero(t, store.TotalWrites())
	assert.EqualValues(t, 1, rec.Skipped())

	_, err := New(Config{})
	assert.Error(t, err)
}
