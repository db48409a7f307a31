package source

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/ingest"
	"github.com/pv/telemetry-recorder/internal/processing"
	"github.com/pv/telemetry-recorder/internal/recorder/memrecorder"
	"github.com/pv/telemetry-recorder/internal/results"
	"github.com/pv/telemetry-recorder/internal/sample"
	"github.com/pv/telemetry-recorder/internal/session"
	"github.com/pv/telemetry-recorder/pkg/config"
)

type recordingDispatcher struct {
	batches []ingest.Batch
	failOn  int // номер пакета (с 1), на котором вернуть ошибку
}

func (r *recordingDispatcher) Dispatch(_ context.Context, b ingest.Batch) error {
	r.batches = append(r.batches, b)
	if r.failOn > 0 && len(r.batches) == r.failOn {
		return errors.New("dispatch failed")
	}
	return nil
}

func (r *recordingDispatcher) kinds() []ingest.Kind {
	out := make([]ingest.Kind, len(r.batches))
	for i, b := range r.batches {
		out[i] = b.BatchKind()
	}
	return out
}

func TestGeneratorSequence(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	g := Generator{
		Parameters:       []string{"Sin:MyApp", "Cos:MyApp"},
		Frequency:        100,
		SamplesPerPacket: 10,
		Packets:          3,
		Start:            start,
		SessionKey:       "s1",
	}
	d := &recordingDispatcher{}
	res, err := g.Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Result{SessionKey: "s1", Packets: 3, Samples: 60}, res)

	// 2 начала + маркер + 3 пакета × 2 параметра + 2 конца
	require.Len(t, d.batches, 11)
	kinds := d.kinds()
	assert.Equal(t, []ingest.Kind{ingest.KindStart, ingest.KindStart}, kinds[:2])
	assert.Equal(t, []ingest.Kind{ingest.KindEnd, ingest.KindEnd}, kinds[9:])

	lap, ok := d.batches[2].(ingest.ParameterBatch)
	require.True(t, ok)
	m, ok := lap.Values[0].(sample.Marker)
	require.True(t, ok)
	assert.Equal(t, "Out Lap", m.Label)
	assert.Equal(t, start.UnixNano(), lap.Timestamps[0])

	first := d.batches[3].(ingest.ParameterBatch)
	assert.Equal(t, "Sin:MyApp", first.Parameter)
	assert.Equal(t, start.UnixNano(), first.Timestamps[0])
	assert.Equal(t, int64(10*time.Millisecond), first.Timestamps[1]-first.Timestamps[0])

	// следующий пакет продолжает время без разрыва
	next := d.batches[5].(ingest.ParameterBatch)
	assert.Equal(t, first.Timestamps[9]+int64(10*time.Millisecond), next.Timestamps[0])
	for _, b := range d.batches {
		assert.Equal(t, "s1", b.Key())
	}
}

func TestGeneratorDefaultsAndKey(t *testing.T) {
	g := Generator{Parameters: []string{"Sin:MyApp"}}.withDefaults()
	assert.Equal(t, DefaultFrequency, g.Frequency)
	assert.Equal(t, DefaultSamplesPerPacket, g.SamplesPerPacket)
	assert.Equal(t, DefaultPackets, g.Packets)
	assert.False(t, g.Start.IsZero())
	assert.Len(t, g.SessionKey, 36)
}

func TestSineWave(t *testing.T) {
	w := SineWave(100)
	require.Len(t, w, 100)
	assert.InDelta(t, 0, w[0], 1e-9)
	assert.InDelta(t, 1, w[25], 1e-9)
	assert.InDelta(t, 0, w[50], 1e-9)
	assert.InDelta(t, -1, w[75], 1e-9)
	for _, v := range w {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestGeneratorCancelledStillEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &recordingDispatcher{}
	g := Generator{Parameters: []string{"Sin:MyApp"}, SamplesPerPacket: 5, Packets: 10, SessionKey: "s1"}
	res, err := g.Run(ctx, d)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Packets)

	kinds := d.kinds()
	require.GreaterOrEqual(t, len(kinds), 4)
	assert.Equal(t, ingest.KindEnd, kinds[len(kinds)-1])
	assert.Equal(t, ingest.KindEnd, kinds[len(kinds)-2])
}

func TestGeneratorErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Generator{Parameters: []string{"a:b"}}.Run(ctx, nil)
	assert.Error(t, err)
	_, err = Generator{}.Run(ctx, &recordingDispatcher{})
	assert.Error(t, err)
	_, err = Generator{Parameters: []string{"a:b"}, Speed: -1}.Run(ctx, &recordingDispatcher{})
	assert.Error(t, err)

	// ошибка старта прерывает прогон без пакетов данных
	d := &recordingDispatcher{failOn: 1}
	_, err = Generator{Parameters: []string{"a:b"}, SessionKey: "s1"}.Run(ctx, d)
	require.Error(t, err)
	assert.Len(t, d.batches, 1)

	// ошибка на данных всё равно закрывает сессию
	d = &recordingDispatcher{failOn: 4}
	_, err = Generator{Parameters: []string{"a:b"}, SamplesPerPacket: 2, Packets: 2, SessionKey: "s1"}.Run(ctx, d)
	require.Error(t, err)
	kinds := d.kinds()
	assert.Equal(t, ingest.KindEnd, kinds[len(kinds)-1])
}

func TestWaitNextStep(t *testing.T) {
	require.NoError(t, waitNextStep(context.Background(), time.Second, 0))
	require.NoError(t, waitNextStep(context.Background(), time.Millisecond, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitNextStep(ctx, time.Hour, 1), context.Canceled)
}

func TestGeneratorThroughPipeline(t *testing.T) {
	ctx := context.Background()
	params := []string{"Sin:MyApp"}

	store := memrecorder.New()
	reg, err := session.New(session.Config{
		Parameters: params,
		Variants:   session.VariantsFor(processing.NewAggregator(), processing.NewInterpolator(time.Millisecond)),
		Recorder:   store,
	})
	require.NoError(t, err)

	rec, err := results.New(results.Config{Sessions: reg})
	require.NoError(t, err)
	engine := processing.NewEngine(nil)
	require.NoError(t, engine.Subscribe(processing.Subscription{
		Key: "stats", Parameters: params, ProcessingHz: 10, Handler: rec,
	}))
	require.NoError(t, engine.Subscribe(processing.Subscription{
		Key: "interp", Parameters: params, ProcessingHz: 10, Handler: rec,
		NewProcessor: func() processing.Processor { return processing.NewInterpolator(5 * time.Millisecond) },
	}))

	filter := config.NewParameterRegistry()
	key, err := config.NewParameterKey(params[0])
	require.NoError(t, err)
	require.NoError(t, filter.Add(key))

	adapter, err := ingest.NewAdapter(ingest.Config{Sessions: reg, Parameters: filter, Sink: engine})
	require.NoError(t, err)
	hub := ingest.NewHub()
	hub.AddHandler(adapter)

	g := Generator{
		Parameters:       params,
		SamplesPerPacket: 100,
		Packets:          2,
		Start:            time.Unix(1_700_000_000, 0),
		SessionKey:       "gen",
	}
	_, err = g.Run(ctx, hub)
	require.NoError(t, err)

	c, ok := reg.Get("gen")
	require.True(t, ok)
	assert.Equal(t, session.Historical, c.State())

	snap, ok := store.SessionByKey("gen")
	require.True(t, ok)
	assert.Len(t, snap.Samples["Sin_Buffered"], 200)
	require.Len(t, snap.Laps, 1)
	assert.Equal(t, "Out Lap", snap.Laps[0].Name)
	// 2 секунды данных при 10 Гц обработки
	assert.Len(t, snap.Samples["Sin_Mean"], 20)
	assert.NotEmpty(t, snap.Samples["Sin_Interpolated"])
	for _, p := range snap.Samples["Sin_Max"] {
		assert.LessOrEqual(t, p.Value, 1.0)
	}
}
