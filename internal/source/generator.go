// Package source генерирует тестовую сессию телеметрии: синусоида по каждому
// параметру, маркер круга и служебные пакеты начала и конца сессии.
package source

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/ingest"
	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/sample"
)

const (
	DefaultFrequency        = 100.0
	DefaultSamplesPerPacket = 100
	DefaultPackets          = 100

	outLapLabel = "Out Lap"
)

// Dispatcher принимает пакеты генератора (обычно ingest.Hub).
type Dispatcher interface {
	Dispatch(ctx context.Context, b ingest.Batch) error
}

// Generator описывает одну генерируемую сессию.
type Generator struct {
	Parameters       []string
	Frequency        float64 // Гц
	SamplesPerPacket int
	Packets          int
	Start            time.Time // время первого отсчёта; по умолчанию текущее
	// Speed — множитель скорости относительно реального времени. 0 — без пауз.
	Speed float64
	// SessionKey задаётся явно или генерируется (uuid).
	SessionKey string
	// OnPacket, если задан, вызывается после отправки каждого пакета.
	OnPacket func(Result)
	Logger   *zerolog.Logger
}

// Result подводит итог прогона генератора.
type Result struct {
	SessionKey string
	Packets    int
	Samples    int
}

func (g Generator) withDefaults() Generator {
	if g.Frequency <= 0 {
		g.Frequency = DefaultFrequency
	}
	if g.SamplesPerPacket <= 0 {
		g.SamplesPerPacket = DefaultSamplesPerPacket
	}
	if g.Packets <= 0 {
		g.Packets = DefaultPackets
	}
	if g.Start.IsZero() {
		g.Start = time.Now()
	}
	if g.SessionKey == "" {
		g.SessionKey = NewSessionKey()
	}
	return g
}

// NewSessionKey возвращает новый случайный ключ сессии.
func NewSessionKey() string { return uuid.NewString() }

// Run отправляет сессию целиком. При отмене ctx сессия всё равно закрывается пакетами конца.
func (g Generator) Run(ctx context.Context, d Dispatcher) (Result, error) {
	if d == nil {
		return Result{}, fmt.Errorf("source: dispatcher is nil")
	}
	if len(g.Parameters) == 0 {
		return Result{}, fmt.Errorf("source: no parameters")
	}
	if g.Speed < 0 {
		return Result{}, fmt.Errorf("source: speed must be >= 0")
	}
	g = g.withDefaults()
	log := logging.Component(logging.OrNop(g.Logger), "source")
	res := Result{SessionKey: g.SessionKey}

	interval := int64(float64(time.Second) / g.Frequency)
	if interval <= 0 {
		return res, fmt.Errorf("source: frequency %.0f Hz is too high", g.Frequency)
	}
	packetSpan := time.Duration(interval * int64(g.SamplesPerPacket))
	first := g.Start.UnixNano()

	for _, b := range []ingest.Batch{ingest.NewParameterStart(g.SessionKey), ingest.NewTimestampStart(g.SessionKey)} {
		if err := d.Dispatch(ctx, b); err != nil {
			return res, fmt.Errorf("source: start session %s: %w", g.SessionKey, err)
		}
	}
	log.Info().Str("session", g.SessionKey).Int("parameters", len(g.Parameters)).
		Int("packets", g.Packets).Float64("frequency", g.Frequency).Msg("session started")

	runErr := g.stream(ctx, d, first, interval, packetSpan, &res)

	// конец сессии отправляется и после отмены контекста
	endCtx := context.WithoutCancel(ctx)
	for _, b := range []ingest.Batch{ingest.NewParameterEnd(g.SessionKey), ingest.NewTimestampEnd(g.SessionKey)} {
		if err := d.Dispatch(endCtx, b); err != nil {
			log.Error().Err(err).Str("session", g.SessionKey).Msg("end session")
		}
	}
	log.Info().Str("session", g.SessionKey).Int("packets", res.Packets).Int("samples", res.Samples).Msg("session finished")
	return res, runErr
}

func (g Generator) stream(ctx context.Context, d Dispatcher, first, interval int64, packetSpan time.Duration, res *Result) error {
	lap := ingest.ParameterBatch{
		SessionKey: g.SessionKey,
		Parameter:  g.Parameters[0],
		Timestamps: []int64{first},
		Values: []sample.Value{sample.Marker{
			Timestamp:   first,
			ID:          1,
			Label:       outLapLabel,
			Type:        "Lap Trigger",
			Description: "Out Lap Marker",
		}},
	}
	if err := d.Dispatch(ctx, lap); err != nil {
		return fmt.Errorf("source: send lap marker: %w", err)
	}

	wave := SineWave(g.SamplesPerPacket)
	ts := first
	for i := 0; i < g.Packets; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		timestamps := make([]int64, g.SamplesPerPacket)
		for j := range timestamps {
			timestamps[j] = ts + int64(j)*interval
		}
		for _, param := range g.Parameters {
			b := ingest.ParameterBatch{
				SessionKey: g.SessionKey,
				Parameter:  param,
				Timestamps: timestamps,
				Values:     sample.Doubles(wave...),
			}
			if err := d.Dispatch(ctx, b); err != nil {
				return fmt.Errorf("source: send packet %d: %w", i, err)
			}
			res.Samples += len(timestamps)
		}
		res.Packets++
		if g.OnPacket != nil {
			g.OnPacket(*res)
		}
		ts += interval * int64(g.SamplesPerPacket)
		if err := waitNextStep(ctx, packetSpan, g.Speed); err != nil {
			return err
		}
	}
	return nil
}

// SineWave возвращает n отсчётов синуса на одном периоде 2π, начиная с нуля.
func SineWave(n int) []float64 {
	out := make([]float64, n)
	step := 2 * math.Pi / float64(n)
	for i := range out {
		out[i] = math.Sin(float64(i) * step)
	}
	return out
}

func waitNextStep(ctx context.Context, step time.Duration, speed float64) error {
	if step <= 0 || speed <= 0 {
		return nil
	}
	delay := time.Duration(float64(step) / speed)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
