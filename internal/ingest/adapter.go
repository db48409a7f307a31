package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/recorder"
	"github.com/pv/telemetry-recorder/internal/sample"
	"github.com/pv/telemetry-recorder/internal/session"
	"github.com/pv/telemetry-recorder/pkg/config"
)

// Sessions — часть реестра сессий, нужная адаптеру.
type Sessions interface {
	ResolveOrCreate(ctx context.Context, key string) (*session.Context, error)
	Get(key string) (*session.Context, bool)
	End(ctx context.Context, key string) error
}

// Sink получает числовые точки для обработки подписками (processing.Engine).
type Sink interface {
	Push(ctx context.Context, sessionKey string, points []sample.DataPoint)
	EndSession(ctx context.Context, sessionKey string)
}

type Config struct {
	Sessions   Sessions
	Parameters *config.ParameterRegistry // подписанные параметры
	Sink       Sink                      // может быть nil
	Logger     *zerolog.Logger
}

// Counters — счётчики адаптера для API состояния.
type Counters struct {
	Batches int64 `json:"batches"`
	Dropped int64 `json:"dropped"`
	Writes  int64 `json:"writes"`
	Laps    int64 `json:"laps"`
}

// Adapter обрабатывает обе формы пакетов.
type Adapter struct {
	sessions Sessions
	params   *config.ParameterRegistry
	sink     Sink
	log      zerolog.Logger

	batches atomic.Int64
	dropped atomic.Int64
	writes  atomic.Int64
	laps    atomic.Int64
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("ingest: sessions registry is nil")
	}
	return &Adapter{
		sessions: cfg.Sessions,
		params:   cfg.Parameters,
		sink:     cfg.Sink,
		log:      logging.Component(logging.OrNop(cfg.Logger), "ingest"),
	}, nil
}

func (a *Adapter) Counters() Counters {
	return Counters{
		Batches: a.batches.Load(),
		Dropped: a.dropped.Load(),
		Writes:  a.writes.Load(),
		Laps:    a.laps.Load(),
	}
}

// HandleBatch направляет пакет в обработчик его формы.
func (a *Adapter) HandleBatch(ctx context.Context, b Batch) error {
	switch v := b.(type) {
	case ParameterBatch:
		return a.HandleParameterBatch(ctx, v)
	case *ParameterBatch:
		return a.HandleParameterBatch(ctx, *v)
	case TimestampBatch:
		return a.HandleTimestampBatch(ctx, v)
	case *TimestampBatch:
		return a.HandleTimestampBatch(ctx, *v)
	default:
		return fmt.Errorf("ingest: unsupported batch %T", b)
	}
}

// HandleParameterBatch обрабатывает пакет одного параметра.
// Ошибкой возвращается только сбой создания сессии.
func (a *Adapter) HandleParameterBatch(ctx context.Context, b ParameterBatch) error {
	a.batches.Add(1)
	if handled, err := a.boundary(ctx, b.Kind, b.SessionKey); handled {
		return err
	}
	c := a.live(b.SessionKey)
	if c == nil {
		return nil
	}
	if len(b.Timestamps) != len(b.Values) {
		a.dropped.Add(1)
		a.log.Warn().Str("session", b.SessionKey).Str("parameter", b.Parameter).
			Int("timestamps", len(b.Timestamps)).Int("values", len(b.Values)).Msg("malformed batch dropped")
		return nil
	}

	for i, v := range b.Values {
		a.addLap(ctx, c, v, b.Timestamps[i])
	}
	if !a.params.Contains(b.Parameter) {
		return nil
	}

	var (
		ts     []int64
		values []float64
		points []sample.DataPoint
	)
	for i, v := range b.Values {
		d, ok := sample.AsDouble(v)
		if !ok {
			continue
		}
		ts = append(ts, b.Timestamps[i])
		values = append(values, d)
		points = append(points, sample.DataPoint{Timestamp: b.Timestamps[i], Parameter: b.Parameter, Value: d})
	}
	if len(ts) == 0 {
		return nil
	}

	if id, ok := c.Channel(b.Parameter, session.Buffered); ok {
		a.track(c.WriteSeries(ctx, id, ts, values), c.Key(), "write series")
	} else {
		a.log.Debug().Str("session", c.Key()).Str("parameter", b.Parameter).Msg("no buffered channel")
	}
	if a.sink != nil {
		a.sink.Push(ctx, c.Key(), points)
	}
	return nil
}

// HandleTimestampBatch обрабатывает пакет временных столбцов: одна запись строки на столбец.
func (a *Adapter) HandleTimestampBatch(ctx context.Context, b TimestampBatch) error {
	a.batches.Add(1)
	if handled, err := a.boundary(ctx, b.Kind, b.SessionKey); handled {
		return err
	}
	c := a.live(b.SessionKey)
	if c == nil {
		return nil
	}

	var points []sample.DataPoint
	for _, col := range b.Columns {
		if len(col.Parameters) != len(col.Values) {
			a.dropped.Add(1)
			a.log.Warn().Str("session", b.SessionKey).Int64("ts", col.Timestamp).Msg("malformed column dropped")
			continue
		}
		for _, v := range col.Values {
			a.addLap(ctx, c, v, col.Timestamp)
		}

		var (
			ids    []recorder.ChannelID
			values []float64
		)
		for i, v := range col.Values {
			param := col.Parameters[i]
			if !a.params.Contains(param) {
				continue
			}
			d, ok := sample.AsDouble(v)
			if !ok {
				continue
			}
			points = append(points, sample.DataPoint{Timestamp: col.Timestamp, Parameter: param, Value: d})
			id, ok := c.Channel(param, session.Buffered)
			if !ok {
				continue
			}
			ids = append(ids, id)
			values = append(values, d)
		}
		if len(ids) > 0 {
			a.track(c.WriteRow(ctx, ids, col.Timestamp, values), c.Key(), "write row")
		}
	}
	if a.sink != nil && len(points) > 0 {
		a.sink.Push(ctx, c.Key(), points)
	}
	return nil
}

// boundary обрабатывает служебные пакеты. handled=false для пакетов данных.
func (a *Adapter) boundary(ctx context.Context, kind Kind, key string) (handled bool, err error) {
	switch kind {
	case KindStart:
		if _, err := a.sessions.ResolveOrCreate(ctx, key); err != nil {
			return true, fmt.Errorf("ingest: start session %s: %w", key, err)
		}
		return true, nil
	case KindEnd:
		// результаты подписок пишутся до перевода сессии в Historical
		if a.sink != nil {
			a.sink.EndSession(ctx, key)
		}
		if err := a.sessions.End(ctx, key); err != nil {
			a.log.Error().Err(err).Str("session", key).Msg("end session")
		}
		return true, nil
	default:
		return false, nil
	}
}

func (a *Adapter) live(key string) *session.Context {
	c, ok := a.sessions.Get(key)
	if !ok || c.State() != session.Live {
		a.dropped.Add(1)
		a.log.Debug().Str("session", key).Msg("data for unknown or ended session dropped")
		return nil
	}
	return c
}

func (a *Adapter) addLap(ctx context.Context, c *session.Context, v sample.Value, ts int64) {
	m, ok := sample.AsMarker(v)
	if !ok {
		return
	}
	if m.Timestamp == 0 {
		m.Timestamp = ts
	}
	err := c.AddLap(ctx, recorder.Lap{Timestamp: m.Timestamp, Number: m.ID, Name: m.Label})
	if err == nil {
		a.laps.Add(1)
		return
	}
	a.track(err, c.Key(), "add lap")
}

// track учитывает результат записи: ошибки не прерывают обработку пакета.
func (a *Adapter) track(err error, key, op string) {
	switch {
	case err == nil:
		a.writes.Add(1)
	case errors.Is(err, session.ErrSessionNotLive):
		a.dropped.Add(1)
		a.log.Debug().Str("session", key).Msg(op + ": session ended, dropped")
	default:
		a.log.Warn().Err(err).Str("session", key).Msg(op + " failed")
	}
}
