// Package results записывает результаты подписок в производные каналы сессии.
package results

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/processing"
	"github.com/pv/telemetry-recorder/internal/recorder"
	"github.com/pv/telemetry-recorder/internal/session"
)

// Sessions — поиск сессии без создания.
type Sessions interface {
	Get(key string) (*session.Context, bool)
}

type Config struct {
	Sessions Sessions
	Logger   *zerolog.Logger
}

// Recorder реализует processing.ResultHandler.
type Recorder struct {
	sessions Sessions
	log      zerolog.Logger

	written atomic.Int64
	skipped atomic.Int64
}

var _ processing.ResultHandler = (*Recorder)(nil)

func New(cfg Config) (*Recorder, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("results: sessions registry is nil")
	}
	return &Recorder{
		sessions: cfg.Sessions,
		log:      logging.Component(logging.OrNop(cfg.Logger), "results"),
	}, nil
}

// Written возвращает число выполненных записей.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Skipped возвращает число пропущенных записей (нет канала или сессия завершена).
func (r *Recorder) Skipped() int64 { return r.skipped.Load() }

func (r *Recorder) HandleResult(ctx context.Context, batch processing.BatchResult) {
	c, ok := r.sessions.Get(batch.SessionKey)
	if !ok {
		r.log.Debug().Str("session", batch.SessionKey).Str("subscription", batch.SubscriptionKey).
			Int("results", len(batch.Results)).Msg("results for unknown session dropped")
		return
	}
	for _, res := range batch.Results {
		if res.Stats != nil {
			r.writeStats(ctx, c, res)
		}
		if len(res.Series) > 0 {
			r.writeSeries(ctx, c, res)
		}
	}
}

// writeStats пишет одну строку в каналы статистики с меткой начала интервала.
func (r *Recorder) writeStats(ctx context.Context, c *session.Context, res processing.ProcessResult) {
	if res.Stats.Empty() {
		return
	}
	fields := []struct {
		variant session.Variant
		value   *float64
	}{
		{session.Min, res.Stats.Min},
		{session.Max, res.Stats.Max},
		{session.First, res.Stats.First},
		{session.Last, res.Stats.Last},
		{session.Mean, res.Stats.Mean},
	}
	ids := make([]recorder.ChannelID, 0, len(fields))
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		id, ok := c.Channel(res.Parameter, f.variant)
		if !ok {
			continue
		}
		ids = append(ids, id)
		values = append(values, *f.value)
	}
	if len(ids) == 0 {
		r.skipped.Add(1)
		r.log.Debug().Str("session", c.Key()).Str("parameter", res.Parameter).Msg("no stats channels")
		return
	}
	r.track(c.WriteRow(ctx, ids, res.Start, values), c.Key(), res.Parameter)
}

func (r *Recorder) writeSeries(ctx context.Context, c *session.Context, res processing.ProcessResult) {
	id, ok := c.Channel(res.Parameter, session.Interpolated)
	if !ok {
		r.skipped.Add(1)
		r.log.Debug().Str("session", c.Key()).Str("parameter", res.Parameter).Msg("no interpolated channel")
		return
	}
	ts := make([]int64, len(res.Series))
	values := make([]float64, len(res.Series))
	for i, s := range res.Series {
		ts[i] = s.Timestamp
		values[i] = s.Value
	}
	r.track(c.WriteSeries(ctx, id, ts, values), c.Key(), res.Parameter)
}

func (r *Recorder) track(err error, key, parameter string) {
	switch {
	case err == nil:
		r.written.Add(1)
	case errors.Is(err, session.ErrSessionNotLive):
		r.skipped.Add(1)
	default:
		r.log.Warn().Err(err).Str("session", key).Str("parameter", parameter).Msg("write result failed")
	}
}
