package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/recorder"
)

type Config struct {
	ConnString string
	MaxConns   int32
	Logger     *zerolog.Logger
}

// Store пишет сессии в PostgreSQL. Значения каналов загружаются через COPY.
type Store struct {
	pool *pgxpool.Pool
	book *recorder.ChannelBook
	log  zerolog.Logger
}

var _ recorder.Recorder = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	s := &Store{
		pool: pool,
		book: recorder.NewChannelBook(),
		log:  logging.Component(logging.OrNop(cfg.Logger), "postgres"),
	}
	if err := s.checkTimezone(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}
	return s, nil
}

// checkTimezone предупреждает о не-UTC сервере. Метки времени хранятся в наносекундах, поэтому это только диагностика.
func (s *Store) checkTimezone(ctx context.Context) error {
	var tz string
	if err := s.pool.QueryRow(ctx, "SHOW timezone").Scan(&tz); err != nil {
		return fmt.Errorf("postgres: check timezone: %w", err)
	}
	if tz != "UTC" && tz != "Etc/UTC" {
		s.log.Warn().Str("timezone", tz).Msg("database timezone is not UTC; created_at/ended_at are written as UTC")
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, info recorder.SessionInfo) (recorder.Handle, error) {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	h := s.book.Open(info)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO rec_sessions(handle, session_key, identifier, created_at) VALUES ($1, $2, $3, $4)`,
		string(h), info.Key, info.Identifier, info.CreatedAt.UTC()); err != nil {
		_ = s.book.Close(h)
		return "", fmt.Errorf("postgres: insert session: %w", err)
	}
	return h, nil
}

func (s *Store) RegisterChannel(ctx context.Context, h recorder.Handle, name string, dt recorder.DataType) (recorder.ChannelID, error) {
	id, created, err := s.book.Register(h, name, dt)
	if err != nil || !created {
		return id, err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO rec_channels(handle, channel_id, name, data_type) VALUES ($1, $2, $3, $4)`,
		string(h), int64(id), name, dt.String()); err != nil {
		return 0, fmt.Errorf("postgres: insert channel %s: %w", name, err)
	}
	return id, nil
}

func (s *Store) CommitConfiguration(ctx context.Context, h recorder.Handle) error {
	if err := s.book.Commit(h); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `UPDATE rec_sessions SET committed = TRUE WHERE handle = $1`, string(h)); err != nil {
		return fmt.Errorf("postgres: commit configuration: %w", err)
	}
	return nil
}

func (s *Store) WriteRow(ctx context.Context, h recorder.Handle, ids []recorder.ChannelID, ts int64, values []float64) error {
	if _, err := s.book.CheckRow(h, ids, len(values)); err != nil {
		return err
	}
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{string(h), int64(id), ts, values[i]}
	}
	return s.copySamples(ctx, rows)
}

func (s *Store) WriteSeries(ctx context.Context, h recorder.Handle, id recorder.ChannelID, ts []int64, values []float64) error {
	if _, err := s.book.CheckSeries(h, id, len(ts), len(values)); err != nil {
		return err
	}
	rows := make([][]any, len(ts))
	for i := range ts {
		rows[i] = []any{string(h), int64(id), ts[i], values[i]}
	}
	return s.copySamples(ctx, rows)
}

func (s *Store) copySamples(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"rec_samples"},
		[]string{"handle", "channel_id", "ts_ns", "value"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy samples: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("postgres: copy samples: wrote %d of %d rows", n, len(rows))
	}
	return nil
}

func (s *Store) AddLap(ctx context.Context, h recorder.Handle, lap recorder.Lap) error {
	if err := s.book.CheckWritable(h); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO rec_laps(handle, ts_ns, number, name) VALUES ($1, $2, $3, $4)`,
		string(h), lap.Timestamp, lap.Number, lap.Name); err != nil {
		return fmt.Errorf("postgres: insert lap: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, h recorder.Handle) error {
	already, err := s.book.End(h)
	if err != nil || already {
		return err
	}
	if _, err := s.pool.Exec(ctx, `UPDATE rec_sessions SET ended_at = $1 WHERE handle = $2`,
		time.Now().UTC(), string(h)); err != nil {
		return fmt.Errorf("postgres: end session: %w", err)
	}
	return nil
}

func (s *Store) CloseSession(_ context.Context, h recorder.Handle) error {
	return s.book.Close(h)
}

// ReadChannel возвращает записанные значения канала по возрастанию времени.
func (s *Store) ReadChannel(ctx context.Context, h recorder.Handle, id recorder.ChannelID) ([]int64, []float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts_ns, value FROM rec_samples WHERE handle = $1 AND channel_id = $2 ORDER BY ts_ns`,
		string(h), int64(id))
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: read channel: %w", err)
	}
	defer rows.Close()
	var (
		timestamps []int64
		values     []float64
	)
	for rows.Next() {
		var ts int64
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, nil, fmt.Errorf("postgres: read channel scan: %w", err)
		}
		timestamps = append(timestamps, ts)
		values = append(values, v)
	}
	return timestamps, values, rows.Err()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rec_sessions(
	handle      TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	identifier  TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	committed   BOOLEAN NOT NULL DEFAULT FALSE,
	ended_at    TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS rec_channels(
	handle     TEXT NOT NULL,
	channel_id BIGINT NOT NULL,
	name       TEXT NOT NULL,
	data_type  TEXT NOT NULL,
	PRIMARY KEY(handle, channel_id)
);
CREATE TABLE IF NOT EXISTS rec_samples(
	handle     TEXT NOT NULL,
	channel_id BIGINT NOT NULL,
	ts_ns      BIGINT NOT NULL,
	value      DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS rec_samples_channel_ts ON rec_samples(handle, channel_id, ts_ns);
CREATE TABLE IF NOT EXISTS rec_laps(
	handle TEXT NOT NULL,
	ts_ns  BIGINT NOT NULL,
	number BIGINT NOT NULL,
	name   TEXT
);
`

func IsPostgresURL(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://")
}
