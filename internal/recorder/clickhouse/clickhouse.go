package clickhouse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

type Config struct {
	DSN          string
	SamplesTable string // по умолчанию rec_samples
	LapsTable    string // по умолчанию rec_laps
}

// Store пишет значения каналов в ClickHouse пакетами.
// Описание каналов хранится только в памяти процесса (ChannelBook).
type Store struct {
	conn    ch.Conn
	book    *recorder.ChannelBook
	samples string
	laps    string
}

var _ recorder.Recorder = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("clickhouse: DSN is empty")
	}
	opts, err := parseOptions(cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	s := &Store{
		conn:    conn,
		book:    recorder.NewChannelBook(),
		samples: qualify(opts.Auth.Database, cfg.SamplesTable, "rec_samples"),
		laps:    qualify(opts.Auth.Database, cfg.LapsTable, "rec_laps"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func parseOptions(dsn string) (*ch.Options, error) {
	parsed, err := url.Parse(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse DSN: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = "localhost:9000"
	}
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "9000")
	}
	database := strings.TrimPrefix(parsed.Path, "/")
	if database == "" {
		database = "default"
	}
	password, _ := parsed.User.Password()
	return &ch.Options{
		Addr: []string{host},
		Auth: ch.Auth{
			Database: database,
			Username: parsed.User.Username(),
			Password: password,
		},
	}, nil
}

// normalizeDSN приводит короткую схему ch:// к clickhouse://.
func normalizeDSN(dsn string) string {
	if strings.HasPrefix(strings.ToLower(dsn), "ch://") {
		return "clickhouse://" + dsn[len("ch://"):]
	}
	return dsn
}

func qualify(database, table, def string) string {
	if table == "" {
		table = def
	}
	if strings.Contains(table, ".") {
		return table
	}
	return database + "." + table
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf(samplesDDL, s.samples)); err != nil {
		return fmt.Errorf("clickhouse: create %s: %w", s.samples, err)
	}
	if err := s.conn.Exec(ctx, fmt.Sprintf(lapsDDL, s.laps)); err != nil {
		return fmt.Errorf("clickhouse: create %s: %w", s.laps, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, info recorder.SessionInfo) (recorder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	return s.book.Open(info), nil
}

func (s *Store) RegisterChannel(_ context.Context, h recorder.Handle, name string, dt recorder.DataType) (recorder.ChannelID, error) {
	id, _, err := s.book.Register(h, name, dt)
	return id, err
}

func (s *Store) CommitConfiguration(_ context.Context, h recorder.Handle) error {
	return s.book.Commit(h)
}

type sampleRow struct {
	channel string
	ts      int64
	value   float64
}

func (s *Store) WriteRow(ctx context.Context, h recorder.Handle, ids []recorder.ChannelID, ts int64, values []float64) error {
	names, err := s.book.CheckRow(h, ids, len(values))
	if err != nil {
		return err
	}
	rows := make([]sampleRow, len(names))
	for i, name := range names {
		rows[i] = sampleRow{channel: name, ts: ts, value: values[i]}
	}
	return s.sendSamples(ctx, h, rows)
}

func (s *Store) WriteSeries(ctx context.Context, h recorder.Handle, id recorder.ChannelID, ts []int64, values []float64) error {
	name, err := s.book.CheckSeries(h, id, len(ts), len(values))
	if err != nil {
		return err
	}
	rows := make([]sampleRow, len(ts))
	for i := range ts {
		rows[i] = sampleRow{channel: name, ts: ts[i], value: values[i]}
	}
	return s.sendSamples(ctx, h, rows)
}

func (s *Store) sendSamples(ctx context.Context, h recorder.Handle, rows []sampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	info, _ := s.book.Info(h)
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (handle, session_key, channel, ts, value)", s.samples))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare samples batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(string(h), info.Key, r.channel, time.Unix(0, r.ts).UTC(), r.value); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("clickhouse: append sample %s: %w", r.channel, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send samples batch: %w", err)
	}
	return nil
}

func (s *Store) AddLap(ctx context.Context, h recorder.Handle, lap recorder.Lap) error {
	if err := s.book.CheckWritable(h); err != nil {
		return err
	}
	info, _ := s.book.Info(h)
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (handle, session_key, ts, number, name)", s.laps))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare lap batch: %w", err)
	}
	if err := batch.Append(string(h), info.Key, time.Unix(0, lap.Timestamp).UTC(), lap.Number, lap.Name); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("clickhouse: append lap: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send lap batch: %w", err)
	}
	return nil
}

func (s *Store) EndSession(_ context.Context, h recorder.Handle) error {
	_, err := s.book.End(h)
	return err
}

func (s *Store) CloseSession(_ context.Context, h recorder.Handle) error {
	return s.book.Close(h)
}

// CountSamples возвращает число записанных значений канала сессии.
func (s *Store) CountSamples(ctx context.Context, h recorder.Handle, channel string) (uint64, error) {
	var count uint64
	query := fmt.Sprintf("SELECT count() FROM %s WHERE handle = @handle AND channel = @channel", s.samples)
	if err := s.conn.QueryRow(ctx, query, ch.Named("handle", string(h)), ch.Named("channel", channel)).Scan(&count); err != nil {
		return 0, fmt.Errorf("clickhouse: count samples: %w", err)
	}
	return count, nil
}

const samplesDDL = `
CREATE TABLE IF NOT EXISTS %s (
    handle      String,
    session_key String,
    channel     LowCardinality(String),
    ts          DateTime64(9),
    value       Float64
) ENGINE = MergeTree
ORDER BY (handle, channel, ts)`

const lapsDDL = `
CREATE TABLE IF NOT EXISTS %s (
    handle      String,
    session_key String,
    ts          DateTime64(9),
    number      Int64,
    name        String
) ENGINE = MergeTree
ORDER BY (handle, ts)`

func IsSource(dsn string) bool {
	if dsn == "" {
		return false
	}
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "clickhouse://") || strings.HasPrefix(lower, "ch://")
}
