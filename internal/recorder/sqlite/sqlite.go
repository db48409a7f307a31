package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

// Pragmas задаёт настройки SQLite, применяемые при открытии.
type Pragmas struct {
	CacheMB    int
	WAL        bool
	SyncOff    bool
	TempMemory bool
}

type Config struct {
	Source  string
	Pragmas Pragmas
}

// Store пишет сессии в файл SQLite.
type Store struct {
	db   *sql.DB
	book *recorder.ChannelBook
}

var _ recorder.Recorder = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Один коннект: SQLite не любит параллельных писателей, а :memory: живёт в рамках соединения.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := applyPragmas(ctx, db, cfg.Pragmas); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db, book: recorder.NewChannelBook()}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, p Pragmas) error {
	var stmts []string
	if p.CacheMB > 0 {
		// отрицательное значение — размер в KiB
		stmts = append(stmts, fmt.Sprintf("PRAGMA cache_size=-%d", p.CacheMB*1024))
	}
	if p.WAL {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	if p.SyncOff {
		stmts = append(stmts, "PRAGMA synchronous=OFF")
	}
	if p.TempMemory {
		stmts = append(stmts, "PRAGMA temp_store=MEMORY")
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: %s: %w", stmt, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, info recorder.SessionInfo) (recorder.Handle, error) {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	h := s.book.Open(info)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rec_sessions(handle, session_key, identifier, created_at) VALUES (?, ?, ?, ?)`,
		string(h), info.Key, info.Identifier, info.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		_ = s.book.Close(h)
		return "", fmt.Errorf("sqlite: insert session: %w", err)
	}
	return h, nil
}

func (s *Store) RegisterChannel(ctx context.Context, h recorder.Handle, name string, dt recorder.DataType) (recorder.ChannelID, error) {
	id, created, err := s.book.Register(h, name, dt)
	if err != nil {
		return 0, err
	}
	if !created {
		return id, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rec_channels(handle, channel_id, name, data_type) VALUES (?, ?, ?, ?)`,
		string(h), int64(id), name, dt.String()); err != nil {
		return 0, fmt.Errorf("sqlite: insert channel %s: %w", name, err)
	}
	return id, nil
}

func (s *Store) CommitConfiguration(ctx context.Context, h recorder.Handle) error {
	if err := s.book.Commit(h); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE rec_sessions SET committed = 1 WHERE handle = ?`, string(h)); err != nil {
		return fmt.Errorf("sqlite: commit configuration: %w", err)
	}
	return nil
}

func (s *Store) WriteRow(ctx context.Context, h recorder.Handle, ids []recorder.ChannelID, ts int64, values []float64) error {
	if _, err := s.book.CheckRow(h, ids, len(values)); err != nil {
		return err
	}
	return s.insertSamples(ctx, h, len(ids), func(i int) (recorder.ChannelID, int64, float64) {
		return ids[i], ts, values[i]
	})
}

func (s *Store) WriteSeries(ctx context.Context, h recorder.Handle, id recorder.ChannelID, ts []int64, values []float64) error {
	if _, err := s.book.CheckSeries(h, id, len(ts), len(values)); err != nil {
		return err
	}
	return s.insertSamples(ctx, h, len(ts), func(i int) (recorder.ChannelID, int64, float64) {
		return id, ts[i], values[i]
	})
}

func (s *Store) insertSamples(ctx context.Context, h recorder.Handle, n int, row func(i int) (recorder.ChannelID, int64, float64)) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rec_samples(handle, channel_id, ts_ns, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	for i := 0; i < n; i++ {
		id, ts, value := row(i)
		if _, err := stmt.ExecContext(ctx, string(h), int64(id), ts, value); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("sqlite: insert sample channel %d: %w", id, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit samples tx: %w", err)
	}
	return nil
}

func (s *Store) AddLap(ctx context.Context, h recorder.Handle, lap recorder.Lap) error {
	if err := s.book.CheckWritable(h); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rec_laps(handle, ts_ns, number, name) VALUES (?, ?, ?, ?)`,
		string(h), lap.Timestamp, lap.Number, lap.Name); err != nil {
		return fmt.Errorf("sqlite: insert lap: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, h recorder.Handle) error {
	already, err := s.book.End(h)
	if err != nil || already {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE rec_sessions SET ended_at = ? WHERE handle = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), string(h)); err != nil {
		return fmt.Errorf("sqlite: end session: %w", err)
	}
	return nil
}

func (s *Store) CloseSession(_ context.Context, h recorder.Handle) error {
	return s.book.Close(h)
}

// ReadChannel возвращает записанные значения канала по возрастанию времени.
func (s *Store) ReadChannel(ctx context.Context, h recorder.Handle, id recorder.ChannelID) ([]int64, []float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ns, value FROM rec_samples WHERE handle = ? AND channel_id = ? ORDER BY ts_ns, rowid`,
		string(h), int64(id))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: read channel: %w", err)
	}
	defer rows.Close()
	var (
		timestamps []int64
		values     []float64
	)
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, nil, fmt.Errorf("sqlite: read channel scan: %w", err)
		}
		timestamps = append(timestamps, ts)
		values = append(values, value)
	}
	return timestamps, values, rows.Err()
}

// StoredSession — запись сессии из файла.
type StoredSession struct {
	Handle    recorder.Handle
	Key       string
	CreatedAt string
	Committed bool
	EndedAt   string // пусто, если сессия не завершена
}

// StoredChannel — описание канала из файла.
type StoredChannel struct {
	ID       recorder.ChannelID
	Name     string
	DataType string
}

// ListSessions возвращает все сессии файла в порядке создания.
func (s *Store) ListSessions(ctx context.Context) ([]StoredSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, session_key, created_at, committed, ended_at FROM rec_sessions ORDER BY created_at, handle`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()
	var out []StoredSession
	for rows.Next() {
		var (
			st     StoredSession
			handle string
			ended  sql.NullString
		)
		if err := rows.Scan(&handle, &st.Key, &st.CreatedAt, &st.Committed, &ended); err != nil {
			return nil, fmt.Errorf("sqlite: list sessions scan: %w", err)
		}
		st.Handle = recorder.Handle(handle)
		st.EndedAt = ended.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListChannels возвращает каналы сессии по возрастанию id.
func (s *Store) ListChannels(ctx context.Context, h recorder.Handle) ([]StoredChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, name, data_type FROM rec_channels WHERE handle = ? ORDER BY channel_id`, string(h))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list channels: %w", err)
	}
	defer rows.Close()
	var out []StoredChannel
	for rows.Next() {
		var (
			ch StoredChannel
			id int64
		)
		if err := rows.Scan(&id, &ch.Name, &ch.DataType); err != nil {
			return nil, fmt.Errorf("sqlite: list channels scan: %w", err)
		}
		ch.ID = recorder.ChannelID(id)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// LapCount возвращает количество маркеров сессии.
func (s *Store) LapCount(ctx context.Context, h recorder.Handle) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rec_laps WHERE handle = ?`, string(h)).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: lap count: %w", err)
	}
	return count, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rec_sessions(
	handle      TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	identifier  TEXT,
	created_at  TEXT NOT NULL,
	committed   INTEGER NOT NULL DEFAULT 0,
	ended_at    TEXT
);
CREATE TABLE IF NOT EXISTS rec_channels(
	handle     TEXT NOT NULL,
	channel_id INTEGER NOT NULL,
	name       TEXT NOT NULL,
	data_type  TEXT NOT NULL,
	PRIMARY KEY(handle, channel_id)
);
CREATE TABLE IF NOT EXISTS rec_samples(
	handle     TEXT NOT NULL,
	channel_id INTEGER NOT NULL,
	ts_ns      INTEGER NOT NULL,
	value      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS rec_samples_channel_ts ON rec_samples(handle, channel_id, ts_ns);
CREATE TABLE IF NOT EXISTS rec_laps(
	handle TEXT NOT NULL,
	ts_ns  INTEGER NOT NULL,
	number INTEGER NOT NULL,
	name   TEXT
);
`

func IsSource(src string) bool {
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		src == ":memory:":
		return true
	default:
		return false
	}
}

func NormalizeSource(src string) string {
	if strings.HasPrefix(src, "sqlite://") {
		return strings.TrimPrefix(src, "sqlite://")
	}
	return src
}
