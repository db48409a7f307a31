package clickhouse

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		dsn      string
		addr     string
		database string
		user     string
		password string
	}{
		{"clickhouse://localhost", "localhost:9000", "default", "", ""},
		{"ch://user:secret@db.local:9440/telemetry", "db.local:9440", "telemetry", "user", "secret"},
		{"clickhouse://chhost/rec", "chhost:9000", "rec", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			opts, err := parseOptions(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.addr}, opts.Addr)
			assert.Equal(t, tt.database, opts.Auth.Database)
			assert.Equal(t, tt.user, opts.Auth.Username)
			assert.Equal(t, tt.password, opts.Auth.Password)
		})
	}
}

func TestQualifyAndIsSource(t *testing.T) {
	assert.Equal(t, "telemetry.rec_samples", qualify("telemetry", "", "rec_samples"))
	assert.Equal(t, "other.tbl", qualify("telemetry", "other.tbl", "rec_samples"))
	assert.Equal(t, "telemetry.tbl", qualify("telemetry", "tbl", "rec_samples"))

	assert.True(t, IsSource("clickhouse://localhost"))
	assert.True(t, IsSource("CH://localhost"))
	assert.False(t, IsSource("postgres://localhost"))
	assert.False(t, IsSource(""))
	assert.Equal(t, "clickhouse://h/db", normalizeDSN("ch://h/db"))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestBookChecksBeforeConn(t *testing.T) {
	ctx := context.Background()
	store := &Store{book: recorder.NewChannelBook()}

	h, err := store.CreateSession(ctx, recorder.SessionInfo{Key: "s1"})
	require.NoError(t, err)
	id, err := store.RegisterChannel(ctx, h, "vCar_Min", recorder.DataTypeFloat64)
	require.NoError(t, err)

	assert.ErrorIs(t, store.WriteSeries(ctx, h, id, []int64{1}, []float64{1}), recorder.ErrNotCommitted)
	require.NoError(t, store.CommitConfiguration(ctx, h))
	// пустой ряд не обращается к соединению
	require.NoError(t, store.WriteSeries(ctx, h, id, nil, nil))
	require.NoError(t, store.EndSession(ctx, h))
	assert.ErrorIs(t, store.AddLap(ctx, h, recorder.Lap{}), recorder.ErrSessionEnded)
	require.NoError(t, store.CloseSession(ctx, h))
}

// Интеграционный тест. Нужна переменная CLICKHOUSE_TEST_DSN.
func TestStoreWrites_ClickHouse(t *testing.T) {
	dsn := os.Getenv("CLICKHOUSE_TEST_DSN")
	if dsn == "" {
		t.Skip("CLICKHOUSE_TEST_DSN is not set; skipping ClickHouse integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := New(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer store.Close()

	h, err := store.CreateSession(ctx, recorder.SessionInfo{Key: "it-session"})
	require.NoError(t, err)
	id, err := store.RegisterChannel(ctx, h, "vCar_Buffered", recorder.DataTypeFloat64)
	require.NoError(t, err)
	require.NoError(t, store.CommitConfiguration(ctx, h))
	require.NoError(t, store.WriteSeries(ctx, h, id, []int64{1, 2, 3}, []float64{1, 2, 3}))
	require.NoError(t, store.WriteRow(ctx, h, []recorder.ChannelID{id}, 4, []float64{4}))
	require.NoError(t, store.AddLap(ctx, h, recorder.Lap{Timestamp: 1, Number: 1, Name: "Out Lap"}))

	count, err := store.CountSamples(ctx, h, "vCar_Buffered")
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
	require.NoError(t, store.EndSession(ctx, h))
	require.NoError(t, store.CloseSession(ctx, h))
}
