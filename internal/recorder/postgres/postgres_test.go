package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

func TestNewErrorsAndHelpers(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{ConnString: "postgres://%zz"})
	require.Error(t, err)

	assert.True(t, IsPostgresURL("postgres://localhost/db"))
	assert.True(t, IsPostgresURL("postgresql://host/db"))
	assert.False(t, IsPostgresURL("http://example.com"))
}

func TestStoreRejectsBeforeTouchingPool(t *testing.T) {
	ctx := context.Background()
	// без пула: ошибки книги каналов возвращаются раньше обращения к базе
	store := &Store{book: recorder.NewChannelBook()}
	assert.ErrorIs(t, store.WriteSeries(ctx, "missing", 1, []int64{1}, []float64{1}), recorder.ErrUnknownSession)
	assert.ErrorIs(t, store.WriteRow(ctx, "missing", []recorder.ChannelID{1}, 1, nil), recorder.ErrLengthMismatch)
	assert.ErrorIs(t, store.AddLap(ctx, "missing", recorder.Lap{}), recorder.ErrUnknownSession)
	assert.NoError(t, store.copySamples(ctx, nil))
}

// Интеграционный тест. Нужна переменная POSTGRES_TEST_DSN с доступной на запись базой.
func TestStoreSessionLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN is not set; skipping integration test")
	}
	ctx := context.Background()
	store, err := New(ctx, Config{ConnString: dsn})
	require.NoError(t, err)
	defer store.Close()

	h, err := store.CreateSession(ctx, recorder.SessionInfo{Key: "it-session"})
	require.NoError(t, err)
	id, err := store.RegisterChannel(ctx, h, "vCar_Buffered", recorder.DataTypeFloat64)
	require.NoError(t, err)
	require.NoError(t, store.CommitConfiguration(ctx, h))
	require.NoError(t, store.WriteSeries(ctx, h, id, []int64{2, 1}, []float64{20, 10}))
	require.NoError(t, store.WriteRow(ctx, h, []recorder.ChannelID{id}, 3, []float64{30}))
	require.NoError(t, store.AddLap(ctx, h, recorder.Lap{Timestamp: 1, Number: 1, Name: "Out Lap"}))
	require.NoError(t, store.EndSession(ctx, h))

	ts, values, err := store.ReadChannel(ctx, h, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ts)
	assert.Equal(t, []float64{10, 20, 30}, values)
	require.NoError(t, store.CloseSession(ctx, h))
}
