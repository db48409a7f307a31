package influxdb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

type fakeClient struct {
	batches  []client.BatchPoints
	writeErr error
	closed   bool
}

func (f *fakeClient) Ping(time.Duration) (time.Duration, string, error) { return 0, "fake", nil }

func (f *fakeClient) Write(bp client.BatchPoints) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.batches = append(f.batches, bp)
	return nil
}

func (f *fakeClient) Query(client.Query) (*client.Response, error) { return &client.Response{}, nil }

func (f *fakeClient) QueryAsChunk(client.Query) (*client.ChunkedResponse, error) { return nil, nil }

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestParseDSN(t *testing.T) {
	addr, db, user, pass, err := parseDSN("influx://u:p@metrics:9999/telemetry")
	require.NoError(t, err)
	assert.Equal(t, "http://metrics:9999", addr)
	assert.Equal(t, "telemetry", db)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)

	addr, _, _, _, err = parseDSN("influxdb://host/db")
	require.NoError(t, err)
	assert.Equal(t, "http://host:8086", addr)

	_, _, _, _, err = parseDSN("influxdb://host")
	assert.Error(t, err)
}

func TestIsSource(t *testing.T) {
	assert.True(t, IsSource("influxdb://h/db"))
	assert.True(t, IsSource("INFLUX://h/db"))
	assert.False(t, IsSource("clickhouse://h"))
	assert.False(t, IsSource(""))
}

func TestStoreWritesPoints(t *testing.T) {
	ctx := context.Background()
	fake := &fakeClient{}
	store := newWithClient(fake, "telemetry", zerolog.Nop())

	h, err := store.CreateSession(ctx, recorder.SessionInfo{Key: "s1"})
	require.NoError(t, err)
	buf, err := store.RegisterChannel(ctx, h, "vCar_Buffered", recorder.DataTypeFloat64)
	require.NoError(t, err)
	mean, err := store.RegisterChannel(ctx, h, "vCar_Mean", recorder.DataTypeFloat64)
	require.NoError(t, err)
	require.NoError(t, store.CommitConfiguration(ctx, h))

	require.NoError(t, store.WriteSeries(ctx, h, buf, []int64{1, 2}, []float64{10, 20}))
	require.NoError(t, store.WriteRow(ctx, h, []recorder.ChannelID{buf, mean}, 3, []float64{30, 15}))
	require.NoError(t, store.AddLap(ctx, h, recorder.Lap{Timestamp: 5, Number: 1, Name: "Out Lap"}))
	require.NoError(t, store.WriteSeries(ctx, h, buf, nil, nil))

	require.Len(t, fake.batches, 3)
	series := fake.batches[0]
	assert.Equal(t, "telemetry", series.Database())
	require.Len(t, series.Points(), 2)
	pt := series.Points()[0]
	assert.Equal(t, "vCar_Buffered", pt.Name())
	assert.Equal(t, "s1", pt.Tags()["session"])
	assert.Equal(t, int64(1), pt.Time().UnixNano())
	fields, err := pt.Fields()
	require.NoError(t, err)
	assert.Equal(t, 10.0, fields["value"])

	row := fake.batches[1].Points()
	require.Len(t, row, 2)
	assert.Equal(t, "vCar_Mean", row[1].Name())

	lap := fake.batches[2].Points()[0]
	assert.Equal(t, lapsMeasurement, lap.Name())

	require.NoError(t, store.EndSession(ctx, h))
	assert.ErrorIs(t, store.WriteRow(ctx, h, []recorder.ChannelID{buf}, 9, []float64{1}), recorder.ErrSessionEnded)
	require.NoError(t, store.CloseSession(ctx, h))
	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}

func TestStoreWriteError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	store := newWithClient(&fakeClient{writeErr: boom}, "db", zerolog.Nop())
	h, err := store.CreateSession(ctx, recorder.SessionInfo{Key: "s"})
	require.NoError(t, err)
	id, err := store.RegisterChannel(ctx, h, "a", recorder.DataTypeFloat64)
	require.NoError(t, err)
	require.NoError(t, store.CommitConfiguration(ctx, h))
	assert.ErrorIs(t, store.WriteSeries(ctx, h, id, []int64{1}, []float64{1}), boom)
}

// Интеграционный тест. Нужна переменная INFLUXDB_TEST_DSN.
func TestStoreWrites_InfluxDB(t *testing.T) {
	dsn := os.Getenv("INFLUXDB_TEST_DSN")
	if dsn == "" {
		t.Skip("INFLUXDB_TEST_DSN is not set; skipping InfluxDB integration test")
	}
	ctx := context.Background()
	store, err := New(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer store.Close()

	h, err := store.CreateSession(ctx, recorder.SessionInfo{Key: "it-session"})
	require.NoError(t, err)
	id, err := store.RegisterChannel(ctx, h, "vCar_Buffered", recorder.DataTypeFloat64)
	require.NoError(t, err)
	require.NoError(t, store.CommitConfiguration(ctx, h))
	now := time.Now().UnixNano()
	require.NoError(t, store.WriteSeries(ctx, h, id, []int64{now, now + 1}, []float64{1, 2}))
	require.NoError(t, store.EndSession(ctx, h))
}
