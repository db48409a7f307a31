package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pv/telemetry-recorder/internal/recorder/memrecorder"
	sqliteRec "github.com/pv/telemetry-recorder/internal/recorder/sqlite"
)

func TestFindConfigYAML(t *testing.T) {
	assert.Equal(t, "a.yaml", findConfigYAML([]string{"--db", "x", "--config-yaml", "a.yaml"}))
	assert.Equal(t, "b.yaml", findConfigYAML([]string{"--config-yaml=b.yaml"}))
	assert.Empty(t, findConfigYAML([]string{"--config-yaml"}))
}

func TestFlattenYAMLAndKeyMapping(t *testing.T) {
	flat := flattenYAML(map[string]any{
		"database": map[string]any{
			"dsn":    "sqlite://x.db",
			"sqlite": map[string]any{"cache_mb": 10},
		},
		"parameters": map[string]any{"list": []any{"vCar:Chassis", "nEngine:Engine"}},
	})
	assert.Equal(t, "sqlite://x.db", flat["database.dsn"])
	assert.Equal(t, 10, flat["database.sqlite.cache_mb"])
	assert.Equal(t, "vCar:Chassis,nEngine:Engine", flat["parameters.list"])

	assert.Equal(t, "db", yamlKeyToFlag("database.dsn"))
	assert.Equal(t, "sqlite-cache-mb", yamlKeyToFlag("database.sqlite.cache_mb"))
	assert.Equal(t, "interp-period", yamlKeyToFlag("processing.interp_period"))
	assert.Empty(t, yamlKeyToFlag("unknown.key"))

	assert.Equal(t, "1.5s", formatFlagValue(1500*time.Millisecond))
	assert.Equal(t, "true", formatFlagValue(true))
}

func TestApplyYAMLDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dsn: sqlite://rec.db
processing:
  hz: 20
  interp_period: 5ms
parameters:
  list: [vCar:Chassis]
generator:
  enabled: true
unknown: 1
`), 0o644))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	db := fs.String("db", "memory", "")
	hz := fs.Float64("processing-hz", 10, "")
	period := fs.Duration("interp-period", time.Millisecond, "")
	params := fs.String("params", "", "")
	gen := fs.Bool("generate", false, "")

	require.NoError(t, applyYAMLDefaults(fs, path))
	require.NoError(t, fs.Parse([]string{"--processing-hz", "50"}))
	assert.Equal(t, "sqlite://rec.db", *db)
	assert.InDelta(t, 50, *hz, 1e-9)
	assert.Equal(t, 5*time.Millisecond, *period)
	assert.Equal(t, "vCar:Chassis", *params)
	assert.True(t, *gen)

	require.Error(t, applyYAMLDefaults(fs, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestGenerateExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cfg.yaml")
	require.NoError(t, generateExampleConfig(path))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	db := fs.String("db", "", "")
	hz := fs.Float64("processing-hz", 0, "")
	require.NoError(t, applyYAMLDefaults(fs, path))
	assert.Equal(t, "sqlite://recorder.db", *db)
	assert.InDelta(t, 10, *hz, 1e-9)
}

func TestInitRecorderSelection(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	rec, err := initRecorder(ctx, options{dbURL: "memory"}, &log)
	require.NoError(t, err)
	assert.IsType(t, &memrecorder.Store{}, rec)

	dbPath := filepath.Join(t.TempDir(), "rec.db")
	rec, err = initRecorder(ctx, options{dbURL: "sqlite://" + dbPath}, &log)
	require.NoError(t, err)
	assert.IsType(t, &sqliteRec.Store{}, rec)
	require.NoError(t, rec.Close())

	_, err = initRecorder(ctx, options{dbURL: "mysql://nope"}, &log)
	assert.Error(t, err)

	assert.Equal(t, "memory", backendName(""))
	assert.Equal(t, "postgres", backendName("postgres://h/db"))
	assert.Equal(t, "clickhouse", backendName("ch://h/db"))
	assert.Equal(t, "influxdb", backendName("influxdb://h/db"))
	assert.Equal(t, "sqlite", backendName("x.db"))
}

func TestRunGeneratesSession(t *testing.T) {
	log := zerolog.Nop()
	opts := options{
		dbURL:        "memory",
		params:       "Sin:MyApp,Cos:MyApp",
		selector:     "Sin:MyApp",
		processingHz: 10,
		interpolate:  true,
		interpPeriod: 10 * time.Millisecond,
		generate:     true,
		genPackets:   2,
		genSamples:   50,
		genFrequency: 100,
		stopTimeout:  time.Second,
	}
	require.NoError(t, run(context.Background(), opts, &log))

	opts.generate = false
	assert.Error(t, run(context.Background(), opts, &log))

	opts.generate = true
	opts.params = ""
	assert.Error(t, run(context.Background(), opts, &log))
}
