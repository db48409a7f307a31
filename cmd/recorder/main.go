package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pv/telemetry-recorder/internal/api"
	"github.com/pv/telemetry-recorder/internal/ingest"
	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/processing"
	"github.com/pv/telemetry-recorder/internal/recorder"
	"github.com/pv/telemetry-recorder/internal/recorder/clickhouse"
	"github.com/pv/telemetry-recorder/internal/recorder/influxdb"
	"github.com/pv/telemetry-recorder/internal/recorder/memrecorder"
	"github.com/pv/telemetry-recorder/internal/recorder/postgres"
	sqliteRec "github.com/pv/telemetry-recorder/internal/recorder/sqlite"
	"github.com/pv/telemetry-recorder/internal/results"
	"github.com/pv/telemetry-recorder/internal/session"
	"github.com/pv/telemetry-recorder/internal/source"
	"github.com/pv/telemetry-recorder/pkg/config"
)

type options struct {
	configYAML   string
	dbURL        string
	confile      string
	params       string
	selector     string
	processingHz float64
	deliveryHz   float64
	interpolate  bool
	interpPeriod time.Duration

	generate     bool
	genPackets   int
	genSamples   int
	genFrequency float64
	genSpeed     float64

	httpAddr      string
	chSamples     string
	chLaps        string
	pgMaxConns    int
	sqliteCacheMB int
	sqliteWAL     bool
	sqliteSyncOff bool
	sqliteTempMem bool
	stopTimeout   time.Duration

	logLevel    string
	logFile     string
	logConsole  bool
	debugLogs   bool
	version     bool
	generateCfg string
}

const version = "0.3.0-dev"

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println("telemetry-recorder", version)
		return
	}
	if opts.generateCfg != "" {
		if err := generateExampleConfig(opts.generateCfg); err != nil {
			fmt.Fprintf(os.Stderr, "write example config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(logging.Options{Level: opts.logLevel, File: opts.logFile, Console: opts.logConsole})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, &logger.Logger); err != nil {
		logger.Error().Err(err).Msg("recorder failed")
		stop()
		_ = logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *zerolog.Logger) error {
	if opts.httpAddr == "" && !opts.generate {
		return errors.New("nothing to do: set --http-addr or --generate")
	}

	cfg, err := loadParameters(opts)
	if err != nil {
		return err
	}
	ids, err := cfg.Resolve(opts.selector)
	if err != nil {
		return fmt.Errorf("resolve --select: %w", err)
	}
	filter, err := cfg.Registry(ids)
	if err != nil {
		return fmt.Errorf("parameter registry: %w", err)
	}

	rec, err := initRecorder(ctx, opts, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			log.Warn().Err(err).Msg("close recorder")
		}
	}()

	p, err := buildPipeline(opts, ids, filter, rec, log)
	if err != nil {
		return err
	}
	log.Info().Str("backend", backendName(opts.dbURL)).Int("parameters", len(ids)).
		Strs("variants", variantNames(p.registry.Variants())).Msg("recorder ready")

	g, gctx := errgroup.WithContext(ctx)
	defaults := source.Generator{
		Parameters:       ids,
		Frequency:        opts.genFrequency,
		SamplesPerPacket: opts.genSamples,
		Packets:          opts.genPackets,
		Speed:            opts.genSpeed,
		Logger:           log,
	}

	if opts.httpAddr != "" {
		streamer := api.NewSessionStreamer(p.registry, log)
		p.registry.AddObserver(streamer)
		api.SetDebugLogging(opts.debugLogs)
		server, err := api.NewServer(api.Config{
			Sessions:      p.registry,
			Subscriptions: p.engine,
			Ingest:        p.adapter,
			Parameters:    filter,
			Manager:       api.NewManager(p.hub, defaults),
			Streamer:      streamer,
			Logger:        log,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return server.Listen(gctx, opts.httpAddr) })
	}

	if opts.generate {
		g.Go(func() error {
			_, err := defaults.Run(gctx, p.hub)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	runErr := g.Wait()
	p.summary(log)

	stopCtx, cancel := context.WithTimeout(context.Background(), opts.stopTimeout)
	defer cancel()
	if err := p.registry.StopAll(stopCtx); err != nil {
		log.Error().Err(err).Msg("stop sessions")
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// pipeline связывает компоненты обработки одного процесса.
type pipeline struct {
	registry *session.Registry
	engine   *processing.Engine
	results  *results.Recorder
	adapter  *ingest.Adapter
	hub      *ingest.Hub
}

func buildPipeline(opts options, ids []string, filter *config.ParameterRegistry, rec recorder.Recorder, log *zerolog.Logger) (*pipeline, error) {
	providers := []session.VariantProvider{processing.NewAggregator()}
	if opts.interpolate {
		providers = append(providers, processing.NewInterpolator(opts.interpPeriod))
	}
	registry, err := session.New(session.Config{
		Parameters: ids,
		Variants:   session.VariantsFor(providers...),
		Recorder:   rec,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	resRec, err := results.New(results.Config{Sessions: registry, Logger: log})
	if err != nil {
		return nil, err
	}
	engine := processing.NewEngine(log)
	if err := engine.Subscribe(processing.Subscription{
		Key:          "stats",
		Parameters:   ids,
		ProcessingHz: opts.processingHz,
		DeliveryHz:   opts.deliveryHz,
		Handler:      resRec,
	}); err != nil {
		return nil, err
	}
	if opts.interpolate {
		period := opts.interpPeriod
		if err := engine.Subscribe(processing.Subscription{
			Key:          "interpolation",
			Parameters:   ids,
			ProcessingHz: opts.processingHz,
			DeliveryHz:   opts.deliveryHz,
			Handler:      resRec,
			NewProcessor: func() processing.Processor { return processing.NewInterpolator(period) },
		}); err != nil {
			return nil, err
		}
	}

	adapter, err := ingest.NewAdapter(ingest.Config{
		Sessions:   registry,
		Parameters: filter,
		Sink:       engine,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	hub := ingest.NewHub()
	hub.AddHandler(adapter)
	return &pipeline{registry: registry, engine: engine, results: resRec, adapter: adapter, hub: hub}, nil
}

func (p *pipeline) summary(log *zerolog.Logger) {
	c := p.adapter.Counters()
	log.Info().Int64("batches", c.Batches).Int64("dropped", c.Dropped).Int64("writes", c.Writes).
		Int64("laps", c.Laps).Int64("result_writes", p.results.Written()).
		Int("sessions", len(p.registry.Sessions())).Msg("ingest summary")
}

func loadParameters(opts options) (*config.Config, error) {
	switch {
	case opts.confile != "":
		return config.Load(opts.confile)
	case opts.params != "":
		return config.FromParameters(strings.Split(opts.params, ","))
	default:
		return nil, errors.New("either --confile or --params is required")
	}
}

func initRecorder(ctx context.Context, opts options, log *zerolog.Logger) (recorder.Recorder, error) {
	dsn := opts.dbURL
	switch {
	case isMemory(dsn):
		return memrecorder.New(), nil
	case postgres.IsPostgresURL(dsn):
		store, err := postgres.New(ctx, postgres.Config{ConnString: dsn, MaxConns: int32(opts.pgMaxConns), Logger: log})
		if err != nil {
			return nil, fmt.Errorf("postgres recorder: %w", err)
		}
		return store, nil
	case clickhouse.IsSource(dsn):
		store, err := clickhouse.New(ctx, clickhouse.Config{DSN: dsn, SamplesTable: opts.chSamples, LapsTable: opts.chLaps})
		if err != nil {
			return nil, fmt.Errorf("clickhouse recorder: %w", err)
		}
		return store, nil
	case influxdb.IsSource(dsn):
		store, err := influxdb.New(ctx, influxdb.Config{DSN: dsn, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("influxdb recorder: %w", err)
		}
		return store, nil
	case sqliteRec.IsSource(dsn):
		store, err := sqliteRec.New(ctx, sqliteRec.Config{
			Source: sqliteRec.NormalizeSource(dsn),
			Pragmas: sqliteRec.Pragmas{
				CacheMB:    opts.sqliteCacheMB,
				WAL:        opts.sqliteWAL,
				SyncOff:    opts.sqliteSyncOff,
				TempMemory: opts.sqliteTempMem,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite recorder: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported --db value: %s", dsn)
	}
}

func isMemory(dsn string) bool {
	lower := strings.ToLower(dsn)
	return lower == "" || lower == "memory" || strings.HasPrefix(lower, "memory://")
}

func backendName(dsn string) string {
	switch {
	case isMemory(dsn):
		return "memory"
	case postgres.IsPostgresURL(dsn):
		return "postgres"
	case clickhouse.IsSource(dsn):
		return "clickhouse"
	case influxdb.IsSource(dsn):
		return "influxdb"
	case sqliteRec.IsSource(dsn):
		return "sqlite"
	default:
		return "unknown"
	}
}

func variantNames(vs []session.Variant) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

func parseFlags() options {
	var opt options

	flag.StringVar(&opt.configYAML, "config-yaml", "", "path to YAML file with default flag values")
	flag.StringVar(&opt.dbURL, "db", "memory", "recorder backend: memory, file.db/sqlite://, postgres://, clickhouse://, influxdb://")
	flag.StringVar(&opt.confile, "confile", "", "path to parameter configuration (JSON/YAML)")
	flag.StringVar(&opt.params, "params", "", "comma separated parameter identifiers (name:group), used without --confile")
	flag.StringVar(&opt.selector, "select", "ALL", "parameter list or set name from config")
	flag.Float64Var(&opt.processingHz, "processing-hz", 10, "subscription processing frequency (Hz)")
	flag.Float64Var(&opt.deliveryHz, "delivery-hz", 0, "result delivery frequency (Hz); 0 = processing frequency")
	flag.BoolVar(&opt.interpolate, "interpolate", true, "record interpolated channels")
	flag.DurationVar(&opt.interpPeriod, "interp-period", 10*time.Millisecond, "interpolation grid period")

	flag.BoolVar(&opt.generate, "generate", false, "generate one mock session at startup")
	flag.IntVar(&opt.genPackets, "gen-packets", source.DefaultPackets, "mock session packets")
	flag.IntVar(&opt.genSamples, "gen-samples", source.DefaultSamplesPerPacket, "samples per mock packet")
	flag.Float64Var(&opt.genFrequency, "gen-frequency", source.DefaultFrequency, "mock sample frequency (Hz)")
	flag.Float64Var(&opt.genSpeed, "gen-speed", 1, "mock speed multiplier (0 = as fast as possible)")

	flag.StringVar(&opt.httpAddr, "http-addr", "", "run HTTP status server on the given addr (e.g. :8080)")
	flag.StringVar(&opt.chSamples, "ch-samples-table", "rec_samples", "ClickHouse samples table (db.table or table)")
	flag.StringVar(&opt.chLaps, "ch-laps-table", "rec_laps", "ClickHouse laps table (db.table or table)")
	flag.IntVar(&opt.pgMaxConns, "pg-max-conns", 0, "PostgreSQL pool size; 0 = driver default")
	flag.IntVar(&opt.sqliteCacheMB, "sqlite-cache-mb", 100, "SQLite cache size (MB) for PRAGMA cache_size; 0 to skip")
	flag.BoolVar(&opt.sqliteWAL, "sqlite-wal", true, "Enable SQLite WAL mode (PRAGMA journal_mode=WAL)")
	flag.BoolVar(&opt.sqliteSyncOff, "sqlite-sync-off", false, "Set PRAGMA synchronous=OFF for SQLite")
	flag.BoolVar(&opt.sqliteTempMem, "sqlite-temp-memory", true, "Set PRAGMA temp_store=MEMORY for SQLite")
	flag.DurationVar(&opt.stopTimeout, "stop-timeout", 10*time.Second, "timeout for ending live sessions on shutdown")

	flag.StringVar(&opt.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&opt.logFile, "log-file", "", "also write logs to file")
	flag.BoolVar(&opt.logConsole, "log-console", true, "human readable log output instead of JSON")
	flag.BoolVar(&opt.debugLogs, "debug", false, "log every HTTP request")
	flag.BoolVar(&opt.version, "version", false, "print version and exit")
	flag.StringVar(&opt.generateCfg, "generate-config", "", "write example YAML config to file (use '-' for stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Telemetry session recorder. Example:")
		fmt.Fprintf(flag.CommandLine.Output(), "  %s --db sqlite://rec.db --params vCar:Chassis,nEngine:Engine --generate --gen-speed 0\n\n", os.Args[0])
		flag.PrintDefaults()
	}

	if cfgPath := findConfigYAML(os.Args[1:]); cfgPath != "" {
		if err := applyYAMLDefaults(flag.CommandLine, cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to apply --config-yaml: %v\n", err)
			os.Exit(2)
		}
		_ = flag.CommandLine.Set("config-yaml", cfgPath)
	}

	flag.Parse()
	return opt
}
