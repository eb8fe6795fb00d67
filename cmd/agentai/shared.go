package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/config"
	"github.com/Jazzman94/agentai/internal/dispatch"
	"github.com/Jazzman94/agentai/internal/observability"
	"github.com/Jazzman94/agentai/internal/sandbox"
	"github.com/Jazzman94/agentai/internal/storage"
	pgstore "github.com/Jazzman94/agentai/internal/storage/postgres"
	sqlitestore "github.com/Jazzman94/agentai/internal/storage/sqlite"
	"github.com/Jazzman94/agentai/internal/tools"
	"github.com/Jazzman94/agentai/internal/tools/file"
	"github.com/Jazzman94/agentai/internal/tools/script"
	"github.com/Jazzman94/agentai/internal/workspace"
)

// SharedComponents holds the subsystems every command needs. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config     *config.Config
	Logger     *slog.Logger
	Workspace  *workspace.Workspace
	Obs        *observability.Observability // nil = observability disabled.
	Store      storage.Store                // nil unless audit uses sqlite or postgres.
	Recorder   audit.Recorder               // nil = audit disabled.
	Registry   *tools.Registry
	Dispatcher *dispatch.Dispatcher

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig resolves the config path (flag, then AGENTAI_CONFIG) and applies
// the --workdir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(goutils.Env("AGENTAI_CONFIG", configPath))
	if err != nil {
		return nil, err
	}
	if workdir != "" {
		cfg.Workdir = workdir
	}
	return cfg, nil
}

// newLogger builds the JSON logger on w. --verbose wins over log_level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// initShared wires config, workspace, sandbox, tools, audit and observability
// into a dispatcher. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := workspace.New(cfg.WorkdirOrDefault())
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Sandbox.
	var sbx sandbox.Sandbox = sandbox.NewProcessSandbox(sandbox.ProcessConfig{
		DefaultTimeout: cfg.Tools.Script.Timeout(),
		DefaultLimits: sandbox.ResourceLimits{
			MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
			MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
		},
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}, logger)
	if m := obs.MetricsOrNil(); m != nil || obs.TracerOrNil() != nil {
		sbx = observability.NewInstrumentedSandbox(sbx, "process", m, obs.TracerOrNil())
	}
	logger.Debug("sandbox initialized",
		slog.Int("max_cpu_seconds", cfg.Sandbox.MaxCPUSeconds),
		slog.Int("max_memory_mb", cfg.Sandbox.MaxMemoryMB),
	)

	// Tool registry.
	reg := tools.NewRegistry(file.New(file.Config{MaxChars: cfg.Tools.File.MaxChars}, logger)...)
	reg.Register(script.NewRunTool(script.Config{
		Interpreter:   cfg.Tools.Script.Interpreter,
		Extension:     cfg.Tools.Script.Extension,
		Timeout:       cfg.Tools.Script.Timeout(),
		MaxConcurrent: cfg.Tools.Script.MaxConcurrent,
		Env:           cfg.Tools.Script.Env,
	}, sbx, logger))
	sc.Registry = reg
	logger.Debug("tools registered", slog.Any("tools", reg.Names()))

	// Audit trail.
	if cfg.Audit != nil && cfg.Audit.Enabled {
		rec, err := initAudit(sc, cfg, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing audit: %w", err)
		}
		sc.Recorder = rec
		sc.addCleanup(func() {
			if err := rec.Close(); err != nil {
				logger.Error("closing audit recorder", slog.String("error", err.Error()))
			}
		})
		logger.Debug("audit initialized", slog.String("driver", cfg.Audit.AuditDriver()))
	}

	// Health checks.
	if h := obs.HealthOrNil(); h != nil {
		h.AddCheck("workdir", observability.WorkdirCheck(ws.Root))
		h.AddCheck("interpreter", observability.InterpreterCheck(interpreter(cfg)))
		if sc.Store != nil {
			h.AddCheck("audit_store", sc.Store.Ping)
		}
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(obs.MetricsOrNil()),
		dispatch.WithTracer(obs.TraceAPI()),
		dispatch.WithAnomaly(obs.AnomalyOrNil()),
		dispatch.WithBatchLimit(cfg.Dispatch.BatchConcurrency),
	}
	if sc.Recorder != nil {
		opts = append(opts, dispatch.WithAudit(sc.Recorder))
	}
	sc.Dispatcher = dispatch.New(reg, opts...)

	return sc, nil
}

// initAudit opens the configured audit backend: a JSONL file, or a GORM
// store on SQLite or PostgreSQL.
func initAudit(sc *SharedComponents, cfg *config.Config, logger *slog.Logger) (audit.Recorder, error) {
	driver := cfg.Audit.AuditDriver()
	if driver == "jsonl" {
		if _, err := workspace.EnsureDataDir(cfg.ResolvedDataDir()); err != nil {
			return nil, err
		}
		return audit.NewJSONLRecorder(cfg.AuditLogPath(), logger)
	}

	store, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	sc.Store = store
	return audit.NewStoreRecorder(store.Audit(), store.Close), nil
}

// initStore opens the SQLite or PostgreSQL store selected by audit.driver.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Audit.AuditDriver() {
	case storage.DriverPostgres:
		pg := cfg.Audit.Postgres
		db, err := pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pgstore.NewStore(db), nil

	case storage.DriverSQLite:
		if cfg.Audit.SQLite == nil || cfg.Audit.SQLite.Path == "" {
			if _, err := workspace.EnsureDataDir(cfg.ResolvedDataDir()); err != nil {
				return nil, err
			}
		}
		journal := ""
		if cfg.Audit.SQLite != nil {
			journal = cfg.Audit.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.DatabasePath(),
			JournalMode: journal,
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported audit driver %q", cfg.Audit.AuditDriver())
	}
}

// startRetention schedules audit pruning for long-running commands. It is a
// no-op unless a relational audit store and audit.retention are configured.
func startRetention(ctx context.Context, sc *SharedComponents) (func(), error) {
	noop := func() {}
	if sc.Store == nil || sc.Config.Audit == nil || sc.Config.Audit.Retention == nil {
		return noop, nil
	}
	pruner, ok := sc.Store.Audit().(audit.Pruner)
	if !ok {
		return noop, nil
	}
	rc := sc.Config.Audit.Retention
	r, err := audit.NewRetention(pruner, rc.MaxAge(), rc.Schedule, sc.Logger)
	if err != nil {
		return nil, err
	}
	return r.Start(ctx), nil
}

func interpreter(cfg *config.Config) string {
	if cfg.Tools.Script.Interpreter != "" {
		return cfg.Tools.Script.Interpreter
	}
	return "python3"
}

// setupCommand loads config, builds the logger and shared components.
// Logs go to stderr so stdout stays free for results and protocol traffic.
func setupCommand() (*SharedComponents, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return initShared(cfg, newLogger(cfg, os.Stderr))
}
