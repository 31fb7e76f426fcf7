// Package freza provides a high-level façade that wires the invocation
// engine to its durable services: configuration, the thread store, agent
// memory, the agent catalog with hot reload, reflect scheduling, metrics
// and the HTTP API. Most applications interact with this package by:
//  1. Loading a config.Config (defaults, freza.yaml, AGENT_* variables)
//  2. Creating a Freza via New
//  3. Either invoking agents directly through Engine() or calling Serve
//
// The façade owns every component it creates and releases them in Close.
package freza

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/hupe1980/freza/broadcast"
	"github.com/hupe1980/freza/catalog"
	"github.com/hupe1980/freza/config"
	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
	"github.com/hupe1980/freza/httpapi"
	"github.com/hupe1980/freza/launcher"
	"github.com/hupe1980/freza/logging"
	"github.com/hupe1980/freza/memory"
	"github.com/hupe1980/freza/metrics"
	"github.com/hupe1980/freza/registry"
	"github.com/hupe1980/freza/scheduler"
	"github.com/hupe1980/freza/thread"
)

// Version is the release version, overridden at build time.
var Version = "dev"

// Options configures a Freza instance.
type Options struct {
	// Launcher replaces the default runtime router (agent CLI, invoke
	// scripts and in-process models).
	Launcher core.Launcher

	// ThreadStore replaces the store selected by the config's store.driver.
	ThreadStore core.ThreadStore

	// Logger defaults to a structured logger built from the config's log
	// section.
	Logger logging.Logger
}

// Freza aggregates the engine and the services around it.
type Freza struct {
	cfg       *config.Config
	logger    logging.Logger
	metrics   *metrics.Metrics
	threads   core.ThreadStore
	memory    *memory.FileStore
	catalog   *catalog.Catalog
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	server    *httpapi.Server

	closeOnce sync.Once
	closeErr  error
}

// New creates the workspace directories below cfg.BaseDir and wires every
// component. Nothing runs in the background until Serve.
func New(cfg *config.Config, optFns ...func(o *Options)) (*Freza, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		opts.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:     level,
			Format:    cfg.Log.Format,
			Output:    os.Stderr,
			Component: "freza",
		})
	}

	layout := cfg.Layout()
	for _, dir := range layout.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	f := &Freza{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: metrics.New(),
		memory:  memory.NewFileStore(layout),
	}

	threads := opts.ThreadStore
	if threads == nil {
		var err error
		if threads, err = openThreadStore(cfg, opts.Logger); err != nil {
			return nil, err
		}
	}
	f.threads = threads

	cat, err := catalog.New(layout, func(o *catalog.Options) {
		o.Logger = logging.Component(opts.Logger, "catalog")
		o.OnReload = f.onCatalogReload
	})
	if err != nil {
		_ = threads.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if err := cat.EnsureDefault(); err != nil {
		_ = threads.Close()
		return nil, fmt.Errorf("ensure default agent: %w", err)
	}
	def, _ := cat.Agent(core.DefaultAgent)
	if err := f.memory.InitLongTerm(def.Name, def.Description); err != nil {
		_ = threads.Close()
		return nil, fmt.Errorf("init default memory: %w", err)
	}
	f.catalog = cat

	l := opts.Launcher
	if l == nil {
		l = newRouter(cfg)
	}

	reg := registry.New(func(o *registry.Options) {
		o.StaleAfter = cfg.Stale()
		o.SweepInterval = cfg.Heartbeat()
		o.CompleteGrace = cfg.CompleteGrace()
		o.OnEvict = f.metrics.RecordEviction
		o.Logger = logging.Component(opts.Logger, "registry")
	})
	hub := broadcast.New(func(o *broadcast.Options) {
		o.SubscriberBuffer = cfg.SubscriberBuffer
		o.ReplayBuffer = cfg.ReplayBuffer
		o.Logger = logging.Component(opts.Logger, "broadcast")
	})

	callbacks := engine.NewCallbackManager()
	f.metrics.Register(callbacks)
	lifecycle := logging.Component(opts.Logger, "lifecycle")
	callbacks.RegisterCallback(engine.NewLoggingCallback(engine.CallbackInvocationStarted, lifecycle))
	callbacks.RegisterCallback(engine.NewLoggingCallback(engine.CallbackAfterInvocation, lifecycle))

	f.engine = engine.New(cat, l,
		engine.WithConfig(engine.Config{
			Model:                    cfg.Model,
			MaxTurns:                 cfg.MaxTurns,
			Timeout:                  cfg.Timeout(),
			HeartbeatInterval:        cfg.Heartbeat(),
			KillGrace:                engine.DefaultConfig.KillGrace,
			MaxConcurrentInvocations: cfg.MaxConcurrent,
			EventBufferSize:          cfg.EventBuffer,
			ToolLabels:               cfg.ToolLabels,
		}),
		engine.WithRegistry(reg),
		engine.WithHub(hub),
		engine.WithThreadStore(threads),
		engine.WithMemoryStore(f.memory),
		engine.WithCallbacks(callbacks),
		engine.WithLogger(logging.Component(opts.Logger, "engine")),
		func(o *engine.Options) { o.Layout = layout },
	)

	f.scheduler = scheduler.New(f.engine, func(o *scheduler.Options) { o.Logger = logging.Component(opts.Logger, "scheduler") })
	if err := f.scheduler.Sync(cat); err != nil {
		opts.Logger.Warn("some reflect schedules were rejected", "error", err)
	}

	f.server = httpapi.New(f.engine, func(o *httpapi.Options) {
		o.Token = cfg.HTTP.Token
		o.Metrics = f.metrics
		o.Logger = logging.Component(opts.Logger, "httpapi")
	})

	return f, nil
}

func openThreadStore(cfg *config.Config, logger logging.Logger) (core.ThreadStore, error) {
	withLogger := func(o *thread.StoreOptions) { o.Logger = logging.Component(logger, "thread") }
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return thread.NewInMemoryStore(withLogger), nil
	case config.DriverSQLite, config.DriverPostgres:
		s, err := thread.NewGormStore(cfg.Store.Driver, cfg.StoreDSN(), withLogger)
		if err != nil {
			return nil, fmt.Errorf("open %s thread store: %w", cfg.Store.Driver, err)
		}
		return s, nil
	default:
		s, err := thread.NewFileStore(cfg.Layout().ThreadsDir(), withLogger)
		if err != nil {
			return nil, fmt.Errorf("open file thread store: %w", err)
		}
		return s, nil
	}
}

func newRouter(cfg *config.Config) *launcher.Router {
	cli := launcher.NewCLILauncher(func(o *launcher.CLIOptions) {
		o.Bin = cfg.AgentBin
		o.DefaultModel = cfg.Model
		o.DefaultMaxTurns = cfg.MaxTurns
		o.MaxContent = cfg.LogMaxContent
	})
	return launcher.NewRouter(cli, launcher.NewScriptLauncher(), launcher.NewModelLauncher())
}

// onCatalogReload runs on the catalog watcher goroutine. The first reload
// happens inside catalog.New, before the scheduler exists.
func (f *Freza) onCatalogReload(c *catalog.Catalog) {
	if f.scheduler == nil {
		return
	}
	if err := f.scheduler.Sync(c); err != nil {
		f.logger.Warn("some reflect schedules were rejected", "error", err)
	}
}

// Config returns the resolved configuration.
func (f *Freza) Config() *config.Config { return f.cfg }

// Engine returns the invocation engine.
func (f *Freza) Engine() *engine.Engine { return f.engine }

// Catalog returns the agent and channel catalog.
func (f *Freza) Catalog() *catalog.Catalog { return f.catalog }

// Memory returns the file backed memory store.
func (f *Freza) Memory() *memory.FileStore { return f.memory }

// Scheduler returns the reflect scheduler.
func (f *Freza) Scheduler() *scheduler.Scheduler { return f.scheduler }

// Metrics returns the Prometheus collectors.
func (f *Freza) Metrics() *metrics.Metrics { return f.metrics }

// Handler returns the HTTP API handler.
func (f *Freza) Handler() http.Handler { return f.server.Handler() }

// Serve runs the registry sweep, the catalog watcher, the reflect
// scheduler and the HTTP API until ctx is cancelled, then shuts them down.
// In-flight invocations are cancelled and persisted before Serve returns.
func (f *Freza) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.engine.Run(ctx)
	}()

	if err := f.catalog.Watch(ctx); err != nil {
		f.logger.Warn("catalog hot reload disabled", "error", err)
	}

	f.scheduler.Start()
	f.logger.Info("freza serving", "addr", f.cfg.HTTP.Addr(), "base_dir", f.cfg.BaseDir, "reflect_agents", f.scheduler.Scheduled())

	err := f.server.ListenAndServe(ctx, f.cfg.HTTP.Addr())
	cancel()

	<-f.scheduler.Stop().Done()
	wg.Wait()

	if closeErr := f.Close(context.Background()); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// Close cancels in-flight invocations, waits for them to persist and
// releases the stores. It is safe to call more than once.
func (f *Freza) Close(ctx context.Context) error {
	f.closeOnce.Do(func() {
		var errs []error
		if err := f.engine.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := f.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
		if err := f.threads.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close thread store: %w", err))
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}
