// Package app wires the visor process: state store, rule set, reactor, an
// optional operation graph and the MQTT, Postgres and API edges.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/VisorEngine/internal/action"
	"github.com/AaronLay10/VisorEngine/internal/api"
	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/config"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/executor"
	"github.com/AaronLay10/VisorEngine/internal/mqtt"
	"github.com/AaronLay10/VisorEngine/internal/operation"
	"github.com/AaronLay10/VisorEngine/internal/perception"
	"github.com/AaronLay10/VisorEngine/internal/rules"
	"github.com/AaronLay10/VisorEngine/internal/state"
	"github.com/AaronLay10/VisorEngine/internal/storage/postgres"
	"github.com/AaronLay10/VisorEngine/internal/version"
)

// GraphFunc builds the operation graph. Handlers that recognize frames
// should call the worker rather than the recognizer directly so engine
// settings bound them.
type GraphFunc func(w *perception.Worker, cfg config.EngineConfig) (*operation.Graph, error)

type graphSetup struct {
	build GraphFunc
	rec   perception.Recognizer
	src   perception.Source
}

// Option configures an App.
type Option func(*App)

// WithGraph runs an operation graph next to the reactor. rec is wrapped in
// a perception.Worker sized from cfg.Engine and src supplies frames.
func WithGraph(build GraphFunc, rec perception.Recognizer, src perception.Source) Option {
	return func(a *App) {
		a.graph = &graphSetup{build: build, rec: rec, src: src}
	}
}

// WithStartNode starts the graph at node instead of its start node.
func WithStartNode(node string) Option {
	return func(a *App) { a.start = node }
}

// App is the wired process.
type App struct {
	cfg      *config.Config
	clock    clock.Clock
	logger   *zap.Logger
	graph    *graphSetup
	start    string
	store    *state.Store
	registry *mqtt.ControllerRegistry
	reactor  *executor.Reactor
	engine   *operation.Engine
	worker   *perception.Worker
	runner   *executor.Runner
	client   *mqtt.Client
	archive  *postgres.Archive
	api      *api.Server
	terminal operation.Terminal
}

// New wires an App from cfg. The rules file is required.
func New(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg.Reactor.Rules == "" {
		return nil, fmt.Errorf("no rules file: pass --rules or set reactor.rules")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, clock: clk, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	storeOpts := []state.Option{state.WithClock(clk), state.WithLogger(logger)}
	for _, group := range cfg.Reactor.MutexGroups {
		storeOpts = append(storeOpts, state.WithMutexGroup(group...))
	}
	a.store = state.NewStore(storeOpts...)
	a.registry = mqtt.RegistryFromConfig(cfg.MQTT.Controllers)

	var commander action.Commander
	if cfg.MQTT.Enabled {
		a.client = mqtt.NewClient(cfg.MQTT, logger)
		commander = mqtt.NewCommander(a.client, a.registry, clk)
	}

	factory := action.NewFactory(a.store, clk, commander, logger)
	set, err := rules.Load(cfg.Reactor.Rules, factory)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Reactor.Rules, err)
	}

	eval := rules.NewEvaluator(a.store, set.Rules,
		rules.WithClock(clk),
		rules.WithLogger(logger),
		rules.WithMock(cfg.Reactor.Mock))

	reactorOpts := []executor.Option{
		executor.WithClock(clk),
		executor.WithLogger(logger),
		executor.WithRuleSet(set),
	}
	if cfg.Reactor.Interval > 0 {
		reactorOpts = append(reactorOpts, executor.WithInterval(cfg.Reactor.Interval))
	}
	a.reactor = executor.NewReactor(eval, a.store, reactorOpts...)

	if a.graph != nil {
		if err := a.buildEngine(); err != nil {
			return nil, err
		}
	}
	a.runner = executor.NewRunner(a.engine, a.reactor, logger)

	if cfg.Postgres.Enabled {
		archive, err := postgres.Open(ctx, cfg.PostgresDSN(), cfg.Postgres.Instance)
		if err != nil {
			logger.Warn("postgres unavailable, archive disabled", zap.Error(err))
		} else {
			a.archive = archive
		}
	}

	if cfg.API.Enabled {
		src := api.Sources{
			Reactor:     a.reactor,
			Store:       a.store,
			Controllers: a.registry,
		}
		if a.engine != nil {
			src.Engine = a.engine
		}
		if a.archive != nil {
			src.Archive = a.archive
		}
		if a.client != nil {
			src.MQTTConnected = a.client.IsConnected
		}
		a.api = api.New(cfg.API, src, logger)
	}

	logger.Info("service ready",
		zap.String("rules", cfg.Reactor.Rules),
		zap.Int("rule_count", len(set.Rules)),
		zap.Strings("triggers", a.reactor.Triggers()),
		zap.Duration("interval", a.reactor.Interval()),
		zap.Bool("graph", a.engine != nil),
		zap.Bool("mock", cfg.Reactor.Mock))
	return a, nil
}

func (a *App) buildEngine() error {
	if a.graph.build == nil || a.graph.rec == nil || a.graph.src == nil {
		return errors.New("graph needs a builder, a recognizer and a frame source")
	}
	ec := a.cfg.Engine
	a.worker = perception.NewWorker(a.graph.rec, ec.RecognitionSlots, ec.RecognitionDeadline, a.logger)

	g, err := a.graph.build(a.worker, ec)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	if g == nil {
		return errors.New("build graph: nil graph")
	}
	a.engine = operation.NewEngine(g,
		operation.WithSource(a.graph.src),
		operation.WithCaptureDeadline(ec.RecognitionDeadline),
		operation.WithClock(a.clock),
		operation.WithLogger(a.logger))
	return nil
}

// Store is the app's state store.
func (a *App) Store() *state.Store { return a.store }

// Reactor is the app's reactive executor.
func (a *App) Reactor() *executor.Reactor { return a.reactor }

// Engine is the graph engine, nil without WithGraph.
func (a *App) Engine() *operation.Engine { return a.engine }

// Terminal reports where the last graph run ended. Valid after Run returns.
func (a *App) Terminal() operation.Terminal { return a.terminal }

// Run serves until ctx is done. With a graph it also returns once the graph
// reaches a terminal node.
func (a *App) Run(ctx context.Context) error {
	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "visor starting", map[string]interface{}{
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	if a.archive != nil {
		events.SetSink(a.archive)
		defer func() {
			events.SetSink(nil)
			if err := a.archive.Close(); err != nil {
				a.logger.Warn("archive close failed", zap.Error(err))
			}
		}()
	}
	if a.worker != nil {
		defer a.worker.Wait()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sub *mqtt.FactSubscriber
	if a.client != nil {
		sub = mqtt.NewFactSubscriber(a.client, a.reactor, a.registry, a.cfg.MQTT, mqtt.WithClock(a.clock), mqtt.WithLogger(a.logger))
		a.client.OnConnect(func() {
			sub.ClearSubscriptions()
			if err := sub.SubscribeAll(ctx); err != nil {
				a.logger.Error("resubscribe failed", zap.Error(err))
			}
		})
		if err := a.client.Connect(); err != nil {
			// Paho keeps retrying; OnConnect subscribes once it succeeds.
			a.logger.Warn("mqtt not connected yet", zap.Error(err))
		}
		defer a.client.Disconnect()
	}

	g, gctx := errgroup.WithContext(ctx)
	if sub != nil {
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}
	if a.api != nil {
		g.Go(func() error {
			return a.api.ListenAndServe(gctx)
		})
	}
	g.Go(func() error {
		term, err := a.runner.Run(gctx, a.start)
		a.terminal = term
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Shutdown cancelled the graph mid-run.
			return nil
		}
		if a.engine != nil && err == nil && ctx.Err() == nil {
			a.logger.Info("graph finished", zap.String("node", term.Node), zap.Stringer("result", term.Result))
			cancel()
		}
		return err
	})

	err := g.Wait()
	events.Emit("info", "system.shutdown", "visor stopping", map[string]interface{}{
		"stats_passes": a.reactor.Stats().Passes,
	})
	if err != nil {
		events.Emit("error", "system.error", err.Error(), nil)
	}
	return err
}
