package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"corridor-router/internal/alerting"
	"corridor-router/internal/config"
	"corridor-router/internal/events"
	"corridor-router/internal/httpapi"
	"corridor-router/internal/metrics"
	"corridor-router/internal/oracle"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
	"corridor-router/internal/scheduler"
	"corridor-router/internal/service"
	"corridor-router/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer
	// Clock overrides the engine clock; nil means wall time.
	Clock func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newRiskEngine(publisher risk.Publisher, clock func() time.Time) (*risk.Engine, error) {
	policy, err := risk.ParseWindowPolicy(a.Config.Risk.WindowPolicy)
	if err != nil {
		return nil, err
	}
	weights := make(map[risk.Source]risk.SourceWeight, len(a.Config.Risk.SourceWeights))
	for name, w := range a.Config.Risk.SourceWeights {
		src, err := risk.ParseSource(name)
		if err != nil {
			return nil, err
		}
		weights[src] = w
	}
	if clock == nil {
		clock = a.Clock
	}
	globalMax := a.Config.Risk.GlobalMaxAdjustmentBps
	halfLife := a.Config.Risk.DecayHalfLife
	return risk.NewEngine(risk.Options{
		Corridors:              a.Config.Risk.Corridors,
		GlobalMaxAdjustmentBps: &globalMax,
		DecayHalfLife:          &halfLife,
		PruneThreshold:         a.Config.Risk.PruneThreshold,
		SourceWeights:          weights,
		WindowPolicy:           policy,
		Clock:                  clock,
		Publisher:              publisher,
	}, a.Logger)
}

// newOfflineEngine builds an engine for one-shot commands and computes its
// first snapshot, optionally after seeding the preset signals.
func (a *App) newOfflineEngine(ctx context.Context, seed bool) (*risk.Engine, error) {
	engine, err := a.newRiskEngine(nil, nil)
	if err != nil {
		return nil, err
	}
	if seed {
		if _, err := engine.SeedPresets(ctx); err != nil {
			return nil, err
		}
	}
	if _, err := engine.Recompute(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

func (a *App) newRegistry() (*routing.Registry, error) {
	providers := make([]routing.Provider, 0, len(a.Config.Routing.Static)+len(a.Config.Routing.Remote))
	for _, cfg := range a.Config.Routing.Static {
		p, err := routing.NewStaticProvider(cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	for _, opts := range a.Config.Routing.Remote {
		p, err := routing.NewHTTPProvider(opts, a.Logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return routing.NewRegistry(providers...)
}

func (a *App) newRouter(overlay routing.CorridorOverlay, pricer routing.ReferencePricer, observer routing.Observer) (*routing.Engine, error) {
	reg, err := a.newRegistry()
	if err != nil {
		return nil, err
	}
	rc := a.Config.Routing
	return routing.NewEngine(reg, routing.Options{
		TopK:            rc.TopK,
		ProviderTimeout: rc.ProviderTimeout,
		RequestTimeout:  rc.RequestTimeout,
		MarkupPercent:   rc.MarkupPercent,
		Weights:         rc.Weights,
		MaxConcurrency:  rc.MaxConcurrency,
		Overlay:         overlay,
		Pricer:          pricer,
		Observer:        observer,
		Clock:           a.Clock,
	}, a.Logger)
}

// newOracle returns nil when the oracle is disabled.
func (a *App) newOracle(ctx context.Context) (*oracle.Oracle, func(), error) {
	oc := a.Config.Oracle
	if !oc.Enabled {
		return nil, nil, nil
	}

	var primary, fallback oracle.Source
	if oc.Chainlink.RPCURL != "" {
		primary = oracle.NewChainlink(oracle.ChainlinkOptions{
			RPCURL:  oc.Chainlink.RPCURL,
			Feeds:   oc.Chainlink.Feeds,
			MaxAge:  oc.Chainlink.MaxAge,
			Timeout: oc.Timeout,
		}, a.Logger)
	}
	if oc.Pyth.Enabled {
		fallback = oracle.NewPyth(oracle.PythOptions{
			BaseURL:   oc.Pyth.BaseURL,
			Feeds:     oc.Pyth.Feeds,
			MaxAge:    oc.Pyth.MaxAge,
			Timeout:   oc.Timeout,
			UserAgent: oc.Pyth.UserAgent,
		}, a.Logger)
	}

	policy, err := oracle.ParseDeviationPolicy(oc.Policy)
	if err != nil {
		return nil, nil, err
	}
	opts := oracle.Options{
		Primary:      primary,
		Fallback:     fallback,
		Policy:       policy,
		ThresholdBps: oc.ThresholdBps,
		Timeout:      oc.Timeout,
		Pegged:       oc.Pegged,
	}

	closer := func() {}
	if oc.Redis.Addr != "" {
		cache, err := oracle.NewRedisCache(ctx, oracle.RedisCacheOptions{
			Addr:     oc.Redis.Addr,
			Password: oc.Redis.Password,
			DB:       oc.Redis.DB,
			Prefix:   oc.Redis.Prefix,
			TTL:      oc.Redis.TTL,
		})
		if err != nil {
			// the oracle still works without its cache
			a.Logger.Warn().Err(err).Msg("rate cache unavailable, continuing without it")
		} else {
			opts.Cache = cache
			closer = func() { _ = cache.Close() }
		}
	}

	o, err := oracle.New(opts, a.Logger)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return o, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newWatcher(engine *risk.Engine, notifier alerting.Notifier) *alerting.Watcher {
	globalMax := engine.Params().GlobalMaxAdjustmentBps
	ceilings := make(map[string]int)
	for _, c := range engine.Corridors() {
		ceilings[c.Pair] = min(c.MaxAdjustmentBps, globalMax)
	}
	ac := a.Config.Alerting
	return alerting.NewWatcher(alerting.WatcherOptions{
		RiskThreshold: ac.RiskThreshold,
		AlertOnCap:    ac.AlertOnCap,
		Cooldown:      ac.Cooldown,
		Channels:      ac.Channels,
		Ceilings:      ceilings,
		Clock:         a.Clock,
	}, notifier, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running corridor service and its HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recorder := metrics.New()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var auditor *storage.Auditor
	if store != nil {
		auditor = storage.NewAuditor(storage.AuditorOptions{
			Snapshots: store,
			Signals:   store,
			Quotes:    store,
			QueueSize: a.Config.Database.AuditQueueSize,
			Timeout:   a.Config.Database.AuditTimeout,
		}, a.Logger)
		auditor.Start()
		defer auditor.Close()
	}

	bus := events.NewBus(recorder, a.Logger)
	var kafkaSink *events.KafkaSink
	// sinks are closed only after the bus has drained into them
	defer func() {
		bus.Close()
		if kafkaSink != nil {
			_ = kafkaSink.Close()
		}
	}()

	engine, err := a.newRiskEngine(bus, nil)
	if err != nil {
		return err
	}

	if auditor != nil {
		bus.Attach(ctx, auditor, 0)
	}
	if a.Config.Kafka.Enabled {
		kc := a.Config.Kafka
		kafkaSink, err = events.NewKafkaSink(events.KafkaOptions{
			Brokers:      kc.Brokers,
			Topic:        kc.Topic,
			ClientID:     kc.ClientID,
			Compression:  kc.Compression,
			RequiredAcks: kc.RequiredAcks,
			WriteTimeout: kc.WriteTimeout,
		}, a.Logger)
		if err != nil {
			return err
		}
		bus.Attach(ctx, kafkaSink, 0)
	}
	if a.Config.Alerting.Enabled {
		notifier := a.newNotifier()
		if notifier == nil {
			a.Logger.Warn().Msg("alerting enabled without a delivery channel")
		} else {
			bus.Attach(ctx, a.newWatcher(engine, notifier), 0)
		}
	}

	orc, closeOracle, err := a.newOracle(ctx)
	if err != nil {
		return err
	}
	if closeOracle != nil {
		defer closeOracle()
	}

	var pricer routing.ReferencePricer
	var rates httpapi.RateSource
	if orc != nil {
		pricer = orc
		rates = orc
	}
	router, err := a.newRouter(engine, pricer, recorder)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		OnSkip:       recorder.TickSkipped,
	}, a.Logger)
	if err != nil {
		return err
	}
	svc := service.New(sched, engine, recorder, a.Logger)

	if a.Config.Risk.SeedPresets {
		seeded, err := engine.SeedPresets(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info().Int("signals", len(seeded)).Msg("preset signals seeded")
	}

	deps := httpapi.Deps{
		Risk:            engine,
		Recomputer:      svc,
		Router:          router,
		Providers:       router.Registry(),
		Rates:           rates,
		Metrics:         recorder,
		Bus:             bus,
		HealthTimeout:   a.Config.Routing.ProviderTimeout,
		WebsocketBuffer: a.Config.HTTP.WebsocketBuffer,
	}
	if auditor != nil {
		deps.Auditor = auditor
	}
	handler, err := httpapi.NewHandler(deps, a.Logger)
	if err != nil {
		return err
	}
	server := httpapi.NewServer(handler, httpapi.ServerOptions{
		Addr:            a.Config.HTTP.Addr,
		ReadTimeout:     a.Config.HTTP.ReadTimeout,
		WriteTimeout:    a.Config.HTTP.WriteTimeout,
		ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
		Metrics:         recorder.Handler(),
	}, a.Logger)

	a.Logger.Info().Int("corridors", len(engine.Corridors())).Msg("starting corridor service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("corridor service stopped")
	return nil
}

// QuoteOptions describe a one-shot quote.
type QuoteOptions struct {
	Request routing.QuoteRequest
	Seed    bool
	JSON    bool
}

// PricingOptions describe a one-shot pricing call.
type PricingOptions struct {
	Pair               string
	AmountMinorUnits   int64
	OverrideBaseFeeBps *int
	Seed               bool
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	// Extra signals ingested after the presets.
	Signals []risk.Signal
	Alert   bool
}

// ExportOptions hold parameters for exporting corridor history.
type ExportOptions struct {
	Pair      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Quotes bool
}

// ReplayOptions configure a historical replay.
type ReplayOptions struct {
	From     time.Time
	To       time.Time
	Step     time.Duration
	Lookback time.Duration
	DryRun   bool
}
