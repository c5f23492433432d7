package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/fxsignal/dedup"
	"github.com/dnldd/fxsignal/dispatch"
	"github.com/dnldd/fxsignal/engine"
	"github.com/dnldd/fxsignal/fetch"
	"github.com/dnldd/fxsignal/indicator"
	"github.com/dnldd/fxsignal/risk"
	"github.com/dnldd/fxsignal/shared"
	"github.com/dnldd/fxsignal/store"
	"github.com/dnldd/fxsignal/strategy"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"go.uber.org/atomic"
)

// Exit codes surfaced by Run.
const (
	ExitNormal = 0
	ExitConfig = 1
	ExitAuth   = 2
	ExitStore  = 3
)

const (
	// portfolioPersistInterval is how often the portfolio state is persisted.
	portfolioPersistInterval = time.Minute
	// storeCallTimeout bounds persistence calls made from callbacks.
	storeCallTimeout = time.Second * 5
)

// SignalServiceConfig represents the configuration struct for the signal service.
type SignalServiceConfig struct {
	// Instruments are the tracked instrument symbols.
	Instruments []string
	// Timeframes are the tracked bar widths.
	Timeframes []shared.Timeframe
	// BrokerAPIKey is the broker bearer token.
	BrokerAPIKey string
	// BrokerAccountID is the broker account id.
	BrokerAccountID string
	// StoreConnection is the durable store connection endpoint.
	StoreConnection string
	// StoreUser is the store user.
	StoreUser string
	// StorePass is the store user pass.
	StorePass string
	// WebhookURLs are the configured delivery channel endpoints.
	WebhookURLs []string
	// PortfolioInitialValue seeds the portfolio state.
	PortfolioInitialValue float64
	// EmergencyEnabled toggles the emergency risk framework.
	EmergencyEnabled bool
	// Strategies are the configured strategies.
	Strategies []strategy.Config
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config has sane inputs.
func (cfg *SignalServiceConfig) Validate() error {
	var errs error

	if len(cfg.Instruments) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no instruments provided for the signal service"))
	}
	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for the signal service"))
	}
	if cfg.BrokerAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("broker api key cannot be an empty string"))
	}
	if cfg.StoreConnection == "" {
		errs = errors.Join(errs, fmt.Errorf("store connection cannot be an empty string"))
	}
	if cfg.PortfolioInitialValue <= 0 {
		errs = errors.Join(errs, fmt.Errorf("portfolio initial value must be positive"))
	}
	if len(cfg.Strategies) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no strategies provided for the signal service"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// SignalService represents the fx signal finding and delivery service.
type SignalService struct {
	cfg          *SignalServiceConfig
	store        *store.Store
	fetchManager *fetch.Manager
	dispatcher   *dispatch.Manager
	signalEngine *engine.Engine
	riskManager  *risk.Manager
	jobScheduler *gocron.Scheduler
	exitCode     atomic.Int32
	logger       *zerolog.Logger
	wg           sync.WaitGroup
}

// NewSignalService initializes a new signal service.
func NewSignalService(ctx context.Context, cfg *SignalServiceConfig) (*SignalService, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	logger := log.With().Str("service", "fxsignal").Logger()

	svc := &SignalService{
		cfg:    cfg,
		logger: &logger,
	}

	reportAuthFatal := func(err error) {
		svc.fail(ExitAuth, err)
	}
	reportStoreFatal := func(err error) {
		svc.fail(ExitStore, err)
	}

	storeLogger := logger.With().Str("component", "store").Logger()
	signalStore, err := store.NewStore(ctx, &store.Config{
		Endpoint: cfg.StoreConnection,
		User:     cfg.StoreUser,
		Pass:     cfg.StorePass,
		Logger:   &storeLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	registry := strategy.NewRegistry()
	err = registry.Load(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("loading strategies: %w", err)
	}

	riskLogger := logger.With().Str("component", "riskmanager").Logger()
	riskMgr, err := risk.NewManager(&risk.ManagerConfig{
		InitialValue: cfg.PortfolioInitialValue,
		Enabled:      cfg.EmergencyEnabled,
		PersistTransition: func(transition shared.EmergencyTransition) {
			callCtx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
			defer cancel()
			if err := signalStore.PersistEmergencyTransition(callCtx, &transition); err != nil {
				storeLogger.Error().Msgf("persisting emergency transition: %v", err)
			}
		},
		PersistStressEvent: func(event shared.StressEvent) {
			callCtx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
			defer cancel()
			if err := signalStore.PersistStressEvent(callCtx, &event); err != nil {
				storeLogger.Error().Msgf("persisting stress event: %v", err)
			}
		},
		Logger: &riskLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating risk manager: %w", err)
	}

	dedupLogger := logger.With().Str("component", "deduplicator").Logger()
	deduplicator, err := dedup.NewDeduplicator(&dedup.DeduplicatorConfig{
		SlowestTimeframe: shared.SlowestTimeframe(cfg.Timeframes).Duration(),
		Logger:           &dedupLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating deduplicator: %w", err)
	}

	broker, err := fetch.NewBrokerClient(&fetch.BrokerConfig{
		APIKey:    cfg.BrokerAPIKey,
		AccountID: cfg.BrokerAccountID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating broker client: %w", err)
	}

	jobScheduler := gocron.NewScheduler(time.UTC)

	fetchLogger := logger.With().Str("component", "fetchmanager").Logger()
	fetchMgr, err := fetch.NewManager(&fetch.ManagerConfig{
		Source:       broker,
		JobScheduler: jobScheduler,
		ReportFatal:  reportAuthFatal,
		Logger:       &fetchLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fetch manager: %w", err)
	}

	channels := make([]dispatch.Channel, 0, len(cfg.WebhookURLs))
	for idx := range cfg.WebhookURLs {
		channels = append(channels, dispatch.Channel{
			ID:  fmt.Sprintf("webhook-%d", idx),
			URL: cfg.WebhookURLs[idx],
		})
	}

	dispatchLogger := logger.With().Str("component", "dispatcher").Logger()
	dispatcher, err := dispatch.NewManager(&dispatch.ManagerConfig{
		Channels: channels,
		Store:    signalStore,
		Logger:   &dispatchLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	cacheLogger := logger.With().Str("component", "indicatorcache").Logger()
	cache := indicator.NewCache(&indicator.CacheConfig{Logger: &cacheLogger})

	evaluatorLogger := logger.With().Str("component", "evaluator").Logger()
	evaluator := strategy.NewEvaluator(&strategy.EvaluatorConfig{Logger: &evaluatorLogger})

	engineLogger := logger.With().Str("component", "engine").Logger()
	signalEngine, err := engine.NewEngine(&engine.EngineConfig{
		Instruments:      cfg.Instruments,
		Timeframes:       cfg.Timeframes,
		Cache:            cache,
		Registry:         registry,
		Evaluator:        evaluator,
		Risk:             riskMgr,
		Dedup:            deduplicator,
		Store:            signalStore,
		Subscribe:        fetchMgr.Subscribe,
		Backfill:         fetchMgr.Backfill,
		PersistCandle:    signalStore.PersistCandle,
		NotifyDispatcher: dispatcher.Notify,
		ReportFatal:      reportStoreFatal,
		Logger:           &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	svc.store = signalStore
	svc.fetchManager = fetchMgr
	svc.dispatcher = dispatcher
	svc.signalEngine = signalEngine
	svc.riskManager = riskMgr
	svc.jobScheduler = jobScheduler

	return svc, nil
}

// fail records the exit code for an unrecoverable error and triggers shutdown.
func (s *SignalService) fail(code int32, err error) {
	if s.exitCode.CompareAndSwap(ExitNormal, code) {
		s.logger.Error().Msgf("unrecoverable error, shutting down: %v", err)
		s.cfg.Cancel()
	}
}

// persistPortfolio stores the current portfolio state.
func (s *SignalService) persistPortfolio() {
	state := s.riskManager.Portfolio()
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	err := s.store.PersistPortfolioState(ctx, &state)
	if err != nil {
		s.logger.Error().Msgf("persisting portfolio state: %v", err)
	}
}

// RiskManager exposes the risk manager for operator actions, portfolio
// updates and the emergency level reset.
func (s *SignalService) RiskManager() *risk.Manager {
	return s.riskManager
}

// Run handles the lifecycle processes of the signal service, returning the
// process exit code.
func (s *SignalService) Run(ctx context.Context) int {
	_, err := s.jobScheduler.Every(portfolioPersistInterval).SingletonMode().Do(s.persistPortfolio)
	if err != nil {
		s.logger.Error().Msgf("scheduling portfolio persistence: %v", err)
	}

	s.wg.Add(3)

	go func() {
		s.dispatcher.Run(ctx)
		s.wg.Done()
	}()

	go func() {
		s.signalEngine.Run(ctx)
		s.wg.Done()
	}()

	go func() {
		s.fetchManager.Run(ctx)
		s.wg.Done()
	}()

	s.wg.Wait()

	return int(s.exitCode.Load())
}
