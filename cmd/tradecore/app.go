package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tradecore/internal/broker"
	"tradecore/internal/broker/mock"
	"tradecore/internal/config"
	"tradecore/internal/coordinator"
	"tradecore/internal/fees"
	"tradecore/internal/idempotency"
	"tradecore/internal/instruments"
	"tradecore/internal/margin"
	"tradecore/internal/persistence"
	"tradecore/internal/persistence/sqlite"
	"tradecore/internal/portfolio"
	"tradecore/internal/reconciliation"
	"tradecore/internal/risk"
	"tradecore/internal/router"
	"tradecore/internal/statemachine"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// app bundles the wiring shared by every subcommand: load config, open
// the store, construct the engine components, and compose the
// per-broker adapters the config names.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  persistence.Port
	coord  *coordinator.Coordinator
	recon  *reconciliation.Engine
	instr  *instruments.Refresher
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Logging)

	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	brokers, err := buildBrokerAdapters(*cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	idem := idempotency.New()
	idemIndex, err := store.IdempotencyKeyIndex(context.Background())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load idempotency key index: %w", err)
	}
	idem.Hydrate(idemIndex)

	deps := coordinator.Deps{
		Store:              store,
		Idem:               idem,
		Fees:               fees.New(store),
		Margin:             margin.New(store),
		Risk:               risk.New(),
		Machine:            statemachine.New(),
		Router:             router.New(cfg.RoutingRules, cfg.DefaultBroker),
		Reducer:            portfolio.New(),
		Brokers:            brokers,
		AvailableMargin:    money.New(cfg.RiskDefaults.MaxPositionNotional),
		RiskLimitsForScope: riskLimitsForScope(store),
	}
	coord := coordinator.New(deps, logger, cfg.IntakeCapacity(), len(brokers)*4+1, cfg.RPCDeadline())

	recon := reconciliation.New(store, brokers, logger)
	if err := recon.Schedule(cfg.ReconciliationSchedule); err != nil {
		store.Close()
		return nil, fmt.Errorf("schedule reconciliation: %w", err)
	}

	instr := instruments.New(cfg.Instruments, store, logger)

	return &app{cfg: cfg, logger: logger, store: store, coord: coord, recon: recon, instr: instr}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore(cfg config.StoreConfig) (persistence.Port, error) {
	switch cfg.Driver {
	case "", "memory":
		return persistence.NewMemory(), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildBrokerAdapters composes one adapter per configured broker: a
// deterministic in-process mock for dry_run entries, a REST+WebSocket
// Live adapter otherwise.
func buildBrokerAdapters(cfg config.Config, logger *slog.Logger) (map[string]broker.Adapter, error) {
	adapters := make(map[string]broker.Adapter, len(cfg.Brokers))
	for id, bc := range cfg.Brokers {
		if bc.DryRun {
			adapters[id] = mock.New()
			continue
		}
		apiKey, secret, err := cfg.BrokerCredentials(id)
		if err != nil {
			return nil, fmt.Errorf("broker %q: %w", id, err)
		}
		adapters[id] = broker.NewLive(id, bc, apiKey, secret, logger)
	}
	return adapters, nil
}

// riskLimitsForScope aggregates the instrument-, strategy-, and
// portfolio-scoped limit records active right now; the gate itself
// resolves per-metric precedence among whatever comes back.
func riskLimitsForScope(store persistence.Port) func(ctx context.Context, strategyID string, instrument domain.InstrumentRef) ([]domain.RiskLimit, error) {
	return func(ctx context.Context, strategyID string, instrument domain.InstrumentRef) ([]domain.RiskLimit, error) {
		var all []domain.RiskLimit

		instrumentLimits, err := store.ActiveRiskLimits(ctx, domain.ScopeInstrument, instrument.Symbol)
		if err != nil {
			return nil, fmt.Errorf("load instrument risk limits: %w", err)
		}
		all = append(all, instrumentLimits...)

		if strategyID != "" {
			strategyLimits, err := store.ActiveRiskLimits(ctx, domain.ScopeStrategy, strategyID)
			if err != nil {
				return nil, fmt.Errorf("load strategy risk limits: %w", err)
			}
			all = append(all, strategyLimits...)
		}

		portfolioLimits, err := store.ActiveRiskLimits(ctx, domain.ScopePortfolio, "")
		if err != nil {
			return nil, fmt.Errorf("load portfolio risk limits: %w", err)
		}
		all = append(all, portfolioLimits...)

		return all, nil
	}
}

const shutdownGrace = 5 * time.Second
