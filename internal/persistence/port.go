// Package persistence defines the transactional storage contract the
// rest of the engine depends on, plus two implementations: an in-memory
// fake for tests and a sqlite-backed store for production use.
package persistence

import (
	"context"
	"time"

	"tradecore/pkg/domain"
)

// OrderFilter narrows LoadOrdersByFilter. Zero-valued fields are
// ignored.
type OrderFilter struct {
	Broker     string
	Instrument domain.InstrumentRef
	States     []domain.State
}

// Tx is one transaction's view of the port. All order-state mutations
// happen through a Tx so the order row and its transition-log entry
// commit atomically.
type Tx interface {
	UpsertOrder(ctx context.Context, o domain.Order) error
	RecordTransition(ctx context.Context, row domain.TransitionLogRow) error
	LoadOrder(ctx context.Context, orderID string) (domain.Order, bool, error)
	LoadOrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error)
	AppendFill(ctx context.Context, f domain.Fill) error
	WriteFeeCalc(ctx context.Context, f domain.FeeCalculation) error
	ApplyPortfolioDelta(ctx context.Context, pos domain.Position) error
	ApplyHoldingDelta(ctx context.Context, h domain.Holding) error

	Commit() error
	Rollback() error
}

// Port is the durable store the rest of the engine depends on. It is
// implemented by both sqlite.Store and the in-memory fake so unit tests
// never need a real database file.
type Port interface {
	Begin(ctx context.Context) (Tx, error)

	LoadOrder(ctx context.Context, orderID string) (domain.Order, bool, error)
	LoadOrdersByFilter(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	LoadOrderByBrokerOrderID(ctx context.Context, broker, brokerOrderID string) (domain.Order, bool, error)
	LoadOrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error)

	LoadPosition(ctx context.Context, broker string, instrument domain.InstrumentRef, product domain.ProductType) (domain.Position, bool, error)
	LoadPositions(ctx context.Context, broker string) ([]domain.Position, error)
	LoadHolding(ctx context.Context, broker string, instrument domain.InstrumentRef) (domain.Holding, bool, error)
	LoadHoldings(ctx context.Context, broker string) ([]domain.Holding, error)

	UpsertInstrument(ctx context.Context, i domain.Instrument) error
	LoadInstrument(ctx context.Context, ref domain.InstrumentRef) (domain.Instrument, bool, error)
	ReplaceInstruments(ctx context.Context, instruments []domain.Instrument) error

	UpsertFeeConfiguration(ctx context.Context, c domain.FeeConfiguration) error
	ActiveFeeConfigurations(ctx context.Context, broker string, assetClass domain.InstrumentType, segment string, at time.Time) ([]domain.FeeConfiguration, error)

	UpsertMarginRequirement(ctx context.Context, m domain.MarginRequirement) error
	ActiveMarginRequirements(ctx context.Context, broker string, instrument domain.InstrumentRef, at time.Time) ([]domain.MarginRequirement, error)

	UpsertRiskLimit(ctx context.Context, l domain.RiskLimit) error
	ActiveRiskLimits(ctx context.Context, scope domain.RiskScope, scopeKey string) ([]domain.RiskLimit, error)

	WriteReconciliationRun(ctx context.Context, run domain.ReconciliationRun) error
	WriteReconciliationItems(ctx context.Context, items []domain.ReconciliationItem) error

	IdempotencyKeyIndex(ctx context.Context) (map[string]string, error)

	Close() error
}
