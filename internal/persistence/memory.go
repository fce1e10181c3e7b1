package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/pkg/domain"
)

// Memory is an in-memory Port implementation. It exists so unit and
// integration tests can exercise the coordinator, router, and
// reconciliation engine without a real database file or a mocking
// framework.
type Memory struct {
	mu sync.Mutex

	orders         map[string]domain.Order
	byIdempotency  map[string]string
	byBrokerOrder  map[string]string // "broker|brokerOrderID" -> orderID
	transitions    []domain.TransitionLogRow
	fills          []domain.Fill
	feeCalcs       map[string]domain.FeeCalculation
	positions      map[string]domain.Position
	holdings       map[string]domain.Holding
	instruments    map[string]domain.Instrument
	feeConfigs     []domain.FeeConfiguration
	marginReqs     []domain.MarginRequirement
	riskLimits     []domain.RiskLimit
	reconRuns      []domain.ReconciliationRun
	reconItems     []domain.ReconciliationItem
}

// NewMemory returns an empty in-memory Port.
func NewMemory() *Memory {
	return &Memory{
		orders:        make(map[string]domain.Order),
		byIdempotency: make(map[string]string),
		byBrokerOrder: make(map[string]string),
		feeCalcs:      make(map[string]domain.FeeCalculation),
		positions:     make(map[string]domain.Position),
		holdings:      make(map[string]domain.Holding),
		instruments:   make(map[string]domain.Instrument),
	}
}

func posKey(broker string, ref domain.InstrumentRef, product domain.ProductType) string {
	return fmt.Sprintf("%s|%s|%s|%s", broker, ref.Exchange, ref.Symbol, product)
}

func holdingKey(broker string, ref domain.InstrumentRef) string {
	return fmt.Sprintf("%s|%s|%s", broker, ref.Exchange, ref.Symbol)
}

func instrumentKey(ref domain.InstrumentRef) string {
	return fmt.Sprintf("%s|%s", ref.Exchange, ref.Symbol)
}

func brokerOrderKey(broker, brokerOrderID string) string {
	return broker + "|" + brokerOrderID
}

// memTx implements Tx over Memory's guts. All mutations are buffered
// and only applied to the parent store on Commit, the same
// begin/commit/rollback contract the sqlite implementation provides.
type memTx struct {
	parent *Memory
	done   bool

	orders      map[string]domain.Order
	transitions []domain.TransitionLogRow
	fills       []domain.Fill
	feeCalcs    []domain.FeeCalculation
	positions   []domain.Position
	holdings    []domain.Holding
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memTx{parent: m, orders: make(map[string]domain.Order)}, nil
}

func (t *memTx) UpsertOrder(ctx context.Context, o domain.Order) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.orders[o.OrderID] = o
	return nil
}

func (t *memTx) RecordTransition(ctx context.Context, row domain.TransitionLogRow) error {
	t.transitions = append(t.transitions, row)
	return nil
}

func (t *memTx) LoadOrder(ctx context.Context, orderID string) (domain.Order, bool, error) {
	if o, ok := t.orders[orderID]; ok {
		return o, true, nil
	}
	return t.parent.LoadOrder(ctx, orderID)
}

func (t *memTx) LoadOrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error) {
	for _, o := range t.orders {
		if o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	if id, ok := t.parent.byIdempotency[key]; ok {
		o := t.parent.orders[id]
		return o, true, nil
	}
	return domain.Order{}, false, nil
}

func (t *memTx) AppendFill(ctx context.Context, f domain.Fill) error {
	t.fills = append(t.fills, f)
	return nil
}

func (t *memTx) WriteFeeCalc(ctx context.Context, f domain.FeeCalculation) error {
	t.feeCalcs = append(t.feeCalcs, f)
	return nil
}

func (t *memTx) ApplyPortfolioDelta(ctx context.Context, pos domain.Position) error {
	t.positions = append(t.positions, pos)
	return nil
}

func (t *memTx) ApplyHoldingDelta(ctx context.Context, h domain.Holding) error {
	t.holdings = append(t.holdings, h)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()

	for id, o := range t.orders {
		t.parent.orders[id] = o
		if o.IdempotencyKey != "" {
			t.parent.byIdempotency[o.IdempotencyKey] = id
		}
		if o.BrokerOrderID != "" {
			t.parent.byBrokerOrder[brokerOrderKey(o.Broker, o.BrokerOrderID)] = id
		}
	}
	t.parent.transitions = append(t.parent.transitions, t.transitions...)
	t.parent.fills = append(t.parent.fills, t.fills...)
	for _, f := range t.feeCalcs {
		t.parent.feeCalcs[f.OrderID] = f
	}
	for _, p := range t.positions {
		t.parent.positions[posKey(p.Broker, p.Instrument, p.Product)] = p
	}
	for _, h := range t.holdings {
		t.parent.holdings[holdingKey(h.Broker, h.Instrument)] = h
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}

func (m *Memory) LoadOrder(ctx context.Context, orderID string) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return o, ok, nil
}

func (m *Memory) LoadOrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdempotency[key]
	if !ok {
		return domain.Order{}, false, nil
	}
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *Memory) LoadOrdersByFilter(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if f.Broker != "" && o.Broker != f.Broker {
			continue
		}
		if f.Instrument != (domain.InstrumentRef{}) && o.Instrument != f.Instrument {
			continue
		}
		if len(f.States) > 0 {
			match := false
			for _, s := range f.States {
				if o.State == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Memory) LoadOrderByBrokerOrderID(ctx context.Context, broker, brokerOrderID string) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byBrokerOrder[brokerOrderKey(broker, brokerOrderID)]
	if !ok {
		return domain.Order{}, false, nil
	}
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *Memory) LoadPosition(ctx context.Context, broker string, instrument domain.InstrumentRef, product domain.ProductType) (domain.Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[posKey(broker, instrument, product)]
	return p, ok, nil
}

func (m *Memory) LoadPositions(ctx context.Context, broker string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.Broker == broker {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) LoadHolding(ctx context.Context, broker string, instrument domain.InstrumentRef) (domain.Holding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[holdingKey(broker, instrument)]
	return h, ok, nil
}

func (m *Memory) LoadHoldings(ctx context.Context, broker string) ([]domain.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Holding
	for _, h := range m.holdings {
		if h.Broker == broker {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) UpsertInstrument(ctx context.Context, i domain.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[instrumentKey(i.Ref())] = i
	return nil
}

func (m *Memory) LoadInstrument(ctx context.Context, ref domain.InstrumentRef) (domain.Instrument, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.instruments[instrumentKey(ref)]
	return i, ok, nil
}

func (m *Memory) ReplaceInstruments(ctx context.Context, instruments []domain.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments = make(map[string]domain.Instrument, len(instruments))
	for _, i := range instruments {
		m.instruments[instrumentKey(i.Ref())] = i
	}
	return nil
}

func (m *Memory) UpsertFeeConfiguration(ctx context.Context, c domain.FeeConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeConfigs = append(m.feeConfigs, c)
	return nil
}

func (m *Memory) ActiveFeeConfigurations(ctx context.Context, broker string, assetClass domain.InstrumentType, segment string, at time.Time) ([]domain.FeeConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FeeConfiguration
	for _, c := range m.feeConfigs {
		if c.Broker == broker && c.AssetClass == assetClass && c.Segment == segment && c.Active(at) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) UpsertMarginRequirement(ctx context.Context, req domain.MarginRequirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marginReqs = append(m.marginReqs, req)
	return nil
}

func (m *Memory) ActiveMarginRequirements(ctx context.Context, broker string, instrument domain.InstrumentRef, at time.Time) ([]domain.MarginRequirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MarginRequirement
	for _, r := range m.marginReqs {
		if r.Broker == broker && r.Instrument == instrument && r.Active(at) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) UpsertRiskLimit(ctx context.Context, l domain.RiskLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskLimits = append(m.riskLimits, l)
	return nil
}

func (m *Memory) ActiveRiskLimits(ctx context.Context, scope domain.RiskScope, scopeKey string) ([]domain.RiskLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RiskLimit
	for _, l := range m.riskLimits {
		if l.Scope == scope && l.ScopeKey == scopeKey && l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) WriteReconciliationRun(ctx context.Context, run domain.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconRuns = append(m.reconRuns, run)
	return nil
}

func (m *Memory) WriteReconciliationItems(ctx context.Context, items []domain.ReconciliationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconItems = append(m.reconItems, items...)
	return nil
}

func (m *Memory) IdempotencyKeyIndex(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.byIdempotency))
	for k, v := range m.byIdempotency {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
