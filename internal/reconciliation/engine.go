// Package reconciliation periodically diffs local order/position/
// holding state against broker truth and records the discrepancies for
// an operator to resolve; it never mutates local state itself.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
)

// Engine runs scheduled reconciliation passes, one per configured
// (broker, scope) entry.
type Engine struct {
	store   persistence.Port
	brokers map[string]broker.Adapter
	logger  *slog.Logger
	locks   *scopeLocks
	cron    *cron.Cron
}

// New builds an Engine. Cron entries are added afterwards with Schedule,
// normally from config.Config.ReconciliationSchedule.
func New(store persistence.Port, brokers map[string]broker.Adapter, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		brokers: brokers,
		logger:  logger.With("component", "reconciliation"),
		locks:   newScopeLocks(),
		cron:    cron.New(),
	}
}

// Schedule registers one cron entry per schedule row. Call before Start.
func (e *Engine) Schedule(schedule []config.ReconScheduleEntry) error {
	for _, entry := range schedule {
		entry := entry
		scope := domain.ReconciliationScope(entry.Scope)
		if _, err := e.cron.AddFunc(entry.Cron, func() {
			ctx := context.Background()
			if _, err := e.Run(ctx, entry.Broker, scope); err != nil {
				e.logger.Error("scheduled reconciliation run failed", "broker", entry.Broker, "scope", scope, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s/%s: %w", entry.Broker, entry.Scope, err)
		}
	}
	return nil
}

// Start launches the cron scheduler. It returns immediately.
func (e *Engine) Start() { e.cron.Start() }

// Stop halts the scheduler and waits for any in-flight firing to
// finish.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
}

// Run executes one reconciliation pass for (brokerID, scope), skipping
// entirely (rather than queueing) if a prior run for the same pair is
// still in flight.
func (e *Engine) Run(ctx context.Context, brokerID string, scope domain.ReconciliationScope) (domain.ReconciliationRun, error) {
	lockKey := brokerID + ":" + string(scope)
	release, ok := e.locks.tryLock(lockKey)
	if !ok {
		return domain.ReconciliationRun{}, fmt.Errorf("reconciliation for %s already in progress", lockKey)
	}
	defer release()

	adapter, ok := e.brokers[brokerID]
	if !ok {
		return domain.ReconciliationRun{}, fmt.Errorf("no adapter registered for broker %q", brokerID)
	}

	run := domain.ReconciliationRun{
		RunID:     uuid.NewString(),
		Broker:    brokerID,
		Scope:     scope,
		Status:    domain.RunRunning,
		StartedAt: time.Now(),
	}

	// The three scopes hit independent broker endpoints and independent
	// store tables, so a ScopeAll run fans them out concurrently rather
	// than paying their latencies one after another.
	var items []domain.ReconciliationItem
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)

	if scope == domain.ScopeOrders || scope == domain.ScopeAll {
		eg.Go(func() error {
			orderItems, err := e.diffOrders(egCtx, brokerID, adapter)
			if err != nil {
				return err
			}
			mu.Lock()
			items = append(items, orderItems...)
			mu.Unlock()
			return nil
		})
	}
	if scope == domain.ScopePositions || scope == domain.ScopeAll {
		eg.Go(func() error {
			positionItems, err := e.diffPositions(egCtx, brokerID, adapter)
			if err != nil {
				return err
			}
			mu.Lock()
			items = append(items, positionItems...)
			mu.Unlock()
			return nil
		})
	}
	if scope == domain.ScopeHoldings || scope == domain.ScopeAll {
		eg.Go(func() error {
			holdingItems, err := e.diffHoldings(egCtx, brokerID, adapter)
			if err != nil {
				return err
			}
			mu.Lock()
			items = append(items, holdingItems...)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return e.fail(run, err)
	}

	for i := range items {
		items[i].RunID = run.RunID
	}

	run.FinishedAt = time.Now()
	run.ItemsCompared = len(items)
	run.MismatchesFound = len(items)
	if run.MismatchesFound == 0 {
		run.Status = domain.RunCompleted
	} else {
		run.Status = domain.RunCompletedWithErrors
	}

	if err := e.store.WriteReconciliationRun(ctx, run); err != nil {
		return domain.ReconciliationRun{}, fmt.Errorf("write reconciliation run: %w", err)
	}
	if len(items) > 0 {
		if err := e.store.WriteReconciliationItems(ctx, items); err != nil {
			return domain.ReconciliationRun{}, fmt.Errorf("write reconciliation items: %w", err)
		}
	}

	e.logger.Info("reconciliation run complete",
		"broker", brokerID, "scope", scope, "compared", run.ItemsCompared, "mismatches", run.MismatchesFound)
	return run, nil
}

func (e *Engine) fail(run domain.ReconciliationRun, cause error) (domain.ReconciliationRun, error) {
	run.Status = domain.RunFailed
	run.FinishedAt = time.Now()
	if writeErr := e.store.WriteReconciliationRun(context.Background(), run); writeErr != nil {
		e.logger.Error("failed to persist failed reconciliation run", "error", writeErr)
	}
	return run, fmt.Errorf("reconciliation run failed: %w", cause)
}

func (e *Engine) diffOrders(ctx context.Context, brokerID string, adapter broker.Adapter) ([]domain.ReconciliationItem, error) {
	brokerOrders, err := adapter.FetchOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker open orders: %w", err)
	}
	localOrders, err := e.store.LoadOrdersByFilter(ctx, persistence.OrderFilter{
		Broker: brokerID,
		States: []domain.State{domain.StateSubmitted, domain.StatePartiallyFilled, domain.StateModifyRequested},
	})
	if err != nil {
		return nil, fmt.Errorf("load local open orders: %w", err)
	}

	brokerByID := make(map[string]domain.Order, len(brokerOrders))
	for _, o := range brokerOrders {
		brokerByID[o.BrokerOrderID] = o
	}
	localByID := make(map[string]domain.Order, len(localOrders))
	for _, o := range localOrders {
		if o.BrokerOrderID != "" {
			localByID[o.BrokerOrderID] = o
		}
	}

	var items []domain.ReconciliationItem
	for id, local := range localByID {
		remote, found := brokerByID[id]
		if !found {
			items = append(items, ghostItem("order:"+id, id, local))
			continue
		}
		if local.State != remote.State || local.FilledQuantity != remote.FilledQuantity {
			items = append(items, mismatchItem("order:"+id, id, local, remote))
		}
	}
	for id, remote := range brokerByID {
		if _, found := localByID[id]; !found {
			items = append(items, orphanItem("order:"+id, id, remote))
		}
	}
	return items, nil
}

func (e *Engine) diffPositions(ctx context.Context, brokerID string, adapter broker.Adapter) ([]domain.ReconciliationItem, error) {
	brokerPositions, err := adapter.FetchPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker positions: %w", err)
	}
	localPositions, err := e.store.LoadPositions(ctx, brokerID)
	if err != nil {
		return nil, fmt.Errorf("load local positions: %w", err)
	}

	key := func(p domain.Position) string {
		return fmt.Sprintf("%s/%s/%s", p.Instrument.Exchange, p.Instrument.Symbol, p.Product)
	}

	brokerByKey := make(map[string]domain.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerByKey[key(p)] = p
	}
	localByKey := make(map[string]domain.Position, len(localPositions))
	for _, p := range localPositions {
		localByKey[key(p)] = p
	}

	var items []domain.ReconciliationItem
	for k, local := range localByKey {
		remote, found := brokerByKey[k]
		if !found {
			items = append(items, ghostItem("position:"+k, k, local))
			continue
		}
		if local.NetQty() != remote.NetQty() {
			items = append(items, mismatchItem("position:"+k, k, local, remote))
		}
	}
	for k, remote := range brokerByKey {
		if _, found := localByKey[k]; !found {
			items = append(items, orphanItem("position:"+k, k, remote))
		}
	}
	return items, nil
}

func (e *Engine) diffHoldings(ctx context.Context, brokerID string, adapter broker.Adapter) ([]domain.ReconciliationItem, error) {
	brokerHoldings, err := adapter.FetchHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker holdings: %w", err)
	}
	localHoldings, err := e.store.LoadHoldings(ctx, brokerID)
	if err != nil {
		return nil, fmt.Errorf("load local holdings: %w", err)
	}

	key := func(h domain.Holding) string {
		return fmt.Sprintf("%s/%s", h.Instrument.Exchange, h.Instrument.Symbol)
	}

	brokerByKey := make(map[string]domain.Holding, len(brokerHoldings))
	for _, h := range brokerHoldings {
		brokerByKey[key(h)] = h
	}
	localByKey := make(map[string]domain.Holding, len(localHoldings))
	for _, h := range localHoldings {
		localByKey[key(h)] = h
	}

	var items []domain.ReconciliationItem
	for k, local := range localByKey {
		remote, found := brokerByKey[k]
		if !found {
			items = append(items, ghostItem("holding:"+k, k, local))
			continue
		}
		if local.Quantity != remote.Quantity {
			items = append(items, mismatchItem("holding:"+k, k, local, remote))
		}
	}
	for k, remote := range brokerByKey {
		if _, found := localByKey[k]; !found {
			items = append(items, orphanItem("holding:"+k, k, remote))
		}
	}
	return items, nil
}

func ghostItem(itemID, refID string, local any) domain.ReconciliationItem {
	return domain.ReconciliationItem{
		ItemType:       domain.ItemTypeGhost,
		ItemID:         itemID,
		BrokerRefID:    refID,
		SystemSnapshot: toJSON(local),
		BrokerSnapshot: "",
		Discrepancy:    "present locally, missing at broker",
		Status:         domain.ItemMismatch,
	}
}

func orphanItem(itemID, refID string, remote any) domain.ReconciliationItem {
	return domain.ReconciliationItem{
		ItemType:       domain.ItemTypeOrphan,
		ItemID:         itemID,
		BrokerRefID:    refID,
		SystemSnapshot: "",
		BrokerSnapshot: toJSON(remote),
		Discrepancy:    "present at broker, missing locally",
		Status:         domain.ItemMismatch,
	}
}

func mismatchItem(itemID, refID string, local, remote any) domain.ReconciliationItem {
	return domain.ReconciliationItem{
		ItemType:       domain.ItemTypeAttributeDiff,
		ItemID:         itemID,
		BrokerRefID:    refID,
		SystemSnapshot: toJSON(local),
		BrokerSnapshot: toJSON(remote),
		Discrepancy:    "attributes differ between local and broker snapshot",
		Status:         domain.ItemMismatch,
	}
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<marshal error: %v>", err)
	}
	return string(b)
}
