// Package coordinator is the Order Coordinator: the orchestration
// heart that takes an intent through idempotency, validation, margin,
// risk, routing, persistence, and broker dispatch, then consumes the
// broker's event stream back into order-state and portfolio updates.
//
// Concurrency: one goroutine per broker event stream feeding a
// hash-keyed dispatcher of per-shard worker goroutines
// (internal/coordinator/dispatcher.go), plus a bounded worker pool for
// outbound broker dispatch that doubles as the intake backpressure
// valve.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/broker"
	"tradecore/internal/errkind"
	"tradecore/internal/fees"
	"tradecore/internal/idempotency"
	"tradecore/internal/margin"
	"tradecore/internal/persistence"
	"tradecore/internal/portfolio"
	"tradecore/internal/risk"
	"tradecore/internal/router"
	"tradecore/internal/statemachine"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// Deps bundles the components the coordinator orchestrates.
type Deps struct {
	Store   persistence.Port
	Idem    *idempotency.Store
	Fees    *fees.Calculator
	Margin  *margin.Calculator
	Risk    *risk.Gate
	Machine *statemachine.Machine
	Router  *router.Router
	Reducer *portfolio.Reducer
	Brokers map[string]broker.Adapter

	// AvailableMargin is the account's configured margin pool, checked
	// against each order's required margin. It does not track usage
	// across open orders; that ledgering belongs to a funds/account
	// service outside this engine's scope.
	AvailableMargin money.Amount

	RiskLimitsForScope func(ctx context.Context, strategyID string, instrument domain.InstrumentRef) ([]domain.RiskLimit, error)
}

// Coordinator is the orchestration heart of the engine.
type Coordinator struct {
	deps   Deps
	logger *slog.Logger

	intake     chan dispatchJob
	dispatcher *dispatcher
	rpcDeadline time.Duration

	eg     *errgroup.Group
	cancel context.CancelFunc

	// icebergMu guards the bookkeeping that releases iceberg slices one
	// at a time as earlier slices report progress.
	icebergMu       sync.Mutex
	icebergGroups   map[string]bool           // group id -> this group is an iceberg split, not an OCO pair
	icebergPending  map[string][]domain.Order // group id -> slices not yet queued
	icebergReleased map[string]bool           // order id -> this slice already released its successor

	// bracketMu guards pendingBrackets, the entry order ids awaiting
	// their target/stop expansion on fill.
	bracketMu       sync.Mutex
	pendingBrackets map[string]domain.BracketSpec
}

type dispatchJob struct {
	order  domain.Order
	broker string
}

// New builds a Coordinator. intakeCapacity bounds the outbound broker
// dispatch queue (and therefore Submit's backpressure); shardCount
// bounds the broker-event dispatcher's concurrency.
func New(deps Deps, logger *slog.Logger, intakeCapacity, shardCount int, rpcDeadline time.Duration) *Coordinator {
	if intakeCapacity <= 0 {
		intakeCapacity = 1024
	}
	if shardCount <= 0 {
		shardCount = 16
	}
	return &Coordinator{
		deps:            deps,
		logger:          logger.With("component", "coordinator"),
		intake:          make(chan dispatchJob, intakeCapacity),
		dispatcher:      newDispatcher(shardCount, 256),
		rpcDeadline:     rpcDeadline,
		icebergGroups:   make(map[string]bool),
		icebergPending:  make(map[string][]domain.Order),
		icebergReleased: make(map[string]bool),
		pendingBrackets: make(map[string]domain.BracketSpec),
	}
}

// Start launches the dispatch workers and the broker event consumers,
// one errgroup per coordinator so Stop can wait for all of them to
// actually exit rather than just assuming they will.
func (c *Coordinator) Start(ctx context.Context, dispatchWorkers int) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	eg, ctx := errgroup.WithContext(ctx)
	c.eg = eg

	if dispatchWorkers <= 0 {
		dispatchWorkers = 8
	}
	for i := 0; i < dispatchWorkers; i++ {
		eg.Go(func() error {
			c.runDispatchWorker(ctx)
			return nil
		})
	}

	for brokerID, adapter := range c.deps.Brokers {
		brokerID, adapter := brokerID, adapter
		eg.Go(func() error {
			c.runEventConsumer(ctx, brokerID, adapter)
			return nil
		})
	}

	for i := range c.dispatcher.shards {
		shard := c.dispatcher.shards[i]
		eg.Go(func() error {
			c.runEventShard(ctx, shard)
			return nil
		})
	}
}

// Stop cancels all background goroutines and waits for them to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.eg != nil {
		c.eg.Wait()
	}
}

// Submit runs the intent through idempotency, normalization, margin,
// risk, and routing, persists the order through QUEUED, and enqueues
// it for asynchronous broker dispatch. The bounded dispatch queue is
// the coordinator's backpressure valve: a full queue fails the call
// synchronously with errkind.CapacityExceeded, and the order, already
// persisted as QUEUED, is moved to REJECTED.
func (c *Coordinator) Submit(ctx context.Context, intent domain.Intent) (domain.Order, error) {
	// The in-process reservation map is only the fast path; a prior
	// order may already have been persisted durably under this key by
	// an earlier process (restart) or an earlier call whose response
	// never reached the caller. Checking the durable store first is
	// what makes retries of an already-terminal order idempotent
	// instead of racing a fresh Reserve.
	if intent.IdempotencyKey != "" {
		existing, found, err := c.deps.Store.LoadOrderByIdempotencyKey(ctx, intent.IdempotencyKey)
		if err != nil {
			return domain.Order{}, fmt.Errorf("load existing order for idempotency key: %w", err)
		}
		if found {
			c.deps.Idem.Hydrate(map[string]string{intent.IdempotencyKey: existing.OrderID})
			return existing, nil
		}
	}

	orderID := uuid.NewString()

	reservedID, won := c.deps.Idem.Reserve(intent.IdempotencyKey, orderID)
	if !won {
		existing, found, err := c.deps.Store.LoadOrder(ctx, reservedID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("load existing order for duplicate idempotency key: %w", err)
		}
		if found {
			return existing, nil
		}
		return domain.Order{}, errkind.New(errkind.DuplicateIdempotency, "idempotency key reserved but order not yet visible")
	}
	orderID = reservedID

	order, err := c.buildOrder(ctx, orderID, intent)
	if err != nil {
		c.deps.Idem.Release(intent.IdempotencyKey)
		return domain.Order{}, err
	}

	if err := c.normalize(ctx, &order); err != nil {
		return c.rejectAndPersist(ctx, order, err)
	}

	// Routing is resolved ahead of margin/risk (rather than strictly
	// after, as the happy-path ordering reads) because margin
	// requirements are looked up per broker; an explicit or
	// rule-resolved broker must exist before C5 can run.
	brokerID, err := c.deps.Router.Route(intent, order.instrumentTypeHint)
	if err != nil {
		return c.rejectAndPersist(ctx, order, errkind.Wrap(errkind.Validation, "routing failed", err))
	}
	order.Broker = brokerID

	if err := c.checkMarginAndRisk(ctx, order); err != nil {
		return c.rejectAndPersist(ctx, order, err)
	}

	if intent.IcebergVisible > 0 {
		return c.submitIceberg(ctx, order, intent)
	}
	if intent.Bracket != nil {
		c.rememberBracket(order.OrderID, *intent.Bracket)
	}

	return c.submitSingle(ctx, order, brokerID)
}

// submitSingle persists o in QUEUED and hands it to the dispatch
// workers. It is the tail end of every order-entry path: a plain
// submission, one iceberg slice, or one bracket exit leg.
func (c *Coordinator) submitSingle(ctx context.Context, o orderWithHint, brokerID string) (domain.Order, error) {
	if err := c.persistTransition(ctx, o.Order, domain.StatePending, domain.StateQueued, ""); err != nil {
		return domain.Order{}, fmt.Errorf("persist queued order: %w", err)
	}
	o.State = domain.StateQueued

	select {
	case c.intake <- dispatchJob{order: o.Order, broker: brokerID}:
	default:
		capErr := errkind.New(errkind.CapacityExceeded, "dispatch queue is full")
		o.RejectReason = capErr.Error()
		if err := c.persistTransition(ctx, o.Order, domain.StateQueued, domain.StateRejected, capErr.Error()); err != nil {
			return domain.Order{}, fmt.Errorf("persist capacity rejection: %w", err)
		}
		o.State = domain.StateRejected
		return o.Order, capErr
	}

	return o.Order, nil
}

// submitIceberg splits order into LIMIT slices via the router and
// dispatches only the first one. The rest are persisted PENDING and
// held in icebergPending until releaseNextIcebergChild lets them go,
// one at a time, as earlier slices report fill progress.
func (c *Coordinator) submitIceberg(ctx context.Context, order orderWithHint, intent domain.Intent) (domain.Order, error) {
	children, err := router.SplitIceberg(order.Order, intent.IcebergVisible)
	if err != nil {
		return c.rejectAndPersist(ctx, order, errkind.Wrap(errkind.Validation, "iceberg split failed", err))
	}

	now := time.Now()
	for i := range children {
		children[i].OrderID = uuid.NewString()
		children[i].CreatedAt = now
		children[i].UpdatedAt = now
	}
	// SplitIceberg clears IdempotencyKey on every slice; only the first
	// carries the caller's key forward; the rest are internally
	// generated and never deduplicated (idempotency.Store.Reserve).
	children[0].IdempotencyKey = intent.IdempotencyKey

	for _, child := range children[1:] {
		if err := c.persistNewOrder(ctx, child); err != nil {
			return domain.Order{}, fmt.Errorf("persist iceberg slice: %w", err)
		}
	}

	groupID := children[0].GroupID
	c.icebergMu.Lock()
	c.icebergGroups[groupID] = true
	if len(children) > 1 {
		c.icebergPending[groupID] = children[1:]
	}
	c.icebergMu.Unlock()

	return c.submitSingle(ctx, orderWithHint{Order: children[0], instrumentTypeHint: order.instrumentTypeHint}, order.Broker)
}

// persistNewOrder durably writes o without a transition-log entry. Used
// for iceberg slices that are held back in PENDING until it's their
// turn to dispatch.
func (c *Coordinator) persistNewOrder(ctx context.Context, o domain.Order) error {
	tx, err := c.deps.Store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.UpsertOrder(ctx, o); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Coordinator) rememberBracket(entryOrderID string, spec domain.BracketSpec) {
	c.bracketMu.Lock()
	c.pendingBrackets[entryOrderID] = spec
	c.bracketMu.Unlock()
}

// Cancel requests cancellation of a live order. It only issues the
// broker-side cancel RPC; the order's transition to CANCELLED happens
// when the broker's event stream confirms it, the same path a
// broker-initiated cancel takes.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	order, found, err := c.deps.Store.LoadOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !found {
		return errkind.New(errkind.Validation, fmt.Sprintf("order %s not found", orderID))
	}
	if order.State.Terminal() {
		return errkind.New(errkind.InvalidTransition, fmt.Sprintf("order %s is already %s", orderID, order.State))
	}
	if order.BrokerOrderID == "" {
		return errkind.New(errkind.InvalidTransition, fmt.Sprintf("order %s has no broker order id yet", orderID))
	}

	adapter, ok := c.deps.Brokers[order.Broker]
	if !ok {
		return fmt.Errorf("no adapter registered for broker %q", order.Broker)
	}
	if err := adapter.Cancel(ctx, order.BrokerOrderID); err != nil {
		return errkind.Wrap(errkind.BrokerReject, "cancel request rejected", err)
	}
	return nil
}

// orderWithHint carries a hint that isn't part of the persisted Order
// shape; kept as an unexported field on a thin wrapper would pollute
// domain.Order, so normalize resolves and threads it explicitly here.
type orderWithHint struct {
	domain.Order
	instrumentTypeHint domain.InstrumentType
}

func (c *Coordinator) buildOrder(ctx context.Context, orderID string, intent domain.Intent) (orderWithHint, error) {
	now := time.Now()
	o := orderWithHint{Order: domain.Order{
		OrderID:        orderID,
		IdempotencyKey: intent.IdempotencyKey,
		StrategyID:     intent.StrategyID,
		Broker:         intent.Broker,
		Instrument:     intent.Instrument,
		Side:           intent.Side,
		Type:           intent.Type,
		Validity:       intent.Validity,
		Product:        intent.Product,
		Quantity:       intent.Quantity,
		Price:          intent.Price,
		TriggerPrice:   intent.TriggerPrice,
		State:          domain.StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	return o, nil
}

func (c *Coordinator) normalize(ctx context.Context, o *orderWithHint) error {
	if o.Quantity <= 0 {
		return errkind.New(errkind.Validation, "quantity must be positive")
	}
	if o.Price.IsZero() || o.Price.IsNegative() {
		return errkind.New(errkind.Validation, "price must be positive")
	}

	instrument, found, err := c.deps.Store.LoadInstrument(ctx, o.Instrument)
	if err != nil {
		return fmt.Errorf("load instrument: %w", err)
	}
	if !found {
		return errkind.New(errkind.Validation, fmt.Sprintf("unknown instrument %s/%s", o.Instrument.Exchange, o.Instrument.Symbol))
	}
	if instrument.LotSize > 0 && o.Quantity%instrument.LotSize != 0 {
		return errkind.New(errkind.Validation, fmt.Sprintf("quantity %d is not a multiple of lot size %d", o.Quantity, instrument.LotSize))
	}
	o.Price = instrument.AlignPrice(o.Price)
	o.instrumentTypeHint = instrument.Type
	return nil
}

func (c *Coordinator) checkMarginAndRisk(ctx context.Context, o orderWithHint) error {
	breakdown, err := c.deps.Margin.Required(ctx, o.Order)
	if err != nil {
		return errkind.Wrap(errkind.MarginShortfall, "margin lookup failed", err)
	}

	if ok, shortfall := c.deps.Margin.Validate(c.deps.AvailableMargin, breakdown.Total); !ok {
		return errkind.New(errkind.MarginShortfall,
			fmt.Sprintf("required %s exceeds available %s by %s", shortfall.Required, shortfall.Available, shortfall.Deficit))
	}

	var limits []domain.RiskLimit
	if c.deps.RiskLimitsForScope != nil {
		limits, err = c.deps.RiskLimitsForScope(ctx, o.StrategyID, o.Instrument)
		if err != nil {
			return fmt.Errorf("load risk limits: %w", err)
		}
	}

	decision := c.deps.Risk.Evaluate(risk.RiskContext{
		StrategyID: o.StrategyID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      o.Price,
		Limits:     limits,
	})
	if !decision.Approved {
		return errkind.New(errkind.RiskViolation, fmt.Sprintf("%d risk violation(s)", len(decision.Violations)))
	}
	return nil
}

// rejectAndPersist persists o as REJECTED under cause. The idempotency
// key is only released if that persist itself fails: once a terminal
// order is durably written under the key, a client retry must see it
// rather than win a fresh reservation and mint a second order.
func (c *Coordinator) rejectAndPersist(ctx context.Context, o orderWithHint, cause error) (domain.Order, error) {
	o.RejectReason = cause.Error()
	if err := c.persistTransition(ctx, o.Order, domain.StatePending, domain.StateRejected, cause.Error()); err != nil {
		c.deps.Idem.Release(o.IdempotencyKey)
		return domain.Order{}, fmt.Errorf("persist rejection: %w", err)
	}
	o.State = domain.StateRejected
	return o.Order, cause
}

func (c *Coordinator) persistTransition(ctx context.Context, o domain.Order, from, to domain.State, reason string) error {
	tx, err := c.deps.Store.Begin(ctx)
	if err != nil {
		return err
	}
	o.State = to
	o.UpdatedAt = time.Now()
	if err := tx.UpsertOrder(ctx, o); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.RecordTransition(ctx, domain.TransitionLogRow{
		ID:        uuid.NewString(),
		OrderID:   o.OrderID,
		FromState: from,
		ToState:   to,
		At:        o.UpdatedAt,
		Reason:    reason,
	}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// runDispatchWorker drains the intake queue and submits each order to
// its broker, transitioning to SUBMITTED on ack and REJECTED on
// inline rejection.
func (c *Coordinator) runDispatchWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.intake:
			c.dispatchOne(ctx, job)
		}
	}
}

func (c *Coordinator) dispatchOne(ctx context.Context, job dispatchJob) {
	adapter, ok := c.deps.Brokers[job.broker]
	if !ok {
		c.logger.Error("no adapter registered for broker", "broker", job.broker, "order_id", job.order.OrderID)
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcDeadline)
	defer cancel()

	result, err := adapter.Place(rpcCtx, job.order)
	if err != nil {
		c.logger.Error("broker place failed", "broker", job.broker, "order_id", job.order.OrderID, "error", err)
		return
	}

	if !result.Accepted {
		if err := c.persistTransition(ctx, job.order, domain.StateQueued, domain.StateRejected, result.RejectReason); err != nil {
			c.logger.Error("persist broker rejection failed", "order_id", job.order.OrderID, "error", err)
		}
		return
	}

	job.order.BrokerOrderID = result.BrokerOrderID
	if err := c.persistTransition(ctx, job.order, domain.StateQueued, domain.StateSubmitted, ""); err != nil {
		c.logger.Error("persist broker submission failed", "order_id", job.order.OrderID, "error", err)
	}
}

// runEventConsumer subscribes to one broker's event stream for the
// lifetime of ctx and hash-dispatches each event by broker_order_id.
func (c *Coordinator) runEventConsumer(ctx context.Context, brokerID string, adapter broker.Adapter) {
	events, err := adapter.SubscribeEvents(ctx)
	if err != nil {
		c.logger.Error("subscribe to broker events failed", "broker", brokerID, "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !c.dispatcher.dispatch(evt.BrokerOrderID, eventJob{broker: brokerID, evt: evt}) {
				c.logger.Warn("event shard full, dropping event", "broker", brokerID, "broker_order_id", evt.BrokerOrderID, "sequence", evt.Sequence)
			}
		}
	}
}

func (c *Coordinator) runEventShard(ctx context.Context, shard chan eventJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-shard:
			c.handleEvent(ctx, job)
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, job eventJob) {
	order, found, err := c.deps.Store.LoadOrderByBrokerOrderID(ctx, job.broker, job.evt.BrokerOrderID)
	if err != nil {
		c.logger.Error("load order for event failed", "broker", job.broker, "broker_order_id", job.evt.BrokerOrderID, "error", err)
		return
	}
	if !found {
		c.logger.Warn("event for unknown broker order", "broker", job.broker, "broker_order_id", job.evt.BrokerOrderID)
		return
	}

	next, err := c.nextState(order.State, job.evt)
	if err != nil {
		c.logger.Error("invalid state transition from event", "order_id", order.OrderID, "error", err)
		return
	}

	from := order.State
	if job.evt.Type == broker.EventPartialFill || job.evt.Type == broker.EventFill {
		order.FilledQuantity = job.evt.CumulativeQty
		order.AvgFillPrice = job.evt.FillPrice
	}
	if job.evt.Type == broker.EventReject || job.evt.Type == broker.EventCancelled || job.evt.Type == broker.EventExpired {
		order.RejectReason = job.evt.Reason
	}

	if err := c.persistTransition(ctx, order, from, next, job.evt.Reason); err != nil {
		c.logger.Error("persist event transition failed", "order_id", order.OrderID, "error", err)
		return
	}

	if job.evt.Type == broker.EventPartialFill || job.evt.Type == broker.EventFill {
		c.applyFillAndFees(ctx, order, job)
	}

	if next == domain.StatePartiallyFilled || next == domain.StateFilled {
		c.releaseNextIcebergChild(ctx, order)
	}
	if next == domain.StateFilled {
		c.expandBracketIfPending(ctx, order)
	}

	if next.Terminal() && next != domain.StateRejected {
		c.cancelSiblingsOnFill(ctx, order, job.evt.Type)
	}
}

// releaseNextIcebergChild dispatches the next held-back iceberg slice
// once the slice named by order (the one that just reported progress)
// has a successor waiting. Only the first PARTIALLY_FILLED or FILLED
// event seen for a given slice releases its successor; further fills
// against the same slice are no-ops, so repeated partials don't
// cascade-release the rest of the book at once.
func (c *Coordinator) releaseNextIcebergChild(ctx context.Context, order domain.Order) {
	if order.GroupID == "" {
		return
	}

	c.icebergMu.Lock()
	if c.icebergReleased[order.OrderID] {
		c.icebergMu.Unlock()
		return
	}
	remaining, ok := c.icebergPending[order.GroupID]
	if !ok || len(remaining) == 0 {
		c.icebergMu.Unlock()
		return
	}
	c.icebergReleased[order.OrderID] = true
	next := remaining[0]
	remaining = remaining[1:]
	if len(remaining) == 0 {
		delete(c.icebergPending, order.GroupID)
	} else {
		c.icebergPending[order.GroupID] = remaining
	}
	c.icebergMu.Unlock()

	if _, err := c.submitSingle(ctx, orderWithHint{Order: next}, next.Broker); err != nil {
		c.logger.Error("failed to release next iceberg slice", "order_id", next.OrderID, "group_id", order.GroupID, "error", err)
	}
}

// expandBracketIfPending builds and dispatches the OCO target/stop pair
// for an entry order that was submitted with a bracket spec, once that
// entry reaches FILLED.
func (c *Coordinator) expandBracketIfPending(ctx context.Context, order domain.Order) {
	c.bracketMu.Lock()
	spec, ok := c.pendingBrackets[order.OrderID]
	if ok {
		delete(c.pendingBrackets, order.OrderID)
	}
	c.bracketMu.Unlock()
	if !ok {
		return
	}

	legs := router.ExpandBracket(order, spec.TargetPrice, spec.StopPrice)
	now := time.Now()
	legs.Target.OrderID = uuid.NewString()
	legs.Target.CreatedAt, legs.Target.UpdatedAt = now, now
	legs.Stop.OrderID = uuid.NewString()
	legs.Stop.CreatedAt, legs.Stop.UpdatedAt = now, now

	for _, leg := range []domain.Order{legs.Target, legs.Stop} {
		if _, err := c.submitSingle(ctx, orderWithHint{Order: leg}, leg.Broker); err != nil {
			c.logger.Error("failed to dispatch bracket leg", "order_id", leg.OrderID, "entry_order_id", order.OrderID, "error", err)
		}
	}
}

func (c *Coordinator) nextState(current domain.State, evt broker.Event) (domain.State, error) {
	var target domain.State
	switch evt.Type {
	case broker.EventAck:
		target = domain.StateSubmitted
	case broker.EventPartialFill:
		target = domain.StatePartiallyFilled
	case broker.EventFill:
		target = domain.StateFilled
	case broker.EventReject:
		target = domain.StateRejected
	case broker.EventCancelled:
		target = domain.StateCancelled
	case broker.EventExpired:
		target = domain.StateExpired
	default:
		return current, fmt.Errorf("unrecognized event type %q", evt.Type)
	}
	return c.deps.Machine.Transition(current, target)
}

func (c *Coordinator) applyFillAndFees(ctx context.Context, order domain.Order, job eventJob) {
	fillQty := job.evt.FillQty
	fill := domain.Fill{
		FillID:     uuid.NewString(),
		OrderID:    order.OrderID,
		Broker:     order.Broker,
		Side:       order.Side,
		Quantity:   fillQty,
		Price:      job.evt.FillPrice,
		Product:    order.Product,
		Instrument: order.Instrument,
		TradedAt:   time.Now(),
	}

	pos, _, err := c.deps.Store.LoadPosition(ctx, order.Broker, order.Instrument, order.Product)
	if err != nil {
		c.logger.Error("load position for fill failed", "order_id", order.OrderID, "error", err)
		return
	}
	pos.Broker = order.Broker
	pos.Instrument = order.Instrument
	pos.Product = order.Product
	pos = c.deps.Reducer.ApplyFill(pos, fill)

	var fee domain.FeeCalculation
	if job.evt.Type == broker.EventFill {
		instrument, _, _ := c.deps.Store.LoadInstrument(ctx, order.Instrument)
		fee, err = c.deps.Fees.Compute(ctx, feesTrade(order, instrument, fill))
		if err != nil {
			c.logger.Warn("fee computation failed", "order_id", order.OrderID, "error", err)
		}
	}

	if order.Product == domain.ProductDelivery {
		holding, _, err := c.deps.Store.LoadHolding(ctx, order.Broker, order.Instrument)
		if err != nil {
			c.logger.Error("load holding for settlement failed", "order_id", order.OrderID, "error", err)
		} else {
			holding.Broker = order.Broker
			holding.Instrument = order.Instrument
			holding = c.deps.Reducer.Settle(holding, fill)
			if err := c.persistFillAndPortfolio(ctx, fill, fee, pos, &holding); err != nil {
				c.logger.Error("persist fill and settlement failed", "order_id", order.OrderID, "error", err)
			}
			return
		}
	}

	if err := c.persistFillAndPortfolio(ctx, fill, fee, pos, nil); err != nil {
		c.logger.Error("persist fill failed", "order_id", order.OrderID, "error", err)
	}
}

func feesTrade(order domain.Order, instrument domain.Instrument, fill domain.Fill) fees.Trade {
	return fees.Trade{
		OrderID:    order.OrderID,
		Broker:     order.Broker,
		AssetClass: instrument.Type,
		Segment:    instrument.Exchange,
		Side:       order.Side,
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		LotSize:    instrument.LotSize,
		TradeTime:  fill.TradedAt,
	}
}

func (c *Coordinator) persistFillAndPortfolio(ctx context.Context, fill domain.Fill, fee domain.FeeCalculation, pos domain.Position, holding *domain.Holding) error {
	tx, err := c.deps.Store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.AppendFill(ctx, fill); err != nil {
		tx.Rollback()
		return err
	}
	if fee.OrderID != "" {
		if err := tx.WriteFeeCalc(ctx, fee); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.ApplyPortfolioDelta(ctx, pos); err != nil {
		tx.Rollback()
		return err
	}
	if holding != nil {
		if err := tx.ApplyHoldingDelta(ctx, *holding); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// cancelSiblingsOnFill implements OCO: when one exit in a bracket/OCO
// group terminates in a fill, cancel the other leg. A cancel that
// results from this is expected, not a user-visible failure.
func (c *Coordinator) cancelSiblingsOnFill(ctx context.Context, order domain.Order, eventType broker.EventType) {
	if order.GroupID == "" || eventType != broker.EventFill {
		return
	}
	c.icebergMu.Lock()
	isIceberg := c.icebergGroups[order.GroupID]
	c.icebergMu.Unlock()
	if isIceberg {
		// Iceberg slices share a group id too, but a slice filling is
		// exactly the trigger that releases the next slice, not a
		// signal to cancel the rest of the book.
		return
	}
	siblings, err := c.deps.Store.LoadOrdersByFilter(ctx, persistence.OrderFilter{Broker: order.Broker})
	if err != nil {
		c.logger.Error("load siblings for OCO cancel failed", "order_id", order.OrderID, "error", err)
		return
	}
	adapter, ok := c.deps.Brokers[order.Broker]
	if !ok {
		return
	}
	for _, sib := range siblings {
		if sib.OrderID == order.OrderID || sib.GroupID != order.GroupID || sib.State.Terminal() {
			continue
		}
		if err := adapter.Cancel(ctx, sib.BrokerOrderID); err != nil {
			c.logger.Warn("oco sibling cancel failed", "order_id", sib.OrderID, "error", err)
		}
	}
}
