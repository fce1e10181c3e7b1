// Package sqlite backs the persistence port with a transactional SQL
// store using the pure-Go modernc.org/sqlite driver, so the binary
// needs no cgo toolchain to build or deploy.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	idempotency_key TEXT,
	strategy_id TEXT,
	broker TEXT,
	exchange TEXT,
	symbol TEXT,
	side TEXT,
	type TEXT,
	validity TEXT,
	product TEXT,
	quantity INTEGER,
	price TEXT,
	trigger_price TEXT,
	group_id TEXT,
	parent_id TEXT,
	broker_order_id TEXT,
	state TEXT,
	filled_quantity INTEGER,
	avg_fill_price TEXT,
	reject_reason TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idempotency ON orders(idempotency_key) WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_orders_broker_order ON orders(broker, broker_order_id);

CREATE TABLE IF NOT EXISTS order_transitions (
	id TEXT PRIMARY KEY,
	order_id TEXT,
	from_state TEXT,
	to_state TEXT,
	at DATETIME,
	reason TEXT
);

CREATE TABLE IF NOT EXISTS fills (
	fill_id TEXT PRIMARY KEY,
	order_id TEXT,
	broker TEXT,
	side TEXT,
	quantity INTEGER,
	price TEXT,
	product TEXT,
	exchange TEXT,
	symbol TEXT,
	traded_at DATETIME
);

CREATE TABLE IF NOT EXISTS fee_calculations (
	order_id TEXT PRIMARY KEY,
	brokerage TEXT,
	stt TEXT,
	exchange_txn TEXT,
	gst TEXT,
	sebi TEXT,
	stamp_duty TEXT,
	total_fees TEXT,
	warning TEXT
);

CREATE TABLE IF NOT EXISTS positions (
	broker TEXT,
	exchange TEXT,
	symbol TEXT,
	product TEXT,
	buy_qty INTEGER,
	sell_qty INTEGER,
	avg_buy TEXT,
	avg_sell TEXT,
	realized_pnl TEXT,
	unrealized_pnl TEXT,
	last_mark TEXT,
	PRIMARY KEY (broker, exchange, symbol, product)
);

CREATE TABLE IF NOT EXISTS holdings (
	broker TEXT,
	exchange TEXT,
	symbol TEXT,
	quantity INTEGER,
	avg_cost TEXT,
	last_traded_px TEXT,
	PRIMARY KEY (broker, exchange, symbol)
);

CREATE TABLE IF NOT EXISTS instruments (
	exchange TEXT,
	symbol TEXT,
	type TEXT,
	lot_size INTEGER,
	tick_size TEXT,
	expiry TEXT,
	strike TEXT,
	option_type TEXT,
	tradable INTEGER,
	PRIMARY KEY (exchange, symbol)
);

CREATE TABLE IF NOT EXISTS fee_configurations (
	broker TEXT,
	asset_class TEXT,
	segment TEXT,
	effective_from DATETIME,
	effective_to DATETIME,
	brokerage_is_flat INTEGER,
	brokerage_percent REAL,
	brokerage_flat TEXT,
	brokerage_cap TEXT,
	brokerage_floor TEXT,
	stt_percent REAL,
	exchange_txn_pct REAL,
	gst_percent REAL,
	sebi_percent REAL,
	stamp_duty_pct REAL
);

CREATE TABLE IF NOT EXISTS margin_requirements (
	broker TEXT,
	exchange TEXT,
	symbol TEXT,
	margin_type TEXT,
	effective_from DATETIME,
	effective_to DATETIME,
	span_percent REAL,
	exposure_percent REAL,
	delivery_percent REAL
);

CREATE TABLE IF NOT EXISTS risk_limits (
	id TEXT PRIMARY KEY,
	scope TEXT,
	scope_key TEXT,
	metric TEXT,
	limit_value TEXT,
	is_active INTEGER
);

CREATE TABLE IF NOT EXISTS reconciliation_runs (
	run_id TEXT PRIMARY KEY,
	broker TEXT,
	scope TEXT,
	status TEXT,
	started_at DATETIME,
	finished_at DATETIME,
	items_compared INTEGER,
	mismatches_found INTEGER
);

CREATE TABLE IF NOT EXISTS reconciliation_items (
	run_id TEXT,
	item_type TEXT,
	item_id TEXT,
	broker_ref_id TEXT,
	system_snapshot TEXT,
	broker_snapshot TEXT,
	discrepancy TEXT,
	status TEXT
);
`

// Store is a persistence.Port backed by sqlite.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at dsn and applies the
// schema. dsn may be a file path or ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (s *Store) Begin(ctx context.Context) (persistence.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func amountOrEmpty(a money.Amount) string { return a.String() }

func parseAmount(s string) money.Amount {
	if s == "" {
		return money.Zero
	}
	a, err := money.NewFromString(s)
	if err != nil {
		return money.Zero
	}
	return a
}

func (t *sqlTx) UpsertOrder(ctx context.Context, o domain.Order) error {
	var trigger string
	if o.TriggerPrice != nil {
		trigger = amountOrEmpty(*o.TriggerPrice)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, idempotency_key, strategy_id, broker, exchange, symbol, side, type,
			validity, product, quantity, price, trigger_price, group_id, parent_id, broker_order_id, state,
			filled_quantity, avg_fill_price, reject_reason, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(order_id) DO UPDATE SET
			broker=excluded.broker, side=excluded.side, type=excluded.type, validity=excluded.validity,
			product=excluded.product, quantity=excluded.quantity, price=excluded.price,
			trigger_price=excluded.trigger_price, group_id=excluded.group_id, parent_id=excluded.parent_id,
			broker_order_id=excluded.broker_order_id, state=excluded.state,
			filled_quantity=excluded.filled_quantity, avg_fill_price=excluded.avg_fill_price,
			reject_reason=excluded.reject_reason, updated_at=excluded.updated_at`,
		o.OrderID, o.IdempotencyKey, o.StrategyID, o.Broker, o.Instrument.Exchange, o.Instrument.Symbol,
		string(o.Side), string(o.Type), string(o.Validity), string(o.Product), o.Quantity,
		amountOrEmpty(o.Price), trigger, o.GroupID, o.ParentID, o.BrokerOrderID, string(o.State),
		o.FilledQuantity, amountOrEmpty(o.AvgFillPrice), o.RejectReason, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (t *sqlTx) RecordTransition(ctx context.Context, row domain.TransitionLogRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO order_transitions (id, order_id, from_state, to_state, at, reason) VALUES (?,?,?,?,?,?)`,
		row.ID, row.OrderID, string(row.FromState), string(row.ToState), row.At, row.Reason)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

func scanOrder(row interface {
	Scan(dest ...any) error
}) (domain.Order, error) {
	var o domain.Order
	var price, trigger, avgFill string
	var side, typ, validity, product, state string
	err := row.Scan(&o.OrderID, &o.IdempotencyKey, &o.StrategyID, &o.Broker, &o.Instrument.Exchange,
		&o.Instrument.Symbol, &side, &typ, &validity, &product, &o.Quantity, &price, &trigger,
		&o.GroupID, &o.ParentID, &o.BrokerOrderID, &state, &o.FilledQuantity, &avgFill, &o.RejectReason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side, o.Type, o.Validity, o.Product, o.State = domain.Side(side), domain.OrderType(typ), domain.Validity(validity), domain.ProductType(product), domain.State(state)
	o.Price = parseAmount(price)
	o.AvgFillPrice = parseAmount(avgFill)
	if trigger != "" {
		tp := parseAmount(trigger)
		o.TriggerPrice = &tp
	}
	return o, nil
}

const orderColumns = `order_id, idempotency_key, strategy_id, broker, exchange, symbol, side, type, validity,
	product, quantity, price, trigger_price, group_id, parent_id, broker_order_id, state, filled_quantity,
	avg_fill_price, reject_reason, created_at, updated_at`

func (t *sqlTx) LoadOrder(ctx context.Context, orderID string) (domain.Order, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("load order: %w", err)
	}
	return o, true, nil
}

func (t *sqlTx) LoadOrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ?`, key)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("load order by idempotency key: %w", err)
	}
	return o, true, nil
}

func (t *sqlTx) AppendFill(ctx context.Context, f domain.Fill) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO fills (fill_id, order_id, broker, side, quantity, price, product, exchange, symbol, traded_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.FillID, f.OrderID, f.Broker, string(f.Side), f.Quantity, amountOrEmpty(f.Price), string(f.Product),
		f.Instrument.Exchange, f.Instrument.Symbol, f.TradedAt)
	if err != nil {
		return fmt.Errorf("append fill: %w", err)
	}
	return nil
}

func (t *sqlTx) WriteFeeCalc(ctx context.Context, f domain.FeeCalculation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fee_calculations (order_id, brokerage, stt, exchange_txn, gst, sebi, stamp_duty, total_fees, warning)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(order_id) DO UPDATE SET brokerage=excluded.brokerage, stt=excluded.stt,
			exchange_txn=excluded.exchange_txn, gst=excluded.gst, sebi=excluded.sebi,
			stamp_duty=excluded.stamp_duty, total_fees=excluded.total_fees, warning=excluded.warning`,
		f.OrderID, amountOrEmpty(f.Brokerage), amountOrEmpty(f.STT), amountOrEmpty(f.ExchangeTxn),
		amountOrEmpty(f.GST), amountOrEmpty(f.SEBI), amountOrEmpty(f.StampDuty), amountOrEmpty(f.TotalFees), f.Warning)
	if err != nil {
		return fmt.Errorf("write fee calc: %w", err)
	}
	return nil
}

func (t *sqlTx) ApplyPortfolioDelta(ctx context.Context, p domain.Position) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (broker, exchange, symbol, product, buy_qty, sell_qty, avg_buy, avg_sell,
			realized_pnl, unrealized_pnl, last_mark)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(broker, exchange, symbol, product) DO UPDATE SET
			buy_qty=excluded.buy_qty, sell_qty=excluded.sell_qty, avg_buy=excluded.avg_buy,
			avg_sell=excluded.avg_sell, realized_pnl=excluded.realized_pnl,
			unrealized_pnl=excluded.unrealized_pnl, last_mark=excluded.last_mark`,
		p.Broker, p.Instrument.Exchange, p.Instrument.Symbol, string(p.Product), p.BuyQty, p.SellQty,
		amountOrEmpty(p.AvgBuy), amountOrEmpty(p.AvgSell), amountOrEmpty(p.RealizedPnL),
		amountOrEmpty(p.UnrealizedPnL), amountOrEmpty(p.LastMark))
	if err != nil {
		return fmt.Errorf("apply portfolio delta: %w", err)
	}
	return nil
}

func (t *sqlTx) ApplyHoldingDelta(ctx context.Context, h domain.Holding) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO holdings (broker, exchange, symbol, quantity, avg_cost, last_traded_px)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(broker, exchange, symbol) DO UPDATE SET
			quantity=excluded.quantity, avg_cost=excluded.avg_cost, last_traded_px=excluded.last_traded_px`,
		h.Broker, h.Instrument.Exchange, h.Instrument.Symbol, h.Quantity, amountOrEmpty(h.AvgCost),
		amountOrEmpty(h.LastTradedPx))
	if err != nil {
		return fmt.Errorf("apply holding delta: %w", err)
	}
	return nil
}

// --- Port-level (outside-transaction) reads ---

func (s *Store) LoadOrder(ctx context.Context, orderID string) (domain.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("load order: %w", err)
	}
	return o, true, nil
}

func (s *Store) LoadOrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ?`, key)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("load order by idempotency key: %w", err)
	}
	return o, true, nil
}

func (s *Store) LoadOrdersByFilter(ctx context.Context, f persistence.OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if f.Broker != "" {
		query += ` AND broker = ?`
		args = append(args, f.Broker)
	}
	if f.Instrument != (domain.InstrumentRef{}) {
		query += ` AND exchange = ? AND symbol = ?`
		args = append(args, f.Instrument.Exchange, f.Instrument.Symbol)
	}
	if len(f.States) > 0 {
		query += ` AND state IN (`
		for i, st := range f.States {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, string(st))
		}
		query += `)`
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load orders by filter: %w", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) LoadOrderByBrokerOrderID(ctx context.Context, broker, brokerOrderID string) (domain.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE broker = ? AND broker_order_id = ?`, broker, brokerOrderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("load order by broker order id: %w", err)
	}
	return o, true, nil
}

func (s *Store) LoadPosition(ctx context.Context, broker string, ref domain.InstrumentRef, product domain.ProductType) (domain.Position, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT broker, exchange, symbol, product, buy_qty, sell_qty, avg_buy,
		avg_sell, realized_pnl, unrealized_pnl, last_mark FROM positions
		WHERE broker=? AND exchange=? AND symbol=? AND product=?`, broker, ref.Exchange, ref.Symbol, string(product))
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("load position: %w", err)
	}
	return p, true, nil
}

func (s *Store) LoadPositions(ctx context.Context, broker string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT broker, exchange, symbol, product, buy_qty, sell_qty, avg_buy,
		avg_sell, realized_pnl, unrealized_pnl, last_mark FROM positions WHERE broker=?`, broker)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row interface{ Scan(dest ...any) error }) (domain.Position, error) {
	var p domain.Position
	var product, avgBuy, avgSell, realized, unrealized, mark string
	err := row.Scan(&p.Broker, &p.Instrument.Exchange, &p.Instrument.Symbol, &product, &p.BuyQty, &p.SellQty,
		&avgBuy, &avgSell, &realized, &unrealized, &mark)
	if err != nil {
		return domain.Position{}, err
	}
	p.Product = domain.ProductType(product)
	p.AvgBuy, p.AvgSell = parseAmount(avgBuy), parseAmount(avgSell)
	p.RealizedPnL, p.UnrealizedPnL, p.LastMark = parseAmount(realized), parseAmount(unrealized), parseAmount(mark)
	return p, nil
}

func (s *Store) LoadHolding(ctx context.Context, broker string, ref domain.InstrumentRef) (domain.Holding, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT broker, exchange, symbol, quantity, avg_cost, last_traded_px
		FROM holdings WHERE broker=? AND exchange=? AND symbol=?`, broker, ref.Exchange, ref.Symbol)
	h, err := scanHolding(row)
	if err == sql.ErrNoRows {
		return domain.Holding{}, false, nil
	}
	if err != nil {
		return domain.Holding{}, false, fmt.Errorf("load holding: %w", err)
	}
	return h, true, nil
}

func (s *Store) LoadHoldings(ctx context.Context, broker string) ([]domain.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT broker, exchange, symbol, quantity, avg_cost, last_traded_px
		FROM holdings WHERE broker=?`, broker)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	defer rows.Close()
	var out []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHolding(row interface{ Scan(dest ...any) error }) (domain.Holding, error) {
	var h domain.Holding
	var avgCost, ltp string
	err := row.Scan(&h.Broker, &h.Instrument.Exchange, &h.Instrument.Symbol, &h.Quantity, &avgCost, &ltp)
	if err != nil {
		return domain.Holding{}, err
	}
	h.AvgCost, h.LastTradedPx = parseAmount(avgCost), parseAmount(ltp)
	return h, nil
}

func (s *Store) UpsertInstrument(ctx context.Context, i domain.Instrument) error {
	var expiry, strike string
	if i.Expiry != nil {
		expiry = *i.Expiry
	}
	if i.Strike != nil {
		strike = amountOrEmpty(*i.Strike)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (exchange, symbol, type, lot_size, tick_size, expiry, strike, option_type, tradable)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET type=excluded.type, lot_size=excluded.lot_size,
			tick_size=excluded.tick_size, expiry=excluded.expiry, strike=excluded.strike,
			option_type=excluded.option_type, tradable=excluded.tradable`,
		i.Exchange, i.Symbol, string(i.Type), i.LotSize, amountOrEmpty(i.TickSize), expiry, strike,
		string(i.OptionType), boolToInt(i.Tradable))
	if err != nil {
		return fmt.Errorf("upsert instrument: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) LoadInstrument(ctx context.Context, ref domain.InstrumentRef) (domain.Instrument, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT exchange, symbol, type, lot_size, tick_size, expiry, strike,
		option_type, tradable FROM instruments WHERE exchange=? AND symbol=?`, ref.Exchange, ref.Symbol)
	i, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return domain.Instrument{}, false, nil
	}
	if err != nil {
		return domain.Instrument{}, false, fmt.Errorf("load instrument: %w", err)
	}
	return i, true, nil
}

func scanInstrument(row interface{ Scan(dest ...any) error }) (domain.Instrument, error) {
	var i domain.Instrument
	var typ, tick, expiry, strike, optType string
	var tradable int
	err := row.Scan(&i.Exchange, &i.Symbol, &typ, &i.LotSize, &tick, &expiry, &strike, &optType, &tradable)
	if err != nil {
		return domain.Instrument{}, err
	}
	i.Type = domain.InstrumentType(typ)
	i.TickSize = parseAmount(tick)
	if expiry != "" {
		i.Expiry = &expiry
	}
	if strike != "" {
		s := parseAmount(strike)
		i.Strike = &s
	}
	i.OptionType = domain.OptionType(optType)
	i.Tradable = tradable != 0
	return i, nil
}

func (s *Store) ReplaceInstruments(ctx context.Context, instruments []domain.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace instruments: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments`); err != nil {
		tx.Rollback()
		return fmt.Errorf("replace instruments: clear: %w", err)
	}
	for _, i := range instruments {
		var expiry, strike string
		if i.Expiry != nil {
			expiry = *i.Expiry
		}
		if i.Strike != nil {
			strike = amountOrEmpty(*i.Strike)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO instruments (exchange, symbol, type, lot_size, tick_size,
			expiry, strike, option_type, tradable) VALUES (?,?,?,?,?,?,?,?,?)`,
			i.Exchange, i.Symbol, string(i.Type), i.LotSize, amountOrEmpty(i.TickSize), expiry, strike,
			string(i.OptionType), boolToInt(i.Tradable)); err != nil {
			tx.Rollback()
			return fmt.Errorf("replace instruments: insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpsertFeeConfiguration(ctx context.Context, c domain.FeeConfiguration) error {
	var effTo any
	if c.EffectiveTo != nil {
		effTo = *c.EffectiveTo
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO fee_configurations (broker, asset_class, segment,
		effective_from, effective_to, brokerage_is_flat, brokerage_percent, brokerage_flat, brokerage_cap,
		brokerage_floor, stt_percent, exchange_txn_pct, gst_percent, sebi_percent, stamp_duty_pct)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Broker, string(c.AssetClass), c.Segment, c.EffectiveFrom, effTo, boolToInt(c.BrokerageIsFlat),
		c.BrokeragePercent, amountOrEmpty(c.BrokerageFlat), amountOrEmpty(c.BrokerageCap),
		amountOrEmpty(c.BrokerageFloor), c.STTPercent, c.ExchangeTxnPct, c.GSTPercent, c.SEBIPercent, c.StampDutyPct)
	if err != nil {
		return fmt.Errorf("upsert fee configuration: %w", err)
	}
	return nil
}

func (s *Store) ActiveFeeConfigurations(ctx context.Context, broker string, assetClass domain.InstrumentType, segment string, at time.Time) ([]domain.FeeConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT broker, asset_class, segment, effective_from, effective_to,
		brokerage_is_flat, brokerage_percent, brokerage_flat, brokerage_cap, brokerage_floor, stt_percent,
		exchange_txn_pct, gst_percent, sebi_percent, stamp_duty_pct FROM fee_configurations
		WHERE broker=? AND asset_class=? AND segment=? AND effective_from <= ?
		AND (effective_to IS NULL OR effective_to >= ?)`, broker, string(assetClass), segment, at, at)
	if err != nil {
		return nil, fmt.Errorf("active fee configurations: %w", err)
	}
	defer rows.Close()
	var out []domain.FeeConfiguration
	for rows.Next() {
		var c domain.FeeConfiguration
		var assetCls string
		var effTo sql.NullTime
		var isFlat int
		var flat, cap_, floor string
		err := rows.Scan(&c.Broker, &assetCls, &c.Segment, &c.EffectiveFrom, &effTo, &isFlat,
			&c.BrokeragePercent, &flat, &cap_, &floor, &c.STTPercent, &c.ExchangeTxnPct, &c.GSTPercent,
			&c.SEBIPercent, &c.StampDutyPct)
		if err != nil {
			return nil, fmt.Errorf("scan fee configuration: %w", err)
		}
		c.AssetClass = domain.InstrumentType(assetCls)
		c.BrokerageIsFlat = isFlat != 0
		c.BrokerageFlat, c.BrokerageCap, c.BrokerageFloor = parseAmount(flat), parseAmount(cap_), parseAmount(floor)
		if effTo.Valid {
			t := effTo.Time
			c.EffectiveTo = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertMarginRequirement(ctx context.Context, m domain.MarginRequirement) error {
	var effTo any
	if m.EffectiveTo != nil {
		effTo = *m.EffectiveTo
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO margin_requirements (broker, exchange, symbol, margin_type,
		effective_from, effective_to, span_percent, exposure_percent, delivery_percent)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		m.Broker, m.Instrument.Exchange, m.Instrument.Symbol, m.MarginType, m.EffectiveFrom, effTo,
		m.SPANPercent, m.ExposurePercent, m.DeliveryPercent)
	if err != nil {
		return fmt.Errorf("upsert margin requirement: %w", err)
	}
	return nil
}

func (s *Store) ActiveMarginRequirements(ctx context.Context, broker string, ref domain.InstrumentRef, at time.Time) ([]domain.MarginRequirement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT broker, exchange, symbol, margin_type, effective_from,
		effective_to, span_percent, exposure_percent, delivery_percent FROM margin_requirements
		WHERE broker=? AND exchange=? AND symbol=? AND effective_from <= ?
		AND (effective_to IS NULL OR effective_to >= ?)`, broker, ref.Exchange, ref.Symbol, at, at)
	if err != nil {
		return nil, fmt.Errorf("active margin requirements: %w", err)
	}
	defer rows.Close()
	var out []domain.MarginRequirement
	for rows.Next() {
		var m domain.MarginRequirement
		var effTo sql.NullTime
		err := rows.Scan(&m.Broker, &m.Instrument.Exchange, &m.Instrument.Symbol, &m.MarginType,
			&m.EffectiveFrom, &effTo, &m.SPANPercent, &m.ExposurePercent, &m.DeliveryPercent)
		if err != nil {
			return nil, fmt.Errorf("scan margin requirement: %w", err)
		}
		if effTo.Valid {
			t := effTo.Time
			m.EffectiveTo = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRiskLimit(ctx context.Context, l domain.RiskLimit) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO risk_limits (id, scope, scope_key, metric, limit_value, is_active)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET scope=excluded.scope, scope_key=excluded.scope_key,
			metric=excluded.metric, limit_value=excluded.limit_value, is_active=excluded.is_active`,
		l.ID, string(l.Scope), l.ScopeKey, string(l.Metric), amountOrEmpty(l.LimitValue), boolToInt(l.IsActive))
	if err != nil {
		return fmt.Errorf("upsert risk limit: %w", err)
	}
	return nil
}

func (s *Store) ActiveRiskLimits(ctx context.Context, scope domain.RiskScope, scopeKey string) ([]domain.RiskLimit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, scope, scope_key, metric, limit_value, is_active
		FROM risk_limits WHERE scope=? AND scope_key=? AND is_active=1`, string(scope), scopeKey)
	if err != nil {
		return nil, fmt.Errorf("active risk limits: %w", err)
	}
	defer rows.Close()
	var out []domain.RiskLimit
	for rows.Next() {
		var l domain.RiskLimit
		var scopeStr, metric, limitVal string
		var active int
		if err := rows.Scan(&l.ID, &scopeStr, &l.ScopeKey, &metric, &limitVal, &active); err != nil {
			return nil, fmt.Errorf("scan risk limit: %w", err)
		}
		l.Scope, l.Metric, l.LimitValue, l.IsActive = domain.RiskScope(scopeStr), domain.RiskMetric(metric), parseAmount(limitVal), active != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) WriteReconciliationRun(ctx context.Context, run domain.ReconciliationRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reconciliation_runs (run_id, broker, scope, status,
		started_at, finished_at, items_compared, mismatches_found) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET status=excluded.status, finished_at=excluded.finished_at,
			items_compared=excluded.items_compared, mismatches_found=excluded.mismatches_found`,
		run.RunID, run.Broker, string(run.Scope), string(run.Status), run.StartedAt, run.FinishedAt,
		run.ItemsCompared, run.MismatchesFound)
	if err != nil {
		return fmt.Errorf("write reconciliation run: %w", err)
	}
	return nil
}

func (s *Store) WriteReconciliationItems(ctx context.Context, items []domain.ReconciliationItem) error {
	for _, item := range items {
		_, err := s.db.ExecContext(ctx, `INSERT INTO reconciliation_items (run_id, item_type, item_id,
			broker_ref_id, system_snapshot, broker_snapshot, discrepancy, status) VALUES (?,?,?,?,?,?,?,?)`,
			item.RunID, string(item.ItemType), item.ItemID, item.BrokerRefID, item.SystemSnapshot,
			item.BrokerSnapshot, item.Discrepancy, string(item.Status))
		if err != nil {
			return fmt.Errorf("write reconciliation item: %w", err)
		}
	}
	return nil
}

func (s *Store) IdempotencyKeyIndex(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idempotency_key, order_id FROM orders WHERE idempotency_key != ''`)
	if err != nil {
		return nil, fmt.Errorf("idempotency key index: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, id string
		if err := rows.Scan(&k, &id); err != nil {
			return nil, fmt.Errorf("scan idempotency key index: %w", err)
		}
		out[k] = id
	}
	return out, rows.Err()
}
