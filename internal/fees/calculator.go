// Package fees computes the deterministic fee breakdown for a trade
// from the fee configuration active at trade time.
package fees

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// Calculator looks up the active FeeConfiguration for a trade and
// computes its component breakdown.
type Calculator struct {
	store persistence.Port
}

// New builds a Calculator backed by the given persistence port.
func New(store persistence.Port) *Calculator {
	return &Calculator{store: store}
}

// Trade is the minimal input the calculator needs.
type Trade struct {
	OrderID    string
	Broker     string
	AssetClass domain.InstrumentType
	Segment    string
	Side       domain.Side
	Price      money.Amount
	Quantity   int64
	LotSize    int64
	TradeTime  time.Time
}

// Compute returns the fee breakdown for one trade, selecting the
// single active configuration. Overlapping active configurations are a
// configuration bug; the one with the latest EffectiveFrom wins and a
// warning is attached to the result rather than failing the trade.
func (c *Calculator) Compute(ctx context.Context, t Trade) (domain.FeeCalculation, error) {
	configs, err := c.store.ActiveFeeConfigurations(ctx, t.Broker, t.AssetClass, t.Segment, t.TradeTime)
	if err != nil {
		return domain.FeeCalculation{}, fmt.Errorf("load active fee configurations: %w", err)
	}
	if len(configs) == 0 {
		return domain.FeeCalculation{}, fmt.Errorf("no active fee configuration for broker=%s asset_class=%s segment=%s at %s",
			t.Broker, t.AssetClass, t.Segment, t.TradeTime)
	}

	warning := ""
	cfg := configs[0]
	if len(configs) > 1 {
		sort.Slice(configs, func(i, j int) bool {
			return configs[i].EffectiveFrom.After(configs[j].EffectiveFrom)
		})
		cfg = configs[0]
		warning = fmt.Sprintf("multiple active fee configurations found for broker=%s asset_class=%s segment=%s; using the one effective from %s",
			t.Broker, t.AssetClass, t.Segment, cfg.EffectiveFrom)
	}

	lotSize := t.LotSize
	if lotSize <= 0 {
		lotSize = 1
	}
	orderValue := t.Price.Mul(money.NewFromInt(t.Quantity * lotSize))

	brokerage := computeBrokerage(cfg, orderValue)
	stt := orderValue.MulFloat(cfg.STTPercent / 100).Round2()
	exchangeTxn := orderValue.MulFloat(cfg.ExchangeTxnPct / 100).Round2()
	sebi := orderValue.MulFloat(cfg.SEBIPercent / 100).Round2()

	var stampDuty money.Amount
	if t.Side == domain.SideBuy {
		stampDuty = orderValue.MulFloat(cfg.StampDutyPct / 100).Round2()
	} else {
		stampDuty = money.Zero
	}

	gst := brokerage.Add(exchangeTxn).Add(sebi).MulFloat(cfg.GSTPercent / 100).Round2()

	total := brokerage.Add(stt).Add(exchangeTxn).Add(gst).Add(sebi).Add(stampDuty)

	return domain.FeeCalculation{
		OrderID:           t.OrderID,
		Brokerage:         brokerage,
		STT:               stt,
		ExchangeTxn:       exchangeTxn,
		GST:               gst,
		SEBI:              sebi,
		StampDuty:         stampDuty,
		TotalFees:         total,
		ConfigurationUsed: cfg,
		Warning:           warning,
	}, nil
}

func computeBrokerage(cfg domain.FeeConfiguration, orderValue money.Amount) money.Amount {
	var raw money.Amount
	if cfg.BrokerageIsFlat {
		raw = cfg.BrokerageFlat
	} else {
		raw = orderValue.MulFloat(cfg.BrokeragePercent / 100)
	}
	if !cfg.BrokerageCap.IsZero() && raw.GreaterThan(cfg.BrokerageCap) {
		raw = cfg.BrokerageCap
	}
	if !cfg.BrokerageFloor.IsZero() && raw.LessThan(cfg.BrokerageFloor) {
		raw = cfg.BrokerageFloor
	}
	return raw.Round2()
}
