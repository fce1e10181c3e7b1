// Package margin computes SPAN/exposure/premium margin requirements
// against the margin requirement table and runs stress scenarios.
package margin

import (
	"context"
	"fmt"

	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// Calculator computes margin requirements from the active margin
// requirement rows.
type Calculator struct {
	store persistence.Port
}

// New builds a Calculator backed by the given persistence port.
func New(store persistence.Port) *Calculator {
	return &Calculator{store: store}
}

// Shortfall is returned by Validate when available margin is
// insufficient.
type Shortfall struct {
	Available money.Amount
	Required  money.Amount
	Deficit   money.Amount
}

// Required computes the margin breakdown for an order against the
// margin requirement active at the order's creation time. Long option
// positions are charged full premium rather than a percentage; the
// delivery (CNC) product uses the delivery percentage rather than
// SPAN/exposure.
func (c *Calculator) Required(ctx context.Context, o domain.Order) (domain.MarginBreakdown, error) {
	reqs, err := c.store.ActiveMarginRequirements(ctx, o.Broker, o.Instrument, o.CreatedAt)
	if err != nil {
		return domain.MarginBreakdown{}, fmt.Errorf("load active margin requirements: %w", err)
	}
	if len(reqs) == 0 {
		return domain.MarginBreakdown{}, fmt.Errorf("no active margin requirement for broker=%s instrument=%s", o.Broker, o.Instrument.Symbol)
	}
	req := reqs[0]

	instrument, found, err := c.store.LoadInstrument(ctx, o.Instrument)
	if err != nil {
		return domain.MarginBreakdown{}, fmt.Errorf("load instrument: %w", err)
	}
	lotSize := int64(1)
	instrumentType := domain.InstrumentEquity
	if found {
		instrumentType = instrument.Type
		if instrument.LotSize > 0 {
			lotSize = instrument.LotSize
		}
	}

	notional := o.Price.Mul(money.NewFromInt(o.Quantity * lotSize))

	if o.Product == domain.ProductDelivery {
		total := notional.MulFloat(req.DeliveryPercent / 100).Round2()
		return domain.MarginBreakdown{Total: total}, nil
	}

	if instrumentType == domain.InstrumentOption && o.Side == domain.SideBuy {
		premium := notional.Round2()
		return domain.MarginBreakdown{OptionPremium: premium, Total: premium}, nil
	}

	span := notional.MulFloat(req.SPANPercent / 100).Round2()
	exposure := notional.MulFloat(req.ExposurePercent / 100).Round2()
	return domain.MarginBreakdown{
		SPAN:     span,
		Exposure: exposure,
		Total:    span.Add(exposure),
	}, nil
}

// Validate compares available margin against required margin.
func (c *Calculator) Validate(available, required money.Amount) (bool, *Shortfall) {
	if available.LessThan(required) {
		return false, &Shortfall{
			Available: available,
			Required:  required,
			Deficit:   required.Sub(available),
		}
	}
	return true, nil
}

// StressTest applies each scenario's multiplicative shock to a margin
// breakdown's SPAN and exposure components. IncreasePct is reported as
// 0 when the breakdown's total is zero: there is no existing margin
// base to express an increase against.
func (c *Calculator) StressTest(breakdown domain.MarginBreakdown, scenarios []domain.StressScenario) []domain.StressResult {
	results := make([]domain.StressResult, 0, len(scenarios))
	for _, sc := range scenarios {
		shockFactor := 1 + (sc.PriceChangePct+sc.VolatilityChangePct)/100
		stressedSPAN := breakdown.SPAN.MulFloat(shockFactor).Round2()
		stressedExposure := breakdown.Exposure.MulFloat(shockFactor).Round2()
		stressedTotal := stressedSPAN.Add(stressedExposure).Add(breakdown.OptionPremium)

		var increasePct float64
		if !breakdown.Total.IsZero() {
			delta := stressedTotal.Sub(breakdown.Total)
			increasePct = delta.Float64() / breakdown.Total.Float64() * 100
		}

		results = append(results, domain.StressResult{
			Scenario:         sc,
			StressedSPAN:     stressedSPAN,
			StressedExposure: stressedExposure,
			StressedTotal:    stressedTotal,
			IncreasePct:      increasePct,
		})
	}
	return results
}
