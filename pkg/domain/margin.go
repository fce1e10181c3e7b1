package domain

import (
	"time"

	"tradecore/pkg/money"
)

// MarginRequirement is a versioned per-instrument rate table. When no
// requirement record is active for the instrument at order time, the
// margin calculator returns an error; no flat-percentage fallback is
// applied.
type MarginRequirement struct {
	Broker          string
	Instrument      InstrumentRef
	MarginType      string // "span", "exposure", "premium", "delivery"
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	SPANPercent     float64
	ExposurePercent float64
	DeliveryPercent float64
}

func (m MarginRequirement) Active(t time.Time) bool {
	if t.Before(m.EffectiveFrom) {
		return false
	}
	if m.EffectiveTo != nil && t.After(*m.EffectiveTo) {
		return false
	}
	return true
}

// MarginBreakdown is the result of a margin computation for one order.
type MarginBreakdown struct {
	SPAN           money.Amount
	Exposure       money.Amount
	OptionPremium  money.Amount
	Total          money.Amount
}

// StressScenario is one multiplicative shock applied during stress
// testing.
type StressScenario struct {
	Name              string
	PriceChangePct    float64
	VolatilityChangePct float64
}

// StressResult is the outcome of applying one scenario to a margin
// breakdown.
type StressResult struct {
	Scenario     StressScenario
	StressedSPAN money.Amount
	StressedExposure money.Amount
	StressedTotal money.Amount
	IncreasePct  float64
}
