package domain

import (
	"time"

	"tradecore/pkg/money"
)

// FeeConfiguration is a versioned rule set active for a
// (broker, asset class, segment) over a time window. At most one
// configuration is active for a key at any instant; overlapping active
// rules are a configuration bug handled by the calculator's tie-break.
type FeeConfiguration struct {
	Broker      string
	AssetClass  InstrumentType
	Segment     string
	EffectiveFrom time.Time
	EffectiveTo   *time.Time

	BrokerageIsFlat  bool
	BrokeragePercent float64
	BrokerageFlat    money.Amount
	BrokerageCap     money.Amount
	BrokerageFloor   money.Amount

	STTPercent     float64
	ExchangeTxnPct float64
	GSTPercent     float64
	SEBIPercent    float64
	StampDutyPct   float64 // buy side only
}

// Active reports whether the configuration applies at instant t.
func (c FeeConfiguration) Active(t time.Time) bool {
	if t.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveTo != nil && t.After(*c.EffectiveTo) {
		return false
	}
	return true
}

// FeeCalculation is the immutable breakdown recorded against a trade.
type FeeCalculation struct {
	OrderID          string
	Brokerage        money.Amount
	STT              money.Amount
	ExchangeTxn      money.Amount
	GST              money.Amount
	SEBI             money.Amount
	StampDuty        money.Amount
	TotalFees        money.Amount
	ConfigurationUsed FeeConfiguration
	Warning          string
}
