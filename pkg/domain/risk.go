package domain

import "tradecore/pkg/money"

// RiskScope is the level at which a RiskLimit applies. Instrument beats
// strategy beats portfolio when the same metric is scoped at more than
// one level.
type RiskScope string

const (
	ScopeInstrument RiskScope = "INSTRUMENT"
	ScopeStrategy   RiskScope = "STRATEGY"
	ScopePortfolio  RiskScope = "PORTFOLIO"
)

// RiskMetric names the quantity a RiskLimit constrains.
type RiskMetric string

const (
	MetricPositionSize RiskMetric = "position_size"
	MetricNotional     RiskMetric = "notional"
	MetricDrawdown     RiskMetric = "drawdown"
	MetricVaR          RiskMetric = "var"
	MetricConcentration RiskMetric = "concentration"
	MetricDailyLoss    RiskMetric = "daily_loss"
)

// VaRMethod selects how the Risk Gate estimates Value at Risk.
type VaRMethod string

const (
	VaRHistorical  VaRMethod = "historical"
	VaRMonteCarlo  VaRMethod = "monte_carlo"
)

// RiskLimit is one constraint at a given scope.
type RiskLimit struct {
	ID         string
	Scope      RiskScope
	ScopeKey   string // instrument symbol, strategy id, or "" for portfolio
	Metric     RiskMetric
	LimitValue money.Amount
	IsActive   bool
}

// RiskViolation describes one failed check.
type RiskViolation struct {
	Metric   RiskMetric
	Scope    RiskScope
	Limit    money.Amount
	Observed money.Amount
}

// RiskDecision is the Risk Gate's pure output.
type RiskDecision struct {
	Approved   bool
	Violations []RiskViolation
}
