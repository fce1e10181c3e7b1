// Package risk implements the pre-trade Risk Gate: a pure function of
// a caller-assembled RiskContext to a RiskDecision, with no side
// effects and no persistence access of its own.
package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// RiskContext is everything the gate needs to evaluate one order,
// assembled by the coordinator from persisted limits and positions
// before the call. The gate itself never touches persistence.
type RiskContext struct {
	StrategyID string
	Instrument domain.InstrumentRef
	Side       domain.Side
	Quantity   int64
	Price      money.Amount

	// Limits applicable at any scope; the gate resolves precedence.
	Limits []domain.RiskLimit

	// PreTradeNotional is the current notional exposure for the
	// instrument/strategy/portfolio scopes being evaluated, keyed the
	// same way Limits are (by ScopeKey); the gate adds the candidate
	// order's notional to project post-trade exposure.
	PreTradeNotionalByScope map[string]money.Amount

	RealizedPnLToday money.Amount
	EquityPeak       money.Amount
	CurrentEquity    money.Amount

	// ReturnSeries is historical portfolio return observations used by
	// the historical VaR method; unused for Monte Carlo.
	ReturnSeries      []float64
	VaRMethod         domain.VaRMethod
	VaRConfidence     float64 // e.g. 0.99
	MonteCarloSamples int
	VolatilityDaily   float64 // daily sigma, used by Monte Carlo
	PortfolioValue    money.Amount
	VaRLimit          money.Amount
}

// Gate evaluates risk context against configured limits. It holds no
// state and is safe for concurrent use.
type Gate struct{}

// New returns a ready-to-use Gate.
func New() *Gate {
	return &Gate{}
}

// Evaluate runs the layered checks described for the Risk Gate and
// returns a single decision aggregating every violation found; it does
// not short-circuit on the first failure so the caller sees the full
// picture.
func (g *Gate) Evaluate(rc RiskContext) domain.RiskDecision {
	var violations []domain.RiskViolation

	orderNotional := rc.Price.MulFloat(float64(rc.Quantity))

	resolved := resolveScope(rc.Limits)

	for _, limit := range resolved {
		switch limit.Metric {
		case domain.MetricPositionSize, domain.MetricNotional, domain.MetricConcentration:
			pre := rc.PreTradeNotionalByScope[limit.ScopeKey]
			projected := pre.Add(orderNotional)
			if projected.GreaterThan(limit.LimitValue) {
				violations = append(violations, domain.RiskViolation{
					Metric:   limit.Metric,
					Scope:    limit.Scope,
					Limit:    limit.LimitValue,
					Observed: projected,
				})
			}
		case domain.MetricDailyLoss:
			if rc.RealizedPnLToday.LessThan(limit.LimitValue.Neg()) {
				violations = append(violations, domain.RiskViolation{
					Metric:   domain.MetricDailyLoss,
					Scope:    limit.Scope,
					Limit:    limit.LimitValue,
					Observed: rc.RealizedPnLToday.Neg(),
				})
			}
		case domain.MetricDrawdown:
			drawdown := rc.EquityPeak.Sub(rc.CurrentEquity)
			if drawdown.GreaterThan(limit.LimitValue) {
				violations = append(violations, domain.RiskViolation{
					Metric:   domain.MetricDrawdown,
					Scope:    limit.Scope,
					Limit:    limit.LimitValue,
					Observed: drawdown,
				})
			}
		case domain.MetricVaR:
			estimate := estimateVaR(rc)
			if estimate.GreaterThan(limit.LimitValue) {
				violations = append(violations, domain.RiskViolation{
					Metric:   domain.MetricVaR,
					Scope:    limit.Scope,
					Limit:    limit.LimitValue,
					Observed: estimate,
				})
			}
		}
	}

	return domain.RiskDecision{
		Approved:   len(violations) == 0,
		Violations: violations,
	}
}

// resolveScope picks one active limit per metric, preferring
// instrument scope over strategy scope over portfolio scope, keyed by
// "metric|scopeKey" so instrument- and strategy-scoped limits on the
// same metric do not shadow each other across different keys.
func resolveScope(limits []domain.RiskLimit) map[string]domain.RiskLimit {
	rank := func(s domain.RiskScope) int {
		switch s {
		case domain.ScopeInstrument:
			return 0
		case domain.ScopeStrategy:
			return 1
		default:
			return 2
		}
	}

	best := make(map[string]domain.RiskLimit)
	bestRank := make(map[string]int)
	for _, l := range limits {
		if !l.IsActive {
			continue
		}
		key := string(l.Metric) + "|" + l.ScopeKey
		r := rank(l.Scope)
		if existingRank, ok := bestRank[key]; !ok || r < existingRank {
			best[key] = l
			bestRank[key] = r
		}
	}
	return best
}

// estimateVaR estimates portfolio VaR, independent of the candidate
// order, using the configured method: historical empirical percentile of the supplied return
// series, or a Monte Carlo simulation of lognormal returns.
func estimateVaR(rc RiskContext) money.Amount {
	switch rc.VaRMethod {
	case domain.VaRMonteCarlo:
		return monteCarloVaR(rc)
	default:
		return historicalVaR(rc)
	}
}

func historicalVaR(rc RiskContext) money.Amount {
	if len(rc.ReturnSeries) == 0 {
		return money.Zero
	}
	sorted := append([]float64(nil), rc.ReturnSeries...)
	sort.Float64s(sorted)

	confidence := rc.VaRConfidence
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.99
	}
	// The loss quantile at the (1-confidence) tail of the return
	// distribution; returns are fractional, losses are positive.
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	loss := -q
	if loss < 0 {
		loss = 0
	}
	return rc.PortfolioValue.MulFloat(loss)
}

func monteCarloVaR(rc RiskContext) money.Amount {
	samples := rc.MonteCarloSamples
	if samples <= 0 {
		samples = 10000
	}
	sigma := rc.VolatilityDaily
	if sigma <= 0 {
		sigma = 0.01
	}
	confidence := rc.VaRConfidence
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.99
	}

	dist := distuv.LogNormal{Mu: 0, Sigma: sigma}
	returns := make([]float64, samples)
	for i := range returns {
		returns[i] = dist.Rand() - 1 // centered around a zero-mean return
	}
	sort.Float64s(returns)

	idx := int(math.Floor((1 - confidence) * float64(samples)))
	if idx < 0 {
		idx = 0
	}
	if idx >= samples {
		idx = samples - 1
	}
	loss := -returns[idx]
	if loss < 0 {
		loss = 0
	}
	return rc.PortfolioValue.MulFloat(loss)
}
