package checks

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"tnxgate/internal/domain"
)

// Report is the subset of the backtest report the metric check reads.
type Report struct {
	Summary struct {
		InitialCapital *decimal.Decimal `json:"initialCapital"`
		TotalReturnPct *decimal.Decimal `json:"totalReturnPct"`
	} `json:"summary"`
}

// ParseReport decodes the backtest report and requires the summary fields.
func ParseReport(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("malformed backtest report: %w", err)
	}
	if r.Summary.InitialCapital == nil || r.Summary.TotalReturnPct == nil {
		return r, fmt.Errorf("backtest report summary lacks initialCapital or totalReturnPct")
	}
	if !r.Summary.InitialCapital.IsPositive() {
		return r, fmt.Errorf("backtest report initialCapital must be positive")
	}
	return r, nil
}

var hundred = decimal.NewFromInt(100)

// RecomputeReturnPct derives total return percent from realized round trips.
func RecomputeReturnPct(initialCapital decimal.Decimal, pairs []Pair) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pairs {
		total = total.Add(p.PnL())
	}
	return total.Div(initialCapital).Mul(hundred)
}

// MetricConsistency compares the reported total return with the recomputed one.
func MetricConsistency(report Report, pairs []Pair) domain.CheckResult {
	recomputed := RecomputeReturnPct(*report.Summary.InitialCapital, pairs)
	drift := report.Summary.TotalReturnPct.Sub(recomputed).Abs().Round(6)
	driftPct := drift.InexactFloat64()
	res := domain.CheckResult{DriftPct: &driftPct}
	detail := fmt.Sprintf("reported %s%% vs recomputed %s%%, drift %s pp (tolerance %.1f)",
		report.Summary.TotalReturnPct.Round(4).String(), recomputed.Round(4).String(), drift.String(), DriftTolerancePct)
	if drift.GreaterThan(decimal.NewFromFloat(DriftTolerancePct)) {
		res.Status = domain.CheckFail
	} else {
		res.Status = domain.CheckPass
	}
	res.Detail = detail
	return res
}
