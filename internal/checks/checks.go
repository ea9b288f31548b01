// Package checks runs the deterministic, non-LLM validations over a run's evidence.
// Results depend only on blob contents, never on time or network.
package checks

import (
	"context"
	"errors"
	"fmt"

	"tnxgate/internal/blob"
	"tnxgate/internal/domain"
)

// DriftTolerancePct is the maximum |reported - recomputed| total return, in percentage points.
const DriftTolerancePct = 0.5

// Engine evaluates the three checks against evidence held in Store.
type Engine struct {
	Store blob.Store
}

// Run evaluates every check. It never returns an error: unreadable evidence
// fails the affected check with EvidenceUnavailable set.
func (e Engine) Run(ctx context.Context, inputs domain.Inputs, outputs domain.Outputs) domain.DeterministicChecks {
	var res domain.DeterministicChecks

	code, codeErr := e.load(ctx, "code", outputs.CodeRef)
	if codeErr != nil {
		res.IndicatorFidelity = unavailable(codeErr)
	} else {
		res.IndicatorFidelity = IndicatorFidelity(inputs.RequestedIndicators, string(code))
	}

	tradesRaw, tradesErr := e.load(ctx, "trades", outputs.TradesRef)
	var fills []Fill
	if tradesErr == nil {
		fills, tradesErr = ParseFills(tradesRaw)
	}
	var pairs []Pair
	if tradesErr != nil {
		res.TradeCoherence = unavailable(tradesErr)
	} else {
		res.TradeCoherence, pairs = TradeCoherence(fills)
	}

	reportRaw, reportErr := e.load(ctx, "backtest report", inputs.BacktestReportRef)
	var report Report
	if reportErr == nil {
		report, reportErr = ParseReport(reportRaw)
	}
	switch {
	case reportErr != nil:
		res.MetricConsistency = unavailable(reportErr)
	case tradesErr != nil:
		res.MetricConsistency = unavailable(fmt.Errorf("cannot recompute without trades: %w", tradesErr))
	default:
		res.MetricConsistency = MetricConsistency(report, pairs)
	}
	return res
}

func (e Engine) load(ctx context.Context, what, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("%s reference missing", what)
	}
	if e.Store == nil {
		return nil, fmt.Errorf("%s: no evidence store configured", what)
	}
	data, err := e.Store.Get(ctx, ref)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%s blob %s not found", what, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%s blob %s unreadable: %v", what, ref, err)
	}
	return data, nil
}

func unavailable(err error) domain.CheckResult {
	return domain.CheckResult{
		Status:              domain.CheckFail,
		Detail:              "evidence unavailable: " + err.Error(),
		EvidenceUnavailable: true,
	}
}
