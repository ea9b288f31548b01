// Package testutil seeds evidence blobs for tests across packages.
package testutil

import (
	"context"
	"fmt"

	"tnxgate/internal/blob"
	"tnxgate/internal/domain"
)

// DefaultIndicators are present in the seeded strategy code.
var DefaultIndicators = []string{"RSI", "EMA", "MACD"}

const strategyCode = `import talib

def signals(close):
    rsi = talib.RSI(close, timeperiod=14)
    ema_fast = talib.EMA(close, timeperiod=12)
    macd_line, macd_signal, _ = talib.MACD(close)
    return (rsi < 30) & (macd_line > macd_signal) & (close > ema_fast)
`

// Two round trips on 10,000 capital: +100 long, +50 short, 1.5% total.
const trades = `[
  {"id":"f1","symbol":"AAPL","side":"long","action":"entry","qty":10,"price":100,"ts":"2024-01-02T15:00:00Z"},
  {"id":"f2","symbol":"MSFT","side":"short","action":"entry","qty":5,"price":300,"ts":"2024-01-03T15:00:00Z"},
  {"id":"f3","symbol":"AAPL","side":"long","action":"exit","qty":10,"price":110,"ts":"2024-01-04T15:00:00Z"},
  {"id":"f4","symbol":"MSFT","side":"short","action":"exit","qty":5,"price":290,"ts":"2024-01-05T15:00:00Z"}
]`

// TrueReturnPct is the return the seeded trades actually produce.
const TrueReturnPct = 1.5

// Evidence describes a seeded evidence set.
type Evidence struct {
	Prefix string
	// ReportedDriftPct is added to the true return in the backtest report.
	ReportedDriftPct float64
	Indicators       []string
	SkipCode         bool
	SkipTrades       bool
}

// Seed writes the evidence blobs and returns matching run inputs and outputs.
func Seed(ctx context.Context, store blob.Store, ev Evidence) (domain.Inputs, domain.Outputs, error) {
	if ev.Prefix == "" {
		ev.Prefix = "runs/fixture"
	}
	indicators := ev.Indicators
	if indicators == nil {
		indicators = DefaultIndicators
	}
	codeRef := ev.Prefix + "/strategy.py"
	tradesRef := ev.Prefix + "/trades.json"
	reportRef := ev.Prefix + "/report.json"
	datasetRef := ev.Prefix + "/dataset.csv"

	if !ev.SkipCode {
		if err := store.Put(ctx, codeRef, []byte(strategyCode)); err != nil {
			return domain.Inputs{}, domain.Outputs{}, err
		}
	}
	if !ev.SkipTrades {
		if err := store.Put(ctx, tradesRef, []byte(trades)); err != nil {
			return domain.Inputs{}, domain.Outputs{}, err
		}
	}
	report := fmt.Sprintf(`{"summary":{"initialCapital":10000,"totalReturnPct":%g}}`, TrueReturnPct+ev.ReportedDriftPct)
	if err := store.Put(ctx, reportRef, []byte(report)); err != nil {
		return domain.Inputs{}, domain.Outputs{}, err
	}
	if err := store.Put(ctx, datasetRef, []byte("date,close\n2024-01-02,100\n")); err != nil {
		return domain.Inputs{}, domain.Outputs{}, err
	}
	inputs := domain.Inputs{
		Prompt:              "mean reversion on RSI with EMA trend filter",
		RequestedIndicators: indicators,
		DatasetRefs:         []string{datasetRef},
		BacktestReportRef:   reportRef,
	}
	outputs := domain.Outputs{
		CodeRef:   codeRef,
		ReportRef: reportRef,
		TradesRef: tradesRef,
	}
	return inputs, outputs, nil
}
