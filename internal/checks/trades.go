package checks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tnxgate/internal/domain"
)

// Fill is one execution in the trades blob.
type Fill struct {
	ID     string          `json:"id"`
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Action string          `json:"action"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
	Fee    decimal.Decimal `json:"fee"`
	TS     string          `json:"ts"`
}

const (
	sideLong    = "long"
	sideShort   = "short"
	actionEntry = "entry"
	actionExit  = "exit"
)

// Pair is a closed round trip.
type Pair struct {
	Entry Fill
	Exit  Fill
}

// PnL is the realized profit of the round trip after fees.
func (p Pair) PnL() decimal.Decimal {
	move := p.Exit.Price.Sub(p.Entry.Price)
	if p.Entry.Side == sideShort {
		move = move.Neg()
	}
	return move.Mul(p.Entry.Qty).Sub(p.Entry.Fee).Sub(p.Exit.Fee)
}

// ParseFills decodes the trades blob, a JSON array of fills.
func ParseFills(data []byte) ([]Fill, error) {
	var fills []Fill
	if err := json.Unmarshal(data, &fills); err != nil {
		return nil, fmt.Errorf("malformed trades blob: %w", err)
	}
	return fills, nil
}

type openEntry struct {
	fill  Fill
	label string
	at    time.Time
}

// TradeCoherence pairs entries with exits per symbol in file order. An exit
// closes the oldest open entry of the same side and quantity.
func TradeCoherence(fills []Fill) (domain.CheckResult, []Pair) {
	var violations []string
	var pairs []Pair
	open := map[string][]openEntry{}
	var symbols []string
	seen := map[string]bool{}

	for i, f := range fills {
		label := f.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if f.ID != "" {
			if seen[f.ID] {
				violations = append(violations, fmt.Sprintf("fill %s: duplicate id", label))
				continue
			}
			seen[f.ID] = true
		}
		at, err := time.Parse(time.RFC3339Nano, f.TS)
		switch {
		case f.Symbol == "":
			violations = append(violations, fmt.Sprintf("fill %s: missing symbol", label))
			continue
		case f.Side != sideLong && f.Side != sideShort:
			violations = append(violations, fmt.Sprintf("fill %s: invalid side %q", label, f.Side))
			continue
		case !f.Qty.IsPositive():
			violations = append(violations, fmt.Sprintf("fill %s: quantity must be positive", label))
			continue
		case !f.Price.IsPositive():
			violations = append(violations, fmt.Sprintf("fill %s: price must be positive", label))
			continue
		case err != nil:
			violations = append(violations, fmt.Sprintf("fill %s: invalid timestamp %q", label, f.TS))
			continue
		}

		switch f.Action {
		case actionEntry:
			if _, ok := open[f.Symbol]; !ok {
				symbols = append(symbols, f.Symbol)
			}
			open[f.Symbol] = append(open[f.Symbol], openEntry{fill: f, label: label, at: at})
		case actionExit:
			queue := open[f.Symbol]
			match := -1
			for j, e := range queue {
				if e.fill.Side == f.Side && e.fill.Qty.Equal(f.Qty) {
					match = j
					break
				}
			}
			if match < 0 {
				violations = append(violations, fmt.Sprintf("fill %s: exit on %s has no matching open %s entry", label, f.Symbol, f.Side))
				continue
			}
			entry := queue[match]
			if at.Before(entry.at) {
				violations = append(violations, fmt.Sprintf("fill %s: exit precedes entry %s", label, entry.label))
			}
			open[f.Symbol] = append(queue[:match:match], queue[match+1:]...)
			pairs = append(pairs, Pair{Entry: entry.fill, Exit: f})
		default:
			violations = append(violations, fmt.Sprintf("fill %s: invalid action %q", label, f.Action))
		}
	}

	for _, sym := range symbols {
		for _, e := range open[sym] {
			violations = append(violations, fmt.Sprintf("fill %s: %s entry on %s never closed", e.label, e.fill.Side, sym))
		}
	}

	if len(violations) > 0 {
		return domain.CheckResult{
			Status:     domain.CheckFail,
			Detail:     fmt.Sprintf("%d violations across %d fills", len(violations), len(fills)),
			Violations: violations,
		}, pairs
	}
	return domain.CheckResult{
		Status: domain.CheckPass,
		Detail: fmt.Sprintf("%d round trips paired", len(pairs)),
	}, pairs
}
