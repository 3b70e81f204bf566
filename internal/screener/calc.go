// Package screener derives the dividend-capture arbitrage metrics for one
// ticker from the merged cache state. Everything here is a pure function of
// its inputs plus the clock; a metric whose inputs are incomplete is nil,
// never zero.
package screener

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fortsarb/screener/internal/marketdata"
)

// Row is the externally served per-ticker record.
type Row struct {
	Ticker         string   `json:"ticker"`
	Contract       string   `json:"contract"` // display code, always present
	DivExDate      *string  `json:"div_ex_date"`
	DivAmount      *float64 `json:"div_amount"`
	DivYieldPct    *float64 `json:"div_yield_pct"`
	SpotLast       *float64 `json:"spot_last"`
	ContractLast   *float64 `json:"contract_last"`
	MarginPct      *float64 `json:"margin_pct"`
	EntrySpreadPct *float64 `json:"entry_spread_pct"`
	ExitSpreadPct  *float64 `json:"exit_spread_pct"`
	FairValue      *float64 `json:"fair_value"`
	DeltaPct       *float64 `json:"delta_pct"`
	TotalYieldPct  *float64 `json:"total_yield_pct"`
	DaysToExDate   *int     `json:"days_to_ex_date"`
	DaysToExpiry   *int     `json:"days_to_expiry"`
	IncomeToExDate *float64 `json:"income_to_ex_date"`
	IncomeToExpiry *float64 `json:"income_to_expiry"`
	TotalCapital   *float64 `json:"total_capital"`
	DivBeforeExp   bool     `json:"has_div_before_expiry"`
	Resolved       bool     `json:"resolved"`
}

// Compute builds the row for one ticker from whichever cache state exists.
// now fixes "today" for every day count; r is the annual risk-free rate.
func Compute(spot marketdata.EquityQuote, fut marketdata.ContractQuote,
	div marketdata.DividendRecord, m marketdata.ContractMapping,
	now time.Time, r float64) Row {

	row := Row{
		Ticker:       m.Ticker,
		Contract:     m.DisplayCode,
		SpotLast:     round4(spot.Last),
		ContractLast: round4(fut.Last),
		DivAmount:    div.Amount,
		Resolved:     m.ContractID != nil && fut.HasPrice(),
	}
	if div.ExDate != nil {
		s := div.ExDate.Format("2006-01-02")
		row.DivExDate = &s
	}

	// day counts are derived at read time, signed; only the income
	// presentation fields clamp at zero
	daysToEx := daysTo(div.ExDate, now)
	daysToExp := daysTo(fut.Expiration, now)
	row.DaysToExDate = daysToEx
	row.DaysToExpiry = daysToExp
	row.DivBeforeExp = daysToEx != nil && daysToExp != nil && *daysToEx <= *daysToExp

	// margin % = IM / (F * step_value/min_step); the step ratio is the
	// contract multiplier
	if fut.InitialMargin != nil && fut.Last != nil && fut.MinStep != nil &&
		fut.StepValue != nil && *fut.MinStep != 0 {
		mult := *fut.StepValue / *fut.MinStep
		if notional := *fut.Last * mult; notional != 0 {
			row.MarginPct = round4(marketdata.Float(*fut.InitialMargin / notional))
		}
	}

	if fut.Offer != nil && spot.Bid != nil && *spot.Bid != 0 {
		row.EntrySpreadPct = round4(marketdata.Float((*fut.Offer - *spot.Bid) / *spot.Bid * 100))
	}
	if spot.Offer != nil && fut.Bid != nil && *spot.Offer != 0 {
		row.ExitSpreadPct = round4(marketdata.Float((*spot.Offer - *fut.Bid) / *spot.Offer * 100))
	}
	if fut.Last != nil && spot.Last != nil && *spot.Last != 0 {
		row.DeltaPct = round4(marketdata.Float((*fut.Last - *spot.Last) / *spot.Last * 100))
	}
	if div.Amount != nil && spot.Last != nil && *spot.Last != 0 {
		row.DivYieldPct = round4(marketdata.Float(*div.Amount / *spot.Last * 100))
	}
	if row.DivYieldPct != nil || row.DeltaPct != nil {
		total := orZero(row.DivYieldPct) + orZero(row.DeltaPct)
		row.TotalYieldPct = round4(&total)
	}

	if spot.Last != nil && daysToExp != nil {
		fv := FairValue(*spot.Last, r, *daysToExp, div.Amount, daysToEx)
		row.FairValue = round4(&fv)
	}

	// income presentation fields, per-share currency units
	if spot.Last != nil && daysToEx != nil {
		inc := orZero(div.Amount) - CarryCost(*spot.Last, r, *daysToEx)
		row.IncomeToExDate = round4(&inc)
	}
	if spot.Last != nil && fut.Last != nil && daysToExp != nil {
		inc := *fut.Last - *spot.Last - CarryCost(*spot.Last, r, *daysToExp)
		if row.DivBeforeExp {
			inc += orZero(div.Amount)
		}
		row.IncomeToExpiry = round4(&inc)
	}

	// capital to hold the pair: one share plus per-share margin
	if spot.Last != nil {
		capital := *spot.Last
		if fut.InitialMargin != nil && fut.LotSize != nil && *fut.LotSize != 0 {
			capital += *fut.InitialMargin / *fut.LotSize
		}
		row.TotalCapital = round4(&capital)
	}

	return row
}

// FairValue is the theoretical contract price implied by the spot price, the
// cost of carry to expiry and any dividend falling before expiry. The
// dividend's present value carries the accrued-interest discount between the
// ex-date and expiry.
func FairValue(s, r float64, daysToExp int, divAmount *float64, daysToEx *int) float64 {
	t := float64(max(0, daysToExp)) / 365
	pvDiv := 0.0
	if divAmount != nil && daysToEx != nil && *daysToEx <= daysToExp {
		pvDiv = *divAmount * (1 - r*float64(max(0, daysToExp-*daysToEx))/365)
	}
	return s*(1+r*t) - pvDiv
}

// CarryCost is the financing cost of holding s for the given number of days.
func CarryCost(s, r float64, days int) float64 {
	return s * r * float64(max(0, days)) / 365
}

// PerShare normalizes a contract-level price to a per-share price by lot
// size. Stream feeds quote whole contracts; the polling provider quotes per
// share already.
func PerShare(contractPrice *float64, lotSize *float64) *float64 {
	if contractPrice == nil {
		return nil
	}
	if lotSize == nil || *lotSize == 0 {
		return contractPrice
	}
	v := *contractPrice / *lotSize
	return &v
}

// round4 rounds at the serving boundary only, so dependent metrics never
// compound rounding error. decimal's half-away-from-zero matches how the
// venue publishes percentages.
func round4(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	f, _ := decimal.NewFromFloat(*v).Round(4).Float64()
	return &f
}

func daysTo(d *time.Time, now time.Time) *int {
	if d == nil {
		return nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(d.Sub(today).Hours() / 24)
	return &days
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
