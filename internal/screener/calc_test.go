package screener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortsarb/screener/internal/marketdata"
)

var now = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func day(offset int) *time.Time {
	d := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	return &d
}

func mapping(id string) marketdata.ContractMapping {
	return marketdata.ContractMapping{Ticker: "SBER", ContractID: marketdata.Str(id), DisplayCode: "SBER-12.26"}
}

func TestMarginPct(t *testing.T) {
	base := marketdata.ContractQuote{
		ContractID:    "SBRF-12.26",
		Last:          marketdata.Float(306),
		InitialMargin: marketdata.Float(12000),
		MinStep:       marketdata.Float(1),
		StepValue:     marketdata.Float(10),
	}
	spot := marketdata.EquityQuote{Ticker: "SBER", Last: marketdata.Float(300)}

	t.Run("reference values", func(t *testing.T) {
		row := Compute(spot, base, marketdata.DividendRecord{}, mapping(base.ContractID), now, 0.12)
		require.NotNil(t, row.MarginPct)
		// 12000 / (306 * 10)
		assert.InDelta(t, 3.9216, *row.MarginPct, 0.0001)
	})

	undef := []struct {
		name string
		mod  func(*marketdata.ContractQuote)
	}{
		{"zero min step", func(q *marketdata.ContractQuote) { q.MinStep = marketdata.Float(0) }},
		{"missing min step", func(q *marketdata.ContractQuote) { q.MinStep = nil }},
		{"missing step value", func(q *marketdata.ContractQuote) { q.StepValue = nil }},
		{"missing margin", func(q *marketdata.ContractQuote) { q.InitialMargin = nil }},
		{"missing last", func(q *marketdata.ContractQuote) { q.Last = nil }},
	}
	for _, tt := range undef {
		t.Run(tt.name, func(t *testing.T) {
			q := base
			tt.mod(&q)
			row := Compute(spot, q, marketdata.DividendRecord{}, mapping(q.ContractID), now, 0.12)
			assert.Nil(t, row.MarginPct)
		})
	}
}

func TestFairValueReference(t *testing.T) {
	// equity 200, dividend 10 with ex-date in 5 days, expiry in 30 days, r=12%
	got := FairValue(200, 0.12, 30, marketdata.Float(10), intp(5))
	assert.InDelta(t, 192.06, got, 0.01)
}

func TestFairValueDividendAfterExpiryIgnored(t *testing.T) {
	with := FairValue(200, 0.12, 30, marketdata.Float(10), intp(45))
	without := FairValue(200, 0.12, 30, nil, nil)
	assert.Equal(t, without, with, "a dividend past expiry contributes no present value")
}

func TestCarryCost(t *testing.T) {
	assert.InDelta(t, 200*0.12*30/365, CarryCost(200, 0.12, 30), 1e-9)
	assert.Equal(t, 0.0, CarryCost(200, 0.12, -3), "negative day counts clamp to zero")
}

func TestSpreadsAndDelta(t *testing.T) {
	spot := marketdata.EquityQuote{Ticker: "SBER", Last: marketdata.Float(300), Bid: marketdata.Float(299.8), Offer: marketdata.Float(300.2)}
	fut := marketdata.ContractQuote{ContractID: "SBRF-12.26", Last: marketdata.Float(306), Bid: marketdata.Float(305.8), Offer: marketdata.Float(306.2)}

	row := Compute(spot, fut, marketdata.DividendRecord{}, mapping(fut.ContractID), now, 0.12)

	require.NotNil(t, row.EntrySpreadPct)
	assert.InDelta(t, (306.2-299.8)/299.8*100, *row.EntrySpreadPct, 0.0001)
	require.NotNil(t, row.ExitSpreadPct)
	assert.InDelta(t, (300.2-305.8)/300.2*100, *row.ExitSpreadPct, 0.0001)
	require.NotNil(t, row.DeltaPct)
	assert.InDelta(t, 2.0, *row.DeltaPct, 0.0001)

	// missing inputs mean nil, never a placeholder zero
	row = Compute(marketdata.EquityQuote{Ticker: "SBER"}, fut, marketdata.DividendRecord{}, mapping(fut.ContractID), now, 0.12)
	assert.Nil(t, row.EntrySpreadPct)
	assert.Nil(t, row.ExitSpreadPct)
	assert.Nil(t, row.DeltaPct)
}

func TestYields(t *testing.T) {
	spot := marketdata.EquityQuote{Ticker: "SBER", Last: marketdata.Float(200)}
	div := marketdata.DividendRecord{Ticker: "SBER", ExDate: day(5), Amount: marketdata.Float(10)}

	t.Run("dividend yield and total", func(t *testing.T) {
		fut := marketdata.ContractQuote{ContractID: "X", Last: marketdata.Float(204)}
		row := Compute(spot, fut, div, mapping("X"), now, 0.12)
		require.NotNil(t, row.DivYieldPct)
		assert.InDelta(t, 5.0, *row.DivYieldPct, 0.0001)
		require.NotNil(t, row.TotalYieldPct)
		assert.InDelta(t, 7.0, *row.TotalYieldPct, 0.0001) // 5 + 2
	})

	t.Run("total is null only when both parts are", func(t *testing.T) {
		row := Compute(spot, marketdata.ContractQuote{}, div, mapping("X"), now, 0.12)
		require.NotNil(t, row.TotalYieldPct, "dividend part alone keeps total defined")
		assert.InDelta(t, 5.0, *row.TotalYieldPct, 0.0001)

		row = Compute(marketdata.EquityQuote{Ticker: "SBER"}, marketdata.ContractQuote{}, marketdata.DividendRecord{}, mapping("X"), now, 0.12)
		assert.Nil(t, row.TotalYieldPct)
	})
}

func TestDayCountsSigned(t *testing.T) {
	div := marketdata.DividendRecord{Ticker: "SBER", ExDate: day(-3), Amount: marketdata.Float(10)}
	fut := marketdata.ContractQuote{ContractID: "X", Expiration: day(30)}

	row := Compute(marketdata.EquityQuote{Ticker: "SBER"}, fut, div, mapping("X"), now, 0.12)
	require.NotNil(t, row.DaysToExDate)
	assert.Equal(t, -3, *row.DaysToExDate, "raw day counts stay signed")
	require.NotNil(t, row.DaysToExpiry)
	assert.Equal(t, 30, *row.DaysToExpiry)
}

func TestIncomeFields(t *testing.T) {
	spot := marketdata.EquityQuote{Ticker: "SBER", Last: marketdata.Float(200)}
	fut := marketdata.ContractQuote{ContractID: "X", Last: marketdata.Float(206), Expiration: day(30)}
	div := marketdata.DividendRecord{Ticker: "SBER", ExDate: day(5), Amount: marketdata.Float(10)}

	row := Compute(spot, fut, div, mapping("X"), now, 0.12)

	require.NotNil(t, row.IncomeToExDate)
	assert.InDelta(t, 10-CarryCost(200, 0.12, 5), *row.IncomeToExDate, 0.0001)
	require.NotNil(t, row.IncomeToExpiry)
	assert.InDelta(t, 6-CarryCost(200, 0.12, 30)+10, *row.IncomeToExpiry, 0.0001)
	assert.True(t, row.DivBeforeExp)

	// ex-date past expiry: no dividend in the expiry leg
	div.ExDate = day(45)
	row = Compute(spot, fut, div, mapping("X"), now, 0.12)
	assert.InDelta(t, 6-CarryCost(200, 0.12, 30), *row.IncomeToExpiry, 0.0001)
	assert.False(t, row.DivBeforeExp)
}

func TestResolvedFlag(t *testing.T) {
	spot := marketdata.EquityQuote{Ticker: "SBER", Last: marketdata.Float(200)}

	// a contract row with no price at all never reads as resolved
	fut := marketdata.ContractQuote{ContractID: "X", InitialMargin: marketdata.Float(12000)}
	row := Compute(spot, fut, marketdata.DividendRecord{}, mapping("X"), now, 0.12)
	assert.False(t, row.Resolved)

	fut.Last = marketdata.Float(206)
	row = Compute(spot, fut, marketdata.DividendRecord{}, mapping("X"), now, 0.12)
	assert.True(t, row.Resolved)
}

func TestPerShare(t *testing.T) {
	assert.Nil(t, PerShare(nil, marketdata.Float(10)))
	assert.Equal(t, 2700.0, *PerShare(marketdata.Float(27000), marketdata.Float(10)))
	assert.Equal(t, 27000.0, *PerShare(marketdata.Float(27000), nil), "unknown lot size passes through")
}

func intp(v int) *int { return &v }
