package marketdata

import "time"

// EquityQuote is a normalized top-of-book reading for one spot ticker.
// A nil field means the venue did not publish that value; zero is never used
// as a stand-in for "unknown".
type EquityQuote struct {
	Ticker     string     `json:"ticker"`
	Last       *float64   `json:"last"`
	Bid        *float64   `json:"bid"`
	Offer      *float64   `json:"offer"`
	ObservedAt time.Time  `json:"observed_at"`
}

// ContractQuote is the merged view of one derivative contract. It is keyed by
// the exchange contract id, not the underlying ticker, because several naming
// forms may alias the same series during resolution. Fields arrive from
// independent sub-fetches and are merged additively via MergeFrom.
type ContractQuote struct {
	ContractID    string     `json:"contract_id"`
	Last          *float64   `json:"last"`
	Bid           *float64   `json:"bid"`
	Offer         *float64   `json:"offer"`
	Expiration    *time.Time `json:"expiration"`
	InitialMargin *float64   `json:"initial_margin"`
	MinStep       *float64   `json:"min_step"`
	StepValue     *float64   `json:"step_value"`
	LotSize       *float64   `json:"lot_size"`
	ObservedAt    time.Time  `json:"observed_at"`
}

// MergeFrom fills fields still unset from other. A populated field is never
// overwritten, so two partial sub-fetches cannot blank each other out.
func (c *ContractQuote) MergeFrom(other ContractQuote) {
	if c.ContractID == "" {
		c.ContractID = other.ContractID
	}
	if c.Last == nil {
		c.Last = other.Last
	}
	if c.Bid == nil {
		c.Bid = other.Bid
	}
	if c.Offer == nil {
		c.Offer = other.Offer
	}
	if c.Expiration == nil {
		c.Expiration = other.Expiration
	}
	if c.InitialMargin == nil {
		c.InitialMargin = other.InitialMargin
	}
	if c.MinStep == nil {
		c.MinStep = other.MinStep
	}
	if c.StepValue == nil {
		c.StepValue = other.StepValue
	}
	if c.LotSize == nil {
		c.LotSize = other.LotSize
	}
}

// HasPrice reports whether any price field is populated. A contract row with
// no prices at all does not count as a resolved contract.
func (c *ContractQuote) HasPrice() bool {
	return c.Last != nil || c.Bid != nil || c.Offer != nil
}

// DividendRecord holds the nearest known future ex-date for a ticker. ExDate
// and Amount are independently nullable; past or unparseable dates are dropped
// at the normalization boundary and never reach the cache.
type DividendRecord struct {
	Ticker     string     `json:"ticker"`
	ExDate     *time.Time `json:"ex_date"`
	Amount     *float64   `json:"amount"`
	ObservedAt time.Time  `json:"observed_at"`
}

// ContractMapping ties a ticker to its resolved contract. DisplayCode is
// always present so consumers have something to render even when resolution
// failed and ContractID is nil.
type ContractMapping struct {
	Ticker      string    `json:"ticker"`
	ContractID  *string   `json:"contract_id"`
	DisplayCode string    `json:"display_code"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Float returns a pointer to v. Convenience for building records.
func Float(v float64) *float64 { return &v }

// Date returns a pointer to t.
func Date(t time.Time) *time.Time { return &t }

// Str returns a pointer to s.
func Str(s string) *string { return &s }
