package screener

import (
	"time"

	"github.com/fortsarb/screener/internal/marketdata"
)

// Screener assembles served rows from the cache. It is the read path: it
// never writes, and each row sees whichever section values exist at read
// time.
type Screener struct {
	cache    *marketdata.Cache
	symbols  []string
	venue    func(string) string // external ticker -> venue ticker
	riskFree float64

	// stream feeds quote whole contracts; per-share comparison needs the
	// lot divided out. The polling provider already quotes per share.
	lotNormalize bool

	now func() time.Time
}

func New(cache *marketdata.Cache, symbols []string, venue func(string) string,
	riskFree float64, lotNormalize bool) *Screener {
	if venue == nil {
		venue = func(s string) string { return s }
	}
	return &Screener{
		cache:        cache,
		symbols:      symbols,
		venue:        venue,
		riskFree:     riskFree,
		lotNormalize: lotNormalize,
		now:          time.Now,
	}
}

func (s *Screener) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Rows builds the full snapshot, one row per configured ticker.
func (s *Screener) Rows() []Row {
	rows := make([]Row, 0, len(s.symbols))
	for _, t := range s.symbols {
		rows = append(rows, s.RowFor(t))
	}
	return rows
}

// RowFor builds one ticker's row from current cache state.
func (s *Screener) RowFor(ticker string) Row {
	venue := s.venue(ticker)
	spot, fut, div, m := s.cache.Snapshot(venue)
	if m.Ticker == "" {
		// resolution has not run yet; serve the display-code floor
		m = marketdata.ContractMapping{Ticker: venue, DisplayCode: ticker + "-"}
	}
	// a contract row without any price does not count as resolved
	if m.ContractID != nil && !fut.HasPrice() {
		m.ContractID = nil
	}
	if s.lotNormalize {
		// per-contract margin stays as-is; Compute divides it by lot itself
		fut.Last = PerShare(fut.Last, fut.LotSize)
		fut.Bid = PerShare(fut.Bid, fut.LotSize)
		fut.Offer = PerShare(fut.Offer, fut.LotSize)
	}
	row := Compute(spot, fut, div, m, s.now(), s.riskFree)
	row.Ticker = ticker // serve the externally supplied name, not the venue alias
	return row
}
