package marketdata

import (
	"sync"
	"time"

	"github.com/fortsarb/screener/internal/observ"
)

// Cache is the process-wide market state: four independently keyed sections
// with independent staleness policies. The polling refresher and the stream
// listener both write at arbitrary times; every write replaces a key's value
// wholesale so readers never observe a torn record. Keys are never deleted:
// a stale entry is only eligible for overwrite, and serving continues on
// last-known-good data through transient fetch failures.
type Cache struct {
	mu       sync.RWMutex
	spot     map[string]EquityQuote
	contract map[string]ContractQuote
	dividend map[string]DividendRecord
	mapping  map[string]ContractMapping

	now func() time.Time // injectable for staleness tests
}

func NewCache() *Cache {
	return &Cache{
		spot:     make(map[string]EquityQuote),
		contract: make(map[string]ContractQuote),
		dividend: make(map[string]DividendRecord),
		mapping:  make(map[string]ContractMapping),
		now:      time.Now,
	}
}

// SetSpot stores q under its ticker, stamping ObservedAt.
func (c *Cache) SetSpot(q EquityQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q.ObservedAt = c.now()
	c.spot[q.Ticker] = q
	observ.IncCounter("cache_write_total", map[string]string{"section": "spot"})
}

func (c *Cache) Spot(ticker string) (EquityQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.spot[ticker]
	return q, ok
}

// SpotStale reports whether the spot entry is absent or older than maxAge.
func (c *Cache) SpotStale(ticker string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.spot[ticker]
	return !ok || c.now().Sub(q.ObservedAt) > maxAge
}

// SetContract stores q wholesale under its contract id.
func (c *Cache) SetContract(q ContractQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q.ObservedAt = c.now()
	c.contract[q.ContractID] = q
	observ.IncCounter("cache_write_total", map[string]string{"section": "contract"})
}

func (c *Cache) Contract(id string) (ContractQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.contract[id]
	return q, ok
}

// MergeContract applies patch onto the existing entry for id under the write
// lock, so a concurrent poller and listener cannot interleave a
// read-modify-write. Fields the patch carries are fresh observations and win;
// fields the patch leaves nil keep their previously known values.
func (c *Cache) MergeContract(id string, patch ContractQuote) ContractQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := patch
	merged.ContractID = id
	if prev, ok := c.contract[id]; ok {
		merged.MergeFrom(prev)
	}
	merged.ObservedAt = c.now()
	c.contract[id] = merged
	observ.IncCounter("cache_write_total", map[string]string{"section": "contract"})
	return merged
}

// SetDividend replaces the ticker's dividend record wholesale.
func (c *Cache) SetDividend(d DividendRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d.ObservedAt = c.now()
	c.dividend[d.Ticker] = d
	observ.IncCounter("cache_write_total", map[string]string{"section": "dividend"})
}

func (c *Cache) Dividend(ticker string) (DividendRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dividend[ticker]
	return d, ok
}

// DividendStale reports whether the dividend entry is absent or older than
// maxAge. The dividend source changes slowly, so the refresher only hits it
// when this returns true.
func (c *Cache) DividendStale(ticker string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dividend[ticker]
	return !ok || c.now().Sub(d.ObservedAt) > maxAge
}

// SetMapping stores the ticker→contract association. No staleness policy:
// the mapping is rewritten once per cycle and always carries a display code.
func (c *Cache) SetMapping(m ContractMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.ObservedAt = c.now()
	c.mapping[m.Ticker] = m
	observ.IncCounter("cache_write_total", map[string]string{"section": "mapping"})
}

func (c *Cache) Mapping(ticker string) (ContractMapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mapping[ticker]
	return m, ok
}

// Mappings returns a copy of the whole mapping section.
func (c *Cache) Mappings() map[string]ContractMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ContractMapping, len(c.mapping))
	for k, v := range c.mapping {
		out[k] = v
	}
	return out
}

// Snapshot reads everything a row build needs for one ticker in a single
// lock acquisition. Cross-section consistency is intentionally not promised:
// each section reflects whichever write landed last.
func (c *Cache) Snapshot(ticker string) (EquityQuote, ContractQuote, DividendRecord, ContractMapping) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spot := c.spot[ticker]
	m := c.mapping[ticker]
	var fut ContractQuote
	if m.ContractID != nil {
		fut = c.contract[*m.ContractID]
	}
	return spot, fut, c.dividend[ticker], m
}
