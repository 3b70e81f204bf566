// Package refresh drives the write path. In polling mode it runs the
// fetch→apply→sleep cycle against the data provider; in streaming mode it
// hands off to the terminal feed listener, started exactly once. Both modes
// run until the context is cancelled.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fortsarb/screener/internal/marketdata"
	"github.com/fortsarb/screener/internal/observ"
	"github.com/fortsarb/screener/internal/resolver"
)

// Provider is the slice of the data provider the orchestrator calls directly.
type Provider interface {
	SpotQuote(ctx context.Context, secid string) (marketdata.EquityQuote, error)
	Dividend(ctx context.Context, secid string) (marketdata.DividendRecord, error)
}

// ContractResolver yields the active contract for a ticker.
type ContractResolver interface {
	Resolve(ctx context.Context, ticker string, preferredYear int) resolver.Resolution
}

// Listener is the streaming-mode collaborator.
type Listener interface {
	Run(ctx context.Context)
}

type Orchestrator struct {
	cache         *marketdata.Cache
	md            Provider
	res           ContractResolver
	symbols       []string
	venue         func(string) string
	interval      time.Duration
	divWindow     time.Duration
	preferredYear int
	log           *zap.Logger

	listenOnce sync.Once
	now        func() time.Time
}

type Config struct {
	Symbols       []string
	Venue         func(string) string
	Interval      time.Duration
	DivWindow     time.Duration
	PreferredYear int // 0 means the current year at tick time
}

func New(cache *marketdata.Cache, md Provider, res ContractResolver, cfg Config, log *zap.Logger) *Orchestrator {
	venue := cfg.Venue
	if venue == nil {
		venue = func(s string) string { return s }
	}
	return &Orchestrator{
		cache:         cache,
		md:            md,
		res:           res,
		symbols:       cfg.Symbols,
		venue:         venue,
		interval:      cfg.Interval,
		divWindow:     cfg.DivWindow,
		preferredYear: cfg.PreferredYear,
		log:           log,
		now:           time.Now,
	}
}

// Run executes polling mode: one warm cycle synchronously so serving starts
// with data, then the fixed-interval loop until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Tick(ctx)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// RunStream starts the feed listener for streaming mode. The once guard
// keeps a re-entrant startup from spawning a second listener.
func (o *Orchestrator) RunStream(ctx context.Context, l Listener) {
	o.listenOnce.Do(func() {
		go l.Run(ctx)
	})
}

// Tick refreshes every configured ticker concurrently. Failures are isolated
// per ticker and per fetch: an error leaves the previous cached value alone
// and never blocks the other tickers.
func (o *Orchestrator) Tick(ctx context.Context) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, t := range o.symbols {
		t := t
		g.Go(func() error {
			o.refreshSymbol(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	observ.IncCounter("refresh_tick_total", nil)
	observ.ObserveDuration("refresh_tick", time.Since(start), nil)
}

func (o *Orchestrator) refreshSymbol(ctx context.Context, ticker string) {
	venue := o.venue(ticker)

	if q, err := o.md.SpotQuote(ctx, venue); err == nil {
		o.cache.SetSpot(q)
	} else {
		observ.IncCounter("refresh_fetch_error_total", map[string]string{"kind": "spot"})
		o.log.Debug("spot fetch failed", zap.String("ticker", venue), zap.Error(err))
	}

	// the dividend source changes slowly; only hit it past the long window
	if o.cache.DividendStale(venue, o.divWindow) {
		if d, err := o.md.Dividend(ctx, venue); err == nil {
			o.cache.SetDividend(d)
		} else {
			observ.IncCounter("refresh_fetch_error_total", map[string]string{"kind": "dividend"})
			o.log.Debug("dividend fetch failed", zap.String("ticker", venue), zap.Error(err))
		}
	}

	year := o.preferredYear
	if year == 0 {
		year = o.now().Year()
	}
	res := o.res.Resolve(ctx, venue, year)

	m := marketdata.ContractMapping{Ticker: venue, DisplayCode: res.DisplayCode}
	if res.ContractID != nil {
		var q marketdata.ContractQuote
		if res.Quote != nil {
			q = *res.Quote
		}
		q.ContractID = *res.ContractID
		if q.Last == nil {
			q.Last = res.LastPrice // historical-close fallback
		}
		if q.HasPrice() || q.Expiration != nil {
			o.cache.MergeContract(q.ContractID, q)
		}
		if q.HasPrice() {
			m.ContractID = res.ContractID
		}
	}
	// the mapping is written every cycle so a display code always renders
	o.cache.SetMapping(m)
}
