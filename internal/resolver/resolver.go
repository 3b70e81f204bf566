// Package resolver maps an equity ticker to the currently active derivative
// contract. Resolution runs a tiered fallback ladder: registry lookup first,
// then brute-force construction of candidate identifiers under two naming
// schemes, then a historical-close lookback when the winner has no live
// quote. Every sub-fetch failure is soft; only exhausting all tiers yields an
// unresolved result, and even then the display code survives.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fortsarb/screener/internal/iss"
	"github.com/fortsarb/screener/internal/marketdata"
	"github.com/fortsarb/screener/internal/observ"
)

// Provider is the slice of the data provider the resolver needs.
type Provider interface {
	SearchContracts(ctx context.Context, root string) ([]iss.ContractRef, error)
	ContractSnapshot(ctx context.Context, secid string) (marketdata.ContractQuote, error)
	LastClose(ctx context.Context, secid string, lookbackDays int) (*float64, error)
}

// Resolution is the outcome of one resolve call. ContractID is nil when every
// tier came up empty; DisplayCode is usable either way. Trace lists every
// probe attempted, in order, for diagnostics.
type Resolution struct {
	ContractID  *string
	DisplayCode string
	Expiration  *time.Time
	LastPrice   *float64
	Quote       *marketdata.ContractQuote
	Trace       []string
}

type Resolver struct {
	roots        map[string]string // spot ticker -> contract root symbol
	md           Provider
	lookbackDays int
	log          *zap.Logger

	now func() time.Time
}

func New(roots map[string]string, md Provider, lookbackDays int, log *zap.Logger) *Resolver {
	return &Resolver{
		roots:        roots,
		md:           md,
		lookbackDays: lookbackDays,
		log:          log,
		now:          time.Now,
	}
}

var monthLetter = map[int]byte{
	1: 'F', 2: 'G', 3: 'H', 4: 'J', 5: 'K', 6: 'M',
	7: 'N', 8: 'Q', 9: 'U', 10: 'V', 11: 'X', 12: 'Z',
}

var letterMonth = func() map[byte]int {
	m := make(map[byte]int, 12)
	for k, v := range monthLetter {
		m[v] = k
	}
	return m
}()

// quarterly months in probe priority order
var quarterMonths = []int{12, 9, 6, 3}

// Resolve finds the active contract for ticker, preferring the designated
// December series of preferredYear.
func (r *Resolver) Resolve(ctx context.Context, ticker string, preferredYear int) Resolution {
	root, ok := r.roots[ticker]
	if !ok {
		return Resolution{DisplayCode: ticker + "-"}
	}

	var trace []string
	winner, quote := r.fromRegistry(ctx, root, preferredYear, &trace)
	if winner == "" {
		winner, quote = r.bruteForce(ctx, root, preferredYear, &trace)
	}
	if winner == "" {
		observ.IncCounter("resolve_total", map[string]string{"outcome": "unresolved"})
		return Resolution{DisplayCode: ticker + "-", Trace: trace}
	}

	if quote == nil {
		trace = append(trace, "fetch:"+winner)
		if q, err := r.md.ContractSnapshot(ctx, winner); err == nil || q.ContractID != "" {
			quote = &q
		}
	}

	res := Resolution{
		ContractID: marketdata.Str(winner),
		Quote:      quote,
	}
	if quote != nil {
		res.Expiration = quote.Expiration
		res.LastPrice = quote.Last
	}
	if res.LastPrice == nil {
		// no live trade; fall back to the most recent daily close
		trace = append(trace, "history:"+winner)
		if px, err := r.md.LastClose(ctx, winner, r.lookbackDays); err == nil {
			res.LastPrice = px
		}
	}
	res.DisplayCode = r.displayCode(ticker, root, winner, res.Expiration)
	res.Trace = trace
	observ.IncCounter("resolve_total", map[string]string{"outcome": "resolved"})
	return res
}

// fromRegistry picks the best contract from a registry search: an exact
// preferred-year December suffix beats everything; otherwise the nearest
// upcoming quarterly series, then the nearest of any month. When no
// identifier has a parseable month at all, the earliest-expiring row wins.
func (r *Resolver) fromRegistry(ctx context.Context, root string, preferredYear int, trace *[]string) (string, *marketdata.ContractQuote) {
	refs, err := r.md.SearchContracts(ctx, root)
	if err != nil {
		*trace = append(*trace, "registry:error")
		r.log.Debug("registry search failed", zap.String("root", root), zap.Error(err))
		return "", nil
	}

	today := dateOnly(r.now())
	live := refs[:0:0]
	for _, ref := range refs {
		if ref.Expiration != nil && ref.Expiration.Before(today) {
			continue
		}
		live = append(live, ref)
	}
	*trace = append(*trace, fmt.Sprintf("registry:%d", len(live)))
	if len(live) == 0 {
		return "", nil
	}
	sort.SliceStable(live, func(i, j int) bool {
		ei, ej := live[i].Expiration, live[j].Expiration
		switch {
		case ei == nil:
			return false
		case ej == nil:
			return true
		default:
			return ei.Before(*ej)
		}
	})

	suffix := fmt.Sprintf("-12.%02d", preferredYear%100)
	for _, ref := range live {
		if strings.HasSuffix(ref.ID, suffix) {
			return ref.ID, nil
		}
	}
	var anyMonth string
	for _, ref := range live {
		m, _, ok := parseSepCode(ref.ID)
		if !ok {
			m, _, ok = parseLetterCode(ref.ID, root, r.now().Year())
		}
		if !ok {
			continue
		}
		if isQuarter(m) {
			return ref.ID, nil
		}
		if anyMonth == "" {
			anyMonth = ref.ID
		}
	}
	if anyMonth != "" {
		return anyMonth, nil
	}
	// nothing parseable; earliest expiration is the last resort
	return live[0].ID, nil
}

// bruteForce constructs candidate identifiers for the preferred and next
// contract years under the separator scheme first, then the letter scheme,
// probing each for a live quote. The first candidate with a price wins.
func (r *Resolver) bruteForce(ctx context.Context, root string, preferredYear int, trace *[]string) (string, *marketdata.ContractQuote) {
	forms := []func(string, int, int) string{sepCode, letterCode}
	for _, form := range forms {
		for _, yr := range []int{preferredYear, preferredYear + 1} {
			for _, m := range quarterMonths {
				id := form(root, m, yr)
				*trace = append(*trace, "probe:"+id)
				q, err := r.md.ContractSnapshot(ctx, id)
				if err != nil || !q.HasPrice() {
					continue
				}
				return id, &q
			}
		}
	}
	return "", nil
}

// displayCode renders "{ticker}-{month}.{yy}" from whichever source can name
// the contract's month and year; the bare "{ticker}-" form is the floor.
func (r *Resolver) displayCode(ticker, root, id string, exp *time.Time) string {
	if m, y, ok := parseSepCode(id); ok {
		return fmt.Sprintf("%s-%d.%02d", ticker, m, y%100)
	}
	if m, y, ok := parseLetterCode(id, root, r.now().Year()); ok {
		return fmt.Sprintf("%s-%d.%02d", ticker, m, y%100)
	}
	if exp != nil {
		return fmt.Sprintf("%s-%d.%02d", ticker, int(exp.Month()), exp.Year()%100)
	}
	return ticker + "-"
}

// sepCode builds the separator-delimited month.year form, e.g. SBRF-12.25.
func sepCode(root string, month, year int) string {
	return fmt.Sprintf("%s-%d.%02d", root, month, year%100)
}

// letterCode builds the single-letter-month form, e.g. SRZ5 / SBRFZ5.
func letterCode(root string, month, year int) string {
	return fmt.Sprintf("%s%c%d", root, monthLetter[month], year%10)
}

// parseSepCode extracts month and full year from a ROOT-M.YY identifier.
func parseSepCode(id string) (month, year int, ok bool) {
	i := strings.LastIndexByte(id, '-')
	j := strings.LastIndexByte(id, '.')
	if i < 0 || j < i+2 || j+1 >= len(id) {
		return 0, 0, false
	}
	m, err := strconv.Atoi(id[i+1 : j])
	if err != nil || m < 1 || m > 12 {
		return 0, 0, false
	}
	yy, err := strconv.Atoi(id[j+1:])
	if err != nil || yy < 0 || yy > 99 {
		return 0, 0, false
	}
	return m, 2000 + yy, true
}

// parseLetterCode extracts month and year from a ROOT<letter><digit>
// identifier. The single year digit resolves to the first matching year at or
// after baseYear.
func parseLetterCode(id, root string, baseYear int) (month, year int, ok bool) {
	if !strings.HasPrefix(id, root) || len(id) != len(root)+2 {
		return 0, 0, false
	}
	m, ok := letterMonth[id[len(root)]]
	if !ok {
		return 0, 0, false
	}
	d := id[len(id)-1]
	if d < '0' || d > '9' {
		return 0, 0, false
	}
	digit := int(d - '0')
	y := baseYear
	for y%10 != digit {
		y++
	}
	return m, y, true
}

func isQuarter(m int) bool {
	return m == 3 || m == 6 || m == 9 || m == 12
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
