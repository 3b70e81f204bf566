// Package quik is the push-based feed client: a permanent background task
// holding a TCP connection to the trading terminal, which emits
// newline-delimited JSON arrays of quote records. Records land directly in
// the cache sections. Connection loss of any kind means a fixed backoff and
// a fresh connect; there is no retry limit.
package quik

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/fortsarb/screener/internal/marketdata"
	"github.com/fortsarb/screener/internal/observ"
)

// ConnState is the listener's connection state machine position.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Allowlist gates which contracts may be associated with an underlying.
type Allowlist interface {
	Contains(sec string) bool
}

type allowAll struct{}

func (allowAll) Contains(string) bool { return true }

type Listener struct {
	addr     string
	futBoard string
	backoff  time.Duration
	cache    *marketdata.Cache
	pool     Allowlist
	log      *zap.Logger

	state int32

	// injectable for tests
	dial func(ctx context.Context, addr string) (net.Conn, error)
	now  func() time.Time
}

func NewListener(addr, futBoard string, backoff time.Duration, cache *marketdata.Cache,
	pool Allowlist, log *zap.Logger) *Listener {
	if pool == nil {
		pool = allowAll{}
	}
	return &Listener{
		addr:     addr,
		futBoard: futBoard,
		backoff:  backoff,
		cache:    cache,
		pool:     pool,
		log:      log,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		now: time.Now,
	}
}

func (l *Listener) State() ConnState {
	return ConnState(atomic.LoadInt32(&l.state))
}

func (l *Listener) setState(s ConnState) {
	atomic.StoreInt32(&l.state, int32(s))
	observ.SetGauge("feed_connection_state", float64(s), nil)
}

// Run loops connect→consume→backoff until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.setState(StateConnecting)
		conn, err := l.dial(ctx, l.addr)
		if err != nil {
			l.setState(StateDisconnected)
			observ.IncCounter("feed_reconnect_total", map[string]string{"reason": "dial"})
			l.log.Warn("feed dial failed", zap.String("addr", l.addr), zap.Error(err))
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		l.setState(StateConnected)
		l.log.Info("feed connected", zap.String("addr", l.addr))
		err = l.consume(ctx, conn)
		_ = conn.Close()
		l.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		observ.IncCounter("feed_reconnect_total", map[string]string{"reason": "closed"})
		l.log.Warn("feed connection lost", zap.Error(err))
		if !l.sleep(ctx) {
			return
		}
	}
}

func (l *Listener) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.backoff):
		return true
	}
}

// consume splits the byte stream on newlines; each complete line is one JSON
// array of records. A malformed line is dropped on its own; it never takes
// the connection down.
func (l *Listener) consume(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var p fastjson.Parser
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		v, err := p.ParseBytes(line)
		if err != nil {
			observ.IncCounter("feed_line_total", map[string]string{"result": "malformed"})
			l.log.Debug("malformed feed line dropped", zap.Error(err))
			continue
		}
		batch, err := v.Array()
		if err != nil {
			observ.IncCounter("feed_line_total", map[string]string{"result": "malformed"})
			continue
		}
		for _, rec := range batch {
			l.apply(rec)
		}
		observ.IncCounter("feed_line_total", map[string]string{"result": "ok"})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("feed: stream closed")
}

// apply routes one record into the cache: futures-board records update the
// contract section additively and the underlying association, anything else
// updates the spot section, and any record naming its underlying replaces
// that ticker's dividend record wholesale.
func (l *Listener) apply(rec *fastjson.Value) {
	board := string(rec.GetStringBytes("class"))
	sec := string(rec.GetStringBytes("sec"))
	if board == "" || sec == "" {
		observ.IncCounter("feed_record_total", map[string]string{"result": "skipped"})
		return
	}
	name := string(rec.GetStringBytes("name"))

	if board == l.futBoard {
		patch := marketdata.ContractQuote{
			Last:          optFloat(rec, "last"),
			LotSize:       optFloat(rec, "lot_size"),
			InitialMargin: optFloat(rec, "go_contract"),
		}
		if d2m := optInt(rec, "days_to_mat_date"); d2m != nil {
			exp := dateOnly(l.now()).AddDate(0, 0, *d2m)
			patch.Expiration = &exp
		}
		merged := l.cache.MergeContract(sec, patch)
		if name != "" {
			l.associate(name, sec, merged)
		}
	} else {
		l.cache.SetSpot(marketdata.EquityQuote{Ticker: sec, Last: optFloat(rec, "last")})
	}

	if name != "" {
		l.cache.SetDividend(marketdata.DividendRecord{
			Ticker: name,
			ExDate: l.parseExDate(string(rec.GetStringBytes("ddiv"))),
			Amount: optFloat(rec, "divr"),
		})
	}
	observ.IncCounter("feed_record_total", map[string]string{"result": "ok"})
}

// associate points the underlying's mapping at sec when sec is in the pool
// and is the nearest-expiring allowed series seen so far.
func (l *Listener) associate(name, sec string, q marketdata.ContractQuote) {
	if !l.pool.Contains(sec) {
		return
	}
	cur, ok := l.cache.Mapping(name)
	replace := !ok || cur.ContractID == nil || *cur.ContractID == sec
	if !replace {
		curQ, haveCur := l.cache.Contract(*cur.ContractID)
		switch {
		case !l.pool.Contains(*cur.ContractID):
			replace = true
		case !haveCur || curQ.Expiration == nil:
			replace = true
		case q.Expiration != nil && q.Expiration.Before(*curQ.Expiration):
			replace = true
		}
	}
	if replace {
		l.cache.SetMapping(marketdata.ContractMapping{
			Ticker:      name,
			ContractID:  marketdata.Str(sec),
			DisplayCode: displayCode(name, q.Expiration),
		})
	}
}

// parseExDate normalizes the feed's DD.MM.YYYY ex-date. Past and unparseable
// dates are dropped here, never cached.
func (l *Listener) parseExDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := time.Parse("02.01.2006", s)
	if err != nil {
		return nil
	}
	if d.Before(dateOnly(l.now())) {
		return nil
	}
	return &d
}

func displayCode(ticker string, exp *time.Time) string {
	if exp != nil {
		return fmt.Sprintf("%s-%d.%02d", ticker, int(exp.Month()), exp.Year()%100)
	}
	return ticker + "-"
}

func optFloat(v *fastjson.Value, key string) *float64 {
	f := v.Get(key)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil
	}
	x, err := f.Float64()
	if err != nil {
		return nil
	}
	return &x
}

func optInt(v *fastjson.Value, key string) *int {
	f := optFloat(v, key)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
