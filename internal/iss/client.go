// Package iss is the polling data provider client: a thin typed layer over
// the exchange's column-indexed tabular HTTP API. Every fetch returns
// (value, error); callers decide what a failure means: the refresher keeps
// last-known-good data, the resolver treats it as "no data from this tier".
package iss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fortsarb/screener/internal/config"
	"github.com/fortsarb/screener/internal/marketdata"
	"github.com/fortsarb/screener/internal/observ"
)

const (
	spotBoard = "TQBR"
	futBoard  = "RFUD"
)

// ErrNoData marks a well-formed response that carried nothing usable.
var ErrNoData = errors.New("iss: no data")

// ContractRef is one registry search hit.
type ContractRef struct {
	ID         string
	Expiration *time.Time
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	now func() time.Time
}

func NewClient(cfg config.Provider, log *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 5),
		log:     log,
		now:     time.Now,
	}
}

// get fetches one ISS document and returns its named blocks undecoded.
func (c *Client) get(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "screener/1.0")

	start := time.Now()
	resp, err := c.http.Do(req)
	observ.ObserveDuration("iss_request", time.Since(start), nil)
	if err != nil {
		observ.IncCounter("iss_request_error_total", map[string]string{"kind": "network"})
		return nil, fmt.Errorf("iss get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		observ.IncCounter("iss_request_error_total", map[string]string{"kind": "status"})
		return nil, fmt.Errorf("iss get: unexpected status %d", resp.StatusCode)
	}
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		observ.IncCounter("iss_request_error_total", map[string]string{"kind": "decode"})
		return nil, fmt.Errorf("iss decode: %w", err)
	}
	return doc, nil
}

func (c *Client) block(ctx context.Context, path, name string) (table, error) {
	doc, err := c.get(ctx, path)
	if err != nil {
		return table{}, err
	}
	return decodeTable(doc[name]), nil
}

// SpotQuote fetches top-of-book for one equity ticker.
func (c *Client) SpotQuote(ctx context.Context, secid string) (marketdata.EquityQuote, error) {
	path := fmt.Sprintf(
		"/iss/engines/stock/markets/shares/boards/%s/securities/%s.json?iss.meta=off&marketdata.columns=LAST,BID,OFFER",
		spotBoard, url.PathEscape(secid))
	md, err := c.block(ctx, path, "marketdata")
	if err != nil {
		return marketdata.EquityQuote{}, err
	}
	if md.empty() {
		return marketdata.EquityQuote{}, ErrNoData
	}
	return marketdata.EquityQuote{
		Ticker: secid,
		Last:   md.float(0, "LAST"),
		Bid:    md.float(0, "BID"),
		Offer:  md.float(0, "OFFER"),
	}, nil
}

// ContractSnapshot assembles one contract record from up to four sub-fetches:
// batch marketdata, the securities parameter block, the order book top level
// when bid/offer are missing, and the last trade when last is missing.
// Sub-fetch failures are soft; the snapshot carries whatever arrived. It is
// an ErrNoData result only when no price surfaced anywhere.
func (c *Client) ContractSnapshot(ctx context.Context, secid string) (marketdata.ContractQuote, error) {
	q := marketdata.ContractQuote{ContractID: secid}

	// (a) L1 prices live in the batch marketdata block
	mdPath := fmt.Sprintf(
		"/iss/engines/futures/markets/forts/boards/%s/securities.json?iss.meta=off&securities=%s&marketdata.columns=SECID,LAST,BID,OFFER",
		futBoard, url.QueryEscape(secid))
	if md, err := c.block(ctx, mdPath, "marketdata"); err == nil && !md.empty() {
		for i := range md.rows {
			if md.str(i, "SECID") != secid {
				continue
			}
			q.MergeFrom(marketdata.ContractQuote{
				Last:  md.float(i, "LAST"),
				Bid:   md.float(i, "BID"),
				Offer: md.float(i, "OFFER"),
			})
			break
		}
	} else if err != nil {
		c.log.Debug("contract marketdata fetch failed", zap.String("secid", secid), zap.Error(err))
	}

	// (b) contract parameters
	scPath := fmt.Sprintf(
		"/iss/engines/futures/markets/forts/boards/%s/securities/%s.json?iss.meta=off&securities.columns=SECID,EXPIRATION,INITIALMARGIN,MINSTEP,STEPPRICE,LOTVOLUME",
		futBoard, url.PathEscape(secid))
	if sc, err := c.block(ctx, scPath, "securities"); err == nil && !sc.empty() {
		q.MergeFrom(marketdata.ContractQuote{
			Expiration:    sc.date(0, "EXPIRATION"),
			InitialMargin: sc.float(0, "INITIALMARGIN"),
			MinStep:       sc.float(0, "MINSTEP"),
			StepValue:     sc.float(0, "STEPPRICE"),
			LotSize:       sc.float(0, "LOTVOLUME"),
		})
	} else if err != nil {
		c.log.Debug("contract params fetch failed", zap.String("secid", secid), zap.Error(err))
	}

	// (c) order book top level backfills missing bid/offer
	if q.Bid == nil || q.Offer == nil {
		obPath := fmt.Sprintf(
			"/iss/engines/futures/markets/forts/securities/%s/orderbook.json?iss.meta=off&depth=1",
			url.PathEscape(secid))
		if doc, err := c.get(ctx, obPath); err == nil {
			if bids := decodeTable(doc["bids"]); !bids.empty() && q.Bid == nil {
				q.Bid = bids.float(0, "PRICE")
			}
			if offers := decodeTable(doc["offers"]); !offers.empty() && q.Offer == nil {
				q.Offer = offers.float(0, "PRICE")
			}
		}
	}

	// (d) the most recent trade backfills a missing last
	if q.Last == nil {
		trPath := fmt.Sprintf(
			"/iss/engines/futures/markets/forts/securities/%s/trades.json?iss.meta=off&limit=1&sort_time=desc",
			url.PathEscape(secid))
		if tr, err := c.block(ctx, trPath, "trades"); err == nil && !tr.empty() {
			q.Last = tr.float(0, "PRICE")
		}
	}

	if !q.HasPrice() {
		return q, ErrNoData
	}
	return q, nil
}

// Dividend fetches the schedule for secid and keeps only the nearest future
// ex-date. Past and unparseable dates never leave this boundary. A reachable
// schedule with no future entry is a valid nil-field record, not an error.
func (c *Client) Dividend(ctx context.Context, secid string) (marketdata.DividendRecord, error) {
	path := fmt.Sprintf("/iss/securities/%s/dividends.json?iss.meta=off", url.PathEscape(secid))
	dv, err := c.block(ctx, path, "dividends")
	if err != nil {
		return marketdata.DividendRecord{}, err
	}
	rec := marketdata.DividendRecord{Ticker: secid}
	today := dateOnly(c.now())
	for i := range dv.rows {
		// field naming varies between schedule entries
		ex := dv.date(i, "registry_close_date")
		if ex == nil {
			ex = dv.date(i, "close_date")
		}
		if ex == nil {
			ex = dv.date(i, "date")
		}
		if ex == nil || ex.Before(today) {
			continue
		}
		if rec.ExDate == nil || ex.Before(*rec.ExDate) {
			rec.ExDate = ex
			rec.Amount = dv.float(i, "value")
		}
	}
	return rec, nil
}

// LastClose returns the most recent daily close within the lookback window,
// newest first. Used when a resolved contract has no live quote.
func (c *Client) LastClose(ctx context.Context, secid string, lookbackDays int) (*float64, error) {
	from := c.now().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	path := fmt.Sprintf(
		"/iss/history/engines/futures/markets/forts/boards/%s/securities/%s.json?iss.meta=off&from=%s&sort_order=desc&history.columns=TRADEDATE,CLOSE",
		futBoard, url.PathEscape(secid), from)
	h, err := c.block(ctx, path, "history")
	if err != nil {
		return nil, err
	}
	for i := range h.rows {
		if px := h.float(i, "CLOSE"); px != nil {
			return px, nil
		}
	}
	return nil, ErrNoData
}

// SearchContracts queries the registry for contracts whose id starts with
// root, any expiration.
func (c *Client) SearchContracts(ctx context.Context, root string) ([]ContractRef, error) {
	path := fmt.Sprintf(
		"/iss/engines/futures/markets/forts/boards/%s/securities.json?iss.meta=off&limit=5000&securities.columns=SECID,SHORTNAME,EXPIRATION&query=%s",
		futBoard, url.QueryEscape(root))
	sc, err := c.block(ctx, path, "securities")
	if err != nil {
		return nil, err
	}
	var out []ContractRef
	for i := range sc.rows {
		id := sc.str(i, "SECID")
		if id == "" || len(id) < len(root) || id[:len(root)] != root {
			continue
		}
		out = append(out, ContractRef{ID: id, Expiration: sc.date(i, "EXPIRATION")})
	}
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
