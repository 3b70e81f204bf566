package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fortsarb/screener/internal/iss"
	"github.com/fortsarb/screener/internal/marketdata"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func expiry(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// fakeMD implements Provider and records every snapshot probe in order.
type fakeMD struct {
	refs      []iss.ContractRef
	searchErr error
	snapshots map[string]marketdata.ContractQuote
	closes    map[string]float64
	probes    []string
}

func (f *fakeMD) SearchContracts(_ context.Context, root string) ([]iss.ContractRef, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.refs, nil
}

func (f *fakeMD) ContractSnapshot(_ context.Context, secid string) (marketdata.ContractQuote, error) {
	f.probes = append(f.probes, secid)
	if q, ok := f.snapshots[secid]; ok {
		q.ContractID = secid
		return q, nil
	}
	return marketdata.ContractQuote{ContractID: secid}, iss.ErrNoData
}

func (f *fakeMD) LastClose(_ context.Context, secid string, _ int) (*float64, error) {
	if v, ok := f.closes[secid]; ok {
		return &v, nil
	}
	return nil, iss.ErrNoData
}

func newResolver(md Provider) *Resolver {
	r := New(map[string]string{"SBER": "SBRF"}, md, 7, zap.NewNop())
	r.now = func() time.Time { return testNow }
	return r
}

func TestResolveNoRootConfigured(t *testing.T) {
	r := newResolver(&fakeMD{})
	res := r.Resolve(context.Background(), "GAZP", 2026)
	assert.Nil(t, res.ContractID)
	assert.Equal(t, "GAZP-", res.DisplayCode)
	assert.Empty(t, res.Trace)
}

func TestResolvePrefersExactDecemberOverNearer(t *testing.T) {
	md := &fakeMD{
		refs: []iss.ContractRef{
			{ID: "SBRF-9.26", Expiration: expiry(2026, 9, 17)},
			{ID: "SBRF-12.26", Expiration: expiry(2026, 12, 17)},
			{ID: "SBRF-3.27", Expiration: expiry(2027, 3, 18)},
		},
		snapshots: map[string]marketdata.ContractQuote{
			"SBRF-12.26": {Last: marketdata.Float(306), Expiration: expiry(2026, 12, 17)},
		},
	}
	res := newResolver(md).Resolve(context.Background(), "SBER", 2026)

	require.NotNil(t, res.ContractID)
	assert.Equal(t, "SBRF-12.26", *res.ContractID)
	assert.Equal(t, "SBER-12.26", res.DisplayCode)
	require.NotNil(t, res.LastPrice)
	assert.Equal(t, 306.0, *res.LastPrice)
	require.NotNil(t, res.Expiration)
}

func TestResolveExpiredContractsFiltered(t *testing.T) {
	md := &fakeMD{
		refs: []iss.ContractRef{
			{ID: "SBRF-6.26", Expiration: expiry(2026, 6, 18)}, // already expired
			{ID: "SBRF-9.26", Expiration: expiry(2026, 9, 17)},
		},
		snapshots: map[string]marketdata.ContractQuote{
			"SBRF-9.26": {Last: marketdata.Float(298)},
		},
	}
	res := newResolver(md).Resolve(context.Background(), "SBER", 2026)
	require.NotNil(t, res.ContractID)
	assert.Equal(t, "SBRF-9.26", *res.ContractID, "no December series: nearest upcoming quarterly wins")
}

func TestResolveUnparseableMonthsLastResort(t *testing.T) {
	md := &fakeMD{
		refs: []iss.ContractRef{
			{ID: "SBRFXX", Expiration: expiry(2026, 10, 1)},
			{ID: "SBRFYY", Expiration: expiry(2026, 11, 1)},
		},
		snapshots: map[string]marketdata.ContractQuote{
			"SBRFXX": {Last: marketdata.Float(100)},
		},
	}
	res := newResolver(md).Resolve(context.Background(), "SBER", 2026)
	require.NotNil(t, res.ContractID)
	assert.Equal(t, "SBRFXX", *res.ContractID, "earliest expiration is the last resort")
}

func TestResolveBruteForceOrder(t *testing.T) {
	md := &fakeMD{
		searchErr: errors.New("registry unreachable"),
		snapshots: map[string]marketdata.ContractQuote{
			// only the letter-scheme June contract of the following year trades
			"SBRFM7": {Last: marketdata.Float(310)},
		},
	}
	res := newResolver(md).Resolve(context.Background(), "SBER", 2026)

	require.NotNil(t, res.ContractID)
	assert.Equal(t, "SBRFM7", *res.ContractID)

	// separator scheme is exhausted for both years before the letter scheme
	wantOrder := []string{
		"SBRF-12.26", "SBRF-9.26", "SBRF-6.26", "SBRF-3.26",
		"SBRF-12.27", "SBRF-9.27", "SBRF-6.27", "SBRF-3.27",
		"SBRFZ6", "SBRFU6", "SBRFM6",
	}
	require.GreaterOrEqual(t, len(md.probes), len(wantOrder))
	assert.Equal(t, wantOrder, md.probes[:len(wantOrder)])
	assert.Contains(t, res.Trace, "probe:SBRFM7")
	assert.Equal(t, "SBER-6.27", res.DisplayCode)
}

func TestResolveBruteForceExhausted(t *testing.T) {
	md := &fakeMD{searchErr: errors.New("registry unreachable")}
	res := newResolver(md).Resolve(context.Background(), "SBER", 2026)

	assert.Nil(t, res.ContractID)
	assert.Equal(t, "SBER-", res.DisplayCode)
	assert.Len(t, md.probes, 16, "both schemes, both years, four months each")
	assert.Contains(t, res.Trace, "registry:error")
}

func TestResolveHistoricalCloseFallback(t *testing.T) {
	md := &fakeMD{
		refs: []iss.ContractRef{
			{ID: "SBRF-12.26", Expiration: expiry(2026, 12, 17)},
		},
		snapshots: map[string]marketdata.ContractQuote{
			// resolved series exists but has no live trade
			"SBRF-12.26": {Bid: marketdata.Float(305), Expiration: expiry(2026, 12, 17)},
		},
		closes: map[string]float64{"SBRF-12.26": 304.2},
	}
	res := newResolver(md).Resolve(context.Background(), "SBER", 2026)

	require.NotNil(t, res.ContractID)
	require.NotNil(t, res.LastPrice)
	assert.Equal(t, 304.2, *res.LastPrice)
	assert.Contains(t, res.Trace, "history:SBRF-12.26")
}

func TestSepCodeRoundTrip(t *testing.T) {
	tests := []struct {
		id    string
		month int
		year  int
		ok    bool
	}{
		{"SBRF-12.26", 12, 2026, true},
		{"SBRF-3.27", 3, 2027, true},
		{"FIVE-6.26", 6, 2026, true},
		{"SBRFZ6", 0, 0, false},
		{"SBRF-", 0, 0, false},
		{"SBRF-13.26", 0, 0, false},
	}
	for _, tt := range tests {
		m, y, ok := parseSepCode(tt.id)
		assert.Equal(t, tt.ok, ok, tt.id)
		if tt.ok {
			assert.Equal(t, tt.month, m, tt.id)
			assert.Equal(t, tt.year, y, tt.id)
		}
	}
	assert.Equal(t, "SBRF-12.26", sepCode("SBRF", 12, 2026))
	assert.Equal(t, "SBRF-3.27", sepCode("SBRF", 3, 2027))
}

func TestLetterCodeRoundTrip(t *testing.T) {
	assert.Equal(t, "SBRFZ6", letterCode("SBRF", 12, 2026))
	assert.Equal(t, "SBRFH7", letterCode("SBRF", 3, 2027))

	m, y, ok := parseLetterCode("SBRFZ6", "SBRF", 2026)
	require.True(t, ok)
	assert.Equal(t, 12, m)
	assert.Equal(t, 2026, y)

	m, y, ok = parseLetterCode("SBRFH7", "SBRF", 2026)
	require.True(t, ok)
	assert.Equal(t, 3, m)
	assert.Equal(t, 2027, y)

	_, _, ok = parseLetterCode("SBRF-12.26", "SBRF", 2026)
	assert.False(t, ok)
}
