// Package oracle provides the price feed consumed by the lending engine.
// Rates are quoted per whole token of the base asset in whole tokens of the
// quote asset and rendered as integers scaled by 10^decimals.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// DefaultDecimals is the precision of rates returned by LatestPrice.
const DefaultDecimals uint8 = 8

var (
	ErrFeedNotFound = errors.New("oracle: feed not found")
	ErrStaleQuote   = errors.New("oracle: no fresh quote available")
	ErrInvalidRate  = errors.New("oracle: rate must be positive")
)

// Quote is a stored observation for a pair.
type Quote struct {
	Rate      *big.Rat
	Timestamp int64
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Feed is an in-memory price feed with a freshness window. A pair quoted only
// in the opposite direction is served by inverting the stored rate.
type Feed struct {
	mu       sync.RWMutex
	quotes   map[string]Quote
	maxAge   time.Duration
	decimals uint8
	nowFn    func() int64
}

// NewFeed constructs an empty feed. A non-positive maxAge disables the
// freshness check.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		quotes:   make(map[string]Quote),
		maxAge:   maxAge,
		decimals: DefaultDecimals,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used for the freshness check.
func (f *Feed) SetNowFunc(now func() int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

// SetDecimals changes the precision of returned rates.
func (f *Feed) SetDecimals(decimals uint8) {
	f.mu.Lock()
	f.decimals = decimals
	f.mu.Unlock()
}

func normaliseSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func pairKey(base, quote string) string {
	return normaliseSymbol(base) + "/" + normaliseSymbol(quote)
}

// SetDecimal records a decimal rate such as "1850.25" for base/quote.
func (f *Feed) SetDecimal(base, quote, rate string, ts int64) error {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("oracle: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: invalid rate %q", rate)
	}
	return f.Set(base, quote, rat, ts)
}

// Set stores rate for base/quote observed at ts.
func (f *Feed) Set(base, quote string, rate *big.Rat, ts int64) error {
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	if normaliseSymbol(base) == "" || normaliseSymbol(quote) == "" {
		return fmt.Errorf("oracle: base and quote required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[pairKey(base, quote)] = Quote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
	return nil
}

// Quote returns the stored rate for base/quote, inverting the opposite pair
// when only that one is known.
func (f *Feed) Quote(base, quote string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if normaliseSymbol(base) == normaliseSymbol(quote) {
		return Quote{Rate: big.NewRat(1, 1), Timestamp: f.nowFn(), Source: "identity"}, nil
	}
	q, ok := f.quotes[pairKey(base, quote)]
	if !ok {
		inv, found := f.quotes[pairKey(quote, base)]
		if !found {
			return Quote{}, fmt.Errorf("%w: %s/%s", ErrFeedNotFound, base, quote)
		}
		q = Quote{Rate: new(big.Rat).Inv(inv.Rate), Timestamp: inv.Timestamp, Source: inv.Source}
	} else {
		q = q.Clone()
	}
	if f.maxAge > 0 && f.nowFn()-q.Timestamp > int64(f.maxAge/time.Second) {
		return Quote{}, fmt.Errorf("%w: %s/%s", ErrStaleQuote, base, quote)
	}
	return q, nil
}

// LatestPrice returns the rate for base/quote scaled by 10^decimals.
func (f *Feed) LatestPrice(base, quote string) (*big.Int, uint8, error) {
	q, err := f.Quote(base, quote)
	if err != nil {
		return nil, 0, err
	}
	f.mu.RLock()
	decimals := f.decimals
	f.mu.RUnlock()
	scaled := new(big.Rat).Mul(q.Rate, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	rate := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if rate.Sign() <= 0 {
		return nil, 0, fmt.Errorf("%w: %s/%s rounds to zero at %d decimals", ErrInvalidRate, base, quote, decimals)
	}
	return rate, decimals, nil
}

// FeedExists reports whether a direct or inverse quote is stored for the pair.
func (f *Feed) FeedExists(base, quote string) bool {
	if normaliseSymbol(base) == normaliseSymbol(quote) {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.quotes[pairKey(base, quote)]; ok {
		return true
	}
	_, ok := f.quotes[pairKey(quote, base)]
	return ok
}
