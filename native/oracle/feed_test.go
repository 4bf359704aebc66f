package oracle

import (
	"errors"
	"testing"
	"time"
)

func TestFeedDirectAndInverse(t *testing.T) {
	feed := NewFeed(time.Hour)
	feed.SetNowFunc(func() int64 { return 1_000 })
	if err := feed.SetDecimal("weth", "usdc", "2000", 1_000); err != nil {
		t.Fatalf("set: %v", err)
	}
	rate, decimals, err := feed.LatestPrice("WETH", "USDC")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if decimals != DefaultDecimals || rate.String() != "200000000000" {
		t.Fatalf("unexpected direct rate %s (%d)", rate, decimals)
	}
	inv, _, err := feed.LatestPrice("USDC", "WETH")
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if inv.String() != "50000" {
		t.Fatalf("unexpected inverse rate %s", inv)
	}
	if !feed.FeedExists("usdc", "weth") || feed.FeedExists("usdc", "dai") {
		t.Fatalf("unexpected feed existence")
	}
	if !feed.FeedExists("dai", "DAI") {
		t.Fatalf("identity pair must exist")
	}
}

func TestFeedFreshness(t *testing.T) {
	now := int64(10_000)
	feed := NewFeed(time.Minute)
	feed.SetNowFunc(func() int64 { return now })
	if err := feed.SetDecimal("WETH", "USDC", "1500.5", now); err != nil {
		t.Fatalf("set: %v", err)
	}
	now += 60
	if _, _, err := feed.LatestPrice("WETH", "USDC"); err != nil {
		t.Fatalf("quote at window edge must be fresh: %v", err)
	}
	now++
	if _, _, err := feed.LatestPrice("WETH", "USDC"); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected stale quote, got %v", err)
	}
	if _, _, err := feed.LatestPrice("WBTC", "USDC"); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("expected missing feed, got %v", err)
	}
	if err := feed.SetDecimal("WETH", "USDC", "-1", now); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
}
