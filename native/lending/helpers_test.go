package lending

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"poolchain/core/state"
	"poolchain/crypto"
	"poolchain/native/fixedpoint"
	"poolchain/native/identity"
	"poolchain/native/ledger"
	"poolchain/native/oracle"
	"poolchain/native/strategy"
)

const (
	startTime = int64(1_700_000_000)
	day       = int64(24 * 3600)
	interval  = uint64(30 * 24 * 3600)
)

type fixture struct {
	state    *state.Manager
	ledger   *ledger.Engine
	engine   *Engine
	feed     *oracle.Feed
	ids      *identity.AllowList
	noop     *strategy.NoYield
	vault    *strategy.Vault
	registry *strategy.Registry
	now      int64

	borrower   crypto.Address
	lenderA    crypto.Address
	lenderB    crypto.Address
	outsider   crypto.Address
	liquidator crypto.Address
}

func makeAddress(b byte) crypto.Address { return crypto.BytesToAddress([]byte{0xAA, b}) }

func usdc(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)) }

// eth returns n tenths of an ETH in wei.
func eth(tenths int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(tenths), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(nil)
	if err := st.RegisterToken("USDC", "USD Coin", 6); err != nil {
		t.Fatalf("register usdc: %v", err)
	}
	if err := st.RegisterToken("ETH", "Ether", 18); err != nil {
		t.Fatalf("register eth: %v", err)
	}

	f := &fixture{
		state:      st,
		now:        startTime,
		borrower:   makeAddress(0x01),
		lenderA:    makeAddress(0x02),
		lenderB:    makeAddress(0x03),
		outsider:   makeAddress(0x04),
		liquidator: makeAddress(0x05),
	}
	clock := func() int64 { return f.now }

	f.noop = strategy.NewNoYield(st)
	f.vault = strategy.NewVault(st, "yv")
	f.registry = strategy.NewRegistry(st, 4)
	for _, a := range []strategy.Adapter{f.noop, f.vault} {
		if err := f.registry.Add(a.Address()); err != nil {
			t.Fatalf("register strategy: %v", err)
		}
	}

	f.ledger = ledger.NewEngine()
	f.ledger.SetState(st)
	f.ledger.SetRegistry(f.registry)
	f.ledger.AttachAdapter(f.noop)
	f.ledger.AttachAdapter(f.vault)

	f.feed = oracle.NewFeed(0)
	f.feed.SetNowFunc(clock)
	f.setPrice(t, "2000")

	f.ids = identity.NewAllowList(st)
	if err := f.ids.Verify(f.borrower); err != nil {
		t.Fatalf("verify borrower: %v", err)
	}

	f.engine = NewEngine()
	f.engine.SetState(st)
	f.engine.SetLedger(f.ledger)
	f.engine.SetPriceFeed(f.feed)
	f.engine.SetIdentity(f.ids)
	f.engine.SetRegistry(f.registry)
	f.engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.engine.SetNowFunc(clock)

	f.mint(t, f.borrower, "ETH", eth(50))
	f.mint(t, f.borrower, "USDC", usdc(10_000))
	for _, who := range []crypto.Address{f.lenderA, f.lenderB, f.outsider, f.liquidator} {
		f.mint(t, who, "USDC", usdc(10_000))
	}
	return f
}

func (f *fixture) setPrice(t *testing.T, rate string) {
	t.Helper()
	if err := f.feed.SetDecimal("ETH", "USDC", rate, f.now); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func (f *fixture) mint(t *testing.T, who crypto.Address, asset string, amount *big.Int) {
	t.Helper()
	if err := f.state.Mint(who, asset, amount); err != nil {
		t.Fatalf("mint %s: %v", asset, err)
	}
}

func (f *fixture) balance(t *testing.T, who crypto.Address, asset string) *big.Int {
	t.Helper()
	bal, err := f.state.Balance(who, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) advance(seconds int64) { f.now += seconds }

func (f *fixture) request() *CreatePoolRequest {
	return &CreatePoolRequest{
		Borrower:               f.borrower,
		PoolSize:               usdc(1_000),
		MinBorrowAmount:        usdc(100),
		IdealCollateralRatio:   fixedpoint.MustParse("1.5"),
		BorrowRate:             fixedpoint.MustParse("0.1"),
		BorrowAsset:            "USDC",
		CollateralAsset:        "ETH",
		Strategy:               f.noop.Address(),
		CollateralAmount:       eth(10),
		RepaymentInterval:      interval,
		NoOfRepaymentIntervals: 3,
		Salt:                   []byte("salt"),
	}
}

func (f *fixture) createPool(t *testing.T, req *CreatePoolRequest) *Pool {
	t.Helper()
	if req == nil {
		req = f.request()
	}
	pool, err := f.engine.CreatePool(req)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func (f *fixture) lend(t *testing.T, pool *Pool, lender crypto.Address, amount *big.Int) {
	t.Helper()
	if _, err := f.engine.Lend(lender, pool.Address, lender, amount, crypto.ZeroAddress, false); err != nil {
		t.Fatalf("lend: %v", err)
	}
}

// activePool creates a pool funded 600/400 by the two lenders and lets the
// borrower withdraw it.
func (f *fixture) activePool(t *testing.T) *Pool {
	t.Helper()
	pool := f.createPool(t, nil)
	f.lend(t, pool, f.lenderA, usdc(600))
	f.lend(t, pool, f.lenderB, usdc(400))
	f.now = int64(pool.LoanStartTime)
	if _, err := f.engine.WithdrawBorrowedAmount(f.borrower, pool.Address); err != nil {
		t.Fatalf("withdraw borrowed amount: %v", err)
	}
	return f.pool(t, pool.Address)
}

func (f *fixture) pool(t *testing.T, addr crypto.Address) *Pool {
	t.Helper()
	pool, err := f.engine.Pool(addr)
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	return pool
}

func (f *fixture) ledgerShares(t *testing.T, owner crypto.Address, asset string) *big.Int {
	t.Helper()
	bal, err := f.ledger.Balance(owner, asset, f.noop.Address())
	if err != nil {
		t.Fatalf("ledger balance: %v", err)
	}
	return bal
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("unexpected %s: got %v want %s", label, got, want)
	}
}
