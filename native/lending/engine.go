// Package lending implements pooled, collateralised loans. A borrower opens a
// pool with collateral held in the shared ledger, lenders supply the borrow
// asset against a per-pool claim token, and the pool drives repayment,
// margin calls, deadline extensions and liquidation until it reaches a
// terminal state.
package lending

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"poolchain/core/state"
	"poolchain/core/types"
	"poolchain/crypto"
	"poolchain/native/common"
	"poolchain/native/fixedpoint"
	"poolchain/native/strategy"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	Transfer(from, to crypto.Address, symbol string, amount *big.Int) error
	Token(symbol string) (*state.TokenMetadata, error)
	AppendEvent(evt *types.Event)
}

// Ledger is the slice of the shared ledger used for collateral custody and
// for pulling lender funds out of their ledger entries.
type Ledger interface {
	Adapter(addr crypto.Address) (strategy.Adapter, error)
	DepositTo(from, receiver crypto.Address, asset string, strat crypto.Address, amount *big.Int) (*big.Int, error)
	DepositNativeTo(from, receiver crypto.Address, strat crypto.Address, amount, attached *big.Int) (*big.Int, error)
	Withdraw(owner, receiver crypto.Address, amount *big.Int, asset string, strat crypto.Address, asShares bool) (*big.Int, error)
	WithdrawFrom(spender, owner, receiver crypto.Address, amount *big.Int, asset string, strat crypto.Address, asShares bool) (*big.Int, error)
	WithdrawShares(owner, receiver crypto.Address, shares *big.Int, asset string, strat crypto.Address) (*big.Int, error)
	TransferFrom(spender, owner, to crypto.Address, asset string, strat crypto.Address, amount *big.Int) (*big.Int, error)
	TransferShares(owner, to crypto.Address, asset string, strat crypto.Address, shares *big.Int) error
}

// PriceFeed quotes whole-token base/quote rates scaled by 10^decimals.
type PriceFeed interface {
	LatestPrice(base, quote string) (*big.Int, uint8, error)
	FeedExists(base, quote string) bool
}

// IdentityVerifier gates who may open a pool.
type IdentityVerifier interface {
	IsUser(addr crypto.Address) bool
}

// StrategyRegistry is the allow-list of collateral strategies.
type StrategyRegistry interface {
	IsRegistered(addr crypto.Address) bool
}

// Engine orchestrates pool state transitions. Every exported mutation either
// completes or returns an error; the caller is expected to discard buffered
// state on error.
type Engine struct {
	state    engineState
	ledger   Ledger
	feed     PriceFeed
	identity IdentityVerifier
	registry StrategyRegistry
	params   Params
	pauses   common.PauseView
	logger   *slog.Logger
	nowFn    func() int64
}

// NewEngine constructs a lending engine using DefaultParams.
func NewEngine() *Engine {
	return &Engine{
		params: DefaultParams(),
		logger: slog.Default(),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(st engineState) { e.state = st }

// SetLedger wires the shared ledger.
func (e *Engine) SetLedger(l Ledger) { e.ledger = l }

// SetPriceFeed wires the price feed collaborator.
func (e *Engine) SetPriceFeed(f PriceFeed) { e.feed = f }

// SetIdentity wires the identity allow-list. A nil verifier admits everyone.
func (e *Engine) SetIdentity(v IdentityVerifier) { e.identity = v }

// SetRegistry wires the strategy allow-list.
func (e *Engine) SetRegistry(r StrategyRegistry) { e.registry = r }

func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetParams replaces the parameters applied to pools created afterwards.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// Params returns the active protocol parameters.
func (e *Engine) Params() Params { return e.params }

// SetLogger overrides the engine logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	e.logger = l
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.feed == nil {
		return errNilPriceFeed
	}
	return common.Guard(e.pauses, moduleName)
}

func (e *Engine) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	e.state.AppendEvent(evt)
}

// --- storage ---------------------------------------------------------------

var poolIndexKey = []byte("lending/pools")

func poolKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/pool/%x", addr[:]))
}

func lenderKey(pool, lender crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/lender/%x/%x", pool[:], lender[:]))
}

func lenderIndexKey(pool crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/lenders/%x", pool[:]))
}

func repaymentKey(pool crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/repayment/%x", pool[:]))
}

func (e *Engine) loadPool(addr crypto.Address) (*Pool, error) {
	pool := new(Pool)
	ok, err := e.state.KVGet(poolKey(addr), pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
	}
	pool.ensure()
	return pool, nil
}

func (e *Engine) storePool(pool *Pool) error {
	return e.state.KVPut(poolKey(pool.Address), pool)
}

func (e *Engine) loadLender(pool, addr crypto.Address) (*Lender, error) {
	lender := new(Lender)
	if _, err := e.state.KVGet(lenderKey(pool, addr), lender); err != nil {
		return nil, err
	}
	lender.ensure()
	return lender, nil
}

func (e *Engine) storeLender(pool, addr crypto.Address, lender *Lender) error {
	if err := e.state.KVPut(lenderKey(pool, addr), lender); err != nil {
		return err
	}
	return e.state.KVAppend(lenderIndexKey(pool), addr.Bytes())
}

func (e *Engine) loadRepayment(pool crypto.Address) (*Repayment, error) {
	rep := new(Repayment)
	if _, err := e.state.KVGet(repaymentKey(pool), rep); err != nil {
		return nil, err
	}
	rep.ensure()
	return rep, nil
}

func (e *Engine) storeRepayment(pool crypto.Address, rep *Repayment) error {
	return e.state.KVPut(repaymentKey(pool), rep)
}

// Pool returns a copy of the stored pool.
func (e *Engine) Pool(addr crypto.Address) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadPool(addr)
}

// Pools lists every pool address in creation order.
func (e *Engine) Pools() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(poolIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, r := range raw {
		out = append(out, crypto.BytesToAddress(r))
	}
	return out, nil
}

// Lender returns the position of addr in pool, decoded afresh from state.
func (e *Engine) Lender(pool, addr crypto.Address) (*Lender, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPool(pool); err != nil {
		return nil, err
	}
	return e.loadLender(pool, addr)
}

// Lenders lists every address that ever held claim tokens of pool.
func (e *Engine) Lenders(pool crypto.Address) ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(lenderIndexKey(pool), &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, r := range raw {
		out = append(out, crypto.BytesToAddress(r))
	}
	return out, nil
}

// Repayment returns the repayment record of an active or finished loan,
// decoded afresh from state.
func (e *Engine) Repayment(pool crypto.Address) (*Repayment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPool(pool); err != nil {
		return nil, err
	}
	return e.loadRepayment(pool)
}

// --- status helpers ----------------------------------------------------------

// requireStatus fails unless the pool is in want, mapping terminal states to
// the matching double-action error.
func requireStatus(pool *Pool, want LoanStatus) error {
	if pool.Status == want {
		return nil
	}
	switch pool.Status {
	case LoanStatusCancelled:
		return fmt.Errorf("%w: %s", ErrAlreadyCancelled, pool.Address)
	case LoanStatusDefaulted:
		return fmt.Errorf("%w: %s", ErrAlreadyLiquidated, pool.Address)
	case LoanStatusClosed:
		return fmt.Errorf("%w: %s is closed", ErrAlreadyTerminated, pool.Address)
	}
	return fmt.Errorf("%w: pool is %s, need %s", ErrWrongStatus, pool.Status, want)
}

func (e *Engine) requireBorrower(pool *Pool, caller crypto.Address) error {
	if caller != pool.Borrower {
		return fmt.Errorf("%w: %s", ErrNotBorrower, caller)
	}
	return nil
}

// --- valuation -------------------------------------------------------------

func (e *Engine) adapter(pool *Pool) (strategy.Adapter, error) {
	a, err := e.ledger.Adapter(pool.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStrategyNotAllowed, err)
	}
	return a, nil
}

func (e *Engine) decimals(asset string) (uint8, error) {
	meta, err := e.state.Token(asset)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownAsset, err)
	}
	return meta.Decimals, nil
}

// collateralTokens converts pool-owned collateral shares to collateral asset
// units at the adapter's current rate.
func (e *Engine) collateralTokens(pool *Pool, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	a, err := e.adapter(pool)
	if err != nil {
		return nil, err
	}
	return a.SharesToTokens(pool.CollateralAsset, shares)
}

// borrowValue prices an amount of collateral asset in borrow asset units.
func (e *Engine) borrowValue(pool *Pool, collateral *big.Int) (*big.Int, error) {
	if collateral == nil || collateral.Sign() == 0 {
		return big.NewInt(0), nil
	}
	rate, priceDecimals, err := e.feed.LatestPrice(pool.CollateralAsset, pool.BorrowAsset)
	if err != nil {
		return nil, err
	}
	collDecimals, err := e.decimals(pool.CollateralAsset)
	if err != nil {
		return nil, err
	}
	borrowDecimals, err := e.decimals(pool.BorrowAsset)
	if err != nil {
		return nil, err
	}
	numerator := new(big.Int).Mul(rate, fixedpoint.Pow10(borrowDecimals))
	denominator := new(big.Int).Mul(fixedpoint.Pow10(priceDecimals), fixedpoint.Pow10(collDecimals))
	return fixedpoint.MulDiv(collateral, numerator, denominator)
}

// sharesValue prices collateral shares in borrow asset units.
func (e *Engine) sharesValue(pool *Pool, shares *big.Int) (*big.Int, error) {
	tokens, err := e.collateralTokens(pool, shares)
	if err != nil {
		return nil, err
	}
	return e.borrowValue(pool, tokens)
}

func ratio(value, debt *big.Int) (*big.Int, error) {
	if debt == nil || debt.Sign() == 0 {
		return nil, nil
	}
	return fixedpoint.Div(value, debt)
}

// afterReward deducts the liquidator reward from a borrow asset value.
func afterReward(pool *Pool, value *big.Int) (*big.Int, error) {
	reward, err := fixedpoint.Mul(value, pool.Terms.LiquidatorRewardFraction)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(value, reward), nil
}

// --- asset movement --------------------------------------------------------

// pullCollateral moves amount of collateral from the borrower into the pool's
// ledger entry and returns the credited shares.
func (e *Engine) pullCollateral(pool *Pool, from crypto.Address, amount *big.Int, fromLedger bool) (*big.Int, error) {
	if fromLedger {
		return e.ledger.TransferFrom(pool.Address, from, pool.Address, pool.CollateralAsset, pool.Strategy, amount)
	}
	if pool.CollateralAsset == state.NativeAsset {
		return e.ledger.DepositNativeTo(from, pool.Address, pool.Strategy, amount, amount)
	}
	return e.ledger.DepositTo(from, pool.Address, pool.CollateralAsset, pool.Strategy, amount)
}

// pullBorrowAsset moves amount of the borrow asset from a payer to the pool.
// With fromLedger the funds are withdrawn from the payer's ledger entry in
// strat, which requires an allowance for the pool.
func (e *Engine) pullBorrowAsset(pool *Pool, from crypto.Address, amount *big.Int, strat crypto.Address, fromLedger bool) error {
	if fromLedger {
		_, err := e.ledger.WithdrawFrom(pool.Address, from, pool.Address, amount, pool.BorrowAsset, strat, false)
		return err
	}
	return e.state.Transfer(from, pool.Address, pool.BorrowAsset, amount)
}

// releaseCollateral hands pool-owned collateral shares to a recipient: as a
// ledger entry, as the adapter's share token, or as the collateral asset.
func (e *Engine) releaseCollateral(pool *Pool, to crypto.Address, shares *big.Int, toLedger, receiveShares bool) error {
	if shares == nil || shares.Sign() == 0 {
		return nil
	}
	if receiveShares {
		a, err := e.adapter(pool)
		if err != nil {
			return err
		}
		if strategy.IsNoYield(a) {
			return ErrSharesToNoYield
		}
		_, err = e.ledger.Withdraw(pool.Address, to, shares, pool.CollateralAsset, pool.Strategy, true)
		return err
	}
	if toLedger {
		return e.ledger.TransferShares(pool.Address, to, pool.CollateralAsset, pool.Strategy, shares)
	}
	_, err := e.ledger.WithdrawShares(pool.Address, to, shares, pool.CollateralAsset, pool.Strategy)
	return err
}
