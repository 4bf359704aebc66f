package lending

import (
	"fmt"
	"math/big"

	"poolchain/core/state"
	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// PoolAddress derives the deterministic pool address for a borrower and
// pool key. The same inputs always map to the same address so duplicate
// pools can be detected before any state is written.
func PoolAddress(borrower crypto.Address, borrowAsset, collateralAsset string, strat crypto.Address, salt []byte) crypto.Address {
	return crypto.DeriveAddress(
		[]byte("lending:pool"),
		borrower.Bytes(),
		[]byte(state.NormalizeSymbol(borrowAsset)),
		[]byte(state.NormalizeSymbol(collateralAsset)),
		strat.Bytes(),
		salt,
	)
}

func (e *Engine) validateRequest(req *CreatePoolRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidParams)
	}
	if req.Borrower.IsZero() {
		return ErrZeroAddress
	}
	if e.identity != nil && !e.identity.IsUser(req.Borrower) {
		return fmt.Errorf("%w: %s", ErrNotVerified, req.Borrower)
	}
	if e.registry != nil && !e.registry.IsRegistered(req.Strategy) {
		return fmt.Errorf("%w: %s", ErrStrategyNotAllowed, req.Strategy)
	}
	if req.BorrowAsset == req.CollateralAsset {
		return fmt.Errorf("%w: %s", ErrSameAsset, req.BorrowAsset)
	}
	for _, asset := range []string{req.BorrowAsset, req.CollateralAsset} {
		if _, err := e.decimals(asset); err != nil {
			return err
		}
	}
	if !e.feed.FeedExists(req.CollateralAsset, req.BorrowAsset) {
		return fmt.Errorf("%w: %s/%s", ErrNoPriceFeed, req.CollateralAsset, req.BorrowAsset)
	}
	p := e.params
	checks := []struct {
		name   string
		v      *big.Int
		limits Limits
	}{
		{"pool size", req.PoolSize, p.PoolSizeLimit},
		{"collateral ratio", req.IdealCollateralRatio, p.CollateralRatioLimit},
		{"borrow rate", req.BorrowRate, p.BorrowRateLimit},
		{"repayment interval", new(big.Int).SetUint64(req.RepaymentInterval), p.RepaymentIntervalLimit},
		{"repayment interval count", new(big.Int).SetUint64(req.NoOfRepaymentIntervals), p.NoOfRepaymentIntervalsLimit},
	}
	for _, c := range checks {
		if !c.limits.Contains(c.v) {
			return fmt.Errorf("%w: %s %v", ErrInvalidParams, c.name, c.v)
		}
	}
	if req.PoolSize.Sign() <= 0 {
		return fmt.Errorf("%w: pool size must be positive", ErrInvalidParams)
	}
	if req.RepaymentInterval == 0 || req.NoOfRepaymentIntervals == 0 {
		return fmt.Errorf("%w: repayment schedule must be non-empty", ErrInvalidParams)
	}
	floor, err := fixedpoint.Mul(req.PoolSize, p.MinBorrowFraction)
	if err != nil {
		return err
	}
	if req.MinBorrowAmount == nil || req.MinBorrowAmount.Cmp(floor) < 0 || req.MinBorrowAmount.Cmp(req.PoolSize) > 0 {
		return fmt.Errorf("%w: minimum borrow amount must lie within [%s, %s]", ErrInvalidParams, floor, req.PoolSize)
	}
	if req.CollateralAmount == nil || req.CollateralAmount.Sign() <= 0 {
		return fmt.Errorf("%w: collateral", ErrInvalidAmount)
	}
	return nil
}

// CreatePool opens a loan request for the borrower, deposits the initial
// collateral into the pool's ledger entry and starts the collection period.
func (e *Engine) CreatePool(req *CreatePoolRequest) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req != nil {
		req.BorrowAsset = state.NormalizeSymbol(req.BorrowAsset)
		req.CollateralAsset = state.NormalizeSymbol(req.CollateralAsset)
	}
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}
	addr := PoolAddress(req.Borrower, req.BorrowAsset, req.CollateralAsset, req.Strategy, req.Salt)
	exists, err := e.state.KVGet(poolKey(addr), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, addr)
	}
	now := e.now()
	start := now + e.params.CollectionPeriod
	pool := &Pool{
		Address:                addr,
		Borrower:               req.Borrower,
		Salt:                   append([]byte(nil), req.Salt...),
		BorrowAsset:            req.BorrowAsset,
		CollateralAsset:        req.CollateralAsset,
		Strategy:               req.Strategy,
		PoolSize:               cloneBig(req.PoolSize),
		MinBorrowAmount:        cloneBig(req.MinBorrowAmount),
		IdealCollateralRatio:   cloneBig(req.IdealCollateralRatio),
		BorrowRate:             cloneBig(req.BorrowRate),
		RepaymentInterval:      req.RepaymentInterval,
		NoOfRepaymentIntervals: req.NoOfRepaymentIntervals,
		LoanStartTime:          start,
		LoanWithdrawalDeadline: start + e.params.LoanWithdrawalDuration,
		CreatedAt:              now,
		Terms:                  e.params.terms(),
		Status:                 LoanStatusCollecting,
	}
	pool.ensure()
	shares, err := e.pullCollateral(pool, req.Borrower, req.CollateralAmount, req.FromLedger)
	if err != nil {
		return nil, err
	}
	pool.BaseLiquidityShares = shares
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(poolIndexKey, addr.Bytes()); err != nil {
		return nil, err
	}
	e.emit(newPoolCreatedEvent(pool))
	e.logger.Info("lending pool created",
		"pool", addr.String(),
		"borrower", req.Borrower.String(),
		"borrowAsset", pool.BorrowAsset,
		"collateralAsset", pool.CollateralAsset,
		"poolSize", pool.PoolSize.String())
	return pool.Clone(), nil
}
