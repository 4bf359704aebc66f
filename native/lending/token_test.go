package lending

import (
	"math/big"
	"testing"

	"poolchain/crypto"
)

func TestClaimTokenTransferRules(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool(t, nil)
	f.lend(t, pool, f.lenderA, usdc(300))

	cases := []struct {
		name   string
		from   crypto.Address
		to     crypto.Address
		amount *big.Int
		want   error
	}{
		{"zero amount", f.lenderA, f.lenderB, big.NewInt(0), ErrInvalidAmount},
		{"zero recipient", f.lenderA, crypto.ZeroAddress, usdc(1), ErrZeroAddress},
		{"self", f.lenderA, f.lenderA, usdc(1), ErrSelfTransfer},
		{"to borrower", f.lenderA, f.borrower, usdc(1), ErrBorrowerCannotLend},
		{"insufficient", f.lenderA, f.lenderB, usdc(301), ErrInsufficientBalance},
		{"no balance", f.outsider, f.lenderB, usdc(1), ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.engine.Transfer(tc.from, pool.Address, tc.to, tc.amount)
			expectErr(t, err, tc.want)
		})
	}

	if err := f.engine.Transfer(f.lenderA, pool.Address, f.lenderB, usdc(100)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := f.engine.BalanceOf(pool.Address, f.lenderA)
	b, _ := f.engine.BalanceOf(pool.Address, f.lenderB)
	expectAmount(t, "sender", a, usdc(200))
	expectAmount(t, "recipient", b, usdc(100))
	supply, err := f.engine.TotalSupply(pool.Address)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	expectAmount(t, "supply", supply, usdc(300))
	lenders, err := f.engine.Lenders(pool.Address)
	if err != nil {
		t.Fatalf("lenders: %v", err)
	}
	if len(lenders) != 2 {
		t.Fatalf("expected recipient indexed as lender, got %d", len(lenders))
	}
}

func TestClaimTokensPausedAfterCancel(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool(t, nil)
	f.lend(t, pool, f.lenderA, usdc(300))
	if _, err := f.engine.CancelPool(f.borrower, pool.Address); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	err := f.engine.Transfer(f.lenderA, pool.Address, f.lenderB, usdc(1))
	expectErr(t, err, ErrTokenPaused)
}

func TestClaimTokenTransferFrom(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool(t, nil)
	f.lend(t, pool, f.lenderA, usdc(300))

	err := f.engine.TransferFrom(f.outsider, pool.Address, f.lenderA, f.lenderB, usdc(50))
	expectErr(t, err, ErrInsufficientAllowance)

	if err := f.engine.Approve(f.lenderA, pool.Address, f.outsider, usdc(80)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err = f.engine.TransferFrom(f.outsider, pool.Address, f.lenderA, f.borrower, usdc(50))
	expectErr(t, err, ErrBorrowerCannotLend)
	allowance, err := f.engine.Allowance(pool.Address, f.lenderA, f.outsider)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	expectAmount(t, "allowance after failed transfer", allowance, usdc(80))

	if err := f.engine.TransferFrom(f.outsider, pool.Address, f.lenderA, f.lenderB, usdc(50)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, _ = f.engine.Allowance(pool.Address, f.lenderA, f.outsider)
	expectAmount(t, "allowance", allowance, usdc(30))
	err = f.engine.TransferFrom(f.outsider, pool.Address, f.lenderA, f.lenderB, usdc(31))
	expectErr(t, err, ErrInsufficientAllowance)

	err = f.engine.Approve(f.lenderA, pool.Address, crypto.ZeroAddress, usdc(1))
	expectErr(t, err, ErrZeroAddress)
}

func TestTransferSettlesInterestFirst(t *testing.T) {
	f := newFixture(t)
	pool := f.activePool(t)
	f.repay(t, pool, usdc(10))

	// Lender A keeps the interest earned before the transfer; the recipient
	// only earns on later repayments.
	if err := f.engine.Transfer(f.lenderA, pool.Address, f.outsider, usdc(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	f.repay(t, pool, usdc(10))

	a, err := f.engine.WithdrawRepayment(f.lenderA, pool.Address)
	if err != nil {
		t.Fatalf("withdraw a: %v", err)
	}
	expectAmount(t, "lender a interest", a, usdc(9))
	o, err := f.engine.WithdrawRepayment(f.outsider, pool.Address)
	if err != nil {
		t.Fatalf("withdraw outsider: %v", err)
	}
	expectAmount(t, "recipient interest", o, usdc(3))
	b, err := f.engine.WithdrawRepayment(f.lenderB, pool.Address)
	if err != nil {
		t.Fatalf("withdraw b: %v", err)
	}
	expectAmount(t, "lender b interest", b, usdc(8))
}
