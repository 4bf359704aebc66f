package strategy

import (
	"fmt"
	"math/big"

	"poolchain/core/state"
	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

// Reserve captures the per-asset accounting of a vault.
type Reserve struct {
	TotalShares     *big.Int
	TotalUnderlying *big.Int
}

// Vault is a compounding yield source. Deposits mint shares at the current
// exchange rate (underlying / shares); Harvest adds underlying without minting
// shares, so every outstanding share appreciates.
type Vault struct {
	state   engineState
	address crypto.Address
	name    string
}

// NewVault constructs a vault adapter whose identity is derived from name.
func NewVault(st *state.Manager, name string) *Vault {
	return &Vault{
		state:   st,
		address: crypto.DeriveAddress([]byte("strategy:vault:"), []byte(name)),
		name:    name,
	}
}

func (v *Vault) Address() crypto.Address { return v.address }

func (v *Vault) Name() string { return v.name }

// LiquidityToken returns the share token symbol, e.g. "YV-USDC".
func (v *Vault) LiquidityToken(asset string) string {
	return state.NormalizeSymbol(v.name + "-" + asset)
}

func (v *Vault) reserveKey(asset string) []byte {
	return []byte(fmt.Sprintf("strategy/vault/%x/%s", v.address[:], state.NormalizeSymbol(asset)))
}

// Reserve returns the accounting record for asset.
func (v *Vault) Reserve(asset string) (*Reserve, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	r := new(Reserve)
	ok, err := v.state.KVGet(v.reserveKey(asset), r)
	if err != nil {
		return nil, err
	}
	if !ok {
		r = &Reserve{}
	}
	if r.TotalShares == nil {
		r.TotalShares = big.NewInt(0)
	}
	if r.TotalUnderlying == nil {
		r.TotalUnderlying = big.NewInt(0)
	}
	return r, nil
}

func (v *Vault) putReserve(asset string, r *Reserve) error {
	return v.state.KVPut(v.reserveKey(asset), r)
}

func (v *Vault) ensureShareToken(asset string) error {
	symbol := v.LiquidityToken(asset)
	if v.state.TokenExists(symbol) {
		return nil
	}
	meta, err := v.state.Token(asset)
	if err != nil {
		return err
	}
	return v.state.RegisterToken(symbol, v.name+" "+meta.Symbol+" share", meta.Decimals)
}

func (v *Vault) Deposit(from crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if err := v.ensureShareToken(asset); err != nil {
		return nil, err
	}
	r, err := v.Reserve(asset)
	if err != nil {
		return nil, err
	}
	shares, err := sharesFor(r, amount, false)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit of %s mints no shares", ErrInvalidAmount, amount)
	}
	if err := v.state.Transfer(from, v.address, asset, amount); err != nil {
		return nil, err
	}
	if err := v.state.Mint(v.address, v.LiquidityToken(asset), shares); err != nil {
		return nil, err
	}
	r.TotalShares = new(big.Int).Add(r.TotalShares, shares)
	r.TotalUnderlying = new(big.Int).Add(r.TotalUnderlying, amount)
	if err := v.putReserve(asset, r); err != nil {
		return nil, err
	}
	return shares, nil
}

func (v *Vault) Withdraw(to crypto.Address, asset string, shares *big.Int) (*big.Int, error) {
	return v.redeem(v.address, to, asset, shares)
}

// Redeem burns share tokens held outside the ledger (for example after a
// share withdrawal) and pays the underlying to the holder.
func (v *Vault) Redeem(holder crypto.Address, asset string, shares *big.Int) (*big.Int, error) {
	return v.redeem(holder, holder, asset, shares)
}

func (v *Vault) redeem(holder, to crypto.Address, asset string, shares *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if !positive(shares) {
		return nil, ErrInvalidAmount
	}
	r, err := v.Reserve(asset)
	if err != nil {
		return nil, err
	}
	if r.TotalShares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	amount, err := tokensFor(r, shares)
	if err != nil {
		return nil, err
	}
	if err := v.state.Burn(holder, v.LiquidityToken(asset), shares); err != nil {
		return nil, err
	}
	r.TotalShares = new(big.Int).Sub(r.TotalShares, shares)
	r.TotalUnderlying = new(big.Int).Sub(r.TotalUnderlying, amount)
	if err := v.putReserve(asset, r); err != nil {
		return nil, err
	}
	if err := v.state.Transfer(v.address, to, asset, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (v *Vault) WithdrawShares(to crypto.Address, asset string, shares *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if !positive(shares) {
		return ErrInvalidAmount
	}
	return v.state.Transfer(v.address, to, v.LiquidityToken(asset), shares)
}

// Harvest credits amount of yield from `from` to the reserve. Existing shares
// appreciate; no shares are minted.
func (v *Vault) Harvest(from crypto.Address, asset string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if !positive(amount) {
		return ErrInvalidAmount
	}
	r, err := v.Reserve(asset)
	if err != nil {
		return err
	}
	if r.TotalShares.Sign() == 0 {
		return ErrEmptyReserve
	}
	if err := v.state.Transfer(from, v.address, asset, amount); err != nil {
		return err
	}
	r.TotalUnderlying = new(big.Int).Add(r.TotalUnderlying, amount)
	return v.putReserve(asset, r)
}

func (v *Vault) SharesToTokens(asset string, shares *big.Int) (*big.Int, error) {
	r, err := v.Reserve(asset)
	if err != nil {
		return nil, err
	}
	return tokensFor(r, shares)
}

func (v *Vault) TokensToShares(asset string, amount *big.Int) (*big.Int, error) {
	r, err := v.Reserve(asset)
	if err != nil {
		return nil, err
	}
	return sharesFor(r, amount, false)
}

func (v *Vault) TokensToSharesUp(asset string, amount *big.Int) (*big.Int, error) {
	r, err := v.Reserve(asset)
	if err != nil {
		return nil, err
	}
	return sharesFor(r, amount, true)
}

func (v *Vault) TotalShares(asset string) (*big.Int, error) {
	r, err := v.Reserve(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(r.TotalShares), nil
}

func sharesFor(r *Reserve, amount *big.Int, roundUp bool) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if r.TotalShares.Sign() == 0 || r.TotalUnderlying.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	if roundUp {
		return fixedpoint.MulDivUp(amount, r.TotalShares, r.TotalUnderlying)
	}
	return fixedpoint.MulDiv(amount, r.TotalShares, r.TotalUnderlying)
}

func tokensFor(r *Reserve, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() == 0 || r.TotalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return fixedpoint.MulDiv(shares, r.TotalUnderlying, r.TotalShares)
}
