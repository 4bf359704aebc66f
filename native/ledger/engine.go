// Package ledger implements the shared balance ledger. Balances are kept per
// (owner, asset, strategy) in strategy shares; every deposit is routed through
// a strategy adapter and every withdrawal converts shares back to the asset.
package ledger

import (
	"fmt"
	"log/slog"
	"math/big"

	"poolchain/core/state"
	"poolchain/core/types"
	"poolchain/crypto"
	"poolchain/native/common"
	"poolchain/native/strategy"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	TokenExists(symbol string) bool
	AppendEvent(evt *types.Event)
}

// StrategyRegistry is the allow-list consulted before an adapter is used.
type StrategyRegistry interface {
	IsRegistered(addr crypto.Address) bool
}

// Engine is the shared ledger. Pools and accounts interact with it through the
// same entry points; a pool only ever mutates the entries it owns.
type Engine struct {
	state    engineState
	registry StrategyRegistry
	adapters map[crypto.Address]strategy.Adapter
	pauses   common.PauseView
	logger   *slog.Logger
}

// NewEngine creates a ledger engine with no adapters attached.
func NewEngine() *Engine {
	return &Engine{
		adapters: make(map[crypto.Address]strategy.Adapter),
		logger:   slog.Default(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(st engineState) { e.state = st }

// SetRegistry configures the strategy allow-list.
func (e *Engine) SetRegistry(r StrategyRegistry) { e.registry = r }

// SetPauses wires the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetLogger overrides the engine logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	e.logger = l
}

// AttachAdapter makes an adapter resolvable by its address. Use still
// requires the address to be allow-listed in the registry.
func (e *Engine) AttachAdapter(a strategy.Adapter) {
	if a == nil {
		return
	}
	e.adapters[a.Address()] = a
}

// Adapter resolves an allow-listed strategy adapter.
func (e *Engine) Adapter(addr crypto.Address) (strategy.Adapter, error) {
	a, ok := e.adapters[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotAllowed, addr)
	}
	if e.registry != nil && !e.registry.IsRegistered(addr) {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotAllowed, addr)
	}
	return a, nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(e.pauses, moduleName)
}

func (e *Engine) checkAsset(asset string) (string, error) {
	normalized := state.NormalizeSymbol(asset)
	if normalized == "" || !e.state.TokenExists(normalized) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
	}
	return normalized, nil
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func entryKey(owner crypto.Address, asset string, strat crypto.Address) []byte {
	return []byte(fmt.Sprintf("ledger/entry/%x/%s/%x", owner[:], asset, strat[:]))
}

func ownersKey(asset string, strat crypto.Address) []byte {
	return []byte(fmt.Sprintf("ledger/owners/%s/%x", asset, strat[:]))
}

func strategiesKey(owner crypto.Address, asset string) []byte {
	return []byte(fmt.Sprintf("ledger/strategies/%x/%s", owner[:], asset))
}

func (e *Engine) shares(owner crypto.Address, asset string, strat crypto.Address) (*big.Int, error) {
	out := new(big.Int)
	ok, err := e.state.KVGet(entryKey(owner, asset, strat), out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return out, nil
}

func (e *Engine) setShares(owner crypto.Address, asset string, strat crypto.Address, v *big.Int) error {
	if err := e.state.KVPut(entryKey(owner, asset, strat), v); err != nil {
		return err
	}
	if err := e.state.KVAppend(ownersKey(asset, strat), owner.Bytes()); err != nil {
		return err
	}
	return e.state.KVAppend(strategiesKey(owner, asset), strat.Bytes())
}

func (e *Engine) credit(owner crypto.Address, asset string, strat crypto.Address, amount *big.Int) error {
	bal, err := e.shares(owner, asset, strat)
	if err != nil {
		return err
	}
	return e.setShares(owner, asset, strat, new(big.Int).Add(bal, amount))
}

func (e *Engine) debit(owner crypto.Address, asset string, strat crypto.Address, amount *big.Int) error {
	bal, err := e.shares(owner, asset, strat)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s shares of %s, needs %s", ErrInsufficientBalance, owner, bal, asset, amount)
	}
	return e.setShares(owner, asset, strat, new(big.Int).Sub(bal, amount))
}

// DepositTo pulls amount of asset from `from`, routes it through strat and
// credits receiver with the resulting shares.
func (e *Engine) DepositTo(from, receiver crypto.Address, asset string, strat crypto.Address, amount *big.Int) (*big.Int, error) {
	return e.deposit(from, receiver, asset, strat, amount, nil)
}

// DepositNativeTo deposits the native asset. attached is the value carried by
// the call and must match amount exactly.
func (e *Engine) DepositNativeTo(from, receiver crypto.Address, strat crypto.Address, amount, attached *big.Int) (*big.Int, error) {
	if attached == nil {
		attached = big.NewInt(0)
	}
	return e.deposit(from, receiver, state.NativeAsset, strat, amount, attached)
}

func (e *Engine) deposit(from, receiver crypto.Address, asset string, strat crypto.Address, amount, attached *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if receiver.IsZero() {
		return nil, ErrZeroReceiver
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	if asset == state.NativeAsset {
		if attached == nil || attached.Cmp(amount) != 0 {
			return nil, fmt.Errorf("%w: amount %s, attached %s", ErrNativeValueMismatch, amount, amountString(attached))
		}
	}
	adapter, err := e.Adapter(strat)
	if err != nil {
		return nil, err
	}
	shares, err := adapter.Deposit(from, asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.credit(receiver, asset, strat, shares); err != nil {
		return nil, err
	}
	e.state.AppendEvent(newDepositedEvent(from, receiver, asset, strat, amount, shares))
	return shares, nil
}

// Withdraw debits owner's entry and pays receiver. For token withdrawals
// amount is in asset units and the shares debited are rounded up; with
// asShares amount is in share units and the adapter's share token is
// transferred instead. The amount paid (asset or shares) is returned.
func (e *Engine) Withdraw(owner, receiver crypto.Address, amount *big.Int, asset string, strat crypto.Address, asShares bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.withdraw(owner, receiver, amount, asset, strat, asShares)
}

// WithdrawFrom lets spender withdraw from owner's entry against an allowance
// denominated in asset units.
func (e *Engine) WithdrawFrom(spender, owner, receiver crypto.Address, amount *big.Int, asset string, strat crypto.Address, asShares bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	spend := amount
	if asShares {
		adapter, err := e.Adapter(strat)
		if err != nil {
			return nil, err
		}
		if spend, err = adapter.SharesToTokens(asset, amount); err != nil {
			return nil, err
		}
	}
	if err := e.spendAllowance(owner, spender, asset, spend); err != nil {
		return nil, err
	}
	return e.withdraw(owner, receiver, amount, asset, strat, asShares)
}

func (e *Engine) withdraw(owner, receiver crypto.Address, amount *big.Int, asset string, strat crypto.Address, asShares bool) (*big.Int, error) {
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if receiver.IsZero() {
		return nil, ErrZeroReceiver
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	adapter, err := e.Adapter(strat)
	if err != nil {
		return nil, err
	}
	if asShares {
		if strategy.IsNoYield(adapter) {
			return nil, ErrSharesUnsupported
		}
		if err := e.debit(owner, asset, strat, amount); err != nil {
			return nil, err
		}
		if err := adapter.WithdrawShares(receiver, asset, amount); err != nil {
			return nil, err
		}
		e.state.AppendEvent(newWithdrawnEvent(owner, receiver, asset, strat, amount, amount, true))
		return new(big.Int).Set(amount), nil
	}
	shares, err := adapter.TokensToSharesUp(asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.debit(owner, asset, strat, shares); err != nil {
		return nil, err
	}
	paid, err := adapter.Withdraw(receiver, asset, shares)
	if err != nil {
		return nil, err
	}
	e.state.AppendEvent(newWithdrawnEvent(owner, receiver, asset, strat, shares, paid, false))
	return paid, nil
}

// WithdrawShares redeems an exact number of shares to receiver as asset. It
// is the share-denominated counterpart of Withdraw used to drain entries
// without rounding remainders.
func (e *Engine) WithdrawShares(owner, receiver crypto.Address, shares *big.Int, asset string, strat crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(shares) {
		return nil, ErrInvalidAmount
	}
	if receiver.IsZero() {
		return nil, ErrZeroReceiver
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	adapter, err := e.Adapter(strat)
	if err != nil {
		return nil, err
	}
	if err := e.debit(owner, asset, strat, shares); err != nil {
		return nil, err
	}
	paid, err := adapter.Withdraw(receiver, asset, shares)
	if err != nil {
		return nil, err
	}
	e.state.AppendEvent(newWithdrawnEvent(owner, receiver, asset, strat, shares, paid, false))
	return paid, nil
}

// WithdrawAll sweeps every strategy entry owner holds in asset and pays the
// proceeds to owner. The total paid is returned.
func (e *Engine) WithdrawAll(owner crypto.Address, asset string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	var strategies [][]byte
	if err := e.state.KVGetList(strategiesKey(owner, asset), &strategies); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, raw := range strategies {
		strat := crypto.BytesToAddress(raw)
		bal, err := e.shares(owner, asset, strat)
		if err != nil {
			return nil, err
		}
		if bal.Sign() == 0 {
			continue
		}
		paid, err := e.WithdrawShares(owner, owner, bal, asset, strat)
		if err != nil {
			return nil, err
		}
		total.Add(total, paid)
	}
	return total, nil
}

// SwitchStrategy moves amount (asset units) of owner's balance from one
// adapter to another. The shares credited in the destination are returned.
func (e *Engine) SwitchStrategy(owner, from, to crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if from == to {
		return nil, ErrSameStrategy
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	src, err := e.Adapter(from)
	if err != nil {
		return nil, err
	}
	dst, err := e.Adapter(to)
	if err != nil {
		return nil, err
	}
	sharesOut, err := src.TokensToSharesUp(asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.debit(owner, asset, from, sharesOut); err != nil {
		return nil, err
	}
	tokens, err := src.Withdraw(owner, asset, sharesOut)
	if err != nil {
		return nil, err
	}
	sharesIn, err := dst.Deposit(owner, asset, tokens)
	if err != nil {
		return nil, err
	}
	if err := e.credit(owner, asset, to, sharesIn); err != nil {
		return nil, err
	}
	e.state.AppendEvent(newStrategySwitchedEvent(owner, asset, from, to, sharesOut, sharesIn))
	return sharesIn, nil
}

// Transfer moves amount (asset units, converted to shares rounding up) of
// owner's entry to `to` within the same strategy.
func (e *Engine) Transfer(owner, to crypto.Address, asset string, strat crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.transferTokens(owner, to, asset, strat, amount)
}

// TransferFrom is Transfer on behalf of owner, spending spender's allowance.
func (e *Engine) TransferFrom(spender, owner, to crypto.Address, asset string, strat crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	if err := e.spendAllowance(owner, spender, asset, amount); err != nil {
		return nil, err
	}
	return e.transferTokens(owner, to, asset, strat, amount)
}

func (e *Engine) transferTokens(owner, to crypto.Address, asset string, strat crypto.Address, amount *big.Int) (*big.Int, error) {
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	adapter, err := e.Adapter(strat)
	if err != nil {
		return nil, err
	}
	shares, err := adapter.TokensToSharesUp(asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.transferShares(owner, to, asset, strat, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// TransferShares moves an exact share amount between entries.
func (e *Engine) TransferShares(owner, to crypto.Address, asset string, strat crypto.Address, shares *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !positive(shares) {
		return ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return err
	}
	if _, err := e.Adapter(strat); err != nil {
		return err
	}
	return e.transferShares(owner, to, asset, strat, shares)
}

// TransferSharesFrom moves shares on behalf of owner; the allowance is spent
// in the asset value of the shares.
func (e *Engine) TransferSharesFrom(spender, owner, to crypto.Address, asset string, strat crypto.Address, shares *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !positive(shares) {
		return ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return err
	}
	adapter, err := e.Adapter(strat)
	if err != nil {
		return err
	}
	value, err := adapter.SharesToTokens(asset, shares)
	if err != nil {
		return err
	}
	if err := e.spendAllowance(owner, spender, asset, value); err != nil {
		return err
	}
	return e.transferShares(owner, to, asset, strat, shares)
}

func (e *Engine) transferShares(owner, to crypto.Address, asset string, strat crypto.Address, shares *big.Int) error {
	if to.IsZero() {
		return ErrZeroReceiver
	}
	if owner == to {
		return ErrSelfTransfer
	}
	if err := e.debit(owner, asset, strat, shares); err != nil {
		return err
	}
	if err := e.credit(to, asset, strat, shares); err != nil {
		return err
	}
	e.state.AppendEvent(newTransferredEvent(owner, to, asset, strat, shares))
	return nil
}

// Balance returns owner's share balance for (asset, strat).
func (e *Engine) Balance(owner crypto.Address, asset string, strat crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.shares(owner, state.NormalizeSymbol(asset), strat)
}

// BalanceInTokens returns owner's entry for (asset, strat) valued in asset
// units at the adapter's current exchange rate.
func (e *Engine) BalanceInTokens(owner crypto.Address, asset string, strat crypto.Address) (*big.Int, error) {
	shares, err := e.Balance(owner, asset, strat)
	if err != nil {
		return nil, err
	}
	adapter, ok := e.adapters[strat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotAllowed, strat)
	}
	return adapter.SharesToTokens(state.NormalizeSymbol(asset), shares)
}

// TotalBalanceInTokens values every strategy entry owner holds in asset.
func (e *Engine) TotalBalanceInTokens(owner crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset = state.NormalizeSymbol(asset)
	var strategies [][]byte
	if err := e.state.KVGetList(strategiesKey(owner, asset), &strategies); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, raw := range strategies {
		v, err := e.BalanceInTokens(owner, asset, crypto.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// CheckInvariant verifies that the entries recorded for (asset, strat) never
// exceed the adapter's total shares.
func (e *Engine) CheckInvariant(asset string, strat crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	asset = state.NormalizeSymbol(asset)
	adapter, ok := e.adapters[strat]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotAllowed, strat)
	}
	var owners [][]byte
	if err := e.state.KVGetList(ownersKey(asset, strat), &owners); err != nil {
		return err
	}
	sum := big.NewInt(0)
	for _, raw := range owners {
		bal, err := e.shares(crypto.BytesToAddress(raw), asset, strat)
		if err != nil {
			return err
		}
		sum.Add(sum, bal)
	}
	total, err := adapter.TotalShares(asset)
	if err != nil {
		return err
	}
	if sum.Cmp(total) > 0 {
		e.logger.Error("ledger invariant violated",
			slog.String("asset", asset),
			slog.String("strategy", strat.String()),
			slog.String("entries", sum.String()),
			slog.String("adapter", total.String()))
		return fmt.Errorf("%w: entries %s > adapter %s", ErrInvariantViolated, sum, total)
	}
	return nil
}
