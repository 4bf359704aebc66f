package ledger

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
)

func allowanceKey(owner, spender crypto.Address, asset string) []byte {
	return []byte(fmt.Sprintf("ledger/allowance/%x/%x/%s", owner[:], spender[:], asset))
}

// Allowance returns how much of asset spender may pull from owner's entries.
func (e *Engine) Allowance(owner, spender crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return nil, err
	}
	return e.allowance(owner, spender, asset)
}

func (e *Engine) allowance(owner, spender crypto.Address, asset string) (*big.Int, error) {
	out := new(big.Int)
	ok, err := e.state.KVGet(allowanceKey(owner, spender, asset), out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return out, nil
}

func (e *Engine) setAllowance(owner, spender crypto.Address, asset string, amount *big.Int) error {
	if err := e.state.KVPut(allowanceKey(owner, spender, asset), amount); err != nil {
		return err
	}
	e.state.AppendEvent(newApprovedEvent(owner, spender, asset, amount))
	return nil
}

// Approve sets spender's allowance over owner's asset balance.
func (e *Engine) Approve(owner, spender crypto.Address, asset string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if spender.IsZero() {
		return ErrZeroReceiver
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return err
	}
	return e.setAllowance(owner, spender, asset, new(big.Int).Set(amount))
}

// IncreaseAllowance adds delta to spender's allowance.
func (e *Engine) IncreaseAllowance(owner, spender crypto.Address, asset string, delta *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if spender.IsZero() {
		return ErrZeroReceiver
	}
	if !positive(delta) {
		return ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return err
	}
	current, err := e.allowance(owner, spender, asset)
	if err != nil {
		return err
	}
	return e.setAllowance(owner, spender, asset, current.Add(current, delta))
}

// DecreaseAllowance subtracts delta from spender's allowance. Decreasing
// below zero fails.
func (e *Engine) DecreaseAllowance(owner, spender crypto.Address, asset string, delta *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !positive(delta) {
		return ErrInvalidAmount
	}
	asset, err := e.checkAsset(asset)
	if err != nil {
		return err
	}
	current, err := e.allowance(owner, spender, asset)
	if err != nil {
		return err
	}
	if current.Cmp(delta) < 0 {
		return fmt.Errorf("%w: allowance %s below decrease %s", ErrInsufficientAllow, current, delta)
	}
	return e.setAllowance(owner, spender, asset, current.Sub(current, delta))
}

func (e *Engine) spendAllowance(owner, spender crypto.Address, asset string, amount *big.Int) error {
	if owner == spender {
		return nil
	}
	current, err := e.allowance(owner, spender, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s may spend %s %s of %s, needs %s", ErrInsufficientAllow, spender, current, asset, owner, amount)
	}
	return e.state.KVPut(allowanceKey(owner, spender, asset), current.Sub(current, amount))
}
