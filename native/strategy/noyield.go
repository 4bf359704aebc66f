package strategy

import (
	"math/big"

	"poolchain/core/state"
	"poolchain/crypto"
)

// NoYieldAddress is the well-known address of the pass-through strategy.
var NoYieldAddress = crypto.DeriveAddress([]byte("strategy:no-yield"))

// NoYield holds raw assets. One share always equals one unit of the asset and
// the share token is the asset itself.
type NoYield struct {
	state engineState
}

// NewNoYield constructs the pass-through adapter.
func NewNoYield(st *state.Manager) *NoYield {
	return &NoYield{state: st}
}

func (n *NoYield) Address() crypto.Address { return NoYieldAddress }

func (n *NoYield) Name() string { return "no-yield" }

func (n *NoYield) Deposit(from crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if n == nil || n.state == nil {
		return nil, errNilState
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if err := n.state.Transfer(from, NoYieldAddress, asset, amount); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

func (n *NoYield) Withdraw(to crypto.Address, asset string, shares *big.Int) (*big.Int, error) {
	if n == nil || n.state == nil {
		return nil, errNilState
	}
	if !positive(shares) {
		return nil, ErrInvalidAmount
	}
	if err := n.state.Transfer(NoYieldAddress, to, asset, shares); err != nil {
		return nil, err
	}
	return new(big.Int).Set(shares), nil
}

func (n *NoYield) WithdrawShares(crypto.Address, string, *big.Int) error {
	return ErrSharesUnsupported
}

func (n *NoYield) SharesToTokens(_ string, shares *big.Int) (*big.Int, error) {
	if shares == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(shares), nil
}

func (n *NoYield) TokensToShares(_ string, amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

func (n *NoYield) TokensToSharesUp(asset string, amount *big.Int) (*big.Int, error) {
	return n.TokensToShares(asset, amount)
}

func (n *NoYield) TotalShares(asset string) (*big.Int, error) {
	if n == nil || n.state == nil {
		return nil, errNilState
	}
	return n.state.Balance(NoYieldAddress, asset)
}

func (n *NoYield) LiquidityToken(asset string) string { return state.NormalizeSymbol(asset) }
