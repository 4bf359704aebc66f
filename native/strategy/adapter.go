// Package strategy defines the yield-strategy adapters that the shared ledger
// routes deposits through. An adapter converts between an asset amount and an
// adapter-specific share amount; shares appreciate as the yield source
// compounds.
package strategy

import (
	"errors"
	"math/big"

	"poolchain/core/state"
	"poolchain/crypto"
)

var (
	errNilState           = errors.New("strategy: state not configured")
	ErrInvalidAmount      = errors.New("strategy: amount must be positive")
	ErrInsufficientShares = errors.New("strategy: insufficient shares")
	ErrSharesUnsupported  = errors.New("strategy: share withdrawal not supported by no-yield strategy")
	ErrEmptyReserve       = errors.New("strategy: reserve holds no liquidity")
)

// Adapter is the contract every yield source implements. Amounts are in the
// asset's native precision; shares are adapter specific.
type Adapter interface {
	Address() crypto.Address
	Name() string
	// Deposit pulls amount of asset from `from` and returns the shares minted
	// to the caller's account.
	Deposit(from crypto.Address, asset string, amount *big.Int) (*big.Int, error)
	// Withdraw redeems shares and pays the resulting asset amount to `to`.
	Withdraw(to crypto.Address, asset string, shares *big.Int) (*big.Int, error)
	// WithdrawShares transfers the adapter's share token itself to `to`.
	WithdrawShares(to crypto.Address, asset string, shares *big.Int) error
	SharesToTokens(asset string, shares *big.Int) (*big.Int, error)
	TokensToShares(asset string, amount *big.Int) (*big.Int, error)
	// TokensToSharesUp rounds the conversion up so that redeeming the
	// returned shares yields at least amount.
	TokensToSharesUp(asset string, amount *big.Int) (*big.Int, error)
	TotalShares(asset string) (*big.Int, error)
	// LiquidityToken is the symbol of the share token for asset.
	LiquidityToken(asset string) string
}

// engineState is the slice of the state manager adapters depend on.
type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	Transfer(from, to crypto.Address, symbol string, amount *big.Int) error
	Mint(to crypto.Address, symbol string, amount *big.Int) error
	Burn(from crypto.Address, symbol string, amount *big.Int) error
	Token(symbol string) (*state.TokenMetadata, error)
	TokenExists(symbol string) bool
	RegisterToken(symbol, name string, decimals uint8) error
}

// IsNoYield reports whether a is the pass-through adapter whose shares carry
// no separate meaning.
func IsNoYield(a Adapter) bool {
	_, ok := a.(*NoYield)
	return ok
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
