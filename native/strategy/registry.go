package strategy

import (
	"errors"
	"fmt"

	"poolchain/crypto"
)

var (
	ErrRegistryFull          = errors.New("strategy registry: maximum number of strategies reached")
	ErrAlreadyRegistered     = errors.New("strategy registry: strategy already registered")
	ErrNotRegistered         = errors.New("strategy registry: strategy not registered")
	errZeroStrategyAddress   = errors.New("strategy registry: strategy address must not be zero")
	strategyRegistryStateKey = []byte("strategy/registry")
)

// Registry is the capped allow-list of strategy adapters. Membership is kept
// in state so additions roll back with the call that made them.
type Registry struct {
	state engineState
	max   int
}

// NewRegistry constructs a registry allowing at most max strategies. A
// non-positive max disables the cap.
func NewRegistry(st engineState, max int) *Registry {
	return &Registry{state: st, max: max}
}

// List returns the registered strategies in insertion order.
func (r *Registry) List() ([]crypto.Address, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var list []crypto.Address
	ok, err := r.state.KVGet(strategyRegistryStateKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []crypto.Address{}, nil
	}
	return list, nil
}

// Add allow-lists a strategy.
func (r *Registry) Add(addr crypto.Address) error {
	if addr.IsZero() {
		return errZeroStrategyAddress
	}
	list, err := r.List()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == addr {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
		}
	}
	if r.max > 0 && len(list) >= r.max {
		return ErrRegistryFull
	}
	list = append(list, addr)
	return r.state.KVPut(strategyRegistryStateKey, list)
}

// Remove drops a strategy from the allow-list.
func (r *Registry) Remove(addr crypto.Address) error {
	list, err := r.List()
	if err != nil {
		return err
	}
	out := make([]crypto.Address, 0, len(list))
	found := false
	for _, existing := range list {
		if existing == addr {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotRegistered, addr)
	}
	return r.state.KVPut(strategyRegistryStateKey, out)
}

// IsRegistered reports whether addr is allow-listed.
func (r *Registry) IsRegistered(addr crypto.Address) bool {
	list, err := r.List()
	if err != nil {
		return false
	}
	for _, existing := range list {
		if existing == addr {
			return true
		}
	}
	return false
}
