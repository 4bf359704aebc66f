package ledger

import (
	"math/big"

	"poolchain/core/types"
	"poolchain/crypto"
)

const (
	EventTypeDeposited       = "ledger.deposited"
	EventTypeWithdrawn       = "ledger.withdrawn"
	EventTypeTransferred     = "ledger.transferred"
	EventTypeStrategySwitch  = "ledger.strategy_switched"
	EventTypeApproved        = "ledger.approved"
	attrAsset                = "asset"
	attrStrategy             = "strategy"
	attrShares               = "shares"
	attrAmount               = "amount"
	attrAsShares             = "asShares"
	attrFromStrategy         = "fromStrategy"
	attrToStrategy           = "toStrategy"
	attrOwner                = "owner"
	attrSpender              = "spender"
	attrReceiver             = "receiver"
	attrFrom                 = "from"
	attrTo                   = "to"
	attrSharesFromStrategy   = "sharesOut"
	attrSharesIntoStrategy   = "sharesIn"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newDepositedEvent(from, receiver crypto.Address, asset string, strategy crypto.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDeposited, Attributes: map[string]string{
		attrFrom:     from.String(),
		attrReceiver: receiver.String(),
		attrAsset:    asset,
		attrStrategy: strategy.String(),
		attrAmount:   amountString(amount),
		attrShares:   amountString(shares),
	}}
}

func newWithdrawnEvent(owner, receiver crypto.Address, asset string, strategy crypto.Address, shares, paid *big.Int, asShares bool) *types.Event {
	flag := "false"
	if asShares {
		flag = "true"
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		attrOwner:    owner.String(),
		attrReceiver: receiver.String(),
		attrAsset:    asset,
		attrStrategy: strategy.String(),
		attrShares:   amountString(shares),
		attrAmount:   amountString(paid),
		attrAsShares: flag,
	}}
}

func newTransferredEvent(from, to crypto.Address, asset string, strategy crypto.Address, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTransferred, Attributes: map[string]string{
		attrFrom:     from.String(),
		attrTo:       to.String(),
		attrAsset:    asset,
		attrStrategy: strategy.String(),
		attrShares:   amountString(shares),
	}}
}

func newStrategySwitchedEvent(owner crypto.Address, asset string, from, to crypto.Address, sharesOut, sharesIn *big.Int) *types.Event {
	return &types.Event{Type: EventTypeStrategySwitch, Attributes: map[string]string{
		attrOwner:              owner.String(),
		attrAsset:              asset,
		attrFromStrategy:       from.String(),
		attrToStrategy:         to.String(),
		attrSharesFromStrategy: amountString(sharesOut),
		attrSharesIntoStrategy: amountString(sharesIn),
	}}
}

func newApprovedEvent(owner, spender crypto.Address, asset string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeApproved, Attributes: map[string]string{
		attrOwner:   owner.String(),
		attrSpender: spender.String(),
		attrAsset:   asset,
		attrAmount:  amountString(amount),
	}}
}
