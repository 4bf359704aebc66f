package lending

import (
	"fmt"
	"math/big"

	"poolchain/crypto"
	"poolchain/native/fixedpoint"
)

func extensionKey(pool crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/extension/%x", pool[:]))
}

func voteKey(pool crypto.Address, round uint64, lender crypto.Address) []byte {
	return []byte(fmt.Sprintf("lending/extension/vote/%x/%d/%x", pool[:], round, lender[:]))
}

func (e *Engine) loadExtension(pool crypto.Address) (*Extension, error) {
	ext := new(Extension)
	if _, err := e.state.KVGet(extensionKey(pool), ext); err != nil {
		return nil, err
	}
	if ext.VotesFor == nil {
		ext.VotesFor = big.NewInt(0)
	}
	return ext, nil
}

func (e *Engine) storeExtension(pool crypto.Address, ext *Extension) error {
	return e.state.KVPut(extensionKey(pool), ext)
}

// vote returns the weight lender currently contributes in round and whether
// the lender voted at all.
func (e *Engine) vote(pool crypto.Address, round uint64, lender crypto.Address) (*big.Int, bool, error) {
	weight := new(big.Int)
	ok, err := e.state.KVGet(voteKey(pool, round, lender), weight)
	if err != nil {
		return nil, false, err
	}
	return weight, ok, nil
}

// Extension returns the latest extension request of pool.
func (e *Engine) Extension(poolID crypto.Address) (*Extension, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPool(poolID); err != nil {
		return nil, err
	}
	return e.loadExtension(poolID)
}

// RequestExtension opens a lender vote on postponing the current instalment
// deadline by one repayment interval. Only one extension is ever granted per
// pool; a request that expires without reaching the pass ratio may be
// followed by a new one.
func (e *Engine) RequestExtension(caller, poolID crypto.Address) (*Extension, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return nil, err
	}
	if err := e.requireBorrower(pool, caller); err != nil {
		return nil, err
	}
	s, err := e.schedule(pool)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if s.defaulted(now) {
		return nil, fmt.Errorf("%w: deadline %d", ErrRepaymentClosed, s.deadline())
	}
	ext, err := e.loadExtension(pool.Address)
	if err != nil {
		return nil, err
	}
	if ext.Granted {
		return nil, ErrExtensionUsed
	}
	if ext.Open(now) {
		return nil, ErrExtensionPending
	}
	ext = &Extension{
		Round:          ext.Round + 1,
		Requester:      caller,
		RequestedAt:    now,
		VotingDeadline: now + pool.Terms.ExtensionVotingWindow,
		VotesFor:       big.NewInt(0),
	}
	if err := e.storeExtension(pool.Address, ext); err != nil {
		return nil, err
	}
	e.emit(newExtensionRequestedEvent(pool, ext))
	return ext.Clone(), nil
}

// VoteOnExtension adds the lender's claim token balance in favour of the open
// request. The extension passes as soon as votes reach the pass ratio of the
// claim token supply.
func (e *Engine) VoteOnExtension(lender, poolID crypto.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return false, err
	}
	if err := requireStatus(pool, LoanStatusActive); err != nil {
		return false, err
	}
	ext, err := e.loadExtension(pool.Address)
	if err != nil {
		return false, err
	}
	if ext.Round == 0 || ext.Resolved {
		return false, ErrNoExtension
	}
	now := e.now()
	if !ext.Open(now) {
		return false, fmt.Errorf("%w: deadline %d", ErrVotingEnded, ext.VotingDeadline)
	}
	position, err := e.loadLender(pool.Address, lender)
	if err != nil {
		return false, err
	}
	if position.Balance.Sign() == 0 {
		return false, fmt.Errorf("%w: %s", ErrNotLender, lender)
	}
	if _, voted, err := e.vote(pool.Address, ext.Round, lender); err != nil {
		return false, err
	} else if voted {
		return false, ErrAlreadyVoted
	}
	weight := cloneBig(position.Balance)
	if err := e.state.KVPut(voteKey(pool.Address, ext.Round, lender), weight); err != nil {
		return false, err
	}
	ext.VotesFor.Add(ext.VotesFor, weight)
	e.emit(newExtensionVotedEvent(pool, lender, weight, ext.VotesFor))

	support, err := fixedpoint.Div(ext.VotesFor, pool.TotalSupply)
	if err != nil {
		return false, err
	}
	passed := support.Cmp(pool.Terms.VotingPassRatio) >= 0
	if passed {
		if err := e.grantExtension(pool, ext); err != nil {
			return false, err
		}
	}
	if err := e.storeExtension(pool.Address, ext); err != nil {
		return false, err
	}
	return passed, nil
}

func (e *Engine) grantExtension(pool *Pool, ext *Extension) error {
	s, err := e.schedule(pool)
	if err != nil {
		return err
	}
	step := s.instalment() + 1
	if step > pool.NoOfRepaymentIntervals {
		step = pool.NoOfRepaymentIntervals
	}
	s.rep.ExtendedInstalment = step
	s.rep.GracePenaltyFor = 0
	if err := e.storeRepayment(pool.Address, s.rep); err != nil {
		return err
	}
	ext.Resolved = true
	ext.Approved = true
	ext.Granted = true
	deadline := s.deadline()
	e.emit(newExtensionPassedEvent(pool, deadline))
	e.logger.Info("lending extension granted", "pool", pool.Address.String(), "deadline", deadline)
	return nil
}

// moveVotes carries votes cast in the open round along with claim tokens.
// A zero recipient only removes weight, as when tokens are burned.
func (e *Engine) moveVotes(pool *Pool, from, to crypto.Address, amount *big.Int) error {
	ext, err := e.loadExtension(pool.Address)
	if err != nil {
		return err
	}
	if !ext.Open(e.now()) {
		return nil
	}
	changed := false
	fromWeight, fromVoted, err := e.vote(pool.Address, ext.Round, from)
	if err != nil {
		return err
	}
	if fromVoted && fromWeight.Sign() > 0 {
		moved := fixedpoint.Min(fromWeight, amount)
		fromWeight.Sub(fromWeight, moved)
		ext.VotesFor.Sub(ext.VotesFor, moved)
		if err := e.state.KVPut(voteKey(pool.Address, ext.Round, from), fromWeight); err != nil {
			return err
		}
		changed = true
	}
	if !to.IsZero() {
		toWeight, toVoted, err := e.vote(pool.Address, ext.Round, to)
		if err != nil {
			return err
		}
		if toVoted {
			toWeight.Add(toWeight, amount)
			ext.VotesFor.Add(ext.VotesFor, amount)
			if err := e.state.KVPut(voteKey(pool.Address, ext.Round, to), toWeight); err != nil {
				return err
			}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return e.storeExtension(pool.Address, ext)
}
