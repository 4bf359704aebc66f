package main

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"poolchain/core"
	"poolchain/crypto"
	"poolchain/native/common"
	"poolchain/native/fixedpoint"
	"poolchain/native/lending"
)

// Scenario is a scripted sequence of protocol calls replayed against a
// runtime. Amounts are decimal strings in whole asset units.
type Scenario struct {
	Name     string             `yaml:"name"`
	Start    int64              `yaml:"start"`
	Tokens   []TokenSpec        `yaml:"tokens"`
	Accounts map[string]Account `yaml:"accounts"`
	Prices   []PriceSpec        `yaml:"prices"`
	Vaults   []string           `yaml:"vaults"`
	Steps    []Step             `yaml:"steps"`
}

type TokenSpec struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
}

type Account struct {
	Verified bool              `yaml:"verified"`
	Balances map[string]string `yaml:"balances"`
}

type PriceSpec struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
	Rate  string `yaml:"rate"`
}

// PoolSpec describes a pool to create. Ratios and rates are decimals.
type PoolSpec struct {
	BorrowAsset      string `yaml:"borrow_asset"`
	CollateralAsset  string `yaml:"collateral_asset"`
	Size             string `yaml:"size"`
	MinBorrow        string `yaml:"min_borrow"`
	IdealRatio       string `yaml:"ideal_ratio"`
	BorrowRate       string `yaml:"borrow_rate"`
	Collateral       string `yaml:"collateral"`
	IntervalSeconds  uint64 `yaml:"interval_seconds"`
	Intervals        uint64 `yaml:"intervals"`
	Strategy         string `yaml:"strategy"`
	Salt             string `yaml:"salt"`
	CollateralLedger bool   `yaml:"collateral_from_ledger"`
}

// Step is one call. Advance moves the clock before the call runs; Expect
// names the reason code the call must fail with.
type Step struct {
	Advance       int64     `yaml:"advance"`
	Op            string    `yaml:"op"`
	As            string    `yaml:"as"`
	Pool          string    `yaml:"pool"`
	Lender        string    `yaml:"lender"`
	To            string    `yaml:"to"`
	Amount        string    `yaml:"amount"`
	Asset         string    `yaml:"asset"`
	Strategy      string    `yaml:"strategy"`
	FromLedger    bool      `yaml:"from_ledger"`
	ToLedger      bool      `yaml:"to_ledger"`
	ReceiveShares bool      `yaml:"receive_shares"`
	Price         PriceSpec `yaml:"price"`
	Create        *PoolSpec `yaml:"create"`
	Expect        string    `yaml:"expect"`
}

// StepResult records the outcome of a replayed step.
type StepResult struct {
	Index  int    `json:"index"`
	Op     string `json:"op"`
	Time   uint64 `json:"time"`
	Result string `json:"result,omitempty"`
	Code   string `json:"code,omitempty"`
}

// PoolReport summarises a pool after the replay.
type PoolReport struct {
	Alias       string `json:"alias"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	TotalSupply string `json:"totalSupply"`
}

// Report is the replay output.
type Report struct {
	Run      string                       `json:"run"`
	Scenario string                       `json:"scenario"`
	Steps    []StepResult                 `json:"steps"`
	Pools    []PoolReport                 `json:"pools"`
	Balances map[string]map[string]string `json:"balances"`
}

// LoadScenario decodes a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeScenario(f)
}

// DecodeScenario decodes a YAML scenario, rejecting unknown keys.
func DecodeScenario(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario: no steps")
	}
	return &sc, nil
}

// AccountAddress derives the address used for a scenario account name.
func AccountAddress(name string) crypto.Address {
	return crypto.DeriveAddress([]byte("poolsim:account"), []byte(strings.ToLower(strings.TrimSpace(name))))
}

type replayer struct {
	rt       *core.Runtime
	sc       *Scenario
	now      *int64
	decimals map[string]uint8
	pools    map[string]crypto.Address
	aliases  []string
}

// Replay runs the scenario against rt. advance moves the runtime clock.
func Replay(rt *core.Runtime, sc *Scenario, now *int64, run string) (*Report, error) {
	r := &replayer{
		rt:       rt,
		sc:       sc,
		now:      now,
		decimals: make(map[string]uint8),
		pools:    make(map[string]crypto.Address),
	}
	if err := r.setup(); err != nil {
		return nil, err
	}
	report := &Report{Run: run, Scenario: sc.Name}
	for i, step := range sc.Steps {
		res, err := r.step(i, step)
		if err != nil {
			return report, err
		}
		report.Steps = append(report.Steps, res)
	}
	if err := r.summarise(report); err != nil {
		return report, err
	}
	return report, nil
}

func (r *replayer) setup() error {
	for _, tok := range r.sc.Tokens {
		r.decimals[strings.ToUpper(tok.Symbol)] = tok.Decimals
	}
	for _, v := range r.sc.Vaults {
		if _, err := r.rt.AttachVault(v); err != nil {
			return fmt.Errorf("scenario: vault %s: %w", v, err)
		}
	}
	err := r.rt.Execute("poolsim.setup", func(tx *core.Tx) error {
		for _, tok := range r.sc.Tokens {
			if err := tx.State.RegisterToken(tok.Symbol, tok.Name, tok.Decimals); err != nil {
				return fmt.Errorf("token %s: %w", tok.Symbol, err)
			}
		}
		for _, name := range sortedKeys(r.sc.Accounts) {
			acct := r.sc.Accounts[name]
			addr := AccountAddress(name)
			if acct.Verified {
				if err := tx.Identity.Verify(addr); err != nil {
					return err
				}
			}
			for _, asset := range sortedKeys(acct.Balances) {
				amount, err := r.units(asset, acct.Balances[asset])
				if err != nil {
					return err
				}
				if err := tx.State.Mint(addr, asset, amount); err != nil {
					return fmt.Errorf("mint %s to %s: %w", asset, name, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scenario: setup: %w", err)
	}
	for _, p := range r.sc.Prices {
		if err := r.rt.PriceFeed().SetDecimal(p.Base, p.Quote, p.Rate, *r.now); err != nil {
			return fmt.Errorf("scenario: price %s/%s: %w", p.Base, p.Quote, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// units converts a decimal amount of asset into its smallest unit.
func (r *replayer) units(asset, amount string) (*big.Int, error) {
	dec, ok := r.decimals[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return nil, fmt.Errorf("scenario: unknown asset %q", asset)
	}
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok {
		return nil, fmt.Errorf("scenario: invalid amount %q", amount)
	}
	rat.Mul(rat, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)))
	if !rat.IsInt() {
		return nil, fmt.Errorf("scenario: amount %q exceeds %d decimals of %s", amount, dec, asset)
	}
	return new(big.Int).Set(rat.Num()), nil
}

func (r *replayer) pool(alias string) (crypto.Address, error) {
	addr, ok := r.pools[alias]
	if !ok {
		return crypto.Address{}, fmt.Errorf("scenario: unknown pool %q", alias)
	}
	return addr, nil
}

func (r *replayer) strategy(tx *core.Tx, name string) (crypto.Address, error) {
	switch strings.TrimSpace(name) {
	case "", "noyield", "no-yield":
		return tx.NoYield.Address(), nil
	}
	v, err := tx.Vault(name)
	if err != nil {
		return crypto.Address{}, err
	}
	return v.Address(), nil
}

func (r *replayer) step(i int, s Step) (StepResult, error) {
	if s.Advance < 0 {
		return StepResult{}, fmt.Errorf("scenario: step %d: negative advance", i)
	}
	*r.now += s.Advance
	res := StepResult{Index: i, Op: s.Op}
	var result string
	err := r.rt.Execute("poolsim."+s.Op, func(tx *core.Tx) error {
		res.Time = tx.Now()
		out, err := r.apply(tx, s)
		result = out
		return err
	})
	if s.Expect != "" {
		if err == nil {
			return res, fmt.Errorf("scenario: step %d (%s): expected %s, call succeeded", i, s.Op, s.Expect)
		}
		if code := common.Code(err); code != s.Expect {
			return res, fmt.Errorf("scenario: step %d (%s): expected %s, got %v", i, s.Op, s.Expect, err)
		}
		res.Code = s.Expect
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("scenario: step %d (%s): %w", i, s.Op, err)
	}
	res.Result = result
	return res, nil
}

func amountResult(v *big.Int, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (r *replayer) apply(tx *core.Tx, s Step) (string, error) {
	caller := AccountAddress(s.As)
	if s.Op == "set_price" {
		return "", r.rt.PriceFeed().SetDecimal(s.Price.Base, s.Price.Quote, s.Price.Rate, int64(tx.Now()))
	}
	if s.Op == "create_pool" {
		return r.createPool(tx, caller, s)
	}
	if s.Op == "harvest" {
		v, err := tx.Vault(s.Strategy)
		if err != nil {
			return "", err
		}
		amount, err := r.units(s.Asset, s.Amount)
		if err != nil {
			return "", err
		}
		return "", v.Harvest(caller, s.Asset, amount)
	}

	poolID, err := r.pool(s.Pool)
	if err != nil {
		return "", err
	}
	info, err := tx.Lending.Pool(poolID)
	if err != nil {
		return "", err
	}
	amount := func(asset string) (*big.Int, error) { return r.units(asset, s.Amount) }
	engine := tx.Lending

	switch s.Op {
	case "lend":
		amt, err := amount(info.BorrowAsset)
		if err != nil {
			return "", err
		}
		strat := crypto.ZeroAddress
		if s.FromLedger {
			if strat, err = r.strategy(tx, s.Strategy); err != nil {
				return "", err
			}
			if err := tx.Ledger.Approve(caller, poolID, info.BorrowAsset, amt); err != nil {
				return "", err
			}
		}
		return amountResult(engine.Lend(caller, poolID, caller, amt, strat, s.FromLedger))
	case "withdraw_borrowed":
		return amountResult(engine.WithdrawBorrowedAmount(caller, poolID))
	case "cancel":
		return amountResult(engine.CancelPool(caller, poolID))
	case "liquidate_cancel_penalty":
		return amountResult(engine.LiquidateCancelPenalty(caller, poolID, s.ToLedger, s.ReceiveShares))
	case "deposit_collateral":
		amt, err := amount(info.CollateralAsset)
		if err != nil {
			return "", err
		}
		return amountResult(engine.DepositCollateral(caller, poolID, amt, s.FromLedger))
	case "repay":
		amt, err := amount(info.BorrowAsset)
		if err != nil {
			return "", err
		}
		return "", engine.Repay(caller, poolID, amt)
	case "repay_interest_due":
		due, err := engine.InterestDueTillInstalmentDeadline(poolID)
		if err != nil {
			return "", err
		}
		if applicable, err := engine.IsGracePenaltyApplicable(poolID); err != nil {
			return "", err
		} else if applicable {
			penalty, err := fixedpoint.Mul(due, info.Terms.GracePenaltyRate)
			if err != nil {
				return "", err
			}
			due.Add(due, penalty)
		}
		return due.String(), engine.Repay(caller, poolID, due)
	case "repay_principal":
		return "", engine.RepayPrincipal(caller, poolID)
	case "close_loan":
		return "", engine.CloseLoan(caller, poolID)
	case "request_extension":
		ext, err := engine.RequestExtension(caller, poolID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("round %d until %d", ext.Round, ext.VotingDeadline), nil
	case "vote_extension":
		passed, err := engine.VoteOnExtension(caller, poolID)
		return fmt.Sprintf("passed=%t", passed), err
	case "request_margin_call":
		end, err := engine.RequestMarginCall(caller, poolID)
		return fmt.Sprintf("ends %d", end), err
	case "add_margin_collateral":
		amt, err := amount(info.CollateralAsset)
		if err != nil {
			return "", err
		}
		resolved, err := engine.AddCollateralInMarginCall(caller, poolID, AccountAddress(s.Lender), amt, s.FromLedger)
		return fmt.Sprintf("resolved=%t", resolved), err
	case "liquidate_lender":
		return amountResult(engine.LiquidateForLender(caller, poolID, AccountAddress(s.Lender), s.ToLedger, s.ReceiveShares))
	case "liquidate_pool":
		return amountResult(engine.LiquidatePool(caller, poolID, s.ToLedger, s.ReceiveShares))
	case "withdraw_liquidity":
		return amountResult(engine.WithdrawLiquidity(caller, poolID))
	case "withdraw_repayment":
		return amountResult(engine.WithdrawRepayment(caller, poolID))
	case "transfer_claim":
		amt, err := amount(info.BorrowAsset)
		if err != nil {
			return "", err
		}
		return "", engine.Transfer(caller, poolID, AccountAddress(s.To), amt)
	}
	return "", fmt.Errorf("scenario: unknown op %q", s.Op)
}

func (r *replayer) createPool(tx *core.Tx, caller crypto.Address, s Step) (string, error) {
	spec := s.Create
	if spec == nil {
		return "", fmt.Errorf("scenario: create_pool needs a create block")
	}
	if s.Pool == "" {
		return "", fmt.Errorf("scenario: create_pool needs a pool alias")
	}
	if _, exists := r.pools[s.Pool]; exists {
		return "", fmt.Errorf("scenario: pool alias %q reused", s.Pool)
	}
	size, err := r.units(spec.BorrowAsset, spec.Size)
	if err != nil {
		return "", err
	}
	minBorrow, err := r.units(spec.BorrowAsset, spec.MinBorrow)
	if err != nil {
		return "", err
	}
	collateral, err := r.units(spec.CollateralAsset, spec.Collateral)
	if err != nil {
		return "", err
	}
	ideal, err := fixedpoint.Parse(spec.IdealRatio)
	if err != nil {
		return "", err
	}
	rate, err := fixedpoint.Parse(spec.BorrowRate)
	if err != nil {
		return "", err
	}
	strat, err := r.strategy(tx, spec.Strategy)
	if err != nil {
		return "", err
	}
	salt := spec.Salt
	if salt == "" {
		salt = s.Pool
	}
	req := &lending.CreatePoolRequest{
		Borrower:               caller,
		PoolSize:               size,
		MinBorrowAmount:        minBorrow,
		IdealCollateralRatio:   ideal,
		BorrowRate:             rate,
		BorrowAsset:            spec.BorrowAsset,
		CollateralAsset:        spec.CollateralAsset,
		Strategy:               strat,
		CollateralAmount:       collateral,
		RepaymentInterval:      spec.IntervalSeconds,
		NoOfRepaymentIntervals: spec.Intervals,
		Salt:                   []byte(salt),
		FromLedger:             spec.CollateralLedger,
	}
	addr := lending.PoolAddress(caller, spec.BorrowAsset, spec.CollateralAsset, strat, req.Salt)
	if spec.CollateralLedger {
		if err := tx.Ledger.Approve(caller, addr, spec.CollateralAsset, collateral); err != nil {
			return "", err
		}
	}
	pool, err := tx.Lending.CreatePool(req)
	if err != nil {
		return "", err
	}
	r.pools[s.Pool] = pool.Address
	r.aliases = append(r.aliases, s.Pool)
	return pool.Address.String(), nil
}

func (r *replayer) summarise(report *Report) error {
	return r.rt.View(func(tx *core.Tx) error {
		for _, alias := range r.aliases {
			pool, err := tx.Lending.Pool(r.pools[alias])
			if err != nil {
				return err
			}
			report.Pools = append(report.Pools, PoolReport{
				Alias:       alias,
				Address:     pool.Address.String(),
				Status:      pool.Status.String(),
				TotalSupply: pool.TotalSupply.String(),
			})
		}
		report.Balances = make(map[string]map[string]string)
		for _, name := range sortedKeys(r.sc.Accounts) {
			addr := AccountAddress(name)
			balances := make(map[string]string)
			for _, tok := range r.sc.Tokens {
				bal, err := tx.State.Balance(addr, tok.Symbol)
				if err != nil {
					return err
				}
				balances[strings.ToUpper(tok.Symbol)] = bal.String()
			}
			report.Balances[name] = balances
		}
		return nil
	})
}
